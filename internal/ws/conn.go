package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/modelsync/collab/internal/protocol"
)

const closeGracePeriod = time.Second

// conn owns the write side of a websocket. Frames are queued on send and
// written by writePump; a client that lets the queue fill up is dropped.
type conn struct {
	ws           *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	pingPeriod   time.Duration
	remote       string
}

// newConn starts the write pump. A positive pingPeriod sends websocket pings
// so that peers which never write keep answering within the read deadline.
func newConn(ws *websocket.Conn, buffer int, writeTimeout, pingPeriod time.Duration) *conn {
	if buffer < 1 {
		buffer = 64
	}
	c := &conn{
		ws:           ws,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		pingPeriod:   pingPeriod,
		remote:       ws.RemoteAddr().String(),
	}
	go c.writePump()
	return c
}

func (c *conn) writePump() {
	defer c.ws.Close()

	var ping <-chan time.Time
	if c.pingPeriod > 0 {
		ticker := time.NewTicker(c.pingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ping:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeGracePeriod)); err != nil {
				glog.V(1).Infof("[conn %s] ping: %v", c.remote, err)
				c.close()
				return
			}
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				glog.V(1).Infof("[conn %s] write: %v", c.remote, err)
				c.close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeGracePeriod))
			return
		}
	}
}

// flush writes whatever is still queued, so a final connection_error
// reaches the client before the close frame.
func (c *conn) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *conn) write(msg []byte) error {
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

// Send queues msg. It reports false when the connection is closed or was
// just dropped for being too slow.
func (c *conn) Send(msg protocol.Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		glog.Errorf("[conn %s] marshal %s: %v", c.remote, msg.Type, err)
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		glog.Warningf("[conn %s] client too slow, disconnecting", c.remote)
		c.close()
		return false
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
