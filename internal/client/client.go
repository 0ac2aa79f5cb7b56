// Package client speaks the graphql-ws protocol of the collaboration
// server. It is used by collabctl and by end-to-end tests.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/modelsync/collab/internal/protocol"
)

const (
	writeTimeout   = 10 * time.Second
	pingInterval   = 30 * time.Second
	handshakeLimit = 10 * time.Second
	streamBuffer   = 64
)

var (
	ErrClosed     = errors.New("connection closed")
	ErrIDInUse    = errors.New("operation id already in use")
	ErrRejected   = errors.New("connection rejected")
	ErrOperation  = errors.New("operation failed")
	errNoResponse = errors.New("operation completed without data")
)

// Options configures Dial.
type Options struct {
	// Token is sent as connection_init.payload.authToken.
	Token  string
	Header http.Header

	// OnWarning, when set, receives the errors reported next to a result
	// by Execute.
	OnWarning func(operationName, message string)
}

// Client is one protocol connection. Operations are multiplexed by id.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	streams map[string]chan protocol.Message
	closed  bool

	onWarning func(operationName, message string)

	// events receives frames not addressed to an open operation, such as
	// connection_error.
	events chan protocol.Message
	done   chan struct{}
	cancel context.CancelFunc
}

// Dial connects, sends connection_init and waits for connection_ack.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeLimit,
		Subprotocols:     []string{protocol.Subprotocol},
	}
	conn, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	init, err := protocol.New(protocol.MsgConnectionInit, "", protocol.InitPayload{AuthToken: opts.Token})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteJSON(init); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending connection_init: %w", err)
	}
	if err := awaitAck(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:      conn,
		streams:   make(map[string]chan protocol.Message),
		events:    make(chan protocol.Message, streamBuffer),
		done:      make(chan struct{}),
		cancel:    cancel,
		onWarning: opts.OnWarning,
	}
	go c.readLoop()
	go c.pingLoop(loopCtx)
	return c, nil
}

func awaitAck(ctx context.Context, conn *websocket.Conn) error {
	deadline := time.Now().Add(handshakeLimit)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("waiting for connection_ack: %w", err)
		}
		switch msg.Type {
		case protocol.MsgConnectionAck:
			return nil
		case protocol.MsgKeepAlive:
			continue
		case protocol.MsgConnectionError:
			var p protocol.ConnectionErrorPayload
			_ = json.Unmarshal(msg.Payload, &p)
			return fmt.Errorf("%w: %s", ErrRejected, p.Message)
		default:
			return fmt.Errorf("unexpected %s before connection_ack", msg.Type)
		}
	}
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Parse(data)
		if err != nil || msg.Type == protocol.MsgKeepAlive {
			continue
		}

		c.mu.Lock()
		stream, ok := c.streams[msg.ID]
		final := msg.Type == protocol.MsgComplete || msg.Type == protocol.MsgError
		if ok && final {
			delete(c.streams, msg.ID)
		}
		c.mu.Unlock()

		if !ok {
			select {
			case c.events <- msg:
			default:
				// nobody is listening for connection-level frames
			}
			continue
		}
		stream <- msg
		if final {
			close(stream)
		}
	}
}

// pingLoop keeps the connection alive through idle periods.
func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) shutdown() {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	for id, stream := range c.streams {
		close(stream)
		delete(c.streams, id)
	}
	close(c.events)
}

func (c *Client) write(msg protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(msg)
}

// Start sends a start frame and returns the frames addressed to id. The
// channel is closed after complete or error, or when the connection drops.
// The caller must keep reading it; a full stream stalls the connection.
func (c *Client) Start(id, operation, operationName string, variables any) (<-chan protocol.Message, error) {
	msg, err := protocol.Start(id, operation, operationName, variables)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := c.streams[id]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrIDInUse, id)
	}
	stream := make(chan protocol.Message, streamBuffer)
	c.streams[id] = stream
	c.mu.Unlock()

	if err := c.write(msg); err != nil {
		c.mu.Lock()
		if s, ok := c.streams[id]; ok && s == stream {
			delete(c.streams, id)
		}
		c.mu.Unlock()
		return nil, err
	}
	return stream, nil
}

// Send writes a raw frame, for frames Start does not cover.
func (c *Client) Send(msg protocol.Message) error {
	return c.write(msg)
}

// Stop asks the server to end operation id.
func (c *Client) Stop(id string) error {
	return c.write(protocol.Message{ID: id, Type: protocol.MsgStop})
}

// Execute runs a query or mutation and returns the value stored under its
// operation name.
func (c *Client) Execute(ctx context.Context, id, operation, operationName string, variables any) (json.RawMessage, error) {
	stream, err := c.Start(id, operation, operationName, variables)
	if err != nil {
		return nil, err
	}

	var result json.RawMessage
	for {
		select {
		case <-ctx.Done():
			_ = c.Stop(id)
			return nil, ctx.Err()
		case msg, ok := <-stream:
			if !ok {
				if result == nil {
					return nil, ErrClosed
				}
				return result, nil
			}
			switch msg.Type {
			case protocol.MsgData:
				value, err := Value(msg, operationName)
				if err != nil {
					return nil, err
				}
				result = value
				if c.onWarning != nil {
					for _, w := range Warnings(msg) {
						c.onWarning(operationName, w)
					}
				}
			case protocol.MsgError:
				return nil, ErrorOf(msg)
			case protocol.MsgComplete:
				if result == nil {
					return nil, errNoResponse
				}
				return result, nil
			}
		}
	}
}

// Events returns frames that are not addressed to an open operation.
func (c *Client) Events() <-chan protocol.Message {
	return c.events
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Terminate sends connection_terminate; the server then closes the
// connection.
func (c *Client) Terminate() error {
	return c.write(protocol.Message{Type: protocol.MsgConnectionTerminate})
}

// Close drops the connection without terminating politely.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

// Value extracts the result of operationName from a data frame.
func Value(msg protocol.Message, operationName string) (json.RawMessage, error) {
	var payload protocol.DataPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decoding data payload: %w", err)
	}
	value, ok := payload.Data[operationName]
	if !ok {
		return nil, fmt.Errorf("data payload has no %q", operationName)
	}
	return value, nil
}

// Warnings returns the errors reported next to the result of a data frame.
func Warnings(msg protocol.Message) []string {
	var payload protocol.DataPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil
	}
	out := make([]string, 0, len(payload.Errors))
	for _, e := range payload.Errors {
		out = append(out, e.Message)
	}
	return out
}

// ErrorOf converts an error frame to an error wrapping ErrOperation.
func ErrorOf(msg protocol.Message) error {
	var entries []protocol.ErrorEntry
	if err := json.Unmarshal(msg.Payload, &entries); err != nil || len(entries) == 0 {
		return fmt.Errorf("%w: %s", ErrOperation, string(msg.Payload))
	}
	return fmt.Errorf("%w: %s", ErrOperation, entries[0].Message)
}
