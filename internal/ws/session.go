package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/modelsync/collab/internal/protocol"
	"github.com/modelsync/collab/internal/subscription"
)

// State of a protocol session.
type State int32

const (
	StateUninitialized State = iota
	StateAcked
	StateActive
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAcked:
		return "acked"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// sender queues outbound frames without blocking.
type sender interface {
	Send(msg protocol.Message) bool
}

// exchange is one open logical operation, keyed by its client-chosen id.
type exchange struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	stopped atomic.Bool

	mu   sync.Mutex
	live *LiveSubscription
}

// stop ends the exchange. Nothing is sent for it once stop returns, apart
// from its closing complete.
func (ex *exchange) stop() {
	ex.stopped.Store(true)
	ex.cancel()
	ex.mu.Lock()
	live := ex.live
	ex.mu.Unlock()
	if live != nil {
		live.Close()
	}
}

// attach binds a subscription opened for the exchange. It reports false
// when the exchange was stopped meanwhile; the caller then closes live.
func (ex *exchange) attach(live *LiveSubscription) bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.stopped.Load() {
		return false
	}
	ex.live = live
	return true
}

// Session is the protocol state machine of one connection. HandleMessage
// must be called from a single goroutine; operations run concurrently.
type Session struct {
	id        string
	out       sender
	router    *Router
	auth      *Authenticator
	keepAlive time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     State
	subject   string
	exchanges map[string]*exchange
}

// NewSession creates a session in the uninitialized state.
func NewSession(id string, out sender, router *Router, auth *Authenticator, keepAlive time.Duration) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		out:       out,
		router:    router,
		auth:      auth,
		keepAlive: keepAlive,
		ctx:       ctx,
		cancel:    cancel,
		exchanges: make(map[string]*exchange),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subject is the authenticated subject, empty for anonymous sessions.
func (s *Session) Subject() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subject
}

// Open returns the number of open exchanges.
func (s *Session) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.exchanges)
}

// HandleMessage processes one inbound frame. A non-nil error means the
// connection must be closed.
func (s *Session) HandleMessage(data []byte) error {
	msg, err := protocol.Parse(data)
	if err != nil {
		s.connectionError("malformed message: " + err.Error())
		return nil
	}
	glog.V(2).Infof("[session %s] <- %s %s", s.id, msg.Type, msg.ID)

	switch msg.Type {
	case protocol.MsgConnectionInit, protocol.MsgInit:
		return s.init(msg)
	case protocol.MsgStart:
		s.start(msg)
	case protocol.MsgStop:
		s.stop(msg.ID)
	case protocol.MsgConnectionTerminate, protocol.MsgTerminate:
		s.Terminate()
		return errTerminated
	default:
		s.connectionError(fmt.Sprintf("unsupported message type %q", msg.Type))
	}
	return nil
}

func (s *Session) init(msg protocol.Message) error {
	if st := s.State(); st != StateUninitialized {
		s.connectionError("connection already initialized")
		return nil
	}

	var payload protocol.InitPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			reason := "malformed connection_init payload"
			s.connectionError(reason)
			return &ProtocolError{Reason: reason}
		}
	}
	subject, err := s.auth.Verify(payload.AuthToken)
	if err != nil {
		s.connectionError(err.Error())
		return &ProtocolError{Reason: err.Error()}
	}

	s.mu.Lock()
	s.state = StateAcked
	s.subject = subject
	s.mu.Unlock()

	s.send(protocol.Message{Type: protocol.MsgConnectionAck})
	if s.keepAlive > 0 {
		s.send(protocol.Message{Type: protocol.MsgKeepAlive})
		s.wg.Add(1)
		go s.keepAliveLoop()
	}
	glog.Infof("[session %s] initialized subject=%q", s.id, subject)
	return nil
}

func (s *Session) keepAliveLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.send(protocol.Message{Type: protocol.MsgKeepAlive})
		}
	}
}

func (s *Session) start(msg protocol.Message) {
	if msg.ID == "" {
		s.connectionError("start requires an id")
		return
	}

	s.mu.Lock()
	switch s.state {
	case StateUninitialized:
		s.mu.Unlock()
		s.connectionError("connection not initialized")
		return
	case StateTerminated:
		s.mu.Unlock()
		return
	}
	if _, open := s.exchanges[msg.ID]; open {
		s.mu.Unlock()
		s.send(protocol.Error(msg.ID, fmt.Sprintf("operation id %q is already in use", msg.ID)))
		return
	}
	s.mu.Unlock()

	var op protocol.StartPayload
	if err := json.Unmarshal(msg.Payload, &op); err != nil || op.OperationName == "" {
		s.send(protocol.Error(msg.ID, "start payload must name an operation"))
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	ex := &exchange{id: msg.ID, ctx: ctx, cancel: cancel}

	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		cancel()
		return
	}
	s.exchanges[msg.ID] = ex
	s.state = StateActive
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(ex, op)
}

func (s *Session) run(ex *exchange, op protocol.StartPayload) {
	defer s.wg.Done()

	errored := false
	defer func() { s.finish(ex, !errored) }()

	if kind, _ := s.router.Kind(op.OperationName); kind == protocol.OperationSubscription {
		errored = s.runSubscription(ex, op)
		return
	}

	res, err := s.router.Execute(ex.ctx, op)
	if ex.stopped.Load() {
		return
	}
	if err != nil {
		s.send(protocol.Error(ex.id, err.Error()))
		errored = true
		return
	}
	msg, err := protocol.Data(ex.id, op.OperationName, res.Value, res.Warnings...)
	if err != nil {
		s.send(protocol.Error(ex.id, fmt.Sprintf("encoding result: %v", err)))
		errored = true
		return
	}
	s.send(msg)
}

// runSubscription forwards snapshots until the subscription ends. It
// reports whether it ended with an error frame.
func (s *Session) runSubscription(ex *exchange, op protocol.StartPayload) bool {
	live, err := s.router.Subscribe(ex.ctx, s.id+":"+ex.id, op)
	if err != nil {
		if ex.stopped.Load() {
			return false
		}
		s.send(protocol.Error(ex.id, err.Error()))
		return true
	}
	if !ex.attach(live) {
		live.Close()
		return false
	}

	for snapshot := range live.C() {
		if ex.stopped.Load() {
			continue
		}
		msg, err := protocol.Data(ex.id, op.OperationName, snapshot)
		if err != nil {
			glog.Warningf("[session %s] encoding snapshot for %s: %v", s.id, ex.id, err)
			continue
		}
		s.send(msg)
	}
	live.Close()

	if err := live.Err(); errors.Is(err, subscription.ErrSlowSubscriber) && !ex.stopped.Load() {
		s.send(protocol.Error(ex.id, err.Error()))
		return true
	}
	return false
}

// finish forgets the exchange and, unless the session is gone, closes it
// with complete.
func (s *Session) finish(ex *exchange, complete bool) {
	ex.cancel()
	s.mu.Lock()
	if cur, ok := s.exchanges[ex.id]; ok && cur == ex {
		delete(s.exchanges, ex.id)
	}
	terminated := s.state == StateTerminated
	s.mu.Unlock()

	if complete && !terminated {
		s.send(protocol.Message{ID: ex.id, Type: protocol.MsgComplete})
	}
}

// stop ends the exchange id. Unknown ids are ignored.
func (s *Session) stop(id string) {
	s.mu.Lock()
	ex, ok := s.exchanges[id]
	s.mu.Unlock()
	if !ok {
		glog.V(2).Infof("[session %s] stop for unknown id %q", s.id, id)
		return
	}
	ex.stop()
}

// Terminate stops every exchange, releasing their subscriptions and project
// references, and waits for them to end. It is idempotent.
func (s *Session) Terminate() {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	s.state = StateTerminated
	open := make([]*exchange, 0, len(s.exchanges))
	for _, ex := range s.exchanges {
		open = append(open, ex)
	}
	s.mu.Unlock()

	for _, ex := range open {
		ex.stop()
	}
	s.cancel()
	s.wg.Wait()
	glog.Infof("[session %s] terminated (%d open operations)", s.id, len(open))
}

func (s *Session) send(msg protocol.Message) {
	glog.V(2).Infof("[session %s] -> %s %s", s.id, msg.Type, msg.ID)
	s.out.Send(msg)
}

func (s *Session) connectionError(reason string) {
	s.send(protocol.ConnectionError(reason))
}
