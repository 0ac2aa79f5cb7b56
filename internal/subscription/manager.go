// Package subscription fans snapshots out to many independent consumers.
//
// Each subscriber owns a buffered channel. Publish never blocks: a subscriber
// whose buffer is full is pruned and its channel closed with ErrSlowSubscriber,
// so one slow consumer cannot stall the others or the mutation path.
package subscription

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

var (
	ErrSlowSubscriber = errors.New("subscriber too slow, dropped")
	ErrDisposed       = errors.New("subscription manager disposed")
	ErrDuplicate      = errors.New("subscriber already registered")
)

// DefaultBuffer is the per-subscriber channel capacity used when none is given.
const DefaultBuffer = 16

// Subscription is one registered consumer. C is closed when the subscription
// ends; Err then reports why (nil after a plain Unsubscribe).
type Subscription[T any] struct {
	ID string
	C  <-chan T

	ch  chan T
	err error
}

// Err returns the reason the subscription was closed. It is only meaningful
// after C has been closed.
func (s *Subscription[T]) Err() error {
	return s.err
}

// Manager is a broadcast primitive holding the latest published value.
// Registration, removal, publication and disposal are serialized by one
// mutex, so a publish sees a stable subscriber set.
type Manager[T any] struct {
	mu        sync.Mutex
	subs      map[string]*Subscription[T]
	latest    T
	hasLatest bool
	buffer    int
	disposed  bool
	name      string
}

// NewManager creates a manager. name appears in log lines.
func NewManager[T any](name string, buffer int) *Manager[T] {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Manager[T]{
		subs:   make(map[string]*Subscription[T]),
		buffer: buffer,
		name:   name,
	}
}

// Subscribe registers id and immediately delivers the latest value, if any.
func (m *Manager[T]) Subscribe(id string) (*Subscription[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return nil, ErrDisposed
	}
	if _, ok := m.subs[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, id)
	}

	ch := make(chan T, m.buffer)
	sub := &Subscription[T]{ID: id, C: ch, ch: ch}
	if m.hasLatest {
		ch <- m.latest
	}
	m.subs[id] = sub
	return sub, nil
}

// Unsubscribe removes id and closes its channel. It reports whether id was
// registered; removing an absent id is a no-op. No value is sent to id after
// Unsubscribe returns.
func (m *Manager[T]) Unsubscribe(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[id]
	if !ok {
		return false
	}
	m.remove(sub, nil)
	return true
}

// Publish records v as the latest value and offers it to every subscriber.
// It returns the number of subscribers that received it.
func (m *Manager[T]) Publish(v T) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return 0
	}
	m.latest = v
	m.hasLatest = true

	delivered := 0
	for _, sub := range m.subs {
		select {
		case sub.ch <- v:
			delivered++
		default:
			glog.Warningf("[%s] pruning slow subscriber %s", m.name, sub.ID)
			m.remove(sub, ErrSlowSubscriber)
		}
	}
	return delivered
}

// DisposeAll closes every subscriber channel with ErrDisposed and refuses
// further subscriptions. It is idempotent.
func (m *Manager[T]) DisposeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return
	}
	m.disposed = true
	for _, sub := range m.subs {
		m.remove(sub, ErrDisposed)
	}
}

// Latest returns the last published value.
func (m *Manager[T]) Latest() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, m.hasLatest
}

// Count returns the number of registered subscribers.
func (m *Manager[T]) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Disposed reports whether DisposeAll has been called.
func (m *Manager[T]) Disposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

// remove must be called with mu held.
func (m *Manager[T]) remove(sub *Subscription[T], reason error) {
	delete(m.subs, sub.ID)
	sub.err = reason
	close(sub.ch)
}
