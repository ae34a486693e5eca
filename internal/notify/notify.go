// Package notify carries the "queue changed" signal between execution
// contexts that share one queue database.
//
// Delivery is best effort and at most once: a missed signal only delays a
// drive until the next trigger, because the queue itself is the source of
// truth. Signals carry the origin of the publisher so a context can ignore its
// own.
package notify

import (
	"context"
	"sync"
	"time"
)

// Signal is one "queue changed" notification.
type Signal struct {
	Origin string
	At     time.Time
}

// Notifier publishes and delivers queue-changed signals.
type Notifier interface {
	// Publish announces that origin changed the queue.
	Publish(ctx context.Context, origin string) error
	// Subscribe registers fn for every signal, own signals included. The
	// returned function removes the subscription.
	Subscribe(fn func(Signal)) (cancel func())
	// Close releases resources. Publish after Close is a no-op.
	Close() error
}

// subscribers is the fan-out list shared by both notifiers.
type subscribers struct {
	mu     sync.RWMutex
	nextID int
	fns    map[int]func(Signal)
}

func (s *subscribers) add(fn func(Signal)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(Signal))
	}
	s.nextID++
	id := s.nextID
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

func (s *subscribers) deliver(sig Signal) {
	s.mu.RLock()
	fns := make([]func(Signal), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(sig)
	}
}

// Hub is an in-process Notifier, for several engines in one process (tests,
// the load test, the dashboard next to a daemon).
type Hub struct {
	subs   subscribers
	mu     sync.Mutex
	closed bool
}

// NewHub creates an in-process notifier.
func NewHub() *Hub {
	return &Hub{}
}

// Publish implements Notifier.
func (h *Hub) Publish(ctx context.Context, origin string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil
	}
	h.subs.deliver(Signal{Origin: origin, At: time.Now().UTC()})
	return nil
}

// Subscribe implements Notifier.
func (h *Hub) Subscribe(fn func(Signal)) func() {
	return h.subs.add(fn)
}

// Close implements Notifier.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

var _ Notifier = (*Hub)(nil)
