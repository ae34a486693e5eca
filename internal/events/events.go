// Package events is the in-process notification surface of the sync engine.
//
// Subscribers are called synchronously on the goroutine that emits the event,
// in subscription order. A subscriber must not block; forward to a channel if
// work has to happen elsewhere (the dashboard does this).
package events

import (
	"sync"
	"time"

	"github.com/invtrack/syncq/internal/mutation"
)

// Type identifies an event.
type Type string

const (
	// SyncStarted is emitted when a drive cycle begins.
	SyncStarted Type = "sync-started"
	// SyncComplete is emitted when a drive cycle ends; Remaining is the number
	// of non-terminal records still queued.
	SyncComplete Type = "sync-complete"
	// SyncError is emitted when a drive cycle aborts on a store failure.
	SyncError Type = "sync-error"
	// MutationSynced is emitted after the server confirmed a record.
	MutationSynced Type = "mutation-synced"
	// MutationFailed is emitted once per record that became failed. For the
	// root of a cascade, Cascaded is the number of descendants failed with it.
	MutationFailed Type = "mutation-failed"
	// QueueUpdated is emitted after a record was enqueued, retried, discarded
	// or resolved.
	QueueUpdated Type = "queue-updated"
	// MutationConflict is emitted when an update was blocked by a conflict.
	MutationConflict Type = "mutation-conflict"
	// MutationDeferred is emitted when a record was skipped because a
	// prerequisite is still queued.
	MutationDeferred Type = "mutation-deferred"
)

// Event is one notification.
type Event struct {
	Type      Type             `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Record    *mutation.Record `json:"record,omitempty"`
	// Remaining is set on SyncComplete.
	Remaining int `json:"remaining,omitempty"`
	// Cascaded is set on MutationFailed.
	Cascaded int `json:"cascaded,omitempty"`
	// Message is set on SyncError and MutationFailed.
	Message string `json:"message,omitempty"`
	// Fields lists the diverging fields on MutationConflict.
	Fields []string `json:"fields,omitempty"`
}

// Handler receives events.
type Handler func(Event)

// Bus fans events out to subscribers. The zero value is ready to use.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

type subscription struct {
	id int
	fn Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns a function that removes it. Calling the
// cancel function more than once is harmless.
func (b *Bus) Subscribe(fn Handler) (cancel func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit delivers ev to every current subscriber. A zero Timestamp is set to
// now.
func (b *Bus) Emit(ev Event) {
	if b == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(ev)
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Recorder is a subscriber that keeps every event it sees. Useful in tests
// and for the CLI's end-of-drive summary.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Handle implements Handler.
func (r *Recorder) Handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
