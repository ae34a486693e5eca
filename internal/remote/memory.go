package remote

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/invtrack/syncq/internal/mutation"
)

// Call records one request that reached a Memory server.
type Call struct {
	Method     string // "create", "update" or "fetch"
	EntityType mutation.EntityType
	ID         string
	Key        string
	Fields     map[string]any
}

// Memory is an in-process server used by the load test, the local demo mode
// of the CLI and tests. It deduplicates writes on the idempotency key the same
// way a real server does.
type Memory struct {
	mu       sync.Mutex
	entities map[mutation.EntityType]map[string]*Snapshot
	seen     map[string]Result
	calls    []Call
	hook     func(Call) error
	offline  bool
	nextID   int
	lastRev  time.Time
}

// NewMemory creates an empty in-memory server.
func NewMemory() *Memory {
	return &Memory{
		entities: make(map[mutation.EntityType]map[string]*Snapshot),
		seen:     make(map[string]Result),
	}
}

// SetHook installs fn to run before every create, update and fetch. A
// non-nil error is returned to the caller instead of applying the call.
// Pass nil to remove the hook.
func (m *Memory) SetHook(fn func(Call) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = fn
}

// SetOffline makes every call, including Ping, fail with a transient error.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// Calls returns a copy of every call received so far.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsFor counts the write calls that carried key.
func (m *Memory) CallsFor(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, c := range m.calls {
		if c.Key == key {
			n++
		}
	}
	return n
}

// Put stores an entity directly, as if another client had written it, and
// returns its new revision.
func (m *Memory) Put(et mutation.EntityType, id string, fields map[string]any) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	rev := m.revision()
	m.table(et)[id] = &Snapshot{ID: id, Revision: rev, Fields: maps.Clone(fields)}
	return rev
}

// Get returns the stored entity, if any.
func (m *Memory) Get(et mutation.EntityType, id string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.table(et)[id]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{ID: snap.ID, Revision: snap.Revision, Fields: maps.Clone(snap.Fields)}, true
}

// Count returns the number of stored entities of type et.
func (m *Memory) Count(et mutation.EntityType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entities[et])
}

// Create implements Remote.
func (m *Memory) Create(ctx context.Context, et mutation.EntityType, key string, fields map[string]any) (Result, error) {
	if err := m.admit(ctx, Call{Method: "create", EntityType: et, Key: key, Fields: fields}); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.seen[key]; ok {
		return res, nil
	}
	m.nextID++
	id := fmt.Sprintf("%s-%d", et, m.nextID)
	rev := m.revision()
	m.table(et)[id] = &Snapshot{ID: id, Revision: rev, Fields: maps.Clone(fields)}
	res := Result{ServerID: id, Revision: rev}
	m.seen[key] = res
	return res, nil
}

// Update implements Remote.
func (m *Memory) Update(ctx context.Context, et mutation.EntityType, id, key string, fields map[string]any) (Result, error) {
	if err := m.admit(ctx, Call{Method: "update", EntityType: et, ID: id, Key: key, Fields: fields}); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.seen[key]; ok {
		return res, nil
	}
	snap, ok := m.table(et)[id]
	if !ok {
		return Result{}, &CategorizedError{
			Err:        fmt.Errorf("%w: %s/%s", ErrNotFound, et, id),
			Category:   CategoryPermanent,
			StatusCode: 404,
		}
	}
	if snap.Fields == nil {
		snap.Fields = make(map[string]any)
	}
	for k, v := range fields {
		snap.Fields[k] = v
	}
	snap.Revision = m.revision()
	res := Result{ServerID: id, Revision: snap.Revision}
	m.seen[key] = res
	return res, nil
}

// Fetch implements Remote.
func (m *Memory) Fetch(ctx context.Context, et mutation.EntityType, id string) (Snapshot, error) {
	if err := m.admit(ctx, Call{Method: "fetch", EntityType: et, ID: id}); err != nil {
		return Snapshot{}, err
	}
	snap, ok := m.Get(et, id)
	if !ok {
		return Snapshot{}, &CategorizedError{
			Err:        fmt.Errorf("%w: %s/%s", ErrNotFound, et, id),
			Category:   CategoryPermanent,
			StatusCode: 404,
		}
	}
	return snap, nil
}

// Ping implements Remote.
func (m *Memory) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return ErrUnavailable
	}
	return nil
}

func (m *Memory) admit(ctx context.Context, c Call) error {
	if err := ctx.Err(); err != nil {
		return NewTransientError(err)
	}
	m.mu.Lock()
	c.Fields = maps.Clone(c.Fields)
	m.calls = append(m.calls, c)
	offline, hook := m.offline, m.hook
	m.mu.Unlock()

	if offline {
		return NewTransientError(fmt.Errorf("%s %s: %w", c.Method, c.EntityType, ErrUnavailable))
	}
	if hook != nil {
		if err := hook(c); err != nil {
			return CategorizeError(err)
		}
	}
	return nil
}

func (m *Memory) table(et mutation.EntityType) map[string]*Snapshot {
	t, ok := m.entities[et]
	if !ok {
		t = make(map[string]*Snapshot)
		m.entities[et] = t
	}
	return t
}

// revision returns a strictly increasing timestamp. Caller holds mu.
func (m *Memory) revision() time.Time {
	now := time.Now().UTC()
	if !now.After(m.lastRev) {
		now = m.lastRev.Add(time.Microsecond)
	}
	m.lastRev = now
	return now
}

var _ Remote = (*Memory)(nil)
