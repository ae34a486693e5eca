// Package engine wires the queue, processor, facade and notifications of one
// execution context together.
//
// Several engines may share one queue database, in one process or several.
// Each owns its processor, so each has its own Idle/Draining state; the
// queue rows are the only shared state. A queue change made through one
// engine is announced to the others through a notify.Notifier, which makes
// them request a drive.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/invtrack/syncq/internal/conflict"
	"github.com/invtrack/syncq/internal/events"
	"github.com/invtrack/syncq/internal/facade"
	"github.com/invtrack/syncq/internal/mutation"
	"github.com/invtrack/syncq/internal/notify"
	"github.com/invtrack/syncq/internal/queue"
	"github.com/invtrack/syncq/internal/remote"
	"github.com/invtrack/syncq/internal/syncer"
)

// Config holds engine configuration.
type Config struct {
	// Origin identifies this context in cross-context signals (default: a
	// random UUID).
	Origin string

	// Notifier connects this context to the others sharing the queue.
	// Optional. The caller owns it and closes it after the engine.
	Notifier notify.Notifier

	// Detector overrides the default critical fields.
	Detector *conflict.Detector

	// Syncer configures the processor (default: syncer.DefaultConfig()).
	Syncer *syncer.Config

	// StaleAfter is how long a record may stay in_flight before it is
	// presumed abandoned by a dead context and requeued (default: three
	// dispatch timeouts, covering the conflict fetch and the write).
	StaleAfter time.Duration

	// Logger for engine activity (default: stderr logger).
	Logger *log.Logger
}

// Engine is the per-context entry point.
type Engine struct {
	store     *queue.Store
	ownsStore bool
	bus       *events.Bus
	proc      *syncer.Processor
	facade    *facade.Facade
	notifier  notify.Notifier
	origin     string
	staleAfter time.Duration
	logger     *log.Logger

	requests    chan struct{}
	unsubscribe func()
}

// Open opens (creating if needed) the queue at dbPath and builds an engine
// that owns it.
func Open(ctx context.Context, dbPath string, rem remote.Remote, config *Config) (*Engine, error) {
	store, err := queue.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.InitSchemaContext(ctx); err != nil {
		store.Close()
		return nil, err
	}
	e, err := New(ctx, store, rem, config)
	if err != nil {
		store.Close()
		return nil, err
	}
	e.ownsStore = true
	return e, nil
}

// New builds an engine over an already opened store. Records left in flight
// by a crashed context are returned to pending first; see Recover.
func New(ctx context.Context, store *queue.Store, rem remote.Remote, config *Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if rem == nil {
		return nil, fmt.Errorf("remote cannot be nil")
	}
	if config == nil {
		config = &Config{}
	}
	if config.Origin == "" {
		config.Origin = uuid.NewString()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	sc := config.Syncer
	if sc == nil {
		sc = syncer.DefaultConfig()
	}
	if sc.Logger == nil {
		sc.Logger = config.Logger
	}

	bus := events.NewBus()
	proc := syncer.New(store, rem, bus, config.Detector, sc)
	staleAfter := config.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 3 * sc.DispatchTimeout
	}
	e := &Engine{
		store:      store,
		bus:        bus,
		proc:       proc,
		notifier:   config.Notifier,
		origin:     config.Origin,
		staleAfter: staleAfter,
		logger:     config.Logger,
		requests:   make(chan struct{}, 1),
	}
	if _, err := e.Recover(ctx); err != nil {
		return nil, err
	}
	e.facade = facade.New(store, bus, facade.Config{
		Origin:       config.Origin,
		Notifier:     config.Notifier,
		RequestDrive: e.RequestDrive,
		Logger:       config.Logger,
	})

	if e.notifier != nil {
		e.unsubscribe = e.notifier.Subscribe(func(sig notify.Signal) {
			if sig.Origin == e.origin {
				return
			}
			e.RequestDrive()
		})
	}
	return e, nil
}

// Close detaches from the notifier and closes the store if the engine opened
// it.
func (e *Engine) Close() error {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	if e.ownsStore {
		return e.store.Close()
	}
	return nil
}

// Recover requeues records claimed longer than StaleAfter ago. Claims that
// recent may belong to another live context and are kept.
func (e *Engine) Recover(ctx context.Context) (int64, error) {
	n, err := e.store.ResetInFlight(ctx, e.staleAfter)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Printf("Recovered %d in-flight mutations", n)
	}
	return n, nil
}

// Origin returns the context's identity in cross-context signals.
func (e *Engine) Origin() string { return e.origin }

// Store returns the underlying queue.
func (e *Engine) Store() *queue.Store { return e.store }

// Bus returns the event bus of this context.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Processor returns the processor of this context.
func (e *Engine) Processor() *syncer.Processor { return e.proc }

// Subscribe registers fn for every event of this context.
func (e *Engine) Subscribe(fn events.Handler) (cancel func()) {
	return e.bus.Subscribe(fn)
}

// Create queues a create through the facade.
func (e *Engine) Create(ctx context.Context, payload mutation.Payload, opts *facade.Options) (*mutation.Record, error) {
	return e.facade.Create(ctx, payload, opts)
}

// Update queues an update through the facade.
func (e *Engine) Update(ctx context.Context, entityID string, payload mutation.Payload, opts *facade.Options) (*mutation.Record, error) {
	return e.facade.Update(ctx, entityID, payload, opts)
}

// Drive runs a drive cycle on the calling goroutine.
func (e *Engine) Drive(ctx context.Context) (syncer.Report, error) {
	return e.proc.Drive(ctx)
}

// RequestDrive asks whoever consumes Requests to drive. It never blocks;
// requests made before the previous one was consumed collapse into it.
func (e *Engine) RequestDrive() {
	select {
	case e.requests <- struct{}{}:
	default:
	}
}

// Requests delivers drive requests, typically to a daemon.
func (e *Engine) Requests() <-chan struct{} {
	return e.requests
}

// Counts returns the number of queued records per status.
func (e *Engine) Counts(ctx context.Context) (map[mutation.Status]int, error) {
	return e.store.Counts(ctx)
}

// Failed returns the records that need a retry or discard decision.
func (e *Engine) Failed(ctx context.Context) ([]*mutation.Record, error) {
	return e.store.ListByStatus(ctx, mutation.StatusFailed)
}

// Conflicts returns the records blocked on a conflict.
func (e *Engine) Conflicts(ctx context.Context) ([]*mutation.Record, error) {
	return e.store.ListByStatus(ctx, mutation.StatusConflict)
}

// Retry gives a failed or conflicting record a fresh retry budget and
// requests a drive. A conflicting record goes through conflict detection
// again.
func (e *Engine) Retry(ctx context.Context, key string) (*mutation.Record, error) {
	rec, err := e.store.Retry(ctx, key)
	if err != nil {
		return nil, err
	}
	e.announce(ctx, rec)
	return rec, nil
}

// Discard drops a failed or conflicting record. Discarding a conflicting
// record keeps the server's state and fails its dependents.
func (e *Engine) Discard(ctx context.Context, key string) (*mutation.Record, error) {
	rec, err := e.store.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", queue.ErrNotFound, key)
	}
	if rec.Status == mutation.StatusConflict {
		return e.Resolve(ctx, key, conflict.Decision{Action: conflict.AcceptRemote})
	}

	rec, err = e.store.Discard(ctx, key)
	if err != nil {
		return nil, err
	}
	e.bus.Emit(events.Event{Type: events.QueueUpdated, Record: rec, Message: "discarded"})
	e.publish(ctx)
	return rec, nil
}

// Resolve applies a decision to a record blocked on a conflict.
func (e *Engine) Resolve(ctx context.Context, key string, decision conflict.Decision) (*mutation.Record, error) {
	rec, err := e.proc.ApplyDecision(ctx, key, decision)
	if err != nil {
		return nil, err
	}
	e.publish(ctx)
	if decision.Action == conflict.AcceptLocal || decision.Action == conflict.Merge {
		e.RequestDrive()
	}
	return rec, nil
}

func (e *Engine) announce(ctx context.Context, rec *mutation.Record) {
	e.bus.Emit(events.Event{Type: events.QueueUpdated, Record: rec})
	e.publish(ctx)
	e.RequestDrive()
}

func (e *Engine) publish(ctx context.Context) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Publish(ctx, e.origin); err != nil {
		e.logger.Printf("Warning: failed to publish queue change: %v", err)
	}
}
