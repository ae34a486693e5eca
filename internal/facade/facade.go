// Package facade is the write entry point for callers. It validates a
// mutation, persists it in the queue, lets the caller project the change into
// its own view immediately, and asks the processor to sync in the background.
package facade

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/invtrack/syncq/internal/events"
	"github.com/invtrack/syncq/internal/mutation"
	"github.com/invtrack/syncq/internal/notify"
	"github.com/invtrack/syncq/internal/queue"
	"github.com/invtrack/syncq/internal/resolver"
)

var (
	// ErrDependencyCycle is returned when a mutation would close a cycle in
	// the dependency graph.
	ErrDependencyCycle = errors.New("dependency cycle")

	// ErrProjection wraps the error of a projection callback. The record has
	// been queued regardless.
	ErrProjection = errors.New("projection failed")
)

// Projection applies a queued record to the caller's local view. It runs
// synchronously, after the record is durable and before the write returns.
type Projection func(rec *mutation.Record) error

// Options tune a single write. The zero value is fine.
type Options struct {
	// IdempotencyKey is generated when empty.
	IdempotencyKey string

	// DependsOn lists keys of mutations that must reach the server first.
	DependsOn []string

	// CachedRevision and CachedFields describe the server state the update
	// was based on. They enable conflict detection.
	CachedRevision *time.Time
	CachedFields   map[string]any

	// Project is called with the stored record.
	Project Projection
}

// Config holds facade configuration.
type Config struct {
	// Origin identifies this execution context in cross-context signals.
	Origin string

	// Notifier announces queue changes to other contexts. Optional.
	Notifier notify.Notifier

	// RequestDrive asks for a drive cycle without waiting for it. Optional.
	RequestDrive func()

	// Logger for facade activity (default: stderr logger).
	Logger *log.Logger
}

// Facade accepts writes for one execution context.
type Facade struct {
	store  *queue.Store
	bus    *events.Bus
	config Config
	logger *log.Logger
}

// New creates a facade writing to store and emitting on bus.
func New(store *queue.Store, bus *events.Bus, config Config) *Facade {
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[facade] ", log.LstdFlags)
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Facade{store: store, bus: bus, config: config, logger: config.Logger}
}

// Create queues the creation of a new entity. The server assigns its
// identity; until then other mutations refer to it by the returned record's
// idempotency key.
func (f *Facade) Create(ctx context.Context, payload mutation.Payload, opts *Options) (*mutation.Record, error) {
	if payload == nil {
		return nil, &mutation.ValidationError{Field: "payload", Reason: "is required"}
	}
	return f.write(ctx, &mutation.Record{
		Operation:  mutation.OpCreate,
		EntityType: payload.EntityType(),
		Payload:    payload,
	}, opts)
}

// Update queues a partial update of entityID. entityID may be the idempotency
// key of a create made offline; the store then adds that key to DependsOn so
// the update is sent after the create, against the server's id.
func (f *Facade) Update(ctx context.Context, entityID string, payload mutation.Payload, opts *Options) (*mutation.Record, error) {
	if payload == nil {
		return nil, &mutation.ValidationError{Field: "payload", Reason: "is required"}
	}
	return f.write(ctx, &mutation.Record{
		Operation:  mutation.OpUpdate,
		EntityType: payload.EntityType(),
		EntityID:   entityID,
		Payload:    payload,
	}, opts)
}

func (f *Facade) write(ctx context.Context, rec *mutation.Record, opts *Options) (*mutation.Record, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := rec.Payload.Validate(rec.Operation); err != nil {
		return nil, err
	}

	rec.IdempotencyKey = opts.IdempotencyKey
	if rec.IdempotencyKey == "" {
		rec.IdempotencyKey = mutation.NewIdempotencyKey()
	}
	rec.DependsOn = append([]string(nil), opts.DependsOn...)
	if rec.Operation == mutation.OpUpdate {
		rec.CachedRevision = opts.CachedRevision
		rec.CachedFields = opts.CachedFields
	}

	if err := f.checkCycle(ctx, rec); err != nil {
		return nil, err
	}

	stored, err := f.store.Enqueue(ctx, rec)
	if err != nil {
		return nil, err
	}
	f.logger.Printf("Queued %s", stored)

	var projErr error
	if opts.Project != nil {
		if err := opts.Project(stored); err != nil {
			projErr = fmt.Errorf("%w for %s: %w", ErrProjection, stored.IdempotencyKey, err)
		}
	}

	f.announce(ctx, stored)
	return stored, projErr
}

// checkCycle rejects a record whose dependencies lead back to itself.
func (f *Facade) checkCycle(ctx context.Context, rec *mutation.Record) error {
	if len(rec.DependsOn) == 0 {
		return nil
	}
	live, err := f.store.ListByStatus(ctx, mutation.StatusPending, mutation.StatusInFlight, mutation.StatusConflict)
	if err != nil {
		return err
	}
	if path, ok := resolver.DetectCycle(live, rec); ok {
		return fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(path, " -> "))
	}
	return nil
}

// announce tells local subscribers, other contexts and the processor that the
// queue changed.
func (f *Facade) announce(ctx context.Context, rec *mutation.Record) {
	f.bus.Emit(events.Event{Type: events.QueueUpdated, Record: rec})

	if f.config.Notifier != nil {
		if err := f.config.Notifier.Publish(ctx, f.config.Origin); err != nil {
			f.logger.Printf("Warning: failed to publish queue change: %v", err)
		}
	}
	if f.config.RequestDrive != nil {
		f.config.RequestDrive()
	}
}
