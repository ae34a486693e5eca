// Package remote is the client side of the server API that queued mutations
// are delivered to.
//
// Every write carries the record's idempotency key. The server is expected to
// deduplicate on it, so redelivering a record after a crash or timeout is
// always safe.
package remote

import (
	"context"
	"time"

	"github.com/invtrack/syncq/internal/mutation"
)

// Remote is the server API used by the sync processor.
type Remote interface {
	// Create asks the server to allocate a new entity. The returned Result
	// carries the server-assigned id.
	Create(ctx context.Context, et mutation.EntityType, key string, fields map[string]any) (Result, error)

	// Update applies a (possibly partial) field set to an existing entity.
	Update(ctx context.Context, et mutation.EntityType, id, key string, fields map[string]any) (Result, error)

	// Fetch returns the server's current view of an entity.
	Fetch(ctx context.Context, et mutation.EntityType, id string) (Snapshot, error)

	// Ping checks connectivity. A nil error means the server is reachable.
	Ping(ctx context.Context) error
}

// Result is the server's acknowledgement of a write.
type Result struct {
	ServerID string    `json:"id"`
	Revision time.Time `json:"revision"`
}

// Snapshot is the server's current state of one entity.
type Snapshot struct {
	ID       string         `json:"id"`
	Revision time.Time      `json:"revision"`
	Fields   map[string]any `json:"fields"`
}
