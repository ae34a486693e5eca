package mutation

import "github.com/google/uuid"

// NewIdempotencyKey returns a globally unique, time-ordered key (UUIDv7).
// Keys sort by creation time, which keeps export files and logs readable.
func NewIdempotencyKey() string {
	return uuid.Must(uuid.NewV7()).String()
}
