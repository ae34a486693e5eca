// Package mutation defines the queued write records exchanged between the
// optimistic facade, the durable queue, and the sync processor.
package mutation

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation is the kind of write a record carries.
type Operation string

const (
	// OpCreate asks the server to allocate a new entity.
	OpCreate Operation = "create"
	// OpUpdate modifies an entity the server already knows.
	OpUpdate Operation = "update"
)

// IsValid reports whether op is a known operation.
func (op Operation) IsValid() bool {
	return op == OpCreate || op == OpUpdate
}

// EntityType names the remote collection a record targets.
type EntityType string

const (
	EntityCategories EntityType = "categories"
	EntityLocations  EntityType = "locations"
	EntityBorrowers  EntityType = "borrowers"
	EntityContainers EntityType = "containers"
	EntityItems      EntityType = "items"
	EntityInventory  EntityType = "inventory"
	EntityLoans      EntityType = "loans"
)

// EntityOrder is the fixed dispatch order across entity types. It mirrors the
// foreign-key graph of the domain: inventory rows reference items and
// locations, loans reference inventory and borrowers.
var EntityOrder = []EntityType{
	EntityCategories,
	EntityLocations,
	EntityBorrowers,
	EntityContainers,
	EntityItems,
	EntityInventory,
	EntityLoans,
}

// Rank returns the position of t in EntityOrder, or -1 for unknown types.
func (t EntityType) Rank() int {
	for i, et := range EntityOrder {
		if et == t {
			return i
		}
	}
	return -1
}

// IsValid reports whether t is one of the enumerated entity types.
func (t EntityType) IsValid() bool {
	return t.Rank() >= 0
}

// Status is the lifecycle state of a queued record. Synced records are
// deleted, never retained with a "synced" status.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in_flight"
	StatusFailed   Status = "failed"
	// StatusConflict blocks dispatch until a resolution decision is supplied.
	StatusConflict Status = "conflict"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInFlight, StatusFailed, StatusConflict:
		return true
	}
	return false
}

// IsTerminal reports whether the processor will never pick the record up
// again on its own.
func (s Status) IsTerminal() bool {
	return s == StatusFailed
}

// Record is the unit of work stored in the queue.
type Record struct {
	// ===== Identity =====
	SequenceID     int64  `json:"sequence_id"`
	IdempotencyKey string `json:"idempotency_key"`

	// ===== Write =====
	Operation  Operation  `json:"operation"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id,omitempty"`
	Payload    Payload    `json:"-"`
	DependsOn  []string   `json:"depends_on,omitempty"`

	// ===== Conflict detection (updates only) =====
	CachedRevision *time.Time     `json:"cached_revision,omitempty"`
	CachedFields   map[string]any `json:"cached_fields,omitempty"`

	// ===== Delivery state =====
	Attempt int `json:"attempt"`
	// RetryFloor is the attempt count at the last explicit retry. The retry
	// budget is measured from here so that Attempt never has to go down.
	RetryFloor    int        `json:"retry_floor,omitempty"`
	Status        Status     `json:"status"`
	LastError     string     `json:"last_error,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the structural invariants of a record before it enters the
// store. Payload shape is validated against the operation as well.
func (r *Record) Validate() error {
	if r.IdempotencyKey == "" {
		return invalidf("idempotency_key", "is required")
	}
	if !r.Operation.IsValid() {
		return invalidf("operation", "unknown operation %q", r.Operation)
	}
	if !r.EntityType.IsValid() {
		return invalidf("entity_type", "unknown entity type %q", r.EntityType)
	}
	switch r.Operation {
	case OpCreate:
		if r.EntityID != "" {
			return invalidf("entity_id", "must be empty for create (server assigns identity)")
		}
	case OpUpdate:
		if r.EntityID == "" {
			return invalidf("entity_id", "is required for update")
		}
	}
	if r.Payload == nil {
		return invalidf("payload", "is required")
	}
	if r.Payload.EntityType() != r.EntityType {
		return invalidf("payload", "shape %s does not match entity type %s", r.Payload.EntityType(), r.EntityType)
	}
	if err := r.Payload.Validate(r.Operation); err != nil {
		return err
	}
	seen := make(map[string]bool, len(r.DependsOn))
	for _, dep := range r.DependsOn {
		if dep == "" {
			return invalidf("depends_on", "contains an empty key")
		}
		if dep == r.IdempotencyKey {
			return invalidf("depends_on", "record cannot depend on itself")
		}
		if seen[dep] {
			return invalidf("depends_on", "duplicate key %s", dep)
		}
		seen[dep] = true
	}
	if r.Status != "" && !r.Status.IsValid() {
		return invalidf("status", "unknown status %q", r.Status)
	}
	if r.Attempt < 0 {
		return invalidf("attempt", "must not be negative (got %d)", r.Attempt)
	}
	return nil
}

// BudgetUsed returns how many attempts count against the current retry budget.
func (r *Record) BudgetUsed() int {
	return r.Attempt - r.RetryFloor
}

// HasDependency reports whether key is one of the record's prerequisites.
func (r *Record) HasDependency(key string) bool {
	for _, dep := range r.DependsOn {
		if dep == key {
			return true
		}
	}
	return false
}

// Fields returns the payload flattened to its wire field names.
func (r *Record) Fields() (map[string]any, error) {
	if r.Payload == nil {
		return map[string]any{}, nil
	}
	return PayloadFields(r.Payload)
}

// String identifies the record in log lines.
func (r *Record) String() string {
	if r.EntityID != "" {
		return fmt.Sprintf("#%d %s %s/%s (%s)", r.SequenceID, r.Operation, r.EntityType, r.EntityID, r.IdempotencyKey)
	}
	return fmt.Sprintf("#%d %s %s (%s)", r.SequenceID, r.Operation, r.EntityType, r.IdempotencyKey)
}

// MarshalJSON includes the typed payload under "payload".
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	var payload json.RawMessage
	if r.Payload != nil {
		data, err := json.Marshal(r.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		payload = data
	}
	return json.Marshal(struct {
		plain
		Payload json.RawMessage `json:"payload,omitempty"`
	}{plain(r), payload})
}

// UnmarshalJSON decodes the payload into the shape selected by entity_type.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var aux struct {
		plain
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Record(aux.plain)
	if len(aux.Payload) > 0 && string(aux.Payload) != "null" {
		p, err := DecodePayload(r.EntityType, aux.Payload)
		if err != nil {
			return err
		}
		r.Payload = p
	}
	return nil
}
