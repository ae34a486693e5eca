// Package conflict decides whether a queued update can be applied safely on
// top of the server's current state of the entity.
//
// An update carries the revision and field values the client saw when the
// edit was made (the base). If the server's revision is newer, another writer
// touched the entity in the meantime. The update only conflicts when, for a
// critical field, the local edit and the server both moved away from the base
// to different values. When no base value was cached the detector cannot tell
// which side changed, and the record needs manual attention.
package conflict

import (
	"encoding/json"
	"reflect"
	"sort"

	"github.com/invtrack/syncq/internal/mutation"
	"github.com/invtrack/syncq/internal/remote"
)

// Class is the outcome of a check.
type Class int

const (
	// Clean means the update can be dispatched as is.
	Clean Class = iota
	// Conflicting means both sides changed a critical field to different
	// values.
	Conflicting
	// NeedsManual means a critical field diverges but there is no base value
	// to prove which side changed it.
	NeedsManual
)

func (c Class) String() string {
	switch c {
	case Clean:
		return "clean"
	case Conflicting:
		return "conflicting"
	case NeedsManual:
		return "needs-manual"
	default:
		return "unknown"
	}
}

// Result describes a check.
type Result struct {
	Class Class
	// Fields lists the diverging critical fields, sorted.
	Fields []string
	// Local is the flattened local payload.
	Local map[string]any
	// Server is the snapshot the check ran against.
	Server remote.Snapshot
}

// IsClean reports whether the update may proceed.
func (r Result) IsClean() bool {
	return r.Class == Clean
}

// DefaultCriticalFields returns the fields checked per entity type when no
// configuration is given.
func DefaultCriticalFields() map[mutation.EntityType][]string {
	return map[mutation.EntityType][]string{
		mutation.EntityCategories: {"name", "parent_id"},
		mutation.EntityLocations:  {"name", "parent_id"},
		mutation.EntityBorrowers:  {"name", "email"},
		mutation.EntityContainers: {"name", "location_id", "parent_id"},
		mutation.EntityItems:      {"name", "category_id"},
		mutation.EntityInventory:  {"quantity", "status", "location_id", "container_id"},
		mutation.EntityLoans:      {"quantity", "status", "due_date", "returned_at", "borrower_id"},
	}
}

// Detector checks queued updates against server snapshots.
type Detector struct {
	critical map[mutation.EntityType][]string
}

// NewDetector creates a detector for the given critical fields. Entity types
// missing from critical fall back to DefaultCriticalFields; a nil map uses
// the defaults for every type.
func NewDetector(critical map[mutation.EntityType][]string) *Detector {
	merged := DefaultCriticalFields()
	for et, fields := range critical {
		merged[et] = append([]string(nil), fields...)
	}
	return &Detector{critical: merged}
}

// CriticalFields returns the fields checked for et.
func (d *Detector) CriticalFields(et mutation.EntityType) []string {
	return d.critical[et]
}

// NeedsCheck reports whether rec is subject to conflict detection at all.
// Creates and updates without a cached revision are never checked.
func (d *Detector) NeedsCheck(rec *mutation.Record) bool {
	return rec.Operation == mutation.OpUpdate && rec.CachedRevision != nil
}

// Check classifies rec against the server's current state.
func (d *Detector) Check(rec *mutation.Record, server remote.Snapshot) (Result, error) {
	local, err := rec.Fields()
	if err != nil {
		return Result{}, err
	}
	res := Result{Class: Clean, Local: local, Server: server}

	if !d.NeedsCheck(rec) {
		return res, nil
	}
	if !server.Revision.After(*rec.CachedRevision) {
		return res, nil
	}

	var conflicting, manual []string
	for _, field := range d.critical[rec.EntityType] {
		lv, ok := local[field]
		if !ok {
			continue
		}
		sv := server.Fields[field]
		if equal(lv, sv) {
			continue
		}
		base, hasBase := rec.CachedFields[field]
		if !hasBase {
			manual = append(manual, field)
			continue
		}
		if !equal(lv, base) && !equal(sv, base) {
			conflicting = append(conflicting, field)
		}
	}

	switch {
	case len(conflicting) > 0:
		res.Class = Conflicting
		res.Fields = append(conflicting, manual...)
	case len(manual) > 0:
		res.Class = NeedsManual
		res.Fields = manual
	}
	sort.Strings(res.Fields)
	return res, nil
}

// equal compares two JSON-shaped values. Both sides are normalized through
// encoding/json so that 3 and 3.0 or a time and its RFC 3339 string compare
// equal.
func equal(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
