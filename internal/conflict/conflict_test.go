package conflict

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/invtrack/syncq/internal/mutation"
	"github.com/invtrack/syncq/internal/remote"
)

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }

var (
	cachedAt = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	older    = cachedAt.Add(-time.Hour)
	newer    = cachedAt.Add(time.Hour)
)

func inventoryUpdate(qty int, base map[string]any) *mutation.Record {
	rev := cachedAt
	return &mutation.Record{
		SequenceID:     1,
		IdempotencyKey: "upd",
		Operation:      mutation.OpUpdate,
		EntityType:     mutation.EntityInventory,
		EntityID:       "inv-1",
		Payload:        &mutation.InventoryPayload{Quantity: intPtr(qty)},
		CachedRevision: &rev,
		CachedFields:   base,
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name   string
		rec    *mutation.Record
		server remote.Snapshot
		want   Class
		fields []string
	}{
		{
			name:   "server not newer",
			rec:    inventoryUpdate(5, map[string]any{"quantity": 3}),
			server: remote.Snapshot{Revision: older, Fields: map[string]any{"quantity": float64(9)}},
			want:   Clean,
		},
		{
			name:   "same revision",
			rec:    inventoryUpdate(5, map[string]any{"quantity": 3}),
			server: remote.Snapshot{Revision: cachedAt, Fields: map[string]any{"quantity": float64(9)}},
			want:   Clean,
		},
		{
			name:   "only local changed",
			rec:    inventoryUpdate(5, map[string]any{"quantity": 3}),
			server: remote.Snapshot{Revision: newer, Fields: map[string]any{"quantity": float64(3), "status": "ok"}},
			want:   Clean,
		},
		{
			name:   "both changed to same value",
			rec:    inventoryUpdate(5, map[string]any{"quantity": 3}),
			server: remote.Snapshot{Revision: newer, Fields: map[string]any{"quantity": float64(5)}},
			want:   Clean,
		},
		{
			name:   "both changed differently",
			rec:    inventoryUpdate(5, map[string]any{"quantity": 3}),
			server: remote.Snapshot{Revision: newer, Fields: map[string]any{"quantity": float64(7)}},
			want:   Conflicting,
			fields: []string{"quantity"},
		},
		{
			name:   "no base value",
			rec:    inventoryUpdate(5, nil),
			server: remote.Snapshot{Revision: newer, Fields: map[string]any{"quantity": float64(7)}},
			want:   NeedsManual,
			fields: []string{"quantity"},
		},
		{
			name: "no cached revision",
			rec: func() *mutation.Record {
				r := inventoryUpdate(5, nil)
				r.CachedRevision = nil
				return r
			}(),
			server: remote.Snapshot{Revision: newer, Fields: map[string]any{"quantity": float64(7)}},
			want:   Clean,
		},
	}

	d := NewDetector(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := d.Check(tt.rec, tt.server)
			if err != nil {
				t.Fatalf("Check() failed: %v", err)
			}
			if res.Class != tt.want {
				t.Errorf("Class = %s, want %s", res.Class, tt.want)
			}
			if !reflect.DeepEqual(res.Fields, tt.fields) {
				t.Errorf("Fields = %v, want %v", res.Fields, tt.fields)
			}
		})
	}
}

func TestCheck_NonCriticalFieldIgnored(t *testing.T) {
	rev := cachedAt
	rec := &mutation.Record{
		IdempotencyKey: "u",
		Operation:      mutation.OpUpdate,
		EntityType:     mutation.EntityItems,
		EntityID:       "item-1",
		Payload:        &mutation.ItemPayload{Description: strPtr("mine")},
		CachedRevision: &rev,
		CachedFields:   map[string]any{"description": "base"},
	}
	res, err := NewDetector(nil).Check(rec, remote.Snapshot{Revision: newer, Fields: map[string]any{"description": "theirs"}})
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if !res.IsClean() {
		t.Errorf("description is not critical, got %s", res.Class)
	}

	custom := NewDetector(map[mutation.EntityType][]string{mutation.EntityItems: {"description"}})
	res, _ = custom.Check(rec, remote.Snapshot{Revision: newer, Fields: map[string]any{"description": "theirs"}})
	if res.Class != Conflicting {
		t.Errorf("configured critical field: got %s, want conflicting", res.Class)
	}
	if got := custom.CriticalFields(mutation.EntityLoans); len(got) == 0 {
		t.Error("unconfigured types keep their defaults")
	}
}

func TestCheck_CreateNeverConflicts(t *testing.T) {
	rec := &mutation.Record{
		IdempotencyKey: "c",
		Operation:      mutation.OpCreate,
		EntityType:     mutation.EntityCategories,
		Payload:        &mutation.CategoryPayload{Name: strPtr("x")},
	}
	res, err := NewDetector(nil).Check(rec, remote.Snapshot{Revision: newer})
	if err != nil || !res.IsClean() {
		t.Errorf("Check() = %v, %v", res.Class, err)
	}
}

func TestFieldMerge(t *testing.T) {
	rev := cachedAt
	rec := &mutation.Record{
		IdempotencyKey: "u",
		Operation:      mutation.OpUpdate,
		EntityType:     mutation.EntityInventory,
		EntityID:       "inv-1",
		Payload:        &mutation.InventoryPayload{Quantity: intPtr(5), Status: strPtr("damaged")},
		CachedRevision: &rev,
		CachedFields:   map[string]any{"quantity": 3, "status": "ok"},
	}
	server := remote.Snapshot{Revision: newer, Fields: map[string]any{"quantity": float64(7), "status": "ok"}}

	res, err := NewDetector(nil).Check(rec, server)
	if err != nil || res.Class != Conflicting {
		t.Fatalf("Check() = %v, %v", res.Class, err)
	}

	dec, err := FieldMerge{}.Resolve(context.Background(), Conflict{Record: rec, Result: res})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if dec.Action != Merge {
		t.Fatalf("Action = %s, want merge", dec.Action)
	}
	merged := dec.Payload.(*mutation.InventoryPayload)
	if merged.Quantity != nil {
		t.Errorf("conflicting quantity should be dropped, got %d", *merged.Quantity)
	}
	if merged.Status == nil || *merged.Status != "damaged" {
		t.Errorf("status = %v, want damaged", merged.Status)
	}
	if err := dec.Validate(rec); err != nil {
		t.Errorf("merge decision invalid: %v", err)
	}

	// Nothing left to send: the server wins outright.
	only := *rec
	only.Payload = &mutation.InventoryPayload{Quantity: intPtr(5)}
	dec, _ = FieldMerge{}.Resolve(context.Background(), Conflict{Record: &only, Result: Result{Class: Conflicting, Fields: []string{"quantity"}}})
	if dec.Action != AcceptRemote {
		t.Errorf("Action = %s, want accept-remote", dec.Action)
	}
}

func TestParseAction(t *testing.T) {
	for _, a := range []Action{Defer, AcceptLocal, AcceptRemote, Merge} {
		got, err := ParseAction(a.String())
		if err != nil || got != a {
			t.Errorf("ParseAction(%q) = %v, %v", a.String(), got, err)
		}
	}
	if _, err := ParseAction("yolo"); err == nil {
		t.Error("ParseAction should reject unknown decisions")
	}
}

func TestDecisionValidate(t *testing.T) {
	rec := inventoryUpdate(1, nil)
	if err := (Decision{Action: Merge}).Validate(rec); err == nil {
		t.Error("merge without payload should fail")
	}
	bad := Decision{Action: Merge, Payload: &mutation.ItemPayload{Name: strPtr("x")}}
	if err := bad.Validate(rec); err == nil {
		t.Error("merge with wrong payload shape should fail")
	}
	if err := (Decision{Action: AcceptLocal}).Validate(rec); err != nil {
		t.Errorf("accept-local needs no payload: %v", err)
	}
}
