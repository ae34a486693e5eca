package facade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/invtrack/syncq/internal/events"
	"github.com/invtrack/syncq/internal/mutation"
	"github.com/invtrack/syncq/internal/notify"
	"github.com/invtrack/syncq/internal/queue"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

type fixture struct {
	store   *queue.Store
	rec     *events.Recorder
	hub     *notify.Hub
	signals []notify.Signal
	drives  int
	facade  *Facade
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	fx := &fixture{store: store, rec: &events.Recorder{}, hub: notify.NewHub()}
	bus := events.NewBus()
	bus.Subscribe(fx.rec.Handle)
	fx.hub.Subscribe(func(s notify.Signal) { fx.signals = append(fx.signals, s) })

	fx.facade = New(store, bus, Config{
		Origin:       "tab-1",
		Notifier:     fx.hub,
		RequestDrive: func() { fx.drives++ },
		Logger:       log.New(io.Discard, "", 0),
	})
	return fx
}

func TestCreate_QueuesAndAnnounces(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	var projected *mutation.Record
	rec, err := fx.facade.Create(ctx, &mutation.CategoryPayload{Name: strPtr("Tools")}, &Options{
		Project: func(r *mutation.Record) error {
			projected = r
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	if rec.SequenceID == 0 || rec.IdempotencyKey == "" {
		t.Errorf("record not stored: %+v", rec)
	}
	if rec.Status != mutation.StatusPending || rec.Operation != mutation.OpCreate {
		t.Errorf("record = %+v", rec)
	}
	if projected == nil || projected.IdempotencyKey != rec.IdempotencyKey {
		t.Error("projection callback should receive the stored record")
	}

	stored, _ := fx.store.FindByKey(ctx, rec.IdempotencyKey)
	if stored == nil {
		t.Fatal("record not in store")
	}

	if evs := fx.rec.OfType(events.QueueUpdated); len(evs) != 1 {
		t.Errorf("queue-updated events = %d, want 1", len(evs))
	}
	if len(fx.signals) != 1 || fx.signals[0].Origin != "tab-1" {
		t.Errorf("signals = %+v", fx.signals)
	}
	if fx.drives != 1 {
		t.Errorf("drive requests = %d, want 1", fx.drives)
	}
}

func TestCreate_KeysAreUniqueAndOrdered(t *testing.T) {
	fx := newFixture(t)
	var last string
	for i := 0; i < 20; i++ {
		rec, err := fx.facade.Create(context.Background(), &mutation.CategoryPayload{Name: strPtr(fmt.Sprintf("c%d", i))}, nil)
		if err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
		if rec.IdempotencyKey <= last {
			t.Errorf("key %s does not sort after %s", rec.IdempotencyKey, last)
		}
		last = rec.IdempotencyKey
	}
}

func TestCreate_ValidationStoresNothing(t *testing.T) {
	tests := []struct {
		name    string
		payload mutation.Payload
		field   string
	}{
		{"nil payload", nil, "payload"},
		{"missing name", &mutation.CategoryPayload{}, "name"},
		{"blank name", &mutation.LocationPayload{Name: strPtr("  ")}, "name"},
		{"bad email", &mutation.BorrowerPayload{Name: strPtr("Ann"), Email: strPtr("not-an-address")}, "email"},
		{"negative quantity", &mutation.InventoryPayload{ItemID: strPtr("i"), LocationID: strPtr("l"), Quantity: intPtr(-1)}, "quantity"},
		{"missing location", &mutation.ContainerPayload{Name: strPtr("Bin")}, "location_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			_, err := fx.facade.Create(context.Background(), tt.payload, nil)
			if !errors.Is(err, mutation.ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
			var ve *mutation.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("validation error = %v, want field %s", err, tt.field)
			}

			counts, _ := fx.store.Counts(context.Background())
			if counts[mutation.StatusPending] != 0 {
				t.Error("nothing should be stored")
			}
			if fx.drives != 0 || len(fx.rec.Events()) != 0 {
				t.Error("a rejected write must not announce anything")
			}
		})
	}
}

func TestCreate_Dependencies(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	cat, err := fx.facade.Create(ctx, &mutation.CategoryPayload{Name: strPtr("Power tools")}, nil)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	item, err := fx.facade.Create(ctx, &mutation.ItemPayload{
		Name:       strPtr("Drill"),
		CategoryID: strPtr(cat.IdempotencyKey),
	}, &Options{DependsOn: []string{cat.IdempotencyKey}})
	if err != nil {
		t.Fatalf("Create(item) failed: %v", err)
	}
	if len(item.DependsOn) != 1 || item.DependsOn[0] != cat.IdempotencyKey {
		t.Errorf("DependsOn = %v", item.DependsOn)
	}

	_, err = fx.facade.Create(ctx, &mutation.ItemPayload{Name: strPtr("Saw")}, &Options{DependsOn: []string{"nobody"}})
	if !errors.Is(err, queue.ErrUnknownDependency) {
		t.Errorf("expected ErrUnknownDependency, got %v", err)
	}
}

func TestCreate_RejectsCycle(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.facade.Create(context.Background(), &mutation.CategoryPayload{Name: strPtr("Loop")}, &Options{
		IdempotencyKey: "k1",
		DependsOn:      []string{"k1"},
	})
	if !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("expected ErrDependencyCycle, got %v", err)
	}
	if rec, _ := fx.store.FindByKey(context.Background(), "k1"); rec != nil {
		t.Error("cyclic record must not be stored")
	}
}

func TestCreate_DuplicateKey(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	opts := &Options{IdempotencyKey: "same"}

	if _, err := fx.facade.Create(ctx, &mutation.CategoryPayload{Name: strPtr("A")}, opts); err != nil {
		t.Fatalf("first Create() failed: %v", err)
	}
	_, err := fx.facade.Create(ctx, &mutation.CategoryPayload{Name: strPtr("B")}, opts)
	if !errors.Is(err, queue.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
	rec, _ := fx.store.FindByKey(ctx, "same")
	if name := rec.Payload.(*mutation.CategoryPayload).Name; *name != "A" {
		t.Errorf("stored name = %s, want A", *name)
	}
}

func TestCreate_ProjectionErrorKeepsRecord(t *testing.T) {
	fx := newFixture(t)
	boom := errors.New("view is read-only")

	rec, err := fx.facade.Create(context.Background(), &mutation.CategoryPayload{Name: strPtr("X")}, &Options{
		Project: func(*mutation.Record) error { return boom },
	})
	if !errors.Is(err, ErrProjection) || !errors.Is(err, boom) {
		t.Fatalf("expected projection error wrapping the callback error, got %v", err)
	}
	if rec == nil {
		t.Fatal("record should be returned alongside the projection error")
	}
	if stored, _ := fx.store.FindByKey(context.Background(), rec.IdempotencyKey); stored == nil {
		t.Error("record must stay queued")
	}
	if fx.drives != 1 {
		t.Error("queued record should still request a drive")
	}
}

func TestUpdate(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	rev := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec, err := fx.facade.Update(ctx, "inv-9", &mutation.InventoryPayload{Quantity: intPtr(4)}, &Options{
		CachedRevision: &rev,
		CachedFields:   map[string]any{"quantity": 2},
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if rec.Operation != mutation.OpUpdate || rec.EntityID != "inv-9" {
		t.Errorf("record = %+v", rec)
	}
	if rec.CachedRevision == nil || !rec.CachedRevision.Equal(rev) {
		t.Errorf("CachedRevision = %v", rec.CachedRevision)
	}
	stored, _ := fx.store.FindByKey(ctx, rec.IdempotencyKey)
	if stored.CachedFields["quantity"] != float64(2) {
		t.Errorf("stored CachedFields = %v", stored.CachedFields)
	}

	_, err = fx.facade.Update(ctx, "", &mutation.InventoryPayload{Quantity: intPtr(1)}, nil)
	if !errors.Is(err, mutation.ErrInvalid) {
		t.Errorf("update without entity id: expected ErrInvalid, got %v", err)
	}
}

func TestUpdate_OfflineCreateBecomesDependency(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	created, err := fx.facade.Create(ctx, &mutation.CategoryPayload{Name: strPtr("Tools")}, &Options{IdempotencyKey: "c1"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	rec, err := fx.facade.Update(ctx, created.IdempotencyKey, &mutation.CategoryPayload{Name: strPtr("Hand tools")}, nil)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if len(rec.DependsOn) != 1 || rec.DependsOn[0] != "c1" {
		t.Errorf("DependsOn = %v, want [c1]", rec.DependsOn)
	}
	stored, _ := fx.store.FindByKey(ctx, rec.IdempotencyKey)
	if len(stored.DependsOn) != 1 || stored.DependsOn[0] != "c1" {
		t.Errorf("stored DependsOn = %v, want [c1]", stored.DependsOn)
	}

	// Listing the key explicitly does not duplicate it.
	again, err := fx.facade.Update(ctx, "c1", &mutation.CategoryPayload{Name: strPtr("Tools")}, &Options{DependsOn: []string{"c1"}})
	if err != nil {
		t.Fatalf("second Update() failed: %v", err)
	}
	if len(again.DependsOn) != 1 {
		t.Errorf("DependsOn = %v, want [c1]", again.DependsOn)
	}

	// A server id is left alone.
	plain, err := fx.facade.Update(ctx, "categories-7", &mutation.CategoryPayload{Name: strPtr("X")}, nil)
	if err != nil {
		t.Fatalf("Update() of a server id failed: %v", err)
	}
	if len(plain.DependsOn) != 0 {
		t.Errorf("DependsOn = %v, want none", plain.DependsOn)
	}
}

func ExampleFacade_Create() {
	dir, _ := os.MkdirTemp("", "facade-example")
	defer os.RemoveAll(dir)

	store, _ := queue.Open(filepath.Join(dir, "queue.db"))
	defer store.Close()
	_ = store.InitSchema()

	f := New(store, nil, Config{Logger: log.New(io.Discard, "", 0)})
	name := "Garage"
	rec, err := f.Create(context.Background(), &mutation.LocationPayload{Name: &name}, nil)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(rec.Operation, rec.EntityType, rec.Status)
	// Output: create locations pending
}
