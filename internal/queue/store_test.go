package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/invtrack/syncq/internal/mutation"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

// testStore opens an initialized store in a temp directory.
func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return s
}

func createRec(key string, deps ...string) *mutation.Record {
	return &mutation.Record{
		IdempotencyKey: key,
		Operation:      mutation.OpCreate,
		EntityType:     mutation.EntityCategories,
		Payload:        &mutation.CategoryPayload{Name: strPtr("cat " + key)},
		DependsOn:      deps,
	}
}

func mustEnqueue(t *testing.T, s *Store, rec *mutation.Record) *mutation.Record {
	t.Helper()
	stored, err := s.Enqueue(context.Background(), rec)
	if err != nil {
		t.Fatalf("Enqueue(%s) failed: %v", rec.IdempotencyKey, err)
	}
	return stored
}

func TestInitSchema_Tables(t *testing.T) {
	s := testStore(t)

	for _, table := range []string{"mutations", "confirmed"} {
		var count int
		err := s.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}

	if err := s.InitSchema(); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}
}

func TestEnqueue_AssignsSequence(t *testing.T) {
	s := testStore(t)

	a := mustEnqueue(t, s, createRec("a"))
	b := mustEnqueue(t, s, createRec("b"))

	if a.SequenceID <= 0 || b.SequenceID <= a.SequenceID {
		t.Errorf("sequence ids not increasing: a=%d b=%d", a.SequenceID, b.SequenceID)
	}
	if a.Status != mutation.StatusPending || a.Attempt != 0 {
		t.Errorf("new record = %s attempt %d, want pending attempt 0", a.Status, a.Attempt)
	}
	if a.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestEnqueue_DuplicateKey(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, createRec("a"))
	if _, err := s.Enqueue(ctx, createRec("a")); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	// Confirmed keys stay reserved.
	rec, _ := s.FindByKey(ctx, "a")
	if err := s.Confirm(ctx, rec, "srv-1", nil); err != nil {
		t.Fatalf("Confirm() failed: %v", err)
	}
	if _, err := s.Enqueue(ctx, createRec("a")); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey after confirm, got %v", err)
	}
}

func TestEnqueue_Dependencies(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, createRec("b", "missing")); !errors.Is(err, ErrUnknownDependency) {
		t.Fatalf("expected ErrUnknownDependency, got %v", err)
	}

	a := mustEnqueue(t, s, createRec("a"))
	mustEnqueue(t, s, createRec("b", "a"))

	if err := s.MarkStatus(ctx, a.SequenceID, mutation.StatusFailed, "boom"); err != nil {
		t.Fatalf("MarkStatus() failed: %v", err)
	}
	if _, err := s.Enqueue(ctx, createRec("c", "a")); !errors.Is(err, ErrDependencyFailed) {
		t.Fatalf("expected ErrDependencyFailed, got %v", err)
	}

	// Nothing was written by the rejected calls.
	all, _ := s.ListByStatus(ctx)
	if len(all) != 2 {
		t.Errorf("store holds %d records, want 2", len(all))
	}
}

func TestEnqueue_DependsOnConfirmed(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := mustEnqueue(t, s, createRec("a"))
	if err := s.Confirm(ctx, a, "srv-a", nil); err != nil {
		t.Fatalf("Confirm() failed: %v", err)
	}
	b := mustEnqueue(t, s, createRec("b", "a"))
	if !b.HasDependency("a") {
		t.Errorf("DependsOn = %v", b.DependsOn)
	}
}

func TestEnqueue_Invalid(t *testing.T) {
	s := testStore(t)
	rec := createRec("a")
	rec.Payload = &mutation.CategoryPayload{}
	if _, err := s.Enqueue(context.Background(), rec); !errors.Is(err, mutation.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestFindByKey_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rev := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	rec := &mutation.Record{
		IdempotencyKey: "inv-upd",
		Operation:      mutation.OpUpdate,
		EntityType:     mutation.EntityInventory,
		EntityID:       "inv-1",
		Payload:        &mutation.InventoryPayload{Quantity: intPtr(5)},
		CachedRevision: &rev,
		CachedFields:   map[string]any{"quantity": float64(3)},
	}
	mustEnqueue(t, s, rec)

	got, err := s.FindByKey(ctx, "inv-upd")
	if err != nil {
		t.Fatalf("FindByKey() failed: %v", err)
	}
	if got == nil {
		t.Fatal("FindByKey() returned nil")
	}
	if got.EntityID != "inv-1" || got.Operation != mutation.OpUpdate {
		t.Errorf("got %s", got)
	}
	if got.CachedRevision == nil || !got.CachedRevision.Equal(rev) {
		t.Errorf("CachedRevision = %v, want %v", got.CachedRevision, rev)
	}
	if got.CachedFields["quantity"] != float64(3) {
		t.Errorf("CachedFields = %v", got.CachedFields)
	}
	inv, ok := got.Payload.(*mutation.InventoryPayload)
	if !ok || *inv.Quantity != 5 {
		t.Errorf("Payload = %#v", got.Payload)
	}

	missing, err := s.FindByKey(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("FindByKey(nope) = %v, %v; want nil, nil", missing, err)
	}
}

func TestListPending_Order(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := mustEnqueue(t, s, createRec("a"))
	b := mustEnqueue(t, s, createRec("b"))
	c := mustEnqueue(t, s, createRec("c"))

	s.MarkStatus(ctx, b.SequenceID, mutation.StatusFailed, "x")
	s.MarkStatus(ctx, c.SequenceID, mutation.StatusInFlight, "")

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("ListPending() returned %d records, want 2", len(pending))
	}
	if pending[0].SequenceID != a.SequenceID || pending[1].SequenceID != c.SequenceID {
		t.Errorf("order = [%d %d], want [%d %d]", pending[0].SequenceID, pending[1].SequenceID, a.SequenceID, c.SequenceID)
	}
}

func TestListByEntityType(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, createRec("a"))
	mustEnqueue(t, s, &mutation.Record{
		IdempotencyKey: "loc",
		Operation:      mutation.OpCreate,
		EntityType:     mutation.EntityLocations,
		Payload:        &mutation.LocationPayload{Name: strPtr("Garage")},
	})

	locs, err := s.ListByEntityType(ctx, mutation.EntityLocations)
	if err != nil {
		t.Fatalf("ListByEntityType() failed: %v", err)
	}
	if len(locs) != 1 || locs[0].IdempotencyKey != "loc" {
		t.Errorf("ListByEntityType() = %v", locs)
	}
}

func TestMarkStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := mustEnqueue(t, s, createRec("a"))
	if err := s.MarkStatus(ctx, a.SequenceID, mutation.StatusFailed, "server said no"); err != nil {
		t.Fatalf("MarkStatus() failed: %v", err)
	}
	got, _ := s.Get(ctx, a.SequenceID)
	if got.Status != mutation.StatusFailed || got.LastError != "server said no" {
		t.Errorf("got status %s error %q", got.Status, got.LastError)
	}

	if err := s.MarkStatus(ctx, 9999, mutation.StatusPending, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.MarkStatus(ctx, a.SequenceID, "synced", ""); err == nil {
		t.Error("MarkStatus() should reject unknown status")
	}
}

func TestRecordAttempt(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := mustEnqueue(t, s, createRec("a"))
	next := time.Now().Add(4 * time.Second)
	for want := 1; want <= 3; want++ {
		n, err := s.RecordAttempt(ctx, a.SequenceID, &next)
		if err != nil {
			t.Fatalf("RecordAttempt() failed: %v", err)
		}
		if n != want {
			t.Errorf("attempt = %d, want %d", n, want)
		}
	}
	got, _ := s.Get(ctx, a.SequenceID)
	if got.NextAttemptAt == nil || got.NextAttemptAt.Sub(next).Abs() > time.Millisecond {
		t.Errorf("NextAttemptAt = %v, want %v", got.NextAttemptAt, next)
	}
	if _, err := s.RecordAttempt(ctx, 9999, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestConfirm(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := mustEnqueue(t, s, createRec("a"))
	rev := time.Now().UTC().Truncate(time.Second)
	if err := s.Confirm(ctx, a, "srv-42", &rev); err != nil {
		t.Fatalf("Confirm() failed: %v", err)
	}

	if rec, _ := s.FindByKey(ctx, "a"); rec != nil {
		t.Error("confirmed record should be removed from the queue")
	}
	c, err := s.Confirmed(ctx, "a")
	if err != nil || c == nil {
		t.Fatalf("Confirmed() = %v, %v", c, err)
	}
	if c.ServerID != "srv-42" || c.Revision == nil || !c.Revision.Equal(rev) {
		t.Errorf("confirmation = %+v", c)
	}

	ids, err := s.ConfirmedIDs(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("ConfirmedIDs() failed: %v", err)
	}
	if len(ids) != 1 || ids["a"] != "srv-42" {
		t.Errorf("ConfirmedIDs() = %v", ids)
	}
}

func TestRetryAndDiscard(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := mustEnqueue(t, s, createRec("a"))
	if _, err := s.Retry(ctx, "a"); !errors.Is(err, ErrActive) {
		t.Fatalf("Retry() on pending: expected ErrActive, got %v", err)
	}

	for i := 0; i < 5; i++ {
		s.RecordAttempt(ctx, a.SequenceID, nil)
	}
	s.MarkStatus(ctx, a.SequenceID, mutation.StatusFailed, "gave up")

	got, err := s.Retry(ctx, "a")
	if err != nil {
		t.Fatalf("Retry() failed: %v", err)
	}
	if got.Status != mutation.StatusPending || got.LastError != "" {
		t.Errorf("after retry: status %s error %q", got.Status, got.LastError)
	}
	if got.Attempt != 5 || got.RetryFloor != 5 || got.BudgetUsed() != 0 {
		t.Errorf("attempt=%d floor=%d, want 5/5", got.Attempt, got.RetryFloor)
	}

	if _, err := s.Discard(ctx, "a"); !errors.Is(err, ErrActive) {
		t.Fatalf("Discard() on pending: expected ErrActive, got %v", err)
	}
	s.MarkStatus(ctx, a.SequenceID, mutation.StatusConflict, "diverged")
	if _, err := s.Discard(ctx, "a"); err != nil {
		t.Fatalf("Discard() failed: %v", err)
	}
	if rec, _ := s.FindByKey(ctx, "a"); rec != nil {
		t.Error("discarded record still present")
	}
	if _, err := s.Discard(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReplacePayload(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := mustEnqueue(t, s, &mutation.Record{
		IdempotencyKey: "u",
		Operation:      mutation.OpUpdate,
		EntityType:     mutation.EntityItems,
		EntityID:       "item-1",
		Payload:        &mutation.ItemPayload{Name: strPtr("Drill")},
	})
	s.MarkStatus(ctx, a.SequenceID, mutation.StatusConflict, "diverged")

	rev := time.Now().UTC()
	err := s.ReplacePayload(ctx, a.SequenceID, &mutation.ItemPayload{Name: strPtr("Drill v2")}, &rev, map[string]any{"name": "Old"})
	if err != nil {
		t.Fatalf("ReplacePayload() failed: %v", err)
	}

	got, _ := s.Get(ctx, a.SequenceID)
	if got.Status != mutation.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if *got.Payload.(*mutation.ItemPayload).Name != "Drill v2" {
		t.Errorf("payload not replaced: %+v", got.Payload)
	}
	if got.CachedFields["name"] != "Old" {
		t.Errorf("CachedFields = %v", got.CachedFields)
	}
}

func updateRec(key, entityID string, deps ...string) *mutation.Record {
	return &mutation.Record{
		IdempotencyKey: key,
		Operation:      mutation.OpUpdate,
		EntityType:     mutation.EntityCategories,
		EntityID:       entityID,
		Payload:        &mutation.CategoryPayload{Name: strPtr("renamed " + key)},
		DependsOn:      deps,
	}
}

// backdate moves a timestamp column of one record into the past.
func backdate(t *testing.T, s *Store, column string, seq int64, age time.Duration) {
	t.Helper()
	if _, err := s.conn.Exec(`UPDATE mutations SET `+column+` = ? WHERE seq = ?`, formatTime(time.Now().Add(-age)), seq); err != nil {
		t.Fatalf("backdate %s failed: %v", column, err)
	}
}

func TestEnqueue_EntityIDOfQueuedCreate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, createRec("c1"))
	tests := []struct {
		name string
		rec  *mutation.Record
		want []string
	}{
		{"queued create", updateRec("u1", "c1"), []string{"c1"}},
		{"already listed", updateRec("u2", "c1", "c1"), []string{"c1"}},
		{"server id", updateRec("u3", "categories-7"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustEnqueue(t, s, tt.rec)
			if fmt.Sprint(got.DependsOn) != fmt.Sprint(tt.want) {
				t.Errorf("DependsOn = %v, want %v", got.DependsOn, tt.want)
			}
			stored, _ := s.FindByKey(ctx, tt.rec.IdempotencyKey)
			if fmt.Sprint(stored.DependsOn) != fmt.Sprint(tt.want) {
				t.Errorf("stored DependsOn = %v, want %v", stored.DependsOn, tt.want)
			}
		})
	}

	// A failed create fails the update up front.
	f := mustEnqueue(t, s, createRec("f1"))
	s.MarkStatus(ctx, f.SequenceID, mutation.StatusFailed, "rejected")
	if _, err := s.Enqueue(ctx, updateRec("u4", "f1")); !errors.Is(err, ErrDependencyFailed) {
		t.Errorf("update of failed create: expected ErrDependencyFailed, got %v", err)
	}
}

func TestClaim(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer first.Close()
	if err := first.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	second, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer second.Close()
	ctx := context.Background()

	rec := mustEnqueue(t, first, createRec("a"))

	var wg sync.WaitGroup
	wins := make(chan bool, 2)
	for _, s := range []*Store{first, second} {
		wg.Add(1)
		go func(s *Store) {
			defer wg.Done()
			ok, err := s.Claim(ctx, rec.SequenceID)
			if err != nil {
				t.Errorf("Claim() failed: %v", err)
			}
			wins <- ok
		}(s)
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Errorf("%d handles claimed the record, want exactly 1", won)
	}
	got, _ := first.Get(ctx, rec.SequenceID)
	if got.Status != mutation.StatusInFlight {
		t.Errorf("status = %s, want in_flight", got.Status)
	}

	// Only pending records can be claimed.
	failed := mustEnqueue(t, first, createRec("b"))
	first.MarkStatus(ctx, failed.SequenceID, mutation.StatusFailed, "x")
	if ok, _ := first.Claim(ctx, failed.SequenceID); ok {
		t.Error("claimed a failed record")
	}
}

func TestResetInFlight(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	stale := mustEnqueue(t, s, createRec("stale"))
	live := mustEnqueue(t, s, createRec("live"))
	mustEnqueue(t, s, createRec("waiting"))
	for _, rec := range []*mutation.Record{stale, live} {
		if ok, err := s.Claim(ctx, rec.SequenceID); !ok || err != nil {
			t.Fatalf("Claim(%s) = %v, %v", rec.IdempotencyKey, ok, err)
		}
	}
	backdate(t, s, "updated_at", stale.SequenceID, 10*time.Minute)

	n, err := s.ResetInFlight(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("ResetInFlight() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("ResetInFlight() = %d, want 1", n)
	}
	if got, _ := s.Get(ctx, stale.SequenceID); got.Status != mutation.StatusPending {
		t.Errorf("stale claim: status %s, want pending", got.Status)
	}
	if got, _ := s.Get(ctx, live.SequenceID); got.Status != mutation.StatusInFlight {
		t.Errorf("recent claim: status %s, want in_flight", got.Status)
	}
}

func TestPurgeExpired(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := mustEnqueue(t, s, createRec("old"))
	mustEnqueue(t, s, createRec("fresh"))
	s.MarkStatus(ctx, old.SequenceID, mutation.StatusFailed, "x")
	backdate(t, s, "created_at", old.SequenceID, 8*24*time.Hour)

	res, err := s.PurgeExpired(ctx, 0)
	if err != nil {
		t.Fatalf("PurgeExpired() failed: %v", err)
	}
	if res.Records != 1 || res.Orphaned != 0 {
		t.Errorf("PurgeExpired() = %+v, want 1 record", res)
	}
	present, _ := s.KeysExist(ctx, []string{"old", "fresh"})
	if len(present) != 1 || present[0] != "fresh" {
		t.Errorf("KeysExist() = %v, want [fresh]", present)
	}
}

func TestPurgeBefore_FailsOrphanedDependents(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p := mustEnqueue(t, s, createRec("p1"))
	mustEnqueue(t, s, createRec("c1", "p1"))
	mustEnqueue(t, s, createRec("g1", "c1"))
	mustEnqueue(t, s, createRec("other"))
	backdate(t, s, "created_at", p.SequenceID, 8*24*time.Hour)

	res, err := s.PurgeBefore(ctx, time.Now().Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeBefore() failed: %v", err)
	}
	if res.Records != 1 || res.Orphaned != 2 {
		t.Errorf("PurgeBefore() = %+v, want 1 record and 2 orphans", res)
	}

	for _, key := range []string{"c1", "g1"} {
		rec, _ := s.FindByKey(ctx, key)
		if rec.Status != mutation.StatusFailed || rec.LastError != "parent mutation expired: p1" {
			t.Errorf("%s: status %s error %q", key, rec.Status, rec.LastError)
		}
	}
	if rec, _ := s.FindByKey(ctx, "other"); rec.Status != mutation.StatusPending {
		t.Errorf("unrelated record: status %s, want pending", rec.Status)
	}
}

func TestPurgeBefore_KeepsReferencedConfirmations(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := mustEnqueue(t, s, createRec("a"))
	b := mustEnqueue(t, s, createRec("b"))
	for _, rec := range []*mutation.Record{a, b} {
		if err := s.Confirm(ctx, rec, "srv-"+rec.IdempotencyKey, nil); err != nil {
			t.Fatalf("Confirm() failed: %v", err)
		}
	}
	mustEnqueue(t, s, createRec("child", "a"))
	if _, err := s.conn.Exec(`UPDATE confirmed SET confirmed_at = ?`, formatTime(time.Now().Add(-8*24*time.Hour))); err != nil {
		t.Fatalf("backdate confirmations failed: %v", err)
	}

	res, err := s.PurgeExpired(ctx, 0)
	if err != nil {
		t.Fatalf("PurgeExpired() failed: %v", err)
	}
	if res.Confirmations != 1 || res.Records != 0 {
		t.Errorf("PurgeExpired() = %+v, want 1 confirmation", res)
	}
	if c, _ := s.Confirmed(ctx, "a"); c == nil {
		t.Error("confirmation of a is still referenced by child and must be kept")
	}
	if c, _ := s.Confirmed(ctx, "b"); c != nil {
		t.Error("unreferenced confirmation of b should be purged")
	}
}

func TestUnknownKeys(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, createRec("queued"))
	done := mustEnqueue(t, s, createRec("done"))
	if err := s.Confirm(ctx, done, "srv-1", nil); err != nil {
		t.Fatal(err)
	}

	got, err := s.UnknownKeys(ctx, []string{"gone", "queued", "done", "never"})
	if err != nil {
		t.Fatalf("UnknownKeys() failed: %v", err)
	}
	if fmt.Sprint(got) != "[gone never]" {
		t.Errorf("UnknownKeys() = %v, want [gone never]", got)
	}
}

func TestConcurrentEnqueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer first.Close()
	if err := first.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	// A second handle on the same file stands in for another process.
	second, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer second.Close()

	const perHandle = 20
	var wg sync.WaitGroup
	errs := make(chan error, 2*perHandle)
	for h, s := range []*Store{first, second} {
		wg.Add(1)
		go func(h int, s *Store) {
			defer wg.Done()
			for i := 0; i < perHandle; i++ {
				if _, err := s.Enqueue(context.Background(), createRec(fmt.Sprintf("h%d-%d", h, i))); err != nil {
					errs <- err
				}
			}
		}(h, s)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Enqueue failed: %v", err)
	}

	all, _ := first.ListPending(context.Background())
	if len(all) != 2*perHandle {
		t.Errorf("got %d records, want %d", len(all), 2*perHandle)
	}
}
