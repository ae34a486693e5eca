// Package loadtest exercises the queue under concurrent writers.
//
// Several execution contexts, each with its own handle on one queue database,
// enqueue dependency chains while a processor drains the queue against an
// in-memory server. The run reports enqueue and end-to-end sync latency and
// checks that no record reached the server before one of its prerequisites.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/invtrack/syncq/internal/events"
	"github.com/invtrack/syncq/internal/mutation"
	"github.com/invtrack/syncq/internal/queue"
	"github.com/invtrack/syncq/internal/remote"
	"github.com/invtrack/syncq/internal/syncer"
)

// Scenario describes one load test run.
type Scenario struct {
	// Contexts is the number of concurrent writers (default: 4).
	Contexts int

	// Chains is the number of dependency chains each writer enqueues
	// (default: 25). A chain is five records: a category, an item in it, a
	// location, a container in it and an inventory row tying them together.
	Chains int

	// FailureRate is the fraction of server calls that fail transiently.
	FailureRate float64

	// MaxAttempts is the per-record retry budget (default: 1000).
	MaxAttempts int

	// Seed makes failure injection reproducible (default: 42).
	Seed int64

	// Timeout bounds the whole run (default: 2m).
	Timeout time.Duration

	// Logger for processor activity (default: discard).
	Logger *log.Logger
}

func (s *Scenario) withDefaults() Scenario {
	out := *s
	if out.Contexts <= 0 {
		out.Contexts = 4
	}
	if out.Chains <= 0 {
		out.Chains = 25
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 1000
	}
	if out.Seed == 0 {
		out.Seed = 42
	}
	if out.Timeout <= 0 {
		out.Timeout = 2 * time.Minute
	}
	if out.Logger == nil {
		out.Logger = log.New(io.Discard, "", 0)
	}
	return out
}

// LatencyStats captures latency percentiles for one kind of operation.
type LatencyStats struct {
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration // Median
	P95   time.Duration
	P99   time.Duration
	Count int
}

// Result is the outcome of a run.
type Result struct {
	Records  int
	Synced   int
	Failed   int
	Drives   int
	Injected int

	Enqueue LatencyStats
	Sync    LatencyStats

	// OrderViolations lists records that reached the server before a
	// prerequisite did. Empty on a correct run.
	OrderViolations []string

	Duration time.Duration
}

// recordingRemote notes the order in which writes succeed.
type recordingRemote struct {
	*remote.Memory

	mu    sync.Mutex
	order map[string]int
	next  int
}

func (r *recordingRemote) Create(ctx context.Context, et mutation.EntityType, key string, fields map[string]any) (remote.Result, error) {
	res, err := r.Memory.Create(ctx, et, key, fields)
	if err == nil {
		r.note(key)
	}
	return res, err
}

func (r *recordingRemote) Update(ctx context.Context, et mutation.EntityType, id, key string, fields map[string]any) (remote.Result, error) {
	res, err := r.Memory.Update(ctx, et, id, key, fields)
	if err == nil {
		r.note(key)
	}
	return res, err
}

func (r *recordingRemote) note(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.order[key]; !ok {
		r.order[key] = r.next
		r.next++
	}
}

func (r *recordingRemote) position(key string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos, ok := r.order[key]
	return pos, ok
}

// Run executes the scenario against a queue database at dbPath. The database
// should be empty.
func Run(ctx context.Context, dbPath string, scenario Scenario) (*Result, error) {
	sc := scenario.withDefaults()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, sc.Timeout)
	defer cancel()

	drainStore, err := queue.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}
	defer drainStore.Close()
	if err := drainStore.InitSchemaContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	mem := remote.NewMemory()
	rem := &recordingRemote{Memory: mem, order: make(map[string]int)}

	var injected atomic.Int64
	if sc.FailureRate > 0 {
		var rngMu sync.Mutex
		rng := rand.New(rand.NewSource(sc.Seed))
		mem.SetHook(func(remote.Call) error {
			rngMu.Lock()
			fail := rng.Float64() < sc.FailureRate
			rngMu.Unlock()
			if fail {
				injected.Add(1)
				return remote.NewTransientError(errors.New("injected failure"))
			}
			return nil
		})
	}

	// Enqueue times keyed by idempotency key, for end-to-end latency.
	var timesMu sync.Mutex
	enqueuedAt := make(map[string]time.Time)
	var syncDurations []time.Duration
	var failedKeys []string

	bus := events.NewBus()
	bus.Subscribe(func(ev events.Event) {
		if ev.Record == nil {
			return
		}
		timesMu.Lock()
		defer timesMu.Unlock()
		switch ev.Type {
		case events.MutationSynced:
			if at, ok := enqueuedAt[ev.Record.IdempotencyKey]; ok {
				syncDurations = append(syncDurations, time.Since(at))
			}
		case events.MutationFailed:
			failedKeys = append(failedKeys, ev.Record.IdempotencyKey)
		}
	})

	proc := syncer.New(drainStore, rem, bus, nil, &syncer.Config{
		MaxAttempts: sc.MaxAttempts,
		Backoff:     syncer.NoBackoff,
		Logger:      sc.Logger,
	})

	var (
		enqMu     sync.Mutex
		enqueued  []*mutation.Record
		enqTimes  []time.Duration
		writersUp atomic.Int32
		drives    int
	)
	writersUp.Store(int32(sc.Contexts))

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < sc.Contexts; i++ {
		g.Go(func() error {
			defer writersUp.Add(-1)

			store, err := queue.Open(dbPath)
			if err != nil {
				return fmt.Errorf("writer %d: failed to open queue: %w", i, err)
			}
			defer store.Close()

			for c := 0; c < sc.Chains; c++ {
				for _, rec := range chain(i, c) {
					t0 := time.Now()
					timesMu.Lock()
					enqueuedAt[rec.IdempotencyKey] = t0
					timesMu.Unlock()

					saved, err := store.Enqueue(gctx, rec)
					elapsed := time.Since(t0)
					if err != nil {
						return fmt.Errorf("writer %d: failed to enqueue %s: %w", i, rec.IdempotencyKey, err)
					}

					enqMu.Lock()
					enqueued = append(enqueued, saved)
					enqTimes = append(enqTimes, elapsed)
					enqMu.Unlock()
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		for {
			// Sampled before the cycle so a late enqueue is never missed.
			writersDone := writersUp.Load() == 0
			report, err := proc.Drive(gctx)
			if err != nil {
				return fmt.Errorf("drive failed: %w", err)
			}
			drives++
			if writersDone && report.Remaining == 0 {
				return nil
			}
			if report.Synced == 0 {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-time.After(time.Millisecond):
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{
		Records:  len(enqueued),
		Drives:   drives,
		Injected: int(injected.Load()),
		Enqueue:  computeLatencyStats(enqTimes),
		Duration: time.Since(start),
	}
	timesMu.Lock()
	result.Synced = len(syncDurations)
	result.Failed = len(failedKeys)
	result.Sync = computeLatencyStats(syncDurations)
	timesMu.Unlock()

	result.OrderViolations = verifyOrder(rem, enqueued)
	return result, nil
}

// chain builds one five-record dependency chain for writer w.
func chain(w, c int) []*mutation.Record {
	key := func(kind string) string { return fmt.Sprintf("w%d-c%d-%s", w, c, kind) }
	str := func(s string) *string { return &s }
	qty := (w*31 + c) % 20

	cat, item, loc, box := key("category"), key("item"), key("location"), key("container")
	return []*mutation.Record{
		{
			IdempotencyKey: cat,
			Operation:      mutation.OpCreate,
			EntityType:     mutation.EntityCategories,
			Payload:        &mutation.CategoryPayload{Name: str(fmt.Sprintf("Category %d/%d", w, c))},
		},
		{
			IdempotencyKey: item,
			Operation:      mutation.OpCreate,
			EntityType:     mutation.EntityItems,
			Payload:        &mutation.ItemPayload{Name: str(fmt.Sprintf("Item %d/%d", w, c)), CategoryID: str(cat)},
			DependsOn:      []string{cat},
		},
		{
			IdempotencyKey: loc,
			Operation:      mutation.OpCreate,
			EntityType:     mutation.EntityLocations,
			Payload:        &mutation.LocationPayload{Name: str(fmt.Sprintf("Shelf %d/%d", w, c))},
		},
		{
			IdempotencyKey: box,
			Operation:      mutation.OpCreate,
			EntityType:     mutation.EntityContainers,
			Payload:        &mutation.ContainerPayload{Name: str(fmt.Sprintf("Bin %d/%d", w, c)), LocationID: str(loc)},
			DependsOn:      []string{loc},
		},
		{
			IdempotencyKey: key("inventory"),
			Operation:      mutation.OpCreate,
			EntityType:     mutation.EntityInventory,
			Payload: &mutation.InventoryPayload{
				ItemID:      str(item),
				LocationID:  str(loc),
				ContainerID: str(box),
				Quantity:    &qty,
			},
			DependsOn: []string{item, loc, box},
		},
	}
}

func verifyOrder(rem *recordingRemote, records []*mutation.Record) []string {
	var violations []string
	for _, rec := range records {
		pos, ok := rem.position(rec.IdempotencyKey)
		if !ok {
			continue
		}
		for _, dep := range rec.DependsOn {
			depPos, ok := rem.position(dep)
			if !ok || depPos > pos {
				violations = append(violations, fmt.Sprintf("%s synced before %s", rec.IdempotencyKey, dep))
			}
		}
	}
	return violations
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}

	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return LatencyStats{
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(sorted)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Count: len(sorted),
	}
}

// Print writes a human-readable summary of the run to w.
func (r *Result) Print(w io.Writer) {
	fmt.Fprintf(w, "Records:  %d (synced %d, failed %d)\n", r.Records, r.Synced, r.Failed)
	fmt.Fprintf(w, "Drives:   %d\n", r.Drives)
	fmt.Fprintf(w, "Injected: %d transient failures\n", r.Injected)
	fmt.Fprintf(w, "Duration: %v\n", r.Duration.Round(time.Millisecond))
	r.Enqueue.print(w, "Enqueue latency")
	r.Sync.print(w, "Enqueue-to-sync latency")
	if len(r.OrderViolations) == 0 {
		fmt.Fprintln(w, "Ordering: ok")
		return
	}
	fmt.Fprintf(w, "Ordering: %d violations\n", len(r.OrderViolations))
	for _, v := range r.OrderViolations {
		fmt.Fprintf(w, "  %s\n", v)
	}
}

func (s LatencyStats) print(w io.Writer, title string) {
	fmt.Fprintf(w, "%s (%d samples):\n", title, s.Count)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
