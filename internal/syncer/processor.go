package syncer

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/invtrack/syncq/internal/conflict"
	"github.com/invtrack/syncq/internal/events"
	"github.com/invtrack/syncq/internal/mutation"
	"github.com/invtrack/syncq/internal/queue"
	"github.com/invtrack/syncq/internal/remote"
)

const (
	StateIdle     = "idle"
	StateDraining = "draining"

	eventStart  = "start"
	eventFinish = "finish"
)

// Config holds processor configuration.
type Config struct {
	// MaxAttempts is the retry budget per record (default: 5).
	MaxAttempts int

	// InitialBackoff is the delay after the first failure (default: 2s).
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts (default: 30s).
	MaxBackoff time.Duration

	// Jitter spreads each delay by +/- this fraction (default: 0.2).
	Jitter float64

	// DispatchTimeout bounds one remote call (default: 30s).
	DispatchTimeout time.Duration

	// Backoff overrides the delay schedule built from the fields above.
	Backoff BackoffFunc

	// Resolver decides conflicting updates. Nil blocks them for manual
	// resolution.
	Resolver conflict.Resolver

	// Now overrides the clock (tests).
	Now func() time.Time

	// Logger for processor activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns the default processor configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:     5,
		InitialBackoff:  2 * time.Second,
		MaxBackoff:      30 * time.Second,
		Jitter:          0.2,
		DispatchTimeout: 30 * time.Second,
	}
}

// Report summarizes one Drive call.
type Report struct {
	// Coalesced is true when the call only asked a running cycle for another
	// pass.
	Coalesced bool `json:"coalesced,omitempty"`
	Passes    int  `json:"passes"`

	Synced       int `json:"synced"`
	Failed       int `json:"failed"`
	Cascaded     int `json:"cascaded"`
	Retried      int `json:"retried"`
	Deferred     int `json:"deferred"`
	Waiting      int `json:"waiting"`
	Conflicts    int `json:"conflicts"`
	Discarded    int `json:"discarded"`
	Unresolvable int `json:"unresolvable"`

	// Remaining is the number of records still queued and not failed.
	Remaining int `json:"remaining"`

	// NextRetry is the earliest scheduled retry, if any record is waiting
	// for its backoff to elapse.
	NextRetry *time.Time `json:"next_retry,omitempty"`

	Duration time.Duration `json:"duration"`
}

func (r *Report) noteRetry(at time.Time) {
	if r.NextRetry == nil || at.Before(*r.NextRetry) {
		t := at
		r.NextRetry = &t
	}
}

// Processor runs drive cycles against one store and one remote. Construct one
// per execution context.
type Processor struct {
	store    *queue.Store
	remote   remote.Remote
	bus      *events.Bus
	detector *conflict.Detector
	config   *Config
	backoff  BackoffFunc
	logger   *log.Logger

	mu    sync.Mutex
	state *fsm.FSM
	rerun bool
}

// New creates a processor. A nil bus drops events, a nil detector uses the
// default critical fields and a nil config uses DefaultConfig.
func New(store *queue.Store, rem remote.Remote, bus *events.Bus, detector *conflict.Detector, config *Config) *Processor {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.Jitter < 0 {
		config.Jitter = 0
	}
	if config.DispatchTimeout <= 0 {
		config.DispatchTimeout = defaults.DispatchTimeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}
	if detector == nil {
		detector = conflict.NewDetector(nil)
	}
	if bus == nil {
		bus = events.NewBus()
	}

	bf := config.Backoff
	if bf == nil {
		bf = ExponentialBackoff(config.InitialBackoff, config.MaxBackoff, config.Jitter)
	}

	p := &Processor{
		store:    store,
		remote:   rem,
		bus:      bus,
		detector: detector,
		config:   config,
		backoff:  bf,
		logger:   config.Logger,
	}
	p.state = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventStart, Src: []string{StateIdle}, Dst: StateDraining},
			{Name: eventFinish, Src: []string{StateDraining}, Dst: StateIdle},
		},
		fsm.Callbacks{},
	)
	return p
}

// State returns StateIdle or StateDraining.
func (p *Processor) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Current()
}

// Bus returns the event bus the processor emits on.
func (p *Processor) Bus() *events.Bus {
	return p.bus
}

// Detector returns the conflict detector in use.
func (p *Processor) Detector() *conflict.Detector {
	return p.detector
}

// Drive runs one drive cycle: passes over the queue until no further pass
// was requested. When a cycle is already running the call is coalesced into
// it and returns immediately with Report.Coalesced set.
func (p *Processor) Drive(ctx context.Context) (Report, error) {
	p.mu.Lock()
	if !p.state.Can(eventStart) {
		p.rerun = true
		p.mu.Unlock()
		return Report{Coalesced: true}, nil
	}
	if err := p.state.Event(context.Background(), eventStart); err != nil {
		p.mu.Unlock()
		return Report{}, fmt.Errorf("failed to enter draining state: %w", err)
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if err := p.state.Event(context.Background(), eventFinish); err != nil {
			p.logger.Printf("Warning: failed to leave draining state: %v", err)
		}
		p.mu.Unlock()
	}()

	start := time.Now()
	var report Report
	p.bus.Emit(events.Event{Type: events.SyncStarted})

	for {
		p.mu.Lock()
		p.rerun = false
		p.mu.Unlock()

		report.Passes++
		if err := p.pass(ctx, &report); err != nil {
			report.Duration = time.Since(start)
			p.logger.Printf("Drive cycle aborted: %v", err)
			p.bus.Emit(events.Event{Type: events.SyncError, Message: err.Error()})
			return report, err
		}

		p.mu.Lock()
		again := p.rerun
		p.mu.Unlock()
		if !again {
			break
		}
	}

	remaining, err := p.remaining(ctx)
	if err != nil {
		report.Duration = time.Since(start)
		p.bus.Emit(events.Event{Type: events.SyncError, Message: err.Error()})
		return report, err
	}
	report.Remaining = remaining
	report.Duration = time.Since(start)

	p.bus.Emit(events.Event{Type: events.SyncComplete, Remaining: remaining})
	return report, nil
}

func (p *Processor) remaining(ctx context.Context) (int, error) {
	counts, err := p.store.Counts(ctx)
	if err != nil {
		return 0, err
	}
	return counts[mutation.StatusPending] + counts[mutation.StatusInFlight] + counts[mutation.StatusConflict], nil
}
