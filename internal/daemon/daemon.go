// Package daemon runs an engine's processor in the background.
//
// The daemon:
// 1. Pings the remote and drives when connectivity comes back
// 2. Drives when the queue changes in this or another context
// 3. Drives on manual and visibility triggers
// 4. Re-drives when the earliest scheduled retry is due
// 5. Periodically purges expired records
// 6. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/invtrack/syncq/internal/engine"
	"github.com/invtrack/syncq/internal/queue"
	"github.com/invtrack/syncq/internal/syncer"
)

// Reason says why a drive was requested.
type Reason string

const (
	ReasonStartup      Reason = "startup"
	ReasonManual       Reason = "manual"
	ReasonVisible      Reason = "visibility"
	ReasonConnectivity Reason = "connectivity"
	ReasonQueueChanged Reason = "queue-changed"
	ReasonRetry        Reason = "retry-timer"
)

// Pinger reports whether the remote is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds configuration for the daemon.
type Config struct {
	// PingInterval is how often the remote is pinged (default: 15s).
	PingInterval time.Duration

	// PingTimeout bounds one ping (default: 5s).
	PingTimeout time.Duration

	// PurgeInterval is how often expired records are deleted (default: 1h).
	PurgeInterval time.Duration

	// PurgeTTL is the age after which records are deleted (default: 7 days).
	PurgeTTL time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PingInterval:  15 * time.Second,
		PingTimeout:   5 * time.Second,
		PurgeInterval: time.Hour,
		PurgeTTL:      queue.DefaultTTL,
		Logger:        log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon funnels every wake source into the engine's Drive.
type Daemon struct {
	engine *engine.Engine
	pinger Pinger
	config *Config

	wake chan Reason

	mu         sync.Mutex
	online     bool
	lastReport syncer.Report
	lastDrive  time.Time
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates a new Daemon instance.
//
// The daemon requires:
//   - e: the engine of this execution context
//   - p: usually the engine's remote, used for connectivity checks
//
// Use Start() to begin.
func New(e *engine.Engine, p Pinger) (*Daemon, error) {
	return NewWithConfig(e, p, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration. Zero fields take
// their defaults.
func NewWithConfig(e *engine.Engine, p Pinger, config *Config) (*Daemon, error) {
	if e == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if p == nil {
		return nil, fmt.Errorf("pinger cannot be nil")
	}
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = defaults.PingTimeout
	}
	if config.PurgeInterval <= 0 {
		config.PurgeInterval = defaults.PurgeInterval
	}
	if config.PurgeTTL <= 0 {
		config.PurgeTTL = defaults.PurgeTTL
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Daemon{
		engine: e,
		pinger: p,
		config: config,
		wake:   make(chan Reason, 1),
	}, nil
}

// Start runs the daemon. It pings the remote once, drives if it is
// reachable, and then serves wake sources until ctx is cancelled or Stop is
// called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	d.running = true
	d.cancel = cancel
	d.done = make(chan struct{})
	done := d.done
	d.mu.Unlock()

	defer func() {
		cancel()
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		close(done)
	}()

	d.config.Logger.Println("Starting daemon")
	d.checkRemote(ctx)
	d.request(ReasonStartup)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.driveLoop(gctx) })
	g.Go(func() error { return d.pingLoop(gctx) })
	g.Go(func() error { return d.purgeLoop(gctx) })

	err := g.Wait()
	d.config.Logger.Println("Daemon stopped")
	return err
}

// Stop gracefully shuts down the daemon and waits for Start to return.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.mu.Unlock()
	if cancel == nil {
		return nil
	}

	d.config.Logger.Println("Stopping daemon")
	cancel()
	<-done
	return nil
}

// IsRunning reports whether Start is active.
func (d *Daemon) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Trigger requests a drive now, even when the remote looks unreachable.
func (d *Daemon) Trigger() {
	d.request(ReasonManual)
}

// NotifyVisible tells the daemon the application came back to the
// foreground.
func (d *Daemon) NotifyVisible() {
	d.request(ReasonVisible)
}

// Online reports the result of the last connectivity check.
func (d *Daemon) Online() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.online
}

// LastReport returns the report of the most recent completed drive and when
// it finished.
func (d *Daemon) LastReport() (syncer.Report, time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastReport, d.lastDrive
}

// request queues a wake-up without blocking. A manual reason replaces a
// queued one so that it is not skipped while offline.
func (d *Daemon) request(reason Reason) {
	select {
	case d.wake <- reason:
		return
	default:
	}
	if reason != ReasonManual {
		return
	}
	select {
	case <-d.wake:
	default:
	}
	select {
	case d.wake <- reason:
	default:
	}
}

// driveLoop is the only goroutine that drives.
func (d *Daemon) driveLoop(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		var reason Reason
		select {
		case <-ctx.Done():
			return nil
		case reason = <-d.wake:
		case <-d.engine.Requests():
			reason = ReasonQueueChanged
		case <-timer.C:
			reason = ReasonRetry
		}

		if reason != ReasonManual && !d.Online() {
			d.config.Logger.Printf("Skipping drive (%s): remote unreachable", reason)
			continue
		}

		report, err := d.engine.Drive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.config.Logger.Printf("Drive (%s) failed: %v", reason, err)
			continue
		}
		if report.Coalesced {
			continue
		}

		d.mu.Lock()
		d.lastReport = report
		d.lastDrive = time.Now()
		d.mu.Unlock()

		if report.Synced > 0 || report.Failed > 0 || report.Conflicts > 0 {
			d.config.Logger.Printf("Drive (%s): %d synced, %d failed, %d conflicts, %d remaining",
				reason, report.Synced, report.Failed, report.Conflicts, report.Remaining)
		}

		if report.NextRetry != nil {
			wait := time.Until(*report.NextRetry)
			if wait < 0 {
				wait = 0
			}
			timer.Reset(wait)
		}
	}
}

// pingLoop periodically pings the remote.
func (d *Daemon) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.checkRemote(ctx)
		}
	}
}

// checkRemote pings once and requests a drive on a down to up transition.
func (d *Daemon) checkRemote(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, d.config.PingTimeout)
	err := d.pinger.Ping(pctx)
	cancel()
	if ctx.Err() != nil {
		return
	}

	up := err == nil
	d.mu.Lock()
	was := d.online
	d.online = up
	d.mu.Unlock()

	switch {
	case up && !was:
		d.config.Logger.Println("Remote reachable")
		d.request(ReasonConnectivity)
	case !up && was:
		d.config.Logger.Printf("Remote unreachable: %v", err)
	}
}

// purgeLoop periodically deletes expired records and requeues claims left
// behind by contexts that died mid dispatch.
func (d *Daemon) purgeLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.config.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := d.engine.Store().PurgeExpired(ctx, d.config.PurgeTTL)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				d.config.Logger.Printf("Error purging expired mutations: %v", err)
				continue
			}
			if res.Records > 0 || res.Orphaned > 0 {
				d.config.Logger.Printf("Purged %d expired mutations (%d dependents failed)", res.Records, res.Orphaned)
			}

			recovered, err := d.engine.Recover(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				d.config.Logger.Printf("Error recovering in-flight mutations: %v", err)
				continue
			}
			if res.Orphaned > 0 || recovered > 0 {
				d.request(ReasonQueueChanged)
			}
		}
	}
}
