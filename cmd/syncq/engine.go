package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/invtrack/syncq/internal/conflict"
	"github.com/invtrack/syncq/internal/engine"
	"github.com/invtrack/syncq/internal/notify"
	"github.com/invtrack/syncq/internal/queue"
	"github.com/invtrack/syncq/internal/remote"
	"github.com/invtrack/syncq/internal/syncer"
	"github.com/invtrack/syncq/internal/ui"
)

// session is one CLI process's view of the queue.
type session struct {
	engine   *engine.Engine
	remote   remote.Remote
	notifier *notify.FileNotifier
}

// openSession opens the queue with the configured remote. Other processes
// sharing the queue (a running daemon) are signalled through the file
// notifier next to the database.
func openSession(ctx context.Context) (*session, error) {
	rem, err := newRemote()
	if err != nil {
		return nil, err
	}

	fn, err := notify.NewFileNotifier(notify.SignalDir(cfg.DB.Path), sink.Logger("notify"))
	if err != nil {
		return nil, err
	}

	e, err := engine.Open(ctx, cfg.DB.Path, rem, &engine.Config{
		Notifier: fn,
		Detector: conflict.NewDetector(cfg.CriticalFields()),
		Syncer: &syncer.Config{
			MaxAttempts:    cfg.Sync.MaxAttempts,
			InitialBackoff: cfg.Sync.InitialBackoff,
			MaxBackoff:     cfg.Sync.MaxBackoff,
			Jitter:         cfg.Sync.Jitter,
			Logger:         sink.Logger("syncer"),
		},
		Logger: sink.Logger("engine"),
	})
	if err != nil {
		_ = fn.Close()
		return nil, err
	}
	return &session{engine: e, remote: rem, notifier: fn}, nil
}

func (s *session) Close() {
	_ = s.engine.Close()
	_ = s.notifier.Close()
}

// openStore opens the queue database alone, for commands that never talk to
// the server.
func openStore(ctx context.Context) (*queue.Store, error) {
	store, err := queue.Open(cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	if err := store.InitSchemaContext(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func newRemote() (remote.Remote, error) {
	if cfg.Remote.BaseURL == "" {
		fmt.Fprintf(os.Stderr, "%s remote.base_url is not set; using an in-process server\n", ui.RenderWarn("⚠"))
		return remote.NewMemory(), nil
	}
	return remote.NewHTTPClient(remote.HTTPConfig{
		BaseURL: cfg.Remote.BaseURL,
		Token:   cfg.Remote.Token,
		Timeout: cfg.Remote.Timeout,
	})
}

// fatal prints an error and exits, like the other commands.
func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal("failed to encode output: %v", err)
	}
}
