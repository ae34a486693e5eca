package notify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()
	var got []string
	cancel := hub.Subscribe(func(s Signal) { got = append(got, s.Origin) })

	if err := hub.Publish(context.Background(), "ctx-a"); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	cancel()
	hub.Publish(context.Background(), "ctx-b")

	if len(got) != 1 || got[0] != "ctx-a" {
		t.Errorf("got %v, want [ctx-a]", got)
	}

	hub.Close()
	hub.Subscribe(func(Signal) { t.Error("closed hub delivered a signal") })
	hub.Publish(context.Background(), "ctx-c")
}

func TestFileNotifier_CrossInstance(t *testing.T) {
	dir := SignalDir(filepath.Join(t.TempDir(), "queue.db"))

	a, err := NewFileNotifier(dir, nil)
	if err != nil {
		t.Fatalf("NewFileNotifier() failed: %v", err)
	}
	defer a.Close()
	b, err := NewFileNotifier(dir, nil)
	if err != nil {
		t.Fatalf("NewFileNotifier() failed: %v", err)
	}
	defer b.Close()

	received := make(chan Signal, 10)
	b.Subscribe(func(s Signal) { received <- s })

	if err := a.Publish(context.Background(), "tab-1"); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	select {
	case sig := <-received:
		if sig.Origin != "tab-1" {
			t.Errorf("Origin = %q, want tab-1", sig.Origin)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal")
	}
}

func TestFileNotifier_Close(t *testing.T) {
	fn, err := NewFileNotifier(filepath.Join(t.TempDir(), "signals"), nil)
	if err != nil {
		t.Fatalf("NewFileNotifier() failed: %v", err)
	}
	if !fn.IsRunning() {
		t.Error("notifier should be running")
	}
	if err := fn.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := fn.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}

	var n atomic.Int32
	fn.Subscribe(func(Signal) { n.Add(1) })
	if err := fn.Publish(context.Background(), "x"); err != nil {
		t.Errorf("Publish() after Close() = %v, want nil", err)
	}
	if n.Load() != 0 {
		t.Error("closed notifier delivered a signal")
	}
}

func TestFileNotifier_RemovesOwnSignalsOnClose(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "signals")
	a, err := NewFileNotifier(dir, nil)
	if err != nil {
		t.Fatalf("NewFileNotifier() failed: %v", err)
	}
	b, err := NewFileNotifier(dir, nil)
	if err != nil {
		t.Fatalf("NewFileNotifier() failed: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	if err := a.Publish(ctx, "cli-1"); err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(ctx, "daemon"); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "cli-1.signal")); !os.IsNotExist(err) {
		t.Errorf("cli-1.signal still present after Close (stat err %v)", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "daemon.signal")); err != nil {
		t.Errorf("another notifier's signal file was removed: %v", err)
	}
}

func TestPruneSignals(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-48 * time.Hour)
	for _, name := range []string{"dead.signal", "alive.signal", "queue.db"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range []string{"dead.signal", "queue.db"} {
		if err := os.Chtimes(filepath.Join(dir, name), old, old); err != nil {
			t.Fatal(err)
		}
	}

	if n := pruneSignals(dir, time.Now().Add(-staleSignalAge)); n != 1 {
		t.Errorf("pruneSignals() = %d, want 1", n)
	}
	entries, _ := os.ReadDir(dir)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if strings.Join(names, ",") != "alive.signal,queue.db" {
		t.Errorf("remaining files = %v", names)
	}
}

func TestFileNotifier_InvalidOrigin(t *testing.T) {
	fn, err := NewFileNotifier(filepath.Join(t.TempDir(), "signals"), nil)
	if err != nil {
		t.Fatalf("NewFileNotifier() failed: %v", err)
	}
	defer fn.Close()

	for _, origin := range []string{"", "a/b", `a\b`} {
		if err := fn.Publish(context.Background(), origin); err == nil {
			t.Errorf("Publish(%q) should fail", origin)
		}
	}
}

func TestConvertEvent(t *testing.T) {
	tests := []struct {
		name   string
		event  fsnotify.Event
		origin string
		ok     bool
	}{
		{"write", fsnotify.Event{Name: "/d/tab-1.signal", Op: fsnotify.Write}, "tab-1", true},
		{"create", fsnotify.Event{Name: "/d/daemon.signal", Op: fsnotify.Create}, "daemon", true},
		{"remove", fsnotify.Event{Name: "/d/tab-1.signal", Op: fsnotify.Remove}, "", false},
		{"chmod", fsnotify.Event{Name: "/d/tab-1.signal", Op: fsnotify.Chmod}, "", false},
		{"other file", fsnotify.Event{Name: "/d/notes.txt", Op: fsnotify.Write}, "", false},
		{"no origin", fsnotify.Event{Name: "/d/.signal", Op: fsnotify.Write}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, ok := convertEvent(tt.event)
			if ok != tt.ok || sig.Origin != tt.origin {
				t.Errorf("convertEvent() = (%q, %v), want (%q, %v)", sig.Origin, ok, tt.origin, tt.ok)
			}
		})
	}
}
