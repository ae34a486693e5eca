package notify

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const signalExt = ".signal"

// staleSignalAge is how old a signal file left behind by a crashed process
// must be before a new notifier removes it.
const staleSignalAge = 24 * time.Hour

// SignalDir returns the directory used to exchange signals for the queue
// database at dbPath.
func SignalDir(dbPath string) string {
	return dbPath + ".signals"
}

// FileNotifier exchanges signals between processes through a directory next
// to the queue database. Each publisher rewrites its own <origin>.signal file;
// every FileNotifier watching the directory turns the write into a Signal.
// Close removes the files this notifier wrote.
type FileNotifier struct {
	dir       string
	watcher   *fsnotify.Watcher
	subs      subscribers
	done      chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
	published map[string]bool
	logger    *log.Logger
}

// NewFileNotifier starts watching dir, creating it if needed. A nil logger
// logs to stderr.
func NewFileNotifier(dir string, logger *log.Logger) (*FileNotifier, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create signal directory: %w", err)
	}
	if n := pruneSignals(dir, time.Now().Add(-staleSignalAge)); n > 0 {
		logger.Printf("Removed %d stale signal files", n)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch signal directory %s: %w", dir, err)
	}

	fn := &FileNotifier{
		dir:       dir,
		watcher:   watcher,
		done:      make(chan struct{}),
		running:   true,
		published: make(map[string]bool),
		logger:    logger,
	}
	fn.wg.Add(1)
	go fn.processEvents()
	return fn, nil
}

// Dir returns the watched directory.
func (fn *FileNotifier) Dir() string {
	return fn.dir
}

// Publish implements Notifier.
func (fn *FileNotifier) Publish(ctx context.Context, origin string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !fn.IsRunning() {
		return nil
	}
	if origin == "" || strings.ContainsAny(origin, `/\`) {
		return fmt.Errorf("invalid origin %q", origin)
	}

	fn.mu.Lock()
	fn.published[origin] = true
	fn.mu.Unlock()

	path := filepath.Join(fn.dir, origin+signalExt)
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := os.WriteFile(path, []byte(stamp+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write signal file: %w", err)
	}
	return nil
}

// Subscribe implements Notifier.
func (fn *FileNotifier) Subscribe(f func(Signal)) func() {
	return fn.subs.add(f)
}

// Close stops watching and waits for the event loop to exit.
func (fn *FileNotifier) Close() error {
	fn.mu.Lock()
	if !fn.running {
		fn.mu.Unlock()
		return nil
	}
	fn.running = false
	origins := make([]string, 0, len(fn.published))
	for origin := range fn.published {
		origins = append(origins, origin)
	}
	fn.mu.Unlock()

	close(fn.done)
	werr := fn.watcher.Close()
	fn.wg.Wait()

	for _, origin := range origins {
		path := filepath.Join(fn.dir, origin+signalExt)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			fn.logger.Printf("Warning: failed to remove %s: %v", path, err)
		}
	}
	if werr != nil {
		return fmt.Errorf("failed to close watcher: %w", werr)
	}
	return nil
}

// IsRunning returns true until Close is called.
func (fn *FileNotifier) IsRunning() bool {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	return fn.running
}

func (fn *FileNotifier) processEvents() {
	defer fn.wg.Done()

	for {
		select {
		case <-fn.done:
			return

		case event, ok := <-fn.watcher.Events:
			if !ok {
				return
			}
			if sig, ok := convertEvent(event); ok {
				fn.subs.deliver(sig)
			}

		case err, ok := <-fn.watcher.Errors:
			if !ok {
				return
			}
			fn.logger.Printf("Watcher error: %v", err)
		}
	}
}

// pruneSignals removes signal files last written before cutoff and returns
// how many it removed.
func pruneSignals(dir string, cutoff time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var n int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), signalExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(dir, entry.Name())) == nil {
			n++
		}
	}
	return n
}

// convertEvent turns a write to <origin>.signal into a Signal. Removals,
// renames and chmods are ignored.
func convertEvent(event fsnotify.Event) (Signal, bool) {
	name := filepath.Base(event.Name)
	if !strings.HasSuffix(name, signalExt) {
		return Signal{}, false
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return Signal{}, false
	}
	origin := strings.TrimSuffix(name, signalExt)
	if origin == "" {
		return Signal{}, false
	}
	return Signal{Origin: origin, At: time.Now().UTC()}, true
}

var _ Notifier = (*FileNotifier)(nil)
