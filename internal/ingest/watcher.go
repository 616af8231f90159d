package ingest

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// Debounce is how long to wait before processing changes. Rapid
	// edits to the same file collapse into one reingest.
	Debounce time.Duration
}

// DefaultWatcherConfig returns watcher defaults.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{Debounce: 500 * time.Millisecond}
}

// Watcher monitors the scan root and reingests files as they change.
type Watcher struct {
	config   WatcherConfig
	watcher  *fsnotify.Watcher
	scanner  *Scanner
	ingester *Ingester

	pendingMu sync.Mutex
	pending   map[string]struct{}

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher creates a Watcher over the scanner's root.
func NewWatcher(scanner *Scanner, ingester *Ingester, cfg WatcherConfig) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultWatcherConfig().Debounce
	}

	return &Watcher{
		config:   cfg,
		watcher:  fsWatcher,
		scanner:  scanner,
		ingester: ingester,
		pending:  make(map[string]struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. It returns after the watch list is set up;
// event processing runs in a goroutine until Stop or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.scanner.Root()); err != nil {
		return err
	}
	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to drain.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh
	return w.watcher.Close()
}

// addRecursive adds path and every non-ignored subdirectory.
func (w *Watcher) addRecursive(path string) error {
	return filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !info.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(w.scanner.Root(), p)
		if err != nil {
			relPath = p
		}
		if relPath != "." && w.scanner.ignore.MatchesPath(relPath) {
			return filepath.SkipDir
		}
		return w.watcher.Add(p)
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("ingest: watcher error: %v", err)

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		if event.Op&fsnotify.Create != 0 {
			if err := w.addRecursive(event.Name); err != nil {
				log.Printf("ingest: failed to watch new directory %s: %v", event.Name, err)
			}
		}
		return
	}

	if !w.scanner.Accepts(event.Name) {
		return
	}

	w.pendingMu.Lock()
	w.pending[event.Name] = struct{}{}
	w.pendingMu.Unlock()
}

// flushPending reingests every file that changed since the last tick.
func (w *Watcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	for _, p := range paths {
		if _, err := w.ingester.IngestFile(ctx, p); err != nil {
			log.Printf("ingest: reingest %s failed: %v", p, err)
		}
	}
}
