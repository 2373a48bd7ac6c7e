package store

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is how long the watcher waits for a burst of events to settle.
const DefaultWatchDebounce = 200 * time.Millisecond

// Watcher reports changed document ids under a local directory tree. Events
// are debounced and delivered as one sorted batch.
type Watcher struct {
	root     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func(ids []string)
	logger   *slog.Logger
	wg       sync.WaitGroup

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	closed  bool
}

// NewWatcher creates a watcher for root. onChange is called from a timer
// goroutine and must not block for long.
func NewWatcher(root string, debounce time.Duration, onChange func(ids []string), logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		root:     root,
		watcher:  w,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		pending:  make(map[string]struct{}),
	}, nil
}

// Start adds watches for every directory under root and begins processing events.
func (w *Watcher) Start() error {
	if err := w.addWatches(w.root); err != nil {
		return fmt.Errorf("failed to add watches starting from %s: %w", w.root, err)
	}
	w.wg.Add(1)
	go w.processEvents()
	w.logger.Info("Watching vault for changes", "root", w.root)
	return nil
}

// Close stops watching and discards pending events.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) addWatches(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && ignoredDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			w.logger.Warn("Failed to add watch", "path", p, "error", err)
		}
		return nil
	})
}

func ignoredDir(name string) bool {
	return name == ".git" || name == "node_modules"
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	id := filepath.ToSlash(rel)
	for seg := range strings.SplitSeq(id, "/") {
		if ignoredDir(seg) {
			return
		}
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addWatches(event.Name); err != nil {
				w.logger.Warn("Failed to watch new directory", "path", event.Name, "error", err)
			}
			return
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending[id] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if w.closed || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(w.pending))
	for id := range w.pending {
		ids = append(ids, id)
	}
	w.pending = make(map[string]struct{})
	w.timer = nil
	w.mu.Unlock()

	slices.Sort(ids)
	w.logger.Debug("Vault changed", "documents", len(ids))
	if w.onChange != nil {
		w.onChange(ids)
	}
}
