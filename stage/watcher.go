package stage

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is used when a Watcher is created with a non-positive delay.
const DefaultDebounce = 500 * time.Millisecond

// fileState is what change detection compares.
type fileState struct {
	size    int64
	modTime time.Time
}

// Watcher watches stage directories and reports batches of changed fragments.
// Changes within one debounce window are coalesced into a single batch.
type Watcher struct {
	dirs     []string
	debounce time.Duration
	opts     Options
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]struct{}

	stateMu sync.Mutex
	state   map[string]fileState

	changes chan []string

	droppedBatches atomic.Int64
}

// NewWatcher creates a watcher over dirs. Only files with one of the
// extensions in opts are reported.
func NewWatcher(dirs []string, debounce time.Duration, opts Options, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		dirs:     dirs,
		debounce: debounce,
		opts:     opts.withDefaults(),
		watcher:  fsw,
		logger:   logger,
		pending:  make(map[string]struct{}),
		state:    make(map[string]fileState),
		changes:  make(chan []string, 1),
	}, nil
}

// Changes returns the channel of changed-path batches. It is closed when the
// watcher stops.
func (w *Watcher) Changes() <-chan []string {
	return w.changes
}

// Seed records the current state of paths so that they only count as
// changed once they differ from it.
func (w *Watcher) Seed(paths []string) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	for _, p := range paths {
		if st, ok := statFile(p); ok {
			w.state[p] = st
		}
	}
}

// Start adds the directory watches and begins processing events.
func (w *Watcher) Start(ctx context.Context) error {
	added := 0
	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			w.logger.Warn("Failed to watch directory", "path", dir, "error", err)
			continue
		}
		added++
		w.logger.Debug("Watching directory", "path", dir)
	}
	if added == 0 {
		return errors.New("no watchable stage directories")
	}

	go w.processEvents(ctx)

	w.logger.Info("Stage watcher started", "dirs", len(w.dirs), "debounce", w.debounce)
	return nil
}

// Stop stops the watcher.
// The changes channel is closed by processEvents when it exits.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// DroppedBatches returns how many batches were coalesced into an already
// queued one.
func (w *Watcher) DroppedBatches() int64 {
	return w.droppedBatches.Load()
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.changes)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flushPending()
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name
	if strings.HasSuffix(path, MetaSuffix) || !w.opts.hasExtension(filepath.Base(path)) {
		return
	}
	w.pendingMu.Lock()
	w.pending[path] = struct{}{}
	w.pendingMu.Unlock()

	w.logger.Debug("Fragment change detected", "path", path, "op", event.Op.String())
}

// flushPending compares pending paths with their last known state and sends
// the ones that really changed as one batch.
func (w *Watcher) flushPending() {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	toCheck := w.pending
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	var changed []string
	w.stateMu.Lock()
	for path := range toCheck {
		old, known := w.state[path]
		cur, exists := statFile(path)
		switch {
		case !exists && known:
			delete(w.state, path)
			changed = append(changed, path)
		case exists && (!known || cur != old):
			w.state[path] = cur
			changed = append(changed, path)
		}
	}
	w.stateMu.Unlock()

	if len(changed) == 0 {
		return
	}
	sort.Strings(changed)

	select {
	case w.changes <- changed:
		w.logger.Debug("Sent change batch", "paths", len(changed))
	default:
		dropped := w.droppedBatches.Add(1)
		w.logger.Debug("Change batch coalesced into queued run", "paths", len(changed), "total_dropped", dropped)
	}
}

func statFile(path string) (fileState, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return fileState{}, false
	}
	return fileState{size: info.Size(), modTime: info.ModTime()}, true
}
