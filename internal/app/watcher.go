package app

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultWatchDebounce     = 100 * time.Millisecond
	defaultWatchPollInterval = 2 * time.Second
)

// ChangeSink receives the change notifications of a Watcher. Implemented by FleetService.
type ChangeSink interface {
	NotifyChanged(agentID string)
	NotifyRemoved(agentID string)
	Resync() error
}

// Watcher observes the state directory for writes made by other processes
// and forwards them to a ChangeSink. Rapid writes to the same file are
// coalesced over the debounce window. A periodic resync covers missed
// events, and is the only source when fsnotify cannot be initialized.
type Watcher struct {
	dir          string
	sink         ChangeSink
	resolve      func(path string) (agentID string, ok bool)
	signalPath   string
	logger       *log.Logger
	debounce     time.Duration
	pollInterval time.Duration

	mu         sync.Mutex
	pending    map[string]*time.Timer
	lastRev    string
	watcher    *fsnotify.Watcher
	useNotify  bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	stopOnce   sync.Once
	resyncLock sync.Mutex
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the per-file coalescing window (default 100ms).
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithPollInterval sets the resync interval (default 2s).
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.pollInterval = d }
}

// WithPathResolver maps a changed record file to its agent id. Without one,
// every file event triggers a full resync.
func WithPathResolver(fn func(path string) (string, bool)) WatcherOption {
	return func(w *Watcher) { w.resolve = fn }
}

// WithSignalFile makes the watcher resync whenever the revision in the given
// signal file changes. The file must live in the watched directory.
func WithSignalFile(path string) WatcherOption {
	return func(w *Watcher) { w.signalPath = path }
}

// NewWatcher creates a watcher over dir.
func NewWatcher(dir string, sink ChangeSink, logger *log.Logger, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:          dir,
		sink:         sink,
		logger:       logger,
		debounce:     defaultWatchDebounce,
		pollInterval: defaultWatchPollInterval,
		pending:      make(map[string]*time.Timer),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	if w.signalPath != "" {
		w.lastRev = readSignalRevision(w.signalPath)
	}
	return w
}

// Start starts the fsnotify watch and the resync loop. Returns when ctx is
// cancelled or Stop is called. If fsnotify fails to initialize, falls back
// to resync-only.
func (w *Watcher) Start(ctx context.Context) {
	defer close(w.doneCh)

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		w.logger.Printf("Watcher: create %s failed (%v), using poll-only", w.dir, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Printf("Watcher: fsnotify init failed (%v), using poll-only", err)
	} else if err := watcher.Add(w.dir); err != nil {
		w.logger.Printf("Watcher: fsnotify add %s failed (%v), using poll-only", w.dir, err)
		_ = watcher.Close()
	} else {
		w.watcher = watcher
		w.useNotify = true
	}

	if w.useNotify {
		defer w.watcher.Close()
		go w.watchLoop(ctx)
	}
	w.logger.Printf("Watcher: started (dir=%s, fsnotify=%v, debounce=%s, poll=%s)",
		w.dir, w.useNotify, w.debounce, w.pollInterval)

	w.pollLoop(ctx)
	w.cancelPending()
}

// Stop signals the watcher to stop and waits for it to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

// CheckOnce runs one resync cycle (for testing or manual trigger).
func (w *Watcher) CheckOnce() {
	w.resync()
}

func (w *Watcher) watchLoop(ctx context.Context) {
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
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("Watcher: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if w.signalPath != "" && filepath.Clean(event.Name) == filepath.Clean(w.signalPath) {
		w.schedule(w.signalPath, w.checkSignal)
		return
	}
	if !isRecordFile(event.Name) {
		return
	}
	path := event.Name
	w.schedule(path, func() { w.fire(path) })
}

// isRecordFile accepts agent record files and rejects temp and hidden files.
func isRecordFile(path string) bool {
	name := filepath.Base(path)
	return strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".")
}

// schedule runs fn once no event for key arrived within the debounce window.
func (w *Watcher) schedule(key string, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[key]; ok {
		t.Stop()
	}
	w.pending[key] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, key)
		w.mu.Unlock()
		fn()
	})
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, t := range w.pending {
		t.Stop()
		delete(w.pending, key)
	}
}

func (w *Watcher) fire(path string) {
	if w.resolve == nil {
		w.resync()
		return
	}
	id, ok := w.resolve(path)
	if !ok {
		w.resync()
		return
	}
	w.sink.NotifyChanged(id)
}

func (w *Watcher) checkSignal() {
	rev := readSignalRevision(w.signalPath)
	w.mu.Lock()
	if rev == "" || rev == w.lastRev {
		w.mu.Unlock()
		return
	}
	w.lastRev = rev
	w.mu.Unlock()
	w.resync()
}

func (w *Watcher) resync() {
	w.resyncLock.Lock()
	defer w.resyncLock.Unlock()
	if err := w.sink.Resync(); err != nil {
		w.logger.Printf("Watcher: resync failed: %v", err)
	}
}

func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.resync()
		}
	}
}
