// Package watcher observes a workspace directory tree and publishes
// debounced file change events on the hub.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/steveyegge/wsmon/internal/events"
	"github.com/steveyegge/wsmon/internal/hub"
	"github.com/steveyegge/wsmon/internal/logging"
	"github.com/steveyegge/wsmon/internal/validate"
)

// ServiceName is the hub registration name of the watcher.
const ServiceName = "file-watcher"

// Config holds configuration for the watcher.
type Config struct {
	// Extensions is the allow-list of file extensions (".go", ".js").
	// An empty list accepts every extension.
	Extensions []string

	// IgnorePaths are substrings; any path whose part below its watched root
	// contains one is ignored.
	IgnorePaths []string

	// Debounce is how long a path must stay quiet before its change is emitted.
	Debounce time.Duration

	// MaxTracked bounds the set of recently changed paths kept for status.
	MaxTracked int

	// Editor is stamped on emitted events as the acting editor.
	Editor string

	// Logger for watcher activity.
	Logger logging.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Extensions:  []string{".go", ".js", ".ts", ".tsx", ".jsx", ".py", ".md", ".json", ".yaml", ".yml"},
		IgnorePaths: []string{".git", "node_modules", "dist", "build", "vendor", ".idea", ".vscode"},
		Debounce:    500 * time.Millisecond,
		MaxTracked:  1000,
		Editor:      defaultEditor(),
	}
}

// defaultEditor derives an editor id from $USER, or "local" when nothing
// valid remains.
func defaultEditor() string {
	if id := validate.NormalizeEditorID(os.Getenv("USER")); id != "" {
		return id
	}
	return "local"
}

type debounceKey struct {
	path string
	op   events.FileOp
}

type pendingChange struct {
	timer *time.Timer
	seq   uint64
	at    time.Time
}

// Watcher watches directory trees for changes. It is safe for concurrent use.
type Watcher struct {
	config Config
	logger logging.Logger
	exts   map[string]struct{}

	mu      sync.Mutex
	hub     *hub.Hub
	fsw     *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	roots   map[string]struct{}
	dirs    map[string]struct{}
	pending map[debounceKey]*pendingChange
	seq     uint64
	stopped bool

	tracked    map[string]struct{}
	trackOrder []string

	raw     atomic.Int64
	emitted atomic.Int64
	failed  atomic.Int64
}

// Status is a snapshot of watcher state.
type Status struct {
	Running     bool     `json:"running"`
	Roots       []string `json:"roots"`
	WatchedDirs int      `json:"watched_dirs"`
	Pending     int      `json:"pending"`
	Tracked     int      `json:"tracked"`
	Recent      []string `json:"recent,omitempty"`
	RawEvents   int64    `json:"raw_events"`
	Emitted     int64    `json:"emitted"`
	Failures    int64    `json:"failures"`
}

// New creates a watcher. No OS resources are held until Watch is called.
func New(config Config) (*Watcher, error) {
	defaults := DefaultConfig()
	if config.Debounce <= 0 {
		config.Debounce = defaults.Debounce
	}
	if config.MaxTracked <= 0 {
		config.MaxTracked = defaults.MaxTracked
	}
	if config.Editor == "" {
		config.Editor = defaults.Editor
	}

	exts := make(map[string]struct{}, len(config.Extensions))
	for _, ext := range config.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return nil, fmt.Errorf("extension %q must start with '.'", ext)
		}
		exts[strings.ToLower(ext)] = struct{}{}
	}

	return &Watcher{
		config:  config,
		logger:  logging.OrDefault(config.Logger, "watcher"),
		exts:    exts,
		roots:   make(map[string]struct{}),
		dirs:    make(map[string]struct{}),
		pending: make(map[debounceKey]*pendingChange),
		tracked: make(map[string]struct{}),
	}, nil
}

// Name implements hub.Service.
func (w *Watcher) Name() string { return ServiceName }

// Attach implements hub.Service.
func (w *Watcher) Attach(h *hub.Hub) {
	w.mu.Lock()
	w.hub = h
	w.mu.Unlock()
}

// Shutdown implements hub.Shutdowner.
func (w *Watcher) Shutdown(ctx context.Context) error {
	return w.StopAll()
}

// ShouldWatch reports whether changes to path are of interest.
func (w *Watcher) ShouldWatch(path string) bool {
	if w.ignored(path) {
		return false
	}
	if len(w.exts) == 0 {
		return true
	}
	_, ok := w.exts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// ignored matches IgnorePaths against path relative to the longest watched
// root containing it, so directories above the root never cause a match.
// Paths outside every root are matched whole.
func (w *Watcher) ignored(path string) bool {
	rel := w.relative(path)
	for _, ignore := range w.config.IgnorePaths {
		if ignore != "" && strings.Contains(rel, ignore) {
			return true
		}
	}
	return false
}

func (w *Watcher) relative(path string) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	best := ""
	for root := range w.roots {
		if len(root) <= len(best) {
			continue
		}
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			best = root
		}
	}
	if best == "" {
		return path
	}
	rel, err := filepath.Rel(best, path)
	if err != nil {
		return path
	}
	return rel
}

// Watch begins recursive observation of dir. A failure to watch dir itself
// is reported as an error event and returned as a *WatchFailureError; other
// active watches are unaffected. Failures on subdirectories are reported
// but do not fail the call.
func (w *Watcher) Watch(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return w.watchFailed(dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return w.watchFailed(abs, err)
	}
	if !info.IsDir() {
		return w.watchFailed(abs, fmt.Errorf("not a directory"))
	}

	if err := w.ensureStarted(); err != nil {
		return w.watchFailed(abs, err)
	}

	w.mu.Lock()
	_, existing := w.roots[abs]
	w.roots[abs] = struct{}{}
	w.mu.Unlock()

	if err := w.addTree(abs); err != nil {
		if !existing {
			w.mu.Lock()
			delete(w.roots, abs)
			w.mu.Unlock()
		}
		return w.watchFailed(abs, err)
	}

	w.mu.Lock()
	count := len(w.dirs)
	w.mu.Unlock()

	w.logger.Info("watching directory", "path", abs, "dirs", count)
	return nil
}

// ensureStarted creates the fsnotify watcher and its event loop on first use.
func (w *Watcher) ensureStarted() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fsw != nil {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w.fsw = fsw
	w.done = make(chan struct{})
	w.stopped = false

	w.wg.Add(1)
	go w.processEvents(fsw, w.done)
	return nil
}

// addTree adds root and every non-ignored subdirectory. Only a failure on
// root itself is returned.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			w.reportFailure(path, err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.addDir(path); err != nil {
			if errors.Is(err, ErrNotRunning) {
				return filepath.SkipAll
			}
			if path == root {
				return err
			}
			w.reportFailure(path, err)
			return filepath.SkipDir
		}
		return nil
	})
}

func (w *Watcher) addDir(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fsw == nil {
		return ErrNotRunning
	}
	if _, ok := w.dirs[dir]; ok {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = struct{}{}
	return nil
}

// Unwatch stops watching path and everything beneath it, cancelling pending
// debounce timers for files under it. Unknown paths are ignored.
func (w *Watcher) Unwatch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	prefix := abs + string(filepath.Separator)
	under := func(p string) bool { return p == abs || strings.HasPrefix(p, prefix) }

	for dir := range w.dirs {
		if under(dir) {
			if w.fsw != nil {
				_ = w.fsw.Remove(dir)
			}
			delete(w.dirs, dir)
		}
	}
	delete(w.roots, abs)
	for key, pc := range w.pending {
		if under(key.path) {
			pc.timer.Stop()
			delete(w.pending, key)
		}
	}
	return nil
}

// StopAll releases every OS watch handle and cancels all pending debounce
// timers. Notifications are refused until the next Watch. It is safe to call
// repeatedly and before any Watch.
func (w *Watcher) StopAll() error {
	w.mu.Lock()
	w.stopped = true
	fsw := w.fsw
	done := w.done
	w.fsw = nil
	w.done = nil
	for key, pc := range w.pending {
		pc.timer.Stop()
		delete(w.pending, key)
	}
	w.dirs = make(map[string]struct{})
	w.roots = make(map[string]struct{})
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}

	close(done)
	err := fsw.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.logger.Debug("watcher stopped")
	return nil
}

// processEvents converts fsnotify events into debounced notifications.
func (w *Watcher) processEvents(fsw *fsnotify.Watcher, done chan struct{}) {
	defer w.wg.Done()

	for {
		select {
		case <-done:
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
			w.emit(events.Error, events.ErrorEvent{
				Type:    events.ErrorWatcher,
				Source:  ServiceName,
				Message: err.Error(),
				At:      time.Now(),
			})
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Newly created directories join the watch set.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.ignored(event.Name) {
				if err := w.addTree(event.Name); err != nil {
					w.reportFailure(event.Name, err)
				}
			}
			return
		}
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.mu.Lock()
		_, wasDir := w.dirs[event.Name]
		delete(w.dirs, event.Name)
		w.mu.Unlock()
		if wasDir {
			return
		}
	}

	op, ok := convertOp(event)
	if !ok {
		return
	}
	w.Notify(event.Name, op)
}

// convertOp maps an fsnotify operation onto a FileOp. Chmod is ignored.
func convertOp(event fsnotify.Event) (events.FileOp, bool) {
	switch {
	case event.Has(fsnotify.Create):
		return events.OpCreate, true
	case event.Has(fsnotify.Write):
		return events.OpModify, true
	case event.Has(fsnotify.Remove):
		return events.OpDelete, true
	case event.Has(fsnotify.Rename):
		return events.OpRename, true
	default:
		return "", false
	}
}

// Notify records a raw change notification for path. The change is emitted
// as a file:changed event once no further notification for the same path
// and op arrives within the debounce interval. Returns false when the path
// is filtered out or the watcher has been stopped.
func (w *Watcher) Notify(path string, op events.FileOp) bool {
	if !w.ShouldWatch(path) {
		return false
	}

	key := debounceKey{path: path, op: op}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return false
	}
	w.raw.Add(1)

	if pc, ok := w.pending[key]; ok {
		pc.timer.Stop()
	}
	w.seq++
	seq := w.seq
	w.pending[key] = &pendingChange{
		seq: seq,
		at:  time.Now(),
		timer: time.AfterFunc(w.config.Debounce, func() {
			w.fire(key, seq)
		}),
	}
	return true
}

// fire emits the change for key if seq is still the latest arming.
func (w *Watcher) fire(key debounceKey, seq uint64) {
	w.mu.Lock()
	pc, ok := w.pending[key]
	if !ok || pc.seq != seq {
		w.mu.Unlock()
		return
	}
	delete(w.pending, key)
	w.track(key.path)
	h := w.hub
	w.mu.Unlock()

	w.emitted.Add(1)
	change := events.FileChange{
		Path:      key.path,
		Op:        key.op,
		Editor:    w.config.Editor,
		Timestamp: pc.at,
		Extension: filepath.Ext(key.path),
	}
	w.logger.Debug("file changed", "path", key.path, "op", key.op)
	if h != nil {
		h.Emit(events.FileChanged, change)
	}
}

// track records path in the bounded FIFO set. Caller holds w.mu.
func (w *Watcher) track(path string) {
	if _, ok := w.tracked[path]; ok {
		return
	}
	w.tracked[path] = struct{}{}
	w.trackOrder = append(w.trackOrder, path)
	for len(w.trackOrder) > w.config.MaxTracked {
		oldest := w.trackOrder[0]
		w.trackOrder = w.trackOrder[1:]
		delete(w.tracked, oldest)
	}
}

// Tracked returns recently changed paths, oldest first.
func (w *Watcher) Tracked() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.trackOrder))
	copy(out, w.trackOrder)
	return out
}

// IsRunning returns true if any OS watch is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fsw != nil
}

// Status returns a snapshot of watcher state.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	roots := make([]string, 0, len(w.roots))
	for r := range w.roots {
		roots = append(roots, r)
	}
	recent := w.trackOrder
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}

	return Status{
		Running:     w.fsw != nil,
		Roots:       roots,
		WatchedDirs: len(w.dirs),
		Pending:     len(w.pending),
		Tracked:     len(w.tracked),
		Recent:      append([]string(nil), recent...),
		RawEvents:   w.raw.Load(),
		Emitted:     w.emitted.Load(),
		Failures:    w.failed.Load(),
	}
}

func (w *Watcher) watchFailed(path string, err error) error {
	w.reportFailure(path, err)
	return &WatchFailureError{Path: path, Err: err}
}

func (w *Watcher) reportFailure(path string, err error) {
	w.failed.Add(1)
	w.logger.Warn("watch failed", "path", path, "error", err)
	w.emit(events.Error, events.ErrorEvent{
		Type:    events.ErrorWatchFailed,
		Source:  ServiceName,
		Path:    path,
		Message: err.Error(),
		At:      time.Now(),
	})
}

func (w *Watcher) emit(event string, payload any) {
	w.mu.Lock()
	h := w.hub
	w.mu.Unlock()
	if h != nil {
		h.Emit(event, payload)
	}
}
