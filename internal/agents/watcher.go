package agents

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MonitoredExtensions are the file types the watcher tracks
var MonitoredExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".java": true, ".go": true, ".rs": true, ".c": true, ".cpp": true,
	".h": true, ".hpp": true, ".cs": true, ".php": true, ".rb": true,
	".swift": true, ".kt": true, ".scala": true, ".sql": true, ".sh": true,
	".bash": true, ".yaml": true, ".yml": true, ".json": true, ".xml": true,
	".html": true, ".css": true, ".scss": true, ".md": true, ".txt": true,
}

// IgnoredDirs are directory names the watcher never descends into
var IgnoredDirs = map[string]bool{
	".git": true, ".svn": true, ".hg": true, "node_modules": true,
	"__pycache__": true, ".venv": true, "venv": true, "env": true,
	"build": true, "dist": true, "target": true, ".idea": true,
	".vscode": true, "bin": true, "obj": true, ".pytest_cache": true,
	".mypy_cache": true, "coverage": true,
}

// ChangeFunc receives the sorted relative paths that changed in a project
type ChangeFunc func(ctx context.Context, projectID string, changed []string) error

// WatcherConfig tunes a FileWatcher
type WatcherConfig struct {
	Interval time.Duration // Time between scans, floor 5s
	Debounce time.Duration // Minimum gap between callbacks per project, floor 1s
}

// DefaultWatcherConfig returns the standard watcher settings
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Interval: DefaultWatchInterval,
		Debounce: DefaultWatchDebounce,
	}
}

// WatcherStatus is a snapshot of a FileWatcher
type WatcherStatus struct {
	Running         bool          `json:"running"`
	Interval        time.Duration `json:"interval"`
	Debounce        time.Duration `json:"debounce"`
	WatchedProjects int           `json:"watched_projects"`
	PendingChanges  int           `json:"pending_changes"`
}

type watchedProject struct {
	root     string
	sigs     map[string]string
	pending  map[string]struct{}
	lastFire time.Time
}

// FileWatcher detects file changes in project roots by periodic rescans
type FileWatcher struct {
	cfg    WatcherConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	projects map[string]*watchedProject
	onChange ChangeFunc
	loop     *loop
}

// WatchOption configures a FileWatcher
type WatchOption func(*FileWatcher)

// WithWatchLogger sets the watcher logger
func WithWatchLogger(l *slog.Logger) WatchOption {
	return func(w *FileWatcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithWatchClock replaces time.Now for debounce decisions
func WithWatchClock(now func() time.Time) WatchOption {
	return func(w *FileWatcher) {
		if now != nil {
			w.now = now
		}
	}
}

// NewFileWatcher creates a watcher. Interval and debounce are raised to
// their floors.
func NewFileWatcher(cfg WatcherConfig, opts ...WatchOption) *FileWatcher {
	cfg.Interval = clamp(cfg.Interval, MinWatchInterval, DefaultWatchInterval)
	cfg.Debounce = clamp(cfg.Debounce, MinWatchDebounce, DefaultWatchDebounce)
	w := &FileWatcher{
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
		projects: make(map[string]*watchedProject),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Config returns the effective settings
func (w *FileWatcher) Config() WatcherConfig {
	return w.cfg
}

// OnChange registers the change callback, replacing any previous one
func (w *FileWatcher) OnChange(fn ChangeFunc) {
	w.mu.Lock()
	w.onChange = fn
	w.mu.Unlock()
}

// AddProject starts watching root under id and records its initial state.
// Adding an id that is already watched is a no-op.
func (w *FileWatcher) AddProject(id, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	w.mu.Lock()
	if _, ok := w.projects[id]; ok {
		w.mu.Unlock()
		return nil
	}
	for other, p := range w.projects {
		if p.root == abs {
			w.mu.Unlock()
			return fmt.Errorf("%w: %s (project %s)", ErrAlreadyWatched, abs, other)
		}
	}
	w.mu.Unlock()

	sigs, err := scanSignatures(abs)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.projects[id]; ok {
		return nil
	}
	w.projects[id] = &watchedProject{
		root:    abs,
		sigs:    sigs,
		pending: make(map[string]struct{}),
	}
	w.logger.Info("watching project", "project", id, "path", abs, "files", len(sigs))
	return nil
}

// RemoveProject stops watching id and discards its state
func (w *FileWatcher) RemoveProject(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.projects[id]; !ok {
		return false
	}
	delete(w.projects, id)
	w.logger.Info("stopped watching project", "project", id)
	return true
}

// WatchedProjects returns the watched project ids, sorted
func (w *FileWatcher) WatchedProjects() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.projects))
	for id := range w.projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start launches the polling loop. Calling Start on a running watcher is a no-op.
func (w *FileWatcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.loop != nil {
		w.logger.Warn("file watcher already running")
		return
	}
	w.loop = startLoop(ctx, w.cfg.Interval, func(ctx context.Context) {
		w.CheckOnce(ctx)
	})
	w.logger.Info("file watcher started", "interval", w.cfg.Interval, "debounce", w.cfg.Debounce)
}

// Stop signals the loop and waits for it to exit
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	l := w.loop
	w.loop = nil
	w.mu.Unlock()
	if l == nil {
		return
	}
	if !l.stop(stopTimeout) {
		w.logger.Warn("file watcher did not stop in time", "timeout", stopTimeout)
		return
	}
	w.logger.Info("file watcher stopped")
}

// Status reports the watcher's state
func (w *FileWatcher) Status() WatcherStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	pending := 0
	for _, p := range w.projects {
		pending += len(p.pending)
	}
	return WatcherStatus{
		Running:         w.loop != nil,
		Interval:        w.cfg.Interval,
		Debounce:        w.cfg.Debounce,
		WatchedProjects: len(w.projects),
		PendingChanges:  pending,
	}
}

// Pending returns the sorted pending paths of a project
func (w *FileWatcher) Pending(id string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.projects[id]
	if !ok {
		return nil
	}
	return sortedKeys(p.pending)
}

// CheckOnce rescans every watched project and delivers due changes. It
// returns the number of callbacks made.
func (w *FileWatcher) CheckOnce(ctx context.Context) int {
	w.mu.Lock()
	roots := make(map[string]string, len(w.projects))
	for id, p := range w.projects {
		roots[id] = p.root
	}
	w.mu.Unlock()

	fired := 0
	for id, root := range roots {
		if ctx.Err() != nil {
			break
		}
		if w.checkProject(ctx, id, root) {
			fired++
		}
	}
	return fired
}

func (w *FileWatcher) checkProject(ctx context.Context, id, root string) bool {
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		w.logger.Warn("watched project root missing", "project", id, "path", root)
		return false
	}
	current, err := scanSignatures(root)
	if err != nil {
		w.logger.Error("failed to scan project", "project", id, "error", err)
		return false
	}

	w.mu.Lock()
	p, ok := w.projects[id]
	if !ok {
		w.mu.Unlock()
		return false
	}
	changed := diffSignatures(p.sigs, current)
	p.sigs = current
	for _, path := range changed {
		p.pending[path] = struct{}{}
	}
	if len(changed) > 0 {
		w.logger.Info("detected file changes", "project", id, "changed", len(changed), "pending", len(p.pending))
	}

	now := w.now()
	cb := w.onChange
	if cb == nil || len(p.pending) == 0 || (!p.lastFire.IsZero() && now.Sub(p.lastFire) < w.cfg.Debounce) {
		w.mu.Unlock()
		return false
	}
	batch := sortedKeys(p.pending)
	p.pending = make(map[string]struct{})
	p.lastFire = now
	w.mu.Unlock()

	w.deliver(ctx, cb, id, batch)
	return true
}

func (w *FileWatcher) deliver(ctx context.Context, cb ChangeFunc, id string, batch []string) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("change callback panicked", "project", id, "panic", r)
		}
	}()
	if err := cb(ctx, id, batch); err != nil {
		w.logger.Error("change callback failed", "project", id, "error", err)
	}
}

// scanSignatures maps each monitored file under root to "<mtime_ns>|<size>"
func scanSignatures(root string) (map[string]string, error) {
	sigs := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if path != root && IgnoredDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !MonitoredExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		sigs[filepath.ToSlash(rel)] = signature(info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return sigs, nil
}

func signature(info fs.FileInfo) string {
	return strconv.FormatInt(info.ModTime().UnixNano(), 10) + "|" + strconv.FormatInt(info.Size(), 10)
}

// diffSignatures returns the sorted paths added, modified or removed
func diffSignatures(old, current map[string]string) []string {
	var changed []string
	for path, sig := range current {
		if prev, ok := old[path]; !ok || prev != sig {
			changed = append(changed, path)
		}
	}
	for path := range old {
		if _, ok := current[path]; !ok {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
