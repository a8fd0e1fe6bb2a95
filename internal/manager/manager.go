// Package manager owns the long-lived pieces of a codevec process: the
// project registry, one shared store (and writer queue) per project
// database, the embedder, and the two reconciliation agents.
//
// A Manager is an explicit object with Start and Stop rather than package
// state, so tests can run isolated instances side by side.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dshills/codevec/internal/agents"
	"github.com/dshills/codevec/internal/config"
	"github.com/dshills/codevec/internal/embedder"
	"github.com/dshills/codevec/internal/indexer"
	"github.com/dshills/codevec/internal/registry"
	"github.com/dshills/codevec/internal/searcher"
	"github.com/dshills/codevec/internal/storage"
	"github.com/dshills/codevec/pkg/types"
)

// ErrStopped is returned for work submitted after Stop
var ErrStopped = errors.New("manager stopped")

// Manager wires the registry, stores, indexer, searcher and agents together
type Manager struct {
	cfg    *config.Config
	logger *slog.Logger

	registry  *registry.Registry
	embedder  embedder.Embedder
	indexer   *indexer.Indexer
	searcher  *searcher.Searcher
	syncAgent *agents.IndexSyncAgent
	watcher   *agents.FileWatcher

	// background re-index runs
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	stores     map[string]*storage.Store
	reindexing map[string]bool // project id -> changes arrived during the run
	started    bool
	stopped    bool
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger handed to every component
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithEmbedder uses emb instead of building one from the configuration
func WithEmbedder(emb embedder.Embedder) Option {
	return func(m *Manager) {
		m.embedder = emb
	}
}

// New opens the registry under cfg.DataDir and builds every component. It
// fails with storage.ErrVectorExtension when vector search is unavailable.
func New(cfg *config.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:        cfg,
		logger:     slog.Default(),
		stores:     make(map[string]*storage.Store),
		reindexing: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}

	ctx := context.Background()
	reg, err := registry.Open(ctx, cfg.DataDir, m.logger)
	if err != nil {
		return nil, err
	}
	if err := reg.CheckVectorSupport(ctx); err != nil {
		_ = reg.Close()
		return nil, err
	}
	m.registry = reg

	if m.embedder == nil {
		emb, err := embedder.New(cfg.EmbedderConfig(m.logger))
		if err != nil {
			_ = reg.Close()
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
		m.embedder = emb
	}

	m.indexer = indexer.New(m.embedder, cfg.IndexerOptions(), indexer.WithLogger(m.logger))
	m.searcher = searcher.New(m.embedder, searcher.WithLogger(m.logger))
	m.syncAgent = agents.NewIndexSyncAgent(reg, cfg.Agents.SyncInterval, agents.WithSyncLogger(m.logger))
	m.watcher = agents.NewFileWatcher(cfg.WatcherConfig(), agents.WithWatchLogger(m.logger))
	m.watcher.OnChange(m.onChange)
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.logger.Debug("manager created", "data_dir", cfg.DataDir, "provider", m.embedder.Provider(), "build", storage.BuildMode)
	return m, nil
}

// Config returns the effective configuration
func (m *Manager) Config() *config.Config { return m.cfg }

// Registry returns the project registry
func (m *Manager) Registry() *registry.Registry { return m.registry }

// Indexer returns the shared indexer
func (m *Manager) Indexer() *indexer.Indexer { return m.indexer }

// Searcher returns the shared searcher
func (m *Manager) Searcher() *searcher.Searcher { return m.searcher }

// Embedder returns the embedder chosen at construction
func (m *Manager) Embedder() embedder.Embedder { return m.embedder }

// SyncAgent returns the status reconciliation agent
func (m *Manager) SyncAgent() *agents.IndexSyncAgent { return m.syncAgent }

// Watcher returns the file watcher
func (m *Manager) Watcher() *agents.FileWatcher { return m.watcher }

// Start watches every registered project and launches both agents
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	projects, err := m.registry.ListProjects(ctx)
	if err != nil {
		return err
	}
	for _, p := range projects {
		if err := m.watcher.AddProject(p.ID, p.Path); err != nil {
			m.logger.Warn("not watching project", "project", p.ID, "path", p.Path, "error", err)
		}
	}

	m.syncAgent.Start(ctx)
	m.watcher.Start(ctx)
	m.logger.Info("manager started", "projects", len(projects))
	return nil
}

// Stop halts the agents, waits for background re-index runs, stops every
// writer queue, and closes stores, registry and embedder.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.mu.Unlock()

	m.syncAgent.Stop()
	m.watcher.Stop()
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	stores := m.stores
	m.stores = make(map[string]*storage.Store)
	m.mu.Unlock()

	var errs []error
	for path, s := range stores {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
	}
	errs = append(errs, m.registry.Close(), m.embedder.Close())
	m.logger.Info("manager stopped")
	return errors.Join(errs...)
}

// Wait blocks until no background re-index run is in flight
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Store returns the shared store for dbPath, opening it on first use
func (m *Manager) Store(ctx context.Context, dbPath string) (*storage.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, ErrStopped
	}
	if s, ok := m.stores[dbPath]; ok {
		return s, nil
	}
	s, err := storage.Open(ctx, dbPath, m.cfg.StorageOptions(m.logger))
	if err != nil {
		return nil, err
	}
	m.stores[dbPath] = s
	return s, nil
}

// closeStore stops and forgets the store for dbPath
func (m *Manager) closeStore(dbPath string) error {
	m.mu.Lock()
	s, ok := m.stores[dbPath]
	delete(m.stores, dbPath)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close()
}

// ResolveProject finds a project by id, falling back to its path
func (m *Manager) ResolveProject(ctx context.Context, ref string) (*types.Project, error) {
	if ref == "" {
		return nil, registry.ErrProjectNotFound
	}
	p, err := m.registry.GetProject(ctx, ref)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, registry.ErrProjectNotFound) {
		return nil, err
	}
	return m.registry.GetProjectByPath(ctx, ref)
}

// IndexRequest describes one indexing run
type IndexRequest struct {
	Path        string
	Name        string
	Incremental bool
	Exclude     []string
}

// IndexProject registers req.Path if needed and indexes it, moving the
// project through indexing to ready or error.
func (m *Manager) IndexProject(ctx context.Context, req IndexRequest) (*types.Project, *indexer.Result, error) {
	p, err := m.registry.CreateProject(ctx, req.Path, req.Name)
	if err != nil && !errors.Is(err, registry.ErrProjectExists) {
		return nil, nil, err
	}
	if p == nil {
		return nil, nil, fmt.Errorf("project %s could not be resolved", req.Path)
	}
	res, err := m.index(ctx, p, req.Incremental, req.Exclude)
	if err != nil {
		return p, res, err
	}
	if err := m.watcher.AddProject(p.ID, p.Path); err != nil {
		m.logger.Warn("not watching project", "project", p.ID, "error", err)
	}
	if updated, err := m.registry.GetProject(ctx, p.ID); err == nil {
		p = updated
	}
	return p, res, nil
}

func (m *Manager) index(ctx context.Context, p *types.Project, incremental bool, exclude []string) (*indexer.Result, error) {
	store, err := m.Store(ctx, p.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := m.registry.UpdateStatus(ctx, p.ID, types.StatusIndexing, nil); err != nil {
		return nil, err
	}

	opts := m.cfg.IndexerOptions()
	opts.Exclude = append(opts.Exclude, exclude...)

	res, err := m.indexer.IndexProject(ctx, p.Path, store, opts, incremental)
	m.searcher.InvalidateCache()

	// A status write must survive a cancelled caller
	statusCtx := context.WithoutCancel(ctx)
	switch {
	case errors.Is(err, indexer.ErrIndexInProgress):
		return nil, err
	case errors.Is(err, indexer.ErrInactive):
		return res, err
	case err != nil:
		if uerr := m.registry.UpdateStatus(statusCtx, p.ID, types.StatusError, nil); uerr != nil {
			m.logger.Error("failed to record index failure", "project", p.ID, "error", uerr)
		}
		return res, err
	}

	status := types.StatusReady
	if res.FilesProcessed > 0 && res.FilesEmbedded == 0 {
		status = types.StatusError
	}
	now := time.Now().UTC()
	if err := m.registry.UpdateStatus(statusCtx, p.ID, status, &now); err != nil {
		return res, err
	}
	return res, nil
}

// Search runs query against the project identified by ref (id or path)
func (m *Manager) Search(ctx context.Context, ref, query string, topK int) (*searcher.Response, error) {
	p, err := m.ResolveProject(ctx, ref)
	if err != nil {
		return nil, err
	}
	store, err := m.Store(ctx, p.DatabasePath)
	if err != nil {
		return nil, err
	}
	return m.searcher.Search(ctx, store, query, topK)
}

// ProjectStatus is a project record with its observed storage state
type ProjectStatus struct {
	Project  *types.Project
	Stats    types.ProjectStats
	Metadata map[string]string
	Indexing bool
}

// Status reports the project identified by ref
func (m *Manager) Status(ctx context.Context, ref string) (*ProjectStatus, error) {
	p, err := m.ResolveProject(ctx, ref)
	if err != nil {
		return nil, err
	}
	st := &ProjectStatus{
		Project:  p,
		Indexing: m.indexer.Active().Active(p.Path),
	}

	stats, err := m.registry.GetStats(ctx, p.DatabasePath)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return st, nil
	case err != nil:
		return nil, err
	}
	st.Stats = stats

	store, err := m.Store(ctx, p.DatabasePath)
	if err != nil {
		return nil, err
	}
	if st.Metadata, err = store.AllMetadata(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

// ListProjects returns every registered project
func (m *Manager) ListProjects(ctx context.Context) ([]types.Project, error) {
	return m.registry.ListProjects(ctx)
}

// DeleteProject deactivates any run for the project, stops watching it,
// closes its store and removes it from the registry.
func (m *Manager) DeleteProject(ctx context.Context, ref string, removeData bool) error {
	p, err := m.ResolveProject(ctx, ref)
	if err != nil {
		return err
	}
	if m.indexer.Active().Deactivate(p.Path) {
		m.logger.Info("deactivated running index", "project", p.ID)
	}
	m.watcher.RemoveProject(p.ID)
	if err := m.closeStore(p.DatabasePath); err != nil {
		m.logger.Warn("failed to close project store", "project", p.ID, "error", err)
	}
	return m.registry.DeleteProject(ctx, p.ID, removeData)
}

// Reindexing returns the ids with a background re-index in flight
func (m *Manager) Reindexing() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.reindexing))
	for id := range m.reindexing {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// onChange re-indexes a changed project incrementally in the background.
// Only one run per project is in flight; changes arriving during a run
// schedule exactly one follow-up run.
func (m *Manager) onChange(_ context.Context, id string, changed []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	if _, running := m.reindexing[id]; running {
		m.reindexing[id] = true
		m.logger.Debug("re-index already running, queued follow-up", "project", id, "changed", len(changed))
		return nil
	}
	m.reindexing[id] = false
	m.wg.Add(1)
	go m.reindexLoop(id, len(changed))
	return nil
}

func (m *Manager) reindexLoop(id string, changed int) {
	defer m.wg.Done()
	for {
		m.logger.Info("re-indexing changed project", "project", id, "changed", changed)
		if err := m.reindex(id); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("background re-index failed", "project", id, "error", err)
		}

		m.mu.Lock()
		again := m.reindexing[id]
		if !again || m.ctx.Err() != nil {
			delete(m.reindexing, id)
			m.mu.Unlock()
			return
		}
		m.reindexing[id] = false
		m.mu.Unlock()
		changed = 0
	}
}

func (m *Manager) reindex(id string) error {
	p, err := m.registry.GetProject(m.ctx, id)
	if err != nil {
		return err
	}
	res, err := m.index(m.ctx, p, true, nil)
	if err != nil {
		return err
	}
	m.logger.Info("background re-index complete", "project", id,
		"processed", res.FilesProcessed, "skipped", res.FilesSkipped, "duration", res.Duration)
	return nil
}
