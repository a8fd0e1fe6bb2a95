package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/codevec/internal/storage"
	"github.com/dshills/codevec/pkg/types"
)

// SyncStatus is a snapshot of an IndexSyncAgent
type SyncStatus struct {
	Running  bool          `json:"running"`
	Interval time.Duration `json:"interval"`
	LastSync time.Time     `json:"last_sync,omitempty"`
	Updates  int64         `json:"updates"`
}

// IndexSyncAgent corrects recorded project status against storage stats
type IndexSyncAgent struct {
	reg      Registry
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	loop     *loop
	lastSync time.Time
	updates  atomic.Int64
}

// SyncOption configures an IndexSyncAgent
type SyncOption func(*IndexSyncAgent)

// WithSyncLogger sets the agent logger
func WithSyncLogger(l *slog.Logger) SyncOption {
	return func(a *IndexSyncAgent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithSyncClock replaces time.Now, used for last_indexed_at stamps
func WithSyncClock(now func() time.Time) SyncOption {
	return func(a *IndexSyncAgent) {
		if now != nil {
			a.now = now
		}
	}
}

// NewIndexSyncAgent creates an agent polling reg every interval. Intervals
// below five seconds are raised to five; zero selects the default.
func NewIndexSyncAgent(reg Registry, interval time.Duration, opts ...SyncOption) *IndexSyncAgent {
	a := &IndexSyncAgent{
		reg:      reg,
		interval: clamp(interval, MinSyncInterval, DefaultSyncInterval),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Interval returns the effective poll interval
func (a *IndexSyncAgent) Interval() time.Duration {
	return a.interval
}

// Start launches the polling loop. Calling Start on a running agent is a no-op.
func (a *IndexSyncAgent) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loop != nil {
		a.logger.Warn("index sync agent already running")
		return
	}
	a.loop = startLoop(ctx, a.interval, func(ctx context.Context) {
		if _, err := a.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("index sync failed", "error", err)
		}
	})
	a.logger.Info("index sync agent started", "interval", a.interval)
}

// Stop signals the loop and waits for it to exit
func (a *IndexSyncAgent) Stop() {
	a.mu.Lock()
	l := a.loop
	a.loop = nil
	a.mu.Unlock()
	if l == nil {
		return
	}
	if !l.stop(stopTimeout) {
		a.logger.Warn("index sync agent did not stop in time", "timeout", stopTimeout)
		return
	}
	a.logger.Info("index sync agent stopped")
}

// Status reports the agent's state
func (a *IndexSyncAgent) Status() SyncStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return SyncStatus{
		Running:  a.loop != nil,
		Interval: a.interval,
		LastSync: a.lastSync,
		Updates:  a.updates.Load(),
	}
}

// SyncOnce reconciles every registered project once and returns the number
// of status updates written. A failure on one project is logged and does not
// stop the pass.
func (a *IndexSyncAgent) SyncOnce(ctx context.Context) (int, error) {
	projects, err := a.reg.ListProjects(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list projects: %w", err)
	}

	updated := 0
	for i := range projects {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		changed, err := a.reconcile(ctx, &projects[i])
		if err != nil {
			a.logger.Error("failed to reconcile project", "project", projects[i].ID, "error", err)
			continue
		}
		if changed {
			updated++
		}
	}

	a.mu.Lock()
	a.lastSync = a.now()
	a.mu.Unlock()
	a.updates.Add(int64(updated))
	return updated, nil
}

func (a *IndexSyncAgent) reconcile(ctx context.Context, p *types.Project) (bool, error) {
	if p.ID == "" || p.DatabasePath == "" {
		a.logger.Warn("project missing required fields", "project", p.ID, "database_path", p.DatabasePath)
		return false, nil
	}

	if p.Path != "" {
		if _, err := os.Stat(p.Path); err != nil {
			if p.Status == types.StatusError {
				return false, nil
			}
			a.logger.Warn("project path not found", "project", p.ID, "path", p.Path)
			if err := a.reg.UpdateStatus(ctx, p.ID, types.StatusError, nil); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	desired, ok := a.desiredStatus(ctx, p)
	if !ok || desired == p.Status {
		return false, nil
	}

	var indexedAt *time.Time
	if desired == types.StatusReady {
		t := a.now().UTC()
		indexedAt = &t
	}
	if err := a.reg.UpdateStatus(ctx, p.ID, desired, indexedAt); err != nil {
		return false, err
	}
	a.logger.Info("project status corrected", "project", p.ID, "from", p.Status, "to", desired)
	return true, nil
}

// desiredStatus derives the status implied by storage. ok is false when the
// observed state does not determine one.
func (a *IndexSyncAgent) desiredStatus(ctx context.Context, p *types.Project) (types.Status, bool) {
	stats, err := a.reg.GetStats(ctx, p.DatabasePath)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return types.StatusCreated, true
	case err != nil:
		a.logger.Debug("stats unavailable", "project", p.ID, "error", err)
		return "", false
	case stats.FileCount == 0:
		return types.StatusCreated, true
	case stats.EmbeddingCount > 0:
		return types.StatusReady, true
	}
	return "", false
}
