package agents

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/codevec/pkg/types"
)

var (
	// ErrNotDirectory is returned when a watched root is missing or not a directory
	ErrNotDirectory = errors.New("not a directory")
	// ErrAlreadyWatched is returned by the watcher for a root watched under another id
	ErrAlreadyWatched = errors.New("path already watched")
)

// Interval floors and defaults
const (
	MinSyncInterval     = 5 * time.Second
	DefaultSyncInterval = 30 * time.Second

	MinWatchInterval     = 5 * time.Second
	DefaultWatchInterval = 10 * time.Second

	MinWatchDebounce     = time.Second
	DefaultWatchDebounce = 5 * time.Second

	stopTimeout = 5 * time.Second
)

// Registry is the view of the project registry the agents depend on.
// GetStats must report a missing project database with an error wrapping
// storage.ErrNotFound.
type Registry interface {
	ListProjects(ctx context.Context) ([]types.Project, error)
	GetStats(ctx context.Context, databasePath string) (types.ProjectStats, error)
	UpdateStatus(ctx context.Context, id string, status types.Status, lastIndexedAt *time.Time) error
}

func clamp(d, floor, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	if d < floor {
		return floor
	}
	return d
}

// loop is the start/stop plumbing shared by both agents
type loop struct {
	stopCh chan struct{}
	doneCh chan struct{}
}

func startLoop(ctx context.Context, interval time.Duration, tick func(context.Context)) *loop {
	l := &loop{stopCh: make(chan struct{}), doneCh: make(chan struct{})}
	go func() {
		defer close(l.doneCh)

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-l.stopCh:
				cancel()
			case <-ctx.Done():
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick(ctx)
			}
		}
	}()
	return l
}

// stop signals the loop and waits up to timeout; it reports whether the
// loop exited in time
func (l *loop) stop(timeout time.Duration) bool {
	close(l.stopCh)
	select {
	case <-l.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}
