package indexer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Stage names recorded on a Task
const (
	StageEnumerate = "enumerate"
	StageFiles     = "files"
	StageDeps      = "dependencies"
	StageMetadata  = "metadata"
	StageDone      = "done"
)

// Task carries the identity and current position of one indexing run. It is
// passed through the context so that log lines from any goroutine can name
// the run, stage and file they belong to.
type Task struct {
	ID        string
	Root      string
	StartedAt time.Time

	stage atomic.Value // string
}

type taskKey struct{}

// NewTask creates a task for root with a fresh id
func NewTask(root string) *Task {
	t := &Task{ID: uuid.NewString(), Root: root, StartedAt: time.Now()}
	t.stage.Store(StageEnumerate)
	return t
}

// SetStage records the stage the run has entered
func (t *Task) SetStage(stage string) {
	t.stage.Store(stage)
}

// Stage returns the current stage
func (t *Task) Stage() string {
	s, _ := t.stage.Load().(string)
	return s
}

// WithTask returns a context carrying t
func WithTask(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, taskKey{}, t)
}

// TaskFrom returns the task carried by ctx, if any
func TaskFrom(ctx context.Context) (*Task, bool) {
	t, ok := ctx.Value(taskKey{}).(*Task)
	return t, ok
}

// taskLogger returns logger annotated with the task in ctx
func taskLogger(ctx context.Context, logger *slog.Logger) *slog.Logger {
	t, ok := TaskFrom(ctx)
	if !ok {
		return logger
	}
	return logger.With("task", t.ID, "stage", t.Stage())
}
