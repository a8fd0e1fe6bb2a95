package writer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

var (
	// ErrQueueStopped is returned when work is submitted after Stop
	ErrQueueStopped = errors.New("writer queue stopped")
	// ErrWaitTimeout is returned when a waiting caller gives up on its job
	ErrWaitTimeout = errors.New("timed out waiting for writer")
	// ErrNotStarted is returned when work is submitted before Start
	ErrNotStarted = errors.New("writer queue not started")
)

// Job is one unit of mutating work. It runs inside a transaction on a
// writer-owned connection; returning an error rolls the transaction back.
type Job func(ctx context.Context, tx *sql.Tx) (any, error)

// Config tunes a writer queue
type Config struct {
	Workers     int           // Writer goroutines, each with its own connection
	QueueSize   int           // Buffered jobs before Enqueue blocks
	BusyTimeout time.Duration // PRAGMA busy_timeout on each writer connection
	WaitTimeout time.Duration // Upper bound for EnqueueAndWait
	StopTimeout time.Duration // Per-worker join timeout in Stop
	Logger      *slog.Logger
}

// DefaultWorkers is min(4, NumCPU)
func DefaultWorkers() int {
	n := runtime.NumCPU()
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return n
}

// DefaultConfig returns the standard queue settings
func DefaultConfig() Config {
	return Config{
		Workers:     DefaultWorkers(),
		QueueSize:   1024,
		BusyTimeout: 30 * time.Second,
		WaitTimeout: 60 * time.Second,
		StopTimeout: 5 * time.Second,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.Workers < 1 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = d.BusyTimeout
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = d.WaitTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type result struct {
	value any
	err   error
}

// request is a queued job. A nil job is the stop sentinel.
type request struct {
	ctx  context.Context
	job  Job
	done chan result // nil for fire-and-forget
}

// Queue funnels every write against one database file through a small fixed
// pool of workers.
type Queue struct {
	db     *sql.DB
	cfg    Config
	logger *slog.Logger

	jobs chan request

	mu      sync.RWMutex
	started bool
	stopped bool
	workers []chan struct{} // closed when the matching worker exits
}

// New creates a queue over db. The queue does not own db; the caller closes
// it after Stop returns.
func New(db *sql.DB, cfg Config) *Queue {
	cfg.normalize()
	// one connection per writer, plus nothing else: readers use their own pool
	db.SetMaxOpenConns(cfg.Workers)
	db.SetMaxIdleConns(cfg.Workers)
	db.SetConnMaxLifetime(0)

	return &Queue{
		db:     db,
		cfg:    cfg,
		logger: cfg.Logger,
		jobs:   make(chan request, cfg.QueueSize),
	}
}

// Workers returns the configured worker count
func (q *Queue) Workers() int {
	return q.cfg.Workers
}

// Start opens one long-lived connection per worker and launches the workers
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrQueueStopped
	}
	if q.started {
		return nil
	}

	conns := make([]*sql.Conn, 0, q.cfg.Workers)
	for i := 0; i < q.cfg.Workers; i++ {
		conn, err := q.openConn(ctx)
		if err != nil {
			for _, c := range conns {
				_ = c.Close()
			}
			return fmt.Errorf("open writer connection %d: %w", i, err)
		}
		conns = append(conns, conn)
	}

	for i, conn := range conns {
		done := make(chan struct{})
		q.workers = append(q.workers, done)
		go q.run(i, conn, done)
	}
	q.started = true
	q.logger.Debug("writer queue started", "workers", q.cfg.Workers)
	return nil
}

// openConn pins a pool connection and configures it for concurrent readers
func (q *Queue) openConn(ctx context.Context) (*sql.Conn, error) {
	conn, err := q.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", q.cfg.BusyTimeout.Milliseconds()),
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return conn, nil
}

func (q *Queue) run(id int, conn *sql.Conn, done chan struct{}) {
	defer close(done)
	defer func() { _ = conn.Close() }()

	for req := range q.jobs {
		if req.job == nil {
			q.logger.Debug("writer worker exiting", "worker", id)
			return
		}
		value, err := q.execute(req.ctx, conn, req.job)
		if req.done != nil {
			req.done <- result{value: value, err: err}
			continue
		}
		if err != nil {
			q.logger.Warn("background write failed", "worker", id, "error", err)
		}
	}
}

// execute runs one job in its own transaction. Errors and panics are handed
// back to the caller and never take the worker down.
func (q *Queue) execute(ctx context.Context, conn *sql.Conn, job Job) (value any, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			value, err = nil, fmt.Errorf("writer job panicked: %v", r)
		}
	}()

	value, err = job(ctx, tx)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return value, nil
}

// submit places req on the queue unless the queue is stopped
func (q *Queue) submit(ctx context.Context, req request) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.stopped {
		return ErrQueueStopped
	}
	if !q.started {
		return ErrNotStarted
	}

	select {
	case q.jobs <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueAndWait submits job and blocks until a worker has run it, the
// context ends, or the wait timeout elapses.
func (q *Queue) EnqueueAndWait(ctx context.Context, job Job) (any, error) {
	if job == nil {
		return nil, errors.New("nil job")
	}

	waitCtx, cancel := context.WithTimeout(ctx, q.cfg.WaitTimeout)
	defer cancel()

	req := request{ctx: ctx, job: job, done: make(chan result, 1)}
	if err := q.submit(waitCtx, req); err != nil {
		return nil, waitErr(ctx, err)
	}

	select {
	case res := <-req.done:
		return res.value, res.err
	case <-waitCtx.Done():
		return nil, waitErr(ctx, waitCtx.Err())
	}
}

func waitErr(parent context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return ErrWaitTimeout
	}
	return err
}

// Enqueue submits job without waiting for it. Failures are logged by the
// worker that runs it.
func (q *Queue) Enqueue(job Job) error {
	if job == nil {
		return errors.New("nil job")
	}
	return q.submit(context.Background(), request{ctx: context.Background(), job: job})
}

// Exec runs a single statement through the queue and waits for its result
func (q *Queue) Exec(ctx context.Context, stmt string, args ...any) (sql.Result, error) {
	return Do(ctx, q, func(ctx context.Context, tx *sql.Tx) (sql.Result, error) {
		return tx.ExecContext(ctx, stmt, args...)
	})
}

// Do is a typed wrapper over EnqueueAndWait
func Do[T any](ctx context.Context, q *Queue, fn func(ctx context.Context, tx *sql.Tx) (T, error)) (T, error) {
	var zero T
	v, err := q.EnqueueAndWait(ctx, func(ctx context.Context, tx *sql.Tx) (any, error) {
		return fn(ctx, tx)
	})
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("writer job returned %T", v)
	}
	return out, nil
}

// Stop rejects new work, lets the workers drain what is already queued, then
// sends one stop sentinel per worker and joins each with a bounded wait.
// Workers that fail to exit in time are logged and abandoned.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	workers := q.workers
	q.mu.Unlock()

	for range workers {
		q.jobs <- request{}
	}

	for i, done := range workers {
		select {
		case <-done:
		case <-time.After(q.cfg.StopTimeout):
			q.logger.Warn("writer worker did not stop in time", "worker", i, "timeout", q.cfg.StopTimeout)
		}
	}
	q.logger.Debug("writer queue stopped", "workers", len(workers))
}

// Stopped reports whether Stop has been called
func (q *Queue) Stopped() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.stopped
}
