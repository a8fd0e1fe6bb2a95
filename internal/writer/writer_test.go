package writer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupQueue(t *testing.T, workers int) (*Queue, *sql.DB) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "writer.db")

	wdb, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = wdb.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL UNIQUE)`)
	require.NoError(t, err)

	rdb, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Workers = workers
	q := New(wdb, cfg)
	require.NoError(t, q.Start(context.Background()))

	t.Cleanup(func() {
		q.Stop()
		_ = wdb.Close()
		_ = rdb.Close()
	})
	return q, rdb
}

func countItems(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM items").Scan(&n))
	return n
}

func insertItem(name string) func(ctx context.Context, tx *sql.Tx) (int64, error) {
	return func(ctx context.Context, tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, "INSERT INTO items (name) VALUES (?)", name)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}
}

func TestDo_ReturnsRowID(t *testing.T) {
	q, _ := setupQueue(t, 1)

	id, err := Do(context.Background(), q, insertItem("first"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestEnqueueAndWait_ConcurrentWriters(t *testing.T) {
	q, rdb := setupQueue(t, 4)
	ctx := context.Background()

	const writers = 64
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := Do(ctx, q, insertItem(fmt.Sprintf("item-%d", i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, writers, countItems(t, rdb))
}

func TestEnqueueAndWait_ErrorRollsBack(t *testing.T) {
	q, rdb := setupQueue(t, 2)
	ctx := context.Background()

	_, err := Do(ctx, q, insertItem("dup"))
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = q.EnqueueAndWait(ctx, func(ctx context.Context, tx *sql.Tx) (any, error) {
		if _, err := tx.ExecContext(ctx, "INSERT INTO items (name) VALUES ('rolled-back')"); err != nil {
			return nil, err
		}
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	// a constraint violation is reported to the caller, not swallowed
	_, err = Do(ctx, q, insertItem("dup"))
	assert.Error(t, err)

	// the queue keeps working after failures
	_, err = Do(ctx, q, insertItem("after"))
	require.NoError(t, err)
	assert.Equal(t, 2, countItems(t, rdb))
}

func TestEnqueueAndWait_PanicIsReturned(t *testing.T) {
	q, _ := setupQueue(t, 1)

	_, err := q.EnqueueAndWait(context.Background(), func(ctx context.Context, tx *sql.Tx) (any, error) {
		panic("bad job")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad job")

	_, err = Do(context.Background(), q, insertItem("still-alive"))
	assert.NoError(t, err)
}

func TestExec(t *testing.T) {
	q, rdb := setupQueue(t, 1)

	res, err := q.Exec(context.Background(), "INSERT INTO items (name) VALUES (?)", "via-exec")
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, countItems(t, rdb))
}

func TestEnqueue_DrainedOnStop(t *testing.T) {
	q, rdb := setupQueue(t, 2)

	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("bg-%d", i)
		require.NoError(t, q.Enqueue(func(ctx context.Context, tx *sql.Tx) (any, error) {
			return insertItem(name)(ctx, tx)
		}))
	}

	q.Stop()
	assert.True(t, q.Stopped())
	assert.Equal(t, 20, countItems(t, rdb))
}

func TestSubmitAfterStop(t *testing.T) {
	q, _ := setupQueue(t, 1)
	q.Stop()
	q.Stop() // idempotent

	_, err := Do(context.Background(), q, insertItem("late"))
	assert.ErrorIs(t, err, ErrQueueStopped)
	assert.ErrorIs(t, q.Enqueue(func(ctx context.Context, tx *sql.Tx) (any, error) { return nil, nil }), ErrQueueStopped)
}

func TestSubmitBeforeStart(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "idle.db"))
	require.NoError(t, err)
	defer db.Close()

	q := New(db, Config{Workers: 1})
	_, err = q.Exec(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestEnqueueAndWait_Timeout(t *testing.T) {
	q, _ := setupQueue(t, 1)
	q.cfg.WaitTimeout = 50 * time.Millisecond

	release := make(chan struct{})
	go func() {
		_, _ = q.EnqueueAndWait(context.Background(), func(ctx context.Context, tx *sql.Tx) (any, error) {
			<-release
			return nil, nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	_, err := q.EnqueueAndWait(context.Background(), func(ctx context.Context, tx *sql.Tx) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrWaitTimeout)
	close(release)
}

func TestDefaultWorkers(t *testing.T) {
	n := DefaultWorkers()
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 4)
}
