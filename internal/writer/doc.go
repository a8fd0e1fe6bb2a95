// Package writer serializes mutating SQL against one SQLite database file.
//
// SQLite allows a single writer at a time. When many indexing goroutines
// write directly, each spends most of its time retrying "database is locked"
// instead of working. A Queue gives every database file a small fixed pool
// of writer goroutines, each pinned to its own connection configured with
// WAL journaling, synchronous=NORMAL and an explicit busy timeout. Callers
// hand over work and either wait for the result or continue immediately:
//
//	q := writer.New(db, writer.DefaultConfig())
//	if err := q.Start(ctx); err != nil {
//	    return err
//	}
//	defer q.Stop()
//
//	id, err := writer.Do(ctx, q, func(ctx context.Context, tx *sql.Tx) (int64, error) {
//	    res, err := tx.ExecContext(ctx, "INSERT INTO files (path) VALUES (?)", path)
//	    if err != nil {
//	        return 0, err
//	    }
//	    return res.LastInsertId()
//	})
//
// Each job runs in its own transaction. A failing job is rolled back and its
// error is returned to the waiting caller; the worker moves on to the next
// job. Stop drains queued work, sends one stop sentinel per worker, and waits
// a bounded time for each worker to exit.
package writer
