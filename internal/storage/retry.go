package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// IsLocked reports whether err is SQLite lock contention
func IsLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

// withLockRetry runs fn, retrying with exponential backoff while it fails on
// lock contention. Any other error is returned immediately.
func withLockRetry[T any](ctx context.Context, attempts int, base time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := base

	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !IsLocked(err) {
			return zero, err
		}
		lastErr = err

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %v", ErrDatabaseLocked, attempts, lastErr)
}
