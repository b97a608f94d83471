package core

import (
	"context"
	"errors"
	"strings"
	"time"
)

// =============================================================================
// TRANSIENT I/O RETRY - At most two retries with exponential backoff
// =============================================================================

// retryBase is the first backoff delay; the second retry doubles it.
const retryBase = 25 * time.Millisecond

// maxRetries bounds re-attempts of transient database failures. After the
// budget is exhausted the failure surfaces as Internal.
const maxRetries = 2

// IsTransient reports whether a database error is worth retrying. SQLite
// reports writer contention as "database is locked" / "database table is
// locked"; the sqlite3 driver also surfaces SQLITE_BUSY as text.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// WithRetry runs fn, retrying transient failures at most twice with
// exponential backoff. Non-transient errors propagate unchanged; a
// transient error that survives the budget is wrapped as Internal. The
// context deadline is honored between attempts and maps to ErrTimeout.
func WithRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt >= maxRetries {
			return Internalf("transient failure persisted after retries: %v", err)
		}

		delay := retryBase << attempt
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrTimeout
			}
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
