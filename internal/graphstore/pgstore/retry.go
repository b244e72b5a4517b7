package pgstore

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	maxTransientRetries = 3
	retryBaseDelay      = 100 * time.Millisecond
)

// transientPGCodes are PostgreSQL error codes worth retrying: serialization
// failure, deadlock detected, and query canceled (often a lock-wait timeout
// under load), per the write-retry contract.
var transientPGCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"57014": true, // query_canceled
}

func isTransientPGError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientPGCodes[pgErr.Code]
	}
	return false
}

// withRetry runs fn up to maxTransientRetries+1 times, retrying only when
// the failure is classified transient by isTransientPGError. Permanent
// errors propagate immediately.
func withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxTransientRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransientPGError(lastErr) {
			return lastErr
		}
		if attempt == maxTransientRetries {
			break
		}
		delay := time.Duration(1<<uint(attempt))*retryBaseDelay + time.Duration(rand.Int63n(int64(retryBaseDelay)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
