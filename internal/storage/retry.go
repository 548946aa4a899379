package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Retry defaults for sample writes.
const (
	defaultMaxRetries = 3
	defaultRetryDelay = 50 * time.Millisecond
)

// isRetriable returns true for Postgres errors that indicate a transient
// condition: serialization conflicts, deadlocks, and lost connections
// (class 08). A retried COPY is safe because a failed COPY writes nothing.
func isRetriable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return pgconn.SafeToRetry(err)
	}
	switch {
	case pgErr.Code == "40001": // serialization_failure
		return true
	case pgErr.Code == "40P01": // deadlock_detected
		return true
	case strings.HasPrefix(pgErr.Code, "08"): // connection_exception
		return true
	default:
		return false
	}
}

// IsPermanent reports whether err is a Postgres rejection of the rows
// themselves: a data exception (class 22, such as an invalid byte sequence)
// or an integrity violation (class 23). Writing the same rows again fails
// the same way.
func IsPermanent(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")
}

// WithRetry executes fn, retrying up to maxRetries times on transient
// errors. Retries use jittered exponential backoff starting at baseDelay.
func WithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var err error
	for attempt := range maxRetries + 1 {
		err = fn()
		if err == nil || !isRetriable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(baseDelay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay + jitter):
		}
		baseDelay *= 2
	}
	return err
}
