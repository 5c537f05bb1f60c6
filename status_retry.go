package main

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const defaultRetryMaxAttempts = 3

// errTransient marks failures that are expected to clear up when the same
// operation is attempted again shortly after.
var errTransient = errors.New("transient failure")

func markTransient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", errTransient, err)
}

// isTransient reports whether err is worth retrying: lock contention and
// connection hiccups from the store, per-attempt timeouts, and anything
// explicitly marked with markTransient.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errTransient) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_PROTOCOL:
			return true
		}
	}
	return false
}

// RetryPolicy bounds how often a refresh attempt is repeated. With a zero
// InitialBackoff the attempts run back-to-back.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func defaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: defaultRetryMaxAttempts}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	if p.InitialBackoff <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.RandomizationFactor = 0.1
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}
	b.MaxElapsedTime = 0 // attempt count is the only limit
	b.Reset()
	return b
}

// Do runs op until it succeeds, fails with a non-transient error, or the
// attempt budget is spent. The last error is returned unwrapped.
func (p RetryPolicy) Do(ctx context.Context, name string, op func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(attempts-1)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx, attempt)
		if err != nil && !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		logger.Warn("retrying after transient failure", "component", "status", "op", name, "attempt", attempt, "max_attempts", attempts, "wait", wait, "error", err)
	})
}
