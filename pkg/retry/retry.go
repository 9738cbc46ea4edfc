// Package retry wraps whole units of work in bounded exponential backoff.
// Only errors classified as transient are retried; everything else surfaces
// to the caller on the first attempt.
package retry

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	goretry "github.com/sethvargo/go-retry"

	"github.com/cartloom/storefront/pkg/errors"
	"github.com/cartloom/storefront/pkg/logger"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 50 * time.Millisecond
)

// SQLSTATE codes the database raises for conflicts that resolve themselves
// when the losing transaction runs again.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// transientSignatures covers drivers that only report contention through the
// error message.
var transientSignatures = []string{
	"lock wait timeout",
	"write conflict",
	"please retry",
	"database is locked",
}

// Coordinator retries a function with exponential backoff. The zero value is
// not usable; construct with New.
type Coordinator struct {
	maxAttempts int
	baseDelay   time.Duration
	logg        *logger.Logger
}

// New builds a Coordinator. Non-positive arguments fall back to defaults; a
// nil logger disables retry logging.
func New(maxAttempts int, baseDelay time.Duration, logg *logger.Logger) *Coordinator {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	return &Coordinator{maxAttempts: maxAttempts, baseDelay: baseDelay, logg: logg}
}

// MaxAttempts returns the total attempt budget, first try included.
func (c *Coordinator) MaxAttempts() int {
	return c.maxAttempts
}

// Do runs fn up to MaxAttempts times, sleeping baseDelay, 2*baseDelay,
// 4*baseDelay, ... between attempts. fn is retried only when its error is
// transient; a non-transient error or an exhausted budget returns the last
// error unchanged. Context cancellation stops the loop between attempts.
func (c *Coordinator) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0
	backoff := goretry.WithMaxRetries(uint64(c.maxAttempts-1), goretry.NewExponential(c.baseDelay))

	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if c.logg != nil && attempt < c.maxAttempts {
			c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
				"attempt":      attempt,
				"max_attempts": c.maxAttempts,
				"error":        err.Error(),
			}), "transient failure, retrying")
		}
		return goretry.RetryableError(err)
	})
	return err
}

// IsTransient reports whether err describes a conflict worth retrying:
// serialization failures, deadlocks, lock timeouts, or anything the caller
// tagged with errors.CodeTransient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.HasCode(err, errors.CodeTransient) {
		return true
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
