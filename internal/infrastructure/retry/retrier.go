// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/iho/balancekeeper/internal/domain"
)

// PostgreSQL error codes for retryable errors.
const (
	pgErrDeadlock             = "40P01"
	pgErrSerializationFailure = "40001"
	// Class 08: connection exceptions.
	pgErrClassConnection = "08"
)

// ErrExhausted is returned once every attempt failed with a retryable error.
var ErrExhausted = errors.New("retries exhausted")

// Classifier decides whether an error is worth another attempt.
type Classifier func(error) bool

// Retrier implements usecase.Retrier with exponential backoff.
type Retrier struct {
	retryable       Classifier
	onRetry         func()
	logger          zerolog.Logger
	maxRetries      int
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsedTime  time.Duration
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// WithIntervals sets the backoff intervals.
func WithIntervals(initial, max, elapsed time.Duration) Option {
	return func(r *Retrier) {
		r.initialInterval = initial
		r.maxInterval = max
		r.maxElapsedTime = elapsed
	}
}

// WithOnRetry registers a hook called before every retry.
func WithOnRetry(fn func()) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

// New creates a Retrier that retries errors accepted by retryable.
func New(retryable Classifier, logger zerolog.Logger, opts ...Option) *Retrier {
	r := &Retrier{
		retryable:       retryable,
		logger:          logger,
		maxRetries:      3,
		initialInterval: 5 * time.Millisecond,
		maxInterval:     200 * time.Millisecond,
		maxElapsedTime:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewStaleVersion creates a Retrier for optimistic ledger commits.
func NewStaleVersion(logger zerolog.Logger, opts ...Option) *Retrier {
	return New(IsStaleVersion, logger, opts...)
}

// NewPostgres creates a Retrier for deadlocks, serialization failures and
// lost connections.
func NewPostgres(logger zerolog.Logger, opts ...Option) *Retrier {
	defaults := []Option{WithIntervals(50*time.Millisecond, time.Second, 10*time.Second)}
	return New(IsTransientPostgres, logger, append(defaults, opts...)...)
}

// Retry executes operation, retrying retryable errors with backoff.
// When the retry budget runs out the last error is returned wrapped with
// ErrExhausted.
func (r *Retrier) Retry(ctx context.Context, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval
	b.MaxElapsedTime = r.maxElapsedTime

	retryCount := 0
	exhausted := false

	err := backoff.Retry(func() error {
		err := operation()
		if err == nil {
			return nil
		}

		if !r.retryable(err) {
			return backoff.Permanent(err)
		}

		retryCount++
		if retryCount > r.maxRetries {
			exhausted = true
			return backoff.Permanent(err)
		}

		r.logger.Warn().
			Err(err).
			Int("retry", retryCount).
			Msg("retryable error, retrying")

		if r.onRetry != nil {
			r.onRetry()
		}

		return err
	}, backoff.WithContext(b, ctx))

	if err != nil && exhausted {
		return errors.Join(ErrExhausted, err)
	}

	return err
}

// IsStaleVersion reports optimistic concurrency failures.
func IsStaleVersion(err error) bool {
	return errors.Is(err, domain.ErrStaleVersion)
}

// IsTransientPostgres reports PostgreSQL errors that should trigger a retry:
// deadlocks, serialization failures, connection exceptions and failures pgx
// marks safe to retry because nothing reached the server.
func IsTransientPostgres(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgErrDeadlock, pgErr.Code == pgErrSerializationFailure:
			return true
		case strings.HasPrefix(pgErr.Code, pgErrClassConnection):
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}
