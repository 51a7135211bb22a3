// Package poll provides a bounded, cancellable wait-until-done primitive for
// carrier resources that complete asynchronously.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tournevent/skydrop-bridge/pkg/shipper"
)

// Default bounds applied when Options leaves them unset.
const (
	DefaultInterval    = time.Second
	DefaultMaxAttempts = 30
)

// Options bounds a polling loop. At least one of MaxAttempts or Timeout is
// always in effect; a zero MaxAttempts with a zero Timeout uses DefaultMaxAttempts.
type Options struct {
	Operation   string
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

func (o Options) normalize() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MaxAttempts <= 0 && o.Timeout <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Operation == "" {
		o.Operation = "resource"
	}
	return o
}

// Observer is notified after every fetch. Used for metrics.
type Observer func(operation string, attempt int, done bool)

var errNotDone = errors.New("not done")

// Until calls fetch until done reports true, waiting opts.Interval between
// attempts. It returns the first value for which done is true.
//
// A fetch error stops polling and is returned unchanged. Exceeding the
// attempt or time bound returns *shipper.PollingTimeoutError carrying the
// last observed value. If ctx ends first the error wraps shipper.ErrCancelled.
func Until[T any](ctx context.Context, opts Options, fetch func(context.Context) (T, error), done func(T) bool, observers ...Observer) (T, error) {
	opts = opts.normalize()

	var (
		zero     T
		last     T
		attempts int
	)

	if err := ctx.Err(); err != nil {
		return zero, fmt.Errorf("%w: %s: %w", shipper.ErrCancelled, opts.Operation, err)
	}

	pollCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	operation := func() (T, error) {
		attempts++
		v, err := fetch(pollCtx)
		if err != nil {
			return zero, backoff.Permanent(err)
		}
		last = v
		finished := done(v)
		for _, observe := range observers {
			observe(opts.Operation, attempts, finished)
		}
		if finished {
			return v, nil
		}
		return v, errNotDone
	}

	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(opts.Interval)),
	}
	if opts.Timeout > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxElapsedTime(opts.Timeout))
	}
	if opts.MaxAttempts > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxTries(uint(opts.MaxAttempts)))
	}

	v, err := backoff.Retry(pollCtx, operation, retryOpts...)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	switch {
	case err == nil:
		return v, nil
	case ctx.Err() != nil:
		return zero, fmt.Errorf("%w: %s after %d attempts: %w", shipper.ErrCancelled, opts.Operation, attempts, ctx.Err())
	case pollCtx.Err() != nil, errors.Is(err, errNotDone):
		return zero, &shipper.PollingTimeoutError{Operation: opts.Operation, Attempts: attempts, Last: last}
	default:
		return zero, err
	}
}
