package poll_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/skydrop-bridge/pkg/poll"
	"github.com/tournevent/skydrop-bridge/pkg/shipper"
)

func counter() (func(context.Context) (int32, error), *atomic.Int32) {
	var calls atomic.Int32
	return func(ctx context.Context) (int32, error) {
		return calls.Add(1), nil
	}, &calls
}

func TestUntil_CompletesAfterSeveralAttempts(t *testing.T) {
	fetch, calls := counter()

	got, err := poll.Until(context.Background(),
		poll.Options{Interval: time.Millisecond, MaxAttempts: 10},
		fetch,
		func(n int32) bool { return n >= 3 },
	)

	require.NoError(t, err)
	assert.Equal(t, int32(3), got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestUntil_FirstAttemptDone(t *testing.T) {
	fetch, calls := counter()

	got, err := poll.Until(context.Background(),
		poll.Options{Interval: time.Hour, MaxAttempts: 2},
		fetch,
		func(n int32) bool { return true },
	)

	require.NoError(t, err)
	assert.Equal(t, int32(1), got)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUntil_MaxAttemptsExceeded(t *testing.T) {
	fetch, calls := counter()

	_, err := poll.Until(context.Background(),
		poll.Options{Operation: "quotation", Interval: time.Millisecond, MaxAttempts: 4},
		fetch,
		func(n int32) bool { return false },
	)

	require.Error(t, err)
	assert.True(t, errors.Is(err, shipper.ErrPollingTimeout))

	var timeoutErr *shipper.PollingTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, "quotation", timeoutErr.Operation)
	assert.Equal(t, 4, timeoutErr.Attempts)
	assert.Equal(t, int32(4), timeoutErr.Last)
	assert.Equal(t, int32(4), calls.Load())
}

func TestUntil_DeadlineExceededStopsPolling(t *testing.T) {
	fetch, calls := counter()

	_, err := poll.Until(context.Background(),
		poll.Options{Interval: 5 * time.Millisecond, Timeout: 40 * time.Millisecond},
		fetch,
		func(n int32) bool { return false },
	)

	require.Error(t, err)
	assert.True(t, errors.Is(err, shipper.ErrPollingTimeout))

	after := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no fetch may happen after the timeout")
}

func TestUntil_FetchErrorPropagatesUnchanged(t *testing.T) {
	boom := shipper.NewCarrierError("mock", "HTTP_500", "boom").WithStatusCode(500)
	var calls atomic.Int32

	_, err := poll.Until(context.Background(),
		poll.Options{Interval: time.Millisecond, MaxAttempts: 5},
		func(ctx context.Context) (int, error) {
			calls.Add(1)
			return 0, boom
		},
		func(int) bool { return false },
	)

	assert.Same(t, boom, errorsAsCarrier(t, err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestUntil_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetch, calls := counter()

	go func() {
		time.Sleep(15 * time.Millisecond)
		cancel()
	}()

	_, err := poll.Until(ctx,
		poll.Options{Interval: 5 * time.Millisecond, MaxAttempts: 1000},
		fetch,
		func(n int32) bool { return false },
	)

	require.Error(t, err)
	assert.True(t, errors.Is(err, shipper.ErrCancelled))
	assert.True(t, errors.Is(err, context.Canceled))

	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
}

func TestUntil_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetch, calls := counter()

	_, err := poll.Until(ctx, poll.Options{MaxAttempts: 3}, fetch, func(int32) bool { return true })

	assert.True(t, errors.Is(err, shipper.ErrCancelled))
	assert.Equal(t, int32(0), calls.Load())
}

func TestUntil_DefaultBoundApplies(t *testing.T) {
	fetch, calls := counter()

	_, err := poll.Until(context.Background(),
		poll.Options{Interval: time.Microsecond},
		fetch,
		func(int32) bool { return false },
	)

	assert.True(t, errors.Is(err, shipper.ErrPollingTimeout))
	assert.Equal(t, int32(poll.DefaultMaxAttempts), calls.Load())
}

func TestUntil_Observer(t *testing.T) {
	fetch, _ := counter()
	var observed []bool

	_, err := poll.Until(context.Background(),
		poll.Options{Interval: time.Millisecond, MaxAttempts: 5},
		fetch,
		func(n int32) bool { return n >= 2 },
		func(op string, attempt int, done bool) { observed = append(observed, done) },
	)

	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, observed)
}

func errorsAsCarrier(t *testing.T, err error) *shipper.CarrierError {
	t.Helper()
	var carrierErr *shipper.CarrierError
	require.True(t, errors.As(err, &carrierErr))
	return carrierErr
}
