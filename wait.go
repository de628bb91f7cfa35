package fdcan

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go"
)

// WaitPolicy decides how long the driver polls for a hardware handshake
// (INIT, clock stop, cancellation finished). cond is polled until it
// returns true; what names the condition for error reporting.
type WaitPolicy interface {
	Wait(what string, cond func() bool) error
}

// BusyWait polls forever. It is the default. A peripheral that never
// acknowledges hangs the caller.
type BusyWait struct{}

func (BusyWait) Wait(_ string, cond func() bool) error {
	for !cond() {
	}
	return nil
}

var errNotYet = errors.New("condition not met")

// RetryWait polls a bounded number of times with a delay between attempts
// and returns a *TimeoutError when the condition never holds. Attempts
// below 1 poll once.
type RetryWait struct {
	Ctx      context.Context
	Attempts uint
	Delay    time.Duration
	// OnRetry is called after every failed poll when set.
	OnRetry func(n uint, what string)
}

// NewRetryWait returns a RetryWait polling attempts times, delay apart.
func NewRetryWait(attempts uint, delay time.Duration) *RetryWait {
	return &RetryWait{Ctx: context.Background(), Attempts: attempts, Delay: delay}
}

func (w *RetryWait) Wait(what string, cond func() bool) error {
	ctx := w.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	// retry-go treats 0 attempts as unlimited
	attempts := max(w.Attempts, 1)
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(w.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	}
	if w.OnRetry != nil {
		opts = append(opts, retry.OnRetry(func(n uint, _ error) {
			w.OnRetry(n, what)
		}))
	}
	err := retry.Do(func() error {
		if cond() {
			return nil
		}
		return errNotYet
	}, opts...)
	if err == nil {
		return nil
	}
	if errors.Is(err, errNotYet) {
		return &TimeoutError{What: what, Attempts: attempts}
	}
	return err
}
