// Package resilience provides the generic retry, fallback and audit-logging
// primitives the execution path is built on. Nothing here knows about
// positions or decisions.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
)

// ErrRetryExhausted wraps the last underlying cause once every attempt has
// been spent.
var ErrRetryExhausted = errors.New("retry exhausted")

// SleepFunc waits for d or until ctx is cancelled. Injected so tests and
// shutdown never block on wall-clock waits.
type SleepFunc func(ctx context.Context, d time.Duration) error

// CtxSleep is the production SleepFunc: a cancellable timer.
func CtxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry wraps an operation with transient-only retries and exponential
// backoff capped at MaxDelay.
type Retry struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Sleep       SleepFunc

	// Classify overrides transient detection when set.
	Classify func(error) bool
}

func NewRetry(maxAttempts int, base, max time.Duration) *Retry {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return &Retry{MaxAttempts: maxAttempts, BaseDelay: base, MaxDelay: max, Sleep: CtxSleep}
}

// Do runs op until it succeeds, fails terminally, or attempts are exhausted.
// Non-transient errors return immediately; exhaustion returns
// ErrRetryExhausted wrapping the last cause.
func (r *Retry) Do(ctx context.Context, op func() error) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = CtxSleep
	}
	classify := r.Classify
	if classify == nil {
		classify = IsTransient
	}
	delay := r.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !classify(lastErr) {
			return lastErr
		}
		if attempt == r.MaxAttempts {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if delay > r.MaxDelay {
			delay = r.MaxDelay
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, r.MaxAttempts, lastErr)
}

// Transient Binance API codes: disconnects, unknown send status, timestamp
// drift, rate limits.
var transientAPICodes = map[int64]bool{
	-1001: true,
	-1003: true,
	-1007: true,
	-1021: true,
}

// IsTransient classifies timeouts and connection-level failures as worth
// retrying. Everything else (bad request, insufficient balance, rejected
// order) is terminal for the retry layer.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return transientAPICodes[apiErr.Code]
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"connection refused", "connection reset", "broken pipe", "eof", "timeout", "temporarily unavailable"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
