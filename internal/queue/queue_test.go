package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sentinel/internal/types"
)

func waitTerminal(t *testing.T, ch <-chan types.Order) types.Order {
	t.Helper()
	select {
	case order := <-ch:
		return order
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal order state")
		return types.Order{}
	}
}

func newTestQueue(execFn ExecuteFunc, sleeps *[]time.Duration) (*Queue, <-chan types.Order) {
	var mu sync.Mutex
	q := New(execFn, Options{
		Capacity:    8,
		MaxRetries:  3,
		BackoffBase: time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			mu.Lock()
			defer mu.Unlock()
			if sleeps != nil {
				*sleeps = append(*sleeps, d)
			}
			return nil
		},
	})
	terminal := make(chan types.Order, 8)
	q.Subscribe("test", func(order types.Order) {
		if order.Status.Terminal() {
			terminal <- order
		}
	})
	return q, terminal
}

func TestQueueExecutesInOrder(t *testing.T) {
	var mu sync.Mutex
	var executed []string
	q, terminal := newTestQueue(func(_ context.Context, order types.Order) error {
		mu.Lock()
		executed = append(executed, order.Symbol)
		mu.Unlock()
		return nil
	}, nil)
	q.Start(context.Background())
	defer q.Stop()

	for _, symbol := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		_, err := q.Enqueue(Request{Symbol: symbol, Side: types.SideSell, Quantity: 1, ReduceOnly: true})
		assert.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		order := waitTerminal(t, terminal)
		assert.Equal(t, types.OrderExecuted, order.Status)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, executed)
}

func TestQueueRetriesWithBackoffThenFails(t *testing.T) {
	var sleeps []time.Duration
	attempts := 0
	q, terminal := newTestQueue(func(context.Context, types.Order) error {
		attempts++
		return errors.New("exchange unavailable")
	}, &sleeps)
	q.Start(context.Background())
	defer q.Stop()

	_, err := q.Enqueue(Request{Symbol: "BTCUSDT", Side: types.SideSell, Quantity: 2, ReduceOnly: true})
	assert.NoError(t, err)

	order := waitTerminal(t, terminal)
	assert.Equal(t, types.OrderFailed, order.Status)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, order.Attempt)
	assert.Contains(t, order.LastError, "exchange unavailable")
	// Two backoffs between three attempts, doubling from the base.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps)
}

func TestQueueRecoversOnRetry(t *testing.T) {
	attempts := 0
	q, terminal := newTestQueue(func(context.Context, types.Order) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	q.Start(context.Background())
	defer q.Stop()

	_, err := q.Enqueue(Request{Symbol: "BTCUSDT", Side: types.SideSell, Quantity: 1, ReduceOnly: true})
	assert.NoError(t, err)

	order := waitTerminal(t, terminal)
	assert.Equal(t, types.OrderExecuted, order.Status)
	assert.Equal(t, 3, order.Attempt)
}

func TestQueueCancelOnlyWhilePending(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	q, terminal := newTestQueue(func(_ context.Context, order types.Order) error {
		close(started)
		<-release
		return nil
	}, nil)
	q.Start(context.Background())
	defer q.Stop()

	first, err := q.Enqueue(Request{Symbol: "BTCUSDT", Side: types.SideSell, Quantity: 1, ReduceOnly: true})
	assert.NoError(t, err)
	<-started

	// The worker is busy with the first order; the second is still PENDING.
	second, err := q.Enqueue(Request{Symbol: "ETHUSDT", Side: types.SideSell, Quantity: 1, ReduceOnly: true})
	assert.NoError(t, err)

	assert.False(t, q.Cancel(first.ID), "processing order must not be cancellable")
	assert.True(t, q.Cancel(second.ID))
	assert.False(t, q.Cancel(second.ID), "double cancel is rejected")

	close(release)
	cancelled := waitTerminal(t, terminal)
	assert.Equal(t, types.OrderCancelled, cancelled.Status)
	executed := waitTerminal(t, terminal)
	assert.Equal(t, types.OrderExecuted, executed.Status)
	assert.Equal(t, first.ID, executed.ID)

	got, ok := q.Get(second.ID)
	assert.True(t, ok)
	assert.Equal(t, types.OrderCancelled, got.Status)
}

func TestQueueHistoryRetainsEveryOrder(t *testing.T) {
	calls := 0
	q, terminal := newTestQueue(func(context.Context, types.Order) error {
		calls++
		if calls%2 == 0 {
			return errors.New("boom")
		}
		return nil
	}, nil)
	q.Start(context.Background())
	defer q.Stop()

	const n = 5
	for i := 0; i < n; i++ {
		_, err := q.Enqueue(Request{Symbol: "BTCUSDT", Side: types.SideSell, Quantity: 1, ReduceOnly: true})
		assert.NoError(t, err)
	}
	for i := 0; i < n; i++ {
		waitTerminal(t, terminal)
	}

	history := q.History()
	assert.Len(t, history, n)
	for _, order := range history {
		assert.True(t, order.Status.Terminal())
	}
}

func TestQueueRejectsInvalidQuantity(t *testing.T) {
	q, _ := newTestQueue(func(context.Context, types.Order) error { return nil }, nil)
	_, err := q.Enqueue(Request{Symbol: "BTCUSDT", Side: types.SideSell, Quantity: 0, ReduceOnly: true})
	assert.Error(t, err)
	assert.Empty(t, q.History())
}

func TestQueueObserverPanicDoesNotBreakProcessing(t *testing.T) {
	q, terminal := newTestQueue(func(context.Context, types.Order) error { return nil }, nil)
	q.Subscribe("panicky", func(types.Order) { panic("observer bug") })
	q.Start(context.Background())
	defer q.Stop()

	_, err := q.Enqueue(Request{Symbol: "BTCUSDT", Side: types.SideSell, Quantity: 1, ReduceOnly: true})
	assert.NoError(t, err)
	order := waitTerminal(t, terminal)
	assert.Equal(t, types.OrderExecuted, order.Status)
}

func TestQueueTerminalErrorSkipsRetries(t *testing.T) {
	attempts := 0
	terminal := make(chan types.Order, 1)
	q := New(func(context.Context, types.Order) error {
		attempts++
		return errors.New("rejected by guard")
	}, Options{
		Capacity:   4,
		MaxRetries: 3,
		Sleep:      func(context.Context, time.Duration) error { return nil },
		Classify:   func(error) bool { return false },
	})
	q.Subscribe("test", func(order types.Order) {
		if order.Status.Terminal() {
			terminal <- order
		}
	})
	q.Start(context.Background())
	defer q.Stop()

	_, err := q.Enqueue(Request{Symbol: "BTCUSDT", Side: types.SideSell, Quantity: 1, ReduceOnly: true})
	assert.NoError(t, err)
	order := waitTerminal(t, terminal)
	assert.Equal(t, types.OrderFailed, order.Status)
	assert.Equal(t, 1, attempts, "terminal errors must not be retried")
}

func TestQueueMarksGuardRefusalsRejected(t *testing.T) {
	attempts := 0
	q, terminal := newTestQueue(func(context.Context, types.Order) error {
		attempts++
		return fmt.Errorf("%w: confidence 0.60 below minimum 0.75", ErrRejected)
	}, nil)
	q.Start(context.Background())
	defer q.Stop()

	_, err := q.Enqueue(Request{Symbol: "BTCUSDT", Side: types.SideSell, Quantity: 1, ReduceOnly: true})
	assert.NoError(t, err)

	order := waitTerminal(t, terminal)
	assert.Equal(t, types.OrderRejected, order.Status, "a refused order must not read as executed")
	assert.Equal(t, 1, attempts, "a refusal is final, not retryable")
	assert.Contains(t, order.LastError, "below minimum")

	got, ok := q.Get(order.ID)
	assert.True(t, ok)
	assert.Equal(t, types.OrderRejected, got.Status)
}

func TestQueueFullRejectsAndMarksCancelled(t *testing.T) {
	q := New(func(context.Context, types.Order) error { return nil }, Options{Capacity: 1})
	// Worker never started: the channel fills after one order.
	first, err := q.Enqueue(Request{Symbol: "BTCUSDT", Side: types.SideSell, Quantity: 1, ReduceOnly: true})
	assert.NoError(t, err)
	assert.Equal(t, types.OrderPending, first.Status)

	second, err := q.Enqueue(Request{Symbol: "ETHUSDT", Side: types.SideSell, Quantity: 1, ReduceOnly: true})
	assert.Error(t, err)
	assert.Equal(t, types.OrderCancelled, second.Status)
}
