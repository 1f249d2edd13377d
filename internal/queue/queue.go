// Package queue decouples decision-making from order execution: a bounded
// FIFO drained by exactly one worker goroutine. A single worker is
// intentional; order submission for one account is not safely parallelizable
// without extra coordination, and sequential processing sidesteps that
// entirely while keeping ordering deterministic.
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentinel/internal/logger"
	"sentinel/internal/resilience"
	"sentinel/internal/types"
)

// ErrRejected signals that the execution pipeline refused the order on
// purpose. The queue marks such orders REJECTED instead of retrying or
// counting them as executed.
var ErrRejected = errors.New("order rejected")

// ExecuteFunc submits one order attempt. The queue owns retry scheduling;
// the function just reports success or failure. Wrapping ErrRejected marks
// the order REJECTED terminally.
type ExecuteFunc func(ctx context.Context, order types.Order) error

// ObserverFunc receives a snapshot of every order lifecycle transition.
type ObserverFunc func(order types.Order)

type observer struct {
	name string
	fn   ObserverFunc
}

// Request is the work handed to Enqueue: the order parameters plus the
// position and decision that produced them.
type Request struct {
	Symbol     string
	Side       types.OrderSide
	Quantity   float64
	ReduceOnly bool
	Position   types.Position
	Decision   types.Decision
}

// Options tune the queue; zero values fall back to defaults.
type Options struct {
	Capacity    int
	MaxRetries  int
	BackoffBase time.Duration
	Sleep       resilience.SleepFunc
	// Classify reports whether an execution error is worth another
	// attempt. Nil retries everything up to MaxRetries.
	Classify func(error) bool
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = 64
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.Sleep == nil {
		o.Sleep = resilience.CtxSleep
	}
	return o
}

// Queue is the thread-safe execution buffer.
type Queue struct {
	opts   Options
	execFn ExecuteFunc

	ch     chan string
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	orders    map[string]*types.Order
	observers []observer
}

func New(execFn ExecuteFunc, opts Options) *Queue {
	return &Queue{
		opts:   opts.withDefaults(),
		execFn: execFn,
		ch:     make(chan string, opts.withDefaults().Capacity),
		stopCh: make(chan struct{}),
		orders: make(map[string]*types.Order),
	}
}

// Subscribe registers an observer for lifecycle transitions. Observer
// failures are isolated per observer and never abort order processing.
func (q *Queue) Subscribe(name string, fn ObserverFunc) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.observers = append(q.observers, observer{name: name, fn: fn})
	q.mu.Unlock()
}

// Start launches the worker goroutine.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.runLoop(ctx)
}

// Stop shuts the worker down and waits for the in-flight order to reach a
// terminal state.
func (q *Queue) Stop() {
	close(q.stopCh)
	q.wg.Wait()
}

// Enqueue creates a PENDING order and hands it to the worker. Returns the
// created order snapshot, or an error when the queue is full or stopped.
func (q *Queue) Enqueue(req Request) (types.Order, error) {
	if req.Quantity <= 0 {
		return types.Order{}, fmt.Errorf("queue: quantity must be positive, got %v", req.Quantity)
	}
	now := time.Now().UTC()
	order := &types.Order{
		ID:         uuid.NewString(),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Type:       "MARKET",
		ReduceOnly: req.ReduceOnly,
		Status:     types.OrderPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		Position:   req.Position,
		Decision:   req.Decision,
	}
	q.mu.Lock()
	q.orders[order.ID] = order
	q.mu.Unlock()

	select {
	case q.ch <- order.ID:
	case <-q.stopCh:
		q.setStatus(order.ID, types.OrderCancelled, "queue stopped")
		return q.snapshot(order.ID), fmt.Errorf("queue stopped")
	default:
		q.setStatus(order.ID, types.OrderCancelled, "queue full")
		return q.snapshot(order.ID), fmt.Errorf("queue full (capacity %d)", q.opts.Capacity)
	}
	q.notify(q.snapshot(order.ID))
	return q.snapshot(order.ID), nil
}

// Cancel marks an order CANCELLED. Cancellation is honored only while the
// order is still PENDING; once the worker picks it up it runs to a terminal
// state.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	order, ok := q.orders[id]
	if !ok || order.Status != types.OrderPending {
		q.mu.Unlock()
		return false
	}
	order.Status = types.OrderCancelled
	order.UpdatedAt = time.Now().UTC()
	snap := *order
	q.mu.Unlock()
	q.notify(snap)
	return true
}

// Get returns a snapshot of one order.
func (q *Queue) Get(id string) (types.Order, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	order, ok := q.orders[id]
	if !ok {
		return types.Order{}, false
	}
	return *order, true
}

// History returns snapshots of every order ever enqueued. Orders never
// disappear: total history always equals the enqueued count.
func (q *Queue) History() []types.Order {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]types.Order, 0, len(q.orders))
	for _, order := range q.orders {
		out = append(out, *order)
	}
	return out
}

func (q *Queue) runLoop(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case id := <-q.ch:
			q.process(ctx, id)
		}
	}
}

func (q *Queue) process(ctx context.Context, id string) {
	q.mu.Lock()
	order, ok := q.orders[id]
	if !ok || order.Status != types.OrderPending {
		// Cancelled while waiting in the channel.
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	delay := q.opts.BackoffBase
	for attempt := 1; attempt <= q.opts.MaxRetries; attempt++ {
		q.setAttempt(id, attempt)
		q.notify(q.setStatus(id, types.OrderProcessing, ""))

		err := q.execFn(ctx, q.snapshot(id))
		if err == nil {
			q.notify(q.setStatus(id, types.OrderExecuted, ""))
			return
		}
		if errors.Is(err, ErrRejected) {
			logger.Infof("Queue: order %s rejected: %v", id, err)
			q.notify(q.setStatus(id, types.OrderRejected, err.Error()))
			return
		}
		if q.opts.Classify != nil && !q.opts.Classify(err) {
			logger.Errorf("Queue: order %s failed terminally: %v", id, err)
			q.notify(q.setStatus(id, types.OrderFailed, err.Error()))
			return
		}
		if attempt == q.opts.MaxRetries {
			logger.Errorf("Queue: order %s failed after %d attempts: %v", id, attempt, err)
			q.notify(q.setStatus(id, types.OrderFailed, err.Error()))
			return
		}
		logger.Warnf("Queue: order %s attempt %d failed, retrying in %s: %v", id, attempt, delay, err)
		q.notify(q.setStatus(id, types.OrderRetrying, err.Error()))
		if sleepErr := q.opts.Sleep(ctx, delay); sleepErr != nil {
			q.notify(q.setStatus(id, types.OrderFailed, fmt.Sprintf("shutdown during backoff: %v", err)))
			return
		}
		delay *= 2
	}
}

func (q *Queue) snapshot(id string) types.Order {
	q.mu.Lock()
	defer q.mu.Unlock()
	if order, ok := q.orders[id]; ok {
		return *order
	}
	return types.Order{}
}

func (q *Queue) setStatus(id string, status types.OrderStatus, lastErr string) types.Order {
	q.mu.Lock()
	defer q.mu.Unlock()
	order, ok := q.orders[id]
	if !ok {
		return types.Order{}
	}
	order.Status = status
	if lastErr != "" {
		order.LastError = lastErr
	}
	order.UpdatedAt = time.Now().UTC()
	return *order
}

func (q *Queue) setAttempt(id string, attempt int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if order, ok := q.orders[id]; ok {
		order.Attempt = attempt
	}
}

func (q *Queue) notify(snap types.Order) {
	if snap.ID == "" {
		return
	}
	q.mu.Lock()
	observers := make([]observer, len(q.observers))
	copy(observers, q.observers)
	q.mu.Unlock()

	for _, obs := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("Queue: observer %s panicked: %v\n%s", obs.name, r, debug.Stack())
				}
			}()
			obs.fn(snap)
		}()
	}
}
