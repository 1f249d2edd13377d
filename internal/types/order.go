package types

import "time"

// OrderSide is the exchange-facing side of a closing order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus tracks an order through the execution queue.
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderExecuted   OrderStatus = "EXECUTED"
	OrderRetrying   OrderStatus = "RETRYING"
	OrderFailed     OrderStatus = "FAILED"
	OrderCancelled  OrderStatus = "CANCELLED"
	// OrderRejected means the execution guards refused the order. Unlike
	// FAILED, nothing went wrong; the system declined to trade.
	OrderRejected OrderStatus = "REJECTED"
)

// Terminal reports whether the status ends the order lifecycle.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderExecuted, OrderFailed, OrderCancelled, OrderRejected:
		return true
	default:
		return false
	}
}

// Order is a unit of execution work. It is created when enqueued, mutated
// only by the queue worker, and retained read-only in the queue history once
// terminal.
type Order struct {
	ID         string      `json:"id"`
	Symbol     string      `json:"symbol"`
	Side       OrderSide   `json:"side"`
	Quantity   float64     `json:"quantity"`
	Type       string      `json:"type"`
	ReduceOnly bool        `json:"reduce_only"`
	Status     OrderStatus `json:"status"`
	Attempt    int         `json:"attempt"`
	LastError  string      `json:"last_error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`

	// Execution context, carried so the queue worker can run the full
	// execution pipeline without a side channel back to the producer.
	Position Position `json:"position"`
	Decision Decision `json:"decision"`
}
