// Package exchange defines the normalized boundary between sentinel and any
// derivatives exchange. The core never inspects wire-format field names; the
// gateway implementation maps them into these types explicitly.
package exchange

import (
	"context"

	"sentinel/internal/types"
)

// OrderRequest is a normalized order submission.
type OrderRequest struct {
	Symbol     string
	Side       types.OrderSide
	Type       string
	Quantity   float64
	ReduceOnly bool
}

// OrderResult is the normalized outcome of a submitted order. Fill fields
// are extracted defensively; exchanges do not populate every field on every
// response shape, so zero values mean "not reported", not "zero fill".
type OrderResult struct {
	OrderID      int64
	Status       string
	ExecutedQty  float64
	AvgFillPrice float64
	Commission   float64
	Raw          string
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime  int64
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Client is the exchange collaborator the core consumes.
type Client interface {
	// GetOpenPositions returns open positions, optionally filtered by symbol
	// (empty string means all).
	GetOpenPositions(ctx context.Context, symbol string) ([]types.Position, error)
	// GetAccountBalance returns the total account balance in the stake
	// currency. A non-nil error means the balance is unobtainable this cycle;
	// callers must degrade, not assume zero.
	GetAccountBalance(ctx context.Context) (float64, error)
	// PlaceOrder submits an order and returns the normalized result.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	// GetSymbolPrecision returns the quantity precision (decimal places) for
	// a symbol.
	GetSymbolPrecision(ctx context.Context, symbol string) (int, error)
	// GetFundingRate returns the current funding rate for a symbol.
	GetFundingRate(ctx context.Context, symbol string) (float64, error)
	// FetchCandles returns up to limit recent closed candles.
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}
