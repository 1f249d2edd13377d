package types

// Direction of an open position.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// MarginType of an open position. Isolated risks only the margin allocated
// to the position; cross risks the entire account balance.
type MarginType string

const (
	MarginIsolated MarginType = "ISOLATED"
	MarginCross    MarginType = "CROSS"
)

// Position is a currently open leveraged position as reported by the
// exchange. Positions are fetched fresh each cycle and never mutated in
// place, only superseded by the next fetch.
type Position struct {
	Symbol           string     `json:"symbol"`
	Direction        Direction  `json:"direction"`
	EntryPrice       float64    `json:"entry_price"`
	MarkPrice        float64    `json:"mark_price"`
	LiquidationPrice float64    `json:"liquidation_price"`
	Quantity         float64    `json:"quantity"`
	Leverage         float64    `json:"leverage"`
	MarginType       MarginType `json:"margin_type"`
	UnrealizedPnl    float64    `json:"unrealized_pnl"`
	UnrealizedPnlPct float64    `json:"unrealized_pnl_pct"`
}

// Notional returns the position value at the mark price.
func (p Position) Notional() float64 {
	return p.MarkPrice * p.Quantity
}

// MarginInvested is the capital actually at risk: notional / leverage.
// Every PnL percentage in the system is computed against this figure, never
// against notional; the two differ by a factor of leverage and conflating
// them corrupts every downstream risk threshold.
func (p Position) MarginInvested() float64 {
	if p.Leverage <= 0 {
		return p.Notional()
	}
	return p.Notional() / p.Leverage
}

// PnlPct computes the unrealized PnL as a fraction of margin invested.
func (p Position) PnlPct() float64 {
	margin := p.MarginInvested()
	if margin <= 0 {
		return 0
	}
	return p.UnrealizedPnl / margin * 100
}

// LiquidationDistancePct returns |mark - liquidation| / mark in percent,
// or -1 when the exchange reported no liquidation price.
func (p Position) LiquidationDistancePct() float64 {
	if p.LiquidationPrice <= 0 || p.MarkPrice <= 0 {
		return -1
	}
	dist := p.MarkPrice - p.LiquidationPrice
	if dist < 0 {
		dist = -dist
	}
	return dist / p.MarkPrice * 100
}
