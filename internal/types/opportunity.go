package types

import "time"

// OpportunityStatus tracks the lifecycle of a missed opportunity record.
type OpportunityStatus string

const (
	OpportunityTracking  OpportunityStatus = "TRACKING"
	OpportunityEvaluated OpportunityStatus = "EVALUATED"
)

// OpportunityQuality classifies the hypothetical outcome by profit percent.
type OpportunityQuality string

const (
	QualityExcellent OpportunityQuality = "EXCELLENT"
	QualityGood      OpportunityQuality = "GOOD"
	QualityOK        OpportunityQuality = "OK"
	QualityBad       OpportunityQuality = "BAD"
)

// MissedOpportunity records a signal the system chose not to act on, plus the
// later judgment of whether staying out was wise. Created at signal time
// (TRACKING), evaluated exactly once after the lookback window (EVALUATED),
// never re-evaluated.
type MissedOpportunity struct {
	ID             string            `json:"id"`
	Symbol         string            `json:"symbol"`
	Direction      Direction         `json:"direction"`
	EntryPrice     float64           `json:"entry_price"`
	Confluence     int               `json:"confluence"`
	DrawdownPct    float64           `json:"drawdown_pct"`
	RecentTrades24 int               `json:"recent_trades_24h"`
	TakeProfit     float64           `json:"take_profit"`
	StopLoss       float64           `json:"stop_loss"`
	Status         OpportunityStatus `json:"status"`
	RegisteredAt   time.Time         `json:"registered_at"`

	// Populated at evaluation time.
	MaxPriceReached    float64            `json:"max_price_reached,omitempty"`
	MinPriceReached    float64            `json:"min_price_reached,omitempty"`
	WouldHaveWon       bool               `json:"would_have_won,omitempty"`
	ProfitPctIfEntered float64            `json:"profit_pct_if_entered,omitempty"`
	Quality            OpportunityQuality `json:"quality,omitempty"`
	ContextualReward   float64            `json:"contextual_reward,omitempty"`
	EvaluatedAt        time.Time          `json:"evaluated_at,omitempty"`
}
