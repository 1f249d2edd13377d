package model

import (
	"gorm.io/datatypes"
)

type PositionSnapshotModel struct {
	ID               int64   `gorm:"column:id;primaryKey"`
	Symbol           string  `gorm:"column:symbol;index"`
	Direction        string  `gorm:"column:direction"`
	EntryPrice       float64 `gorm:"column:entry_price"`
	MarkPrice        float64 `gorm:"column:mark_price"`
	LiquidationPrice float64 `gorm:"column:liquidation_price"`
	Quantity         float64 `gorm:"column:quantity"`
	Leverage         float64 `gorm:"column:leverage"`
	MarginType       string  `gorm:"column:margin_type"`
	UnrealizedPnl    float64 `gorm:"column:unrealized_pnl"`
	UnrealizedPnlPct float64 `gorm:"column:unrealized_pnl_pct"`
	CreatedAtUnix    int64   `gorm:"column:created_at;index"`
}

func (PositionSnapshotModel) TableName() string { return "position_snapshots" }

type ExecutionLogModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	TraceID       string         `gorm:"column:trace_id;index"`
	Symbol        string         `gorm:"column:symbol;index"`
	Action        string         `gorm:"column:action"`
	Side          string         `gorm:"column:side"`
	Quantity      float64        `gorm:"column:quantity"`
	Executed      bool           `gorm:"column:executed"`
	Reason        string         `gorm:"column:reason"`
	OrderID       int64          `gorm:"column:order_id"`
	FillPrice     float64        `gorm:"column:fill_price"`
	FillQuantity  float64        `gorm:"column:fill_quantity"`
	Commission    float64        `gorm:"column:commission"`
	Confidence    float64        `gorm:"column:confidence"`
	RiskScore     float64        `gorm:"column:risk_score"`
	DecisionJSON  datatypes.JSON `gorm:"column:decision_json;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at;index"`
}

func (ExecutionLogModel) TableName() string { return "execution_logs" }

type OpportunityModel struct {
	ID             string  `gorm:"column:id;primaryKey"`
	Symbol         string  `gorm:"column:symbol;index"`
	Direction      string  `gorm:"column:direction"`
	EntryPrice     float64 `gorm:"column:entry_price"`
	Confluence     int     `gorm:"column:confluence"`
	DrawdownPct    float64 `gorm:"column:drawdown_pct"`
	RecentTrades24 int     `gorm:"column:recent_trades_24h"`
	TakeProfit     float64 `gorm:"column:take_profit"`
	StopLoss       float64 `gorm:"column:stop_loss"`
	Status         string  `gorm:"column:status;index"`
	RegisteredAt   int64   `gorm:"column:registered_at;index"`

	MaxPriceReached    float64 `gorm:"column:max_price_reached"`
	MinPriceReached    float64 `gorm:"column:min_price_reached"`
	WouldHaveWon       bool    `gorm:"column:would_have_won"`
	ProfitPctIfEntered float64 `gorm:"column:profit_pct_if_entered"`
	Quality            string  `gorm:"column:quality"`
	ContextualReward   float64 `gorm:"column:contextual_reward"`
	EvaluatedAt        int64   `gorm:"column:evaluated_at"`
}

func (OpportunityModel) TableName() string { return "missed_opportunities" }

// TradeOutcomeModel feeds the adaptive overlay: one row per judged outcome,
// whether a realized execution or an evaluated missed opportunity.
type TradeOutcomeModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	Symbol        string  `gorm:"column:symbol;index"`
	Won           bool    `gorm:"column:won"`
	Reward        float64 `gorm:"column:reward"`
	Source        string  `gorm:"column:source"`
	CreatedAtUnix int64   `gorm:"column:created_at;index"`
}

func (TradeOutcomeModel) TableName() string { return "trade_outcomes" }
