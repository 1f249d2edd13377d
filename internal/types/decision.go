package types

// Action is the bounded output of one position evaluation.
type Action int

const (
	ActionHold Action = iota
	ActionReduce50
	ActionClose
)

func (a Action) String() string {
	switch a {
	case ActionHold:
		return "HOLD"
	case ActionReduce50:
		return "REDUCE_50"
	case ActionClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// Escalate merges a suggested action into the current one. Action priority
// is monotone within one evaluation pass: HOLD < REDUCE_50 < CLOSE, and a
// later rule can only upgrade, never downgrade, the pending action.
func (a Action) Escalate(suggested Action) Action {
	if suggested > a {
		return suggested
	}
	return a
}

// LevelSource identifies which analysis produced a suggested stop or target.
type LevelSource string

const (
	LevelSourceATR        LevelSource = "ATR"
	LevelSourceOrderBlock LevelSource = "SMC_OB+ATR"
	LevelSourceLiquidity  LevelSource = "SMC_LIQUIDITY"
)

// Decision is the outcome of evaluating one open position for one cycle.
type Decision struct {
	Symbol              string      `json:"symbol"`
	Action              Action      `json:"action"`
	Confidence          float64     `json:"confidence"`
	RiskScore           float64     `json:"risk_score"`
	Reasoning           []string    `json:"reasoning"`
	StopLossSuggested   float64     `json:"stop_loss_suggested,omitempty"`
	TakeProfitSuggested float64     `json:"take_profit_suggested,omitempty"`
	StopSource          LevelSource `json:"stop_source,omitempty"`
	TakeProfitSource    LevelSource `json:"take_profit_source,omitempty"`
}
