// Package decision turns a position snapshot plus indicator, structure and
// sentiment data into a bounded action with a confidence and risk score. The
// evaluator is a pure function of its inputs: no clock reads, no I/O, no
// mutation of shared state, so it can run repeatedly and safely on retry.
package decision

import (
	"time"

	"sentinel/internal/types"
)

// IndicatorBundle carries the technical values for one evaluation. Nil
// pointers mean the value was unavailable this cycle; each rule degrades to
// "no signal" on missing inputs instead of failing the whole evaluation.
type IndicatorBundle struct {
	RSI            *float64
	EMA17          *float64
	EMA34          *float64
	EMA72          *float64
	EMA144         *float64
	MACD           *float64
	MACDSignal     *float64
	BollingerUpper *float64
	BollingerMid   *float64
	BollingerLower *float64
	ATR            *float64
	ADX            *float64
}

// StructureBias is the prevailing market-structure direction.
type StructureBias string

const (
	BiasBullish StructureBias = "BULLISH"
	BiasBearish StructureBias = "BEARISH"
	BiasNeutral StructureBias = "NEUTRAL"
)

// Zone classifies price within the current dealing range.
type Zone string

const (
	ZonePremium     Zone = "PREMIUM"
	ZoneDiscount    Zone = "DISCOUNT"
	ZoneEquilibrium Zone = "EQUILIBRIUM"
)

// MarketStructure is the SMC view of one symbol: structural bias, recent
// break-of-structure / change-of-character flags, and the nearest order
// blocks and liquidity pools on either side of price.
type MarketStructure struct {
	Bias        StructureBias
	RecentBOS   bool
	RecentCHoCH bool
	Zone        Zone

	// Prices; zero means no level detected on that side.
	OrderBlockBelow float64
	OrderBlockAbove float64
	LiquidityBelow  float64
	LiquidityAbove  float64
}

// SentimentSnapshot carries positioning/sentiment context.
type SentimentSnapshot struct {
	FundingRate    *float64
	LongShortRatio *float64
}

// OutcomeStats is the rolling per-symbol outcome profile the adaptive
// overlay consults.
type OutcomeStats struct {
	Symbol    string
	Wins      int
	Losses    int
	AvgReward float64
}

func (o OutcomeStats) Total() int { return o.Wins + o.Losses }

// LossRate returns the fraction of losing outcomes, or 0 with no samples.
func (o OutcomeStats) LossRate() float64 {
	total := o.Total()
	if total == 0 {
		return 0
	}
	return float64(o.Losses) / float64(total)
}

// Input is everything one evaluation consumes. AccountBalance is nil when
// the balance call failed; the margin rule compensates rather than assuming
// maximum risk.
type Input struct {
	Position       types.Position
	Indicators     IndicatorBundle
	Structure      MarketStructure
	Sentiment      SentimentSnapshot
	AccountBalance *float64
	Outcomes       []OutcomeStats
	Now            time.Time
}

// RuleOutcome is what each rule contributes: an action suggestion (HOLD
// means "no opinion"), the confidence attached to a forced action, a signed
// risk delta and human-readable reasons.
type RuleOutcome struct {
	Suggest    types.Action
	Confidence float64
	RiskDelta  float64
	Reasons    []string
}

// Rule is one pure step of the evaluation chain.
type Rule func(in Input, cfg Config) RuleOutcome
