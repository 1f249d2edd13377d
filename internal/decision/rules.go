package decision

import (
	"fmt"

	"sentinel/internal/types"
)

// chain is the ordered rule list the engine folds over. Order matters:
// hard-exit rules come first so their confidences win the escalation merge.
var chain = []Rule{
	ruleMarginType,
	ruleLiquidationProximity,
	ruleHardStop,
	ruleMarketStructure,
	ruleCHoCH,
	ruleRSIEMAConfluence,
	ruleFunding,
	ruleVolatilityExpansion,
	ruleAdaptive,
}

// ruleMarginType charges cross-margin positions for their account-wide blast
// radius. When the balance call failed, a small PnL-signed compensation is
// applied instead of defaulting to maximum risk: an auxiliary API failure is
// not evidence the position got riskier.
func ruleMarginType(in Input, cfg Config) RuleOutcome {
	pos := in.Position
	if pos.MarginType != types.MarginCross {
		return RuleOutcome{}
	}
	out := RuleOutcome{
		RiskDelta: cfg.CrossMarginPenalty,
		Reasons:   []string{"cross margin exposes the whole account balance"},
	}
	if in.AccountBalance != nil && *in.AccountBalance > 0 {
		ratio := pos.MarginInvested() / *in.AccountBalance
		if ratio > cfg.CrossBalanceRatioLimit {
			out.RiskDelta += 1.5
			out.Reasons = append(out.Reasons,
				fmt.Sprintf("margin invested is %.0f%% of account balance (limit %.0f%%)",
					ratio*100, cfg.CrossBalanceRatioLimit*100))
		}
		return out
	}
	pnlPct := pos.UnrealizedPnlPct
	switch {
	case pnlPct >= cfg.BalanceFallbackProfitPct:
		out.RiskDelta -= cfg.BalanceFallbackRelief
		out.Reasons = append(out.Reasons,
			fmt.Sprintf("balance unavailable, large positive PnL %.1f%% relieves risk", pnlPct))
	case pnlPct < 0:
		out.RiskDelta += cfg.BalanceFallbackPenalty
		out.Reasons = append(out.Reasons,
			fmt.Sprintf("balance unavailable, negative PnL %.1f%% adds caution", pnlPct))
	default:
		out.Reasons = append(out.Reasons, "balance unavailable, PnL flat, no adjustment")
	}
	return out
}

// ruleLiquidationProximity forces a close when mark price sits inside the
// liquidation danger band. Cross margin gets the wider band: liquidation
// there drains the whole account, not just the position's margin.
func ruleLiquidationProximity(in Input, cfg Config) RuleOutcome {
	pos := in.Position
	dist := pos.LiquidationDistancePct()
	if dist < 0 {
		return RuleOutcome{}
	}
	threshold := cfg.LiqThresholdIsolated
	if pos.MarginType == types.MarginCross {
		threshold = cfg.LiqThresholdCross
	}
	if dist >= threshold {
		return RuleOutcome{}
	}
	return RuleOutcome{
		Suggest:    types.ActionClose,
		Confidence: 0.95,
		RiskDelta:  3,
		Reasons: []string{fmt.Sprintf("mark within %.2f%% of liquidation (threshold %.1f%% for %s margin)",
			dist, threshold, pos.MarginType)},
	}
}

// ruleHardStop closes any position whose loss exceeds the configured maximum
// stop distance, measured against margin invested.
func ruleHardStop(in Input, cfg Config) RuleOutcome {
	pnlPct := in.Position.UnrealizedPnlPct
	if pnlPct >= -cfg.MaxStopDistancePct {
		return RuleOutcome{}
	}
	return RuleOutcome{
		Suggest:    types.ActionClose,
		Confidence: 0.90,
		RiskDelta:  2,
		Reasons: []string{fmt.Sprintf("hard stop breached: PnL %.2f%% below -%.1f%% limit",
			pnlPct, cfg.MaxStopDistancePct)},
	}
}

func structureAdverse(dir types.Direction, bias StructureBias) bool {
	return (dir == types.DirectionLong && bias == BiasBearish) ||
		(dir == types.DirectionShort && bias == BiasBullish)
}

func structureFavorable(dir types.Direction, bias StructureBias) bool {
	return (dir == types.DirectionLong && bias == BiasBullish) ||
		(dir == types.DirectionShort && bias == BiasBearish)
}

// ruleMarketStructure treats a realized structural reversal against the
// position as a mandatory exit; aligned structure relieves risk, more when a
// break of structure recently confirmed it.
func ruleMarketStructure(in Input, _ Config) RuleOutcome {
	st := in.Structure
	dir := in.Position.Direction
	if st.Bias == "" || st.Bias == BiasNeutral {
		return RuleOutcome{}
	}
	if structureAdverse(dir, st.Bias) {
		return RuleOutcome{
			Suggest:    types.ActionClose,
			Confidence: 0.92,
			RiskDelta:  2,
			Reasons:    []string{fmt.Sprintf("market structure %s against %s position", st.Bias, dir)},
		}
	}
	if structureFavorable(dir, st.Bias) {
		delta := -1.0
		reason := fmt.Sprintf("market structure %s aligned with %s position", st.Bias, dir)
		if st.RecentBOS {
			delta = -1.5
			reason += ", confirmed by break of structure"
		}
		return RuleOutcome{RiskDelta: delta, Reasons: []string{reason}}
	}
	return RuleOutcome{}
}

// ruleCHoCH escalates on a change of character while structure is not on the
// position's side: full close for a losing position, half out for a winner.
func ruleCHoCH(in Input, _ Config) RuleOutcome {
	st := in.Structure
	if !st.RecentCHoCH || structureFavorable(in.Position.Direction, st.Bias) {
		return RuleOutcome{}
	}
	if in.Position.UnrealizedPnlPct < 0 {
		return RuleOutcome{
			Suggest:    types.ActionClose,
			Confidence: 0.85,
			RiskDelta:  1.5,
			Reasons:    []string{"change of character against a losing position"},
		}
	}
	return RuleOutcome{
		Suggest:    types.ActionReduce50,
		Confidence: 0.80,
		RiskDelta:  1,
		Reasons:    []string{"change of character against a winning position, de-risking half"},
	}
}

// ruleRSIEMAConfluence applies symmetric long/short momentum rules: RSI at
// the position's unfavorable extreme or price on the wrong side of the
// long-period EMA triggers a reduction (profit) or close (loss); favorable
// alignment and a monotonic EMA stack relieve risk.
func ruleRSIEMAConfluence(in Input, cfg Config) RuleOutcome {
	ind := in.Indicators
	pos := in.Position
	long := pos.Direction == types.DirectionLong

	var out RuleOutcome

	unfavorableRSI := false
	favorableRSI := false
	if ind.RSI != nil {
		if long {
			unfavorableRSI = *ind.RSI >= cfg.RSIOverbought
			favorableRSI = *ind.RSI > cfg.RSIOversold && *ind.RSI < cfg.RSIOverbought
		} else {
			unfavorableRSI = *ind.RSI <= cfg.RSIOversold
			favorableRSI = *ind.RSI > cfg.RSIOversold && *ind.RSI < cfg.RSIOverbought
		}
	}

	wrongSideEMA := false
	rightSideEMA := false
	if ind.EMA144 != nil && pos.MarkPrice > 0 {
		if long {
			wrongSideEMA = pos.MarkPrice < *ind.EMA144
			rightSideEMA = !wrongSideEMA
		} else {
			wrongSideEMA = pos.MarkPrice > *ind.EMA144
			rightSideEMA = !wrongSideEMA
		}
	}

	if unfavorableRSI || wrongSideEMA {
		reason := "momentum adverse:"
		if unfavorableRSI {
			reason += fmt.Sprintf(" RSI %.1f at unfavorable extreme", *ind.RSI)
		}
		if wrongSideEMA {
			reason += " price on wrong side of EMA144"
		}
		out.RiskDelta += 1
		out.Reasons = append(out.Reasons, reason)
		if pos.UnrealizedPnlPct < 0 {
			out.Suggest = types.ActionClose
			out.Confidence = 0.80
		} else {
			out.Suggest = types.ActionReduce50
			out.Confidence = 0.75
		}
	} else if favorableRSI && rightSideEMA {
		out.RiskDelta -= 0.5
		out.Reasons = append(out.Reasons, "RSI and EMA144 aligned with position")
	}

	if stack, ok := emaStackDirection(ind); ok {
		bullishStack := stack > 0
		if bullishStack == long {
			out.RiskDelta -= 0.5
			out.Reasons = append(out.Reasons, "EMA stack monotonic in trend direction")
		} else {
			out.RiskDelta += 0.5
			out.Reasons = append(out.Reasons, "EMA stack monotonic against position")
		}
	}
	return out
}

// emaStackDirection returns +1 for a strictly bullish EMA17>34>72>144 stack,
// -1 for the strict inverse, and ok=false when not monotonic or incomplete.
func emaStackDirection(ind IndicatorBundle) (int, bool) {
	if ind.EMA17 == nil || ind.EMA34 == nil || ind.EMA72 == nil || ind.EMA144 == nil {
		return 0, false
	}
	e17, e34, e72, e144 := *ind.EMA17, *ind.EMA34, *ind.EMA72, *ind.EMA144
	if e17 > e34 && e34 > e72 && e72 > e144 {
		return 1, true
	}
	if e17 < e34 && e34 < e72 && e72 < e144 {
		return -1, true
	}
	return 0, false
}

// ruleFunding trims positions paying extreme funding: positive extremes bleed
// longs, negative extremes bleed shorts.
func ruleFunding(in Input, cfg Config) RuleOutcome {
	rate := in.Sentiment.FundingRate
	if rate == nil {
		return RuleOutcome{}
	}
	long := in.Position.Direction == types.DirectionLong
	adverse := (long && *rate > cfg.FundingExtreme) || (!long && *rate < -cfg.FundingExtreme)
	if !adverse {
		return RuleOutcome{}
	}
	return RuleOutcome{
		Suggest:    types.ActionReduce50,
		Confidence: 0.75,
		RiskDelta:  1,
		Reasons:    []string{fmt.Sprintf("funding rate %.4f%% adverse to %s position", *rate*100, in.Position.Direction)},
	}
}

// ruleVolatilityExpansion adds risk without changing the action when ATR
// exceeds the configured share of price.
func ruleVolatilityExpansion(in Input, cfg Config) RuleOutcome {
	atr := in.Indicators.ATR
	if atr == nil || in.Position.MarkPrice <= 0 {
		return RuleOutcome{}
	}
	pct := *atr / in.Position.MarkPrice * 100
	if pct <= cfg.ATRExpansionPct {
		return RuleOutcome{}
	}
	return RuleOutcome{
		RiskDelta: 1,
		Reasons:   []string{fmt.Sprintf("volatility expansion: ATR is %.1f%% of price", pct)},
	}
}

// ruleAdaptive consults the rolling per-symbol outcome profile. Recently
// adverse symbols escalate toward exit; one net-positive symbol dominating
// the sample nudges toward partial de-risking to limit concentration.
func ruleAdaptive(in Input, cfg Config) RuleOutcome {
	var (
		mine     *OutcomeStats
		totalAll int
	)
	for i := range in.Outcomes {
		o := in.Outcomes[i]
		totalAll += o.Total()
		if o.Symbol == in.Position.Symbol {
			mine = &in.Outcomes[i]
		}
	}
	if mine == nil || mine.Total() < cfg.AdaptiveMinSampleSize {
		return RuleOutcome{}
	}

	if mine.LossRate() >= cfg.AdaptiveLossRateThreshold || mine.AvgReward < cfg.AdaptiveAvgRewardFloor {
		out := RuleOutcome{
			RiskDelta: 1.5,
			Reasons: []string{fmt.Sprintf("recent outcomes adverse for %s: loss rate %.0f%%, avg reward %.2f",
				mine.Symbol, mine.LossRate()*100, mine.AvgReward)},
		}
		if in.Position.UnrealizedPnlPct < 0 {
			out.Suggest = types.ActionClose
			out.Confidence = 0.80
		} else {
			out.Suggest = types.ActionReduce50
			out.Confidence = 0.75
		}
		return out
	}

	if totalAll > 0 && mine.AvgReward > 0 {
		share := float64(mine.Total()) / float64(totalAll)
		if share >= cfg.AdaptiveConcentrationShare {
			return RuleOutcome{
				Suggest:    types.ActionReduce50,
				Confidence: 0.70,
				RiskDelta:  0.5,
				Reasons: []string{fmt.Sprintf("%s dominates recent outcomes (%.0f%% of sample), de-risking concentration",
					mine.Symbol, share*100)},
			}
		}
	}
	return RuleOutcome{}
}
