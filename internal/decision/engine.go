package decision

import (
	"math"

	"sentinel/internal/types"
)

const (
	baseRiskScore = 5.0
	maxRiskScore  = 10.0
)

// Engine evaluates open positions against the rule chain.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate folds the rule chain over the input. The accumulated action can
// only escalate (HOLD < REDUCE_50 < CLOSE); risk starts at the base score
// and is clamped to [0,10], with the cross-margin multiplier applied last.
func (e *Engine) Evaluate(in Input) types.Decision {
	d := types.Decision{
		Symbol: in.Position.Symbol,
		Action: types.ActionHold,
	}
	risk := baseRiskScore
	for _, rule := range chain {
		out := rule(in, e.cfg)
		risk += out.RiskDelta
		d.Reasoning = append(d.Reasoning, out.Reasons...)
		if escalated := d.Action.Escalate(out.Suggest); escalated != d.Action {
			d.Action = escalated
			d.Confidence = out.Confidence
		} else if out.Suggest == d.Action && d.Action != types.ActionHold && out.Confidence > d.Confidence {
			d.Confidence = out.Confidence
		}
	}

	risk = clampRisk(risk)
	if in.Position.MarginType == types.MarginCross {
		risk = clampRisk(risk * e.cfg.CrossMarginMultiplier)
	}
	d.RiskScore = risk

	if d.Action == types.ActionHold {
		d.Confidence = 1 - risk/maxRiskScore
	}

	levels := suggestLevels(in, e.cfg)
	d.StopLossSuggested = levels.Stop
	d.StopSource = levels.StopSource
	d.TakeProfitSuggested = levels.TakeProfit
	d.TakeProfitSource = levels.TakeProfitSource
	return d
}

func clampRisk(v float64) float64 {
	if math.IsNaN(v) {
		return baseRiskScore
	}
	if v < 0 {
		return 0
	}
	if v > maxRiskScore {
		return maxRiskScore
	}
	return v
}
