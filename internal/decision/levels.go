package decision

import (
	"sentinel/internal/types"
)

const orderBlockATRBuffer = 0.5

// Levels is the suggested protective stop and take-profit with the analysis
// that produced each.
type Levels struct {
	Stop             float64
	StopSource       types.LevelSource
	TakeProfit       float64
	TakeProfitSource types.LevelSource
}

type levelCandidate struct {
	price  float64
	source types.LevelSource
}

// suggestLevels compares ATR-derived levels against SMC-derived ones (order
// block with a half-ATR buffer, opposing liquidity pool), picking the more
// conservative stop and the nearer take-profit on the correct side of entry.
func suggestLevels(in Input, cfg Config) Levels {
	pos := in.Position
	if pos.MarkPrice <= 0 {
		return Levels{}
	}
	long := pos.Direction == types.DirectionLong
	var atr float64
	if in.Indicators.ATR != nil && *in.Indicators.ATR > 0 {
		atr = *in.Indicators.ATR
	}

	var stops, targets []levelCandidate

	if atr > 0 {
		if long {
			stops = append(stops, levelCandidate{pos.MarkPrice - cfg.StopATRMultiplier*atr, types.LevelSourceATR})
			targets = append(targets, levelCandidate{pos.MarkPrice + cfg.TPATRMultiplier*atr, types.LevelSourceATR})
		} else {
			stops = append(stops, levelCandidate{pos.MarkPrice + cfg.StopATRMultiplier*atr, types.LevelSourceATR})
			targets = append(targets, levelCandidate{pos.MarkPrice - cfg.TPATRMultiplier*atr, types.LevelSourceATR})
		}
	}

	st := in.Structure
	if long {
		if st.OrderBlockBelow > 0 {
			stops = append(stops, levelCandidate{st.OrderBlockBelow - orderBlockATRBuffer*atr, types.LevelSourceOrderBlock})
		}
		if st.LiquidityAbove > 0 {
			targets = append(targets, levelCandidate{st.LiquidityAbove, types.LevelSourceLiquidity})
		}
	} else {
		if st.OrderBlockAbove > 0 {
			stops = append(stops, levelCandidate{st.OrderBlockAbove + orderBlockATRBuffer*atr, types.LevelSourceOrderBlock})
		}
		if st.LiquidityBelow > 0 {
			targets = append(targets, levelCandidate{st.LiquidityBelow, types.LevelSourceLiquidity})
		}
	}

	var out Levels

	// Conservative stop: the one that cuts losses soonest, so the highest
	// below-price stop for longs and the lowest above-price stop for shorts.
	for _, c := range stops {
		if c.price <= 0 {
			continue
		}
		if long && c.price >= pos.MarkPrice {
			continue
		}
		if !long && c.price <= pos.MarkPrice {
			continue
		}
		if out.Stop == 0 ||
			(long && c.price > out.Stop) ||
			(!long && c.price < out.Stop) {
			out.Stop = c.price
			out.StopSource = c.source
		}
	}

	// Nearer valid take-profit on the correct side of entry.
	for _, c := range targets {
		if c.price <= 0 {
			continue
		}
		if long && c.price <= pos.EntryPrice {
			continue
		}
		if !long && c.price >= pos.EntryPrice {
			continue
		}
		if out.TakeProfit == 0 ||
			(long && c.price < out.TakeProfit) ||
			(!long && c.price > out.TakeProfit) {
			out.TakeProfit = c.price
			out.TakeProfitSource = c.source
		}
	}
	return out
}
