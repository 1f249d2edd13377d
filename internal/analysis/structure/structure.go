// Package structure derives a market-structure view from raw candles: swing
// points, break-of-structure and change-of-character flags, order blocks and
// resting liquidity on either side of price, and the premium/discount zone of
// the current dealing range.
package structure

import (
	"fmt"
	"math"
	"sort"

	"sentinel/internal/decision"
	"sentinel/internal/gateway/exchange"
)

// Options tune the detection pass. Zero values fall back to defaults.
type Options struct {
	// FractalSpan is the half-window of a swing point: a bar is a swing
	// high when its high exceeds the highs of span bars on each side.
	FractalSpan int
	// RecentWindow bounds how far back a break still counts as "recent".
	RecentWindow int
	// EqualTolerance is the relative distance under which two swing levels
	// are treated as equal (a liquidity cluster).
	EqualTolerance float64
	// ConfirmBars is how soon after a candidate order-block candle the
	// displacement move must confirm it.
	ConfirmBars int
	// EquilibriumBand is the half-width of the neutral zone around the
	// dealing-range midpoint, as a fraction of range position.
	EquilibriumBand float64
}

func DefaultOptions() Options {
	return Options{
		FractalSpan:     2, // 5-bar fractal
		RecentWindow:    10,
		EqualTolerance:  0.0015,
		ConfirmBars:     3,
		EquilibriumBand: 0.05,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.FractalSpan <= 0 {
		o.FractalSpan = def.FractalSpan
	}
	if o.RecentWindow <= 0 {
		o.RecentWindow = def.RecentWindow
	}
	if o.EqualTolerance <= 0 {
		o.EqualTolerance = def.EqualTolerance
	}
	if o.ConfirmBars <= 0 {
		o.ConfirmBars = def.ConfirmBars
	}
	if o.EquilibriumBand <= 0 {
		o.EquilibriumBand = def.EquilibriumBand
	}
	return o
}

type swingPoint struct {
	Idx   int
	Price float64
	High  bool
}

// Analyze builds the structure view for one symbol. It needs at least
// 2*span+1 candles; with fewer it returns a neutral view and no error so a
// thin history degrades instead of aborting the cycle.
func Analyze(candles []exchange.Candle, opts Options) (decision.MarketStructure, error) {
	out := decision.MarketStructure{Bias: decision.BiasNeutral, Zone: decision.ZoneEquilibrium}
	if len(candles) == 0 {
		return out, fmt.Errorf("no candles")
	}
	opts = opts.withDefaults()
	n := len(candles)
	if n < opts.FractalSpan*2+1 {
		return out, nil
	}

	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	lastClose := closes[n-1]

	out.OrderBlockBelow, out.OrderBlockAbove = detectOrderBlocks(candles, lastClose, opts.ConfirmBars)

	swings := detectSwings(highs, lows, opts.FractalSpan)
	if len(swings) > 0 {
		out.Bias = classifyBias(swings)
		out.RecentBOS, out.RecentCHoCH = detectBreaks(swings, closes, out.Bias, opts.RecentWindow)
		out.Zone = classifyZone(swings, lastClose, opts.EquilibriumBand)
		out.LiquidityBelow, out.LiquidityAbove = detectLiquidity(swings, lastClose, opts.EqualTolerance)
	}
	return out, nil
}

func detectSwings(highs, lows []float64, span int) []swingPoint {
	n := len(highs)
	swings := make([]swingPoint, 0, 16)
	for idx := span; idx < n-span; idx++ {
		if isFractalHigh(highs, idx, span) {
			swings = append(swings, swingPoint{Idx: idx, Price: highs[idx], High: true})
		}
		if isFractalLow(lows, idx, span) {
			swings = append(swings, swingPoint{Idx: idx, Price: lows[idx], High: false})
		}
	}
	sort.Slice(swings, func(i, j int) bool { return swings[i].Idx < swings[j].Idx })
	return swings
}

func isFractalHigh(highs []float64, idx, span int) bool {
	v := highs[idx]
	for i := idx - span; i <= idx+span; i++ {
		if i == idx {
			continue
		}
		if highs[i] >= v {
			return false
		}
	}
	return true
}

func isFractalLow(lows []float64, idx, span int) bool {
	v := lows[idx]
	for i := idx - span; i <= idx+span; i++ {
		if i == idx {
			continue
		}
		if lows[i] <= v {
			return false
		}
	}
	return true
}

// classifyBias compares the last two swing highs and last two swing lows:
// higher highs with higher lows is bullish, lower highs with lower lows is
// bearish, anything mixed is neutral.
func classifyBias(swings []swingPoint) decision.StructureBias {
	var swingHighs, swingLows []float64
	for _, s := range swings {
		if s.High {
			swingHighs = append(swingHighs, s.Price)
		} else {
			swingLows = append(swingLows, s.Price)
		}
	}
	if len(swingHighs) < 2 || len(swingLows) < 2 {
		return decision.BiasNeutral
	}
	hh := swingHighs[len(swingHighs)-1] > swingHighs[len(swingHighs)-2]
	hl := swingLows[len(swingLows)-1] > swingLows[len(swingLows)-2]
	lh := swingHighs[len(swingHighs)-1] < swingHighs[len(swingHighs)-2]
	ll := swingLows[len(swingLows)-1] < swingLows[len(swingLows)-2]
	switch {
	case hh && hl:
		return decision.BiasBullish
	case lh && ll:
		return decision.BiasBearish
	default:
		return decision.BiasNeutral
	}
}

// detectBreaks flags a recent break-of-structure (a close beyond the last
// swing extreme in the direction of the bias) and a change-of-character (a
// close beyond the protective swing against the bias).
func detectBreaks(swings []swingPoint, closes []float64, bias decision.StructureBias, window int) (bos, choch bool) {
	n := len(closes)
	start := n - window
	if start < 0 {
		start = 0
	}

	lastSwingHigh, lastSwingLow := 0.0, 0.0
	for _, s := range swings {
		// Only swings formed before the break window can be broken by it.
		if s.Idx >= start {
			continue
		}
		if s.High {
			lastSwingHigh = s.Price
		} else {
			lastSwingLow = s.Price
		}
	}

	brokeUp, brokeDown := false, false
	for i := start; i < n; i++ {
		if lastSwingHigh > 0 && closes[i] > lastSwingHigh {
			brokeUp = true
		}
		if lastSwingLow > 0 && closes[i] < lastSwingLow {
			brokeDown = true
		}
	}

	switch bias {
	case decision.BiasBullish:
		return brokeUp, brokeDown
	case decision.BiasBearish:
		return brokeDown, brokeUp
	default:
		// With no established bias any break is a character change.
		return false, brokeUp || brokeDown
	}
}

// classifyZone places the last close within the dealing range spanned by the
// extreme swings.
func classifyZone(swings []swingPoint, lastClose, band float64) decision.Zone {
	rangeHigh, rangeLow := 0.0, math.MaxFloat64
	for _, s := range swings {
		if s.High && s.Price > rangeHigh {
			rangeHigh = s.Price
		}
		if !s.High && s.Price < rangeLow {
			rangeLow = s.Price
		}
	}
	if rangeHigh <= rangeLow {
		return decision.ZoneEquilibrium
	}
	pos := (lastClose - rangeLow) / (rangeHigh - rangeLow)
	switch {
	case pos > 0.5+band:
		return decision.ZonePremium
	case pos < 0.5-band:
		return decision.ZoneDiscount
	default:
		return decision.ZoneEquilibrium
	}
}

// detectOrderBlocks finds the most recent demand block below price (a down
// candle whose high is reclaimed by a close within ConfirmBars) and supply
// block above price (the mirror). The block level is the candle's outer
// extreme, which is where a retest would land.
func detectOrderBlocks(candles []exchange.Candle, lastClose float64, confirmBars int) (below, above float64) {
	n := len(candles)
	for i := n - 2; i >= 0; i-- {
		c := candles[i]
		end := i + confirmBars
		if end >= n {
			end = n - 1
		}
		if below == 0 && c.Close < c.Open && c.Low < lastClose {
			for j := i + 1; j <= end; j++ {
				if candles[j].Close > c.High {
					below = c.Low
					break
				}
			}
		}
		if above == 0 && c.Close > c.Open && c.High > lastClose {
			for j := i + 1; j <= end; j++ {
				if candles[j].Close < c.Low {
					above = c.High
					break
				}
			}
		}
		if below != 0 && above != 0 {
			break
		}
	}
	return below, above
}

// detectLiquidity finds resting liquidity on either side of price. Clustered
// equal lows or equal highs take priority; a lone swing extreme still counts,
// since stops rest beyond every swing.
func detectLiquidity(swings []swingPoint, lastClose, tolerance float64) (below, above float64) {
	var lowsBelow, highsAbove []float64
	for _, s := range swings {
		if !s.High && s.Price < lastClose {
			lowsBelow = append(lowsBelow, s.Price)
		}
		if s.High && s.Price > lastClose {
			highsAbove = append(highsAbove, s.Price)
		}
	}

	if cluster := nearestCluster(lowsBelow, lastClose, tolerance); cluster > 0 {
		below = cluster
	} else if len(lowsBelow) > 0 {
		below = nearest(lowsBelow, lastClose)
	}
	if cluster := nearestCluster(highsAbove, lastClose, tolerance); cluster > 0 {
		above = cluster
	} else if len(highsAbove) > 0 {
		above = nearest(highsAbove, lastClose)
	}
	return below, above
}

// nearestCluster returns the level of the cluster of near-equal prices
// closest to ref, or 0 when no two levels sit within tolerance of each other.
func nearestCluster(levels []float64, ref, tolerance float64) float64 {
	best := 0.0
	bestDist := math.MaxFloat64
	for i := 0; i < len(levels); i++ {
		for j := i + 1; j < len(levels); j++ {
			mid := (levels[i] + levels[j]) / 2
			if mid == 0 {
				continue
			}
			if math.Abs(levels[i]-levels[j])/mid > tolerance {
				continue
			}
			if d := math.Abs(mid - ref); d < bestDist {
				best, bestDist = mid, d
			}
		}
	}
	return best
}

func nearest(levels []float64, ref float64) float64 {
	best := 0.0
	bestDist := math.MaxFloat64
	for _, v := range levels {
		if d := math.Abs(v - ref); d < bestDist {
			best, bestDist = v, d
		}
	}
	return best
}
