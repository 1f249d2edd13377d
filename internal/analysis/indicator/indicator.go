// Package indicator computes the technical snapshot one evaluation cycle
// consumes. Every value is optional: when the candle history is too short
// for a period the field stays nil and downstream rules treat it as
// "no signal" rather than failing the cycle.
package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"sentinel/internal/decision"
	"sentinel/internal/gateway/exchange"
)

// Settings holds the indicator periods. Zero values fall back to defaults.
type Settings struct {
	RSIPeriod       int     `mapstructure:"rsi_period"`
	EMAFast         int     `mapstructure:"ema_fast"`
	EMAMid          int     `mapstructure:"ema_mid"`
	EMASlow         int     `mapstructure:"ema_slow"`
	EMABaseline     int     `mapstructure:"ema_baseline"`
	ATRPeriod       int     `mapstructure:"atr_period"`
	ADXPeriod       int     `mapstructure:"adx_period"`
	BollingerPeriod int     `mapstructure:"bollinger_period"`
	BollingerDev    float64 `mapstructure:"bollinger_dev"`
}

// DefaultSettings returns the standard period set.
func DefaultSettings() Settings {
	return Settings{
		RSIPeriod:       14,
		EMAFast:         17,
		EMAMid:          34,
		EMASlow:         72,
		EMABaseline:     144,
		ATRPeriod:       14,
		ADXPeriod:       14,
		BollingerPeriod: 20,
		BollingerDev:    2,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = def.RSIPeriod
	}
	if s.EMAFast <= 0 {
		s.EMAFast = def.EMAFast
	}
	if s.EMAMid <= 0 {
		s.EMAMid = def.EMAMid
	}
	if s.EMASlow <= 0 {
		s.EMASlow = def.EMASlow
	}
	if s.EMABaseline <= 0 {
		s.EMABaseline = def.EMABaseline
	}
	if s.ATRPeriod <= 0 {
		s.ATRPeriod = def.ATRPeriod
	}
	if s.ADXPeriod <= 0 {
		s.ADXPeriod = def.ADXPeriod
	}
	if s.BollingerPeriod <= 0 {
		s.BollingerPeriod = def.BollingerPeriod
	}
	if s.BollingerDev <= 0 {
		s.BollingerDev = def.BollingerDev
	}
	return s
}

// Build computes the full bundle from candle history. It errors only on an
// empty candle set; individual indicators missing their warm-up window are
// simply left nil.
func Build(candles []exchange.Candle, cfg Settings) (decision.IndicatorBundle, error) {
	var bundle decision.IndicatorBundle
	if len(candles) == 0 {
		return bundle, fmt.Errorf("no candles")
	}
	cfg = cfg.withDefaults()

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	if len(closes) > cfg.RSIPeriod {
		bundle.RSI = lastValid(sanitizeSeries(talib.Rsi(closes, cfg.RSIPeriod)))
	}
	if len(closes) >= cfg.EMAFast {
		bundle.EMA17 = lastValid(trimLeadingZeros(sanitizeSeries(talib.Ema(closes, cfg.EMAFast))))
	}
	if len(closes) >= cfg.EMAMid {
		bundle.EMA34 = lastValid(trimLeadingZeros(sanitizeSeries(talib.Ema(closes, cfg.EMAMid))))
	}
	if len(closes) >= cfg.EMASlow {
		bundle.EMA72 = lastValid(trimLeadingZeros(sanitizeSeries(talib.Ema(closes, cfg.EMASlow))))
	}
	if len(closes) >= cfg.EMABaseline {
		bundle.EMA144 = lastValid(trimLeadingZeros(sanitizeSeries(talib.Ema(closes, cfg.EMABaseline))))
	}

	if len(closes) > 26+9 {
		macd, signal, _ := talib.Macd(closes, 12, 26, 9)
		bundle.MACD = lastValid(sanitizeSeries(macd))
		bundle.MACDSignal = lastValid(sanitizeSeries(signal))
	}

	if len(closes) >= cfg.BollingerPeriod {
		upper, mid, lower := talib.BBands(closes, cfg.BollingerPeriod, cfg.BollingerDev, cfg.BollingerDev, talib.SMA)
		bundle.BollingerUpper = lastValid(sanitizeSeries(upper))
		bundle.BollingerMid = lastValid(sanitizeSeries(mid))
		bundle.BollingerLower = lastValid(sanitizeSeries(lower))
	}

	if len(closes) > cfg.ATRPeriod {
		bundle.ATR = lastValid(sanitizeSeries(talib.Atr(highs, lows, closes, cfg.ATRPeriod)))
	}
	if len(closes) > 2*cfg.ADXPeriod {
		bundle.ADX = lastValid(sanitizeSeries(talib.Adx(highs, lows, closes, cfg.ADXPeriod)))
	}

	return bundle, nil
}

// ATRSeries computes the ATR series alone, used by the volatility and
// level-suggestion paths when the full bundle is not needed.
func ATRSeries(candles []exchange.Candle, period int) ([]float64, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles")
	}
	if period <= 0 {
		period = 14
	}
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	series := sanitizeSeries(talib.Atr(highs, lows, closes, period))
	if len(series) == 0 {
		return nil, fmt.Errorf("atr series empty")
	}
	return series, nil
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// trimLeadingZeros drops TALib's zero-seeded EMA warm-up values.
func trimLeadingZeros(series []float64) []float64 {
	start := 0
	for start < len(series) && math.Abs(series[start]) <= 1e-9 {
		start++
	}
	return series[start:]
}

// lastValid returns a pointer to the newest usable value, or nil when the
// series has none.
func lastValid(series []float64) *float64 {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if !math.IsNaN(v) && !math.IsInf(v, 0) && math.Abs(v) > 1e-12 {
			return &v
		}
	}
	return nil
}
