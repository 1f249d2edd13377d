package decision

// Config carries every threshold the rule chain consults. Values are
// injected rather than read from package state so evaluations stay pure.
type Config struct {
	// Hard exits.
	MaxStopDistancePct   float64
	LiqThresholdIsolated float64
	LiqThresholdCross    float64

	// Cross-margin handling.
	CrossMarginPenalty     float64
	CrossMarginMultiplier  float64
	CrossBalanceRatioLimit float64

	// Balance-unavailable compensation. Thresholds are configuration, not
	// invariants: they implicitly assume a typical position size.
	BalanceFallbackProfitPct float64
	BalanceFallbackRelief    float64
	BalanceFallbackPenalty   float64

	// Indicator thresholds.
	RSIOverbought   float64
	RSIOversold     float64
	FundingExtreme  float64
	ATRExpansionPct float64

	// Stop / take-profit derivation.
	StopATRMultiplier float64
	TPATRMultiplier   float64

	// Adaptive overlay.
	AdaptiveLossRateThreshold  float64
	AdaptiveAvgRewardFloor     float64
	AdaptiveConcentrationShare float64
	AdaptiveMinSampleSize      int
}

// DefaultConfig returns production defaults; app wiring overrides them from
// file configuration.
func DefaultConfig() Config {
	return Config{
		MaxStopDistancePct:   3,
		LiqThresholdIsolated: 5,
		LiqThresholdCross:    8,

		CrossMarginPenalty:     1,
		CrossMarginMultiplier:  1.5,
		CrossBalanceRatioLimit: 0.5,

		BalanceFallbackProfitPct: 20,
		BalanceFallbackRelief:    0.5,
		BalanceFallbackPenalty:   0.5,

		RSIOverbought:   70,
		RSIOversold:     30,
		FundingExtreme:  0.0003,
		ATRExpansionPct: 5,

		StopATRMultiplier: 1.5,
		TPATRMultiplier:   2,

		AdaptiveLossRateThreshold:  0.6,
		AdaptiveAvgRewardFloor:     -0.2,
		AdaptiveConcentrationShare: 0.5,
		AdaptiveMinSampleSize:      4,
	}
}
