// Package learner scores the trades the system chose NOT to take. Ordinary
// outcome logging only covers executed trades; the learner simulates a
// hypothetical entry for every strong signal that was passed over and grades
// the inaction against the conditions at signal time, producing a signed
// reward even when nothing happened.
package learner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"sentinel/internal/logger"
	"sentinel/internal/types"
)

var (
	// ErrLowConfluence marks a signal below the tracking threshold; noise
	// is not worth a database row.
	ErrLowConfluence = errors.New("learner: confluence below tracking threshold")
	// ErrAlreadyEvaluated guards the evaluate-once lifecycle.
	ErrAlreadyEvaluated = errors.New("learner: opportunity already evaluated")
)

// Store is the persistence surface the learner needs.
type Store interface {
	InsertOpportunity(ctx context.Context, opp types.MissedOpportunity) error
	UpdateOpportunity(ctx context.Context, opp types.MissedOpportunity) error
	GetOpportunity(ctx context.Context, id string) (types.MissedOpportunity, error)
	ListTrackingOpportunities(ctx context.Context) ([]types.MissedOpportunity, error)
	InsertTradeOutcome(ctx context.Context, symbol string, won bool, reward float64, source string) error
}

// Config tunes tracking and scoring. Zero values fall back to defaults.
type Config struct {
	MinConfluence   int
	LookbackCandles int
	ATRTakeProfit   float64
	ATRStopLoss     float64
	// HighDrawdownPct is the account drawdown above which staying out is
	// considered justified regardless of what the missed trade did.
	HighDrawdownPct float64
	// HeavyTradeCount is the 24h execution count above which restraint is
	// considered justified.
	HeavyTradeCount int
}

func (c Config) withDefaults() Config {
	if c.MinConfluence <= 0 {
		c.MinConfluence = 5
	}
	if c.LookbackCandles <= 0 {
		c.LookbackCandles = 12
	}
	if c.ATRTakeProfit <= 0 {
		c.ATRTakeProfit = 2
	}
	if c.ATRStopLoss <= 0 {
		c.ATRStopLoss = 1
	}
	if c.HighDrawdownPct <= 0 {
		c.HighDrawdownPct = 10
	}
	if c.HeavyTradeCount <= 0 {
		c.HeavyTradeCount = 8
	}
	return c
}

// Signal is a passed-over entry opportunity at registration time.
type Signal struct {
	Symbol         string
	Direction      types.Direction
	EntryPrice     float64
	Confluence     int
	ATR            float64
	DrawdownPct    float64
	RecentTrades24 int
}

type Learner struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// Option adjusts a Learner at construction time.
type Option func(*Learner)

// WithNow overrides the clock, for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(l *Learner) { l.now = now }
}

func New(store Store, cfg Config, opts ...Option) *Learner {
	l := &Learner{store: store, cfg: cfg.withDefaults(), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register starts tracking a missed opportunity. Signals below the
// confluence threshold return ErrLowConfluence and are not persisted.
func (l *Learner) Register(ctx context.Context, sig Signal) (string, error) {
	if sig.Confluence < l.cfg.MinConfluence {
		return "", fmt.Errorf("%w: %d < %d", ErrLowConfluence, sig.Confluence, l.cfg.MinConfluence)
	}
	if sig.EntryPrice <= 0 || sig.ATR <= 0 {
		return "", fmt.Errorf("learner: invalid signal for %s: entry=%v atr=%v", sig.Symbol, sig.EntryPrice, sig.ATR)
	}

	tp := sig.EntryPrice + l.cfg.ATRTakeProfit*sig.ATR
	sl := sig.EntryPrice - l.cfg.ATRStopLoss*sig.ATR
	if sig.Direction == types.DirectionShort {
		tp = sig.EntryPrice - l.cfg.ATRTakeProfit*sig.ATR
		sl = sig.EntryPrice + l.cfg.ATRStopLoss*sig.ATR
	}

	opp := types.MissedOpportunity{
		ID:             uuid.NewString(),
		Symbol:         sig.Symbol,
		Direction:      sig.Direction,
		EntryPrice:     sig.EntryPrice,
		Confluence:     sig.Confluence,
		DrawdownPct:    sig.DrawdownPct,
		RecentTrades24: sig.RecentTrades24,
		TakeProfit:     tp,
		StopLoss:       sl,
		Status:         types.OpportunityTracking,
		RegisteredAt:   l.now().UTC(),
	}
	if err := l.store.InsertOpportunity(ctx, opp); err != nil {
		return "", fmt.Errorf("persist opportunity: %w", err)
	}
	logger.Infof("Learner: tracking missed %s %s entry=%.4f confluence=%d tp=%.4f sl=%.4f",
		sig.Direction, sig.Symbol, sig.EntryPrice, sig.Confluence, tp, sl)
	return opp.ID, nil
}

// Evaluate closes out one tracked opportunity using the price extremes seen
// over the lookback window. An opportunity is evaluated exactly once.
func (l *Learner) Evaluate(ctx context.Context, id string, current, maxReached, minReached float64) (types.MissedOpportunity, error) {
	opp, err := l.store.GetOpportunity(ctx, id)
	if err != nil {
		return types.MissedOpportunity{}, fmt.Errorf("load opportunity %s: %w", id, err)
	}
	if opp.Status == types.OpportunityEvaluated {
		return opp, ErrAlreadyEvaluated
	}

	opp.MaxPriceReached = maxReached
	opp.MinPriceReached = minReached
	opp.ProfitPctIfEntered = l.simulate(opp, current, maxReached, minReached)
	opp.WouldHaveWon = opp.ProfitPctIfEntered > 0
	opp.Quality = classifyQuality(opp.ProfitPctIfEntered)
	opp.ContextualReward = l.contextualReward(opp)
	opp.Status = types.OpportunityEvaluated
	opp.EvaluatedAt = l.now().UTC()

	if err := l.store.UpdateOpportunity(ctx, opp); err != nil {
		return types.MissedOpportunity{}, fmt.Errorf("persist evaluation %s: %w", id, err)
	}
	// The inaction grade feeds the same outcome stream the adaptive
	// overlay reads; "won" means staying out was the right call.
	if err := l.store.InsertTradeOutcome(ctx, opp.Symbol, opp.ContextualReward > 0, opp.ContextualReward, "inaction"); err != nil {
		logger.Errorf("Learner: record inaction outcome for %s: %v", opp.Symbol, err)
	}
	logger.Infof("Learner: evaluated %s %s quality=%s profit=%.2f%% reward=%.2f",
		opp.Symbol, opp.Direction, opp.Quality, opp.ProfitPctIfEntered, opp.ContextualReward)
	return opp, nil
}

// Due lists tracked opportunities whose lookback window has elapsed, given
// the candle interval the lookback is denominated in.
func (l *Learner) Due(ctx context.Context, now time.Time, candleInterval time.Duration) ([]types.MissedOpportunity, error) {
	tracking, err := l.store.ListTrackingOpportunities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tracking opportunities: %w", err)
	}
	window := time.Duration(l.cfg.LookbackCandles) * candleInterval
	due := tracking[:0]
	for _, opp := range tracking {
		if now.Sub(opp.RegisteredAt) >= window {
			due = append(due, opp)
		}
	}
	return due, nil
}

// simulate replays the hypothetical entry against the window extremes. The
// candle data does not say whether the high or the low came first, so the
// stop is assumed to hit first: the pessimistic reading.
func (l *Learner) simulate(opp types.MissedOpportunity, current, maxReached, minReached float64) float64 {
	entry := opp.EntryPrice
	if opp.Direction == types.DirectionLong {
		switch {
		case minReached > 0 && minReached <= opp.StopLoss:
			return (opp.StopLoss - entry) / entry * 100
		case maxReached >= opp.TakeProfit:
			return (opp.TakeProfit - entry) / entry * 100
		default:
			return (current - entry) / entry * 100
		}
	}
	switch {
	case maxReached >= opp.StopLoss:
		return (entry - opp.StopLoss) / entry * 100
	case minReached > 0 && minReached <= opp.TakeProfit:
		return (entry - opp.TakeProfit) / entry * 100
	default:
		return (entry - current) / entry * 100
	}
}

func classifyQuality(profitPct float64) types.OpportunityQuality {
	switch {
	case profitPct >= 5:
		return types.QualityExcellent
	case profitPct >= 2:
		return types.QualityGood
	case profitPct >= 0.5:
		return types.QualityOK
	default:
		return types.QualityBad
	}
}

// contextualReward grades the inaction against the conditions recorded at
// signal time. Avoided losses are always rewarded in proportion to the loss
// avoided. Missed winners depend on context: under high drawdown or heavy
// recent trading, restraint stays net-positive even when the miss was
// excellent, just less so; under normal conditions there was no excuse, and
// the penalty scales with the quality of the miss.
func (l *Learner) contextualReward(opp types.MissedOpportunity) float64 {
	if !opp.WouldHaveWon {
		avoided := math.Abs(opp.ProfitPctIfEntered)
		return clamp(avoided/5, 0.2, 1)
	}

	weight := qualityWeight(opp.Quality)
	switch {
	case opp.DrawdownPct >= l.cfg.HighDrawdownPct:
		return math.Max(0.7-0.6*weight, 0.05)
	case opp.RecentTrades24 >= l.cfg.HeavyTradeCount:
		return math.Max(0.5-0.45*weight, 0.05)
	default:
		return -weight
	}
}

func qualityWeight(q types.OpportunityQuality) float64 {
	switch q {
	case types.QualityExcellent:
		return 1
	case types.QualityGood:
		return 0.6
	case types.QualityOK:
		return 0.25
	default:
		return 0.05
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
