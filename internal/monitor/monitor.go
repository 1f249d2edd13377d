// Package monitor drives the evaluation loop: fetch open positions, build
// the market view, evaluate each position, queue risk-reducing orders, and
// feed the opportunity learner for the signals that were passed over.
package monitor

import (
	"context"
	"errors"
	"time"

	"sentinel/internal/analysis/indicator"
	"sentinel/internal/analysis/structure"
	"sentinel/internal/decision"
	"sentinel/internal/gateway/exchange"
	"sentinel/internal/learner"
	"sentinel/internal/logger"
	"sentinel/internal/queue"
	"sentinel/internal/scheduler"
	"sentinel/internal/store/gormstore"
	"sentinel/internal/types"
)

// Store is the persistence surface the monitor needs.
type Store interface {
	InsertPositionSnapshot(ctx context.Context, pos types.Position) error
	RecentOutcomesBySymbol(ctx context.Context, lookback time.Duration, now time.Time) ([]gormstore.SymbolOutcome, error)
	CountExecutionsSince(ctx context.Context, since time.Time) (int, error)
}

// Config tunes the loop. Zero values fall back to defaults.
type Config struct {
	Interval         time.Duration
	KlineInterval    string
	LookbackCandles  int
	Symbols          []string
	AdaptiveLookback time.Duration
	MinConfluence    int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 300 * time.Second
	}
	if c.KlineInterval == "" {
		c.KlineInterval = "15m"
	}
	if c.LookbackCandles <= 0 {
		c.LookbackCandles = 200
	}
	if c.AdaptiveLookback <= 0 {
		c.AdaptiveLookback = 24 * time.Hour
	}
	if c.MinConfluence <= 0 {
		c.MinConfluence = 5
	}
	return c
}

type Monitor struct {
	cfg        Config
	client     exchange.Client
	engine     *decision.Engine
	orders     *queue.Queue
	store      Store
	learner    *learner.Learner
	indicators indicator.Settings
	structOpts structure.Options
	now        func() time.Time
}

func New(client exchange.Client, engine *decision.Engine, orders *queue.Queue, store Store, lrn *learner.Learner, cfg Config) *Monitor {
	return &Monitor{
		cfg:        cfg.withDefaults(),
		client:     client,
		engine:     engine,
		orders:     orders,
		store:      store,
		learner:    lrn,
		indicators: indicator.Settings{},
		structOpts: structure.Options{},
		now:        time.Now,
	}
}

// Run blocks driving Cycle at the configured interval until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) {
	sched := scheduler.NewIntervalScheduler(ctx, m.cfg.Interval)
	sched.Name = "monitor"
	sched.RunImmediately = true
	sched.Start(func() { m.Cycle(ctx) })
}

// Cycle executes one evaluation pass. Failures inside a pass are logged and
// contained; the loop itself never dies to a single bad cycle.
func (m *Monitor) Cycle(ctx context.Context) {
	now := m.now().UTC()

	positions, err := m.client.GetOpenPositions(ctx, "")
	if err != nil {
		logger.Errorf("Monitor: position fetch failed, skipping cycle: %v", err)
		return
	}

	var balance *float64
	if bal, err := m.client.GetAccountBalance(ctx); err != nil {
		logger.Warnf("Monitor: balance unavailable this cycle: %v", err)
	} else {
		balance = &bal
	}

	outcomes := m.loadOutcomes(ctx, now)

	held := make(map[string]bool, len(positions))
	for _, pos := range positions {
		held[pos.Symbol] = true
		m.evaluatePosition(ctx, pos, balance, outcomes, now)
	}

	m.trackMissedEntries(ctx, held, positions, balance, now)
	m.evaluateDueOpportunities(ctx, now)
}

func (m *Monitor) evaluatePosition(ctx context.Context, pos types.Position, balance *float64, outcomes []decision.OutcomeStats, now time.Time) {
	if err := m.store.InsertPositionSnapshot(ctx, pos); err != nil {
		logger.Warnf("Monitor: snapshot write failed for %s: %v", pos.Symbol, err)
	}

	bundle, ms := m.marketView(ctx, pos.Symbol)
	dec := m.engine.Evaluate(decision.Input{
		Position:       pos,
		Indicators:     bundle,
		Structure:      ms,
		Sentiment:      m.sentiment(ctx, pos.Symbol),
		AccountBalance: balance,
		Outcomes:       outcomes,
		Now:            now,
	})

	logger.Infof("Monitor: %s %s action=%s risk=%.1f confidence=%.2f",
		pos.Symbol, pos.Direction, dec.Action, dec.RiskScore, dec.Confidence)
	if dec.Action == types.ActionHold {
		return
	}

	side := types.SideSell
	if pos.Direction == types.DirectionShort {
		side = types.SideBuy
	}
	order, err := m.orders.Enqueue(queue.Request{
		Symbol:     pos.Symbol,
		Side:       side,
		Quantity:   pos.Quantity,
		ReduceOnly: true,
		Position:   pos,
		Decision:   dec,
	})
	if err != nil {
		logger.Errorf("Monitor: enqueue %s for %s failed: %v", dec.Action, pos.Symbol, err)
		return
	}
	logger.Infof("Monitor: queued order %s for %s %s", order.ID, dec.Action, pos.Symbol)
}

// trackMissedEntries registers strong signals on watched symbols with no
// open position, so the learner can later judge whether staying flat was
// wise.
func (m *Monitor) trackMissedEntries(ctx context.Context, held map[string]bool, positions []types.Position, balance *float64, now time.Time) {
	if m.learner == nil {
		return
	}
	for _, symbol := range m.cfg.Symbols {
		if held[symbol] {
			continue
		}
		bundle, ms := m.marketView(ctx, symbol)
		direction, confluence := entrySignal(bundle, ms)
		if confluence < m.cfg.MinConfluence || bundle.ATR == nil {
			continue
		}
		candles, err := m.client.FetchCandles(ctx, symbol, m.cfg.KlineInterval, 1)
		if err != nil || len(candles) == 0 {
			continue
		}
		recent, err := m.store.CountExecutionsSince(ctx, now.Add(-24*time.Hour))
		if err != nil {
			logger.Warnf("Monitor: recent execution count unavailable: %v", err)
		}
		_, err = m.learner.Register(ctx, learner.Signal{
			Symbol:         symbol,
			Direction:      direction,
			EntryPrice:     candles[len(candles)-1].Close,
			Confluence:     confluence,
			ATR:            *bundle.ATR,
			DrawdownPct:    drawdownPct(positions, balance),
			RecentTrades24: recent,
		})
		if err != nil && !errors.Is(err, learner.ErrLowConfluence) {
			logger.Errorf("Monitor: register missed opportunity for %s: %v", symbol, err)
		}
	}
}

// evaluateDueOpportunities closes out tracked opportunities whose lookback
// window has elapsed, replaying the candle extremes since registration.
func (m *Monitor) evaluateDueOpportunities(ctx context.Context, now time.Time) {
	if m.learner == nil {
		return
	}
	interval, ok := scheduler.ParseIntervalDuration(m.cfg.KlineInterval)
	if !ok {
		interval = 15 * time.Minute
	}
	due, err := m.learner.Due(ctx, now, interval)
	if err != nil {
		logger.Errorf("Monitor: list due opportunities: %v", err)
		return
	}
	for _, opp := range due {
		candles, err := m.client.FetchCandles(ctx, opp.Symbol, m.cfg.KlineInterval, m.cfg.LookbackCandles)
		if err != nil || len(candles) == 0 {
			logger.Warnf("Monitor: candles unavailable for due opportunity %s: %v", opp.Symbol, err)
			continue
		}
		registered := opp.RegisteredAt.UnixMilli()
		maxReached, minReached := 0.0, 0.0
		for _, c := range candles {
			if c.OpenTime < registered {
				continue
			}
			if maxReached == 0 || c.High > maxReached {
				maxReached = c.High
			}
			if minReached == 0 || c.Low < minReached {
				minReached = c.Low
			}
		}
		current := candles[len(candles)-1].Close
		if maxReached == 0 {
			maxReached, minReached = current, current
		}
		if _, err := m.learner.Evaluate(ctx, opp.ID, current, maxReached, minReached); err != nil && !errors.Is(err, learner.ErrAlreadyEvaluated) {
			logger.Errorf("Monitor: evaluate opportunity %s: %v", opp.ID, err)
		}
	}
}

func (m *Monitor) marketView(ctx context.Context, symbol string) (decision.IndicatorBundle, decision.MarketStructure) {
	var bundle decision.IndicatorBundle
	ms := decision.MarketStructure{Bias: decision.BiasNeutral, Zone: decision.ZoneEquilibrium}

	candles, err := m.client.FetchCandles(ctx, symbol, m.cfg.KlineInterval, m.cfg.LookbackCandles)
	if err != nil {
		logger.Warnf("Monitor: candle fetch failed for %s, rules degrade: %v", symbol, err)
		return bundle, ms
	}
	if b, err := indicator.Build(candles, m.indicators); err == nil {
		bundle = b
	}
	if s, err := structure.Analyze(candles, m.structOpts); err == nil {
		ms = s
	}
	return bundle, ms
}

func (m *Monitor) sentiment(ctx context.Context, symbol string) decision.SentimentSnapshot {
	var snap decision.SentimentSnapshot
	if rate, err := m.client.GetFundingRate(ctx, symbol); err == nil {
		snap.FundingRate = &rate
	}
	return snap
}

func (m *Monitor) loadOutcomes(ctx context.Context, now time.Time) []decision.OutcomeStats {
	rows, err := m.store.RecentOutcomesBySymbol(ctx, m.cfg.AdaptiveLookback, now)
	if err != nil {
		logger.Warnf("Monitor: outcome stats unavailable, adaptive overlay degrades: %v", err)
		return nil
	}
	stats := make([]decision.OutcomeStats, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, decision.OutcomeStats{
			Symbol:    row.Symbol,
			Wins:      row.Wins,
			Losses:    row.Losses,
			AvgReward: row.AvgReward,
		})
	}
	return stats
}

// entrySignal derives a prospective entry direction and confluence count
// from independently-agreeing signals: structural bias, a recent break in
// its favor, the dealing-range zone, RSI, the EMA stack and MACD.
func entrySignal(bundle decision.IndicatorBundle, ms decision.MarketStructure) (types.Direction, int) {
	var direction types.Direction
	switch ms.Bias {
	case decision.BiasBullish:
		direction = types.DirectionLong
	case decision.BiasBearish:
		direction = types.DirectionShort
	default:
		return "", 0
	}

	long := direction == types.DirectionLong
	confluence := 1 // the bias itself
	if ms.RecentBOS {
		confluence++
	}
	if (long && ms.Zone == decision.ZoneDiscount) || (!long && ms.Zone == decision.ZonePremium) {
		confluence++
	}
	if bundle.RSI != nil {
		if (long && *bundle.RSI < 35) || (!long && *bundle.RSI > 65) {
			confluence++
		}
	}
	if bundle.EMA17 != nil && bundle.EMA34 != nil && bundle.EMA72 != nil {
		stackedUp := *bundle.EMA17 > *bundle.EMA34 && *bundle.EMA34 > *bundle.EMA72
		stackedDown := *bundle.EMA17 < *bundle.EMA34 && *bundle.EMA34 < *bundle.EMA72
		if (long && stackedUp) || (!long && stackedDown) {
			confluence++
		}
	}
	if bundle.MACD != nil && bundle.MACDSignal != nil {
		if (long && *bundle.MACD > *bundle.MACDSignal) || (!long && *bundle.MACD < *bundle.MACDSignal) {
			confluence++
		}
	}
	return direction, confluence
}

// drawdownPct approximates current account drawdown as aggregate unrealized
// loss relative to balance. Without a balance there is no denominator, so
// the context conservatively reads as no drawdown.
func drawdownPct(positions []types.Position, balance *float64) float64 {
	if balance == nil || *balance <= 0 {
		return 0
	}
	total := 0.0
	for _, pos := range positions {
		total += pos.UnrealizedPnl
	}
	if total >= 0 {
		return 0
	}
	return -total / *balance * 100
}
