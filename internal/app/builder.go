package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/decision"
	"sentinel/internal/executor"
	"sentinel/internal/gateway/binance"
	"sentinel/internal/gateway/exchange"
	"sentinel/internal/learner"
	"sentinel/internal/logger"
	"sentinel/internal/monitor"
	"sentinel/internal/profile"
	"sentinel/internal/queue"
	"sentinel/internal/resilience"
	"sentinel/internal/store/auditlog"
	"sentinel/internal/store/gormstore"
	httpapi "sentinel/internal/transport/http"
	"sentinel/internal/types"
)

// AppBuilder assembles the application graph. Collaborator constructors are
// swappable so harnesses can run the full wiring against fakes.
type AppBuilder struct {
	cfg *config.Config

	clientFn func(*config.Config) (exchange.Client, error)
	storeFn  func(*config.Config) (*gormstore.Store, error)
	auditFn  func(*config.Config) (*auditlog.Store, error)
	httpFn   func(*config.Config, httpapi.ServerConfig) (*httpapi.Server, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:      cfg,
		clientFn: buildBinanceClient,
		storeFn:  buildGormStore,
		auditFn:  buildAuditStore,
		httpFn:   buildHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func WithExchangeClient(fn func(*config.Config) (exchange.Client, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.clientFn = fn
		}
	}
}

func WithStore(fn func(*config.Config) (*gormstore.Store, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.storeFn = fn
		}
	}
}

func WithAuditStore(fn func(*config.Config) (*auditlog.Store, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.auditFn = fn
		}
	}
}

func WithHTTPServer(fn func(*config.Config, httpapi.ServerConfig) (*httpapi.Server, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.httpFn = fn
		}
	}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	client, err := b.clientFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("exchange client: %w", err)
	}

	store, err := b.storeFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}

	auditStore, err := b.auditFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}
	errlog := resilience.NewErrorLogger(500, auditStore)

	var registry *profile.Registry
	if cfg.Profile.Path != "" {
		registry, err = profile.NewRegistry(cfg.Profile.Path)
		if err != nil {
			return nil, fmt.Errorf("risk profiles: %w", err)
		}
		logger.Infof("App: risk profiles loaded from %s (%d symbols)",
			cfg.Profile.Path, len(registry.Snapshot().Symbols))
		registry.Subscribe(func(snap profile.Snapshot) {
			logger.Infof("App: risk profiles reloaded (version %d, %d symbols, %d profiles)",
				snap.Version, len(snap.Symbols), len(snap.Profiles))
		})
	}

	ledger := executor.NewLedger(store, errlog)
	exec := buildExecutor(cfg, client, ledger, errlog, registry)

	orders := queue.New(
		func(ctx context.Context, order types.Order) error {
			res, err := exec.ExecuteDecision(ctx, order.Position, order.Decision)
			if err != nil {
				return err
			}
			if !res.Executed {
				// A guard refusal is terminal; the order history must not
				// show it as executed.
				return fmt.Errorf("%w: %s", queue.ErrRejected, res.Reason)
			}
			return nil
		},
		queue.Options{
			Capacity:    cfg.Queue.Capacity,
			MaxRetries:  cfg.Queue.MaxRetries,
			BackoffBase: time.Duration(cfg.Queue.BackoffBaseSeconds) * time.Second,
			// The executor retries transient API errors itself; the queue
			// only re-attempts whole executions that still look recoverable.
			Classify: func(err error) bool {
				return resilience.IsTransient(err) || errors.Is(err, resilience.ErrRetryExhausted)
			},
		},
	)
	orders.Subscribe("audit", func(order types.Order) {
		logger.Infof("Queue: order %s %s %s status=%s attempt=%d",
			order.ID, order.Side, order.Symbol, order.Status, order.Attempt)
	})

	lrn := learner.New(store, learner.Config{
		MinConfluence:   cfg.Learner.MinConfluence,
		LookbackCandles: cfg.Learner.LookbackCandles,
		ATRTakeProfit:   cfg.Learner.ATRTakeProfit,
		ATRStopLoss:     cfg.Learner.ATRStopLoss,
	})

	engine := decision.NewEngine(decisionConfigFrom(cfg))

	symbols := cfg.Monitor.Symbols
	if registry != nil {
		snap := registry.Snapshot()
		symbols = make([]string, 0, len(snap.Symbols))
		for symbol := range snap.Symbols {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
	}
	mon := monitor.New(client, engine, orders, store, lrn, monitorConfigFrom(cfg, symbols))

	httpSrv, err := b.httpFn(cfg, httpapi.ServerConfig{
		Addr:      cfg.App.HTTPAddr,
		Orders:    orders,
		Audit:     errlog,
		Ledger:    ledger,
		StartedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("http server: %w", err)
	}

	return &App{
		cfg:      cfg,
		orders:   orders,
		monitor:  mon,
		httpSrv:  httpSrv,
		store:    store,
		audit:    auditStore,
		registry: registry,
	}, nil
}

func buildBinanceClient(cfg *config.Config) (exchange.Client, error) {
	client, err := binance.New(binance.Config{
		RESTBaseURL:      cfg.Exchange.RESTBaseURL,
		APIKey:           cfg.Exchange.APIKey,
		APISecret:        cfg.Exchange.APISecret,
		Testnet:          cfg.Exchange.Testnet,
		HTTPTimeout:      time.Duration(cfg.Exchange.TimeoutSeconds) * time.Second,
		ProxyURL:         cfg.Exchange.ProxyURL,
		BreakerThreshold: cfg.Exchange.BreakerThreshold,
		BreakerTimeout:   time.Duration(cfg.Exchange.BreakerTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func buildGormStore(cfg *config.Config) (*gormstore.Store, error) {
	if cfg.Database.Path == "" {
		return nil, fmt.Errorf("database.path is required")
	}
	return gormstore.New(cfg.Database.Path)
}

func buildAuditStore(cfg *config.Config) (*auditlog.Store, error) {
	if cfg.Database.AuditPath == "" {
		// Audit events stay in the in-memory ring only.
		return nil, nil
	}
	return auditlog.New(cfg.Database.AuditPath)
}

func buildHTTPServer(cfg *config.Config, serverCfg httpapi.ServerConfig) (*httpapi.Server, error) {
	if cfg.App.HTTPAddr == "" {
		return nil, nil
	}
	return httpapi.NewServer(serverCfg)
}

func buildExecutor(cfg *config.Config, client exchange.Client, ledger *executor.Ledger, errlog *resilience.ErrorLogger, registry *profile.Registry) *executor.Executor {
	execCfg := executor.Config{
		MinConfidence:      cfg.Executor.MinConfidence,
		MaxDailyExecutions: cfg.Executor.MaxDailyExecutions,
		Cooldown:           time.Duration(cfg.Executor.CooldownSeconds) * time.Second,
		ReduceFraction:     cfg.Executor.ReduceFraction,
		MaxRetries:         cfg.Executor.MaxRetries,
		RetryDelay:         time.Duration(cfg.Executor.RetryDelaySeconds) * time.Second,
		AllowedSymbols:     cfg.Executor.AllowedSymbols,
	}
	var opts []executor.Option
	if registry != nil {
		// The hot-reloadable profile owns the whitelist and the per-symbol
		// guard thresholds when configured.
		opts = append(opts,
			executor.WithSymbolFilter(registry.SymbolAllowed),
			executor.WithProfileSource(func(symbol string) (executor.Limits, bool) {
				p, ok := registry.ProfileFor(symbol)
				if !ok {
					return executor.Limits{}, false
				}
				return executor.Limits{
					MinConfidence:      p.MinConfidence,
					MaxDailyExecutions: p.MaxDailyExecutions,
					Cooldown:           time.Duration(p.CooldownSeconds) * time.Second,
					ReduceFraction:     p.ReduceFraction,
				}, true
			}),
		)
	}
	return executor.New(client, ledger, errlog, execCfg, opts...)
}

// monitorConfigFrom maps the file configuration onto the monitor, reusing
// the learner's confluence threshold so the monitor never pre-filters a
// signal the learner would have tracked.
func monitorConfigFrom(cfg *config.Config, symbols []string) monitor.Config {
	return monitor.Config{
		Interval:         time.Duration(cfg.Monitor.IntervalSeconds) * time.Second,
		KlineInterval:    cfg.Monitor.KlineInterval,
		LookbackCandles:  cfg.Monitor.LookbackCandles,
		Symbols:          symbols,
		AdaptiveLookback: time.Duration(cfg.Adaptive.LookbackHours) * time.Hour,
		MinConfluence:    cfg.Learner.MinConfluence,
	}
}

// decisionConfigFrom overlays file configuration onto the rule-chain
// defaults, taking only the values the operator actually set.
func decisionConfigFrom(cfg *config.Config) decision.Config {
	d := decision.DefaultConfig()
	risk := cfg.Risk
	if risk.MaxStopDistancePct > 0 {
		d.MaxStopDistancePct = risk.MaxStopDistancePct
	}
	if risk.LiqThresholdIsolated > 0 {
		d.LiqThresholdIsolated = risk.LiqThresholdIsolated
	}
	if risk.LiqThresholdCross > 0 {
		d.LiqThresholdCross = risk.LiqThresholdCross
	}
	if risk.CrossMarginPenalty > 0 {
		d.CrossMarginPenalty = risk.CrossMarginPenalty
	}
	if risk.CrossMarginMultiplier > 0 {
		d.CrossMarginMultiplier = risk.CrossMarginMultiplier
	}
	if risk.CrossBalanceRatioLimit > 0 {
		d.CrossBalanceRatioLimit = risk.CrossBalanceRatioLimit
	}
	if risk.FundingExtreme > 0 {
		d.FundingExtreme = risk.FundingExtreme
	}
	if risk.ATRExpansionPct > 0 {
		d.ATRExpansionPct = risk.ATRExpansionPct
	}
	if risk.RSIOverbought > 0 {
		d.RSIOverbought = risk.RSIOverbought
	}
	if risk.RSIOversold > 0 {
		d.RSIOversold = risk.RSIOversold
	}
	if risk.BalanceFallbackProfitPct > 0 {
		d.BalanceFallbackProfitPct = risk.BalanceFallbackProfitPct
	}
	if risk.BalanceFallbackRelief > 0 {
		d.BalanceFallbackRelief = risk.BalanceFallbackRelief
	}
	if risk.BalanceFallbackPenalty > 0 {
		d.BalanceFallbackPenalty = risk.BalanceFallbackPenalty
	}
	adaptive := cfg.Adaptive
	if adaptive.LossRateThreshold > 0 {
		d.AdaptiveLossRateThreshold = adaptive.LossRateThreshold
	}
	if adaptive.AvgRewardFloor != 0 {
		d.AdaptiveAvgRewardFloor = adaptive.AvgRewardFloor
	}
	if adaptive.ConcentrationShare > 0 {
		d.AdaptiveConcentrationShare = adaptive.ConcentrationShare
	}
	if adaptive.MinSampleSize > 0 {
		d.AdaptiveMinSampleSize = adaptive.MinSampleSize
	}
	return d
}
