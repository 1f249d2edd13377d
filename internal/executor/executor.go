// Package executor turns a reduce/close decision into a confirmed exchange
// order. Every execution passes a fail-closed guard chain, sizes the order
// with floor truncation to the exchange precision, always sets reduce-only,
// and persists the outcome before returning. Being blocked by a guard is an
// expected outcome, not an error.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentinel/internal/gateway/exchange"
	"sentinel/internal/logger"
	"sentinel/internal/pkg/trading"
	"sentinel/internal/resilience"
	"sentinel/internal/store/gormstore"
	"sentinel/internal/types"
)

// Config tunes execution. Zero values fall back to defaults.
type Config struct {
	MinConfidence      float64
	MaxDailyExecutions int
	Cooldown           time.Duration
	ReduceFraction     float64
	MaxRetries         int
	RetryDelay         time.Duration
	AllowedSymbols     []string
	MinQuantity        float64
}

func (c Config) withDefaults() Config {
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.75
	}
	if c.MaxDailyExecutions <= 0 {
		c.MaxDailyExecutions = 10
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 900 * time.Second
	}
	if c.ReduceFraction <= 0 || c.ReduceFraction > 1 {
		c.ReduceFraction = 0.5
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	return c
}

// Limits are the guard thresholds governing one symbol. Zero-valued fields
// in a profile override keep the global config values.
type Limits struct {
	MinConfidence      float64
	MaxDailyExecutions int
	Cooldown           time.Duration
	ReduceFraction     float64
}

// ExecutionResult is what one ExecuteDecision call produced.
type ExecutionResult struct {
	Executed     bool            `json:"executed"`
	Symbol       string          `json:"symbol"`
	Action       types.Action    `json:"action"`
	Side         types.OrderSide `json:"side"`
	Quantity     float64         `json:"quantity"`
	Reason       string          `json:"reason,omitempty"`
	OrderID      int64           `json:"order_id,omitempty"`
	FillPrice    float64         `json:"fill_price,omitempty"`
	FillQuantity float64         `json:"fill_quantity,omitempty"`
	Commission   float64         `json:"commission,omitempty"`
}

type Executor struct {
	cfg        Config
	client     exchange.Client
	ledger     *Ledger
	errlog     *resilience.ErrorLogger
	retry      *resilience.Retry
	fallback   *resilience.Fallback
	allowed    func(symbol string) bool
	profileFor func(symbol string) (Limits, bool)
	now        func() time.Time
}

// Option overrides a collaborator, mainly for tests.
type Option func(*Executor)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithSleep injects the retry sleep function.
func WithSleep(sleep resilience.SleepFunc) Option {
	return func(e *Executor) { e.retry.Sleep = sleep }
}

// WithSymbolFilter replaces the static whitelist with a dynamic check, used
// when a hot-reloadable risk profile owns the symbol list.
func WithSymbolFilter(allowed func(symbol string) bool) Option {
	return func(e *Executor) { e.allowed = allowed }
}

// WithProfileSource installs a per-symbol override lookup. The guards and
// the reduce sizing consult it on every execution, so a profile reload takes
// effect immediately.
func WithProfileSource(profileFor func(symbol string) (Limits, bool)) Option {
	return func(e *Executor) { e.profileFor = profileFor }
}

func New(client exchange.Client, ledger *Ledger, errlog *resilience.ErrorLogger, cfg Config, opts ...Option) *Executor {
	cfg = cfg.withDefaults()
	e := &Executor{
		cfg:      cfg,
		client:   client,
		ledger:   ledger,
		errlog:   errlog,
		retry:    resilience.NewRetry(cfg.MaxRetries, cfg.RetryDelay, 30*time.Second),
		fallback: &resilience.Fallback{MinQuantity: cfg.MinQuantity},
		now:      time.Now,
	}
	if len(cfg.AllowedSymbols) > 0 {
		set := make(map[string]bool, len(cfg.AllowedSymbols))
		for _, s := range cfg.AllowedSymbols {
			set[strings.ToUpper(s)] = true
		}
		e.allowed = func(symbol string) bool { return set[symbol] }
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteDecision runs the full pipeline: guard → derive → submit → record.
// A guard rejection returns Executed=false with a nil error; errors are
// reserved for failures after the guards passed. The outcome is persisted
// before returning in every branch.
func (e *Executor) ExecuteDecision(ctx context.Context, pos types.Position, dec types.Decision) (ExecutionResult, error) {
	res := ExecutionResult{Symbol: pos.Symbol, Action: dec.Action}

	if name, reason := e.runGuards(ctx, pos, dec); reason != "" {
		res.Reason = reason
		logger.Infof("Executor: %s blocked by %s: %s", pos.Symbol, name, reason)
		e.audit(ctx, resilience.EventGuardRejected, pos.Symbol, 0, fmt.Sprintf("%s: %s", name, reason))
		e.record(ctx, pos, dec, res)
		return res, nil
	}

	res.Side = closingSide(pos.Direction)

	precision, err := e.client.GetSymbolPrecision(ctx, pos.Symbol)
	if err != nil {
		res.Reason = fmt.Sprintf("precision unavailable: %v", err)
		e.audit(ctx, resilience.EventOrderFailed, pos.Symbol, 0, res.Reason)
		e.record(ctx, pos, dec, res)
		return res, fmt.Errorf("symbol precision for %s: %w", pos.Symbol, err)
	}

	ratio := 1.0
	if dec.Action == types.ActionReduce50 {
		ratio = e.limitsFor(pos.Symbol).ReduceFraction
	}
	quantity := trading.CalcCloseAmount(pos.Quantity, ratio, precision)
	if quantity <= 0 {
		res.Reason = fmt.Sprintf("quantity %.8f truncated to zero at precision %d", pos.Quantity*ratio, precision)
		e.audit(ctx, resilience.EventGuardRejected, pos.Symbol, 0, res.Reason)
		e.record(ctx, pos, dec, res)
		return res, nil
	}
	res.Quantity = quantity

	result, err := e.submit(ctx, pos, quantity, res.Side)
	if err != nil {
		res.Reason = err.Error()
		e.audit(ctx, resilience.EventOrderFailed, pos.Symbol, quantity, res.Reason)
		e.record(ctx, pos, dec, res)
		return res, err
	}

	res.Executed = true
	res.OrderID = result.OrderID
	res.FillPrice = result.AvgFillPrice
	res.FillQuantity = result.ExecutedQty
	res.Commission = result.Commission
	res.Reason = strings.Join(dec.Reasoning, "; ")

	logger.Infof("Executor: %s %s %s qty=%v fill=%v order=%d",
		dec.Action, res.Side, pos.Symbol, quantity, result.AvgFillPrice, result.OrderID)
	e.audit(ctx, resilience.EventOrderExecuted, pos.Symbol, quantity, res.Reason)
	e.record(ctx, pos, dec, res)
	return res, nil
}

// submit places the order with transient retries; on a sizing rejection it
// shrinks the quantity once within safe limits and tries again.
func (e *Executor) submit(ctx context.Context, pos types.Position, quantity float64, side types.OrderSide) (exchange.OrderResult, error) {
	place := func(qty float64) (exchange.OrderResult, error) {
		var result exchange.OrderResult
		err := e.retry.Do(ctx, func() error {
			var opErr error
			result, opErr = e.client.PlaceOrder(ctx, exchange.OrderRequest{
				Symbol:     pos.Symbol,
				Side:       side,
				Type:       "MARKET",
				Quantity:   qty,
				ReduceOnly: true,
			})
			if opErr != nil {
				e.audit(ctx, resilience.EventRetryAttempt, pos.Symbol, qty, opErr.Error())
			}
			return opErr
		})
		return result, err
	}

	result, err := place(quantity)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, resilience.ErrRetryExhausted) {
		e.audit(ctx, resilience.EventRetryExhausted, pos.Symbol, quantity, err.Error())
		return result, err
	}
	if !resilience.IsSizingError(err) {
		return result, err
	}

	adjusted, fbErr := e.fallback.Adjust(quantity, pos.Quantity)
	if fbErr != nil {
		return result, fmt.Errorf("sizing rejected and fallback failed: %w (original: %v)", fbErr, err)
	}
	precision, pErr := e.client.GetSymbolPrecision(ctx, pos.Symbol)
	if pErr == nil {
		adjusted = trading.TruncateQuantity(adjusted, precision)
	}
	if adjusted <= 0 {
		return result, fmt.Errorf("sizing rejected and fallback truncated to zero (original: %w)", err)
	}
	e.audit(ctx, resilience.EventFallbackApplied, pos.Symbol, adjusted,
		fmt.Sprintf("quantity reduced from %v after sizing rejection: %v", quantity, err))
	logger.Warnf("Executor: %s sizing rejected at qty=%v, retrying at qty=%v", pos.Symbol, quantity, adjusted)
	return place(adjusted)
}

// record persists the execution log. Persistence failure is logged loudly
// but never blocks the result: the trade already happened or was correctly
// blocked, and the audit gap itself is the alert.
func (e *Executor) record(ctx context.Context, pos types.Position, dec types.Decision, res ExecutionResult) {
	err := e.ledger.RecordExecution(ctx, gormstore.ExecutionRecord{
		Symbol:       pos.Symbol,
		Action:       dec.Action,
		Side:         res.Side,
		Quantity:     res.Quantity,
		Executed:     res.Executed,
		Reason:       res.Reason,
		OrderID:      res.OrderID,
		FillPrice:    res.FillPrice,
		FillQuantity: res.FillQuantity,
		Commission:   res.Commission,
		Decision:     dec,
		At:           e.now().UTC(),
	})
	if err != nil {
		logger.Errorf("Executor: execution log write failed for %s: %v", pos.Symbol, err)
	}
}

func (e *Executor) audit(ctx context.Context, event, symbol string, quantity float64, reason string) {
	if e.errlog == nil {
		return
	}
	e.errlog.Log(ctx, resilience.Record{Event: event, Symbol: symbol, Quantity: quantity, Reason: reason})
}

// limitsFor resolves the guard thresholds for one symbol: the global config
// overlaid with any non-zero field of the symbol's risk profile.
func (e *Executor) limitsFor(symbol string) Limits {
	limits := Limits{
		MinConfidence:      e.cfg.MinConfidence,
		MaxDailyExecutions: e.cfg.MaxDailyExecutions,
		Cooldown:           e.cfg.Cooldown,
		ReduceFraction:     e.cfg.ReduceFraction,
	}
	if e.profileFor == nil {
		return limits
	}
	override, ok := e.profileFor(strings.ToUpper(strings.TrimSpace(symbol)))
	if !ok {
		return limits
	}
	if override.MinConfidence > 0 {
		limits.MinConfidence = override.MinConfidence
	}
	if override.MaxDailyExecutions > 0 {
		limits.MaxDailyExecutions = override.MaxDailyExecutions
	}
	if override.Cooldown > 0 {
		limits.Cooldown = override.Cooldown
	}
	if override.ReduceFraction > 0 && override.ReduceFraction <= 1 {
		limits.ReduceFraction = override.ReduceFraction
	}
	return limits
}

// closingSide is the side that shrinks the position: sell to exit a long,
// buy to exit a short.
func closingSide(direction types.Direction) types.OrderSide {
	if direction == types.DirectionShort {
		return types.SideBuy
	}
	return types.SideSell
}
