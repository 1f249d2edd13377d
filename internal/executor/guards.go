package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sentinel/internal/types"
)

// guardFunc checks one precondition. A non-empty reason rejects the
// execution; an error also rejects it (fail closed), with the error text as
// the reason.
type guardFunc func(ctx context.Context, pos types.Position, dec types.Decision) (reason string, err error)

type guard struct {
	name  string
	check guardFunc
}

// guards returns the ordered chain. Order matters: the cheap static checks
// run before the ones that touch the store.
func (e *Executor) guards() []guard {
	return []guard{
		{name: "action_whitelist", check: e.guardActionWhitelist},
		{name: "symbol_whitelist", check: e.guardSymbolWhitelist},
		{name: "min_confidence", check: e.guardMinConfidence},
		{name: "daily_limit", check: e.guardDailyLimit},
		{name: "cooldown", check: e.guardCooldown},
	}
}

// Only risk-reducing actions may reach the exchange. Anything else,
// including HOLD, stops here.
func (e *Executor) guardActionWhitelist(_ context.Context, _ types.Position, dec types.Decision) (string, error) {
	switch dec.Action {
	case types.ActionReduce50, types.ActionClose:
		return "", nil
	default:
		return fmt.Sprintf("action %s is not executable", dec.Action), nil
	}
}

func (e *Executor) guardSymbolWhitelist(_ context.Context, pos types.Position, _ types.Decision) (string, error) {
	if e.allowed == nil {
		return "no symbol whitelist configured", nil
	}
	if !e.allowed(strings.ToUpper(pos.Symbol)) {
		return fmt.Sprintf("symbol %s is not whitelisted", pos.Symbol), nil
	}
	return "", nil
}

func (e *Executor) guardMinConfidence(_ context.Context, pos types.Position, dec types.Decision) (string, error) {
	minConf := e.limitsFor(pos.Symbol).MinConfidence
	if dec.Confidence < minConf {
		return fmt.Sprintf("confidence %.2f below minimum %.2f", dec.Confidence, minConf), nil
	}
	return "", nil
}

// The daily limit is counted from durable storage, never from memory: a
// restart must not reset the budget. A per-symbol profile limit bounds the
// same account-wide counter, it just tightens the threshold while that
// symbol is under execution.
func (e *Executor) guardDailyLimit(ctx context.Context, pos types.Position, _ types.Decision) (string, error) {
	count, err := e.ledger.CountToday(ctx, e.now())
	if err != nil {
		return "", fmt.Errorf("daily count unavailable: %w", err)
	}
	limit := e.limitsFor(pos.Symbol).MaxDailyExecutions
	if count >= limit {
		return fmt.Sprintf("daily execution limit reached (%d/%d)", count, limit), nil
	}
	return "", nil
}

func (e *Executor) guardCooldown(ctx context.Context, pos types.Position, _ types.Decision) (string, error) {
	last, err := e.ledger.LastExecutionTime(ctx, pos.Symbol)
	if err != nil {
		return "", fmt.Errorf("cooldown lookup failed: %w", err)
	}
	if last.IsZero() {
		return "", nil
	}
	cooldown := e.limitsFor(pos.Symbol).Cooldown
	elapsed := e.now().Sub(last)
	if elapsed < cooldown {
		return fmt.Sprintf("cooldown active for %s: %s of %s elapsed",
			pos.Symbol, elapsed.Truncate(time.Second), cooldown), nil
	}
	return "", nil
}

// runGuards walks the chain and returns the first rejection reason, or ""
// when every guard passes.
func (e *Executor) runGuards(ctx context.Context, pos types.Position, dec types.Decision) (string, string) {
	for _, g := range e.guards() {
		reason, err := g.check(ctx, pos, dec)
		if err != nil {
			return g.name, fmt.Sprintf("guard error: %v", err)
		}
		if reason != "" {
			return g.name, reason
		}
	}
	return "", ""
}
