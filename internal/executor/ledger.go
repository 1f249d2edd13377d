package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sentinel/internal/resilience"
	"sentinel/internal/store/gormstore"
)

// LedgerStore is the durable side of the execution ledger.
type LedgerStore interface {
	InsertExecutionLog(ctx context.Context, rec gormstore.ExecutionRecord) error
	CountExecutionsToday(ctx context.Context, now time.Time) (int, error)
	LastExecutionTime(ctx context.Context, symbol string) (time.Time, error)
}

// Ledger is the single source of truth for the daily execution counter and
// per-symbol cooldowns. The durable store holds the counter; cooldown
// timestamps live in a mutex-guarded map seeded from the store on first
// read. Both advance only after a confirmed execution, never speculatively.
type Ledger struct {
	store  LedgerStore
	errlog *resilience.ErrorLogger

	mu        sync.Mutex
	cooldowns map[string]time.Time
}

func NewLedger(store LedgerStore, errlog *resilience.ErrorLogger) *Ledger {
	return &Ledger{
		store:     store,
		errlog:    errlog,
		cooldowns: make(map[string]time.Time),
	}
}

// CountToday reads today's confirmed execution count (UTC day) from durable
// storage.
func (l *Ledger) CountToday(ctx context.Context, now time.Time) (int, error) {
	return l.store.CountExecutionsToday(ctx, now)
}

// LastExecutionTime returns the newest confirmed execution time for a
// symbol: the in-process map when it has an entry, otherwise the store.
func (l *Ledger) LastExecutionTime(ctx context.Context, symbol string) (time.Time, error) {
	l.mu.Lock()
	cached, ok := l.cooldowns[symbol]
	l.mu.Unlock()
	if ok {
		return cached, nil
	}
	return l.store.LastExecutionTime(ctx, symbol)
}

// RecordExecution persists the execution log and, only for confirmed
// executions that persisted successfully, advances the cooldown map. On a
// persistence failure memory is left untouched so the durable counter stays
// authoritative; the divergence is logged as a ledger mismatch instead of
// being papered over.
func (l *Ledger) RecordExecution(ctx context.Context, rec gormstore.ExecutionRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	if err := l.store.InsertExecutionLog(ctx, rec); err != nil {
		if l.errlog != nil {
			l.errlog.Log(ctx, resilience.Record{
				Event:    resilience.EventLedgerMismatch,
				Symbol:   rec.Symbol,
				Quantity: rec.Quantity,
				Reason:   fmt.Sprintf("execution log write failed, cooldown not advanced: %v", err),
			})
		}
		return fmt.Errorf("persist execution log: %w", err)
	}
	if rec.Executed {
		l.mu.Lock()
		l.cooldowns[rec.Symbol] = rec.At
		l.mu.Unlock()
	}
	return nil
}

// Cooldowns returns a copy of the in-process cooldown map.
func (l *Ledger) Cooldowns() map[string]time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]time.Time, len(l.cooldowns))
	for k, v := range l.cooldowns {
		out[k] = v
	}
	return out
}
