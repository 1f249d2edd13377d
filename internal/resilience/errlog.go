package resilience

import (
	"context"
	"sync"
	"time"

	"sentinel/internal/logger"
	"sentinel/internal/store/auditlog"
)

// Event names recorded by the error logger.
const (
	EventRetryAttempt    = "retry_attempt"
	EventRetryExhausted  = "retry_exhausted"
	EventFallbackApplied = "fallback_applied"
	EventGuardRejected   = "guard_rejected"
	EventOrderExecuted   = "order_executed"
	EventOrderFailed     = "order_failed"
	EventLedgerMismatch  = "ledger_mismatch"
)

// Record is one structured audit event.
type Record struct {
	At       time.Time `json:"at"`
	Event    string    `json:"event"`
	Symbol   string    `json:"symbol,omitempty"`
	Quantity float64   `json:"quantity,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

// ErrorLogger keeps an in-memory ring of recent audit records and mirrors
// each one to durable storage when configured. A persistence failure never
// blocks the caller; the gap itself is logged loudly.
type ErrorLogger struct {
	mu      sync.Mutex
	records []Record
	max     int
	store   *auditlog.Store
}

func NewErrorLogger(max int, store *auditlog.Store) *ErrorLogger {
	if max <= 0 {
		max = 500
	}
	return &ErrorLogger{max: max, store: store}
}

// Log appends the record, trimming the in-memory ring to the configured cap.
func (l *ErrorLogger) Log(ctx context.Context, rec Record) {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	l.mu.Lock()
	l.records = append(l.records, rec)
	if len(l.records) > l.max {
		l.records = l.records[len(l.records)-l.max:]
	}
	store := l.store
	l.mu.Unlock()

	if store != nil {
		err := store.Append(ctx, auditlog.Entry{
			At:       rec.At,
			Event:    rec.Event,
			Symbol:   rec.Symbol,
			Quantity: rec.Quantity,
			Reason:   rec.Reason,
		})
		if err != nil {
			logger.Errorf("ErrorLogger: durable audit write failed (event=%s symbol=%s): %v", rec.Event, rec.Symbol, err)
		}
	}
}

// Recent returns a copy of the newest in-memory records, newest last.
func (l *ErrorLogger) Recent(limit int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.records) {
		limit = len(l.records)
	}
	out := make([]Record, limit)
	copy(out, l.records[len(l.records)-limit:])
	return out
}
