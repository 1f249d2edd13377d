package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"sentinel/internal/gateway/exchange"
	"sentinel/internal/resilience"
	"sentinel/internal/store/gormstore"
	"sentinel/internal/types"
)

type MockExchange struct {
	mock.Mock
}

func (m *MockExchange) GetOpenPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Position), args.Error(1)
}

func (m *MockExchange) GetAccountBalance(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockExchange) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(exchange.OrderResult), args.Error(1)
}

func (m *MockExchange) GetSymbolPrecision(ctx context.Context, symbol string) (int, error) {
	args := m.Called(ctx, symbol)
	return args.Int(0), args.Error(1)
}

func (m *MockExchange) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockExchange) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	args := m.Called(ctx, symbol, interval, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]exchange.Candle), args.Error(1)
}

type memLedgerStore struct {
	records    []gormstore.ExecutionRecord
	countToday int
	last       map[string]time.Time
	failInsert bool
}

func (m *memLedgerStore) InsertExecutionLog(_ context.Context, rec gormstore.ExecutionRecord) error {
	if m.failInsert {
		return errors.New("disk full")
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memLedgerStore) CountExecutionsToday(context.Context, time.Time) (int, error) {
	return m.countToday, nil
}

func (m *memLedgerStore) LastExecutionTime(_ context.Context, symbol string) (time.Time, error) {
	if m.last == nil {
		return time.Time{}, nil
	}
	return m.last[symbol], nil
}

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func newTestExecutor(client exchange.Client, store *memLedgerStore, extra ...Option) (*Executor, *resilience.ErrorLogger) {
	errlog := resilience.NewErrorLogger(50, nil)
	opts := append([]Option{
		WithClock(func() time.Time { return testNow }),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
	}, extra...)
	e := New(client, NewLedger(store, errlog), errlog, Config{
		MinConfidence:      0.75,
		MaxDailyExecutions: 10,
		Cooldown:           900 * time.Second,
		ReduceFraction:     0.5,
		MaxRetries:         3,
		AllowedSymbols:     []string{"BTCUSDT", "ETHUSDT"},
	}, opts...)
	return e, errlog
}

func longPosition(qty float64) types.Position {
	return types.Position{
		Symbol:           "BTCUSDT",
		Direction:        types.DirectionLong,
		EntryPrice:       50000,
		MarkPrice:        49000,
		LiquidationPrice: 44000,
		Quantity:         qty,
		Leverage:         10,
		MarginType:       types.MarginIsolated,
	}
}

func closeDecision(confidence float64) types.Decision {
	return types.Decision{
		Symbol:     "BTCUSDT",
		Action:     types.ActionClose,
		Confidence: confidence,
		RiskScore:  9,
		Reasoning:  []string{"hard stop breached"},
	}
}

func TestGuardChainFailClosed(t *testing.T) {
	cases := []struct {
		name    string
		store   *memLedgerStore
		pos     types.Position
		dec     types.Decision
		inFault string
	}{
		{
			name:    "hold is not executable",
			store:   &memLedgerStore{},
			pos:     longPosition(1),
			dec:     types.Decision{Symbol: "BTCUSDT", Action: types.ActionHold, Confidence: 0.9},
			inFault: "not executable",
		},
		{
			name:  "symbol not whitelisted",
			store: &memLedgerStore{},
			pos: func() types.Position {
				p := longPosition(1)
				p.Symbol = "DOGEUSDT"
				return p
			}(),
			dec:     closeDecision(0.9),
			inFault: "not whitelisted",
		},
		{
			name:    "confidence below minimum",
			store:   &memLedgerStore{},
			pos:     longPosition(1),
			dec:     closeDecision(0.6),
			inFault: "below minimum",
		},
		{
			name:    "daily limit reached",
			store:   &memLedgerStore{countToday: 10},
			pos:     longPosition(1),
			dec:     closeDecision(0.9),
			inFault: "daily execution limit",
		},
		{
			name:    "cooldown active",
			store:   &memLedgerStore{last: map[string]time.Time{"BTCUSDT": testNow.Add(-5 * time.Minute)}},
			pos:     longPosition(1),
			dec:     closeDecision(0.9),
			inFault: "cooldown active",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := new(MockExchange)
			e, _ := newTestExecutor(client, tc.store)

			res, err := e.ExecuteDecision(context.Background(), tc.pos, tc.dec)
			assert.NoError(t, err, "a guard rejection is an outcome, not an error")
			assert.False(t, res.Executed)
			assert.Contains(t, res.Reason, tc.inFault)
			client.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)

			// The rejection itself is persisted.
			if assert.Len(t, tc.store.records, 1) {
				assert.False(t, tc.store.records[0].Executed)
			}
		})
	}
}

func TestExecuteCloseLong(t *testing.T) {
	client := new(MockExchange)
	store := &memLedgerStore{}
	e, _ := newTestExecutor(client, store)

	client.On("GetSymbolPrecision", mock.Anything, "BTCUSDT").Return(3, nil)
	client.On("PlaceOrder", mock.Anything, exchange.OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       types.SideSell,
		Type:       "MARKET",
		Quantity:   0.5,
		ReduceOnly: true,
	}).Return(exchange.OrderResult{OrderID: 42, Status: "FILLED", ExecutedQty: 0.5, AvgFillPrice: 48990}, nil)

	res, err := e.ExecuteDecision(context.Background(), longPosition(0.5), closeDecision(0.9))
	assert.NoError(t, err)
	assert.True(t, res.Executed)
	assert.Equal(t, types.SideSell, res.Side)
	assert.Equal(t, int64(42), res.OrderID)
	assert.Equal(t, 48990.0, res.FillPrice)

	if assert.Len(t, store.records, 1) {
		assert.True(t, store.records[0].Executed)
		assert.Equal(t, types.ActionClose, store.records[0].Action)
	}
	// Cooldown advanced only after the confirmed, persisted execution.
	assert.Equal(t, testNow, e.ledger.Cooldowns()["BTCUSDT"])
}

func TestReduceHalfOfThirteenAtPrecisionZero(t *testing.T) {
	client := new(MockExchange)
	store := &memLedgerStore{}
	e, _ := newTestExecutor(client, store)

	client.On("GetSymbolPrecision", mock.Anything, "BTCUSDT").Return(0, nil)
	client.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(req exchange.OrderRequest) bool {
		return req.Quantity == 6 && req.ReduceOnly
	})).Return(exchange.OrderResult{OrderID: 7, Status: "FILLED", ExecutedQty: 6}, nil)

	dec := closeDecision(0.9)
	dec.Action = types.ActionReduce50
	res, err := e.ExecuteDecision(context.Background(), longPosition(13), dec)
	assert.NoError(t, err)
	assert.True(t, res.Executed)
	assert.Equal(t, 6.0, res.Quantity, "13 * 0.5 floors to 6 at precision 0")
}

func TestCloseShortBuys(t *testing.T) {
	client := new(MockExchange)
	store := &memLedgerStore{}
	e, _ := newTestExecutor(client, store)

	pos := longPosition(2)
	pos.Direction = types.DirectionShort
	client.On("GetSymbolPrecision", mock.Anything, "BTCUSDT").Return(0, nil)
	client.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(req exchange.OrderRequest) bool {
		return req.Side == types.SideBuy
	})).Return(exchange.OrderResult{OrderID: 9, Status: "FILLED"}, nil)

	res, err := e.ExecuteDecision(context.Background(), pos, closeDecision(0.9))
	assert.NoError(t, err)
	assert.True(t, res.Executed)
	assert.Equal(t, types.SideBuy, res.Side)
}

func TestTransientErrorIsRetried(t *testing.T) {
	client := new(MockExchange)
	store := &memLedgerStore{}
	e, _ := newTestExecutor(client, store)

	transient := &common.APIError{Code: -1001, Message: "internal error; unable to process your request"}
	client.On("GetSymbolPrecision", mock.Anything, "BTCUSDT").Return(0, nil)
	client.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.OrderResult{}, transient).Once()
	client.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.OrderResult{OrderID: 11, Status: "FILLED"}, nil).Once()

	res, err := e.ExecuteDecision(context.Background(), longPosition(2), closeDecision(0.9))
	assert.NoError(t, err)
	assert.True(t, res.Executed)
	client.AssertNumberOfCalls(t, "PlaceOrder", 2)
}

func TestSizingRejectionFallsBackToHalf(t *testing.T) {
	client := new(MockExchange)
	store := &memLedgerStore{}
	e, errlog := newTestExecutor(client, store)

	sizing := &common.APIError{Code: -2019, Message: "Margin is insufficient."}
	client.On("GetSymbolPrecision", mock.Anything, "BTCUSDT").Return(0, nil)
	client.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(req exchange.OrderRequest) bool {
		return req.Quantity == 6
	})).Return(exchange.OrderResult{}, sizing).Once()
	client.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(req exchange.OrderRequest) bool {
		return req.Quantity == 3
	})).Return(exchange.OrderResult{OrderID: 13, Status: "FILLED", ExecutedQty: 3}, nil).Once()

	dec := closeDecision(0.9)
	dec.Action = types.ActionReduce50
	res, err := e.ExecuteDecision(context.Background(), longPosition(13), dec)
	assert.NoError(t, err)
	assert.True(t, res.Executed)

	events := make([]string, 0)
	for _, rec := range errlog.Recent(0) {
		events = append(events, rec.Event)
	}
	assert.Contains(t, events, resilience.EventFallbackApplied)
}

func TestRetryExhaustionFailsTheExecution(t *testing.T) {
	client := new(MockExchange)
	store := &memLedgerStore{}
	e, _ := newTestExecutor(client, store)

	transient := &common.APIError{Code: -1001, Message: "disconnected"}
	client.On("GetSymbolPrecision", mock.Anything, "BTCUSDT").Return(0, nil)
	client.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.OrderResult{}, transient)

	res, err := e.ExecuteDecision(context.Background(), longPosition(2), closeDecision(0.9))
	assert.ErrorIs(t, err, resilience.ErrRetryExhausted)
	assert.False(t, res.Executed)
	client.AssertNumberOfCalls(t, "PlaceOrder", 3)

	// The failure is still persisted, and no cooldown advanced.
	if assert.Len(t, store.records, 1) {
		assert.False(t, store.records[0].Executed)
	}
	assert.Empty(t, e.ledger.Cooldowns())
}

func TestDustQuantityIsRejected(t *testing.T) {
	client := new(MockExchange)
	store := &memLedgerStore{}
	e, _ := newTestExecutor(client, store)

	client.On("GetSymbolPrecision", mock.Anything, "BTCUSDT").Return(0, nil)

	dec := closeDecision(0.9)
	dec.Action = types.ActionReduce50
	res, err := e.ExecuteDecision(context.Background(), longPosition(1), dec)
	assert.NoError(t, err)
	assert.False(t, res.Executed)
	assert.Contains(t, res.Reason, "truncated to zero")
	client.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestProfileOverrideTightensConfidence(t *testing.T) {
	client := new(MockExchange)
	store := &memLedgerStore{}
	e, _ := newTestExecutor(client, store, WithProfileSource(func(symbol string) (Limits, bool) {
		if symbol == "BTCUSDT" {
			return Limits{MinConfidence: 0.85}, true
		}
		return Limits{}, false
	}))

	// 0.8 clears the global 0.75 floor but not the profile's 0.85.
	res, err := e.ExecuteDecision(context.Background(), longPosition(1), closeDecision(0.8))
	assert.NoError(t, err)
	assert.False(t, res.Executed)
	assert.Contains(t, res.Reason, "below minimum 0.85")
	client.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestProfileOverrideExtendsCooldown(t *testing.T) {
	client := new(MockExchange)
	// 20 minutes since the last execution: past the global 900s cooldown,
	// inside the profile's 1800s one.
	store := &memLedgerStore{last: map[string]time.Time{"BTCUSDT": testNow.Add(-20 * time.Minute)}}
	e, _ := newTestExecutor(client, store, WithProfileSource(func(string) (Limits, bool) {
		return Limits{Cooldown: 1800 * time.Second}, true
	}))

	res, err := e.ExecuteDecision(context.Background(), longPosition(1), closeDecision(0.9))
	assert.NoError(t, err)
	assert.False(t, res.Executed)
	assert.Contains(t, res.Reason, "cooldown active")
	client.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestProfileOverrideTightensDailyLimit(t *testing.T) {
	client := new(MockExchange)
	store := &memLedgerStore{countToday: 4}
	e, _ := newTestExecutor(client, store, WithProfileSource(func(string) (Limits, bool) {
		return Limits{MaxDailyExecutions: 4}, true
	}))

	res, err := e.ExecuteDecision(context.Background(), longPosition(1), closeDecision(0.9))
	assert.NoError(t, err)
	assert.False(t, res.Executed)
	assert.Contains(t, res.Reason, "daily execution limit reached (4/4)")
}

func TestProfileZeroFieldsKeepGlobalLimits(t *testing.T) {
	client := new(MockExchange)
	store := &memLedgerStore{}
	e, _ := newTestExecutor(client, store, WithProfileSource(func(string) (Limits, bool) {
		return Limits{}, true
	}))

	client.On("GetSymbolPrecision", mock.Anything, "BTCUSDT").Return(0, nil)
	client.On("PlaceOrder", mock.Anything, mock.Anything).
		Return(exchange.OrderResult{OrderID: 21, Status: "FILLED"}, nil)

	res, err := e.ExecuteDecision(context.Background(), longPosition(2), closeDecision(0.8))
	assert.NoError(t, err)
	assert.True(t, res.Executed, "an empty profile must behave like no profile at all")
}

func TestProfileOverrideReduceFraction(t *testing.T) {
	client := new(MockExchange)
	store := &memLedgerStore{}
	e, _ := newTestExecutor(client, store, WithProfileSource(func(string) (Limits, bool) {
		return Limits{ReduceFraction: 0.25}, true
	}))

	client.On("GetSymbolPrecision", mock.Anything, "BTCUSDT").Return(0, nil)
	client.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(req exchange.OrderRequest) bool {
		return req.Quantity == 3
	})).Return(exchange.OrderResult{OrderID: 17, Status: "FILLED", ExecutedQty: 3}, nil)

	dec := closeDecision(0.9)
	dec.Action = types.ActionReduce50
	res, err := e.ExecuteDecision(context.Background(), longPosition(13), dec)
	assert.NoError(t, err)
	assert.True(t, res.Executed)
	assert.Equal(t, 3.0, res.Quantity, "13 * 0.25 floors to 3 at precision 0")
}

func TestPersistenceFailureDoesNotAdvanceCooldown(t *testing.T) {
	client := new(MockExchange)
	store := &memLedgerStore{failInsert: true}
	e, errlog := newTestExecutor(client, store)

	client.On("GetSymbolPrecision", mock.Anything, "BTCUSDT").Return(0, nil)
	client.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.OrderResult{OrderID: 5, Status: "FILLED"}, nil)

	res, err := e.ExecuteDecision(context.Background(), longPosition(2), closeDecision(0.9))
	assert.NoError(t, err, "the order went through; the audit gap is an alert, not a failure")
	assert.True(t, res.Executed)
	assert.Empty(t, e.ledger.Cooldowns(), "memory must not diverge ahead of the durable ledger")

	events := make([]string, 0)
	for _, rec := range errlog.Recent(0) {
		events = append(events, rec.Event)
	}
	assert.Contains(t, events, resilience.EventLedgerMismatch)
}
