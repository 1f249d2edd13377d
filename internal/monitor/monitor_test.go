package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sentinel/internal/decision"
	"sentinel/internal/gateway/exchange"
	"sentinel/internal/learner"
	"sentinel/internal/queue"
	"sentinel/internal/store/gormstore"
	"sentinel/internal/types"
)

type mockExchange struct {
	mock.Mock
}

func (m *mockExchange) GetOpenPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Position), args.Error(1)
}

func (m *mockExchange) GetAccountBalance(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockExchange) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(exchange.OrderResult), args.Error(1)
}

func (m *mockExchange) GetSymbolPrecision(ctx context.Context, symbol string) (int, error) {
	args := m.Called(ctx, symbol)
	return args.Int(0), args.Error(1)
}

func (m *mockExchange) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockExchange) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	args := m.Called(ctx, symbol, interval, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]exchange.Candle), args.Error(1)
}

type memMonitorStore struct {
	mu        sync.Mutex
	snapshots []types.Position
	outcomes  []gormstore.SymbolOutcome
	execCount int
}

func (s *memMonitorStore) InsertPositionSnapshot(_ context.Context, pos types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, pos)
	return nil
}

func (s *memMonitorStore) RecentOutcomesBySymbol(context.Context, time.Duration, time.Time) ([]gormstore.SymbolOutcome, error) {
	return s.outcomes, nil
}

func (s *memMonitorStore) CountExecutionsSince(context.Context, time.Time) (int, error) {
	return s.execCount, nil
}

type memOppStore struct {
	mu       sync.Mutex
	opps     map[string]types.MissedOpportunity
	outcomes []string
}

func newMemOppStore() *memOppStore {
	return &memOppStore{opps: make(map[string]types.MissedOpportunity)}
}

func (s *memOppStore) InsertOpportunity(_ context.Context, opp types.MissedOpportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opps[opp.ID] = opp
	return nil
}

func (s *memOppStore) UpdateOpportunity(_ context.Context, opp types.MissedOpportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opps[opp.ID] = opp
	return nil
}

func (s *memOppStore) GetOpportunity(_ context.Context, id string) (types.MissedOpportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	opp, ok := s.opps[id]
	if !ok {
		return types.MissedOpportunity{}, errors.New("not found")
	}
	return opp, nil
}

func (s *memOppStore) ListTrackingOpportunities(context.Context) ([]types.MissedOpportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.MissedOpportunity
	for _, opp := range s.opps {
		if opp.Status == types.OpportunityTracking {
			out = append(out, opp)
		}
	}
	return out, nil
}

func (s *memOppStore) InsertTradeOutcome(_ context.Context, symbol string, _ bool, _ float64, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, symbol+"/"+source)
	return nil
}

// zigzag mirrors the triangle-wave fixture used by the structure analyzer
// tests: period 8, amplitude 8, drifting by trend per bar.
func zigzag(n int, base, trend float64) []exchange.Candle {
	candles := make([]exchange.Candle, n)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		phase := i % 8
		wave := phase
		if phase > 4 {
			wave = 8 - phase
		}
		p := base + trend*float64(i) + 2*float64(wave)
		candles[i] = exchange.Candle{
			OpenTime: ts.Add(time.Duration(i) * 15 * time.Minute).UnixMilli(),
			Open:     p,
			High:     p + 1,
			Low:      p - 1,
			Close:    p,
			Volume:   100,
		}
	}
	return candles
}

var monitorNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func newTestMonitor(client exchange.Client, store Store, lrn *learner.Learner, symbols []string) (*Monitor, *queue.Queue) {
	q := queue.New(func(context.Context, types.Order) error { return nil }, queue.Options{})
	m := New(client, decision.NewEngine(decision.DefaultConfig()), q, store, lrn, Config{
		Symbols:       symbols,
		KlineInterval: "15m",
		MinConfluence: 2,
	})
	m.now = func() time.Time { return monitorNow }
	return m, q
}

func riskyLongPosition() types.Position {
	pos := types.Position{
		Symbol:           "BTCUSDT",
		Direction:        types.DirectionLong,
		EntryPrice:       50000,
		MarkPrice:        41000,
		LiquidationPrice: 40000,
		Quantity:         0.5,
		Leverage:         10,
		MarginType:       types.MarginIsolated,
	}
	pos.UnrealizedPnl = (pos.MarkPrice - pos.EntryPrice) * pos.Quantity
	pos.UnrealizedPnlPct = pos.PnlPct()
	return pos
}

func healthyLongPosition() types.Position {
	pos := types.Position{
		Symbol:           "BTCUSDT",
		Direction:        types.DirectionLong,
		EntryPrice:       50000,
		MarkPrice:        50500,
		LiquidationPrice: 40000,
		Quantity:         0.5,
		Leverage:         10,
		MarginType:       types.MarginIsolated,
	}
	pos.UnrealizedPnl = (pos.MarkPrice - pos.EntryPrice) * pos.Quantity
	pos.UnrealizedPnlPct = pos.PnlPct()
	return pos
}

func TestCycleQueuesCloseForRiskyPosition(t *testing.T) {
	client := new(mockExchange)
	store := &memMonitorStore{}
	m, q := newTestMonitor(client, store, nil, nil)

	pos := riskyLongPosition()
	client.On("GetOpenPositions", mock.Anything, "").Return([]types.Position{pos}, nil)
	client.On("GetAccountBalance", mock.Anything).Return(10000.0, nil)
	client.On("FetchCandles", mock.Anything, "BTCUSDT", "15m", mock.Anything).Return(nil, errors.New("feed down"))
	client.On("GetFundingRate", mock.Anything, "BTCUSDT").Return(0.0, errors.New("feed down"))

	m.Cycle(context.Background())

	orders := q.History()
	require.Len(t, orders, 1)
	assert.Equal(t, "BTCUSDT", orders[0].Symbol)
	assert.Equal(t, types.SideSell, orders[0].Side)
	assert.True(t, orders[0].ReduceOnly)
	assert.Equal(t, types.ActionClose, orders[0].Decision.Action)
	assert.Equal(t, pos.Quantity, orders[0].Position.Quantity)

	require.Len(t, store.snapshots, 1)
	assert.Equal(t, "BTCUSDT", store.snapshots[0].Symbol)
}

func TestCycleShortPositionClosesWithBuy(t *testing.T) {
	client := new(mockExchange)
	store := &memMonitorStore{}
	m, q := newTestMonitor(client, store, nil, nil)

	pos := riskyLongPosition()
	pos.Direction = types.DirectionShort
	pos.MarkPrice = 39500
	pos.LiquidationPrice = 40000
	pos.UnrealizedPnl = (pos.EntryPrice - pos.MarkPrice) * pos.Quantity
	pos.UnrealizedPnlPct = pos.PnlPct()

	client.On("GetOpenPositions", mock.Anything, "").Return([]types.Position{pos}, nil)
	client.On("GetAccountBalance", mock.Anything).Return(10000.0, nil)
	client.On("FetchCandles", mock.Anything, "BTCUSDT", "15m", mock.Anything).Return(nil, errors.New("feed down"))
	client.On("GetFundingRate", mock.Anything, "BTCUSDT").Return(0.0, errors.New("feed down"))

	m.Cycle(context.Background())

	orders := q.History()
	require.Len(t, orders, 1)
	assert.Equal(t, types.SideBuy, orders[0].Side)
}

func TestCycleHoldsHealthyPosition(t *testing.T) {
	client := new(mockExchange)
	store := &memMonitorStore{}
	m, q := newTestMonitor(client, store, nil, nil)

	client.On("GetOpenPositions", mock.Anything, "").Return([]types.Position{healthyLongPosition()}, nil)
	client.On("GetAccountBalance", mock.Anything).Return(10000.0, nil)
	client.On("FetchCandles", mock.Anything, "BTCUSDT", "15m", mock.Anything).Return(nil, errors.New("feed down"))
	client.On("GetFundingRate", mock.Anything, "BTCUSDT").Return(0.0, errors.New("feed down"))

	m.Cycle(context.Background())

	assert.Empty(t, q.History(), "healthy position must not produce orders")
	assert.Len(t, store.snapshots, 1, "snapshots persist regardless of the decision")
}

func TestCyclePositionFetchFailureSkipsEverything(t *testing.T) {
	client := new(mockExchange)
	store := &memMonitorStore{}
	m, q := newTestMonitor(client, store, nil, []string{"BTCUSDT"})

	client.On("GetOpenPositions", mock.Anything, "").Return(nil, errors.New("exchange down"))

	m.Cycle(context.Background())

	assert.Empty(t, q.History())
	assert.Empty(t, store.snapshots)
	client.AssertNotCalled(t, "GetAccountBalance", mock.Anything)
}

func TestCycleTracksMissedEntry(t *testing.T) {
	client := new(mockExchange)
	store := &memMonitorStore{execCount: 3}
	opps := newMemOppStore()
	lrn := learner.New(opps, learner.Config{MinConfluence: 2}, learner.WithNow(func() time.Time { return monitorNow }))
	m, _ := newTestMonitor(client, store, lrn, []string{"BTCUSDT"})

	// Rising triangle wave: bullish bias with a break of structure, which
	// alone clears the confluence floor of 2.
	candles := zigzag(40, 100, 0.5)
	client.On("GetOpenPositions", mock.Anything, "").Return([]types.Position{}, nil)
	client.On("GetAccountBalance", mock.Anything).Return(10000.0, nil)
	client.On("FetchCandles", mock.Anything, "BTCUSDT", "15m", mock.Anything).Return(candles, nil)
	client.On("GetFundingRate", mock.Anything, "BTCUSDT").Return(0.0001, nil)

	m.Cycle(context.Background())

	opps.mu.Lock()
	defer opps.mu.Unlock()
	require.Len(t, opps.opps, 1)
	for _, opp := range opps.opps {
		assert.Equal(t, "BTCUSDT", opp.Symbol)
		assert.Equal(t, types.DirectionLong, opp.Direction)
		assert.GreaterOrEqual(t, opp.Confluence, 2)
		assert.Equal(t, 3, opp.RecentTrades24)
		assert.Equal(t, types.OpportunityTracking, opp.Status)
		assert.Equal(t, candles[len(candles)-1].Close, opp.EntryPrice)
	}
}

func TestCycleSkipsHeldSymbolsForTracking(t *testing.T) {
	client := new(mockExchange)
	store := &memMonitorStore{}
	opps := newMemOppStore()
	lrn := learner.New(opps, learner.Config{MinConfluence: 2}, learner.WithNow(func() time.Time { return monitorNow }))
	m, _ := newTestMonitor(client, store, lrn, []string{"BTCUSDT"})

	client.On("GetOpenPositions", mock.Anything, "").Return([]types.Position{healthyLongPosition()}, nil)
	client.On("GetAccountBalance", mock.Anything).Return(10000.0, nil)
	client.On("FetchCandles", mock.Anything, "BTCUSDT", "15m", mock.Anything).Return(zigzag(40, 100, 0.5), nil)
	client.On("GetFundingRate", mock.Anything, "BTCUSDT").Return(0.0001, nil)

	m.Cycle(context.Background())

	opps.mu.Lock()
	defer opps.mu.Unlock()
	assert.Empty(t, opps.opps, "symbols with an open position are not tracked as missed")
}

func TestCycleEvaluatesDueOpportunity(t *testing.T) {
	client := new(mockExchange)
	store := &memMonitorStore{}
	opps := newMemOppStore()
	lrn := learner.New(opps, learner.Config{})
	m, _ := newTestMonitor(client, store, lrn, nil)

	// Registered 4h ago on a 15m chart: the 12-candle lookback (3h) has
	// elapsed, so the cycle must close it out.
	registered := monitorNow.Add(-4 * time.Hour)
	opp := types.MissedOpportunity{
		ID:           "opp-1",
		Symbol:       "ETHUSDT",
		Direction:    types.DirectionLong,
		EntryPrice:   100,
		Confluence:   6,
		TakeProfit:   106,
		StopLoss:     97,
		Status:       types.OpportunityTracking,
		RegisteredAt: registered,
	}
	require.NoError(t, opps.InsertOpportunity(context.Background(), opp))

	// Window candles ride up to the take-profit without touching the stop.
	candles := []exchange.Candle{
		{OpenTime: registered.Add(15 * time.Minute).UnixMilli(), Open: 100, High: 102, Low: 99, Close: 101},
		{OpenTime: registered.Add(30 * time.Minute).UnixMilli(), Open: 101, High: 107, Low: 100, Close: 105},
		{OpenTime: registered.Add(45 * time.Minute).UnixMilli(), Open: 105, High: 106, Low: 103, Close: 104},
	}
	client.On("GetOpenPositions", mock.Anything, "").Return([]types.Position{}, nil)
	client.On("GetAccountBalance", mock.Anything).Return(10000.0, nil)
	client.On("FetchCandles", mock.Anything, "ETHUSDT", "15m", mock.Anything).Return(candles, nil)

	m.Cycle(context.Background())

	got, err := opps.GetOpportunity(context.Background(), "opp-1")
	require.NoError(t, err)
	assert.Equal(t, types.OpportunityEvaluated, got.Status)
	assert.True(t, got.WouldHaveWon, "take-profit was reached before the stop")
	assert.InDelta(t, 6, got.ProfitPctIfEntered, 0.001)
	assert.Equal(t, types.QualityExcellent, got.Quality)
	// A clean miss under calm conditions is penalized.
	assert.InDelta(t, -1, got.ContextualReward, 0.001)
	assert.Equal(t, []string{"ETHUSDT/inaction"}, opps.outcomes)
}

func TestEntrySignalConfluence(t *testing.T) {
	rsi := 30.0
	e17, e34, e72 := 110.0, 105.0, 100.0
	macd, signal := 1.5, 1.0
	bundle := decision.IndicatorBundle{
		RSI:        &rsi,
		EMA17:      &e17,
		EMA34:      &e34,
		EMA72:      &e72,
		MACD:       &macd,
		MACDSignal: &signal,
	}
	ms := decision.MarketStructure{
		Bias:      decision.BiasBullish,
		RecentBOS: true,
		Zone:      decision.ZoneDiscount,
	}

	dir, confluence := entrySignal(bundle, ms)
	assert.Equal(t, types.DirectionLong, dir)
	assert.Equal(t, 6, confluence)

	_, none := entrySignal(bundle, decision.MarketStructure{Bias: decision.BiasNeutral})
	assert.Zero(t, none)
}

func TestDrawdownPct(t *testing.T) {
	balance := 10000.0
	losing := []types.Position{{UnrealizedPnl: -500}, {UnrealizedPnl: -300}}

	assert.InDelta(t, 8, drawdownPct(losing, &balance), 0.001)
	assert.Zero(t, drawdownPct([]types.Position{{UnrealizedPnl: 200}}, &balance))
	assert.Zero(t, drawdownPct(losing, nil), "no balance means no denominator")
}
