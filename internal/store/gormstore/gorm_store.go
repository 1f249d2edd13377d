// Package gormstore implements sentinel's durable log and counter storage on
// Gorm + SQLite. The rest of the system treats it purely as a source of
// truth for audit rows and daily counters, never as a cache.
package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	storemodel "sentinel/internal/store/model"
	"sentinel/internal/types"
)

// Store implements snapshot, execution-log, outcome and opportunity storage.
type Store struct {
	db *gorm.DB
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&storemodel.PositionSnapshotModel{},
		&storemodel.ExecutionLogModel{},
		&storemodel.OpportunityModel{},
		&storemodel.TradeOutcomeModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP
	// reads while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

// NewFromDB wraps an existing gorm DB (tests).
func NewFromDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm store: nil db")
	}
	models := []interface{}{
		&storemodel.PositionSnapshotModel{},
		&storemodel.ExecutionLogModel{},
		&storemodel.OpportunityModel{},
		&storemodel.TradeOutcomeModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertPositionSnapshot records one observed position state.
func (s *Store) InsertPositionSnapshot(ctx context.Context, pos types.Position) error {
	row := storemodel.PositionSnapshotModel{
		Symbol:           pos.Symbol,
		Direction:        string(pos.Direction),
		EntryPrice:       pos.EntryPrice,
		MarkPrice:        pos.MarkPrice,
		LiquidationPrice: pos.LiquidationPrice,
		Quantity:         pos.Quantity,
		Leverage:         pos.Leverage,
		MarginType:       string(pos.MarginType),
		UnrealizedPnl:    pos.UnrealizedPnl,
		UnrealizedPnlPct: pos.UnrealizedPnlPct,
		CreatedAtUnix:    time.Now().Unix(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// ExecutionRecord is the audit row written for every execution attempt,
// whether the guards passed or not.
type ExecutionRecord struct {
	TraceID      string
	Symbol       string
	Action       types.Action
	Side         types.OrderSide
	Quantity     float64
	Executed     bool
	Reason       string
	OrderID      int64
	FillPrice    float64
	FillQuantity float64
	Commission   float64
	Decision     types.Decision
	At           time.Time
}

func (s *Store) InsertExecutionLog(ctx context.Context, rec ExecutionRecord) error {
	decisionJSON, err := json.Marshal(rec.Decision)
	if err != nil {
		decisionJSON = []byte("{}")
	}
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	row := storemodel.ExecutionLogModel{
		TraceID:       rec.TraceID,
		Symbol:        rec.Symbol,
		Action:        rec.Action.String(),
		Side:          string(rec.Side),
		Quantity:      rec.Quantity,
		Executed:      rec.Executed,
		Reason:        rec.Reason,
		OrderID:       rec.OrderID,
		FillPrice:     rec.FillPrice,
		FillQuantity:  rec.FillQuantity,
		Commission:    rec.Commission,
		Confidence:    rec.Decision.Confidence,
		RiskScore:     rec.Decision.RiskScore,
		DecisionJSON:  datatypes.JSON(decisionJSON),
		CreatedAtUnix: at.Unix(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// CountExecutionsToday counts confirmed executions in the current UTC
// calendar day. The durable store, not process memory, is the source of
// truth for the daily limit.
func (s *Store) CountExecutionsToday(ctx context.Context, now time.Time) (int, error) {
	dayStart := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC)
	var count int64
	err := s.db.WithContext(ctx).
		Model(&storemodel.ExecutionLogModel{}).
		Where("executed = ? AND created_at >= ?", true, dayStart.Unix()).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// LastExecutionTime returns the most recent confirmed execution time for a
// symbol, or the zero time if none exists.
func (s *Store) LastExecutionTime(ctx context.Context, symbol string) (time.Time, error) {
	var row storemodel.ExecutionLogModel
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND executed = ?", symbol, true).
		Order("created_at DESC").
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return time.Unix(row.CreatedAtUnix, 0).UTC(), nil
}

// CountExecutionsSince counts confirmed executions within the last window,
// across all symbols. The learner uses it as "recent trades 24h" context.
func (s *Store) CountExecutionsSince(ctx context.Context, since time.Time) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&storemodel.ExecutionLogModel{}).
		Where("executed = ? AND created_at >= ?", true, since.Unix()).
		Count(&count).Error
	return int(count), err
}

// SymbolOutcome aggregates recent judged outcomes for one symbol.
type SymbolOutcome struct {
	Symbol    string
	Wins      int
	Losses    int
	AvgReward float64
}

// RecentOutcomesBySymbol aggregates trade outcomes over the lookback window,
// feeding the adaptive decision overlay.
func (s *Store) RecentOutcomesBySymbol(ctx context.Context, lookback time.Duration, now time.Time) ([]SymbolOutcome, error) {
	since := now.Add(-lookback).Unix()
	var rows []storemodel.TradeOutcomeModel
	err := s.db.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	agg := make(map[string]*SymbolOutcome)
	order := make([]string, 0)
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, row := range rows {
		o, ok := agg[row.Symbol]
		if !ok {
			o = &SymbolOutcome{Symbol: row.Symbol}
			agg[row.Symbol] = o
			order = append(order, row.Symbol)
		}
		if row.Won {
			o.Wins++
		} else {
			o.Losses++
		}
		sums[row.Symbol] += row.Reward
		counts[row.Symbol]++
	}
	out := make([]SymbolOutcome, 0, len(order))
	for _, sym := range order {
		o := agg[sym]
		if counts[sym] > 0 {
			o.AvgReward = sums[sym] / float64(counts[sym])
		}
		out = append(out, *o)
	}
	return out, nil
}

// InsertTradeOutcome records one judged outcome.
func (s *Store) InsertTradeOutcome(ctx context.Context, symbol string, won bool, reward float64, source string) error {
	row := storemodel.TradeOutcomeModel{
		Symbol:        symbol,
		Won:           won,
		Reward:        reward,
		Source:        source,
		CreatedAtUnix: time.Now().Unix(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// InsertOpportunity persists a newly tracked missed opportunity.
func (s *Store) InsertOpportunity(ctx context.Context, opp types.MissedOpportunity) error {
	row := opportunityToModel(opp)
	return s.db.WithContext(ctx).Create(&row).Error
}

// UpdateOpportunity overwrites the evaluation fields of a tracked record.
func (s *Store) UpdateOpportunity(ctx context.Context, opp types.MissedOpportunity) error {
	row := opportunityToModel(opp)
	return s.db.WithContext(ctx).
		Model(&storemodel.OpportunityModel{}).
		Where("id = ?", opp.ID).
		Updates(map[string]interface{}{
			"status":                row.Status,
			"max_price_reached":     row.MaxPriceReached,
			"min_price_reached":     row.MinPriceReached,
			"would_have_won":        row.WouldHaveWon,
			"profit_pct_if_entered": row.ProfitPctIfEntered,
			"quality":               row.Quality,
			"contextual_reward":     row.ContextualReward,
			"evaluated_at":          row.EvaluatedAt,
		}).Error
}

// GetOpportunity loads a single record by id.
func (s *Store) GetOpportunity(ctx context.Context, id string) (types.MissedOpportunity, error) {
	var row storemodel.OpportunityModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return types.MissedOpportunity{}, err
	}
	return opportunityFromModel(row), nil
}

// ListTrackingOpportunities returns records still awaiting evaluation,
// oldest first.
func (s *Store) ListTrackingOpportunities(ctx context.Context) ([]types.MissedOpportunity, error) {
	var rows []storemodel.OpportunityModel
	err := s.db.WithContext(ctx).
		Where("status = ?", string(types.OpportunityTracking)).
		Order("registered_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.MissedOpportunity, 0, len(rows))
	for _, row := range rows {
		out = append(out, opportunityFromModel(row))
	}
	return out, nil
}

// RecentExecutionLogs returns the newest audit rows, for the status API.
func (s *Store) RecentExecutionLogs(ctx context.Context, limit int) ([]storemodel.ExecutionLogModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []storemodel.ExecutionLogModel
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func opportunityToModel(opp types.MissedOpportunity) storemodel.OpportunityModel {
	row := storemodel.OpportunityModel{
		ID:             opp.ID,
		Symbol:         opp.Symbol,
		Direction:      string(opp.Direction),
		EntryPrice:     opp.EntryPrice,
		Confluence:     opp.Confluence,
		DrawdownPct:    opp.DrawdownPct,
		RecentTrades24: opp.RecentTrades24,
		TakeProfit:     opp.TakeProfit,
		StopLoss:       opp.StopLoss,
		Status:         string(opp.Status),
		RegisteredAt:   opp.RegisteredAt.Unix(),

		MaxPriceReached:    opp.MaxPriceReached,
		MinPriceReached:    opp.MinPriceReached,
		WouldHaveWon:       opp.WouldHaveWon,
		ProfitPctIfEntered: opp.ProfitPctIfEntered,
		Quality:            string(opp.Quality),
		ContextualReward:   opp.ContextualReward,
	}
	if !opp.EvaluatedAt.IsZero() {
		row.EvaluatedAt = opp.EvaluatedAt.Unix()
	}
	return row
}

func opportunityFromModel(row storemodel.OpportunityModel) types.MissedOpportunity {
	opp := types.MissedOpportunity{
		ID:             row.ID,
		Symbol:         row.Symbol,
		Direction:      types.Direction(row.Direction),
		EntryPrice:     row.EntryPrice,
		Confluence:     row.Confluence,
		DrawdownPct:    row.DrawdownPct,
		RecentTrades24: row.RecentTrades24,
		TakeProfit:     row.TakeProfit,
		StopLoss:       row.StopLoss,
		Status:         types.OpportunityStatus(row.Status),
		RegisteredAt:   time.Unix(row.RegisteredAt, 0).UTC(),

		MaxPriceReached:    row.MaxPriceReached,
		MinPriceReached:    row.MinPriceReached,
		WouldHaveWon:       row.WouldHaveWon,
		ProfitPctIfEntered: row.ProfitPctIfEntered,
		Quality:            types.OpportunityQuality(row.Quality),
		ContextualReward:   row.ContextualReward,
	}
	if row.EvaluatedAt > 0 {
		opp.EvaluatedAt = time.Unix(row.EvaluatedAt, 0).UTC()
	}
	return opp
}
