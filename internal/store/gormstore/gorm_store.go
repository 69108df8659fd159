package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"chorus/internal/exclusion"
	"chorus/internal/ledger"
	"chorus/internal/regime"
	storemodel "chorus/internal/store/model"
)

type performanceRecordModel = storemodel.PerformanceRecordModel
type exclusionEntryModel = storemodel.ExclusionEntryModel

// GormStore implements the ledger and exclusion persistence on Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

var (
	_ ledger.Store    = (*GormStore)(nil)
	_ exclusion.Store = (*GormStore)(nil)
)

// NewGormStore opens (creating if needed) the SQLite file at path.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&performanceRecordModel{}, &exclusionEntryModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a little parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the underlying *sql.DB for shared connections.
func (s *GormStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	return s.db.DB()
}

// --------------------- Performance Records -------------------------

func (s *GormStore) UpsertPerformanceRecord(ctx context.Context, rec ledger.Record) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	recentBytes, err := json.Marshal(rec.Recent)
	if err != nil {
		return fmt.Errorf("marshal recent outcomes for %s/%d: %w", rec.Symbol, rec.Direction, err)
	}
	model := performanceRecordModel{
		Symbol:             strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		Direction:          rec.Direction,
		TotalSignals:       rec.TotalSignals,
		CorrectPredictions: rec.CorrectPredictions,
		Accuracy:           rec.Accuracy,
		AvgPnL:             rec.AvgPnL,
		AvgVolatility:      rec.AvgVolatility,
		AvgVolume:          rec.AvgVolume,
		RiskScore:          rec.RiskScore,
		RecentJSON:         datatypes.JSON(recentBytes),
		LastTradeID:        rec.LastTradeID,
		UpdatedAtUnix:      rec.UpdatedAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "symbol"}, {Name: "direction"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"total_signals", "correct_predictions", "accuracy", "avg_pnl",
				"avg_volatility", "avg_volume", "risk_score", "recent_json",
				"last_trade_id", "updated_at",
			}),
		}).
		Create(&model).Error
}

func (s *GormStore) LoadPerformanceRecords(ctx context.Context) ([]ledger.Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var models []performanceRecordModel
	if err := s.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]ledger.Record, 0, len(models))
	for _, m := range models {
		rec := ledger.Record{
			Symbol:             m.Symbol,
			Direction:          m.Direction,
			TotalSignals:       m.TotalSignals,
			CorrectPredictions: m.CorrectPredictions,
			Accuracy:           m.Accuracy,
			AvgPnL:             m.AvgPnL,
			AvgVolatility:      m.AvgVolatility,
			AvgVolume:          m.AvgVolume,
			RiskScore:          m.RiskScore,
			LastTradeID:        m.LastTradeID,
			UpdatedAt:          time.UnixMilli(m.UpdatedAtUnix),
		}
		if len(m.RecentJSON) > 0 {
			_ = json.Unmarshal(m.RecentJSON, &rec.Recent)
		}
		out = append(out, rec)
	}
	return out, nil
}

// --------------------- Exclusion Entries -------------------------

func (s *GormStore) UpsertExclusionEntry(ctx context.Context, e exclusion.Entry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	model := exclusionEntryModel{
		Symbol:        strings.ToUpper(strings.TrimSpace(e.Symbol)),
		Reason:        strings.TrimSpace(e.Reason),
		Accuracy:      e.AccuracyAtExclusion,
		Trades:        e.TradesAtExclusion,
		Regime:        string(e.RegimeAtExclusion),
		CreatedAtUnix: e.CreatedAt.UnixMilli(),
	}
	if e.ExpiresAt != nil {
		model.ExpiresAtUnix = e.ExpiresAt.UnixMilli()
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"reason", "accuracy_at_exclusion", "trades_at_exclusion",
				"regime_at_exclusion", "created_at", "expires_at",
			}),
		}).
		Create(&model).Error
}

func (s *GormStore) DeleteExclusionEntry(ctx context.Context, symbol string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return fmt.Errorf("symbol is required")
	}
	return s.db.WithContext(ctx).
		Where("symbol = ?", sym).
		Delete(&exclusionEntryModel{}).Error
}

func (s *GormStore) LoadExclusionEntries(ctx context.Context) ([]exclusion.Entry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var models []exclusionEntryModel
	if err := s.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]exclusion.Entry, 0, len(models))
	for _, m := range models {
		e := exclusion.Entry{
			Symbol:              m.Symbol,
			Reason:              m.Reason,
			AccuracyAtExclusion: m.Accuracy,
			TradesAtExclusion:   m.Trades,
			RegimeAtExclusion:   regime.Type(m.Regime),
			CreatedAt:           time.UnixMilli(m.CreatedAtUnix),
		}
		if m.ExpiresAtUnix > 0 {
			ts := time.UnixMilli(m.ExpiresAtUnix)
			e.ExpiresAt = &ts
		}
		out = append(out, e)
	}
	return out, nil
}
