package model

import "gorm.io/datatypes"

// PerformanceRecordModel persists one (symbol, direction) ledger record.
type PerformanceRecordModel struct {
	ID                 int64          `gorm:"column:id;primaryKey"`
	Symbol             string         `gorm:"column:symbol;uniqueIndex:idx_perf_symbol_direction"`
	Direction          int            `gorm:"column:direction;uniqueIndex:idx_perf_symbol_direction"`
	TotalSignals       int            `gorm:"column:total_signals"`
	CorrectPredictions int            `gorm:"column:correct_predictions"`
	Accuracy           float64        `gorm:"column:accuracy"`
	AvgPnL             float64        `gorm:"column:avg_pnl"`
	AvgVolatility      float64        `gorm:"column:avg_volatility"`
	AvgVolume          float64        `gorm:"column:avg_volume"`
	RiskScore          float64        `gorm:"column:risk_score"`
	RecentJSON         datatypes.JSON `gorm:"column:recent_json"`
	LastTradeID        string         `gorm:"column:last_trade_id"`
	UpdatedAtUnix      int64          `gorm:"column:updated_at"`
}

func (PerformanceRecordModel) TableName() string { return "performance_records" }

// ExclusionEntryModel persists one excluded instrument.
type ExclusionEntryModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	Symbol        string  `gorm:"column:symbol;uniqueIndex"`
	Reason        string  `gorm:"column:reason"`
	Accuracy      float64 `gorm:"column:accuracy_at_exclusion"`
	Trades        int     `gorm:"column:trades_at_exclusion"`
	Regime        string  `gorm:"column:regime_at_exclusion"`
	CreatedAtUnix int64   `gorm:"column:created_at"`
	ExpiresAtUnix int64   `gorm:"column:expires_at"`
}

func (ExclusionEntryModel) TableName() string { return "exclusion_entries" }
