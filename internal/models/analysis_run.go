package models

import "gorm.io/gorm"

// AnalysisRun represents one completed analysis over a trader's decision logs.
// The full summary object is stored as JSON alongside a few queryable columns.
type AnalysisRun struct {
	gorm.Model
	RunID          string  `gorm:"uniqueIndex" json:"run_id"`
	TraderID       string  `gorm:"index" json:"trader_id"`
	GeneratedAt    int64   `json:"generated_at"` // unix ms
	Cycles         int     `json:"cycles"`
	TotalTrades    int     `json:"total_trades"`
	NetPnl         float64 `json:"net_pnl"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	SkippedRecords int     `json:"skipped_records"`
	Inconsistent   int     `json:"inconsistencies"`
	SummaryJSON    string  `gorm:"type:text" json:"summary"`
	Error          string  `json:"error,omitempty"`
}
