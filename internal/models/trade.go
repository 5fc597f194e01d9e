package models

import "gorm.io/gorm"

// Trade represents a reconstructed position lifecycle persisted to the database.
// One row per open-to-flat lifecycle of a (symbol, side) position.
type Trade struct {
	gorm.Model
	RunID           string  `gorm:"index" json:"run_id"`
	TraderID        string  `gorm:"index" json:"trader_id"`
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"` // "long" or "short"
	OpenTime        int64   `json:"open_time"`  // unix ms
	CloseTime       int64   `json:"close_time"` // unix ms
	EntryPrice      float64 `json:"entry_price"`
	ExitPrice       float64 `json:"exit_price"`
	Quantity        float64 `json:"quantity"`
	Leverage        float64 `json:"leverage"`
	RealizedPnl     float64 `json:"realized_pnl"`
	PnlPct          float64 `json:"pnl_pct"`
	PnlPctLeveraged float64 `json:"pnl_pct_leveraged"`
	Commission      float64 `json:"commission"`
	DurationMin     float64 `json:"duration_min"`
	ExitPriceSource string  `json:"exit_price_source"` // "fill" or "inferred_from_snapshot"
}
