package main

import (
	"encoding/json"
	"net/http"
	"time"

	"binance-pnl-analyzer-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log *zap.Logger
	db  *gorm.DB
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, db *gorm.DB) *APIHandler {
	return &APIHandler{log: log, db: db}
}

// StatusHandler reports liveness and row counts.
func (h *APIHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	var runs, trades int64
	h.db.Model(&models.AnalysisRun{}).Count(&runs)
	h.db.Model(&models.Trade{}).Count(&trades)

	writeJSON(w, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
		"runs":   runs,
		"trades": trades,
	})
}

// RunsHandler returns all persisted analysis runs, most recent first.
func (h *APIHandler) RunsHandler(w http.ResponseWriter, r *http.Request) {
	var runs []models.AnalysisRun
	if err := h.db.Order("generated_at desc").Find(&runs).Error; err != nil {
		h.log.Error("Failed to get runs from database", zap.Error(err))
		http.Error(w, "Failed to get runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

// TradesHandler returns reconstructed trades, optionally filtered by run_id
// or trader, most recent close first.
func (h *APIHandler) TradesHandler(w http.ResponseWriter, r *http.Request) {
	q := h.db.Order("close_time desc")
	if runID := r.URL.Query().Get("run_id"); runID != "" {
		q = q.Where("run_id = ?", runID)
	}
	if trader := r.URL.Query().Get("trader"); trader != "" {
		q = q.Where("trader_id = ?", trader)
	}

	var trades []models.Trade
	if err := q.Find(&trades).Error; err != nil {
		h.log.Error("Failed to get trades from database", zap.Error(err))
		http.Error(w, "Failed to get trades", http.StatusInternalServerError)
		return
	}
	writeJSON(w, trades)
}

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	TotalTrades      int64   `json:"total_trades"`
	ProfitableTrades int64   `json:"profitable_trades"`
	WinRate          float64 `json:"win_rate"`
	TotalPnl         float64 `json:"total_pnl"`
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

// StatisticsHandler aggregates quick win-rate statistics over the persisted
// trades. The authoritative per-run summaries live on /api/runs; this view
// cuts across runs by wall-clock close time.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	var allTrades []models.Trade
	if err := h.db.Find(&allTrades).Error; err != nil {
		h.log.Error("Failed to get trades for statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	since24h := now.Add(-24 * time.Hour)

	stats24h := StatsDetail{}
	statsAllTime := StatsDetail{}

	for _, trade := range allTrades {
		statsAllTime.TotalTrades++
		if trade.RealizedPnl > 0 {
			statsAllTime.ProfitableTrades++
		}
		statsAllTime.TotalPnl += trade.RealizedPnl

		closeTime := time.UnixMilli(trade.CloseTime)
		if closeTime.After(since24h) {
			stats24h.TotalTrades++
			if trade.RealizedPnl > 0 {
				stats24h.ProfitableTrades++
			}
			stats24h.TotalPnl += trade.RealizedPnl
		}
	}

	if statsAllTime.TotalTrades > 0 {
		statsAllTime.WinRate = float64(statsAllTime.ProfitableTrades) / float64(statsAllTime.TotalTrades)
	}
	if stats24h.TotalTrades > 0 {
		stats24h.WinRate = float64(stats24h.ProfitableTrades) / float64(stats24h.TotalTrades)
	}

	writeJSON(w, StatisticsResponse{Since24h: stats24h, AllTime: statsAllTime})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
