package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"binance-pnl-analyzer-go/internal/analyzer"
	"binance-pnl-analyzer-go/internal/binance"
	"binance-pnl-analyzer-go/internal/config"
	"binance-pnl-analyzer-go/internal/database"
	"binance-pnl-analyzer-go/internal/logger"
	"binance-pnl-analyzer-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, cancelling analysis...")
		cancel()
	}()

	sources := buildSources(&cfg, log)
	if len(sources) == 0 {
		log.Fatal("No traders configured; nothing to analyze")
	}

	runner := analyzer.New(log, cfg.Analysis.PeriodsPerYearOrDefault(), cfg.Analysis.MaxParallel)
	reports := runner.Run(ctx, sources)

	for _, report := range reports {
		if report.Error != "" {
			log.Error("Source failed, results are partial",
				zap.String("trader", report.TraderID),
				zap.String("error", report.Error))
		}
		if err := persistReport(db, &report); err != nil {
			log.Error("Failed to persist report",
				zap.String("trader", report.TraderID),
				zap.Error(err))
			continue
		}
		log.Info("Report persisted",
			zap.String("trader", report.TraderID),
			zap.String("run_id", report.RunID),
			zap.Int("trades", len(report.Trades)),
			zap.Float64("net_pnl", report.Summary.NetPnl),
			zap.Float64("max_drawdown_pct", report.Summary.MaxDrawdownPct))
	}

	log.Info("All analysis runs complete.")
}

// buildSources maps configured trader IDs onto decision-log directories and,
// when enabled, attaches the account's exchange fill history to one of them.
func buildSources(cfg *config.Config, log *zap.Logger) []analyzer.Source {
	var fills []binance.UserTrade
	if cfg.Analysis.FetchFills && cfg.Binance.ApiKey != "" {
		fills = fetchFills(cfg, log)
	}

	sources := make([]analyzer.Source, 0, len(cfg.Analysis.Traders))
	for _, trader := range cfg.Analysis.Traders {
		src := analyzer.Source{
			TraderID: trader,
			Dir:      filepath.Join(cfg.Analysis.LogRoot, trader),
		}
		if trader == cfg.Analysis.FillsTrader {
			src.Fills = fills
		}
		sources = append(sources, src)
	}
	return sources
}

// fetchFills pulls userTrades for the configured symbols. The fetch is an
// upstream concern: it completes before the batch run starts, and a symbol
// that fails to fetch degrades the run instead of aborting it.
func fetchFills(cfg *config.Config, log *zap.Logger) []binance.UserTrade {
	client := binance.NewRestClient(&cfg.Binance, log)
	if _, err := client.GetServerTime(); err != nil {
		log.Error("Failed to connect to Binance API, continuing without fill history", zap.Error(err))
		return nil
	}

	since := time.Now().Add(-time.Duration(cfg.Analysis.FillLookbackHours) * time.Hour)
	var fills []binance.UserTrade
	for _, symbol := range cfg.Analysis.FillSymbols {
		rows, err := client.GetUserTrades(symbol, since)
		if err != nil {
			log.Warn("Failed to fetch fills for symbol, skipping it",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		fills = append(fills, rows...)
	}
	log.Info("Fetched exchange fill history", zap.Int("fills", len(fills)))
	return fills
}

func persistReport(db *gorm.DB, report *analyzer.Report) error {
	summaryJSON, err := json.Marshal(report.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	run := models.AnalysisRun{
		RunID:          report.RunID,
		TraderID:       report.TraderID,
		GeneratedAt:    report.GeneratedAt.UnixMilli(),
		Cycles:         report.Cycles,
		TotalTrades:    len(report.Trades),
		NetPnl:         report.Summary.NetPnl,
		MaxDrawdownPct: report.Summary.MaxDrawdownPct,
		SkippedRecords: report.SkippedRecords,
		Inconsistent:   report.Inconsistencies,
		SummaryJSON:    string(summaryJSON),
		Error:          report.Error,
	}
	if err := db.Create(&run).Error; err != nil {
		return fmt.Errorf("failed to save analysis run: %w", err)
	}

	for _, t := range report.Trades {
		row := models.Trade{
			RunID:           report.RunID,
			TraderID:        report.TraderID,
			Symbol:          t.Symbol,
			Side:            string(t.Side),
			OpenTime:        t.OpenTime.UnixMilli(),
			CloseTime:       t.CloseTime.UnixMilli(),
			EntryPrice:      t.EntryPrice,
			ExitPrice:       t.ExitPrice,
			Quantity:        t.Quantity,
			Leverage:        t.Leverage,
			RealizedPnl:     t.RealizedPnl,
			PnlPct:          t.PnlPct,
			PnlPctLeveraged: t.PnlPctLeveraged,
			Commission:      t.Commission,
			DurationMin:     t.DurationMin,
			ExitPriceSource: t.ExitPriceSource,
		}
		if err := db.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to save trade record: %w", err)
		}
	}
	return nil
}
