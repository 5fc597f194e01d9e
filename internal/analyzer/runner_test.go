package analyzer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeDecisionFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

// A three-cycle log: an open decision, then the position visible in the
// snapshot, then the position gone without any closing decision. The ledger
// has to recover the close from the disappearance.
func writeDisappearanceScenario(t *testing.T, dir string) {
	t.Helper()
	writeDecisionFile(t, dir, "decision_20251110_093000_cycle1.json", `{
		"timestamp": "2025-11-10T09:30:00Z",
		"cycle_number": 1,
		"positions": [],
		"decisions": [
			{"action": "open_long", "symbol": "BTCUSDT", "price": 100, "quantity": 1,
			 "leverage": 10, "success": true, "timestamp": "2025-11-10T09:30:05Z"}
		],
		"account_state": {"total_balance": 1000, "total_unrealized_profit": 0,
		 "position_count": 0, "margin_used_pct": 0}
	}`)
	writeDecisionFile(t, dir, "decision_20251110_093500_cycle2.json", `{
		"timestamp": "2025-11-10T09:35:00Z",
		"cycle_number": 2,
		"positions": [
			{"symbol": "BTCUSDT", "side": "long", "entry_price": 100, "mark_price": 105,
			 "position_amt": 1, "unrealized_pnl": 5, "unrealized_pnl_pct": 5, "leverage": 10}
		],
		"decisions": [],
		"account_state": {"total_balance": 1005, "total_unrealized_profit": 5,
		 "position_count": 1, "margin_used_pct": 10}
	}`)
	writeDecisionFile(t, dir, "decision_20251110_094000_cycle3.json", `{
		"timestamp": "2025-11-10T09:40:00Z",
		"cycle_number": 3,
		"positions": [],
		"decisions": [],
		"account_state": {"total_balance": 1004, "total_unrealized_profit": 0,
		 "position_count": 0, "margin_used_pct": 0}
	}`)
}

func TestAnalyzerRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeDisappearanceScenario(t, dir)
	// A corrupt file must not abort the run.
	writeDecisionFile(t, dir, "decision_20251110_094500_cycle4.json", `{not json`)

	a := New(zap.NewNop(), 288, 2)
	reports := a.Run(context.Background(), []Source{{TraderID: "mock_trader", Dir: dir}})

	require.Len(t, reports, 1)
	report := reports[0]
	assert.Empty(t, report.Error)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 4, report.Cycles)
	assert.Equal(t, 1, report.SkippedRecords)

	require.Len(t, report.Trades, 1)
	trade := report.Trades[0]
	assert.Equal(t, "BTCUSDT", trade.Symbol)
	assert.Equal(t, SideLong, trade.Side)
	assert.Equal(t, 100.0, trade.EntryPrice)
	assert.Equal(t, 105.0, trade.ExitPrice)
	assert.Equal(t, ExitSourceSnapshot, trade.ExitPriceSource)
	// Closed at the cycle that no longer showed the position.
	assert.Equal(t, time.Date(2025, 11, 10, 9, 40, 0, 0, time.UTC), trade.CloseTime)
	assert.InDelta(t, 5.0, trade.PnlPct, 1e-9)
	assert.InDelta(t, 50.0, trade.PnlPctLeveraged, 1e-9)

	assert.GreaterOrEqual(t, report.Inconsistencies, 1)
	assert.Empty(t, report.OpenPositions)

	require.Len(t, report.Equity, 3)
	assert.Equal(t, 1000.0, report.Summary.InitialEquity)
	assert.Equal(t, 1004.0, report.Summary.FinalEquity)
	assert.Equal(t, 1, report.Summary.TotalTrades)
}

// Same disappearance shape as above, but in the old log format: no
// cycle_number in the body and no _cycleN suffix in the filename. Cycles are
// then grouped by their timestamps.
func TestAnalyzerRunDisappearanceWithoutCycleNumbers(t *testing.T) {
	dir := t.TempDir()
	writeDecisionFile(t, dir, "decision_20251110_093000.json", `{
		"timestamp": "2025-11-10T09:30:00Z",
		"positions": [
			{"symbol": "BTCUSDT", "side": "long", "entry_price": 100, "mark_price": 105,
			 "position_amt": 1, "leverage": 10}
		],
		"account_state": {"total_balance": 1005}
	}`)
	writeDecisionFile(t, dir, "decision_20251110_093500.json", `{
		"timestamp": "2025-11-10T09:35:00Z",
		"positions": [],
		"account_state": {"total_balance": 1004}
	}`)
	writeDecisionFile(t, dir, "decision_20251110_094000.json", `{
		"timestamp": "2025-11-10T09:40:00Z",
		"positions": [],
		"account_state": {"total_balance": 1004}
	}`)

	a := New(zap.NewNop(), 288, 1)
	reports := a.Run(context.Background(), []Source{{TraderID: "mock_trader", Dir: dir}})

	require.Len(t, reports, 1)
	report := reports[0]
	require.Len(t, report.Trades, 1)
	trade := report.Trades[0]
	assert.Equal(t, 105.0, trade.ExitPrice)
	assert.Equal(t, ExitSourceSnapshot, trade.ExitPriceSource)
	assert.Equal(t, time.Date(2025, 11, 10, 9, 35, 0, 0, time.UTC), trade.CloseTime)
	assert.Empty(t, report.OpenPositions)
}

func TestAnalyzerRunExplicitClose(t *testing.T) {
	dir := t.TempDir()
	writeDecisionFile(t, dir, "decision_20251110_093000_cycle1.json", `{
		"timestamp": "2025-11-10T09:30:00Z",
		"cycle_number": 1,
		"decisions": [
			{"action": "open_short", "symbol": "ETHUSDT", "price": 3600, "quantity": 2,
			 "leverage": 5, "success": true}
		],
		"account_state": {"total_balance": 1000}
	}`)
	writeDecisionFile(t, dir, "decision_20251110_093500_cycle2.json", `{
		"timestamp": "2025-11-10T09:35:00Z",
		"cycle_number": 2,
		"positions": [
			{"symbol": "ETHUSDT", "side": "short", "entry_price": 3600, "mark_price": 3580,
			 "position_amt": 2, "leverage": 5}
		],
		"decisions": [
			{"action": "close_short", "symbol": "ETHUSDT", "price": 3580, "quantity": 2,
			 "success": true}
		],
		"account_state": {"total_balance": 1011}
	}`)

	a := New(zap.NewNop(), 288, 1)
	reports := a.Run(context.Background(), []Source{{TraderID: "mock_trader", Dir: dir}})

	require.Len(t, reports, 1)
	require.Len(t, reports[0].Trades, 1)
	trade := reports[0].Trades[0]
	assert.Equal(t, SideShort, trade.Side)
	assert.Equal(t, ExitSourceFill, trade.ExitPriceSource)
	assert.InDelta(t, 40.0, trade.RealizedPnl, 1e-9) // (3600-3580)*2
	assert.Equal(t, 5*time.Minute, trade.Duration)
	assert.Equal(t, 0, reports[0].Inconsistencies)
}

func TestAnalyzerRunStillOpenPositions(t *testing.T) {
	dir := t.TempDir()
	writeDecisionFile(t, dir, "decision_20251110_093000_cycle1.json", `{
		"timestamp": "2025-11-10T09:30:00Z",
		"cycle_number": 1,
		"positions": [
			{"symbol": "SOLUSDT", "side": "long", "entry_price": 165.12, "mark_price": 166,
			 "position_amt": 3, "leverage": 5}
		],
		"account_state": {"total_balance": 1000}
	}`)

	a := New(zap.NewNop(), 288, 1)
	reports := a.Run(context.Background(), []Source{{TraderID: "mock_trader", Dir: dir}})

	require.Len(t, reports, 1)
	assert.Empty(t, reports[0].Trades)
	require.Len(t, reports[0].OpenPositions, 1)
	pos := reports[0].OpenPositions[0]
	assert.Equal(t, "SOLUSDT", pos.Symbol)
	assert.True(t, pos.ImplicitOpen)
	assert.Equal(t, 3.0, pos.Quantity)
}

func TestAnalyzerRunSourceFailureIsIsolated(t *testing.T) {
	goodDir := t.TempDir()
	writeDisappearanceScenario(t, goodDir)

	a := New(zap.NewNop(), 288, 2)
	reports := a.Run(context.Background(), []Source{
		{TraderID: "broken", Dir: filepath.Join(goodDir, "does-not-exist")},
		{TraderID: "good", Dir: goodDir},
	})

	require.Len(t, reports, 2)
	// The unreadable source fails alone; the other still completes.
	assert.NotEmpty(t, reports[0].Error)
	assert.Empty(t, reports[0].Trades)
	assert.Empty(t, reports[1].Error)
	assert.Len(t, reports[1].Trades, 1)
}

func TestAnalyzerRunEmptyDirectory(t *testing.T) {
	a := New(zap.NewNop(), 288, 1)
	reports := a.Run(context.Background(), []Source{{TraderID: "empty", Dir: t.TempDir()}})

	require.Len(t, reports, 1)
	report := reports[0]
	assert.Empty(t, report.Error)
	assert.Equal(t, 0, report.Cycles)
	assert.Empty(t, report.Trades)
	assert.Equal(t, 0, report.Summary.TotalTrades)
	assert.Nil(t, report.Summary.WinRate)
}
