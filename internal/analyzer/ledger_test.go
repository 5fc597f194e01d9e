package analyzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2025, 11, 10, 9, 30, 0, 0, time.UTC)

func openFill(symbol string, side Side, qty, price, leverage float64, at time.Time) Event {
	return Event{
		Kind: KindOpenFill, Time: at, Cycle: -1,
		Symbol: symbol, Side: side,
		Quantity: qty, Price: price, Leverage: leverage,
	}
}

func closeFill(symbol string, side Side, qty, price float64, at time.Time) Event {
	return Event{
		Kind: KindCloseFill, Time: at, Cycle: -1,
		Symbol: symbol, Side: side,
		Quantity: qty, Price: price,
	}
}

func TestLedgerRoundTrip(t *testing.T) {
	l := NewLedger(zap.NewNop())

	l.ObserveFill(openFill("BTCUSDT", SideLong, 1, 100, 10, t0))
	l.ObserveFill(closeFill("BTCUSDT", SideLong, 1, 110, t0.Add(30*time.Minute)))

	trades := l.Trades()
	require.Len(t, trades, 1)
	trade := trades[0]

	assert.Equal(t, "BTCUSDT", trade.Symbol)
	assert.Equal(t, SideLong, trade.Side)
	assert.Equal(t, 100.0, trade.EntryPrice)
	assert.Equal(t, 110.0, trade.ExitPrice)
	assert.Equal(t, 1.0, trade.Quantity)
	assert.Equal(t, 10.0, trade.PnlPct)
	assert.Equal(t, 100.0, trade.PnlPctLeveraged)
	assert.Equal(t, 10.0, trade.RealizedPnl)
	assert.Equal(t, 30*time.Minute, trade.Duration)
	assert.Equal(t, ExitSourceFill, trade.ExitPriceSource)
	assert.Empty(t, l.OpenPositions())
	assert.Equal(t, 0, l.Inconsistencies())
}

func TestLedgerPartialCloses(t *testing.T) {
	l := NewLedger(zap.NewNop())

	l.ObserveFill(openFill("ETHUSDT", SideLong, 2, 100, 5, t0))
	l.ObserveFill(closeFill("ETHUSDT", SideLong, 1, 110, t0.Add(5*time.Minute)))

	// Quantity only reaches zero after the second close.
	assert.Empty(t, l.Trades())
	require.Len(t, l.OpenPositions(), 1)
	assert.Equal(t, 1.0, l.OpenPositions()[0].Quantity)

	l.ObserveFill(closeFill("ETHUSDT", SideLong, 1, 120, t0.Add(10*time.Minute)))

	trades := l.Trades()
	require.Len(t, trades, 1)
	trade := trades[0]

	// Exit price is the size-weighted average of the closing fills.
	assert.Equal(t, 115.0, trade.ExitPrice)
	assert.Equal(t, 15.0, trade.PnlPct)
	assert.Equal(t, 2.0, trade.Quantity)
	assert.Equal(t, t0.Add(10*time.Minute), trade.CloseTime)
}

func TestLedgerScaleInWeightedAverage(t *testing.T) {
	l := NewLedger(zap.NewNop())

	l.ObserveFill(openFill("BTCUSDT", SideLong, 1, 100, 10, t0))
	l.ObserveFill(openFill("BTCUSDT", SideLong, 3, 120, 20, t0.Add(time.Minute)))

	require.Len(t, l.OpenPositions(), 1)
	pos := l.OpenPositions()[0]
	assert.Equal(t, 4.0, pos.Quantity)
	assert.Equal(t, 115.0, pos.AvgPrice) // (1*100 + 3*120) / 4
	// Leverage is overwritten by the latest opening fill, not blended.
	assert.Equal(t, 20.0, pos.Leverage)
	// Entry timestamp stays at the first fill that left flat.
	assert.Equal(t, t0, pos.OpenTime)
}

func TestLedgerDisappearanceFallback(t *testing.T) {
	l := NewLedger(zap.NewNop())

	snapshot := Event{
		Kind: KindSnapshot, Time: t0, Cycle: 1,
		Symbol: "BTCUSDT", Side: SideLong,
		EntryPrice: 100, MarkPrice: 105, PositionAmt: 1, Leverage: 10,
	}
	l.ObserveSnapshot(snapshot)

	prev := map[PositionKey]struct{}{snapshot.Key(): {}}
	curr := map[PositionKey]struct{}{}
	t1 := t0.Add(5 * time.Minute)
	l.DetectDisappearance(prev, curr, t1)

	trades := l.Trades()
	require.Len(t, trades, 1)
	trade := trades[0]

	assert.Equal(t, 105.0, trade.ExitPrice)
	assert.Equal(t, 100.0, trade.EntryPrice)
	assert.Equal(t, t1, trade.CloseTime)
	assert.Equal(t, ExitSourceSnapshot, trade.ExitPriceSource)
	assert.Contains(t, trade.Warnings, "open_time_approximated_from_snapshot")
	assert.GreaterOrEqual(t, l.Inconsistencies(), 1)
	assert.Empty(t, l.OpenPositions())
}

func TestLedgerDisappearanceSkipsFillClosed(t *testing.T) {
	l := NewLedger(zap.NewNop())

	l.ObserveFill(openFill("SOLUSDT", SideShort, 1, 165, 5, t0))
	key := PositionKey{Symbol: "SOLUSDT", Side: SideShort}
	l.ObserveFill(closeFill("SOLUSDT", SideShort, 1, 160, t0.Add(time.Minute)))

	// The key vanished from snapshots because the fill closed it; the
	// disappearance path must not duplicate the trade.
	l.DetectDisappearance(map[PositionKey]struct{}{key: {}}, map[PositionKey]struct{}{}, t0.Add(5*time.Minute))

	assert.Len(t, l.Trades(), 1)
	assert.Equal(t, 0, l.Inconsistencies())
}

func TestLedgerSnapshotUpdatesMarkPriceOnly(t *testing.T) {
	l := NewLedger(zap.NewNop())

	l.ObserveFill(openFill("BTCUSDT", SideLong, 2, 100, 10, t0))
	l.ObserveSnapshot(Event{
		Kind: KindSnapshot, Time: t0.Add(5 * time.Minute), Cycle: 2,
		Symbol: "BTCUSDT", Side: SideLong,
		// Snapshots report rounded figures; they must not drift the
		// fill-derived quantity or average price.
		EntryPrice: 100.3, MarkPrice: 104, PositionAmt: 1.9,
	})

	require.Len(t, l.OpenPositions(), 1)
	pos := l.OpenPositions()[0]
	assert.Equal(t, 2.0, pos.Quantity)
	assert.Equal(t, 100.0, pos.AvgPrice)
	assert.Equal(t, 104.0, pos.MarkPrice)
}

func TestLedgerOverCloseClamped(t *testing.T) {
	l := NewLedger(zap.NewNop())

	l.ObserveFill(openFill("BTCUSDT", SideLong, 1, 100, 10, t0))
	l.ObserveFill(closeFill("BTCUSDT", SideLong, 3, 110, t0.Add(time.Minute)))

	trades := l.Trades()
	require.Len(t, trades, 1)
	// Quantity never goes negative; the excess is clamped and flagged.
	assert.Equal(t, 1.0, trades[0].Quantity)
	assert.Contains(t, trades[0].Warnings, "close_quantity_clamped")
	assert.Equal(t, 1, l.Inconsistencies())
	assert.Empty(t, l.OpenPositions())
}

func TestLedgerUnknownQuantityCloseAdoptsFillSize(t *testing.T) {
	l := NewLedger(zap.NewNop())

	// Old-format snapshot: no position_amt, and mark == entry so the size
	// cannot be recovered from unrealized PnL either.
	l.ObserveSnapshot(Event{
		Kind: KindSnapshot, Time: t0, Cycle: 1,
		Symbol: "BTCUSDT", Side: SideLong,
		EntryPrice: 100, MarkPrice: 100, Leverage: 10,
	})
	l.ObserveFill(closeFill("BTCUSDT", SideLong, 1, 110, t0.Add(10*time.Minute)))

	trades := l.Trades()
	require.Len(t, trades, 1)
	trade := trades[0]

	// The close fill is the first authoritative size; the lifecycle
	// completes instead of losing the fill.
	assert.Equal(t, 1.0, trade.Quantity)
	assert.Equal(t, 110.0, trade.ExitPrice)
	assert.Equal(t, 10.0, trade.PnlPct)
	assert.Contains(t, trade.Warnings, "quantity_adopted_from_close_fill")
	assert.Equal(t, 1, l.Inconsistencies())
	assert.Empty(t, l.OpenPositions())
}

func TestLedgerFractionalPartialCloses(t *testing.T) {
	l := NewLedger(zap.NewNop())

	// 0.1 + 0.2 and three closes of 0.1 do not cancel exactly in float64;
	// the residual dust must still count as flat.
	l.ObserveFill(openFill("BTCUSDT", SideLong, 0.1, 100, 10, t0))
	l.ObserveFill(openFill("BTCUSDT", SideLong, 0.2, 100, 10, t0.Add(time.Minute)))
	l.ObserveFill(closeFill("BTCUSDT", SideLong, 0.1, 110, t0.Add(2*time.Minute)))
	l.ObserveFill(closeFill("BTCUSDT", SideLong, 0.1, 110, t0.Add(3*time.Minute)))
	l.ObserveFill(closeFill("BTCUSDT", SideLong, 0.1, 110, t0.Add(4*time.Minute)))

	trades := l.Trades()
	require.Len(t, trades, 1)
	assert.InDelta(t, 0.3, trades[0].Quantity, 1e-12)
	assert.Equal(t, 110.0, trades[0].ExitPrice)
	// Rounding absorption is not an over-close.
	assert.NotContains(t, trades[0].Warnings, "close_quantity_clamped")
	assert.Equal(t, 0, l.Inconsistencies())
	assert.Empty(t, l.OpenPositions())
}

func TestLedgerCloseWithoutOpen(t *testing.T) {
	l := NewLedger(zap.NewNop())

	l.ObserveFill(closeFill("DOGEUSDT", SideLong, 100, 0.2, t0))

	assert.Empty(t, l.Trades())
	assert.Equal(t, 1, l.Inconsistencies())
}

func TestLedgerSideFlipIsTwoTrades(t *testing.T) {
	l := NewLedger(zap.NewNop())

	l.ObserveFill(openFill("ETHUSDT", SideLong, 1, 3600, 10, t0))
	l.ObserveFill(closeFill("ETHUSDT", SideLong, 1, 3650, t0.Add(time.Minute)))
	l.ObserveFill(openFill("ETHUSDT", SideShort, 1, 3650, 10, t0.Add(time.Minute)))
	l.ObserveFill(closeFill("ETHUSDT", SideShort, 1, 3600, t0.Add(10*time.Minute)))

	trades := l.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, SideLong, trades[0].Side)
	assert.Equal(t, SideShort, trades[1].Side)
	// Both legs profit; they are never merged into one lifecycle.
	assert.Positive(t, trades[0].RealizedPnl)
	assert.Positive(t, trades[1].RealizedPnl)
}

func TestLedgerReopenAfterFlat(t *testing.T) {
	l := NewLedger(zap.NewNop())

	l.ObserveFill(openFill("BTCUSDT", SideLong, 1, 100, 10, t0))
	l.ObserveFill(closeFill("BTCUSDT", SideLong, 1, 110, t0.Add(time.Minute)))
	l.ObserveFill(openFill("BTCUSDT", SideLong, 1, 108, 10, t0.Add(2*time.Minute)))

	require.Len(t, l.Trades(), 1)
	require.Len(t, l.OpenPositions(), 1)
	pos := l.OpenPositions()[0]
	// The re-open starts a fresh lifecycle with a fresh average.
	assert.Equal(t, 108.0, pos.AvgPrice)
	assert.Equal(t, t0.Add(2*time.Minute), pos.OpenTime)
}

func TestLedgerClosePositionResolvesSide(t *testing.T) {
	l := NewLedger(zap.NewNop())

	l.ObserveFill(openFill("BTCUSDT", SideShort, 1, 105952, 10, t0))
	// close_position carries no side on the wire.
	l.ObserveFill(Event{
		Kind: KindCloseFill, Time: t0.Add(20 * time.Minute), Cycle: -1,
		Symbol: "BTCUSDT", Quantity: 1, Price: 104000,
	})

	trades := l.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, SideShort, trades[0].Side)
	assert.Positive(t, trades[0].RealizedPnl)
}

func TestLedgerCommissionReducesRealizedPnl(t *testing.T) {
	l := NewLedger(zap.NewNop())

	l.ObserveFill(openFill("BTCUSDT", SideLong, 1, 100, 10, t0))
	ev := closeFill("BTCUSDT", SideLong, 1, 110, t0.Add(time.Minute))
	ev.Commission = 0.5
	l.ObserveFill(ev)

	trades := l.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, 9.5, trades[0].RealizedPnl)
	assert.Equal(t, 0.5, trades[0].Commission)
	// Percentages stay gross; only the quote-currency figure is net.
	assert.Equal(t, 10.0, trades[0].PnlPct)
}

func TestLedgerTradeInvariants(t *testing.T) {
	l := NewLedger(zap.NewNop())

	l.ObserveFill(openFill("BTCUSDT", SideLong, 2, 100, 10, t0))
	l.ObserveFill(closeFill("BTCUSDT", SideLong, 1, 101, t0.Add(time.Minute)))
	l.ObserveFill(closeFill("BTCUSDT", SideLong, 5, 102, t0.Add(2*time.Minute)))
	l.ObserveFill(openFill("SOLUSDT", SideShort, 3, 165, 5, t0.Add(3*time.Minute)))
	l.ObserveFill(closeFill("SOLUSDT", SideShort, 3, 170, t0.Add(4*time.Minute)))

	for _, trade := range l.Trades() {
		assert.Positive(t, trade.Quantity)
		assert.False(t, trade.CloseTime.Before(trade.OpenTime))
	}
	for _, pos := range l.OpenPositions() {
		assert.GreaterOrEqual(t, pos.Quantity, 0.0)
	}
}
