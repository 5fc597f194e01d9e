package analyzer

import (
	"time"

	"go.uber.org/zap"
)

// Exit price provenance recorded on emitted trades.
const (
	ExitSourceFill     = "fill"
	ExitSourceSnapshot = "inferred_from_snapshot"
)

// Quantities within this distance of each other are the same size; float64
// accumulation over repeated partial closes leaves dust far below any
// exchange step size.
const qtyEpsilon = 1e-9

// Trade is one completed position lifecycle. Immutable once emitted.
type Trade struct {
	Symbol          string        `json:"symbol"`
	Side            Side          `json:"side"`
	OpenTime        time.Time     `json:"open_time"`
	CloseTime       time.Time     `json:"close_time"`
	EntryPrice      float64       `json:"entry_price"`
	ExitPrice       float64       `json:"exit_price"`
	Quantity        float64       `json:"quantity"`
	Leverage        float64       `json:"leverage"`
	RealizedPnl     float64       `json:"realized_pnl"`
	PnlPct          float64       `json:"pnl_pct"`
	PnlPctLeveraged float64       `json:"pnl_pct_leveraged"`
	Commission      float64       `json:"commission"`
	Duration        time.Duration `json:"-"`
	DurationMin     float64       `json:"duration_min"`
	ExitPriceSource string        `json:"exit_price_source"`
	Warnings        []string      `json:"warnings,omitempty"`
}

// OpenPosition is the ledger's state for one (symbol, side) key.
type OpenPosition struct {
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Quantity  float64   `json:"quantity"`
	AvgPrice  float64   `json:"avg_price"`
	MarkPrice float64   `json:"mark_price"`
	Leverage  float64   `json:"leverage"`
	OpenTime  time.Time `json:"open_time"`
	// True when the entry was created from a snapshot rather than a fill.
	// The real open happened somewhere between two polling cycles, so the
	// holding duration is an under-estimate.
	ImplicitOpen bool `json:"implicit_open"`

	// Closing-leg accumulation for partial closes.
	closedQty     float64
	closeNotional float64
	commission    float64
	lastCloseTime time.Time
	warnings      []string
}

// Ledger reconstructs position lifecycles from an ordered event stream.
// It is caller-owned and single-use: one analysis run, one Ledger, no
// package-level state. Events must arrive in non-decreasing time order.
type Ledger struct {
	logger          *zap.Logger
	open            map[PositionKey]*OpenPosition
	trades          []Trade
	inconsistencies int
}

// NewLedger creates an empty ledger.
func NewLedger(logger *zap.Logger) *Ledger {
	return &Ledger{
		logger: logger,
		open:   make(map[PositionKey]*OpenPosition),
	}
}

// Trades returns the lifecycles completed so far, in emission order.
func (l *Ledger) Trades() []Trade { return l.trades }

// Inconsistencies reports how many ledger inconsistencies were tolerated
// (clamped over-closes, force-closes, unmatched closes).
func (l *Ledger) Inconsistencies() int { return l.inconsistencies }

// OpenPositions returns the entries still open, for end-of-run reporting.
func (l *Ledger) OpenPositions() []OpenPosition {
	out := make([]OpenPosition, 0, len(l.open))
	for _, p := range l.open {
		out = append(out, *p)
	}
	return out
}

// ObserveSnapshot records a periodic position observation. An unknown key is
// an implicit open: the position existed before the analysis window or its
// opening fill was never logged. A known key only gets its mark price
// refreshed; quantity and average price stay authoritative from fills so
// rounding in reported unrealized-PnL fields cannot drift them.
func (l *Ledger) ObserveSnapshot(ev Event) {
	key := ev.Key()
	if pos, ok := l.open[key]; ok {
		pos.MarkPrice = ev.MarkPrice
		return
	}

	qty := ev.PositionAmt
	var warnings []string
	if qty <= 0 {
		// Older log formats omit position_amt. Recover the size from the
		// reported unrealized PnL when the price has actually moved.
		qty = quantityFromUnrealized(ev)
		if qty > 0 {
			warnings = append(warnings, "quantity_recovered_from_unrealized_pnl")
		} else {
			warnings = append(warnings, "quantity_unknown")
		}
	}

	l.open[key] = &OpenPosition{
		Symbol:       ev.Symbol,
		Side:         ev.Side,
		Quantity:     qty,
		AvgPrice:     ev.EntryPrice,
		MarkPrice:    ev.MarkPrice,
		Leverage:     ev.Leverage,
		OpenTime:     ev.Time,
		ImplicitOpen: true,
		warnings:     warnings,
	}
	l.logger.Debug("Implicit open from snapshot",
		zap.String("symbol", ev.Symbol),
		zap.String("side", string(ev.Side)),
		zap.Float64("quantity", qty),
		zap.Float64("entry_price", ev.EntryPrice))
}

// quantityFromUnrealized derives a position size from the snapshot's
// unrealized PnL and the entry/mark spread. Returns 0 when underivable.
func quantityFromUnrealized(ev Event) float64 {
	move := ev.MarkPrice - ev.EntryPrice
	if ev.Side == SideShort {
		move = -move
	}
	if move == 0 {
		return 0
	}
	qty := ev.UnrealizedPnl / move
	if qty <= 0 {
		return 0
	}
	return qty
}

// ObserveFill applies an executed order to the ledger.
func (l *Ledger) ObserveFill(ev Event) {
	switch ev.Kind {
	case KindOpenFill:
		l.applyOpen(ev)
	case KindCloseFill:
		l.applyClose(ev)
	}
}

func (l *Ledger) applyOpen(ev Event) {
	key := ev.Key()
	pos, ok := l.open[key]
	if !ok {
		l.open[key] = &OpenPosition{
			Symbol:    ev.Symbol,
			Side:      ev.Side,
			Quantity:  ev.Quantity,
			AvgPrice:  ev.Price,
			MarkPrice: ev.Price,
			Leverage:  ev.Leverage,
			OpenTime:  ev.Time,
		}
		return
	}

	// Scale-in: size-weighted average entry; leverage is overwritten, not
	// blended, matching how the exchange applies a leverage change.
	total := pos.Quantity + ev.Quantity
	if total > 0 {
		pos.AvgPrice = (pos.AvgPrice*pos.Quantity + ev.Price*ev.Quantity) / total
	}
	pos.Quantity = total
	pos.MarkPrice = ev.Price
	if ev.Leverage > 0 {
		pos.Leverage = ev.Leverage
	}
	// An add-on fill to a snapshot-seeded entry fixes nothing about the
	// original open time, only the averaged price going forward.
}

func (l *Ledger) applyClose(ev Event) {
	key := ev.Key()
	if ev.Side == "" {
		// close_position carries no side; resolve against whichever side of
		// the symbol is open.
		resolved, ok := l.resolveSide(ev.Symbol)
		if !ok {
			l.inconsistencies++
			l.logger.Warn("Close for symbol with no open position",
				zap.String("symbol", ev.Symbol))
			return
		}
		key = PositionKey{Symbol: ev.Symbol, Side: resolved}
	}

	pos, ok := l.open[key]
	if !ok {
		l.inconsistencies++
		l.logger.Warn("Close fill with no matching open position",
			zap.String("symbol", ev.Symbol),
			zap.String("side", string(key.Side)))
		return
	}

	closeQty := ev.Quantity
	switch {
	case pos.Quantity <= 0:
		// A snapshot-seeded entry whose size was never recoverable. The fill
		// is the first authoritative quantity seen for it; adopt it as the
		// position size so the lifecycle can complete.
		l.inconsistencies++
		pos.warnings = append(pos.warnings, "quantity_adopted_from_close_fill")
		l.logger.Warn("Close fill against position of unknown size, adopting fill quantity",
			zap.String("symbol", ev.Symbol),
			zap.String("side", string(key.Side)),
			zap.Float64("close_quantity", ev.Quantity))
		pos.Quantity = closeQty
	case closeQty > pos.Quantity+qtyEpsilon:
		// Closing more than we tracked usually means intermediate snapshots
		// were missed. Clamp and carry on.
		l.inconsistencies++
		pos.warnings = append(pos.warnings, "close_quantity_clamped")
		l.logger.Warn("Close quantity exceeds tracked position, clamping",
			zap.String("symbol", ev.Symbol),
			zap.String("side", string(key.Side)),
			zap.Float64("close_quantity", ev.Quantity),
			zap.Float64("tracked_quantity", pos.Quantity))
		closeQty = pos.Quantity
	case closeQty > pos.Quantity:
		// Pure accumulation dust, not a real over-close.
		closeQty = pos.Quantity
	}

	pos.Quantity -= closeQty
	pos.closedQty += closeQty
	pos.closeNotional += closeQty * ev.Price
	pos.commission += ev.Commission
	pos.lastCloseTime = ev.Time
	pos.MarkPrice = ev.Price

	if pos.Quantity <= qtyEpsilon {
		pos.Quantity = 0
		l.emit(key, pos, ExitSourceFill)
	}
}

func (l *Ledger) resolveSide(symbol string) (Side, bool) {
	_, hasLong := l.open[PositionKey{Symbol: symbol, Side: SideLong}]
	_, hasShort := l.open[PositionKey{Symbol: symbol, Side: SideShort}]
	switch {
	case hasLong && hasShort:
		// Hedge-mode ambiguity; prefer the long leg and flag it.
		l.inconsistencies++
		l.logger.Warn("Ambiguous close_position with both sides open",
			zap.String("symbol", symbol))
		return SideLong, true
	case hasLong:
		return SideLong, true
	case hasShort:
		return SideShort, true
	default:
		return "", false
	}
}

// DetectDisappearance force-closes every key that was present in the
// previous cycle's snapshot set, is absent from the current one, and still
// shows open quantity in the ledger. This is the fallback for server-side
// closes (stop loss, liquidation) that never produced a decision record.
func (l *Ledger) DetectDisappearance(prev, curr map[PositionKey]struct{}, now time.Time) {
	for key := range prev {
		if _, stillThere := curr[key]; stillThere {
			continue
		}
		pos, ok := l.open[key]
		if !ok {
			continue // a fill already closed it
		}

		l.inconsistencies++
		exitPrice := pos.MarkPrice
		if exitPrice <= 0 {
			// No mark price ever observed; fall back to entry (zero PnL)
			// rather than inventing a number.
			exitPrice = pos.AvgPrice
			pos.warnings = append(pos.warnings, "exit_price_fallback_to_entry")
		}
		l.logger.Warn("Position disappeared without a closing fill, force-closing",
			zap.String("symbol", key.Symbol),
			zap.String("side", string(key.Side)),
			zap.Float64("exit_price", exitPrice))

		pos.closedQty += pos.Quantity
		pos.closeNotional += pos.Quantity * exitPrice
		pos.Quantity = 0
		pos.lastCloseTime = now
		l.emit(key, pos, ExitSourceSnapshot)
	}
}

// emit finalizes one lifecycle: computes PnL, appends the immutable Trade
// and removes the ledger entry.
func (l *Ledger) emit(key PositionKey, pos *OpenPosition, exitSource string) {
	defer delete(l.open, key)

	if pos.closedQty <= 0 {
		// A snapshot-seeded entry whose size was never recoverable; there is
		// no meaningful trade to report.
		l.inconsistencies++
		l.logger.Warn("Dropping closed position with unknown quantity",
			zap.String("symbol", key.Symbol),
			zap.String("side", string(key.Side)))
		return
	}

	exitPrice := pos.closeNotional / pos.closedQty
	pnl, pct, pctLev := computePnL(pos.Side, pos.AvgPrice, exitPrice, pos.closedQty, pos.Leverage, pos.commission)

	warnings := pos.warnings
	if pos.ImplicitOpen {
		warnings = append(warnings, "open_time_approximated_from_snapshot")
	}

	duration := pos.lastCloseTime.Sub(pos.OpenTime)
	l.trades = append(l.trades, Trade{
		Symbol:          key.Symbol,
		Side:            key.Side,
		OpenTime:        pos.OpenTime,
		CloseTime:       pos.lastCloseTime,
		EntryPrice:      pos.AvgPrice,
		ExitPrice:       exitPrice,
		Quantity:        pos.closedQty,
		Leverage:        pos.Leverage,
		RealizedPnl:     pnl,
		PnlPct:          pct,
		PnlPctLeveraged: pctLev,
		Commission:      pos.commission,
		Duration:        duration,
		DurationMin:     duration.Minutes(),
		ExitPriceSource: exitSource,
		Warnings:        warnings,
	})
}
