package analyzer

import (
	"strconv"
	"time"

	"binance-pnl-analyzer-go/internal/binance"
	"go.uber.org/zap"
)

// Normalizer converts heterogeneous raw records (decision-log cycles,
// exchange fill rows) into the uniform Event stream the ledger consumes.
// One bad record is skipped and counted, never fatal to the run.
type Normalizer struct {
	logger  *zap.Logger
	events  []Event
	skipped int
}

// NewNormalizer creates a Normalizer writing skip diagnostics to logger.
func NewNormalizer(logger *zap.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Skipped reports how many individual records were dropped so far.
func (n *Normalizer) Skipped() int { return n.skipped }

// Events returns the accumulated stream sorted by timestamp, with opens
// ordered before closes at identical timestamps. The ledger requires this
// ordering as a precondition; directory listings do not provide it.
func (n *Normalizer) Events() []Event {
	SortEvents(n.events)
	return n.events
}

func (n *Normalizer) skip(reason string, fields ...zap.Field) {
	n.skipped++
	n.logger.Debug("Skipping record: "+reason, fields...)
}

// AddCycle normalizes one decision record. fallback is the timestamp
// recovered from the filename, used when the record's own timestamps are
// missing or unparseable. A record whose time cannot be established at all
// is dropped entirely.
func (n *Normalizer) AddCycle(rec DecisionRecord, fallback time.Time, fallbackCycle int) {
	cycleTime, err := ParseTimestamp(rec.Timestamp)
	if err != nil {
		if fallback.IsZero() {
			n.skip("cycle has no usable timestamp", zap.String("timestamp", rec.Timestamp))
			return
		}
		cycleTime = fallback
	}

	// Older log formats carry no cycle number anywhere; mark those records
	// with -1 so the replay groups them by cycle timestamp instead.
	cycle := -1
	if rec.CycleNumber > 0 {
		cycle = rec.CycleNumber
	} else if fallbackCycle >= 0 {
		cycle = fallbackCycle
	}

	if rec.AccountState != nil {
		n.events = append(n.events, Event{
			Kind:          KindEquity,
			Time:          cycleTime,
			Cycle:         cycle,
			Balance:       rec.AccountState.TotalBalance,
			UnrealizedSum: rec.AccountState.TotalUnrealizedProfit,
			PositionCount: rec.AccountState.PositionCount,
			MarginUsedPct: rec.AccountState.MarginUsedPct,
		})
	}

	for _, pos := range rec.Positions {
		n.addSnapshot(pos, cycleTime, cycle)
	}
	for _, dec := range rec.Decisions {
		n.addDecision(dec, cycleTime, cycle)
	}
}

func (n *Normalizer) addSnapshot(pos PositionSnapshot, cycleTime time.Time, cycle int) {
	side, ok := parseSide(pos.Side)
	if pos.Symbol == "" || !ok {
		n.skip("snapshot missing symbol or side",
			zap.String("symbol", pos.Symbol), zap.String("side", pos.Side))
		return
	}
	if pos.EntryPrice <= 0 || pos.MarkPrice <= 0 {
		n.skip("snapshot with non-positive price",
			zap.String("symbol", pos.Symbol),
			zap.Float64("entry_price", pos.EntryPrice),
			zap.Float64("mark_price", pos.MarkPrice))
		return
	}

	n.events = append(n.events, Event{
		Kind:             KindSnapshot,
		Time:             cycleTime,
		Cycle:            cycle,
		Symbol:           pos.Symbol,
		Side:             side,
		EntryPrice:       pos.EntryPrice,
		MarkPrice:        pos.MarkPrice,
		PositionAmt:      pos.PositionAmt,
		UnrealizedPnl:    pos.UnrealizedPnl,
		UnrealizedPnlPct: pos.UnrealizedPnlPct,
		Leverage:         pos.Leverage,
	})
}

func (n *Normalizer) addDecision(dec DecisionAction, cycleTime time.Time, cycle int) {
	kind, side, tracked := parseAction(dec.Action)
	if !tracked {
		// hold, wait and other non-trading actions are not events.
		return
	}
	if !dec.Success {
		// A failed decision never moved the position.
		return
	}
	if dec.Symbol == "" {
		n.skip("decision missing symbol", zap.String("action", dec.Action))
		return
	}
	if dec.Price <= 0 || dec.Quantity <= 0 {
		n.skip("decision with non-positive price or quantity",
			zap.String("symbol", dec.Symbol),
			zap.Float64("price", dec.Price),
			zap.Float64("quantity", dec.Quantity))
		return
	}

	ts := cycleTime
	if t, err := ParseTimestamp(dec.Timestamp); err == nil {
		ts = t
	}

	n.events = append(n.events, Event{
		Kind:     kind,
		Time:     ts,
		Cycle:    cycle,
		Symbol:   dec.Symbol,
		Side:     side,
		Price:    dec.Price,
		Quantity: dec.Quantity,
		Leverage: dec.Leverage,
	})
}

// AddFills normalizes exchange userTrades rows. For a LONG position BUY
// opens and SELL closes; for SHORT it is the reverse. One-way-mode rows
// (positionSide BOTH) carry no side information and are skipped.
func (n *Normalizer) AddFills(fills []binance.UserTrade) {
	for _, f := range fills {
		var side Side
		switch f.PositionSide {
		case "LONG":
			side = SideLong
		case "SHORT":
			side = SideShort
		default:
			n.skip("fill without a usable positionSide",
				zap.String("symbol", f.Symbol), zap.String("position_side", f.PositionSide))
			continue
		}

		opening := (side == SideLong && f.Side == "BUY") || (side == SideShort && f.Side == "SELL")

		price, err1 := strconv.ParseFloat(f.Price, 64)
		qty, err2 := strconv.ParseFloat(f.Qty, 64)
		if err1 != nil || err2 != nil || price <= 0 || qty <= 0 {
			n.skip("fill with unparseable or non-positive price/qty",
				zap.String("symbol", f.Symbol),
				zap.String("price", f.Price), zap.String("qty", f.Qty))
			continue
		}
		commission, _ := strconv.ParseFloat(f.Commission, 64)

		kind := KindOpenFill
		if !opening {
			kind = KindCloseFill
		}

		n.events = append(n.events, Event{
			Kind:       kind,
			Time:       time.UnixMilli(f.Time).UTC(),
			Cycle:      -1,
			Symbol:     f.Symbol,
			Side:       side,
			Price:      price,
			Quantity:   qty,
			Commission: commission,
		})
	}
}

func parseSide(s string) (Side, bool) {
	switch s {
	case "long", "LONG":
		return SideLong, true
	case "short", "SHORT":
		return SideShort, true
	default:
		return "", false
	}
}

// parseAction maps a decision action onto an event kind. close_position
// carries no side; the ledger resolves it against whichever side is open.
func parseAction(action string) (EventKind, Side, bool) {
	switch action {
	case "open_long":
		return KindOpenFill, SideLong, true
	case "open_short":
		return KindOpenFill, SideShort, true
	case "close_long":
		return KindCloseFill, SideLong, true
	case "close_short":
		return KindCloseFill, SideShort, true
	case "close_position":
		return KindCloseFill, "", true
	default:
		return 0, "", false
	}
}
