package analyzer

import (
	"sort"
	"time"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// EventKind classifies a normalized event.
type EventKind int

const (
	// KindEquity is a per-cycle account_state observation.
	KindEquity EventKind = iota
	// KindSnapshot is a point-in-time observation of one open position.
	KindSnapshot
	// KindOpenFill is an executed opening order.
	KindOpenFill
	// KindCloseFill is an executed closing order.
	KindCloseFill
)

// Event is the uniform internal record every heterogeneous input is
// normalized into. Only the fields relevant to its Kind are populated.
type Event struct {
	Kind   EventKind
	Time   time.Time
	Cycle  int // -1 for events outside the decision-log cycle stream (exchange fills)
	Symbol string
	Side   Side // empty for equity events and bare close_position fills

	// Snapshot fields
	EntryPrice       float64
	MarkPrice        float64
	PositionAmt      float64
	UnrealizedPnl    float64
	UnrealizedPnlPct float64

	// Fill fields
	Price      float64
	Quantity   float64
	Commission float64

	// Shared by snapshots and opening fills
	Leverage float64

	// Equity fields
	Balance       float64
	UnrealizedSum float64
	PositionCount int
	MarginUsedPct float64
}

// Key returns the ledger key for position-bearing events.
func (e Event) Key() PositionKey {
	return PositionKey{Symbol: e.Symbol, Side: e.Side}
}

// PositionKey identifies one tracked position in the ledger.
type PositionKey struct {
	Symbol string
	Side   Side
}

// EquityPoint is one sample of the account-level time series.
type EquityPoint struct {
	Time          time.Time `json:"time"`
	Balance       float64   `json:"balance"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	PositionCount int       `json:"position_count"`
	MarginUsedPct float64   `json:"margin_used_pct"`
}

// SortEvents orders events by timestamp. At identical timestamps equity and
// snapshot observations come first, then opening fills, then closing fills:
// a position cannot close before it exists.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Time.Equal(events[j].Time) {
			return events[i].Time.Before(events[j].Time)
		}
		return events[i].Kind < events[j].Kind
	})
}

// DecisionRecord is the raw JSON shape of one decision-log file.
type DecisionRecord struct {
	Timestamp    string             `json:"timestamp"`
	CycleNumber  int                `json:"cycle_number"`
	Positions    []PositionSnapshot `json:"positions"`
	Decisions    []DecisionAction   `json:"decisions"`
	AccountState *AccountState      `json:"account_state"`
}

// PositionSnapshot is one entry of a decision record's positions array.
type PositionSnapshot struct {
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"`
	EntryPrice       float64 `json:"entry_price"`
	MarkPrice        float64 `json:"mark_price"`
	PositionAmt      float64 `json:"position_amt"`
	UnrealizedPnl    float64 `json:"unrealized_pnl"`
	UnrealizedPnlPct float64 `json:"unrealized_pnl_pct"`
	Leverage         float64 `json:"leverage"`
}

// DecisionAction is one entry of a decision record's decisions array.
type DecisionAction struct {
	Action    string  `json:"action"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Quantity  float64 `json:"quantity"`
	Leverage  float64 `json:"leverage"`
	Reasoning string  `json:"reasoning"`
	Success   bool    `json:"success"`
	Timestamp string  `json:"timestamp"`
}

// AccountState is the per-cycle account summary of a decision record.
type AccountState struct {
	TotalBalance          float64 `json:"total_balance"`
	TotalUnrealizedProfit float64 `json:"total_unrealized_profit"`
	PositionCount         int     `json:"position_count"`
	MarginUsedPct         float64 `json:"margin_used_pct"`
}
