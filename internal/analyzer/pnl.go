package analyzer

// computePnL derives realized PnL figures for one completed lifecycle.
//
// pct is the raw price-move percentage (unleveraged). pnl is the quote-
// currency result net of the commissions accumulated across the closing
// fills. pctLev multiplies the price move by the position leverage, the
// notional-based simplification used throughout the original analysis
// tooling; the true return on margin depends on the margin basis and is
// deliberately not computed here.
//
// A zero entry price is a known artifact of upstream data gaps and yields
// zero percentages instead of a division panic.
func computePnL(side Side, entryPrice, exitPrice, quantity, leverage, commission float64) (pnl, pct, pctLev float64) {
	if entryPrice != 0 {
		pct = (exitPrice - entryPrice) / entryPrice * 100
		if side == SideShort {
			pct = -pct
		}
	}

	pnl = pct/100*entryPrice*quantity - commission
	pctLev = pct * leverage
	return pnl, pct, pctLev
}
