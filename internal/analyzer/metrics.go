package analyzer

import (
	"math"
	"sort"
)

// Summary is the aggregated statistics object for one analysis window.
// Metrics that are undefined on the given inputs (no trades, no losing
// trades, zero return variance) are nil and serialize as JSON null; they are
// never reported as a misleading zero.
type Summary struct {
	TotalTrades int      `json:"total_trades"`
	Wins        int      `json:"wins"`
	Losses      int      `json:"losses"`
	WinRate     *float64 `json:"win_rate"`
	AvgWin      *float64 `json:"avg_win"`
	AvgLoss     *float64 `json:"avg_loss"`
	// ProfitFactor is gross profit divided by gross loss.
	ProfitFactor *float64 `json:"profit_factor"`
	NetPnl       float64  `json:"net_pnl"`

	EquitySamples  int     `json:"equity_samples"`
	InitialEquity  float64 `json:"initial_equity"`
	FinalEquity    float64 `json:"final_equity"`
	TotalReturnPct float64 `json:"total_return_pct"`
	// MaxDrawdownPct is the most negative peak-to-trough move observed,
	// e.g. -18.18 for an 18.18% drawdown.
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	// ReturnVolatility is the sample standard deviation of per-interval
	// simple returns, in percent.
	ReturnVolatility *float64 `json:"return_volatility"`
	// SharpeLike is mean return over its standard deviation, annualized by
	// sqrt(PeriodsPerYear). The base is recorded alongside so the
	// normalization is explicit rather than assumed.
	SharpeLike     *float64 `json:"sharpe_like"`
	PeriodsPerYear float64  `json:"periods_per_year"`

	AvgMarginUsedPct float64 `json:"avg_margin_used_pct"`
	MaxMarginUsedPct float64 `json:"max_margin_used_pct"`

	HoldingBuckets []HoldingBucket `json:"holding_time_buckets"`
	PerSymbol      []SymbolStats   `json:"per_symbol_breakdown"`
}

// HoldingBucket is one band of the holding-time distribution.
type HoldingBucket struct {
	Label string  `json:"label"`
	Count int     `json:"count"`
	Pct   float64 `json:"pct"`
}

// SymbolStats is the per-instrument breakdown.
type SymbolStats struct {
	Symbol  string   `json:"symbol"`
	Trades  int      `json:"trades"`
	Wins    int      `json:"wins"`
	WinRate *float64 `json:"win_rate"`
	NetPnl  float64  `json:"net_pnl"`
}

// Aggregate computes the summary statistics over a completed trade list and
// the equity series of the same window. All aggregations tolerate empty
// inputs. The output is deterministic for fixed inputs.
func Aggregate(trades []Trade, equity []EquityPoint, periodsPerYear float64) Summary {
	s := Summary{
		TotalTrades:    len(trades),
		PeriodsPerYear: periodsPerYear,
	}

	aggregateTrades(&s, trades)
	aggregateEquity(&s, equity)
	s.HoldingBuckets = holdingBuckets(trades)
	s.PerSymbol = perSymbol(trades)
	return s
}

func aggregateTrades(s *Summary, trades []Trade) {
	var grossWin, grossLoss float64
	for _, t := range trades {
		s.NetPnl += t.RealizedPnl
		switch {
		case t.RealizedPnl > 0:
			s.Wins++
			grossWin += t.RealizedPnl
		case t.RealizedPnl < 0:
			s.Losses++
			grossLoss += -t.RealizedPnl
		}
		// Break-even trades count in the denominator but in neither subset.
	}

	if s.TotalTrades > 0 {
		s.WinRate = ptr(float64(s.Wins) / float64(s.TotalTrades))
	}
	if s.Wins > 0 {
		s.AvgWin = ptr(grossWin / float64(s.Wins))
	}
	if s.Losses > 0 {
		s.AvgLoss = ptr(-grossLoss / float64(s.Losses))
	}
	if grossLoss > 0 {
		s.ProfitFactor = ptr(grossWin / grossLoss)
	}
}

func aggregateEquity(s *Summary, equity []EquityPoint) {
	s.EquitySamples = len(equity)
	if len(equity) == 0 {
		return
	}

	s.InitialEquity = equity[0].Balance
	s.FinalEquity = equity[len(equity)-1].Balance
	if s.InitialEquity != 0 {
		s.TotalReturnPct = (s.FinalEquity - s.InitialEquity) / s.InitialEquity * 100
	}

	// Max drawdown: the peak only ever moves forward.
	peak := equity[0].Balance
	for _, p := range equity {
		if p.Balance > peak {
			peak = p.Balance
		}
		if peak > 0 {
			dd := (p.Balance - peak) / peak * 100
			if dd < s.MaxDrawdownPct {
				s.MaxDrawdownPct = dd
			}
		}
	}

	var marginSum float64
	for _, p := range equity {
		marginSum += p.MarginUsedPct
		if p.MarginUsedPct > s.MaxMarginUsedPct {
			s.MaxMarginUsedPct = p.MarginUsedPct
		}
	}
	s.AvgMarginUsedPct = marginSum / float64(len(equity))

	// Per-interval simple returns. Intervals starting from a zero balance
	// are skipped instead of dividing by it.
	var returns []float64
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Balance
		if prev == 0 {
			continue
		}
		returns = append(returns, (equity[i].Balance-prev)/prev)
	}
	if len(returns) < 2 {
		return
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1) // sample variance
	stdev := math.Sqrt(variance)

	s.ReturnVolatility = ptr(stdev * 100)
	if stdev > 0 {
		s.SharpeLike = ptr(mean / stdev * math.Sqrt(s.PeriodsPerYear))
	}
}

// Fixed bands matching the holding-duration reports the trading desk is
// used to reading.
func holdingBuckets(trades []Trade) []HoldingBucket {
	buckets := []HoldingBucket{
		{Label: "<15m"},
		{Label: "15-30m"},
		{Label: "30-60m"},
		{Label: ">=60m"},
	}
	for _, t := range trades {
		m := t.Duration.Minutes()
		switch {
		case m < 15:
			buckets[0].Count++
		case m < 30:
			buckets[1].Count++
		case m < 60:
			buckets[2].Count++
		default:
			buckets[3].Count++
		}
	}
	if len(trades) > 0 {
		for i := range buckets {
			buckets[i].Pct = float64(buckets[i].Count) / float64(len(trades)) * 100
		}
	}
	return buckets
}

func perSymbol(trades []Trade) []SymbolStats {
	bySymbol := make(map[string]*SymbolStats)
	for _, t := range trades {
		st, ok := bySymbol[t.Symbol]
		if !ok {
			st = &SymbolStats{Symbol: t.Symbol}
			bySymbol[t.Symbol] = st
		}
		st.Trades++
		if t.RealizedPnl > 0 {
			st.Wins++
		}
		st.NetPnl += t.RealizedPnl
	}

	out := make([]SymbolStats, 0, len(bySymbol))
	for _, st := range bySymbol {
		if st.Trades > 0 {
			st.WinRate = ptr(float64(st.Wins) / float64(st.Trades))
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func ptr(f float64) *float64 { return &f }
