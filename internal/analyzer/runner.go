package analyzer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Report is the complete output of analyzing one source.
type Report struct {
	TraderID        string         `json:"trader_id"`
	RunID           string         `json:"run_id"`
	GeneratedAt     time.Time      `json:"generated_at"`
	Cycles          int            `json:"cycles"`
	Trades          []Trade        `json:"trades"`
	OpenPositions   []OpenPosition `json:"open_positions"`
	Equity          []EquityPoint  `json:"-"`
	Summary         Summary        `json:"summary"`
	SkippedRecords  int            `json:"skipped_records"`
	Inconsistencies int            `json:"inconsistencies"`
	// Error is set when this source failed entirely (unreadable input);
	// other sources of the same run are unaffected.
	Error string `json:"error,omitempty"`
}

// Analyzer orchestrates analysis runs. Sources are embarrassingly parallel:
// every source gets a fresh Ledger and a private event stream, so runs only
// share the logger.
type Analyzer struct {
	logger         *zap.Logger
	periodsPerYear float64
	maxParallel    int
}

// New creates an Analyzer. periodsPerYear is the annualization base for the
// Sharpe-like ratio (see config.Analysis.PeriodsPerYearOrDefault).
func New(logger *zap.Logger, periodsPerYear float64, maxParallel int) *Analyzer {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &Analyzer{
		logger:         logger,
		periodsPerYear: periodsPerYear,
		maxParallel:    maxParallel,
	}
}

// Run analyzes all sources and returns one Report per source, in input
// order. A source that fails entirely yields a Report with Error set; the
// remaining sources still complete.
func (a *Analyzer) Run(ctx context.Context, sources []Source) []Report {
	reports := make([]Report, len(sources))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxParallel)

	for i, src := range sources {
		g.Go(func() error {
			reports[i] = a.runOne(ctx, src)
			return nil
		})
	}
	// Worker funcs never return errors; per-source failures live on the Report.
	_ = g.Wait()

	return reports
}

func (a *Analyzer) runOne(ctx context.Context, src Source) Report {
	logger := a.logger.With(zap.String("trader", src.TraderID))
	report := Report{
		TraderID:    src.TraderID,
		RunID:       uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
	}

	if err := ctx.Err(); err != nil {
		report.Error = err.Error()
		return report
	}

	norm := NewNormalizer(logger)
	cycles, err := loadDecisionDir(src.Dir, norm)
	if err != nil {
		logger.Error("Source failed", zap.Error(err))
		report.Error = err.Error()
		return report
	}
	norm.AddFills(src.Fills)
	report.Cycles = cycles

	events := norm.Events()
	ledger := NewLedger(logger)
	equity := a.replay(events, ledger)

	report.Trades = ledger.Trades()
	report.OpenPositions = ledger.OpenPositions()
	report.Equity = equity
	report.SkippedRecords = norm.Skipped()
	report.Inconsistencies = ledger.Inconsistencies()
	report.Summary = Aggregate(report.Trades, equity, a.periodsPerYear)

	logger.Info("Analysis complete",
		zap.Int("cycles", cycles),
		zap.Int("trades", len(report.Trades)),
		zap.Int("open_positions", len(report.OpenPositions)),
		zap.Int("skipped_records", report.SkippedRecords),
		zap.Int("inconsistencies", report.Inconsistencies))
	return report
}

// cycleKeys tracks which (symbol, side) keys one polling cycle observed.
type cycleKeys struct {
	num  int
	time time.Time
	keys map[PositionKey]struct{}
}

// replay drives the ledger through the sorted event stream, sequentially and
// single-threaded. Whenever a new cycle begins, the snapshot key sets of the
// two most recent completed cycles are compared to catch positions that
// vanished without a closing fill. A cycle begins when the cycle number
// advances, or, for records that carry no cycle number, when an equity or
// snapshot event arrives with a new timestamp. Exchange fills carry neither
// and never start a cycle.
func (a *Analyzer) replay(events []Event, ledger *Ledger) []EquityPoint {
	var equity []EquityPoint
	var prev, curr *cycleKeys

	for _, ev := range events {
		if startsCycle(curr, ev) {
			if curr != nil {
				if prev != nil {
					ledger.DetectDisappearance(prev.keys, curr.keys, curr.time)
				}
				prev = curr
			}
			curr = &cycleKeys{num: ev.Cycle, time: ev.Time, keys: make(map[PositionKey]struct{})}
		}

		switch ev.Kind {
		case KindEquity:
			equity = append(equity, EquityPoint{
				Time:          ev.Time,
				Balance:       ev.Balance,
				UnrealizedPnl: ev.UnrealizedSum,
				PositionCount: ev.PositionCount,
				MarginUsedPct: ev.MarginUsedPct,
			})
		case KindSnapshot:
			if curr != nil {
				curr.keys[ev.Key()] = struct{}{}
			}
			ledger.ObserveSnapshot(ev)
		case KindOpenFill, KindCloseFill:
			ledger.ObserveFill(ev)
		}
	}

	// The stream ended mid-cycle; run the disappearance check for the last
	// completed pair of cycles.
	if prev != nil && curr != nil {
		ledger.DetectDisappearance(prev.keys, curr.keys, curr.time)
	}

	return equity
}

func startsCycle(curr *cycleKeys, ev Event) bool {
	if ev.Cycle >= 0 {
		return curr == nil || ev.Cycle != curr.num
	}
	if ev.Kind != KindEquity && ev.Kind != KindSnapshot {
		return false
	}
	return curr == nil || !ev.Time.Equal(curr.time)
}
