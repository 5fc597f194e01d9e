package analyzer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"binance-pnl-analyzer-go/internal/binance"
	"go.uber.org/zap"
)

// Source is one independent input to an analysis run: a trader's decision
// log directory, optionally enriched with exchange fill history. Each
// source gets its own Ledger; sources share nothing.
type Source struct {
	TraderID string
	Dir      string
	Fills    []binance.UserTrade
}

// AddRawCycle classifies and normalizes one raw decision-log file. A file
// that is not valid JSON is skipped and counted; it never aborts the run.
func (n *Normalizer) AddRawCycle(data []byte, filename string) {
	fallback, cycle, err := ParseFilename(filename)
	if err != nil {
		// Not fatal: the record body usually carries its own timestamp.
		n.logger.Debug("Filename carries no timestamp", zap.String("file", filename))
	}

	var rec DecisionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		n.skip("unparseable decision record",
			zap.String("file", filename), zap.Error(err))
		return
	}
	n.AddCycle(rec, fallback, cycle)
}

// loadDecisionDir feeds every decision_*.json file under dir into the
// normalizer. An unreadable directory is the one fatal error: the whole
// source is unusable. Individual unreadable files are skipped.
func loadDecisionDir(dir string, n *Normalizer) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("cannot read decision log directory %s: %w", dir, err)
	}

	count := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "decision_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			n.skip("unreadable decision file", zap.String("file", name), zap.Error(err))
			continue
		}
		n.AddRawCycle(data, name)
		count++
	}
	return count, nil
}
