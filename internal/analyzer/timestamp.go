package analyzer

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// timestampLayouts are tried in order. RFC3339Nano covers the Z-suffixed
// ISO-8601 variants with any sub-second precision, including none.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"20060102_150405",
}

// ParseTimestamp parses the timestamp formats that occur across decision
// logs: ISO-8601 with Z suffix and variable fractional seconds, a bare
// date-time, and the filename-embedded YYYYMMDD_HHMMSS form.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

// decision_20251110_000139_cycle325.json
var filenamePattern = regexp.MustCompile(`^decision_(\d{8})_(\d{6})(?:_cycle(\d+))?\.json$`)

// ParseFilename extracts the embedded timestamp and, when present, the cycle
// number from a decision-log filename. The cycle is -1 when absent.
func ParseFilename(name string) (time.Time, int, error) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, -1, fmt.Errorf("filename does not match decision-log pattern: %q", name)
	}

	t, err := time.Parse("20060102_150405", m[1]+"_"+m[2])
	if err != nil {
		return time.Time{}, -1, fmt.Errorf("bad timestamp in filename %q: %w", name, err)
	}

	cycle := -1
	if m[3] != "" {
		cycle, _ = strconv.Atoi(m[3])
	}
	return t.UTC(), cycle, nil
}
