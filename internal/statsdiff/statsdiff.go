// Package statsdiff compares two StatsCollector report snapshots and
// highlights which tracked metrics moved enough to call out, adapting the
// teacher's internal/diff package (USE-metric/histogram percentile
// comparison) to GEOPM's arbitrary-named signal moments.
package statsdiff

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/geopm/geopmd/internal/stats"
)

// MetricChange is one metric's baseline-to-current comparison.
type MetricChange struct {
	Metric       string
	Baseline     stats.MetricSnapshot
	Current      stats.MetricSnapshot
	MeanDelta    float64
	MeanDeltaPct float64
	StdDelta     float64
	Direction    string // "regression", "improvement", "unchanged"
	Significance string // "high", "medium", "low"
}

// Report is the full comparison between two snapshots.
type Report struct {
	Changes      []MetricChange
	Regressions  int
	Improvements int
}

// Policy tells Compare whether an increase in a metric's mean counts as a
// regression. Most GEOPM signals are cost-shaped (energy, power, time,
// stall counts) where higher is worse; a throughput-shaped signal (clock
// frequency, instructions retired) should be registered false. A name
// absent from the policy defaults to higher-is-worse.
type Policy map[string]bool

func (p Policy) higherIsWorse(name string) bool {
	if v, ok := p[name]; ok {
		return v
	}
	return true
}

// Compare matches baseline and current snapshots by metric name and
// reports the mean/std deltas for every metric present in both, except
// those buildChange drops (a NaN mean or a negligible change). Metrics
// present in only one snapshot are silently skipped: there is nothing to
// diff. Changes are sorted by metric name for a stable report.
func Compare(baseline, current []stats.MetricSnapshot, policy Policy) *Report {
	curByName := make(map[string]stats.MetricSnapshot, len(current))
	for _, m := range current {
		curByName[m.Name] = m
	}

	report := &Report{}
	for _, b := range baseline {
		c, ok := curByName[b.Name]
		if !ok {
			continue
		}
		change, ok := buildChange(b, c, policy.higherIsWorse(b.Name))
		if !ok {
			continue
		}
		report.Changes = append(report.Changes, change)
	}
	sort.Slice(report.Changes, func(i, j int) bool {
		return report.Changes[i].Metric < report.Changes[j].Metric
	})
	for _, c := range report.Changes {
		switch c.Direction {
		case "regression":
			report.Regressions++
		case "improvement":
			report.Improvements++
		}
	}
	return report
}

// buildChange reports ok=false for a metric that cannot be meaningfully
// diffed (either side never sampled) or whose change is negligible.
func buildChange(b, c stats.MetricSnapshot, higherIsWorse bool) (MetricChange, bool) {
	if math.IsNaN(b.Mean) || math.IsNaN(c.Mean) {
		return MetricChange{}, false
	}

	delta := c.Mean - b.Mean
	deltaPct := 0.0
	if b.Mean != 0 {
		deltaPct = delta / math.Abs(b.Mean) * 100
	}
	if math.Abs(deltaPct) < 1.0 && math.Abs(delta) < 1e-9 {
		return MetricChange{}, false
	}

	direction := "unchanged"
	if math.Abs(deltaPct) > 5 {
		if (deltaPct > 0) == higherIsWorse {
			direction = "regression"
		} else {
			direction = "improvement"
		}
	}

	significance := "low"
	switch absPct := math.Abs(deltaPct); {
	case absPct >= 50:
		significance = "high"
	case absPct >= 20:
		significance = "medium"
	}

	return MetricChange{
		Metric:       b.Name,
		Baseline:     b,
		Current:      c,
		MeanDelta:    delta,
		MeanDeltaPct: deltaPct,
		StdDelta:     c.Std - b.Std,
		Direction:    direction,
		Significance: significance,
	}, true
}

// Format renders a human-readable summary, regressions first.
func Format(r *Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Regressions: %d, Improvements: %d\n\n", r.Regressions, r.Improvements)

	if r.Regressions > 0 {
		sb.WriteString("Regressions:\n")
		for _, c := range r.Changes {
			if c.Direction == "regression" {
				fmt.Fprintf(&sb, "  [%s] %s: %.6g -> %.6g (%+.1f%%)\n",
					strings.ToUpper(c.Significance), c.Metric, c.Baseline.Mean, c.Current.Mean, c.MeanDeltaPct)
			}
		}
		sb.WriteString("\n")
	}
	if r.Improvements > 0 {
		sb.WriteString("Improvements:\n")
		for _, c := range r.Changes {
			if c.Direction == "improvement" {
				fmt.Fprintf(&sb, "  [%s] %s: %.6g -> %.6g (%+.1f%%)\n",
					strings.ToUpper(c.Significance), c.Metric, c.Baseline.Mean, c.Current.Mean, c.MeanDeltaPct)
			}
		}
	}
	return sb.String()
}
