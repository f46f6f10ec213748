package statsdiff

import (
	"testing"

	"github.com/geopm/geopmd/internal/stats"
)

func snap(name string, mean, std float64) stats.MetricSnapshot {
	return stats.MetricSnapshot{Name: name, Count: 10, Mean: mean, Std: std}
}

func TestCompareRegressionOnCostMetric(t *testing.T) {
	baseline := []stats.MetricSnapshot{snap("PACKAGE_POWER", 100, 5)}
	current := []stats.MetricSnapshot{snap("PACKAGE_POWER", 180, 5)}

	report := Compare(baseline, current, nil)
	if report.Regressions != 1 {
		t.Fatalf("regressions = %d, want 1", report.Regressions)
	}
	if len(report.Changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(report.Changes))
	}
	c := report.Changes[0]
	if c.Direction != "regression" {
		t.Errorf("direction = %q, want regression", c.Direction)
	}
	if c.Significance != "high" {
		t.Errorf("significance = %q, want high (80%% change)", c.Significance)
	}
}

func TestCompareImprovementOnThroughputMetric(t *testing.T) {
	baseline := []stats.MetricSnapshot{snap("CPU_FREQUENCY_STATUS", 1.0e9, 0)}
	current := []stats.MetricSnapshot{snap("CPU_FREQUENCY_STATUS", 2.0e9, 0)}

	policy := Policy{"CPU_FREQUENCY_STATUS": false}
	report := Compare(baseline, current, policy)
	if report.Improvements != 1 {
		t.Fatalf("improvements = %d, want 1", report.Improvements)
	}
	if report.Changes[0].Direction != "improvement" {
		t.Errorf("direction = %q, want improvement", report.Changes[0].Direction)
	}
}

func TestCompareIdenticalYieldsNoChanges(t *testing.T) {
	baseline := []stats.MetricSnapshot{snap("ENERGY_PACKAGE", 500, 1)}
	current := []stats.MetricSnapshot{snap("ENERGY_PACKAGE", 500, 1)}

	report := Compare(baseline, current, nil)
	if report.Regressions != 0 || report.Improvements != 0 {
		t.Errorf("identical snapshots reported %d regressions, %d improvements, want 0/0",
			report.Regressions, report.Improvements)
	}
}

func TestCompareSkipsMetricsMissingFromEitherSide(t *testing.T) {
	baseline := []stats.MetricSnapshot{snap("A", 1, 0), snap("B", 1, 0)}
	current := []stats.MetricSnapshot{snap("A", 2, 0)}

	report := Compare(baseline, current, nil)
	for _, c := range report.Changes {
		if c.Metric == "B" {
			t.Errorf("metric B present only in baseline should be skipped, got change %+v", c)
		}
	}
}

func TestCompareSkipsNaNMeans(t *testing.T) {
	baseline := []stats.MetricSnapshot{{Name: "NEVER_SAMPLED", Count: 0}}
	baseline[0].Mean = nan()
	current := []stats.MetricSnapshot{snap("NEVER_SAMPLED", 10, 0)}

	report := Compare(baseline, current, nil)
	if len(report.Changes) != 0 {
		t.Errorf("NaN-mean baseline should produce no change, got %+v", report.Changes)
	}
}

func TestFormatIncludesRegressionLine(t *testing.T) {
	baseline := []stats.MetricSnapshot{snap("PACKAGE_POWER", 100, 0)}
	current := []stats.MetricSnapshot{snap("PACKAGE_POWER", 200, 0)}
	report := Compare(baseline, current, nil)

	out := Format(report)
	if out == "" {
		t.Fatal("empty format output")
	}
	if len(out) < 20 {
		t.Errorf("format output too short: %q", out)
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}
