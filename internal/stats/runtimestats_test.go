package stats

import (
	"math"
	"testing"
)

func TestFirstLastMinMaxNaNBeforeAnySample(t *testing.T) {
	rs := New([]string{"ENERGY"}, nil)
	for _, f := range []func(int) (float64, error){rs.First, rs.Last, rs.Min, rs.Max, rs.Mean, rs.Std} {
		got, err := f(0)
		if err != nil {
			t.Fatalf("accessor: %v", err)
		}
		if !math.IsNaN(got) {
			t.Errorf("accessor before any sample = %v, want NaN", got)
		}
	}
}

func TestUpdateAccumulatesMoments(t *testing.T) {
	rs := New([]string{"X"}, nil)
	samples := []float64{1, 2, 3, 4, 5}
	for _, s := range samples {
		if err := rs.Update([]float64{s}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	count, _ := rs.Count(0)
	if count != 5 {
		t.Errorf("Count() = %d, want 5", count)
	}
	first, _ := rs.First(0)
	last, _ := rs.Last(0)
	min, _ := rs.Min(0)
	max, _ := rs.Max(0)
	mean, _ := rs.Mean(0)
	if first != 1 || last != 5 || min != 1 || max != 5 {
		t.Errorf("first/last/min/max = %v/%v/%v/%v, want 1/5/1/5", first, last, min, max)
	}
	if mean != 3 {
		t.Errorf("Mean() = %v, want 3", mean)
	}
	std, _ := rs.Std(0)
	// population variance of 1..5 is 2, sample variance (n-1 denom) is 2.5
	if math.Abs(std-math.Sqrt(2.5)) > 1e-9 {
		t.Errorf("Std() = %v, want sqrt(2.5)", std)
	}
}

func TestUpdateSkipsInvalidValues(t *testing.T) {
	invalidSentinel := -1.0
	rs := New([]string{"X"}, func(v float64) bool { return v != invalidSentinel })
	rs.Update([]float64{invalidSentinel})
	count, _ := rs.Count(0)
	if count != 0 {
		t.Errorf("Count() after only-invalid samples = %d, want 0", count)
	}
	rs.Update([]float64{10})
	count, _ = rs.Count(0)
	if count != 1 {
		t.Errorf("Count() after one valid sample = %d, want 1", count)
	}
}

func TestUpdateSkipsNaNByDefault(t *testing.T) {
	rs := New([]string{"X"}, nil)
	rs.Update([]float64{math.NaN()})
	count, _ := rs.Count(0)
	if count != 0 {
		t.Errorf("Count() after NaN sample = %d, want 0", count)
	}
}

func TestUpdateWrongLengthFails(t *testing.T) {
	rs := New([]string{"A", "B"}, nil)
	if err := rs.Update([]float64{1}); err == nil {
		t.Fatalf("Update with wrong-length sample should fail")
	}
}

func TestResetClearsMoments(t *testing.T) {
	rs := New([]string{"X"}, nil)
	rs.Update([]float64{5})
	rs.Reset()
	count, _ := rs.Count(0)
	if count != 0 {
		t.Errorf("Count() after Reset = %d, want 0", count)
	}
	first, _ := rs.First(0)
	if !math.IsNaN(first) {
		t.Errorf("First() after Reset = %v, want NaN", first)
	}
}

func TestIndexOutOfRangeErrors(t *testing.T) {
	rs := New([]string{"X"}, nil)
	if _, err := rs.Count(5); err == nil {
		t.Errorf("Count with out-of-range idx should fail")
	}
	if _, err := rs.MetricName(-1); err == nil {
		t.Errorf("MetricName with negative idx should fail")
	}
}
