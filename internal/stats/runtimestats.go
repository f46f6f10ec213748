// Package stats implements RuntimeStats: streaming statistical moments
// over a fixed set of metrics, updated one sample vector at a time, with
// no retained history beyond count/first/last/min/max and the first four
// raw power-sum moments.
package stats

import (
	"math"

	"github.com/geopm/geopmd/internal/geopmerr"
)

// moments holds one metric's running single-pass accumulators.
type moments struct {
	count            uint64
	first, last      float64
	min, max         float64
	m1, m2, m3, m4   float64
}

// RuntimeStats accumulates moments for a fixed, ordered set of named
// metrics. A sample the isValid classifier rejects (by default, NaN) is
// skipped rather than folded into the moments.
type RuntimeStats struct {
	names   []string
	values  []moments
	isValid func(float64) bool
}

// New returns a RuntimeStats over names, all moments zeroed. isValid
// classifies a sample as countable; nil treats every non-NaN value as
// valid.
func New(names []string, isValid func(float64) bool) *RuntimeStats {
	if isValid == nil {
		isValid = func(v float64) bool { return !math.IsNaN(v) }
	}
	return &RuntimeStats{
		names:   append([]string(nil), names...),
		values:  make([]moments, len(names)),
		isValid: isValid,
	}
}

// NumMetric returns the number of tracked metrics.
func (r *RuntimeStats) NumMetric() int { return len(r.names) }

// MetricName returns the name of metric idx.
func (r *RuntimeStats) MetricName(idx int) (string, error) {
	if err := r.checkIndex(idx, "metric_name"); err != nil {
		return "", err
	}
	return r.names[idx], nil
}

func (r *RuntimeStats) checkIndex(idx int, op string) error {
	if idx < 0 || idx >= len(r.names) {
		return geopmerr.New(geopmerr.Logic, "stats."+op, "metric_idx out of range")
	}
	return nil
}

// Count returns the number of valid samples folded into metric idx.
func (r *RuntimeStats) Count(idx int) (uint64, error) {
	if err := r.checkIndex(idx, "count"); err != nil {
		return 0, err
	}
	return r.values[idx].count, nil
}

// First returns the first valid sample, or NaN if count is zero.
func (r *RuntimeStats) First(idx int) (float64, error) {
	if err := r.checkIndex(idx, "first"); err != nil {
		return 0, err
	}
	if r.values[idx].count == 0 {
		return math.NaN(), nil
	}
	return r.values[idx].first, nil
}

// Last returns the most recent valid sample, or NaN if count is zero.
func (r *RuntimeStats) Last(idx int) (float64, error) {
	if err := r.checkIndex(idx, "last"); err != nil {
		return 0, err
	}
	if r.values[idx].count == 0 {
		return math.NaN(), nil
	}
	return r.values[idx].last, nil
}

// Min returns the smallest valid sample, or NaN if count is zero.
func (r *RuntimeStats) Min(idx int) (float64, error) {
	if err := r.checkIndex(idx, "min"); err != nil {
		return 0, err
	}
	if r.values[idx].count == 0 {
		return math.NaN(), nil
	}
	return r.values[idx].min, nil
}

// Max returns the largest valid sample, or NaN if count is zero.
func (r *RuntimeStats) Max(idx int) (float64, error) {
	if err := r.checkIndex(idx, "max"); err != nil {
		return 0, err
	}
	if r.values[idx].count == 0 {
		return math.NaN(), nil
	}
	return r.values[idx].max, nil
}

// Mean returns m1/count, or NaN if count is zero.
func (r *RuntimeStats) Mean(idx int) (float64, error) {
	if err := r.checkIndex(idx, "mean"); err != nil {
		return 0, err
	}
	m := r.values[idx]
	if m.count == 0 {
		return math.NaN(), nil
	}
	return m.m1 / float64(m.count), nil
}

// Std returns the sample standard deviation computed from m1/m2, or NaN
// if fewer than two valid samples have been recorded.
func (r *RuntimeStats) Std(idx int) (float64, error) {
	if err := r.checkIndex(idx, "std"); err != nil {
		return 0, err
	}
	m := r.values[idx]
	if m.count <= 1 {
		return math.NaN(), nil
	}
	n := float64(m.count)
	return math.Sqrt((m.m2 - m.m1*m.m1/n) / (n - 1)), nil
}

// Reset zeroes every metric's accumulators, discarding all history.
func (r *RuntimeStats) Reset() {
	for i := range r.values {
		r.values[i] = moments{}
	}
}

// Update folds one sample per metric into the running moments, in metric
// order. It fails with geopmerr.Logic if len(sample) != NumMetric().
func (r *RuntimeStats) Update(sample []float64) error {
	if len(sample) != len(r.values) {
		return geopmerr.New(geopmerr.Logic, "stats.update", "invalid input vector size")
	}
	for i, ss := range sample {
		if !r.isValid(ss) {
			continue
		}
		m := &r.values[i]
		m.count++
		if m.count == 1 {
			m.first = ss
			m.min = ss
			m.max = ss
		}
		m.last = ss
		if ss < m.min {
			m.min = ss
		}
		if ss > m.max {
			m.max = ss
		}
		mm := ss
		m.m1 += mm
		mm *= ss
		m.m2 += mm
		mm *= ss
		m.m3 += mm
		mm *= ss
		m.m4 += mm
	}
	return nil
}
