package dsignal

import (
	"math"

	"github.com/geopm/geopmd/internal/geopmerr"
)

// DefaultDerivativeWindow is the history length used when Derivative is
// constructed without an explicit window.
const DefaultDerivativeWindow = 8

// Derivative is the slope of the least-squares line through a bounded
// history of (time, value) pairs. The federation's read_batch is
// responsible for calling Update once per batch with the current
// monotonic time; Sample itself never advances the history.
type Derivative struct {
	input  Signal
	window int
	times  []float64
	values []float64
	ready  bool
}

// NewDerivative returns a Derivative over input with the given history
// window; window <= 0 selects DefaultDerivativeWindow.
func NewDerivative(input Signal, window int) *Derivative {
	if window <= 0 {
		window = DefaultDerivativeWindow
	}
	return &Derivative{input: input, window: window}
}

func (d *Derivative) SetupBatch() error {
	if d.ready {
		return nil
	}
	if err := d.input.SetupBatch(); err != nil {
		return err
	}
	d.ready = true
	return nil
}

// Update samples the input at time t and appends it to the bounded
// history, evicting the oldest entry once the window is full. It is
// expected to be called once per PlatformIO read_batch.
func (d *Derivative) Update(t float64) error {
	if !d.ready {
		return geopmerr.New(geopmerr.NotReady, "dsignal.derivative.update", "")
	}
	v, err := d.input.Sample()
	if err != nil {
		return err
	}
	d.times = append(d.times, t)
	d.values = append(d.values, v)
	if len(d.times) > d.window {
		d.times = d.times[len(d.times)-d.window:]
		d.values = d.values[len(d.values)-d.window:]
	}
	return nil
}

// Sample returns the least-squares slope of the current history. It
// returns NaN until at least two samples with distinct times have been
// recorded, and fails with NotReady if SetupBatch has not run.
func (d *Derivative) Sample() (float64, error) {
	if !d.ready {
		return 0, geopmerr.New(geopmerr.NotReady, "dsignal.derivative.sample", "")
	}
	if !d.hasDistinctTimes() {
		return math.NaN(), nil
	}
	return leastSquaresSlope(d.times, d.values), nil
}

func (d *Derivative) hasDistinctTimes() bool {
	if len(d.times) < 2 {
		return false
	}
	first := d.times[0]
	for _, t := range d.times[1:] {
		if t != first {
			return true
		}
	}
	return false
}

// leastSquaresSlope fits y = a + b*x over (x[i], y[i]) and returns b.
func leastSquaresSlope(x, y []float64) float64 {
	n := float64(len(x))
	var sumX, sumY, sumXY, sumXX float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
		sumXY += x[i] * y[i]
		sumXX += x[i] * x[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// TimeIntegral is a running trapezoidal-rule integral of input over time,
// accumulated across successive Update calls until an explicit Reset.
type TimeIntegral struct {
	input      Signal
	ready      bool
	haveLast   bool
	lastTime   float64
	lastValue  float64
	accumulated float64
}

// NewTimeIntegral returns a TimeIntegral over input.
func NewTimeIntegral(input Signal) *TimeIntegral {
	return &TimeIntegral{input: input}
}

func (ti *TimeIntegral) SetupBatch() error {
	if ti.ready {
		return nil
	}
	if err := ti.input.SetupBatch(); err != nil {
		return err
	}
	ti.ready = true
	return nil
}

// Update samples input at time t and accumulates the trapezoidal area
// since the previous Update.
func (ti *TimeIntegral) Update(t float64) error {
	if !ti.ready {
		return geopmerr.New(geopmerr.NotReady, "dsignal.timeintegral.update", "")
	}
	v, err := ti.input.Sample()
	if err != nil {
		return err
	}
	if ti.haveLast {
		dt := t - ti.lastTime
		ti.accumulated += 0.5 * (v + ti.lastValue) * dt
	}
	ti.lastTime, ti.lastValue, ti.haveLast = t, v, true
	return nil
}

// Reset zeroes the accumulated integral without discarding the last
// (time, value) pair, so the next Update still integrates forward from the
// correct baseline.
func (ti *TimeIntegral) Reset() {
	ti.accumulated = 0
}

func (ti *TimeIntegral) Sample() (float64, error) {
	if !ti.ready {
		return 0, geopmerr.New(geopmerr.NotReady, "dsignal.timeintegral.sample", "")
	}
	return ti.accumulated, nil
}
