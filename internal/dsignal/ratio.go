package dsignal

import (
	"math"

	"github.com/geopm/geopmd/internal/geopmerr"
)

// Ratio is numerator.Sample() / denominator.Sample(), yielding NaN rather
// than an error when the denominator samples to zero.
type Ratio struct {
	numerator, denominator Signal
	ready                  bool
}

// NewRatio returns a Ratio signal over numerator and denominator.
func NewRatio(numerator, denominator Signal) *Ratio {
	return &Ratio{numerator: numerator, denominator: denominator}
}

func (r *Ratio) SetupBatch() error {
	if r.ready {
		return nil
	}
	if err := setupAll(r.numerator, r.denominator); err != nil {
		return err
	}
	r.ready = true
	return nil
}

func (r *Ratio) Sample() (float64, error) {
	if !r.ready {
		return 0, geopmerr.New(geopmerr.NotReady, "dsignal.ratio.sample", "")
	}
	n, err := r.numerator.Sample()
	if err != nil {
		return 0, err
	}
	d, err := r.denominator.Sample()
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return math.NaN(), nil
	}
	return n / d, nil
}

// Difference is a.Sample() - b.Sample().
type Difference struct {
	a, b  Signal
	ready bool
}

// NewDifference returns a Difference signal over a and b.
func NewDifference(a, b Signal) *Difference {
	return &Difference{a: a, b: b}
}

func (d *Difference) SetupBatch() error {
	if d.ready {
		return nil
	}
	if err := setupAll(d.a, d.b); err != nil {
		return err
	}
	d.ready = true
	return nil
}

func (d *Difference) Sample() (float64, error) {
	if !d.ready {
		return 0, geopmerr.New(geopmerr.NotReady, "dsignal.difference.sample", "")
	}
	a, err := d.a.Sample()
	if err != nil {
		return 0, err
	}
	b, err := d.b.Sample()
	if err != nil {
		return 0, err
	}
	return a - b, nil
}
