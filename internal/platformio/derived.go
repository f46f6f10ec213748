package platformio

import (
	"github.com/geopm/geopmd/internal/dsignal"
	"github.com/geopm/geopmd/internal/geopmerr"
)

// PushDerivativeSignal wraps the already-pushed signal base in a
// dsignal.Derivative with the given history window (<=0 selects
// dsignal.DefaultDerivativeWindow) and returns a new federation handle
// for it. base's history is advanced once per ReadBatch for the lifetime
// of this PlatformIO.
func (p *PlatformIO) PushDerivativeSignal(base Handle, window int) (Handle, error) {
	if p.started {
		return 0, geopmerr.New(geopmerr.PushAfterStart, "push_derivative_signal", "")
	}
	input, err := p.signalOf(base)
	if err != nil {
		return 0, err
	}
	d := dsignal.NewDerivative(input, window)
	if err := d.SetupBatch(); err != nil {
		return 0, err
	}
	h := Handle(len(p.entries))
	p.entries = append(p.entries, entry{kind: entryDerivedSignal, derived: d, derivative: d})
	return h, nil
}

// PushTimeIntegralSignal wraps the already-pushed signal base in a
// dsignal.TimeIntegral and returns a new federation handle for it. base's
// integral is advanced once per ReadBatch for the lifetime of this
// PlatformIO.
func (p *PlatformIO) PushTimeIntegralSignal(base Handle) (Handle, error) {
	if p.started {
		return 0, geopmerr.New(geopmerr.PushAfterStart, "push_time_integral_signal", "")
	}
	input, err := p.signalOf(base)
	if err != nil {
		return 0, err
	}
	ti := dsignal.NewTimeIntegral(input)
	if err := ti.SetupBatch(); err != nil {
		return 0, err
	}
	h := Handle(len(p.entries))
	p.entries = append(p.entries, entry{kind: entryDerivedSignal, derived: ti, timeIntegr: ti})
	return h, nil
}

// signalOf adapts an existing federation handle into a dsignal.Signal so
// it can be composed further (e.g. as a Derivative's input).
func (p *PlatformIO) signalOf(h Handle) (dsignal.Signal, error) {
	e, err := p.entry(h)
	if err != nil {
		return nil, err
	}
	switch e.kind {
	case entryBackendSignal:
		backendIdx, backendH := e.backendIdx, e.backendH
		return dsignal.NewRaw(p.sampleFunc(backendIdx, backendH)), nil
	case entryDerivedSignal:
		return e.derived, nil
	default:
		return nil, geopmerr.New(geopmerr.Logic, "platformio.signal_of", "handle is not a signal")
	}
}
