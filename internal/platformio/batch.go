package platformio

import "github.com/geopm/geopmd/internal/geopmerr"

// ReadBatch calls every backend's ReadBatch exactly once, in registration
// order, then advances every time-dependent derived signal's history.
// ReadBatch is the only point at which a raw backend is allowed to issue
// blocking reads.
func (p *PlatformIO) ReadBatch() error {
	for _, g := range p.backends {
		if err := g.ReadBatch(); err != nil {
			return err
		}
	}
	p.started = true

	t := p.timeSource()
	for _, e := range p.entries {
		if e.derivative != nil {
			if err := e.derivative.Update(t); err != nil {
				return err
			}
		}
		if e.timeIntegr != nil {
			if err := e.timeIntegr.Update(t); err != nil {
				return err
			}
		}
	}
	return nil
}

// Sample returns the current value of h. It never blocks or issues I/O.
func (p *PlatformIO) Sample(h Handle) (float64, error) {
	e, err := p.entry(h)
	if err != nil {
		return 0, err
	}
	if !p.started {
		return 0, geopmerr.New(geopmerr.NotReady, "sample", "")
	}
	switch e.kind {
	case entryBackendSignal:
		return p.backends[e.backendIdx].Sample(e.backendH)
	case entryDerivedSignal:
		return e.derived.Sample()
	default:
		return 0, geopmerr.New(geopmerr.Logic, "sample", "handle is not a signal")
	}
}

// Adjust stages value for h, coalescing with any prior unwritten Adjust on
// the same handle so only the last value before WriteBatch is committed.
func (p *PlatformIO) Adjust(h Handle, value float64) error {
	e, err := p.entry(h)
	if err != nil {
		return err
	}
	if e.kind != entryBackendControl {
		return geopmerr.New(geopmerr.Logic, "adjust", "handle is not a control")
	}
	if err := p.backends[e.backendIdx].Adjust(e.backendH, value); err != nil {
		return err
	}
	p.adjusted[h] = true
	return nil
}

// WriteBatch calls every backend's WriteBatch once, in registration order.
// It fails with geopmerr.UnsetControl if any pushed control handle has
// never been Adjust-ed.
func (p *PlatformIO) WriteBatch() error {
	for h, e := range p.entries {
		if e.kind == entryBackendControl && !p.adjusted[Handle(h)] {
			return geopmerr.New(geopmerr.UnsetControl, "write_batch", "")
		}
	}
	for _, g := range p.backends {
		if err := g.WriteBatch(); err != nil {
			return err
		}
	}
	for h := range p.adjusted {
		delete(p.adjusted, h)
	}
	return nil
}

func (p *PlatformIO) entry(h Handle) (entry, error) {
	if int(h) < 0 || int(h) >= len(p.entries) {
		return entry{}, geopmerr.New(geopmerr.Logic, "platformio.entry", "handle out of range")
	}
	return p.entries[h], nil
}
