package platformio

import "github.com/geopm/geopmd/internal/topo"

// ReadSignal returns name's value at (domain, idx) directly from its
// owning backend, bypassing all batch/handle state.
func (p *PlatformIO) ReadSignal(name string, domain topo.Domain, idx int) (float64, error) {
	g, _, err := p.resolveSignal(name)
	if err != nil {
		return 0, err
	}
	return g.ReadSignal(stripPrefix(name), domain, idx)
}

// WriteControl writes value to name at (domain, idx) directly through its
// owning backend, bypassing all batch/handle state.
func (p *PlatformIO) WriteControl(name string, domain topo.Domain, idx int, value float64) error {
	g, _, err := p.resolveControl(name)
	if err != nil {
		return err
	}
	return g.WriteControl(stripPrefix(name), domain, idx, value)
}
