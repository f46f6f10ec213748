// Package platformio implements the federation layer that merges every
// registered IOGroup backend into a single namespace of typed signals and
// controls. It is the only component client code talks to: PlatformIO
// resolves names across backends, brokers domain-level aggregation when a
// push targets a coarser or finer domain than a signal's native one, and
// enforces the batch lifecycle (push before start, sample only after
// read_batch, write_batch only once every pushed control has been
// adjusted).
//
// A PlatformIO is not safe for concurrent use; per the single-threaded
// cooperative model, the caller serializes every call against one
// instance.
package platformio

import (
	"github.com/geopm/geopmd/internal/dsignal"
	"github.com/geopm/geopmd/internal/geopmerr"
	"github.com/geopm/geopmd/internal/iogroup"
	"github.com/geopm/geopmd/internal/topo"
)

// Handle is the federation-level handle returned by PushSignal/PushControl.
// It is distinct from, and not comparable to, any backend's own
// iogroup.Handle.
type Handle int

// entryKind distinguishes a direct backend handle from a derived one.
type entryKind int

const (
	entryBackendSignal entryKind = iota
	entryBackendControl
	entryDerivedSignal
)

type pushKey struct {
	name   string
	domain topo.Domain
	idx    int
}

// entry is what a federation Handle resolves to: either a direct backend
// handle (kind == entryBackend*) or a derived dsignal.Signal composed over
// one or more backend handles (kind == entryDerivedSignal).
type entry struct {
	kind        entryKind
	backendIdx  int
	backendH    iogroup.Handle
	derived     dsignal.Signal
	derivative  *dsignal.Derivative
	timeIntegr  *dsignal.TimeIntegral
}

// PlatformIO is the federated signal/control namespace over an ordered set
// of backends. Registration order is precedence order: on a name
// collision the earliest-registered backend wins the bare name, and the
// losing backend's entry remains reachable only as "PREFIX::NAME".
type PlatformIO struct {
	topo *topo.Topology

	backends []iogroup.IOGroup
	// signalOwner/controlOwner map a bare or PREFIX::NAME name to the
	// index into backends that owns it.
	signalOwner  map[string]int
	controlOwner map[string]int

	entries    []entry
	pushIndex  map[pushKey]Handle
	adjusted   map[Handle]bool
	started    bool
	timeSource func() float64

	overheadBefore  procSnapshot
	overheadStarted bool
}

// New returns a PlatformIO with no backends registered. Register adds
// backends in precedence order.
func New(t *topo.Topology, timeSource func() float64) *PlatformIO {
	return &PlatformIO{
		topo:         t,
		signalOwner:  make(map[string]int),
		controlOwner: make(map[string]int),
		pushIndex:    make(map[pushKey]Handle),
		adjusted:     make(map[Handle]bool),
		timeSource:   timeSource,
	}
}

// Register adds g as the next backend in precedence order. Its bare signal
// and control names are claimed by the first registrant only; every name
// remains reachable as "g.Name()::name" regardless of collision.
func (p *PlatformIO) Register(g iogroup.IOGroup) {
	idx := len(p.backends)
	p.backends = append(p.backends, g)

	for _, name := range g.SignalNames() {
		if _, exists := p.signalOwner[name]; !exists {
			p.signalOwner[name] = idx
		}
		p.signalOwner[g.Name()+"::"+name] = idx
	}
	for _, name := range g.ControlNames() {
		if _, exists := p.controlOwner[name]; !exists {
			p.controlOwner[name] = idx
		}
		p.controlOwner[g.Name()+"::"+name] = idx
	}
}

// SignalNames returns the union of every backend's signal names, including
// every PREFIX::NAME qualified duplicate.
func (p *PlatformIO) SignalNames() []string {
	names := make([]string, 0, len(p.signalOwner))
	for name := range p.signalOwner {
		names = append(names, name)
	}
	return names
}

// ControlNames returns the union of every backend's control names,
// including every PREFIX::NAME qualified duplicate.
func (p *PlatformIO) ControlNames() []string {
	names := make([]string, 0, len(p.controlOwner))
	for name := range p.controlOwner {
		names = append(names, name)
	}
	return names
}

func (p *PlatformIO) resolveSignal(name string) (iogroup.IOGroup, int, error) {
	idx, ok := p.signalOwner[name]
	if !ok {
		return nil, 0, geopmerr.New(geopmerr.UnknownName, "platformio.signal", name)
	}
	return p.backends[idx], idx, nil
}

func (p *PlatformIO) resolveControl(name string) (iogroup.IOGroup, int, error) {
	idx, ok := p.controlOwner[name]
	if !ok {
		return nil, 0, geopmerr.New(geopmerr.UnknownName, "platformio.control", name)
	}
	return p.backends[idx], idx, nil
}

// IsValidSignal/IsValidControl report whether name is known to any
// registered backend, under either its bare or PREFIX::NAME form.
func (p *PlatformIO) IsValidSignal(name string) bool {
	_, ok := p.signalOwner[name]
	return ok
}

func (p *PlatformIO) IsValidControl(name string) bool {
	_, ok := p.controlOwner[name]
	return ok
}

// SignalInfo resolves name to its owning backend and returns its
// descriptor.
func (p *PlatformIO) SignalInfo(name string) (iogroup.SignalInfo, error) {
	g, _, err := p.resolveSignal(name)
	if err != nil {
		return iogroup.SignalInfo{}, err
	}
	return g.SignalInfo(stripPrefix(name))
}

// ControlInfo resolves name to its owning backend and returns its
// descriptor.
func (p *PlatformIO) ControlInfo(name string) (iogroup.ControlInfo, error) {
	g, _, err := p.resolveControl(name)
	if err != nil {
		return iogroup.ControlInfo{}, err
	}
	return g.ControlInfo(stripPrefix(name))
}
