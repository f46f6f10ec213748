package platformio

import (
	"sort"

	"github.com/geopm/geopmd/internal/dsignal"
	"github.com/geopm/geopmd/internal/geopmerr"
	"github.com/geopm/geopmd/internal/iogroup"
	"github.com/geopm/geopmd/internal/topo"
)

// PushSignal registers interest in name at (domain, idx) and returns a
// federation handle. Repeated pushes of an identical (name, domain, idx)
// triple return the same handle. If domain is coarser than name's native
// domain, an aggregate derived signal is created (or reused) whose inputs
// are the backend's handles at every native-domain index contained within
// domain[idx]; if domain is finer, the same backend handle is broadcast
// with no aggregation; if equal, the backend's handle is used directly.
func (p *PlatformIO) PushSignal(name string, domain topo.Domain, idx int) (Handle, error) {
	if p.started {
		return 0, geopmerr.New(geopmerr.PushAfterStart, "push_signal", name)
	}
	key := pushKey{name: name, domain: domain, idx: idx}
	if h, ok := p.pushIndex[key]; ok {
		return h, nil
	}

	g, backendIdx, err := p.resolveSignal(name)
	if err != nil {
		return 0, err
	}
	info, err := g.SignalInfo(stripPrefix(name))
	if err != nil {
		return 0, err
	}
	native := info.Domain

	var e entry
	switch {
	case native == domain:
		bh, err := g.PushSignal(stripPrefix(name), domain, idx)
		if err != nil {
			return 0, err
		}
		e = entry{kind: entryBackendSignal, backendIdx: backendIdx, backendH: bh}

	case p.topo.IsNestedDomain(native, domain):
		// domain is coarser than native: aggregate over every native
		// instance contained within domain[idx].
		nativeIdxs, err := p.topo.DomainNested(native, domain, idx)
		if err != nil {
			return 0, err
		}
		sortedIdxs := make([]int, 0, len(nativeIdxs))
		for ni := range nativeIdxs {
			sortedIdxs = append(sortedIdxs, ni)
		}
		sort.Ints(sortedIdxs)

		inputs := make([]dsignal.Signal, 0, len(sortedIdxs))
		for _, ni := range sortedIdxs {
			bh, err := g.PushSignal(stripPrefix(name), native, ni)
			if err != nil {
				return 0, err
			}
			inputs = append(inputs, dsignal.NewRaw(p.sampleFunc(backendIdx, bh)))
		}
		agg := dsignal.NewAggregate(info.Aggregation, inputs...)
		if err := agg.SetupBatch(); err != nil {
			return 0, err
		}
		e = entry{kind: entryDerivedSignal, derived: agg}

	case p.topo.IsNestedDomain(domain, native):
		// domain is finer than native: broadcast the single native value.
		nativeIdx, err := p.nativeIndexFor(native, domain, idx)
		if err != nil {
			return 0, err
		}
		bh, err := g.PushSignal(stripPrefix(name), native, nativeIdx)
		if err != nil {
			return 0, err
		}
		e = entry{kind: entryBackendSignal, backendIdx: backendIdx, backendH: bh}

	default:
		return 0, geopmerr.New(geopmerr.DomainMismatch, "push_signal", name)
	}

	h := Handle(len(p.entries))
	p.entries = append(p.entries, e)
	p.pushIndex[key] = h
	return h, nil
}

// PushControl registers interest in writing name at (domain, idx) and
// returns a federation handle, using the same domain-resolution rule as
// PushSignal except that a coarser-than-native request broadcasts the
// written value to every contained native instance rather than
// aggregating (there is no well-defined way to "aggregate" a write).
func (p *PlatformIO) PushControl(name string, domain topo.Domain, idx int) (Handle, error) {
	if p.started {
		return 0, geopmerr.New(geopmerr.PushAfterStart, "push_control", name)
	}
	key := pushKey{name: name, domain: domain, idx: idx}
	if h, ok := p.pushIndex[key]; ok {
		return h, nil
	}

	g, backendIdx, err := p.resolveControl(name)
	if err != nil {
		return 0, err
	}
	info, err := g.ControlInfo(stripPrefix(name))
	if err != nil {
		return 0, err
	}
	if !info.IsWritable() {
		return 0, geopmerr.New(geopmerr.NotWritable, "push_control", name)
	}
	native := info.Domain

	var bh iogroup.Handle
	switch {
	case native == domain:
		bh, err = g.PushControl(stripPrefix(name), domain, idx)
	case p.topo.IsNestedDomain(domain, native):
		var nativeIdx int
		nativeIdx, err = p.nativeIndexFor(native, domain, idx)
		if err == nil {
			bh, err = g.PushControl(stripPrefix(name), native, nativeIdx)
		}
	default:
		err = geopmerr.New(geopmerr.DomainMismatch, "push_control", name)
	}
	if err != nil {
		return 0, err
	}

	h := Handle(len(p.entries))
	p.entries = append(p.entries, entry{kind: entryBackendControl, backendIdx: backendIdx, backendH: bh})
	p.pushIndex[key] = h
	return h, nil
}

// nativeIndexFor maps outerIdx in domain (finer than native) up to the
// single native-domain index that contains it, used when a push targets a
// domain finer than a signal or control's native one.
func (p *PlatformIO) nativeIndexFor(native, domain topo.Domain, outerIdx int) (int, error) {
	return p.topo.ContainingIndex(domain, native, outerIdx)
}

// sampleFunc closes over a backend handle so it can be wrapped in a
// dsignal.Signal via dsignal.NewRaw.
func (p *PlatformIO) sampleFunc(backendIdx int, h iogroup.Handle) func() (float64, error) {
	return func() (float64, error) {
		return p.backends[backendIdx].Sample(h)
	}
}

// stripPrefix removes a leading "PREFIX::" qualifier so a backend always
// sees its own bare name, regardless of how the caller addressed it.
func stripPrefix(name string) string {
	for i := 0; i+1 < len(name); i++ {
		if name[i] == ':' && name[i+1] == ':' {
			return name[i+2:]
		}
	}
	return name
}
