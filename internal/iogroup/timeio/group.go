// Package timeio implements the TIME backend: a single monotone,
// board-domain signal giving elapsed wall-clock seconds since the backend
// was constructed.
package timeio

import (
	"time"

	"github.com/geopm/geopmd/internal/geopmerr"
	"github.com/geopm/geopmd/internal/iogroup"
	"github.com/geopm/geopmd/internal/topo"
)

const signalName = "ELAPSED"

// nowFunc is overridden in tests to produce deterministic elapsed values.
type nowFunc func() time.Time

// Group is the TIME backend.
type Group struct {
	start    time.Time
	now      nowFunc
	sigTable iogroup.PushTable
	sample   float64
}

// New returns a Group whose epoch is the moment of construction.
func New() *Group {
	return newWithClock(time.Now)
}

func newWithClock(now nowFunc) *Group {
	return &Group{start: now(), now: now}
}

func (g *Group) Name() string { return "TIME" }

func (g *Group) SignalNames() []string { return []string{signalName} }
func (g *Group) ControlNames() []string { return nil }

func (g *Group) IsValidSignal(name string) bool { return name == signalName }
func (g *Group) IsValidControl(string) bool      { return false }

func (g *Group) SignalInfo(name string) (iogroup.SignalInfo, error) {
	if name != signalName {
		return iogroup.SignalInfo{}, geopmerr.New(geopmerr.UnknownName, "timeio.signal_info", name)
	}
	return iogroup.SignalInfo{
		Name: name, Domain: topo.DomainBoard, Units: iogroup.UnitsSeconds,
		Aggregation: iogroup.AggSelectFirst, Format: iogroup.FormatDouble,
		Behavior: iogroup.BehaviorMonotone, Description: "elapsed seconds since the backend was constructed",
	}, nil
}

func (g *Group) ControlInfo(name string) (iogroup.ControlInfo, error) {
	return iogroup.ControlInfo{}, geopmerr.New(geopmerr.UnknownName, "timeio.control_info", name)
}

func (g *Group) PushSignal(name string, domain topo.Domain, idx int) (iogroup.Handle, error) {
	if name != signalName {
		return 0, geopmerr.New(geopmerr.UnknownName, "timeio.push_signal", name)
	}
	if domain != topo.DomainBoard || idx != 0 {
		return 0, geopmerr.New(geopmerr.DomainMismatch, "timeio.push_signal", name)
	}
	return g.sigTable.Push("timeio.push_signal", name, int(domain), idx)
}

func (g *Group) PushControl(name string, _ topo.Domain, _ int) (iogroup.Handle, error) {
	return 0, geopmerr.New(geopmerr.NotWritable, "timeio.push_control", name)
}

// ReadBatch captures one fresh elapsed-time reading, shared by every
// pushed handle (there is only ever one distinct signal).
func (g *Group) ReadBatch() error {
	g.sigTable.Start()
	g.sample = g.now().Sub(g.start).Seconds()
	return nil
}

func (g *Group) Sample(h iogroup.Handle) (float64, error) {
	if err := g.sigTable.CheckReady("timeio.sample", h); err != nil {
		return 0, err
	}
	return g.sample, nil
}

func (g *Group) Adjust(iogroup.Handle, float64) error {
	return geopmerr.New(geopmerr.NotWritable, "timeio.adjust", "")
}

func (g *Group) WriteBatch() error { return nil }

func (g *Group) ReadSignal(name string, domain topo.Domain, idx int) (float64, error) {
	if name != signalName {
		return 0, geopmerr.New(geopmerr.UnknownName, "timeio.read_signal", name)
	}
	if domain != topo.DomainBoard || idx != 0 {
		return 0, geopmerr.New(geopmerr.DomainMismatch, "timeio.read_signal", name)
	}
	return g.now().Sub(g.start).Seconds(), nil
}

func (g *Group) WriteControl(name string, _ topo.Domain, _ int, _ float64) error {
	return geopmerr.New(geopmerr.NotWritable, "timeio.write_control", name)
}

func (g *Group) SaveControl(string) error    { return nil }
func (g *Group) RestoreControl(string) error { return nil }
