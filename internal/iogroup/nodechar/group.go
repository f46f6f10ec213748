// Package nodechar implements the NODE_CHARACTERIZATION backend: a set of
// constant, board-domain signals describing per-node physical limits
// (package TDP, memory bandwidth ceiling, ...) that don't come from any
// register or sysfs file, only from a characterization file produced once
// per node by an offline calibration step.
package nodechar

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/geopm/geopmd/internal/geopmerr"
	"github.com/geopm/geopmd/internal/iogroup"
	"github.com/geopm/geopmd/internal/topo"
)

// characterizationFile is the on-disk schema: a flat name -> value map,
// every entry a board-domain constant.
type characterizationFile struct {
	Values map[string]float64 `json:"values"`
}

// Group is the NODE_CHARACTERIZATION backend.
type Group struct {
	values   map[string]float64
	sigTable iogroup.PushTable
	entries  []string
}

// New loads path, a JSON characterization file. A missing file yields an
// empty, valid Group (no signals published) rather than an error, since
// node characterization is optional calibration data.
func New(path string) (*Group, error) {
	g := &Group{values: make(map[string]float64)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return g, nil
	}
	if err != nil {
		return nil, geopmerr.Wrap(geopmerr.Io, "nodechar.new", path, err)
	}
	var doc characterizationFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, geopmerr.Wrap(geopmerr.MalformedConfig, "nodechar.new", path, err)
	}
	g.values = doc.Values
	if g.values == nil {
		g.values = make(map[string]float64)
	}
	return g, nil
}

func (g *Group) Name() string { return "NODE_CHARACTERIZATION" }

func (g *Group) SignalNames() []string {
	names := make([]string, 0, len(g.values))
	for name := range g.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (g *Group) ControlNames() []string { return nil }

func (g *Group) IsValidSignal(name string) bool {
	_, ok := g.values[name]
	return ok
}

func (g *Group) IsValidControl(string) bool { return false }

func (g *Group) SignalInfo(name string) (iogroup.SignalInfo, error) {
	if _, ok := g.values[name]; !ok {
		return iogroup.SignalInfo{}, geopmerr.New(geopmerr.UnknownName, "nodechar.signal_info", name)
	}
	return iogroup.SignalInfo{
		Name: name, Domain: topo.DomainBoard, Units: iogroup.UnitsNone,
		Aggregation: iogroup.AggExpectSame, Format: iogroup.FormatDouble,
		Behavior: iogroup.BehaviorConstant, Description: "offline node characterization constant",
	}, nil
}

func (g *Group) ControlInfo(name string) (iogroup.ControlInfo, error) {
	return iogroup.ControlInfo{}, geopmerr.New(geopmerr.UnknownName, "nodechar.control_info", name)
}

func (g *Group) PushSignal(name string, domain topo.Domain, idx int) (iogroup.Handle, error) {
	if _, ok := g.values[name]; !ok {
		return 0, geopmerr.New(geopmerr.UnknownName, "nodechar.push_signal", name)
	}
	if domain != topo.DomainBoard || idx != 0 {
		return 0, geopmerr.New(geopmerr.DomainMismatch, "nodechar.push_signal", name)
	}
	h, err := g.sigTable.Push("nodechar.push_signal", name, int(domain), idx)
	if err != nil {
		return 0, err
	}
	if int(h) == len(g.entries) {
		g.entries = append(g.entries, name)
	}
	return h, nil
}

func (g *Group) PushControl(name string, _ topo.Domain, _ int) (iogroup.Handle, error) {
	return 0, geopmerr.New(geopmerr.NotWritable, "nodechar.push_control", name)
}

func (g *Group) ReadBatch() error {
	g.sigTable.Start()
	return nil
}

func (g *Group) Sample(h iogroup.Handle) (float64, error) {
	if err := g.sigTable.CheckReady("nodechar.sample", h); err != nil {
		return 0, err
	}
	if int(h) < 0 || int(h) >= len(g.entries) {
		return 0, geopmerr.New(geopmerr.Logic, "nodechar.sample", "")
	}
	return g.values[g.entries[h]], nil
}

func (g *Group) Adjust(iogroup.Handle, float64) error {
	return geopmerr.New(geopmerr.NotWritable, "nodechar.adjust", "")
}

func (g *Group) WriteBatch() error { return nil }

func (g *Group) ReadSignal(name string, domain topo.Domain, idx int) (float64, error) {
	v, ok := g.values[name]
	if !ok {
		return 0, geopmerr.New(geopmerr.UnknownName, "nodechar.read_signal", name)
	}
	if domain != topo.DomainBoard || idx != 0 {
		return 0, geopmerr.New(geopmerr.DomainMismatch, "nodechar.read_signal", name)
	}
	return v, nil
}

func (g *Group) WriteControl(name string, _ topo.Domain, _ int, _ float64) error {
	return geopmerr.New(geopmerr.NotWritable, "nodechar.write_control", name)
}

func (g *Group) SaveControl(string) error    { return nil }
func (g *Group) RestoreControl(string) error { return nil }
