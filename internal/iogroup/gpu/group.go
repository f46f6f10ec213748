// Package gpu implements the GPU backend: a signal/control surface over
// internal/gputopo's DevicePool abstraction. One Group implementation
// serves all three of the spec's GPU backend variants — vendor-neutral,
// NVML, and LevelZero — distinguished only by which Topo/DevicePool pair
// New is constructed with; the signal and control surface, encoding, and
// batching behavior are identical across vendors.
package gpu

import (
	"math"
	"sort"

	"github.com/geopm/geopmd/internal/geopmerr"
	"github.com/geopm/geopmd/internal/gputopo"
	"github.com/geopm/geopmd/internal/iogroup"
	"github.com/geopm/geopmd/internal/topo"
)

type signalKind int

const (
	sigFrequencyStatusSM signalKind = iota
	sigFrequencyStatusMem
	sigUtilization
	sigUtilizationMem
	sigPower
	sigPowerLimit
	sigTemperature
	sigEnergy
	sigPerformanceState
)

type signalDesc struct {
	name string
	kind signalKind
	info iogroup.SignalInfo
}

type controlKind int

const (
	ctrlFrequencySM controlKind = iota
	ctrlPower
)

type controlDesc struct {
	name string
	kind controlKind
	info iogroup.ControlInfo
}

func signalTable() []signalDesc {
	mk := func(name string, units iogroup.Units, behavior iogroup.Behavior, desc string) iogroup.SignalInfo {
		return iogroup.SignalInfo{Name: name, Domain: topo.DomainGPU, Units: units,
			Aggregation: iogroup.AggAverage, Format: iogroup.FormatDouble, Behavior: behavior, Description: desc}
	}
	return []signalDesc{
		{"GPU_FREQUENCY_STATUS_SM", sigFrequencyStatusSM, mk("GPU_FREQUENCY_STATUS_SM", iogroup.UnitsHertz, iogroup.BehaviorVariable, "streaming multiprocessor clock frequency")},
		{"GPU_FREQUENCY_STATUS_MEM", sigFrequencyStatusMem, mk("GPU_FREQUENCY_STATUS_MEM", iogroup.UnitsHertz, iogroup.BehaviorVariable, "memory clock frequency")},
		{"GPU_UTILIZATION", sigUtilization, mk("GPU_UTILIZATION", iogroup.UnitsNone, iogroup.BehaviorVariable, "compute utilization, percent")},
		{"GPU_UTILIZATION_MEM", sigUtilizationMem, mk("GPU_UTILIZATION_MEM", iogroup.UnitsNone, iogroup.BehaviorVariable, "memory bandwidth utilization, percent")},
		{"GPU_POWER", sigPower, mk("GPU_POWER", iogroup.UnitsWatts, iogroup.BehaviorVariable, "instantaneous power draw")},
		{"GPU_POWER_LIMIT", sigPowerLimit, mk("GPU_POWER_LIMIT", iogroup.UnitsWatts, iogroup.BehaviorVariable, "configured power limit")},
		{"GPU_TEMPERATURE", sigTemperature, mk("GPU_TEMPERATURE", iogroup.UnitsCelsius, iogroup.BehaviorVariable, "die temperature")},
		{"GPU_ENERGY", sigEnergy, mk("GPU_ENERGY", iogroup.UnitsJoules, iogroup.BehaviorMonotone, "cumulative energy counter")},
		{"GPU_PERFORMANCE_STATE", sigPerformanceState, mk("GPU_PERFORMANCE_STATE", iogroup.UnitsNone, iogroup.BehaviorVariable, "vendor performance state index")},
	}
}

func controlTable() []controlDesc {
	mk := func(name string, units iogroup.Units) iogroup.ControlInfo {
		return iogroup.ControlInfo{Name: name, Domain: topo.DomainGPU, Units: units,
			Format: iogroup.FormatDouble, Behavior: iogroup.BehaviorVariable}
	}
	return []controlDesc{
		{"GPU_FREQUENCY_CONTROL_SM", ctrlFrequencySM, mk("GPU_FREQUENCY_CONTROL_SM", iogroup.UnitsHertz)},
		{"GPU_POWER_CONTROL", ctrlPower, mk("GPU_POWER_CONTROL", iogroup.UnitsWatts)},
	}
}

type pushedSignal struct {
	desc signalDesc
	idx  int
}

type pushedControl struct {
	desc controlDesc
	idx  int
}

// Group is the GPU backend.
type Group struct {
	name   string
	topo   gputopo.Topo
	pool   gputopo.DevicePool
	numGPU int

	signals  map[string]signalDesc
	controls map[string]controlDesc

	sigTable  iogroup.PushTable
	ctrlTable iogroup.PushTable

	pushedSignals  []pushedSignal
	pushedControls []pushedControl
	sampleValues   []float64
	adjustedValues []float64
}

// New builds a Group over t and pool. name becomes the IOGroup's Name()
// (e.g. "GPU", or "GPU_" plus the vendor gputopo.Select reported, as
// config.Build passes: "GPU_NVML", "GPU_LEVELZERO", "GPU_ACCEL",
// "GPU_DRM"); pass a nil pool for a
// topology-only, signal-and-control-free vendor-neutral instance (the
// case where only /sys/class/drm enumeration succeeded).
func New(name string, t gputopo.Topo, pool gputopo.DevicePool) (*Group, error) {
	n, err := t.NumGPU(topo.DomainGPU)
	if err != nil {
		return nil, err
	}
	g := &Group{
		name: name, topo: t, pool: pool, numGPU: n,
		signals:  make(map[string]signalDesc),
		controls: make(map[string]controlDesc),
	}
	if pool != nil {
		for _, s := range signalTable() {
			g.signals[s.name] = s
		}
		for _, c := range controlTable() {
			g.controls[c.name] = c
		}
	}
	return g, nil
}

func (g *Group) Name() string { return g.name }

func (g *Group) SignalNames() []string {
	names := make([]string, 0, len(g.signals))
	for n := range g.signals {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (g *Group) ControlNames() []string {
	names := make([]string, 0, len(g.controls))
	for n := range g.controls {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (g *Group) IsValidSignal(name string) bool {
	_, ok := g.signals[name]
	return ok
}

func (g *Group) IsValidControl(name string) bool {
	_, ok := g.controls[name]
	return ok
}

func (g *Group) SignalInfo(name string) (iogroup.SignalInfo, error) {
	s, ok := g.signals[name]
	if !ok {
		return iogroup.SignalInfo{}, geopmerr.New(geopmerr.UnknownName, "gpu.signal_info", name)
	}
	return s.info, nil
}

func (g *Group) ControlInfo(name string) (iogroup.ControlInfo, error) {
	c, ok := g.controls[name]
	if !ok {
		return iogroup.ControlInfo{}, geopmerr.New(geopmerr.UnknownName, "gpu.control_info", name)
	}
	return c.info, nil
}

func (g *Group) validateIdx(domain topo.Domain, idx int) error {
	if domain != topo.DomainGPU {
		return geopmerr.New(geopmerr.DomainMismatch, "gpu.push", domain.String())
	}
	if idx < 0 || idx >= g.numGPU {
		return geopmerr.New(geopmerr.DomainIndexOutOfRange, "gpu.push", "")
	}
	return nil
}

func (g *Group) PushSignal(name string, domain topo.Domain, idx int) (iogroup.Handle, error) {
	desc, ok := g.signals[name]
	if !ok {
		return 0, geopmerr.New(geopmerr.UnknownName, "gpu.push_signal", name)
	}
	if err := g.validateIdx(domain, idx); err != nil {
		return 0, err
	}
	h, err := g.sigTable.Push("gpu.push_signal", name, int(domain), idx)
	if err != nil {
		return 0, err
	}
	if int(h) == len(g.pushedSignals) {
		g.pushedSignals = append(g.pushedSignals, pushedSignal{desc: desc, idx: idx})
		g.sampleValues = append(g.sampleValues, 0)
	}
	return h, nil
}

func (g *Group) PushControl(name string, domain topo.Domain, idx int) (iogroup.Handle, error) {
	desc, ok := g.controls[name]
	if !ok {
		return 0, geopmerr.New(geopmerr.UnknownName, "gpu.push_control", name)
	}
	if err := g.validateIdx(domain, idx); err != nil {
		return 0, err
	}
	h, err := g.ctrlTable.Push("gpu.push_control", name, int(domain), idx)
	if err != nil {
		return 0, err
	}
	if int(h) == len(g.pushedControls) {
		g.pushedControls = append(g.pushedControls, pushedControl{desc: desc, idx: idx})
		g.adjustedValues = append(g.adjustedValues, math.NaN())
	}
	return h, nil
}

func (g *Group) readOne(kind signalKind, idx int) (float64, error) {
	switch kind {
	case sigFrequencyStatusSM:
		v, err := g.pool.FrequencyStatusSM(idx)
		return float64(v) * 1e6, err // MHz -> Hz
	case sigFrequencyStatusMem:
		v, err := g.pool.FrequencyStatusMem(idx)
		return float64(v) * 1e6, err
	case sigUtilization:
		v, err := g.pool.Utilization(idx)
		return float64(v), err
	case sigUtilizationMem:
		v, err := g.pool.UtilizationMem(idx)
		return float64(v), err
	case sigPower:
		v, err := g.pool.Power(idx)
		return float64(v) / 1000.0, err // mW -> W
	case sigPowerLimit:
		v, err := g.pool.PowerLimit(idx)
		return float64(v) / 1000.0, err
	case sigTemperature:
		v, err := g.pool.Temperature(idx)
		return float64(v), err
	case sigEnergy:
		v, err := g.pool.Energy(idx)
		return float64(v) / 1e6, err // µJ -> J
	case sigPerformanceState:
		v, err := g.pool.PerformanceState(idx)
		return float64(v), err
	default:
		return 0, geopmerr.New(geopmerr.Logic, "gpu.read_one", "")
	}
}

// ReadBatch polls every pushed signal's current value from the device
// pool. Vendor device-pool calls are not file-descriptor operations, so
// unlike the MSR and sysfs backends there is no internal/ioqueue
// batching to do here: each call is already a single round trip to the
// vendor library.
func (g *Group) ReadBatch() error {
	g.sigTable.Start()
	g.ctrlTable.Start()
	for i, p := range g.pushedSignals {
		v, err := g.readOne(p.desc.kind, p.idx)
		if err != nil {
			return err
		}
		g.sampleValues[i] = v
	}
	return nil
}

func (g *Group) Sample(h iogroup.Handle) (float64, error) {
	if err := g.sigTable.CheckReady("gpu.sample", h); err != nil {
		return 0, err
	}
	return g.sampleValues[h], nil
}

func (g *Group) Adjust(h iogroup.Handle, value float64) error {
	if int(h) < 0 || int(h) >= len(g.adjustedValues) {
		return geopmerr.New(geopmerr.Logic, "gpu.adjust", "")
	}
	g.adjustedValues[h] = value
	return nil
}

func (g *Group) writeOne(kind controlKind, idx int, value float64) error {
	switch kind {
	case ctrlFrequencySM:
		mhz := int(value / 1e6)
		return g.pool.FrequencyControlSM(idx, mhz, mhz)
	case ctrlPower:
		return g.pool.PowerControl(idx, int(value*1000.0))
	default:
		return geopmerr.New(geopmerr.Logic, "gpu.write_one", "")
	}
}

// WriteBatch fails with geopmerr.UnsetControl if any pushed control has
// never been adjusted, the same contract the service backend enforces,
// since vendor control calls carry no "leave unchanged" sentinel either.
func (g *Group) WriteBatch() error {
	g.sigTable.Start()
	g.ctrlTable.Start()
	for i, p := range g.pushedControls {
		v := g.adjustedValues[i]
		if math.IsNaN(v) {
			return geopmerr.New(geopmerr.UnsetControl, "gpu.write_batch", "")
		}
		if err := g.writeOne(p.desc.kind, p.idx, v); err != nil {
			return err
		}
	}
	return nil
}

func (g *Group) ReadSignal(name string, domain topo.Domain, idx int) (float64, error) {
	desc, ok := g.signals[name]
	if !ok {
		return 0, geopmerr.New(geopmerr.UnknownName, "gpu.read_signal", name)
	}
	if err := g.validateIdx(domain, idx); err != nil {
		return 0, err
	}
	return g.readOne(desc.kind, idx)
}

func (g *Group) WriteControl(name string, domain topo.Domain, idx int, value float64) error {
	desc, ok := g.controls[name]
	if !ok {
		return geopmerr.New(geopmerr.UnknownName, "gpu.write_control", name)
	}
	if err := g.validateIdx(domain, idx); err != nil {
		return err
	}
	return g.writeOne(desc.kind, idx, value)
}

// SaveControl and RestoreControl are unsupported: the vendor device pools
// this backend wraps expose no query for "the control value currently in
// effect" distinct from a fresh read, and no vendor API guarantees a
// save/restore round trip preserves driver-internal state bit-for-bit.
func (g *Group) SaveControl(path string) error {
	return geopmerr.New(geopmerr.Unsupported, "gpu.save_control", path)
}

func (g *Group) RestoreControl(path string) error {
	return geopmerr.New(geopmerr.Unsupported, "gpu.restore_control", path)
}
