// Package cpuinfo implements the CPUINFO backend: a handful of read-only,
// constant-behavior signals describing the CPU's nominal clocking, sourced
// once at construction from /proc/cpuinfo and the cpufreq sysfs tree
// rather than re-read on every batch.
package cpuinfo

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/geopm/geopmd/internal/geopmerr"
	"github.com/geopm/geopmd/internal/iogroup"
	"github.com/geopm/geopmd/internal/topo"
)

// Option configures a Group at construction time.
type Option func(*config)

type config struct {
	procCpuinfoPath string
	cpufreqRoot     string
}

// WithProcCpuinfoPath overrides the /proc/cpuinfo path; tests point this
// at a fixture file.
func WithProcCpuinfoPath(path string) Option {
	return func(c *config) { c.procCpuinfoPath = path }
}

// WithCpufreqRoot overrides the sysfs cpufreq root
// ("/sys/devices/system/cpu" in production).
func WithCpufreqRoot(root string) Option {
	return func(c *config) { c.cpufreqRoot = root }
}

// Group is the CPUINFO backend. Every signal is constant and read-only;
// there are no controls.
type Group struct {
	topo    *topo.Topology
	values  map[string][]float64 // name -> per-CPU constant value
	sigTable iogroup.PushTable
	entries  []entryRef
}

type entryRef struct {
	name string
	idx  int
}

// New probes /proc/cpuinfo and the cpufreq sysfs tree once, caching
// whatever constants it can find. Missing sources are tolerated: a signal
// whose source could not be read is simply absent from SignalNames.
func New(t *topo.Topology, opts ...Option) (*Group, error) {
	cfg := config{
		procCpuinfoPath: "/proc/cpuinfo",
		cpufreqRoot:     "/sys/devices/system/cpu",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	g := &Group{topo: t, values: make(map[string][]float64)}

	if sticker, err := readStickerFrequencies(cfg.procCpuinfoPath, t.NumDomain(topo.DomainCPU)); err == nil {
		g.values["FREQ_STICKER"] = sticker
	}
	if minFreq, err := readCpufreqBound(cfg.cpufreqRoot, t.NumDomain(topo.DomainCPU), "cpuinfo_min_freq"); err == nil {
		g.values["FREQ_MIN"] = minFreq
	}
	if maxFreq, err := readCpufreqBound(cfg.cpufreqRoot, t.NumDomain(topo.DomainCPU), "cpuinfo_max_freq"); err == nil {
		g.values["FREQ_MAX"] = maxFreq
	}

	return g, nil
}

func readStickerFrequencies(path string, numCPU int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, geopmerr.Wrap(geopmerr.Io, "cpuinfo.new", path, err)
	}
	defer f.Close()

	values := make([]float64, 0, numCPU)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "cpu MHz") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		mhz, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			continue
		}
		values = append(values, mhz*1e6)
	}
	if len(values) == 0 {
		return nil, geopmerr.New(geopmerr.MalformedConfig, "cpuinfo.new", path)
	}
	for len(values) < numCPU {
		values = append(values, values[len(values)-1])
	}
	return values[:numCPU], nil
}

func readCpufreqBound(root string, numCPU int, file string) ([]float64, error) {
	values := make([]float64, numCPU)
	for cpu := 0; cpu < numCPU; cpu++ {
		path := filepath.Join(root, "cpu"+strconv.Itoa(cpu), "cpufreq", file)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, geopmerr.Wrap(geopmerr.Io, "cpuinfo.new", path, err)
		}
		khz, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
		if err != nil {
			return nil, geopmerr.Wrap(geopmerr.MalformedConfig, "cpuinfo.new", path, err)
		}
		values[cpu] = khz * 1000
	}
	return values, nil
}

func (g *Group) Name() string { return "CPUINFO" }

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
		return iogroup.SignalInfo{}, geopmerr.New(geopmerr.UnknownName, "cpuinfo.signal_info", name)
	}
	return iogroup.SignalInfo{
		Name: name, Domain: topo.DomainCPU, Units: iogroup.UnitsHertz,
		Aggregation: iogroup.AggExpectSame, Format: iogroup.FormatDouble,
		Behavior: iogroup.BehaviorConstant, Description: "static CPU clocking constant from /proc/cpuinfo or cpufreq",
	}, nil
}

func (g *Group) ControlInfo(name string) (iogroup.ControlInfo, error) {
	return iogroup.ControlInfo{}, geopmerr.New(geopmerr.UnknownName, "cpuinfo.control_info", name)
}

func (g *Group) PushSignal(name string, domain topo.Domain, idx int) (iogroup.Handle, error) {
	values, ok := g.values[name]
	if !ok {
		return 0, geopmerr.New(geopmerr.UnknownName, "cpuinfo.push_signal", name)
	}
	if domain != topo.DomainCPU {
		return 0, geopmerr.New(geopmerr.DomainMismatch, "cpuinfo.push_signal", name)
	}
	if idx < 0 || idx >= len(values) {
		return 0, geopmerr.New(geopmerr.DomainIndexOutOfRange, "cpuinfo.push_signal", name)
	}
	h, err := g.sigTable.Push("cpuinfo.push_signal", name, int(domain), idx)
	if err != nil {
		return 0, err
	}
	if int(h) == len(g.entries) {
		g.entries = append(g.entries, entryRef{name: name, idx: idx})
	}
	return h, nil
}

func (g *Group) PushControl(name string, _ topo.Domain, _ int) (iogroup.Handle, error) {
	return 0, geopmerr.New(geopmerr.NotWritable, "cpuinfo.push_control", name)
}

// ReadBatch is a no-op: every value is constant and was already cached by
// New.
func (g *Group) ReadBatch() error {
	g.sigTable.Start()
	return nil
}

func (g *Group) Sample(h iogroup.Handle) (float64, error) {
	if err := g.sigTable.CheckReady("cpuinfo.sample", h); err != nil {
		return 0, err
	}
	if int(h) < 0 || int(h) >= len(g.entries) {
		return 0, geopmerr.New(geopmerr.Logic, "cpuinfo.sample", "")
	}
	ref := g.entries[h]
	return g.values[ref.name][ref.idx], nil
}

func (g *Group) Adjust(iogroup.Handle, float64) error {
	return geopmerr.New(geopmerr.NotWritable, "cpuinfo.adjust", "")
}

func (g *Group) WriteBatch() error { return nil }

func (g *Group) ReadSignal(name string, domain topo.Domain, idx int) (float64, error) {
	values, ok := g.values[name]
	if !ok {
		return 0, geopmerr.New(geopmerr.UnknownName, "cpuinfo.read_signal", name)
	}
	if domain != topo.DomainCPU || idx < 0 || idx >= len(values) {
		return 0, geopmerr.New(geopmerr.DomainIndexOutOfRange, "cpuinfo.read_signal", name)
	}
	return values[idx], nil
}

func (g *Group) WriteControl(name string, _ topo.Domain, _ int, _ float64) error {
	return geopmerr.New(geopmerr.NotWritable, "cpuinfo.write_control", name)
}

func (g *Group) SaveControl(string) error    { return nil }
func (g *Group) RestoreControl(string) error { return nil }
