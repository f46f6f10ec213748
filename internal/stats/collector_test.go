package stats

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/geopm/geopmd/internal/geopmerr"
	"github.com/geopm/geopmd/internal/iogroup"
	"github.com/geopm/geopmd/internal/platformio"
	"github.com/geopm/geopmd/internal/topo"
)

// testBackend is a minimal IOGroup exercising just enough of the contract
// for Collector to push a board-domain signal and sample fixed values.
type testBackend struct {
	iogroup.PushTable
	value float64
}

func (b *testBackend) Name() string           { return "TEST" }
func (b *testBackend) SignalNames() []string  { return []string{"POWER"} }
func (b *testBackend) ControlNames() []string { return nil }
func (b *testBackend) IsValidSignal(n string) bool  { return n == "POWER" }
func (b *testBackend) IsValidControl(string) bool   { return false }

func (b *testBackend) SignalInfo(name string) (iogroup.SignalInfo, error) {
	if name != "POWER" {
		return iogroup.SignalInfo{}, geopmerr.New(geopmerr.UnknownName, "signal_info", name)
	}
	return iogroup.SignalInfo{Name: "POWER", Domain: topo.DomainBoard, Aggregation: iogroup.AggSum}, nil
}
func (b *testBackend) ControlInfo(name string) (iogroup.ControlInfo, error) {
	return iogroup.ControlInfo{}, geopmerr.New(geopmerr.UnknownName, "control_info", name)
}

func (b *testBackend) PushSignal(name string, domain topo.Domain, idx int) (iogroup.Handle, error) {
	return b.Push("push_signal", name, int(domain), idx)
}
func (b *testBackend) PushControl(name string, domain topo.Domain, idx int) (iogroup.Handle, error) {
	return 0, geopmerr.New(geopmerr.UnknownName, "push_control", name)
}

func (b *testBackend) ReadBatch() error { b.Start(); return nil }
func (b *testBackend) Sample(h iogroup.Handle) (float64, error) {
	if err := b.CheckReady("sample", h); err != nil {
		return 0, err
	}
	return b.value, nil
}
func (b *testBackend) Adjust(iogroup.Handle, float64) error { return nil }
func (b *testBackend) WriteBatch() error                    { return nil }
func (b *testBackend) ReadSignal(name string, domain topo.Domain, idx int) (float64, error) {
	return b.value, nil
}
func (b *testBackend) WriteControl(string, topo.Domain, int, float64) error { return nil }
func (b *testBackend) SaveControl(string) error                            { return nil }
func (b *testBackend) RestoreControl(string) error                         { return nil }

func fakeTopo(t *testing.T) *topo.Topology {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "cpu0", "topology")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "physical_package_id"), []byte("0\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "core_id"), []byte("0\n"), 0o644)
	tp, err := topo.New(topo.WithSysRoot(root))
	if err != nil {
		t.Fatalf("topo.New: %v", err)
	}
	return tp
}

func TestCollectorUpdateAndReport(t *testing.T) {
	tp := fakeTopo(t)
	backend := &testBackend{value: 100}
	pio := platformio.New(tp, func() float64 { return 0 })
	pio.Register(backend)

	c, err := NewCollector(pio, []Request{{Name: "POWER", Domain: topo.DomainBoard, DomainIdx: 0}})
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	pio.ReadBatch()
	backend.value = 100
	if err := c.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	backend.value = 200
	if err := c.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	report, err := c.ReportYAML()
	if err != nil {
		t.Fatalf("ReportYAML: %v", err)
	}
	if !strings.Contains(report, "hosts:") || !strings.Contains(report, "POWER:") {
		t.Errorf("report missing expected sections:\n%s", report)
	}
	if !strings.Contains(report, "count: 2") {
		t.Errorf("report missing count: 2:\n%s", report)
	}
}

func TestCollectorMetricNameIsBareForBoardZero(t *testing.T) {
	tp := fakeTopo(t)
	backend := &testBackend{value: 1}
	pio := platformio.New(tp, func() float64 { return 0 })
	pio.Register(backend)

	c, err := NewCollector(pio, []Request{{Name: "POWER", Domain: topo.DomainBoard, DomainIdx: 0}})
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	name, _ := c.stats.MetricName(0)
	if name != "POWER" {
		t.Errorf("board/0 metric name = %q, want bare %q", name, "POWER")
	}
}
