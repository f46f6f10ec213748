package saverestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/geopm/geopmd/internal/iogroup"
	"github.com/geopm/geopmd/internal/platformio"
	"github.com/geopm/geopmd/internal/topo"
)

type fakeControlBackend struct {
	iogroup.PushTable
	values map[string]float64
}

func newFakeControlBackend() *fakeControlBackend {
	return &fakeControlBackend{values: make(map[string]float64)}
}

func (b *fakeControlBackend) Name() string { return "FAKE" }
func (b *fakeControlBackend) SignalNames() []string  { return []string{"FREQ"} }
func (b *fakeControlBackend) ControlNames() []string { return []string{"FREQ"} }
func (b *fakeControlBackend) IsValidSignal(n string) bool  { return n == "FREQ" }
func (b *fakeControlBackend) IsValidControl(n string) bool { return n == "FREQ" }

func (b *fakeControlBackend) SignalInfo(name string) (iogroup.SignalInfo, error) {
	return iogroup.SignalInfo{Name: "FREQ", Domain: topo.DomainBoard}, nil
}
func (b *fakeControlBackend) ControlInfo(name string) (iogroup.ControlInfo, error) {
	return iogroup.ControlInfo{Name: "FREQ", Domain: topo.DomainBoard}, nil
}
func (b *fakeControlBackend) PushSignal(name string, domain topo.Domain, idx int) (iogroup.Handle, error) {
	return b.Push("push_signal", name, int(domain), idx)
}
func (b *fakeControlBackend) PushControl(name string, domain topo.Domain, idx int) (iogroup.Handle, error) {
	return b.Push("push_control", name, int(domain), idx)
}
func (b *fakeControlBackend) ReadBatch() error { b.Start(); return nil }
func (b *fakeControlBackend) Sample(h iogroup.Handle) (float64, error) {
	if err := b.CheckReady("sample", h); err != nil {
		return 0, err
	}
	name, domain, idx, _ := b.Key(h)
	return b.values[key(name, domain, idx)], nil
}
func (b *fakeControlBackend) Adjust(iogroup.Handle, float64) error { return nil }
func (b *fakeControlBackend) WriteBatch() error                   { return nil }
func (b *fakeControlBackend) ReadSignal(name string, domain topo.Domain, idx int) (float64, error) {
	return b.values[key(name, int(domain), idx)], nil
}
func (b *fakeControlBackend) WriteControl(name string, domain topo.Domain, idx int, value float64) error {
	b.values[key(name, int(domain), idx)] = value
	return nil
}
func (b *fakeControlBackend) SaveControl(string) error    { return nil }
func (b *fakeControlBackend) RestoreControl(string) error { return nil }

// key is a test-only flattening of a control's identity; every fixture
// here uses exactly one (domain, idx) per name, so the name alone suffices.
func key(name string, _, _ int) string {
	return name
}

func fakeTopo(t *testing.T) *topo.Topology {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "cpu0", "topology")
	os.MkdirAll(dir, 0o755)
	os.WriteFile(filepath.Join(dir, "physical_package_id"), []byte("0\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "core_id"), []byte("0\n"), 0o644)
	tp, err := topo.New(topo.WithSysRoot(root))
	if err != nil {
		t.Fatalf("topo.New: %v", err)
	}
	return tp
}

func TestWriteEnrollsOriginalValueOnce(t *testing.T) {
	tp := fakeTopo(t)
	backend := newFakeControlBackend()
	backend.values["FREQ"] = 1.0e9
	pio := platformio.New(tp, func() float64 { return 0 })
	pio.Register(backend)

	path := filepath.Join(t.TempDir(), "save.json")
	ctx := NewContext(pio, path)

	if err := ctx.Write("FREQ", topo.DomainBoard, 0, 2.0e9); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := ctx.Write("FREQ", topo.DomainBoard, 0, 3.0e9); err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if got := backend.values["FREQ"]; got != 3.0e9 {
		t.Errorf("backend value = %v, want 3.0e9 (latest write)", got)
	}
	if len(ctx.order) != 1 {
		t.Errorf("enrolled %d entries, want 1 (idempotent on repeated write)", len(ctx.order))
	}
	if ctx.enrolled[entryKey("FREQ", topo.DomainBoard, 0)].Raw != 1.0e9 {
		t.Errorf("enrolled raw value = %v, want the pre-session value 1.0e9", ctx.enrolled[entryKey("FREQ", topo.DomainBoard, 0)].Raw)
	}
}

func TestWritePersistsSnapshotToDisk(t *testing.T) {
	tp := fakeTopo(t)
	backend := newFakeControlBackend()
	backend.values["FREQ"] = 1.0e9
	pio := platformio.New(tp, func() float64 { return 0 })
	pio.Register(backend)

	path := filepath.Join(t.TempDir(), "save.json")
	ctx := NewContext(pio, path)
	if err := ctx.Write("FREQ", topo.DomainBoard, 0, 2.0e9); err != nil {
		t.Fatalf("Write: %v", err)
	}

	session, entries, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if session != ctx.ID().String() {
		t.Errorf("loaded session = %q, want %q", session, ctx.ID().String())
	}
	if len(entries) != 1 || entries[0].Raw != 1.0e9 {
		t.Errorf("loaded entries = %+v, want one entry with raw 1.0e9", entries)
	}
}

func TestRestoreReplaysAndClearsDisk(t *testing.T) {
	tp := fakeTopo(t)
	backend := newFakeControlBackend()
	backend.values["FREQ"] = 1.0e9
	pio := platformio.New(tp, func() float64 { return 0 })
	pio.Register(backend)

	path := filepath.Join(t.TempDir(), "save.json")
	ctx := NewContext(pio, path)
	ctx.Write("FREQ", topo.DomainBoard, 0, 9.0e9)

	if err := ctx.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := backend.values["FREQ"]; got != 1.0e9 {
		t.Errorf("value after Restore = %v, want 1.0e9", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("snapshot file should be removed after Restore, stat err = %v", err)
	}
}

func TestCloseWithoutRestoreLeavesSnapshotOnDisk(t *testing.T) {
	tp := fakeTopo(t)
	backend := newFakeControlBackend()
	backend.values["FREQ"] = 1.0e9
	pio := platformio.New(tp, func() float64 { return 0 })
	pio.Register(backend)

	path := filepath.Join(t.TempDir(), "save.json")
	ctx := NewContext(pio, path)
	ctx.Write("FREQ", topo.DomainBoard, 0, 9.0e9)
	if err := ctx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("snapshot file should remain on disk after Close without Restore: %v", err)
	}
}
