package msr

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/geopm/geopmd/internal/iogroup"
	"github.com/geopm/geopmd/internal/topo"
)

// fakeTopology builds a minimal /sys/devices/system/cpu tree with
// numPackage packages, one core and one CPU each (no hyperthreading), the
// smallest shape that still exercises CPU vs package domain binding.
func fakeTopology(t *testing.T, numPackage int) *topo.Topology {
	t.Helper()
	root := t.TempDir()
	for pkg := 0; pkg < numPackage; pkg++ {
		dir := filepath.Join(root, "cpu"+strconv.Itoa(pkg), "topology")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "physical_package_id"), []byte(strconv.Itoa(pkg)+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "core_id"), []byte("0\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	tp, err := topo.New(topo.WithSysRoot(root))
	if err != nil {
		t.Fatalf("topo.New: %v", err)
	}
	return tp
}

// fakeDevRoot creates one zero-filled regular file per CPU at
// "<root>/<cpu>/msr", standing in for /dev/cpu/N/msr.
func fakeDevRoot(t *testing.T, numCPU int) string {
	t.Helper()
	root := t.TempDir()
	for cpu := 0; cpu < numCPU; cpu++ {
		dir := filepath.Join(root, strconv.Itoa(cpu))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		path := filepath.Join(dir, "msr")
		if err := os.WriteFile(path, make([]byte, 8192), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func pokeRegister(t *testing.T, devRoot string, cpu int, offset uint64, value uint64) {
	t.Helper()
	path := filepath.Join(devRoot, strconv.Itoa(cpu), "msr")
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	if _, err := f.WriteAt(buf, int64(offset)); err != nil {
		t.Fatal(err)
	}
}

func readRegisterRaw(t *testing.T, devRoot string, cpu int, offset uint64) uint64 {
	t.Helper()
	path := filepath.Join(devRoot, strconv.Itoa(cpu), "msr")
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	buf := make([]byte, 8)
	if _, err := f.ReadAt(buf, int64(offset)); err != nil {
		t.Fatal(err)
	}
	return binary.LittleEndian.Uint64(buf)
}

func TestGroupReadScalarFrequency(t *testing.T) {
	tp := fakeTopology(t, 1)
	devRoot := fakeDevRoot(t, tp.NumDomain(topo.DomainCPU))
	pokeRegister(t, devRoot, 0, 0x198, uint64(20)<<8)

	g, err := New(tp, WithDevRoot(devRoot))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	h, err := g.PushSignal("PERF_STATUS:FREQ", topo.DomainCPU, 0)
	if err != nil {
		t.Fatalf("PushSignal: %v", err)
	}
	if err := g.ReadBatch(); err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	got, err := g.Sample(h)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if want := 20 * 1.0e8; got != want {
		t.Errorf("Sample = %v, want %v", got, want)
	}
}

func TestGroupEnergyCounterScaled(t *testing.T) {
	tp := fakeTopology(t, 1)
	devRoot := fakeDevRoot(t, tp.NumDomain(topo.DomainCPU))
	pokeRegister(t, devRoot, 0, 0x611, 1000000)

	g, err := New(tp, WithDevRoot(devRoot))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	h, err := g.PushSignal("PKG_ENERGY_STATUS:ENERGY", topo.DomainPackage, 0)
	if err != nil {
		t.Fatalf("PushSignal: %v", err)
	}
	if err := g.ReadBatch(); err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	got, err := g.Sample(h)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if want := 61.0e-6 * 1000000; got != want {
		t.Errorf("Sample = %v, want %v", got, want)
	}
}

func TestGroupCompositeCoreTemperature(t *testing.T) {
	tp := fakeTopology(t, 1)
	devRoot := fakeDevRoot(t, tp.NumDomain(topo.DomainCPU))
	pokeRegister(t, devRoot, 0, 0x1A2, uint64(98)<<16)
	pokeRegister(t, devRoot, 0, 0x19C, uint64(66)<<16)

	g, err := New(tp, WithDevRoot(devRoot))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	h, err := g.PushSignal(compositeCoreTemperature, topo.DomainPackage, 0)
	if err != nil {
		t.Fatalf("PushSignal: %v", err)
	}
	if err := g.ReadBatch(); err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	got, err := g.Sample(h)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if got != 32.0 {
		t.Errorf("Sample = %v, want 32.0", got)
	}
}

func TestGroupAliasResolvesToSameFieldAsQualifiedName(t *testing.T) {
	tp := fakeTopology(t, 1)
	devRoot := fakeDevRoot(t, tp.NumDomain(topo.DomainCPU))
	pokeRegister(t, devRoot, 0, 0x611, 500000)

	g, err := New(tp, WithDevRoot(devRoot))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	alias, err := g.PushSignal("CPU_ENERGY", topo.DomainPackage, 0)
	if err != nil {
		t.Fatalf("PushSignal(alias): %v", err)
	}
	qualified, err := g.PushSignal("PKG_ENERGY_STATUS:ENERGY", topo.DomainPackage, 0)
	if err != nil {
		t.Fatalf("PushSignal(qualified): %v", err)
	}
	if err := g.ReadBatch(); err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	a, _ := g.Sample(alias)
	q, _ := g.Sample(qualified)
	if a != q {
		t.Errorf("alias sample %v != qualified sample %v", a, q)
	}
}

func TestGroupWriteControlCoalescesAndPreservesOtherBits(t *testing.T) {
	tp := fakeTopology(t, 1)
	devRoot := fakeDevRoot(t, tp.NumDomain(topo.DomainCPU))
	const offset = 0x900
	pokeRegister(t, devRoot, 0, offset, uint64(1)<<30) // unrelated bit, must survive

	extra := []Register{{
		Name: "TEST_CTL", Offset: offset, Domain: topo.DomainCPU,
		Fields: map[string]Field{
			"LO": {Name: "LO", BeginBit: 0, EndBit: 7, Function: FunctionScale, Scalar: 1, Writable: true},
			"HI": {Name: "HI", BeginBit: 8, EndBit: 15, Function: FunctionScale, Scalar: 1, Writable: true},
		},
	}}

	g, err := New(tp, WithDevRoot(devRoot), WithExtraRegisters(extra))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	loHandle, err := g.PushControl("TEST_CTL:LO", topo.DomainCPU, 0)
	if err != nil {
		t.Fatalf("PushControl(LO): %v", err)
	}
	hiHandle, err := g.PushControl("TEST_CTL:HI", topo.DomainCPU, 0)
	if err != nil {
		t.Fatalf("PushControl(HI): %v", err)
	}
	if err := g.Adjust(loHandle, 5); err != nil {
		t.Fatalf("Adjust(LO): %v", err)
	}
	if err := g.Adjust(hiHandle, 9); err != nil {
		t.Fatalf("Adjust(HI): %v", err)
	}
	if err := g.WriteBatch(); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	raw := readRegisterRaw(t, devRoot, 0, offset)
	if lo := raw & 0xFF; lo != 5 {
		t.Errorf("LO = %d, want 5", lo)
	}
	if hi := (raw >> 8) & 0xFF; hi != 9 {
		t.Errorf("HI = %d, want 9", hi)
	}
	if bit30 := (raw >> 30) & 1; bit30 != 1 {
		t.Errorf("unrelated bit 30 was clobbered")
	}
}

func TestGroupSaveRestoreControlRoundTrip(t *testing.T) {
	tp := fakeTopology(t, 1)
	devRoot := fakeDevRoot(t, tp.NumDomain(topo.DomainCPU))
	pokeRegister(t, devRoot, 0, 0x199, uint64(12)<<8)

	g, err := New(tp, WithDevRoot(devRoot))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	path := filepath.Join(t.TempDir(), "save.json")
	if err := g.SaveControl(path); err != nil {
		t.Fatalf("SaveControl: %v", err)
	}
	if err := g.WriteControl("PERF_CTL:FREQ", topo.DomainCPU, 0, 40*1.0e8); err != nil {
		t.Fatalf("WriteControl: %v", err)
	}
	if got, _ := g.ReadSignal("PERF_CTL:FREQ", topo.DomainCPU, 0); got != 40*1.0e8 {
		t.Fatalf("sanity write failed, got %v", got)
	}
	if err := g.RestoreControl(path); err != nil {
		t.Fatalf("RestoreControl: %v", err)
	}
	got, err := g.ReadSignal("PERF_CTL:FREQ", topo.DomainCPU, 0)
	if err != nil {
		t.Fatalf("ReadSignal: %v", err)
	}
	if want := 12 * 1.0e8; got != want {
		t.Errorf("restored value = %v, want %v", got, want)
	}
}

func TestGroupOverflowAccumulatesAcrossReadBatches(t *testing.T) {
	tp := fakeTopology(t, 1)
	devRoot := fakeDevRoot(t, tp.NumDomain(topo.DomainCPU))
	const offset = 0xA00
	extra := []Register{{
		Name: "TEST_OVF", Offset: offset, Domain: topo.DomainCPU,
		Fields: map[string]Field{
			"CNT": {Name: "CNT", BeginBit: 0, EndBit: 7, Function: FunctionOverflow, Scalar: 1},
		},
	}}

	pokeRegister(t, devRoot, 0, offset, 250)
	g, err := New(tp, WithDevRoot(devRoot), WithExtraRegisters(extra))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	h, err := g.PushSignal("TEST_OVF:CNT", topo.DomainCPU, 0)
	if err != nil {
		t.Fatalf("PushSignal: %v", err)
	}
	if err := g.ReadBatch(); err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if got, _ := g.Sample(h); got != 250 {
		t.Fatalf("first sample = %v, want 250", got)
	}

	pokeRegister(t, devRoot, 0, offset, 10) // wrapped past 255
	if err := g.ReadBatch(); err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	got, err := g.Sample(h)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if want := 256.0 + 10; got != want {
		t.Errorf("sample after wrap = %v, want %v", got, want)
	}
}

func TestGroupPushSignalRejectsDomainMismatch(t *testing.T) {
	tp := fakeTopology(t, 1)
	devRoot := fakeDevRoot(t, tp.NumDomain(topo.DomainCPU))
	g, err := New(tp, WithDevRoot(devRoot))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	if _, err := g.PushSignal("PERF_STATUS:FREQ", topo.DomainPackage, 0); err == nil {
		t.Fatal("expected domain mismatch error")
	}
}

func TestGroupPushControlRejectsReadOnlyField(t *testing.T) {
	tp := fakeTopology(t, 1)
	devRoot := fakeDevRoot(t, tp.NumDomain(topo.DomainCPU))
	g, err := New(tp, WithDevRoot(devRoot))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	if _, err := g.PushControl("PERF_STATUS:FREQ", topo.DomainCPU, 0); err == nil {
		t.Fatal("expected not-writable error for a read-only field")
	}
}

func TestGroupSignalInfoAndControlInfo(t *testing.T) {
	tp := fakeTopology(t, 1)
	devRoot := fakeDevRoot(t, tp.NumDomain(topo.DomainCPU))
	g, err := New(tp, WithDevRoot(devRoot))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	info, err := g.SignalInfo("PERF_STATUS:FREQ")
	if err != nil {
		t.Fatalf("SignalInfo: %v", err)
	}
	if info.Domain != topo.DomainCPU || info.Units != iogroup.UnitsHertz {
		t.Errorf("unexpected SignalInfo: %+v", info)
	}

	cinfo, err := g.ControlInfo("PERF_CTL:FREQ")
	if err != nil {
		t.Fatalf("ControlInfo: %v", err)
	}
	if !cinfo.IsWritable() {
		t.Error("PERF_CTL:FREQ should be writable")
	}
}

func TestGroupNameIsMSR(t *testing.T) {
	tp := fakeTopology(t, 1)
	devRoot := fakeDevRoot(t, tp.NumDomain(topo.DomainCPU))
	g, err := New(tp, WithDevRoot(devRoot))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()
	if g.Name() != "MSR" {
		t.Errorf("Name() = %q, want MSR", g.Name())
	}
}
