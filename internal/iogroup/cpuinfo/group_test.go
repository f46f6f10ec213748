package cpuinfo

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/geopm/geopmd/internal/topo"
)

func fakeTopology(t *testing.T, numCPU int) *topo.Topology {
	t.Helper()
	root := t.TempDir()
	for cpu := 0; cpu < numCPU; cpu++ {
		dir := filepath.Join(root, "cpu"+strconv.Itoa(cpu), "topology")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "physical_package_id"), []byte("0\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "core_id"), []byte(strconv.Itoa(cpu)+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	tp, err := topo.New(topo.WithSysRoot(root))
	if err != nil {
		t.Fatalf("topo.New: %v", err)
	}
	return tp
}

func fakeCpuinfo(t *testing.T, mhz ...float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cpuinfo")
	var content string
	for _, v := range mhz {
		content += "processor\t: 0\ncpu MHz\t\t: " + strconv.FormatFloat(v, 'f', 3, 64) + "\n\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func fakeCpufreqRoot(t *testing.T, numCPU int, minKHz, maxKHz string) string {
	t.Helper()
	root := t.TempDir()
	for cpu := 0; cpu < numCPU; cpu++ {
		dir := filepath.Join(root, "cpu"+strconv.Itoa(cpu), "cpufreq")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "cpuinfo_min_freq"), []byte(minKHz), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "cpuinfo_max_freq"), []byte(maxKHz), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestGroupReadsStickerAndBounds(t *testing.T) {
	tp := fakeTopology(t, 2)
	cpuinfoPath := fakeCpuinfo(t, 2400.0, 2400.0)
	cpufreqRoot := fakeCpufreqRoot(t, 2, "800000", "3600000")

	g, err := New(tp, WithProcCpuinfoPath(cpuinfoPath), WithCpufreqRoot(cpufreqRoot))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h, err := g.PushSignal("FREQ_MAX", topo.DomainCPU, 0)
	if err != nil {
		t.Fatalf("PushSignal: %v", err)
	}
	if err := g.ReadBatch(); err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	v, err := g.Sample(h)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if v != 3.6e9 {
		t.Errorf("FREQ_MAX = %v, want 3.6e9", v)
	}

	sticker, err := g.ReadSignal("FREQ_STICKER", topo.DomainCPU, 0)
	if err != nil {
		t.Fatalf("ReadSignal: %v", err)
	}
	if sticker != 2.4e9 {
		t.Errorf("FREQ_STICKER = %v, want 2.4e9", sticker)
	}
}

func TestGroupMissingSourceOmitsSignal(t *testing.T) {
	tp := fakeTopology(t, 1)
	g, err := New(tp, WithProcCpuinfoPath(filepath.Join(t.TempDir(), "missing")), WithCpufreqRoot(t.TempDir()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.IsValidSignal("FREQ_STICKER") {
		t.Error("expected FREQ_STICKER to be absent when /proc/cpuinfo is missing")
	}
}

func TestGroupNameIsCPUINFO(t *testing.T) {
	tp := fakeTopology(t, 1)
	g, err := New(tp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.Name() != "CPUINFO" {
		t.Errorf("Name() = %q, want CPUINFO", g.Name())
	}
}

func TestGroupPushControlAlwaysFails(t *testing.T) {
	tp := fakeTopology(t, 1)
	g, err := New(tp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := g.PushControl("FREQ_MAX", topo.DomainCPU, 0); err == nil {
		t.Fatal("expected NotWritable error")
	}
}
