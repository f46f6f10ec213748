package nodechar

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/geopm/geopmd/internal/topo"
)

func fakeCharacterizationFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node_characterization.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGroupReadsConfiguredValue(t *testing.T) {
	path := fakeCharacterizationFile(t, `{"values": {"PACKAGE_TDP": 205.0}}`)
	g, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h, err := g.PushSignal("PACKAGE_TDP", topo.DomainBoard, 0)
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
	if v != 205.0 {
		t.Errorf("got %v, want 205.0", v)
	}
}

func TestGroupMissingFileYieldsEmptyGroup(t *testing.T) {
	g, err := New(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(g.SignalNames()) != 0 {
		t.Errorf("expected no signals, got %v", g.SignalNames())
	}
}

func TestGroupRejectsMalformedJSON(t *testing.T) {
	path := fakeCharacterizationFile(t, `{not json`)
	if _, err := New(path); err == nil {
		t.Fatal("expected malformed config error")
	}
}

func TestGroupPushControlAlwaysFails(t *testing.T) {
	path := fakeCharacterizationFile(t, `{"values": {"PACKAGE_TDP": 205.0}}`)
	g, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := g.PushControl("PACKAGE_TDP", topo.DomainBoard, 0); err == nil {
		t.Fatal("expected NotWritable error")
	}
}
