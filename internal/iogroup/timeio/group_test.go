package timeio

import (
	"testing"
	"time"

	"github.com/geopm/geopmd/internal/topo"
)

func TestGroupElapsedAdvancesAcrossReadBatches(t *testing.T) {
	base := time.Unix(1000, 0)
	cur := base
	g := newWithClock(func() time.Time { return cur })

	h, err := g.PushSignal("ELAPSED", topo.DomainBoard, 0)
	if err != nil {
		t.Fatalf("PushSignal: %v", err)
	}

	cur = base.Add(5 * time.Second)
	if err := g.ReadBatch(); err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	v, err := g.Sample(h)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if v != 5.0 {
		t.Errorf("got %v, want 5.0", v)
	}

	cur = base.Add(12 * time.Second)
	if err := g.ReadBatch(); err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	v, err = g.Sample(h)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if v != 12.0 {
		t.Errorf("got %v, want 12.0", v)
	}
}

func TestGroupRejectsUnknownSignal(t *testing.T) {
	g := New()
	if _, err := g.PushSignal("BOGUS", topo.DomainBoard, 0); err == nil {
		t.Fatal("expected UnknownName error")
	}
}

func TestGroupRejectsNonBoardDomain(t *testing.T) {
	g := New()
	if _, err := g.PushSignal("ELAPSED", topo.DomainCPU, 0); err == nil {
		t.Fatal("expected DomainMismatch error")
	}
}

func TestGroupPushControlAlwaysFails(t *testing.T) {
	g := New()
	if _, err := g.PushControl("ELAPSED", topo.DomainBoard, 0); err == nil {
		t.Fatal("expected NotWritable error")
	}
}

func TestGroupNameIsTIME(t *testing.T) {
	g := New()
	if g.Name() != "TIME" {
		t.Errorf("Name() = %q, want TIME", g.Name())
	}
}
