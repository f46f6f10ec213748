package msr

import (
	"strconv"
	"strings"
	"testing"

	"github.com/geopm/geopmd/internal/topo"
)

func TestAllowlistOrderedByOffsetAscending(t *testing.T) {
	tp := fakeTopology(t, 1)
	devRoot := fakeDevRoot(t, tp.NumDomain(topo.DomainCPU))
	g, err := New(tp, WithDevRoot(devRoot))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	out := g.Allowlist()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected a header plus at least one register line, got %d lines", len(lines))
	}
	var lastOffset uint64
	for _, line := range lines[1:] {
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			t.Fatalf("malformed allowlist line: %q", line)
		}
		offset, err := strconv.ParseUint(strings.TrimPrefix(fields[0], "0x"), 16, 64)
		if err != nil {
			t.Fatalf("parsing offset %q: %v", fields[0], err)
		}
		if offset < lastOffset {
			t.Errorf("offsets not ascending: %#x after %#x", offset, lastOffset)
		}
		lastOffset = offset
	}
}

func TestAllowlistReadOnlyRegisterHasZeroMask(t *testing.T) {
	tp := fakeTopology(t, 1)
	devRoot := fakeDevRoot(t, tp.NumDomain(topo.DomainCPU))
	g, err := New(tp, WithDevRoot(devRoot))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	out := g.Allowlist()
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "# PERF_STATUS") {
			continue
		}
		fields := strings.Split(line, "\t")
		if fields[1] != "0x0000000000000000" {
			t.Errorf("PERF_STATUS (read-only) mask = %s, want all zero", fields[1])
		}
		return
	}
	t.Fatal("PERF_STATUS line not found in allowlist")
}

func TestAllowlistWritableRegisterHasNonZeroMask(t *testing.T) {
	tp := fakeTopology(t, 1)
	devRoot := fakeDevRoot(t, tp.NumDomain(topo.DomainCPU))
	g, err := New(tp, WithDevRoot(devRoot))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	out := g.Allowlist()
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "# PERF_CTL") {
			continue
		}
		fields := strings.Split(line, "\t")
		if fields[1] == "0x0000000000000000" {
			t.Errorf("PERF_CTL (writable) mask is zero, want non-zero")
		}
		return
	}
	t.Fatal("PERF_CTL line not found in allowlist")
}
