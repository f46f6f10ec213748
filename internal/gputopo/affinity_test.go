package gputopo

import (
	"testing"

	"github.com/geopm/geopmd/internal/geopmerr"
)

func cpuRange(lo, hi int) IntSet {
	s := make(IntSet)
	for i := lo; i <= hi; i++ {
		s[i] = struct{}{}
	}
	return s
}

// TestAssignAffinityHPE6500ContiguousSlices reproduces the documented
// 8-GPU, 56-CPU configuration where four GPUs share the first 28 CPUs and
// four share the last 28: the solver should partition each half into
// contiguous 7-CPU slices.
func TestAssignAffinityHPE6500ContiguousSlices(t *testing.T) {
	firstHalf := cpuRange(0, 27)
	secondHalf := cpuRange(28, 55)
	ideal := []IntSet{firstHalf, firstHalf, firstHalf, firstHalf,
		secondHalf, secondHalf, secondHalf, secondHalf}

	assigned, err := AssignAffinity(ideal)
	if err != nil {
		t.Fatalf("AssignAffinity: %v", err)
	}
	if len(assigned) != 8 {
		t.Fatalf("got %d gpu assignments, want 8", len(assigned))
	}
	for gpuIdx, want := range [][2]int{{0, 6}, {7, 13}, {14, 20}, {21, 27}, {28, 34}, {35, 41}, {42, 48}, {49, 55}} {
		got := assigned[gpuIdx].Sorted()
		if len(got) != 7 {
			t.Fatalf("gpu %d: got %d cpus, want 7: %v", gpuIdx, len(got), got)
		}
		if got[0] != want[0] || got[len(got)-1] != want[1] {
			t.Errorf("gpu %d: got range [%d,%d], want [%d,%d]", gpuIdx, got[0], got[len(got)-1], want[0], want[1])
		}
	}

	seen := make(map[int]bool)
	for _, m := range assigned {
		for cpu := range m {
			if seen[cpu] {
				t.Fatalf("cpu %d assigned to more than one gpu", cpu)
			}
			seen[cpu] = true
		}
	}
}

// TestAssignAffinityGreedbusterStarves reproduces the documented
// 4-GPU, 40-CPU failure case: the last GPU's 10-CPU mask (0-9) is fully
// contained within the first three GPUs' larger masks, so by the time
// the solver's two passes reach it every CPU it could have claimed is
// already gone, and four CPUs (36-39) never get assigned to anyone.
func TestAssignAffinityGreedbusterStarves(t *testing.T) {
	ideal := []IntSet{
		cpuRange(0, 39),
		cpuRange(4, 39),
		cpuRange(8, 39),
		cpuRange(0, 9),
	}

	_, err := AssignAffinity(ideal)
	if err == nil {
		t.Fatal("expected AffinityStarvation error")
	}
	gerr, ok := err.(*geopmerr.Error)
	if !ok || gerr.Kind != geopmerr.AffinityStarvation {
		t.Errorf("got %v, want AffinityStarvation", err)
	}
}
