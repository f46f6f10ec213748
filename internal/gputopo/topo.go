// Package gputopo discovers GPU topology (device count, GPU-chip count,
// and each GPU's ideal CPU affinity set) and derives a conflict-free
// CPU-to-GPU assignment from it. It mirrors the precedence and solver of
// the platform's legacy accelerator topology discovery: NVML, then
// LevelZero, then a vendor-neutral /sys/class/accel or /sys/class/drm
// enumeration.
package gputopo

import "github.com/geopm/geopmd/internal/topo"

// Topo reports GPU and GPU-chip counts and each GPU's ideal (not
// necessarily conflict-free) CPU affinity set.
type Topo interface {
	// NumGPU returns the number of GPUs for the given domain, which must
	// be topo.DomainGPU or topo.DomainGPUChip.
	NumGPU(domain topo.Domain) (int, error)
	// CPUAffinityIdeal returns the set of CPU indices local to the GPU
	// (or GPU chip) at idx, in the given domain.
	CPUAffinityIdeal(domain topo.Domain, idx int) (IntSet, error)
}

// IntSet is a small unordered set of non-negative integers.
type IntSet map[int]struct{}

// NewIntSet builds an IntSet from the given members.
func NewIntSet(members ...int) IntSet {
	s := make(IntSet, len(members))
	for _, m := range members {
		s[m] = struct{}{}
	}
	return s
}

// Clone returns an independent copy of s.
func (s IntSet) Clone() IntSet {
	out := make(IntSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Has reports whether v is a member of s.
func (s IntSet) Has(v int) bool {
	_, ok := s[v]
	return ok
}

// Sorted returns the set's members in ascending order.
func (s IntSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// nullTopo reports zero GPUs; it is the default when no vendor or
// vendor-neutral topology source can be discovered.
type nullTopo struct{}

// NullTopo is a Topo with zero GPUs on every domain.
func NullTopo() Topo { return nullTopo{} }

func (nullTopo) NumGPU(domain topo.Domain) (int, error) {
	switch domain {
	case topo.DomainGPU, topo.DomainGPUChip:
		return 0, nil
	default:
		return 0, errUnsupportedDomain(domain)
	}
}

func (nullTopo) CPUAffinityIdeal(domain topo.Domain, idx int) (IntSet, error) {
	if domain != topo.DomainGPU && domain != topo.DomainGPUChip {
		return nil, errUnsupportedDomain(domain)
	}
	return nil, errIndexRange(idx)
}
