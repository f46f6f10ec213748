package gputopo

import "github.com/geopm/geopmd/internal/topo"

// DevicePool is the vendor device-enumeration surface a GPU topology and
// the gpu IOGroup are built on: NumDevice and IdealCPUAffinity back
// topology discovery, the rest back the GPU signal/control surface.
// Production callers wire in a real NVML- or LevelZero-backed
// implementation; tests inject a fake satisfying this interface, mirroring
// the vendor device-pool mocks this design is grounded on.
type DevicePool interface {
	NumDevice() int
	IdealCPUAffinity(idx int) (IntSet, error)

	FrequencyStatusSM(idx int) (uint64, error)
	FrequencyStatusMem(idx int) (uint64, error)
	Utilization(idx int) (uint64, error)
	UtilizationMem(idx int) (uint64, error)
	Power(idx int) (uint64, error)
	PowerLimit(idx int) (uint64, error)
	Temperature(idx int) (uint64, error)
	Energy(idx int) (uint64, error)
	PerformanceState(idx int) (uint64, error)

	FrequencyControlSM(idx int, minMHz, maxMHz int) error
	PowerControl(idx int, milliwatts int) error
}

// deviceTopo adapts a DevicePool to Topo: at construction it caches each
// device's raw ideal affinity mask, then runs AssignAffinity once to
// produce a conflict-free per-device assignment, since two devices' raw
// masks from the vendor driver commonly overlap on NUMA systems (for
// example one NUMA node hosting several devices).
type deviceTopo struct {
	pool     DevicePool
	assigned []IntSet
}

// NewDeviceTopo wraps pool into a Topo, resolving CPU affinity conflicts
// via AssignAffinity. If pool reports zero devices, the result is a valid
// zero-GPU topology rather than an error (mirrors the legacy
// "no accelerators detected" warning-and-continue behavior).
func NewDeviceTopo(pool DevicePool) (Topo, error) {
	n := pool.NumDevice()
	if n == 0 {
		return &deviceTopo{pool: pool}, nil
	}
	ideal := make([]IntSet, n)
	for i := 0; i < n; i++ {
		mask, err := pool.IdealCPUAffinity(i)
		if err != nil {
			return nil, err
		}
		ideal[i] = mask
	}
	assigned, err := AssignAffinity(ideal)
	if err != nil {
		return nil, err
	}
	return &deviceTopo{pool: pool, assigned: assigned}, nil
}

func (t *deviceTopo) NumGPU(domain topo.Domain) (int, error) {
	switch domain {
	case topo.DomainGPU, topo.DomainGPUChip:
		return len(t.assigned), nil
	default:
		return 0, errUnsupportedDomain(domain)
	}
}

func (t *deviceTopo) CPUAffinityIdeal(domain topo.Domain, idx int) (IntSet, error) {
	if domain != topo.DomainGPU && domain != topo.DomainGPUChip {
		return nil, errUnsupportedDomain(domain)
	}
	if idx < 0 || idx >= len(t.assigned) {
		return nil, errIndexRange(idx)
	}
	return t.assigned[idx], nil
}

// Pool exposes the underlying DevicePool so a gpu.Group can read signals
// and issue controls against the same device handles used for topology.
func (t *deviceTopo) Pool() DevicePool { return t.pool }
