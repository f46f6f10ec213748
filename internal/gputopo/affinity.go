package gputopo

import "github.com/geopm/geopmd/internal/geopmerr"

// AssignAffinity derives a conflict-free CPU-to-GPU assignment from each
// GPU's ideal (possibly overlapping) CPU affinity set. It starts from the
// union of every ideal mask and greedily assigns CPUs to GPUs in two
// passes, each sized floor(remaining/ngpu) from the CPUs still unassigned
// when that pass starts (remaining%ngpu when that floor is zero). A CPU removed from one GPU's mask is removed from
// every GPU's mask, so no CPU is ever assigned twice. If a CPU that
// appears in at least one ideal mask cannot be assigned to any GPU, the
// solver fails with AffinityStarvation; it makes no attempt at fairness
// or assigning the globally optimal partition.
func AssignAffinity(ideal []IntSet) ([]IntSet, error) {
	numGPU := len(ideal)
	if numGPU == 0 {
		return nil, nil
	}

	masks := make([]IntSet, numGPU)
	union := make(IntSet)
	for i, m := range ideal {
		masks[i] = m.Clone()
		for cpu := range m {
			union[cpu] = struct{}{}
		}
	}
	cpuRemaining := len(union)

	assigned := make([]IntSet, numGPU)
	for i := range assigned {
		assigned[i] = make(IntSet)
	}

	for attempt := 0; attempt < 2 && cpuRemaining > 0; attempt++ {
		perGPU := cpuRemaining / numGPU
		if perGPU == 0 {
			perGPU = cpuRemaining % numGPU
		}
		for gpuIdx := 0; gpuIdx < numGPU; gpuIdx++ {
			count := 0
			for _, cpu := range masks[gpuIdx].Sorted() {
				if count >= perGPU {
					break
				}
				assigned[gpuIdx][cpu] = struct{}{}
				cpuRemaining--
				count++
				for other := 0; other < numGPU; other++ {
					delete(masks[other], cpu)
				}
			}
		}
	}

	if cpuRemaining != 0 {
		return nil, geopmerr.New(geopmerr.AffinityStarvation, "gputopo.assign_affinity", "")
	}
	return assigned, nil
}
