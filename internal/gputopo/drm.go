package gputopo

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/geopm/geopmd/internal/geopmerr"
	"github.com/geopm/geopmd/internal/topo"
)

var (
	cardRegexp = regexp.MustCompile(`^card(\d+)$`)
	gtRegexp   = regexp.MustCompile(`^gt(\d+)$`)
)

// drmTopo enumerates GPUs from a Linux drm class directory
// (/sys/class/drm or /sys/class/accel), the vendor-neutral fallback when
// no NVML or LevelZero user-space stack is present. Cards are grouped by
// the driver that owns the most of them, since a single drm class
// directory may expose both a discrete GPU driver and an unrelated
// display/render-only driver on the same host.
type drmTopo struct {
	driverName       string
	cardPaths        []string
	gpuChipByGPU     []int // gpu_chip idx -> gpu idx
	cpuAffinityByGPU []IntSet
}

// NewDrmTopo builds a drmTopo by scanning classDir (a directory like
// /sys/class/drm containing card0, card1, ... entries).
func NewDrmTopo(classDir string) (Topo, error) {
	entries, err := os.ReadDir(classDir)
	if err != nil {
		return nil, geopmerr.Wrap(geopmerr.Io, "gputopo.drm", classDir, err)
	}
	var cardPaths []string
	for _, e := range entries {
		if cardRegexp.MatchString(e.Name()) {
			cardPaths = append(cardPaths, filepath.Join(classDir, e.Name()))
		}
	}
	sort.Strings(cardPaths)
	if len(cardPaths) == 0 {
		return nil, geopmerr.New(geopmerr.Io, "gputopo.drm", classDir+": no drm cards detected")
	}

	driverName, cardPaths, err := mostFrequentDriverCards(cardPaths)
	if err != nil {
		return nil, err
	}

	t := &drmTopo{driverName: driverName, cardPaths: cardPaths}
	tilesPerCard := -1
	for gpuIdx, cardPath := range cardPaths {
		tilePaths := tilePathsInCard(cardPath)
		if tilesPerCard == -1 {
			tilesPerCard = len(tilePaths)
		} else if tilesPerCard != len(tilePaths) {
			return nil, geopmerr.New(geopmerr.Io, "gputopo.drm",
				"mixed gpu_chip counts per gpu are not supported")
		}
		for range tilePaths {
			t.gpuChipByGPU = append(t.gpuChipByGPU, gpuIdx)
		}

		maskBuf, err := os.ReadFile(filepath.Join(cardPath, "device", "local_cpus"))
		if err != nil {
			return nil, geopmerr.Wrap(geopmerr.Io, "gputopo.drm", cardPath, err)
		}
		mask, err := parseLinuxCPUMask(strings.TrimSpace(string(maskBuf)))
		if err != nil {
			return nil, err
		}
		t.cpuAffinityByGPU = append(t.cpuAffinityByGPU, mask)
	}
	return t, nil
}

func tilePathsInCard(cardPath string) []string {
	gtDir := filepath.Join(cardPath, "gt")
	entries, err := os.ReadDir(gtDir)
	if err != nil {
		return nil
	}
	var tiles []string
	for _, e := range entries {
		if gtRegexp.MatchString(e.Name()) {
			tiles = append(tiles, filepath.Join(gtDir, e.Name()))
		}
	}
	sort.Strings(tiles)
	return tiles
}

func driverNameFromCardPath(cardPath string) (string, error) {
	target, err := os.Readlink(filepath.Join(cardPath, "device", "driver"))
	if err != nil {
		return "", geopmerr.Wrap(geopmerr.Io, "gputopo.drm", cardPath, err)
	}
	return filepath.Base(target), nil
}

// mostFrequentDriverCards groups cards by owning driver and returns the
// name and card list of the driver with the most cards, so a display-only
// driver sharing the class directory with a handful of cards doesn't
// outrank the actual accelerator driver.
func mostFrequentDriverCards(cards []string) (string, []string, error) {
	byDriver := make(map[string][]string)
	for _, card := range cards {
		name, err := driverNameFromCardPath(card)
		if err != nil {
			return "", nil, err
		}
		byDriver[name] = append(byDriver[name], card)
	}
	bestName, bestCards := "", []string(nil)
	for name, group := range byDriver {
		if len(group) > len(bestCards) || (len(group) == len(bestCards) && name < bestName) {
			bestName, bestCards = name, group
		}
	}
	return bestName, bestCards, nil
}

// parseLinuxCPUMask decodes a comma-separated, big-endian sequence of
// 32-bit hex segments (as found in /sys/.../local_cpus) into an IntSet of
// set CPU indices. The lowest-order segment is listed last.
func parseLinuxCPUMask(buf string) (IntSet, error) {
	segments := strings.Split(buf, ",")
	result := make(IntSet)
	cpuOffset := 0
	for i := len(segments) - 1; i >= 0; i-- {
		v, err := strconv.ParseUint(segments[i], 16, 64)
		if err != nil {
			return nil, geopmerr.Wrap(geopmerr.MalformedConfig, "gputopo.drm", buf, err)
		}
		if v>>32 != 0 {
			return nil, geopmerr.New(geopmerr.MalformedConfig, "gputopo.drm", "malformed cpumask segment: "+segments[i])
		}
		for bit := 0; bit < 32; bit++ {
			if v&(1<<uint(bit)) != 0 {
				result[cpuOffset+bit] = struct{}{}
			}
		}
		cpuOffset += 32
	}
	return result, nil
}

func (t *drmTopo) NumGPU(domain topo.Domain) (int, error) {
	switch domain {
	case topo.DomainGPU:
		return len(t.cpuAffinityByGPU), nil
	case topo.DomainGPUChip:
		return len(t.gpuChipByGPU), nil
	default:
		return 0, errUnsupportedDomain(domain)
	}
}

func (t *drmTopo) CPUAffinityIdeal(domain topo.Domain, idx int) (IntSet, error) {
	switch domain {
	case topo.DomainGPU:
		if idx < 0 || idx >= len(t.cpuAffinityByGPU) {
			return nil, errIndexRange(idx)
		}
		return t.cpuAffinityByGPU[idx], nil
	case topo.DomainGPUChip:
		if idx < 0 || idx >= len(t.gpuChipByGPU) {
			return nil, errIndexRange(idx)
		}
		return t.cpuAffinityByGPU[t.gpuChipByGPU[idx]], nil
	default:
		return nil, errUnsupportedDomain(domain)
	}
}

// DriverName reports the kernel driver that owns the cards this topology
// was built from ("amdgpu", "i915", "habanalabs", and so on).
func (t *drmTopo) DriverName() string { return t.driverName }
