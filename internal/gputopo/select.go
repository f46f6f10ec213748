package gputopo

import (
	"os"

	"github.com/geopm/geopmd/internal/geopmerr"
	"github.com/geopm/geopmd/internal/topo"
)

// SelectOption configures Select.
type SelectOption func(*selectConfig)

type selectConfig struct {
	nvmlPool      DevicePool
	levelZeroPool DevicePool
	drmClassDir   string
	accelClassDir string
	getenv        func(string) string
}

// WithNVMLPool injects an NVML device pool. Production callers only pass
// this when the NVML user-space library was actually found on the host;
// omit it (or pass nil) when NVML is unavailable.
func WithNVMLPool(pool DevicePool) SelectOption {
	return func(c *selectConfig) { c.nvmlPool = pool }
}

// WithLevelZeroPool injects a LevelZero device pool. It is only
// consulted when the environment requests sysman + composite hierarchy,
// matching the vendor driver's own activation gate.
func WithLevelZeroPool(pool DevicePool) SelectOption {
	return func(c *selectConfig) { c.levelZeroPool = pool }
}

// WithDrmClassDir overrides the /sys/class/drm path (tests point this at
// a fixture directory).
func WithDrmClassDir(dir string) SelectOption {
	return func(c *selectConfig) { c.drmClassDir = dir }
}

// WithAccelClassDir overrides the /sys/class/accel path.
func WithAccelClassDir(dir string) SelectOption {
	return func(c *selectConfig) { c.accelClassDir = dir }
}

func withGetenv(f func(string) string) SelectOption {
	return func(c *selectConfig) { c.getenv = f }
}

// Select picks a GPU topology source by preference: NVML if its pool
// reports any devices, else LevelZero if ZES_ENABLE_SYSMAN=1 and
// ZE_FLAT_DEVICE_HIERARCHY=COMPOSITE and its pool reports any devices,
// else /sys/class/accel, else /sys/class/drm. Discovering GPUs through
// both NVML and LevelZero simultaneously is a fatal configuration error:
// this implementation does not attempt to reconcile the two device
// namespaces. Select never fails outright when no GPU source is found; it
// returns NullTopo() in that case, matching the legacy behavior of
// logging a warning and continuing with zero accelerators.
func Select(opts ...SelectOption) (Topo, string, error) {
	cfg := selectConfig{drmClassDir: "/sys/class/drm", accelClassDir: "/sys/class/accel", getenv: os.Getenv}
	for _, opt := range opts {
		opt(&cfg)
	}

	var nvmlTopo, levelZeroTopo Topo
	if cfg.nvmlPool != nil {
		t, err := NewDeviceTopo(cfg.nvmlPool)
		if err != nil {
			return nil, "", err
		}
		nvmlTopo = t
	}
	if cfg.levelZeroPool != nil && cfg.getenv("ZES_ENABLE_SYSMAN") == "1" &&
		cfg.getenv("ZE_FLAT_DEVICE_HIERARCHY") == "COMPOSITE" {
		t, err := NewDeviceTopo(cfg.levelZeroPool)
		if err != nil {
			return nil, "", err
		}
		levelZeroTopo = t
	}

	nvmlCount := numGPUOrZero(nvmlTopo)
	levelZeroCount := numGPUOrZero(levelZeroTopo)
	if nvmlCount != 0 && levelZeroCount != 0 {
		return nil, "", geopmerr.New(geopmerr.Logic, "gputopo.select",
			"discovered GPUs with both NVML and LevelZero, this configuration is not supported")
	}
	if nvmlCount != 0 {
		return nvmlTopo, "NVML", nil
	}
	if levelZeroCount != 0 {
		return levelZeroTopo, "LEVELZERO", nil
	}

	if accelTopo, err := NewDrmTopo(cfg.accelClassDir); err == nil {
		if n, _ := accelTopo.NumGPU(topo.DomainGPU); n != 0 {
			return accelTopo, "ACCEL", nil
		}
	}
	if drmTopo, err := NewDrmTopo(cfg.drmClassDir); err == nil {
		if n, _ := drmTopo.NumGPU(topo.DomainGPU); n != 0 {
			return drmTopo, "DRM", nil
		}
	}
	return NullTopo(), "NONE", nil
}

func numGPUOrZero(t Topo) int {
	if t == nil {
		return 0
	}
	n, err := t.NumGPU(topo.DomainGPU)
	if err != nil {
		return 0
	}
	return n
}
