package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/geopm/geopmd/internal/geopmerr"
	"github.com/geopm/geopmd/internal/gputopo"
	"github.com/geopm/geopmd/internal/iogroup/cpuinfo"
	"github.com/geopm/geopmd/internal/iogroup/gpu"
	"github.com/geopm/geopmd/internal/iogroup/msr"
	"github.com/geopm/geopmd/internal/iogroup/nodechar"
	"github.com/geopm/geopmd/internal/iogroup/service"
	"github.com/geopm/geopmd/internal/iogroup/sysfs"
	"github.com/geopm/geopmd/internal/iogroup/timeio"
	"github.com/geopm/geopmd/internal/platformio"
	"github.com/geopm/geopmd/internal/topo"
)

// serviceDialTimeout bounds how long Build waits for a launched peer's
// Unix socket to appear, and is also passed as the per-call timeout of
// both the control channel (service.DialUnix) and the batch channel
// (service.WithTimeout).
const serviceDialTimeout = 2 * time.Second

// Built is everything geopmd's entry points need to run: the federation
// layer with every discoverable backend registered, the board topology it
// was built against, and any privileged helper process Build launched on
// the caller's behalf (nil unless the service backend was wired as a
// launched peer rather than an existing socket).
type Built struct {
	PlatformIO *platformio.PlatformIO
	Topology   *topo.Topology
	Peer       *service.PeerLauncher
	PeerDone   <-chan struct{}
}

// Build resolves cfg into a running federation layer: it probes board and
// GPU topology, loads any MSR register augmentation and node
// characterization documents, connects (or launches) the service backend,
// and registers every backend with PlatformIO in the teacher's
// precedence order (on-box sources first, proxy last, matching
// orchestrator.RegisterCollectors registering Tier 1 before Tier 2/3).
//
// A backend that fails to construct is demoted to absent with a warning
// logged through log, rather than failing Build outright, mirroring
// collector.DefaultConfig's "missing optional domain yields num_domain==0"
// posture carried into internal/topo.New.
func Build(ctx context.Context, cfg Config, log *zap.SugaredLogger) (*Built, error) {
	gpuTopo, vendor, err := gputopo.Select(gpuSelectOptions(cfg)...)
	if err != nil {
		return nil, geopmerr.Wrap(geopmerr.Logic, "config.build", "gpu topology", err)
	}
	numGPU, _ := gpuTopo.NumGPU(topo.DomainGPU)
	numGPUChip, _ := gpuTopo.NumGPU(topo.DomainGPUChip)
	chipsPerGPU := 0
	if numGPU > 0 {
		chipsPerGPU = numGPUChip / numGPU
	}
	log.Infow("gpu topology selected", "vendor", vendor, "num_gpu", numGPU)

	board, err := topo.New(topo.WithSysRoot(cfg.SysfsRoot+"/devices/system/cpu"), topo.WithGPUCounts(numGPU, chipsPerGPU))
	if err != nil {
		return nil, geopmerr.Wrap(geopmerr.Logic, "config.build", "board topology", err)
	}

	pio := platformio.New(board, nowSeconds)

	extraRegs, err := loadMSRRegisters(cfg.MSRConfigPaths)
	if err != nil {
		return nil, err
	}
	if msrGroup, err := msr.New(board, msr.WithDevRoot(cfg.MSRDevRoot), msr.WithExtraRegisters(extraRegs)); err != nil {
		log.Warnw("msr backend unavailable", "error", err)
	} else {
		pio.Register(msrGroup)
	}

	if sysfsGroup, err := sysfs.New(board, sysfs.WithRoot(cfg.SysfsRoot)); err != nil {
		log.Warnw("sysfs backend unavailable", "error", err)
	} else {
		pio.Register(sysfsGroup)
	}

	if cpuinfoGroup, err := cpuinfo.New(board); err != nil {
		log.Warnw("cpuinfo backend unavailable", "error", err)
	} else {
		pio.Register(cpuinfoGroup)
	}

	pio.Register(timeio.New())

	nodecharGroup, err := nodechar.New(cfg.NodeCharacterizationPath)
	if err != nil {
		log.Warnw("node characterization unavailable", "error", err)
	} else {
		pio.Register(nodecharGroup)
	}

	if numGPU > 0 || vendor != "NONE" {
		gpuName := "GPU_" + vendor
		var pool gputopo.DevicePool
		if dt, ok := gpuTopo.(interface{ Pool() gputopo.DevicePool }); ok {
			pool = dt.Pool()
		}
		if gpuGroup, err := gpu.New(gpuName, gpuTopo, pool); err != nil {
			log.Warnw("gpu backend unavailable", "error", err)
		} else {
			pio.Register(gpuGroup)
		}
	}

	built := &Built{PlatformIO: pio, Topology: board}
	if err := wireServiceBackend(ctx, cfg, log, built); err != nil {
		log.Warnw("service backend unavailable", "error", err)
	}

	return built, nil
}

// gpuSelectOptions reads no environment variables and injects no
// NVML/LevelZero device pool; see DESIGN.md for why none is vendored here.
// It offers only the /sys/class/accel and /sys/class/drm fallbacks.
func gpuSelectOptions(cfg Config) []gputopo.SelectOption {
	opts := []gputopo.SelectOption{
		gputopo.WithAccelClassDir("/sys/class/accel"),
		gputopo.WithDrmClassDir("/sys/class/drm"),
	}
	return opts
}

// wireServiceBackend connects to cfg.ServiceSocket if set, otherwise
// launches cfg.ServiceBinary as a privileged peer and dials the socket it
// creates at the well-known path, matching the teacher's
// installer/executor split between "use what's there" and "set it up".
func wireServiceBackend(ctx context.Context, cfg Config, log *zap.SugaredLogger, built *Built) error {
	socketPath := cfg.ServiceSocket
	launcher := service.NewPeerLauncher()

	if socketPath == "" {
		if !launcher.Available(cfg.ServiceBinary) {
			return geopmerr.New(geopmerr.Unsupported, "config.wire_service", cfg.ServiceBinary)
		}
		socketPath = defaultPeerSocketPath()
		cmd, err := launcher.Launch(ctx, cfg.ServiceBinary, []string{"--socket", socketPath})
		if err != nil {
			return err
		}
		done := make(chan struct{})
		go func() {
			cmd.Wait()
			close(done)
		}()
		built.Peer = launcher
		built.PeerDone = done
		if !waitForSocket(socketPath, serviceDialTimeout) {
			return geopmerr.New(geopmerr.Io, "config.wire_service", socketPath)
		}
	}

	transport, err := service.DialUnix(socketPath, serviceDialTimeout)
	if err != nil {
		return err
	}
	serviceGroup, err := service.New(transport, service.WithTimeout(serviceDialTimeout))
	if err != nil {
		transport.Close()
		return err
	}
	built.PlatformIO.Register(serviceGroup)
	return nil
}

// defaultPeerSocketPath mirrors the teacher's convention of namespacing
// runtime artifacts (sockets, pid files) under a fixed directory rather
// than a per-invocation temp path, so a second CLI invocation can find
// the same running peer.
func defaultPeerSocketPath() string {
	return "/run/geopm/control.sock"
}

// waitForSocket polls for path to appear, bounded by timeout. A launched
// peer needs a moment to create its listening socket; this avoids a fixed
// sleep the way the teacher's orchestrator polls collector readiness.
func waitForSocket(path string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return true
		}
		time.Sleep(25 * time.Millisecond)
	}
	_, err := os.Stat(path)
	return err == nil
}

// loadMSRRegisters decodes every file on cfg.MSRConfigPaths via
// msr.ParseJSON, in order, concatenating the result; a later file's
// register sharing a name with an earlier one replaces it outright, per
// msr.WithExtraRegisters' own replace-on-name-collision contract.
func loadMSRRegisters(paths []string) ([]msr.Register, error) {
	var all []msr.Register
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, geopmerr.Wrap(geopmerr.Io, "config.load_msr_registers", path, err)
		}
		regs, err := msr.ParseJSON(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		all = append(all, regs...)
	}
	return all, nil
}

// nowSeconds is the wall-clock time source threaded into platformio.New,
// matching timeio's own TIME::ELAPSED source rather than introducing a
// second notion of "now".
func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
