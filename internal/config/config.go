// Package config resolves the environment variables and on-disk
// configuration documents that parameterize a geopmd process, the way
// the teacher's collector.DefaultConfig and orchestrator.GetProfile
// resolve CollectConfig from flags and profile name. Everything here is
// pure: reading env vars and files, never touching a backend directly.
package config

import (
	"os"
	"strings"

	"go.uber.org/zap"
)

// Env var names. GEOPM_PLUGIN_PATH is the legacy alias for
// GEOPM_MSR_CONFIG_PATH carried over from the original implementation's
// plugin-loading mechanism; geopmd never loads native plugins, so the
// alias now just names the same MSR register augmentation path.
const (
	EnvMSRConfigPath     = "GEOPM_MSR_CONFIG_PATH"
	EnvPluginPathLegacy  = "GEOPM_PLUGIN_PATH"
	EnvNodeCharacterization = "GEOPM_NODE_CHARACTERIZATION_PATH"
	EnvServiceSocket     = "GEOPM_SERVICE_SOCKET"
	EnvServiceBinary     = "GEOPM_SERVICE_BINARY"
	EnvSysfsRoot         = "GEOPM_SYSFS_ROOT"
	EnvMSRDevRoot        = "GEOPM_MSR_DEV_ROOT"
	EnvVerbose           = "GEOPM_VERBOSE"
)

// defaultServiceBinary is the privileged helper PeerLauncher spawns when
// EnvServiceSocket isn't set to an already-running daemon's socket.
const defaultServiceBinary = "geopmd"

// Config is the resolved set of knobs that govern how Build constructs a
// PlatformIO for this process. The zero value leaves ServiceBinary,
// SysfsRoot and MSRDevRoot empty; FromEnv fills in production defaults.
type Config struct {
	// MSRConfigPaths is the colon-separated search path from
	// EnvMSRConfigPath (or its legacy alias), each entry a JSON document
	// of extra MSR registers per msr.ParseJSON.
	MSRConfigPaths []string

	// NodeCharacterizationPath feeds nodechar.New directly; a missing
	// file is not an error there, so an empty default is safe.
	NodeCharacterizationPath string

	// ServiceSocket is the control-channel Unix socket path for the
	// service/proxy backend. Empty means "launch our own helper".
	ServiceSocket string

	// ServiceBinary is the privileged helper binary PeerLauncher resolves
	// and spawns when ServiceSocket is empty.
	ServiceBinary string

	// SysfsRoot and MSRDevRoot override the sysfs/msr backends' default
	// mount points, mirroring the teacher's CollectConfig.ProcRoot/SysRoot
	// test-injection fields.
	SysfsRoot string
	MSRDevRoot string

	// Verbose raises the logger to debug level, matching the teacher's
	// --verbose flag.
	Verbose bool
}

// FromEnv resolves a Config from the process environment, applying
// production defaults for anything unset.
func FromEnv() Config {
	cfg := Config{
		ServiceBinary: defaultServiceBinary,
		SysfsRoot:     "/sys",
		MSRDevRoot:    "/dev/cpu",
	}

	msrPath := os.Getenv(EnvMSRConfigPath)
	if msrPath == "" {
		msrPath = os.Getenv(EnvPluginPathLegacy)
	}
	if msrPath != "" {
		cfg.MSRConfigPaths = splitSearchPath(msrPath)
	}

	cfg.NodeCharacterizationPath = os.Getenv(EnvNodeCharacterization)
	cfg.ServiceSocket = os.Getenv(EnvServiceSocket)
	if bin := os.Getenv(EnvServiceBinary); bin != "" {
		cfg.ServiceBinary = bin
	}
	if root := os.Getenv(EnvSysfsRoot); root != "" {
		cfg.SysfsRoot = root
	}
	if root := os.Getenv(EnvMSRDevRoot); root != "" {
		cfg.MSRDevRoot = root
	}
	cfg.Verbose = os.Getenv(EnvVerbose) != ""

	return cfg
}

// splitSearchPath splits a colon-separated search path the way PATH
// itself is split, dropping empty segments.
func splitSearchPath(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ":") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// NewLogger builds the single *zap.SugaredLogger threaded from cmd/ down
// into Build, per the ambient logging stack: one injected collaborator,
// not a package-global logger. PlatformIO and the backends take no logger.
func NewLogger(verbose bool) (*zap.SugaredLogger, error) {
	var zcfg zap.Config
	if verbose {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.DisableStacktrace = true
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
