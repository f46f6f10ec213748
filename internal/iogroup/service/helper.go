package service

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/geopm/geopmd/internal/geopmerr"
)

// allowedHelperPaths are the directories the privileged peer binary may
// be launched from, adapted from the teacher's executor.AllowedBinaryPaths
// for this domain's own daemon rather than BCC/bpftrace tools.
var allowedHelperPaths = []string{
	"/usr/sbin",
	"/usr/bin",
	"/usr/local/sbin",
	"/usr/local/bin",
}

// SecurityChecker verifies the privileged peer binary before it is
// spawned and sanitizes its execution environment, adapted from the
// teacher's executor.SecurityChecker.
type SecurityChecker struct {
	allowedPaths []string
}

// NewSecurityChecker creates a SecurityChecker with the default allowed
// directories for the geopmd helper binary.
func NewSecurityChecker() *SecurityChecker {
	return &SecurityChecker{allowedPaths: allowedHelperPaths}
}

// ResolveBinary finds name in one of the allowed directories.
func (sc *SecurityChecker) ResolveBinary(name string) (string, error) {
	for _, dir := range sc.allowedPaths {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", geopmerr.New(geopmerr.Capability, "service.resolve_binary", name)
}

// VerifyBinary checks path is in an allowed directory, owned by root,
// and not world-writable.
func (sc *SecurityChecker) VerifyBinary(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return geopmerr.Wrap(geopmerr.Capability, "service.verify_binary", path, err)
	}
	dir := filepath.Dir(absPath)
	allowed := false
	for _, allowedDir := range sc.allowedPaths {
		if dir == allowedDir {
			allowed = true
			break
		}
	}
	if !allowed {
		return geopmerr.New(geopmerr.Capability, "service.verify_binary", absPath)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return geopmerr.Wrap(geopmerr.Capability, "service.verify_binary", absPath, err)
	}
	if info.IsDir() {
		return geopmerr.New(geopmerr.Capability, "service.verify_binary", absPath)
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if stat.Uid != 0 {
			return geopmerr.New(geopmerr.Capability, "service.verify_binary", absPath)
		}
	}
	if info.Mode().Perm()&0o002 != 0 {
		return geopmerr.New(geopmerr.Capability, "service.verify_binary", absPath)
	}
	return nil
}

// SanitizeEnv returns a minimal, safe environment for the spawned peer.
func (sc *SecurityChecker) SanitizeEnv() []string {
	safeVars := map[string]bool{
		"PATH": true, "HOME": true, "LANG": true, "LC_ALL": true, "TMPDIR": true,
	}
	var env []string
	hasPath := false
	for _, e := range os.Environ() {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 && safeVars[parts[0]] {
			env = append(env, e)
			if parts[0] == "PATH" {
				hasPath = true
			}
		}
	}
	if !hasPath {
		env = append(env, "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin")
	}
	return env
}

// gracefulShutdownTimeout bounds how long Launch waits after SIGINT
// before escalating to SIGKILL, mirroring the teacher's
// executor.gracefulShutdownTimeout.
const gracefulShutdownTimeout = 3 * time.Second

// PeerLauncher spawns and supervises the privileged geopmd helper
// process when the service backend is configured to launch one rather
// than connect to an already-running daemon.
type PeerLauncher struct {
	security *SecurityChecker
}

// NewPeerLauncher returns a PeerLauncher using the default SecurityChecker.
func NewPeerLauncher() *PeerLauncher {
	return &PeerLauncher{security: NewSecurityChecker()}
}

// Launch verifies and starts binaryName with args, returning the running
// command. Cancelling ctx sends SIGINT to the process group, escalating
// to SIGKILL after gracefulShutdownTimeout if the peer hasn't exited.
func (l *PeerLauncher) Launch(ctx context.Context, binaryName string, args []string) (*exec.Cmd, error) {
	binPath, err := l.security.ResolveBinary(binaryName)
	if err != nil {
		return nil, err
	}
	if err := l.security.VerifyBinary(binPath); err != nil {
		return nil, err
	}

	cmd := exec.Command(binPath, args...)
	cmd.Env = l.security.SanitizeEnv()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, geopmerr.Wrap(geopmerr.Io, "service.launch", binaryName, err)
	}

	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()
	go func() {
		select {
		case <-ctx.Done():
			pgid := cmd.Process.Pid
			if err := syscall.Kill(-pgid, syscall.SIGINT); err != nil {
				cmd.Process.Signal(syscall.SIGINT)
			}
			select {
			case <-exited:
			case <-time.After(gracefulShutdownTimeout):
				syscall.Kill(-pgid, syscall.SIGKILL)
			}
		case <-exited:
		}
	}()

	return cmd, nil
}

// Available reports whether binaryName can be found and verified without
// spawning it.
func (l *PeerLauncher) Available(binaryName string) bool {
	path, err := l.security.ResolveBinary(binaryName)
	if err != nil {
		return false
	}
	return l.security.VerifyBinary(path) == nil
}
