package platformio

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// OverheadSummary reports PlatformIO's own resource consumption across a
// span of ReadBatch/WriteBatch calls, adapted from the teacher's
// PIDTracker.SnapshotBefore/After observer-effect mitigation: the same
// /proc/self self-measurement, scoped to this one process rather than a
// process plus its discovered children, since a PlatformIO never spawns
// collection subprocesses itself (iogroup/service's launched peer is
// measured independently, by the privileged daemon it becomes).
type OverheadSummary struct {
	CPUUserMs       int64
	CPUSystemMs     int64
	MemoryRSSBytes  int64
	DiskReadBytes   int64
	DiskWriteBytes  int64
	ContextSwitches int64
}

type procSnapshot struct {
	utime          uint64
	stime          uint64
	rss            int64
	voluntaryCtxSw int64
	nonvolCtxSw    int64
	readBytes      int64
	writeBytes     int64
}

// BeginOverhead records PlatformIO's current /proc/self resource usage.
// Call it immediately before a span of ReadBatch/WriteBatch calls whose
// cost is to be measured.
func (p *PlatformIO) BeginOverhead() {
	p.overheadBefore = readProcSnapshot(os.Getpid())
	p.overheadStarted = true
}

// EndOverhead returns the delta since the matching BeginOverhead, except
// MemoryRSSBytes, which is the resident set size at the time of the call. Calling
// it without a prior BeginOverhead returns a zero OverheadSummary.
func (p *PlatformIO) EndOverhead() OverheadSummary {
	if !p.overheadStarted {
		return OverheadSummary{}
	}
	before := p.overheadBefore
	now := readProcSnapshot(os.Getpid())
	return OverheadSummary{
		CPUUserMs:       ticksToMs(now.utime - before.utime),
		CPUSystemMs:     ticksToMs(now.stime - before.stime),
		MemoryRSSBytes:  now.rss * 4096,
		DiskReadBytes:   now.readBytes - before.readBytes,
		DiskWriteBytes:  now.writeBytes - before.writeBytes,
		ContextSwitches: (now.voluntaryCtxSw - before.voluntaryCtxSw) + (now.nonvolCtxSw - before.nonvolCtxSw),
	}
}

// ticksToMs converts clock ticks (SC_CLK_TCK, 100 on virtually all Linux
// systems) to milliseconds.
func ticksToMs(ticks uint64) int64 {
	return int64(ticks) * 10
}

// readProcSnapshot reads /proc/[pid]/stat, /proc/[pid]/io, and
// /proc/[pid]/status for pid. Returns zero values for any file that
// can't be read (e.g. /proc/[pid]/io requires same-user or root).
func readProcSnapshot(pid int) procSnapshot {
	var snap procSnapshot

	if statData, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid)); err == nil {
		snap = parseProcStat(string(statData))
	}
	if ioData, err := os.ReadFile(fmt.Sprintf("/proc/%d/io", pid)); err == nil {
		snap.readBytes, snap.writeBytes = parseProcIO(string(ioData))
	}
	if statusData, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid)); err == nil {
		snap.voluntaryCtxSw, snap.nonvolCtxSw = parseProcStatus(string(statusData))
	}
	return snap
}

// parseProcStat extracts utime, stime, rss from /proc/[pid]/stat content.
func parseProcStat(content string) procSnapshot {
	var snap procSnapshot

	commEnd := strings.LastIndex(content, ")")
	if commEnd < 0 || commEnd+2 >= len(content) {
		return snap
	}
	fields := strings.Fields(content[commEnd+2:])
	// fields[0]=state, fields[11]=utime, fields[12]=stime, fields[21]=rss
	if len(fields) > 12 {
		snap.utime, _ = strconv.ParseUint(fields[11], 10, 64)
		snap.stime, _ = strconv.ParseUint(fields[12], 10, 64)
	}
	if len(fields) > 21 {
		snap.rss, _ = strconv.ParseInt(fields[21], 10, 64)
	}
	return snap
}

// parseProcIO extracts read_bytes and write_bytes from /proc/[pid]/io.
func parseProcIO(content string) (readBytes, writeBytes int64) {
	for _, line := range strings.Split(content, "\n") {
		fields := strings.SplitN(line, ": ", 2)
		if len(fields) != 2 {
			continue
		}
		val, _ := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
		switch fields[0] {
		case "read_bytes":
			readBytes = val
		case "write_bytes":
			writeBytes = val
		}
	}
	return
}

// parseProcStatus extracts voluntary/nonvoluntary context switches from
// /proc/[pid]/status.
func parseProcStatus(content string) (voluntary, nonvoluntary int64) {
	for _, line := range strings.Split(content, "\n") {
		fields := strings.SplitN(line, ":\t", 2)
		if len(fields) != 2 {
			continue
		}
		val, _ := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
		switch fields[0] {
		case "voluntary_ctxt_switches":
			voluntary = val
		case "nonvoluntary_ctxt_switches":
			nonvoluntary = val
		}
	}
	return
}
