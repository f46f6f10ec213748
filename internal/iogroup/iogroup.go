package iogroup

import "github.com/geopm/geopmd/internal/topo"

// Handle is a dense, non-negative, backend-local integer returned by
// push_signal/push_control. It is stable for the life of the backend.
type Handle int

// IOGroup is the contract every signal/control backend implements. A
// backend publishes a namespace of named signals and/or controls, each
// bound to a single topo.Domain, and supports both a single-shot path
// (ReadSignal/WriteControl) and a batched push/read-batch/sample,
// adjust/write-batch path.
//
// Implementations are not required to be safe for concurrent use; per
// spec.md §5 all calls against one PlatformIO (and transitively one
// IOGroup) happen on a single thread.
type IOGroup interface {
	// Name returns the backend's prefix tag, e.g. "MSR", "SERVICE", "NVML".
	Name() string

	SignalNames() []string
	ControlNames() []string
	IsValidSignal(name string) bool
	IsValidControl(name string) bool

	SignalInfo(name string) (SignalInfo, error)
	ControlInfo(name string) (ControlInfo, error)

	// PushSignal/PushControl register interest in (name, domain, idx) and
	// return a stable handle. Repeated pushes of an identical triple return
	// the same handle. Pushing after ReadBatch or WriteBatch has been called
	// fails with geopmerr.PushAfterStart; Adjust alone does not end the push
	// phase.
	PushSignal(name string, domain topo.Domain, idx int) (Handle, error)
	PushControl(name string, domain topo.Domain, idx int) (Handle, error)

	// ReadBatch issues every queued read as one batch. It is the only point
	// at which this backend is allowed to perform blocking I/O for reads.
	ReadBatch() error
	// Sample returns the decoded value from the most recent ReadBatch. It
	// never blocks or performs I/O.
	Sample(h Handle) (float64, error)

	// Adjust stages a value for h; only the last staged value before
	// WriteBatch is committed. It never blocks.
	Adjust(h Handle, value float64) error
	// WriteBatch commits every staged Adjust as one batch.
	WriteBatch() error

	// ReadSignal/WriteControl are single-shot and bypass batch state
	// entirely; they must never allocate or reuse a batch handle.
	ReadSignal(name string, domain topo.Domain, idx int) (float64, error)
	WriteControl(name string, domain topo.Domain, idx int, value float64) error

	// SaveControl/RestoreControl snapshot and restore this backend's
	// writable controls to/from path.
	SaveControl(path string) error
	RestoreControl(path string) error
}

// ValueValidator is implemented by backends that can mark a sample as an
// explicit invalid sentinel distinct from NaN (e.g. a hardware "not
// present" code). StatsCollector skips both NaN and backend-invalid
// samples when updating moments.
type ValueValidator interface {
	IsValidValue(v float64) bool
}
