// Package geopmerr defines the error taxonomy shared across the PlatformIO
// core: every backend, the federation layer, and StatsCollector raise one
// of these kinds rather than an ad hoc error string.
package geopmerr

import "fmt"

// Kind identifies why an operation failed.
type Kind int

const (
	// UnknownName means a signal/control name is not registered anywhere.
	UnknownName Kind = iota
	// DomainMismatch means the requested domain differs from the name's native domain.
	DomainMismatch
	// DomainIndexOutOfRange means idx is not in [0, num_domain(d)).
	DomainIndexOutOfRange
	// NotReady means sample() was called before read_batch(), or a derivative
	// doesn't yet have two distinct-time samples.
	NotReady
	// PushAfterStart means push_signal/push_control was called after read_batch/adjust.
	PushAfterStart
	// UnsetControl means write_batch was called before every pushed control was adjusted.
	UnsetControl
	// NotWritable means a write was attempted against a signal-only attribute,
	// or a control whose writability probe failed.
	NotWritable
	// MalformedConfig means a JSON schema violation in MSR augmentation or a save file.
	MalformedConfig
	// Io wraps a -errno from a lower I/O layer.
	Io
	// Capability means a required OS capability (e.g. CAP_SYS_ADMIN) is missing.
	Capability
	// AffinityStarvation means the GPU-to-CPU affinity solver could not assign every CPU.
	AffinityStarvation
	// BufferTooSmall means a C-string report output needs more space.
	BufferTooSmall
	// NameTooLong means a field exceeds the C-string NAME_MAX bound.
	NameTooLong
	// Unsupported means a feature was requested on hardware that doesn't expose it.
	Unsupported
	// Logic means an internal invariant was violated.
	Logic
)

var kindNames = map[Kind]string{
	UnknownName:           "UnknownName",
	DomainMismatch:        "DomainMismatch",
	DomainIndexOutOfRange: "DomainIndexOutOfRange",
	NotReady:              "NotReady",
	PushAfterStart:        "PushAfterStart",
	UnsetControl:          "UnsetControl",
	NotWritable:           "NotWritable",
	MalformedConfig:       "MalformedConfig",
	Io:                    "Io",
	Capability:            "Capability",
	AffinityStarvation:    "AffinityStarvation",
	BufferTooSmall:        "BufferTooSmall",
	NameTooLong:           "NameTooLong",
	Unsupported:           "Unsupported",
	Logic:                 "Logic",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Error is the concrete error type raised across the core. Op identifies the
// failing operation (e.g. "push_signal"), Name the signal/control/file
// involved, and Err an optional wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Name string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Name != "":
		return fmt.Sprintf("%s: %s %q: %v", e.Kind, e.Op, e.Name, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Name != "":
		return fmt.Sprintf("%s: %s %q", e.Kind, e.Op, e.Name)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error with no wrapped cause.
func New(kind Kind, op, name string) *Error {
	return &Error{Kind: kind, Op: op, Name: name}
}

// Wrap constructs an *Error wrapping a lower-layer cause.
func Wrap(kind Kind, op, name string, err error) *Error {
	return &Error{Kind: kind, Op: op, Name: name, Err: err}
}

// As reports whether err (or any error it wraps) is a *Error and, if so,
// returns its Kind.
func As(err error) (Kind, bool) {
	var e *Error
	for err != nil {
		if ge, ok := err.(*Error); ok {
			e = ge
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return 0, false
	}
	return e.Kind, true
}
