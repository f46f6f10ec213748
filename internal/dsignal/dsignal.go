// Package dsignal implements derived signals: values computed from one or
// more other signals rather than read directly off a backend. Every
// derived signal composes on top of a Signal, which may itself be another
// derived signal or a thin wrapper around a raw backend handle.
//
// Each derived signal has its own setup_batch that recursively prepares its
// inputs exactly once; sample fails with geopmerr.NotReady if called before
// setup_batch.
package dsignal

import "github.com/geopm/geopmd/internal/geopmerr"

// Signal is the common interface every derived (and raw-wrapping) signal
// implements: recursively prepare its inputs once, then yield a value with
// no further I/O.
type Signal interface {
	// SetupBatch recursively prepares this signal's inputs. Calling it more
	// than once is a no-op, matching the idempotent push semantics of the
	// backends it ultimately wraps.
	SetupBatch() error
	// Sample returns the signal's current value. It must not block or
	// issue I/O; it fails with geopmerr.NotReady if SetupBatch has not run.
	Sample() (float64, error)
}

// raw adapts a plain read function (typically a backend's Sample(handle))
// into a Signal, so derived signals can wrap either a backend handle or
// another derived signal uniformly.
type raw struct {
	read  func() (float64, error)
	ready bool
}

// NewRaw wraps read as a Signal whose SetupBatch is a no-op flag flip; read
// itself is assumed to already be gated by the backend's own batch state.
func NewRaw(read func() (float64, error)) Signal {
	return &raw{read: read}
}

func (r *raw) SetupBatch() error {
	r.ready = true
	return nil
}

func (r *raw) Sample() (float64, error) {
	if !r.ready {
		return 0, geopmerr.New(geopmerr.NotReady, "dsignal.raw.sample", "")
	}
	return r.read()
}

// setupAll recursively prepares every input, stopping at the first error.
func setupAll(inputs ...Signal) error {
	for _, in := range inputs {
		if err := in.SetupBatch(); err != nil {
			return err
		}
	}
	return nil
}
