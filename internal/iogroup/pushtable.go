package iogroup

import (
	"fmt"

	"github.com/geopm/geopmd/internal/geopmerr"
)

// pushKey identifies a pushed (name, domain, idx) triple.
type pushKey struct {
	name   string
	domain int
	idx    int
}

// PushTable is embedded by concrete backends to implement the handle
// lifecycle common to every IOGroup: dense monotonic handle allocation,
// idempotent re-push of an identical triple, and rejecting any push once
// the backend has started (its first ReadBatch or WriteBatch; Adjust does
// not start the table).
type PushTable struct {
	started bool
	index   map[pushKey]Handle
	keys    []pushKey
}

// Push returns the handle for (name, domain, idx), allocating a new one if
// this is the first time this triple has been pushed. It fails with
// geopmerr.PushAfterStart if Start() has already been called.
func (t *PushTable) Push(op, name string, domain, idx int) (Handle, error) {
	if t.started {
		return 0, geopmerr.New(geopmerr.PushAfterStart, op, name)
	}
	if t.index == nil {
		t.index = make(map[pushKey]Handle)
	}
	key := pushKey{name: name, domain: domain, idx: idx}
	if h, ok := t.index[key]; ok {
		return h, nil
	}
	h := Handle(len(t.keys))
	t.index[key] = h
	t.keys = append(t.keys, key)
	return h, nil
}

// Start marks the table as started; subsequent Push calls fail. Idempotent.
func (t *PushTable) Start() { t.started = true }

// Started reports whether Start has been called.
func (t *PushTable) Started() bool { return t.started }

// Len returns the number of distinct handles allocated.
func (t *PushTable) Len() int { return len(t.keys) }

// Key returns the (name, domain, idx) triple that produced h.
func (t *PushTable) Key(h Handle) (name string, domain, idx int, err error) {
	if int(h) < 0 || int(h) >= len(t.keys) {
		return "", 0, 0, geopmerr.New(geopmerr.Logic, "push_table.key", fmt.Sprintf("handle=%d", h))
	}
	k := t.keys[h]
	return k.name, k.domain, k.idx, nil
}

// CheckReady fails with geopmerr.NotReady unless the table has started,
// i.e. at least one ReadBatch or WriteBatch has occurred.
func (t *PushTable) CheckReady(op string, h Handle) error {
	if !t.started {
		return geopmerr.New(geopmerr.NotReady, op, fmt.Sprintf("handle=%d", h))
	}
	return nil
}
