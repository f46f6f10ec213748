// Package saverestore implements the save-restore context: a session
// object that enrolls a control's prior raw value the first time it is
// written through the session, persists the accumulated snapshot to disk
// as it grows, and can replay every enrolled value back (Restore) on
// request or have the caller rely on the on-disk snapshot surviving a
// crash between enrollment and an explicit restore.
package saverestore

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/geopm/geopmd/internal/geopmerr"
	"github.com/geopm/geopmd/internal/platformio"
	"github.com/geopm/geopmd/internal/topo"
)

// Entry is one enrolled control: its identity for WriteControl/ReadSignal
// and the raw value observed the moment before its first write in this
// session.
type Entry struct {
	Name      string      `json:"name"`
	Domain    topo.Domain `json:"domain"`
	DomainIdx int         `json:"domain_idx"`
	Raw       float64     `json:"setting"`
}

type snapshotFile struct {
	Session  string  `json:"session"`
	Settings []Entry `json:"settings"`
}

// Context is an owned, single-session save-restore handle. It is not safe
// for concurrent use, matching the single-threaded model every other
// PlatformIO-adjacent type in this tree follows.
type Context struct {
	id       uuid.UUID
	pio      *platformio.PlatformIO
	path     string
	order    []string // enrollment order, keyed by Name|Domain|DomainIdx
	enrolled map[string]Entry
	restored bool
}

func entryKey(name string, domain topo.Domain, idx int) string {
	return fmt.Sprintf("%s|%d|%d", name, domain, idx)
}

// NewContext returns a Context that will persist its growing snapshot to
// path as controls are enrolled.
func NewContext(pio *platformio.PlatformIO, path string) *Context {
	return &Context{
		id:       uuid.New(),
		pio:      pio,
		path:     path,
		enrolled: make(map[string]Entry),
	}
}

// ID returns the context's session identifier.
func (c *Context) ID() uuid.UUID { return c.id }

// Write enrolls (name, domain, idx)'s current raw value on first write
// within this session, persists the updated snapshot to disk, and then
// issues the write through the underlying PlatformIO.
func (c *Context) Write(name string, domain topo.Domain, idx int, value float64) error {
	key := entryKey(name, domain, idx)
	if _, already := c.enrolled[key]; !already {
		raw, err := c.pio.ReadSignal(name, domain, idx)
		if err != nil {
			return err
		}
		e := Entry{Name: name, Domain: domain, DomainIdx: idx, Raw: raw}
		c.enrolled[key] = e
		c.order = append(c.order, key)
		if err := c.persist(); err != nil {
			return err
		}
	}
	return c.pio.WriteControl(name, domain, idx, value)
}

// Restore replays every enrolled control back to its pre-session raw
// value, in enrollment order, then clears the session and removes its
// on-disk snapshot.
func (c *Context) Restore() error {
	for _, key := range c.order {
		e := c.enrolled[key]
		if err := c.pio.WriteControl(e.Name, e.Domain, e.DomainIdx, e.Raw); err != nil {
			return err
		}
	}
	c.enrolled = make(map[string]Entry)
	c.order = nil
	c.restored = true
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return geopmerr.Wrap(geopmerr.Io, "saverestore.restore", c.path, err)
	}
	return nil
}

// Close persists the current snapshot one final time if Restore was never
// called, leaving it on disk for a later recovery pass. It does not
// replay any write; that is Restore's job.
func (c *Context) Close() error {
	if c.restored {
		return nil
	}
	return c.persist()
}

func (c *Context) persist() error {
	file := snapshotFile{Session: c.id.String()}
	for _, key := range c.order {
		file.Settings = append(file.Settings, c.enrolled[key])
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return geopmerr.Wrap(geopmerr.Io, "saverestore.persist", c.path, err)
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return geopmerr.Wrap(geopmerr.Io, "saverestore.persist", c.path, err)
	}
	return nil
}

// Load reads a previously persisted snapshot file, for use by a recovery
// pass after a crash left a session's Close without an explicit Restore.
func Load(path string) (session string, entries []Entry, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, geopmerr.Wrap(geopmerr.Io, "saverestore.load", path, err)
	}
	var file snapshotFile
	if jsonErr := json.Unmarshal(data, &file); jsonErr != nil {
		return "", nil, geopmerr.Wrap(geopmerr.MalformedConfig, "saverestore.load", path, jsonErr)
	}
	return file.Session, file.Settings, nil
}

// RestoreFrom replays a loaded snapshot's entries through pio, in the
// order Load returned them. It is the recovery-path counterpart to
// Context.Restore for a session whose process crashed before calling it.
func RestoreFrom(pio *platformio.PlatformIO, entries []Entry) error {
	for _, e := range entries {
		if err := pio.WriteControl(e.Name, e.Domain, e.DomainIdx, e.Raw); err != nil {
			return err
		}
	}
	return nil
}
