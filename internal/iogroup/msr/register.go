package msr

import "github.com/geopm/geopmd/internal/topo"

// Register describes one model-specific register: its 64-bit offset, the
// domain its fields are bound to, and the named fields it publishes.
type Register struct {
	Name   string
	Offset uint64
	Domain topo.Domain
	Fields map[string]Field
}
