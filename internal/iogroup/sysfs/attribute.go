// Package sysfs implements the sysfs backend: named signals/controls
// backed by small text files under a driver directory, each with its own
// parse (string -> double) and generate (double -> string) function,
// batched through internal/ioqueue the same way the MSR backend batches
// register reads.
package sysfs

import (
	"strconv"
	"strings"

	"github.com/geopm/geopmd/internal/iogroup"
	"github.com/geopm/geopmd/internal/topo"
)

// Attribute describes one sysfs-backed signal/control. PathTemplate
// contains a single "%d" when the attribute is per-domain-index (e.g. one
// file per CPU); an attribute with no "%d" is domain-singleton (only
// idx 0 is valid for it).
type Attribute struct {
	Name         string
	PathTemplate string
	Domain       topo.Domain
	Units        iogroup.Units
	Behavior     iogroup.Behavior
	Aggregation  iogroup.Aggregation
	Writable     bool
	Parse        func(string) (float64, error)
	Generate     func(float64) string
	Description  string
}

// ParseFloat trims surrounding whitespace/NUL padding and parses the
// remainder as a float64, the parse function most sysfs text attributes
// use directly.
func ParseFloat(s string) (float64, error) {
	return strconv.ParseFloat(cleanText(s), 64)
}

// GenerateInt formats v as a bare integer string, the generate function
// most sysfs control knobs expect (e.g. a frequency in kHz).
func GenerateInt(v float64) string {
	return strconv.FormatInt(int64(v), 10)
}

// GenerateFloat formats v with no trailing zeros, for knobs that accept a
// fractional value.
func GenerateFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func cleanText(s string) string {
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
