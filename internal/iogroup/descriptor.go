// Package iogroup defines the contract every signal/control backend
// implements, and the value objects (descriptors, enums) shared across all
// of them. Concrete backends live in sibling packages
// (internal/iogroup/msr, .../sysfs, .../gpu, ...); this package holds only
// the shape they all agree to.
package iogroup

import "github.com/geopm/geopmd/internal/topo"

// Units is the physical unit a signal or control is expressed in at the
// federation boundary. Backends convert their native vendor units (µJ, mW,
// kHz, centiseconds, ...) inward to these.
type Units int

const (
	UnitsNone Units = iota
	UnitsSeconds
	UnitsHertz
	UnitsWatts
	UnitsJoules
	UnitsCelsius
)

func (u Units) String() string {
	switch u {
	case UnitsNone:
		return "none"
	case UnitsSeconds:
		return "seconds"
	case UnitsHertz:
		return "hertz"
	case UnitsWatts:
		return "watts"
	case UnitsJoules:
		return "joules"
	case UnitsCelsius:
		return "celsius"
	default:
		return "invalid"
	}
}

// Aggregation is the policy used to derive a coarser-domain value from a
// set of finer-domain values.
type Aggregation int

const (
	AggSum Aggregation = iota
	AggAverage
	AggMin
	AggMax
	AggMedian
	AggStddev
	AggSelectFirst
	AggExpectSame
	AggLogicalAnd
	AggLogicalOr
	AggRegionHash
	AggRegionHint
)

func (a Aggregation) String() string {
	switch a {
	case AggSum:
		return "sum"
	case AggAverage:
		return "average"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggMedian:
		return "median"
	case AggStddev:
		return "stddev"
	case AggSelectFirst:
		return "select_first"
	case AggExpectSame:
		return "expect_same"
	case AggLogicalAnd:
		return "logical_and"
	case AggLogicalOr:
		return "logical_or"
	case AggRegionHash:
		return "region_hash"
	case AggRegionHint:
		return "region_hint"
	default:
		return "invalid"
	}
}

// Format is the decoded value's presentation type.
type Format int

const (
	FormatDouble Format = iota
	FormatFloat
	FormatInteger
	FormatHex
	FormatRaw64
)

// Behavior characterizes how a signal's value evolves over time, which
// drives how derivative/ratio signals treat it.
type Behavior int

const (
	BehaviorConstant Behavior = iota
	BehaviorMonotone
	BehaviorVariable
	BehaviorLabel
)

func (b Behavior) String() string {
	switch b {
	case BehaviorConstant:
		return "constant"
	case BehaviorMonotone:
		return "monotone"
	case BehaviorVariable:
		return "variable"
	case BehaviorLabel:
		return "label"
	default:
		return "invalid"
	}
}

// SignalInfo is the immutable descriptor of one named, readable attribute.
type SignalInfo struct {
	Name        string
	Domain      topo.Domain
	Units       Units
	Aggregation Aggregation
	Format      Format
	Behavior    Behavior
	Description string
}

// ControlInfo mirrors SignalInfo minus aggregation, plus a writability
// predicate that may depend on runtime capability probing (e.g. a turbo
// ratio control gated on a platform-info bit).
type ControlInfo struct {
	Name        string
	Domain      topo.Domain
	Units       Units
	Format      Format
	Behavior    Behavior
	Description string
	Writable    func() bool
}

// IsWritable evaluates the writability predicate, treating a nil predicate
// as always-writable (the common case for simple controls).
func (c ControlInfo) IsWritable() bool {
	if c.Writable == nil {
		return true
	}
	return c.Writable()
}
