package msr

import (
	"github.com/geopm/geopmd/internal/iogroup"
	"github.com/geopm/geopmd/internal/topo"
)

// builtinRegisters is the small fixed table of registers this backend
// knows about without any JSON augmentation. It covers the scenarios
// spec.md §8 exercises directly: a frequency-status/control pair, the
// package RAPL energy counter, and the two registers a core temperature
// reading is derived from.
func builtinRegisters() []Register {
	return []Register{
		{
			Name:   "PERF_STATUS",
			Offset: 0x198,
			Domain: topo.DomainCPU,
			Fields: map[string]Field{
				"FREQ": {
					Name: "FREQ", BeginBit: 8, EndBit: 15,
					Function: FunctionScale, Units: iogroup.UnitsHertz, Scalar: 1.0e8,
					Writable: false, Behavior: iogroup.BehaviorVariable, Aggregation: iogroup.AggAverage,
					Description: "current operating frequency",
				},
			},
		},
		{
			Name:   "PERF_CTL",
			Offset: 0x199,
			Domain: topo.DomainCPU,
			Fields: map[string]Field{
				"FREQ": {
					Name: "FREQ", BeginBit: 8, EndBit: 15,
					Function: FunctionScale, Units: iogroup.UnitsHertz, Scalar: 1.0e8,
					Writable: true, Behavior: iogroup.BehaviorVariable, Aggregation: iogroup.AggAverage,
					Description: "requested operating frequency",
				},
			},
		},
		{
			Name:   "PKG_ENERGY_STATUS",
			Offset: 0x611,
			Domain: topo.DomainPackage,
			Fields: map[string]Field{
				"ENERGY": {
					Name: "ENERGY", BeginBit: 0, EndBit: 31,
					Function: FunctionScale, Units: iogroup.UnitsJoules, Scalar: 61.0e-6,
					Writable: false, Behavior: iogroup.BehaviorMonotone, Aggregation: iogroup.AggSum,
					Description: "package RAPL energy counter",
				},
			},
		},
		{
			Name:   "TEMPERATURE_TARGET",
			Offset: 0x1A2,
			Domain: topo.DomainPackage,
			Fields: map[string]Field{
				"PROCHOT_MIN": {
					Name: "PROCHOT_MIN", BeginBit: 16, EndBit: 23,
					Function: FunctionScale, Units: iogroup.UnitsCelsius, Scalar: 1.0,
					Writable: false, Behavior: iogroup.BehaviorConstant, Aggregation: iogroup.AggExpectSame,
					Description: "PROCHOT temperature offset",
				},
			},
		},
		{
			Name:   "THERM_STATUS",
			Offset: 0x19C,
			Domain: topo.DomainPackage,
			Fields: map[string]Field{
				"DIGITAL_READOUT": {
					Name: "DIGITAL_READOUT", BeginBit: 16, EndBit: 22,
					Function: FunctionScale, Units: iogroup.UnitsCelsius, Scalar: 1.0,
					Writable: false, Behavior: iogroup.BehaviorVariable, Aggregation: iogroup.AggAverage,
					Description: "degrees below PROCHOT",
				},
			},
		},
	}
}

// builtinAliases maps a bare (unprefixed) alias name to "REGISTER:FIELD".
// Aliases are bound at registration time and share the descriptor of the
// field they name, per spec.md §4.6.
func builtinAliases() map[string]string {
	return map[string]string{
		"CPU_ENERGY":            "PKG_ENERGY_STATUS:ENERGY",
		"CPU_FREQUENCY_STATUS":  "PERF_STATUS:FREQ",
		"CPU_FREQUENCY_CONTROL": "PERF_CTL:FREQ",
	}
}

// compositeCoreTemperature is the bare name of the one alias this backend
// derives from two other fields rather than publishing directly:
// CPU_CORE_TEMPERATURE = TEMPERATURE_TARGET:PROCHOT_MIN - THERM_STATUS:DIGITAL_READOUT.
const compositeCoreTemperature = "CPU_CORE_TEMPERATURE"
