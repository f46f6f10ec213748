package sysfs

import (
	"github.com/geopm/geopmd/internal/iogroup"
	"github.com/geopm/geopmd/internal/topo"
)

// builtinAttributes is the fixed attribute table this backend knows about
// without any runtime configuration: current and maximum CPU scaling
// frequency (cpufreq) and a per-package thermal zone reading.
func builtinAttributes() []Attribute {
	return []Attribute{
		{
			Name:         "CPUFREQ_SCALING_CUR",
			PathTemplate: "cpu%d/cpufreq/scaling_cur_freq",
			Domain:       topo.DomainCPU,
			Units:        iogroup.UnitsHertz,
			Behavior:     iogroup.BehaviorVariable,
			Aggregation:  iogroup.AggAverage,
			Writable:     false,
			Parse:        scaledKHzParse,
			Description:  "current cpufreq scaling frequency",
		},
		{
			Name:         "CPUFREQ_SCALING_MAX",
			PathTemplate: "cpu%d/cpufreq/scaling_max_freq",
			Domain:       topo.DomainCPU,
			Units:        iogroup.UnitsHertz,
			Behavior:     iogroup.BehaviorVariable,
			Aggregation:  iogroup.AggAverage,
			Writable:     true,
			Parse:        scaledKHzParse,
			Generate:     scaledKHzGenerate,
			Description:  "maximum cpufreq scaling frequency",
		},
		{
			Name:         "THERMAL_ZONE_TEMP",
			PathTemplate: "thermal_zone%d/temp",
			Domain:       topo.DomainPackage,
			Units:        iogroup.UnitsCelsius,
			Behavior:     iogroup.BehaviorVariable,
			Aggregation:  iogroup.AggAverage,
			Writable:     false,
			Parse:        milliCelsiusParse,
			Description:  "thermal zone temperature",
		},
	}
}

// scaledKHzParse converts a cpufreq sysfs value, given in kHz, to hertz.
func scaledKHzParse(s string) (float64, error) {
	v, err := ParseFloat(s)
	if err != nil {
		return 0, err
	}
	return v * 1000, nil
}

// scaledKHzGenerate converts a hertz value back to the kHz integer string
// cpufreq sysfs knobs expect.
func scaledKHzGenerate(v float64) string {
	return GenerateInt(v / 1000)
}

// milliCelsiusParse converts a thermal_zone sysfs value, given in
// milli-degrees Celsius, to degrees Celsius.
func milliCelsiusParse(s string) (float64, error) {
	v, err := ParseFloat(s)
	if err != nil {
		return 0, err
	}
	return v / 1000, nil
}
