package dsignal

import (
	"math"
	"sort"

	"github.com/geopm/geopmd/internal/geopmerr"
	"github.com/geopm/geopmd/internal/iogroup"
)

// Aggregate combines a set of finer-domain inputs into one coarser-domain
// value using the signal's declared aggregation rule. It is how the
// federation layer satisfies a push_signal at a coarser domain than a
// backend natively publishes.
type Aggregate struct {
	inputs []Signal
	agg    iogroup.Aggregation
	ready  bool
}

// NewAggregate returns an Aggregate over inputs combined with agg.
func NewAggregate(agg iogroup.Aggregation, inputs ...Signal) *Aggregate {
	return &Aggregate{inputs: inputs, agg: agg}
}

func (a *Aggregate) SetupBatch() error {
	if a.ready {
		return nil
	}
	if err := setupAll(a.inputs...); err != nil {
		return err
	}
	a.ready = true
	return nil
}

func (a *Aggregate) Sample() (float64, error) {
	if !a.ready {
		return 0, geopmerr.New(geopmerr.NotReady, "dsignal.aggregate.sample", "")
	}
	values := make([]float64, len(a.inputs))
	for i, in := range a.inputs {
		v, err := in.Sample()
		if err != nil {
			return 0, err
		}
		values[i] = v
	}
	return reduce(a.agg, values)
}

func reduce(agg iogroup.Aggregation, values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, geopmerr.New(geopmerr.Logic, "dsignal.aggregate.reduce", "no inputs")
	}
	switch agg {
	case iogroup.AggSum:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum, nil
	case iogroup.AggAverage:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values)), nil
	case iogroup.AggMin:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min, nil
	case iogroup.AggMax:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max, nil
	case iogroup.AggMedian:
		return median(values), nil
	case iogroup.AggStddev:
		return stddev(values), nil
	case iogroup.AggExpectSame:
		first := values[0]
		for _, v := range values[1:] {
			if v != first {
				return math.NaN(), nil
			}
		}
		return first, nil
	case iogroup.AggSelectFirst:
		return values[0], nil
	case iogroup.AggLogicalAnd:
		for _, v := range values {
			if v == 0 {
				return 0, nil
			}
		}
		return 1, nil
	case iogroup.AggLogicalOr:
		for _, v := range values {
			if v != 0 {
				return 1, nil
			}
		}
		return 0, nil
	case iogroup.AggRegionHash, iogroup.AggRegionHint:
		return reduceRegionCode(values), nil
	default:
		return 0, geopmerr.New(geopmerr.Logic, "dsignal.aggregate.reduce", "unknown aggregation")
	}
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

// reduceRegionCode implements the region_hash/region_hint aggregation
// convention: a 64-bit code embedded bit-for-bit in a double (via its
// uint64 bit pattern) is expected to be identical across every finer
// sample; disagreement yields the GEOPM_REGION_HASH_UNMARKED sentinel.
func reduceRegionCode(values []float64) float64 {
	first := math.Float64bits(values[0])
	for _, v := range values[1:] {
		if math.Float64bits(v) != first {
			return math.Float64frombits(regionHashUnmarked)
		}
	}
	return values[0]
}

// regionHashUnmarked is GEOPM's convention for "no consistent region
// marking" when region codes disagree across an aggregation's inputs.
const regionHashUnmarked = 0x725e8066
