// Package msr implements the MSR backend: named bit-field views over
// model-specific registers, decoded/encoded through a fixed set of
// conversion functions, augmentable at runtime with JSON without
// recompilation.
package msr

import (
	"math"

	"github.com/geopm/geopmd/internal/geopmerr"
	"github.com/geopm/geopmd/internal/iogroup"
)

// Function is one of the seven bit-field decode/encode conversions a field
// may declare.
type Function int

const (
	FunctionScale Function = iota
	FunctionLogHalf
	FunctionSevenBitFloat
	FunctionOverflow
	FunctionLogical
	FunctionSelect
	FunctionIdentity
)

var functionNames = map[string]Function{
	"scale":           FunctionScale,
	"log_half":        FunctionLogHalf,
	"seven_bit_float": FunctionSevenBitFloat,
	"overflow":        FunctionOverflow,
	"logical":         FunctionLogical,
	"select":          FunctionSelect,
	"identity":        FunctionIdentity,
}

func parseFunction(s string) (Function, bool) {
	f, ok := functionNames[s]
	return f, ok
}

// Field is one named bit-field view within an MSR: its position, its
// decode/encode convention, and the metadata PlatformIO needs to publish
// it as a signal and, if writable, a control.
type Field struct {
	Name        string
	BeginBit    int
	EndBit      int // inclusive
	Function    Function
	Units       iogroup.Units
	Scalar      float64
	Writable    bool
	Behavior    iogroup.Behavior
	Aggregation iogroup.Aggregation
	Description string
}

func (f Field) width() uint {
	return uint(f.EndBit - f.BeginBit + 1)
}

// mask returns the field's bits, positioned at BeginBit within the full
// 64-bit register.
func (f Field) mask() uint64 {
	if f.width() >= 64 {
		return math.MaxUint64
	}
	return ((uint64(1) << f.width()) - 1) << uint(f.BeginBit)
}

// overflowState tracks a monotonic counter field's accumulated wraps
// across successive read_batch calls. One instance is kept per pushed
// handle backed by an overflow-function field.
type overflowState struct {
	haveLast bool
	lastRaw  uint64
	carry    uint64
}

// decode converts raw, the full register value, into the field's decoded
// SI-ish value. state is nil unless Function == FunctionOverflow.
func (f Field) decode(raw uint64, state *overflowState) (float64, error) {
	extracted := (raw & f.mask()) >> uint(f.BeginBit)
	switch f.Function {
	case FunctionScale, FunctionSelect:
		return f.Scalar * float64(extracted), nil
	case FunctionIdentity:
		return float64(extracted), nil
	case FunctionLogical:
		if extracted != 0 {
			return 1, nil
		}
		return 0, nil
	case FunctionLogHalf:
		return f.Scalar * math.Pow(2, -float64(extracted)), nil
	case FunctionSevenBitFloat:
		z := (extracted >> 5) & 0x3
		y := extracted & 0x1F
		return f.Scalar * math.Pow(2, float64(y)) * (1 + float64(z)/4.0), nil
	case FunctionOverflow:
		width := f.width()
		span := uint64(1) << width
		if state.haveLast && extracted < state.lastRaw {
			state.carry += span
		}
		state.haveLast = true
		state.lastRaw = extracted
		return f.Scalar * float64(state.carry+extracted), nil
	default:
		return 0, geopmerr.New(geopmerr.Logic, "msr.decode", f.Name)
	}
}

// encode converts value into the field's raw bit pattern, already shifted
// into position at BeginBit but not yet masked against the register's
// other fields (the caller applies mask()).
func (f Field) encode(value float64) (uint64, error) {
	switch f.Function {
	case FunctionScale, FunctionSelect, FunctionIdentity:
		scalar := f.Scalar
		if f.Function == FunctionIdentity {
			scalar = 1
		}
		raw := uint64(math.Round(value / scalar))
		return (raw << uint(f.BeginBit)) & f.mask(), nil
	case FunctionLogical:
		if value != 0 {
			return f.mask(), nil
		}
		return 0, nil
	case FunctionLogHalf:
		if value <= 0 {
			return 0, geopmerr.New(geopmerr.Logic, "msr.encode", f.Name+": input value <= 0 for log_half")
		}
		raw := uint64(math.Round(-math.Log2(value / f.Scalar)))
		return (raw << uint(f.BeginBit)) & f.mask(), nil
	case FunctionSevenBitFloat:
		if value <= 0 {
			return 0, geopmerr.New(geopmerr.Logic, "msr.encode", f.Name+": input value <= 0 for seven_bit_float")
		}
		ratio := value / f.Scalar
		y := math.Floor(math.Log2(ratio))
		z := math.Round((ratio/math.Pow(2, y) - 1) * 4)
		if z >= 4 {
			y++
			z = 0
		}
		raw := (uint64(z)&0x3)<<5 | (uint64(y) & 0x1F)
		return (raw << uint(f.BeginBit)) & f.mask(), nil
	case FunctionOverflow:
		return 0, geopmerr.New(geopmerr.Unsupported, "msr.encode", f.Name+": overflow fields are not writable")
	default:
		return 0, geopmerr.New(geopmerr.Logic, "msr.encode", f.Name)
	}
}
