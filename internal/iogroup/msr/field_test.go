package msr

import (
	"math"
	"testing"
)

func TestFieldDecodeScale(t *testing.T) {
	f := Field{BeginBit: 8, EndBit: 15, Function: FunctionScale, Scalar: 1.0e8}
	raw := uint64(0x14) << 8 // 20 in the field's bits
	got, err := f.decode(raw, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if want := 20 * 1.0e8; got != want {
		t.Errorf("decode = %v, want %v", got, want)
	}
}

func TestFieldEncodeScaleRoundTrips(t *testing.T) {
	f := Field{BeginBit: 8, EndBit: 15, Function: FunctionScale, Scalar: 1.0e8, Writable: true}
	raw, err := f.encode(20 * 1.0e8)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := f.decode(raw, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != 20*1.0e8 {
		t.Errorf("round trip = %v, want %v", got, 20*1.0e8)
	}
}

func TestFieldDecodeLogHalf(t *testing.T) {
	f := Field{BeginBit: 0, EndBit: 7, Function: FunctionLogHalf, Scalar: 1.0}
	got, err := f.decode(2, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if want := 0.25; got != want {
		t.Errorf("decode = %v, want %v", got, want)
	}
}

func TestFieldLogHalfEncodeRejectsNonPositive(t *testing.T) {
	f := Field{BeginBit: 0, EndBit: 7, Function: FunctionLogHalf, Scalar: 1.0}
	if _, err := f.encode(0); err == nil {
		t.Fatal("expected error for value <= 0")
	}
	if _, err := f.encode(-1); err == nil {
		t.Fatal("expected error for negative value")
	}
}

func TestFieldSevenBitFloatMatchesReferenceVector(t *testing.T) {
	// scalar=3.0, value=9.0 -> raw 0x41 in an 8-bit sub-field at bits 16-23,
	// the one control-write test vector available in original_source.
	f := Field{BeginBit: 16, EndBit: 23, Function: FunctionSevenBitFloat, Scalar: 3.0, Writable: true}
	raw, err := f.encode(9.0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if want := uint64(0x41) << 16; raw != want {
		t.Errorf("encode = 0x%x, want 0x%x", raw, want)
	}
	got, err := f.decode(raw, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != 9.0 {
		t.Errorf("decode = %v, want 9.0", got)
	}
}

func TestFieldSevenBitFloatEncodeRejectsNonPositive(t *testing.T) {
	f := Field{BeginBit: 16, EndBit: 23, Function: FunctionSevenBitFloat, Scalar: 3.0}
	if _, err := f.encode(0); err == nil {
		t.Fatal("expected error for value <= 0")
	}
}

func TestFieldOverflowAccumulatesAcrossWraps(t *testing.T) {
	f := Field{BeginBit: 0, EndBit: 7, Function: FunctionOverflow, Scalar: 1.0}
	var state overflowState

	got, err := f.decode(250, &state)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != 250 {
		t.Errorf("first decode = %v, want 250", got)
	}

	got, err = f.decode(10, &state) // wrapped past 255
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if want := 256.0 + 10; got != want {
		t.Errorf("decode after wrap = %v, want %v", got, want)
	}
}

func TestFieldOverflowEncodeUnsupported(t *testing.T) {
	f := Field{BeginBit: 0, EndBit: 7, Function: FunctionOverflow, Scalar: 1.0}
	if _, err := f.encode(1); err == nil {
		t.Fatal("expected overflow fields to reject encode")
	}
}

func TestFieldLogical(t *testing.T) {
	f := Field{BeginBit: 4, EndBit: 4, Function: FunctionLogical}
	if got, _ := f.decode(0, nil); got != 0 {
		t.Errorf("decode(0) = %v, want 0", got)
	}
	raw := uint64(1) << 4
	if got, _ := f.decode(raw, nil); got != 1 {
		t.Errorf("decode(set) = %v, want 1", got)
	}

	encoded, err := f.encode(1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if encoded != f.mask() {
		t.Errorf("encode(1) = 0x%x, want full mask 0x%x", encoded, f.mask())
	}
	if encoded, _ := f.encode(0); encoded != 0 {
		t.Errorf("encode(0) = 0x%x, want 0", encoded)
	}
}

func TestFieldIdentityIgnoresScalar(t *testing.T) {
	f := Field{BeginBit: 0, EndBit: 7, Function: FunctionIdentity, Scalar: 100, Writable: true}
	raw, err := f.encode(42)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if raw != 42 {
		t.Errorf("encode = %v, want 42 (scalar ignored)", raw)
	}
	got, err := f.decode(raw, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != 42 {
		t.Errorf("decode = %v, want 42", got)
	}
}

func TestFieldMaskWidth(t *testing.T) {
	f := Field{BeginBit: 8, EndBit: 15}
	if f.width() != 8 {
		t.Errorf("width = %d, want 8", f.width())
	}
	if want := uint64(0xFF00); f.mask() != want {
		t.Errorf("mask = 0x%x, want 0x%x", f.mask(), want)
	}
}

func TestFieldSelectMatchesScale(t *testing.T) {
	scale := Field{BeginBit: 0, EndBit: 3, Function: FunctionScale, Scalar: 2.0}
	sel := Field{BeginBit: 0, EndBit: 3, Function: FunctionSelect, Scalar: 2.0}
	for raw := uint64(0); raw < 16; raw++ {
		a, _ := scale.decode(raw, nil)
		b, _ := sel.decode(raw, nil)
		if a != b {
			t.Fatalf("raw=%d: scale=%v select=%v differ", raw, a, b)
		}
	}
}

func TestFieldDecodeUsesNaNOnlyThroughCaller(t *testing.T) {
	// decode itself never produces NaN for a well-formed field; this guards
	// against an accidental division path sneaking one in.
	f := Field{BeginBit: 0, EndBit: 7, Function: FunctionScale, Scalar: 1.0}
	got, err := f.decode(5, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if math.IsNaN(got) {
		t.Error("decode produced NaN for a well-formed scale field")
	}
}
