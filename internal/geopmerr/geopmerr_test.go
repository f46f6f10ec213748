package geopmerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessageShapes(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want string
	}{
		{"op+name", New(UnknownName, "push_signal", "MSR::BOGUS"), `UnknownName: push_signal "MSR::BOGUS"`},
		{"op only", New(Logic, "write_batch", ""), "Logic: write_batch"},
		{"wrapped", Wrap(Io, "read_batch", "MSR::ENERGY", errors.New("eof")), `Io: read_batch "MSR::ENERGY": eof`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.err.Error(); got != c.want {
				t.Errorf("Error() = %q, want %q", got, c.want)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Io, "submit", "fd=3", cause)
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
}

func TestAsThroughWrapping(t *testing.T) {
	inner := New(DomainMismatch, "push_control", "MSR::PERF_CTL:FREQ")
	outer := fmt.Errorf("context: %w", inner)
	kind, ok := As(outer)
	if !ok || kind != DomainMismatch {
		t.Errorf("As(outer) = (%v, %v), want (DomainMismatch, true)", kind, ok)
	}
	if _, ok := As(errors.New("plain")); ok {
		t.Errorf("As(plain error) = true, want false")
	}
}

func TestToCodeRoundTrip(t *testing.T) {
	for kind, code := range kindToCode {
		err := New(kind, "op", "")
		if got := ToCode(err); got != code {
			t.Errorf("ToCode(%v) = %d, want %d", kind, got, code)
		}
		if CodeString(code) == "" {
			t.Errorf("CodeString(%d) empty", code)
		}
	}
	if ToCode(nil) != 0 {
		t.Errorf("ToCode(nil) != 0")
	}
	if ToCode(errors.New("untyped")) != CodeLogic {
		t.Errorf("ToCode(untyped) != CodeLogic")
	}
}

func TestRecoverMapsToLogic(t *testing.T) {
	if Recover(nil) != nil {
		t.Errorf("Recover(nil) != nil")
	}
	err := Recover("panic value")
	kind, ok := As(err)
	if !ok || kind != Logic {
		t.Errorf("Recover(...) kind = (%v,%v), want (Logic,true)", kind, ok)
	}
}
