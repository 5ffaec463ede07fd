package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseLoad,
				Kind:   KindOutsideSlot,
				Path:   []string{"aot", "slot2"},
				Addr:   0x7f0000000,
				Size:   0x1000,
				Detail: "loaded base outside slot",
			},
			contains: []string{"[load]", "outside_slot", "aot.slot2", "0x7f0000000", "0x1000", "loaded base outside slot"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseProtect,
				Kind:  KindRwxForbidden,
			},
			contains: []string{"[protect]", "rwx_forbidden"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseJit,
				Kind:   KindCommitFailed,
				Detail: "commit",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[jit]", "commit_failed", "commit", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseLayout,
		Kind:  KindReserveFailed,
		Cause: cause,
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the cause")
	}
}

func TestError_Is(t *testing.T) {
	a := Denial(KindRwxForbidden, 0x1000, 0x2000)
	b := &Error{Phase: PhaseProtect, Kind: KindRwxForbidden}
	c := &Error{Phase: PhaseProtect, Kind: KindTransitionDenied}

	if !errors.Is(a, b) {
		t.Fatal("expected match on same phase+kind")
	}
	if errors.Is(a, c) {
		t.Fatal("expected no match on different kind")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("mmap failed")
	err := New(PhaseJit, KindCommitFailed).
		Path("jit", "baseline").
		Addr(0xdead0000).
		Size(0x4000).
		Cause(cause).
		Detail("commit %d bytes", 0x4000).
		Build()

	if err.Phase != PhaseJit || err.Kind != KindCommitFailed {
		t.Fatalf("unexpected phase/kind: %s/%s", err.Phase, err.Kind)
	}
	if err.Addr != 0xdead0000 || err.Size != 0x4000 {
		t.Fatalf("unexpected addr/size: %#x/%#x", err.Addr, err.Size)
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause not wrapped")
	}
	if !strings.Contains(err.Detail, "16384") {
		t.Fatalf("detail not formatted: %q", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	if err := SlotOutOfRange(7, 4); err.Kind != KindSlotOutOfRange {
		t.Fatalf("unexpected kind %s", err.Kind)
	}
	if err := BadArch(0x3, 0x1); !strings.Contains(err.Detail, "0x3") {
		t.Fatalf("machine tag missing from %q", err.Detail)
	}
	if err := RegistryFull(PhaseJit, "region", 128); !strings.Contains(err.Detail, "128") {
		t.Fatalf("capacity missing from %q", err.Detail)
	}
	if err := EntryOutOfRange(0x40, 0x40); err.Phase != PhaseJit {
		t.Fatalf("unexpected phase %s", err.Phase)
	}
}
