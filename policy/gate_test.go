package policy_test

import (
	"testing"

	"github.com/wombatlabs/codeband"
	"github.com/wombatlabs/codeband/errors"
	"github.com/wombatlabs/codeband/layout"
	"github.com/wombatlabs/codeband/platform"
	"github.com/wombatlabs/codeband/policy"
)

const mib = 1 << 20

func testTable(t *testing.T) *layout.Table {
	t.Helper()
	table, err := layout.Reserve(platform.NewSim(), &layout.Spec{
		ABIVersion:   layout.ABIVersion,
		Core:         layout.BandSpec{Base: 0x10000000, Size: 16 * mib},
		Meta:         layout.BandSpec{Base: 0x20000000, Size: 16 * mib},
		Heap:         layout.BandSpec{Base: 0x30000000, Size: 64 * mib},
		Mmap:         layout.BandSpec{Base: 0x40000000, Size: 64 * mib},
		AotBase:      0x50000000,
		AotSlotSize:  16 * mib,
		AotSlotCount: 4,
		JitBase:      0x60000000,
		JitSize:      48 * mib,
		TierOffsets:  [layout.NumTiers]uintptr{0, 16 * mib, 32 * mib},
	})
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	return table
}

func TestPolicy_Validate(t *testing.T) {
	good := policy.Policy{Version: policy.Version, Flags: policy.DenyRwxAlways | policy.EnforceExecBands}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid policy rejected: %v", err)
	}

	bad := policy.Policy{Version: 7}
	if err := bad.Validate(); err == nil || err.Kind != errors.KindVersionMismatch {
		t.Fatalf("expected version_mismatch, got %v", err)
	}

	badFlags := policy.Policy{Version: policy.Version, Flags: 1 << 30}
	if err := badFlags.Validate(); err == nil || err.Kind != errors.KindInvalidPolicy {
		t.Fatalf("expected invalid_policy, got %v", err)
	}

	badSlots := policy.Policy{Version: policy.Version, MaxSlots: 200}
	if err := badSlots.Validate(); err == nil || err.Kind != errors.KindInvalidPolicy {
		t.Fatalf("expected invalid_policy, got %v", err)
	}
}

func TestPolicy_SlotCap(t *testing.T) {
	p := policy.Policy{Version: policy.Version, MaxSlots: 2}
	if got := p.SlotCap(4); got != 2 {
		t.Fatalf("SlotCap = %d, want 2", got)
	}
	p.MaxSlots = 0
	if got := p.SlotCap(4); got != 4 {
		t.Fatalf("SlotCap = %d, want 4", got)
	}
	p.MaxSlots = 10
	if got := p.SlotCap(4); got != 4 {
		t.Fatalf("SlotCap = %d, want 4", got)
	}
}

func TestDecide(t *testing.T) {
	table := testTable(t)
	core := table.Band(layout.BandCore).Base
	aot := table.Band(layout.BandAot).Base
	jit := table.Band(layout.BandJit).Base
	heap := table.Band(layout.BandHeap).Base

	tests := []struct {
		name   string
		flags  policy.Flags
		req    policy.Request
		allow  bool
		reason errors.Kind
	}{
		{
			name:  "rwx denied regardless of address",
			flags: policy.DenyRwxAlways,
			req:   policy.Request{Addr: heap, Size: 4096, New: codeband.ProtRWX},
			allow: false, reason: errors.KindRwxForbidden,
		},
		{
			name:  "rwx denied even from jit pipeline",
			flags: policy.DenyRwxAlways | policy.EnforceExecBands,
			req:   policy.Request{Addr: jit, Size: 4096, New: codeband.ProtRWX, FromJitPipeline: true},
			allow: false, reason: errors.KindRwxForbidden,
		},
		{
			name:  "rwx allowed without deny flag or exec enforcement",
			flags: 0,
			req:   policy.Request{Addr: heap, Size: 4096, New: codeband.ProtRWX},
			allow: true,
		},
		{
			name:  "jit exec without pipeline flag denied",
			flags: policy.EnforceExecBands,
			req:   policy.Request{Addr: jit, Size: 4096, New: codeband.ProtRX},
			allow: false, reason: errors.KindTransitionDenied,
		},
		{
			name:  "jit exec from pipeline allowed",
			flags: policy.EnforceExecBands,
			req:   policy.Request{Addr: jit, Size: 4096, New: codeband.ProtRX, FromJitPipeline: true},
			allow: true,
		},
		{
			name:  "jit writable exec from pipeline is a wx violation",
			flags: policy.EnforceExecBands,
			req:   policy.Request{Addr: jit, Size: 4096, New: codeband.ProtRWX, FromJitPipeline: true},
			allow: false, reason: errors.KindWxViolation,
		},
		{
			name:  "exec in core allowed",
			flags: policy.EnforceExecBands,
			req:   policy.Request{Addr: core + 4096, Size: 4096, New: codeband.ProtRX},
			allow: true,
		},
		{
			name:  "exec in aot allowed",
			flags: policy.EnforceExecBands,
			req:   policy.Request{Addr: aot + 4096, Size: 4096, New: codeband.ProtRX},
			allow: true,
		},
		{
			name:  "exec in heap denied",
			flags: policy.EnforceExecBands,
			req:   policy.Request{Addr: heap, Size: 4096, New: codeband.ProtRX},
			allow: false, reason: errors.KindExecOutsideAllowed,
		},
		{
			name:  "exec outside all bands denied",
			flags: policy.EnforceExecBands,
			req:   policy.Request{Addr: 0xdead0000000, Size: 4096, New: codeband.ProtRX},
			allow: false, reason: errors.KindExecOutsideAllowed,
		},
		{
			name:  "non-exec request always allowed",
			flags: policy.DenyRwxAlways | policy.EnforceExecBands,
			req:   policy.Request{Addr: heap, Size: 4096, New: codeband.ProtRW},
			allow: true,
		},
		{
			name:  "exec anywhere allowed without enforcement",
			flags: policy.DenyRwxAlways,
			req:   policy.Request{Addr: heap, Size: 4096, New: codeband.ProtRX},
			allow: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := policy.Policy{Version: policy.Version, Flags: tt.flags}
			v := policy.Decide(table, p, tt.req)
			if v.Allowed != tt.allow {
				t.Fatalf("Allowed = %v, want %v", v.Allowed, tt.allow)
			}
			if !tt.allow && v.Reason != tt.reason {
				t.Fatalf("Reason = %s, want %s", v.Reason, tt.reason)
			}
		})
	}
}
