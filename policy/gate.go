package policy

import (
	"github.com/wombatlabs/codeband"
	"github.com/wombatlabs/codeband/errors"
	"github.com/wombatlabs/codeband/layout"
)

// Request describes one proposed protection change.
type Request struct {
	Addr uintptr
	Size uintptr
	New  codeband.Prot

	// FromJitPipeline marks transitions requested by the JIT sealer
	// itself. Executable transitions inside the JIT band are denied
	// without it.
	FromJitPipeline bool
}

// Verdict is the gate's decision. When Allowed is false, Reason carries the
// denial kind (rwx_forbidden, transition_denied, wx_violation, or
// exec_outside_allowed).
type Verdict struct {
	Allowed bool
	Reason  errors.Kind
}

func allow() Verdict { return Verdict{Allowed: true} }

func deny(reason errors.Kind) Verdict {
	return Verdict{Reason: reason}
}

// Decide evaluates a protection change against the policy. It is a pure
// function of the band table, policy, and request; counter updates and
// crash recording on denial are the caller's responsibility. Decision
// order:
//
//  1. With DenyRwxAlways, a simultaneously writable and executable request
//     is denied regardless of address.
//  2. With EnforceExecBands, an executable request inside the JIT band must
//     come from the JIT pipeline and must not be writable; outside the JIT
//     band it is allowed only in the Core or Aot bands.
//  3. Non-executable requests are allowed.
func Decide(t *layout.Table, p Policy, req Request) Verdict {
	if p.Flags.Has(DenyRwxAlways) && req.New.WritableExecutable() {
		return deny(errors.KindRwxForbidden)
	}

	if p.Flags.Has(EnforceExecBands) && req.New.Executable() {
		c := t.Classify(req.Addr)
		if c.HasBand && c.Band == layout.BandJit {
			if !req.FromJitPipeline {
				return deny(errors.KindTransitionDenied)
			}
			if req.New.Writable() {
				return deny(errors.KindWxViolation)
			}
			return allow()
		}
		if c.HasBand && (c.Band == layout.BandCore || c.Band == layout.BandAot) {
			return allow()
		}
		return deny(errors.KindExecOutsideAllowed)
	}

	return allow()
}
