package policy

import (
	"github.com/wombatlabs/codeband/errors"
	"github.com/wombatlabs/codeband/layout"
)

// Version is the policy schema this package implements.
const Version = 1

// Flags is the protection policy flag set.
type Flags uint32

const (
	// DenyRwxAlways denies any request that is simultaneously writable and
	// executable, regardless of address.
	DenyRwxAlways Flags = 1 << iota

	// FailOnAotReloc rejects AOT images whose loaded base differs from
	// their preferred base. This is a best-effort relocation heuristic,
	// not a security guarantee under address-space randomization.
	FailOnAotReloc

	// EnforceExecBands confines executable memory to the Core, Aot, and
	// Jit bands, with the Jit band additionally requiring the request to
	// come from the JIT pipeline.
	EnforceExecBands

	// RequireCfgIfAvailable and EnableIndirectChecks are reserved hook
	// points for indirect-branch integrity. They are validated and
	// surfaced in diagnostics but enforce nothing yet.
	RequireCfgIfAvailable
	EnableIndirectChecks

	validFlags = DenyRwxAlways | FailOnAotReloc | EnforceExecBands |
		RequireCfgIfAvailable | EnableIndirectChecks
)

// Has reports whether all bits in f are set.
func (p Flags) Has(f Flags) bool { return p&f == f }

// Policy is the validated protection policy.
type Policy struct {
	Version uint16
	Flags   Flags

	// MaxSlots, when non-zero, caps the usable AOT slots below the layout's
	// slot count.
	MaxSlots int
}

// Validate checks the policy against the schema version and slot bounds.
func (p *Policy) Validate() *errors.Error {
	if p.Version != Version {
		return &errors.Error{
			Phase:  errors.PhaseConfig,
			Kind:   errors.KindVersionMismatch,
			Detail: "policy version mismatch",
		}
	}
	if p.Flags&^validFlags != 0 {
		return errors.InvalidPolicy("unknown policy flags %#x", uint32(p.Flags&^validFlags))
	}
	if p.MaxSlots < 0 || p.MaxSlots > layout.MaxAotSlots {
		return errors.InvalidPolicy("max slots %d outside [0, %d]", p.MaxSlots, layout.MaxAotSlots)
	}
	return nil
}

// SlotCap returns the effective slot count given the layout's count.
func (p *Policy) SlotCap(layoutSlots int) int {
	if p.MaxSlots > 0 && p.MaxSlots < layoutSlots {
		return p.MaxSlots
	}
	return layoutSlots
}
