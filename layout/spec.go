package layout

import (
	"github.com/wombatlabs/codeband"
	"github.com/wombatlabs/codeband/errors"
)

// ABIVersion is the layout ABI this package implements. Init rejects specs
// built against any other version.
const ABIVersion = 1

// MaxAotSlots bounds the AOT slot count; the diagnostics block module table
// is sized to match.
const MaxAotSlots = 64

// BandSpec describes one fixed band request.
type BandSpec struct {
	Base uintptr
	Size uintptr
}

// Spec describes the full address-space layout. All bases are absolute: the
// planner tolerates no relocation and fails the whole reservation if the
// platform grants a different base.
type Spec struct {
	ABIVersion uint16

	Core BandSpec
	Meta BandSpec
	Heap BandSpec
	Mmap BandSpec

	// AOT band geometry: SlotCount slots of SlotSize bytes each starting
	// at AotBase. SlotSize must be a power of two, SlotCount in [1, 64].
	AotBase      uintptr
	AotSlotSize  uintptr
	AotSlotCount int

	// JIT band with per-tier start offsets. Offsets must be strictly
	// ascending and inside the band; tier i runs from TierOffsets[i] to
	// TierOffsets[i+1] (or the band end for the last tier).
	JitBase     uintptr
	JitSize     uintptr
	TierOffsets [NumTiers]uintptr
}

// AotSize returns the AOT band length implied by the slot geometry.
func (s *Spec) AotSize() uintptr {
	return s.AotSlotSize * uintptr(s.AotSlotCount)
}

// Validate checks the spec's structural invariants. It does not touch the
// platform; page alignment is checked at reservation time.
func (s *Spec) Validate() *errors.Error {
	if s.ABIVersion != ABIVersion {
		return &errors.Error{
			Phase:  errors.PhaseConfig,
			Kind:   errors.KindVersionMismatch,
			Detail: "layout ABI version mismatch",
		}
	}
	named := []struct {
		name string
		b    BandSpec
	}{
		{"core", s.Core},
		{"meta", s.Meta},
		{"heap", s.Heap},
		{"mmap", s.Mmap},
	}
	for _, n := range named {
		if n.b.Size == 0 {
			return errors.InvalidLayout("%s band has zero size", n.name)
		}
		if n.b.Base+n.b.Size < n.b.Base {
			return errors.InvalidLayout("%s band wraps the address space", n.name)
		}
	}
	if !codeband.IsPowerOfTwo(uint64(s.AotSlotSize)) {
		return errors.InvalidLayout("aot slot size %#x is not a power of two", s.AotSlotSize)
	}
	if s.AotSlotCount < 1 || s.AotSlotCount > MaxAotSlots {
		return errors.InvalidLayout("aot slot count %d outside [1, %d]", s.AotSlotCount, MaxAotSlots)
	}
	if s.AotBase+s.AotSize() < s.AotBase {
		return errors.InvalidLayout("aot band wraps the address space")
	}
	if s.JitSize == 0 {
		return errors.InvalidLayout("jit band has zero size")
	}
	if s.JitBase+s.JitSize < s.JitBase {
		return errors.InvalidLayout("jit band wraps the address space")
	}
	for i := 0; i < NumTiers; i++ {
		if s.TierOffsets[i] >= s.JitSize {
			return errors.InvalidLayout("tier %s offset %#x outside jit band", Tier(i), s.TierOffsets[i])
		}
		if i > 0 && s.TierOffsets[i] <= s.TierOffsets[i-1] {
			return errors.InvalidLayout("tier offsets not strictly ascending")
		}
	}
	return nil
}
