package diag

import "github.com/wombatlabs/codeband/errors"

// Site identifies where a crash record was written from.
type Site uint16

const (
	SiteUnknown Site = iota
	SiteInit
	SiteAotLoad
	SiteJitSeal
	SiteProtectionChange
	SiteDiagPublish
	SiteExternal
)

func (s Site) String() string {
	switch s {
	case SiteInit:
		return "init"
	case SiteAotLoad:
		return "aot_load"
	case SiteJitSeal:
		return "jit_seal"
	case SiteProtectionChange:
		return "protection_change"
	case SiteDiagPublish:
		return "diag_publish"
	case SiteExternal:
		return "external"
	}
	return "unknown"
}

// kindCodes assigns each error kind a stable numeric code for the crash
// record ABI. Codes are append-only; never renumber.
var kindCodes = map[errors.Kind]uint16{
	errors.KindInvalidLayout:   1,
	errors.KindInvalidPolicy:   2,
	errors.KindVersionMismatch: 3,

	errors.KindReserveFailed: 10,
	errors.KindBandOverlap:   11,
	errors.KindOutOfRange:    12,

	errors.KindBadImage:       20,
	errors.KindBadArch:        21,
	errors.KindSectionPerms:   22,
	errors.KindOutsideSlot:    23,
	errors.KindRelocated:      24,
	errors.KindSlotOutOfRange: 25,
	errors.KindRegistryFull:   26,
	errors.KindSlotOccupied:   27,
	errors.KindLoadFailed:     28,

	errors.KindCommitFailed:    30,
	errors.KindOutsideBand:     31,
	errors.KindWxViolation:     32,
	errors.KindSealFailed:      33,
	errors.KindEntryOutOfRange: 34,
	errors.KindEmitFailed:      35,

	errors.KindRwxForbidden:       40,
	errors.KindTransitionDenied:   41,
	errors.KindExecOutsideAllowed: 42,

	errors.KindPublishFailed:    50,
	errors.KindAlreadyPublished: 51,
	errors.KindAllocation:       52,

	errors.KindInternal: 60,
}

var kindNames = func() map[uint16]errors.Kind {
	m := make(map[uint16]errors.Kind, len(kindCodes))
	for k, c := range kindCodes {
		m[c] = k
	}
	return m
}()

// KindCode returns the ABI code for an error kind, or 0 for unknown kinds.
func KindCode(k errors.Kind) uint16 { return kindCodes[k] }

// CodeKind returns the error kind for an ABI code.
func CodeKind(c uint16) errors.Kind {
	if k, ok := kindNames[c]; ok {
		return k
	}
	return errors.KindInternal
}
