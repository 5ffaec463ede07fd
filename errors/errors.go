package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseConfig  Phase = "config"  // layout/policy validation
	PhaseLayout  Phase = "layout"  // band reservation
	PhaseLoad    Phase = "load"    // AOT module loading
	PhaseJit     Phase = "jit"     // JIT alloc/emit/seal
	PhaseProtect Phase = "protect" // protection transitions
	PhaseDiag    Phase = "diag"    // diagnostics publishing
	PhaseCrash   Phase = "crash"   // crash record writing
)

// Kind categorizes the error
type Kind string

const (
	// Configuration
	KindInvalidLayout   Kind = "invalid_layout"
	KindInvalidPolicy   Kind = "invalid_policy"
	KindVersionMismatch Kind = "version_mismatch"

	// Reservation
	KindReserveFailed Kind = "reserve_failed"
	KindBandOverlap   Kind = "band_overlap"
	KindOutOfRange    Kind = "out_of_range"

	// Module loading
	KindBadImage       Kind = "bad_image"
	KindBadArch        Kind = "bad_arch"
	KindSectionPerms   Kind = "section_perms"
	KindOutsideSlot    Kind = "outside_slot"
	KindRelocated      Kind = "relocated"
	KindSlotOutOfRange Kind = "slot_out_of_range"
	KindRegistryFull   Kind = "registry_full"
	KindSlotOccupied   Kind = "slot_occupied"
	KindLoadFailed     Kind = "load_failed"

	// JIT
	KindCommitFailed    Kind = "commit_failed"
	KindOutsideBand     Kind = "outside_band"
	KindWxViolation     Kind = "wx_violation"
	KindSealFailed      Kind = "seal_failed"
	KindEntryOutOfRange Kind = "entry_out_of_range"
	KindEmitFailed      Kind = "emit_failed"

	// Policy denials
	KindRwxForbidden       Kind = "rwx_forbidden"
	KindTransitionDenied   Kind = "transition_denied"
	KindExecOutsideAllowed Kind = "exec_outside_allowed"

	// Diagnostics
	KindPublishFailed    Kind = "publish_failed"
	KindAlreadyPublished Kind = "already_published"
	KindAllocation       Kind = "allocation"

	KindInternal Kind = "internal"
)

// Error is the structured error type used throughout the loader core
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
	Addr   uintptr
	Size   uintptr
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Addr != 0 || e.Size != 0 {
		fmt.Fprintf(&b, ": addr=%#x size=%#x", e.Addr, e.Size)
	}

	if e.Detail != "" {
		if e.Addr != 0 || e.Size != 0 {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the component path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Addr sets the address the error refers to
func (b *Builder) Addr(addr uintptr) *Builder {
	b.err.Addr = addr
	return b
}

// Size sets the size the error refers to
func (b *Builder) Size(size uintptr) *Builder {
	b.err.Size = size
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// InvalidLayout creates a layout validation error
func InvalidLayout(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindInvalidLayout,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// InvalidPolicy creates a policy validation error
func InvalidPolicy(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindInvalidPolicy,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// ReserveFailed creates a band reservation error
func ReserveFailed(band string, addr, size uintptr, cause error) *Error {
	return &Error{
		Phase: PhaseLayout,
		Kind:  KindReserveFailed,
		Path:  []string{band},
		Addr:  addr,
		Size:  size,
		Cause: cause,
	}
}

// BandOverlap creates a band overlap error
func BandOverlap(a, b string) *Error {
	return &Error{
		Phase:  PhaseLayout,
		Kind:   KindBandOverlap,
		Detail: fmt.Sprintf("bands %s and %s overlap", a, b),
	}
}

// BadImage creates a structural image validation error
func BadImage(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindBadImage,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// BadArch creates an architecture mismatch error
func BadArch(got, want uint16) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindBadArch,
		Detail: fmt.Sprintf("image machine %#x, host %#x", got, want),
	}
}

// SectionPerms creates a section permission error
func SectionPerms(section int, detail string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindSectionPerms,
		Detail: fmt.Sprintf("section %d: %s", section, detail),
	}
}

// OutsideSlot creates a slot confinement error
func OutsideSlot(slot int, base uintptr) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindOutsideSlot,
		Addr:   base,
		Detail: fmt.Sprintf("loaded base outside slot %d", slot),
	}
}

// Relocated creates a relocation rejection error
func Relocated(preferred, loaded uintptr) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindRelocated,
		Addr:   loaded,
		Detail: fmt.Sprintf("image preferred base %#x, loaded at %#x", preferred, loaded),
	}
}

// SlotOutOfRange creates a slot index error
func SlotOutOfRange(slot, count int) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindSlotOutOfRange,
		Detail: fmt.Sprintf("slot %d out of range (count %d)", slot, count),
	}
}

// RegistryFull creates a bounded-registry overflow error
func RegistryFull(phase Phase, what string, capacity int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRegistryFull,
		Detail: fmt.Sprintf("%s registry full (capacity %d)", what, capacity),
	}
}

// OutsideBand creates a band confinement error
func OutsideBand(phase Phase, addr, size uintptr) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindOutsideBand,
		Addr:  addr,
		Size:  size,
	}
}

// CommitFailed creates a memory commit error
func CommitFailed(addr, size uintptr, cause error) *Error {
	return &Error{
		Phase: PhaseJit,
		Kind:  KindCommitFailed,
		Addr:  addr,
		Size:  size,
		Cause: cause,
	}
}

// EntryOutOfRange creates an error for an emitter entry offset past capacity
func EntryOutOfRange(entry, capacity uintptr) *Error {
	return &Error{
		Phase:  PhaseJit,
		Kind:   KindEntryOutOfRange,
		Detail: fmt.Sprintf("entry offset %#x not below capacity %#x", entry, capacity),
	}
}

// EmitFailed wraps an emitter callback failure
func EmitFailed(cause error) *Error {
	return &Error{
		Phase: PhaseJit,
		Kind:  KindEmitFailed,
		Cause: cause,
	}
}

// SealFailed creates a seal application error
func SealFailed(addr, size uintptr, cause error) *Error {
	return &Error{
		Phase: PhaseJit,
		Kind:  KindSealFailed,
		Addr:  addr,
		Size:  size,
		Cause: cause,
	}
}

// Denial creates a policy denial error of the given kind
func Denial(kind Kind, addr, size uintptr) *Error {
	return &Error{
		Phase: PhaseProtect,
		Kind:  kind,
		Addr:  addr,
		Size:  size,
	}
}

// PublishFailed creates a diagnostics publish error
func PublishFailed(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseDiag,
		Kind:   KindPublishFailed,
		Detail: detail,
		Cause:  cause,
	}
}

// AlreadyPublished creates a double-publish error
func AlreadyPublished() *Error {
	return &Error{
		Phase:  PhaseDiag,
		Kind:   KindAlreadyPublished,
		Detail: "diagnostics block already published",
	}
}

// AllocationFailed creates a record storage allocation error
func AllocationFailed(phase Phase, size uintptr, cause error) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindAllocation,
		Size:  size,
		Cause: cause,
	}
}

// Internal wraps an unexpected failure
func Internal(phase Phase, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInternal,
		Detail: detail,
		Cause:  cause,
	}
}
