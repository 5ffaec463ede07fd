package loader

import (
	"go.uber.org/zap"

	"github.com/wombatlabs/codeband"
	"github.com/wombatlabs/codeband/diag"
	"github.com/wombatlabs/codeband/errors"
	"github.com/wombatlabs/codeband/layout"
	"github.com/wombatlabs/codeband/policy"
)

// EmitFunc fills buf with machine code and returns the entry offset into
// it. The code generator lives outside this core; the buffer is writable
// and non-executable while the emitter runs.
type EmitFunc func(buf []byte) (entryOffset uintptr, err error)

// EmitRequest describes one JIT emission.
type EmitRequest struct {
	Tier layout.Tier
	Size uintptr

	// Align, when above the page size, must be a power of two and aligns
	// the region base further.
	Align uintptr

	// Tag is an opaque caller value surfaced in logs.
	Tag uint64
}

// AllocEmitSeal runs one emission through the RwEmit state machine: commit
// writable memory at the tier's bump cursor, invoke the emitter, flush the
// instruction cache, and seal the region read-execute through the policy
// gate. On success the region is RxSealed, the tier cursor advances past
// it, and the returned pointer addresses the entry offset. On any failure
// the region is discarded, its memory decommitted, and the tier cursor is
// left unchanged; no intermediate state survives.
func (l *Loader) AllocEmitSeal(req EmitRequest, emit EmitFunc) (uintptr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !req.Tier.Valid() {
		return 0, errors.New(errors.PhaseJit, errors.KindOutOfRange).
			Detail("unknown tier %d", req.Tier).Build()
	}
	if req.Size == 0 {
		return 0, errors.New(errors.PhaseJit, errors.KindOutOfRange).
			Detail("zero-size emission").Build()
	}
	if emit == nil {
		return 0, errors.Internal(errors.PhaseJit, "nil emitter", nil)
	}
	if req.Align != 0 && !codeband.IsPowerOfTwo(uint64(req.Align)) {
		return 0, errors.New(errors.PhaseJit, errors.KindOutOfRange).
			Detail("alignment %#x not a power of two", req.Align).Build()
	}
	if len(l.regions) >= diag.MaxRegions {
		return 0, errors.RegistryFull(errors.PhaseJit, "region", diag.MaxRegions)
	}

	t := l.table.Load()
	page := l.mem.PageSize()
	align := page
	if req.Align > page {
		align = req.Align
	}
	base := codeband.PageAlignUp(l.cursors[req.Tier], align)
	size := codeband.PageAlignUp(req.Size, page)
	tierStart, tierEnd := t.TierRange(req.Tier)
	if base < tierStart || base+size > tierEnd || base+size < base {
		return 0, errors.OutsideBand(errors.PhaseJit, base, size)
	}

	if err := l.mem.Commit(base, size, codeband.ProtRW); err != nil {
		return 0, errors.CommitFailed(base, size, err)
	}
	l.regions = append(l.regions, jitRegion{
		tier:      req.Tier,
		state:     diag.RegionRwEmit,
		base:      base,
		end:       base + size,
		committed: size,
		tag:       req.Tag,
	})
	discard := func() {
		l.regions = l.regions[:len(l.regions)-1]
		_ = l.mem.Decommit(base, size)
	}

	buf, err := l.mem.Buffer(base, size)
	if err != nil {
		discard()
		return 0, errors.Internal(errors.PhaseJit, "region buffer", err)
	}
	entry, err := emit(buf)
	if err != nil {
		discard()
		return 0, errors.EmitFailed(err)
	}
	if entry >= size {
		discard()
		return 0, errors.EntryOutOfRange(entry, size)
	}

	l.mem.FlushICache(base, size)

	if gerr := l.gateLocked(diag.SiteJitSeal, codeband.ProtRW, policy.Request{
		Addr:            base,
		Size:            size,
		New:             codeband.ProtRX,
		FromJitPipeline: true,
	}); gerr != nil {
		discard()
		return 0, gerr
	}
	if err := l.mem.Protect(base, size, codeband.ProtRX); err != nil {
		discard()
		return 0, errors.SealFailed(base, size, err)
	}

	l.regions[len(l.regions)-1].state = diag.RegionRxSealed
	l.cursors[req.Tier] = base + size
	l.counters.JitSeals++
	Logger().Debug("jit region sealed",
		zap.String("tier", req.Tier.String()),
		zap.Uintptr("base", base),
		zap.Uintptr("size", size),
		zap.Uint64("tag", req.Tag),
	)
	return base + entry, nil
}

// TierCursor returns the current bump cursor of a tier, for diagnostics and
// tests.
func (l *Loader) TierCursor(tier layout.Tier) uintptr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursors[tier]
}

// RegionCount returns the number of live JIT regions.
func (l *Loader) RegionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.regions)
}
