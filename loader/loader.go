package loader

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wombatlabs/codeband"
	"github.com/wombatlabs/codeband/diag"
	"github.com/wombatlabs/codeband/errors"
	"github.com/wombatlabs/codeband/layout"
	"github.com/wombatlabs/codeband/policy"
)

// Loader owns every table, cursor, and counter of the code-loading core.
// All state-mutating operations serialize behind one mutex; the band table
// is additionally published through an atomic pointer so ClassifyAddress
// never needs the lock and stays safe on crash paths, even when a fault
// handler runs on a thread whose owner already holds the lock.
type Loader struct {
	mu  sync.Mutex
	mem codeband.Memory
	pol policy.Policy

	table atomic.Pointer[layout.Table]

	modules  []moduleRecord
	slotUsed [layout.MaxAotSlots]bool
	regions  []jitRegion
	cursors  [layout.NumTiers]uintptr

	// Bump cursor inside the Meta band for crash records and the
	// diagnostics block.
	metaCursor uintptr

	counters  diag.Counters
	lastCrash uintptr
	published bool
	diagAddr  uintptr
}

// moduleRecord is one loaded AOT module. Records are never mutated and
// never freed: there is no unload path in this ABI version.
type moduleRecord struct {
	slot         int
	expectedBase uintptr
	expectedEnd  uintptr
	base         uintptr
	size         uintptr
	name         string
}

type jitRegion struct {
	tier      layout.Tier
	state     diag.RegionState
	base      uintptr
	end       uintptr
	committed uintptr
	tag       uint64
}

// Init validates the layout and policy, reserves the six bands, and returns
// the loader. Reservation is all-or-nothing: on any failure no band stays
// reserved.
func Init(mem codeband.Memory, spec *layout.Spec, pol policy.Policy) (*Loader, error) {
	if err := pol.Validate(); err != nil {
		return nil, err
	}
	table, err := layout.Reserve(mem, spec)
	if err != nil {
		return nil, err
	}

	l := &Loader{
		mem: mem,
		pol: pol,
	}
	l.table.Store(table)
	for i := 0; i < layout.NumTiers; i++ {
		l.cursors[i], _ = table.TierRange(layout.Tier(i))
	}
	l.metaCursor = table.Band(layout.BandMeta).Base

	bands := table.Bands()
	fields := make([]zap.Field, 0, layout.NumBands)
	for _, b := range bands {
		fields = append(fields, zap.Uintptr(b.Kind.String(), b.Base))
	}
	Logger().Info("layout reserved", fields...)
	return l, nil
}

// Table returns the immutable band table.
func (l *Loader) Table() *layout.Table {
	return l.table.Load()
}

// ClassifyAddress maps addr to its containing band and AOT slot. It takes
// no locks and performs no allocation, so it is safe from fault and crash
// contexts.
func (l *Loader) ClassifyAddress(addr uintptr) layout.Classification {
	return l.table.Load().Classify(addr)
}

// Counters returns a consistent snapshot of the monotonic counters.
func (l *Loader) Counters() diag.Counters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counters
}

// LastCrash returns the address of the most recent crash record, if any.
func (l *Loader) LastCrash() (uintptr, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastCrash, l.lastCrash != 0
}

// gate evaluates one protection transition under the loader lock. Every
// call counts as an exec transition; every denial bumps the denial and
// violation counters and writes a crash record before the denial is
// returned, so forensic data survives callers that ignore the error.
func (l *Loader) gateLocked(site diag.Site, old codeband.Prot, req policy.Request) *errors.Error {
	l.counters.ExecTransitions++
	v := policy.Decide(l.table.Load(), l.pol, req)
	if v.Allowed {
		return nil
	}
	l.counters.ExecDenials++
	l.counters.Violations++
	err := errors.Denial(v.Reason, req.Addr, req.Size)
	if _, cerr := l.writeCrashLocked(v.Reason, site, err.Error(), req.Addr, req.Size, old, req.New); cerr != nil {
		Logger().Error("crash record write failed", zap.Error(cerr))
	}
	Logger().Warn("protection transition denied",
		zap.String("site", site.String()),
		zap.String("reason", string(v.Reason)),
		zap.Uintptr("addr", req.Addr),
		zap.Uintptr("size", req.Size),
		zap.String("new", req.New.String()),
	)
	return err
}

// metaAllocLocked commits size bytes (page rounded) from the Meta band bump
// cursor and returns the base address and its writable view.
func (l *Loader) metaAllocLocked(size uintptr) (uintptr, []byte, *errors.Error) {
	page := l.mem.PageSize()
	asize := codeband.PageAlignUp(size, page)
	meta := l.table.Load().Band(layout.BandMeta)
	base := l.metaCursor
	if base+asize > meta.End {
		return 0, nil, errors.AllocationFailed(errors.PhaseCrash, asize, nil)
	}
	if err := l.mem.Commit(base, asize, codeband.ProtRW); err != nil {
		return 0, nil, errors.AllocationFailed(errors.PhaseCrash, asize, err)
	}
	buf, err := l.mem.Buffer(base, asize)
	if err != nil {
		_ = l.mem.Decommit(base, asize)
		return 0, nil, errors.AllocationFailed(errors.PhaseCrash, asize, err)
	}
	l.metaCursor = base + asize
	return base, buf, nil
}
