package loader

import (
	"os"

	"github.com/wombatlabs/codeband"
	"github.com/wombatlabs/codeband/diag"
	"github.com/wombatlabs/codeband/errors"
)

// CrashRef points at an immutable crash record in the Meta band.
type CrashRef struct {
	Addr   uintptr
	Record *diag.CrashRecord
}

// WriteCrashRecord writes a forensic record for a violation observed by the
// host (signal handlers, watchdogs). The loader's own denial paths write
// records internally; this entry point exists for everything else. It never
// fails silently: if record storage cannot be obtained, an allocation error
// is returned.
func (l *Loader) WriteCrashRecord(kind errors.Kind, site diag.Site, message string, addr, size uintptr, oldProt, newProt codeband.Prot) (*CrashRef, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ref, err := l.writeCrashLocked(kind, site, message, addr, size, oldProt, newProt)
	if err != nil {
		return nil, err
	}
	return ref, nil
}

func (l *Loader) writeCrashLocked(kind errors.Kind, site diag.Site, message string, addr, size uintptr, oldProt, newProt codeband.Prot) (*CrashRef, *errors.Error) {
	t := l.table.Load()
	c := t.Classify(addr)

	rec := &diag.CrashRecord{
		Kind:    kind,
		Site:    site,
		Pid:     uint32(os.Getpid()),
		Tid:     gettid(),
		Addr:    uint64(addr),
		Size:    uint64(size),
		OldProt: oldProt,
		NewProt: newProt,
		Band:    c.Band,
		HasBand: c.HasBand,
		Slot:    c.Slot,
		HasSlot: c.HasSlot,
		Message: message,
	}
	for i, b := range t.Bands() {
		rec.Bands[i] = diag.BandEntry{Kind: b.Kind, Base: uint64(b.Base), End: uint64(b.End)}
	}

	base, buf, aerr := l.metaAllocLocked(diag.RecordSize)
	if aerr != nil {
		return nil, aerr
	}
	copy(buf, rec.Encode())
	// Records are immutable once stored. The transition is internal,
	// non-executable, and may run under a fault, so it bypasses the gate:
	// a gate denial here could recurse into another record write.
	if err := l.mem.Protect(base, uintptr(len(buf)), codeband.ProtRead); err != nil {
		Logger().Warn("crash record left writable")
	}

	l.lastCrash = base
	return &CrashRef{Addr: base, Record: rec}, nil
}
