package layout

import (
	"github.com/wombatlabs/codeband"
	"github.com/wombatlabs/codeband/errors"
)

// Reserve validates spec and reserves all six bands at their exact bases.
// Reservation is all-or-nothing: if any band cannot be reserved where the
// spec demands, or any pair of reserved bands overlaps, every band reserved
// so far is released and an error is returned with no reservation left
// behind.
func Reserve(mem codeband.Memory, spec *Spec) (*Table, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	page := mem.PageSize()
	requests := [NumBands]Band{
		{Kind: BandCore, Base: spec.Core.Base, End: spec.Core.Base + spec.Core.Size},
		{Kind: BandAot, Base: spec.AotBase, End: spec.AotBase + spec.AotSize()},
		{Kind: BandJit, Base: spec.JitBase, End: spec.JitBase + spec.JitSize},
		{Kind: BandMeta, Base: spec.Meta.Base, End: spec.Meta.Base + spec.Meta.Size},
		{Kind: BandHeap, Base: spec.Heap.Base, End: spec.Heap.Base + spec.Heap.Size},
		{Kind: BandMmap, Base: spec.Mmap.Base, End: spec.Mmap.Base + spec.Mmap.Size},
	}
	for _, b := range requests {
		if b.Base != codeband.PageAlignDown(b.Base, page) || b.Size() != codeband.PageAlignUp(b.Size(), page) {
			return nil, errors.InvalidLayout("%s band not page aligned (page %#x)", b.Kind, page)
		}
	}

	reserved := make([]Band, 0, NumBands)
	rollback := func() {
		for _, b := range reserved {
			// Release failures during rollback are unreportable; the
			// reservation error already describes the failure.
			_ = mem.Release(b.Base, b.Size())
		}
	}

	for _, b := range requests {
		got, err := mem.Reserve(b.Base, b.Size())
		if err != nil {
			rollback()
			return nil, errors.ReserveFailed(b.Kind.String(), b.Base, b.Size(), err)
		}
		if got != b.Base {
			// No address relocation tolerated: give the grant back and
			// fail the whole call.
			_ = mem.Release(got, b.Size())
			rollback()
			return nil, errors.ReserveFailed(b.Kind.String(), b.Base, b.Size(), nil)
		}
		reserved = append(reserved, b)
	}

	for i := 0; i < NumBands; i++ {
		for j := i + 1; j < NumBands; j++ {
			if requests[i].Overlaps(requests[j]) {
				rollback()
				return nil, errors.BandOverlap(requests[i].Kind.String(), requests[j].Kind.String())
			}
		}
	}

	t := &Table{
		bands:     requests,
		slotSize:  spec.AotSlotSize,
		slotCount: spec.AotSlotCount,
	}
	for i := 0; i < NumTiers; i++ {
		t.tierStart[i] = spec.JitBase + spec.TierOffsets[i]
		if i+1 < NumTiers {
			t.tierEnd[i] = spec.JitBase + spec.TierOffsets[i+1]
		} else {
			t.tierEnd[i] = spec.JitBase + spec.JitSize
		}
	}
	return t, nil
}

// ReleaseAll releases every band in the table. Used by tests and by hosts
// that tear the loader down; the production runtime keeps bands for the
// process lifetime.
func ReleaseAll(mem codeband.Memory, t *Table) {
	for _, b := range t.bands {
		_ = mem.Release(b.Base, b.Size())
	}
}
