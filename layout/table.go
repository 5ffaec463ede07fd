package layout

// Table is the immutable band table built by Reserve. It is safe to share
// across goroutines without locking; the loader publishes it atomically so
// classification stays available on crash paths.
type Table struct {
	bands     [NumBands]Band
	slotSize  uintptr
	slotCount int
	// Absolute [start, end) of each JIT tier's code area.
	tierStart [NumTiers]uintptr
	tierEnd   [NumTiers]uintptr
}

// Bands returns the band table in fixed order: Core, Aot, Jit, Meta, Heap,
// Mmap.
func (t *Table) Bands() [NumBands]Band { return t.bands }

// Band returns the band of the given kind.
func (t *Table) Band(k Kind) Band { return t.bands[k] }

// SlotCount returns the number of AOT slots.
func (t *Table) SlotCount() int { return t.slotCount }

// SlotSize returns the AOT slot size in bytes.
func (t *Table) SlotSize() uintptr { return t.slotSize }

// SlotRange returns [base, end) for AOT slot i. The caller must ensure i is
// in range.
func (t *Table) SlotRange(i int) (base, end uintptr) {
	base = t.bands[BandAot].Base + uintptr(i)*t.slotSize
	return base, base + t.slotSize
}

// TierRange returns [base, end) for a JIT tier's code area.
func (t *Table) TierRange(tier Tier) (base, end uintptr) {
	return t.tierStart[tier], t.tierEnd[tier]
}

// Classification is the result of classifying an address.
type Classification struct {
	Band    Kind
	HasBand bool
	Slot    int
	HasSlot bool
}

// Classify maps addr to its containing band and, inside the AOT band, its
// slot index. It is a pure read over immutable state: no locks, no
// allocation, safe to call from a fault or crash context.
func (t *Table) Classify(addr uintptr) Classification {
	for _, b := range t.bands {
		if !b.Contains(addr) {
			continue
		}
		c := Classification{Band: b.Kind, HasBand: true}
		if b.Kind == BandAot {
			slot := int((addr - b.Base) / t.slotSize)
			if slot < t.slotCount {
				c.Slot = slot
				c.HasSlot = true
			}
		}
		return c
	}
	return Classification{}
}
