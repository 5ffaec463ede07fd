package layout

// Kind identifies one of the six address-space bands.
type Kind uint32

const (
	BandCore Kind = iota
	BandAot
	BandJit
	BandMeta
	BandHeap
	BandMmap

	// NumBands is the fixed number of bands in a layout.
	NumBands = 6
)

func (k Kind) String() string {
	switch k {
	case BandCore:
		return "core"
	case BandAot:
		return "aot"
	case BandJit:
		return "jit"
	case BandMeta:
		return "meta"
	case BandHeap:
		return "heap"
	case BandMmap:
		return "mmap"
	}
	return "unknown"
}

// Band is a reserved region [Base, End) of the address space. Bands are
// created once at init and never move.
type Band struct {
	Kind Kind
	Base uintptr
	End  uintptr
}

// Size returns the band length in bytes.
func (b Band) Size() uintptr { return b.End - b.Base }

// Contains reports whether addr falls inside the band.
func (b Band) Contains(addr uintptr) bool {
	return addr >= b.Base && addr < b.End
}

// ContainsRange reports whether [addr, addr+size) falls entirely inside the
// band. A zero-size range at a contained address is considered inside.
func (b Band) ContainsRange(addr, size uintptr) bool {
	if !b.Contains(addr) {
		return false
	}
	end := addr + size
	if end < addr {
		return false // wrapped
	}
	return end <= b.End
}

// Overlaps reports whether two bands share any address.
func (b Band) Overlaps(o Band) bool {
	return b.Base < o.End && o.Base < b.End
}
