package diag

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/wombatlabs/codeband/layout"
)

// Diagnostics block binary layout, little-endian:
//
//	off    size  field
//	    0     4  signature "CBDG"
//	    4     2  block version (currently 1)
//	    6     2  reserved
//	    8     4  band count
//	   12     4  module count
//	   16     4  region count
//	   20     4  reserved
//	   24     8  exec_transitions
//	   32     8  exec_denials
//	   40     8  jit_seals
//	   48     8  violations
//	   56     8  address of last crash record, 0 if none
//	   64   144  band table:   6 entries of 24 bytes (see BandEntry)
//	  208  4096  module table: 64 entries of 64 bytes (see ModuleEntry)
//	 4304  4096  region table: 128 entries of 32 bytes (see RegionEntry)
//
// Total BlockSize = 8400 bytes. Table counts are clamped to the fixed
// capacities; unused entries are zero.
const (
	BlockMagic   = 0x47444243 // "CBDG"
	BlockVersion = 1
	BlockSize    = 8400

	MaxBands   = layout.NumBands
	MaxModules = 64
	MaxRegions = 128

	blockBandOff   = 64
	blockModuleOff = 208
	blockRegionOff = 4304

	bandEntrySize   = 24
	moduleEntrySize = 64
	regionEntrySize = 32

	moduleNameLen = 24
)

// RegionState is a JIT region's lifecycle state as serialized.
type RegionState uint32

const (
	RegionRwEmit   RegionState = 1
	RegionRxSealed RegionState = 2
)

func (s RegionState) String() string {
	switch s {
	case RegionRwEmit:
		return "rw_emit"
	case RegionRxSealed:
		return "rx_sealed"
	}
	return "unknown"
}

// ModuleEntry is one loaded AOT module in the block's module table.
//
//	off 0: slot u32, reserved u32
//	off 8: expected slot base u64, expected slot end u64
//	off 24: loaded base u64, loaded size u64
//	off 40: name, 24 bytes NUL padded
type ModuleEntry struct {
	Slot         uint32
	ExpectedBase uint64
	ExpectedEnd  uint64
	LoadedBase   uint64
	LoadedSize   uint64
	Name         string
}

// RegionEntry is one JIT region in the block's region table.
//
//	off 0: tier u32, state u32
//	off 8: base u64, end u64, committed bytes u64
type RegionEntry struct {
	Tier      layout.Tier
	State     RegionState
	Base      uint64
	End       uint64
	Committed uint64
}

// Counters are the loader's monotonic counters.
type Counters struct {
	ExecTransitions uint64
	ExecDenials     uint64
	JitSeals        uint64
	Violations      uint64
}

// Block is the decoded diagnostics snapshot.
type Block struct {
	Bands     []BandEntry
	Modules   []ModuleEntry
	Regions   []RegionEntry
	Counters  Counters
	LastCrash uint64
}

// Encode serializes the block into its stable binary form, clamping each
// table to its fixed capacity.
func (b *Block) Encode() []byte {
	le := binary.LittleEndian
	out := make([]byte, BlockSize)
	le.PutUint32(out[0:4], BlockMagic)
	le.PutUint16(out[4:6], BlockVersion)

	bands := clamp(len(b.Bands), MaxBands)
	modules := clamp(len(b.Modules), MaxModules)
	regions := clamp(len(b.Regions), MaxRegions)
	le.PutUint32(out[8:12], uint32(bands))
	le.PutUint32(out[12:16], uint32(modules))
	le.PutUint32(out[16:20], uint32(regions))

	le.PutUint64(out[24:32], b.Counters.ExecTransitions)
	le.PutUint64(out[32:40], b.Counters.ExecDenials)
	le.PutUint64(out[40:48], b.Counters.JitSeals)
	le.PutUint64(out[48:56], b.Counters.Violations)
	le.PutUint64(out[56:64], b.LastCrash)

	for i := 0; i < bands; i++ {
		e := out[blockBandOff+i*bandEntrySize:]
		le.PutUint32(e[0:4], uint32(b.Bands[i].Kind))
		le.PutUint64(e[8:16], b.Bands[i].Base)
		le.PutUint64(e[16:24], b.Bands[i].End)
	}
	for i := 0; i < modules; i++ {
		m := b.Modules[i]
		e := out[blockModuleOff+i*moduleEntrySize:]
		le.PutUint32(e[0:4], m.Slot)
		le.PutUint64(e[8:16], m.ExpectedBase)
		le.PutUint64(e[16:24], m.ExpectedEnd)
		le.PutUint64(e[24:32], m.LoadedBase)
		le.PutUint64(e[32:40], m.LoadedSize)
		name := m.Name
		if len(name) > moduleNameLen {
			name = name[:moduleNameLen]
		}
		copy(e[40:40+moduleNameLen], name)
	}
	for i := 0; i < regions; i++ {
		r := b.Regions[i]
		e := out[blockRegionOff+i*regionEntrySize:]
		le.PutUint32(e[0:4], uint32(r.Tier))
		le.PutUint32(e[4:8], uint32(r.State))
		le.PutUint64(e[8:16], r.Base)
		le.PutUint64(e[16:24], r.End)
		le.PutUint64(e[24:32], r.Committed)
	}
	return out
}

// DecodeBlock parses a block previously produced by Encode.
func DecodeBlock(data []byte) (*Block, error) {
	if len(data) < BlockSize {
		return nil, fmt.Errorf("diag: block truncated (%d bytes)", len(data))
	}
	le := binary.LittleEndian
	if le.Uint32(data[0:4]) != BlockMagic {
		return nil, fmt.Errorf("diag: bad block signature %#x", le.Uint32(data[0:4]))
	}
	if v := le.Uint16(data[4:6]); v != BlockVersion {
		return nil, fmt.Errorf("diag: unsupported block version %d", v)
	}

	bands := clamp(int(le.Uint32(data[8:12])), MaxBands)
	modules := clamp(int(le.Uint32(data[12:16])), MaxModules)
	regions := clamp(int(le.Uint32(data[16:20])), MaxRegions)

	b := &Block{
		Counters: Counters{
			ExecTransitions: le.Uint64(data[24:32]),
			ExecDenials:     le.Uint64(data[32:40]),
			JitSeals:        le.Uint64(data[40:48]),
			Violations:      le.Uint64(data[48:56]),
		},
		LastCrash: le.Uint64(data[56:64]),
	}

	b.Bands = make([]BandEntry, bands)
	for i := range b.Bands {
		e := data[blockBandOff+i*bandEntrySize:]
		b.Bands[i] = BandEntry{
			Kind: layout.Kind(le.Uint32(e[0:4])),
			Base: le.Uint64(e[8:16]),
			End:  le.Uint64(e[16:24]),
		}
	}
	b.Modules = make([]ModuleEntry, modules)
	for i := range b.Modules {
		e := data[blockModuleOff+i*moduleEntrySize:]
		b.Modules[i] = ModuleEntry{
			Slot:         le.Uint32(e[0:4]),
			ExpectedBase: le.Uint64(e[8:16]),
			ExpectedEnd:  le.Uint64(e[16:24]),
			LoadedBase:   le.Uint64(e[24:32]),
			LoadedSize:   le.Uint64(e[32:40]),
			Name:         string(bytes.TrimRight(e[40:40+moduleNameLen], "\x00")),
		}
	}
	b.Regions = make([]RegionEntry, regions)
	for i := range b.Regions {
		e := data[blockRegionOff+i*regionEntrySize:]
		b.Regions[i] = RegionEntry{
			Tier:      layout.Tier(le.Uint32(e[0:4])),
			State:     RegionState(le.Uint32(e[4:8])),
			Base:      le.Uint64(e[8:16]),
			End:       le.Uint64(e[16:24]),
			Committed: le.Uint64(e[24:32]),
		}
	}
	return b, nil
}

func clamp(n, cap int) int {
	if n > cap {
		return cap
	}
	return n
}
