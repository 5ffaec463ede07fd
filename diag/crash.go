package diag

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/wombatlabs/codeband"
	"github.com/wombatlabs/codeband/errors"
	"github.com/wombatlabs/codeband/layout"
)

// Crash record binary layout, little-endian:
//
//	off  size  field
//	  0     4  signature "CBCR"
//	  4     2  record version (currently 1)
//	  6     2  error kind code (see KindCode)
//	  8     2  violation site (see Site)
//	 10     2  reserved
//	 12     4  process id
//	 16     8  thread id
//	 24     8  attempted address
//	 32     8  attempted size
//	 40     4  old protection
//	 44     4  new protection
//	 48     4  band kind of the address, NoBand if unclassified
//	 52     4  slot index, NoSlot if not in an AOT slot
//	 56   144  band snapshot: 6 entries of {kind u32, reserved u32, base u64, end u64}
//	200     2  message length
//	202    94  message bytes, NUL padded
//
// Total RecordSize = 296 bytes.
const (
	CrashMagic   = 0x52434243 // "CBCR"
	CrashVersion = 1
	RecordSize   = 296

	crashMsgOff = 202
	// MaxCrashMessage is the longest message a record can carry; longer
	// messages are truncated.
	MaxCrashMessage = RecordSize - crashMsgOff
)

// Sentinels for the classification fields.
const (
	NoBand uint32 = 0xffffffff
	NoSlot int32  = -1
)

// BandEntry is one band in a record's band snapshot and in the diagnostics
// block band table.
type BandEntry struct {
	Kind layout.Kind
	Base uint64
	End  uint64
}

// CrashRecord is the decoded form of one forensic record. Records are
// written once and never mutated.
type CrashRecord struct {
	Kind    errors.Kind
	Site    Site
	Pid     uint32
	Tid     uint64
	Addr    uint64
	Size    uint64
	OldProt codeband.Prot
	NewProt codeband.Prot

	// Classification of Addr at the time of the violation.
	Band    layout.Kind
	HasBand bool
	Slot    int
	HasSlot bool

	Bands   [layout.NumBands]BandEntry
	Message string
}

// Encode serializes the record into its stable binary form.
func (r *CrashRecord) Encode() []byte {
	le := binary.LittleEndian
	out := make([]byte, RecordSize)
	le.PutUint32(out[0:4], CrashMagic)
	le.PutUint16(out[4:6], CrashVersion)
	le.PutUint16(out[6:8], KindCode(r.Kind))
	le.PutUint16(out[8:10], uint16(r.Site))
	le.PutUint32(out[12:16], r.Pid)
	le.PutUint64(out[16:24], r.Tid)
	le.PutUint64(out[24:32], r.Addr)
	le.PutUint64(out[32:40], r.Size)
	le.PutUint32(out[40:44], uint32(r.OldProt))
	le.PutUint32(out[44:48], uint32(r.NewProt))

	band := NoBand
	if r.HasBand {
		band = uint32(r.Band)
	}
	slot := NoSlot
	if r.HasSlot {
		slot = int32(r.Slot)
	}
	le.PutUint32(out[48:52], band)
	le.PutUint32(out[52:56], uint32(slot))

	for i, b := range r.Bands {
		e := out[56+i*24:]
		le.PutUint32(e[0:4], uint32(b.Kind))
		le.PutUint64(e[8:16], b.Base)
		le.PutUint64(e[16:24], b.End)
	}

	msg := r.Message
	if len(msg) > MaxCrashMessage {
		msg = msg[:MaxCrashMessage]
	}
	le.PutUint16(out[200:202], uint16(len(msg)))
	copy(out[crashMsgOff:], msg)
	return out
}

// DecodeCrashRecord parses a record previously produced by Encode.
func DecodeCrashRecord(data []byte) (*CrashRecord, error) {
	if len(data) < RecordSize {
		return nil, fmt.Errorf("diag: crash record truncated (%d bytes)", len(data))
	}
	le := binary.LittleEndian
	if le.Uint32(data[0:4]) != CrashMagic {
		return nil, fmt.Errorf("diag: bad crash record signature %#x", le.Uint32(data[0:4]))
	}
	if v := le.Uint16(data[4:6]); v != CrashVersion {
		return nil, fmt.Errorf("diag: unsupported crash record version %d", v)
	}

	r := &CrashRecord{
		Kind:    CodeKind(le.Uint16(data[6:8])),
		Site:    Site(le.Uint16(data[8:10])),
		Pid:     le.Uint32(data[12:16]),
		Tid:     le.Uint64(data[16:24]),
		Addr:    le.Uint64(data[24:32]),
		Size:    le.Uint64(data[32:40]),
		OldProt: codeband.Prot(le.Uint32(data[40:44])),
		NewProt: codeband.Prot(le.Uint32(data[44:48])),
	}
	if band := le.Uint32(data[48:52]); band != NoBand {
		r.Band = layout.Kind(band)
		r.HasBand = true
	}
	if slot := int32(le.Uint32(data[52:56])); slot != NoSlot {
		r.Slot = int(slot)
		r.HasSlot = true
	}
	for i := range r.Bands {
		e := data[56+i*24:]
		r.Bands[i] = BandEntry{
			Kind: layout.Kind(le.Uint32(e[0:4])),
			Base: le.Uint64(e[8:16]),
			End:  le.Uint64(e[16:24]),
		}
	}
	n := int(le.Uint16(data[200:202]))
	if n > MaxCrashMessage {
		n = MaxCrashMessage
	}
	r.Message = string(bytes.TrimRight(data[crashMsgOff:crashMsgOff+n], "\x00"))
	return r, nil
}
