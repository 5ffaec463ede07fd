package image

import (
	"encoding/binary"

	"github.com/wombatlabs/codeband"
)

// Builder assembles an AOT image container. The compiler pipeline that
// produces real images lives outside this repository; the builder exists so
// tooling and tests can construct images byte-for-byte compatible with
// Parse.
type Builder struct {
	machine       uint16
	flags         uint32
	preferredBase uintptr
	entryOffset   uintptr
	name          string
	sections      []builderSection
}

type builderSection struct {
	kind       SectionKind
	prot       codeband.Prot
	virtOffset uint64
	payload    []byte
}

// NewBuilder starts an image for the given machine tag.
func NewBuilder(machine uint16) *Builder {
	return &Builder{machine: machine}
}

// Name sets the module name, truncated to NameLen bytes.
func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

// PreferredBase sets the address the image was linked for.
func (b *Builder) PreferredBase(base uintptr) *Builder {
	b.preferredBase = base
	return b
}

// EntryOffset sets the entry point offset from the loaded base.
func (b *Builder) EntryOffset(off uintptr) *Builder {
	b.entryOffset = off
	return b
}

// FixedBase marks the image as non-relocatable.
func (b *Builder) FixedBase() *Builder {
	b.flags |= FlagFixedBase
	return b
}

// Section appends a section with the given payload at virtOffset from the
// loaded base.
func (b *Builder) Section(kind SectionKind, prot codeband.Prot, virtOffset uint64, payload []byte) *Builder {
	b.sections = append(b.sections, builderSection{
		kind:       kind,
		prot:       prot,
		virtOffset: virtOffset,
		payload:    payload,
	})
	return b
}

// Build serializes the image.
func (b *Builder) Build() []byte {
	le := binary.LittleEndian
	tableEnd := HeaderSize + len(b.sections)*EntrySize
	total := tableEnd
	for _, s := range b.sections {
		total += len(s.payload)
	}

	out := make([]byte, total)
	le.PutUint32(out[0:4], Magic)
	le.PutUint16(out[4:6], Version)
	le.PutUint16(out[6:8], b.machine)
	le.PutUint32(out[8:12], b.flags)
	le.PutUint32(out[12:16], uint32(len(b.sections)))
	le.PutUint64(out[16:24], uint64(b.preferredBase))
	le.PutUint64(out[24:32], uint64(b.entryOffset))
	name := b.name
	if len(name) > NameLen {
		name = name[:NameLen]
	}
	copy(out[32:64], name)

	fileOff := uint64(tableEnd)
	for i, s := range b.sections {
		e := out[HeaderSize+i*EntrySize:]
		le.PutUint32(e[0:4], uint32(s.kind))
		le.PutUint32(e[4:8], uint32(s.prot))
		le.PutUint64(e[8:16], fileOff)
		le.PutUint64(e[16:24], s.virtOffset)
		le.PutUint64(e[24:32], uint64(len(s.payload)))
		copy(out[fileOff:], s.payload)
		fileOff += uint64(len(s.payload))
	}
	return out
}
