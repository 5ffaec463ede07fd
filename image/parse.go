package image

import (
	"bytes"
	"encoding/binary"

	"github.com/wombatlabs/codeband"
	"github.com/wombatlabs/codeband/errors"
)

// Section is one parsed section table entry.
type Section struct {
	Kind       SectionKind
	Prot       codeband.Prot
	FileOffset uint64
	VirtOffset uint64
	Size       uint64
}

// Image is a parsed and structurally validated AOT image.
type Image struct {
	Machine       uint16
	Flags         uint32
	PreferredBase uintptr
	EntryOffset   uintptr
	Name          string
	Sections      []Section

	data []byte
}

// FixedBase reports whether the image demands placement at its preferred
// base.
func (img *Image) FixedBase() bool { return img.Flags&FlagFixedBase != 0 }

// Span returns the total virtual extent of the image from its base: the end
// of the highest section.
func (img *Image) Span() uintptr {
	var span uint64
	for _, s := range img.Sections {
		if end := s.VirtOffset + s.Size; end > span {
			span = end
		}
	}
	return uintptr(span)
}

// Payload returns the file bytes of a section.
func (img *Image) Payload(s Section) []byte {
	return img.data[s.FileOffset : s.FileOffset+s.Size]
}

// Parse validates the structural invariants of an AOT image and returns its
// parsed form. It checks the container, not the code: magic, version,
// section table bounds, per-section W^X, and that a text section, when
// present, is executable and non-writable. Architecture matching against
// the host is the loader's job.
func Parse(data []byte) (*Image, *errors.Error) {
	if len(data) < HeaderSize {
		return nil, errors.BadImage("image shorter than header (%d bytes)", len(data))
	}
	le := binary.LittleEndian
	if le.Uint32(data[0:4]) != Magic {
		return nil, errors.BadImage("bad magic %#x", le.Uint32(data[0:4]))
	}
	if v := le.Uint16(data[4:6]); v != Version {
		return nil, errors.BadImage("unsupported format version %d", v)
	}

	img := &Image{
		Machine:       le.Uint16(data[6:8]),
		Flags:         le.Uint32(data[8:12]),
		PreferredBase: uintptr(le.Uint64(data[16:24])),
		EntryOffset:   uintptr(le.Uint64(data[24:32])),
		Name:          string(bytes.TrimRight(data[32:64], "\x00")),
		data:          data,
	}

	count := le.Uint32(data[12:16])
	if count == 0 {
		return nil, errors.BadImage("image has no sections")
	}
	if count > MaxSections {
		return nil, errors.BadImage("section count %d exceeds maximum %d", count, MaxSections)
	}
	tableEnd := HeaderSize + int(count)*EntrySize
	if len(data) < tableEnd {
		return nil, errors.BadImage("section table truncated")
	}

	img.Sections = make([]Section, count)
	for i := range img.Sections {
		e := data[HeaderSize+i*EntrySize:]
		s := Section{
			Kind:       SectionKind(le.Uint32(e[0:4])),
			Prot:       codeband.Prot(le.Uint32(e[4:8])),
			FileOffset: le.Uint64(e[8:16]),
			VirtOffset: le.Uint64(e[16:24]),
			Size:       le.Uint64(e[24:32]),
		}
		if s.Size == 0 {
			return nil, errors.BadImage("section %d has zero size", i)
		}
		if s.FileOffset+s.Size < s.FileOffset || s.FileOffset+s.Size > uint64(len(data)) {
			return nil, errors.BadImage("section %d payload outside file", i)
		}
		if s.VirtOffset+s.Size < s.VirtOffset {
			return nil, errors.BadImage("section %d virtual range wraps", i)
		}
		if s.Prot.WritableExecutable() {
			return nil, errors.SectionPerms(i, "section is simultaneously writable and executable")
		}
		// Images without code (pure data modules) are accepted; when a text
		// section exists it must be read-execute.
		if s.Kind == SectionText {
			if !s.Prot.Executable() || s.Prot.Writable() {
				return nil, errors.SectionPerms(i, "text section must be executable and non-writable")
			}
		}
		for j := 0; j < i; j++ {
			p := img.Sections[j]
			if s.VirtOffset < p.VirtOffset+p.Size && p.VirtOffset < s.VirtOffset+s.Size {
				return nil, errors.BadImage("sections %d and %d overlap in virtual space", j, i)
			}
		}
		img.Sections[i] = s
	}

	if img.EntryOffset != 0 && img.EntryOffset >= img.Span() {
		return nil, errors.BadImage("entry offset %#x outside image span %#x", img.EntryOffset, img.Span())
	}
	return img, nil
}
