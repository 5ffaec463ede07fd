package image

import "runtime"

// The AOT image container is a flat little-endian layout: a fixed 64-byte
// header, a section table, then section payloads addressed by file offset.
//
//	off  size  field
//	  0     4  magic "CBA1"
//	  4     2  format version (currently 1)
//	  6     2  machine tag (ELF-style: 0x3e amd64, 0xb7 arm64)
//	  8     4  flags
//	 12     4  section count
//	 16     8  preferred base address
//	 24     8  entry offset (relative to the loaded base)
//	 32    32  module name, NUL padded
//	 64  32*n  section table
//
// Each section table entry:
//
//	off  size  field
//	  0     4  section kind
//	  4     4  protection bits (codeband.Prot)
//	  8     8  file offset of payload
//	 16     8  virtual offset from the loaded base
//	 24     8  size in bytes
const (
	Magic      = 0x31414243 // "CBA1"
	Version    = 1
	HeaderSize = 64
	EntrySize  = 32

	NameLen     = 32
	MaxSections = 16
)

// Header flags.
const (
	// FlagFixedBase marks an image that must be placed at its preferred
	// base; the loader will not relocate it into the slot.
	FlagFixedBase uint32 = 1 << 0
)

// Machine tags, matching the ELF e_machine values for the architectures the
// runtime targets.
const (
	MachineAMD64 uint16 = 0x3e
	MachineARM64 uint16 = 0xb7
)

// HostMachine returns the machine tag for the running architecture, or 0 if
// the host is not a supported target.
func HostMachine() uint16 {
	switch runtime.GOARCH {
	case "amd64":
		return MachineAMD64
	case "arm64":
		return MachineARM64
	}
	return 0
}

// SectionKind identifies a section's role.
type SectionKind uint32

const (
	SectionText   SectionKind = 1
	SectionROData SectionKind = 2
	SectionData   SectionKind = 3
)

func (k SectionKind) String() string {
	switch k {
	case SectionText:
		return "text"
	case SectionROData:
		return "rodata"
	case SectionData:
		return "data"
	}
	return "unknown"
}
