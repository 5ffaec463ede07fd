package codeband

import "strings"

// Prot is a memory protection bit set.
type Prot uint8

const (
	ProtNone  Prot = 0
	ProtRead  Prot = 1 << iota
	ProtWrite
	ProtExec

	ProtRW  = ProtRead | ProtWrite
	ProtRX  = ProtRead | ProtExec
	ProtRWX = ProtRead | ProtWrite | ProtExec
)

// Readable reports whether the read bit is set.
func (p Prot) Readable() bool { return p&ProtRead != 0 }

// Writable reports whether the write bit is set.
func (p Prot) Writable() bool { return p&ProtWrite != 0 }

// Executable reports whether the execute bit is set.
func (p Prot) Executable() bool { return p&ProtExec != 0 }

// WritableExecutable reports whether the protection violates W^X.
func (p Prot) WritableExecutable() bool {
	return p.Writable() && p.Executable()
}

func (p Prot) String() string {
	if p == ProtNone {
		return "---"
	}
	var b strings.Builder
	if p.Readable() {
		b.WriteByte('r')
	} else {
		b.WriteByte('-')
	}
	if p.Writable() {
		b.WriteByte('w')
	} else {
		b.WriteByte('-')
	}
	if p.Executable() {
		b.WriteByte('x')
	} else {
		b.WriteByte('-')
	}
	return b.String()
}
