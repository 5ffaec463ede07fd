//go:build linux

package platform

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/wombatlabs/codeband"
)

// Native is the mmap-backed codeband.Memory for Linux.
//
// Reserve maps PROT_NONE with MAP_FIXED_NOREPLACE, so the kernel either
// grants the exact requested base or fails with EEXIST; it never silently
// relocates a band. Commit and Protect are mprotect, Decommit is
// MADV_DONTNEED followed by PROT_NONE.
type Native struct{}

// NewNative returns the native memory capability.
func NewNative() *Native { return &Native{} }

func protFlags(p codeband.Prot) int {
	f := unix.PROT_NONE
	if p.Readable() {
		f |= unix.PROT_READ
	}
	if p.Writable() {
		f |= unix.PROT_WRITE
	}
	if p.Executable() {
		f |= unix.PROT_EXEC
	}
	return f
}

func byteRange(addr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}

func (*Native) Reserve(addr, size uintptr) (uintptr, error) {
	p, err := unix.MmapPtr(-1, 0, unsafe.Pointer(addr), size,
		unix.PROT_NONE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE|unix.MAP_FIXED_NOREPLACE)
	if err != nil {
		return 0, err
	}
	return uintptr(p), nil
}

func (*Native) Release(addr, size uintptr) error {
	return unix.MunmapPtr(unsafe.Pointer(addr), size)
}

func (*Native) Commit(addr, size uintptr, prot codeband.Prot) error {
	return unix.Mprotect(byteRange(addr, size), protFlags(prot))
}

func (*Native) Decommit(addr, size uintptr) error {
	b := byteRange(addr, size)
	if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil {
		return err
	}
	return unix.Mprotect(b, unix.PROT_NONE)
}

func (*Native) Protect(addr, size uintptr, prot codeband.Prot) error {
	return unix.Mprotect(byteRange(addr, size), protFlags(prot))
}

func (*Native) Buffer(addr, size uintptr) ([]byte, error) {
	return byteRange(addr, size), nil
}

// FlushICache is a no-op: amd64 has a coherent instruction cache, and on
// arm64 the Go runtime's membarrier on mprotect(PROT_EXEC) covers the
// transition this core performs (write, then seal through Protect).
func (*Native) FlushICache(addr, size uintptr) {}

func (*Native) PageSize() uintptr {
	return uintptr(unix.Getpagesize())
}

var _ codeband.Memory = (*Native)(nil)
