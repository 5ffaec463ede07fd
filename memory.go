package codeband

// Memory is the platform capability the loader core is built on. One
// implementation exists per target OS (see the platform package); tests run
// against a deterministic simulator.
//
// Reserve claims an address range without backing it. Commit backs a
// previously reserved range with accessible memory at the given protection.
// Protect changes the protection of committed memory; callers inside the
// loader route every executable transition through the policy gate before
// calling it. Decommit drops the backing but keeps the reservation.
type Memory interface {
	// Reserve claims [addr, addr+size) and returns the granted base, which
	// implementations may place elsewhere than requested. Callers that
	// require an exact base must verify the result and Release on mismatch.
	Reserve(addr, size uintptr) (uintptr, error)

	// Release returns a reserved range to the platform.
	Release(addr, size uintptr) error

	// Commit backs [addr, addr+size) inside a reservation.
	Commit(addr, size uintptr, prot Prot) error

	// Decommit drops backing for [addr, addr+size), keeping the reservation.
	Decommit(addr, size uintptr) error

	// Protect changes the protection of committed memory.
	Protect(addr, size uintptr, prot Prot) error

	// Buffer exposes committed memory as a byte slice for reading and, if
	// the range is writable, writing.
	Buffer(addr, size uintptr) ([]byte, error)

	// FlushICache makes written instructions visible to the instruction
	// fetch path over [addr, addr+size). A no-op on architectures with
	// coherent caches.
	FlushICache(addr, size uintptr)

	// PageSize returns the platform page size in bytes.
	PageSize() uintptr
}

// PageAlignUp rounds n up to the next multiple of page, which must be a
// power of two.
func PageAlignUp(n, page uintptr) uintptr {
	return (n + page - 1) &^ (page - 1)
}

// PageAlignDown rounds n down to a multiple of page, which must be a power
// of two.
func PageAlignDown(n, page uintptr) uintptr {
	return n &^ (page - 1)
}

// IsPowerOfTwo reports whether n is a non-zero power of two.
func IsPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}
