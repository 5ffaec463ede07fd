//go:build !linux

package loader

// Thread ids are not portably observable; crash records carry 0 off Linux.
func gettid() uint64 { return 0 }
