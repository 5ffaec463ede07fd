// Package platform provides codeband.Memory implementations.
//
// Native provides the real address space on Linux, built on mmap with
// MAP_FIXED_NOREPLACE so a band reservation either lands at the requested
// base or fails. Other operating systems return ErrUnsupported.
//
// Sim provides a deterministic in-process simulation of the same contract,
// with fault injection hooks. Tests and the bandview tool run against Sim so
// behavior does not depend on the host's address space state.
package platform
