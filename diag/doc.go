// Package diag defines the forensic records the loader writes: the crash
// record emitted on every policy violation and the versioned diagnostics
// block snapshot.
//
// Both records have explicit little-endian binary layouts, independent of Go
// struct packing, because external crash-analysis tooling parses them
// directly from process or dump memory. Field order, sizes, and offsets are
// part of the ABI; see the layout comments on CrashRecord and Block. Any
// layout change requires bumping the embedded version field.
package diag
