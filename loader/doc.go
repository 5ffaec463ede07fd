// Package loader is the high-level surface of the codeband core. A Loader
// is created by Init, which reserves the six address-space bands
// all-or-nothing, and then mediates everything that makes bytes executable:
// AOT module loads into validated slots, JIT emissions sealed through the
// policy gate, and host protection changes routed through
// OnProtectionChange.
//
// All state-mutating operations serialize behind a single lock. Address
// classification reads an atomically published immutable band table and
// never takes the lock, so it stays usable from fault handlers while the
// lock is held elsewhere.
//
// No operation panics or terminates the process. Policy denials write a
// crash record before they are returned, so forensic data survives callers
// that ignore the denial.
package loader
