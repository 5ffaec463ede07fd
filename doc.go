// Package codeband is the memory-layout and code-loading core of a
// managed-code runtime. It partitions the process address space into fixed,
// non-overlapping bands, loads ahead-of-time compiled images into validated
// slots, and mediates every writable-to-executable transition for
// just-in-time code so that no region is ever simultaneously writable and
// executable, and no executable region appears outside an authorized band.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	codeband/            Root package with the Memory capability and Prot flags
//	├── loader/          High-level API: init, AOT load, JIT emit/seal, policy gate
//	├── layout/          Band planning, reservation rollback, address classification
//	├── image/           AOT image container parsing, validation, and building
//	├── policy/          Protection policy flags and the gate decision function
//	├── diag/            Crash records and the versioned diagnostics block
//	├── platform/        Memory implementations (mmap-backed, simulator)
//	├── errors/          Structured error types for debugging
//	└── cmd/bandview/    Inspection tool for diagnostics blocks and crash records
//
// # Quick Start
//
// Initialize the loader, load a module, and seal some JIT code:
//
//	ld, err := loader.Init(plat, layoutSpec, pol)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	mod, err := ld.LoadModule(2, imageBytes, "app.core")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	entry, err := ld.AllocEmitSeal(loader.EmitRequest{Tier: layout.TierBaseline, Size: 64},
//	    func(buf []byte) (uintptr, error) {
//	        encodeReturn(buf)
//	        return 0, nil
//	    })
//
// # Security Model
//
// Every permission change in the process is expected to be routed through
// OnProtectionChange before it is applied. The gate never terminates the
// process; it records a crash record for every denial and leaves the
// termination decision to the host. Multi-step operations are atomic with
// respect to failure: a failed band reservation leaves no band reserved, and
// a failed emit/seal leaves the tier cursor unchanged with the region
// decommitted.
//
// The diagnostics block published by PublishDiagBlock has a stable,
// versioned binary layout (see the diag package) that external crash
// analysis tooling parses directly from process or dump memory.
package codeband
