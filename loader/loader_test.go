package loader_test

import (
	"errors"
	"testing"

	"github.com/wombatlabs/codeband"
	"github.com/wombatlabs/codeband/diag"
	cberrors "github.com/wombatlabs/codeband/errors"
	"github.com/wombatlabs/codeband/image"
	"github.com/wombatlabs/codeband/layout"
	"github.com/wombatlabs/codeband/loader"
	"github.com/wombatlabs/codeband/platform"
	"github.com/wombatlabs/codeband/policy"
)

const mib = 1 << 20

func testSpec() *layout.Spec {
	return &layout.Spec{
		ABIVersion:   layout.ABIVersion,
		Core:         layout.BandSpec{Base: 0x10000000, Size: 16 * mib},
		Meta:         layout.BandSpec{Base: 0x20000000, Size: 16 * mib},
		Heap:         layout.BandSpec{Base: 0x30000000, Size: 64 * mib},
		Mmap:         layout.BandSpec{Base: 0x40000000, Size: 64 * mib},
		AotBase:      0x50000000,
		AotSlotSize:  16 * mib,
		AotSlotCount: 4,
		JitBase:      0x60000000,
		JitSize:      48 * mib,
		TierOffsets:  [layout.NumTiers]uintptr{0, 16 * mib, 32 * mib},
	}
}

func strictPolicy() policy.Policy {
	return policy.Policy{
		Version: policy.Version,
		Flags:   policy.DenyRwxAlways | policy.EnforceExecBands,
	}
}

func mustInit(t *testing.T, sim *platform.Sim, pol policy.Policy) *loader.Loader {
	t.Helper()
	l, err := loader.Init(sim, testSpec(), pol)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return l
}

func validImage(name string) []byte {
	return image.NewBuilder(image.HostMachine()).
		Name(name).
		EntryOffset(0).
		Section(image.SectionText, codeband.ProtRX, 0, []byte{0xc3}).
		Section(image.SectionROData, codeband.ProtRead, 0x1000, []byte("const")).
		Build()
}

func kindOf(t *testing.T, err error) cberrors.Kind {
	t.Helper()
	var cbe *cberrors.Error
	if !errors.As(err, &cbe) {
		t.Fatalf("expected structured error, got %v", err)
	}
	return cbe.Kind
}

func TestInit_RejectsBadPolicy(t *testing.T) {
	_, err := loader.Init(platform.NewSim(), testSpec(), policy.Policy{Version: 3})
	if err == nil || kindOf(t, err) != cberrors.KindVersionMismatch {
		t.Fatalf("expected version_mismatch, got %v", err)
	}
}

func TestLoadModule_Success(t *testing.T) {
	sim := platform.NewSim()
	l := mustInit(t, sim, strictPolicy())

	mod, err := l.LoadModule(2, validImage("app.core"), "")
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	spec := testSpec()
	lo := spec.AotBase + 2*spec.AotSlotSize
	hi := lo + spec.AotSlotSize
	if mod.Base < lo || mod.Base >= hi {
		t.Fatalf("module base %#x outside slot 2 [%#x, %#x)", mod.Base, lo, hi)
	}
	if mod.Name != "app.core" {
		t.Fatalf("name = %q", mod.Name)
	}

	// Text pages sealed read-execute, rodata read-only.
	if p, _ := sim.ProtAt(mod.Base); p != codeband.ProtRX {
		t.Fatalf("text prot = %v", p)
	}
	if p, _ := sim.ProtAt(mod.Base + 0x1000); p != codeband.ProtRead {
		t.Fatalf("rodata prot = %v", p)
	}

	c := l.ClassifyAddress(mod.Entry)
	if !c.HasBand || c.Band != layout.BandAot || !c.HasSlot || c.Slot != 2 {
		t.Fatalf("entry classification = %+v", c)
	}
}

func TestLoadModule_Rejections(t *testing.T) {
	host := image.HostMachine()
	wrongMachine := image.MachineARM64
	if host == image.MachineARM64 {
		wrongMachine = image.MachineAMD64
	}
	spec := testSpec()

	tests := []struct {
		name string
		pol  policy.Policy
		slot int
		data []byte
		kind cberrors.Kind
	}{
		{
			name: "slot out of range",
			pol:  strictPolicy(),
			slot: 4,
			data: validImage("m"),
			kind: cberrors.KindSlotOutOfRange,
		},
		{
			name: "negative slot",
			pol:  strictPolicy(),
			slot: -1,
			data: validImage("m"),
			kind: cberrors.KindSlotOutOfRange,
		},
		{
			name: "policy slot cap",
			pol: policy.Policy{
				Version:  policy.Version,
				Flags:    policy.DenyRwxAlways | policy.EnforceExecBands,
				MaxSlots: 2,
			},
			slot: 3,
			data: validImage("m"),
			kind: cberrors.KindSlotOutOfRange,
		},
		{
			name: "bad image",
			pol:  strictPolicy(),
			slot: 0,
			data: []byte("not an image"),
			kind: cberrors.KindBadImage,
		},
		{
			name: "wrong architecture",
			pol:  strictPolicy(),
			slot: 0,
			data: image.NewBuilder(wrongMachine).
				Section(image.SectionText, codeband.ProtRX, 0, []byte{0xc3}).
				Build(),
			kind: cberrors.KindBadArch,
		},
		{
			name: "fixed base outside slot",
			pol:  strictPolicy(),
			slot: 1,
			data: image.NewBuilder(host).
				FixedBase().
				PreferredBase(spec.AotBase). // slot 0, not slot 1
				Section(image.SectionText, codeband.ProtRX, 0, []byte{0xc3}).
				Build(),
			kind: cberrors.KindOutsideSlot,
		},
		{
			name: "relocation rejected",
			pol: policy.Policy{
				Version: policy.Version,
				Flags:   strictPolicy().Flags | policy.FailOnAotReloc,
			},
			slot: 1,
			data: image.NewBuilder(host).
				PreferredBase(spec.AotBase). // will be placed at slot 1's base
				Section(image.SectionText, codeband.ProtRX, 0, []byte{0xc3}).
				Build(),
			kind: cberrors.KindRelocated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := platform.NewSim()
			l := mustInit(t, sim, tt.pol)
			before := sim.CommittedBytes()
			_, err := l.LoadModule(tt.slot, tt.data, "")
			if err == nil {
				t.Fatal("expected LoadModule to fail")
			}
			if got := kindOf(t, err); got != tt.kind {
				t.Fatalf("kind = %s, want %s", got, tt.kind)
			}
			if sim.CommittedBytes() != before {
				t.Fatal("failed load left memory committed")
			}
		})
	}
}

func TestLoadModule_SlotOccupied(t *testing.T) {
	l := mustInit(t, platform.NewSim(), strictPolicy())
	if _, err := l.LoadModule(0, validImage("a"), ""); err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	_, err := l.LoadModule(0, validImage("b"), "")
	if err == nil || kindOf(t, err) != cberrors.KindSlotOccupied {
		t.Fatalf("expected slot_occupied, got %v", err)
	}
}

func TestLoadModule_CommitFailureRollsBack(t *testing.T) {
	sim := platform.NewSim()
	l := mustInit(t, sim, strictPolicy())

	// Fail the second section's commit; the first must be decommitted.
	var commits int
	spec := testSpec()
	sim.OnCommit = func(addr, size uintptr, prot codeband.Prot) error {
		if addr >= spec.AotBase && addr < spec.AotBase+spec.AotSize() {
			commits++
			if commits == 2 {
				return errors.New("injected commit failure")
			}
		}
		return nil
	}
	_, err := l.LoadModule(0, validImage("m"), "")
	if err == nil || kindOf(t, err) != cberrors.KindLoadFailed {
		t.Fatalf("expected load_failed, got %v", err)
	}
	if sim.CommittedBytes() != 0 {
		t.Fatal("rollback left sections committed")
	}
}

func TestAllocEmitSeal_Success(t *testing.T) {
	sim := platform.NewSim()
	l := mustInit(t, sim, strictPolicy())

	entry, err := l.AllocEmitSeal(loader.EmitRequest{
		Tier: layout.TierBaseline,
		Size: 64,
		Tag:  42,
	}, func(buf []byte) (uintptr, error) {
		buf[0] = 0xc3
		return 0, nil
	})
	if err != nil {
		t.Fatalf("AllocEmitSeal failed: %v", err)
	}

	c := l.ClassifyAddress(entry)
	if !c.HasBand || c.Band != layout.BandJit {
		t.Fatalf("entry classification = %+v", c)
	}
	if p, _ := sim.ProtAt(entry); p != codeband.ProtRX {
		t.Fatalf("sealed prot = %v", p)
	}
	buf, err := sim.Buffer(entry, 1)
	if err != nil {
		t.Fatalf("Buffer failed: %v", err)
	}
	if buf[0] != 0xc3 {
		t.Fatalf("sealed byte = %#x", buf[0])
	}
	if sim.ICacheFlushes == 0 {
		t.Fatal("instruction cache never flushed")
	}
	if got := l.Counters().JitSeals; got != 1 {
		t.Fatalf("JitSeals = %d", got)
	}

	// Cursor advanced exactly one page past the region base.
	tierStart, _ := l.Table().TierRange(layout.TierBaseline)
	if cur := l.TierCursor(layout.TierBaseline); cur != tierStart+platform.SimPageSize {
		t.Fatalf("cursor = %#x, want %#x", cur, tierStart+platform.SimPageSize)
	}
}

func TestAllocEmitSeal_CursorsMonotonicPerTier(t *testing.T) {
	l := mustInit(t, platform.NewSim(), strictPolicy())

	for _, tier := range []layout.Tier{layout.TierBaseline, layout.TierOptimized, layout.TierStub} {
		start, end := l.Table().TierRange(tier)
		prev := l.TierCursor(tier)
		if prev != start {
			t.Fatalf("tier %s cursor starts at %#x, want %#x", tier, prev, start)
		}
		for i := 0; i < 8; i++ {
			_, err := l.AllocEmitSeal(loader.EmitRequest{Tier: tier, Size: 3000},
				func(buf []byte) (uintptr, error) { return 0, nil })
			if err != nil {
				t.Fatalf("seal %d failed: %v", i, err)
			}
			cur := l.TierCursor(tier)
			if cur <= prev {
				t.Fatalf("cursor not monotonic: %#x -> %#x", prev, cur)
			}
			if cur > end {
				t.Fatalf("cursor %#x past tier end %#x", cur, end)
			}
			prev = cur
		}
	}
}

func TestAllocEmitSeal_FailuresLeaveNoTrace(t *testing.T) {
	emitErr := errors.New("emitter exploded")

	tests := []struct {
		name string
		run  func(l *loader.Loader) error
		kind cberrors.Kind
	}{
		{
			name: "emitter error",
			run: func(l *loader.Loader) error {
				_, err := l.AllocEmitSeal(loader.EmitRequest{Tier: layout.TierBaseline, Size: 64},
					func(buf []byte) (uintptr, error) { return 0, emitErr })
				return err
			},
			kind: cberrors.KindEmitFailed,
		},
		{
			name: "entry offset at capacity",
			run: func(l *loader.Loader) error {
				_, err := l.AllocEmitSeal(loader.EmitRequest{Tier: layout.TierBaseline, Size: 64},
					func(buf []byte) (uintptr, error) { return uintptr(len(buf)), nil })
				return err
			},
			kind: cberrors.KindEntryOutOfRange,
		},
		{
			name: "region too large for tier",
			run: func(l *loader.Loader) error {
				_, err := l.AllocEmitSeal(loader.EmitRequest{Tier: layout.TierStub, Size: 17 * mib},
					func(buf []byte) (uintptr, error) { return 0, nil })
				return err
			},
			kind: cberrors.KindOutsideBand,
		},
		{
			name: "zero size",
			run: func(l *loader.Loader) error {
				_, err := l.AllocEmitSeal(loader.EmitRequest{Tier: layout.TierBaseline},
					func(buf []byte) (uintptr, error) { return 0, nil })
				return err
			},
			kind: cberrors.KindOutOfRange,
		},
		{
			name: "invalid tier",
			run: func(l *loader.Loader) error {
				_, err := l.AllocEmitSeal(loader.EmitRequest{Tier: 9, Size: 64},
					func(buf []byte) (uintptr, error) { return 0, nil })
				return err
			},
			kind: cberrors.KindOutOfRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := platform.NewSim()
			l := mustInit(t, sim, strictPolicy())
			cursorBefore := l.TierCursor(layout.TierBaseline)
			committedBefore := sim.CommittedBytes()

			err := tt.run(l)
			if err == nil {
				t.Fatal("expected AllocEmitSeal to fail")
			}
			if got := kindOf(t, err); got != tt.kind {
				t.Fatalf("kind = %s, want %s", got, tt.kind)
			}
			if l.TierCursor(layout.TierBaseline) != cursorBefore {
				t.Fatal("failure moved the tier cursor")
			}
			if sim.CommittedBytes() != committedBefore {
				t.Fatal("failure left memory committed")
			}
			if l.RegionCount() != 0 {
				t.Fatal("failure left a region registered")
			}
		})
	}
}

func TestAllocEmitSeal_SealProtectFailureDiscards(t *testing.T) {
	sim := platform.NewSim()
	l := mustInit(t, sim, strictPolicy())
	cursorBefore := l.TierCursor(layout.TierBaseline)

	sim.OnProtect = func(addr, size uintptr, prot codeband.Prot) error {
		if prot.Executable() {
			return errors.New("injected protect failure")
		}
		return nil
	}
	_, err := l.AllocEmitSeal(loader.EmitRequest{Tier: layout.TierBaseline, Size: 64},
		func(buf []byte) (uintptr, error) { return 0, nil })
	if err == nil || kindOf(t, err) != cberrors.KindSealFailed {
		t.Fatalf("expected seal_failed, got %v", err)
	}
	if l.TierCursor(layout.TierBaseline) != cursorBefore {
		t.Fatal("failed seal moved the cursor")
	}
	if sim.CommittedBytes() != 0 {
		t.Fatal("failed seal left memory committed")
	}
}

func TestAllocEmitSeal_RegistryFull(t *testing.T) {
	l := mustInit(t, platform.NewSim(), strictPolicy())
	for i := 0; i < diag.MaxRegions; i++ {
		if _, err := l.AllocEmitSeal(loader.EmitRequest{Tier: layout.TierBaseline, Size: 16},
			func(buf []byte) (uintptr, error) { return 0, nil }); err != nil {
			t.Fatalf("seal %d failed: %v", i, err)
		}
	}
	_, err := l.AllocEmitSeal(loader.EmitRequest{Tier: layout.TierBaseline, Size: 16},
		func(buf []byte) (uintptr, error) { return 0, nil })
	if err == nil || kindOf(t, err) != cberrors.KindRegistryFull {
		t.Fatalf("expected registry_full, got %v", err)
	}
}

func TestOnProtectionChange(t *testing.T) {
	l := mustInit(t, platform.NewSim(), strictPolicy())
	spec := testSpec()

	// Non-executable change is allowed.
	if err := l.OnProtectionChange(loader.ProtChange{
		Addr: spec.Heap.Base, Size: 4096, New: codeband.ProtRW,
	}); err != nil {
		t.Fatalf("rw change denied: %v", err)
	}

	// RWX is always denied under deny_rwx_always.
	err := l.OnProtectionChange(loader.ProtChange{
		Addr: spec.Heap.Base, Size: 4096, New: codeband.ProtRWX, Old: codeband.ProtRW,
	})
	if err == nil || kindOf(t, err) != cberrors.KindRwxForbidden {
		t.Fatalf("expected rwx_forbidden, got %v", err)
	}

	// Executable outside Core/Aot/Jit is denied.
	err = l.OnProtectionChange(loader.ProtChange{
		Addr: spec.Mmap.Base, Size: 4096, New: codeband.ProtRX,
	})
	if err == nil || kindOf(t, err) != cberrors.KindExecOutsideAllowed {
		t.Fatalf("expected exec_outside_allowed, got %v", err)
	}

	// JIT band exec without the pipeline flag is denied even though the
	// band itself is executable-capable.
	err = l.OnProtectionChange(loader.ProtChange{
		Addr: spec.JitBase, Size: 4096, New: codeband.ProtRX,
	})
	if err == nil || kindOf(t, err) != cberrors.KindTransitionDenied {
		t.Fatalf("expected transition_denied, got %v", err)
	}

	counters := l.Counters()
	if counters.ExecTransitions != 4 {
		t.Fatalf("ExecTransitions = %d, want 4", counters.ExecTransitions)
	}
	if counters.ExecDenials != 3 || counters.Violations != 3 {
		t.Fatalf("denials/violations = %d/%d, want 3/3", counters.ExecDenials, counters.Violations)
	}
}

func TestWriteCrashRecord(t *testing.T) {
	sim := platform.NewSim()
	l := mustInit(t, sim, strictPolicy())
	spec := testSpec()

	ref, err := l.WriteCrashRecord(cberrors.KindExecOutsideAllowed, diag.SiteExternal,
		"signal handler observed exec fault",
		spec.AotBase+spec.AotSlotSize+8, 4096, codeband.ProtRead, codeband.ProtRX)
	if err != nil {
		t.Fatalf("WriteCrashRecord failed: %v", err)
	}

	c := l.ClassifyAddress(ref.Addr)
	if !c.HasBand || c.Band != layout.BandMeta {
		t.Fatalf("record not in meta band: %+v", c)
	}
	if !ref.Record.HasSlot || ref.Record.Slot != 1 {
		t.Fatalf("record classification = %+v", ref.Record)
	}

	// The stored bytes decode to the same record.
	raw, err := sim.Buffer(ref.Addr, diag.RecordSize)
	if err != nil {
		t.Fatalf("Buffer failed: %v", err)
	}
	dec, derr := diag.DecodeCrashRecord(raw)
	if derr != nil {
		t.Fatalf("decode failed: %v", derr)
	}
	if dec.Kind != cberrors.KindExecOutsideAllowed || dec.Site != diag.SiteExternal {
		t.Fatalf("decoded kind/site = %s/%s", dec.Kind, dec.Site)
	}
	if dec.Message != "signal handler observed exec fault" {
		t.Fatalf("message = %q", dec.Message)
	}

	if addr, ok := l.LastCrash(); !ok || addr != ref.Addr {
		t.Fatal("last crash pointer not updated")
	}
}

func TestWriteCrashRecord_MetaExhausted(t *testing.T) {
	spec := testSpec()
	spec.Meta.Size = platform.SimPageSize // room for exactly one record
	sim := platform.NewSim()
	l, err := loader.Init(sim, spec, strictPolicy())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if _, err := l.WriteCrashRecord(cberrors.KindInternal, diag.SiteExternal, "first",
		0, 0, codeband.ProtNone, codeband.ProtNone); err != nil {
		t.Fatalf("first record failed: %v", err)
	}
	_, err = l.WriteCrashRecord(cberrors.KindInternal, diag.SiteExternal, "second",
		0, 0, codeband.ProtNone, codeband.ProtNone)
	if err == nil || kindOf(t, err) != cberrors.KindAllocation {
		t.Fatalf("expected allocation error, got %v", err)
	}
}

func TestPublishDiagBlock(t *testing.T) {
	sim := platform.NewSim()
	l := mustInit(t, sim, strictPolicy())

	if _, err := l.LoadModule(2, validImage("app.core"), ""); err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	if _, err := l.AllocEmitSeal(loader.EmitRequest{Tier: layout.TierBaseline, Size: 64},
		func(buf []byte) (uintptr, error) { return 0, nil }); err != nil {
		t.Fatalf("AllocEmitSeal failed: %v", err)
	}

	ref, err := l.PublishDiagBlock(loader.PublishArgs{})
	if err != nil {
		t.Fatalf("PublishDiagBlock failed: %v", err)
	}
	if c := l.ClassifyAddress(ref.Addr); !c.HasBand || c.Band != layout.BandMeta {
		t.Fatalf("block not in meta band: %+v", c)
	}

	// The published bytes decode independently.
	dec, derr := diag.DecodeBlock(ref.Data)
	if derr != nil {
		t.Fatalf("decode failed: %v", derr)
	}
	if len(dec.Bands) != layout.NumBands {
		t.Fatalf("bands = %d", len(dec.Bands))
	}
	if len(dec.Modules) != 1 || dec.Modules[0].Name != "app.core" || dec.Modules[0].Slot != 2 {
		t.Fatalf("modules = %+v", dec.Modules)
	}
	if len(dec.Regions) != 1 || dec.Regions[0].State != diag.RegionRxSealed {
		t.Fatalf("regions = %+v", dec.Regions)
	}
	if dec.Counters.JitSeals != 1 {
		t.Fatalf("JitSeals = %d", dec.Counters.JitSeals)
	}

	// Block pages are read-only after publish.
	if p, _ := sim.ProtAt(ref.Addr); p != codeband.ProtRead {
		t.Fatalf("block prot = %v", p)
	}

	// Double publish is an error unless Replace is set.
	if _, err := l.PublishDiagBlock(loader.PublishArgs{}); err == nil ||
		kindOf(t, err) != cberrors.KindAlreadyPublished {
		t.Fatalf("expected already_published, got %v", err)
	}
	if _, err := l.PublishDiagBlock(loader.PublishArgs{Replace: true}); err != nil {
		t.Fatalf("replace publish failed: %v", err)
	}
}

// TestEndToEnd walks the scenario external tooling depends on: load into
// slot 2 of a 4x16MiB AOT band, seal one JIT return stub, then observe a
// denied RWX request leaving exactly one crash record behind.
func TestEndToEnd(t *testing.T) {
	sim := platform.NewSim()
	l := mustInit(t, sim, strictPolicy())
	spec := testSpec()

	mod, err := l.LoadModule(2, validImage("app.core"), "")
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	if lo, hi := spec.AotBase+32*mib, spec.AotBase+48*mib; mod.Base < lo || mod.Base >= hi {
		t.Fatalf("module base %#x outside [%#x, %#x)", mod.Base, lo, hi)
	}

	p, err := l.AllocEmitSeal(loader.EmitRequest{Tier: layout.TierBaseline, Size: 16},
		func(buf []byte) (uintptr, error) {
			buf[0] = 0xc3 // ret
			return 0, nil
		})
	if err != nil {
		t.Fatalf("AllocEmitSeal failed: %v", err)
	}
	if c := l.ClassifyAddress(p); !c.HasBand || c.Band != layout.BandJit {
		t.Fatalf("entry classification = %+v", c)
	}
	if prot, _ := sim.ProtAt(p); prot != codeband.ProtRX {
		t.Fatalf("entry page prot = %v, want r-x", prot)
	}

	if _, ok := l.LastCrash(); ok {
		t.Fatal("crash record present before any violation")
	}

	derr := l.OnProtectionChange(loader.ProtChange{
		Addr: spec.Heap.Base + 4096,
		Size: 8192,
		New:  codeband.ProtRWX,
		Old:  codeband.ProtRW,
	})
	if derr == nil || kindOf(t, derr) != cberrors.KindRwxForbidden {
		t.Fatalf("expected rwx_forbidden, got %v", derr)
	}

	addr, ok := l.LastCrash()
	if !ok {
		t.Fatal("denial wrote no crash record")
	}
	raw, err := sim.Buffer(addr, diag.RecordSize)
	if err != nil {
		t.Fatalf("Buffer failed: %v", err)
	}
	rec, recErr := diag.DecodeCrashRecord(raw)
	if recErr != nil {
		t.Fatalf("decode failed: %v", recErr)
	}
	if rec.Site != diag.SiteProtectionChange {
		t.Fatalf("site = %s, want protection_change", rec.Site)
	}
	if rec.Kind != cberrors.KindRwxForbidden {
		t.Fatalf("kind = %s", rec.Kind)
	}
	if rec.Addr != uint64(spec.Heap.Base+4096) || rec.Size != 8192 {
		t.Fatalf("record addr/size = %#x/%#x", rec.Addr, rec.Size)
	}
	if !rec.HasBand || rec.Band != layout.BandHeap {
		t.Fatalf("record classification = %+v", rec)
	}
	if counters := l.Counters(); counters.Violations != 1 {
		t.Fatalf("violations = %d, want exactly 1", counters.Violations)
	}
}
