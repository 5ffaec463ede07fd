package loader

import (
	"go.uber.org/zap"

	"github.com/wombatlabs/codeband"
	"github.com/wombatlabs/codeband/diag"
	"github.com/wombatlabs/codeband/errors"
	"github.com/wombatlabs/codeband/image"
	"github.com/wombatlabs/codeband/layout"
	"github.com/wombatlabs/codeband/policy"
)

// Module is the opaque handle returned for a loaded AOT module.
type Module struct {
	Slot  int
	Base  uintptr
	Size  uintptr
	Entry uintptr
	Name  string
}

// LoadModule loads an AOT image into the given slot, validates it, and
// records it. The module stays loaded for the process lifetime; there is no
// unload path. On any failure the image's memory is fully decommitted and a
// specific error is returned.
func (l *Loader) LoadModule(slot int, data []byte, name string) (*Module, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.table.Load()
	if slot < 0 || slot >= l.pol.SlotCap(t.SlotCount()) {
		return nil, errors.SlotOutOfRange(slot, l.pol.SlotCap(t.SlotCount()))
	}
	if l.slotUsed[slot] {
		return nil, &errors.Error{
			Phase:  errors.PhaseLoad,
			Kind:   errors.KindSlotOccupied,
			Detail: "slot already holds a module",
		}
	}
	if len(l.modules) >= diag.MaxModules {
		return nil, errors.RegistryFull(errors.PhaseLoad, "module", diag.MaxModules)
	}

	img, perr := image.Parse(data)
	if perr != nil {
		return nil, perr
	}
	if host := image.HostMachine(); img.Machine != host {
		return nil, errors.BadArch(img.Machine, host)
	}
	if name == "" {
		name = img.Name
	}

	page := l.mem.PageSize()
	slotBase, slotEnd := t.SlotRange(slot)
	target := slotBase
	if img.FixedBase() {
		target = img.PreferredBase
	}
	if target%page != 0 {
		return nil, errors.BadImage("load base %#x not page aligned", target)
	}

	size := codeband.PageAlignUp(img.Span(), page)
	if target < slotBase || target+size > slotEnd {
		return nil, errors.OutsideSlot(slot, target)
	}
	// Best-effort relocation heuristic: the loaded base is compared to the
	// image's preferred base. This detects simple displacement, not
	// tampering.
	if l.pol.Flags.Has(policy.FailOnAotReloc) && img.PreferredBase != 0 && target != img.PreferredBase {
		return nil, errors.Relocated(img.PreferredBase, target)
	}

	placed, err := l.placeSectionsLocked(t, img, target, page)
	if err != nil {
		return nil, err
	}

	l.mem.FlushICache(target, size)
	l.slotUsed[slot] = true
	l.modules = append(l.modules, moduleRecord{
		slot:         slot,
		expectedBase: slotBase,
		expectedEnd:  slotEnd,
		base:         target,
		size:         size,
		name:         name,
	})
	Logger().Info("aot module loaded",
		zap.String("name", name),
		zap.Int("slot", slot),
		zap.Uintptr("base", target),
		zap.Uintptr("size", size),
		zap.Int("sections", placed),
	)
	return &Module{
		Slot:  slot,
		Base:  target,
		Size:  size,
		Entry: target + img.EntryOffset,
		Name:  name,
	}, nil
}

// placeSectionsLocked commits each section, copies its payload, and seals it
// to its declared protection through the policy gate. Any failure
// decommits every section placed so far, leaving no partial module behind.
func (l *Loader) placeSectionsLocked(t *layout.Table, img *image.Image, base, page uintptr) (int, *errors.Error) {
	type placed struct{ addr, size uintptr }
	done := make([]placed, 0, len(img.Sections))
	rollback := func() {
		for _, p := range done {
			_ = l.mem.Decommit(p.addr, p.size)
		}
	}

	for i, s := range img.Sections {
		if s.VirtOffset%uint64(page) != 0 {
			rollback()
			return 0, errors.BadImage("section %d virtual offset %#x not page aligned", i, s.VirtOffset)
		}
		addr := base + uintptr(s.VirtOffset)
		asize := codeband.PageAlignUp(uintptr(s.Size), page)
		for _, p := range done {
			if addr < p.addr+p.size && p.addr < addr+asize {
				rollback()
				return 0, errors.BadImage("section %d shares pages with an earlier section", i)
			}
		}

		if err := l.mem.Commit(addr, asize, codeband.ProtRW); err != nil {
			rollback()
			return 0, &errors.Error{
				Phase: errors.PhaseLoad,
				Kind:  errors.KindLoadFailed,
				Addr:  addr,
				Size:  asize,
				Cause: err,
			}
		}
		done = append(done, placed{addr, asize})

		buf, err := l.mem.Buffer(addr, asize)
		if err != nil {
			rollback()
			return 0, errors.Internal(errors.PhaseLoad, "section buffer", err)
		}
		copy(buf, img.Payload(s))

		if gerr := l.gateLocked(diag.SiteAotLoad, codeband.ProtRW, policy.Request{
			Addr: addr,
			Size: asize,
			New:  s.Prot,
		}); gerr != nil {
			rollback()
			return 0, gerr
		}
		if err := l.mem.Protect(addr, asize, s.Prot); err != nil {
			rollback()
			return 0, &errors.Error{
				Phase: errors.PhaseLoad,
				Kind:  errors.KindLoadFailed,
				Addr:  addr,
				Size:  asize,
				Cause: err,
			}
		}
	}
	return len(done), nil
}
