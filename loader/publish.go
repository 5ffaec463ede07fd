package loader

import (
	"go.uber.org/zap"

	"github.com/wombatlabs/codeband"
	"github.com/wombatlabs/codeband/diag"
	"github.com/wombatlabs/codeband/errors"
)

// PublishArgs controls diagnostics publication.
type PublishArgs struct {
	// Replace permits publishing again after a previous block. Without it
	// a second publish fails with already_published; external tooling
	// assumes a stable block address.
	Replace bool
}

// BlockRef points at a published diagnostics block in the Meta band. Data
// is a read-only view of the serialized bytes; Block is the decoded
// snapshot.
type BlockRef struct {
	Addr  uintptr
	Data  []byte
	Block *diag.Block
}

// PublishDiagBlock serializes a bounded snapshot of all loader state into
// the Meta band and makes it read-only. Marking read-only is best effort:
// failure is non-fatal but counts as a violation. Each table is copied up
// to its fixed capacity.
func (l *Loader) PublishDiagBlock(args PublishArgs) (*BlockRef, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.published && !args.Replace {
		return nil, errors.AlreadyPublished()
	}

	t := l.table.Load()
	block := &diag.Block{
		Counters:  l.counters,
		LastCrash: uint64(l.lastCrash),
	}
	for _, b := range t.Bands() {
		block.Bands = append(block.Bands, diag.BandEntry{
			Kind: b.Kind,
			Base: uint64(b.Base),
			End:  uint64(b.End),
		})
	}
	for _, m := range l.modules {
		block.Modules = append(block.Modules, diag.ModuleEntry{
			Slot:         uint32(m.slot),
			ExpectedBase: uint64(m.expectedBase),
			ExpectedEnd:  uint64(m.expectedEnd),
			LoadedBase:   uint64(m.base),
			LoadedSize:   uint64(m.size),
			Name:         m.name,
		})
	}
	for _, r := range l.regions {
		block.Regions = append(block.Regions, diag.RegionEntry{
			Tier:      r.tier,
			State:     r.state,
			Base:      uint64(r.base),
			End:       uint64(r.end),
			Committed: uint64(r.committed),
		})
	}

	base, buf, aerr := l.metaAllocLocked(diag.BlockSize)
	if aerr != nil {
		return nil, errors.PublishFailed("allocate block storage", aerr)
	}
	copy(buf, block.Encode())

	if err := l.mem.Protect(base, uintptr(len(buf)), codeband.ProtRead); err != nil {
		// Best effort only; the block stays usable but the failure is
		// recorded as a violation.
		l.counters.Violations++
		Logger().Warn("diagnostics block left writable", zap.Error(err))
	}

	l.published = true
	l.diagAddr = base
	Logger().Info("diagnostics block published",
		zap.Uintptr("addr", base),
		zap.Int("modules", len(block.Modules)),
		zap.Int("regions", len(block.Regions)),
	)
	return &BlockRef{Addr: base, Data: buf[:diag.BlockSize:diag.BlockSize], Block: block}, nil
}
