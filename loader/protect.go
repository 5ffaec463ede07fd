package loader

import (
	"github.com/wombatlabs/codeband"
	"github.com/wombatlabs/codeband/diag"
	"github.com/wombatlabs/codeband/policy"
)

// ProtChange describes a permission change the host process intends to
// apply. Every real protection change must be routed through
// OnProtectionChange before it is made.
type ProtChange struct {
	Addr uintptr
	Size uintptr
	New  codeband.Prot

	// Old is the current protection, when the caller knows it; recorded in
	// the crash record on denial.
	Old codeband.Prot

	// FromJitPipeline marks requests originating from the JIT sealer.
	// Host callers leave it false.
	FromJitPipeline bool
}

// OnProtectionChange consults the policy gate. A nil return means the
// change is allowed; a denial returns the typed reason after a crash record
// has been written. The gate never applies the change and never terminates
// the process; both remain the caller's decision.
func (l *Loader) OnProtectionChange(ch ProtChange) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.gateLocked(diag.SiteProtectionChange, ch.Old, policy.Request{
		Addr:            ch.Addr,
		Size:            ch.Size,
		New:             ch.New,
		FromJitPipeline: ch.FromJitPipeline,
	}); err != nil {
		return err
	}
	return nil
}
