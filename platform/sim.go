package platform

import (
	"fmt"
	"sync"

	"github.com/wombatlabs/codeband"
)

// SimPageSize is the page size the simulator reports.
const SimPageSize uintptr = 4096

type simRun struct {
	base uintptr
	size uintptr
	buf  []byte
}

// Sim is a deterministic in-process simulation of codeband.Memory. It tracks
// reservations, committed runs, and per-page protections without touching
// the real address space, so tests can use fixed band bases and force
// failures at exact points.
//
// The zero value is not usable; call NewSim.
type Sim struct {
	mu       sync.Mutex
	reserved []simRun // buf unused for pure reservations
	runs     []simRun
	pageProt map[uintptr]codeband.Prot

	// Fault injection hooks. When non-nil and returning a non-nil error,
	// the corresponding operation fails with that error before any state
	// changes.
	OnReserve func(addr, size uintptr) error
	OnCommit  func(addr, size uintptr, prot codeband.Prot) error
	OnProtect func(addr, size uintptr, prot codeband.Prot) error

	// Relocate, when set, overrides the granted base for a reservation
	// requested at the given address. Used to exercise the planner's
	// no-relocation rule.
	Relocate map[uintptr]uintptr

	// ICacheFlushes counts FlushICache calls.
	ICacheFlushes int
}

// NewSim returns an empty simulated address space.
func NewSim() *Sim {
	return &Sim{pageProt: make(map[uintptr]codeband.Prot)}
}

func overlaps(a, b simRun) bool {
	return a.base < b.base+b.size && b.base < a.base+a.size
}

func (s *Sim) Reserve(addr, size uintptr) (uintptr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OnReserve != nil {
		if err := s.OnReserve(addr, size); err != nil {
			return 0, err
		}
	}
	if size == 0 || addr%SimPageSize != 0 || size%SimPageSize != 0 {
		return 0, fmt.Errorf("sim: unaligned reserve addr=%#x size=%#x", addr, size)
	}
	grant := addr
	if s.Relocate != nil {
		if g, ok := s.Relocate[addr]; ok {
			grant = g
		}
	}
	r := simRun{base: grant, size: size}
	for _, have := range s.reserved {
		if overlaps(r, have) {
			return 0, fmt.Errorf("sim: reserve overlaps existing reservation at %#x", have.base)
		}
	}
	s.reserved = append(s.reserved, r)
	return grant, nil
}

func (s *Sim) Release(addr, size uintptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, have := range s.reserved {
		if have.base == addr && have.size == size {
			s.reserved = append(s.reserved[:i], s.reserved[i+1:]...)
			// Drop any committed runs inside the reservation.
			kept := s.runs[:0]
			for _, run := range s.runs {
				if run.base >= addr && run.base+run.size <= addr+size {
					s.clearProt(run.base, run.size)
					continue
				}
				kept = append(kept, run)
			}
			s.runs = kept
			return nil
		}
	}
	return fmt.Errorf("sim: release of unknown reservation addr=%#x size=%#x", addr, size)
}

func (s *Sim) reservationFor(addr, size uintptr) *simRun {
	for i := range s.reserved {
		r := &s.reserved[i]
		if addr >= r.base && addr+size <= r.base+r.size {
			return r
		}
	}
	return nil
}

func (s *Sim) Commit(addr, size uintptr, prot codeband.Prot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OnCommit != nil {
		if err := s.OnCommit(addr, size, prot); err != nil {
			return err
		}
	}
	if size == 0 || addr%SimPageSize != 0 || size%SimPageSize != 0 {
		return fmt.Errorf("sim: unaligned commit addr=%#x size=%#x", addr, size)
	}
	if s.reservationFor(addr, size) == nil {
		return fmt.Errorf("sim: commit outside reservation addr=%#x size=%#x", addr, size)
	}
	run := simRun{base: addr, size: size, buf: make([]byte, size)}
	for _, have := range s.runs {
		if overlaps(run, have) {
			return fmt.Errorf("sim: commit overlaps committed run at %#x", have.base)
		}
	}
	s.runs = append(s.runs, run)
	s.setProt(addr, size, prot)
	return nil
}

func (s *Sim) Decommit(addr, size uintptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, run := range s.runs {
		if run.base == addr && run.size == size {
			s.runs = append(s.runs[:i], s.runs[i+1:]...)
			s.clearProt(addr, size)
			return nil
		}
	}
	return fmt.Errorf("sim: decommit of unknown run addr=%#x size=%#x", addr, size)
}

func (s *Sim) Protect(addr, size uintptr, prot codeband.Prot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OnProtect != nil {
		if err := s.OnProtect(addr, size, prot); err != nil {
			return err
		}
	}
	if size == 0 || addr%SimPageSize != 0 || size%SimPageSize != 0 {
		return fmt.Errorf("sim: unaligned protect addr=%#x size=%#x", addr, size)
	}
	for p := addr; p < addr+size; p += SimPageSize {
		if _, ok := s.pageProt[p]; !ok {
			return fmt.Errorf("sim: protect of uncommitted page %#x", p)
		}
	}
	s.setProt(addr, size, prot)
	return nil
}

func (s *Sim) Buffer(addr, size uintptr) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range s.runs {
		if addr >= run.base && addr+size <= run.base+run.size {
			off := addr - run.base
			return run.buf[off : off+size : off+size], nil
		}
	}
	return nil, fmt.Errorf("sim: buffer over uncommitted range addr=%#x size=%#x", addr, size)
}

func (s *Sim) FlushICache(addr, size uintptr) {
	s.mu.Lock()
	s.ICacheFlushes++
	s.mu.Unlock()
}

func (s *Sim) PageSize() uintptr { return SimPageSize }

// ProtAt reports the protection of the page containing addr, for test
// assertions.
func (s *Sim) ProtAt(addr uintptr) (codeband.Prot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pageProt[addr&^(SimPageSize-1)]
	return p, ok
}

// ReservedCount reports how many reservations are live.
func (s *Sim) ReservedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reserved)
}

// CommittedBytes reports the total committed size.
func (s *Sim) CommittedBytes() uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n uintptr
	for _, run := range s.runs {
		n += run.size
	}
	return n
}

func (s *Sim) setProt(addr, size uintptr, prot codeband.Prot) {
	for p := addr; p < addr+size; p += SimPageSize {
		s.pageProt[p] = prot
	}
}

func (s *Sim) clearProt(addr, size uintptr) {
	for p := addr; p < addr+size; p += SimPageSize {
		delete(s.pageProt, p)
	}
}

var _ codeband.Memory = (*Sim)(nil)
