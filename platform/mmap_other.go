//go:build !linux

package platform

import (
	"errors"

	"github.com/wombatlabs/codeband"
)

// ErrUnsupported is returned by Native on platforms without a fixed-base
// reservation implementation.
var ErrUnsupported = errors.New("platform: native memory unsupported on this OS")

// Native is a stub on non-Linux hosts; use Sim instead.
type Native struct{}

func NewNative() *Native { return &Native{} }

func (*Native) Reserve(addr, size uintptr) (uintptr, error)          { return 0, ErrUnsupported }
func (*Native) Release(addr, size uintptr) error                     { return ErrUnsupported }
func (*Native) Commit(addr, size uintptr, prot codeband.Prot) error  { return ErrUnsupported }
func (*Native) Decommit(addr, size uintptr) error                    { return ErrUnsupported }
func (*Native) Protect(addr, size uintptr, prot codeband.Prot) error { return ErrUnsupported }
func (*Native) Buffer(addr, size uintptr) ([]byte, error)            { return nil, ErrUnsupported }
func (*Native) FlushICache(addr, size uintptr)                       {}
func (*Native) PageSize() uintptr                                    { return 4096 }

var _ codeband.Memory = (*Native)(nil)
