// Package errors provides structured error types for the codeband loader.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type includes the address and size involved, a
// component path, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseJit, errors.KindCommitFailed).
//		Addr(addr).
//		Size(size).
//		Cause(osErr).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.OutsideSlot(2, loadedBase)
//	err := errors.Denial(errors.KindRwxForbidden, addr, size)
//
// All errors implement the standard error interface and support errors.Is/As.
// Is matches on Phase and Kind, so sentinel comparisons work:
//
//	errors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindBadImage})
package errors
