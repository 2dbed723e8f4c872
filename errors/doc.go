// Package errors provides structured error types for the wasix runtime.
//
// Errors are categorized by Phase (the subsystem that failed) and Kind
// (the failure category). Kinds line up with the errno values the syscall
// shims hand back to guests, see ToErrno.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseProcess, errors.KindInvalidState).
//		Value(pid).
//		Detail("process %d is execing", pid).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.InvalidHandle(errors.PhaseThread, "thread", tid)
//	err := errors.OutOfBounds(errors.PhaseMemory, offset, 4, size)
//
// All errors implement the standard error interface and support errors.Is/As.
// Is matches on Phase and Kind; HasKind matches on Kind alone.
package errors
