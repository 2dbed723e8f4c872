package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates which subsystem produced the error
type Phase string

const (
	PhaseMemory   Phase = "memory"   // guest memory access
	PhaseFutex    Phase = "futex"    // futex wait/wake
	PhaseIO       Phase = "io"       // readiness bridge and virtual files
	PhaseThread   Phase = "thread"   // thread lifecycle
	PhaseProcess  Phase = "process"  // process lifecycle
	PhaseSnapshot Phase = "snapshot" // snapshot encode/decode
	PhaseLoad     Phase = "load"     // image loading
	PhaseRuntime  Phase = "runtime"  // engine execution
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidHandle     Kind = "invalid_handle"
	KindResourceExhausted Kind = "resource_exhausted"
	KindInvalidImage      Kind = "invalid_image"
	KindWouldBlock        Kind = "would_block"
	KindTimedOut          Kind = "timed_out"
	KindInterrupted       Kind = "interrupted"
	KindBrokenPipe        Kind = "broken_pipe"
	KindInvalidState      Kind = "invalid_state"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindInvalidInput      Kind = "invalid_input"
	KindInvalidData       Kind = "invalid_data"
	KindUnsupported       Kind = "unsupported"
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// HasKind reports whether any *Error in err's chain has the given kind,
// regardless of phase.
func HasKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// InvalidHandle creates an error for an unknown or already-reaped id
func InvalidHandle(phase Phase, what string, id any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidHandle,
		Detail: fmt.Sprintf("unknown %s %v", what, id),
		Value:  id,
	}
}

// ResourceExhausted creates an error for a configured limit being reached
func ResourceExhausted(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindResourceExhausted,
		Detail: detail,
	}
}

// InvalidImage creates an image validation error
func InvalidImage(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidImage,
		Detail: fmt.Sprintf("image %q", name),
		Cause:  cause,
	}
}

// WouldBlock reports that readiness cannot be determined without blocking
func WouldBlock(phase Phase) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindWouldBlock,
	}
}

// TimedOut creates a deadline error
func TimedOut(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTimedOut,
		Detail: detail,
	}
}

// Interrupted creates an error for a suspension cut short
func Interrupted(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInterrupted,
		Detail: detail,
	}
}

// BrokenPipe creates an error for writes to a closed handle
func BrokenPipe(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindBrokenPipe,
		Detail: detail,
	}
}

// InvalidState creates an error for an operation not allowed in the current state
func InvalidState(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Detail: detail,
	}
}

// OutOfBounds creates an out of bounds memory error
func OutOfBounds(phase Phase, offset, length, size uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("offset %d length %d out of bounds (size %d)", offset, length, size),
		Value:  offset,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
