package errors

import (
	stderrors "errors"
	"io"
	"os"
	"syscall"
)

// Errno is a WASI errno value as returned to guests by the syscall shims.
type Errno uint16

const (
	ErrnoSuccess Errno = 0
	ErrnoAgain   Errno = 6
	ErrnoBadf    Errno = 8
	ErrnoChild   Errno = 12
	ErrnoFault   Errno = 21
	ErrnoIntr    Errno = 27
	ErrnoInval   Errno = 28
	ErrnoIO      Errno = 29
	ErrnoNoexec  Errno = 45
	ErrnoNomem   Errno = 48
	ErrnoNosys   Errno = 52
	ErrnoPipe    Errno = 64
	ErrnoSrch    Errno = 71
	ErrnoTimeout Errno = 73
)

var kindErrno = map[Kind]Errno{
	KindInvalidHandle:     ErrnoSrch,
	KindResourceExhausted: ErrnoAgain,
	KindInvalidImage:      ErrnoNoexec,
	KindWouldBlock:        ErrnoAgain,
	KindTimedOut:          ErrnoTimeout,
	KindInterrupted:       ErrnoIntr,
	KindBrokenPipe:        ErrnoPipe,
	KindInvalidState:      ErrnoInval,
	KindOutOfBounds:       ErrnoFault,
	KindInvalidInput:      ErrnoInval,
	KindInvalidData:       ErrnoInval,
	KindUnsupported:       ErrnoNosys,
}

// ToErrno converts err into the errno a guest observes. Handle errors in
// the thread phase map to EBADF instead of ESRCH.
func ToErrno(err error) Errno {
	if err == nil {
		return ErrnoSuccess
	}
	var e *Error
	if !stderrors.As(err, &e) {
		return ErrnoIO
	}
	if e.Kind == KindInvalidHandle && e.Phase == PhaseThread {
		return ErrnoBadf
	}
	if errno, ok := kindErrno[e.Kind]; ok {
		return errno
	}
	return ErrnoIO
}

// FromIO classifies a host I/O error into the runtime taxonomy. io.EOF and
// nil pass through unchanged.
func FromIO(err error) error {
	if err == nil || err == io.EOF {
		return err
	}
	var e *Error
	if stderrors.As(err, &e) {
		return err
	}

	kind := KindInvalidData
	switch {
	case stderrors.Is(err, io.ErrClosedPipe), stderrors.Is(err, os.ErrClosed), stderrors.Is(err, syscall.EPIPE):
		kind = KindBrokenPipe
	case stderrors.Is(err, os.ErrDeadlineExceeded), stderrors.Is(err, syscall.ETIMEDOUT):
		kind = KindTimedOut
	case stderrors.Is(err, syscall.EAGAIN):
		kind = KindWouldBlock
	case stderrors.Is(err, syscall.EINTR):
		kind = KindInterrupted
	case stderrors.Is(err, syscall.EBADF):
		kind = KindInvalidHandle
	}
	return Wrap(PhaseIO, kind, err, "host i/o")
}
