package vfs

import (
	"io"

	"github.com/wippyai/wasix-runtime/waker"
)

// Kind is the closed set of handle kinds. Capabilities beyond VirtualFile
// are looked up by kind, never by type assertion on arbitrary values.
type Kind int

const (
	KindFile Kind = iota
	KindPipe
	KindTTY
	KindNull
	KindLog
	KindSocket
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindPipe:
		return "pipe"
	case KindTTY:
		return "tty"
	case KindNull:
		return "null"
	case KindLog:
		return "log"
	case KindSocket:
		return "socket"
	default:
		return "unknown"
	}
}

// DefaultWriteWindow is reported as writable space by handles that never
// fill up.
const DefaultWriteWindow = 64 * 1024

// VirtualFile is the capability the readiness bridge consumes.
type VirtualFile interface {
	io.Reader
	io.Writer

	Kind() Kind

	// BytesAvailableRead returns the number of bytes readable without
	// blocking. known is false when the handle cannot tell.
	BytesAvailableRead() (n int, known bool, err error)

	// BytesAvailableWrite returns the number of bytes writable without
	// blocking. known is false when the handle cannot tell.
	BytesAvailableWrite() (n int, known bool, err error)

	IsOpen() bool
}

// RootRegistrar accepts wakers to invoke the next time readiness of the
// owning handle may have changed.
type RootRegistrar interface {
	RegisterRoot(w waker.Wakeable)
}

// Terminal is the tty capability of a KindTTY handle.
type Terminal interface {
	Size() (width, height int, err error)
	MakeRaw() (restore func() error, err error)
}

// AsTerminal returns f's terminal capability if f is a tty.
func AsTerminal(f VirtualFile) (Terminal, bool) {
	if f == nil || f.Kind() != KindTTY {
		return nil, false
	}
	t, ok := f.(Terminal)
	return t, ok
}
