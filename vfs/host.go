package vfs

import (
	"os"
	"sync/atomic"

	"golang.org/x/term"
)

// HostFile passes reads and writes through to a host file. Its readiness is
// never known, so the bridge always performs the direct operation, which
// may block the calling goroutine.
type HostFile struct {
	f      *os.File
	tty    bool
	closed atomic.Bool
}

var (
	_ VirtualFile = (*HostFile)(nil)
	_ Terminal    = (*HostFile)(nil)
)

// NewHostFile wraps f.
func NewHostFile(f *os.File) *HostFile {
	return &HostFile{f: f, tty: term.IsTerminal(int(f.Fd()))}
}

func (h *HostFile) Kind() Kind {
	if h.tty {
		return KindTTY
	}
	return KindFile
}

func (h *HostFile) Read(b []byte) (int, error) { return h.f.Read(b) }

func (h *HostFile) Write(b []byte) (int, error) { return h.f.Write(b) }

func (h *HostFile) BytesAvailableRead() (int, bool, error) { return 0, false, nil }

func (h *HostFile) BytesAvailableWrite() (int, bool, error) { return 0, false, nil }

func (h *HostFile) IsOpen() bool { return !h.closed.Load() }

// Size returns the terminal dimensions.
func (h *HostFile) Size() (int, int, error) {
	return term.GetSize(int(h.f.Fd()))
}

// MakeRaw switches the terminal to raw mode and returns a restore function.
func (h *HostFile) MakeRaw() (func() error, error) {
	fd := int(h.f.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() error { return term.Restore(fd, state) }, nil
}

// Detach marks the handle closed without closing the host file.
func (h *HostFile) Detach() {
	h.closed.Store(true)
}
