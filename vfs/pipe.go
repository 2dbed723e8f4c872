package vfs

import (
	"bytes"
	"io"
	"sync"

	"github.com/wippyai/wasix-runtime/errors"
	"github.com/wippyai/wasix-runtime/waker"
)

// Pipe is an in-memory byte pipe with non-blocking ends. A capacity of
// zero makes it unbounded. Every read, write and close wakes the root
// registrations.
type Pipe struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	capacity int
	closed   bool
	root     waker.Registry
}

var (
	_ VirtualFile   = (*Pipe)(nil)
	_ RootRegistrar = (*Pipe)(nil)
)

// NewPipe creates an open pipe.
func NewPipe(capacity int) *Pipe {
	return &Pipe{capacity: capacity}
}

func (p *Pipe) Kind() Kind { return KindPipe }

// Read drains up to len(b) bytes. An empty open pipe fails with
// KindWouldBlock; an empty closed pipe returns io.EOF.
func (p *Pipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.buf.Len() == 0 {
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return 0, io.EOF
		}
		return 0, errors.WouldBlock(errors.PhaseIO)
	}
	n, _ := p.buf.Read(b)
	p.mu.Unlock()

	p.root.WakeAll()
	return n, nil
}

// Write appends as much of b as fits. A short write fails with
// KindWouldBlock; writing to a closed pipe fails with KindBrokenPipe.
func (p *Pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errors.BrokenPipe(errors.PhaseIO, "write to closed pipe")
	}
	n := len(b)
	if p.capacity > 0 {
		n = min(n, p.capacity-p.buf.Len())
	}
	p.buf.Write(b[:n])
	p.mu.Unlock()

	if n > 0 {
		p.root.WakeAll()
	}
	if n < len(b) {
		return n, errors.WouldBlock(errors.PhaseIO)
	}
	return n, nil
}

// BytesAvailableRead reports buffered bytes. A closed, drained pipe reports
// unknown so readers fall through to the read that returns io.EOF.
func (p *Pipe) BytesAvailableRead() (int, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buf.Len() == 0 && p.closed {
		return 0, false, nil
	}
	return p.buf.Len(), true, nil
}

// BytesAvailableWrite reports free space. A closed pipe reports unknown so
// writers fall through to the write that fails with KindBrokenPipe.
func (p *Pipe) BytesAvailableWrite() (int, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, false, nil
	}
	if p.capacity == 0 {
		return DefaultWriteWindow, true, nil
	}
	return p.capacity - p.buf.Len(), true, nil
}

func (p *Pipe) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

// Buffered returns the number of unread bytes.
func (p *Pipe) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Len()
}

// Close closes the write side. Buffered data stays readable.
func (p *Pipe) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.root.WakeAll()
	return nil
}

func (p *Pipe) RegisterRoot(w waker.Wakeable) {
	p.root.Register(w)
}
