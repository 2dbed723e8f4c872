package vfs

import (
	"context"
	"io"

	"github.com/wippyai/wasix-runtime/errors"
	"github.com/wippyai/wasix-runtime/sched"
	"github.com/wippyai/wasix-runtime/waker"
)

// DefaultChunk is the read size used by Pump.
const DefaultChunk = 32 * 1024

// Pump is a task that copies src into dst whenever src is readable and
// finishes at end of file.
type Pump struct {
	src    VirtualFile
	root   RootRegistrar
	dst    io.Writer
	fut    *ReadFuture
	copied int64
	err    error
}

var (
	_ sched.Task     = (*Pump)(nil)
	_ sched.Canceler = (*Pump)(nil)
)

// NewPump copies from src, registering readiness wakers on root.
func NewPump(src VirtualFile, root RootRegistrar, dst io.Writer) *Pump {
	return &Pump{src: src, root: root, dst: dst}
}

func (p *Pump) Poll(_ context.Context, w waker.Wakeable) bool {
	for {
		if p.fut == nil {
			p.fut = NewReadFuture(p.src, p.root, DefaultChunk)
		}
		r := p.fut.Poll(w)
		if r.Status == sched.Pending {
			return false
		}
		p.fut = nil

		switch {
		case errors.HasKind(r.Err, errors.KindWouldBlock):
			continue
		case r.Err != nil && r.Err != io.EOF:
			p.err = r.Err
			return true
		}

		// a final read may carry data along with EOF
		if len(r.Value) > 0 {
			n, err := p.dst.Write(r.Value)
			p.copied += int64(n)
			if err != nil {
				p.err = err
				return true
			}
		}
		if r.Err == io.EOF || len(r.Value) == 0 {
			return true
		}
	}
}

func (p *Pump) Cancel() {
	p.fut = nil
}

// Copied returns the number of bytes written to dst. Valid once the task
// is done.
func (p *Pump) Copied() int64 { return p.copied }

// Err returns the error that stopped the pump, if any.
func (p *Pump) Err() error { return p.err }
