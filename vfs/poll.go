package vfs

import (
	"context"
	"io"

	"github.com/wippyai/wasix-runtime/errors"
	"github.com/wippyai/wasix-runtime/sched"
	"github.com/wippyai/wasix-runtime/waker"
)

type availFunc func() (int, bool, error)

// pollAvail registers w before the second look so a readiness change
// between the two looks is never missed.
func pollAvail(avail availFunc, root RootRegistrar, w waker.Wakeable) sched.Result[int] {
	n, known, err := avail()
	switch {
	case err != nil:
		return sched.Fail[int](errors.FromIO(err))
	case !known:
		return sched.Fail[int](errors.WouldBlock(errors.PhaseIO))
	case n > 0:
		return sched.Done(n, nil)
	}

	if root == nil {
		return sched.Fail[int](errors.WouldBlock(errors.PhaseIO))
	}
	root.RegisterRoot(w)

	n, known, err = avail()
	switch {
	case err != nil:
		return sched.Fail[int](errors.FromIO(err))
	case !known:
		return sched.Fail[int](errors.WouldBlock(errors.PhaseIO))
	case n > 0:
		return sched.Done(n, nil)
	}
	return sched.Waiting[int]()
}

// PollReadReady reports how many bytes f can read without blocking.
func PollReadReady(f VirtualFile, root RootRegistrar, w waker.Wakeable) sched.Result[int] {
	return pollAvail(f.BytesAvailableRead, root, w)
}

// PollWriteReady reports how many bytes f can accept without blocking.
func PollWriteReady(f VirtualFile, root RootRegistrar, w waker.Wakeable) sched.Result[int] {
	return pollAvail(f.BytesAvailableWrite, root, w)
}

// PollCloseReady resolves once f is closed.
func PollCloseReady(f VirtualFile, root RootRegistrar, w waker.Wakeable) sched.Result[struct{}] {
	if !f.IsOpen() {
		return sched.Done(struct{}{}, nil)
	}
	if root == nil {
		return sched.Fail[struct{}](errors.WouldBlock(errors.PhaseIO))
	}
	root.RegisterRoot(w)
	if !f.IsOpen() {
		return sched.Done(struct{}{}, nil)
	}
	return sched.Waiting[struct{}]()
}

// ReadFuture waits for readability and performs one read of at most max bytes.
type ReadFuture struct {
	f    VirtualFile
	root RootRegistrar
	max  int
	done bool
}

// NewReadFuture returns a read of at most max bytes.
func NewReadFuture(f VirtualFile, root RootRegistrar, max int) *ReadFuture {
	return &ReadFuture{f: f, root: root, max: max}
}

func (r *ReadFuture) Poll(w waker.Wakeable) sched.Result[[]byte] {
	if r.done {
		return sched.Fail[[]byte](errors.BrokenPipe(errors.PhaseIO, "read polled after completion"))
	}
	if r.max < 0 {
		r.done = true
		return sched.Fail[[]byte](errors.InvalidInput(errors.PhaseIO, "negative read size"))
	}

	ready := PollReadReady(r.f, r.root, w)
	if ready.Status == sched.Pending {
		return sched.Waiting[[]byte]()
	}
	if ready.Err != nil && !errors.HasKind(ready.Err, errors.KindWouldBlock) {
		r.done = true
		return sched.Fail[[]byte](ready.Err)
	}

	r.done = true
	buf := make([]byte, r.max)
	n, err := r.f.Read(buf)
	if err != nil && err != io.EOF {
		return sched.Fail[[]byte](errors.FromIO(err))
	}
	return sched.Done(buf[:n], err)
}

// WriteFuture waits for writability and performs one write.
type WriteFuture struct {
	f    VirtualFile
	root RootRegistrar
	data []byte
	done bool
}

// NewWriteFuture returns a single write of data.
func NewWriteFuture(f VirtualFile, root RootRegistrar, data []byte) *WriteFuture {
	return &WriteFuture{f: f, root: root, data: data}
}

func (wf *WriteFuture) Poll(w waker.Wakeable) sched.Result[int] {
	if wf.done {
		return sched.Fail[int](errors.BrokenPipe(errors.PhaseIO, "write polled after completion"))
	}

	ready := PollWriteReady(wf.f, wf.root, w)
	if ready.Status == sched.Pending {
		return sched.Waiting[int]()
	}
	if ready.Err != nil && !errors.HasKind(ready.Err, errors.KindWouldBlock) {
		wf.done = true
		return sched.Fail[int](ready.Err)
	}

	wf.done = true
	n, err := wf.f.Write(wf.data)
	if err != nil {
		return sched.Done(n, errors.FromIO(err))
	}
	return sched.Done(n, nil)
}

type closeFuture struct {
	f    VirtualFile
	root RootRegistrar
}

func (c closeFuture) Poll(w waker.Wakeable) sched.Result[struct{}] {
	return PollCloseReady(c.f, c.root, w)
}

// Read waits until f is readable and reads at most max bytes. At end of
// file it returns io.EOF.
func Read(ctx context.Context, f VirtualFile, root RootRegistrar, max int) ([]byte, error) {
	return sched.Block[[]byte](ctx, NewReadFuture(f, root, max))
}

// Write waits until f is writable and writes data once, returning the
// number of bytes accepted.
func Write(ctx context.Context, f VirtualFile, root RootRegistrar, data []byte) (int, error) {
	return sched.Block[int](ctx, NewWriteFuture(f, root, data))
}

// WaitClosed waits until f is closed.
func WaitClosed(ctx context.Context, f VirtualFile, root RootRegistrar) error {
	_, err := sched.Block[struct{}](ctx, closeFuture{f: f, root: root})
	return err
}
