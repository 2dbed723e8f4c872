package thread

import (
	"context"
	"sync/atomic"
	"time"

	wasix "github.com/wippyai/wasix-runtime"
	"github.com/wippyai/wasix-runtime/errors"
	"github.com/wippyai/wasix-runtime/futex"
	"github.com/wippyai/wasix-runtime/sched"
	"github.com/wippyai/wasix-runtime/signal"
	"github.com/wippyai/wasix-runtime/waker"
)

// Thread is one guest thread.
type Thread struct {
	id     ID
	m      *Manager
	stack  StackConfig
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	pending atomic.Uint64

	// guarded by m.mu
	state   State
	reason  BlockReason
	code    uint32
	wake    waker.Wakeable
	joiners waker.Registry
}

// ID returns the thread id.
func (t *Thread) ID() ID { return t.id }

// Stack returns the stack the thread was spawned with.
func (t *Thread) Stack() StackConfig { return t.stack }

// Context is canceled when the thread exits or is discarded.
func (t *Thread) Context() context.Context { return t.ctx }

// Done is closed when the thread's entry has returned.
func (t *Thread) Done() <-chan struct{} { return t.done }

// Manager returns the owning manager.
func (t *Thread) Manager() *Manager { return t.m }

// Info returns a snapshot of the thread's state.
func (t *Thread) Info() Info {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.infoLocked()
}

func (t *Thread) infoLocked() Info {
	return Info{
		ID:       t.id,
		State:    t.state,
		Reason:   t.reason,
		ExitCode: t.code,
		Pending:  t.Pending(),
		Stack:    t.stack,
	}
}

func (t *Thread) exitLocked(code uint32) {
	t.state = Exited
	t.code = code
	t.reason = BlockReason{}
	t.wake = nil
	t.joiners.WakeAll()
	t.cancel()
}

// Pending returns the signals queued on the thread.
func (t *Thread) Pending() signal.Set {
	return signal.Set(t.pending.Load())
}

func (t *Thread) addPending(sig signal.Signal) {
	for {
		cur := t.pending.Load()
		next := uint64(signal.Set(cur).Add(sig))
		if t.pending.CompareAndSwap(cur, next) {
			return
		}
	}
}

// TakeSignal dequeues the lowest pending signal.
func (t *Thread) TakeSignal() (signal.Signal, bool) {
	for {
		cur := t.pending.Load()
		sig, ok := signal.Set(cur).Lowest()
		if !ok {
			return 0, false
		}
		if t.pending.CompareAndSwap(cur, uint64(signal.Set(cur).Remove(sig))) {
			return sig, true
		}
	}
}

// Exit ends the thread with code.
func (t *Thread) Exit(code uint32) error {
	return t.m.Exit(t.id, code)
}

func (t *Thread) suspend(reason BlockReason, w waker.Wakeable) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.state == Exited {
		return
	}
	if reason.Kind != BlockNone {
		t.state = Blocked
		t.reason = reason
	}
	t.wake = w
}

func (t *Thread) resume() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.state == Blocked {
		t.state = Running
	}
	t.reason = BlockReason{}
	t.wake = nil
}

func interrupted(detail string) error {
	return errors.Interrupted(errors.PhaseThread, detail)
}

func abandon[T any](f sched.Future[T]) (sched.Result[T], bool) {
	if a, ok := f.(sched.Abandoner[T]); ok {
		if r := a.Abandon(); r.Status == sched.Ready {
			return r, true
		}
	}
	return sched.Result[T]{}, false
}

// Await suspends t on f. The thread is reported as blocked for reason
// while f is pending; BlockNone keeps it running. A pending signal, on
// entry or at any wake, abandons f and fails with KindInterrupted unless
// f resolved first. The signal stays queued until TakeSignal.
func Await[T any](ctx context.Context, t *Thread, reason BlockReason, f sched.Future[T]) (T, error) {
	var zero T
	sig := waker.NewSignal()
	t.suspend(reason, sig)
	defer t.resume()

	if !t.Pending().Empty() {
		return zero, interrupted("signal pending")
	}

	for {
		r := f.Poll(sig)
		if r.Status == sched.Ready {
			return r.Value, r.Err
		}

		select {
		case <-sig.C():
			if !t.Pending().Empty() {
				if r, ok := abandon(f); ok {
					return r.Value, r.Err
				}
				return zero, interrupted("signal pending")
			}
		case <-t.ctx.Done():
			if r, ok := abandon(f); ok {
				return r.Value, r.Err
			}
			return zero, interrupted("thread discarded")
		case <-ctx.Done():
			if r, ok := abandon(f); ok {
				return r.Value, r.Err
			}
			return zero, ctx.Err()
		}
	}
}

// Yield lets other runnable work go first.
func (t *Thread) Yield(ctx context.Context) error {
	_, err := Await(ctx, t, BlockReason{}, sched.Yield())
	return err
}

// Sleep suspends the thread for d.
func (t *Thread) Sleep(ctx context.Context, d time.Duration) error {
	_, err := Await[struct{}](ctx, t, Sleeping(time.Now().Add(d)), sched.Sleep(d))
	return err
}

// FutexWait waits on addr in tbl. See futex.Table.Wait.
func (t *Thread) FutexWait(ctx context.Context, tbl *futex.Table, mem wasix.Memory, addr uint64, expected uint32, timeout time.Duration) (futex.Outcome, error) {
	return Await[futex.Outcome](ctx, t, FutexWait(addr), tbl.NewWait(mem, addr, expected, timeout))
}

// Join waits for target, which must be another thread of the same manager.
func (t *Thread) Join(ctx context.Context, target ID) (uint32, error) {
	if target == t.id {
		return 0, errors.InvalidState(errors.PhaseThread, "thread cannot join itself")
	}
	return Await[uint32](ctx, t, Joining(target), t.m.NewJoin(target))
}

// WaitIO suspends the thread on a readiness future.
func WaitIO[T any](ctx context.Context, t *Thread, f sched.Future[T]) (T, error) {
	return Await(ctx, t, IOWait(), f)
}
