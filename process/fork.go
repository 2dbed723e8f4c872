package process

import (
	"context"

	wasix "github.com/wippyai/wasix-runtime"
	"github.com/wippyai/wasix-runtime/errors"
	"github.com/wippyai/wasix-runtime/thread"
	"go.uber.org/zap"
)

// Fork duplicates process pid and its calling thread. The child gets a
// copy of the memory, a fresh futex table, the parent's signal handlers
// and a thread set holding only the continuation of caller, under the same
// thread id, which cont runs with a fork return value of 0. The parent
// continues with the returned child pid.
//
// Other threads of the parent are not duplicated. Those blocked on a
// futex simply do not exist in the child; their wait stays with the
// parent.
func (m *Manager) Fork(ctx context.Context, pid PID, caller thread.ID, cont Continuation) (PID, error) {
	p, err := m.lookup(pid)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() != Running {
		return 0, errors.New(errors.PhaseProcess, errors.KindInvalidState).
			Value(pid).
			Detail("cannot fork process %d while %s", pid, p.State()).
			Build()
	}
	p.setState(Forking)
	defer func() {
		if p.State() == Forking {
			p.setState(Running)
		}
	}()

	tm := p.Threads()
	t, ok := tm.Get(caller)
	if !ok || t.Info().State == thread.Exited {
		return 0, errors.InvalidHandle(errors.PhaseThread, "thread", caller)
	}

	cl, ok := p.Memory().(wasix.Cloner)
	if !ok {
		return 0, errors.ResourceExhausted(errors.PhaseProcess, "memory cannot be duplicated")
	}
	mem, err := cl.Clone()
	if err != nil {
		return 0, errors.Wrap(errors.PhaseProcess, errors.KindResourceExhausted, err, "duplicate memory")
	}

	dropped := 0
	for _, info := range tm.Threads() {
		if info.ID != caller && info.State == thread.Blocked && info.Reason.Kind == thread.BlockFutex {
			dropped++
		}
	}

	child := newProcess(ctx, m, p.Image(), p.program, p.args)
	child.SetMemory(mem)
	child.inherited.Store(true)
	child.handlers = p.handlers

	child.mu.Lock()
	m.mu.Lock()
	err = m.insertLocked(child, pid)
	m.mu.Unlock()
	if err != nil {
		child.mu.Unlock()
		return 0, err
	}
	child.sigThread = caller
	err = child.start(func(ctx context.Context, ct *thread.Thread) uint32 {
		return cont(ctx, child, ct, 0)
	}, caller, t.Stack())
	if err != nil {
		m.mu.Lock()
		m.removeLocked(child)
		m.mu.Unlock()
		child.mu.Unlock()
		return 0, err
	}
	child.mu.Unlock()

	Logger().Debug("process fork",
		zap.Uint32("pid", uint32(pid)),
		zap.Uint32("child", uint32(child.pid)),
		zap.Uint32("tid", uint32(caller)),
		zap.Int("futex_waiters_dropped", dropped))
	return child.pid, nil
}

// Exec replaces the image of pid in place. The pid, parent, children and
// pending signals survive; threads, futex table, memory and signal
// handlers do not. The calling thread is discarded too and should return
// once Exec succeeds.
//
// A load failure leaves the process untouched. A failure once the old
// image is gone makes the process a zombie with ExecFailedCode.
func (m *Manager) Exec(ctx context.Context, pid PID, img *Image, args []string) error {
	p, err := m.lookup(pid)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.State() != Running {
		state := p.State()
		p.mu.Unlock()
		return errors.New(errors.PhaseProcess, errors.KindInvalidState).
			Value(pid).
			Detail("cannot exec process %d while %s", pid, state).
			Build()
	}
	p.setState(Execing)

	prog, err := m.load(ctx, img)
	if err != nil {
		p.setState(Running)
		p.mu.Unlock()
		return err
	}

	// commit
	old, oldFutexes := p.Threads(), p.Futexes()
	m.mu.Lock()
	p.image.Store(img)
	p.program = prog
	p.args = append([]string(nil), args...)
	m.mu.Unlock()
	p.handlers = 0
	p.sigThread = 0
	p.inherited.Store(false)
	old.Close(0)
	oldFutexes.Close()

	err = m.execCommit(p, prog)
	if err != nil {
		Logger().Debug("process exec failed", zap.Uint32("pid", uint32(pid)), zap.Error(err))
		post := m.zombieLocked(p, ExitStatus{Code: ExecFailedCode})
		p.mu.Unlock()
		post()
		return err
	}
	p.setState(Running)
	p.mu.Unlock()

	Logger().Debug("process exec", zap.Uint32("pid", uint32(pid)), zap.String("image", img.Name))
	return nil
}

func (m *Manager) execCommit(p *Process, prog Program) error {
	mem, err := m.cfg.Memory()
	if err != nil {
		return errors.Wrap(errors.PhaseProcess, errors.KindResourceExhausted, err, "allocate memory")
	}
	p.SetMemory(mem)
	return p.start(p.mainEntry(prog, p.args), 0, thread.StackConfig{})
}
