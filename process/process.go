package process

import (
	"context"
	"sync"
	"sync/atomic"

	wasix "github.com/wippyai/wasix-runtime"
	"github.com/wippyai/wasix-runtime/errors"
	"github.com/wippyai/wasix-runtime/futex"
	"github.com/wippyai/wasix-runtime/signal"
	"github.com/wippyai/wasix-runtime/thread"
	"github.com/wippyai/wasix-runtime/waker"
)

// Process is one guest process: an image, its memory, a futex table and a
// thread set. Fork, exec, snapshot, signal delivery and exit serialize on
// the process lock.
type Process struct {
	mu  sync.Mutex
	pid PID
	m   *Manager
	ctx context.Context

	state   atomic.Int32
	image   atomic.Pointer[Image]
	program Program
	args    []string

	mem       atomic.Pointer[memBox]
	inherited atomic.Bool
	futexes   atomic.Pointer[futex.Table]
	threads   atomic.Pointer[thread.Manager]
	pending   atomic.Uint64

	// guarded by mu
	handlers  signal.Set
	sigThread thread.ID

	// guarded by m.mu
	parent   PID
	children map[PID]*Process
	detached bool
	status   ExitStatus
	joiners  waker.Registry
	exits    waker.Registry // woken when a child becomes a zombie
	done     chan struct{}
}

type memBox struct{ m wasix.Memory }

func newProcess(ctx context.Context, m *Manager, img *Image, prog Program, args []string) *Process {
	p := &Process{
		m:        m,
		program:  prog,
		args:     append([]string(nil), args...),
		children: make(map[PID]*Process),
		done:     make(chan struct{}),
	}
	p.ctx = WithProcess(context.WithoutCancel(ctx), p)
	p.image.Store(img)
	return p
}

// PID returns the process id.
func (p *Process) PID() PID { return p.pid }

// Manager returns the owning manager.
func (p *Process) Manager() *Manager { return p.m }

// State returns the current lifecycle state.
func (p *Process) State() State { return State(p.state.Load()) }

func (p *Process) setState(s State) { p.state.Store(int32(s)) }

// Image returns the image the process currently runs.
func (p *Process) Image() *Image { return p.image.Load() }

// Program returns the loaded form of the current image.
func (p *Process) Program() Program {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	return p.program
}

// Args returns the arguments of the current image.
func (p *Process) Args() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.args...)
}

// Memory returns the process's linear memory.
func (p *Process) Memory() wasix.Memory {
	if b := p.mem.Load(); b != nil {
		return b.m
	}
	return nil
}

// SetMemory replaces the process's linear memory. Engines call it once
// the image's own memory exists.
func (p *Process) SetMemory(mem wasix.Memory) {
	p.mem.Store(&memBox{m: mem})
}

// Inherited reports whether the memory holds a forked or restored image
// that the engine must carry into the new instance.
func (p *Process) Inherited() bool { return p.inherited.Load() }

// Futexes returns the process's futex table.
func (p *Process) Futexes() *futex.Table { return p.futexes.Load() }

// Threads returns the process's thread manager.
func (p *Process) Threads() *thread.Manager { return p.threads.Load() }

// Pending returns signals held at process level because no thread could
// take them.
func (p *Process) Pending() signal.Set { return signal.Set(p.pending.Load()) }

// Done is closed when the process becomes a zombie.
func (p *Process) Done() <-chan struct{} { return p.done }

// Status returns the exit status once the process is a zombie.
func (p *Process) Status() (ExitStatus, bool) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	return p.status, p.State() == Zombie
}

// Handlers returns the set of signals with a guest handler.
func (p *Process) Handlers() signal.Set {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handlers
}

// SetHandler records whether the guest handles sig. SIGKILL and SIGSTOP
// cannot be handled.
func (p *Process) SetHandler(sig signal.Signal, on bool) error {
	if !sig.Valid() || !sig.Catchable() {
		return errors.New(errors.PhaseProcess, errors.KindInvalidInput).
			Value(sig).
			Detail("signal %s cannot be handled", sig).
			Build()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if on {
		p.handlers = p.handlers.Add(sig)
	} else {
		p.handlers = p.handlers.Remove(sig)
	}
	return nil
}

// SetSignalThread designates the thread that receives handled signals.
// Signals held at process level are delivered to it.
func (p *Process) SetSignalThread(id thread.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	tm := p.Threads()
	t, ok := tm.Get(id)
	if !ok || t.Info().State == thread.Exited {
		return errors.InvalidHandle(errors.PhaseThread, "thread", id)
	}
	p.sigThread = id
	for _, sig := range signal.Set(p.pending.Swap(0)).Signals() {
		_ = tm.Signal(id, sig)
	}
	return nil
}

// SpawnThread starts another thread in the process.
func (p *Process) SpawnThread(entry thread.Entry, stack thread.StackConfig) (thread.ID, error) {
	if p.State() == Zombie {
		return 0, errors.InvalidState(errors.PhaseProcess, "process has exited")
	}
	return p.Threads().Spawn(p.ctx, entry, stack)
}

// Exit ends the process with code, discarding every thread.
func (p *Process) Exit(code uint32) {
	p.mu.Lock()
	post := p.m.zombieLocked(p, ExitStatus{Code: code})
	p.mu.Unlock()
	post()
}

// Info returns a snapshot of the process.
func (p *Process) Info() Info {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	return p.infoLocked()
}

func (p *Process) infoLocked() Info {
	info := Info{
		PID:     p.pid,
		Parent:  p.parent,
		State:   p.State(),
		Args:    p.args,
		Status:  p.status,
		Pending: p.Pending(),
	}
	if img := p.Image(); img != nil {
		info.Image = img.Name
	}
	if tm := p.Threads(); tm != nil {
		info.Threads = tm.Live()
	}
	return info
}

// start installs a fresh thread set and futex table and runs entry as the
// main thread with the given id.
func (p *Process) start(entry thread.Entry, id thread.ID, stack thread.StackConfig) error {
	tm := thread.NewManager(p.m.cfg.Threads)
	tm.OnEmpty(func(code uint32) { p.m.threadsEmpty(p, tm, code) })
	p.futexes.Store(futex.NewTable())
	p.threads.Store(tm)

	if id == 0 {
		_, err := tm.Spawn(p.ctx, entry, stack)
		return err
	}
	_, err := tm.Continue(p.ctx, id, entry, stack)
	return err
}

func (p *Process) mainEntry(prog Program, args []string) thread.Entry {
	return func(ctx context.Context, t *thread.Thread) uint32 {
		return prog.Run(ctx, p, t, args)
	}
}
