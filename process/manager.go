package process

import (
	"cmp"
	"context"
	stderrors "errors"
	"slices"
	"sync"

	"github.com/wippyai/wasix-runtime/errors"
	"github.com/wippyai/wasix-runtime/resource"
	"github.com/wippyai/wasix-runtime/sched"
	"github.com/wippyai/wasix-runtime/signal"
	"github.com/wippyai/wasix-runtime/thread"
	"github.com/wippyai/wasix-runtime/waker"
	"go.uber.org/zap"
)

// Manager is the process table. Its lock guards parent and child links
// and exit statuses; it is held briefly and never across a suspension
// point.
type Manager struct {
	mu     sync.Mutex
	engine Engine
	cfg    Config
	procs  *resource.Table[*Process]
	roots  map[PID]*Process // children of the host
	exits  waker.Registry   // woken when a root process becomes a zombie
	reaper PID
}

// NewManager creates an empty process table loading images through engine.
func NewManager(engine Engine, cfg Config) *Manager {
	if cfg.Memory == nil {
		cfg.Memory = NewLinearMemory
	}
	return &Manager{
		engine: engine,
		cfg:    cfg,
		procs:  resource.NewTable[*Process](cfg.MaxProcesses),
		roots:  make(map[PID]*Process),
	}
}

// Len returns the number of processes in the table, zombies included.
func (m *Manager) Len() int { return m.procs.Len() }

// Subscribe reports process table insertions and removals to o. o runs
// with the manager locked and must not call back into it synchronously.
func (m *Manager) Subscribe(o resource.Observer[*Process]) { m.procs.Subscribe(o) }

func (m *Manager) load(ctx context.Context, img *Image) (Program, error) {
	if img == nil {
		return nil, errors.InvalidImage("", stderrors.New("nil image"))
	}
	prog, err := m.engine.Load(ctx, img)
	if err != nil {
		if errors.HasKind(err, errors.KindInvalidImage) {
			return nil, err
		}
		return nil, errors.InvalidImage(img.Name, err)
	}
	return prog, nil
}

// insertLocked allocates a pid for p and links it under parent.
func (m *Manager) insertLocked(p *Process, parent PID) error {
	var pp *Process
	if parent != 0 {
		var ok bool
		pp, ok = m.procs.Get(resource.Handle(parent))
		if !ok {
			return errors.InvalidHandle(errors.PhaseProcess, "process", parent)
		}
		if pp.State() == Zombie {
			return errors.InvalidState(errors.PhaseProcess, "parent has exited")
		}
	}

	h, err := m.procs.Insert(p)
	if err != nil {
		return errors.New(errors.PhaseProcess, errors.KindResourceExhausted).
			Cause(err).
			Detail("process table limit %d", m.procs.Limit()).
			Build()
	}
	p.pid = PID(h)
	p.parent = parent
	m.childrenLocked(pp)[p.pid] = p
	return nil
}

func (m *Manager) childrenLocked(p *Process) map[PID]*Process {
	if p == nil {
		return m.roots
	}
	return p.children
}

func (m *Manager) exitsLocked(p *Process) *waker.Registry {
	if p == nil {
		return &m.exits
	}
	return &p.exits
}

// remove drops p from the table and its parent's children.
func (m *Manager) removeLocked(p *Process) {
	if pp, ok := m.procs.Get(resource.Handle(p.parent)); ok && p.parent != 0 {
		delete(pp.children, p.pid)
	} else {
		delete(m.roots, p.pid)
	}
	m.procs.Remove(resource.Handle(p.pid))
}

// Spawn loads img and starts it as a new process, a child of parent or a
// root process when parent is 0.
func (m *Manager) Spawn(ctx context.Context, parent PID, img *Image, args []string) (PID, error) {
	prog, err := m.load(ctx, img)
	if err != nil {
		return 0, err
	}
	mem, err := m.cfg.Memory()
	if err != nil {
		return 0, errors.Wrap(errors.PhaseProcess, errors.KindResourceExhausted, err, "allocate memory")
	}

	p := newProcess(ctx, m, img, prog, args)
	p.SetMemory(mem)

	// p.mu is held from insertion until the main thread runs; signals to
	// the fresh pid wait for the start.
	p.mu.Lock()
	m.mu.Lock()
	err = m.insertLocked(p, parent)
	m.mu.Unlock()
	if err != nil {
		p.mu.Unlock()
		return 0, err
	}
	if err = p.start(p.mainEntry(prog, p.args), 0, thread.StackConfig{}); err != nil {
		m.mu.Lock()
		m.removeLocked(p)
		m.mu.Unlock()
		p.mu.Unlock()
		return 0, err
	}
	p.mu.Unlock()

	Logger().Debug("process spawn",
		zap.Uint32("pid", uint32(p.pid)),
		zap.Uint32("parent", uint32(parent)),
		zap.String("image", img.Name))
	return p.pid, nil
}

// Get returns the process with the given id, zombies included.
func (m *Manager) Get(pid PID) (*Process, bool) {
	if pid == 0 {
		return nil, false
	}
	return m.procs.Get(resource.Handle(pid))
}

func (m *Manager) lookup(pid PID) (*Process, error) {
	p, ok := m.Get(pid)
	if !ok {
		return nil, errors.InvalidHandle(errors.PhaseProcess, "process", pid)
	}
	return p, nil
}

// Parent returns the parent of pid; 0 for root processes.
func (m *Manager) Parent(pid PID) (PID, error) {
	p, err := m.lookup(pid)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return p.parent, nil
}

// Children returns the children of pid in ascending order. Pid 0 lists
// the root processes.
func (m *Manager) Children(pid PID) ([]PID, error) {
	var p *Process
	if pid != 0 {
		var err error
		if p, err = m.lookup(pid); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PID, 0, len(m.childrenLocked(p)))
	for c := range m.childrenLocked(p) {
		out = append(out, c)
	}
	slices.Sort(out)
	return out, nil
}

// List returns every process ordered by pid.
func (m *Manager) List() []Info {
	var procs []*Process
	m.procs.Each(func(_ resource.Handle, p *Process) bool {
		procs = append(procs, p)
		return true
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(procs))
	for _, p := range procs {
		out = append(out, p.infoLocked())
	}
	slices.SortFunc(out, func(a, b Info) int { return cmp.Compare(a.PID, b.PID) })
	return out
}

// SetReaper designates the process that adopts orphans. Zero clears it.
func (m *Manager) SetReaper(pid PID) error {
	if pid != 0 {
		if _, err := m.lookup(pid); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reaper = pid
	return nil
}

// Reaper returns the designated orphan reaper.
func (m *Manager) Reaper() PID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reaper
}

func (m *Manager) threadsEmpty(p *Process, tm *thread.Manager, code uint32) {
	p.mu.Lock()
	var post func()
	// a restore may still be adding threads when an early one exits
	if p.Threads() == tm && tm.Live() == 0 {
		post = m.zombieLocked(p, ExitStatus{Code: code})
	}
	p.mu.Unlock()
	if post != nil {
		post()
	}
}

// zombieLocked turns p into a zombie with status. The caller holds p.mu
// and must run the returned function after releasing it.
func (m *Manager) zombieLocked(p *Process, status ExitStatus) func() {
	if p.State() == Zombie {
		return func() {}
	}

	m.mu.Lock()
	p.setState(Zombie)
	p.status = status
	parent := p.parent
	detached := p.detached
	orphans := m.orphansLocked(p)
	if detached {
		m.removeLocked(p)
	} else {
		var pp *Process
		if parent != 0 {
			pp, _ = m.procs.Get(resource.Handle(parent))
		}
		m.exitsLocked(pp).WakeAll()
	}
	p.joiners.WakeAll()
	close(p.done)
	m.mu.Unlock()

	if tm := p.Threads(); tm != nil {
		tm.Close(status.Code)
	}
	if f := p.Futexes(); f != nil {
		f.Close()
	}

	Logger().Debug("process zombie",
		zap.Uint32("pid", uint32(p.pid)),
		zap.Stringer("status", status))

	return func() {
		if parent != 0 && !detached {
			_ = m.Signal(parent, signal.SIGCHLD)
		}
		for _, o := range orphans {
			_ = m.Signal(o, signal.SIGCHLD)
		}
	}
}

// orphansLocked applies the orphan policy to the children of dying p.
// Children are adopted by the reaper when it is alive and is not p;
// otherwise they are detached: zombies are discarded now and live ones
// when they exit. It returns the reaper once per adopted zombie so it can
// be told about them.
func (m *Manager) orphansLocked(p *Process) []PID {
	if len(p.children) == 0 {
		return nil
	}
	var reaper *Process
	if m.reaper != 0 && m.reaper != p.pid {
		if r, ok := m.procs.Get(resource.Handle(m.reaper)); ok && r.State() != Zombie {
			reaper = r
		}
	}

	var notify []PID
	for pid, c := range p.children {
		delete(p.children, pid)
		if reaper != nil {
			c.parent = reaper.pid
			reaper.children[pid] = c
			if c.State() == Zombie {
				notify = append(notify, reaper.pid)
				reaper.exits.WakeAll()
			}
			Logger().Debug("process reparent",
				zap.Uint32("pid", uint32(pid)),
				zap.Uint32("reaper", uint32(reaper.pid)))
			continue
		}

		c.parent = 0
		c.detached = true
		if c.State() == Zombie {
			m.procs.Remove(resource.Handle(pid))
		}
		Logger().Debug("process detach", zap.Uint32("pid", uint32(pid)))
	}
	return notify
}

// Join waits for pid to become a zombie and returns its status without
// reaping it.
func (m *Manager) Join(ctx context.Context, pid PID) (ExitStatus, error) {
	return sched.Block[ExitStatus](ctx, m.NewJoin(pid))
}

// NewJoin returns the pollable form of Join. The process is resolved now,
// so a join started before the process is reaped still completes.
func (m *Manager) NewJoin(pid PID) *JoinFuture {
	p, err := m.lookup(pid)
	return &JoinFuture{m: m, p: p, err: err}
}

// JoinFuture resolves with the exit status of a process.
type JoinFuture struct {
	m          *Manager
	p          *Process
	err        error
	tok        waker.Token
	registered bool
}

var (
	_ sched.Future[ExitStatus]    = (*JoinFuture)(nil)
	_ sched.Abandoner[ExitStatus] = (*JoinFuture)(nil)
)

func (j *JoinFuture) Poll(w waker.Wakeable) sched.Result[ExitStatus] {
	if j.err != nil {
		return sched.Fail[ExitStatus](j.err)
	}
	j.m.mu.Lock()
	defer j.m.mu.Unlock()
	if j.p.State() == Zombie {
		return sched.Done(j.p.status, nil)
	}
	if !j.registered || !j.p.joiners.Replace(j.tok, w) {
		j.tok = j.p.joiners.Register(w)
		j.registered = true
	}
	return sched.Waiting[ExitStatus]()
}

func (j *JoinFuture) Abandon() sched.Result[ExitStatus] {
	if j.err != nil {
		return sched.Fail[ExitStatus](j.err)
	}
	j.m.mu.Lock()
	defer j.m.mu.Unlock()
	if j.p.State() == Zombie {
		return sched.Done(j.p.status, nil)
	}
	if j.registered {
		j.p.joiners.Cancel(j.tok)
	}
	return sched.Waiting[ExitStatus]()
}

// Reap removes zombie child of parent from the table and returns its
// status. Parent 0 reaps root processes.
func (m *Manager) Reap(parent, child PID) (ExitStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.childLocked(parent, child)
	if err != nil {
		return ExitStatus{}, err
	}
	if c.State() != Zombie {
		return ExitStatus{}, errors.InvalidState(errors.PhaseProcess, "process has not exited")
	}
	m.removeLocked(c)
	return c.status, nil
}

func (m *Manager) childLocked(parent, child PID) (*Process, error) {
	var pp *Process
	if parent != 0 {
		var ok bool
		if pp, ok = m.procs.Get(resource.Handle(parent)); !ok {
			return nil, errors.InvalidHandle(errors.PhaseProcess, "process", parent)
		}
	}
	c, ok := m.childrenLocked(pp)[child]
	if !ok {
		return nil, errors.New(errors.PhaseProcess, errors.KindInvalidHandle).
			Value(child).
			Detail("process %d is not a child of %d", child, parent).
			Build()
	}
	return c, nil
}

// WaitChild waits for child of parent to exit and reaps it. With AnyChild
// it reaps whichever child exits first and fails when there is none.
func (m *Manager) WaitChild(ctx context.Context, parent, child PID) (PID, ExitStatus, error) {
	if child != AnyChild {
		m.mu.Lock()
		_, err := m.childLocked(parent, child)
		m.mu.Unlock()
		if err != nil {
			return 0, ExitStatus{}, err
		}
		if _, err := m.Join(ctx, child); err != nil {
			return 0, ExitStatus{}, err
		}
		status, err := m.Reap(parent, child)
		return child, status, err
	}

	r, err := sched.Block[reaped](ctx, &anyChildFuture{m: m, parent: parent})
	return r.pid, r.status, err
}

type reaped struct {
	pid    PID
	status ExitStatus
}

// anyChildFuture reaps the lowest-numbered zombie child of parent.
type anyChildFuture struct {
	m          *Manager
	parent     PID
	tok        waker.Token
	registered bool
	reg        *waker.Registry
}

func (f *anyChildFuture) Poll(w waker.Wakeable) sched.Result[reaped] {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	var pp *Process
	if f.parent != 0 {
		var ok bool
		if pp, ok = f.m.procs.Get(resource.Handle(f.parent)); !ok {
			return sched.Fail[reaped](errors.InvalidHandle(errors.PhaseProcess, "process", f.parent))
		}
	}
	children := f.m.childrenLocked(pp)
	if len(children) == 0 {
		return sched.Fail[reaped](errors.New(errors.PhaseProcess, errors.KindInvalidHandle).
			Value(f.parent).
			Detail("process %d has no children", f.parent).
			Build())
	}

	var found *Process
	for _, c := range children {
		if c.State() == Zombie && (found == nil || c.pid < found.pid) {
			found = c
		}
	}
	if found != nil {
		f.cancelLocked()
		f.m.removeLocked(found)
		return sched.Done(reaped{pid: found.pid, status: found.status}, nil)
	}

	reg := f.m.exitsLocked(pp)
	if !f.registered || f.reg != reg || !reg.Replace(f.tok, w) {
		f.cancelLocked()
		f.tok = reg.Register(w)
		f.reg = reg
		f.registered = true
	}
	return sched.Waiting[reaped]()
}

func (f *anyChildFuture) Abandon() sched.Result[reaped] {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	f.cancelLocked()
	return sched.Waiting[reaped]()
}

func (f *anyChildFuture) cancelLocked() {
	if f.registered {
		f.reg.Cancel(f.tok)
		f.registered = false
	}
}
