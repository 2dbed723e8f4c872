package thread

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/wippyai/wasix-runtime/errors"
	"github.com/wippyai/wasix-runtime/sched"
	"github.com/wippyai/wasix-runtime/signal"
	"github.com/wippyai/wasix-runtime/waker"
	"go.uber.org/zap"
)

// Manager owns the threads of one process.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	launcher Launcher
	nextID   ID
	threads  map[ID]*Thread
	live     int
	closed   bool
	onEmpty  func(code uint32)
}

// NewManager creates a manager with no threads.
func NewManager(cfg Config) *Manager {
	l := cfg.Launcher
	if l == nil {
		l = GoLauncher{}
	}
	return &Manager{
		cfg:      cfg,
		launcher: l,
		threads:  make(map[ID]*Thread),
	}
}

// OnEmpty sets the function called, outside the manager lock, when the
// last live thread exits. It is not called after Close.
func (m *Manager) OnEmpty(fn func(code uint32)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEmpty = fn
}

// ParallelismHint returns the number of threads that can make progress at
// the same time.
func (m *Manager) ParallelismHint() int {
	return parallelism(m.cfg.Parallelism)
}

// Spawn starts a thread running entry and returns its id.
func (m *Manager) Spawn(ctx context.Context, entry Entry, stack StackConfig) (ID, error) {
	m.mu.Lock()
	t, err := m.addLocked(ctx, m.nextID+1, stack)
	m.mu.Unlock()
	if err != nil {
		return 0, err
	}
	m.launch(t, entry)
	return t.id, nil
}

// Continue starts entry as thread id. Fork uses it to carry the calling
// thread into the child and restore uses it to resume saved threads.
func (m *Manager) Continue(ctx context.Context, id ID, entry Entry, stack StackConfig) (*Thread, error) {
	if id == 0 {
		return nil, errors.InvalidInput(errors.PhaseThread, "thread id 0 is reserved")
	}
	m.mu.Lock()
	t, err := m.addLocked(ctx, id, stack)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	m.launch(t, entry)
	return t, nil
}

// AddExited records an exited thread without running it, so joins on id
// resolve with code.
func (m *Manager) AddExited(id ID, code uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == 0 {
		return errors.InvalidInput(errors.PhaseThread, "thread id 0 is reserved")
	}
	if _, ok := m.threads[id]; ok {
		return errors.InvalidState(errors.PhaseThread, "thread id already in use")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	t := &Thread{id: id, m: m, ctx: ctx, cancel: cancel, state: Exited, code: code, done: make(chan struct{})}
	close(t.done)
	m.threads[id] = t
	m.nextID = max(m.nextID, id)
	return nil
}

func (m *Manager) addLocked(ctx context.Context, id ID, stack StackConfig) (*Thread, error) {
	if m.closed {
		return nil, errors.InvalidState(errors.PhaseThread, "thread set discarded")
	}
	if _, ok := m.threads[id]; ok {
		return nil, errors.InvalidState(errors.PhaseThread, "thread id already in use")
	}
	if m.cfg.MaxThreads > 0 && m.live >= m.cfg.MaxThreads {
		return nil, errors.ResourceExhausted(errors.PhaseThread, "thread limit reached")
	}
	if stack.Size == 0 {
		stack.Size = m.cfg.DefaultStackSize
	}
	if m.cfg.MaxStackSize > 0 && stack.Size > m.cfg.MaxStackSize {
		return nil, errors.New(errors.PhaseThread, errors.KindResourceExhausted).
			Value(stack.Size).
			Detail("stack size %d exceeds limit %d", stack.Size, m.cfg.MaxStackSize).
			Build()
	}

	t := &Thread{id: id, m: m, stack: stack, done: make(chan struct{})}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.ctx = WithThread(t.ctx, t)

	m.threads[id] = t
	m.live++
	m.nextID = max(m.nextID, id)
	return t, nil
}

func (m *Manager) launch(t *Thread, entry Entry) {
	Logger().Debug("thread spawn", zap.Uint32("tid", uint32(t.id)), zap.Uint64("stack", t.stack.Size))
	m.launcher.Launch(t.ctx, t, func(ctx context.Context) {
		defer close(t.done)
		code := entry(ctx, t)
		_ = m.Exit(t.id, code)
	})
}

// Get returns the thread with the given id.
func (m *Manager) Get(id ID) (*Thread, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[id]
	return t, ok
}

// Live returns the number of threads that have not exited.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// Threads returns every known thread ordered by id.
func (m *Manager) Threads() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.threads))
	for _, t := range m.threads {
		out = append(out, t.infoLocked())
	}
	slices.SortFunc(out, func(a, b Info) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Exit marks thread id exited with code and releases its joiners. Only
// the first exit of a thread takes effect. Futex waiters are untouched.
func (m *Manager) Exit(id ID, code uint32) error {
	m.mu.Lock()
	t, ok := m.threads[id]
	if !ok {
		m.mu.Unlock()
		return errors.InvalidHandle(errors.PhaseThread, "thread", id)
	}
	if t.state == Exited {
		m.mu.Unlock()
		return nil
	}
	t.exitLocked(code)
	m.live--
	fire := m.live == 0 && !m.closed
	cb := m.onEmpty
	m.mu.Unlock()

	Logger().Debug("thread exit", zap.Uint32("tid", uint32(id)), zap.Uint32("code", code))
	if fire && cb != nil {
		cb(code)
	}
	return nil
}

// Signal queues sig on thread id and wakes its current suspension point.
func (m *Manager) Signal(id ID, sig signal.Signal) error {
	if !sig.Valid() {
		return errors.InvalidInput(errors.PhaseThread, "invalid signal")
	}

	m.mu.Lock()
	t, ok := m.threads[id]
	if !ok || t.state == Exited {
		m.mu.Unlock()
		return errors.InvalidHandle(errors.PhaseThread, "thread", id)
	}
	t.addPending(sig)
	w := t.wake
	m.mu.Unlock()

	Logger().Debug("thread signal", zap.Uint32("tid", uint32(id)), zap.Stringer("signal", sig))
	if w != nil {
		w.Wake()
	}
	return nil
}

// Reap forgets an exited thread. Later joins fail with KindInvalidHandle.
func (m *Manager) Reap(id ID) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[id]
	if !ok {
		return 0, errors.InvalidHandle(errors.PhaseThread, "thread", id)
	}
	if t.state != Exited {
		return 0, errors.InvalidState(errors.PhaseThread, "thread has not exited")
	}
	delete(m.threads, id)
	return t.code, nil
}

// Close discards every live thread: each is marked exited with code, its
// context is canceled and its joiners are released. OnEmpty is not called
// and no thread can be spawned afterwards.
func (m *Manager) Close(code uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, t := range m.threads {
		if t.state != Exited {
			t.exitLocked(code)
		}
	}
	m.live = 0
}

// Closed reports whether Close has been called.
func (m *Manager) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Join waits for thread id to exit and returns its exit code.
func (m *Manager) Join(ctx context.Context, id ID) (uint32, error) {
	return sched.Block[uint32](ctx, m.NewJoin(id))
}

// NewJoin returns the pollable form of Join.
func (m *Manager) NewJoin(id ID) *JoinFuture {
	return &JoinFuture{m: m, id: id}
}

// JoinFuture resolves with the exit code of a thread.
type JoinFuture struct {
	m          *Manager
	id         ID
	tok        waker.Token
	registered bool
}

var (
	_ sched.Future[uint32]    = (*JoinFuture)(nil)
	_ sched.Abandoner[uint32] = (*JoinFuture)(nil)
)

func (j *JoinFuture) Poll(w waker.Wakeable) sched.Result[uint32] {
	j.m.mu.Lock()
	defer j.m.mu.Unlock()

	t, ok := j.m.threads[j.id]
	if !ok {
		return sched.Fail[uint32](errors.InvalidHandle(errors.PhaseThread, "thread", j.id))
	}
	if t.state == Exited {
		return sched.Done(t.code, nil)
	}
	if !j.registered || !t.joiners.Replace(j.tok, w) {
		j.tok = t.joiners.Register(w)
		j.registered = true
	}
	return sched.Waiting[uint32]()
}

func (j *JoinFuture) Abandon() sched.Result[uint32] {
	j.m.mu.Lock()
	defer j.m.mu.Unlock()

	t, ok := j.m.threads[j.id]
	if !ok {
		return sched.Waiting[uint32]()
	}
	if t.state == Exited {
		return sched.Done(t.code, nil)
	}
	if j.registered {
		t.joiners.Cancel(j.tok)
	}
	return sched.Waiting[uint32]()
}
