package process

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/wippyai/wasix-runtime/errors"
	"github.com/wippyai/wasix-runtime/futex"
	"github.com/wippyai/wasix-runtime/internal/binary"
	"github.com/wippyai/wasix-runtime/memory"
	"github.com/wippyai/wasix-runtime/signal"
	"github.com/wippyai/wasix-runtime/thread"
	"go.uber.org/zap"
)

const (
	snapshotMagic   = "WXSN"
	snapshotVersion = 1
)

// Snapshot is the saved state of a process: enough to resume it
// equivalently as a new process.
type Snapshot struct {
	PID          PID
	Parent       PID
	Image        string
	Entry        string
	Args         []string
	Memory       []byte
	Threads      []ThreadRecord
	Pending      signal.Set
	Handlers     signal.Set
	SignalThread thread.ID
}

// ThreadRecord is the saved state of one thread.
type ThreadRecord struct {
	ID       thread.ID
	State    thread.State
	Reason   thread.BlockReason
	ExitCode uint32
	Pending  signal.Set
	Stack    thread.StackConfig
}

// Resume continues a restored thread from its record and returns its exit
// code.
type Resume func(ctx context.Context, p *Process, t *thread.Thread, rec ThreadRecord) uint32

// Snapshot captures process pid. It serializes with fork and exec on the
// process lock.
func (m *Manager) Snapshot(pid PID) (*Snapshot, error) {
	p, err := m.lookup(pid)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.State() != Running {
		return nil, errors.New(errors.PhaseSnapshot, errors.KindInvalidState).
			Value(pid).
			Detail("cannot snapshot process %d while %s", pid, p.State()).
			Build()
	}

	mem := p.Memory()
	data, err := mem.Read(0, mem.Size())
	if err != nil {
		return nil, errors.Wrap(errors.PhaseSnapshot, errors.KindInvalidState, err, "read memory")
	}

	m.mu.Lock()
	parent := p.parent
	m.mu.Unlock()

	img := p.Image()
	snap := &Snapshot{
		PID:          pid,
		Parent:       parent,
		Image:        img.Name,
		Entry:        img.Entry,
		Args:         append([]string(nil), p.args...),
		Memory:       append([]byte(nil), data...),
		Pending:      p.Pending(),
		Handlers:     p.handlers,
		SignalThread: p.sigThread,
	}
	for _, info := range p.Threads().Threads() {
		snap.Threads = append(snap.Threads, ThreadRecord{
			ID:       info.ID,
			State:    info.State,
			Reason:   info.Reason,
			ExitCode: info.ExitCode,
			Pending:  info.Pending,
			Stack:    info.Stack,
		})
	}

	Logger().Debug("process snapshot",
		zap.Uint32("pid", uint32(pid)),
		zap.Int("threads", len(snap.Threads)),
		zap.Int("memory", len(snap.Memory)))
	return snap, nil
}

// Restore starts snap as a new root process running img, which must be
// the image the snapshot was taken from. Each live thread record is
// continued through resume under its saved id; exited records stay
// joinable with their exit code.
func (m *Manager) Restore(ctx context.Context, snap *Snapshot, img *Image, resume Resume) (PID, error) {
	if snap == nil || resume == nil {
		return 0, errors.InvalidInput(errors.PhaseSnapshot, "snapshot and resume are required")
	}
	if img == nil || img.Name != snap.Image {
		name := ""
		if img != nil {
			name = img.Name
		}
		return 0, errors.InvalidImage(name, fmt.Errorf("snapshot was taken from %q", snap.Image))
	}
	live := 0
	for _, rec := range snap.Threads {
		if rec.State != thread.Exited {
			live++
		}
	}
	if live == 0 {
		return 0, errors.InvalidData(errors.PhaseSnapshot, "snapshot has no live threads")
	}

	prog, err := m.load(ctx, img)
	if err != nil {
		return 0, err
	}

	p := newProcess(ctx, m, img, prog, snap.Args)
	p.SetMemory(memory.FromBytes(snap.Memory))
	p.inherited.Store(true)
	p.handlers = snap.Handlers
	p.sigThread = snap.SignalThread
	p.pending.Store(uint64(snap.Pending))

	p.mu.Lock()
	m.mu.Lock()
	err = m.insertLocked(p, 0)
	m.mu.Unlock()
	if err != nil {
		p.mu.Unlock()
		return 0, err
	}
	err = p.restoreThreads(snap.Threads, resume)
	p.mu.Unlock()
	if err != nil {
		p.Threads().Close(0)
		m.mu.Lock()
		m.removeLocked(p)
		m.mu.Unlock()
		return 0, err
	}

	Logger().Debug("process restore",
		zap.Uint32("pid", uint32(p.pid)),
		zap.Uint32("from", uint32(snap.PID)),
		zap.Int("threads", live))
	return p.pid, nil
}

func (p *Process) restoreThreads(recs []ThreadRecord, resume Resume) error {
	tm := thread.NewManager(p.m.cfg.Threads)
	tm.OnEmpty(func(code uint32) { p.m.threadsEmpty(p, tm, code) })
	p.threads.Store(tm)
	p.futexes.Store(futex.NewTable())

	for _, rec := range recs {
		if rec.State == thread.Exited {
			if err := tm.AddExited(rec.ID, rec.ExitCode); err != nil {
				return err
			}
		}
	}
	for _, rec := range recs {
		if rec.State == thread.Exited {
			continue
		}
		if _, err := tm.Continue(p.ctx, rec.ID, func(ctx context.Context, t *thread.Thread) uint32 {
			return resume(ctx, p, t, rec)
		}, rec.Stack); err != nil {
			return err
		}
		for _, sig := range rec.Pending.Signals() {
			_ = tm.Signal(rec.ID, sig)
		}
	}
	return nil
}

// MarshalBinary encodes the snapshot.
func (s *Snapshot) MarshalBinary() ([]byte, error) {
	w := binary.NewWriter()
	w.Raw([]byte(snapshotMagic))
	w.U32(snapshotVersion)
	w.U32(uint32(s.PID))
	w.U32(uint32(s.Parent))
	w.Name(s.Image)
	w.Name(s.Entry)
	w.U32(uint32(len(s.Args)))
	for _, a := range s.Args {
		w.Name(a)
	}
	w.Blob(s.Memory)
	w.U64(uint64(s.Pending))
	w.U64(uint64(s.Handlers))
	w.U32(uint32(s.SignalThread))

	w.U32(uint32(len(s.Threads)))
	for _, t := range s.Threads {
		w.U32(uint32(t.ID))
		w.Byte(byte(t.State))
		w.Byte(byte(t.Reason.Kind))
		w.U64(t.Reason.Addr)
		var deadline int64
		if !t.Reason.Deadline.IsZero() {
			deadline = t.Reason.Deadline.UnixNano()
		}
		w.S64(deadline)
		w.U32(uint32(t.Reason.Target))
		w.U32(t.ExitCode)
		w.U64(uint64(t.Pending))
		w.U64(t.Stack.Base)
		w.U64(t.Stack.Size)
	}
	return w.Bytes(), nil
}

// UnmarshalBinary decodes a snapshot produced by MarshalBinary.
func (s *Snapshot) UnmarshalBinary(data []byte) error {
	d := decoder{r: binary.NewReader(data)}

	if string(d.bytes(len(snapshotMagic))) != snapshotMagic && d.err == nil {
		return errors.InvalidData(errors.PhaseSnapshot, "bad magic")
	}
	if v := d.u32(); v != snapshotVersion && d.err == nil {
		return errors.New(errors.PhaseSnapshot, errors.KindInvalidData).
			Value(v).
			Detail("unsupported snapshot version %d", v).
			Build()
	}

	var out Snapshot
	out.PID = PID(d.u32())
	out.Parent = PID(d.u32())
	out.Image = d.name()
	out.Entry = d.name()
	out.Args = make([]string, d.count())
	for i := range out.Args {
		out.Args[i] = d.name()
	}
	out.Memory = d.blob()
	out.Pending = signal.Set(d.u64())
	out.Handlers = signal.Set(d.u64())
	out.SignalThread = thread.ID(d.u32())

	out.Threads = make([]ThreadRecord, d.count())
	for i := range out.Threads {
		t := &out.Threads[i]
		t.ID = thread.ID(d.u32())
		t.State = thread.State(d.u8())
		t.Reason.Kind = thread.BlockKind(d.u8())
		t.Reason.Addr = d.u64()
		if ns := d.s64(); ns != 0 {
			t.Reason.Deadline = time.Unix(0, ns)
		}
		t.Reason.Target = thread.ID(d.u32())
		t.ExitCode = d.u32()
		t.Pending = signal.Set(d.u64())
		t.Stack.Base = d.u64()
		t.Stack.Size = d.u64()

		if d.err == nil && (t.State > thread.Exited || t.Reason.Kind > thread.BlockJoin || t.ID == 0) {
			return errors.New(errors.PhaseSnapshot, errors.KindInvalidData).
				Detail("invalid thread record %d", i).
				Build()
		}
	}

	if d.err != nil {
		return errors.Wrap(errors.PhaseSnapshot, errors.KindInvalidData, d.err, "decode snapshot")
	}
	if n := d.r.Remaining(); n != 0 {
		return errors.InvalidData(errors.PhaseSnapshot, fmt.Sprintf("%d trailing bytes", n))
	}
	*s = out
	return nil
}

// decoder keeps the first error and turns later reads into no-ops.
type decoder struct {
	r   *binary.Reader
	err error
}

func (d *decoder) bytes(n int) []byte {
	if d.err != nil {
		return nil
	}
	b, err := d.r.ReadBytes(n)
	d.err = err
	return b
}

func (d *decoder) u8() byte {
	if d.err != nil {
		return 0
	}
	b, err := d.r.ReadByte()
	d.err = err
	return b
}

func (d *decoder) u32() uint32 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadU32()
	d.err = err
	return v
}

func (d *decoder) u64() uint64 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadU64()
	d.err = err
	return v
}

func (d *decoder) s64() int64 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadS64()
	d.err = err
	return v
}

func (d *decoder) name() string {
	if d.err != nil {
		return ""
	}
	s, err := d.r.ReadName()
	d.err = err
	return s
}

func (d *decoder) blob() []byte {
	if d.err != nil {
		return nil
	}
	b, err := d.r.ReadBlob()
	d.err = err
	return b
}

// count reads an element count; each element takes at least one byte.
func (d *decoder) count() int {
	n := d.u32()
	if d.err == nil && int(n) > d.r.Remaining() {
		d.err = stderrors.New("element count exceeds input")
		return 0
	}
	return int(n)
}
