package engine

import (
	"context"
	"math"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	wasix "github.com/wippyai/wasix-runtime"
	"github.com/wippyai/wasix-runtime/errors"
	"github.com/wippyai/wasix-runtime/futex"
	"github.com/wippyai/wasix-runtime/memory"
	"github.com/wippyai/wasix-runtime/process"
	"github.com/wippyai/wasix-runtime/signal"
	"github.com/wippyai/wasix-runtime/thread"
)

// HostModule is the import module exposing the concurrency and process
// calls to guests.
const HostModule = "wasix_32v1"

const (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

type hostFunc struct {
	name   string
	params []api.ValueType
	fn     func(ctx context.Context, c *caller, stack []uint64) errors.Errno
}

// caller is the guest thread making a host call. mem is nil when the
// guest exports no memory.
type caller struct {
	mem  wasix.Memory
	proc *process.Process
	t    *thread.Thread
}

func (c *caller) putU32(p wasix.Ptr32, v uint32) errors.Errno {
	if c.mem == nil {
		return errors.ErrnoFault
	}
	return errors.ToErrno(wasix.Store32(c.mem, p, v))
}

func (c *caller) putBool(p wasix.Ptr32, v bool) errors.Errno {
	if c.mem == nil {
		return errors.ErrnoFault
	}
	var b byte
	if v {
		b = 1
	}
	return errors.ToErrno(c.mem.Write(p.Addr(), []byte{b}))
}

func (c *caller) read(p wasix.Ptr32, n uint32) ([]byte, errors.Errno) {
	if c.mem == nil {
		return nil, errors.ErrnoFault
	}
	b, err := c.mem.Read(p.Addr(), uint64(n))
	return b, errors.ToErrno(err)
}

// timeout reads an option<u64> of nanoseconds: a tag byte at p and the
// value at p+8. A null pointer or a none tag waits forever.
func (c *caller) timeout(p wasix.Ptr32) (time.Duration, errors.Errno) {
	if p.IsNull() {
		return futex.Forever, errors.ErrnoSuccess
	}
	tag, errno := c.read(p, 1)
	if errno != errors.ErrnoSuccess {
		return 0, errno
	}
	if tag[0] == 0 {
		return futex.Forever, errors.ErrnoSuccess
	}
	ns, err := wasix.Load64(c.mem, p.Add(8))
	if err != nil {
		return 0, errors.ToErrno(err)
	}
	return time.Duration(min(ns, math.MaxInt64)), errors.ErrnoSuccess
}

func ptr(v uint64) wasix.Ptr32 { return wasix.NewPtr(u32(v)) }

func u32(v uint64) uint32 { return api.DecodeU32(v) }

func sig(v uint64) signal.Signal {
	s := u32(v)
	if s > math.MaxUint8 {
		return 0
	}
	return signal.Signal(s)
}

var hostFuncs = []hostFunc{
	{"futex_wait", []api.ValueType{i32, i32, i32, i32}, func(ctx context.Context, c *caller, s []uint64) errors.Errno {
		d, errno := c.timeout(ptr(s[2]))
		if errno != errors.ErrnoSuccess {
			return errno
		}
		if c.mem == nil {
			return errors.ErrnoFault
		}
		out, err := c.t.FutexWait(ctx, c.proc.Futexes(), c.mem, ptr(s[0]).Addr(), u32(s[1]), d)
		if err != nil {
			return errors.ToErrno(err)
		}
		return c.putBool(ptr(s[3]), out == futex.Woken)
	}},
	{"futex_wake", []api.ValueType{i32, i32}, func(_ context.Context, c *caller, s []uint64) errors.Errno {
		n := c.proc.Futexes().Wake(ptr(s[0]).Addr())
		return c.putBool(ptr(s[1]), n > 0)
	}},
	{"futex_wake_all", []api.ValueType{i32, i32}, func(_ context.Context, c *caller, s []uint64) errors.Errno {
		n := c.proc.Futexes().WakeAll(ptr(s[0]).Addr())
		return c.putBool(ptr(s[1]), n > 0)
	}},
	{"thread_id", []api.ValueType{i32}, func(_ context.Context, c *caller, s []uint64) errors.Errno {
		return c.putU32(ptr(s[0]), uint32(c.t.ID()))
	}},
	{"thread_parallelism", []api.ValueType{i32}, func(_ context.Context, c *caller, s []uint64) errors.Errno {
		return c.putU32(ptr(s[0]), uint32(c.t.Manager().ParallelismHint()))
	}},
	{"thread_sleep", []api.ValueType{i64}, func(ctx context.Context, c *caller, s []uint64) errors.Errno {
		return errors.ToErrno(c.t.Sleep(ctx, time.Duration(min(s[0], math.MaxInt64))))
	}},
	{"thread_signal", []api.ValueType{i32, i32}, func(_ context.Context, c *caller, s []uint64) errors.Errno {
		return errors.ToErrno(c.t.Manager().Signal(thread.ID(u32(s[0])), sig(s[1])))
	}},
	{"sched_yield", nil, func(ctx context.Context, c *caller, _ []uint64) errors.Errno {
		return errors.ToErrno(c.t.Yield(ctx))
	}},
	{"proc_id", []api.ValueType{i32}, func(_ context.Context, c *caller, s []uint64) errors.Errno {
		return c.putU32(ptr(s[0]), uint32(c.proc.PID()))
	}},
	{"proc_parent", []api.ValueType{i32, i32}, func(_ context.Context, c *caller, s []uint64) errors.Errno {
		pid := process.PID(u32(s[0]))
		if pid == 0 {
			pid = c.proc.PID()
		}
		parent, err := c.proc.Manager().Parent(pid)
		if err != nil {
			return errors.ToErrno(err)
		}
		return c.putU32(ptr(s[1]), uint32(parent))
	}},
	{"proc_fork", []api.ValueType{i32, i32, i32}, func(ctx context.Context, c *caller, s []uint64) errors.Errno {
		name, errno := c.read(ptr(s[0]), u32(s[1]))
		if errno != errors.ErrnoSuccess {
			return errno
		}
		child, err := c.proc.Manager().Fork(ctx, c.proc.PID(), c.t.ID(), Continuation(string(name)))
		if err != nil {
			return errors.ToErrno(err)
		}
		return c.putU32(ptr(s[2]), uint32(child))
	}},
	{"proc_join", []api.ValueType{i32, i32, i32}, func(ctx context.Context, c *caller, s []uint64) errors.Errno {
		pid, status, err := c.proc.Manager().WaitChild(ctx, c.proc.PID(), process.PID(u32(s[0])))
		if err != nil {
			if errors.HasKind(err, errors.KindInvalidHandle) {
				return errors.ErrnoChild
			}
			return errors.ToErrno(err)
		}
		if errno := c.putU32(ptr(s[1]), uint32(pid)); errno != errors.ErrnoSuccess {
			return errno
		}
		return c.putU32(ptr(s[2]), status.Code)
	}},
	{"proc_signal", []api.ValueType{i32, i32}, func(_ context.Context, c *caller, s []uint64) errors.Errno {
		return errors.ToErrno(c.proc.Manager().Signal(process.PID(u32(s[0])), sig(s[1])))
	}},
	{"proc_raise", []api.ValueType{i32}, func(_ context.Context, c *caller, s []uint64) errors.Errno {
		return errors.ToErrno(c.proc.Manager().Signal(c.proc.PID(), sig(s[0])))
	}},
	{"signal_handler", []api.ValueType{i32, i32}, func(_ context.Context, c *caller, s []uint64) errors.Errno {
		return errors.ToErrno(c.proc.SetHandler(sig(s[0]), u32(s[1]) != 0))
	}},
	{"signal_take", []api.ValueType{i32}, func(_ context.Context, c *caller, s []uint64) errors.Errno {
		got, _ := c.t.TakeSignal()
		return c.putU32(ptr(s[0]), uint32(got))
	}},
}

// instantiateHost builds the wasix host module. Every function returns an
// errno; calls made outside a process thread fail with ErrnoInval.
func instantiateHost(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(HostModule)
	for _, hf := range hostFuncs {
		fn := hf.fn
		builder = builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				c := &caller{
					proc: process.FromContext(ctx),
					t:    thread.FromContext(ctx),
				}
				if mem := mod.Memory(); mem != nil {
					c.mem = memory.Wrap(mem)
				}
				if c.proc == nil || c.t == nil {
					stack[0] = uint64(errors.ErrnoInval)
					return
				}
				stack[0] = uint64(fn(ctx, c, stack))
			}), hf.params, []api.ValueType{i32}).
			Export(hf.name)
	}
	return builder.Instantiate(ctx)
}

// instantiateWASI instantiates WASI preview1.
func instantiateWASI(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(wasi_snapshot_preview1.ModuleName)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
	return builder.Instantiate(ctx)
}
