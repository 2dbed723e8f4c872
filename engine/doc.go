// Package engine runs WebAssembly images as guest processes.
//
// This package wraps wazero to provide the process.Engine the process
// manager loads images through, and the host calls guests use to reach
// the futex, thread and process layers.
//
// # Architecture
//
//	Engine   - one wazero runtime with WASI preview1 and wasix_32v1 instantiated
//	Program  - a compiled image; every Run instantiates a fresh module
//
// # Run Flow
//
//  1. Engine.Load() compiles the binary and checks the entry export
//  2. process.Manager starts a main thread that calls Program.Run()
//  3. Run instantiates the module with the configured stdio and args
//  4. A forked or restored memory image is copied into the instance memory
//  5. The instance memory becomes the process memory
//  6. The entry is called; proc_exit gives the exit code, a trap gives TrapCode
//
// The thread context is the call context, so discarding the thread (exit,
// exec, a fatal signal) closes the running instance.
//
// # Host Module
//
// wasix_32v1 functions return an errno and write results through
// pointers:
//
//	futex_wait(addr, expected, timeout_ptr, ret_woken)
//	futex_wake(addr, ret_woken)
//	futex_wake_all(addr, ret_woken)
//	thread_id(ret)               thread_parallelism(ret)
//	thread_sleep(ns: i64)        thread_signal(tid, sig)
//	sched_yield()
//	proc_id(ret)                 proc_parent(pid, ret)
//	proc_fork(name_ptr, name_len, ret_pid)
//	proc_join(pid, ret_pid, ret_code)
//	proc_signal(pid, sig)        proc_raise(sig)
//	signal_handler(sig, on)      signal_take(ret)
//
// timeout_ptr points at an option<u64> of nanoseconds: a tag byte and the
// value 8 bytes later. A null pointer waits forever. proc_fork runs the
// named export in the child over a copy of the parent memory.
//
// # Thread Safety
//
// Engine and Program are safe for concurrent use.
package engine
