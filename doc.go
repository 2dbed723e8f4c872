// Package wasix provides the concurrency and process-lifecycle core of a
// WASIX-style runtime: futexes, threads, processes and the readiness bridge
// between guest suspension points and virtual files.
//
// # Architecture Overview
//
//	wasix/            Root package with the Memory contract and guest pointers
//	├── memory/       Linear memory and the wazero memory adapter
//	├── waker/        Wake handles and FIFO wake registries
//	├── sched/        Poll-based futures, blocking driver, bounded executor
//	├── futex/        Per-process futex table
//	├── vfs/          Virtual files, readiness polling, pipes and stdio
//	├── signal/       Signal numbers, sets and default actions
//	├── thread/       Per-process thread manager
//	├── process/      Process table: spawn, fork, exec, snapshot, join, signal
//	├── resource/     Handle table used for process ids
//	├── engine/       wazero-backed image loader and syscall host module
//	├── errors/       Structured error types and errno mapping
//	└── cmd/wasix-run Command line runner with a live process view
//
// # Quick Start
//
//	eng, err := engine.New(ctx, engine.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	procs := process.NewManager(eng, process.DefaultConfig())
//	pid, err := procs.Spawn(ctx, 0, &process.Image{Name: "app", Binary: wasmBytes}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_, status, err := procs.WaitChild(ctx, 0, pid)
//
// # Suspension
//
// Every blocking guest operation (futex wait, join, sleep, yield, readiness
// wait) is a poll-based future. A pending future has registered a waker and
// holds no execution worker; sched.Block parks the calling goroutine until
// the waker fires, and sched.Executor multiplexes poll tasks onto a bounded
// set of workers.
//
// # Memory Model
//
// Atomic Load and Store helpers operate on the host view of guest memory and
// assume a little-endian host, matching the wasm memory byte order.
package wasix
