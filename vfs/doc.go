// Package vfs bridges virtual file readiness into the poll model.
//
// A VirtualFile reports how many bytes it can read or write without
// blocking, or that it cannot tell. The poll functions turn those answers
// into sched results: zero means register the waker and stay pending, a
// positive count means ready, and an unknown count means WouldBlock, which
// the read and write futures treat as "try the direct operation".
//
// Files whose readiness can change hand out a RootRegistrar; every waker
// registered there is invoked once the next time readiness may have
// changed.
//
// Pipe, Null, LogFile and HostFile cover the stdio modes of a process.
package vfs
