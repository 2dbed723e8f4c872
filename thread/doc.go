// Package thread manages the threads of one process.
//
// Each Thread runs an Entry on a goroutine started by the manager's
// Launcher. Every blocking operation a thread performs (futex wait, join,
// sleep, yield, readiness wait) goes through Await, which records the
// blocked state for observers and turns a pending signal into an
// interrupted error at the suspension point. Signals never preempt.
//
// Thread ids are unique within a manager, assigned in increasing order and
// never reused. Exited threads keep their record, so any number of joins
// return the same exit code, until Reap forgets them.
package thread
