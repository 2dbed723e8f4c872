// Package futex implements the per-process futex table.
//
// A wait atomically compares the u32 at a guest address with an expected
// value and, under the table lock, either returns immediately or joins the
// FIFO waiter list for that address. Wakes are edge-triggered: a wake with
// no registered waiter is lost, and guests re-check their condition in a
// loop. An address with no waiters has no entry in the table.
//
//	tbl := futex.NewTable()
//	outcome, err := tbl.Wait(ctx, mem, addr, 0, futex.Forever)
//	...
//	n := tbl.Wake(addr)
package futex
