// Package resource provides a generic handle table.
//
// A Table maps small integer handles to Go values. Handle 0 is never
// issued, so callers can use it as "none". Freed handles are reused:
//
//	procs := resource.NewTable[*Process](256)
//
//	h, err := procs.Insert(p)   // ErrFull once 256 values are live
//	p, ok := procs.Get(h)
//	p, ok = procs.Remove(h)     // h may be handed out again
//
// # Observers
//
// Observers see every insert and removal, outside the table lock:
//
//	procs.Subscribe(resource.ObserverFunc[*Process](func(e resource.Event[*Process]) {
//	    log.Printf("%s %d", e.Type, e.Handle)
//	}))
//
// # Cleanup
//
// Values implementing Dropper have Drop called when they are removed or
// when the table is closed.
package resource
