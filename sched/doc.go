// Package sched provides the poll-based suspension model.
//
// A Future is polled with a waker. A pending poll must have arranged for the
// waker to fire when progress is possible; until then the future occupies
// no worker. Block drives a future from the calling goroutine, parking it
// between wakes. Executor runs poll tasks on a bounded worker pool and
// re-queues a task exactly once per wake, for hosts that integrate guest
// suspension points with their own event loop.
//
// Futures that hold registrations implement Abandoner so an interrupted
// wait can deregister cleanly. When a wake and an abandonment race, the
// wake wins and the resolved result is returned.
package sched
