// Package waker provides wake handles and FIFO wake registries.
//
// A Wakeable is the value a pending operation leaves behind so that the
// event it waits for can resume it. Registries hold wakers in registration
// order and invoke each one at most once; the owner's lock serializes
// registration against the condition change so wakes are never lost.
package waker
