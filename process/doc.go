// Package process implements the process table of the runtime.
//
// A Manager owns every guest process. Each Process carries an image, a
// linear memory, a futex table and a thread set, and moves through
//
//	Running -> Forking -> Running
//	Running -> Execing -> Running | Zombie
//	Running -> Zombie
//
// A process becomes a zombie when its last thread exits, when it calls
// Exit, when a signal's default action kills it, or when an exec fails
// after discarding the old image. Zombies stay in the table, joinable,
// until their parent reaps them with Reap or WaitChild.
//
// # Orphans
//
// When a process dies its children are adopted by the reaper set with
// SetReaper, unless the reaper is the dying process or has exited itself.
// Without a reaper the children are detached: zombie children are
// discarded at once and live ones are discarded when they exit. Their
// statuses stay visible to joins already in progress.
//
// # Locking
//
// Fork, exec, snapshot, exit and signal delivery hold the per-process
// lock for their duration. The manager lock guards the parent and child
// links and exit statuses; it is taken after a process lock and never
// held across a suspension point.
package process
