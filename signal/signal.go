// Package signal defines guest signal numbers, signal sets and their
// default dispositions.
package signal

import (
	"fmt"
	"math/bits"
)

// Signal is a guest signal number.
type Signal uint8

const (
	SIGHUP    Signal = 1
	SIGINT    Signal = 2
	SIGQUIT   Signal = 3
	SIGILL    Signal = 4
	SIGTRAP   Signal = 5
	SIGABRT   Signal = 6
	SIGBUS    Signal = 7
	SIGFPE    Signal = 8
	SIGKILL   Signal = 9
	SIGUSR1   Signal = 10
	SIGSEGV   Signal = 11
	SIGUSR2   Signal = 12
	SIGPIPE   Signal = 13
	SIGALRM   Signal = 14
	SIGTERM   Signal = 15
	SIGSTKFLT Signal = 16
	SIGCHLD   Signal = 17
	SIGCONT   Signal = 18
	SIGSTOP   Signal = 19
	SIGTSTP   Signal = 20
	SIGTTIN   Signal = 21
	SIGTTOU   Signal = 22
	SIGURG    Signal = 23
	SIGXCPU   Signal = 24
	SIGXFSZ   Signal = 25
	SIGVTALRM Signal = 26
	SIGPROF   Signal = 27
	SIGWINCH  Signal = 28
	SIGPOLL   Signal = 29
	SIGPWR    Signal = 30
	SIGSYS    Signal = 31
)

// Max is the highest valid signal number.
const Max = SIGSYS

var names = [...]string{
	SIGHUP: "SIGHUP", SIGINT: "SIGINT", SIGQUIT: "SIGQUIT", SIGILL: "SIGILL",
	SIGTRAP: "SIGTRAP", SIGABRT: "SIGABRT", SIGBUS: "SIGBUS", SIGFPE: "SIGFPE",
	SIGKILL: "SIGKILL", SIGUSR1: "SIGUSR1", SIGSEGV: "SIGSEGV", SIGUSR2: "SIGUSR2",
	SIGPIPE: "SIGPIPE", SIGALRM: "SIGALRM", SIGTERM: "SIGTERM", SIGSTKFLT: "SIGSTKFLT",
	SIGCHLD: "SIGCHLD", SIGCONT: "SIGCONT", SIGSTOP: "SIGSTOP", SIGTSTP: "SIGTSTP",
	SIGTTIN: "SIGTTIN", SIGTTOU: "SIGTTOU", SIGURG: "SIGURG", SIGXCPU: "SIGXCPU",
	SIGXFSZ: "SIGXFSZ", SIGVTALRM: "SIGVTALRM", SIGPROF: "SIGPROF", SIGWINCH: "SIGWINCH",
	SIGPOLL: "SIGPOLL", SIGPWR: "SIGPWR", SIGSYS: "SIGSYS",
}

// Valid reports whether s is a deliverable signal.
func (s Signal) Valid() bool {
	return s >= SIGHUP && s <= Max
}

func (s Signal) String() string {
	if s.Valid() {
		return names[s]
	}
	return fmt.Sprintf("signal(%d)", uint8(s))
}

// Catchable reports whether a handler may be installed for s.
func (s Signal) Catchable() bool {
	return s.Valid() && s != SIGKILL && s != SIGSTOP
}

// Action is a default disposition.
type Action int

const (
	Terminate Action = iota
	Core
	Ignore
	Stop
	Continue
)

func (a Action) String() string {
	switch a {
	case Terminate:
		return "terminate"
	case Core:
		return "core"
	case Ignore:
		return "ignore"
	case Stop:
		return "stop"
	case Continue:
		return "continue"
	default:
		return "unknown"
	}
}

// Fatal reports whether the action ends the process.
func (a Action) Fatal() bool {
	return a == Terminate || a == Core
}

// DefaultAction returns the POSIX default disposition of s.
func DefaultAction(s Signal) Action {
	switch s {
	case SIGQUIT, SIGILL, SIGTRAP, SIGABRT, SIGBUS, SIGFPE, SIGSEGV, SIGXCPU, SIGXFSZ, SIGSYS:
		return Core
	case SIGCHLD, SIGURG, SIGWINCH:
		return Ignore
	case SIGSTOP, SIGTSTP, SIGTTIN, SIGTTOU:
		return Stop
	case SIGCONT:
		return Continue
	default:
		return Terminate
	}
}

// Set is a bitmask of signals.
type Set uint64

// SetOf returns a set holding sigs.
func SetOf(sigs ...Signal) Set {
	var s Set
	for _, sig := range sigs {
		s = s.Add(sig)
	}
	return s
}

// Add returns s with sig added.
func (s Set) Add(sig Signal) Set { return s | 1<<sig }

// Remove returns s without sig.
func (s Set) Remove(sig Signal) Set { return s &^ (1 << sig) }

// Has reports whether sig is in s.
func (s Set) Has(sig Signal) bool { return s&(1<<sig) != 0 }

// Empty reports whether s has no signals.
func (s Set) Empty() bool { return s == 0 }

// Lowest returns the lowest-numbered signal in s.
func (s Set) Lowest() (Signal, bool) {
	if s == 0 {
		return 0, false
	}
	return Signal(bits.TrailingZeros64(uint64(s))), true
}

// Signals lists the members of s in ascending order.
func (s Set) Signals() []Signal {
	var out []Signal
	for s != 0 {
		sig, _ := s.Lowest()
		out = append(out, sig)
		s = s.Remove(sig)
	}
	return out
}
