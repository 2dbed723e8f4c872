package process

import (
	"github.com/wippyai/wasix-runtime/errors"
	"github.com/wippyai/wasix-runtime/signal"
	"github.com/wippyai/wasix-runtime/thread"
	"go.uber.org/zap"
)

// Signal delivers sig to pid. A signal the guest handles is queued on the
// designated signal thread, or the lowest live thread if that one has
// exited, and interrupts its current suspension point. Otherwise the
// default action applies: terminate and core kill the process with exit
// code 128+sig; the rest have no effect.
func (m *Manager) Signal(pid PID, sig signal.Signal) error {
	if !sig.Valid() {
		return errors.InvalidInput(errors.PhaseProcess, "invalid signal")
	}
	p, err := m.lookup(pid)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.State() == Zombie {
		p.mu.Unlock()
		return errors.InvalidState(errors.PhaseProcess, "process has exited")
	}

	if sig.Catchable() && p.handlers.Has(sig) {
		p.deliverLocked(sig)
		p.mu.Unlock()
		return nil
	}

	action := signal.DefaultAction(sig)
	if !action.Fatal() {
		p.mu.Unlock()
		Logger().Debug("signal ignored",
			zap.Uint32("pid", uint32(pid)),
			zap.Stringer("signal", sig),
			zap.Stringer("action", action))
		return nil
	}

	Logger().Debug("signal fatal", zap.Uint32("pid", uint32(pid)), zap.Stringer("signal", sig))
	post := m.zombieLocked(p, ExitStatus{Code: 128 + uint32(sig), Signal: sig})
	p.mu.Unlock()
	post()
	return nil
}

func (p *Process) deliverLocked(sig signal.Signal) {
	tm := p.Threads()
	target := p.sigThread
	if t, ok := tm.Get(target); !ok || t.Info().State == thread.Exited {
		target = 0
		for _, info := range tm.Threads() {
			if info.State != thread.Exited {
				target = info.ID
				break
			}
		}
	}
	if target == 0 || tm.Signal(target, sig) != nil {
		for {
			cur := p.pending.Load()
			if p.pending.CompareAndSwap(cur, uint64(signal.Set(cur).Add(sig))) {
				break
			}
		}
		return
	}
	Logger().Debug("signal delivered",
		zap.Uint32("pid", uint32(p.pid)),
		zap.Uint32("tid", uint32(target)),
		zap.Stringer("signal", sig))
}
