// Package kerntest provides a deterministic kernel harness for tests:
// a Kernel driven by a manual tick source instead of a real clock, so
// tests control simulated time directly instead of racing a real one.
package kerntest

import (
	"time"

	artos "github.com/goartos/kernel"
	"github.com/goartos/kernel/internal/tick/softtick"
)

// Harness bundles a Kernel with the Manual tick source driving its
// timeout wheel. The Kernel is not yet booted — register any inits the
// test needs with artos.RegisterInit, then call Boot, the same order
// production code follows.
type Harness struct {
	*artos.Kernel
	Tick *softtick.Manual
}

// New constructs a Kernel wired to a Manual tick source, without
// booting it. opts are applied before the tick-source override, so a
// caller cannot accidentally reintroduce a real-clock driver by passing
// artos.WithTickSource again.
func New(opts ...artos.Option) *Harness {
	src := softtick.NewManual()
	all := make([]artos.Option, 0, len(opts)+1)
	all = append(all, opts...)
	all = append(all, artos.WithTickSource(src))

	return &Harness{Kernel: artos.New(all...), Tick: src}
}

// AdvanceTicks moves the simulated clock forward by d, firing the
// timeout wheel's interrupt if the wheel's programmed interval has
// elapsed. This is the test equivalent of waiting d of wall-clock time
// for a sleep/timeout/timer to fire.
func (h *Harness) AdvanceTicks(d time.Duration) {
	h.Tick.Advance(d)
}

// AwaitQuiescent blocks until the scheduler's context-switch and
// dispatch counters stop moving across a short sampling window, a
// best-effort proxy for "no task is presently runnable" — the
// scheduler exposes no direct idle signal, so this polls Metrics()
// rather than waiting on one. Use after AdvanceTicks or a primitive
// call that wakes other tasks, before asserting on their effects.
func (h *Harness) AwaitQuiescent() {
	const (
		pollInterval = 200 * time.Microsecond
		stableRounds = 3
	)
	var lastSwitches, lastPendSV uint64
	stable := 0
	for stable < stableRounds {
		time.Sleep(pollInterval)
		snap := h.Metrics().Snapshot()
		if snap.ContextSwitches == lastSwitches && snap.PendSVRuns == lastPendSV {
			stable++
			continue
		}
		stable = 0
		lastSwitches, lastPendSV = snap.ContextSwitches, snap.PendSVRuns
	}
}
