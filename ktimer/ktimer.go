// Package ktimer implements the software timer primitive (C8): timer_init,
// timer_automatic, timer_start, timer_stop, timer_busy, the system clock
// accessors, and timer_system_busy_wait (§4.8), built directly on
// internal/timeout's single wheel.
package ktimer

import (
	"fmt"

	"github.com/goartos/kernel/internal/kcode"
	"github.com/goartos/kernel/internal/klog"
	"github.com/goartos/kernel/internal/sched"
	"github.com/goartos/kernel/internal/timeout"
)

// Mode is a timer's control mode (§4.8 "control mode {ONCE, CYCLE,
// TEMPORARY}"), exposed as an integer tag on the public API.
type Mode int

const (
	ModeOnce Mode = iota
	ModeCycle
	ModeTemporary
)

func (m Mode) String() string {
	switch m {
	case ModeOnce:
		return "once"
	case ModeCycle:
		return "cycle"
	case ModeTemporary:
		return "temporary"
	default:
		return "unknown"
	}
}

// componentTimer is this package's postcode component id, matching its C8
// module number.
const componentTimer = 8

const (
	subcodeZeroTimeout = iota + 1
	subcodeDestroyed
	subcodeBadStartMode
)

// Timer is a stable reference to a software timer. The zero Timer is not
// usable; obtain one from Manager.Init or Manager.Automatic.
type Timer struct {
	mgr  *Manager
	name string

	cb       func(*Timer)
	userData any

	automatic bool // true: created via Automatic, self-destroys after firing
	cycle     bool // true: last-armed mode was CYCLE

	periodUs    int64
	nextFireUs  int64 // nominal (drift-free) absolute instant of the next fire
	exp         timeout.Expiration
	destroyed   bool
}

// Name returns the timer's name, as given to Init/Automatic.
func (t *Timer) Name() string { return t.name }

// UserData returns the opaque value given at creation.
func (t *Timer) UserData() any { return t.userData }

// Mode reports the timer's current control mode. An automatic timer
// always reports ModeTemporary, regardless of the cadence it was last
// started with, since that cadence is overridden by self-destruction on
// its next fire.
func (t *Timer) Mode() Mode {
	switch {
	case t.automatic:
		return ModeTemporary
	case t.cycle:
		return ModeCycle
	default:
		return ModeOnce
	}
}

// Busy reports whether t is currently armed and waiting to fire
// (timer_busy, §4.8).
func (t *Timer) Busy() bool { return t.exp.State() == timeout.Wait }

// Start arms t (timer_start, §4.8): mode must be ModeOnce or ModeCycle —
// ModeTemporary is not a startable cadence, it is the effect Automatic
// timers apply on top of whichever cadence they are started with.
// Overrides any prior pending fire, per §4.8 "the newer start will
// override it".
func (t *Timer) Start(mode Mode, timeoutMs uint32) error { return t.mgr.Start(t, mode, timeoutMs) }

// Stop cancels t's pending fire, if any (timer_stop, §4.8).
func (t *Timer) Stop() error { return t.mgr.Stop(t) }

// Manager owns the Timer primitive's wiring into the shared wheel.
// Construct with New, once per Scheduler.
type Manager struct {
	sched *sched.Scheduler
	wheel *timeout.Wheel
	log   *klog.Logger
}

// New wires the Timer primitive's privileged routines into s and returns
// the Manager timers are created through. log may be nil, which discards
// timer log lines.
func New(s *sched.Scheduler, log *klog.Logger) *Manager {
	if log == nil {
		log = klog.Discard()
	}
	m := &Manager{sched: s, wheel: s.Wheel(), log: log.With("ktimer")}

	s.RegisterPrivileged("ktimer.init", func(arg any) any {
		t := arg.(*Timer)
		m.wheel.Init(&t.exp)
		return nil
	})

	s.RegisterPrivileged("ktimer.start", func(arg any) any {
		a := arg.(startArgs)
		t := a.timer
		if t.destroyed {
			return kcode.NewError("timer_start", kcode.PackFailure(componentTimer, 0, subcodeDestroyed), "timer already destroyed")
		}
		t.cycle = a.mode == ModeCycle
		t.periodUs = int64(a.timeoutMs) * 1000
		t.nextFireUs = m.wheel.NowUs() + t.periodUs
		m.wheel.Set(&t.exp, t.periodUs, false)
		return nil
	})

	s.RegisterPrivileged("ktimer.stop", func(arg any) any {
		t := arg.(*Timer)
		if t.destroyed {
			return kcode.NewError("timer_stop", kcode.PackFailure(componentTimer, 0, subcodeDestroyed), "timer already destroyed")
		}
		m.wheel.Remove(&t.exp)
		return nil
	})

	s.RegisterPrivileged("ktimer.clear", func(arg any) any {
		t := arg.(*Timer)
		t.cb = nil
		t.userData = nil
		return nil
	})

	s.RegisterPrivileged("ktimer.busywait.arm", func(arg any) any {
		a := arg.(busyWaitArgs)
		m.wheel.Init(a.exp)
		m.wheel.Set(a.exp, a.us, false)
		return nil
	})

	return m
}

type startArgs struct {
	timer     *Timer
	mode      Mode
	timeoutMs uint32
}

type busyWaitArgs struct {
	exp *timeout.Expiration
	us  int64
}

func newTimer(m *Manager, name string, cb func(*Timer), userData any, automatic bool) *Timer {
	t := &Timer{mgr: m, name: name, cb: cb, userData: userData, automatic: automatic}
	t.exp.Deferred = true
	t.exp.Callback = func(*timeout.Expiration) { m.handleFire(t) }
	m.sched.Call("ktimer.init", t)
	return t
}

// Init creates a stable timer (timer_init, §4.8): cb runs on the kernel
// thread, outside the wheel's critical section, each time the timer
// fires. name is descriptive only.
func (m *Manager) Init(cb func(*Timer), userData any, name string) *Timer {
	return newTimer(m, name, cb, userData, false)
}

// Automatic creates a timer that self-destroys after its first fire
// (timer_automatic, §4.8): once Start'd, whatever cadence it was given,
// it behaves as ModeTemporary and cannot be Start'd again.
func (m *Manager) Automatic(cb func(*Timer), userData any, name string) *Timer {
	return newTimer(m, name, cb, userData, true)
}

// Start arms t with the given cadence (timer_start, §4.8).
func (m *Manager) Start(t *Timer, mode Mode, timeoutMs uint32) error {
	if mode != ModeOnce && mode != ModeCycle {
		return kcode.NewError("timer_start", kcode.PackFailure(componentTimer, 0, subcodeBadStartMode),
			fmt.Sprintf("mode %v is not a startable cadence", mode))
	}
	if timeoutMs == 0 {
		return kcode.NewError("timer_start", kcode.PackFailure(componentTimer, 0, subcodeZeroTimeout), "timeout_ms must be nonzero")
	}
	return asError(m.sched.Call("ktimer.start", startArgs{timer: t, mode: mode, timeoutMs: timeoutMs}))
}

// Stop cancels t's pending fire (timer_stop, §4.8).
func (m *Manager) Stop(t *Timer) error {
	return asError(m.sched.Call("ktimer.stop", t))
}

// handleFire runs under the wheel's critical section (§4.4 pend-drain),
// exactly like a task's timeout callback. CYCLE timers are rearmed here
// with drift compensation (§4.8) so the phase-lock survives tick
// quantization jitter; the user callback itself is deferred to the
// kernel thread via EnqueueDeferred, outside this critical section.
//
// Automatic timers mark themselves destroyed here but do not clear cb or
// userData until after the deferred callback has run — the source's
// partially-implemented TEMPORARY paths zeroed the timer's storage before
// the callback consumed it; this ordering avoids that bug (see
// DESIGN.md, C8).
func (m *Manager) handleFire(t *Timer) {
	cb := t.cb

	if !t.automatic && t.cycle {
		elapsed := t.exp.FiredAtUs - t.nextFireUs
		t.nextFireUs += t.periodUs
		delta := t.periodUs - (elapsed % t.periodUs)
		if delta <= 0 {
			delta = t.periodUs
		}
		m.wheel.Set(&t.exp, delta, false)
	}
	if t.automatic {
		t.destroyed = true
	}

	m.sched.EnqueueDeferred(func() {
		if cb != nil {
			cb(t)
		}
		if t.automatic {
			m.sched.Call("ktimer.clear", t)
		}
	})
}

// SystemTotalMs returns the monotonic millisecond counter since boot
// (timer_system_total_ms, §4.8) — the wheel's own microsecond clock,
// which only advances on reported tick intervals.
func (m *Manager) SystemTotalMs() int64 { return m.wheel.NowUs() / 1000 }

// SystemTotalUs returns the same clock in microseconds.
func (m *Manager) SystemTotalUs() int64 { return m.wheel.NowUs() }

// BusyWait blocks the calling goroutine until at least us microseconds of
// wheel time have elapsed (timer_system_busy_wait, §4.8). Implemented as
// a real wait against the wheel's own expiration mechanism — a channel
// receive satisfied by a one-shot, non-deferred Expiration firing — never
// a spin loop, since busy-spinning a goroutine would starve the Go
// runtime scheduler rather than just the RTOS's own ready list.
func (m *Manager) BusyWait(us int64) {
	if us <= 0 {
		return
	}
	done := make(chan struct{})
	e := &timeout.Expiration{Callback: func(*timeout.Expiration) { close(done) }}
	m.sched.Call("ktimer.busywait.arm", busyWaitArgs{exp: e, us: us})
	<-done
}

func asError(res any) error {
	if res == nil {
		return nil
	}
	return res.(error)
}
