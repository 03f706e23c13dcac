// Package kevent implements the level/edge-triggered event flags
// primitive (C11): event_init, event_set, event_wait, event_delete
// (§4.11), built on internal/sched's blocking protocol with a
// priority-ordered wait list and a per-waiter entry callback that
// delivers trigger bits straight into the caller's own output cell.
package kevent

import (
	"time"

	"github.com/goartos/kernel/internal/kcode"
	"github.com/goartos/kernel/internal/klog"
	"github.com/goartos/kernel/internal/list"
	"github.com/goartos/kernel/internal/sched"
)

// componentEvent is this package's postcode component id, matching its
// C11 module number.
const componentEvent = 11

const (
	subcodeUnavailable = iota + 1
	subcodeTimedOut
	subcodeDeleted
)

// Result is the caller-owned output cell a Wait call delivers into. A
// waiter is expected to keep reusing the same Result across calls:
// Value doubles as the caller's own last-observed baseline, so the
// primitive can compute which bits changed since that waiter last
// looked, independent of any other waiter (§4.11 "against the current
// value vs out_cell->value").
type Result struct {
	Trigger uint32
	Value   uint32
}

// waitArgs is stashed via ScheduleExitTriggerOrdered's holdData and
// read back by event.set's wake loop when it matches a waiter.
type waitArgs struct {
	listen uint32
	out    *Result
}

// Handle is a stable reference to a created event-flags context. The
// zero Handle is not usable; obtain one from Manager.Init.
type Handle struct {
	mgr  *Manager
	name string

	value    uint32
	anyMask  uint32 // any-bits always trigger on change
	modeMask uint32 // set -> edge trigger, clear -> level trigger
	dirMask  uint32 // set -> rising edge / level-high, clear -> falling / level-low

	// triggered latches trigger bits an event_set computed but that no
	// waiter's listen mask claimed at the time, so a waiter that
	// registers afterward still observes them (§4.11).
	triggered uint32

	waiters list.List[*sched.Task]
	deleted bool
}

// Name returns the event context's name, as given to Init.
func (h *Handle) Name() string { return h.name }

// Set applies set/clear/toggle bit operations and wakes matching
// waiters (event_set, §4.11).
func (h *Handle) Set(setBits, clearBits, toggleBits uint32) error {
	return h.mgr.Set(h, setBits, clearBits, toggleBits)
}

// Wait blocks until any bit in listen is triggered, or delivers
// immediately if one already is (event_wait, §4.11).
func (h *Handle) Wait(out *Result, listen uint32, timeout time.Duration) error {
	return h.mgr.Wait(h, out, listen, timeout)
}

// Delete wakes every waiter with a no-data result and zeros the
// context (event_delete, §4.11).
func (h *Handle) Delete() { h.mgr.Delete(h) }

// Manager owns the Event primitive's wiring into the scheduler.
// Construct with New, once per Scheduler.
type Manager struct {
	sched *sched.Scheduler
	log   *klog.Logger
}

// New wires the Event primitive's privileged routines into s and
// returns the Manager event contexts are created through. log may be
// nil, which discards event log lines.
func New(s *sched.Scheduler, log *klog.Logger) *Manager {
	if log == nil {
		log = klog.Discard()
	}
	m := &Manager{sched: s, log: log.With("event")}

	s.RegisterPrivileged("event.set", func(arg any) any {
		a := arg.(setArgs)
		h := a.h
		if h.deleted {
			return kcode.NewPrimitiveError("event_set", h.name, kcode.PackFailure(componentEvent, 0, subcodeDeleted), "event deleted")
		}

		old := h.value
		newVal := ((old &^ a.clear) | a.set) ^ a.toggle
		remaining := triggerBits(h.anyMask, h.modeMask, h.dirMask, old, newVal) | h.triggered

		wokeAny := false
		for _, hd := range collectHandles(&h.waiters) {
			w := *h.waiters.Value(hd)
			wa := w.HoldData().(waitArgs)
			report := remaining & wa.listen
			if report == 0 {
				continue
			}
			remaining &^= report
			h.waiters.Delete(hd)
			out, nv := wa.out, newVal
			s.ScheduleEntryTrigger(w, func(*sched.Task) {
				out.Trigger = report
				out.Value = nv
			}, kcode.PostcodeWaitAvailable)
			wokeAny = true
		}

		h.triggered = remaining
		h.value = newVal
		if wokeAny {
			s.RequestReschedule()
		}
		return nil
	})

	s.RegisterPrivileged("event.wait", func(arg any) any {
		a := arg.(waitCallArgs)
		h := a.h
		if h.deleted {
			return kcode.NewPrimitiveError("event_wait", h.name, kcode.PackFailure(componentEvent, 0, subcodeDeleted), "event deleted")
		}

		trig := triggerBits(h.anyMask, h.modeMask, h.dirMask, a.out.Value, h.value) | h.triggered
		report := trig & a.listen
		if report != 0 {
			a.out.Trigger = report
			a.out.Value = h.value
			h.triggered &^= report
			return nil
		}
		if a.timeoutUs == 0 {
			return kcode.NewPrimitiveError("event_wait", h.name, kcode.PackFailure(componentEvent, 0, subcodeUnavailable), "no matching trigger available")
		}

		t := s.Current()
		s.ScheduleExitTriggerOrdered(t, h, waitArgs{listen: a.listen, out: a.out}, &h.waiters, a.timeoutUs, false, priorityOrder(&h.waiters))
		s.RequestReschedule()
		// Execution resumes here once woken; event.set's entry callback
		// above has already filled a.out, unless event.delete woke us
		// (a.out untouched) or the wheel timed us out first.
		switch r := s.ScheduleResultTake(t).(type) {
		case kcode.Postcode:
			switch r {
			case kcode.PostcodeWaitTimeout:
				return kcode.NewPrimitiveError("event_wait", h.name, kcode.PackFailure(componentEvent, 0, subcodeTimedOut), "timed out waiting for event")
			case kcode.PostcodeWaitNoData:
				return kcode.NewPrimitiveError("event_wait", h.name, kcode.PackFailure(componentEvent, 0, subcodeDeleted), "event deleted while waiting")
			default:
				return nil
			}
		default:
			return nil
		}
	})

	s.RegisterPrivileged("event.delete", func(arg any) any {
		h := arg.(*Handle)
		wokeAny := false
		for _, hd := range collectHandles(&h.waiters) {
			w := *h.waiters.Value(hd)
			h.waiters.Delete(hd)
			s.ScheduleEntryTrigger(w, nil, kcode.PostcodeWaitNoData)
			wokeAny = true
		}
		h.deleted = true
		h.value = 0
		h.triggered = 0
		if wokeAny {
			s.RequestReschedule()
		}
		return nil
	})

	return m
}

// triggerBits computes the §4.11 trigger word for a value transition
// from oldVal to newVal under the given masks: any-bits always trigger
// on change; modeMask bits are edge-triggered (rise when dirMask is
// set, fall when clear); the remaining bits are level-triggered (high
// when dirMask is set, low when clear).
func triggerBits(anyMask, modeMask, dirMask, oldVal, newVal uint32) uint32 {
	changed := newVal ^ oldVal
	levelMask := ^modeMask

	trig := anyMask & changed
	trig |= modeMask & newVal & dirMask & changed
	trig |= modeMask &^ newVal &^ dirMask & changed
	trig |= levelMask & newVal & dirMask & changed
	trig |= levelMask &^ newVal &^ dirMask & changed
	return trig
}

// collectHandles snapshots l's linked handles so the caller can delete
// while iterating — list.List.Walk forbids mutating linkage mid-walk.
func collectHandles(l *list.List[*sched.Task]) []list.Handle {
	var handles []list.Handle
	l.Walk(func(h list.Handle) bool {
		handles = append(handles, h)
		return true
	})
	return handles
}

// priorityOrder returns the OrderedInsert comparator that keeps l
// sorted by ascending Task.Priority (lower value runs first), FIFO
// among ties — same ordering ksync's semaphore and mutex wait lists use.
func priorityOrder(l *list.List[*sched.Task]) func(cur list.Handle, candidate **sched.Task) bool {
	return func(cur list.Handle, candidate **sched.Task) bool {
		return (*l.Value(cur)).Priority <= (*candidate).Priority
	}
}

type setArgs struct {
	h                  *Handle
	set, clear, toggle uint32
}

type waitCallArgs struct {
	h         *Handle
	out       *Result
	listen    uint32
	timeoutUs int64
}

// Init creates an event context with the given masks and initial value
// (event_init, §4.11).
func (m *Manager) Init(anyMask, modeMask, dirMask, initValue uint32, name string) *Handle {
	h := &Handle{mgr: m, name: name, value: initValue, anyMask: anyMask, modeMask: modeMask, dirMask: dirMask}
	m.log.Debugf("event %q created value=%#x any=%#x mode=%#x dir=%#x", name, initValue, anyMask, modeMask, dirMask)
	return h
}

// Set applies set/clear/toggle to h's value and delivers the resulting
// trigger bits to waiters in priority order, highest first: each waiter
// whose listen mask matches bits not yet claimed by an earlier waiter
// claims those bits and wakes; any unclaimed trigger bits latch for the
// next Wait (event_set, §4.11).
func (m *Manager) Set(h *Handle, setBits, clearBits, toggleBits uint32) error {
	return asError(m.sched.Call("event.set", setArgs{h: h, set: setBits, clear: clearBits, toggle: toggleBits}))
}

// Wait delivers immediately if h's current value (compared against
// out's own last-observed baseline) or its latched triggered bits
// already satisfy listen; otherwise blocks up to timeout
// (timeout == 0 fails immediately instead, timeout < 0 blocks forever)
// (event_wait, §4.11).
func (m *Manager) Wait(h *Handle, out *Result, listen uint32, timeout time.Duration) error {
	timeoutUs := int64(-1)
	switch {
	case timeout == 0:
		timeoutUs = 0
	case timeout > 0:
		timeoutUs = timeout.Microseconds()
	}
	return asError(m.sched.Call("event.wait", waitCallArgs{h: h, out: out, listen: listen, timeoutUs: timeoutUs}))
}

// Delete wakes every waiter with a no-data result and zeros h's value
// and latched bits (event_delete, §4.11).
func (m *Manager) Delete(h *Handle) {
	m.sched.Call("event.delete", h)
}

func asError(res any) error {
	if res == nil {
		return nil
	}
	return res.(error)
}
