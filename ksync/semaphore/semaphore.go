// Package semaphore implements the counting semaphore primitive (C9):
// sem_init, sem_take, sem_give, sem_flush, sem_delete (§4.9), built on
// internal/sched's blocking protocol with a priority-ordered wait list.
package semaphore

import (
	"time"

	"github.com/goartos/kernel/internal/kcode"
	"github.com/goartos/kernel/internal/klog"
	"github.com/goartos/kernel/internal/list"
	"github.com/goartos/kernel/internal/sched"
)

// componentSemaphore is this package's postcode component id, matching
// its C9 module number.
const componentSemaphore = 9

const (
	subcodeBadLimit = iota + 1
	subcodeBadInitialCount
	subcodeSaturated
	subcodeUnavailable
	subcodeTimedOut
	subcodeDeleted
)

// resultDeleted is the sentinel result ScheduleEntryTrigger delivers to
// every waiter woken by Delete, distinct from the ordinary
// WaitAvailable/WaitTimeout postcodes a Take can otherwise observe
// (§4.9 "a sentinel 'deleted' result").
type resultDeleted struct{}

// Handle is a stable reference to a created semaphore. The zero Handle
// is not usable; obtain one from Manager.Init.
type Handle struct {
	mgr       *Manager
	name      string
	remaining int
	limit     int
	waiters   list.List[*sched.Task]
	deleted   bool
}

// Name returns the semaphore's name, as given to Init.
func (h *Handle) Name() string { return h.name }

// Take attempts to acquire h (sem_take, §4.9).
func (h *Handle) Take(timeout time.Duration) error { return h.mgr.Take(h, timeout) }

// Give releases h (sem_give, §4.9).
func (h *Handle) Give() error { return h.mgr.Give(h) }

// Flush wakes every current waiter without changing the count (sem_flush, §4.9).
func (h *Handle) Flush() { h.mgr.Flush(h) }

// Delete wakes every waiter with a deleted result and retires h (sem_delete, §4.9).
func (h *Handle) Delete() { h.mgr.Delete(h) }

// Manager owns the Semaphore primitive's wiring into the scheduler.
// Construct with New, once per Scheduler.
type Manager struct {
	sched *sched.Scheduler
	log   *klog.Logger
}

// New wires the Semaphore primitive's privileged routines into s and
// returns the Manager semaphores are created through. log may be nil,
// which discards semaphore log lines.
func New(s *sched.Scheduler, log *klog.Logger) *Manager {
	if log == nil {
		log = klog.Discard()
	}
	m := &Manager{sched: s, log: log.With("semaphore")}

	s.RegisterPrivileged("sem.take", func(arg any) any {
		a := arg.(takeArgs)
		h := a.h
		if h.deleted {
			return kcode.NewPrimitiveError("sem_take", h.name, kcode.PackFailure(componentSemaphore, 0, subcodeDeleted), "semaphore deleted")
		}
		if h.remaining > 0 {
			h.remaining--
			return nil
		}
		if a.timeoutUs == 0 {
			return kcode.NewPrimitiveError("sem_take", h.name, kcode.PackFailure(componentSemaphore, 0, subcodeUnavailable), "semaphore unavailable")
		}

		t := s.Current()
		s.ScheduleExitTriggerOrdered(t, h, nil, &h.waiters, a.timeoutUs, false, priorityOrder(&h.waiters))
		s.RequestReschedule()
		// Execution resumes here once t is woken by Give, Flush, Delete,
		// or the wheel's own timeout callback — whichever result was
		// stashed via ScheduleEntryTrigger is the real outcome.
		switch r := s.ScheduleResultTake(t).(type) {
		case resultDeleted:
			return kcode.NewPrimitiveError("sem_take", h.name, kcode.PackFailure(componentSemaphore, 0, subcodeDeleted), "semaphore deleted while waiting")
		case kcode.Postcode:
			if r == kcode.PostcodeWaitTimeout {
				return kcode.NewPrimitiveError("sem_take", h.name, kcode.PackFailure(componentSemaphore, 0, subcodeTimedOut), "timed out waiting for semaphore")
			}
			return nil
		default:
			return nil
		}
	})

	s.RegisterPrivileged("sem.give", func(arg any) any {
		h := arg.(*Handle)
		if h.deleted {
			return kcode.NewPrimitiveError("sem_give", h.name, kcode.PackFailure(componentSemaphore, 0, subcodeDeleted), "semaphore deleted")
		}
		if hd, ok := h.waiters.PopHead(); ok {
			s.ScheduleEntryTrigger(hd, nil, kcode.PostcodeWaitAvailable)
			s.RequestReschedule()
			return nil
		}
		if h.remaining < h.limit {
			h.remaining++
			return nil
		}
		return kcode.NewPrimitiveError("sem_give", h.name, kcode.PackFailure(componentSemaphore, 0, subcodeSaturated), "semaphore already at limit")
	})

	s.RegisterPrivileged("sem.flush", func(arg any) any {
		h := arg.(*Handle)
		wokeAny := false
		for {
			hd, ok := h.waiters.PopHead()
			if !ok {
				break
			}
			s.ScheduleEntryTrigger(hd, nil, kcode.PostcodeWaitAvailable)
			wokeAny = true
		}
		if wokeAny {
			s.RequestReschedule()
		}
		return nil
	})

	s.RegisterPrivileged("sem.delete", func(arg any) any {
		h := arg.(*Handle)
		wokeAny := false
		for {
			hd, ok := h.waiters.PopHead()
			if !ok {
				break
			}
			s.ScheduleEntryTrigger(hd, nil, resultDeleted{})
			wokeAny = true
		}
		h.deleted = true
		h.remaining = 0
		if wokeAny {
			s.RequestReschedule()
		}
		return nil
	})

	return m
}

// priorityOrder returns the OrderedInsert comparator that keeps l sorted
// by ascending Task.Priority (lower value runs first), FIFO among ties —
// the wait-list ordering §4.9/§4.10 both require.
func priorityOrder(l *list.List[*sched.Task]) func(cur list.Handle, candidate **sched.Task) bool {
	return func(cur list.Handle, candidate **sched.Task) bool {
		return (*l.Value(cur)).Priority <= (*candidate).Priority
	}
}

type takeArgs struct {
	h         *Handle
	timeoutUs int64
}

// Init creates a semaphore with remain initial resources and limit as
// its saturation ceiling (sem_init, §4.9).
func (m *Manager) Init(remain, limit int, name string) (*Handle, error) {
	if limit <= 0 {
		return nil, kcode.NewError("sem_init", kcode.PackFailure(componentSemaphore, 0, subcodeBadLimit), "limit must be positive")
	}
	if remain < 0 || remain > limit {
		return nil, kcode.NewError("sem_init", kcode.PackFailure(componentSemaphore, 0, subcodeBadInitialCount), "remain must be within [0, limit]")
	}
	h := &Handle{mgr: m, name: name, remaining: remain, limit: limit}
	m.log.Debugf("semaphore %q created remain=%d limit=%d", name, remain, limit)
	return h, nil
}

// Take decrements h if a resource is available; otherwise blocks
// (sem_take, §4.9). timeout == 0 returns PC_OS_WAIT_UNAVAILABLE
// immediately instead of blocking; timeout < 0 (artos.TimeForever)
// blocks with no timeout; timeout > 0 blocks up to that long before
// failing with a timed-out error.
func (m *Manager) Take(h *Handle, timeout time.Duration) error {
	timeoutUs := int64(-1)
	switch {
	case timeout == 0:
		timeoutUs = 0
	case timeout > 0:
		timeoutUs = timeout.Microseconds()
	}
	return asError(m.sched.Call("sem.take", takeArgs{h: h, timeoutUs: timeoutUs}))
}

// Give increments h or wakes its highest-priority waiter (sem_give,
// §4.9). Fails if h is already at its saturation limit with no waiters.
func (m *Manager) Give(h *Handle) error {
	return asError(m.sched.Call("sem.give", h))
}

// Flush wakes every current waiter with PC_OS_WAIT_AVAILABLE without
// changing the resource count (sem_flush, §4.9).
func (m *Manager) Flush(h *Handle) {
	m.sched.Call("sem.flush", h)
}

// Delete wakes every waiter with a deleted sentinel result and retires h
// (sem_delete, §4.9): any later Take/Give on h fails.
func (m *Manager) Delete(h *Handle) {
	m.sched.Call("sem.delete", h)
}

func asError(res any) error {
	if res == nil {
		return nil
	}
	return res.(error)
}
