// Package mutex implements the priority-inheritance mutex primitive
// (C10): mutex_init, mutex_lock, mutex_unlock, and the explicit
// force-free escape hatch (§4.10), built on internal/sched's blocking
// protocol with a priority-ordered wait list.
package mutex

import (
	"github.com/goartos/kernel/internal/kcode"
	"github.com/goartos/kernel/internal/klog"
	"github.com/goartos/kernel/internal/list"
	"github.com/goartos/kernel/internal/sched"
)

// componentMutex is this package's postcode component id, matching its
// C10 module number.
const componentMutex = 10

const (
	subcodeBlockedWaiters = iota + 1
)

// Handle is a stable reference to a created mutex. The zero Handle is
// not usable; obtain one from Manager.Init.
type Handle struct {
	mgr  *Manager
	name string

	holder           *sched.Task
	originalPriority sched.Priority
	waiters          list.List[*sched.Task]
}

// Name returns the mutex's name, as given to Init.
func (h *Handle) Name() string { return h.name }

// Locked reports whether h currently has a holder.
func (h *Handle) Locked() bool { return h.mgr.Locked(h) }

// Lock acquires h, blocking with priority inheritance if it is already
// held (mutex_lock, §4.10).
func (h *Handle) Lock() error { return h.mgr.Lock(h) }

// Unlock releases h (mutex_unlock, §4.10).
func (h *Handle) Unlock() error { return h.mgr.Unlock(h) }

// ForceFree releases h whichever task holds it; fails if any task is
// blocked on h (mutex_force_free, §4.10).
func (h *Handle) ForceFree() error { return h.mgr.ForceFree(h) }

// Manager owns the Mutex primitive's wiring into the scheduler.
// Construct with New, once per Scheduler.
type Manager struct {
	sched *sched.Scheduler
	log   *klog.Logger
}

// New wires the Mutex primitive's privileged routines into s and
// returns the Manager mutexes are created through. log may be nil,
// which discards mutex log lines.
func New(s *sched.Scheduler, log *klog.Logger) *Manager {
	if log == nil {
		log = klog.Discard()
	}
	m := &Manager{sched: s, log: log.With("mutex")}

	s.RegisterPrivileged("mutex.lock", func(arg any) any {
		h := arg.(*Handle)
		caller := s.Current()

		if h.holder == nil {
			h.holder = caller
			h.originalPriority = caller.Priority
			return nil
		}

		// Priority inheritance (§4.10): a numerically smaller Priority
		// runs first, so "caller is higher" means caller.Priority is
		// less than the current holder's.
		if caller.Priority < h.holder.Priority {
			s.BoostPriority(h.holder, caller.Priority)
		}

		s.ScheduleExitTriggerOrdered(caller, h, nil, &h.waiters, -1, false, priorityOrder(&h.waiters))
		s.RequestReschedule()
		// Execution resumes here once Unlock has already made caller the
		// new holder; nothing further to record.
		return nil
	})

	s.RegisterPrivileged("mutex.unlock", func(arg any) any {
		h := arg.(*Handle)
		if h.holder != nil {
			s.BoostPriority(h.holder, h.originalPriority)
		}
		if hd, ok := h.waiters.PopHead(); ok {
			h.holder = hd
			h.originalPriority = hd.Priority
			s.ScheduleEntryTrigger(hd, nil, kcode.PostcodeWaitAvailable)
			s.RequestReschedule()
			return nil
		}
		h.holder = nil
		return nil
	})

	s.RegisterPrivileged("mutex.forcefree", func(arg any) any {
		h := arg.(*Handle)
		if h.waiters.Len() > 0 {
			return kcode.NewPrimitiveError("mutex_force_free", h.name, kcode.PackFailure(componentMutex, 0, subcodeBlockedWaiters),
				"cannot force-free a mutex with blocked waiters")
		}
		if h.holder != nil {
			s.BoostPriority(h.holder, h.originalPriority)
		}
		h.holder = nil
		return nil
	})

	return m
}

// priorityOrder returns the OrderedInsert comparator that keeps l
// sorted by ascending Task.Priority (lower value runs first), FIFO
// among ties — the same ordering semaphore uses for its wait list.
func priorityOrder(l *list.List[*sched.Task]) func(cur list.Handle, candidate **sched.Task) bool {
	return func(cur list.Handle, candidate **sched.Task) bool {
		return (*l.Value(cur)).Priority <= (*candidate).Priority
	}
}

// Init creates an unlocked mutex (mutex_init, §4.10). Note: there is no
// mutex_delete — deleting a mutex a task might be blocked on is not
// supported for safety (§4.10); see ForceFree for the narrow, explicit
// escape hatch instead. Recursion is not supported: re-locking by the
// current holder is undefined, exactly as §4.10 specifies, and is not
// specially detected here.
func (m *Manager) Init(name string) *Handle {
	h := &Handle{mgr: m, name: name}
	m.log.Debugf("mutex %q created", name)
	return h
}

// Lock acquires h (mutex_lock, §4.10): if already held, the caller
// blocks with no timeout, first raising the holder's priority to its
// own if it outranks the holder (priority inheritance).
func (m *Manager) Lock(h *Handle) error {
	return asError(m.sched.Call("mutex.lock", h))
}

// Unlock releases h (mutex_unlock, §4.10): restores the outgoing
// holder's original priority, then transfers to the highest-priority
// waiter if one exists, or marks h unlocked otherwise.
func (m *Manager) Unlock(h *Handle) error {
	return asError(m.sched.Call("mutex.unlock", h))
}

// ForceFree releases h unconditionally (mutex_force_free, §4.10) — the
// only supported way to release a mutex outside the lock/unlock
// protocol. Fails if any task is currently blocked on h: the caller must
// guarantee that itself before calling this.
func (m *Manager) ForceFree(h *Handle) error {
	return asError(m.sched.Call("mutex.forcefree", h))
}

// Locked reports whether h currently has a holder. A direct,
// unprotected read of h.holder, like sched.ReadyCount/IsReady — racy
// against a concurrent Lock/Unlock in the same way those already are,
// not a new relaxation of the convention.
func (m *Manager) Locked(h *Handle) bool {
	return h.holder != nil
}

func asError(res any) error {
	if res == nil {
		return nil
	}
	return res.(error)
}
