// Package sched implements the scheduler core (C5): the priority-ordered
// ready list, the PendSV-equivalent dispatcher, the SVC-equivalent
// gateway, and the blocking protocol every primitive (C9-C14) builds on.
//
// Concurrency model: exactly one task goroutine ever runs application or
// kernel code at a time, matching single-core hardware. Real PendSV can
// preempt a running task at an arbitrary instruction; Go exposes no safe
// way to force-pause an arbitrary goroutine, so this package only ever
// hands the run token to a different task from within the currently
// running task's own call to pendsv (i.e. the task's own blocking call or
// Yield). A tick-driven reschedule (a sleeping task's timeout firing)
// only performs list bookkeeping immediately — draining exit/entry
// staging — and defers the actual token handoff to the running task's
// next pendsv call. Idle's loop body calls Yield on every iteration
// specifically so this deferral is bounded to a short, constant latency
// whenever nothing else is running; application tasks are expected to
// block or yield periodically, the same assumption every cooperative or
// tick-scheduled RTOS makes of its tasks.
package sched

import (
	"sync"
	"time"

	"github.com/goartos/kernel/internal/kcode"
	"github.com/goartos/kernel/internal/list"
	"github.com/goartos/kernel/internal/port"
	"github.com/goartos/kernel/internal/tick"
	"github.com/goartos/kernel/internal/timeout"
)

// Priority sentinels (§6 "Priority encoding"), duplicated from the root
// package's constants.go rather than imported from it, since importing
// artos here would cycle once the root package imports internal/sched.
const (
	KernelThreadPriority Priority = -32768
	IdlePriority         Priority = 32767
)

// Scheduler owns the ready list, the two staging lists, the timeout
// wheel, and the port driving task goroutines. Construct with New.
type Scheduler struct {
	port  port.Port
	wheel *timeout.Wheel
	sink  MetricsSink

	ready        list.List[*Task]
	exitStaging  list.List[*Task]
	entryStaging list.List[*Task]

	current *Task
	idle    *Task
	nextID  int32

	deferredMu sync.Mutex
	deferred   []func()
	kernelWake chan struct{}
}

// New constructs a Scheduler driven by src and backed by p, spawns its
// kernel thread and idle task, and performs the first dispatch so idle
// is current on return. sink may be nil (observations are discarded).
func New(p port.Port, src tick.Source, sink MetricsSink) *Scheduler {
	if sink == nil {
		sink = noopSink{}
	}
	s := &Scheduler{port: p, sink: sink, kernelWake: make(chan struct{}, 1)}
	s.wheel = timeout.New(src)
	src.Init(s.wrappedTick)
	s.wheel.OnPendDrain = s.wakeKernelThread

	go s.kernelThreadLoop()
	s.registerYield()

	p.Lock()
	s.idle = s.newTaskLocked("idle", IdlePriority, s.idleLoop, nil, nil)
	s.dispatch()
	p.Unlock()
	return s
}

// Current returns the task currently holding the run token.
func (s *Scheduler) Current() *Task { return s.current }

// Idle returns the reserved idle task.
func (s *Scheduler) Idle() *Task { return s.idle }

// Wheel exposes the shared timeout wheel for primitives (ktimer) that
// arm their own expirations directly, outside the task blocking
// protocol.
func (s *Scheduler) Wheel() *timeout.Wheel { return s.wheel }

// ReadyCount reports how many tasks are currently READY, including idle.
func (s *Scheduler) ReadyCount() int { return s.ready.Len() }

// IsReady reports whether t is currently linked in the ready list
// (current counts as ready), used by thread_resume's no-op check.
func (s *Scheduler) IsReady(t *Task) bool {
	return t.linkHandle != list.Nil && s.ready.Contains(t.linkHandle)
}

// StackFreeSizeProbe delegates to the port's stack high-water-mark scan
// (thread_stack_free_size_probe). stack may be nil.
func (s *Scheduler) StackFreeSizeProbe(stack []byte) int {
	return s.port.StackFreeSizeProbe(stack)
}

// RegisterPrivileged whitelists fn under name for Call.
func (s *Scheduler) RegisterPrivileged(name string, fn port.PrivilegedFunc) {
	s.port.RegisterPrivileged(name, fn)
}

// Call invokes the named privileged routine under the port's critical
// section (the SVC gateway, §4.5/§4.6). Every exported Scheduler method
// below other than Call/RegisterPrivileged/Current/Idle/Wheel/ReadyCount
// assumes it is being called from inside a routine reached this way.
func (s *Scheduler) Call(name string, arg any) any {
	return s.port.Call(name, arg)
}

func (s *Scheduler) nextTaskID() int32 {
	s.nextID++
	return s.nextID
}

// NewTask creates a task's backing goroutine and links it into the ready
// list at its priority, without dispatching — callers that need the new
// task considered immediately should follow with RequestReschedule.
// Assumes the port lock is already held (see Call).
func (s *Scheduler) NewTask(name string, priority Priority, entry port.EntryFunc, arg any, stack []byte) *Task {
	return s.newTaskLocked(name, priority, entry, arg, stack)
}

func (s *Scheduler) newTaskLocked(name string, priority Priority, entry port.EntryFunc, arg any, stack []byte) *Task {
	t := &Task{
		ID:        s.nextTaskID(),
		Name:      name,
		Priority:  priority,
		stack:     stack,
		timeoutUs: -1,
	}
	t.ctx = s.port.Spawn(entry, arg)
	s.wheel.Init(&t.expiration)
	t.linkHandle = s.insertReady(t)
	s.sink.ObserveTaskCreated()
	return t
}

// DeleteTask removes t from whichever list currently holds it and
// cancels any pending timeout. Returns false if t was already deleted.
// Assumes the port lock is already held; if t was current, the caller
// must follow with RequestReschedule to pick a new one.
func (s *Scheduler) DeleteTask(t *Task) bool {
	if t.deleted {
		return false
	}
	t.deleted = true
	s.removeFromCurrentList(t)
	s.wheel.Remove(&t.expiration)
	s.sink.ObserveTaskDeleted()
	// s.current is deliberately left pointing at t when deleting self: the
	// next RequestReschedule's dispatch treats t as the outgoing task and
	// parks its goroutine, which then never wakes again — there is no
	// hardware-accurate "return from thread_delete(self)" to come back to.
	return true
}

func (s *Scheduler) removeFromCurrentList(t *Task) {
	if t.linkHandle == list.Nil {
		return
	}
	switch {
	case s.ready.Contains(t.linkHandle):
		s.ready.Delete(t.linkHandle)
	case s.exitStaging.Contains(t.linkHandle):
		s.exitStaging.Delete(t.linkHandle)
	case s.entryStaging.Contains(t.linkHandle):
		s.entryStaging.Delete(t.linkHandle)
	case t.exitToList != nil && t.exitToList.Contains(t.linkHandle):
		t.exitToList.Delete(t.linkHandle)
	}
	t.linkHandle = list.Nil
}

func (s *Scheduler) insertReady(t *Task) list.Handle {
	return s.ready.OrderedInsert(t, func(cur list.Handle, candidate **Task) bool {
		curTask := *s.ready.Value(cur)
		// Continue past cur (insert after it) while cur is the same or
		// higher priority than candidate, so FIFO order is preserved
		// among equal-priority tasks (§4.5 "Ties are FIFO").
		return curTask.Priority <= (*candidate).Priority
	})
}

// BoostPriority changes t's priority and, if t is presently linked in
// the ready list, repositions it immediately rather than waiting for
// its next natural removal/reinsertion — needed for mutex priority
// inheritance (§4.10), where a blocked higher-priority caller must raise
// the holder's scheduling position right away, not just its field value.
// The current task is still linked in the ready list and is repositioned
// too. A no-op on ordering if t is parked on a primitive's own wait list
// or a staging list; that list is not reordered.
func (s *Scheduler) BoostPriority(t *Task, priority Priority) {
	t.Priority = priority
	if s.ready.Contains(t.linkHandle) {
		s.ready.Delete(t.linkHandle)
		t.linkHandle = s.insertReady(t)
	}
}

// ScheduleExitTrigger moves t from ready onto toList, arming its timeout
// (if timeoutUs >= 0) via the shared wheel. Mirrors schedule_exit_trigger
// (§4.5): the caller typically returns PC_OS_WAIT_UNAVAILABLE afterward.
// toList receives t in FIFO order; use ScheduleExitTriggerOrdered for a
// wait list that must stay priority-ordered.
func (s *Scheduler) ScheduleExitTrigger(t *Task, holdCtx, holdData any, toList *list.List[*Task], timeoutUs int64, immediate bool) {
	s.scheduleExitTrigger(t, holdCtx, holdData, toList, timeoutUs, immediate, nil)
}

// ScheduleExitTriggerOrdered is ScheduleExitTrigger, but inserts t into
// toList according to orderCond (see list.List.OrderedInsert) instead of
// at the tail — how ksync's semaphore and mutex wait lists keep
// higher-priority waiters ahead of lower-priority ones while preserving
// FIFO order among ties (§4.9, §4.10).
func (s *Scheduler) ScheduleExitTriggerOrdered(t *Task, holdCtx, holdData any, toList *list.List[*Task], timeoutUs int64, immediate bool, orderCond func(cur list.Handle, candidate **Task) bool) {
	s.scheduleExitTrigger(t, holdCtx, holdData, toList, timeoutUs, immediate, orderCond)
}

func (s *Scheduler) scheduleExitTrigger(t *Task, holdCtx, holdData any, toList *list.List[*Task], timeoutUs int64, immediate bool, orderCond func(cur list.Handle, candidate **Task) bool) {
	s.ready.Delete(t.linkHandle)
	t.linkHandle = list.Nil
	t.holdCtx = holdCtx
	t.holdData = holdData
	t.exitToList = toList
	t.exitOrderCond = orderCond
	t.timeoutUs = timeoutUs
	t.immediate = immediate
	if timeoutUs >= 0 {
		t.expiration.Callback = s.onTaskTimeout(t)
	} else {
		t.expiration.Callback = nil
	}
	t.linkHandle = s.exitStaging.PushTail(t)
}

func (s *Scheduler) onTaskTimeout(t *Task) timeout.Callback {
	return func(*timeout.Expiration) {
		t.timeoutWake = true
		s.sink.ObserveTimeoutWake()
		s.ScheduleEntryTrigger(t, nil, kcode.PostcodeWaitTimeout)
	}
}

// ScheduleEntryTrigger moves t from its wait list onto entry-staging,
// attaching cb (run under the critical section at the next drain) and
// the result the blocked caller will retrieve via ScheduleResultTake.
// Cancels any pending timeout, since the wait is now satisfied some
// other way.
func (s *Scheduler) ScheduleEntryTrigger(t *Task, cb EntryCallback, result any) {
	if t.expiration.State() == timeout.Wait {
		s.wheel.Remove(&t.expiration)
	}
	s.removeFromCurrentList(t)
	t.entryCB = cb
	t.result = result
	t.resultReady = true
	t.linkHandle = s.entryStaging.PushTail(t)
}

// ScheduleResultTake returns and clears the result stored by the last
// ScheduleEntryTrigger for t (kernel_schedule_result_take).
func (s *Scheduler) ScheduleResultTake(t *Task) any {
	r := t.result
	t.result = nil
	t.resultReady = false
	return r
}

// TimedOut reports and clears whether t's most recent unblock was the
// wheel firing rather than an explicit ScheduleEntryTrigger from a
// primitive.
func (t *Task) TimedOut() bool {
	w := t.timeoutWake
	t.timeoutWake = false
	return w
}

// HoldCtx/HoldData return the values ScheduleExitTrigger stashed for t,
// readable once t is running again after being entry-triggered.
func (t *Task) HoldCtx() any  { return t.holdCtx }
func (t *Task) HoldData() any { return t.holdData }

// drainExitStaging processes the exit-staging list (§4.5 PendSV step 2):
// each task's timeout is armed, then it's moved to its target wait list.
func (s *Scheduler) drainExitStaging() {
	for {
		t, ok := s.exitStaging.PopHead()
		if !ok {
			break
		}
		if t.timeoutUs >= 0 {
			s.wheel.Set(&t.expiration, t.timeoutUs, t.immediate)
		}
		if t.exitOrderCond != nil {
			t.linkHandle = t.exitToList.OrderedInsert(t, t.exitOrderCond)
		} else {
			t.linkHandle = t.exitToList.PushTail(t)
		}
		t.blockedAt = time.Now()
		s.sink.ObserveBlock()
	}
}

// drainEntryStaging processes the entry-staging list (§4.5 PendSV step
// 3): each task's entry callback runs, then it's re-inserted into ready.
func (s *Scheduler) drainEntryStaging() {
	for {
		t, ok := s.entryStaging.PopHead()
		if !ok {
			break
		}
		if t.entryCB != nil {
			t.entryCB(t)
			t.entryCB = nil
		}
		t.linkHandle = s.insertReady(t)
		if !t.blockedAt.IsZero() {
			s.sink.ObserveUnblock(time.Since(t.blockedAt))
			t.blockedAt = time.Time{}
		}
	}
}

// pendsv is the full context switch: staging drain, then dispatch. Only
// ever call this from the currently running task's own goroutine.
func (s *Scheduler) pendsv() {
	s.drainExitStaging()
	s.drainEntryStaging()
	s.dispatch()
}

// dispatch selects the next task and hands it the run token, parking the
// caller if it lost the token. Must be called by s.current's own
// goroutine (or, at boot, by whichever goroutine is establishing the
// very first current task).
func (s *Scheduler) dispatch() {
	var next *Task
	if h := s.ready.Head(); h != list.Nil {
		next = *s.ready.Value(h)
	}
	switched := next != s.current
	s.sink.ObserveContextSwitch(switched)
	if !switched {
		return
	}
	prev := s.current
	s.current = next
	next.ctx.Wake()
	if prev != nil {
		prev.ctx.Park()
	}
}

// RequestReschedule runs the full PendSV-equivalent pass. Exposed for
// primitive packages whose privileged routines need a reschedule without
// going through the blocking protocol (e.g. thread_resume on a task that
// outranks the caller).
func (s *Scheduler) RequestReschedule() { s.pendsv() }

// wrappedTick is registered as the tick.Source's report handler: it
// drains staging under the port lock but does not dispatch, deferring
// the token handoff to the running task's next pendsv call (see package
// doc comment).
func (s *Scheduler) wrappedTick(elapsed time.Duration) {
	s.port.Lock()
	defer s.port.Unlock()
	s.sink.ObserveTick()
	s.wheel.TimeoutHandler(elapsed)
	s.drainExitStaging()
	s.drainEntryStaging()
}

func (s *Scheduler) idleLoop(any) {
	for {
		s.Call("sched.yield", nil)
		time.Sleep(100 * time.Microsecond)
	}
}

// registerYield whitelists "sched.yield" once per Scheduler in New via
// RegisterPrivileged; kept as a method so it can close over s.
func (s *Scheduler) registerYield() {
	s.RegisterPrivileged("sched.yield", func(any) any {
		s.Yield()
		return nil
	})
}

// Yield moves the current task to the back of its priority band and
// reschedules (thread_yield's scheduler-side half). Assumes the port
// lock is already held.
func (s *Scheduler) Yield() {
	t := s.current
	if t == nil {
		return
	}
	s.ready.Delete(t.linkHandle)
	t.linkHandle = list.Nil
	t.entryCB = nil
	t.linkHandle = s.entryStaging.PushTail(t)
	s.pendsv()
}

func (s *Scheduler) wakeKernelThread() {
	select {
	case s.kernelWake <- struct{}{}:
	default:
	}
}

// EnqueueDeferred schedules fn to run on the kernel thread, outside the
// port's critical section — the realization of "drains a deferred-
// callback ring... outside of the timeout wheel's own critical section"
// (SUPPLEMENTED FEATURES). Software timer user callbacks and pub/sub
// subscriber callbacks go through here rather than running directly
// inside the wheel's pend-drain.
func (s *Scheduler) EnqueueDeferred(fn func()) {
	s.deferredMu.Lock()
	s.deferred = append(s.deferred, fn)
	s.deferredMu.Unlock()
	s.wakeKernelThread()
}

func (s *Scheduler) popDeferred() (func(), bool) {
	s.deferredMu.Lock()
	defer s.deferredMu.Unlock()
	if len(s.deferred) == 0 {
		return nil, false
	}
	fn := s.deferred[0]
	s.deferred = s.deferred[1:]
	return fn, true
}

// kernelThreadLoop drains deferred callbacks as they're enqueued. It is a
// plain goroutine, not a scheduled Task: its entire purpose is running
// callbacks outside the lock the ready-list dispatch would otherwise
// hold, so folding it into the token-passing model would defeat the
// point of it existing (see SUPPLEMENTED FEATURES).
func (s *Scheduler) kernelThreadLoop() {
	for range s.kernelWake {
		for {
			fn, ok := s.popDeferred()
			if !ok {
				break
			}
			fn()
		}
	}
}
