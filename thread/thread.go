// Package thread implements the Thread primitive (C7): thread_init,
// thread_resume, thread_suspend, thread_yield, thread_sleep,
// thread_delete, and the user-data/stack-probe accessors (§4.7), built
// directly on internal/sched's ready list and blocking protocol.
package thread

import (
	"fmt"
	"time"

	"github.com/goartos/kernel/internal/heap"
	"github.com/goartos/kernel/internal/kcode"
	"github.com/goartos/kernel/internal/klog"
	"github.com/goartos/kernel/internal/list"
	"github.com/goartos/kernel/internal/port"
	"github.com/goartos/kernel/internal/port/softport"
	"github.com/goartos/kernel/internal/sched"
)

// Priority mirrors the scheduler's own type: thread depends on sched
// directly, so there is no cycle to avoid by duplicating it the way
// sched duplicates the root package's Priority.
type Priority = sched.Priority

// EntryFunc is a thread's top-level function. Aliased (not redefined)
// to internal/port.EntryFunc so a caller's entry needs no conversion
// when it reaches sched.NewTask.
type EntryFunc = port.EntryFunc

// Stack size bounds for Init (§4.7), duplicated from the root package's
// constants.go for the same reason sched duplicates Priority: importing
// artos here would cycle once it imports thread via Kernel.
const (
	StackSizeMinimum = 256
	StackSizeMaximum = 64 << 10
)

// componentThread is this package's postcode component id (§6), chosen
// to match its C7 module number in the module map.
const componentThread = 7

const (
	subcodeBadStackSize = iota + 1
	subcodeNoHeap
	subcodeHeapExhausted
	subcodeIdleProtected
	subcodeAlreadyDeleted
	subcodeZeroTimeout
)

// Handle is a stable reference to a created thread (§4.7 "returns a
// stable handle"). The zero Handle is not usable; obtain one from
// Manager.Init.
type Handle struct {
	mgr       *Manager
	task      *sched.Task
	stack     []byte
	ownsStack bool
}

// ID returns the thread's scheduler-assigned identity.
func (h *Handle) ID() int32 { return h.task.ID }

// Name returns the thread's name, as given to Init.
func (h *Handle) Name() string { return h.task.Name }

// Priority returns the thread's scheduling priority.
func (h *Handle) Priority() Priority { return h.task.Priority }

// Resume moves h out of whatever it is waiting on into READY; a no-op
// if h is already ready or current.
func (h *Handle) Resume() error { return h.mgr.Resume(h) }

// Suspend exit-stages h onto a generic wait list with no timeout; fails
// if h is the idle thread.
func (h *Handle) Suspend() error { return h.mgr.Suspend(h) }

// Delete permanently removes h from the scheduler, freeing its stack if
// Init allocated it dynamically.
func (h *Handle) Delete() error { return h.mgr.Delete(h) }

// UserDataSet stores an opaque value on h (thread_user_data_set).
func (h *Handle) UserDataSet(v any) { h.mgr.UserDataSet(h, v) }

// UserDataGet returns the value last stored by UserDataSet, or nil.
func (h *Handle) UserDataGet() any { return h.mgr.UserDataGet(h) }

// StackFreeSizeProbe reports how many bytes of h's stack backing array
// are still untouched fill bytes below its high-water mark, or -1 if h
// has no backing array at all.
func (h *Handle) StackFreeSizeProbe() int { return h.mgr.StackFreeSizeProbe(h) }

// Option configures a single Init call.
type Option func(*initConfig)

type initConfig struct {
	stack []byte
}

// WithStaticStack supplies a caller-owned backing array instead of
// allocating one from the configured heap. Init prefills it with the
// port's stack-probe fill byte before first use.
func WithStaticStack(stack []byte) Option {
	return func(c *initConfig) { c.stack = stack }
}

// Manager owns the Thread primitive's state: the two generic wait lists
// suspend and sleep exit-stage onto, and the heap backing dynamically
// sized stacks. Construct with New, once per Scheduler.
type Manager struct {
	sched *sched.Scheduler
	heap  *heap.Heap
	log   *klog.Logger

	suspended list.List[*sched.Task]
	sleeping  list.List[*sched.Task]
}

// New wires the Thread primitive's privileged routines into s and
// returns the Manager applications create threads through. heap may be
// nil, which disables dynamic stack allocation (Init then requires
// WithStaticStack). log may be nil, which discards thread log lines.
func New(s *sched.Scheduler, h *heap.Heap, log *klog.Logger) *Manager {
	if log == nil {
		log = klog.Discard()
	}
	m := &Manager{sched: s, heap: h, log: log.With("thread")}

	s.RegisterPrivileged("thread.init", func(arg any) any {
		a := arg.(initArgs)
		a.out.task = s.NewTask(a.name, a.priority, a.entry, a.arg, a.stack)
		return nil
	})

	s.RegisterPrivileged("thread.resume", func(arg any) any {
		t := arg.(*sched.Task)
		if s.IsReady(t) {
			return nil
		}
		s.ScheduleEntryTrigger(t, nil, kcode.PostcodeOK)
		s.RequestReschedule()
		return nil
	})

	s.RegisterPrivileged("thread.suspend", func(arg any) any {
		t := arg.(*sched.Task)
		if err := m.guardLastReady("thread_suspend", t); err != nil {
			return err
		}
		s.ScheduleExitTrigger(t, nil, nil, &m.suspended, -1, false)
		s.RequestReschedule()
		return nil
	})

	s.RegisterPrivileged("thread.sleep", func(arg any) any {
		t := s.Current()
		s.ScheduleExitTrigger(t, nil, nil, &m.sleeping, arg.(int64), false)
		s.RequestReschedule()
		return nil
	})

	s.RegisterPrivileged("thread.delete", func(arg any) any {
		h := arg.(*Handle)
		t := h.task
		if err := m.guardLastReady("thread_delete", t); err != nil {
			return err
		}
		if !s.DeleteTask(t) {
			return kcode.NewTaskError("thread_delete", t.ID, kcode.PackFailure(componentThread, 0, subcodeAlreadyDeleted), "thread already deleted")
		}
		if h.ownsStack {
			m.heap.Free(h.stack)
		}
		s.RequestReschedule()
		return nil
	})

	s.RegisterPrivileged("thread.userdata.set", func(arg any) any {
		a := arg.(userDataArgs)
		a.h.task.UserData = a.value
		return nil
	})
	s.RegisterPrivileged("thread.userdata.get", func(arg any) any {
		return arg.(*Handle).task.UserData
	})

	return m
}

// guardLastReady implements thread_suspend/thread_delete's "never
// strand the last runnable thread" rule (§4.7, §8). On the source
// hardware, with no idle thread of its own, that rule keeps the ready
// list from ever reaching zero. Here the idle task is permanent and
// ineligible to be suspended or deleted, so ReadyCount() can never
// reach zero regardless of what happens to application threads — the
// rule's entire remaining content is "don't touch idle". A system whose
// one and only application thread suspends, sleeps, or exits and
// auto-deletes is not stranded: idle keeps it running, which is exactly
// idle's job.
func (m *Manager) guardLastReady(op string, t *sched.Task) *kcode.Error {
	if t == m.sched.Idle() {
		return kcode.NewTaskError(op, t.ID, kcode.PackFailure(componentThread, 0, subcodeIdleProtected), "the idle thread cannot be suspended or deleted")
	}
	return nil
}

type initArgs struct {
	name     string
	priority Priority
	entry    EntryFunc
	arg      any
	stack    []byte
	out      *Handle
}

type userDataArgs struct {
	h     *Handle
	value any
}

// Init creates a thread (§4.7 thread_init): entry runs on its own
// goroutine once scheduled, with arg as its argument. stackSize must be
// within [StackSizeMinimum, StackSizeMaximum]; WithStaticStack supplies
// a caller-owned backing array, otherwise one is allocated from the
// Manager's heap (an error if none was configured).
//
// The new thread is linked into the ready list but Init does not force
// a reschedule — unlike most privileged thread operations, Init may
// legitimately be called from outside any task's own goroutine (e.g.
// kernel boot code before the scheduler's cooperative loop is running),
// where forcing dispatch would risk parking the wrong goroutine (see
// internal/sched's package doc comment). The new thread becomes current
// at the existing current task's next yield or blocking point, bounded
// by idle's background loop if nothing else is running. A task
// spawning a higher-priority sibling and wanting it to preempt
// immediately can follow Init with its own Yield call.
//
// When entry returns, the thread deletes itself automatically — there
// is no hardware-accurate "return from thread_delete(self)" to resume
// past.
func (m *Manager) Init(name string, priority Priority, entry EntryFunc, arg any, stackSize int, opts ...Option) (*Handle, error) {
	if stackSize < StackSizeMinimum || stackSize > StackSizeMaximum {
		return nil, kcode.NewError("thread_init", kcode.PackFailure(componentThread, 0, subcodeBadStackSize),
			fmt.Sprintf("stack size %d out of [%d, %d]", stackSize, StackSizeMinimum, StackSizeMaximum))
	}

	var cfg initConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	stack := cfg.stack
	owned := false
	if stack == nil {
		if m.heap == nil {
			return nil, kcode.NewError("thread_init", kcode.PackFailure(componentThread, 0, subcodeNoHeap), "no static stack given and no heap configured")
		}
		stack = m.heap.Alloc(stackSize)
		if stack == nil {
			return nil, kcode.NewError("thread_init", kcode.PackFailure(componentThread, 0, subcodeHeapExhausted), "heap exhausted")
		}
		owned = true
	}
	for i := range stack {
		stack[i] = softport.FillByte
	}

	h := &Handle{mgr: m, stack: stack, ownsStack: owned}
	trampoline := func(a any) {
		entry(a)
		m.sched.Call("thread.delete", h)
	}

	m.sched.Call("thread.init", initArgs{name: name, priority: priority, entry: trampoline, arg: arg, stack: stack, out: h})
	m.log.Debugf("thread %q created prio=%d stack=%dB owned=%v", name, priority, len(stack), owned)
	return h, nil
}

// Resume moves h out of whatever it is waiting on (suspended, asleep,
// or blocked on any other primitive) into READY, cancelling any pending
// timeout; a no-op if h is already ready or current (thread_resume,
// §4.7). Must be called from the currently running thread's own
// goroutine, like every thread operation other than Init.
func (m *Manager) Resume(h *Handle) error {
	return asError(m.sched.Call("thread.resume", h.task))
}

// Suspend exit-stages h onto a generic wait list with no timeout
// (thread_suspend, §4.7). Fails if h is the idle thread.
func (m *Manager) Suspend(h *Handle) error {
	return asError(m.sched.Call("thread.suspend", h.task))
}

// Yield moves the calling thread to the back of its priority band and
// reschedules (thread_yield, §4.7). Always safe to call: the caller
// itself stays ready, so there is always at least one ready thread
// after it runs, unlike Suspend.
func (m *Manager) Yield() {
	m.sched.Call("sched.yield", nil)
}

// Sleep exit-stages the calling thread onto a generic wait list with a
// finite timeout (thread_sleep, §4.7). A non-positive duration is
// rejected rather than silently treated as "return immediately" or
// "sleep forever".
func (m *Manager) Sleep(d time.Duration) error {
	if d <= 0 {
		return kcode.NewError("thread_sleep", kcode.PackFailure(componentThread, 0, subcodeZeroTimeout), "sleep duration must be positive")
	}
	m.sched.Call("thread.sleep", d.Microseconds())
	return nil
}

// Delete permanently removes h (thread_delete, §4.7): cancels its
// timeout, unlinks it from whatever list holds it, and frees its stack
// if Init allocated one dynamically. Fails if h is the idle thread or
// was already deleted.
func (m *Manager) Delete(h *Handle) error {
	return asError(m.sched.Call("thread.delete", h))
}

// UserDataSet stores an opaque value on h (thread_user_data_set, §4.7).
func (m *Manager) UserDataSet(h *Handle, v any) {
	m.sched.Call("thread.userdata.set", userDataArgs{h: h, value: v})
}

// UserDataGet returns the value last stored by UserDataSet, or nil
// (thread_user_data_get, §4.7).
func (m *Manager) UserDataGet(h *Handle) any {
	return m.sched.Call("thread.userdata.get", h)
}

// StackFreeSizeProbe reports the free bytes below h's stack high-water
// mark, or -1 if h has no backing array at all (thread_stack_free_size_probe,
// §4.7). Pure introspection over h's own bytes: unlike the other
// operations, it touches no shared scheduler state, so it does not go
// through the privileged-call gateway.
func (m *Manager) StackFreeSizeProbe(h *Handle) int {
	return m.sched.StackFreeSizeProbe(h.stack)
}

func asError(res any) error {
	if res == nil {
		return nil
	}
	return res.(error)
}
