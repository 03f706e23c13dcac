package sched

import (
	"time"

	"github.com/goartos/kernel/internal/list"
	"github.com/goartos/kernel/internal/port"
	"github.com/goartos/kernel/internal/timeout"
)

// Priority is the scheduler's signed 16-bit priority; smaller values run
// first. Mirrors the root package's Priority one-for-one — kept as its
// own type here so internal/sched never imports the root artos package
// (which will eventually import internal/sched, via Kernel).
type Priority int16

// EntryCallback runs under the scheduler's critical section when a task
// is drained from entry-staging back into the ready list: it copies a primitive's
// return value and clears whatever waiter state the primitive attached,
// per §4.5's PendSV step 3.
type EntryCallback func(t *Task)

// Task is one schedulable unit (§3 Task, §4.5, §4.7). Its state is
// encoded entirely by which list currently links it — ready, entry
// staging, exit staging, or a primitive's wait list — never by a
// separate state field, mirroring the source's list-membership model.
type Task struct {
	ID       int32
	Name     string
	Priority Priority

	ctx *port.TaskContext

	// linkHandle is this task's handle in whichever list currently
	// holds it (ready list, staging list, or a primitive wait list).
	// Exactly one is ever valid, since a task is linked in exactly one
	// list at a time.
	linkHandle list.Handle

	// Exit-staging: set by ScheduleExitTrigger, consumed by pendsv.
	exitPending bool
	exitToList  *list.List[*Task]
	timeoutUs   int64 // -1 (TimeForever) means never time out
	immediate   bool
	blockedAt   time.Time // stamped when exit-staging drains, for wait-time metrics

	// exitOrderCond, when non-nil, is used in place of a plain tail push
	// when exitToList drains (§4.9 "Wait list ordering: priority"). nil
	// for the thread primitive's generic suspend/sleep lists, which are
	// FIFO; ksync's semaphore and mutex wait lists set it to keep waiters
	// ordered by priority with FIFO among equal priorities.
	exitOrderCond func(cur list.Handle, candidate **Task) bool

	// Blocking protocol hand-off state (§4.5 "Blocking protocol").
	holdCtx  any
	holdData any

	// Entry-staging: set by ScheduleEntryTrigger, consumed by pendsv.
	entryPending bool
	entryCB      EntryCallback
	result       any
	resultReady  bool

	// timeoutWake records whether the most recent unblock was due to the
	// wheel firing rather than an explicit entry trigger, so the caller
	// of ScheduleResultTake can tell the two apart if it cares.
	timeoutWake bool

	// expiration is this task's single timeout-wheel record, used by
	// thread_sleep and by every blocking primitive's timeout_ms
	// argument. One Expiration per task is sufficient because a task can
	// only ever be waiting on one thing at a time.
	expiration timeout.Expiration

	// Deferred is not set or read anywhere in this package: the kernel
	// thread that drains deferred callbacks (software timer callbacks,
	// pub/sub subscriber callbacks) is a plain goroutine, not a Task (see
	// Scheduler.kernelThreadLoop).
	Deferred bool

	// UserData is an opaque slot the application may use
	// (thread_user_data_set/get).
	UserData any

	// stack is the caller-supplied backing array for stack-free-size
	// probing (thread.WithStaticStack); nil for goroutine-only tasks.
	stack []byte

	deleted bool
}

// Context returns the task's backing port.TaskContext.
func (t *Task) Context() *port.TaskContext { return t.ctx }

// Stack returns the task's stack backing array, or nil if it has none
// (thread_stack_free_size_probe then reports -1 instead of scanning).
func (t *Task) Stack() []byte { return t.stack }
