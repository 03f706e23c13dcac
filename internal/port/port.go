// Package port defines the kernel's CPU/runtime abstraction (C6):
// exception vectors, critical sections, and the SVC gateway. These are
// inherently target-specific, so this package defines only the
// interface, plus the shared TaskContext goroutine-baton type every
// implementation builds on.
package port

// EntryFunc is a task's top-level function, invoked with arg once its
// backing goroutine first receives the run token.
type EntryFunc func(arg any)

// PrivilegedFunc is a kernel operation reachable through the SVC gateway
// (kernel_svc_call). It receives the single argument value packed by the
// caller and returns the operation's result.
type PrivilegedFunc func(arg any) any

// TaskContext is a task's backing execution context: one goroutine
// parked on a one-slot resume channel. Parking on, and later receiving
// from, that channel is the literal realization of PendSV's "save/restore
// the stack pointer" — the Go runtime parks and resumes the actual
// goroutine stack, which is the same thing PendSV does in hardware.
type TaskContext struct {
	resumeCh chan struct{}
	exited   chan struct{}
}

// NewTaskContext allocates a parked, not-yet-started TaskContext.
func NewTaskContext() *TaskContext {
	return &TaskContext{resumeCh: make(chan struct{}, 1), exited: make(chan struct{})}
}

// Park blocks the calling goroutine until Wake is called. Only the
// context's own backing goroutine may call this — it is pendsv's "save
// context and stop running" half, executed by the task giving up the run
// token.
func (c *TaskContext) Park() { <-c.resumeCh }

// Wake hands the run token to c without blocking the caller. The
// channel's one-slot buffer coalesces a Wake that arrives before c has
// Parked, matching a pending-interrupt latch.
func (c *TaskContext) Wake() {
	select {
	case c.resumeCh <- struct{}{}:
	default:
	}
}

// Exited reports whether the task's entry function has returned.
func (c *TaskContext) Exited() bool {
	select {
	case <-c.exited:
		return true
	default:
		return false
	}
}

// MarkExited records that the entry function returned. Called once by
// the goroutine Spawn started, immediately after EntryFunc returns.
func (c *TaskContext) MarkExited() { close(c.exited) }

// Spawn starts ctx's backing goroutine: it parks immediately, then runs
// entry(arg) the first time it is woken, then marks itself exited. This
// is pure goroutine plumbing with nothing CPU-specific in it, so every
// Port implementation shares it instead of reimplementing the same
// parking dance.
func Spawn(entry EntryFunc, arg any) *TaskContext {
	ctx := NewTaskContext()
	go func() {
		ctx.Park()
		entry(arg)
		ctx.MarkExited()
	}()
	return ctx
}

// Port is the CPU/runtime abstraction C6 specifies, realized without raw
// stack frames: Go exposes no SP/LR/exception-return mechanism to user
// code, so "saving a stack frame" becomes parking a goroutine, and
// "triggering PendSV" becomes a direct, synchronous dispatcher call (see
// internal/sched).
type Port interface {
	// Spawn creates a task's backing goroutine (port_stack_frame_init +
	// eventual port_run_theFirstThread collapsed into one step, since Go
	// has no separate "build an initial frame" phase).
	Spawn(entry EntryFunc, arg any) *TaskContext

	// Lock/Unlock bracket a privileged kernel operation the way
	// port_irq_disable/port_irq_enable bracket a critical section on real
	// hardware: the mutual exclusion the scheduler and tick source share.
	Lock()
	Unlock()

	// RegisterPrivileged whitelists fn under name for Call, built once at
	// boot — the realization of "preserve this trust boundary" from the
	// SVC gateway design note: Call can never reach an unregistered
	// routine.
	RegisterPrivileged(name string, fn PrivilegedFunc)

	// Call invokes the named privileged routine under Lock: the
	// realization of kernel_svc_call(a0..a3) / `svc #2`. Panics if name
	// was never registered — a programming error, not a runtime one.
	Call(name string, arg any) any

	// StackFreeSizeProbe scans stack for its high-water mark the way
	// port_stack_free_size_get scans fill bytes from the base upward.
	// stack may be nil (goroutine-backed dynamic threads have no backing
	// array to scan), in which case it reports -1.
	StackFreeSizeProbe(stack []byte) int
}
