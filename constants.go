package artos

import "time"

// Priority is the kernel's signed 16-bit scheduling priority; smaller
// values run first (§3 Task, §6 "Priority encoding").
type Priority int16

// Priority ranges (§6). Application priorities occupy
// [PriorityApplicationHighest, PriorityApplicationLowest]; cooperation
// priorities are negative and sit above (numerically less than) every
// preemptive application priority; the kernel thread and idle thread
// occupy the extreme ends of the whole range.
const (
	PriorityKernelThread       Priority = -32768 // reserved highest: drains deferred callbacks
	PriorityCooperationBase    Priority = -16384 // OS_PRIORITY_COOPERATION_SET(0)
	PriorityApplicationHighest Priority = 0
	PriorityApplicationLowest  Priority = 8191
	PriorityIdleThread         Priority = 32767 // reserved lowest: never blocks
)

// PriorityCooperationSet maps a cooperation index c (0 = highest
// cooperative priority) to its negative priority value: c=0 is
// PriorityCooperationBase and each larger c is one step lower, the same
// ordering as OS_PRIORITY_COOPERATION_SET(c) := -(COOPERATION_NUM - c).
func PriorityCooperationSet(c int) Priority {
	return PriorityCooperationBase + Priority(c)
}

// TimeForever means "block indefinitely" / "disable the timer" (OS_TIME_FOREVER).
const TimeForever time.Duration = -1

// Stack size bounds for thread.Init (§4.7).
const (
	StackSizeMinimum = 256
	StackSizeMaximum = 64 << 10
)

// Default static-pool capacities for dynamically-slotted primitive
// contexts (§3 "Ownership": statically declared or dynamically slotted
// from a fixed-capacity runtime pool per primitive type).
const (
	DefaultTaskPoolCapacity      = 64
	DefaultSemaphorePoolCapacity = 32
	DefaultMutexPoolCapacity     = 32
	DefaultEventPoolCapacity     = 32
	DefaultQueuePoolCapacity     = 16
	DefaultPoolPoolCapacity      = 16
	DefaultTimerPoolCapacity     = 32
	DefaultPublisherPoolCapacity = 16

	// MemoryPoolMaxElements is the hard limit imposed by the 32-bit free
	// bitmap (§3 Memory pool, §8 boundary behaviors).
	MemoryPoolMaxElements = 32
)

// Default tick/scheduling tuning.
const (
	DefaultTickQuantum = 1 * time.Millisecond
)

// Static-init phase levels (§6 "Static-init phases"): five numbered
// levels, 0..4, run in order before the scheduler starts.
const (
	InitLevel0 = iota
	InitLevel1
	InitLevel2
	InitLevel3
	InitLevel4

	numInitLevels
)
