package artos

import (
	"sync/atomic"
	"time"
)

// WaitLatencyBuckets defines the blocked-time histogram buckets in
// nanoseconds. Buckets cover from 1us to 10s with logarithmic spacing,
// matching the span a thread_sleep/sem_take/mutex_lock caller can
// reasonably wait.
var WaitLatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numWaitBuckets = 8

// Metrics tracks scheduler and primitive statistics for one kernel
// instance. All fields are safe for concurrent use from any task
// goroutine or the tick ISR.
type Metrics struct {
	// Scheduling
	ContextSwitches atomic.Uint64 // Total PendSV-equivalent dispatches that changed pTask
	PendSVRuns      atomic.Uint64 // Total PendSV-equivalent invocations (including no-op ones)
	TasksCreated    atomic.Uint64
	TasksDeleted    atomic.Uint64

	// Timeout wheel
	TimerFires    atomic.Uint64 // Software timer callbacks dispatched
	TimeoutWakes  atomic.Uint64 // Tasks woken by PC_OS_WAIT_TIMEOUT
	TicksObserved atomic.Uint64

	// Blocking primitives
	BlockCount    atomic.Uint64 // Times any primitive exit-staged a task
	UnblockCount  atomic.Uint64 // Times any primitive entry-triggered a task
	SaturationErr atomic.Uint64 // sem_give beyond limit, pool exhaustion, etc.

	// Wait-time histogram (time spent blocked, any primitive)
	TotalWaitNs  atomic.Uint64
	WaitSamples  atomic.Uint64
	WaitBuckets  [numWaitBuckets]atomic.Uint64
	MaxWaitNs    atomic.Uint64

	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64
}

// NewMetrics creates a metrics instance stamped with the current time.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordContextSwitch records one PendSV-equivalent pass; switched is true
// only when pTask actually changed.
func (m *Metrics) RecordContextSwitch(switched bool) {
	m.PendSVRuns.Add(1)
	if switched {
		m.ContextSwitches.Add(1)
	}
}

// RecordTaskCreated/RecordTaskDeleted track thread lifecycle.
func (m *Metrics) RecordTaskCreated() { m.TasksCreated.Add(1) }
func (m *Metrics) RecordTaskDeleted() { m.TasksDeleted.Add(1) }

// RecordTick records one tick.Source Isr report reaching the wheel.
func (m *Metrics) RecordTick() { m.TicksObserved.Add(1) }

// RecordTimerFire records one software timer callback dispatch.
func (m *Metrics) RecordTimerFire() { m.TimerFires.Add(1) }

// RecordTimeoutWake records a task woken with PC_OS_WAIT_TIMEOUT.
func (m *Metrics) RecordTimeoutWake() { m.TimeoutWakes.Add(1) }

// RecordBlock records a task being exit-staged onto a wait list.
func (m *Metrics) RecordBlock() { m.BlockCount.Add(1) }

// RecordSaturation records a non-blocking failure such as sem_give past
// its limit or a full memory pool rejecting a zero-timeout take.
func (m *Metrics) RecordSaturation() { m.SaturationErr.Add(1) }

// RecordUnblock records a task being entry-triggered off a wait list and
// the duration it spent blocked.
func (m *Metrics) RecordUnblock(waited time.Duration) {
	m.UnblockCount.Add(1)
	ns := uint64(waited.Nanoseconds())
	m.TotalWaitNs.Add(ns)
	m.WaitSamples.Add(1)
	for {
		cur := m.MaxWaitNs.Load()
		if ns <= cur || m.MaxWaitNs.CompareAndSwap(cur, ns) {
			break
		}
	}
	for i, bucket := range WaitLatencyBuckets {
		if ns <= bucket {
			m.WaitBuckets[i].Add(1)
		}
	}
}

// Stop marks the kernel as stopped for uptime accounting.
func (m *Metrics) Stop() { m.StopTime.Store(time.Now().UnixNano()) }

// MetricsSnapshot is a point-in-time copy of Metrics, safe to retain.
type MetricsSnapshot struct {
	ContextSwitches uint64
	PendSVRuns      uint64
	TasksCreated    uint64
	TasksDeleted    uint64
	TasksLive       uint64

	TimerFires    uint64
	TimeoutWakes  uint64
	TicksObserved uint64

	BlockCount    uint64
	UnblockCount  uint64
	SaturationErr uint64

	AvgWaitNs uint64
	MaxWaitNs uint64
	UptimeNs  uint64

	WaitHistogram [numWaitBuckets]uint64
}

// Snapshot returns a consistent-enough point-in-time read of every
// counter, deriving averages (wait time, uptime) from the raw counters
// rather than tracking them incrementally.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ContextSwitches: m.ContextSwitches.Load(),
		PendSVRuns:      m.PendSVRuns.Load(),
		TasksCreated:    m.TasksCreated.Load(),
		TasksDeleted:    m.TasksDeleted.Load(),
		TimerFires:      m.TimerFires.Load(),
		TimeoutWakes:    m.TimeoutWakes.Load(),
		TicksObserved:   m.TicksObserved.Load(),
		BlockCount:      m.BlockCount.Load(),
		UnblockCount:    m.UnblockCount.Load(),
		SaturationErr:   m.SaturationErr.Load(),
		MaxWaitNs:       m.MaxWaitNs.Load(),
	}
	if snap.TasksCreated >= snap.TasksDeleted {
		snap.TasksLive = snap.TasksCreated - snap.TasksDeleted
	}

	totalWaitNs := m.TotalWaitNs.Load()
	samples := m.WaitSamples.Load()
	if samples > 0 {
		snap.AvgWaitNs = totalWaitNs / samples
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	for i := 0; i < numWaitBuckets; i++ {
		snap.WaitHistogram[i] = m.WaitBuckets[i].Load()
	}
	return snap
}

// Reset zeroes every counter; useful for test isolation.
func (m *Metrics) Reset() {
	m.ContextSwitches.Store(0)
	m.PendSVRuns.Store(0)
	m.TasksCreated.Store(0)
	m.TasksDeleted.Store(0)
	m.TimerFires.Store(0)
	m.TimeoutWakes.Store(0)
	m.TicksObserved.Store(0)
	m.BlockCount.Store(0)
	m.UnblockCount.Store(0)
	m.SaturationErr.Store(0)
	m.TotalWaitNs.Store(0)
	m.WaitSamples.Store(0)
	m.MaxWaitNs.Store(0)
	for i := 0; i < numWaitBuckets; i++ {
		m.WaitBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection: a Kernel's scheduler
// notifies it of context switches, blocks, unblocks, task creation and
// deletion, ticks and timeout wakes, and the Observer decides what to do
// with each (record it, discard it, forward it). No kernel component
// calls ObserveTimerFire or ObserveSaturation, so TimerFires and
// SaturationErr only move when a caller records them directly.
type Observer interface {
	ObserveContextSwitch(switched bool)
	ObserveBlock()
	ObserveUnblock(waited time.Duration)
	ObserveTimerFire()
	ObserveTaskCreated()
	ObserveTaskDeleted()
	ObserveSaturation()
	ObserveTick()
	ObserveTimeoutWake()
}

// NoOpObserver discards everything.
type NoOpObserver struct{}

func (NoOpObserver) ObserveContextSwitch(bool)    {}
func (NoOpObserver) ObserveBlock()                {}
func (NoOpObserver) ObserveUnblock(time.Duration) {}
func (NoOpObserver) ObserveTimerFire()            {}
func (NoOpObserver) ObserveTaskCreated()          {}
func (NoOpObserver) ObserveTaskDeleted()          {}
func (NoOpObserver) ObserveSaturation()           {}
func (NoOpObserver) ObserveTick()         {}
func (NoOpObserver) ObserveTimeoutWake()  {}

// MetricsObserver implements Observer by writing into a *Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver wraps m as an Observer.
func NewMetricsObserver(m *Metrics) *MetricsObserver { return &MetricsObserver{metrics: m} }

func (o *MetricsObserver) ObserveContextSwitch(switched bool) { o.metrics.RecordContextSwitch(switched) }
func (o *MetricsObserver) ObserveBlock()                      { o.metrics.RecordBlock() }
func (o *MetricsObserver) ObserveUnblock(waited time.Duration) { o.metrics.RecordUnblock(waited) }
func (o *MetricsObserver) ObserveTimerFire()                   { o.metrics.RecordTimerFire() }
func (o *MetricsObserver) ObserveTaskCreated()                 { o.metrics.RecordTaskCreated() }
func (o *MetricsObserver) ObserveTaskDeleted()                 { o.metrics.RecordTaskDeleted() }
func (o *MetricsObserver) ObserveSaturation()                  { o.metrics.RecordSaturation() }
func (o *MetricsObserver) ObserveTick()                        { o.metrics.RecordTick() }
func (o *MetricsObserver) ObserveTimeoutWake()                 { o.metrics.RecordTimeoutWake() }

var (
	_ Observer = (*MetricsObserver)(nil)
	_ Observer = (*NoOpObserver)(nil)
)
