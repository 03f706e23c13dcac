package sched

import "time"

// MetricsSink is the narrow set of observations the scheduler reports.
// It is declared locally, matching the method set of the root package's
// *Metrics-backed Observer exactly, so any Observer value satisfies it
// structurally without internal/sched importing the root artos package
// (which will eventually import internal/sched via Kernel — importing it
// back here would cycle).
type MetricsSink interface {
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

// noopSink discards every observation; used when a Scheduler is
// constructed without an explicit sink.
type noopSink struct{}

func (noopSink) ObserveContextSwitch(bool)    {}
func (noopSink) ObserveBlock()                {}
func (noopSink) ObserveUnblock(time.Duration) {}
func (noopSink) ObserveTimerFire()            {}
func (noopSink) ObserveTaskCreated()          {}
func (noopSink) ObserveTaskDeleted()          {}
func (noopSink) ObserveSaturation()           {}
func (noopSink) ObserveTick()                 {}
func (noopSink) ObserveTimeoutWake()          {}
