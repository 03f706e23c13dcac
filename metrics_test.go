package artos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordContextSwitch(t *testing.T) {
	m := NewMetrics()
	m.RecordContextSwitch(false)
	m.RecordContextSwitch(true)
	snap := m.Snapshot()
	require.Equal(t, uint64(2), snap.PendSVRuns)
	require.Equal(t, uint64(1), snap.ContextSwitches)
}

func TestRecordUnblockHistogramAndAverage(t *testing.T) {
	m := NewMetrics()
	m.RecordUnblock(5 * time.Microsecond)
	m.RecordUnblock(15 * time.Millisecond)
	snap := m.Snapshot()
	require.Equal(t, uint64(2), snap.UnblockCount)
	require.Greater(t, snap.AvgWaitNs, uint64(0))
	require.Equal(t, uint64(15*time.Millisecond), snap.MaxWaitNs)
}

func TestTasksLiveDerivedCorrectly(t *testing.T) {
	m := NewMetrics()
	m.RecordTaskCreated()
	m.RecordTaskCreated()
	m.RecordTaskDeleted()
	snap := m.Snapshot()
	require.Equal(t, uint64(1), snap.TasksLive)
}

func TestResetZeroesCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordBlock()
	m.RecordSaturation()
	m.Reset()
	snap := m.Snapshot()
	require.Equal(t, uint64(0), snap.BlockCount)
	require.Equal(t, uint64(0), snap.SaturationErr)
}

func TestMetricsObserver(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)
	obs.ObserveBlock()
	obs.ObserveUnblock(time.Millisecond)
	obs.ObserveContextSwitch(true)
	obs.ObserveTimerFire()
	obs.ObserveTaskCreated()
	obs.ObserveTaskDeleted()
	obs.ObserveSaturation()
	obs.ObserveTick()
	obs.ObserveTimeoutWake()

	snap := m.Snapshot()
	require.Equal(t, uint64(1), snap.BlockCount)
	require.Equal(t, uint64(1), snap.UnblockCount)
	require.Equal(t, uint64(1), snap.ContextSwitches)
	require.Equal(t, uint64(1), snap.TimerFires)
	require.Equal(t, uint64(1), snap.TasksCreated)
	require.Equal(t, uint64(1), snap.TasksDeleted)
	require.Equal(t, uint64(1), snap.SaturationErr)
	require.Equal(t, uint64(1), snap.TicksObserved)
	require.Equal(t, uint64(1), snap.TimeoutWakes)
}

func TestNoOpObserverDoesNotPanic(t *testing.T) {
	var obs NoOpObserver
	require.NotPanics(t, func() {
		obs.ObserveBlock()
		obs.ObserveUnblock(time.Second)
		obs.ObserveContextSwitch(false)
		obs.ObserveTimerFire()
		obs.ObserveTaskCreated()
		obs.ObserveTaskDeleted()
		obs.ObserveSaturation()
		obs.ObserveTick()
		obs.ObserveTimeoutWake()
	})
}
