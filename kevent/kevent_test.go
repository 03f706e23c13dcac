package kevent

import (
	"testing"
	"time"

	"github.com/goartos/kernel/internal/port/softport"
	"github.com/goartos/kernel/internal/sched"
	"github.com/goartos/kernel/internal/tick/softtick"
	"github.com/goartos/kernel/thread"
	"github.com/stretchr/testify/require"
)

func newTestSystem(t *testing.T) (*sched.Scheduler, *thread.Manager, *Manager, *softtick.Manual) {
	t.Helper()
	p := softport.New()
	src := softtick.NewManual()
	s := sched.New(p, src, nil)
	src.Enable()
	return s, thread.New(s, nil, nil), New(s, nil), src
}

func TestWaitDeliversImmediatelyOnAnyBitChange(t *testing.T) {
	_, _, m, _ := newTestSystem(t)
	h := m.Init(0xFFFF, 0, 0, 0, "flags")

	var out Result // zero baseline
	require.NoError(t, h.Set(0x01, 0, 0))

	require.NoError(t, h.Wait(&out, 0x01, 0))
	require.Equal(t, uint32(0x01), out.Trigger)
	require.Equal(t, uint32(0x01), out.Value)
}

func TestWaitFailsWhenNothingMatchesAndTimeoutIsZero(t *testing.T) {
	_, _, m, _ := newTestSystem(t)
	h := m.Init(0xFFFF, 0, 0, 0, "flags")

	var out Result
	require.Error(t, h.Wait(&out, 0x01, 0))
}

func TestEdgeTriggerOnlyFiresOnRise(t *testing.T) {
	_, _, m, _ := newTestSystem(t)
	// bit 0 is edge-triggered (modeMask), rising (dirMask).
	h := m.Init(0, 0x01, 0x01, 0, "edge")

	var out Result
	require.NoError(t, h.Set(0x01, 0, 0)) // rising edge on bit 0
	require.NoError(t, h.Wait(&out, 0x01, 0))
	require.Equal(t, uint32(0x01), out.Trigger)

	// bit 0 is already set; setting it again is not a change, no trigger.
	require.NoError(t, h.Set(0x01, 0, 0))
	require.Error(t, h.Wait(&out, 0x01, 0))
}

func TestLevelTriggerFiresWhileHigh(t *testing.T) {
	_, _, m, _ := newTestSystem(t)
	// bit 0 is level-triggered (modeMask clear), high (dirMask set).
	h := m.Init(0, 0, 0x01, 0, "level")

	var out Result
	require.NoError(t, h.Set(0x01, 0, 0))
	require.NoError(t, h.Wait(&out, 0x01, 0))
	require.Equal(t, uint32(0x01), out.Trigger)
}

func TestWaitBlocksThenWakesOnMatchingSet(t *testing.T) {
	_, tm, m, _ := newTestSystem(t)
	h := m.Init(0xFFFF, 0, 0, 0, "flags")

	result := make(chan error, 1)
	var out Result
	_, err := tm.Init("waiter", 5, func(any) {
		result <- h.Wait(&out, 0x02, forever)
	}, nil, 512)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.waiters.Len() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, h.Set(0x02, 0, 0))
	select {
	case err := <-result:
		require.NoError(t, err)
		require.Equal(t, uint32(0x02), out.Trigger)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke on matching set")
	}
}

func TestSetWakesHighestPriorityWaiterFirst(t *testing.T) {
	_, tm, m, _ := newTestSystem(t)
	h := m.Init(0xFFFF, 0, 0, 0, "flags")

	order := make(chan string, 2)
	var lowOut, highOut Result
	_, err := tm.Init("low", 10, func(any) {
		require.NoError(t, h.Wait(&lowOut, 0x01, forever))
		order <- "low"
	}, nil, 512)
	require.NoError(t, err)
	_, err = tm.Init("high", 1, func(any) {
		require.NoError(t, h.Wait(&highOut, 0x01, forever))
		order <- "high"
	}, nil, 512)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.waiters.Len() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, h.Set(0x01, 0, 0))
	select {
	case first := <-order:
		require.Equal(t, "high", first)
	case <-time.After(time.Second):
		t.Fatal("no waiter woke after set")
	}
}

func TestUnclaimedBitsLatchForLaterWaiter(t *testing.T) {
	_, _, m, _ := newTestSystem(t)
	h := m.Init(0xFFFF, 0, 0, 0, "flags")

	require.NoError(t, h.Set(0x04, 0, 0)) // no waiter listening; latches

	var out Result
	require.NoError(t, h.Wait(&out, 0x04, 0))
	require.Equal(t, uint32(0x04), out.Trigger)
}

func TestWaitTimesOut(t *testing.T) {
	_, tm, m, src := newTestSystem(t)
	h := m.Init(0xFFFF, 0, 0, 0, "flags")

	result := make(chan error, 1)
	var out Result
	_, err := tm.Init("waiter", 5, func(any) {
		result <- h.Wait(&out, 0x01, 10*time.Millisecond)
	}, nil, 512)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.waiters.Len() == 1 }, time.Second, time.Millisecond)

	src.Advance(10 * time.Millisecond)
	select {
	case err := <-result:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked wait never timed out")
	}
}

func TestDeleteWakesWaitersWithNoData(t *testing.T) {
	_, tm, m, _ := newTestSystem(t)
	h := m.Init(0xFFFF, 0, 0, 0, "flags")

	result := make(chan error, 1)
	var out Result
	_, err := tm.Init("waiter", 5, func(any) {
		result <- h.Wait(&out, 0x01, forever)
	}, nil, 512)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.waiters.Len() == 1 }, time.Second, time.Millisecond)

	h.Delete()
	select {
	case err := <-result:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("deleted event never woke its waiter")
	}
}

const forever = time.Duration(-1)
