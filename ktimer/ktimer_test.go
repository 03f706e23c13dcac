package ktimer

import (
	"testing"
	"time"

	"github.com/goartos/kernel/internal/port/softport"
	"github.com/goartos/kernel/internal/sched"
	"github.com/goartos/kernel/internal/tick/softtick"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *softtick.Manual) {
	t.Helper()
	p := softport.New()
	src := softtick.NewManual()
	s := sched.New(p, src, nil)
	m := New(s, nil)
	src.Enable()
	return m, src
}

func TestStartRejectsZeroTimeout(t *testing.T) {
	m, _ := newTestManager(t)
	tm := m.Init(func(*Timer) {}, nil, "zero")
	require.Error(t, tm.Start(ModeOnce, 0))
}

func TestStartRejectsTemporaryAsExplicitMode(t *testing.T) {
	m, _ := newTestManager(t)
	tm := m.Init(func(*Timer) {}, nil, "bad-mode")
	require.Error(t, tm.Start(ModeTemporary, 10))
}

func TestOnceFiresExactlyOnceAndGoesIdle(t *testing.T) {
	m, src := newTestManager(t)
	fires := make(chan struct{}, 4)
	tm := m.Init(func(*Timer) { fires <- struct{}{} }, nil, "once")

	require.NoError(t, tm.Start(ModeOnce, 10))
	require.True(t, tm.Busy())

	src.Advance(10 * time.Millisecond)
	select {
	case <-fires:
	case <-time.After(time.Second):
		t.Fatal("once timer never fired")
	}

	require.Eventually(t, func() bool { return !tm.Busy() }, time.Second, time.Millisecond)

	src.Advance(100 * time.Millisecond)
	select {
	case <-fires:
		t.Fatal("once timer fired a second time")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCycleRearmsAndFiresRepeatedly(t *testing.T) {
	m, src := newTestManager(t)
	fires := make(chan struct{}, 8)
	tm := m.Init(func(*Timer) { fires <- struct{}{} }, nil, "cycle")

	require.NoError(t, tm.Start(ModeCycle, 10))

	for i := 0; i < 3; i++ {
		src.Advance(10 * time.Millisecond)
		select {
		case <-fires:
		case <-time.After(time.Second):
			t.Fatalf("cycle timer never fired on iteration %d", i)
		}
	}
	require.True(t, tm.Busy())
}

func TestStopCancelsPendingFire(t *testing.T) {
	m, src := newTestManager(t)
	fires := make(chan struct{}, 1)
	tm := m.Init(func(*Timer) { fires <- struct{}{} }, nil, "stoppable")

	require.NoError(t, tm.Start(ModeOnce, 10))
	require.NoError(t, tm.Stop())
	require.False(t, tm.Busy())

	src.Advance(50 * time.Millisecond)
	select {
	case <-fires:
		t.Fatal("stopped timer fired anyway")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestAutomaticTimerSelfDestroysAfterFiring(t *testing.T) {
	m, src := newTestManager(t)
	fires := make(chan *Timer, 1)
	tm := m.Automatic(func(h *Timer) { fires <- h }, "payload", "temp")

	require.Equal(t, ModeTemporary, tm.Mode())
	require.NoError(t, tm.Start(ModeOnce, 10))

	src.Advance(10 * time.Millisecond)
	var fired *Timer
	select {
	case fired = <-fires:
	case <-time.After(time.Second):
		t.Fatal("automatic timer never fired")
	}
	require.Equal(t, "payload", fired.UserData())

	require.Eventually(t, func() bool { return tm.UserData() == nil }, time.Second, time.Millisecond,
		"timer storage was never cleared after firing")
	require.Error(t, tm.Start(ModeOnce, 10))
	require.Error(t, tm.Stop())
}

func TestSystemTotalMsTracksWheelClock(t *testing.T) {
	m, src := newTestManager(t)
	require.EqualValues(t, 0, m.SystemTotalMs())

	tm := m.Init(func(*Timer) {}, nil, "ticker")
	require.NoError(t, tm.Start(ModeOnce, 5))
	src.Advance(5 * time.Millisecond)

	require.Eventually(t, func() bool { return m.SystemTotalMs() >= 5 }, time.Second, time.Millisecond)
}

func TestBusyWaitBlocksUntilElapsed(t *testing.T) {
	m, src := newTestManager(t)
	done := make(chan struct{})

	go func() {
		m.BusyWait(10_000) // 10ms
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("BusyWait returned before any time elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	src.Advance(10 * time.Millisecond)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("BusyWait never returned after elapsing")
	}
}

func TestBusyWaitNonPositiveReturnsImmediately(t *testing.T) {
	m, _ := newTestManager(t)
	done := make(chan struct{})
	go func() {
		m.BusyWait(0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("BusyWait(0) never returned")
	}
}
