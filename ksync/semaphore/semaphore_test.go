package semaphore

import (
	"testing"
	"time"

	"github.com/goartos/kernel/internal/port/softport"
	"github.com/goartos/kernel/internal/sched"
	"github.com/goartos/kernel/internal/tick/softtick"
	"github.com/goartos/kernel/thread"
	"github.com/stretchr/testify/require"
)

// forever mirrors the root package's TimeForever sentinel without
// importing it (that import would cycle back through this package).
const forever = time.Duration(-1)

func newTestSystem(t *testing.T) (*sched.Scheduler, *thread.Manager, *Manager, *softtick.Manual) {
	t.Helper()
	p := softport.New()
	src := softtick.NewManual()
	s := sched.New(p, src, nil)
	src.Enable()
	return s, thread.New(s, nil, nil), New(s, nil), src
}

func TestTakeDecrementsWhenAvailable(t *testing.T) {
	_, _, m, _ := newTestSystem(t)
	h, err := m.Init(1, 1, "binary")
	require.NoError(t, err)

	require.NoError(t, h.Take(0))
	require.Error(t, h.Take(0))
}

func TestInitRejectsBadArguments(t *testing.T) {
	_, _, m, _ := newTestSystem(t)
	_, err := m.Init(2, 1, "over-initial")
	require.Error(t, err)
	_, err = m.Init(0, 0, "zero-limit")
	require.Error(t, err)
}

func TestGiveWakesHighestPriorityWaiterFirst(t *testing.T) {
	_, tm, m, _ := newTestSystem(t)
	h, err := m.Init(0, 1, "mailbox")
	require.NoError(t, err)

	order := make(chan string, 2)
	_, err = tm.Init("low", 10, func(any) {
		require.NoError(t, h.Take(forever))
		order <- "low"
	}, nil, 512)
	require.NoError(t, err)
	_, err = tm.Init("high", 1, func(any) {
		require.NoError(t, h.Take(forever))
		order <- "high"
	}, nil, 512)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.waiters.Len() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, h.Give())
	select {
	case first := <-order:
		require.Equal(t, "high", first)
	case <-time.After(time.Second):
		t.Fatal("no waiter woke after Give")
	}

	require.NoError(t, h.Give())
	select {
	case second := <-order:
		require.Equal(t, "low", second)
	case <-time.After(time.Second):
		t.Fatal("second waiter never woke")
	}
}

func TestGiveFailsWhenSaturatedWithNoWaiters(t *testing.T) {
	_, _, m, _ := newTestSystem(t)
	h, err := m.Init(1, 1, "full")
	require.NoError(t, err)
	require.Error(t, h.Give())
}

func TestTakeTimesOut(t *testing.T) {
	_, tm, m, src := newTestSystem(t)
	h, err := m.Init(0, 1, "empty")
	require.NoError(t, err)

	result := make(chan error, 1)
	_, err = tm.Init("waiter", 5, func(any) {
		result <- h.Take(10 * time.Millisecond)
	}, nil, 512)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.waiters.Len() == 1 }, time.Second, time.Millisecond)

	src.Advance(10 * time.Millisecond)
	select {
	case err := <-result:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked take never timed out")
	}
}

func TestFlushWakesAllWaitersWithoutChangingCount(t *testing.T) {
	_, tm, m, _ := newTestSystem(t)
	h, err := m.Init(0, 1, "gate")
	require.NoError(t, err)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		_, err = tm.Init("waiter", 5, func(any) {
			results <- h.Take(forever)
		}, nil, 512)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return h.waiters.Len() == 2 }, time.Second, time.Millisecond)

	h.Flush()
	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("flush did not wake all waiters")
		}
	}
	require.Error(t, h.Take(0))
}

func TestDeleteWakesWaitersWithError(t *testing.T) {
	_, tm, m, _ := newTestSystem(t)
	h, err := m.Init(0, 1, "doomed")
	require.NoError(t, err)

	result := make(chan error, 1)
	_, err = tm.Init("waiter", 5, func(any) {
		result <- h.Take(forever)
	}, nil, 512)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.waiters.Len() == 1 }, time.Second, time.Millisecond)

	h.Delete()
	select {
	case err := <-result:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("deleted semaphore never woke its waiter")
	}
	require.Error(t, h.Give())
}
