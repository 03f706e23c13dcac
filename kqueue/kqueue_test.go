package kqueue

import (
	"testing"
	"time"

	"github.com/goartos/kernel/internal/port/softport"
	"github.com/goartos/kernel/internal/sched"
	"github.com/goartos/kernel/internal/tick/softtick"
	"github.com/goartos/kernel/thread"
	"github.com/stretchr/testify/require"
)

const forever = time.Duration(-1)

func newTestSystem(t *testing.T) (*sched.Scheduler, *thread.Manager, *Manager, *softtick.Manual) {
	t.Helper()
	p := softport.New()
	src := softtick.NewManual()
	s := sched.New(p, src, nil)
	src.Enable()
	return s, thread.New(s, nil, nil), New(s, nil), src
}

func TestPutGetRoundTrips(t *testing.T) {
	_, _, m, _ := newTestSystem(t)
	h, err := m.Init(4, 2, "mailbox")
	require.NoError(t, err)
	require.Equal(t, 0, h.NumProbe())

	require.NoError(t, h.Put([]byte("hi"), false, 0))
	require.Equal(t, 1, h.NumProbe())

	dst := make([]byte, 4)
	require.NoError(t, h.Get(dst, false, 0))
	require.Equal(t, "hi\x00\x00", string(dst))
	require.Equal(t, 0, h.NumProbe())
}

func TestPutRejectsOversizeMessage(t *testing.T) {
	_, _, m, _ := newTestSystem(t)
	h, err := m.Init(2, 2, "small")
	require.NoError(t, err)
	require.Error(t, h.Put([]byte("too long"), false, 0))
}

func TestGetRejectsOversizeDestination(t *testing.T) {
	_, _, m, _ := newTestSystem(t)
	h, err := m.Init(2, 2, "small")
	require.NoError(t, err)
	require.NoError(t, h.Put([]byte("ab"), false, 0))
	require.Error(t, h.Get(make([]byte, 4), false, 0))
}

func TestPutFailsWhenFullAndNoWait(t *testing.T) {
	_, _, m, _ := newTestSystem(t)
	h, err := m.Init(4, 1, "one-slot")
	require.NoError(t, err)
	require.NoError(t, h.Put([]byte("a"), false, 0))
	require.Error(t, h.Put([]byte("b"), false, 0))
}

func TestGetFailsWhenEmptyAndNoWait(t *testing.T) {
	_, _, m, _ := newTestSystem(t)
	h, err := m.Init(4, 1, "one-slot")
	require.NoError(t, err)
	require.Error(t, h.Get(make([]byte, 4), false, 0))
}

func TestToFrontPutOrdersAheadOfNormal(t *testing.T) {
	_, _, m, _ := newTestSystem(t)
	h, err := m.Init(4, 3, "deque")
	require.NoError(t, err)

	require.NoError(t, h.Put([]byte("one"), false, 0))
	require.NoError(t, h.Put([]byte("two"), true, 0)) // prepend

	dst := make([]byte, 4)
	require.NoError(t, h.Get(dst, false, 0))
	require.Equal(t, "two\x00", string(dst))
	require.NoError(t, h.Get(dst, false, 0))
	require.Equal(t, "one\x00", string(dst))
}

func TestFromBackGetPopsMostRecentSend(t *testing.T) {
	_, _, m, _ := newTestSystem(t)
	h, err := m.Init(4, 3, "deque")
	require.NoError(t, err)

	require.NoError(t, h.Put([]byte("one"), false, 0))
	require.NoError(t, h.Put([]byte("two"), false, 0))

	dst := make([]byte, 4)
	require.NoError(t, h.Get(dst, true, 0)) // pop from back
	require.Equal(t, "two\x00", string(dst))
	require.NoError(t, h.Get(dst, true, 0))
	require.Equal(t, "one\x00", string(dst))
}

func TestBlockedGetWokenByPut(t *testing.T) {
	_, tm, m, _ := newTestSystem(t)
	h, err := m.Init(4, 1, "handoff")
	require.NoError(t, err)

	result := make(chan string, 1)
	_, err = tm.Init("receiver", 5, func(any) {
		dst := make([]byte, 4)
		if err := h.Get(dst, false, forever); err != nil {
			result <- "error"
			return
		}
		result <- string(dst)
	}, nil, 512)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.outWaiters.Len() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, h.Put([]byte("hi"), false, 0))
	select {
	case got := <-result:
		require.Equal(t, "hi\x00\x00", got)
	case <-time.After(time.Second):
		t.Fatal("receiver never woke on matching put")
	}
}

func TestBlockedPutWokenByGetHandsOffDirectly(t *testing.T) {
	_, tm, m, _ := newTestSystem(t)
	h, err := m.Init(4, 1, "handoff")
	require.NoError(t, err)
	require.NoError(t, h.Put([]byte("full"), false, 0)) // occupy the only slot

	sent := make(chan error, 1)
	_, err = tm.Init("sender", 5, func(any) {
		sent <- h.Put([]byte("next"), false, forever)
	}, nil, 512)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.inWaiters.Len() == 1 }, time.Second, time.Millisecond)

	dst := make([]byte, 4)
	require.NoError(t, h.Get(dst, false, 0))
	require.Equal(t, "full", string(dst))

	select {
	case err := <-sent:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked sender never completed its hand-off")
	}
	require.Equal(t, 1, h.NumProbe())

	require.NoError(t, h.Get(dst, false, 0))
	require.Equal(t, "next", string(dst))
}

func TestPutTimesOut(t *testing.T) {
	_, tm, m, src := newTestSystem(t)
	h, err := m.Init(4, 1, "full")
	require.NoError(t, err)
	require.NoError(t, h.Put([]byte("a"), false, 0))

	result := make(chan error, 1)
	_, err = tm.Init("sender", 5, func(any) {
		result <- h.Put([]byte("b"), false, 10*time.Millisecond)
	}, nil, 512)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.inWaiters.Len() == 1 }, time.Second, time.Millisecond)

	src.Advance(10 * time.Millisecond)
	select {
	case err := <-result:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked put never timed out")
	}
}
