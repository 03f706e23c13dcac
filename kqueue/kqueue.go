// Package kqueue implements the fixed-slot ring-buffer message queue
// primitive (C12): msgq_init, msgq_put, msgq_get, msgq_num_probe
// (§4.12), built on internal/sched's blocking protocol with a pair of
// FIFO wait lists — one for senders blocked on a full queue, one for
// receivers blocked on an empty one.
package kqueue

import (
	"time"

	"github.com/goartos/kernel/internal/kcode"
	"github.com/goartos/kernel/internal/klog"
	"github.com/goartos/kernel/internal/list"
	"github.com/goartos/kernel/internal/sched"
)

// componentQueue is this package's postcode component id, matching its
// C12 module number.
const componentQueue = 12

const (
	subcodeBadElementLen = iota + 1
	subcodeBadElementNum
	subcodeOversize
	subcodeFull
	subcodeEmpty
	subcodeTimedOut
)

// pendData is the descriptor a blocked Put/Get stashes via
// ScheduleExitTrigger's holdData and the opposite side's entry callback
// later reads back to complete the stalled transfer (§4.12 "the
// schedule callback reads the {buf, size, reverse} descriptor").
type pendData struct {
	buf     []byte
	reverse bool // to_front for a stalled Put, from_back for a stalled Get
}

// Handle is a stable reference to a created queue. The zero Handle is
// not usable; obtain one from Manager.Init.
type Handle struct {
	mgr  *Manager
	name string

	buffer     []byte
	elementLen int
	elementNum int

	// writePos/readPos are the ring's two cursors. A normal Put writes
	// at writePos then advances it; a normal Get reads at readPos then
	// advances it. A to_front Put instead backs readPos up and writes
	// there (prepending); a from_back Get instead backs writePos up and
	// reads there (popping the most recent send) — see _message_send vs
	// _message_send_front in the original queue implementation.
	writePos  int
	readPos   int
	cacheSize int

	inWaiters  list.List[*sched.Task] // senders blocked on a full queue
	outWaiters list.List[*sched.Task] // receivers blocked on an empty queue
}

// Name returns the queue's name, as given to Init.
func (h *Handle) Name() string { return h.name }

// Put enqueues src (msgq_put, §4.12).
func (h *Handle) Put(src []byte, toFront bool, timeout time.Duration) error {
	return h.mgr.Put(h, src, toFront, timeout)
}

// Get dequeues into dst (msgq_get, §4.12).
func (h *Handle) Get(dst []byte, fromBack bool, timeout time.Duration) error {
	return h.mgr.Get(h, dst, fromBack, timeout)
}

// NumProbe returns the number of messages currently queued (msgq_num_probe, §4.12).
func (h *Handle) NumProbe() int { return h.mgr.NumProbe(h) }

func (h *Handle) slot(i int) []byte {
	return h.buffer[i*h.elementLen : (i+1)*h.elementLen]
}

func (h *Handle) sendNormal(buf []byte) {
	slot := h.slot(h.writePos)
	clear(slot)
	copy(slot, buf)
	h.writePos = (h.writePos + 1) % h.elementNum
	h.cacheSize++
}

func (h *Handle) sendFront(buf []byte) {
	h.readPos = (h.readPos - 1 + h.elementNum) % h.elementNum
	h.cacheSize++
	slot := h.slot(h.readPos)
	clear(slot)
	copy(slot, buf)
}

func (h *Handle) recvNormal(dst []byte) {
	copy(dst, h.slot(h.readPos))
	h.readPos = (h.readPos + 1) % h.elementNum
	h.cacheSize--
}

func (h *Handle) recvBack(dst []byte) {
	h.writePos = (h.writePos - 1 + h.elementNum) % h.elementNum
	h.cacheSize--
	copy(dst, h.slot(h.writePos))
}

// Manager owns the Queue primitive's wiring into the scheduler.
// Construct with New, once per Scheduler.
type Manager struct {
	sched *sched.Scheduler
	log   *klog.Logger
}

// New wires the Queue primitive's privileged routines into s and
// returns the Manager queues are created through. log may be nil, which
// discards queue log lines.
func New(s *sched.Scheduler, log *klog.Logger) *Manager {
	if log == nil {
		log = klog.Discard()
	}
	m := &Manager{sched: s, log: log.With("queue")}

	s.RegisterPrivileged("queue.put", func(arg any) any {
		a := arg.(putArgs)
		h := a.h
		if len(a.src) > h.elementLen {
			return kcode.NewPrimitiveError("msgq_put", h.name, kcode.PackFailure(componentQueue, 0, subcodeOversize), "message exceeds element length")
		}
		if h.cacheSize == h.elementNum {
			if a.timeoutUs == 0 {
				return kcode.NewPrimitiveError("msgq_put", h.name, kcode.PackFailure(componentQueue, 0, subcodeFull), "queue full")
			}
			t := s.Current()
			s.ScheduleExitTrigger(t, h, pendData{buf: a.src, reverse: a.toFront}, &h.inWaiters, a.timeoutUs, true)
			s.RequestReschedule()
			// Execution resumes here once a Get on the other side wakes
			// us; its entry callback (registered below) has already
			// copied a.src into the queue, unless the wheel timed us out.
			if r, ok := s.ScheduleResultTake(t).(kcode.Postcode); ok && r == kcode.PostcodeWaitTimeout {
				return kcode.NewPrimitiveError("msgq_put", h.name, kcode.PackFailure(componentQueue, 0, subcodeTimedOut), "timed out waiting for queue space")
			}
			return nil
		}

		if a.toFront {
			h.sendFront(a.src)
		} else {
			h.sendNormal(a.src)
		}
		if hd, ok := h.outWaiters.PopHead(); ok {
			s.ScheduleEntryTrigger(hd, func(t *sched.Task) {
				pd := t.HoldData().(pendData)
				if pd.reverse {
					h.recvBack(pd.buf)
				} else {
					h.recvNormal(pd.buf)
				}
			}, kcode.PostcodeWaitAvailable)
			s.RequestReschedule()
		}
		return nil
	})

	s.RegisterPrivileged("queue.get", func(arg any) any {
		a := arg.(getArgs)
		h := a.h
		if len(a.dst) > h.elementLen {
			return kcode.NewPrimitiveError("msgq_get", h.name, kcode.PackFailure(componentQueue, 0, subcodeOversize), "destination exceeds element length")
		}
		if h.cacheSize == 0 {
			if a.timeoutUs == 0 {
				return kcode.NewPrimitiveError("msgq_get", h.name, kcode.PackFailure(componentQueue, 0, subcodeEmpty), "queue empty")
			}
			t := s.Current()
			s.ScheduleExitTrigger(t, h, pendData{buf: a.dst, reverse: a.fromBack}, &h.outWaiters, a.timeoutUs, true)
			s.RequestReschedule()
			// Execution resumes here once a Put on the other side wakes
			// us; its entry callback has already copied into a.dst,
			// unless the wheel timed us out.
			if r, ok := s.ScheduleResultTake(t).(kcode.Postcode); ok && r == kcode.PostcodeWaitTimeout {
				return kcode.NewPrimitiveError("msgq_get", h.name, kcode.PackFailure(componentQueue, 0, subcodeTimedOut), "timed out waiting for queue data")
			}
			return nil
		}

		if a.fromBack {
			h.recvBack(a.dst)
		} else {
			h.recvNormal(a.dst)
		}
		if hd, ok := h.inWaiters.PopHead(); ok {
			s.ScheduleEntryTrigger(hd, func(t *sched.Task) {
				pd := t.HoldData().(pendData)
				if pd.reverse {
					h.sendFront(pd.buf)
				} else {
					h.sendNormal(pd.buf)
				}
			}, kcode.PostcodeWaitAvailable)
			s.RequestReschedule()
		}
		return nil
	})

	return m
}

type putArgs struct {
	h         *Handle
	src       []byte
	toFront   bool
	timeoutUs int64
}

type getArgs struct {
	h         *Handle
	dst       []byte
	fromBack  bool
	timeoutUs int64
}

// Init creates a queue of elementNum slots, each elementLen bytes
// (msgq_init, §4.12).
func (m *Manager) Init(elementLen, elementNum int, name string) (*Handle, error) {
	if elementLen <= 0 {
		return nil, kcode.NewError("msgq_init", kcode.PackFailure(componentQueue, 0, subcodeBadElementLen), "element length must be positive")
	}
	if elementNum <= 0 {
		return nil, kcode.NewError("msgq_init", kcode.PackFailure(componentQueue, 0, subcodeBadElementNum), "element number must be positive")
	}
	h := &Handle{mgr: m, name: name, buffer: make([]byte, elementLen*elementNum), elementLen: elementLen, elementNum: elementNum}
	m.log.Debugf("queue %q created elementLen=%d elementNum=%d", name, elementLen, elementNum)
	return h, nil
}

// Put enqueues src, blocking if the queue is full (msgq_put, §4.12).
// toFront prepends rather than appends. timeout == 0 fails immediately
// instead of blocking; timeout < 0 blocks with no timeout.
func (m *Manager) Put(h *Handle, src []byte, toFront bool, timeout time.Duration) error {
	return asError(m.sched.Call("queue.put", putArgs{h: h, src: src, toFront: toFront, timeoutUs: toTimeoutUs(timeout)}))
}

// Get dequeues into dst, blocking if the queue is empty (msgq_get,
// §4.12). fromBack pops the most recently sent message rather than the
// oldest. timeout == 0 fails immediately instead of blocking; timeout <
// 0 blocks with no timeout.
func (m *Manager) Get(h *Handle, dst []byte, fromBack bool, timeout time.Duration) error {
	return asError(m.sched.Call("queue.get", getArgs{h: h, dst: dst, fromBack: fromBack, timeoutUs: toTimeoutUs(timeout)}))
}

// NumProbe returns the number of messages currently queued (msgq_num_probe, §4.12).
// A direct, unprotected read of h.cacheSize, like sched.ReadyCount/IsReady.
func (m *Manager) NumProbe(h *Handle) int {
	return h.cacheSize
}

func toTimeoutUs(timeout time.Duration) int64 {
	switch {
	case timeout == 0:
		return 0
	case timeout > 0:
		return timeout.Microseconds()
	default:
		return -1
	}
}

func asError(res any) error {
	if res == nil {
		return nil
	}
	return res.(error)
}
