// Package kpool implements the fixed-size block allocator primitive
// (C13): pool_init, pool_take, pool_release (§4.13), built on
// internal/sched's blocking protocol. Free/used state is a 32-bit
// bitmap, which is also why a pool is capped at 32 elements.
package kpool

import (
	"time"

	"github.com/goartos/kernel/internal/kcode"
	"github.com/goartos/kernel/internal/klog"
	"github.com/goartos/kernel/internal/list"
	"github.com/goartos/kernel/internal/sched"
)

// MaxElements is the largest element count a pool supports — the
// allocation bitmap is a single uint32.
const MaxElements = 32

// componentPool is this package's postcode component id, matching its
// C13 module number.
const componentPool = 13

const (
	subcodeBadElementLen = iota + 1
	subcodeBadElementNum
	subcodeOversize
	subcodeExhausted
	subcodeTimedOut
	subcodeForeignBlock
	subcodeAlreadyReleased
)

// Block is a single allocated element, returned by Take and consumed by
// Release. The zero Block is not usable.
type Block struct {
	h    *Handle
	idx  int
	Data []byte
}

// Handle is a stable reference to a created pool. The zero Handle is
// not usable; obtain one from Manager.Init.
type Handle struct {
	mgr  *Manager
	name string

	mem        []byte
	elementLen int
	elementNum int

	// freeBits is the allocation bitmap: bit i set means element i is
	// currently taken. Take finds the lowest clear bit (§4.13).
	freeBits uint32

	waiters list.List[*sched.Task]
}

// Name returns the pool's name, as given to Init.
func (h *Handle) Name() string { return h.name }

// Take allocates one element (pool_take, §4.13).
func (h *Handle) Take(size int, timeout time.Duration) (*Block, error) { return h.mgr.Take(h, size, timeout) }

// Release returns blk to the pool (pool_release, §4.13).
func (h *Handle) Release(blk *Block) error { return h.mgr.Release(h, blk) }

func (h *Handle) slot(i int) []byte {
	return h.mem[i*h.elementLen : (i+1)*h.elementLen]
}

// firstClearBit returns the lowest-numbered clear bit among the low n
// bits of bits, or ok=false if all n are set.
func firstClearBit(bits uint32, n int) (idx int, ok bool) {
	for i := 0; i < n; i++ {
		if bits&(1<<uint(i)) == 0 {
			return i, true
		}
	}
	return 0, false
}

// Manager owns the Pool primitive's wiring into the scheduler.
// Construct with New, once per Scheduler.
type Manager struct {
	sched *sched.Scheduler
	log   *klog.Logger
}

// New wires the Pool primitive's privileged routines into s and
// returns the Manager pools are created through. log may be nil, which
// discards pool log lines.
func New(s *sched.Scheduler, log *klog.Logger) *Manager {
	if log == nil {
		log = klog.Discard()
	}
	m := &Manager{sched: s, log: log.With("pool")}

	s.RegisterPrivileged("pool.take", func(arg any) any {
		a := arg.(takeArgs)
		h := a.h
		if a.size > h.elementLen {
			return kcode.NewPrimitiveError("pool_take", h.name, kcode.PackFailure(componentPool, 0, subcodeOversize), "requested size exceeds element length")
		}
		if idx, ok := firstClearBit(h.freeBits, h.elementNum); ok {
			h.freeBits |= 1 << uint(idx)
			return &Block{h: h, idx: idx, Data: h.slot(idx)}
		}
		if a.timeoutUs == 0 {
			return kcode.NewPrimitiveError("pool_take", h.name, kcode.PackFailure(componentPool, 0, subcodeExhausted), "pool exhausted")
		}

		t := s.Current()
		s.ScheduleExitTrigger(t, h, nil, &h.waiters, a.timeoutUs, true)
		s.RequestReschedule()
		// Execution resumes here once pool.release hands us a freed
		// block directly as our result, or the wheel times us out.
		switch r := s.ScheduleResultTake(t).(type) {
		case kcode.Postcode:
			if r == kcode.PostcodeWaitTimeout {
				return kcode.NewPrimitiveError("pool_take", h.name, kcode.PackFailure(componentPool, 0, subcodeTimedOut), "timed out waiting for a free block")
			}
			return nil
		default:
			return r
		}
	})

	s.RegisterPrivileged("pool.release", func(arg any) any {
		a := arg.(releaseArgs)
		h, blk := a.h, a.blk
		if blk.h != h {
			return kcode.NewPrimitiveError("pool_release", h.name, kcode.PackFailure(componentPool, 0, subcodeForeignBlock), "block does not belong to this pool")
		}
		if h.freeBits&(1<<uint(blk.idx)) == 0 {
			return kcode.NewPrimitiveError("pool_release", h.name, kcode.PackFailure(componentPool, 0, subcodeAlreadyReleased), "block already released")
		}
		h.freeBits &^= 1 << uint(blk.idx)

		if hd, ok := h.waiters.PopHead(); ok {
			idx, _ := firstClearBit(h.freeBits, h.elementNum)
			h.freeBits |= 1 << uint(idx)
			s.ScheduleEntryTrigger(hd, nil, &Block{h: h, idx: idx, Data: h.slot(idx)})
			s.RequestReschedule()
		}
		return nil
	})

	return m
}

type takeArgs struct {
	h         *Handle
	size      int
	timeoutUs int64
}

type releaseArgs struct {
	h   *Handle
	blk *Block
}

// Init creates a pool of elementNum fixed-size elements, each
// elementLen bytes (pool_init, §4.13). elementNum must not exceed
// MaxElements.
func (m *Manager) Init(elementLen, elementNum int, name string) (*Handle, error) {
	if elementLen <= 0 {
		return nil, kcode.NewError("pool_init", kcode.PackFailure(componentPool, 0, subcodeBadElementLen), "element length must be positive")
	}
	if elementNum <= 0 || elementNum > MaxElements {
		return nil, kcode.NewError("pool_init", kcode.PackFailure(componentPool, 0, subcodeBadElementNum), "element number must be within (0, 32]")
	}
	h := &Handle{mgr: m, name: name, mem: make([]byte, elementLen*elementNum), elementLen: elementLen, elementNum: elementNum}
	m.log.Debugf("pool %q created elementLen=%d elementNum=%d", name, elementLen, elementNum)
	return h, nil
}

// Take allocates and returns one element, blocking if the pool is
// exhausted (pool_take, §4.13). size must not exceed the pool's
// element length. timeout == 0 fails immediately instead of blocking;
// timeout < 0 blocks with no timeout.
func (m *Manager) Take(h *Handle, size int, timeout time.Duration) (*Block, error) {
	res := m.sched.Call("pool.take", takeArgs{h: h, size: size, timeoutUs: toTimeoutUs(timeout)})
	if err, ok := res.(error); ok {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res.(*Block), nil
}

// Release returns blk to its pool, handing it directly to the oldest
// blocked Take, if any (pool_release, §4.13).
func (m *Manager) Release(h *Handle, blk *Block) error {
	return asError(m.sched.Call("pool.release", releaseArgs{h: h, blk: blk}))
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
