// Package timeout implements the kernel's single timeout wheel (C4): a
// delta-list of expirations that drives both thread sleeps and software
// timers. Every blocking primitive and every software timer shares this
// one wheel and the tick.Source that feeds it.
package timeout

import (
	"time"

	"github.com/goartos/kernel/internal/list"
	"github.com/goartos/kernel/internal/tick"
)

// State records which of the wheel's four lists an Expiration currently
// occupies — state here is implicit in list membership rather than a
// separate field to keep in sync.
type State int

const (
	// None is the zero value: never initialized into any wheel list.
	None State = iota
	Idle
	Wait
	Pend
)

// Callback runs when an expiration fires. For Deferred expirations
// (software timers) it runs from the pend-drain phase, after the record
// has been stamped with FiredAtUs; it is responsible for re-arming
// (CYCLE), freeing (TEMPORARY), or leaving the record Idle (ONCE). For
// non-deferred expirations (scheduler wake-on-timeout) it runs
// immediately during the wait-list walk.
type Callback func(e *Expiration)

// Expiration is the wheel's linkage record (§3 "Expiration record").
// Every task and every software timer embeds exactly one.
type Expiration struct {
	state    State
	handle   list.Handle
	deltaUs  int64 // only meaningful while State == Wait
	Deferred bool  // true: timer-style, dispatched via the pend list
	Callback Callback

	// FiredAtUs is the wheel's monotonic microsecond clock value at the
	// instant this record was moved to Pend; software timers use it to
	// compute drift-compensated re-arm delays (§4.8).
	FiredAtUs int64
}

// State reports the expiration's current wheel membership.
func (e *Expiration) State() State { return e.state }

// Wheel is the single timeout wheel. Construct with New and drive it by
// registering TimeoutHandler as the tick.Source's report handler.
type Wheel struct {
	src tick.Source

	wait list.List[*Expiration]
	pend list.List[*Expiration]
	idle list.List[*Expiration]

	nowUs int64

	// OnPendDrain is invoked exactly once after a tick's pend-list drain
	// if at least one pend callback fired — the kernel-thread
	// notification named in §4.4.
	OnPendDrain func()
}

// New constructs a wheel driven by src and registers the wheel's report
// handler with src. It does not enable src; callers control Enable/Disable
// timing themselves.
func New(src tick.Source) *Wheel {
	w := &Wheel{src: src}
	src.Init(w.TimeoutHandler)
	return w
}

// NowUs returns the wheel's monotonic microsecond clock, advanced only by
// reported tick intervals.
func (w *Wheel) NowUs() int64 { return w.nowUs }

// Init transitions a freshly-constructed Expiration onto the idle list.
// Must be called once before the first Set.
func (w *Wheel) Init(e *Expiration) {
	if e.state != None {
		return
	}
	e.handle = w.idle.PushTail(e)
	e.state = Idle
}

// Set arms e to fire delayUs microseconds from now, moving it (from
// whichever list it currently occupies) onto the wait list at the
// correct delta position. If immediate is true and delayUs <= 0, the
// callback runs synchronously instead of being scheduled, and e is left
// Idle — this realizes timeout_set's "immediate" parameter for zero-delay
// arms (e.g. a poll-then-block caller that turns out not to need to
// block).
func (w *Wheel) Set(e *Expiration, delayUs int64, immediate bool) {
	w.removeFromCurrent(e)

	if delayUs <= 0 {
		if immediate && e.Callback != nil {
			e.Callback(e)
		}
		e.handle = w.idle.PushTail(e)
		e.state = Idle
		return
	}

	e.deltaUs = delayUs
	e.handle = w.wait.OrderedInsert(e, func(cur list.Handle, candidate **Expiration) bool {
		curExp := *w.wait.Value(cur)
		if (*candidate).deltaUs < curExp.deltaUs {
			curExp.deltaUs -= (*candidate).deltaUs
			return false
		}
		(*candidate).deltaUs -= curExp.deltaUs
		return true
	})
	e.state = Wait
	w.reprogram()
}

// Remove cancels e, returning it to Idle. If e was on the wait list, the
// successor's delta is fixed up so the delta-list invariant holds.
func (w *Wheel) Remove(e *Expiration) {
	if e.state == Wait {
		w.fixupSuccessorOnRemove(e)
	}
	w.removeFromCurrent(e)
	e.handle = w.idle.PushTail(e)
	e.state = Idle
}

func (w *Wheel) fixupSuccessorOnRemove(e *Expiration) {
	next := w.wait.Next(e.handle)
	if next != list.Nil {
		(*w.wait.Value(next)).deltaUs += e.deltaUs
	}
}

func (w *Wheel) removeFromCurrent(e *Expiration) {
	switch e.state {
	case Wait:
		w.wait.Delete(e.handle)
	case Pend:
		w.pend.Delete(e.handle)
	case Idle:
		w.idle.Delete(e.handle)
	}
	e.handle = list.Nil
}

// Busy reports whether e is currently armed on the wait list (timer_busy).
func (w *Wheel) Busy(e *Expiration) bool { return e.state == Wait }

// TimeoutHandler processes one tick's worth of elapsed time: it consumes
// expired heads from the wait list (firing non-deferred callbacks
// immediately, staging deferred ones on pend), then drains pend, then
// reprograms the tick source. Register this as the tick.Source's
// ReportFunc (New does this automatically).
func (w *Wheel) TimeoutHandler(elapsed time.Duration) {
	w.nowUs += elapsed.Microseconds()
	remaining := elapsed.Microseconds()

	for w.wait.Head() != list.Nil {
		headHandle := w.wait.Head()
		head := *w.wait.Value(headHandle)
		if head.deltaUs > remaining {
			head.deltaUs -= remaining
			remaining = 0
			break
		}
		remaining -= head.deltaUs
		w.wait.PopHead()
		head.handle = list.Nil

		if head.Deferred {
			head.FiredAtUs = w.nowUs
			head.handle = w.pend.PushTail(head)
			head.state = Pend
		} else {
			head.state = None
			if head.Callback != nil {
				head.Callback(head)
			}
			if head.state == None {
				head.handle = w.idle.PushTail(head)
				head.state = Idle
			}
		}
	}

	w.drainPend()
	w.reprogram()
}

func (w *Wheel) drainPend() {
	fired := false
	for {
		v, ok := w.pend.PopHead()
		if !ok {
			break
		}
		fired = true
		v.state = None
		if v.Callback != nil {
			v.Callback(v)
		}
		if v.state == None {
			v.handle = w.idle.PushTail(v)
			v.state = Idle
		}
	}
	if fired && w.OnPendDrain != nil {
		w.OnPendDrain()
	}
}

func (w *Wheel) reprogram() {
	if w.wait.Empty() {
		w.src.SetInterval(tick.Forever)
		return
	}
	head := *w.wait.Value(w.wait.Head())
	w.src.SetInterval(time.Duration(head.deltaUs) * time.Microsecond)
}
