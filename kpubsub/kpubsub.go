// Package kpubsub implements the publish/subscribe primitive (C14):
// publish_init, subscribe_init, subscribe_register, publish_data_submit,
// subscribe_data_apply, subscribe_data_is_ready (§4.14), built on
// internal/sched's deferred-callback queue — the same mechanism ktimer
// uses to run a fired timer's callback outside the scheduler's critical
// section.
//
// Delivery is last-writer-wins: a subscriber that does not Apply between
// two Submits only ever sees the most recent value, never a per-message
// queue of everything it missed.
package kpubsub

import (
	"github.com/goartos/kernel/internal/kcode"
	"github.com/goartos/kernel/internal/klog"
	"github.com/goartos/kernel/internal/list"
	"github.com/goartos/kernel/internal/sched"
)

// componentPubsub is this package's postcode component id, matching its
// C14 module number.
const componentPubsub = 14

const (
	subcodeBadLen = iota + 1
)

// Subscriber is a data cell a publisher's submissions land in. The zero
// Subscriber is not usable; obtain one from Manager.Subscribe.
type Subscriber struct {
	mgr  *Manager
	name string

	buf []byte // latest delivered value, capped at len(buf)

	// updated counts every submission a registered publisher has
	// delivered; accepted is the count as of the last Apply. The
	// subscriber has unconsumed data whenever accepted != updated
	// (§4.14 "last-writer-wins, no per-message queuing").
	updated  int64
	accepted int64
}

// Name returns the subscriber's name, as given to Subscribe.
func (sub *Subscriber) Name() string { return sub.name }

// Apply copies the latest delivered value into dst and marks it
// consumed, returning the number of bytes copied (subscribe_data_apply,
// §4.14). ok is false, and dst is untouched, if nothing new has arrived
// since the last Apply.
func (sub *Subscriber) Apply(dst []byte) (n int, ok bool) { return sub.mgr.Apply(sub, dst) }

// IsReady reports whether data has arrived since the last Apply, without
// consuming it (subscribe_data_is_ready, §4.14).
func (sub *Subscriber) IsReady() bool { return sub.mgr.IsReady(sub) }

// registration links one subscriber into one publisher's fan-out list
// (subscribe_register, §4.14).
type registration struct {
	sub      *Subscriber
	muted    bool
	callback func(*Subscriber)
}

// Publisher is a stable reference to a created publisher. The zero
// Publisher is not usable; obtain one from Manager.Publish.
type Publisher struct {
	mgr  *Manager
	name string

	subs list.List[*registration]
}

// Name returns the publisher's name, as given to Publish.
func (pub *Publisher) Name() string { return pub.name }

// Register links sub into pub's fan-out list (subscribe_register,
// §4.14). When muted is false, callback (if non-nil) runs on the kernel
// thread once per Submit that updates sub.
func (pub *Publisher) Register(sub *Subscriber, muted bool, callback func(*Subscriber)) {
	pub.mgr.Register(pub, sub, muted, callback)
}

// Submit delivers data to every registered subscriber
// (publish_data_submit, §4.14): each subscriber's updated counter is
// incremented and min(len(data), len(sub.buf)) bytes are copied into its
// buffer; unmuted subscribers' callbacks are then run once, together, on
// the kernel thread.
func (pub *Publisher) Submit(data []byte) { pub.mgr.Submit(pub, data) }

// Manager owns the Pub/Sub primitive's wiring into the scheduler.
// Construct with New, once per Scheduler.
type Manager struct {
	sched *sched.Scheduler
	log   *klog.Logger
}

// New wires the Pub/Sub primitive's privileged routines into s and
// returns the Manager publishers and subscribers are created through.
// log may be nil, which discards pub/sub log lines.
func New(s *sched.Scheduler, log *klog.Logger) *Manager {
	if log == nil {
		log = klog.Discard()
	}
	m := &Manager{sched: s, log: log.With("pubsub")}

	s.RegisterPrivileged("pubsub.register", func(arg any) any {
		a := arg.(registerArgs)
		a.pub.subs.PushTail(&registration{sub: a.sub, muted: a.muted, callback: a.callback})
		return nil
	})

	s.RegisterPrivileged("pubsub.submit", func(arg any) any {
		a := arg.(submitArgs)
		var fire []*registration
		a.pub.subs.Walk(func(hd list.Handle) bool {
			reg := *a.pub.subs.Value(hd)
			sub := reg.sub
			n := len(a.data)
			if n > len(sub.buf) {
				n = len(sub.buf)
			}
			copy(sub.buf, a.data[:n])
			sub.updated++
			if !reg.muted && reg.callback != nil {
				fire = append(fire, reg)
			}
			return true
		})
		if len(fire) > 0 {
			s.EnqueueDeferred(func() {
				for _, reg := range fire {
					reg.callback(reg.sub)
				}
			})
		}
		return nil
	})

	s.RegisterPrivileged("pubsub.apply", func(arg any) any {
		a := arg.(applyArgs)
		sub := a.sub
		if sub.accepted == sub.updated {
			return applyResult{ok: false}
		}
		n := len(a.dst)
		if n > len(sub.buf) {
			n = len(sub.buf)
		}
		copy(a.dst[:n], sub.buf[:n])
		sub.accepted = sub.updated
		return applyResult{n: n, ok: true}
	})

	return m
}

type registerArgs struct {
	pub      *Publisher
	sub      *Subscriber
	muted    bool
	callback func(*Subscriber)
}

type submitArgs struct {
	pub  *Publisher
	data []byte
}

type applyArgs struct {
	sub *Subscriber
	dst []byte
}

type applyResult struct {
	n  int
	ok bool
}

// Publish creates a publisher (publish_init, §4.14).
func (m *Manager) Publish(name string) *Publisher {
	pub := &Publisher{mgr: m, name: name}
	m.log.Debugf("publisher %q created", name)
	return pub
}

// Subscribe creates a subscriber cell with the given buffer capacity
// (subscribe_init, §4.14).
func (m *Manager) Subscribe(len int, name string) (*Subscriber, error) {
	if len <= 0 {
		return nil, kcode.NewError("subscribe_init", kcode.PackFailure(componentPubsub, 0, subcodeBadLen), "buffer length must be positive")
	}
	sub := &Subscriber{mgr: m, name: name, buf: make([]byte, len)}
	m.log.Debugf("subscriber %q created len=%d", name, len)
	return sub, nil
}

// Register links sub into pub's fan-out list (subscribe_register,
// §4.14).
func (m *Manager) Register(pub *Publisher, sub *Subscriber, muted bool, callback func(*Subscriber)) {
	m.sched.Call("pubsub.register", registerArgs{pub: pub, sub: sub, muted: muted, callback: callback})
}

// Submit delivers data to every subscriber registered on pub
// (publish_data_submit, §4.14).
func (m *Manager) Submit(pub *Publisher, data []byte) {
	m.sched.Call("pubsub.submit", submitArgs{pub: pub, data: data})
}

// Apply copies sub's latest delivered value into dst and marks it
// consumed (subscribe_data_apply, §4.14).
func (m *Manager) Apply(sub *Subscriber, dst []byte) (n int, ok bool) {
	r := m.sched.Call("pubsub.apply", applyArgs{sub: sub, dst: dst}).(applyResult)
	return r.n, r.ok
}

// IsReady reports whether sub has unconsumed data (subscribe_data_is_ready, §4.14).
// A direct, unprotected read, like kqueue.NumProbe.
func (m *Manager) IsReady(sub *Subscriber) bool {
	return sub.accepted != sub.updated
}
