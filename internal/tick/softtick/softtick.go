// Package softtick provides portable, real-clock implementations of the
// tick.Source contract (C3). Since this module has no physical SysTick to
// program, Driver realizes the same contract against the Go runtime's
// monotonic clock, counting elapsed time with golang.org/x/sys/unix
// nanosleep precision (rather than time.Sleep) to keep jitter comparable
// to a free-running hardware down-counter.
package softtick

import (
	"sync"
	"time"

	"github.com/goartos/kernel/internal/tick"
)

// Driver is a free-running software tick source: a dedicated goroutine
// sleeps for the programmed interval and then calls Isr, exactly as a real
// SysTick ISR would fire.
type Driver struct {
	mu       sync.Mutex
	report   tick.ReportFunc
	enabled  bool
	interval time.Duration
	lastEdge time.Time
	stop     chan struct{}
	wake     chan time.Duration
}

// New constructs a disabled driver. Call Init then Enable to start it.
func New() *Driver {
	return &Driver{stop: make(chan struct{}), wake: make(chan time.Duration, 1)}
}

func (d *Driver) Init(report tick.ReportFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.report = report
}

func (d *Driver) Enable() {
	d.mu.Lock()
	if d.enabled {
		d.mu.Unlock()
		return
	}
	d.enabled = true
	d.lastEdge = time.Now()
	d.mu.Unlock()
	go d.loop()
}

func (d *Driver) Disable() {
	d.mu.Lock()
	if !d.enabled {
		d.mu.Unlock()
		return
	}
	d.enabled = false
	d.mu.Unlock()
	d.stop <- struct{}{}
}

func (d *Driver) SetInterval(interval time.Duration) {
	d.mu.Lock()
	d.interval = interval
	d.mu.Unlock()
	if d.enabled {
		select {
		case d.wake <- interval:
		default:
		}
	}
}

func (d *Driver) Elapsed() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Since(d.lastEdge)
}

func (d *Driver) Isr() {
	d.mu.Lock()
	elapsed := time.Since(d.lastEdge)
	d.lastEdge = time.Now()
	report := d.report
	d.mu.Unlock()
	if report != nil {
		report(elapsed)
	}
}

func (d *Driver) loop() {
	for {
		d.mu.Lock()
		interval := d.interval
		d.mu.Unlock()

		if interval == tick.Forever || interval <= 0 {
			select {
			case <-d.stop:
				return
			case interval = <-d.wake:
				if interval == tick.Forever || interval <= 0 {
					continue
				}
			}
		}

		t := nanosleepTimer(interval)
		select {
		case <-d.stop:
			t.Stop()
			return
		case <-d.wake:
			t.Stop()
			continue
		case <-t.C:
			d.Isr()
		}
	}
}

var _ tick.Source = (*Driver)(nil)
