package softtick

import (
	"sync"
	"time"

	"github.com/goartos/kernel/internal/tick"
)

// Manual is a tick.Source with no background goroutine: tests drive it
// explicitly via Advance, which lets kerntest exercise the timeout wheel
// and every blocking primitive deterministically instead of racing a
// real clock.
type Manual struct {
	mu       sync.Mutex
	report   tick.ReportFunc
	enabled  bool
	interval time.Duration
	elapsed  time.Duration
}

// NewManual constructs a disabled manual driver.
func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Init(report tick.ReportFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.report = report
}

func (m *Manual) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
	m.elapsed = 0
}

func (m *Manual) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

func (m *Manual) SetInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = d
}

func (m *Manual) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsed
}

func (m *Manual) Isr() {
	m.mu.Lock()
	elapsed := m.elapsed
	m.elapsed = 0
	report := m.report
	m.mu.Unlock()
	if report != nil {
		report(elapsed)
	}
}

// Advance moves the simulated clock forward by d. If the programmed
// interval has been reached or passed, it fires Isr exactly once, which
// reports the whole accumulated elapsed time (possibly more than the
// programmed interval) and resets the count to zero; nothing carries over
// into the next period.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}
	m.elapsed += d
	interval := m.interval
	elapsed := m.elapsed
	m.mu.Unlock()

	if interval != tick.Forever && interval > 0 && elapsed >= interval {
		m.Isr()
	}
}

var _ tick.Source = (*Manual)(nil)
