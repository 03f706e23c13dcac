// Package tick defines the hardware tick-source contract (C3) consumed by
// the timeout wheel: the interface plus the microsecond-elapsed
// bookkeeping shared by any implementation. The concrete driver is kept
// out of core so the wheel never depends on a particular timer
// peripheral; internal/tick/softtick supplies a portable software driver
// since this kernel has no real Cortex-M SysTick to program.
package tick

import "time"

// Forever disables the counter: "never fire" (OS_TIME_FOREVER).
const Forever = time.Duration(-1)

// ReportFunc is the handler a Source reports elapsed intervals to
// (clock_isr's registered time_report_handler_t).
type ReportFunc func(elapsed time.Duration)

// Source is the hardware tick driver contract (C3).
type Source interface {
	// Init registers the handler invoked by Isr. Must be called before Enable.
	Init(report ReportFunc)

	// Enable arms the counter.
	Enable()

	// Disable stops the counter; no further Isr calls occur until Enable.
	Disable()

	// SetInterval programs the next interrupt this many microseconds out.
	// Forever disables the counter (no interrupt fires).
	SetInterval(d time.Duration)

	// Elapsed reports microseconds elapsed since the last interrupt edge;
	// monotonic between edges.
	Elapsed() time.Duration

	// Isr is invoked by the (simulated) tick interrupt; it must report the
	// elapsed interval to the registered ReportFunc exactly once.
	Isr()
}
