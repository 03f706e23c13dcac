// Package registry implements the kernel's static-init phase registry:
// an ordered list of init functions, built up by package-level
// registration calls (typically from an init() func in the caller's
// package) and run once, in level order, at boot.
package registry

import "sort"

// InitFunc runs once during boot, in level order. A non-nil error aborts
// boot.
type InitFunc func() error

type entry struct {
	level int
	seq   int
	fn    InitFunc
}

var (
	entries []entry
	seq     int
)

// Register appends fn to run at the given level during the next Run.
// Multiple registrations at the same level run in registration order
// (stable sort), mirroring the source's within-section declaration order.
func Register(level int, fn InitFunc) {
	entries = append(entries, entry{level: level, seq: seq, fn: fn})
	seq++
}

// Run executes every registered init function in ascending level order
// (ties broken by registration order), stopping at the first error.
func Run() error {
	sorted := make([]entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].level != sorted[j].level {
			return sorted[i].level < sorted[j].level
		}
		return sorted[i].seq < sorted[j].seq
	})
	for _, e := range sorted {
		if err := e.fn(); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears all registrations. Exposed for tests that need a clean
// registry between kernel instances in the same process.
func Reset() {
	entries = nil
	seq = 0
}

// Len reports the number of registered init functions.
func Len() int { return len(entries) }
