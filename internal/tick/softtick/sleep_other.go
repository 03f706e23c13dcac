//go:build !linux

package softtick

import "time"

// sleepTimer falls back to the Go runtime timer wheel on non-Linux build
// targets, where unix.Nanosleep precision tuning does not apply.
type sleepTimer struct {
	t *time.Timer
	C chan time.Time
}

func (s *sleepTimer) Stop() { s.t.Stop() }

func nanosleepTimer(d time.Duration) *sleepTimer {
	s := &sleepTimer{C: make(chan time.Time, 1)}
	s.t = time.AfterFunc(d, func() {
		select {
		case s.C <- time.Now():
		default:
		}
	})
	return s
}
