//go:build linux

package softtick

import (
	"time"

	"golang.org/x/sys/unix"
)

// sleepTimer mimics time.Timer's shape (a receive-once channel plus Stop)
// but is driven by unix.Nanosleep, which rounds less aggressively than the
// runtime's timer wheel and so tracks a free-running hardware counter more
// faithfully for the small (microsecond-to-low-millisecond) intervals the
// timeout wheel programs.
type sleepTimer struct {
	C    chan time.Time
	stop chan struct{}
}

func (t *sleepTimer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func nanosleepTimer(d time.Duration) *sleepTimer {
	t := &sleepTimer{C: make(chan time.Time, 1), stop: make(chan struct{}, 1)}
	go func() {
		req := unix.NsecToTimespec(int64(d))
		var rem unix.Timespec
		for {
			err := unix.Nanosleep(&req, &rem)
			if err == unix.EINTR {
				req = rem
				continue
			}
			break
		}
		select {
		case <-t.stop:
		default:
			t.C <- time.Now()
		}
	}()
	return t
}
