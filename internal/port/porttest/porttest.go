// Package porttest is the shared contract test suite for internal/port.Port
// implementations (C6). Any Port driver — softport today, a real
// Cortex-M SysTick/PendSV driver tomorrow — should pass Run unchanged;
// it exercises only the semantics the interface promises, never a
// particular driver's internals.
package porttest

import (
	"sync"
	"testing"
	"time"

	"github.com/goartos/kernel/internal/port"
	"github.com/stretchr/testify/require"
)

// Run exercises new() against the full Port contract. Call it from each
// driver's own test file:
//
//	func TestPortContract(t *testing.T) {
//		porttest.Run(t, func() port.Port { return New() })
//	}
func Run(t *testing.T, newPort func() port.Port) {
	t.Helper()
	t.Run("SpawnParksUntilWoken", func(t *testing.T) { testSpawnParksUntilWoken(t, newPort) })
	t.Run("CallInvokesRegisteredRoutine", func(t *testing.T) { testCallInvokesRegisteredRoutine(t, newPort) })
	t.Run("CallPanicsOnUnregistered", func(t *testing.T) { testCallPanicsOnUnregistered(t, newPort) })
	t.Run("CallSerializesConcurrentCallers", func(t *testing.T) { testCallSerializesConcurrentCallers(t, newPort) })
	t.Run("LockUnlockAreMutuallyExclusive", func(t *testing.T) { testLockUnlockAreMutuallyExclusive(t, newPort) })
	t.Run("StackFreeSizeProbeNilStackIsUnsupported", func(t *testing.T) { testStackFreeSizeProbeNilStackIsUnsupported(t, newPort) })
}

func testSpawnParksUntilWoken(t *testing.T, newPort func() port.Port) {
	p := newPort()
	ran := make(chan struct{})
	ctx := p.Spawn(func(any) { close(ran) }, nil)

	select {
	case <-ran:
		t.Fatal("entry ran before Wake")
	case <-time.After(20 * time.Millisecond):
	}

	ctx.Wake()
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("entry never ran after Wake")
	}
	require.Eventually(t, ctx.Exited, time.Second, time.Millisecond)
}

func testCallInvokesRegisteredRoutine(t *testing.T, newPort func() port.Port) {
	p := newPort()
	p.RegisterPrivileged("double", func(arg any) any { return arg.(int) * 2 })
	require.Equal(t, 42, p.Call("double", 21))
}

func testCallPanicsOnUnregistered(t *testing.T, newPort func() port.Port) {
	p := newPort()
	require.Panics(t, func() { p.Call("nonexistent", nil) })
}

// testCallSerializesConcurrentCallers confirms Call is the SVC gateway's
// trust boundary: every registered routine runs to completion under the
// critical section before the next one starts, even with many concurrent
// callers.
func testCallSerializesConcurrentCallers(t *testing.T, newPort func() port.Port) {
	p := newPort()
	var mu sync.Mutex
	inside := 0
	maxInside := 0
	p.RegisterPrivileged("count", func(any) any {
		mu.Lock()
		inside++
		if inside > maxInside {
			maxInside = inside
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		inside--
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Call("count", nil)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxInside)
}

func testLockUnlockAreMutuallyExclusive(t *testing.T, newPort func() port.Port) {
	p := newPort()
	p.Lock()
	acquired := make(chan struct{})
	go func() {
		p.Lock()
		close(acquired)
		p.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock succeeded while first was held")
	case <-time.After(20 * time.Millisecond):
	}
	p.Unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired after Unlock")
	}
}

func testStackFreeSizeProbeNilStackIsUnsupported(t *testing.T, newPort func() port.Port) {
	p := newPort()
	require.Equal(t, -1, p.StackFreeSizeProbe(nil))
}
