package softtick

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManualFiresOnProgrammedInterval(t *testing.T) {
	m := NewManual()
	var fired []time.Duration
	m.Init(func(elapsed time.Duration) { fired = append(fired, elapsed) })
	m.Enable()
	m.SetInterval(10 * time.Millisecond)

	m.Advance(5 * time.Millisecond)
	require.Empty(t, fired)

	m.Advance(5 * time.Millisecond)
	require.Len(t, fired, 1)
	require.Equal(t, 10*time.Millisecond, fired[0])
}

func TestManualDisabledDoesNotFire(t *testing.T) {
	m := NewManual()
	fired := false
	m.Init(func(time.Duration) { fired = true })
	m.SetInterval(time.Millisecond)
	m.Advance(time.Second)
	require.False(t, fired)
}

func TestManualForeverNeverFires(t *testing.T) {
	m := NewManual()
	fired := false
	m.Init(func(time.Duration) { fired = true })
	m.Enable()
	m.SetInterval(-1) // tick.Forever
	m.Advance(time.Hour)
	require.False(t, fired)
}
