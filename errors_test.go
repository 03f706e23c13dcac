package artos

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Full Postcode/Error behavior is covered in internal/kcode; this just
// checks the root-package aliases and re-exports actually wire through.
func TestErrorAliasesWireThrough(t *testing.T) {
	pc := PackFailure(3, 4, 5)
	require.True(t, pc.IsFailure())

	err := NewPrimitiveError("queue_send", "q0", pc, "queue full")
	require.Contains(t, err.Error(), "primitive=q0")
	require.True(t, IsPostcode(err, pc))

	var got string
	SetTraceHandler(func(component string, line int) { got = component })
	defer SetTraceHandler(nil)
	Trace("kqueue", 42, pc)
	require.Equal(t, "kqueue", got)
}
