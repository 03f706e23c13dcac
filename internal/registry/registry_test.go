package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunsInLevelOrder(t *testing.T) {
	Reset()
	defer Reset()
	var order []int
	Register(2, func() error { order = append(order, 2); return nil })
	Register(0, func() error { order = append(order, 0); return nil })
	Register(1, func() error { order = append(order, 1); return nil })

	require.NoError(t, Run())
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestTiesPreserveRegistrationOrder(t *testing.T) {
	Reset()
	defer Reset()
	var order []string
	Register(0, func() error { order = append(order, "a"); return nil })
	Register(0, func() error { order = append(order, "b"); return nil })

	require.NoError(t, Run())
	require.Equal(t, []string{"a", "b"}, order)
}

func TestAbortsOnFirstError(t *testing.T) {
	Reset()
	defer Reset()
	ran := false
	Register(0, func() error { return errors.New("boom") })
	Register(1, func() error { ran = true; return nil })

	require.Error(t, Run())
	require.False(t, ran)
}
