package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocFree(t *testing.T) {
	h := New(4096)
	a := h.Alloc(64)
	require.NotNil(t, a)
	require.GreaterOrEqual(t, len(a), 64)

	freeBytes, blocks := h.Stats()
	require.Equal(t, 1, blocks)
	require.Less(t, freeBytes, 4096-headerSize)

	h.Free(a)
	freeBytes2, blocks2 := h.Stats()
	require.Equal(t, 1, blocks2, "freeing the only allocation should coalesce back to one block")
	require.Equal(t, 4096-headerSize, freeBytes2)
	_ = freeBytes
}

func TestCoalesceNeighbors(t *testing.T) {
	h := New(4096)
	a := h.Alloc(128)
	b := h.Alloc(128)
	c := h.Alloc(128)
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.NotNil(t, c)

	h.Free(a)
	h.Free(c)
	_, blocks := h.Stats()
	require.Equal(t, 2, blocks, "c merges with the free remainder after it; a stays separate, cut off by the still-allocated b")

	h.Free(b)
	_, blocks2 := h.Stats()
	require.Equal(t, 1, blocks2, "freeing b should merge all three back into a single block")
}

func TestDoubleFreeIgnored(t *testing.T) {
	h := New(4096)
	a := h.Alloc(64)
	h.Free(a)
	require.NotPanics(t, func() { h.Free(a) })
	_, blocks := h.Stats()
	require.Equal(t, 1, blocks)
}

func TestOutOfRegionIgnored(t *testing.T) {
	h := New(4096)
	foreign := make([]byte, 64)
	require.NotPanics(t, func() { h.Free(foreign) })
	_, blocks := h.Stats()
	require.Equal(t, 1, blocks)
}

func TestExhaustion(t *testing.T) {
	h := New(256)
	a := h.Alloc(512)
	require.Nil(t, a)
}

func TestSplitLeavesRemainderFree(t *testing.T) {
	h := New(4096)
	a := h.Alloc(64)
	require.NotNil(t, a)
	freeBytes, blocks := h.Stats()
	require.Equal(t, 1, blocks)
	require.Greater(t, freeBytes, 0)
}
