package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocZeroesAndTracksFreeCount(t *testing.T) {
	a := New(0, 4, nil)
	require.Equal(t, 4, a.FreeCount())

	f, ok := a.Alloc()
	require.True(t, ok)
	require.Equal(t, 3, a.FreeCount())

	b := a.Bytes(f.PPN())
	for _, c := range b {
		assert.Zero(t, c)
	}
	b[0] = 0xAB
	assert.Equal(t, byte(0xAB), a.Bytes(f.PPN())[0])
}

func TestAllocExhaustion(t *testing.T) {
	a := New(0, 2, nil)
	_, ok1 := a.Alloc()
	_, ok2 := a.Alloc()
	_, ok3 := a.Alloc()
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3)
}

func TestReleaseReturnsFrameToPool(t *testing.T) {
	a := New(0, 1, nil)
	f, ok := a.Alloc()
	require.True(t, ok)
	assert.Equal(t, 0, a.FreeCount())
	f.Release()
	assert.Equal(t, 1, a.FreeCount())

	_, ok = a.Alloc()
	assert.True(t, ok)
}

func TestRefupIncrementsRefcnt(t *testing.T) {
	a := New(0, 1, nil)
	f, ok := a.Alloc()
	require.True(t, ok)
	assert.Equal(t, int32(1), a.Refcnt(f.PPN()))
	a.Refup(f.PPN())
	assert.Equal(t, int32(2), a.Refcnt(f.PPN()))
}

func TestDoubleFreePanics(t *testing.T) {
	a := New(0, 1, nil)
	f, ok := a.Alloc()
	require.True(t, ok)
	f.Release()
	assert.Panics(t, func() { a.Free(f.PPN()) })
}
