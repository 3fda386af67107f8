package pagecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duckos-rv/kernel/internal/frame"
)

func TestFindPageLoadsLazilyAndCaches(t *testing.T) {
	alloc := frame.New(0, 16, nil)
	var loads int
	loader := func(inodeNo uint64, pageIdx uint64, dst []byte) error {
		loads++
		for i := range dst {
			dst[i] = byte(inodeNo + pageIdx)
		}
		return nil
	}
	c := New(alloc, 7, loader, nil)

	pg, err := c.FindPage(0)
	require.NoError(t, err)
	assert.Equal(t, 1, loads)
	assert.Equal(t, byte(7), pg.Bytes()[0])

	pg2, err := c.FindPage(0)
	require.NoError(t, err)
	assert.Same(t, pg, pg2)
	assert.Equal(t, 1, loads, "a second FindPage for the same page must not reload it")
	assert.Equal(t, 1, c.Len())
}

func TestFindPageDistinctOffsetsAreDistinctPages(t *testing.T) {
	alloc := frame.New(0, 16, nil)
	loader := func(uint64, uint64, []byte) error { return nil }
	c := New(alloc, 1, loader, nil)

	a, err := c.FindPage(0)
	require.NoError(t, err)
	b, err := c.FindPage(1)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, c.Len())
}

func TestEvictDropsPage(t *testing.T) {
	alloc := frame.New(0, 16, nil)
	loader := func(uint64, uint64, []byte) error { return nil }
	c := New(alloc, 1, loader, nil)

	_, err := c.FindPage(0)
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	c.Evict(0)
	assert.Equal(t, 0, c.Len())
}

func TestFindPageSurvivesLoaderError(t *testing.T) {
	alloc := frame.New(0, 16, nil)
	loader := func(uint64, uint64, []byte) error { return assertErr{} }
	c := New(alloc, 1, loader, nil)

	pg, err := c.FindPage(0)
	require.NoError(t, err, "a failing loader degrades to a zero page, it does not fail FindPage")
	assert.NotNil(t, pg)
}

func TestTransferWritesThenReadsBackSamePage(t *testing.T) {
	alloc := frame.New(0, 16, nil)
	loader := func(uint64, uint64, []byte) error { return nil }
	c := New(alloc, 1, loader, nil)

	require.NoError(t, c.Transfer(0, 10, []byte("hi"), true, nil))
	got := make([]byte, 2)
	require.NoError(t, c.Transfer(0, 10, got, false, nil))
	assert.Equal(t, "hi", string(got))
	assert.Equal(t, 1, c.Len(), "Transfer loads the page once and reuses it across calls")
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
