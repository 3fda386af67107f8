package pipe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duckos-rv/kernel/internal/kernelerr"
)

func TestWriteThenReadRoundTrips(t *testing.T) {
	r, w := New(16)
	n, errno := w.Write([]byte("hello"), false)
	require.Zero(t, errno)
	assert.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, errno = r.Read(buf, false)
	require.Zero(t, errno)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))
}

func TestReadNonblockOnEmptyPipeIsEAGAIN(t *testing.T) {
	r, _ := New(16)
	buf := make([]byte, 4)
	_, errno := r.Read(buf, true)
	assert.Equal(t, kernelerr.EAGAIN, errno)
}

func TestWriteNonblockOnFullPipeIsEAGAIN(t *testing.T) {
	r, w := New(4)
	_, errno := w.Write([]byte("abcd"), false)
	require.Zero(t, errno)
	_, errno = w.Write([]byte("e"), true)
	assert.Equal(t, kernelerr.EAGAIN, errno)
	_ = r
}

func TestReadReturnsEOFAfterWriteEndClosesAndDrains(t *testing.T) {
	r, w := New(16)
	_, errno := w.Write([]byte("hi"), false)
	require.Zero(t, errno)
	w.Close()

	buf := make([]byte, 2)
	n, errno := r.Read(buf, false)
	require.Zero(t, errno)
	assert.Equal(t, 2, n)

	n, errno = r.Read(buf, false)
	require.Zero(t, errno)
	assert.Equal(t, 0, n, "EOF once drained and writer gone")
}

func TestWriteAfterReadEndClosedReturnsNoError(t *testing.T) {
	r, w := New(16)
	r.Close()
	n, errno := w.Write([]byte("x"), false)
	require.Zero(t, errno)
	assert.Equal(t, 0, n, "a reader-closed pipe silently drops writes, no SIGPIPE/EPIPE in this port")
}

func TestBlockingReadWakesOnWrite(t *testing.T) {
	r, w := New(16)
	done := make(chan struct{})
	var n int
	var errno kernelerr.Errno
	go func() {
		buf := make([]byte, 3)
		n, errno = r.Read(buf, false)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond) // let the reader block first
	_, werrno := w.Write([]byte("abc"), false)
	require.Zero(t, werrno)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked reader was never woken by the write")
	}
	require.Zero(t, errno)
	assert.Equal(t, 3, n)
}

func TestRingBufferWrapsAround(t *testing.T) {
	r, w := New(4)
	_, errno := w.Write([]byte("ab"), false)
	require.Zero(t, errno)
	buf := make([]byte, 2)
	_, errno = r.Read(buf, false)
	require.Zero(t, errno)

	// head/tail have each advanced by 2; the next write wraps past the
	// end of the 4-byte backing array.
	_, errno = w.Write([]byte("cdef"), false)
	require.Zero(t, errno)

	out := make([]byte, 4)
	n, errno := r.Read(out, false)
	require.Zero(t, errno)
	assert.Equal(t, 4, n)
	assert.Equal(t, "cdef", string(out))
}
