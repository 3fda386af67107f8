// Package pipe implements a fixed-capacity ring buffer with one reader
// and one writer end (spec.md §3 "Pipe"). The wraparound arithmetic
// (head/tail counters that grow monotonically, wrapped only at the
// moment of indexing) is lifted directly from biscuit's
// circbuf.Circbuf_t (biscuit/src/circbuf/circbuf.go), generalized from
// biscuit's single-buffer-with-lazy-page-backing design (which shares
// its buffer with a physical page for zero-copy DMA) to a plain Go byte
// slice, since this port has no device needing a physically addressable
// ring. Weak read/write-end references implement spec.md's EOF
// semantics: Read returns bytes-so-far (0 for EOF) once the write end is
// gone and the buffer has drained; Write returns bytes-so-far with no
// error once the read end is gone, since this design never raises
// SIGPIPE/EPIPE on a reader-closed pipe (spec.md §4.6, §9).
package pipe

import (
	"sync"

	"github.com/duckos-rv/kernel/internal/kernelerr"
)

// ring is the shared buffer state between a pipe's two ends.
type ring struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf        []byte
	head, tail int // head-tail == bytes used; indices wrap via % len(buf)

	readers, writers int32
}

func newRing(capacity int) *ring {
	r := &ring{buf: make([]byte, capacity)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *ring) used() int { return r.head - r.tail }
func (r *ring) full() bool {
	return r.used() == len(r.buf)
}
func (r *ring) empty() bool { return r.used() == 0 }

// ReadEnd is a pipe's read side.
type ReadEnd struct{ r *ring }

// WriteEnd is a pipe's write side.
type WriteEnd struct{ r *ring }

// New creates a pipe with the given ring-buffer capacity (spec.md §4.6:
// capacity bound by bootconfig.Config.MaxPipeBuffer).
func New(capacity int) (*ReadEnd, *WriteEnd) {
	r := newRing(capacity)
	r.readers, r.writers = 1, 1
	return &ReadEnd{r}, &WriteEnd{r}
}

// Close drops this read end's reference; once all of the reader's
// copies (dup'd fds) are gone, blocked writers wake and return
// bytes-so-far instead of blocking further.
func (e *ReadEnd) Close() {
	e.r.mu.Lock()
	e.r.readers--
	e.r.cond.Broadcast()
	e.r.mu.Unlock()
}

func (e *WriteEnd) Close() {
	e.r.mu.Lock()
	e.r.writers--
	e.r.cond.Broadcast()
	e.r.mu.Unlock()
}

// Read blocks until at least one byte is available, the write end is
// gone (returns 0, nil — EOF), or the pipe is empty and would-block on
// a non-blocking fd (returns EAGAIN to the caller, per spec.md §4.6).
func (e *ReadEnd) Read(p []byte, nonblock bool) (int, kernelerr.Errno) {
	r := e.r
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.empty() && r.writers > 0 {
		if nonblock {
			return 0, kernelerr.EAGAIN
		}
		r.cond.Wait()
	}
	if r.empty() {
		return 0, 0 // EOF: writer gone, nothing left
	}
	ti := r.tail % len(r.buf)
	n := copy(p, r.buf[ti:])
	if n < len(p) && r.used()-n > 0 {
		n += copy(p[n:], r.buf[:r.tail%len(r.buf)])
	}
	if n > r.used() {
		n = r.used()
	}
	r.tail += n
	r.cond.Broadcast()
	return n, 0
}

// Write blocks until there is room or the pipe is full and would-block
// on a non-blocking fd (EAGAIN). If the read end is already gone, or
// goes away while this call is blocked waiting for room, Write returns
// whatever it has transferred so far (possibly 0) with no error: this
// design does not raise SIGPIPE/EPIPE on a reader-closed pipe (spec.md
// §4.6, §9 open question, replicated verbatim rather than invented).
func (e *WriteEnd) Write(p []byte, nonblock bool) (int, kernelerr.Errno) {
	r := e.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readers == 0 {
		return 0, 0
	}
	for r.full() {
		if nonblock {
			return 0, kernelerr.EAGAIN
		}
		if r.readers == 0 {
			return 0, 0
		}
		r.cond.Wait()
	}
	if r.readers == 0 {
		return 0, 0
	}
	hi := r.head % len(r.buf)
	space := len(r.buf) - r.used()
	n := len(p)
	if n > space {
		n = space
	}
	first := copy(r.buf[hi:], p[:n])
	if first < n {
		copy(r.buf[:n-first], p[first:n])
	}
	r.head += n
	r.cond.Broadcast()
	return n, 0
}
