package bootconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultLayoutIsSane(t *testing.T) {
	cfg := Default()

	assert.Equal(t, uintptr(1)<<cfg.PageShift, cfg.PageSize, "PageSize must equal 1<<PageShift")
	assert.Less(t, cfg.MmapBottom, cfg.MmapTop)
	assert.Less(t, cfg.MmapTop, cfg.UserStackTop, "mmap region must sit below the fixed user stack")
	assert.Greater(t, cfg.UserMin, uintptr(0), "address 0 is reserved, never a valid user mapping")
	assert.Greater(t, cfg.MaxFD, 0)
	assert.Greater(t, cfg.MaxPipeBuffer, 0)
	assert.Greater(t, cfg.TicksPerSec, int64(0))
}

func TestDefaultIsIndependentPerCall(t *testing.T) {
	a := Default()
	b := Default()
	a.MaxFD = 4
	assert.NotEqual(t, a.MaxFD, b.MaxFD, "Default must return a fresh value, not a shared pointer")
}
