package pagetable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duckos-rv/kernel/internal/frame"
)

func newAlloc(t *testing.T) *frame.Allocator {
	t.Helper()
	return frame.New(0, 64, nil)
}

func TestMapOneLookupRoundtrip(t *testing.T) {
	a := newAlloc(t)
	tbl := New(a, nil)

	dataF, ok := a.Alloc()
	require.True(t, ok)

	vpn := VPN(0x123)
	tbl.MapOne(vpn, dataF.PPN(), FlagR|FlagW|FlagU)

	pte, ok := tbl.Lookup(vpn)
	require.True(t, ok)
	assert.True(t, pte.Valid())
	assert.True(t, pte.Write())
	assert.True(t, pte.User())
	assert.Equal(t, dataF.PPN(), pte.PPN())
}

func TestMapOneDoubleMapPanics(t *testing.T) {
	a := newAlloc(t)
	tbl := New(a, nil)
	f, ok := a.Alloc()
	require.True(t, ok)

	vpn := VPN(5)
	tbl.MapOne(vpn, f.PPN(), FlagR)
	assert.Panics(t, func() { tbl.MapOne(vpn, f.PPN(), FlagR) })
}

func TestUnmapIsIdempotent(t *testing.T) {
	a := newAlloc(t)
	tbl := New(a, nil)
	f, ok := a.Alloc()
	require.True(t, ok)

	vpn := VPN(9)
	tbl.MapOne(vpn, f.PPN(), FlagR)
	tbl.Unmap(vpn)
	_, ok = tbl.Lookup(vpn)
	assert.False(t, ok)

	assert.NotPanics(t, func() { tbl.Unmap(vpn) })
	assert.NotPanics(t, func() { tbl.Unmap(VPN(999)) })
}

func TestTranslateVA(t *testing.T) {
	a := newAlloc(t)
	tbl := New(a, nil)
	f, ok := a.Alloc()
	require.True(t, ok)

	vpn := VPN(3)
	tbl.MapOne(vpn, f.PPN(), FlagR|FlagW)

	va := uint64(vpn)<<12 | 0x42
	pa, ok := tbl.TranslateVA(va)
	require.True(t, ok)
	assert.Equal(t, uint64(f.PPN())<<12|0x42, pa)

	_, ok = tbl.TranslateVA(uint64(VPN(100))<<12)
	assert.False(t, ok)
}

func TestNewUserCopiesKernelHalf(t *testing.T) {
	a := newAlloc(t)
	kernel := New(a, nil)
	f, ok := a.Alloc()
	require.True(t, ok)

	kernelVPN := VPN(300 << 18) // lands in top-level index >= 256
	kernel.MapOne(kernelVPN, f.PPN(), FlagR|FlagW)

	user := NewUser(a, kernel, nil)
	pte, ok := user.Lookup(kernelVPN)
	require.True(t, ok, "kernel-half mapping must be visible in a fresh user table")
	assert.Equal(t, f.PPN(), pte.PPN())
}

func TestClearUserHalfDropsOnlyUserRange(t *testing.T) {
	a := newAlloc(t)
	kernel := New(a, nil)
	kf, ok := a.Alloc()
	require.True(t, ok)
	kernelVPN := VPN(300 << 18)
	kernel.MapOne(kernelVPN, kf.PPN(), FlagR)

	user := NewUser(a, kernel, nil)
	uf, ok := a.Alloc()
	require.True(t, ok)
	userVPN := VPN(7)
	user.MapOne(userVPN, uf.PPN(), FlagR|FlagU)

	user.ClearUserHalf()

	_, ok = user.Lookup(userVPN)
	assert.False(t, ok, "user half must be cleared")
	_, ok = user.Lookup(kernelVPN)
	assert.True(t, ok, "kernel half must survive clear_user_half")
}

func TestStoreOverwritesLeafFlags(t *testing.T) {
	a := newAlloc(t)
	tbl := New(a, nil)
	f, ok := a.Alloc()
	require.True(t, ok)

	vpn := VPN(11)
	tbl.MapOne(vpn, f.PPN(), FlagR)
	pte, _ := tbl.Lookup(vpn)
	tbl.Store(vpn, pte|FlagW|FlagCOW)

	pte2, ok := tbl.Lookup(vpn)
	require.True(t, ok)
	assert.True(t, pte2.Write())
	assert.True(t, pte2.COW())
}
