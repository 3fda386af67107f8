// Package uapi holds the wire-format structures shared with user space:
// stat, dirent64, and utsname (spec.md §6 "User-kernel ABI structures").
// Field accessors follow the style of biscuit's stat.Stat_t
// (biscuit/src/stat/stat.go) — private fields, typed getters/setters,
// and a Bytes() method producing the exact byte layout copied out to
// user memory — generalized to Linux's stat/dirent64/utsname layouts
// instead of biscuit's trimmed custom struct.
package uapi

import "encoding/binary"

// Stat mirrors the subset of Linux's struct stat this kernel populates
// (spec.md §6: dev, ino, mode, nlink, uid, gid, rdev, pad, size, blksize,
// pad, blocks, atim/mtim/ctim, each a 16-byte {tv_sec, tv_nsec} pair).
type Stat struct {
	dev       uint64
	ino       uint64
	mode      uint32
	nlink     uint32
	uid       uint32
	gid       uint32
	rdev      uint64
	size      int64
	blksize   uint32
	blocks    int64
	atimSec   int64
	atimNsec  int64
	mtimSec   int64
	mtimNsec  int64
	ctimSec   int64
	ctimNsec  int64
}

func (s *Stat) SetDev(v uint64)      { s.dev = v }
func (s *Stat) SetIno(v uint64)      { s.ino = v }
func (s *Stat) SetMode(v uint32)     { s.mode = v }
func (s *Stat) SetNlink(v uint32)    { s.nlink = v }
func (s *Stat) SetUID(v uint32)      { s.uid = v }
func (s *Stat) SetGID(v uint32)      { s.gid = v }
func (s *Stat) SetRdev(v uint64)     { s.rdev = v }
func (s *Stat) SetSize(v int64)      { s.size = v }
func (s *Stat) SetBlksize(v uint32)  { s.blksize = v }
func (s *Stat) SetBlocks(v int64)    { s.blocks = v }
func (s *Stat) SetAtim(sec, nsec int64) { s.atimSec, s.atimNsec = sec, nsec }
func (s *Stat) SetMtim(sec, nsec int64) { s.mtimSec, s.mtimNsec = sec, nsec }
func (s *Stat) SetCtim(sec, nsec int64) { s.ctimSec, s.ctimNsec = sec, nsec }

func (s *Stat) Mode() uint32 { return s.mode }
func (s *Stat) Size() int64  { return s.size }
func (s *Stat) Ino() uint64  { return s.ino }

// statSize is the byte size of the wire layout spec.md §6 fixes exactly:
// st_dev u64, st_ino u64, st_mode u32, st_nlink u32, st_uid u32, st_gid
// u32, st_rdev u64, pad usize, st_size u64, st_blksize u32, pad u32,
// st_blocks u64, then three 16-byte {tv_sec usize, tv_nsec usize}
// timespecs (atim, mtim, ctim). usize is 8 bytes on this target.
const statSize = 8 + 8 + 4 + 4 + 4 + 4 + 8 + 8 + 8 + 4 + 4 + 8 + 16*3

// Bytes serializes the Stat into its wire layout, little-endian
// (matching RISC-V's and the simulated target's byte order), in the
// exact field order spec.md §6 specifies.
func (s *Stat) Bytes() []byte {
	b := make([]byte, statSize)
	o := 0
	putU64 := func(v uint64) { binary.LittleEndian.PutUint64(b[o:], v); o += 8 }
	putU32 := func(v uint32) { binary.LittleEndian.PutUint32(b[o:], v); o += 4 }
	putI64 := func(v int64) { binary.LittleEndian.PutUint64(b[o:], uint64(v)); o += 8 }

	putU64(s.dev)
	putU64(s.ino)
	putU32(s.mode)
	putU32(s.nlink)
	putU32(s.uid)
	putU32(s.gid)
	putU64(s.rdev)
	putU64(0) // pad usize
	putI64(s.size)
	putU32(s.blksize)
	putU32(0) // pad u32
	putI64(s.blocks)
	putI64(s.atimSec)
	putI64(s.atimNsec)
	putI64(s.mtimSec)
	putI64(s.mtimNsec)
	putI64(s.ctimSec)
	putI64(s.ctimNsec)
	return b
}

// File type bits for Stat.mode's upper bits, per spec.md §6.
const (
	ModeDir  uint32 = 0o040000
	ModeReg  uint32 = 0o100000
	ModeChr  uint32 = 0o020000
	ModeFifo uint32 = 0o010000
)

// Dirent64 mirrors Linux's struct linux_dirent64, as returned by
// getdents64 (spec.md §6).
type Dirent64 struct {
	Ino    uint64
	Off    int64
	Type   uint8
	Name   string
}

const (
	DTUnknown uint8 = 0
	DTFifo    uint8 = 1
	DTChr     uint8 = 2
	DTDir     uint8 = 4
	DTReg     uint8 = 8
)

// Bytes serializes one dirent64 record per spec.md §6's exact layout:
// 19 fixed bytes (d_ino u64, d_off i64, d_reclen u16, d_type u8) then the
// NUL-terminated name, with d_reclen = 19 + name_len + 1 and no further
// alignment padding.
func (d Dirent64) Bytes() []byte {
	nameBytes := append([]byte(d.Name), 0)
	const fixed = 8 + 8 + 2 + 1 // ino + off + reclen + type
	reclen := fixed + len(nameBytes)

	b := make([]byte, reclen)
	binary.LittleEndian.PutUint64(b[0:], d.Ino)
	binary.LittleEndian.PutUint64(b[8:], uint64(d.Off))
	binary.LittleEndian.PutUint16(b[16:], uint16(reclen))
	b[18] = d.Type
	copy(b[19:], nameBytes)
	return b
}

// Utsname mirrors Linux's struct utsname, used by the uname syscall.
type Utsname struct {
	Sysname, Nodename, Release, Version, Machine, Domainname string
}

const utsFieldLen = 65

// Bytes serializes the six NUL-terminated 65-byte fields Linux's uname(2)
// returns.
func (u Utsname) Bytes() []byte {
	b := make([]byte, 6*utsFieldLen)
	put := func(i int, s string) {
		copy(b[i*utsFieldLen:(i+1)*utsFieldLen-1], s)
	}
	put(0, u.Sysname)
	put(1, u.Nodename)
	put(2, u.Release)
	put(3, u.Version)
	put(4, u.Machine)
	put(5, u.Domainname)
	return b
}

// DefaultUtsname reports the identity this kernel presents to user space.
func DefaultUtsname() Utsname {
	return Utsname{
		Sysname:  "duckos",
		Nodename: "duckos",
		Release:  "0.1.0",
		Version:  "#1",
		Machine:  "riscv64",
	}
}
