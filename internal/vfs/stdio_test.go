package vfs

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdoutInodeWritesReachTheWriter(t *testing.T) {
	var buf bytes.Buffer
	inode := NewStdoutInode(&buf)
	f, errno := inode.Ops.Open(inode, OWriteOnly)
	require.Zero(t, errno)

	n, errno := f.Write([]byte("booting\n"))
	require.Zero(t, errno)
	assert.Equal(t, 8, n)
	assert.Equal(t, "booting\n", buf.String())
}

func TestStdinInodeReadsFromTheReader(t *testing.T) {
	inode := NewStdinInode(strings.NewReader("input"))
	f, errno := inode.Ops.Open(inode, OReadOnly)
	require.Zero(t, errno)

	buf := make([]byte, 5)
	n, errno := f.Read(buf)
	require.Zero(t, errno)
	assert.Equal(t, "input", string(buf[:n]))
}

func TestStderrInodeIsDistinctFromStdout(t *testing.T) {
	var out, errBuf bytes.Buffer
	stdout := NewStdoutInode(&out)
	stderr := NewStderrInode(&errBuf)
	assert.NotEqual(t, stdout.No, stderr.No)

	f, errno := stderr.Ops.Open(stderr, OWriteOnly)
	require.Zero(t, errno)
	_, errno = f.Write([]byte("oops\n"))
	require.Zero(t, errno)
	assert.Equal(t, "oops\n", errBuf.String())
	assert.Zero(t, out.Len())
}

func TestStdinInodeEOFReturnsZeroNotError(t *testing.T) {
	inode := NewStdinInode(strings.NewReader(""))
	f, errno := inode.Ops.Open(inode, OReadOnly)
	require.Zero(t, errno)

	buf := make([]byte, 4)
	n, errno := f.Read(buf)
	require.Zero(t, errno)
	assert.Zero(t, n)
}
