package ustr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinInsertsSingleSeparator(t *testing.T) {
	assert.Equal(t, "/etc", MkRoot().Join(Ustr("etc")).String())
	assert.Equal(t, "/etc/passwd", Ustr("/etc").Join(Ustr("passwd")).String())
	assert.Equal(t, "a/b", Ustr("a").Join(Ustr("b")).String())
}

func TestJoinOnEmptyBase(t *testing.T) {
	assert.Equal(t, "etc", MkUstr().Join(Ustr("etc")).String())
}

func TestJoinDoesNotMutateReceiver(t *testing.T) {
	base := Ustr("/etc")
	_ = base.Join(Ustr("passwd"))
	assert.Equal(t, "/etc", base.String())
}

func TestFromNulTerminated(t *testing.T) {
	buf := []byte("/bin/sh\x00garbage")
	assert.Equal(t, "/bin/sh", FromNulTerminated(buf).String())

	noNul := []byte("/bin/sh")
	assert.Equal(t, "/bin/sh", FromNulTerminated(noNul).String())
}

func TestIsAbsoluteAndDotChecks(t *testing.T) {
	assert.True(t, Ustr("/a").IsAbsolute())
	assert.False(t, Ustr("a").IsAbsolute())
	assert.True(t, MkDot().IsDot())
	assert.True(t, DotDot.IsDotDot())
	assert.False(t, MkDot().IsDotDot())
}

func TestEq(t *testing.T) {
	assert.True(t, Ustr("/a/b").Eq(Ustr("/a/b")))
	assert.False(t, Ustr("/a/b").Eq(Ustr("/a/c")))
	assert.False(t, Ustr("/a").Eq(Ustr("/a/b")))
}
