package bpath

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/duckos-rv/kernel/internal/ustr"
)

func TestCanonicalizeCollapsesDotAndDotDot(t *testing.T) {
	cases := map[string]string{
		"/a/./b":      "/a/b",
		"/a/b/../c":   "/a/c",
		"/a//b///c":   "/a/b/c",
		"/../a":       "/a",
		"/":           "/",
		"/a/b/..":     "/a",
		"/a/../../b":  "/b",
	}
	for in, want := range cases {
		assert.Equal(t, want, Canonicalize(ustr.Ustr(in)).String(), "input %q", in)
	}
}

func TestDirAndBase(t *testing.T) {
	assert.Equal(t, "/a/b", Dir(ustr.Ustr("/a/b/c")).String())
	assert.Equal(t, "c", Base(ustr.Ustr("/a/b/c")))
	assert.Equal(t, "/", Dir(ustr.Ustr("/a")).String())
	assert.Equal(t, "a", Base(ustr.Ustr("/a")))
}

func TestSplitDiscardsEmptyComponents(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Split(ustr.Ustr("/a//b/")))
}
