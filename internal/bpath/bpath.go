// Package bpath normalizes absolute paths: it collapses "." and ".."
// components and repeated/trailing slashes. It has no notion of what
// exists on disk; internal/vfs is responsible for resolving the result
// against the dentry tree.
package bpath

import "github.com/duckos-rv/kernel/internal/ustr"

// Canonicalize normalizes an absolute path, collapsing "." and ".."
// components lexically (without touching the dentry tree — a ".." past
// a symlink would need tree context, but this kernel does not model
// symlinks, so lexical normalization is exact).
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	parts := Split(p)
	out := make([]string, 0, len(parts))
	for _, c := range parts {
		switch c {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return ustr.MkRoot()
	}
	s := ""
	for _, c := range out {
		s += "/" + c
	}
	return ustr.Ustr(s)
}

// Split breaks an absolute path into its slash-delimited components,
// discarding empty components (so "/a//b/" -> ["a", "b"]).
func Split(p ustr.Ustr) []string {
	var out []string
	start := 0
	s := p.String()
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '/' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// Dir and Base mimic path.Dir/path.Base for an already-canonical
// absolute path.
func Dir(p ustr.Ustr) ustr.Ustr {
	parts := Split(Canonicalize(p))
	if len(parts) <= 1 {
		return ustr.MkRoot()
	}
	s := ""
	for _, c := range parts[:len(parts)-1] {
		s += "/" + c
	}
	return ustr.Ustr(s)
}

func Base(p ustr.Ustr) string {
	parts := Split(Canonicalize(p))
	if len(parts) == 0 {
		return "/"
	}
	return parts[len(parts)-1]
}
