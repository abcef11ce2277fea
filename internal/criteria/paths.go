package criteria

import (
	"path"
	"strings"
)

// Clean is path.Clean that leaves the empty string alone.
func Clean(p string) string {
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

// Segments splits a cleaned path into its components. An absolute path starts
// with an empty root segment, so "/" is a segment-prefix of every absolute path.
func Segments(p string) []string {
	p = path.Clean(p)
	if p == "/" {
		return []string{""}
	}
	return strings.Split(p, "/")
}

// Within reports whether p equals ancestor or lies beneath it, comparing whole
// segments: /data covers /data/x but not /data2/x.
func Within(p, ancestor string) bool {
	sp, sa := Segments(p), Segments(ancestor)
	if len(sa) > len(sp) {
		return false
	}
	for i := range sa {
		if sa[i] != sp[i] {
			return false
		}
	}
	return true
}

// Ancestors lists p and every directory above it, nearest first, ending at the
// root ("/" or "." for relative paths).
func Ancestors(p string) []string {
	cur := path.Clean(p)
	out := []string{cur}
	for {
		parent := path.Dir(cur)
		if parent == cur {
			return out
		}
		out = append(out, parent)
		cur = parent
	}
}

// ExtensionsOf lists every dotted suffix of name that an ext criterion could
// equal, longest first: "a.tar.gz" yields ".tar.gz" and ".gz".
func ExtensionsOf(name string) []string {
	var out []string
	for i := 1; i < len(name); i++ {
		if name[i] == '.' {
			out = append(out, name[i:])
		}
	}
	return out
}
