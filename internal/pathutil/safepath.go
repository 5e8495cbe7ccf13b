// Package pathutil holds URL path checks shared by file-serving handlers.
package pathutil

import "strings"

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// HasHiddenSegment reports whether any segment names a dotfile such as
// ".git" or ".env". "." and ".." themselves are not hidden.
func HasHiddenSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if len(seg) > 1 && seg[0] == '.' && seg != ".." {
			return true
		}
	}
	return false
}

// Servable reports whether p may be mapped onto a served directory.
func Servable(p string) bool {
	return !HasDotSegments(p) && !HasHiddenSegment(p) && !strings.ContainsRune(p, '\\')
}
