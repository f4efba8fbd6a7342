// Package strings provides small string and slice helpers for the http layer
package strings

import std "strings"

// IfEmpty returns def if in is empty, otherwise returns in
func IfEmpty[T any](in []T, def []T) []T {
	if len(in) == 0 {
		return def
	}
	return in
}

// MustPrefix normalizes and asserts a root path like /v1 or /sources
// ensures a single leading slash and no trailing slash
// panics if the input is empty after trimming
func MustPrefix(s string) string {
	s = std.TrimSpace(s)
	s = "/" + std.Trim(s, " /")
	if s == "/" {
		panic("root path is required")
	}
	return s
}

// FirstLines returns up to n non-blank lines of s, trimmed, in order.
// CRLF and LF endings are both accepted
func FirstLines(s string, n int) []string {
	var out []string
	for l := range std.SplitSeq(std.ReplaceAll(s, "\r\n", "\n"), "\n") {
		if len(out) == n {
			break
		}
		if l = std.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
