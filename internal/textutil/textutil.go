// Package textutil holds string helpers shared by logging and rendering.
package textutil

import "strings"

const ellipsis = "..."

// Truncate shortens s to at most n runes, ending in "..." when cut. A
// non-positive n leaves s unchanged.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= len(ellipsis) {
		return string(runes[:n])
	}
	return string(runes[:n-len(ellipsis)]) + ellipsis
}

// Line flattens s to a single line and truncates it to n runes.
func Line(s string, n int) string {
	return Truncate(strings.ReplaceAll(s, "\n", " "), n)
}
