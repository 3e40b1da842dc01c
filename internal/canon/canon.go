// Package canon derives the canonical dedup/join key from a raw
// TestDateUTC cell, per spec.md §4.3: trim whitespace, strip a trailing
// "Z", and truncate sub-millisecond precision to millisecond resolution.
package canon

import "strings"

// Key canonicalizes a raw timestamp cell. Two cells canonicalizing to the
// same string are considered duplicates (dedup) or the same join key
// (column-add).
func Key(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "Z")
	return truncateToMillis(s)
}

// truncateToMillis truncates a fractional-second suffix (".123456789") to
// at most 3 digits. Values without a fractional-second component, or with
// 3 or fewer fractional digits, are returned unchanged.
func truncateToMillis(s string) string {
	dot := strings.LastIndexByte(s, '.')
	if dot < 0 {
		return s
	}
	frac := s[dot+1:]
	// Only truncate when the suffix after the dot looks like a pure-digit
	// fractional-second run; otherwise leave the value untouched (it may
	// not be a sub-second timestamp at all).
	for _, r := range frac {
		if r < '0' || r > '9' {
			return s
		}
	}
	if len(frac) <= 3 {
		return s
	}
	return s[:dot+1+3]
}
