// Package phone canonicalizes raw messaging identifiers into E.164 strings.
package phone

import (
	"regexp"
	"strings"
)

const (
	minDigits = 6
	maxDigits = 15
)

var e164Pattern = regexp.MustCompile(`^\+\d{6,15}$`)

// Normalize turns a raw identifier such as "15551234567@c.us" or
// "+1 (555) 123-4567" into "+15551234567". It reports false when the input
// cannot be routed; callers should drop the interaction rather than fail.
func Normalize(raw string) (string, bool) {
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		raw = raw[:i]
	}

	var b strings.Builder
	b.Grow(len(raw) + 1)
	b.WriteByte('+')
	digits := 0
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if ch < '0' || ch > '9' {
			continue
		}
		digits++
		if digits > maxDigits {
			return "", false
		}
		b.WriteByte(ch)
	}
	if digits < minDigits {
		return "", false
	}
	return b.String(), true
}

// Valid reports whether s is already a canonical E.164 string.
func Valid(s string) bool {
	return e164Pattern.MatchString(s)
}

// Mask hides all but the last four digits, for logs.
func Mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
