package normalize

import (
	"strconv"
	"strings"
)

// Text returns message text as stored: surrounding whitespace removed.
func Text(s string) string {
	return strings.TrimSpace(s)
}

// BearerToken strips an optional "Bearer " scheme from an Authorization
// header value. The scheme match is case-insensitive and must be followed by
// whitespace. Other schemes yield "".
func BearerToken(header string) string {
	f := strings.Fields(header)
	switch {
	case len(f) == 2 && strings.EqualFold(f[0], "bearer"):
		return f[1]
	case len(f) == 1 && !strings.EqualFold(f[0], "bearer"):
		return f[0]
	}
	return ""
}

// ID parses a positive decimal identifier from a path segment. ok is false
// for anything else.
func ID(s string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
