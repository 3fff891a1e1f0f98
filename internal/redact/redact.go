// Package redact replaces sensitive substrings in outbound text before it
// reaches a client. Replacement is in-place, leftmost, non-overlapping.
package redact

import "regexp"

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Rules are applied in order. Card numbers run before SSNs so a hyphenated
// card is never partially consumed by the shorter SSN pattern.
var rules = []rule{
	{regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), "[EMAIL_REDACTED]"},
	{regexp.MustCompile(`\b(?:\d{4}-?){3}\d{4}\b`), "[CARD_REDACTED]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN_REDACTED]"},
	{regexp.MustCompile(`\bBearer\s+[A-Za-z0-9._~+/=-]+`), "Bearer [TOKEN_REDACTED]"},
	{regexp.MustCompile(`api_key=\S+`), "api_key=[KEY_REDACTED]"},
}

// Text applies every redaction rule to s.
func Text(s string) string {
	for _, r := range rules {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// Bytes applies every redaction rule to b, returning a new slice when any
// rule matched.
func Bytes(b []byte) []byte {
	for _, r := range rules {
		b = r.pattern.ReplaceAll(b, []byte(r.replacement))
	}
	return b
}
