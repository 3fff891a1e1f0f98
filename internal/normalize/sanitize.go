package normalize

import (
	"regexp"
	"strings"
)

var (
	scriptBlockRe = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	htmlTagRe     = regexp.MustCompile(`<[^>]*>`)
)

// CleanText strips script blocks, HTML tags, and control characters from a
// text value. Tag contents are kept, only the markup is removed. Stripping
// repeats until the text stops changing so nested markup cannot reassemble
// into new tags. If cleaning would empty a non-empty input, the original
// text is returned unchanged so the payload never loses a message body.
func CleanText(s string) string {
	if s == "" {
		return s
	}
	cleaned := s
	for {
		next := scriptBlockRe.ReplaceAllString(cleaned, "")
		next = htmlTagRe.ReplaceAllString(next, "")
		if next == cleaned {
			break
		}
		cleaned = next
	}
	cleaned = stripControl(cleaned)
	if strings.TrimSpace(cleaned) == "" {
		return s
	}
	return cleaned
}

// stripControl removes control characters, keeping tab and newline.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
