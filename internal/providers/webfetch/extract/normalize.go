package extract

import (
	"strings"
	"unicode"
)

// collapse joins whitespace-separated fields with single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// invisible reports zero-width and bidirectional control characters.
func invisible(r rune) bool {
	switch {
	case r >= 0x200B && r <= 0x200F,
		r >= 0x202A && r <= 0x202E,
		r >= 0x2060 && r <= 0x2064,
		r == 0xFEFF:
		return true
	}
	return false
}

// StripInvisible removes zero-width and bidi control characters.
func StripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		if invisible(r) {
			return -1
		}
		return r
	}, s)
}

// Normalize applies the final Markdown cleanup: LF line endings, no
// trailing whitespace, at most two consecutive blank lines, no leading or
// trailing blank lines and exactly one final newline.
func Normalize(s string) string {
	s = StripInvisible(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var out []string
	blanks := 0
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if line == "" {
			if len(out) == 0 {
				continue
			}
			blanks++
			if blanks <= 2 {
				out = append(out, "")
			}
			continue
		}
		blanks = 0
		out = append(out, line)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, "\n") + "\n"
}
