package chunk

import "strings"

// runesPerToken bounds how many runes a single token is assumed to cover
// when searching for a split point.
const runesPerToken = 8

// splitText breaks oversized prose at sentence boundaries, then whitespace,
// then rune boundaries.
func (s *state) splitText(text string, max int) []string {
	sentences := splitSentences(text)
	if len(sentences) <= 1 {
		return s.splitWords(text, max)
	}

	var out []string
	cur := ""
	for _, sentence := range sentences {
		candidate := sentence
		if cur != "" {
			candidate = cur + " " + sentence
		}
		switch {
		case s.counter.Count(candidate) <= max:
			cur = candidate
		case cur != "" && s.counter.Count(sentence) <= max:
			out = append(out, cur)
			cur = sentence
		default:
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			out = append(out, s.splitWords(sentence, max)...)
		}
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' || text[i+1] == '\n' {
				if s := strings.TrimSpace(text[start : i+1]); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func (s *state) splitWords(text string, max int) []string {
	var out []string
	cur := ""
	for _, word := range strings.Fields(text) {
		candidate := word
		if cur != "" {
			candidate = cur + " " + word
		}
		if s.counter.Count(candidate) <= max {
			cur = candidate
			continue
		}
		if cur != "" {
			out = append(out, cur)
			cur = ""
		}
		if s.counter.Count(word) <= max {
			cur = word
			continue
		}
		out = append(out, s.splitRunes(word, max)...)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

// splitRunes cuts text into the longest rune-aligned prefixes that fit.
// The search for each piece is bounded to a window of runesPerToken*max
// runes, widened only while the whole window still fits.
func (s *state) splitRunes(text string, max int) []string {
	runes := []rune(text)
	var out []string
	for pos := 0; pos < len(runes); {
		rest := runes[pos:]
		hi := min(len(rest), runesPerToken*max)
		for hi < len(rest) && s.counter.Count(string(rest[:hi])) <= max {
			hi = min(len(rest), hi*2)
		}
		lo := 1
		for lo < hi {
			mid := (lo + hi + 1) / 2
			if s.counter.Count(string(rest[:mid])) <= max {
				lo = mid
			} else {
				hi = mid - 1
			}
		}
		out = append(out, string(rest[:lo]))
		pos += lo
	}
	return out
}

// splitCode cuts a fenced block at line boundaries, reopening the fence with
// its language in every piece and closing it at the end of each piece.
func (s *state) splitCode(b block) []string {
	opening := b.fence + b.language
	body := b.lines[1:]
	if n := len(body); n > 0 && isFenceClose(body[n-1], b.fence) {
		body = body[:n-1]
	}
	wrap := func(lines []string) string {
		return opening + "\n" + strings.Join(lines, "\n") + "\n" + b.fence
	}

	var out []string
	var cur []string
	for _, line := range body {
		if s.counter.Count(wrap(append(cur[:len(cur):len(cur)], line))) <= s.max {
			cur = append(cur, line)
			continue
		}
		if len(cur) > 0 {
			out = append(out, wrap(cur))
			cur = nil
		}
		if s.counter.Count(wrap([]string{line})) <= s.max {
			cur = []string{line}
			continue
		}
		budget := s.max - s.counter.Count(wrap(nil)) - 1
		if budget < 1 {
			budget = 1
		}
		for _, piece := range s.splitRunes(line, budget) {
			out = append(out, wrap([]string{piece}))
		}
	}
	if len(cur) > 0 {
		out = append(out, wrap(cur))
	}
	return out
}

// splitList groups whole items greedily. An item that alone exceeds the
// budget is split as prose: the first piece keeps the marker and later
// pieces are indented by two spaces.
func (s *state) splitList(text string) []string {
	var out []string
	cur := ""
	for _, item := range listItems(text) {
		candidate := item
		if cur != "" {
			candidate = cur + "\n" + item
		}
		if s.counter.Count(candidate) <= s.max {
			cur = candidate
			continue
		}
		if cur != "" {
			out = append(out, cur)
			cur = ""
		}
		if s.counter.Count(item) <= s.max {
			cur = item
			continue
		}
		out = append(out, s.splitItem(item)...)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

const continuationIndent = "  "

func (s *state) splitItem(item string) []string {
	marker, rest := splitMarker(item)
	reserve := s.counter.Count(marker)
	if n := s.counter.Count(continuationIndent); n > reserve {
		reserve = n
	}
	budget := s.max - reserve - 1
	if budget < 1 {
		budget = 1
	}

	var out []string
	for i, piece := range s.splitText(rest, budget) {
		var formatted string
		if i == 0 {
			formatted = marker + piece
		} else {
			lines := strings.Split(piece, "\n")
			for j, l := range lines {
				lines[j] = continuationIndent + l
			}
			formatted = strings.Join(lines, "\n")
		}
		if s.counter.Count(formatted) > s.max {
			out = append(out, s.splitRunes(formatted, s.max)...)
			continue
		}
		out = append(out, formatted)
	}
	return out
}
