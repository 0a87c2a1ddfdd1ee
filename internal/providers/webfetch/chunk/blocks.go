package chunk

import (
	"regexp"
	"strings"
)

type blockKind int

const (
	blockParagraph blockKind = iota
	blockHeading
	blockCode
	blockList
	blockBlank
)

type block struct {
	kind blockKind
	text string

	// heading
	title string

	// code
	fence    string
	language string
	lines    []string
}

var listItemPattern = regexp.MustCompile(`^\s{0,3}([-+*]|\d+[.)])(\s|$)`)

func splitLines(markdown string) []string {
	lines := strings.Split(markdown, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func isBlank(line string) bool { return strings.TrimSpace(line) == "" }

func parseBlocks(markdown string) []block {
	lines := splitLines(markdown)
	var blocks []block

	for i := 0; i < len(lines); {
		line := lines[i]

		if isBlank(line) {
			start := i
			for i < len(lines) && isBlank(lines[i]) {
				i++
			}
			blocks = append(blocks, block{kind: blockBlank, text: strings.Join(lines[start:i], "\n")})
			continue
		}

		if title, ok := parseHeading(line); ok {
			blocks = append(blocks, block{kind: blockHeading, text: line, title: title})
			i++
			continue
		}

		if fence, lang, ok := parseFenceOpen(line); ok {
			start := i
			i++
			for i < len(lines) {
				closed := isFenceClose(lines[i], fence)
				i++
				if closed {
					break
				}
			}
			code := lines[start:i]
			blocks = append(blocks, block{
				kind:     blockCode,
				text:     strings.Join(code, "\n"),
				fence:    fence,
				language: lang,
				lines:    code,
			})
			continue
		}

		if isListItem(line) {
			start := i
			i = scanList(lines, i)
			blocks = append(blocks, block{kind: blockList, text: strings.Join(lines[start:i], "\n")})
			continue
		}

		start := i
		for i < len(lines) {
			cur := lines[i]
			if isBlank(cur) || isListItem(cur) {
				break
			}
			if _, ok := parseHeading(cur); ok {
				break
			}
			if _, _, ok := parseFenceOpen(cur); ok {
				break
			}
			i++
		}
		blocks = append(blocks, block{kind: blockParagraph, text: strings.Join(lines[start:i], "\n")})
	}
	return blocks
}

// scanList returns the index just past the list starting at i. Blank lines
// stay in the list only when another item follows them.
func scanList(lines []string, i int) int {
	for i < len(lines) {
		cur := lines[i]
		switch {
		case isListItem(cur), isListContinuation(cur):
			i++
		case isBlank(cur):
			next := i + 1
			for next < len(lines) && isBlank(lines[next]) {
				next++
			}
			if next < len(lines) && isListItem(lines[next]) {
				i = next
				continue
			}
			return i
		default:
			return i
		}
	}
	return i
}

// parseHeading recognizes ATX headings and returns the normalized text.
func parseHeading(line string) (string, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return "", false
	}
	rest := trimmed[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return "", false
	}
	if strings.TrimSpace(rest) == "" {
		return "", false
	}

	text := strings.TrimSpace(rest)
	text = strings.TrimSpace(strings.TrimRight(text, "#"))
	return strings.Join(strings.Fields(text), " "), true
}

func parseFenceOpen(line string) (fence, language string, ok bool) {
	trimmed := strings.TrimLeft(line, " \t")
	if trimmed == "" || (trimmed[0] != '`' && trimmed[0] != '~') {
		return "", "", false
	}
	ch := trimmed[0]
	n := 0
	for n < len(trimmed) && trimmed[n] == ch {
		n++
	}
	if n < 3 {
		return "", "", false
	}
	if fields := strings.Fields(trimmed[n:]); len(fields) > 0 {
		language = fields[0]
	}
	return trimmed[:n], language, true
}

func isFenceClose(line, fence string) bool {
	trimmed := strings.TrimSpace(line)
	ch := fence[0]
	n := 0
	for n < len(trimmed) && trimmed[n] == ch {
		n++
	}
	return n >= len(fence) && strings.TrimSpace(trimmed[n:]) == ""
}

func isListItem(line string) bool {
	return listItemPattern.MatchString(line)
}

func isListContinuation(line string) bool {
	if isBlank(line) || isListItem(line) {
		return false
	}
	return strings.HasPrefix(line, "  ") || strings.HasPrefix(line, "\t")
}

// listItems splits a list block into items with their continuation lines.
func listItems(text string) []string {
	var items []string
	var cur []string
	for _, line := range splitLines(text) {
		if isListItem(line) {
			if len(cur) > 0 {
				items = append(items, strings.Join(cur, "\n"))
			}
			cur = []string{line}
			continue
		}
		if len(cur) > 0 {
			cur = append(cur, line)
		}
	}
	if len(cur) > 0 {
		items = append(items, strings.Join(cur, "\n"))
	}
	return items
}

// splitMarker separates the list marker and its trailing space from the
// item's content.
func splitMarker(item string) (marker, rest string) {
	loc := listItemPattern.FindStringIndex(item)
	if loc == nil {
		return "", item
	}
	return item[:loc[1]], item[loc[1]:]
}
