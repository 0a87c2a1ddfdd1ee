package robots

import (
	"strings"
	"unicode/utf8"
)

// Rule is a single Allow or Disallow line.
type Rule struct {
	Pattern string
	Allow   bool
}

// Group is the set of rules following one or more User-agent lines.
type Group struct {
	Agents []string
	Rules  []Rule
}

// File is a parsed robots.txt in file order.
type File struct {
	Groups     []Group
	Directives int
}

// Parse reads robots.txt content permissively: unknown keys and malformed
// lines are skipped. Rules that appear before any User-agent line are
// ignored. Groups listing the same agent are kept separate.
func Parse(content string) File {
	content = strings.TrimPrefix(content, "\uFEFF")

	var f File
	var current *Group
	inRules := false

	for _, line := range splitLines(content) {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			f.Directives++
			if current == nil || inRules {
				f.Groups = append(f.Groups, Group{})
				current = &f.Groups[len(f.Groups)-1]
				inRules = false
			}
			current.Agents = append(current.Agents, value)
		case "allow", "disallow":
			f.Directives++
			if current == nil {
				continue
			}
			inRules = true
			current.Rules = append(current.Rules, Rule{Pattern: value, Allow: key == "allow"})
		}
	}
	return f
}

func splitLines(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' })
}

// SelectGroup picks the group for token: the group whose User-agent value is
// the longest case-insensitive substring of token wins, ties going to file
// order. Without a named match the first "*" group is used. It returns false
// when no group applies.
func (f File) SelectGroup(token string) (Group, bool) {
	token = strings.ToLower(token)

	best, bestLen := -1, 0
	wildcard := -1
	for i, g := range f.Groups {
		for _, agent := range g.Agents {
			a := strings.ToLower(agent)
			if a == "*" {
				if wildcard < 0 {
					wildcard = i
				}
				continue
			}
			if a == "" || !strings.Contains(token, a) {
				continue
			}
			if len(a) > bestLen {
				best, bestLen = i, len(a)
			}
		}
	}

	switch {
	case best >= 0:
		return f.Groups[best], true
	case wildcard >= 0:
		return f.Groups[wildcard], true
	default:
		return Group{}, false
	}
}

// Evaluate returns the deciding rule for path. The longest matching pattern
// wins, counting "*" and "$" as ordinary characters; ties favor Allow. Empty
// patterns have no effect. ok is false when no rule matches.
func (g Group) Evaluate(path string) (rule Rule, ok bool) {
	bestLen := -1
	for _, r := range g.Rules {
		if r.Pattern == "" || !Match(r.Pattern, path) {
			continue
		}
		n := utf8.RuneCountInString(r.Pattern)
		if n > bestLen || (n == bestLen && r.Allow && !rule.Allow) {
			rule, bestLen = r, n
		}
	}
	return rule, bestLen >= 0
}

// Match reports whether pattern matches path. "*" matches any run of
// characters and a trailing "$" anchors the end; otherwise the match is a
// prefix match.
func Match(pattern, path string) bool {
	anchored := strings.HasSuffix(pattern, "$")
	if anchored {
		pattern = pattern[:len(pattern)-1]
	}
	if !strings.Contains(pattern, "*") {
		if anchored {
			return path == pattern
		}
		return strings.HasPrefix(path, pattern)
	}
	return globMatch(pattern, path, anchored)
}

// globMatch is an iterative wildcard matcher with single-star backtracking.
func globMatch(pattern, path string, anchored bool) bool {
	p, s := 0, 0
	star, mark := -1, 0
	for s < len(path) {
		switch {
		case p < len(pattern) && pattern[p] == '*':
			star, mark = p, s
			p++
		case p < len(pattern) && pattern[p] == path[s]:
			p++
			s++
		case p == len(pattern) && !anchored:
			return true
		case star >= 0:
			p = star + 1
			mark++
			s = mark
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
