// Package extract converts fetched HTML into normalized Markdown.
//
// Boilerplate is removed first, then a content root is chosen and rendered
// with html-to-markdown using the rules in convert.go. The same input always
// produces the same output.
package extract

import (
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/canon"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
)

// MinContentChars is the minimum number of non-whitespace characters a
// document must yield.
const MinContentChars = 50

var boilerplateTags = []string{
	"script", "style", "noscript", "nav", "footer", "header",
	"aside", "form", "template", "iframe", "svg",
}

var boilerplateTokens = map[string]struct{}{
	"nav": {}, "navbar": {}, "navigation": {}, "header": {}, "footer": {},
	"sidebar": {}, "menu": {}, "breadcrumb": {}, "breadcrumbs": {},
	"advertisement": {}, "ad": {}, "ads": {}, "social": {}, "share": {},
	"sharing": {}, "comment": {}, "comments": {}, "related": {},
	"recommended": {}, "popular": {}, "trending": {}, "subscribe": {},
	"newsletter": {}, "cookie": {}, "cookies": {}, "banner": {},
	"popup": {}, "modal": {}, "overlay": {},
}

var rootSelectors = []string{"main", "article", "[role=main]", "#content", ".content", "body"}

// Document is the extraction result.
type Document struct {
	Markdown string
	Title    string
	Language string
}

// Extract converts html to Markdown. Relative links resolve against
// <base href> when it is http(s), otherwise against final.
func Extract(html string, final canon.URL) (Document, error) {
	html = strings.TrimLeftFunc(strings.TrimPrefix(html, "\uFEFF"), unicode.IsSpace)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Document{}, fetcherr.Wrap(fetcherr.ExtractionFailed, err, "html could not be parsed")
	}

	out := Document{
		Title:    title(doc),
		Language: strings.TrimSpace(doc.Find("html").First().AttrOr("lang", "")),
	}
	base := baseURL(doc, final.Std())

	removeBoilerplate(doc)

	root := contentRoot(doc)
	if root == nil {
		return Document{}, fetcherr.New(fetcherr.ExtractionFailed, "no extractable content found")
	}

	markdown, err := convert(root, base)
	if err != nil {
		return Document{}, fetcherr.Wrap(fetcherr.ExtractionFailed, err, "markdown conversion failed")
	}
	out.Markdown = Normalize(markdown)

	if n := NonSpaceLen(out.Markdown); n < MinContentChars {
		return Document{}, fetcherr.New(fetcherr.ExtractionFailed,
			"extracted content too short (%d non-whitespace chars, minimum %d)", n, MinContentChars).
			With("chars", strconv.Itoa(n))
	}
	return out, nil
}

func title(doc *goquery.Document) string {
	var found string
	doc.Find("title").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = collapse(s.Text())
		return found == ""
	})
	if found != "" {
		return found
	}
	return collapse(doc.Find("h1").First().Text())
}

func baseURL(doc *goquery.Document, final *url.URL) *url.URL {
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok {
		return final
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return final
	}
	resolved := final.ResolveReference(ref)
	if !isWebScheme(resolved.Scheme) {
		return final
	}
	return resolved
}

func removeBoilerplate(doc *goquery.Document) {
	doc.Find(strings.Join(boilerplateTags, ",")).Remove()
	doc.Find(`[aria-hidden="true"],[hidden],[role="navigation"]`).Remove()
	doc.Find("[class],[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return hasBoilerplateToken(s.AttrOr("class", "")) || hasBoilerplateToken(s.AttrOr("id", ""))
	}).Remove()
}

func hasBoilerplateToken(attr string) bool {
	for _, tok := range strings.Fields(strings.ToLower(attr)) {
		if _, ok := boilerplateTokens[tok]; ok {
			return true
		}
	}
	return false
}

// contentRoot returns the first candidate with enough text, or the
// non-empty candidate with the most text.
func contentRoot(doc *goquery.Document) *goquery.Selection {
	var best *goquery.Selection
	bestLen := 0
	for _, sel := range rootSelectors {
		var found *goquery.Selection
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			n := NonSpaceLen(s.Text())
			if n >= MinContentChars {
				found = s
				return false
			}
			if n > bestLen {
				best, bestLen = s, n
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	return best
}

// NonSpaceLen counts the non-whitespace runes in s.
func NonSpaceLen(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

func isWebScheme(scheme string) bool {
	return strings.EqualFold(scheme, "http") || strings.EqualFold(scheme, "https")
}
