package extract

import (
	"net/url"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
)

// Separators let container rules split the output of their child rules.
// They never survive conversion.
const (
	itemSep = "\x1d"
	rowSep  = "\x1e"
	footSep = "\x1c"
	cellSep = "\x1f"
)

var sentinels = strings.NewReplacer(itemSep, "", rowSep, "", footSep, "", cellSep, "")

var skipped = []string{
	"script", "style", "noscript", "template", "head",
	"input", "button", "select", "textarea",
	"iframe", "object", "embed", "canvas",
	"svg", "video", "audio", "source", "track", "map", "area",
}

var options = md.Options{
	HeadingStyle:     "atx",
	HorizontalRule:   "---",
	BulletListMarker: "-",
	CodeBlockStyle:   "fenced",
	Fence:            "```",
	EmDelimiter:      "*",
	StrongDelimiter:  "**",
	LinkStyle:        "inlined",
	EscapeMode:       "disabled",
}

// converter holds the per-document state the Markdown rules need.
type converter struct {
	base *url.URL
}

// newMarkdown builds an html-to-markdown converter whose links and images
// resolve against base. Lists, code, tables, definition lists and figures
// use the rules below; everything else uses the CommonMark rules.
func newMarkdown(base *url.URL) *md.Converter {
	c := &converter{base: base}
	opts := options

	conv := md.NewConverter("", true, &opts)
	conv.Use(plugin.Strikethrough("~~"))
	conv.Remove(skipped...)
	conv.AddRules(
		md.Rule{Filter: []string{"div", "section", "article", "main"}, Replacement: block},
		md.Rule{Filter: []string{"ul", "ol"}, Replacement: list},
		md.Rule{Filter: []string{"li"}, Replacement: listItem},
		md.Rule{Filter: []string{"pre"}, Replacement: pre},
		md.Rule{Filter: []string{"code"}, Replacement: code},
		md.Rule{Filter: []string{"a"}, Replacement: c.link},
		md.Rule{Filter: []string{"img"}, Replacement: c.image},
		md.Rule{Filter: []string{"table"}, Replacement: table},
		md.Rule{Filter: []string{"tr"}, Replacement: tableRow},
		md.Rule{Filter: []string{"td", "th"}, Replacement: tableCell},
		md.Rule{Filter: []string{"dl"}, Replacement: block},
		md.Rule{Filter: []string{"dt"}, Replacement: term},
		md.Rule{Filter: []string{"dd"}, Replacement: definition},
		md.Rule{Filter: []string{"figure"}, Replacement: figure},
		md.Rule{Filter: []string{"figcaption"}, Replacement: caption},
	)
	return conv
}

// convert renders the selection and its descendants as Markdown.
func convert(root *goquery.Selection, base *url.URL) (string, error) {
	src, err := goquery.OuterHtml(root)
	if err != nil {
		return "", err
	}
	out, err := newMarkdown(base).ConvertString(src)
	if err != nil {
		return "", err
	}
	return sentinels.Replace(out), nil
}

func block(content string, _ *goquery.Selection, _ *md.Options) *string {
	return md.String("\n\n" + content + "\n\n")
}

// list joins the items emitted by listItem. A list nested in an item starts
// on the next line with no blank line before it.
func list(content string, selec *goquery.Selection, _ *md.Options) *string {
	parts := strings.Split(content, itemSep)
	var b strings.Builder
	for _, item := range parts[1:] {
		item = strings.TrimRightFunc(item, unicode.IsSpace)
		if item == "" {
			continue
		}
		b.WriteString(item)
		b.WriteByte('\n')
	}
	if b.Len() == 0 {
		return md.String("")
	}
	if selec.Parent().Is("li") {
		return md.String("\n" + b.String())
	}
	return md.String("\n\n" + b.String() + "\n")
}

// listItem prefixes the item with its marker and indents continuation lines
// by the marker width. Ordered lists honor the start attribute.
func listItem(content string, selec *goquery.Selection, _ *md.Options) *string {
	marker := "- "
	if parent := selec.Parent(); parent.Is("ol") {
		start := 1
		if n, err := strconv.Atoi(strings.TrimSpace(parent.AttrOr("start", ""))); err == nil {
			start = n
		}
		marker = strconv.Itoa(start+selec.PrevAllFiltered("li").Length()) + ". "
	}
	indent := strings.Repeat(" ", utf8.RuneCountInString(marker))

	var lines []string
	blank := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		switch {
		case line == "":
			blank = len(lines) > 0
			continue
		case len(lines) == 0:
			lines = append(lines, marker+collapse(line))
			continue
		}
		if blank {
			lines = append(lines, "")
			blank = false
		}
		lines = append(lines, indent+line)
	}
	if len(lines) == 0 {
		return md.String("")
	}
	return md.String(itemSep + strings.Join(lines, "\n") + "\n")
}

func pre(_ string, selec *goquery.Selection, _ *md.Options) *string {
	language := codeLanguage(selec)
	if language == "" {
		language = codeLanguage(selec.Find("code").First())
	}
	text := selec.Text()
	text = strings.TrimPrefix(text, "\n")
	text = strings.TrimSuffix(text, "\n")
	fence := strings.Repeat("`", fenceLength(text))
	return md.String("\n\n" + fence + language + "\n" + text + "\n" + fence + "\n\n")
}

// code renders inline code with a delimiter one backtick longer than the
// longest run inside it, padded with spaces when the text has backticks.
func code(_ string, selec *goquery.Selection, _ *md.Options) *string {
	text := collapse(selec.Text())
	if text == "" {
		return md.String("")
	}
	n := longestRun(text, '`') + 1
	if n > 1 {
		text = " " + text + " "
	}
	tick := strings.Repeat("`", n)
	return md.String(tick + text + tick)
}

// fenceLength is one longer than the longest backtick run in text, and at
// least three.
func fenceLength(text string) int {
	return max(longestRun(text, '`')+1, 3)
}

func longestRun(text string, c byte) int {
	longest, run := 0, 0
	for i := 0; i < len(text); i++ {
		if text[i] == c {
			run++
			longest = max(longest, run)
			continue
		}
		run = 0
	}
	return longest
}

func codeLanguage(selec *goquery.Selection) string {
	for _, cls := range strings.Fields(selec.AttrOr("class", "")) {
		if lang, ok := strings.CutPrefix(cls, "language-"); ok && lang != "" {
			return lang
		}
		if lang, ok := strings.CutPrefix(cls, "lang-"); ok && lang != "" {
			return lang
		}
	}
	return ""
}

// link keeps only http(s) targets; anything else degrades to its text.
func (c *converter) link(content string, selec *goquery.Selection, _ *md.Options) *string {
	text := collapse(content)
	resolved, ok := c.resolve(strings.TrimSpace(selec.AttrOr("href", "")))
	switch {
	case !ok:
		return md.String(text)
	case text == "":
		return md.String(resolved)
	}
	return md.String("[" + text + "](" + resolved + ")")
}

// image drops images without alt text or an http(s) source.
func (c *converter) image(_ string, selec *goquery.Selection, _ *md.Options) *string {
	alt := collapse(selec.AttrOr("alt", ""))
	resolved, ok := c.resolve(strings.TrimSpace(selec.AttrOr("src", "")))
	if alt == "" || !ok {
		return md.String("")
	}
	return md.String("![" + alt + "](" + resolved + ")")
}

// resolve makes ref absolute and reports whether it is an http(s) URL.
func (c *converter) resolve(ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	abs := c.base.ResolveReference(u)
	if !isWebScheme(abs.Scheme) {
		return "", false
	}
	return abs.String(), true
}

func tableCell(content string, _ *goquery.Selection, _ *md.Options) *string {
	text := collapse(sentinels.Replace(content))
	return md.String(cellSep + strings.ReplaceAll(text, "|", `\|`))
}

// tableRow marks footer rows so that table can move them last.
func tableRow(content string, selec *goquery.Selection, _ *md.Options) *string {
	if selec.Parent().Is("tfoot") {
		return md.String(footSep + content)
	}
	return md.String(rowSep + content)
}

// table renders a pipe table padded to the widest cell of each column. The
// first row is the header; footer rows follow the body.
func table(content string, _ *goquery.Selection, _ *md.Options) *string {
	var body, foot [][]string
	for i, seg := range strings.Split(content, rowSep) {
		parts := strings.Split(seg, footSep)
		if i > 0 {
			body = appendRow(body, parts[0])
		}
		for _, p := range parts[1:] {
			foot = appendRow(foot, p)
		}
	}
	rows := append(body, foot...)
	if len(rows) == 0 {
		return md.String("")
	}

	cols := 0
	for _, r := range rows {
		cols = max(cols, len(r))
	}
	widths := make([]int, cols)
	for i := range widths {
		widths[i] = 3
	}
	for _, r := range rows {
		for i, cell := range r {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteByte('|')
		for i := 0; i < cols; i++ {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			b.WriteByte(' ')
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell)))
			b.WriteString(" |")
		}
		b.WriteByte('\n')
	}

	writeRow(rows[0])
	b.WriteByte('|')
	for _, w := range widths {
		b.WriteByte(' ')
		b.WriteString(strings.Repeat("-", w))
		b.WriteString(" |")
	}
	b.WriteByte('\n')
	for _, r := range rows[1:] {
		writeRow(r)
	}
	return md.String("\n\n" + b.String() + "\n")
}

func appendRow(rows [][]string, seg string) [][]string {
	cells := strings.Split(seg, cellSep)[1:]
	if len(cells) == 0 {
		return rows
	}
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return append(rows, cells)
}

func term(content string, _ *goquery.Selection, _ *md.Options) *string {
	return md.String("**" + collapse(content) + "**\n")
}

func definition(content string, _ *goquery.Selection, _ *md.Options) *string {
	return md.String(": " + collapse(content) + "\n\n")
}

// figure puts the image and its caption on consecutive lines.
func figure(content string, _ *goquery.Selection, _ *md.Options) *string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return md.String("")
	}
	return md.String("\n\n" + strings.Join(lines, "\n") + "\n\n")
}

func caption(content string, _ *goquery.Selection, _ *md.Options) *string {
	text := collapse(content)
	if text == "" {
		return md.String("")
	}
	return md.String("\n*" + text + "*\n")
}
