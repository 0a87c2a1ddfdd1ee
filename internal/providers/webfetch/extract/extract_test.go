package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/canon"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
)

var final = canon.MustCanonicalize("https://example.com/docs/page")

const filler = "This paragraph carries enough words to clear the minimum content threshold."

func TestExtractArticle(t *testing.T) {
	html := `<!DOCTYPE html>
<html lang="en">
<head><title>  Example   Page </title></head>
<body>
  <nav><a href="/home">Home</a></nav>
  <header><h1>Site banner</h1></header>
  <main>
    <h1>Main   Heading</h1>
    <p>Read the <a href="../guide">guide</a> and <strong>bold</strong> <em>text</em> with <code>x := 1</code>.</p>
    <p>` + filler + `</p>
    <div class="share-buttons social">Share this</div>
    <ul>
      <li>First</li>
      <li>Second
        <ol start="3"><li>Nested three</li><li>Nested four</li></ol>
      </li>
    </ul>
    <blockquote><p>Quoted line</p></blockquote>
    <pre><code class="language-go">func main() {
	fmt.Println("hi")
}
</code></pre>
    <img src="/img.png" alt="Diagram">
    <img src="/decor.png">
    <a href="javascript:alert(1)">Click</a>
  </main>
  <footer>Copyright</footer>
</body>
</html>`

	doc, err := Extract(html, final)
	require.NoError(t, err)

	assert.Equal(t, "Example Page", doc.Title)
	assert.Equal(t, "en", doc.Language)

	md := doc.Markdown
	assert.Contains(t, md, "# Main Heading\n")
	assert.Contains(t, md, "Read the [guide](https://example.com/guide) and **bold** *text* with `x := 1`.")
	assert.Contains(t, md, "- First\n- Second\n  3. Nested three\n  4. Nested four\n")
	assert.Contains(t, md, "> Quoted line\n")
	assert.Contains(t, md, "```go\nfunc main() {\n\tfmt.Println(\"hi\")\n}\n```\n")
	assert.Contains(t, md, "![Diagram](https://example.com/img.png)")
	assert.Contains(t, md, "Click")

	assert.NotContains(t, md, "Home")
	assert.NotContains(t, md, "Site banner")
	assert.NotContains(t, md, "Share this")
	assert.NotContains(t, md, "Copyright")
	assert.NotContains(t, md, "decor.png")
	assert.NotContains(t, md, "javascript")
	assert.True(t, strings.HasSuffix(md, "\n"))
	assert.False(t, strings.HasSuffix(md, "\n\n"))
}

func TestExtractIsDeterministic(t *testing.T) {
	html := "<html><body><article><p>" + filler + "</p><p>Second paragraph.</p></article></body></html>"

	first, err := Extract(html, final)
	require.NoError(t, err)
	second, err := Extract(html, final)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExtractRootFallsBackWhenMainIsThin(t *testing.T) {
	html := `<html><body>
<main><p>Tiny</p></main>
<div id="content"><p>` + filler + `</p></div>
</body></html>`

	doc, err := Extract(html, final)
	require.NoError(t, err)
	assert.Contains(t, doc.Markdown, filler)
	assert.NotContains(t, doc.Markdown, "Tiny")
}

func TestExtractFailures(t *testing.T) {
	tests := []struct {
		name string
		html string
	}{
		{"empty", ""},
		{"only boilerplate", "<html><body><nav>" + filler + "</nav><footer>" + filler + "</footer></body></html>"},
		{"too short", "<html><body><p>Just a few words here.</p></body></html>"},
		{"hidden", `<html><body><div aria-hidden="true">` + filler + `</div><div hidden>` + filler + `</div></body></html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.html, final)
			fe, ok := fetcherr.As(err)
			require.True(t, ok)
			assert.Equal(t, fetcherr.ExtractionFailed, fe.Code)
			assert.False(t, fe.Retryable)
		})
	}
}

func TestBoilerplateTokensAreWholeWords(t *testing.T) {
	html := `<html><body>
<div class="navigate">` + filler + `</div>
<div class="NAV">Navigation junk</div>
<div id="ads">Advert</div>
</body></html>`

	doc, err := Extract(html, final)
	require.NoError(t, err)
	assert.Contains(t, doc.Markdown, filler)
	assert.NotContains(t, doc.Markdown, "Navigation junk")
	assert.NotContains(t, doc.Markdown, "Advert")
}

func TestBaseHref(t *testing.T) {
	html := `<html><head><base href="https://cdn.example.org/assets/"></head><body>
<p>` + filler + ` See <a href="file.html">file</a>.</p></body></html>`
	doc, err := Extract(html, final)
	require.NoError(t, err)
	assert.Contains(t, doc.Markdown, "[file](https://cdn.example.org/assets/file.html)")

	html = `<html><head><base href="ftp://files.example.org/"></head><body>
<p>` + filler + ` See <a href="file.html">file</a>.</p></body></html>`
	doc, err = Extract(html, final)
	require.NoError(t, err)
	assert.Contains(t, doc.Markdown, "[file](https://example.com/docs/file.html)")
}

func TestTables(t *testing.T) {
	html := `<html><body><p>` + filler + `</p>
<table>
<thead><tr><th>Name</th><th>Value</th></tr></thead>
<tbody><tr><td>a|b</td><td>1</td></tr><tr><td>longer cell</td></tr></tbody>
</table></body></html>`

	doc, err := Extract(html, final)
	require.NoError(t, err)
	assert.Contains(t, doc.Markdown, strings.Join([]string{
		"| Name        | Value |",
		"| ----------- | ----- |",
		`| a\|b        | 1     |`,
		"| longer cell |       |",
	}, "\n"))
}

func TestDefinitionListFigureAndRule(t *testing.T) {
	html := `<html><body><p>` + filler + `</p>
<dl><dt>Term</dt><dd>Definition text</dd></dl>
<hr>
<figure><img src="chart.png" alt="Chart"><figcaption>Quarterly results</figcaption></figure>
</body></html>`

	doc, err := Extract(html, final)
	require.NoError(t, err)
	assert.Contains(t, doc.Markdown, "**Term**\n: Definition text\n")
	assert.Contains(t, doc.Markdown, "\n---\n")
	assert.Contains(t, doc.Markdown, "![Chart](https://example.com/docs/chart.png)\n*Quarterly results*\n")
}

func TestPreFenceGrowsPastBackticks(t *testing.T) {
	html := "<html><body><p>" + filler + "</p><pre>use ``` fences</pre></body></html>"

	doc, err := Extract(html, final)
	require.NoError(t, err)
	assert.Contains(t, doc.Markdown, "````\nuse ``` fences\n````\n")
}

func TestTitleFallsBackToH1(t *testing.T) {
	html := "<html><head><title>  </title></head><body><h1>Heading  Title</h1><p>" + filler + "</p></body></html>"

	doc, err := Extract(html, final)
	require.NoError(t, err)
	assert.Equal(t, "Heading Title", doc.Title)
	assert.Empty(t, doc.Language)
}

func TestNormalize(t *testing.T) {
	in := "\n\nline one  \r\nline two\n\n\n\n\nline\u200b three\u202e\n\n"
	assert.Equal(t, "line one\nline two\n\n\nline three\n", Normalize(in))
	assert.Equal(t, "", Normalize(" \n\t\n"))
}

func TestHasSPAMarkers(t *testing.T) {
	assert.True(t, HasSPAMarkers(`<html><body><div id="__next"></div></body></html>`))
	assert.True(t, HasSPAMarkers(`<html><body><div id="root" data-reactroot=""></div></body></html>`))
	assert.True(t, HasSPAMarkers(`<html><body><app-root ng-version="17.0.0"></app-root></body></html>`))
	assert.True(t, HasSPAMarkers(`<html><body><div data-server-rendered="true"></div></body></html>`))
	assert.False(t, HasSPAMarkers(`<html><body><div id="main"><p>Static</p></div></body></html>`))
}

func TestInlineCodeDelimiterOutgrowsBackticks(t *testing.T) {
	html := "<html><body><p>" + filler + "</p><p>Use <code>a`b</code> or <code>x``y</code> or <code>plain</code>.</p></body></html>"

	doc, err := Extract(html, final)
	require.NoError(t, err)
	assert.Contains(t, doc.Markdown, "Use `` a`b `` or ``` x``y ``` or `plain`.")
}

func TestStrikethroughAndLineBreaks(t *testing.T) {
	html := "<html><body><p>" + filler + "</p><p><del>old</del> new<br>next line</p></body></html>"

	doc, err := Extract(html, final)
	require.NoError(t, err)
	assert.Contains(t, doc.Markdown, "~~old~~ new\nnext line")
}

func TestListItemsWithParagraphsAndCode(t *testing.T) {
	html := `<html><body><p>` + filler + `</p>
<ol><li><p>Install</p><pre>go get ./...</pre></li><li>Run</li></ol></body></html>`

	doc, err := Extract(html, final)
	require.NoError(t, err)
	assert.Contains(t, doc.Markdown, "1. Install\n")
	assert.Contains(t, doc.Markdown, "   ```\n   go get ./...\n   ```\n")
	assert.Contains(t, doc.Markdown, "2. Run\n")
	assert.NotContains(t, doc.Markdown, "\x1d")
}
