package fetch

import (
	"bytes"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

const metaScanLen = 1024

// Decoded is a body converted to UTF-8.
type Decoded struct {
	Text string
	// Charset is the canonical name of the encoding used.
	Charset string
	// Fallback is set when no usable charset was declared and the body was
	// read as UTF-8 with replacement.
	Fallback bool
	// Guess is the detector's best guess on fallback, for diagnostics.
	Guess string
}

// decode converts body to UTF-8. The declared charset is taken from the
// Content-Type header, then from a BOM, then for HTML from a <meta> tag in
// the first 1024 bytes.
func decode(body []byte, contentType string, kind Kind) Decoded {
	label := headerCharset(contentType)
	if label == "" {
		label = bomCharset(body)
	}
	if label == "" && kind == KindHTML {
		label = metaCharset(body)
	}

	if label != "" {
		if enc, name := charset.Lookup(label); enc != nil {
			text, err := enc.NewDecoder().Bytes(body)
			if err == nil {
				return Decoded{Text: stripBOM(string(text)), Charset: name}
			}
		}
	}

	d := Decoded{
		Text:     stripBOM(strings.ToValidUTF8(string(body), string(utf8.RuneError))),
		Charset:  "utf-8",
		Fallback: true,
	}
	if guess, err := chardet.NewTextDetector().DetectBest(body); err == nil {
		d.Guess = guess.Charset
	}
	return d
}

func headerCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["charset"])
}

func bomCharset(body []byte) string {
	switch {
	case bytes.HasPrefix(body, []byte{0xEF, 0xBB, 0xBF}):
		return "utf-8"
	case bytes.HasPrefix(body, []byte{0xFE, 0xFF}):
		return "utf-16be"
	case bytes.HasPrefix(body, []byte{0xFF, 0xFE}):
		return "utf-16le"
	}
	return ""
}

func stripBOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}

// metaCharset scans the head of an HTML document for
// <meta charset> or <meta http-equiv="content-type" content="...">.
func metaCharset(body []byte) string {
	if len(body) > metaScanLen {
		body = body[:metaScanLen]
	}
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "meta" || !hasAttr {
				continue
			}
			var httpEquiv, content string
			for {
				key, val, more := z.TagAttr()
				switch string(key) {
				case "charset":
					return strings.TrimSpace(string(val))
				case "http-equiv":
					httpEquiv = strings.ToLower(string(val))
				case "content":
					content = string(val)
				}
				if !more {
					break
				}
			}
			if httpEquiv == "content-type" && content != "" {
				if cs := headerCharset(content); cs != "" {
					return cs
				}
			}
		}
	}
}
