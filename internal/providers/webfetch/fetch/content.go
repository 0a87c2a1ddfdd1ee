package fetch

import (
	"bytes"
	"html"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
)

// Kind is the document class a response was accepted as.
type Kind string

const (
	KindHTML Kind = "html"
	KindText Kind = "text"
)

const sniffLen = 512

var binaryMagic = [][]byte{
	[]byte("%PDF-"),
	[]byte("\x89PNG\r\n\x1a\n"),
	[]byte("GIF87a"),
	[]byte("GIF89a"),
	[]byte("\xFF\xD8\xFF"),
	[]byte("PK\x03\x04"),
}

// classify decides the document kind from the Content-Type header, or by
// sniffing the body when the header is absent.
func classify(contentType string, body []byte) (Kind, error) {
	if strings.TrimSpace(contentType) != "" {
		media := mediaType(contentType)
		switch media {
		case "text/html", "application/xhtml+xml":
			return KindHTML, nil
		case "text/plain":
			return KindText, nil
		default:
			return "", fetcherr.New(fetcherr.UnsupportedContentType,
				"unsupported content type %q", media).
				With("content_type", media)
		}
	}
	return sniff(body)
}

func mediaType(contentType string) string {
	media, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		media, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(media))
}

// sniff inspects the first bytes after any BOM and leading whitespace.
func sniff(body []byte) (Kind, error) {
	head := body
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	head = trimBOM(head)
	head = bytes.TrimLeft(head, " \t\r\n\f")

	if isBinary(head) {
		label := mimetype.Detect(body).String()
		return "", fetcherr.New(fetcherr.UnsupportedContentType,
			"response body is binary (%s)", label).
			With("content_type", label).
			With("sniffed", "true")
	}

	lower := bytes.ToLower(head)
	if bytes.HasPrefix(lower, []byte("<!doctype")) || bytes.HasPrefix(lower, []byte("<html")) {
		return KindHTML, nil
	}
	return KindText, nil
}

func isBinary(head []byte) bool {
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	for _, magic := range binaryMagic {
		if bytes.HasPrefix(head, magic) {
			return true
		}
	}
	return len(head) >= 8 && bytes.Equal(head[4:8], []byte("ftyp"))
}

func trimBOM(b []byte) []byte {
	switch {
	case bytes.HasPrefix(b, []byte{0xEF, 0xBB, 0xBF}):
		return b[3:]
	case bytes.HasPrefix(b, []byte{0xFE, 0xFF}), bytes.HasPrefix(b, []byte{0xFF, 0xFE}):
		return b[2:]
	}
	return b
}

// wrapText renders plain text as a preformatted HTML document so that it
// flows through the same extractor as HTML.
func wrapText(text string) string {
	return "<html><body><pre>" + html.EscapeString(text) + "</pre></body></html>"
}
