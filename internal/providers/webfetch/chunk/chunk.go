// Package chunk splits extracted Markdown into token-bounded chunks that
// follow the document's block structure and heading hierarchy.
package chunk

import (
	"strings"
	"unicode"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
)

const (
	MinMaxTokens     = 128
	MaxMaxTokens     = 2048
	DefaultMaxTokens = 600
)

// Chunk is one piece of the document. TokenCount counts Text only.
type Chunk struct {
	Heading    string `json:"heading"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
}

// TokenCounter counts tokens in a string.
type TokenCounter interface {
	Count(text string) int
}

// Chunker splits Markdown using a fixed token counter.
type Chunker struct {
	counter TokenCounter
}

// New creates a Chunker.
func New(counter TokenCounter) *Chunker {
	return &Chunker{counter: counter}
}

// Counter returns the chunker's token counter.
func (c *Chunker) Counter() TokenCounter { return c.counter }

// ValidateMaxTokens rejects budgets outside [MinMaxTokens, MaxMaxTokens].
// Values are never clamped.
func ValidateMaxTokens(n int) error {
	if n < MinMaxTokens || n > MaxMaxTokens {
		return fetcherr.New(fetcherr.BadArgs, "max_chunk_tokens must be between %d and %d", MinMaxTokens, MaxMaxTokens).
			With("field", "max_chunk_tokens")
	}
	return nil
}

// Chunk splits markdown into chunks of at most maxTokens tokens each.
func (c *Chunker) Chunk(markdown string, maxTokens int) ([]Chunk, error) {
	if err := ValidateMaxTokens(maxTokens); err != nil {
		return nil, err
	}

	s := &state{counter: c.counter, max: maxTokens}
	for _, b := range parseBlocks(markdown) {
		s.add(b)
	}
	s.finish()
	return s.chunks, nil
}

// state is the running accumulation for one Chunk call.
type state struct {
	counter TokenCounter
	max     int

	chunks  []Chunk
	heading string
	text    string
	tokens  int
}

func (s *state) add(b block) {
	switch b.kind {
	case blockHeading:
		s.flush()
		s.heading = b.title
		if n := s.counter.Count(b.text); n > s.max {
			s.emit(s.splitText(b.text, s.max))
			return
		}
		s.text = b.text
		s.tokens = s.counter.Count(s.text)
	case blockBlank:
		if s.text != "" {
			if !strings.HasSuffix(s.text, "\n") {
				s.text += "\n"
			}
			s.text += strings.Repeat("\n", strings.Count(b.text, "\n")+1)
		}
	default:
		n := s.counter.Count(b.text)
		if s.tokens+n > s.max && hasContent(s.text) {
			s.flush()
		}
		if n > s.max {
			s.flush()
			switch b.kind {
			case blockCode:
				s.emit(s.splitCode(b))
			case blockList:
				s.emit(s.splitList(b.text))
			default:
				s.emit(s.splitText(b.text, s.max))
			}
			return
		}
		prev := s.text
		s.append(b.text)
		if s.tokens > s.max {
			s.text = prev
			s.flush()
			s.append(b.text)
		}
	}
}

func (s *state) append(text string) {
	if s.text != "" && !strings.HasSuffix(s.text, "\n") {
		s.text += "\n"
	}
	s.text += text
	s.tokens = s.counter.Count(strings.TrimRightFunc(s.text, unicode.IsSpace))
}

func (s *state) flush() {
	if hasContent(s.text) {
		text := strings.TrimRightFunc(s.text, unicode.IsSpace)
		s.chunks = append(s.chunks, Chunk{Heading: s.heading, Text: text, TokenCount: s.counter.Count(text)})
	}
	s.text = ""
	s.tokens = 0
}

func (s *state) finish() { s.flush() }

func (s *state) emit(texts []string) {
	for _, t := range texts {
		if !hasContent(t) {
			continue
		}
		s.chunks = append(s.chunks, Chunk{Heading: s.heading, Text: t, TokenCount: s.counter.Count(t)})
	}
}

func hasContent(text string) bool {
	return strings.IndexFunc(text, func(r rune) bool { return !unicode.IsSpace(r) }) >= 0
}
