// Package output shapes the final tool response and enforces the caller's
// byte budget on its serialized form.
package output

import (
	"strconv"
	"unicode/utf8"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/chunk"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
)

// TruncationReason explains why a response is incomplete.
type TruncationReason string

const (
	ReasonToolOutputLimit     TruncationReason = "tool_output_limit"
	ReasonBrowserDOMTruncated TruncationReason = "browser_dom_truncated"
)

// Response is the successful tool result. Field order is the wire order.
type Response struct {
	RequestedURL     string           `json:"requested_url"`
	FinalURL         string           `json:"final_url"`
	FetchedAt        string           `json:"fetched_at"`
	Title            string           `json:"title,omitempty"`
	Language         string           `json:"language,omitempty"`
	Chunks           []chunk.Chunk    `json:"chunks"`
	RenderingMethod  string           `json:"rendering_method"`
	Truncated        bool             `json:"truncated"`
	TruncationReason TruncationReason `json:"truncation_reason,omitempty"`
	Notes            []Note           `json:"notes"`
}

// Budget carries the caller's output limits. Zero means unlimited.
type Budget struct {
	MaxOutputBytes         int
	AvailableCapacityBytes int
}

// Limit returns the effective byte limit, or 0 when unlimited.
func (b Budget) Limit() int {
	switch {
	case b.MaxOutputBytes <= 0:
		return max(b.AvailableCapacityBytes, 0)
	case b.AvailableCapacityBytes <= 0:
		return b.MaxOutputBytes
	default:
		return min(b.MaxOutputBytes, b.AvailableCapacityBytes)
	}
}

// Encode serializes resp as compact JSON.
func Encode(resp Response) ([]byte, error) {
	if resp.Chunks == nil {
		resp.Chunks = []chunk.Chunk{}
	}
	if resp.Notes == nil {
		resp.Notes = []Note{}
	}
	return sonic.Marshal(resp)
}

// Fit returns resp and its encoding, trimmed to the budget. Trailing chunks
// are dropped first; the last remaining chunk is then cut at the longest
// UTF-8 boundary that fits and its token count recomputed with counter.
func Fit(resp Response, budget Budget, counter chunk.TokenCounter) (Response, []byte, error) {
	resp.Notes = SortNotes(resp.Notes)
	resp.Chunks = append([]chunk.Chunk{}, resp.Chunks...)

	data, err := Encode(resp)
	if err != nil {
		return Response{}, nil, fetcherr.Wrap(fetcherr.Internal, err, "encode response")
	}
	limit := budget.Limit()
	if limit == 0 || len(data) <= limit {
		return resp, data, nil
	}

	resp.Truncated = true
	resp.TruncationReason = ReasonToolOutputLimit
	resp.Notes = SortNotes(append(resp.Notes, NoteToolOutputLimit))

	for len(resp.Chunks) > 1 {
		resp.Chunks = resp.Chunks[:len(resp.Chunks)-1]
		if data, err = Encode(resp); err != nil {
			return Response{}, nil, fetcherr.Wrap(fetcherr.Internal, err, "encode response")
		}
		if len(data) <= limit {
			return resp, data, nil
		}
	}

	if len(resp.Chunks) == 1 {
		if fitted, data, ok := fitText(resp, limit, counter); ok {
			return fitted, data, nil
		}
	} else if data, err = Encode(resp); err == nil && len(data) <= limit {
		return resp, data, nil
	}

	return Response{}, nil, fetcherr.New(fetcherr.Internal,
		"output budget of %d bytes cannot hold a minimal response", limit).
		With("error", "output_budget_too_small").
		With("limit_bytes", strconv.Itoa(limit))
}

// fitText binary-searches the longest prefix of the single chunk's text
// whose response encoding fits within limit.
func fitText(resp Response, limit int, counter chunk.TokenCounter) (Response, []byte, bool) {
	full := resp.Chunks[0]
	try := func(n int) (Response, []byte, bool) {
		c := full
		c.Text = full.Text[:n]
		c.TokenCount = counter.Count(c.Text)
		r := resp
		r.Chunks = []chunk.Chunk{c}
		data, err := Encode(r)
		if err != nil || len(data) > limit {
			return Response{}, nil, false
		}
		return r, data, true
	}

	var (
		best     Response
		bestData []byte
		found    bool
	)
	lo, hi := 0, len(full.Text)
	for lo <= hi {
		mid := lo + (hi-lo)/2
		cut := runeStart(full.Text, mid)
		if r, data, ok := try(cut); ok {
			best, bestData, found = r, data, true
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best, bestData, found
}

// runeStart moves n back to the nearest rune boundary in s.
func runeStart(s string, n int) int {
	if n >= len(s) {
		return len(s)
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}
