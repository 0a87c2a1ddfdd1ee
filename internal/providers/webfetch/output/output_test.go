package output

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/chunk"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
)

var counter = chunk.EstimateCounter{}

func sample(texts ...string) Response {
	r := Response{
		RequestedURL:    "https://example.com",
		FinalURL:        "https://example.com/",
		FetchedAt:       "2024-05-01T12:00:00Z",
		Title:           "Example",
		RenderingMethod: "http",
	}
	for _, t := range texts {
		r.Chunks = append(r.Chunks, chunk.Chunk{Text: t, TokenCount: counter.Count(t)})
	}
	return r
}

func TestEncodeFieldOrder(t *testing.T) {
	data, err := Encode(sample("body"))
	require.NoError(t, err)
	assert.Equal(t,
		`{"requested_url":"https://example.com","final_url":"https://example.com/","fetched_at":"2024-05-01T12:00:00Z","title":"Example","chunks":[{"heading":"","text":"body","token_count":1}],"rendering_method":"http","truncated":false,"notes":[]}`,
		string(data))
}

func TestBudgetLimit(t *testing.T) {
	tests := []struct {
		budget Budget
		want   int
	}{
		{Budget{}, 0},
		{Budget{MaxOutputBytes: 100}, 100},
		{Budget{AvailableCapacityBytes: 80}, 80},
		{Budget{MaxOutputBytes: 100, AvailableCapacityBytes: 80}, 80},
		{Budget{MaxOutputBytes: 60, AvailableCapacityBytes: 80}, 60},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.budget.Limit())
	}
}

func TestFitUnderBudgetUnchanged(t *testing.T) {
	resp, data, err := Fit(sample("a", "b"), Budget{MaxOutputBytes: 10000}, counter)
	require.NoError(t, err)
	assert.False(t, resp.Truncated)
	assert.Len(t, resp.Chunks, 2)
	assert.NotContains(t, string(data), "tool_output_limit")
}

func TestFitDropsTrailingChunks(t *testing.T) {
	in := sample(strings.Repeat("a", 100), strings.Repeat("b", 100), strings.Repeat("c", 100))
	one := in
	one.Chunks = in.Chunks[:1]
	one.Truncated = true
	one.TruncationReason = ReasonToolOutputLimit
	one.Notes = []Note{NoteToolOutputLimit}
	oneData, err := Encode(one)
	require.NoError(t, err)

	resp, data, err := Fit(in, Budget{MaxOutputBytes: len(oneData) + 10}, counter)
	require.NoError(t, err)
	assert.Len(t, resp.Chunks, 1)
	assert.Equal(t, strings.Repeat("a", 100), resp.Chunks[0].Text)
	assert.True(t, resp.Truncated)
	assert.Equal(t, ReasonToolOutputLimit, resp.TruncationReason)
	assert.Equal(t, []Note{NoteToolOutputLimit}, resp.Notes)
	assert.LessOrEqual(t, len(data), len(oneData)+10)
}

func TestFitCutsLastChunkAtRuneBoundary(t *testing.T) {
	text := strings.Repeat("é", 400)
	resp, data, err := Fit(sample(text), Budget{MaxOutputBytes: 400}, counter)
	require.NoError(t, err)

	require.Len(t, resp.Chunks, 1)
	got := resp.Chunks[0].Text
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasPrefix(text, got))
	assert.Less(t, len(got), len(text))
	assert.Equal(t, counter.Count(got), resp.Chunks[0].TokenCount)
	assert.LessOrEqual(t, len(data), 400)

	// One more rune would not have fit.
	longer := resp
	longer.Chunks = []chunk.Chunk{{Text: text[:len(got)+2], TokenCount: counter.Count(text[:len(got)+2])}}
	longerData, err := Encode(longer)
	require.NoError(t, err)
	assert.Greater(t, len(longerData), 400)
}

func TestFitBudgetTooSmall(t *testing.T) {
	for _, resp := range []Response{sample("some text"), sample()} {
		_, _, err := Fit(resp, Budget{MaxOutputBytes: 20}, counter)
		fe, ok := fetcherr.As(err)
		require.True(t, ok)
		assert.Equal(t, fetcherr.Internal, fe.Code)
		v, _ := fe.Detail("error")
		assert.Equal(t, "output_budget_too_small", v)
	}
}

func TestToolOutputLimitBeatsDOMTruncation(t *testing.T) {
	in := sample(strings.Repeat("x", 500), strings.Repeat("y", 500))
	in.Truncated = true
	in.TruncationReason = ReasonBrowserDOMTruncated
	in.Notes = []Note{NoteBrowserDOMTruncated}

	resp, _, err := Fit(in, Budget{AvailableCapacityBytes: 800}, counter)
	require.NoError(t, err)
	assert.Equal(t, ReasonToolOutputLimit, resp.TruncationReason)
	assert.Equal(t, []Note{NoteBrowserDOMTruncated, NoteToolOutputLimit}, resp.Notes)
}

func TestNotesOrderedAndDeduplicated(t *testing.T) {
	var ns Notes
	ns.Add(NoteCacheWriteFailed)
	ns.Add(NoteCharsetFallback)
	ns.Add(NoteCacheHit)
	ns.Add(NoteCharsetFallback)
	ns.Add(NoteHTTPUpgradedToHTTPS)

	assert.True(t, ns.Has(NoteCacheHit))
	assert.False(t, ns.Has(NoteToolOutputLimit))
	assert.Equal(t, []Note{NoteHTTPUpgradedToHTTPS, NoteCacheHit, NoteCharsetFallback, NoteCacheWriteFailed}, ns.List())

	var empty Notes
	assert.NotNil(t, empty.List())
}
