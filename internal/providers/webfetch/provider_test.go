package webfetch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetch"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/output"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/types"
)

func TestProviderDefinition(t *testing.T) {
	p := NewProvider(newPipeline(t, Deps{Fetcher: &fakeFetcher{}}, Options{DefaultMaxChunkTokens: 300}))
	def := p.Definition()

	assert.Equal(t, "web", def.ID)
	assert.Equal(t, types.CategoryWeb, def.Category)
	require.Len(t, def.Tools, 1)
	tool := def.Tools[0]
	assert.Equal(t, ToolFetch, tool.ID)
	require.NotEmpty(t, tool.Parameters)
	assert.Equal(t, "url", tool.Parameters[0].Name)
	assert.True(t, tool.Parameters[0].Required)
	assert.Contains(t, tool.Parameters[1].Description, "default: 300")
}

func TestProviderExecute(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Result{
		"https://example.com/": httpResult("https://example.com/", article("Provider", 5)),
	}}
	p := NewProvider(newPipeline(t, Deps{Fetcher: f}, Options{}))

	res, err := p.Execute(context.Background(), ToolFetch, map[string]interface{}{
		"url":              "https://example.com/",
		"max_chunk_tokens": float64(256),
		"no_cache":         true,
	}, &types.Context{})
	require.NoError(t, err)
	require.True(t, res.Success)
	resp, ok := res.Data["response"].(output.Response)
	require.True(t, ok)
	assert.Equal(t, "Provider", resp.Title)

	res, err = p.Execute(context.Background(), ToolFetch, map[string]interface{}{"url": "ftp://example.com/"}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	fe, ok := res.Data["error"].(*fetcherr.Error)
	require.True(t, ok)
	assert.Equal(t, fetcherr.InvalidScheme, fe.Code)

	res, err = p.Execute(context.Background(), "web.crawl", nil, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "unknown tool: web.crawl", *res.Error)
}

func TestRequestFromParams(t *testing.T) {
	req, err := RequestFromParams(map[string]interface{}{
		"url":                      "https://example.com/",
		"max_chunk_tokens":         float64(512),
		"no_cache":                 true,
		"force_browser":            false,
		"max_output_bytes":         float64(4096),
		"available_capacity_bytes": 1024,
	})
	require.NoError(t, err)
	require.NotNil(t, req.MaxChunkTokens)
	assert.Equal(t, 512, *req.MaxChunkTokens)
	assert.True(t, req.NoCache)
	assert.Equal(t, 4096, req.MaxOutputBytes)
	assert.Equal(t, 1024, req.AvailableCapacityBytes)

	req, err = RequestFromParams(map[string]interface{}{"url": "https://example.com/", "max_chunk_tokens": nil})
	require.NoError(t, err)
	assert.Nil(t, req.MaxChunkTokens)

	bad := map[string]map[string]interface{}{
		"url type":        {"url": 42.0},
		"fractional":      {"url": "x", "max_chunk_tokens": 300.5},
		"string tokens":   {"url": "x", "max_chunk_tokens": "300"},
		"bool type":       {"url": "x", "no_cache": "yes"},
		"force type":      {"url": "x", "force_browser": 1.0},
		"output bytes":    {"url": "x", "max_output_bytes": 1.5},
		"capacity string": {"url": "x", "available_capacity_bytes": "10"},
	}
	for name, params := range bad {
		t.Run(name, func(t *testing.T) {
			_, err := RequestFromParams(params)
			fe, ok := fetcherr.As(err)
			require.True(t, ok)
			assert.Equal(t, fetcherr.BadArgs, fe.Code)
			_, hasField := fe.Detail("field")
			assert.True(t, hasField)
		})
	}
}
