package webfetch

import (
	"context"
	"fmt"
	"math"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/chunk"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/types"
)

// ToolFetch is the tool identifier of the fetch operation.
const ToolFetch = "web.fetch"

// Provider exposes the pipeline as the "web" service.
type Provider struct {
	pipeline *Pipeline
}

// NewProvider creates a provider over p.
func NewProvider(p *Pipeline) *Provider {
	return &Provider{pipeline: p}
}

// Definition returns the service metadata.
func (p *Provider) Definition() types.Service {
	return types.Service{
		ID:          "web",
		Name:        "Web Fetch Service",
		Description: "Policy-checked web page retrieval returning token-bounded Markdown chunks",
		Category:    types.CategoryWeb,
		Capabilities: []string{
			"ssrf_protection",
			"robots_txt",
			"browser_rendering",
			"markdown_extraction",
			"chunking",
			"caching",
		},
		Tools: []types.Tool{
			{
				ID:          ToolFetch,
				Name:        "Fetch Web Page",
				Description: "Fetch a URL and return its main content as Markdown chunks",
				Parameters: []types.Parameter{
					{Name: "url", Type: "string", Required: true, Description: "Absolute http(s) URL"},
					{Name: "max_chunk_tokens", Type: "number", Required: false,
						Description: fmt.Sprintf("Token budget per chunk, %d to %d (default: %d)",
							chunk.MinMaxTokens, chunk.MaxMaxTokens, p.defaultTokens())},
					{Name: "no_cache", Type: "boolean", Required: false, Description: "Bypass the cache lookup"},
					{Name: "force_browser", Type: "boolean", Required: false, Description: "Render with the sandboxed browser"},
					{Name: "max_output_bytes", Type: "number", Required: false, Description: "Response size limit in bytes"},
					{Name: "available_capacity_bytes", Type: "number", Required: false, Description: "Remaining caller capacity in bytes"},
				},
				Returns: "object",
			},
		},
		DataModels: []types.DataModel{
			{
				Name: "FetchResponse",
				Fields: map[string]string{
					"requested_url":     "string",
					"final_url":         "string",
					"fetched_at":        "string",
					"title":             "string",
					"language":          "string",
					"chunks":            "array",
					"rendering_method":  "string",
					"truncated":         "boolean",
					"truncation_reason": "string",
					"notes":             "array",
				},
			},
		},
	}
}

func (p *Provider) defaultTokens() int {
	if p.pipeline == nil {
		return chunk.DefaultMaxTokens
	}
	return p.pipeline.opts.DefaultMaxChunkTokens
}

// Execute runs a tool. Fetch failures are reported in the result, with the
// structured error under data["error"].
func (p *Provider) Execute(ctx context.Context, toolID string, params map[string]interface{}, appCtx *types.Context) (*types.Result, error) {
	switch toolID {
	case ToolFetch:
		req, err := RequestFromParams(params)
		if err != nil {
			return failure(err)
		}
		res, err := p.pipeline.Fetch(ctx, req)
		if err != nil {
			return failure(err)
		}
		return &types.Result{Success: true, Data: map[string]interface{}{"response": res.Response}}, nil
	default:
		msg := fmt.Sprintf("unknown tool: %s", toolID)
		return &types.Result{Success: false, Error: &msg}, nil
	}
}

func failure(err error) (*types.Result, error) {
	fe := fetcherr.From(err)
	msg := fe.Error()
	return &types.Result{
		Success: false,
		Data:    map[string]interface{}{"error": fe},
		Error:   &msg,
	}, nil
}

// RequestFromParams decodes loosely typed tool parameters. Numbers must be
// integral; JSON decoding delivers them as float64.
func RequestFromParams(params map[string]interface{}) (Request, error) {
	var req Request

	switch v := params["url"].(type) {
	case string:
		req.URL = v
	case nil:
	default:
		return Request{}, badParam("url", "must be a string")
	}

	if v, ok := params["max_chunk_tokens"]; ok && v != nil {
		n, err := intParam("max_chunk_tokens", v)
		if err != nil {
			return Request{}, err
		}
		req.MaxChunkTokens = &n
	}

	var err error
	if req.NoCache, err = boolParam(params, "no_cache"); err != nil {
		return Request{}, err
	}
	if req.ForceBrowser, err = boolParam(params, "force_browser"); err != nil {
		return Request{}, err
	}
	for name, dst := range map[string]*int{
		"max_output_bytes":         &req.MaxOutputBytes,
		"available_capacity_bytes": &req.AvailableCapacityBytes,
	} {
		if v, ok := params[name]; ok && v != nil {
			if *dst, err = intParam(name, v); err != nil {
				return Request{}, err
			}
		}
	}
	return req, nil
}

func intParam(name string, v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.Abs(n) > math.MaxInt32 {
			return 0, badParam(name, "must be an integer")
		}
		return int(n), nil
	default:
		return 0, badParam(name, "must be an integer")
	}
}

func boolParam(params map[string]interface{}, name string) (bool, error) {
	switch v := params[name].(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	default:
		return false, badParam(name, "must be a boolean")
	}
}

func badParam(name, problem string) *fetcherr.Error {
	return fetcherr.New(fetcherr.BadArgs, "%s %s", name, problem).With("field", name)
}
