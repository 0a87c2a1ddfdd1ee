package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/canon"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetch"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
)

// ErrBlocked is matched by every *BlockedError.
var ErrBlocked = errors.New("subrequest blocked")

// BlockedError reports a subrequest refused without touching the network.
type BlockedError struct {
	Type   ResourceType
	URL    string
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s request to %s blocked: %s", e.Type, e.URL, e.Reason)
}

func (e *BlockedError) Is(target error) bool { return target == ErrBlocked }

// SubRequest is a request the page wants to make. URL is absolute but not
// yet validated.
type SubRequest struct {
	URL    string
	Method string
	Type   ResourceType
}

// SubResponse is a fulfilled subrequest.
type SubResponse struct {
	URL    canon.URL
	Status int
	Header http.Header
	Body   []byte
}

// Interceptor is the only path from a page to the network. Every request
// is checked for scheme, method and resource type, then canonicalized,
// resolved and pinned, and fulfilled by the fetch client.
type Interceptor struct {
	client  *fetch.Client
	gate    fetch.Gate
	blocked map[ResourceType]bool
	logger  *zap.Logger
	observe func(ResourceType, string)

	perResource int64
	total       int64
	used        atomic.Int64

	nonGet         atomic.Bool
	robotsFailOpen atomic.Bool
}

// NewInterceptor builds an interceptor for a single render. gate is
// consulted for every hop of the main document.
func NewInterceptor(client *fetch.Client, gate fetch.Gate, cfg Config, logger *zap.Logger) *Interceptor {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	blocked := make(map[ResourceType]bool, len(cfg.BlockedResourceTypes))
	for _, t := range cfg.BlockedResourceTypes {
		blocked[t] = true
	}
	observe := cfg.OnSubrequest
	if observe == nil {
		observe = func(ResourceType, string) {}
	}
	return &Interceptor{
		client:      client,
		gate:        gate,
		blocked:     blocked,
		logger:      logger,
		observe:     observe,
		perResource: cfg.MaxSubresourceBytes,
		total:       cfg.MaxTotalSubresourceBytes,
	}
}

// BlockedNonGet reports whether any request was refused for its method.
func (i *Interceptor) BlockedNonGet() bool { return i.nonGet.Load() }

// RobotsFailOpen reports whether a document hop proceeded without robots.
func (i *Interceptor) RobotsFailOpen() bool { return i.robotsFailOpen.Load() }

// SubresourceBytes is the total body size of fulfilled subresources.
func (i *Interceptor) SubresourceBytes() int64 { return i.used.Load() }

// Intercept validates req and fulfills it if allowed.
func (i *Interceptor) Intercept(ctx context.Context, req SubRequest) (*SubResponse, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	if req.Type == TypeWebSocket {
		return nil, i.block(req, "websocket")
	}
	parsed, err := url.Parse(req.URL)
	if err != nil {
		return nil, i.block(req, "invalid_url")
	}
	if scheme := strings.ToLower(parsed.Scheme); scheme != "http" && scheme != "https" {
		return nil, i.block(req, "scheme")
	}
	if method != http.MethodGet && method != http.MethodHead {
		i.nonGet.Store(true)
		return nil, i.block(req, "method")
	}
	if i.blocked[req.Type] {
		return nil, i.block(req, "resource_type")
	}

	u, err := canon.Canonicalize(req.URL)
	if err != nil {
		i.observe(req.Type, "failed")
		return nil, err
	}

	if req.Type == TypeDocument {
		res, err := i.Document(ctx, u)
		if err != nil {
			return nil, err
		}
		return &SubResponse{URL: res.FinalURL, Status: res.Status, Body: []byte(res.HTML)}, nil
	}

	resp, err := i.subresource(ctx, u, method)
	if err != nil {
		i.observe(req.Type, "failed")
		i.logger.Debug("Subrequest failed",
			zap.String("type", string(req.Type)), zap.String("url", u.String()), zap.Error(err))
		return nil, err
	}
	i.observe(req.Type, "allowed")
	return resp, nil
}

// Document fetches the main document. Redirects are followed with SSRF
// and robots checks on every hop; the document is exempt from the
// subresource budgets.
func (i *Interceptor) Document(ctx context.Context, u canon.URL) (*fetch.Result, error) {
	res, err := i.client.Fetch(ctx, u, i.gate)
	if err != nil {
		i.observe(TypeDocument, "failed")
		return nil, err
	}
	if res.RobotsFailOpen {
		i.robotsFailOpen.Store(true)
	}
	i.observe(TypeDocument, "allowed")
	return res, nil
}

func (i *Interceptor) subresource(ctx context.Context, u canon.URL, method string) (*SubResponse, error) {
	limit := i.perResource
	if remaining := i.total - i.used.Load(); remaining < limit {
		limit = remaining
	}
	if limit <= 0 {
		return nil, budgetExceeded(i.total)
	}

	maxRedirects := i.client.Config().MaxRedirects
	current := u
	for hop := 0; ; hop++ {
		set, err := i.client.Policy().Resolve(ctx, current)
		if err != nil {
			return nil, err
		}
		resp, err := i.client.Do(ctx, set, fetch.Request{
			URL:      current,
			Method:   method,
			Accept:   "*/*",
			MaxBytes: limit,
		})
		if err != nil {
			return nil, err
		}

		if loc := resp.Header.Get("Location"); loc != "" && redirectStatus(resp.Status) {
			if hop+1 > maxRedirects {
				return nil, fetcherr.New(fetcherr.RedirectLimit, "exceeded %d redirects", maxRedirects).
					With("max_redirects", strconv.Itoa(maxRedirects))
			}
			next, err := current.Resolve(loc)
			if err != nil {
				return nil, err
			}
			current = next
			continue
		}

		if resp.Exceeded {
			return nil, budgetExceeded(limit)
		}
		if n := i.used.Add(int64(len(resp.Body))); n > i.total {
			return nil, budgetExceeded(i.total)
		}
		return &SubResponse{URL: current, Status: resp.Status, Header: resp.Header, Body: resp.Body}, nil
	}
}

func (i *Interceptor) block(req SubRequest, reason string) error {
	i.observe(req.Type, "blocked")
	i.logger.Debug("Subrequest blocked",
		zap.String("type", string(req.Type)),
		zap.String("url", req.URL),
		zap.String("reason", reason))
	return &BlockedError{Type: req.Type, URL: req.URL, Reason: reason}
}

func budgetExceeded(limit int64) *fetcherr.Error {
	return fetcherr.New(fetcherr.ResponseTooLarge, "subresource budget of %d bytes exceeded", limit).
		With("limit_bytes", strconv.FormatInt(limit, 10))
}

func redirectStatus(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
