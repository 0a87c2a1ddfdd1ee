package fetch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/canon"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/robots"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/ssrf"
)

// RobotsFetcher implements robots.Fetcher over the pinned transport.
// Server errors and connection failures are retried a bounded number of
// times before the engine sees them.
type RobotsFetcher struct {
	policy    *ssrf.Policy
	client    *retryablehttp.Client
	userAgent string
	logger    *zap.Logger
}

// RobotsOptions tunes the retry behavior of a RobotsFetcher.
type RobotsOptions struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// NewRobotsFetcher shares the client's policy, transport settings and user
// agent.
func (c *Client) NewRobotsFetcher(opts RobotsOptions) *RobotsFetcher {
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = 100 * time.Millisecond
	}
	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = time.Second
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Transport: newTransport(c.policy, c.cfg.ConnectTimeout, c.cfg.AllowInsecureTLS),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = opts.RetryWaitMin
	rc.RetryWaitMax = opts.RetryWaitMax
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	logger := c.logger.Named("robots")
	rc.Logger = leveledLogger{logger.Sugar()}

	return &RobotsFetcher{policy: c.policy, client: rc, userAgent: c.cfg.UserAgent, logger: logger}
}

// FetchRobots performs one unredirected GET of u.
func (f *RobotsFetcher) FetchRobots(ctx context.Context, u canon.URL, maxBytes int) (robots.Response, error) {
	set, err := f.policy.Resolve(ctx, u)
	if err != nil {
		return robots.Response{}, err
	}

	req, err := retryablehttp.NewRequestWithContext(ssrf.WithPin(ctx, set), http.MethodGet, u.String(), nil)
	if err != nil {
		return robots.Response{}, fetcherr.Wrap(fetcherr.Internal, err, "build robots request")
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/plain,*/*;q=0.5")
	req.Header.Set("Accept-Encoding", DefaultAcceptEncoding)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return robots.Response{}, fetcherr.TimeoutIn(fetcherr.PhaseRobots, 0)
		}
		if errors.Is(err, ssrf.ErrNoPin) || errors.Is(err, ssrf.ErrPinMismatch) {
			return robots.Response{}, fetcherr.Wrap(fetcherr.Internal, err, "dial outside pinned address set")
		}
		return robots.Response{}, fetcherr.Wrap(fetcherr.Network, err, "robots request failed").
			With("error", err.Error())
	}
	defer resp.Body.Close()

	out := robots.Response{Status: resp.StatusCode, Location: resp.Header.Get("Location")}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, nil
	}

	body, truncated, err := readBody(resp.Body, resp.Header.Get("Content-Encoding"), int64(maxBytes))
	if err != nil {
		if ctx.Err() != nil {
			return robots.Response{}, fetcherr.TimeoutIn(fetcherr.PhaseRobots, 0)
		}
		return robots.Response{}, fetcherr.Wrap(fetcherr.Network, err, "read robots body").
			With("error", err.Error())
	}
	out.Body = body
	out.Truncated = truncated
	if truncated {
		f.logger.Debug("Robots body truncated", zap.String("url", u.String()), zap.Int("limit", maxBytes))
	}
	return out, nil
}

var _ robots.Fetcher = (*RobotsFetcher)(nil)
