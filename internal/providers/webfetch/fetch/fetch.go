package fetch

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/canon"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/robots"
)

// Gate authorizes each hop before it is requested. *robots.Engine
// satisfies it.
type Gate interface {
	Check(ctx context.Context, u canon.URL) (robots.Outcome, error)
}

// Result is a fetched, classified and decoded document.
type Result struct {
	FinalURL        canon.URL
	Status          int
	Kind            Kind
	HTML            string
	Charset         string
	CharsetFallback bool
	Bytes           int
	Redirects       int
	RobotsFailOpen  bool
}

// Fetch retrieves u, following redirects manually. Every hop is resolved
// and pinned, then passed through gate, before it is requested. A single
// timeout covers the whole chain.
func (c *Client) Fetch(ctx context.Context, u canon.URL, gate Gate) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var result Result
	current := u
	for hop := 0; ; hop++ {
		if hop > 0 && ctx.Err() != nil {
			return nil, fetcherr.TimeoutIn(fetcherr.PhaseRedirect, c.cfg.Timeout.Seconds()).
				With("url", current.String())
		}

		set, err := c.policy.Resolve(ctx, current)
		if err != nil {
			return nil, err
		}
		if gate != nil {
			outcome, err := gate.Check(ctx, current)
			if err != nil {
				return nil, err
			}
			result.RobotsFailOpen = result.RobotsFailOpen || outcome.FailOpen
		}

		resp, err := c.Do(ctx, set, Request{URL: current})
		if err != nil {
			return nil, err
		}

		if isRedirect(resp.Status) {
			next, err := c.redirectTarget(current, resp)
			if err != nil {
				return nil, err
			}
			if hop+1 > c.cfg.MaxRedirects {
				return nil, fetcherr.New(fetcherr.RedirectLimit,
					"exceeded %d redirects", c.cfg.MaxRedirects).
					With("max_redirects", strconv.Itoa(c.cfg.MaxRedirects)).
					With("url", next.String())
			}
			c.logger.Debug("Following redirect",
				zap.String("from", current.String()), zap.String("to", next.String()),
				zap.Int("status", resp.Status))
			current = next
			result.Redirects++
			continue
		}

		switch {
		case resp.Status == http.StatusOK:
		case resp.Status >= 400 && resp.Status <= 599:
			return nil, fetcherr.HTTPStatus(resp.Status).With("url", current.String())
		default:
			return nil, fetcherr.New(fetcherr.Network, "unexpected HTTP status %d", resp.Status).
				With("error", "unexpected_status").
				With("status", strconv.Itoa(resp.Status))
		}

		if resp.Exceeded {
			return nil, tooLarge(c.cfg.MaxDownloadBytes).With("url", current.String())
		}

		contentType := resp.Header.Get("Content-Type")
		kind, err := classify(contentType, resp.Body)
		if err != nil {
			return nil, err
		}
		dec := decode(resp.Body, contentType, kind)
		if dec.Fallback {
			c.logger.Debug("Charset fallback to UTF-8",
				zap.String("url", current.String()), zap.String("detected", dec.Guess))
		}

		result.FinalURL = current
		result.Status = resp.Status
		result.Kind = kind
		result.Charset = dec.Charset
		result.CharsetFallback = dec.Fallback
		result.Bytes = len(resp.Body)
		result.HTML = dec.Text
		if kind == KindText {
			result.HTML = wrapText(dec.Text)
		}
		return &result, nil
	}
}

func (c *Client) redirectTarget(current canon.URL, resp *Response) (canon.URL, error) {
	loc := resp.Header.Get("Location")
	if loc == "" {
		return canon.URL{}, invalidRedirect(current, resp.Status, errors.New("missing Location header"))
	}
	next, err := current.Resolve(loc)
	if err != nil {
		return canon.URL{}, invalidRedirect(current, resp.Status, err)
	}
	return next, nil
}

func invalidRedirect(from canon.URL, status int, cause error) *fetcherr.Error {
	return fetcherr.Wrap(fetcherr.Network, cause, "invalid redirect from %s", from.String()).
		With("error", "invalid_redirect").
		With("status", strconv.Itoa(status))
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
