// Package fetcherr defines the closed error taxonomy returned by the webfetch
// pipeline. Every failure that reaches a caller is an *Error carrying a stable
// code, a message, a retryable flag and ordered details.
package fetcherr

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
)

// Code is a stable machine-readable error code.
type Code string

const (
	BadArgs                Code = "bad_args"
	InvalidURL             Code = "invalid_url"
	InvalidScheme          Code = "invalid_scheme"
	InvalidHost            Code = "invalid_host"
	PortBlocked            Code = "port_blocked"
	SSRFBlocked            Code = "ssrf_blocked"
	DNSFailed              Code = "dns_failed"
	RobotsDisallowed       Code = "robots_disallowed"
	RobotsUnavailable      Code = "robots_unavailable"
	RedirectLimit          Code = "redirect_limit"
	Timeout                Code = "timeout"
	Network                Code = "network"
	ResponseTooLarge       Code = "response_too_large"
	UnsupportedContentType Code = "unsupported_content_type"
	HTTP4xx                Code = "http_4xx"
	HTTP5xx                Code = "http_5xx"
	BrowserUnavailable     Code = "browser_unavailable"
	BrowserCrashed         Code = "browser_crashed"
	ExtractionFailed       Code = "extraction_failed"
	Internal               Code = "internal"
)

// Codes lists every code in taxonomy order.
var Codes = []Code{
	BadArgs, InvalidURL, InvalidScheme, InvalidHost,
	PortBlocked, SSRFBlocked, DNSFailed, RobotsDisallowed, RobotsUnavailable,
	RedirectLimit, Timeout, Network, ResponseTooLarge, UnsupportedContentType,
	HTTP4xx, HTTP5xx, BrowserUnavailable, BrowserCrashed, ExtractionFailed, Internal,
}

// Retryable reports whether errors with this code are retryable by default.
// http_4xx is conditionally retryable; see HTTPStatus.
func (c Code) Retryable() bool {
	switch c {
	case DNSFailed, RobotsUnavailable, Timeout, Network, HTTP5xx, BrowserCrashed, Internal:
		return true
	default:
		return false
	}
}

// Phase names the stage during which a timeout fired.
type Phase string

const (
	PhaseDNS                Phase = "dns"
	PhaseConnect            Phase = "connect"
	PhaseTLS                Phase = "tls"
	PhaseRequest            Phase = "request"
	PhaseResponse           Phase = "response"
	PhaseRedirect           Phase = "redirect"
	PhaseBrowserNavigation  Phase = "browser_navigation"
	PhaseBrowserNetworkIdle Phase = "browser_network_idle"
	PhaseRobots             Phase = "robots"
)

// Detail is a single key/value pair of structured error context.
type Detail struct {
	Key   string
	Value string
}

// Error is the only error type surfaced by the pipeline.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	Details   []Detail

	cause error
}

// New creates an error with the code's default retryability.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: code.Retryable(),
	}
}

// Wrap creates an error that keeps cause reachable through errors.Unwrap.
func Wrap(code Code, cause error, format string, args ...interface{}) *Error {
	e := New(code, format, args...)
	e.cause = cause
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// With appends a detail and returns the receiver for chaining.
func (e *Error) With(key, value string) *Error {
	e.Details = append(e.Details, Detail{Key: key, Value: value})
	return e
}

// WithRetryable overrides the default retryability.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Detail returns the first value stored under key.
func (e *Error) Detail(key string) (string, bool) {
	for _, d := range e.Details {
		if d.Key == key {
			return d.Value, true
		}
	}
	return "", false
}

// TimeoutIn builds a timeout error tagged with its phase.
func TimeoutIn(phase Phase, budgetSeconds float64) *Error {
	e := New(Timeout, "timed out during %s", phase).With("phase", string(phase))
	if budgetSeconds > 0 {
		e.With("timeout_seconds", strconv.FormatFloat(budgetSeconds, 'f', -1, 64))
	}
	return e
}

// HTTPStatus maps a terminal HTTP status to http_4xx or http_5xx.
// 408 and 429 are the only retryable client errors.
func HTTPStatus(status int) *Error {
	if status >= 500 && status <= 599 {
		return New(HTTP5xx, "server returned HTTP %d", status).
			With("status", strconv.Itoa(status))
	}
	retryable := status == 408 || status == 429
	return New(HTTP4xx, "server returned HTTP %d", status).
		With("status", strconv.Itoa(status)).
		WithRetryable(retryable)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// From converts any error into an *Error, classifying unknown errors as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	if fe, ok := As(err); ok {
		return fe
	}
	return Wrap(Internal, err, "%v", err)
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	fe, ok := As(err)
	return ok && fe.Code == code
}

type wireDetail = map[string]string

type wireError struct {
	Error     bool       `json:"error"`
	Code      Code       `json:"code"`
	Message   string     `json:"message"`
	Retryable bool       `json:"retryable"`
	Details   wireDetail `json:"details,omitempty"`
}

// MarshalJSON renders the tool-facing error object.
func (e *Error) MarshalJSON() ([]byte, error) {
	w := wireError{Error: true, Code: e.Code, Message: e.Message, Retryable: e.Retryable}
	if len(e.Details) > 0 {
		w.Details = make(wireDetail, len(e.Details))
		for _, d := range e.Details {
			if _, dup := w.Details[d.Key]; !dup {
				w.Details[d.Key] = d.Value
			}
		}
	}
	return sonic.ConfigStd.Marshal(w)
}
