package robots

import (
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
)

// Decision is the mechanism side of robots handling: what the fetch of
// robots.txt produced. Policy is applied separately by Apply.
type Decision interface {
	decision()
	Kind() string
}

// AllowAllReason explains why every path is allowed.
type AllowAllReason string

const (
	ReasonMissing     AllowAllReason = "missing"
	ReasonMalformed   AllowAllReason = "malformed"
	ReasonClientError AllowAllReason = "client_error"
	ReasonEmpty       AllowAllReason = "empty"
)

// Rules holds the group selected for the configured token. A zero Group
// means no group applied and every path is allowed.
type Rules struct {
	Group Group
}

// AllowAll is produced by a missing, malformed or empty robots.txt.
type AllowAll struct {
	Reason AllowAllReason
}

// Unavailable means robots.txt could not be obtained.
type Unavailable struct {
	Cause error
}

func (Rules) decision()       {}
func (AllowAll) decision()    {}
func (Unavailable) decision() {}

func (Rules) Kind() string       { return "rules" }
func (AllowAll) Kind() string    { return "allow_all" }
func (Unavailable) Kind() string { return "unavailable" }

// Outcome is the policy result for a single path.
type Outcome struct {
	Allowed  bool
	FailOpen bool
	// Kind is the kind of the decision that produced the outcome.
	Kind string
}

// Apply maps a decision to an outcome for path. Disallowed paths produce
// robots_disallowed; an unavailable robots.txt produces robots_unavailable
// unless failOpen is set.
func Apply(d Decision, path, origin string, failOpen bool) (Outcome, error) {
	if d == nil {
		return Outcome{}, fetcherr.New(fetcherr.Internal, "missing robots decision")
	}
	switch d := d.(type) {
	case Rules:
		rule, ok := d.Group.Evaluate(path)
		if ok && !rule.Allow {
			return Outcome{}, fetcherr.New(fetcherr.RobotsDisallowed, "robots.txt disallows this path").
				With("origin", origin).
				With("path", path).
				With("rule", "Disallow: "+rule.Pattern)
		}
		return Outcome{Allowed: true, Kind: d.Kind()}, nil
	case AllowAll:
		return Outcome{Allowed: true, Kind: d.Kind()}, nil
	case Unavailable:
		if failOpen {
			return Outcome{Allowed: true, FailOpen: true, Kind: d.Kind()}, nil
		}
		e := fetcherr.Wrap(fetcherr.RobotsUnavailable, d.Cause, "robots.txt is unavailable").With("origin", origin)
		if d.Cause != nil {
			e.With("error", causeText(d.Cause))
		}
		return Outcome{}, e
	default:
		return Outcome{}, fetcherr.New(fetcherr.Internal, "unknown robots decision %T", d)
	}
}

func causeText(err error) string {
	if fe, ok := fetcherr.As(err); ok {
		if detail, ok := fe.Detail("error"); ok {
			return detail
		}
		return string(fe.Code)
	}
	return err.Error()
}

// cacheable reports whether a decision may be stored. Unavailable results
// are retried on the next request.
func cacheable(d Decision) bool {
	_, unavailable := d.(Unavailable)
	return !unavailable
}
