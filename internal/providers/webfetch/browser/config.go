package browser

import (
	"fmt"
	"strings"
	"time"
)

// ResourceType classifies a subrequest the page makes.
type ResourceType string

const (
	TypeDocument   ResourceType = "document"
	TypeScript     ResourceType = "script"
	TypeStylesheet ResourceType = "stylesheet"
	TypeXHR        ResourceType = "xhr"
	TypeFetch      ResourceType = "fetch"
	TypeIframe     ResourceType = "iframe"
	TypeImage      ResourceType = "image"
	TypeFont       ResourceType = "font"
	TypeMedia      ResourceType = "media"
	TypeWebSocket  ResourceType = "websocket"
)

var resourceTypes = []ResourceType{
	TypeDocument, TypeScript, TypeStylesheet, TypeXHR, TypeFetch,
	TypeIframe, TypeImage, TypeFont, TypeMedia, TypeWebSocket,
}

// ParseResourceType maps a configured name onto a ResourceType.
func ParseResourceType(s string) (ResourceType, error) {
	name := ResourceType(strings.ToLower(strings.TrimSpace(s)))
	for _, t := range resourceTypes {
		if t == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown resource type %q", s)
}

const (
	DefaultTimeout                  = 30 * time.Second
	DefaultNetworkIdle              = 500 * time.Millisecond
	DefaultPollInterval             = 50 * time.Millisecond
	DefaultMaxRenderedDOMBytes      = 5 << 20
	DefaultMaxSubresourceBytes      = 20 << 20
	DefaultMaxTotalSubresourceBytes = 20 << 20
	DefaultMaxSessions              = 2
)

// DefaultBlockedTypes are never requested over the network.
var DefaultBlockedTypes = []ResourceType{TypeImage, TypeFont, TypeMedia}

// Config controls browser rendering.
type Config struct {
	Enabled bool

	// Timeout is the hard deadline for one render, navigation included.
	Timeout time.Duration
	// NetworkIdle is how long the page must be quiet before the DOM is
	// snapshotted.
	NetworkIdle  time.Duration
	PollInterval time.Duration

	MaxRenderedDOMBytes      int
	MaxSubresourceBytes      int64
	MaxTotalSubresourceBytes int64
	BlockedResourceTypes     []ResourceType

	MaxSessions int

	// OnSubrequest, when set, observes the outcome of every intercepted
	// request: allowed, blocked or failed.
	OnSubrequest func(t ResourceType, result string)
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.NetworkIdle <= 0 {
		c.NetworkIdle = DefaultNetworkIdle
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxRenderedDOMBytes <= 0 {
		c.MaxRenderedDOMBytes = DefaultMaxRenderedDOMBytes
	}
	if c.MaxSubresourceBytes <= 0 {
		c.MaxSubresourceBytes = DefaultMaxSubresourceBytes
	}
	if c.MaxTotalSubresourceBytes <= 0 {
		c.MaxTotalSubresourceBytes = DefaultMaxTotalSubresourceBytes
	}
	if c.BlockedResourceTypes == nil {
		c.BlockedResourceTypes = DefaultBlockedTypes
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
}
