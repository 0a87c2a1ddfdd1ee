package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"time"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/canon"
)

// Version is the on-disk entry format. Entries with any other version are
// discarded on read.
const Version = 2

// Method is the rendering method an entry was produced with.
type Method string

const (
	MethodHTTP    Method = "http"
	MethodBrowser Method = "browser"
)

// Entry is the on-disk record. Field order is the serialized order.
type Entry struct {
	Version        int    `json:"version"`
	FetchedAt      string `json:"fetched_at"`
	ExpiresAt      string `json:"expires_at"`
	LastAccessedAt string `json:"last_accessed_at"`
	FinalURL       string `json:"final_url"`
	Title          string `json:"title,omitempty"`
	Language       string `json:"language,omitempty"`
	Markdown       string `json:"markdown"`
}

// Expired reports whether the entry is past its expiry at now. An
// unparseable expiry counts as expired.
func (e Entry) Expired(now time.Time) bool {
	exp, err := parseTime(e.ExpiresAt)
	return err != nil || now.After(exp)
}

// Key derives the hex cache key for a URL and method.
func Key(u canon.URL, method Method) string {
	sum := sha256.Sum256([]byte(u.String() + "\n" + string(method)))
	return hex.EncodeToString(sum[:])
}

func entryPath(dir, key string) string {
	prefix := "00"
	if len(key) >= 2 {
		prefix = key[:2]
	}
	return filepath.Join(dir, prefix, key+".json")
}

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
