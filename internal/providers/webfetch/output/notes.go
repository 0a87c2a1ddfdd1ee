package output

import "sort"

// Note is a condition token reported alongside a successful response.
type Note string

const (
	NoteHTTPUpgradedToHTTPS        Note = "http_upgraded_to_https"
	NoteCacheHit                   Note = "cache_hit"
	NoteRobotsUnavailableFailOpen  Note = "robots_unavailable_fail_open"
	NoteBrowserUnavailableUsedHTTP Note = "browser_unavailable_used_http"
	NoteBrowserDOMTruncated        Note = "browser_dom_truncated"
	NoteBrowserBlockedNonGet       Note = "browser_blocked_non_get"
	NoteCharsetFallback            Note = "charset_fallback"
	NoteCacheWriteFailed           Note = "cache_write_failed"
	NoteToolOutputLimit            Note = "tool_output_limit"
)

var noteOrder = map[Note]int{
	NoteHTTPUpgradedToHTTPS:        1,
	NoteCacheHit:                   2,
	NoteRobotsUnavailableFailOpen:  3,
	NoteBrowserUnavailableUsedHTTP: 4,
	NoteBrowserDOMTruncated:        5,
	NoteBrowserBlockedNonGet:       6,
	NoteCharsetFallback:            7,
	NoteCacheWriteFailed:           8,
	NoteToolOutputLimit:            9,
}

// Notes is an ordered, de-duplicated note set. The zero value is empty.
type Notes struct {
	seen map[Note]struct{}
	list []Note
}

// Add records n once.
func (ns *Notes) Add(n Note) {
	if ns.seen == nil {
		ns.seen = make(map[Note]struct{})
	}
	if _, ok := ns.seen[n]; ok {
		return
	}
	ns.seen[n] = struct{}{}
	ns.list = append(ns.list, n)
}

// Has reports whether n was added.
func (ns *Notes) Has(n Note) bool {
	_, ok := ns.seen[n]
	return ok
}

// List returns the notes in pipeline stage order. It never returns nil.
func (ns *Notes) List() []Note {
	out := make([]Note, len(ns.list))
	copy(out, ns.list)
	sort.SliceStable(out, func(i, j int) bool {
		return noteOrder[out[i]] < noteOrder[out[j]]
	})
	return out
}

// SortNotes orders and de-duplicates an arbitrary note slice.
func SortNotes(in []Note) []Note {
	var ns Notes
	for _, n := range in {
		ns.Add(n)
	}
	return ns.List()
}
