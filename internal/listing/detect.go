// Package listing resolves property references from lead messages.
package listing

import (
	"net/url"
	"regexp"
	"strings"
)

// Ref identifies the property under discussion.
type Ref struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Label returns the human-readable name for the property, preferring the
// listing title over the raw id.
func (r Ref) Label() string {
	if r.Title != "" {
		return r.Title
	}
	return "listing " + r.ID
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

// pathSegments that introduce a listing id in a URL path.
var listingSegments = map[string]bool{
	"listing":    true,
	"listings":   true,
	"property":   true,
	"properties": true,
	"unit":       true,
	"units":      true,
}

// Detector recognizes listing URLs in free text.
type Detector struct {
	hosts map[string]bool
}

// NewDetector creates a detector. An empty host list accepts any host as
// long as the URL shape matches a listing pattern.
func NewDetector(hosts []string) *Detector {
	allowed := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			allowed[h] = true
		}
	}
	return &Detector{hosts: allowed}
}

// Detect returns the first recognized property reference in the message,
// or nil when none is present.
func (d *Detector) Detect(message string) *Ref {
	for _, raw := range urlPattern.FindAllString(message, -1) {
		raw = strings.TrimRight(raw, ".,;:!?)")
		parsed, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if len(d.hosts) > 0 && !d.hosts[strings.ToLower(parsed.Hostname())] {
			continue
		}
		if id := listingID(parsed); id != "" {
			return &Ref{ID: id, URL: raw}
		}
	}
	return nil
}

// listingID extracts the listing identifier from /listing/{id}-style paths
// or ?listing= query parameters.
func listingID(u *url.URL) string {
	if id := u.Query().Get("listing"); id != "" {
		return id
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i < len(segments)-1; i++ {
		if listingSegments[strings.ToLower(segments[i])] && segments[i+1] != "" {
			return segments[i+1]
		}
	}
	return ""
}
