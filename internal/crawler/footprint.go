package crawler

import (
	"net/url"
	"strings"
	"sync"
)

// Footprint remembers listing and article URLs already handled in a run so
// a pager that links back to itself or a post shown on two listing pages is
// processed once.
type Footprint struct {
	mu      sync.Mutex
	entries map[string]struct{}
}

func NewFootprint() *Footprint {
	return &Footprint{entries: make(map[string]struct{})}
}

// Visit records raw and reports whether it was new.
func (f *Footprint) Visit(raw string) bool {
	key := canonicalKey(raw)
	if key == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, seen := f.entries[key]; seen {
		return false
	}
	f.entries[key] = struct{}{}
	return true
}

func (f *Footprint) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// canonicalKey ignores the scheme, default ports, host case, fragments and
// a trailing slash.
func canonicalKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != defaultPortForScheme(scheme) {
		host = host + ":" + port
	}
	path := strings.TrimSuffix(u.EscapedPath(), "/")
	key := "//" + host + path
	if q := u.RawQuery; q != "" {
		key += "?" + q
	}
	return key
}

func defaultPortForScheme(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}
