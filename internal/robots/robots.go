// Package robots is the optional robots.txt gate for blog requests. It
// fails open: any error reading a host's rules permits the request.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"blogcrawler/internal/config"
	"blogcrawler/internal/report"
)

const maxRobotsBytes = 512 * 1024

// Agent caches robots.txt rules per host.
type Agent struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	respect   bool
	rep       report.Reporter
	now       func() time.Time

	mu        sync.Mutex
	hosts     map[string]hostRules
	overrides map[string]struct{}
}

type hostRules struct {
	fetched time.Time
	group   *robotstxt.Group
}

// NewAgent builds a gate from configuration. client is typically the
// fetcher's client so robots requests share its transport.
func NewAgent(cfg config.RobotsConfig, client *http.Client, rep report.Reporter) *Agent {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if rep == nil {
		rep = report.Nop()
	}
	overrides := make(map[string]struct{}, len(cfg.Overrides))
	for _, host := range cfg.Overrides {
		if host = strings.ToLower(strings.TrimSpace(host)); host != "" {
			overrides[host] = struct{}{}
		}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "*"
	}
	return &Agent{
		client:    client,
		userAgent: ua,
		ttl:       cfg.CacheTTL.Or(30 * time.Minute),
		respect:   cfg.Respect,
		rep:       rep,
		now:       time.Now,
		hosts:     make(map[string]hostRules),
		overrides: overrides,
	}
}

// Allowed reports whether target may be requested.
func (a *Agent) Allowed(ctx context.Context, target *url.URL) bool {
	if target == nil || !target.IsAbs() {
		return false
	}
	if !a.respect {
		return true
	}
	if _, ok := a.overrides[strings.ToLower(target.Hostname())]; ok {
		return true
	}
	group, err := a.groupFor(ctx, target)
	if err != nil {
		a.rep.Debug("robots.txt unavailable, allowing", "host", target.Host, "error", err)
		return true
	}
	if group == nil {
		return true
	}
	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	return group.Test(path)
}

func (a *Agent) groupFor(ctx context.Context, target *url.URL) (*robotstxt.Group, error) {
	host := strings.ToLower(target.Host)

	a.mu.Lock()
	entry, ok := a.hosts[host]
	a.mu.Unlock()
	if ok && a.now().Sub(entry.fetched) < a.ttl {
		return entry.group, nil
	}

	robotsURL := target.Scheme + "://" + target.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	group := data.FindGroup(a.userAgent)

	a.mu.Lock()
	a.hosts[host] = hostRules{fetched: a.now(), group: group}
	a.mu.Unlock()
	return group, nil
}
