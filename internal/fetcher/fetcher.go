package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	"blogcrawler/internal/metrics"
	"blogcrawler/internal/report"
	"blogcrawler/internal/storage"
	"blogcrawler/pkg/types"
)

// Gate decides whether a URL may be requested at all.
type Gate interface {
	Allowed(ctx context.Context, target *url.URL) bool
}

// Options controls HTTP fetching behaviour.
type Options struct {
	UserAgent    string
	Headers      map[string]string
	Timeout      time.Duration
	MaxBodyBytes int64
	ProxyURL     string
	// Root is the scheme-less blog URL interstitial gates are passed against.
	Root  string
	Retry RetryPolicy
	// Transport overrides the default transport, mainly for tests.
	Transport http.RoundTripper
}

// Fetcher retrieves pages through the content cache with one cookie jar and
// header set for the whole run.
type Fetcher struct {
	client       *http.Client
	headers      http.Header
	maxBodyBytes int64
	timeout      time.Duration
	root         string
	retry        RetryPolicy

	cache   *storage.ContentCache
	filter  *Filter
	gate    Gate
	rep     report.Reporter
	metrics *metrics.Metrics

	jarMu   sync.Mutex
	cookies []*http.Cookie
}

var errBodyTooLarge = errors.New("response body exceeds limit")

// New constructs a Fetcher. cache and filter may be nil.
func New(opts Options, cache *storage.ContentCache, filter *Filter, rep report.Reporter, m *metrics.Metrics) (*Fetcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 16 * 1024 * 1024
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = NewRetryPolicy()
	}
	if rep == nil {
		rep = report.Nop()
	}
	if filter == nil {
		filter, _ = NewFilter(nil, nil)
	}

	transport := opts.Transport
	if transport == nil {
		t := &http.Transport{
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		if strings.TrimSpace(opts.ProxyURL) != "" {
			proxyURL, err := url.Parse(opts.ProxyURL)
			if err != nil {
				return nil, fmt.Errorf("parse proxy url: %w", err)
			}
			t.Proxy = http.ProxyURL(proxyURL)
		}
		transport = t
	}

	headers := http.Header{}
	headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	headers.Set("Accept-Language", "en-US,en;q=0.8")
	headers.Set("Accept-Encoding", "gzip, deflate, br")
	if opts.UserAgent != "" {
		headers.Set("User-Agent", opts.UserAgent)
	}
	for k, v := range opts.Headers {
		headers.Set(k, v)
	}

	return &Fetcher{
		client:       &http.Client{Timeout: opts.Timeout, Transport: transport},
		headers:      headers,
		maxBodyBytes: opts.MaxBodyBytes,
		timeout:      opts.Timeout,
		root:         storage.StripScheme(opts.Root),
		retry:        opts.Retry,
		cache:        cache,
		filter:       filter,
		rep:          rep,
		metrics:      m,
	}, nil
}

// SetGate installs a robots gate consulted before every network request.
func (f *Fetcher) SetGate(g Gate) { f.gate = g }

// SetRoot changes the blog root used for interstitial resolution.
func (f *Fetcher) SetRoot(root string) { f.root = storage.StripScheme(root) }

// Client exposes the underlying HTTP client for reuse (eg. robots.txt fetches).
func (f *Fetcher) Client() *http.Client {
	if f == nil {
		return nil
	}
	return f.client
}

// Filter returns the ignore/skip filter shared with the image pipeline.
func (f *Fetcher) Filter() *Filter { return f.filter }

// Get returns the content of url, from the cache when present. The boolean
// is false when nothing could be obtained.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (types.Page, bool) {
	if f.filter.Blocked(rawURL) {
		f.rep.Debug("skipping ignored url", "url", rawURL)
		return types.Page{}, false
	}
	page, ok := f.cachedOrFetch(ctx, rawURL)
	if !ok {
		return types.Page{}, false
	}
	if token, found := Interstitial(page.Text); found && f.root != "" {
		return f.passInterstitial(ctx, token)
	}
	return page, true
}

func (f *Fetcher) cachedOrFetch(ctx context.Context, rawURL string) (types.Page, bool) {
	if f.cache != nil {
		if body, ok := f.cache.Get(rawURL); ok {
			return types.Page{
				URL:       rawURL,
				Body:      body,
				Text:      DecodeText(body, ""),
				FromCache: true,
				FetchedAt: time.Now(),
			}, true
		}
	}
	if !f.allowed(ctx, rawURL) {
		return types.Page{}, false
	}

	var res response
	_, err := f.retry.Run(ctx, f.rep, f.metrics, rawURL, func(ctx context.Context, attempt int) (int, error) {
		r, err := f.do(ctx, http.MethodGet, rawURL)
		if err != nil {
			return 0, err
		}
		res = r
		return r.status, nil
	})
	if err != nil {
		f.rep.Warn("fetch failed", "url", rawURL, "error", err)
		return types.Page{}, false
	}
	return f.store(rawURL, res), true
}

// passInterstitial requests the gate URL then re-fetches the blog root,
// returning the root content.
func (f *Fetcher) passInterstitial(ctx context.Context, token string) (types.Page, bool) {
	gateURL := "http://" + f.root + "?interstitial=" + token
	rootURL := "http://" + f.root
	f.rep.Info("passing interstitial", "url", gateURL)

	if res, err := f.once(ctx, gateURL); err != nil {
		f.rep.Warn("interstitial request failed", "url", gateURL, "error", err)
	} else {
		f.store(gateURL, res)
	}
	res, err := f.once(ctx, rootURL)
	if err != nil {
		f.rep.Warn("interstitial root re-fetch failed", "url", rootURL, "error", err)
		return types.Page{}, false
	}
	return f.store(rootURL, res), true
}

func (f *Fetcher) once(ctx context.Context, rawURL string) (response, error) {
	if f.filter.Blocked(rawURL) {
		return response{}, ErrIgnored
	}
	res, err := f.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return response{}, err
	}
	if res.status >= 400 {
		return response{}, &StatusError{Status: res.status}
	}
	return res, nil
}

func (f *Fetcher) store(rawURL string, res response) types.Page {
	if f.cache != nil {
		if err := f.cache.Put(rawURL, res.body); err != nil {
			f.rep.Warn("cache write failed", "url", rawURL, "error", err)
		}
	}
	return types.Page{
		URL:         rawURL,
		Body:        res.body,
		Text:        DecodeText(res.body, res.header.Get("Content-Type")),
		ContentType: res.header.Get("Content-Type"),
		FetchedAt:   time.Now(),
	}
}

// Head issues a HEAD request and returns the response headers.
func (f *Fetcher) Head(ctx context.Context, rawURL string) (http.Header, error) {
	if f.filter.Blocked(rawURL) {
		return nil, ErrIgnored
	}
	if !f.allowed(ctx, rawURL) {
		return nil, ErrDisallowed
	}
	res, err := f.do(ctx, http.MethodHead, rawURL)
	if err != nil {
		return nil, err
	}
	if res.status >= 400 {
		return nil, &StatusError{Status: res.status}
	}
	return res.header, nil
}

// Download performs a single uncached GET for binary content.
func (f *Fetcher) Download(ctx context.Context, rawURL string) ([]byte, error) {
	if !f.allowed(ctx, rawURL) {
		return nil, ErrDisallowed
	}
	res, err := f.once(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return res.body, nil
}

// Resolve follows redirects from rawURL and returns the final URL.
func (f *Fetcher) Resolve(ctx context.Context, rawURL string) (string, error) {
	res, err := f.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return "", err
	}
	if res.finalURL == "" {
		return rawURL, nil
	}
	return res.finalURL, nil
}

func (f *Fetcher) allowed(ctx context.Context, rawURL string) bool {
	if f.gate == nil {
		return true
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if !f.gate.Allowed(ctx, target) {
		f.rep.Info("disallowed by robots.txt", "url", rawURL)
		return false
	}
	return true
}

type response struct {
	status   int
	header   http.Header
	body     []byte
	finalURL string
}

func (f *Fetcher) do(ctx context.Context, method, rawURL string) (response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, nil)
	if err != nil {
		return response{}, fmt.Errorf("build request: %w", err)
	}
	for k, values := range f.headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	f.jarMu.Lock()
	for _, c := range f.cookies {
		req.AddCookie(c)
	}
	f.jarMu.Unlock()

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.metrics.Fetch(method, "error", time.Since(start).Seconds())
		return response{}, &TransportError{Op: strings.ToLower(method) + " " + rawURL, Err: err}
	}

	f.jarMu.Lock()
	f.cookies = resp.Cookies()
	f.jarMu.Unlock()

	res := response{status: resp.StatusCode, header: resp.Header.Clone()}
	if resp.Request != nil && resp.Request.URL != nil {
		res.finalURL = resp.Request.URL.String()
	}
	if method == http.MethodHead {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	} else {
		res.body, err = f.readBody(resp)
		if err != nil {
			f.metrics.Fetch(method, "error", time.Since(start).Seconds())
			if errors.Is(err, errBodyTooLarge) {
				return response{}, err
			}
			return response{}, &TransportError{Op: "read " + rawURL, Err: err}
		}
	}
	f.metrics.Fetch(method, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())
	return res, nil
}

func (f *Fetcher) readBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("empty response body")
	}

	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	body, err := io.ReadAll(io.LimitReader(reader, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, fmt.Errorf("%w of %d bytes", errBodyTooLarge, f.maxBodyBytes)
	}
	return body, nil
}
