// Package images acquires, validates and normalizes the images referenced
// by article bodies.
package images

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/singleflight"

	"blogcrawler/internal/fetcher"
	"blogcrawler/internal/metrics"
	"blogcrawler/internal/report"
	"blogcrawler/internal/storage"
	"blogcrawler/pkg/types"
)

// Source performs the network requests of the pipeline. *fetcher.Fetcher
// satisfies it.
type Source interface {
	Head(ctx context.Context, url string) (http.Header, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// Options tunes normalization and politeness.
type Options struct {
	MaxWidth        int
	MaxHeight       int
	Quality         int
	MinDimensionSum int
	// Delay is the minimum spacing between downloads from one host.
	Delay   time.Duration
	Workers int
}

// Pipeline turns image references into normalized local JPEG files.
type Pipeline struct {
	source   Source
	filter   *fetcher.Filter
	layout   storage.Layout
	root     *url.URL
	opts     Options
	throttle *HostThrottle
	flights  singleflight.Group
	rep      report.Reporter
	metrics  *metrics.Metrics
}

// NewPipeline builds a pipeline resolving relative references against
// rootURL. filter is normally the fetcher's so the skip-set is shared.
func NewPipeline(source Source, filter *fetcher.Filter, layout storage.Layout, rootURL string, opts Options, rep report.Reporter, m *metrics.Metrics) (*Pipeline, error) {
	root, err := url.Parse(rootURL)
	if err != nil {
		return nil, fmt.Errorf("parse blog root: %w", err)
	}
	if root.Scheme == "" {
		root.Scheme = "http"
	}
	if filter == nil {
		filter, _ = fetcher.NewFilter(nil, nil)
	}
	if rep == nil {
		rep = report.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MinDimensionSum < 0 {
		opts.MinDimensionSum = 0
	}
	return &Pipeline{
		source:   source,
		filter:   filter,
		layout:   layout,
		root:     root,
		opts:     opts,
		throttle: NewHostThrottle(opts.Delay),
		rep:      rep,
		metrics:  m,
	}, nil
}

// Download resolves one reference. It reports whether images/<hash>.jpg now
// exists; ref records the outcome either way.
func (p *Pipeline) Download(ctx context.Context, ref *types.ImageRef) bool {
	outcome := p.download(ctx, ref)
	ref.Outcome = outcome
	p.metrics.Image(string(outcome))
	return outcome == types.ImageResolved
}

func (p *Pipeline) download(ctx context.Context, ref *types.ImageRef) types.ImageOutcome {
	src := ref.SourceURL
	if src == "" {
		src = ref.URL
	}
	if blocked := p.blockedOutcome(src); blocked != "" {
		return blocked
	}
	// Extractors resolve against the article page; keep their absolute form
	// so the hash matches the placeholder already in the body.
	if ref.URL != "" && src != ref.URL {
		src = ref.URL
	}
	abs := p.absolute(src)
	ref.URL = abs
	if blocked := p.blockedOutcome(abs); blocked != "" {
		return blocked
	}
	ref.Hash = storage.URLHash(abs)
	target := p.layout.ImagePath(ref.Hash)
	if storage.FileExists(target) {
		ref.LocalPath = target
		return types.ImageResolved
	}

	v, _, _ := p.flights.Do(ref.Hash, func() (any, error) {
		return p.acquire(ctx, abs, ref.Hash), nil
	})
	res := v.(acquired)
	ref.Ext = res.ext
	if res.outcome == types.ImageResolved {
		ref.LocalPath = target
	}
	return res.outcome
}

func (p *Pipeline) blockedOutcome(raw string) types.ImageOutcome {
	switch {
	case p.filter.Ignored(raw):
		return types.ImageIgnored
	case p.filter.Skipped(raw):
		return types.ImageSkipped
	}
	return ""
}

// absolute resolves relative and protocol-relative references against the
// blog root. Data URIs pass through.
func (p *Pipeline) absolute(raw string) string {
	raw = strings.TrimSpace(raw)
	if isDataURI(raw) {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if ref.IsAbs() {
		return raw
	}
	base := &url.URL{Scheme: p.root.Scheme, Host: p.root.Host, Path: "/"}
	return base.ResolveReference(ref).String()
}

type acquired struct {
	outcome types.ImageOutcome
	ext     string
}

func (p *Pipeline) acquire(ctx context.Context, abs, hash string) acquired {
	target := p.layout.ImagePath(hash)
	if storage.FileExists(target) {
		return acquired{outcome: types.ImageResolved}
	}

	ext, ok := p.resolveType(ctx, abs)
	if !ok {
		p.rep.Warn("cannot download image, unsupported type", "url", shorten(abs))
		p.filter.Skip(abs)
		return acquired{outcome: types.ImageUnsupported}
	}

	data, err := p.fetchBytes(ctx, abs)
	if err != nil {
		p.rep.Warn("cannot download image", "url", shorten(abs), "error", err)
		// A cancelled run says nothing about the image itself.
		if ctx.Err() == nil {
			p.filter.Skip(abs)
		}
		return acquired{outcome: types.ImageFailed, ext: ext}
	}

	original := p.layout.OriginalPath(hash, ext)
	if err := storage.WriteFileAtomic(original, data); err != nil {
		p.rep.Warn("cannot stage image", "url", shorten(abs), "error", err)
		return acquired{outcome: types.ImageFailed, ext: ext}
	}

	outcome := p.validate(abs, data)
	if outcome == types.ImageResolved {
		jpg, err := normalize(data, p.opts.MaxWidth, p.opts.MaxHeight, p.opts.Quality)
		if err != nil {
			p.rep.Warn("cannot normalize image", "url", shorten(abs), "error", err)
			p.filter.Skip(abs)
			outcome = types.ImageFailed
		} else if err := storage.WriteFileAtomic(target, jpg); err != nil {
			p.rep.Warn("cannot write image", "path", target, "error", err)
			outcome = types.ImageFailed
		}
	}

	if err := os.Remove(original); err != nil && !os.IsNotExist(err) {
		p.rep.Warn("cannot remove original image", "path", original, "error", err)
	}
	return acquired{outcome: outcome, ext: ext}
}

// validate checks the sniffed type and the size floor. Rejected URLs join
// the skip-set.
func (p *Pipeline) validate(abs string, data []byte) types.ImageOutcome {
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		p.rep.Warn("downloaded file is not an image", "url", shorten(abs), "type", mt.String())
		p.filter.Skip(abs)
		return types.ImageFailed
	}
	if mimetypeIn(mt, undecodable) {
		p.rep.Warn("image format cannot be normalized", "url", shorten(abs), "type", mt.String())
		p.filter.Skip(abs)
		return types.ImageUnsupported
	}
	w, h, err := dimensions(data)
	if err != nil {
		p.rep.Warn("cannot read image size", "url", shorten(abs), "error", err)
		p.filter.Skip(abs)
		return types.ImageFailed
	}
	if w+h < p.opts.MinDimensionSum {
		p.rep.Info("image too small, skipping", "url", shorten(abs), "width", w, "height", h)
		p.filter.Skip(abs)
		return types.ImageTooSmall
	}
	return types.ImageResolved
}

func mimetypeIn(mt *mimetype.MIME, names []string) bool {
	for _, name := range names {
		if mt.Is(name) {
			return true
		}
	}
	return false
}

// resolveType determines the staged extension before any bytes are fetched.
func (p *Pipeline) resolveType(ctx context.Context, abs string) (string, bool) {
	if isDataURI(abs) {
		d, err := parseDataURI(abs)
		if err != nil {
			return "", false
		}
		return extensionForMIME(d.MIME)
	}
	if ext, ok := extensionFromURL(abs); ok {
		return ext, true
	}
	if p.source == nil {
		return "", false
	}
	header, err := p.source.Head(ctx, abs)
	if err != nil {
		p.rep.Debug("image type probe failed", "url", abs, "error", err)
		return "", false
	}
	return extensionForMIME(header.Get("Content-Type"))
}

func (p *Pipeline) fetchBytes(ctx context.Context, abs string) ([]byte, error) {
	if isDataURI(abs) {
		d, err := parseDataURI(abs)
		if err != nil {
			return nil, err
		}
		return d.Bytes()
	}
	if p.source == nil {
		return nil, fmt.Errorf("no image source configured")
	}
	u, err := url.Parse(abs)
	if err != nil {
		return nil, fmt.Errorf("parse image url: %w", err)
	}
	if err := p.throttle.Wait(ctx, u.Host); err != nil {
		return nil, err
	}
	return p.source.Download(ctx, abs)
}

// ResolveAll runs Download over refs on the configured number of workers
// and returns how many resolved.
func (p *Pipeline) ResolveAll(ctx context.Context, refs []*types.ImageRef) int {
	if len(refs) == 0 {
		return 0
	}
	if p.opts.Workers <= 1 {
		n := 0
		for _, ref := range refs {
			if ctx.Err() != nil {
				break
			}
			if p.Download(ctx, ref) {
				n++
			}
		}
		return n
	}

	pool, err := newWorkerPool(ctx, p.opts.Workers, len(refs))
	if err != nil {
		p.rep.Error("image worker pool", "error", err)
		return 0
	}
	results := make([]bool, len(refs))
	for i, ref := range refs {
		i, ref := i, ref
		if err := pool.Submit(func(ctx context.Context) {
			results[i] = p.Download(ctx, ref)
		}); err != nil {
			break
		}
	}
	pool.Wait()

	n := 0
	for _, ok := range results {
		if ok {
			n++
		}
	}
	return n
}

func shorten(raw string) string {
	if isDataURI(raw) && len(raw) > 64 {
		return raw[:64] + "..."
	}
	return raw
}
