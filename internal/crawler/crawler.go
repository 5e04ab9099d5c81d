// Package crawler walks a blog's listing pages from newest to oldest and
// collects its articles.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"blogcrawler/internal/config"
	"blogcrawler/internal/engine"
	"blogcrawler/internal/fetcher"
	"blogcrawler/internal/images"
	"blogcrawler/internal/metrics"
	"blogcrawler/internal/processor"
	"blogcrawler/internal/report"
	robotsclient "blogcrawler/internal/robots"
	"blogcrawler/internal/storage"
	"blogcrawler/pkg/types"
)

// ImagesDir is the directory rendered bodies reference images from.
const ImagesDir = "images"

// Options carries collaborators that are not part of the configuration.
// Every field is optional.
type Options struct {
	Reporter report.Reporter
	Metrics  *metrics.Metrics
	// Index overrides the index opened from configuration.
	Index storage.ArticleIndex
	// Transport and Sleep are test hooks for the fetcher.
	Transport http.RoundTripper
	Sleep     fetcher.SleepFunc
}

// Driver runs one crawl.
type Driver struct {
	cfg       config.Config
	blogURL   string
	engine    engine.Descriptor
	extractor engine.Extractor
	fetcher   *fetcher.Fetcher
	pipeline  *images.Pipeline
	layout    storage.Layout
	index     storage.ArticleIndex
	footprint *Footprint

	rep     report.Reporter
	metrics *metrics.Metrics

	closers   []func() error
	closeOnce sync.Once
}

// New validates cfg and wires a driver. Configuration errors, including an
// unknown engine, are returned before any network traffic.
func New(ctx context.Context, cfg config.Config, opts Options) (*Driver, error) {
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	blogURL := storage.StripScheme(cfg.Blog.URL)
	if blogURL == "" {
		return nil, fmt.Errorf("blog url %q has no host", cfg.Blog.URL)
	}
	desc, err := engine.Select(blogURL, cfg.Blog.Engine)
	if err != nil {
		return nil, err
	}

	rep := opts.Reporter
	if rep == nil {
		rep = report.Nop()
	}

	layout, err := storage.NewLayout(cfg.Blog.Destination, storage.BlogID(blogURL))
	if err != nil {
		return nil, err
	}
	if err := layout.Ensure(); err != nil {
		return nil, fmt.Errorf("prepare destination: %w", err)
	}

	filter, err := fetcher.NewFilter(cfg.Fetch.Ignore, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid ignore pattern: %w", err)
	}
	retry := fetcher.RetryPolicy{
		MaxAttempts: cfg.Fetch.MaxAttempts,
		Delay:       cfg.Fetch.RetryDelay.Duration,
		Sleep:       opts.Sleep,
	}
	httpFetcher, err := fetcher.New(fetcher.Options{
		UserAgent:    cfg.Fetch.UserAgent,
		Headers:      cfg.Fetch.Headers,
		Timeout:      cfg.Fetch.RequestTimeout.Duration,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		ProxyURL:     cfg.Fetch.ProxyURL,
		Root:         blogURL,
		Retry:        retry,
		Transport:    opts.Transport,
	}, storage.NewContentCache(layout.HTMLDir(), rep, opts.Metrics), filter, rep, opts.Metrics)
	if err != nil {
		return nil, fmt.Errorf("http fetcher: %w", err)
	}
	if cfg.Robots.Respect {
		httpFetcher.SetGate(robotsclient.NewAgent(cfg.Robots, httpFetcher.Client(), rep))
	}

	d := &Driver{
		cfg:       cfg,
		blogURL:   blogURL,
		engine:    desc,
		fetcher:   httpFetcher,
		layout:    layout,
		footprint: NewFootprint(),
		rep:       rep,
		metrics:   opts.Metrics,
	}

	if cfg.Images.Enabled {
		d.pipeline, err = images.NewPipeline(httpFetcher, filter, layout, "http://"+blogURL, images.Options{
			MaxWidth:        cfg.Images.MaxWidth,
			MaxHeight:       cfg.Images.MaxHeight,
			Quality:         cfg.Images.Quality,
			MinDimensionSum: cfg.Images.MinDimensionSum,
			Delay:           cfg.Images.DownloadDelay.Duration,
			Workers:         cfg.Images.Workers,
		}, rep, opts.Metrics)
		if err != nil {
			return nil, err
		}
	}

	d.extractor = desc.New(engine.Deps{
		Source:   httpFetcher,
		Cleaner:  processor.NewCleaner(processor.DefaultOptions()),
		Reporter: rep,
	})

	switch {
	case opts.Index != nil:
		d.index = opts.Index
	case cfg.Index.Driver != "":
		idx, err := storage.OpenIndex(ctx, cfg.Index)
		if err != nil {
			return nil, err
		}
		if idx != nil {
			d.index = idx
			d.closers = append(d.closers, idx.Close)
		}
	}
	return d, nil
}

// Engine names the engine in use.
func (d *Driver) Engine() string { return d.engine.Name }

// Layout is the on-disk layout of the blog's cache.
func (d *Driver) Layout() storage.Layout { return d.layout }

// Close releases the index opened by New.
func (d *Driver) Close() error {
	var err error
	d.closeOnce.Do(func() {
		for _, closer := range d.closers {
			if cerr := closer(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
	})
	return err
}

// crawlState is the mutable part of a run.
type crawlState struct {
	next    string
	counter int
	done    bool
	images  map[string]struct{}
	tags    map[string]struct{}
	newest  time.Time
	oldest  time.Time
}

// Run crawls until the listings run out, the limit is reached or ctx ends.
// Fetch failures end the crawl with the articles collected so far; only
// cancellation is returned as an error, together with the partial result.
func (d *Driver) Run(ctx context.Context) (*types.Result, error) {
	res := &types.Result{
		RunID:  uuid.NewString(),
		Engine: d.engine.Name,
		Blog: types.BlogMeta{
			URL: d.blogURL,
			ID:  storage.BlogID(d.blogURL),
		},
	}

	landing, err := d.fetcher.Resolve(ctx, "http://"+d.blogURL)
	if err != nil {
		d.rep.Warn("cannot resolve landing url", "url", d.blogURL, "error", err)
		landing = "http://" + d.blogURL
	}
	res.Blog.LandingURL = landing
	d.rep.Info("crawl started", "run_id", res.RunID, "url", landing, "engine", d.engine.Name)

	st := &crawlState{
		next:   d.extractor.StartURL(landing),
		images: make(map[string]struct{}),
		tags:   make(map[string]struct{}),
		newest: d.cfg.Crawl.NewestDate(),
		oldest: d.cfg.Crawl.OldestDate(),
	}
	first := true
	for st.next != "" && !st.done {
		if err := ctx.Err(); err != nil {
			d.finish(res)
			return res, err
		}
		current := st.next
		st.next = ""
		if !d.footprint.Visit(current) {
			d.rep.Warn("listing already visited, stopping", "url", current)
			break
		}

		page, ok := d.fetcher.Get(ctx, current)
		if !ok {
			d.rep.Info("listing unavailable, stopping", "url", current)
			break
		}
		d.metrics.Listing()
		listing, err := d.extractor.ExtractListing(ctx, page)
		if err != nil {
			d.rep.Warn("cannot read listing", "url", current, "error", err)
			break
		}
		if first {
			res.Blog.Title = listing.Title
			res.Blog.Description = listing.Description
			res.Blog.Language = listing.Language
			first = false
		}
		if len(listing.Stubs) == 0 {
			d.rep.Info("empty listing, stopping", "url", current)
			break
		}

		d.extract(ctx, listing.Stubs, res, st)
		if !st.done {
			st.next = listing.NextURL
		}
	}

	d.finish(res)
	d.rep.Info("crawl finished", "run_id", res.RunID, "articles", len(res.Articles), "images", len(res.Images),
		"tags", len(res.Tags), "skipped_urls", d.fetcher.Filter().SkipSet().Len())
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (d *Driver) extract(ctx context.Context, stubs []types.ArticleStub, res *types.Result, st *crawlState) {
	for _, stub := range stubs {
		if ctx.Err() != nil {
			st.done = true
			return
		}
		if !d.footprint.Visit(stub.URL) {
			d.rep.Debug("article already seen", "url", stub.URL)
			continue
		}
		st.counter++
		if st.counter <= d.cfg.Crawl.Skip {
			continue
		}
		if !stub.Date.IsZero() && !d.inWindow(stub.Date, st) {
			if st.done {
				return
			}
			continue
		}

		art, err := d.extractor.ExtractArticle(ctx, stub)
		if err != nil {
			d.rep.Warn("cannot extract article", "url", stub.URL, "error", err)
			continue
		}
		if !art.Date.IsZero() && !d.inWindow(art.Date, st) {
			if st.done {
				return
			}
			continue
		}

		d.append(ctx, art, res, st)
		if limit := d.cfg.Crawl.Limit; limit > 0 && len(res.Articles) >= limit {
			d.rep.Info("article limit reached", "limit", limit)
			st.done = true
			return
		}
	}
}

// inWindow applies the optional date window. An article older than the
// window ends the crawl since listings run newest first.
func (d *Driver) inWindow(date time.Time, st *crawlState) bool {
	if !st.newest.IsZero() && !date.Before(st.newest.AddDate(0, 0, 1)) {
		return false
	}
	if !st.oldest.IsZero() && date.Before(st.oldest) {
		d.rep.Info("reached articles older than the window, stopping", "date", date.Format(config.DateLayout))
		st.done = true
		return false
	}
	return true
}

func (d *Driver) append(ctx context.Context, art *types.Article, res *types.Result, st *crawlState) {
	if d.pipeline != nil && len(art.Images) > 0 {
		d.pipeline.ResolveAll(ctx, art.Images)
	}
	art.HTML = art.Body.Render(ImagesDir)

	resolved := 0
	for _, ref := range art.Images {
		if !ref.Resolved() {
			continue
		}
		resolved++
		name := ref.FileName()
		if _, dup := st.images[name]; !dup {
			st.images[name] = struct{}{}
			res.Images = append(res.Images, name)
		}
	}

	if !art.Date.IsZero() {
		if res.End.IsZero() {
			res.End = art.Date
			res.Start = art.Date
		} else {
			res.Start = art.Date
		}
	}
	for _, tag := range art.Tags {
		key := strings.ToLower(tag)
		if _, dup := st.tags[key]; !dup {
			st.tags[key] = struct{}{}
			res.Tags = append(res.Tags, tag)
		}
	}
	res.Articles = append(res.Articles, art)
	d.metrics.Article()
	d.rep.Info("article collected", "n", len(res.Articles), "title", art.Title, "images", resolved)

	if d.index != nil {
		rec := storage.ArticleRecord{
			BlogID:     res.Blog.ID,
			RunID:      res.RunID,
			URL:        art.URL,
			Title:      art.Title,
			Published:  art.Date,
			Tags:       art.Tags,
			HTML:       art.HTML,
			Text:       processor.PlainText(art.HTML),
			ImageCount: resolved,
		}
		if err := d.index.SaveArticle(ctx, rec); err != nil {
			d.rep.Warn("cannot index article", "url", art.URL, "error", err)
		}
	}
}

func (d *Driver) finish(res *types.Result) {
	if !res.Start.IsZero() && !res.End.IsZero() && res.Start.After(res.End) {
		res.Start, res.End = res.End, res.Start
	}
}
