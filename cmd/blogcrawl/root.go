package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"blogcrawler/internal/config"
	"blogcrawler/internal/crawler"
	"blogcrawler/internal/engine"
	"blogcrawler/internal/metrics"
	"blogcrawler/internal/report"
	"blogcrawler/pkg/types"
)

type rootFlags struct {
	config      string
	limit       int
	skip        int
	quality     int
	engine      string
	output      string
	destination string
	debug       bool
	noImages    bool
	workers     int
	metrics     bool
}

func newRootCmd() *cobra.Command {
	return buildRootCmd(&rootFlags{})
}

func buildRootCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blogcrawl [url]",
		Short: "Crawl a blog into a local article corpus",
		Long: "blogcrawl walks a blog from its newest post to its oldest, caching every page and\n" +
			"normalising every image, and reports the collected articles.\n\n" +
			"Known engines: " + strings.Join(engine.Names(), ", ") + " (or \"default\" to detect).",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *flags, args)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cmd.OutOrStdout(), cfg, flags.metrics)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.config, "config", "c", "", "path to a YAML configuration file")
	f.IntVarP(&flags.limit, "limit", "l", 0, "stop after this many articles (0 for all)")
	f.IntVarP(&flags.skip, "skip", "s", 0, "skip the newest N articles")
	f.IntVarP(&flags.quality, "quality", "q", 40, "JPEG quality of normalised images (0-100)")
	f.StringVarP(&flags.engine, "engine", "e", engine.DefaultName, "blog engine")
	f.StringVarP(&flags.output, "output", "o", "", "output file name handed to document assembly")
	f.StringVarP(&flags.destination, "destination", "d", "", "cache folder (default "+config.DefaultDestination()+")")
	f.BoolVar(&flags.debug, "debug", false, "verbose logging")
	f.BoolVar(&flags.noImages, "no-images", false, "do not download images")
	f.IntVar(&flags.workers, "workers", 1, "parallel image downloads")
	f.BoolVar(&flags.metrics, "metrics", false, "print crawl counters when done")
	return cmd
}

// loadConfig reads the optional file and lets explicitly set flags win.
func loadConfig(cmd *cobra.Command, flags rootFlags, args []string) (config.Config, error) {
	cfg := config.Default()
	if flags.config != "" {
		loaded, err := config.Read(flags.config)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if len(args) == 1 {
		cfg.Blog.URL = args[0]
	}
	if changed("limit") {
		cfg.Crawl.Limit = flags.limit
	}
	if changed("skip") {
		cfg.Crawl.Skip = flags.skip
	}
	if changed("quality") {
		cfg.Images.Quality = flags.quality
	}
	if changed("engine") {
		cfg.Blog.Engine = flags.engine
	}
	if changed("output") {
		cfg.Blog.Output = flags.output
	}
	if changed("destination") {
		cfg.Blog.Destination = flags.destination
	}
	if changed("no-images") {
		cfg.Images.Enabled = !flags.noImages
	}
	if changed("workers") {
		cfg.Images.Workers = flags.workers
	}
	if flags.debug {
		cfg.Logging.Level = "debug"
	}

	if strings.TrimSpace(cfg.Blog.URL) == "" {
		return config.Config{}, errors.New("blog url is required (argument or blog.url in the config file)")
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func run(ctx context.Context, out io.Writer, cfg config.Config, showMetrics bool) error {
	logger, err := report.BuildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	d, err := crawler.New(ctx, cfg, crawler.Options{
		Reporter: report.NewZap(logger),
		Metrics:  metrics.New(reg),
	})
	if err != nil {
		return err
	}
	defer d.Close()

	res, err := d.Run(ctx)
	if res != nil {
		printSummary(out, cfg, d, res)
	}
	if showMetrics {
		printMetrics(out, reg)
	}
	if err != nil {
		logger.Warn("crawl interrupted", zap.Error(err))
		return err
	}
	return nil
}

func printSummary(out io.Writer, cfg config.Config, d *crawler.Driver, res *types.Result) {
	title := res.Blog.Title
	if title == "" {
		title = res.Blog.URL
	}
	fmt.Fprintf(out, "%s [%s, %s]\n", title, res.Engine, res.Blog.Language)
	if span := types.FormatDateRange(res.Start, res.End); span != "" {
		fmt.Fprintf(out, "  %s\n", span)
	}
	fmt.Fprintf(out, "  articles: %d\n", len(res.Articles))
	fmt.Fprintf(out, "  images:   %d in %s\n", len(res.Images), d.Layout().ImagesDir())
	if cfg.Blog.Output != "" {
		fmt.Fprintf(out, "  output:   %s\n", cfg.Blog.Output)
	}
	for i, art := range res.Articles {
		date := art.DateText
		if !art.Date.IsZero() {
			date = art.Date.Format(config.DateLayout)
		}
		fmt.Fprintf(out, "%4d. %s  %s\n", i+1, date, art.Title)
	}
}

func printMetrics(out io.Writer, reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		fmt.Fprintf(out, "metrics unavailable: %v\n", err)
		return
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				lines = append(lines, fmt.Sprintf("%s %g", name, m.GetCounter().GetValue()))
			case m.GetHistogram() != nil:
				lines = append(lines, fmt.Sprintf("%s count=%d sum=%.3f", name, m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum()))
			}
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}
}
