package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DateLayout is the layout accepted for crawl date windows.
const DateLayout = "2006-01-02"

// ErrInvalidQuality is returned when the image quality is outside 0-100.
var ErrInvalidQuality = errors.New("images.quality must be between 0 and 100")

// Config captures everything a crawl run needs.
type Config struct {
	Blog    BlogConfig    `yaml:"blog"`
	Crawl   CrawlConfig   `yaml:"crawl"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Images  ImagesConfig  `yaml:"images"`
	Robots  RobotsConfig  `yaml:"robots"`
	Index   IndexConfig   `yaml:"index"`
	Logging LoggingConfig `yaml:"logging"`
}

// BlogConfig identifies the blog and where its corpus goes.
type BlogConfig struct {
	URL         string `yaml:"url" validate:"required"`
	Engine      string `yaml:"engine" validate:"required"`
	Output      string `yaml:"output"`
	Destination string `yaml:"destination" validate:"required"`
}

// CrawlConfig bounds the walk through the blog.
type CrawlConfig struct {
	// Limit caps collected articles, 0 means no limit.
	Limit int `yaml:"limit" validate:"gte=0"`
	// Skip excludes the first N article stubs.
	Skip int `yaml:"skip" validate:"gte=0"`
	// Newest and Oldest bound article dates, inclusive.
	Newest string `yaml:"newest" validate:"omitempty,datetime=2006-01-02"`
	Oldest string `yaml:"oldest" validate:"omitempty,datetime=2006-01-02"`
}

// FetchConfig controls HTTP retrieval and retry behaviour.
type FetchConfig struct {
	UserAgent      string            `yaml:"user_agent" validate:"required"`
	Headers        map[string]string `yaml:"headers"`
	ProxyURL       string            `yaml:"proxy_url" validate:"omitempty,url"`
	RequestTimeout Duration          `yaml:"request_timeout"`
	MaxAttempts    int               `yaml:"max_attempts" validate:"gte=1"`
	RetryDelay     Duration          `yaml:"retry_delay"`
	MaxBodyBytes   int64             `yaml:"max_body_bytes" validate:"gt=0"`
	Ignore         []string          `yaml:"ignore"`
}

// ImagesConfig controls the image pipeline.
type ImagesConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Quality         int      `yaml:"quality"`
	MaxWidth        int      `yaml:"max_width" validate:"gt=0"`
	MaxHeight       int      `yaml:"max_height" validate:"gt=0"`
	MinDimensionSum int      `yaml:"min_dimension_sum" validate:"gte=0"`
	DownloadDelay   Duration `yaml:"download_delay"`
	Workers         int      `yaml:"workers" validate:"gte=1"`
}

// RobotsConfig configures the optional robots.txt gate.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect"`
	Overrides []string `yaml:"overrides"`
	UserAgent string   `yaml:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// IndexConfig describes the optional SQL corpus index.
type IndexConfig struct {
	Driver      string `yaml:"driver" validate:"omitempty,oneof=postgres sqlite"`
	DSN         string `yaml:"dsn" validate:"required_with=Driver"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Structured bool   `yaml:"structured"`
}

// DefaultDestination is where corpora are cached when no folder is given.
func DefaultDestination() string {
	return filepath.Join(xdg.CacheHome, "blogcrawler")
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Blog: BlogConfig{
			Engine:      "default",
			Destination: DefaultDestination(),
		},
		Fetch: FetchConfig{
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			Headers:        map[string]string{},
			RequestTimeout: DurationFrom(30 * time.Second),
			MaxAttempts:    3,
			RetryDelay:     DurationFrom(3 * time.Second),
			MaxBodyBytes:   16 * 1024 * 1024,
		},
		Images: ImagesConfig{
			Enabled:         true,
			Quality:         40,
			MaxWidth:        2160,
			MaxHeight:       3840,
			MinDimensionSum: 100,
			DownloadDelay:   DurationFrom(time.Second),
			Workers:         1,
		},
		Robots: RobotsConfig{
			Respect:   false,
			UserAgent: "blogcrawler",
			CacheTTL:  DurationFrom(6 * time.Hour),
		},
		Index: IndexConfig{
			AutoMigrate: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: false,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Read decodes a YAML file over the defaults without validating it, so
// callers can layer more settings on top first.
func Read(path string) (Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()

	cfg := Default()
	if err := decodeYAML(fh, &cfg); err != nil {
		return Config{}, err
	}
	cfg.Normalise()
	return cfg, nil
}

// LoadFromReader decodes configuration from an arbitrary reader. Values not
// present in the document keep their defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate enforces the invariants a crawl depends on. It runs before any
// network activity.
func (c Config) Validate() error {
	if c.Images.Quality < 0 || c.Images.Quality > 100 {
		return fmt.Errorf("%w (got %d)", ErrInvalidQuality, c.Images.Quality)
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config field %s: failed %q check (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Crawl.Newest != "" && c.Crawl.Oldest != "" {
		newest, _ := time.Parse(DateLayout, c.Crawl.Newest)
		oldest, _ := time.Parse(DateLayout, c.Crawl.Oldest)
		if newest.Before(oldest) {
			return fmt.Errorf("crawl.newest %s is before crawl.oldest %s", c.Crawl.Newest, c.Crawl.Oldest)
		}
	}
	return nil
}

// Normalise trims user supplied values and de-duplicates lists.
func (c *Config) Normalise() {
	c.Blog.URL = strings.TrimSpace(c.Blog.URL)
	c.Blog.Engine = strings.ToLower(strings.TrimSpace(c.Blog.Engine))
	if c.Blog.Engine == "" {
		c.Blog.Engine = "default"
	}
	c.Blog.Output = strings.TrimSpace(c.Blog.Output)
	c.Blog.Destination = strings.TrimSpace(c.Blog.Destination)
	c.Fetch.UserAgent = strings.TrimSpace(c.Fetch.UserAgent)
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	c.Index.Driver = strings.ToLower(strings.TrimSpace(c.Index.Driver))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Fetch.Headers == nil {
		c.Fetch.Headers = make(map[string]string)
	}

	ignore := make([]string, 0, len(c.Fetch.Ignore))
	for _, raw := range c.Fetch.Ignore {
		if raw = strings.TrimSpace(raw); raw != "" {
			ignore = append(ignore, raw)
		}
	}
	c.Fetch.Ignore = ignore

	if len(c.Robots.Overrides) > 0 {
		c.Robots.Overrides = dedupeLower(c.Robots.Overrides)
	}
}

// NewestDate returns the parsed newest bound, zero when unset.
func (c CrawlConfig) NewestDate() time.Time {
	return parseDate(c.Newest)
}

// OldestDate returns the parsed oldest bound, zero when unset.
func (c CrawlConfig) OldestDate() time.Time {
	return parseDate(c.Oldest)
}

func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(DateLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}
