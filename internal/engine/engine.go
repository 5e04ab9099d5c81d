// Package engine maps blog platforms to the extractors that read their
// listing pages, feeds and articles.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"blogcrawler/internal/processor"
	"blogcrawler/internal/report"
	"blogcrawler/pkg/types"
)

// DefaultName selects the engine by inspecting the blog URL.
const DefaultName = "default"

// GenericName is the fallback engine for unknown platforms.
const GenericName = "generic"

// ErrUnknownEngine is returned when an explicit engine name is not registered.
var ErrUnknownEngine = errors.New("unknown engine")

// PageSource retrieves decoded pages. *fetcher.Fetcher satisfies it.
type PageSource interface {
	Get(ctx context.Context, url string) (types.Page, bool)
}

// Extractor reads one platform's pages.
type Extractor interface {
	// StartURL maps the landing URL to the first listing to fetch.
	StartURL(landing string) string
	ExtractListing(ctx context.Context, page types.Page) (types.Listing, error)
	// ExtractArticle builds the article for stub, fetching its page when the
	// stub carries no content.
	ExtractArticle(ctx context.Context, stub types.ArticleStub) (*types.Article, error)
}

// Deps are handed to every factory.
type Deps struct {
	Source   PageSource
	Cleaner  *processor.Cleaner
	Reporter report.Reporter
}

func (d Deps) withDefaults() Deps {
	if d.Cleaner == nil {
		d.Cleaner = processor.NewCleaner(processor.DefaultOptions())
	}
	if d.Reporter == nil {
		d.Reporter = report.Nop()
	}
	return d
}

// Factory builds an extractor bound to deps.
type Factory func(deps Deps) Extractor

// Descriptor registers one engine.
type Descriptor struct {
	Name string
	// Match reports whether a scheme-less blog URL belongs to the platform.
	// Nil for engines that are only selected explicitly.
	Match   func(url string) bool
	Factory Factory
}

// New builds the engine's extractor.
func (d Descriptor) New(deps Deps) Extractor {
	return d.Factory(deps.withDefaults())
}

func contains(fragment string) func(string) bool {
	return func(url string) bool {
		return strings.Contains(strings.ToLower(url), fragment)
	}
}

// detection order matters: the first matching descriptor wins.
var registry = []Descriptor{
	{Name: "blogger", Match: contains(".blogspot."), Factory: htmlFactory(bloggerRules)},
	{Name: "wordpress", Match: contains(".wordpress.com"), Factory: atomFactory},
	{Name: "nrdblog_cmosnet", Match: contains("nrdblog.cmosnet.eu"), Factory: atomFactory},
	{Name: "zeissikonveb", Match: contains("zeissikonveb.de"), Factory: htmlFactory(zeissRules)},
}

var generic = Descriptor{Name: GenericName, Factory: htmlFactory(genericRules)}

// Names lists the registered engine names, sorted.
func Names() []string {
	names := []string{GenericName}
	for _, d := range registry {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

// Detect returns the first descriptor whose predicate matches url, or the
// generic engine.
func Detect(url string) Descriptor {
	for _, d := range registry {
		if d.Match != nil && d.Match(url) {
			return d
		}
	}
	return generic
}

// Select resolves the configured engine name. DefaultName and the empty
// name auto-detect from url. Unknown names are an error.
func Select(url, name string) (Descriptor, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == DefaultName {
		return Detect(url), nil
	}
	if d, ok := lookup(name); ok {
		return d, nil
	}
	return Descriptor{}, fmt.Errorf("%w %q (known: %s)", ErrUnknownEngine, name, strings.Join(Names(), ", "))
}

// Lookup returns the named engine, falling back to the generic one.
func Lookup(name string) Descriptor {
	if d, ok := lookup(strings.ToLower(strings.TrimSpace(name))); ok {
		return d
	}
	return generic
}

func lookup(name string) (Descriptor, bool) {
	if name == GenericName {
		return generic, true
	}
	for _, d := range registry {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}
