package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"blogcrawler/internal/fetcher"
	"blogcrawler/pkg/types"
)

// htmlExtractor reads themes whose listing pages link to full posts.
type htmlExtractor struct {
	rules rules
	deps  Deps
}

func htmlFactory(r rules) Factory {
	return func(deps Deps) Extractor {
		return &htmlExtractor{rules: r, deps: deps}
	}
}

func (e *htmlExtractor) StartURL(landing string) string { return landing }

func (e *htmlExtractor) ExtractListing(_ context.Context, page types.Page) (types.Listing, error) {
	doc, err := parsePage(page)
	if err != nil {
		return types.Listing{}, err
	}
	base := pageBase(page)

	listing := types.Listing{
		Title:       pageTitle(doc),
		Description: pageDescription(doc, e.rules.Description),
		Language:    detectLanguage(doc, page.Text),
	}

	seen := make(map[string]struct{})
	doc.Find(e.rules.Stubs).Each(func(_ int, a *goquery.Selection) {
		href := linkTarget(a)
		if href == "" {
			return
		}
		abs := resolveURL(base, href)
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		listing.Stubs = append(listing.Stubs, types.ArticleStub{
			URL:   abs,
			Title: cleanText(a.Text()),
		})
	})

	if next := linkTarget(doc.Find(e.rules.Next).First()); next != "" {
		listing.NextURL = resolveURL(base, next)
	}
	return listing, nil
}

func (e *htmlExtractor) ExtractArticle(ctx context.Context, stub types.ArticleStub) (*types.Article, error) {
	page, ok := e.deps.Source.Get(ctx, stub.URL)
	if !ok {
		return nil, fmt.Errorf("article %s: %w", stub.URL, fetcher.ErrNoContent)
	}
	doc, err := parsePage(page)
	if err != nil {
		return nil, err
	}
	return articleFromDocument(doc, pageBase(page), stub, e.rules, e.deps), nil
}

// articleFromDocument fills an article from a full post page.
func articleFromDocument(doc *goquery.Document, base *url.URL, stub types.ArticleStub, r rules, deps Deps) *types.Article {
	art := &types.Article{
		URL:   stub.URL,
		Title: stub.Title,
		Date:  stub.Date,
		Tags:  append([]string(nil), stub.Tags...),
	}
	if art.Title == "" && r.Title != "" {
		art.Title = cleanText(doc.Find(r.Title).First().Text())
	}
	if art.Title == "" {
		art.Title = pageTitle(doc)
	}

	date, text := articleDate(doc, r.Date)
	art.DateText = stub.DateText
	if art.DateText == "" {
		art.DateText = text
	}
	if art.Date.IsZero() {
		art.Date = date
	}

	// Comments live outside the body and must be read before it is rewritten.
	art.Comments = extractComments(doc, r.Comments)

	body := doc.Find(r.Body).First()
	if body.Length() == 0 {
		deps.Reporter.Warn("article body not found", "url", stub.URL)
	}
	art.Body, art.Images = buildBody(body, base, r, deps.Cleaner)

	if r.Tags != "" {
		doc.Find(r.Tags).Each(func(_ int, s *goquery.Selection) {
			art.Tags = appendTag(art.Tags, cleanText(s.Text()))
		})
	}
	return art
}

func appendTag(tags []string, tag string) []string {
	if tag == "" {
		return tags
	}
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return tags
		}
	}
	return append(tags, tag)
}

func parsePage(page types.Page) (*goquery.Document, error) {
	text := page.Text
	if text == "" {
		text = string(page.Body)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", page.URL, err)
	}
	return doc, nil
}

// pageBase is the URL relative links on page resolve against. Scheme-less
// cache keys are read as http.
func pageBase(page types.Page) *url.URL {
	base, err := url.Parse(page.URL)
	if err != nil {
		return nil
	}
	if base.Scheme == "" && base.Host == "" && !strings.HasPrefix(page.URL, "/") {
		if withScheme, err := url.Parse("http://" + page.URL); err == nil {
			base = withScheme
		}
	}
	return base
}
