package engine

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"blogcrawler/internal/fetcher"
	"blogcrawler/pkg/types"
)

const (
	feedPath  = "/feed/atom/"
	pageParam = "paged"
)

// atomExtractor pages through a WordPress Atom feed. Entries usually carry
// the full post so article pages are fetched only as a fallback.
type atomExtractor struct {
	parser *gofeed.Parser
	rules  rules
	deps   Deps
}

func atomFactory(deps Deps) Extractor {
	return &atomExtractor{parser: gofeed.NewParser(), rules: feedRules, deps: deps}
}

func (e *atomExtractor) StartURL(landing string) string {
	u, err := url.Parse(landing)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(landing, "/") + feedPath
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + feedPath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func (e *atomExtractor) ExtractListing(_ context.Context, page types.Page) (types.Listing, error) {
	text := page.Text
	if text == "" {
		text = string(page.Body)
	}
	feed, err := e.parser.ParseString(text)
	if err != nil {
		return types.Listing{}, fmt.Errorf("parse feed %s: %w", page.URL, err)
	}

	listing := types.Listing{
		Title:       html.UnescapeString(strings.TrimSpace(feed.Title)),
		Description: html.UnescapeString(strings.TrimSpace(feed.Description)),
		Language:    primaryTag(feed.Language),
	}
	if listing.Language == "" {
		listing.Language = DefaultLanguage
	}

	for _, item := range feed.Items {
		if item == nil || item.Link == "" {
			continue
		}
		stub := types.ArticleStub{
			URL:     item.Link,
			Title:   html.UnescapeString(strings.TrimSpace(item.Title)),
			Content: item.Content,
		}
		switch {
		case item.UpdatedParsed != nil:
			stub.Date = *item.UpdatedParsed
		case item.PublishedParsed != nil:
			stub.Date = *item.PublishedParsed
		}
		if !stub.Date.IsZero() {
			stub.DateText = stub.Date.Format("2 January 2006")
		}
		for _, c := range item.Categories {
			stub.Tags = appendTag(stub.Tags, strings.TrimSpace(c))
		}
		listing.Stubs = append(listing.Stubs, stub)
	}

	if len(listing.Stubs) > 0 {
		listing.NextURL = nextFeedPage(page.URL)
	}
	return listing, nil
}

// nextFeedPage increments the paged parameter, starting at 2.
func nextFeedPage(current string) string {
	u, err := url.Parse(current)
	if err != nil {
		return ""
	}
	q := u.Query()
	n, err := strconv.Atoi(q.Get(pageParam))
	if err != nil || n < 1 {
		n = 1
	}
	q.Set(pageParam, strconv.Itoa(n+1))
	u.RawQuery = q.Encode()
	return u.String()
}

func (e *atomExtractor) ExtractArticle(ctx context.Context, stub types.ArticleStub) (*types.Article, error) {
	if strings.TrimSpace(stub.Content) == "" {
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

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<div id="blogcrawl-entry">` + stub.Content + `</div>`))
	if err != nil {
		return nil, fmt.Errorf("parse entry %s: %w", stub.URL, err)
	}
	base, _ := url.Parse(stub.URL)
	art := &types.Article{
		URL:      stub.URL,
		Title:    stub.Title,
		Date:     stub.Date,
		DateText: stub.DateText,
		Tags:     append([]string(nil), stub.Tags...),
	}
	art.Body, art.Images = buildBody(doc.Find("#blogcrawl-entry"), base, e.rules, e.deps.Cleaner)
	return art, nil
}
