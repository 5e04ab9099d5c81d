package engine

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogcrawler/internal/processor"
	"blogcrawler/internal/storage"
	"blogcrawler/pkg/types"
)

const bloggerListing = `<!DOCTYPE html>
<html lang="pl-PL"><head><title> Camera Blog </title></head><body>
<div id="header"><div><div><div><p class="description"><span>Old   cameras and film</span></p></div></div></div></div>
<div class="post">
<h3 class='post-title entry-title' itemprop='name'><a href='https://myblog.blogspot.com/2018/03/first.html'>First post</a></h3>
</div>
<div class="post">
<h3 class='post-title entry-title' itemprop='name'><a href='/2018/02/second.html'>Second post</a></h3>
</div>
<div class="post">
<h3 class='post-title entry-title' itemprop='name'><a href='https://myblog.blogspot.com/2018/03/first.html'>First post</a></h3>
</div>
<a class='blog-pager-older-link' href='/search?updated-max=2018-02-01&amp;max-results=7'>Older</a>
</body></html>`

const bloggerArticle = `<html><head><title>First post - Camera Blog</title></head><body>
<h2 class="date-header"><span>sobota, 3 marca 2018</span></h2>
<div class="post">
<h3 class="post-title entry-title">First post</h3>
<div class="post-body entry-content" style="font-size: 12px">
<p style="color:red">Intro</p>
<table class="tr-caption-container"><tbody>
<tr><td><a href="https://img.example.com/big.jpg"><img src="https://img.example.com/small.jpg"></a></td></tr>
<tr><td class="tr-caption">A caption</td></tr>
</tbody></table>
<a href="https://img.example.com/b.png" imageanchor="1"><img src="https://img.example.com/b-small.png"></a>
<img src="/local.gif" class="inline">
<iframe src="https://www.youtube.com/embed/xyz?feature=oembed" width="320"></iframe>
<script>track()</script>
</div>
<div class="post-labels"><a href="#">cameras</a> <a href="#">film</a></div>
</div>
<div id="comments"><h4>2 comments:</h4>
<div class="comment-block"><dl><dt>Alice</dt><dd>Nice post</dd></dl><span>Odpowiedz</span></div>
<div class="comment-block"><dl><dt>Bob</dt><dd>Thanks</dd></dl><span>Usuń</span></div>
</div>
</body></html>`

func TestBloggerListing(t *testing.T) {
	ext := Lookup("blogger").New(Deps{Source: pages{}})
	listing, err := ext.ExtractListing(context.Background(), types.Page{
		URL:  "https://myblog.blogspot.com/",
		Text: bloggerListing,
	})
	require.NoError(t, err)

	assert.Equal(t, "Camera Blog", listing.Title)
	assert.Equal(t, "Old cameras and film", listing.Description)
	assert.Equal(t, "pl", listing.Language)
	require.Len(t, listing.Stubs, 2)
	assert.Equal(t, "https://myblog.blogspot.com/2018/03/first.html", listing.Stubs[0].URL)
	assert.Equal(t, "First post", listing.Stubs[0].Title)
	assert.Equal(t, "https://myblog.blogspot.com/2018/02/second.html", listing.Stubs[1].URL)
	assert.Equal(t, "https://myblog.blogspot.com/search?updated-max=2018-02-01&max-results=7", listing.NextURL)
}

func TestBloggerListingWithoutPosts(t *testing.T) {
	ext := Lookup("blogger").New(Deps{Source: pages{}})
	listing, err := ext.ExtractListing(context.Background(), types.Page{
		URL:  "https://myblog.blogspot.com/",
		Text: `<html><head><title>Empty</title></head><body></body></html>`,
	})
	require.NoError(t, err)
	assert.Empty(t, listing.Stubs)
	assert.Empty(t, listing.NextURL)
	assert.Equal(t, DefaultLanguage, listing.Language)
}

func TestBloggerArticle(t *testing.T) {
	const articleURL = "https://myblog.blogspot.com/2018/03/first.html"
	ext := Lookup("blogger").New(Deps{Source: pages{articleURL: bloggerArticle}})

	art, err := ext.ExtractArticle(context.Background(), types.ArticleStub{URL: articleURL, Title: "First post"})
	require.NoError(t, err)

	assert.Equal(t, "First post", art.Title)
	assert.Equal(t, "3 marca 2018", art.DateText)
	assert.True(t, art.Date.IsZero())
	assert.Equal(t, []string{"cameras", "film"}, art.Tags)
	assert.Equal(t, "<hr/><h3>2 comments:</h3><h5>Alice</h5><p>Nice post</p><h5>Bob</h5><p>Thanks</p>", art.Comments)

	require.Len(t, art.Images, 3)
	assert.Equal(t, "https://img.example.com/big.jpg", art.Images[0].URL)
	assert.Equal(t, "A caption", art.Images[0].Caption)
	assert.Equal(t, storage.URLHash("https://img.example.com/big.jpg"), art.Images[0].Hash)
	assert.Equal(t, "https://img.example.com/b.png", art.Images[1].URL)
	assert.Equal(t, "/local.gif", art.Images[2].SourceURL)
	assert.Equal(t, "https://myblog.blogspot.com/local.gif", art.Images[2].URL)

	html := art.Body.HTML
	for _, ref := range art.Images {
		assert.Contains(t, html, types.PlaceholderToken(ref.Hash))
	}
	assert.Less(t, strings.Index(html, "Intro"), strings.Index(html, types.PlaceholderToken(art.Images[0].Hash)))
	assert.NotContains(t, html, "style=")
	assert.NotContains(t, html, "class=")
	assert.NotContains(t, html, "track()")
	assert.NotContains(t, html, "small.jpg")
	assert.Contains(t, html, `<a href="https://www.youtube.com/embed/xyz">https://www.youtube.com/embed/xyz</a>`)

	art.Images[0].Outcome = types.ImageResolved
	rendered := art.Body.Render("images")
	assert.Contains(t, rendered, `<figure class="blog-image"><img src="images/`+art.Images[0].Hash+`.jpg" alt=""/><figcaption>A caption</figcaption></figure>`)
	assert.NotContains(t, rendered, "<!--blogimage:")
}

func TestDuplicateImagesShareReference(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<div id="b"><img src="a.jpg"><p><img src="a.jpg"></p><figure><img src="c.jpg"><figcaption>Cap</figcaption></figure></div>`))
	require.NoError(t, err)
	base, err := url.Parse("https://example.org/post/1")
	require.NoError(t, err)

	body, refs := buildBody(doc.Find("#b"), base, genericRules, processor.NewCleaner(processor.DefaultOptions()))
	require.Len(t, refs, 2)
	assert.Equal(t, "https://example.org/post/c.jpg", refs[0].URL)
	assert.Equal(t, "Cap", refs[0].Caption)
	assert.Equal(t, "https://example.org/post/a.jpg", refs[1].URL)
	require.Len(t, body.Placeholders, 3)
	assert.Same(t, body.Placeholders[1].Ref, body.Placeholders[2].Ref)
	assert.Equal(t, 2, strings.Count(body.HTML, types.PlaceholderToken(refs[1].Hash)))
	assert.NotContains(t, body.HTML, "figcaption")
}

func TestZeissListingAndArticle(t *testing.T) {
	const listing = `<html><head><title>Zeiss Ikon VEB</title></head><body>
<article><h2 class="entry-title"><a href="https://www.zeissikonveb.de/2021/contax/">Contax</a></h2></article>
<div class="nav-previous"><a href="https://www.zeissikonveb.de/page/2/">Older</a></div>
</body></html>`
	const post = `<html><body><article>
<h1 class="entry-title">Contax S</h1>
<time class="entry-date" datetime="2021-06-05T09:30:00+02:00">5. Juni 2021</time>
<div class="entry-content"><p>Text</p><div class="wp-caption"><img src="/wp-content/contax.jpg"><p class="wp-caption-text">Front view</p></div>
<div class="sharedaddy">Share</div></div>
<a rel="category tag" href="/cat/contax">Contax</a>
</article></body></html>`

	ext := Lookup("zeissikonveb").New(Deps{Source: pages{"https://www.zeissikonveb.de/2021/contax/": post}})
	l, err := ext.ExtractListing(context.Background(), types.Page{URL: "https://www.zeissikonveb.de/", Text: listing})
	require.NoError(t, err)
	require.Len(t, l.Stubs, 1)
	assert.Equal(t, "https://www.zeissikonveb.de/page/2/", l.NextURL)

	art, err := ext.ExtractArticle(context.Background(), types.ArticleStub{URL: l.Stubs[0].URL})
	require.NoError(t, err)
	assert.Equal(t, "Contax S", art.Title)
	assert.Equal(t, 2021, art.Date.Year())
	assert.Equal(t, time.June, art.Date.Month())
	assert.Equal(t, "5. Juni 2021", art.DateText)
	assert.Equal(t, []string{"Contax"}, art.Tags)
	require.Len(t, art.Images, 1)
	assert.Equal(t, "https://www.zeissikonveb.de/wp-content/contax.jpg", art.Images[0].URL)
	assert.Equal(t, "Front view", art.Images[0].Caption)
	assert.NotContains(t, art.Body.HTML, "Share")
}

func TestGenericNextLink(t *testing.T) {
	ext := Lookup("generic").New(Deps{Source: pages{}})
	l, err := ext.ExtractListing(context.Background(), types.Page{
		URL:  "example.org/journal/",
		Text: `<html><body><article><h2><a href="entry-1.html">One</a></h2></article><a rel="next" href="?page=2">Next</a></body></html>`,
	})
	require.NoError(t, err)
	require.Len(t, l.Stubs, 1)
	assert.Equal(t, "http://example.org/journal/entry-1.html", l.Stubs[0].URL)
	assert.Equal(t, "http://example.org/journal/?page=2", l.NextURL)
}

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		name string
		html string
		want string
	}{
		{"html attribute", `<html lang="en-GB"><body></body></html>`, "en"},
		{"blogger config", `<html><body><script>_WidgetManager._Init({'lang': 'de', 'x': 1})</script></body></html>`, "de"},
		{"none", `<html><body>plain</body></html>`, DefaultLanguage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tc.html))
			require.NoError(t, err)
			assert.Equal(t, tc.want, detectLanguage(doc, tc.html))
		})
	}
}

func TestStripWeekday(t *testing.T) {
	assert.Equal(t, "March 3, 2018", stripWeekday("Saturday, March 3, 2018"))
	assert.Equal(t, "3 marca 2018", stripWeekday(" sobota,  3 marca 2018 "))
	assert.Equal(t, "March 3, 2018", stripWeekday("March 3, 2018"))
	assert.Equal(t, "2018-03-03", stripWeekday("2018-03-03"))
}

func TestParseDate(t *testing.T) {
	assert.Equal(t, time.Date(2018, 3, 3, 0, 0, 0, 0, time.UTC), parseDate("", "March 3, 2018"))
	assert.Equal(t, time.Date(2018, 3, 3, 0, 0, 0, 0, time.UTC), parseDate("03.03.2018"))
	assert.True(t, parseDate("3 marca 2018").IsZero())
}
