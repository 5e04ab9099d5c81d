package types

import (
	"html"
	"strings"
	"time"
)

// Page represents fetched and decoded listing or article content.
type Page struct {
	URL         string
	Body        []byte
	Text        string
	ContentType string
	FromCache   bool
	FetchedAt   time.Time
}

// Listing is what an extractor reads from one listing page or feed page.
type Listing struct {
	Title       string
	Description string
	Language    string
	Stubs       []ArticleStub
	NextURL     string
}

// ArticleStub identifies an article found on a listing page. Feed based
// engines may carry the full body in Content.
type ArticleStub struct {
	URL      string
	Title    string
	DateText string
	Date     time.Time
	Content  string
	Tags     []string
}

// Article is a single blog post ready for document assembly.
type Article struct {
	URL      string
	Title    string
	Date     time.Time
	DateText string
	Body     Body
	HTML     string
	Images   []*ImageRef
	Tags     []string
	Comments string
}

// ImageOutcome records how the image pipeline handled a reference.
type ImageOutcome string

const (
	ImagePending     ImageOutcome = "pending"
	ImageResolved    ImageOutcome = "resolved"
	ImageUnsupported ImageOutcome = "unsupported"
	ImageTooSmall    ImageOutcome = "too-small"
	ImageSkipped     ImageOutcome = "skipped"
	ImageIgnored     ImageOutcome = "ignored"
	ImageFailed      ImageOutcome = "failed"
)

// ImageRef is an image referenced by an article body.
type ImageRef struct {
	// SourceURL is the reference as found in the page, URL the absolute form.
	SourceURL string
	URL       string
	Hash      string
	Ext       string
	Caption   string
	Outcome   ImageOutcome
	LocalPath string
}

// FileName is the normalized file name inside the images directory.
func (r *ImageRef) FileName() string {
	if r == nil || r.Hash == "" {
		return ""
	}
	return r.Hash + ".jpg"
}

// Resolved reports whether a normalized local file exists for the image.
func (r *ImageRef) Resolved() bool {
	return r != nil && r.Outcome == ImageResolved
}

const (
	placeholderPrefix = "<!--blogimage:"
	placeholderSuffix = "-->"
)

// PlaceholderToken is the marker left in extracted HTML where an image goes.
func PlaceholderToken(hash string) string {
	return placeholderPrefix + hash + placeholderSuffix
}

// Placeholder maps a token left in the body to the image it stands for.
type Placeholder struct {
	Token   string
	Hash    string
	Caption string
	Ref     *ImageRef
}

// Body is extracted article HTML with image placeholders not yet substituted.
type Body struct {
	HTML         string
	Placeholders []Placeholder
}

// Render substitutes every placeholder. Resolved images become an embed
// pointing into imagesDir, unresolved ones are dropped. Placeholders sharing
// a token fill its occurrences in order, each with its own caption.
func (b Body) Render(imagesDir string) string {
	out := b.HTML
	for _, p := range b.Placeholders {
		replacement := ""
		if p.Ref.Resolved() {
			replacement = imageEmbed(imagesDir, p.Ref.FileName(), p.Caption)
		}
		out = strings.Replace(out, p.token(), replacement, 1)
	}
	for _, p := range b.Placeholders {
		out = strings.ReplaceAll(out, p.token(), "")
	}
	return out
}

func (p Placeholder) token() string {
	if p.Token != "" {
		return p.Token
	}
	return PlaceholderToken(p.Hash)
}

func imageEmbed(dir, fileName, caption string) string {
	src := fileName
	if dir != "" {
		src = strings.TrimSuffix(dir, "/") + "/" + fileName
	}
	var b strings.Builder
	b.WriteString(`<figure class="blog-image"><img src="`)
	b.WriteString(html.EscapeString(src))
	b.WriteString(`" alt=""/>`)
	if caption = strings.TrimSpace(caption); caption != "" {
		b.WriteString("<figcaption>")
		b.WriteString(html.EscapeString(caption))
		b.WriteString("</figcaption>")
	}
	b.WriteString("</figure>")
	return b.String()
}

// BlogMeta describes the crawled blog.
type BlogMeta struct {
	URL         string
	LandingURL  string
	ID          string
	Title       string
	Description string
	Language    string
}

// Result is the crawl output handed to document assembly.
type Result struct {
	RunID    string
	Engine   string
	Blog     BlogMeta
	Articles []*Article
	// Images lists resolved file names relative to the images directory.
	Images []string
	// Tags is the blog-wide tag set in first-seen order.
	Tags []string
	// Start is the oldest and End the newest article date seen.
	Start time.Time
	End   time.Time
}
