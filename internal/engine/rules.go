package engine

// captionRule finds an image wrapped together with its caption.
type captionRule struct {
	Container string
	Caption   string
	// PreferLink takes the enclosing anchor's href, which on Blogger points
	// at the full size image.
	PreferLink bool
}

// imageRule finds uncaptioned images. Matched elements are replaced whole.
type imageRule struct {
	Selector string
	// CaptionAttr is read from the image when set, eg. title.
	CaptionAttr string
	PreferLink  bool
}

type commentRule struct {
	Header string
	Block  string
	// Skip drops control labels rendered inside comment blocks.
	Skip []string
}

// rules describe where a theme keeps each piece of a post.
type rules struct {
	Stubs       string
	Next        string
	Description string

	Title    string
	Date     string
	Body     string
	Tags     string
	Drop     []string
	Captions []captionRule
	Images   []imageRule
	Comments *commentRule
}

var bloggerRules = rules{
	Stubs:       "h3.post-title.entry-title a, h3.post-title a",
	Next:        "a.blog-pager-older-link",
	Description: "#header .description span, .header .description, p.description",

	Title: "h3.post-title, h3.entry-title",
	Date:  "h2.date-header span, abbr.published",
	Body:  "div.post-body",
	Tags:  ".post-labels a",
	Captions: []captionRule{
		{Container: "table.tr-caption-container", Caption: "td.tr-caption", PreferLink: true},
	},
	Images: []imageRule{
		{Selector: "a[imageanchor]", PreferLink: true},
		{Selector: "img"},
	},
	Comments: &commentRule{
		Header: "#comments h4",
		Block:  ".comment-block",
		Skip:   []string{"Odpowiedz", "Usuń", "Reply", "Delete"},
	},
}

var zeissRules = rules{
	Stubs:       "h2.entry-title a",
	Next:        ".nav-previous a",
	Description: ".site-description",

	Title: "h1.entry-title",
	Date:  "time.entry-date, .entry-date",
	Body:  ".entry-content",
	Tags:  "a[rel~='tag']",
	Drop:  []string{".sharedaddy", ".jp-relatedposts"},
	Captions: []captionRule{
		{Container: "div.wp-caption, figure.wp-caption", Caption: ".wp-caption-text"},
	},
	Images: []imageRule{{Selector: "img"}},
}

var genericRules = rules{
	Stubs:       "h2.entry-title a, h2.post-title a, h3.post-title a, article h2 a, .post h2 a",
	Next:        "a[rel='next'], a.next, .nav-previous a, a.blog-pager-older-link, a.older-posts",
	Description: ".site-description, .description",

	Title: "h1.entry-title, h1.post-title, h3.post-title, article h1",
	Date:  "time[datetime], .entry-date, h2.date-header span, .published",
	Body:  ".entry-content, .post-body, .post-content, article",
	Tags:  "a[rel~='tag'], .post-labels a, .tags a",
	Captions: []captionRule{
		{Container: "table.tr-caption-container", Caption: "td.tr-caption", PreferLink: true},
		{Container: "div.wp-caption, figure.wp-caption", Caption: ".wp-caption-text"},
		{Container: "figure", Caption: "figcaption"},
	},
	Images: []imageRule{{Selector: "img"}},
}

// feedRules is applied to Atom entry content and, when an entry has none,
// to the article page.
var feedRules = rules{
	Title: "h1.entry-title",
	Date:  "time.entry-date, .entry-date",
	Body:  ".entry-content",
	Tags:  "a[rel~='tag']",
	Drop:  []string{"h1.entry-title", "div[id^='atatags-']", ".sharedaddy", ".jp-relatedposts"},
	Captions: []captionRule{
		{Container: "div.wp-caption", Caption: "p.wp-caption-text"},
	},
	Images: []imageRule{
		{Selector: "img.size-full", CaptionAttr: "title"},
		{Selector: "img"},
	},
}
