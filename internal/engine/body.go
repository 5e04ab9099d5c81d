package engine

import (
	"html"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	nethtml "golang.org/x/net/html"

	"blogcrawler/internal/processor"
	"blogcrawler/internal/storage"
	"blogcrawler/pkg/types"
)

// bodyBuilder swaps image elements for placeholder comments and collects
// the references in discovery order, one per distinct URL. Captioned
// containers are handled before bare images.
type bodyBuilder struct {
	base   *url.URL
	root   *nethtml.Node
	byHash map[string]*types.ImageRef
	body   types.Body
	images []*types.ImageRef
}

// buildBody rewrites sel in place and returns the cleaned body together with
// its image references.
func buildBody(sel *goquery.Selection, base *url.URL, r rules, cleaner *processor.Cleaner) (types.Body, []*types.ImageRef) {
	if sel.Length() == 0 {
		return types.Body{}, nil
	}
	b := &bodyBuilder{base: base, root: sel.Nodes[0], byHash: make(map[string]*types.ImageRef)}

	for _, d := range r.Drop {
		sel.Find(d).Remove()
	}
	for _, c := range r.Captions {
		sel.Find(c.Container).Each(func(_ int, s *goquery.Selection) {
			if !b.attached(s) {
				return
			}
			img := s.Find("img").First()
			if img.Length() == 0 {
				return
			}
			raw := imageSource(img, c.PreferLink)
			if raw == "" {
				return
			}
			b.replace(s, raw, strings.TrimSpace(s.Find(c.Caption).First().Text()))
		})
	}
	for _, rule := range r.Images {
		sel.Find(rule.Selector).Each(func(_ int, s *goquery.Selection) {
			if !b.attached(s) {
				return
			}
			img := s
			if goquery.NodeName(s) != "img" {
				img = s.Find("img").First()
			}
			var raw string
			if rule.PreferLink && goquery.NodeName(s) == "a" {
				raw = linkTarget(s)
			}
			if raw == "" && img.Length() > 0 {
				raw = imageSource(img, rule.PreferLink)
			}
			if raw == "" {
				return
			}
			caption := ""
			if rule.CaptionAttr != "" && img.Length() > 0 {
				caption = strings.TrimSpace(img.AttrOr(rule.CaptionAttr, ""))
			}
			b.replace(s, raw, caption)
		})
	}

	cleaner.Clean(sel)
	out, err := sel.Html()
	if err != nil {
		return types.Body{}, nil
	}
	b.body.HTML = strings.TrimSpace(out)
	return b.body, b.images
}

func (b *bodyBuilder) replace(s *goquery.Selection, raw, caption string) {
	abs := resolveURL(b.base, raw)
	hash := storage.URLHash(abs)
	ref, ok := b.byHash[hash]
	if !ok {
		ref = &types.ImageRef{
			SourceURL: raw,
			URL:       abs,
			Hash:      hash,
			Caption:   caption,
			Outcome:   types.ImagePending,
		}
		b.byHash[hash] = ref
		b.images = append(b.images, ref)
	}
	token := types.PlaceholderToken(hash)
	s.ReplaceWithHtml(token)
	b.body.Placeholders = append(b.body.Placeholders, types.Placeholder{
		Token:   token,
		Hash:    hash,
		Caption: caption,
		Ref:     ref,
	})
}

// attached reports whether s still hangs below the body root. Elements
// nested in an already replaced container are detached.
func (b *bodyBuilder) attached(s *goquery.Selection) bool {
	if s.Length() == 0 {
		return false
	}
	for n := s.Nodes[0]; n != nil; n = n.Parent {
		if n == b.root {
			return true
		}
	}
	return false
}

func imageSource(img *goquery.Selection, preferLink bool) string {
	if preferLink {
		if a := img.Closest("a"); a.Length() > 0 {
			if href := linkTarget(a); href != "" {
				return href
			}
		}
	}
	for _, attr := range []string{"src", "data-src", "data-lazy-src", "data-orig-file"} {
		if v := strings.TrimSpace(img.AttrOr(attr, "")); v != "" {
			return v
		}
	}
	return ""
}

func linkTarget(a *goquery.Selection) string {
	href := strings.TrimSpace(a.AttrOr("href", ""))
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	return href
}

// resolveURL makes raw absolute against base. Data URIs and unparsable
// values are returned unchanged.
func resolveURL(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToLower(raw), "data:") || base == nil {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return base.ResolveReference(ref).String()
}

// extractComments renders each comment block as an author heading followed
// by its paragraphs.
func extractComments(doc *goquery.Document, r *commentRule) string {
	if r == nil {
		return ""
	}
	skip := make(map[string]struct{}, len(r.Skip))
	for _, s := range r.Skip {
		skip[s] = struct{}{}
	}

	var b strings.Builder
	blocks := doc.Find(r.Block)
	if blocks.Length() == 0 {
		return ""
	}
	if header := doc.Find(r.Header); header.Length() == 1 {
		b.WriteString("<hr/><h3>")
		b.WriteString(html.EscapeString(strings.TrimSpace(header.Text())))
		b.WriteString("</h3>")
	}
	blocks.Each(func(_ int, s *goquery.Selection) {
		tag := "h5"
		for _, n := range s.Nodes {
			walkText(n, func(text string) {
				if _, drop := skip[text]; drop {
					return
				}
				b.WriteString("<" + tag + ">")
				b.WriteString(html.EscapeString(text))
				b.WriteString("</" + tag + ">")
				tag = "p"
			})
		}
	})
	return b.String()
}

func walkText(n *nethtml.Node, fn func(string)) {
	if n.Type == nethtml.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			fn(text)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, fn)
	}
}
