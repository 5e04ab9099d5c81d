// Package processor cleans extracted article bodies and derives plain text
// from them.
package processor

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Options selects the cleanup steps.
type Options struct {
	// DropSelectors are removed entirely, eg. share buttons.
	DropSelectors []string
	StripClasses  bool
	StripStyles   bool
}

// DefaultOptions strips presentation attributes and common share widgets.
func DefaultOptions() Options {
	return Options{
		DropSelectors: []string{".share-button", ".sharedaddy", ".post-share-buttons", ".jp-relatedposts"},
		StripClasses:  true,
		StripStyles:   true,
	}
}

// Cleaner normalizes article markup before it is stored.
type Cleaner struct {
	opts Options
}

func NewCleaner(opts Options) *Cleaner {
	return &Cleaner{opts: opts}
}

// Clean rewrites the children of sel in place: scripts and styles are
// dropped, iframes become plain links and presentation attributes go.
// Comment nodes, which carry image placeholders, are kept.
func (c *Cleaner) Clean(sel *goquery.Selection) {
	sel.Find("script,noscript,style,link[rel='stylesheet']").Remove()
	for _, s := range c.opts.DropSelectors {
		sel.Find(s).Remove()
	}

	sel.Find("iframe").Each(func(_ int, frame *goquery.Selection) {
		src := strings.TrimSpace(frame.AttrOr("src", ""))
		if src == "" {
			frame.Remove()
			return
		}
		if idx := strings.IndexByte(src, '?'); idx >= 0 {
			src = src[:idx]
		}
		escaped := html.EscapeString(src)
		frame.ReplaceWithHtml(fmt.Sprintf(`<a href="%s">%s</a>`, escaped, escaped))
	})

	all := sel.Find("*").AddSelection(sel)
	if c.opts.StripStyles {
		all.RemoveAttr("style")
	}
	if c.opts.StripClasses {
		all.RemoveAttr("class")
	}
}

// PlainText flattens fragment into text with one line per block element.
// Blocks without text produce no line.
func PlainText(fragment string) string {
	parent := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent)
	if err != nil {
		return ""
	}
	var w lineWriter
	for _, n := range nodes {
		w.walk(n)
	}
	w.flush()
	return strings.Join(w.lines, "\n")
}

type lineWriter struct {
	lines []string
	buf   strings.Builder
}

func (w *lineWriter) flush() {
	line := strings.Join(strings.Fields(w.buf.String()), " ")
	w.buf.Reset()
	if line != "" {
		w.lines = append(w.lines, line)
	}
}

func (w *lineWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.buf.WriteString(n.Data)
		return
	case html.ElementNode:
	default:
		return
	}
	switch n.DataAtom {
	case atom.Br:
		w.flush()
		return
	case atom.Script, atom.Style, atom.Noscript:
		return
	}
	block := startsLine(n.DataAtom)
	if block {
		w.flush()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	switch {
	case block:
		w.flush()
	case n.DataAtom == atom.Td || n.DataAtom == atom.Th:
		w.buf.WriteByte(' ')
	}
}

func startsLine(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Blockquote,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Li, atom.Tr, atom.Figure, atom.Figcaption, atom.Hr, atom.Pre:
		return true
	}
	return false
}
