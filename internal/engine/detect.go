package engine

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultLanguage is used when a page declares none.
const DefaultLanguage = "en"

var (
	jsLangPattern   = regexp.MustCompile(`'lang':\s*'([a-zA-Z]+)`)
	attrLangPattern = regexp.MustCompile(`\blang=["']?([a-zA-Z]+)`)
	spaces          = regexp.MustCompile(`\s+`)
)

// detectLanguage prefers <html lang>, then a lang attribute anywhere, then
// the JavaScript config Blogger embeds.
func detectLanguage(doc *goquery.Document, raw string) string {
	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		if l := primaryTag(lang); l != "" {
			return l
		}
	}
	if m := attrLangPattern.FindStringSubmatch(raw); m != nil {
		return primaryTag(m[1])
	}
	if m := jsLangPattern.FindStringSubmatch(raw); m != nil {
		return primaryTag(m[1])
	}
	return DefaultLanguage
}

func primaryTag(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}
	return lang
}

func pageTitle(doc *goquery.Document) string {
	if t := cleanText(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("meta[property='og:site_name']").AttrOr("content", ""))
}

func pageDescription(doc *goquery.Document, selector string) string {
	if selector != "" {
		if d := cleanText(doc.Find(selector).First().Text()); d != "" {
			return d
		}
	}
	return strings.TrimSpace(doc.Find("meta[name='description']").AttrOr("content", ""))
}

func cleanText(s string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

// stripWeekday turns "Saturday, March 3, 2018" into "March 3, 2018".
func stripWeekday(s string) string {
	s = cleanText(s)
	idx := strings.IndexByte(s, ',')
	if idx <= 0 || strings.ContainsAny(s[:idx], "0123456789") {
		return s
	}
	return strings.TrimSpace(s[idx+1:])
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"Monday, January 2, 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	"02.01.2006",
	"2.1.2006",
	"02/01/2006",
}

// parseDate tries the layouts blogs commonly print. It returns the zero time
// for localized or unknown formats.
func parseDate(values ...string) time.Time {
	for _, v := range values {
		v = cleanText(v)
		if v == "" {
			continue
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

// articleDate reads the date element. The machine readable attribute wins
// for parsing, the visible text is kept for display.
func articleDate(doc *goquery.Document, selector string) (time.Time, string) {
	if selector == "" {
		return time.Time{}, ""
	}
	sel := doc.Find(selector).First()
	text := stripWeekday(sel.Text())
	attr := sel.AttrOr("datetime", sel.AttrOr("title", ""))
	published := doc.Find("meta[property='article:published_time']").AttrOr("content", "")
	return parseDate(attr, published, text, cleanText(sel.Text())), text
}
