package fetcher

import (
	"regexp"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/charmap"
)

// DecodeText turns a page body into text: UTF-8 when valid, else the
// charset declared by contentType or a <meta> tag, else ISO-8859-1, which
// maps every byte.
func DecodeText(body []byte, contentType string) string {
	if utf8.Valid(body) {
		return string(body)
	}
	if enc, name, certain := charset.DetermineEncoding(body, contentType); certain || name != "windows-1252" {
		if out, err := enc.NewDecoder().Bytes(body); err == nil {
			return string(out)
		}
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(body)
	if err != nil {
		return string(body)
	}
	return string(out)
}

var interstitialRe = regexp.MustCompile(`interstitial=([^"]+)`)

// Interstitial returns the token of an interstitial gate found in text.
func Interstitial(text string) (string, bool) {
	m := interstitialRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}
