package images

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html/charset"
)

// supportedTypes maps accepted MIME types to the extension used for the
// staged original.
var supportedTypes = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/bmp":     ".bmp",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/heif":    ".heic",
	"image/svg+xml": ".svg",
}

// trustedExtensions are URL path extensions accepted without a HEAD probe.
var trustedExtensions = map[string]struct{}{
	".jpeg": {}, ".jpg": {}, ".png": {}, ".bmp": {}, ".gif": {}, ".webp": {}, ".heic": {},
}

// undecodable lists sniffed types that are supported for download but have
// no Go decoder to validate and normalize them.
var undecodable = []string{"image/svg+xml", "image/heic", "image/heif", "image/heic-sequence", "image/heif-sequence"}

// extensionForMIME returns the staged extension for a Content-Type value,
// ignoring parameters.
func extensionForMIME(contentType string) (string, bool) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	ext, ok := supportedTypes[strings.ToLower(mt)]
	return ext, ok
}

// extensionFromURL returns the lowercased path extension when it is trusted.
func extensionFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if _, ok := trustedExtensions[ext]; ok {
		return ext, true
	}
	return "", false
}

func isDataURI(raw string) bool {
	return strings.HasPrefix(raw, "data:")
}

var errMalformedDataURI = errors.New("malformed data uri")

// dataURI is a parsed RFC 2397 URL.
type dataURI struct {
	MIME    string
	Base64  bool
	Charset string
	Payload string
}

func parseDataURI(raw string) (dataURI, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return dataURI{}, errMalformedDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return dataURI{}, errMalformedDataURI
	}
	parts := strings.Split(meta, ";")
	d := dataURI{MIME: strings.ToLower(strings.TrimSpace(parts[0])), Payload: payload}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		switch {
		case strings.EqualFold(p, "base64"):
			d.Base64 = true
		case strings.HasPrefix(strings.ToLower(p), "charset="):
			d.Charset = p[len("charset="):]
		}
	}
	return d, nil
}

// Bytes decodes the payload: base64 when flagged, else percent-decoded text
// converted to UTF-8 from the declared charset.
func (d dataURI) Bytes() ([]byte, error) {
	if d.Base64 {
		payload := strings.Map(func(r rune) rune {
			if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
				return -1
			}
			return r
		}, d.Payload)
		if data, err := base64.StdEncoding.DecodeString(payload); err == nil {
			return data, nil
		}
		data, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, fmt.Errorf("decode base64 payload: %w", err)
		}
		return data, nil
	}
	text, err := url.PathUnescape(d.Payload)
	if err != nil {
		return nil, fmt.Errorf("unescape payload: %w", err)
	}
	if d.Charset == "" {
		return []byte(text), nil
	}
	enc, _ := charset.Lookup(d.Charset)
	if enc == nil {
		return nil, fmt.Errorf("unknown charset %q", d.Charset)
	}
	out, err := enc.NewDecoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", d.Charset, err)
	}
	return out, nil
}
