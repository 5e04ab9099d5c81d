package storage

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// URLHash is the cache key for a URL: the hex md5 digest of the exact string.
func URLHash(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// StripScheme removes the scheme and any trailing slashes from a blog URL.
func StripScheme(raw string) string {
	raw = strings.TrimSpace(raw)
	if idx := strings.Index(raw, "://"); idx >= 0 {
		raw = raw[idx+3:]
	}
	return strings.TrimRight(raw, "/")
}

// BlogID derives the per-blog directory name from a blog URL.
func BlogID(raw string) string {
	return strings.ReplaceAll(StripScheme(raw), "/", "_")
}
