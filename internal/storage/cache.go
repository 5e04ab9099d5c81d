package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"blogcrawler/internal/metrics"
	"blogcrawler/internal/report"
)

// ContentCache persists fetched page bodies keyed by URL hash. Entries are
// gzip files and are never invalidated.
type ContentCache struct {
	dir     string
	rep     report.Reporter
	metrics *metrics.Metrics
}

// NewContentCache stores entries in dir, which is created on first write.
func NewContentCache(dir string, rep report.Reporter, m *metrics.Metrics) *ContentCache {
	if rep == nil {
		rep = report.Nop()
	}
	return &ContentCache{dir: dir, rep: rep, metrics: m}
}

// Dir is the directory holding cache entries.
func (c *ContentCache) Dir() string { return c.dir }

func (c *ContentCache) entryPath(url string) string {
	return filepath.Join(c.dir, URLHash(url)+".html.gz")
}

func (c *ContentCache) legacyPath(url string) string {
	return filepath.Join(c.dir, URLHash(url)+".html")
}

// Get returns the cached body for url. A legacy uncompressed entry is
// migrated to the compressed form on read. A corrupt entry is removed and
// reported as a miss.
func (c *ContentCache) Get(url string) ([]byte, bool) {
	path := c.entryPath(url)
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		body, derr := gunzip(raw)
		if derr != nil {
			c.rep.Warn("corrupt cache entry removed", "url", url, "path", path, "error", derr)
			c.metrics.Cache("corrupt")
			_ = os.Remove(path)
			return nil, false
		}
		c.metrics.Cache("hit")
		return body, true
	case !errors.Is(err, fs.ErrNotExist):
		c.rep.Warn("read cache entry", "url", url, "error", err)
		c.metrics.Cache("miss")
		return nil, false
	}

	legacy := c.legacyPath(url)
	body, err := os.ReadFile(legacy)
	if err != nil {
		c.metrics.Cache("miss")
		return nil, false
	}
	if err := c.Put(url, body); err != nil {
		c.rep.Warn("migrate legacy cache entry", "url", url, "error", err)
	} else if err := os.Remove(legacy); err != nil {
		c.rep.Warn("remove legacy cache entry", "path", legacy, "error", err)
	}
	c.metrics.Cache("migrated")
	return body, true
}

// Put compresses body and writes it atomically under the key for url.
func (c *ContentCache) Put(url string, body []byte) error {
	err := writeAtomic(c.entryPath(url), func(f *os.File) error {
		zw := gzip.NewWriter(f)
		if _, err := zw.Write(body); err != nil {
			return err
		}
		return zw.Close()
	})
	if err != nil {
		return fmt.Errorf("cache put %s: %w", url, err)
	}
	return nil
}

func gunzip(raw []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
