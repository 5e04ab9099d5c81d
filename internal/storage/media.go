package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Layout is the on-disk arrangement of one blog's corpus.
type Layout struct {
	Root string
}

// NewLayout places the corpus for blogID under destination.
func NewLayout(destination, blogID string) (Layout, error) {
	if strings.TrimSpace(destination) == "" {
		return Layout{}, fmt.Errorf("destination directory must be provided")
	}
	if strings.TrimSpace(blogID) == "" {
		return Layout{}, fmt.Errorf("blog id must be provided")
	}
	return Layout{Root: filepath.Join(destination, blogID)}, nil
}

func (l Layout) HTMLDir() string      { return filepath.Join(l.Root, "html") }
func (l Layout) ImagesDir() string    { return filepath.Join(l.Root, "images") }
func (l Layout) OriginalsDir() string { return filepath.Join(l.Root, "originals") }

// ImagePath is where the normalized JPEG for hash lives.
func (l Layout) ImagePath(hash string) string {
	return filepath.Join(l.ImagesDir(), hash+".jpg")
}

// OriginalPath is where raw downloaded bytes for hash are staged.
func (l Layout) OriginalPath(hash, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(l.OriginalsDir(), hash+ext)
}

// Ensure creates every directory of the layout.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.HTMLDir(), l.ImagesDir(), l.OriginalsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// WriteFileAtomic writes data to a temp file beside path and renames it into
// place, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	return writeAtomic(path, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

func writeAtomic(path string, fill func(*os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
