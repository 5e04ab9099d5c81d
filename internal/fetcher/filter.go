package fetcher

import (
	"fmt"
	"regexp"
	"sync"
)

// SkipSet is the learned set of URLs known not to yield usable content.
// It is shared by the fetcher and the image pipeline.
type SkipSet struct {
	mu   sync.RWMutex
	urls map[string]struct{}
}

func NewSkipSet() *SkipSet {
	return &SkipSet{urls: make(map[string]struct{})}
}

func (s *SkipSet) Add(url string) {
	s.mu.Lock()
	s.urls[url] = struct{}{}
	s.mu.Unlock()
}

func (s *SkipSet) Contains(url string) bool {
	s.mu.RLock()
	_, ok := s.urls[url]
	s.mu.RUnlock()
	return ok
}

func (s *SkipSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.urls)
}

// Filter combines the configured ignore patterns with the skip-set.
type Filter struct {
	ignore []*regexp.Regexp
	skip   *SkipSet
}

// NewFilter compiles patterns so each only matches at the start of a URL.
func NewFilter(patterns []string, skip *SkipSet) (*Filter, error) {
	if skip == nil {
		skip = NewSkipSet()
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(`^(?:` + p + `)`)
		if err != nil {
			return nil, fmt.Errorf("compile ignore pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &Filter{ignore: compiled, skip: skip}, nil
}

// Ignored reports whether url matches an ignore pattern.
func (f *Filter) Ignored(url string) bool {
	for _, re := range f.ignore {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

// Skipped reports whether url is in the skip-set.
func (f *Filter) Skipped(url string) bool {
	return f.skip.Contains(url)
}

// Blocked reports whether url is ignored or skipped.
func (f *Filter) Blocked(url string) bool {
	return f.Ignored(url) || f.Skipped(url)
}

// Skip adds url to the skip-set.
func (f *Filter) Skip(url string) {
	f.skip.Add(url)
}

func (f *Filter) SkipSet() *SkipSet { return f.skip }
