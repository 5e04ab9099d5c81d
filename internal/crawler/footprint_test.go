package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFootprintVisit(t *testing.T) {
	fp := NewFootprint()

	assert.True(t, fp.Visit("https://Example.com/page/2"))
	assert.False(t, fp.Visit("http://example.com/page/2/"))
	assert.False(t, fp.Visit("example.com:80/page/2#top"))
	assert.True(t, fp.Visit("example.com/page/2?x=1"))
	assert.True(t, fp.Visit("example.com:8080/page/2"))
	assert.False(t, fp.Visit(""))
	assert.Equal(t, 3, fp.Len())
}

func TestCanonicalKey(t *testing.T) {
	assert.Equal(t, "//example.com/a", canonicalKey("https://EXAMPLE.com:443/a/"))
	assert.Equal(t, "//example.com?p=2", canonicalKey("example.com/?p=2"))
}
