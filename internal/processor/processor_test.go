package processor

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clean(t *testing.T, c *Cleaner, fragment string) string {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<div id="root">` + fragment + `</div>`))
	require.NoError(t, err)
	root := doc.Find("#root")
	c.Clean(root)
	out, err := root.Html()
	require.NoError(t, err)
	return out
}

func TestClean(t *testing.T) {
	c := NewCleaner(DefaultOptions())
	out := clean(t, c, `<p class="x" style="color:red">Hello <b style="a">world</b></p>`+
		`<script>alert(1)</script>`+
		`<iframe width="560" src="https://www.youtube.com/embed/abc?rel=0"></iframe>`+
		`<!--blogimage:deadbeef-->`+
		`<div class="sharedaddy">share</div>`)

	assert.Equal(t,
		`<p>Hello <b>world</b></p><a href="https://www.youtube.com/embed/abc">https://www.youtube.com/embed/abc</a><!--blogimage:deadbeef-->`,
		out)
}

func TestCleanKeepsClassesWhenAsked(t *testing.T) {
	c := NewCleaner(Options{StripStyles: true})
	out := clean(t, c, `<span class="keep" style="x">a</span><iframe></iframe>`)
	assert.Equal(t, `<span class="keep">a</span>`, out)
}

func TestPlainText(t *testing.T) {
	got := PlainText(`<h2>Title</h2><p>First   line<br>second</p><table><tr><td>a</td><td>b</td></tr></table><p></p><p>end</p>`)
	assert.Equal(t, "Title\nFirst line\nsecond\na b\nend", got)
}

func TestPlainTextRenderedBody(t *testing.T) {
	got := PlainText(`<p>Shot on <b>Contax</b>.</p><!--blogimage:ab--><figure><img src="images/ab.jpg"/><figcaption>Front view</figcaption></figure><script>x()</script>`)
	assert.Equal(t, "Shot on Contax.\nFront view", got)
}
