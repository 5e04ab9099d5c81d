package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogcrawler/internal/fetcher"
	"blogcrawler/internal/report"
	"blogcrawler/internal/storage"
	"blogcrawler/pkg/types"
)

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

type imageServer struct {
	*httptest.Server
	gets  int32
	heads int32
}

func newImageServer(t *testing.T, files map[string][]byte, contentTypes map[string]string) *imageServer {
	t.Helper()
	s := &imageServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct, ok := contentTypes[r.URL.Path]; ok {
			w.Header().Set("Content-Type", ct)
		}
		if r.Method == http.MethodHead {
			atomic.AddInt32(&s.heads, 1)
			return
		}
		atomic.AddInt32(&s.gets, 1)
		data, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestPipeline(t *testing.T, root string, opts Options) (*Pipeline, storage.Layout, *fetcher.Filter) {
	t.Helper()
	layout, err := storage.NewLayout(t.TempDir(), "blog")
	require.NoError(t, err)
	filter, err := fetcher.NewFilter([]string{`https?://ads\.`}, nil)
	require.NoError(t, err)
	f, err := fetcher.New(fetcher.Options{Timeout: 5 * time.Second}, nil, filter, nil, nil)
	require.NoError(t, err)
	if opts.MaxWidth == 0 {
		opts.MaxWidth, opts.MaxHeight = 2160, 3840
	}
	if opts.Quality == 0 {
		opts.Quality = 85
	}
	if opts.MinDimensionSum == 0 {
		opts.MinDimensionSum = 100
	}
	p, err := NewPipeline(f, filter, layout, root, opts, &report.Recorder{}, nil)
	require.NoError(t, err)
	return p, layout, filter
}

func TestDownloadNormalizesAndDedups(t *testing.T) {
	srv := newImageServer(t, map[string][]byte{
		"/photo.png": pngBytes(t, solid(120, 80, color.NRGBA{0, 0, 255, 255})),
	}, nil)
	p, layout, _ := newTestPipeline(t, srv.URL, Options{})

	ref := &types.ImageRef{SourceURL: srv.URL + "/photo.png"}
	require.True(t, p.Download(context.Background(), ref))
	assert.Equal(t, types.ImageResolved, ref.Outcome)
	assert.Equal(t, storage.URLHash(srv.URL+"/photo.png"), ref.Hash)
	assert.Equal(t, layout.ImagePath(ref.Hash), ref.LocalPath)

	data, err := os.ReadFile(ref.LocalPath)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 120, cfg.Width)

	_, err = os.Stat(layout.OriginalPath(ref.Hash, ".png"))
	assert.True(t, os.IsNotExist(err), "original is removed after normalization")

	again := &types.ImageRef{SourceURL: srv.URL + "/photo.png"}
	require.True(t, p.Download(context.Background(), again))
	assert.EqualValues(t, 1, atomic.LoadInt32(&srv.gets))
	assert.Zero(t, atomic.LoadInt32(&srv.heads))
}

func TestDownloadExistingFileSkipsNetwork(t *testing.T) {
	srv := newImageServer(t, nil, nil)
	p, layout, _ := newTestPipeline(t, srv.URL, Options{})

	url := srv.URL + "/already.jpg"
	require.NoError(t, storage.WriteFileAtomic(layout.ImagePath(storage.URLHash(url)), []byte("jpeg")))

	ref := &types.ImageRef{SourceURL: url}
	assert.True(t, p.Download(context.Background(), ref))
	assert.Zero(t, atomic.LoadInt32(&srv.gets))
	assert.Zero(t, atomic.LoadInt32(&srv.heads))
}

func TestConcurrentDownloadsCollapse(t *testing.T) {
	srv := newImageServer(t, map[string][]byte{
		"/same.png": pngBytes(t, solid(100, 100, color.NRGBA{10, 200, 10, 255})),
	}, nil)
	p, _, _ := newTestPipeline(t, srv.URL, Options{Workers: 4})

	refs := make([]*types.ImageRef, 8)
	for i := range refs {
		refs[i] = &types.ImageRef{SourceURL: srv.URL + "/same.png"}
	}
	assert.Equal(t, 8, p.ResolveAll(context.Background(), refs))
	assert.EqualValues(t, 1, atomic.LoadInt32(&srv.gets))
}

func TestDownloadRejectsSmallImages(t *testing.T) {
	srv := newImageServer(t, map[string][]byte{
		"/pixel.png": pngBytes(t, solid(40, 40, color.NRGBA{255, 0, 0, 255})),
	}, nil)
	p, layout, filter := newTestPipeline(t, srv.URL, Options{})

	url := srv.URL + "/pixel.png"
	ref := &types.ImageRef{SourceURL: url}
	assert.False(t, p.Download(context.Background(), ref))
	assert.Equal(t, types.ImageTooSmall, ref.Outcome)
	assert.True(t, filter.Skipped(url))
	assert.False(t, storage.FileExists(layout.ImagePath(ref.Hash)))
	assert.False(t, storage.FileExists(layout.OriginalPath(ref.Hash, ".png")))

	retry := &types.ImageRef{SourceURL: url}
	assert.False(t, p.Download(context.Background(), retry))
	assert.Equal(t, types.ImageSkipped, retry.Outcome)
	assert.EqualValues(t, 1, atomic.LoadInt32(&srv.gets))
}

func TestDownloadFlattensTransparency(t *testing.T) {
	img := solid(100, 100, color.NRGBA{200, 0, 0, 255})
	for y := 0; y < 50; y++ {
		for x := 0; x < 100; x++ {
			img.Set(x, y, color.NRGBA{0, 0, 0, 0})
		}
	}
	srv := newImageServer(t, map[string][]byte{"/alpha.png": pngBytes(t, img)}, nil)
	p, _, _ := newTestPipeline(t, srv.URL, Options{Quality: 95})

	ref := &types.ImageRef{SourceURL: srv.URL + "/alpha.png"}
	require.True(t, p.Download(context.Background(), ref))

	data, err := os.ReadFile(ref.LocalPath)
	require.NoError(t, err)
	out, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	r, g, b, _ := out.At(50, 10).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))

	r, g, _, _ = out.At(50, 90).RGBA()
	assert.Greater(t, r>>8, uint32(150))
	assert.Less(t, g>>8, uint32(60))
}

func TestHasTransparency(t *testing.T) {
	assert.False(t, hasTransparency(solid(4, 4, color.NRGBA{1, 2, 3, 255})))
	assert.True(t, hasTransparency(solid(4, 4, color.NRGBA{1, 2, 3, 128})))
	assert.False(t, hasTransparency(image.NewGray(image.Rect(0, 0, 2, 2))))

	palette := color.Palette{color.RGBA{255, 0, 0, 255}, color.RGBA{0, 0, 0, 0}}
	unused := image.NewPaletted(image.Rect(0, 0, 2, 2), palette)
	assert.False(t, hasTransparency(unused), "transparent palette entry is never used")

	used := image.NewPaletted(image.Rect(0, 0, 2, 2), palette)
	used.SetColorIndex(1, 1, 1)
	assert.True(t, hasTransparency(used))
}

func TestFitSize(t *testing.T) {
	w, h := fitSize(400, 200, 100, 100)
	assert.Equal(t, []int{100, 50}, []int{w, h})
	w, h = fitSize(50, 60, 100, 100)
	assert.Equal(t, []int{50, 60}, []int{w, h})
	w, h = fitSize(3000, 6000, 2160, 3840)
	assert.Equal(t, []int{1920, 3840}, []int{w, h})
}

func TestDownloadResizes(t *testing.T) {
	srv := newImageServer(t, map[string][]byte{
		"/wide.png": pngBytes(t, solid(400, 200, color.NRGBA{0, 100, 0, 255})),
	}, nil)
	p, _, _ := newTestPipeline(t, srv.URL, Options{MaxWidth: 100, MaxHeight: 100})

	ref := &types.ImageRef{SourceURL: srv.URL + "/wide.png"}
	require.True(t, p.Download(context.Background(), ref))
	data, err := os.ReadFile(ref.LocalPath)
	require.NoError(t, err)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestTypeResolutionUsesHead(t *testing.T) {
	srv := newImageServer(t,
		map[string][]byte{
			"/image": pngBytes(t, solid(100, 100, color.NRGBA{0, 0, 0, 255})),
			"/page":  []byte("<html></html>"),
			"/logo":  []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="200" height="200"></svg>`),
		},
		map[string]string{
			"/image": "image/png; charset=binary",
			"/page":  "text/html",
			"/logo":  "image/svg+xml",
		})
	p, _, filter := newTestPipeline(t, srv.URL, Options{})
	ctx := context.Background()

	ref := &types.ImageRef{SourceURL: srv.URL + "/image?id=1"}
	assert.True(t, p.Download(ctx, ref))
	assert.Equal(t, ".png", ref.Ext)

	page := &types.ImageRef{SourceURL: srv.URL + "/page"}
	assert.False(t, p.Download(ctx, page))
	assert.Equal(t, types.ImageUnsupported, page.Outcome)

	logo := &types.ImageRef{SourceURL: srv.URL + "/logo"}
	assert.False(t, p.Download(ctx, logo))
	assert.Equal(t, types.ImageUnsupported, logo.Outcome)
	assert.True(t, filter.Skipped(srv.URL+"/logo"))

	assert.EqualValues(t, 2, atomic.LoadInt32(&srv.gets), "html page is never downloaded")
}

func TestFailedDownloadIsNotRepeated(t *testing.T) {
	srv := newImageServer(t, map[string][]byte{}, nil)
	p, _, filter := newTestPipeline(t, srv.URL, Options{})
	ctx := context.Background()

	first := &types.ImageRef{SourceURL: srv.URL + "/missing.jpg"}
	assert.False(t, p.Download(ctx, first))
	assert.Equal(t, types.ImageFailed, first.Outcome)
	assert.True(t, filter.Skipped(srv.URL+"/missing.jpg"))

	for i := 0; i < 2; i++ {
		again := &types.ImageRef{SourceURL: srv.URL + "/missing.jpg"}
		assert.False(t, p.Download(ctx, again))
		assert.Equal(t, types.ImageSkipped, again.Outcome)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&srv.gets))
}

func TestDownloadIgnoredAndRelative(t *testing.T) {
	srv := newImageServer(t, map[string][]byte{
		"/img/rel.jpg": pngBytes(t, solid(100, 100, color.NRGBA{0, 0, 0, 255})),
	}, nil)
	p, _, _ := newTestPipeline(t, srv.URL+"/blog/", Options{})

	ignored := &types.ImageRef{SourceURL: "http://ads.example.com/banner.png"}
	assert.False(t, p.Download(context.Background(), ignored))
	assert.Equal(t, types.ImageIgnored, ignored.Outcome)

	rel := &types.ImageRef{SourceURL: "img/rel.jpg"}
	assert.True(t, p.Download(context.Background(), rel))
	assert.Equal(t, srv.URL+"/img/rel.jpg", rel.URL)
}

func TestDownloadDataURI(t *testing.T) {
	p, _, _ := newTestPipeline(t, "http://blog.example", Options{})
	data := base64.StdEncoding.EncodeToString(pngBytes(t, solid(60, 60, color.NRGBA{9, 9, 9, 255})))

	ref := &types.ImageRef{SourceURL: "data:image/png;base64," + data}
	assert.True(t, p.Download(context.Background(), ref))
	assert.Equal(t, ref.SourceURL, ref.URL)

	bad := &types.ImageRef{SourceURL: "data:application/pdf;base64,AAAA"}
	assert.False(t, p.Download(context.Background(), bad))
	assert.Equal(t, types.ImageUnsupported, bad.Outcome)
}

func TestParseDataURI(t *testing.T) {
	d, err := parseDataURI("data:image/svg+xml;charset=utf-8,%3Csvg%3E%3C%2Fsvg%3E")
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml", d.MIME)
	assert.False(t, d.Base64)
	body, err := d.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "<svg></svg>", string(body))

	_, err = parseDataURI("data:image/png;base64")
	assert.Error(t, err)
}

func TestHostThrottle(t *testing.T) {
	th := NewHostThrottle(40 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, th.Wait(ctx, "a.example"))
	}
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)

	start = time.Now()
	var wg sync.WaitGroup
	for _, host := range []string{"b.example", "c.example", "d.example"} {
		wg.Add(1)
		go func(h string) {
			defer wg.Done()
			assert.NoError(t, th.Wait(ctx, h))
		}(host)
	}
	wg.Wait()
	assert.Less(t, time.Since(start), 40*time.Millisecond)

	assert.NoError(t, NewHostThrottle(0).Wait(ctx, "a.example"))
}
