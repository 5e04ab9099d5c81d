package images

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// dimensions reads the pixel size from the image header only.
func dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// normalize decodes data, fits it inside maxW x maxH, flattens any
// transparency onto white and encodes a baseline JPEG.
func normalize(data []byte, maxW, maxH, quality int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	transparent := hasTransparency(src)

	img := fit(src, maxW, maxH)
	if transparent {
		img = flatten(img)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fitSize scales w x h down to fit maxW x maxH keeping the aspect ratio.
// Images already inside the box keep their size.
func fitSize(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 || maxW <= 0 || maxH <= 0 {
		return w, h
	}
	if w <= maxW && h <= maxH {
		return w, h
	}
	sx := float64(maxW) / float64(w)
	sy := float64(maxH) / float64(h)
	scale := sx
	if sy < sx {
		scale = sy
	}
	nw := int(float64(w)*scale + 0.5)
	nh := int(float64(h)*scale + 0.5)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}

func fit(src image.Image, maxW, maxH int) image.Image {
	b := src.Bounds()
	nw, nh := fitSize(b.Dx(), b.Dy(), maxW, maxH)
	if nw == b.Dx() && nh == b.Dy() {
		return src
	}
	dst := image.NewNRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// flatten composites img over opaque white.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

type opaquer interface {
	Opaque() bool
}

// hasTransparency reports whether any visible pixel is less than fully
// opaque. For paletted images only palette entries actually used count.
func hasTransparency(img image.Image) bool {
	if p, ok := img.(*image.Paletted); ok {
		used := make([]bool, len(p.Palette))
		b := p.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := p.Pix[(y-p.Rect.Min.Y)*p.Stride:]
			for x := 0; x < b.Dx(); x++ {
				idx := int(row[x])
				if idx < len(used) {
					used[idx] = true
				}
			}
		}
		for i, u := range used {
			if !u {
				continue
			}
			if _, _, _, a := p.Palette[i].RGBA(); a < 0xffff {
				return true
			}
		}
		return false
	}
	if o, ok := img.(opaquer); ok {
		return !o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a < 0xffff {
				return true
			}
		}
	}
	return false
}
