package render

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
)

// toRGBA normalizes any decoded image to RGBA. Returns the input unchanged
// when it already is one.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// ScaleImage resizes by the given factor using Catmull-Rom interpolation,
// which keeps small glyphs and thin table rules legible after upscaling.
func ScaleImage(src *image.RGBA, factor float64) *image.RGBA {
	if factor == 1.0 {
		return src
	}
	b := src.Bounds()
	w := int(math.Round(float64(b.Dx()) * factor))
	h := int(math.Round(float64(b.Dy()) * factor))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// Crop copies the horizontal band [y0, y1) out of src into a fresh image.
func Crop(src *image.RGBA, y0, y1 int) *image.RGBA {
	b := src.Bounds()
	if y0 < b.Min.Y {
		y0 = b.Min.Y
	}
	if y1 > b.Max.Y {
		y1 = b.Max.Y
	}
	if y1 <= y0 {
		return image.NewRGBA(image.Rect(0, 0, b.Dx(), 0))
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), y1-y0))
	draw.Draw(dst, dst.Bounds(), src, image.Point{X: b.Min.X, Y: y0}, draw.Src)
	return dst
}

// EncodeJPEG serializes an image for transport to the vision model.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeImage decodes chunk or page bytes back into RGBA. Refinement uses
// this to re-render a stored chunk at higher magnification.
func DecodeImage(data []byte) (*image.RGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return toRGBA(img), nil
}
