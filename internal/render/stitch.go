package render

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// Stitched is the pages of a document joined into one tall canvas, the
// working surface for continuous-mode segmentation. Offsets[i] is the
// y-coordinate where page i+1 begins, so a canvas coordinate maps back to
// its source page with PageAt.
type Stitched struct {
	Img     *image.RGBA
	Offsets []int
}

// Stitch joins pages vertically in page order. Pages narrower than the
// widest page are left-aligned on a white background so scan-width jitter
// between pages does not shift content horizontally.
func Stitch(pages []Page) (*Stitched, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages to stitch")
	}

	width, height := 0, 0
	for _, p := range pages {
		b := p.Img.Bounds()
		if b.Dx() > width {
			width = b.Dx()
		}
		height += b.Dy()
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	offsets := make([]int, len(pages))
	y := 0
	for i, p := range pages {
		offsets[i] = y
		b := p.Img.Bounds()
		dst := image.Rect(0, y, b.Dx(), y+b.Dy())
		draw.Draw(canvas, dst, p.Img, b.Min, draw.Src)
		y += b.Dy()
	}

	return &Stitched{Img: canvas, Offsets: offsets}, nil
}

// Height of the stitched canvas in pixels.
func (s *Stitched) Height() int {
	return s.Img.Bounds().Dy()
}

// PageAt maps a canvas y-coordinate to its 1-based source page.
func (s *Stitched) PageAt(y int) int {
	page := 1
	for i, off := range s.Offsets {
		if y < off {
			break
		}
		page = i + 1
	}
	return page
}
