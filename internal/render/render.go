package render

import (
	"bytes"
	"fmt"
	"image"

	"github.com/dgallion1/examgest/internal/exam"

	// Page scans come back as JPEG or PNG; some older scanners embed TIFF.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"
)

// Config controls rendering.
type Config struct {
	Scale float64 // magnification, >= 1
	Pages []int   // optional 1-based page subset; nil renders everything
}

// Page is one rendered page. Images are normalized to RGBA so downstream
// stages can crop and stitch without type switches.
type Page struct {
	Number int // 1-based
	Img    *image.RGBA
}

// SkippedPage records a page that failed to rasterize.
type SkippedPage struct {
	Number int
	Reason string
}

// Result is the renderer output: successfully rendered pages in order plus
// the pages that were skipped. Geometry is deterministic for identical
// (document, scale) inputs.
type Result struct {
	Doc     exam.Document
	Pages   []Page
	Skipped []SkippedPage
}

// Format of the uploaded document bytes.
type Format string

const (
	FormatPDF     Format = "pdf"
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatUnknown Format = "unknown"
)

// DetectFormat sniffs the document format from magic bytes.
func DetectFormat(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return FormatPDF
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return FormatJPEG
	case bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G'}):
		return FormatPNG
	default:
		return FormatUnknown
	}
}

// Render turns raw document bytes into page images at the configured
// magnification. PDF input yields one image per page (the embedded scan);
// raw JPEG/PNG input yields a single page. A page that fails to rasterize
// is skipped, not fatal; zero rendered pages is.
func Render(data []byte, docID string, cfg Config) (*Result, error) {
	if cfg.Scale < 1.0 {
		cfg.Scale = 1.0
	}

	var (
		res *Result
		err error
	)
	switch DetectFormat(data) {
	case FormatPDF:
		res, err = renderPDF(data, cfg)
	case FormatJPEG, FormatPNG:
		res, err = renderRaster(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported document format")
	}
	if err != nil {
		return nil, err
	}
	if len(res.Pages) == 0 {
		return nil, fmt.Errorf("no pages rendered (%d skipped)", len(res.Skipped))
	}

	res.Doc = exam.Document{
		ID:        docID,
		PageCount: len(res.Pages),
		Scale:     cfg.Scale,
	}
	return res, nil
}

// renderRaster treats an uploaded image as a single-page document.
func renderRaster(data []byte, cfg Config) (*Result, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	rgba := toRGBA(img)
	if cfg.Scale > 1.0 {
		rgba = ScaleImage(rgba, cfg.Scale)
	}
	return &Result{Pages: []Page{{Number: 1, Img: rgba}}}, nil
}
