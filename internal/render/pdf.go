package render

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Scanned exams embed one raster image per page. pdfcpu names extracted
// images after their source page, which is how we map them back.
var pageNumRe = regexp.MustCompile(`_page_(\d+)_`)

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tif":  true,
	".tiff": true,
}

// renderPDF extracts the embedded page scans from a PDF and scales them to
// the configured magnification. pdfcpu's extraction API is file-based, so
// the document bytes go through a temp file.
func renderPDF(data []byte, cfg Config) (*Result, error) {
	tmpDir, err := os.MkdirTemp("", "examgest-render-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "doc.pdf")
	if err := os.WriteFile(pdfPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}

	pageCount, err := api.PageCountFile(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("read pdf page count: %w", err)
	}
	if pageCount == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	pages := cfg.Pages
	if len(pages) == 0 {
		pages = make([]int, pageCount)
		for i := range pages {
			pages[i] = i + 1
		}
	}

	selected := make([]string, len(pages))
	for i, p := range pages {
		if p < 1 || p > pageCount {
			return nil, fmt.Errorf("page %d out of range 1..%d", p, pageCount)
		}
		selected[i] = strconv.Itoa(p)
	}

	imgDir := filepath.Join(tmpDir, "images")
	if err := os.MkdirAll(imgDir, 0o700); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractImagesFile(pdfPath, imgDir, selected, conf); err != nil {
		return nil, fmt.Errorf("extract page images: %w", err)
	}

	byPage, err := collectExtracted(imgDir)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, p := range pages {
		path, ok := byPage[p]
		if !ok {
			res.Skipped = append(res.Skipped, SkippedPage{Number: p, Reason: "no embedded image"})
			continue
		}
		img, err := decodePageImage(path)
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedPage{Number: p, Reason: err.Error()})
			continue
		}
		if cfg.Scale > 1.0 {
			img = ScaleImage(img, cfg.Scale)
		}
		res.Pages = append(res.Pages, Page{Number: p, Img: img})
	}
	return res, nil
}

// collectExtracted maps page number to the largest extracted image for that
// page. A page can carry several embedded images (scan plus stamps or
// logos); the scan dominates by pixel area.
func collectExtracted(dir string) (map[int]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read extracted images: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	type candidate struct {
		path string
		area int
	}
	best := make(map[int]candidate)
	for _, name := range names {
		m := pageNumRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		page, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		path := filepath.Join(dir, name)
		area := imageArea(path)
		if cur, ok := best[page]; !ok || area > cur.area {
			best[page] = candidate{path: path, area: area}
		}
	}

	out := make(map[int]string, len(best))
	for page, c := range best {
		out[page] = c.path
	}
	return out, nil
}

func imageArea(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	conf, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0
	}
	return conf.Width * conf.Height
}

func decodePageImage(path string) (*image.RGBA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read page image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}
	return toRGBA(img), nil
}
