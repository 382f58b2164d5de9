// Package segment cuts rendered documents into overlapping image chunks
// sized for a single vision call. Both modes cut from the stitched canvas,
// so chunk coordinates always refer to one surface and map back to source
// pages the same way.
package segment

import (
	"fmt"

	"github.com/dgallion1/examgest/internal/exam"
	"github.com/dgallion1/examgest/internal/render"
)

// Config controls chunk geometry.
type Config struct {
	ChunkHeight int // continuous-mode window height in pixels
	Overlap     int // pixels shared between adjacent continuous windows
	PageSliver  int // pixels of the next page appended in pages mode
	JPEGQuality int
}

// Segment cuts the stitched document into chunks for the given mode.
// Identical input and config yield identical chunk geometry.
func Segment(st *render.Stitched, docID string, mode exam.Mode, cfg Config) ([]exam.Chunk, error) {
	if st == nil || st.Height() == 0 {
		return nil, fmt.Errorf("empty document surface")
	}

	var spans []span
	switch mode {
	case exam.ModeContinuous:
		var err error
		spans, err = continuousSpans(st.Height(), cfg.ChunkHeight, cfg.Overlap)
		if err != nil {
			return nil, err
		}
	case exam.ModePages:
		spans = pageSpans(st, cfg.PageSliver)
	default:
		return nil, fmt.Errorf("unknown segmentation mode %q", mode)
	}

	chunks := make([]exam.Chunk, 0, len(spans))
	for i, sp := range spans {
		img, err := render.EncodeJPEG(render.Crop(st.Img, sp.y0, sp.y1), cfg.JPEGQuality)
		if err != nil {
			return nil, fmt.Errorf("encode chunk %d: %w", i, err)
		}
		chunks = append(chunks, exam.Chunk{
			ID:          fmt.Sprintf("%s-c%d", docID, i),
			Index:       i,
			PageStart:   st.PageAt(sp.y0),
			PageEnd:     st.PageAt(sp.y1 - 1),
			YStart:      sp.y0,
			YEnd:        sp.y1,
			Image:       img,
			HeadOverlap: sp.head,
			TailOverlap: sp.tail,
		})
	}
	return chunks, nil
}

type span struct {
	y0, y1     int
	head, tail int
}

// continuousSpans places fixed-height windows every height-overlap pixels.
// A final window whose fresh content would be at most the overlap is
// skipped: the previous window already covers those pixels.
func continuousSpans(height, chunkHeight, overlap int) ([]span, error) {
	if chunkHeight <= 0 {
		return nil, fmt.Errorf("chunk height must be positive, got %d", chunkHeight)
	}
	if overlap < 0 || overlap >= chunkHeight {
		return nil, fmt.Errorf("overlap %d must be in [0, %d)", overlap, chunkHeight)
	}

	if height <= chunkHeight {
		return []span{{y0: 0, y1: height}}, nil
	}

	stride := chunkHeight - overlap
	var spans []span
	for start := 0; start < height; start += stride {
		if start > 0 && height-start <= overlap {
			break
		}
		end := start + chunkHeight
		if end > height {
			end = height
		}
		spans = append(spans, span{y0: start, y1: end, head: overlap, tail: overlap})
	}
	spans[0].head = 0
	spans[len(spans)-1].tail = 0
	return spans, nil
}

// pageSpans makes one chunk per page, each extended by a sliver of the
// following page so content cut at the physical page break stays visible
// in both chunks.
func pageSpans(st *render.Stitched, sliver int) []span {
	if sliver < 0 {
		sliver = 0
	}
	height := st.Height()
	n := len(st.Offsets)

	spans := make([]span, n)
	for i := 0; i < n; i++ {
		y0 := st.Offsets[i]
		var y1, tail int
		if i == n-1 {
			y1 = height
		} else {
			next := st.Offsets[i+1]
			y1 = next + sliver
			if y1 > height {
				y1 = height
			}
			tail = y1 - next
		}
		spans[i] = span{y0: y0, y1: y1, tail: tail}
		if i > 0 {
			spans[i].head = spans[i-1].tail
		}
	}
	return spans
}
