package extract

import (
	"fmt"
	"strings"

	"github.com/dgallion1/examgest/internal/exam"
)

// Markers the extraction contract asks the model to append to a question
// cut by a chunk edge. Stripped into the Completeness field during parsing.
const (
	PartialStartMarker = "[[PARTIAL_START]]"
	PartialEndMarker   = "[[PARTIAL_END]]"
)

const extractionContract = `You are looking at one slice of a scanned exam paper. Extract every question visible in this image.

Return a JSON array. One element per question:
{
  "question_number": the integer printed at the start of the question,
  "passage": shared passage or instruction text attached to this question, or "",
  "question_text": the question stem,
  "options": [{"symbol": "①", "text": "..."}], in printed order,
  "has_table": true if a table is part of the question,
  "has_code": true if source code is part of the question,
  "has_diagram": true if a figure or diagram is part of the question,
  "completeness": "complete", "partial_start" or "partial_end",
  "confidence": 0.0 to 1.0
}

Rules:
- Only report questions with a clearly printed question number. Never invent one.
- Circled numerals (① ② ③ ④ ⑤), parenthesized numerals like (1) (2), and letters like A) B) label ANSWER OPTIONS. They are never question numbers.
- If the image starts mid-question (text or options continuing from above), report the fragment with "completeness": "partial_start" and append ` + PartialStartMarker + ` to its question_text.
- If the bottom edge cuts a question off, report the visible part with "completeness": "partial_end" and append ` + PartialEndMarker + ` to its question_text.
- Never complete a cut-off question from imagination; report exactly what is visible.
- Copy all text exactly as printed, in its original language.

Respond with ONLY the JSON array, no other text.`

// BuildChunkPrompt assembles the extraction prompt for one chunk, with the
// chunk's slice of the structure estimate folded in as expectations.
func BuildChunkPrompt(chunk exam.Chunk, est *exam.StructureEstimate) string {
	var sb strings.Builder
	sb.WriteString(extractionContract)

	if chunk.PageStart == chunk.PageEnd {
		sb.WriteString(fmt.Sprintf("\n\nThis slice shows page %d of the paper.", chunk.PageStart))
	} else {
		sb.WriteString(fmt.Sprintf("\n\nThis slice spans pages %d to %d of the paper.", chunk.PageStart, chunk.PageEnd))
	}

	if est != nil {
		if first, last := est.QuestionRange(chunk.PageStart, chunk.PageEnd); first > 0 && last > 0 {
			sb.WriteString(fmt.Sprintf(" Questions %d through %d are expected in this region.", first, last))
		}
		if est.OptionCount > 0 {
			sb.WriteString(fmt.Sprintf(" Questions in this paper typically have %d options.", est.OptionCount))
		}
		for _, sp := range est.Specials {
			if sp.Page < chunk.PageStart || sp.Page > chunk.PageEnd {
				continue
			}
			if sp.Question > 0 {
				sb.WriteString(fmt.Sprintf(" A %s is expected near question %d.", sp.Kind, sp.Question))
			} else {
				sb.WriteString(fmt.Sprintf(" A %s is expected on page %d.", sp.Kind, sp.Page))
			}
		}
	}

	if chunk.HeadOverlap > 0 || chunk.TailOverlap > 0 {
		sb.WriteString(" The edges of this slice overlap neighboring slices; report everything you see, duplicates are resolved later.")
	}
	return sb.String()
}

const targetContract = `You are looking at a slice of a scanned exam paper. Find question number %d in this image and extract it.

Return a single JSON object:
{
  "question_number": %d,
  "passage": shared passage or instruction text, or "",
  "question_text": the question stem,
  "options": [{"symbol": "①", "text": "..."}], in printed order,
  "has_table": true or false,
  "has_code": true or false,
  "has_diagram": true or false,
  "confidence": 0.0 to 1.0
}

Circled or parenthesized numerals and option letters label the question's answer options; do not confuse them with question numbers. If question %d is not in this image, respond with exactly: NOT FOUND

Respond with ONLY the JSON object or NOT FOUND, no other text.`

// BuildTargetPrompt asks for exactly one question number, used by the
// quality audit's targeted re-extraction.
func BuildTargetPrompt(number int) string {
	return fmt.Sprintf(targetContract, number, number, number)
}
