package refine

import (
	"fmt"

	"github.com/dgallion1/examgest/internal/exam"
)

const tableContract = `You are looking at a magnified slice of a scanned exam paper. Question %d contains a table. Re-extract the question, reproducing the table exactly.

Return a single JSON object:
{
  "question_number": %d,
  "passage": shared passage or instruction text, or "",
  "question_text": the question stem without the table content,
  "options": [{"symbol": "①", "text": "..."}], in printed order,
  "table_markup": the table as a markdown pipe table with a header row and a |---| separator row,
  "confidence": 0.0 to 1.0
}

Rules:
- Reproduce every row and every column. Keep each cell's text exactly as printed; never merge, reorder or summarize cells.
- Report all of the question's options; it has at least %d.
- Copy all text exactly as printed, in its original language.

Respond with ONLY the JSON object, no other text.`

func buildTablePrompt(c *exam.QuestionCandidate) string {
	return fmt.Sprintf(tableContract, c.Number, c.Number, len(c.Options))
}

const codeContract = `You are looking at a magnified slice of a scanned exam paper. Question %d contains source code. Re-extract the question, reproducing the code exactly.

Return a single JSON object:
{
  "question_number": %d,
  "passage": shared passage or instruction text, or "",
  "question_text": the question stem without the code,
  "options": [{"symbol": "①", "text": "..."}], in printed order,
  "code_block": the code with every line break and all indentation preserved,
  "code_language": the programming language if recognizable, or "",
  "confidence": 0.0 to 1.0
}

Rules:
- Copy the code character by character: indentation, whitespace, operators and identifiers exactly as printed.
- Never correct, reformat or complete the code, even if it looks wrong. A printed mistake is often the point of the question.
- Report all of the question's options; it has at least %d.

Respond with ONLY the JSON object, no other text.`

func buildCodePrompt(c *exam.QuestionCandidate) string {
	return fmt.Sprintf(codeContract, c.Number, c.Number, len(c.Options))
}

const diagramContract = `You are looking at a magnified slice of a scanned exam paper. Question %d contains a figure or diagram. Re-extract the question with a structural description of the diagram.

Return a single JSON object:
{
  "question_number": %d,
  "passage": shared passage or instruction text, or "",
  "question_text": the question stem,
  "options": [{"symbol": "①", "text": "..."}], in printed order,
  "diagram_description": the diagram as text: its elements (nodes, boxes, axes), the connections between them (edges, arrows) and every printed label or value,
  "confidence": 0.0 to 1.0
}

Rules:
- Describe only what is drawn; never interpret or solve the diagram.
- Include every label, number and unit printed in the figure.
- Report all of the question's options; it has at least %d.

Respond with ONLY the JSON object, no other text.`

func buildDiagramPrompt(c *exam.QuestionCandidate) string {
	return fmt.Sprintf(diagramContract, c.Number, c.Number, len(c.Options))
}

const choicesContract = `You are looking at a magnified slice of a scanned exam paper. Question %d has a dense option list with at least %d options. Re-extract the question and every one of its options.

Return a single JSON object:
{
  "question_number": %d,
  "passage": shared passage or instruction text, or "",
  "question_text": the question stem,
  "options": [{"symbol": "①", "text": "..."}], in printed order,
  "confidence": 0.0 to 1.0
}

Rules:
- Report every option with its printed symbol. Closely spaced options are easy to merge; keep each one separate.
- Copy all text exactly as printed, in its original language.

Respond with ONLY the JSON object, no other text.`

func buildChoicesPrompt(c *exam.QuestionCandidate) string {
	return fmt.Sprintf(choicesContract, c.Number, len(c.Options), c.Number)
}
