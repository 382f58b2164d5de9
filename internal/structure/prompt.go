package structure

import (
	"fmt"
	"strings"
)

const overviewContract = `You are looking at LOW-RESOLUTION scans of a complete exam paper, one image per page, in page order.

Report the overall structure as a single JSON object with these fields:

- "total_questions": total number of questions in the whole paper (integer)
- "first_question": lowest question number present (integer, 0 if none)
- "last_question": highest question number present (integer, 0 if none)
- "options_per_question": typical number of answer options per question (integer, 0 if unclear)
- "confidence": your confidence in these numbers, 0.0 to 1.0 (float)
- "pages": one entry per page, in order: {"page": page number starting at 1, "role": one of "questions", "answers", "explanations", "cover", "other", "first_question": lowest question number on that page or 0, "last_question": highest question number on that page or 0}

Rules:
- A question number is a plain integer printed at the START of a question, like "7." or "7)".
- Circled numerals (1) through (5) or the symbols ① ② ③ ④ ⑤, parenthesized numerals, and letters like A) B) C) label ANSWER OPTIONS. They are NEVER question numbers. Do not count them as questions.
- Question numbers increase monotonically through the paper. If your per-page numbers would go backwards, recount before answering.
- A page that only lists correct answers is "answers"; a page of worked solutions is "explanations".

Respond with ONLY the JSON object, no other text.`

func buildOverviewPrompt(pageCount int, hints []PageHint) string {
	var sb strings.Builder
	sb.WriteString(overviewContract)
	sb.WriteString(fmt.Sprintf("\n\nThe paper has %d pages.", pageCount))
	if len(hints) > 0 {
		sb.WriteString("\nText embedded in the file suggests these page roles; verify against the images:\n")
		for _, h := range hints {
			sb.WriteString(fmt.Sprintf("- page %d: %s\n", h.Page, h.Role))
		}
	}
	return sb.String()
}

const detailedContract = `You are looking at HIGH-RESOLUTION scans of the question pages of an exam paper. A low-resolution pass already estimated the structure; your job is to confirm or correct it.

Respond with a single JSON object with these fields:

- "total_questions", "first_question", "last_question", "options_per_question", "confidence": corrected values (the preliminary totals below are a floor: report more if you see more, never fewer without strong evidence)
- "pages": one entry per image, using the ORIGINAL page number from the mapping below: {"page": ..., "role": ..., "first_question": ..., "last_question": ...}
- "special_elements": one entry for every table, source-code listing, or figure/diagram that is part of a question: {"kind": "table" or "code" or "diagram", "page": original page number, "question": question number it belongs to, or 0 if unclear}

The option-marker rules still apply: circled or parenthesized numerals and option letters are answer options, never question numbers.

Respond with ONLY the JSON object, no other text.`

func buildDetailedPrompt(ov *passResult, pageNums []int) string {
	var sb strings.Builder
	sb.WriteString(detailedContract)
	sb.WriteString("\n\nPreliminary structure:\n")
	sb.WriteString(fmt.Sprintf("- total questions: at least %d\n", ov.TotalQuestions))
	sb.WriteString(fmt.Sprintf("- first question number: %d\n", ov.FirstQuestion))
	sb.WriteString(fmt.Sprintf("- last question number: %d\n", ov.LastQuestion))
	if ov.OptionCount > 0 {
		sb.WriteString(fmt.Sprintf("- options per question: about %d\n", ov.OptionCount))
	}
	sb.WriteString("\nImage-to-page mapping:\n")
	for i, p := range pageNums {
		sb.WriteString(fmt.Sprintf("- image %d is page %d\n", i+1, p))
	}
	return sb.String()
}
