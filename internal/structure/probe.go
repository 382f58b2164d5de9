package structure

import (
	"bytes"
	"strings"

	"github.com/dgallion1/examgest/internal/exam"
	pdflib "github.com/ledongthuc/pdf"
)

// PageHint is a per-page role guess taken from the PDF text layer.
type PageHint struct {
	Page int
	Role exam.PageRole
}

// ProbeResult summarizes what the text layer revealed. Scanned exams
// usually have no text layer at all; when one exists, answer-key and
// explanation pages announce themselves in it.
type ProbeResult struct {
	HasText bool
	Hints   []PageHint
}

// Korean exam papers label answer and explanation sections with a small
// fixed vocabulary; English papers do the same.
var (
	explanationWords = []string{"해설", "풀이", "explanation", "solution"}
	answerWords      = []string{"정답", "답안", "answer key", "answer sheet", "answers"}
)

// Probe inspects the PDF text layer for page-role hints. Advisory only:
// any failure yields an empty result, never an error.
func Probe(data []byte) *ProbeResult {
	res := &ProbeResult{}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return res
	}

	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return res
	}

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		res.HasText = true
		if role, ok := classifyPageText(text); ok {
			res.Hints = append(res.Hints, PageHint{Page: i, Role: role})
		}
	}
	return res
}

func classifyPageText(text string) (exam.PageRole, bool) {
	lower := strings.ToLower(text)
	for _, w := range explanationWords {
		if strings.Contains(lower, w) {
			return exam.RoleExplanations, true
		}
	}
	for _, w := range answerWords {
		if strings.Contains(lower, w) {
			return exam.RoleAnswers, true
		}
	}
	return "", false
}
