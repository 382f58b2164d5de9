package structure

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dgallion1/examgest/internal/exam"
	"github.com/dgallion1/examgest/internal/vision"
)

// passResult is the JSON shape both analysis passes respond with. The
// detailed pass additionally fills special_elements.
type passResult struct {
	TotalQuestions int            `json:"total_questions"`
	FirstQuestion  int            `json:"first_question"`
	LastQuestion   int            `json:"last_question"`
	OptionCount    int            `json:"options_per_question"`
	Confidence     float64        `json:"confidence"`
	Pages          []pagePlanJSON `json:"pages"`
	Specials       []specialJSON  `json:"special_elements"`
}

type pagePlanJSON struct {
	Page          int    `json:"page"`
	Role          string `json:"role"`
	FirstQuestion int    `json:"first_question"`
	LastQuestion  int    `json:"last_question"`
}

type specialJSON struct {
	Kind     string `json:"kind"`
	Page     int    `json:"page"`
	Question int    `json:"question"`
}

// parsePass recovers a passResult from free-form response text: fenced or
// bare JSON first, then the outermost object span.
func parsePass(text string) (*passResult, error) {
	stripped := vision.StripCodeFence(text)

	var res passResult
	if err := json.Unmarshal([]byte(stripped), &res); err == nil {
		return &res, nil
	}

	obj, ok := vision.ExtractJSONObject(text)
	if !ok {
		return nil, fmt.Errorf("no JSON object in structure response")
	}
	if err := json.Unmarshal([]byte(obj), &res); err != nil {
		return nil, fmt.Errorf("parse structure response: %w", err)
	}
	return &res, nil
}

// parseRole normalizes a model-reported role string. Unknown roles come
// back as RoleOther rather than failing the pass.
func parseRole(s string) exam.PageRole {
	switch r := exam.PageRole(strings.ToLower(strings.TrimSpace(s))); r {
	case exam.RoleQuestions, exam.RoleAnswers, exam.RoleExplanations, exam.RoleCover, exam.RoleOther:
		return r
	}
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "question"):
		return exam.RoleQuestions
	case strings.Contains(lower, "explanation") || strings.Contains(lower, "solution"):
		return exam.RoleExplanations
	case strings.Contains(lower, "answer"):
		return exam.RoleAnswers
	case strings.Contains(lower, "cover") || strings.Contains(lower, "title"):
		return exam.RoleCover
	}
	return exam.RoleOther
}

func parseKind(s string) (exam.SpecialKind, bool) {
	switch k := exam.SpecialKind(strings.ToLower(strings.TrimSpace(s))); k {
	case exam.SpecialTable, exam.SpecialCode, exam.SpecialDiagram:
		return k, true
	}
	return "", false
}
