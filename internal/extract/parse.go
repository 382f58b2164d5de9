package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dgallion1/examgest/internal/exam"
	"github.com/dgallion1/examgest/internal/vision"
)

type candidateJSON struct {
	Number       int          `json:"question_number"`
	Passage      string       `json:"passage"`
	Text         string       `json:"question_text"`
	Options      []optionJSON `json:"options"`
	HasTable     bool         `json:"has_table"`
	HasCode      bool         `json:"has_code"`
	HasDiagram   bool         `json:"has_diagram"`
	Completeness string       `json:"completeness"`
	Confidence   float64      `json:"confidence"`
}

type optionJSON struct {
	Symbol string `json:"symbol"`
	Text   string `json:"text"`
}

type chunkResponseJSON struct {
	Questions []candidateJSON `json:"questions"`
}

// ParseCandidates recovers question candidates from free-form response
// text. Three tiers, each attempted only when the previous one yields
// nothing: direct JSON, a brace/bracket scan for embedded JSON, and a
// plain numbered-line parser. The returned method names the tier used.
func ParseCandidates(text string) ([]exam.QuestionCandidate, string, error) {
	if raw := unmarshalCandidates(vision.StripCodeFence(text)); len(raw) > 0 {
		return toCandidates(raw), exam.MethodVisionJSON, nil
	}

	if span, ok := vision.ExtractJSONArray(text); ok {
		if raw := unmarshalCandidates(span); len(raw) > 0 {
			return toCandidates(raw), exam.MethodBraceScan, nil
		}
	}
	if span, ok := vision.ExtractJSONObject(text); ok {
		if raw := unmarshalCandidates(span); len(raw) > 0 {
			return toCandidates(raw), exam.MethodBraceScan, nil
		}
	}

	if cands := parseLines(text); len(cands) > 0 {
		return cands, exam.MethodLineParse, nil
	}
	return nil, "", fmt.Errorf("no candidates in response (raw: %s)", truncate(text, 200))
}

// ParseTarget recovers the single-question response of a targeted
// re-extraction. A NOT FOUND reply yields (nil, nil).
func ParseTarget(text string, number int) (*exam.QuestionCandidate, error) {
	stripped := vision.StripCodeFence(text)
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(stripped)), "NOT FOUND") {
		return nil, nil
	}

	span, ok := vision.ExtractJSONObject(stripped)
	if !ok {
		return nil, fmt.Errorf("no JSON object in targeted response (raw: %s)", truncate(text, 200))
	}
	var raw candidateJSON
	if err := json.Unmarshal([]byte(span), &raw); err != nil {
		return nil, fmt.Errorf("parse targeted response: %w", err)
	}
	if raw.Number == 0 {
		raw.Number = number
	}
	cand := toCandidate(raw)
	if cand.Number != number {
		return nil, fmt.Errorf("targeted response returned question %d, wanted %d", cand.Number, number)
	}
	return &cand, nil
}

// unmarshalCandidates accepts either a bare array or an object wrapping a
// "questions" array.
func unmarshalCandidates(s string) []candidateJSON {
	var arr []candidateJSON
	if err := json.Unmarshal([]byte(s), &arr); err == nil {
		return arr
	}
	var obj chunkResponseJSON
	if err := json.Unmarshal([]byte(s), &obj); err == nil {
		return obj.Questions
	}
	return nil
}

func toCandidates(raws []candidateJSON) []exam.QuestionCandidate {
	out := make([]exam.QuestionCandidate, 0, len(raws))
	for _, raw := range raws {
		if raw.Number <= 0 {
			continue
		}
		out = append(out, toCandidate(raw))
	}
	return out
}

func toCandidate(raw candidateJSON) exam.QuestionCandidate {
	cand := exam.QuestionCandidate{
		Number:     raw.Number,
		Passage:    strings.TrimSpace(raw.Passage),
		Text:       strings.TrimSpace(raw.Text),
		HasTable:   raw.HasTable,
		HasCode:    raw.HasCode,
		HasDiagram: raw.HasDiagram,
		Confidence: raw.Confidence,
		Validation: exam.ValidationPending,
	}
	if cand.Confidence <= 0 {
		cand.Confidence = 0.5
	}

	for i, o := range raw.Options {
		sym := strings.TrimSpace(o.Symbol)
		if sym == "" {
			sym = exam.CircledSymbol(i + 1)
		}
		cand.Options = append(cand.Options, exam.Option{Symbol: sym, Text: strings.TrimSpace(o.Text)})
	}

	cand.Completeness = normalizeCompleteness(raw.Completeness)
	cand.Text, cand.Completeness = stripMarkers(cand.Text, cand.Completeness)
	return cand
}

func normalizeCompleteness(s string) exam.Completeness {
	switch exam.Completeness(strings.ToLower(strings.TrimSpace(s))) {
	case exam.PartialStart:
		return exam.PartialStart
	case exam.PartialEnd:
		return exam.PartialEnd
	}
	return exam.Complete
}

// stripMarkers removes inline partial markers, folding them into the
// completeness value. The field and the marker are redundant signals; the
// marker wins when they disagree.
func stripMarkers(text string, c exam.Completeness) (string, exam.Completeness) {
	if strings.Contains(text, PartialStartMarker) {
		text = strings.ReplaceAll(text, PartialStartMarker, "")
		c = exam.PartialStart
	}
	if strings.Contains(text, PartialEndMarker) {
		text = strings.ReplaceAll(text, PartialEndMarker, "")
		c = exam.PartialEnd
	}
	return strings.TrimSpace(text), c
}

// Numbered-line salvage parser. Question lines look like "7. text" or
// "7) text"; option lines carry a circled numeral, a parenthesized numeral
// or an option letter. "3)" is ambiguous between the two and is read as an
// option only when it continues the current option sequence.
var (
	circledOptRe = regexp.MustCompile(`^\s*([①-⑮])\s*(.*)$`)
	wrappedOptRe = regexp.MustCompile(`^\s*(\([1-9]\d?\)|[A-Ea-e][.)])\s+(.*)$`)
	digitParenRe = regexp.MustCompile(`^\s*([1-9]\d?\))\s+(.*)$`)
	questionRe   = regexp.MustCompile(`^\s*(\d{1,3})[.)]\s+(.*)$`)
)

func parseLines(text string) []exam.QuestionCandidate {
	var out []exam.QuestionCandidate
	var cur *exam.QuestionCandidate

	flush := func() {
		if cur != nil && cur.Text != "" {
			out = append(out, *cur)
		}
		cur = nil
	}
	appendContinuation := func(line string) {
		if cur == nil {
			return
		}
		if n := len(cur.Options); n > 0 {
			cur.Options[n-1].Text = joinLine(cur.Options[n-1].Text, line)
		} else {
			cur.Text = joinLine(cur.Text, line)
		}
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if m := circledOptRe.FindStringSubmatch(trimmed); m != nil {
			if cur != nil {
				cur.Options = append(cur.Options, exam.Option{Symbol: m[1], Text: strings.TrimSpace(m[2])})
			}
			continue
		}
		if m := wrappedOptRe.FindStringSubmatch(trimmed); m != nil {
			if cur != nil {
				cur.Options = append(cur.Options, exam.Option{Symbol: m[1], Text: strings.TrimSpace(m[2])})
			}
			continue
		}
		if m := digitParenRe.FindStringSubmatch(trimmed); m != nil && cur != nil {
			if exam.SymbolIndex(m[1]) == len(cur.Options)+1 {
				cur.Options = append(cur.Options, exam.Option{Symbol: m[1], Text: strings.TrimSpace(m[2])})
				continue
			}
		}
		if m := questionRe.FindStringSubmatch(trimmed); m != nil {
			num, err := strconv.Atoi(m[1])
			if err == nil && num > 0 && (cur == nil || num > cur.Number) {
				flush()
				cur = &exam.QuestionCandidate{
					Number:       num,
					Text:         strings.TrimSpace(m[2]),
					Confidence:   0.3,
					Validation:   exam.ValidationPending,
					Completeness: exam.Complete,
				}
				continue
			}
		}
		appendContinuation(trimmed)
	}
	flush()
	return out
}

func joinLine(base, next string) string {
	if base == "" {
		return next
	}
	return base + " " + next
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
