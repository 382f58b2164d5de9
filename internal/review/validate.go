// Package review scores candidates for structural completeness and
// collapses duplicate extractions of the same question number. Failing
// candidates are tagged rejected with the failing predicates recorded,
// never silently dropped.
package review

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/examgest/internal/exam"
)

// Validation failure reasons recorded on rejected candidates.
const (
	ReasonTextTooShort       = "question_text_too_short"
	ReasonTooFewOptions      = "too_few_options"
	ReasonOptionTooShort     = "option_too_short"
	ReasonResidualMarkers    = "residual_option_markers"
	ReasonAnswerVocabulary   = "answer_vocabulary"
	ReasonIncompleteFragment = "incomplete_fragment"
)

// Config sets the minimum lengths, in runes.
type Config struct {
	MinQuestionLen int
	MinOptionLen   int
}

// Reviewer validates and deduplicates the linked candidate set.
type Reviewer struct {
	cfg Config
	log *slog.Logger
}

func NewReviewer(cfg Config, log *slog.Logger) *Reviewer {
	if log == nil {
		log = slog.Default()
	}
	return &Reviewer{cfg: cfg, log: log}
}

// Two or more option markers separated by real text means an option list
// is still embedded in the question stem. A lone marker or a range
// reference like "①~④" is legitimate stem content.
var embeddedOptionsRe = regexp.MustCompile(`[①-⑮][^①-⑮]{3,}[①-⑮]`)

// Text that is nothing but answer-key vocabulary plus option symbols,
// numbers and punctuation. Guards against answer or explanation pages
// extracted as questions. No \b after the heading word: Go word
// boundaries are ASCII-only and never fire after a Korean character.
var answerVocabRe = regexp.MustCompile(
	`^\s*(정답|답안|답|해설|풀이|answer(\s+key)?|answers|explanation|solution)s?[\s:.]*[①-⑮0-9A-Ea-e\s,.()~\-:]*$`)

// Validate tags every candidate accepted or rejected. Rejected candidates
// stay in the returned slice with their failing predicates in RejectedFor.
func (r *Reviewer) Validate(cands []exam.QuestionCandidate, steps *exam.StepLog) []exam.QuestionCandidate {
	accepted, rejected := 0, 0
	for i := range cands {
		reasons := r.check(&cands[i])
		if len(reasons) == 0 {
			cands[i].Validation = exam.ValidationAccepted
			cands[i].RejectedFor = nil
			accepted++
			continue
		}
		cands[i].Validation = exam.ValidationRejected
		cands[i].RejectedFor = reasons
		rejected++
		r.log.Info("candidate rejected",
			"question", cands[i].Number,
			"reasons", reasons)
	}

	if steps != nil {
		steps.Append("validate", exam.StepCompleted, map[string]any{
			"accepted": accepted,
			"rejected": rejected,
		})
	}
	return cands
}

func (r *Reviewer) check(c *exam.QuestionCandidate) []string {
	var reasons []string

	text := strings.TrimSpace(c.Text)
	if utf8.RuneCountInString(text) < r.cfg.MinQuestionLen {
		reasons = append(reasons, ReasonTextTooShort)
	}

	if c.Completeness != exam.Complete {
		// An unlinked fragment; whatever options it shows are not the
		// question's full set.
		reasons = append(reasons, ReasonIncompleteFragment)
	}

	if len(c.Options) < 2 {
		reasons = append(reasons, ReasonTooFewOptions)
	} else {
		for _, o := range c.Options {
			if utf8.RuneCountInString(strings.TrimSpace(o.Text)) < r.cfg.MinOptionLen {
				reasons = append(reasons, ReasonOptionTooShort)
				break
			}
		}
	}

	if embeddedOptionsRe.MatchString(text) {
		reasons = append(reasons, ReasonResidualMarkers)
	}

	if answerVocabRe.MatchString(strings.ToLower(text)) {
		reasons = append(reasons, ReasonAnswerVocabulary)
	}
	return reasons
}
