package review

import (
	"fmt"

	"github.com/dgallion1/examgest/internal/exam"
)

// Deduplicate collapses accepted candidates sharing a question number into
// the most complete one: most options, ties broken by confidence, then by
// extraction order. Discarded members are logged for traceability, not
// kept. Rejected candidates pass through untouched. The accepted portion
// of the result is unique by question number.
func (r *Reviewer) Deduplicate(cands []exam.QuestionCandidate, steps *exam.StepLog) []exam.QuestionCandidate {
	winners := make(map[int]int) // question number -> index in cands
	for i := range cands {
		if cands[i].Validation != exam.ValidationAccepted {
			continue
		}
		n := cands[i].Number
		w, seen := winners[n]
		if !seen {
			winners[n] = i
			continue
		}
		if better(&cands[i], &cands[w]) {
			r.logDiscard(&cands[w], &cands[i], steps)
			winners[n] = i
		} else {
			r.logDiscard(&cands[i], &cands[w], steps)
		}
		cands[winners[n]].DedupGroup = fmt.Sprintf("q%d", n)
	}

	out := make([]exam.QuestionCandidate, 0, len(cands))
	for i := range cands {
		if cands[i].Validation != exam.ValidationAccepted {
			out = append(out, cands[i])
			continue
		}
		if winners[cands[i].Number] == i {
			out = append(out, cands[i])
		}
	}
	return out
}

// better reports whether a should win over the current winner b.
func better(a, b *exam.QuestionCandidate) bool {
	if len(a.Options) != len(b.Options) {
		return len(a.Options) > len(b.Options)
	}
	return a.Confidence > b.Confidence
}

func (r *Reviewer) logDiscard(loser, winner *exam.QuestionCandidate, steps *exam.StepLog) {
	r.log.Info("duplicate candidate discarded",
		"question", loser.Number,
		"kept_chunk", winner.SourceChunk,
		"dropped_chunk", loser.SourceChunk,
		"kept_options", len(winner.Options),
		"dropped_options", len(loser.Options))
	if steps != nil {
		steps.Append("dedupe", exam.StepCompleted, map[string]any{
			"question":        loser.Number,
			"kept_chunk":      winner.SourceChunk,
			"dropped_chunk":   loser.SourceChunk,
			"kept_options":    len(winner.Options),
			"dropped_options": len(loser.Options),
			"dropped_method":  loser.Method,
		})
	}
}
