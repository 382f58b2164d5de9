// Package audit reconciles the extracted question set with the structure
// estimate: it recovers missing numbers through targeted re-extraction,
// drops near-duplicate texts that escaped number-keyed dedup, and freezes
// the final ordered set. This is the one place the StructureEstimate may
// be revised, at most once, and the revision is always logged.
package audit

import (
	"context"
	"log/slog"
	"sort"

	"github.com/dgallion1/examgest/internal/exam"
)

// TargetExtractor recovers one specific question number from one chunk.
// (nil, nil) means the chunk does not contain the question.
type TargetExtractor interface {
	ExtractTarget(ctx context.Context, chunk exam.Chunk, number int) (*exam.QuestionCandidate, error)
}

// Validator tags candidates accepted or rejected. Recovered candidates go
// through the same predicates as first-pass ones.
type Validator interface {
	Validate(cands []exam.QuestionCandidate, steps *exam.StepLog) []exam.QuestionCandidate
}

type Config struct {
	// SimilarityThreshold is the token-overlap ratio at or above which two
	// candidates count as the same question under different numbers.
	SimilarityThreshold float64
}

// Auditor runs the final quality pass.
type Auditor struct {
	targets   TargetExtractor
	validator Validator
	cfg       Config
	log       *slog.Logger
}

func NewAuditor(targets TargetExtractor, validator Validator, cfg Config, log *slog.Logger) *Auditor {
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = 0.85
	}
	if log == nil {
		log = slog.Default()
	}
	return &Auditor{targets: targets, validator: validator, cfg: cfg, log: log}
}

// Result is the frozen outcome of the audit.
type Result struct {
	// Questions is the final accepted set, unique by number, sorted
	// ascending. Immutable from here on.
	Questions []exam.QuestionCandidate
	// Rejected keeps the tagged failures for traceability.
	Rejected  []exam.QuestionCandidate
	Recovered int
	Dropped   int
	Revised   bool
}

// Audit compares the accepted set against the estimate's expected total.
// Fewer than expected triggers one targeted re-extraction per missing
// number; more than expected triggers a similarity dedup. The estimate is
// revised when the observed numbering contradicts it.
func (a *Auditor) Audit(ctx context.Context, cands []exam.QuestionCandidate, est *exam.StructureEstimate, chunks []exam.Chunk, steps *exam.StepLog) Result {
	var res Result
	var accepted []exam.QuestionCandidate
	for _, c := range cands {
		if c.Validation == exam.ValidationAccepted {
			accepted = append(accepted, c)
		} else {
			res.Rejected = append(res.Rejected, c)
		}
	}

	expected := 0
	if est != nil {
		expected = est.ExpectedTotal
	}

	switch {
	case expected > 0 && len(accepted) < expected:
		accepted = a.recoverMissing(ctx, accepted, est, chunks, steps, &res)
	case expected > 0 && len(accepted) > expected:
		accepted = a.dropSimilar(accepted, steps, &res)
	}

	a.reconcile(accepted, est, steps, &res)

	sort.Slice(accepted, func(i, j int) bool { return accepted[i].Number < accepted[j].Number })
	res.Questions = accepted

	if steps != nil {
		steps.Append("audit", exam.StepCompleted, map[string]any{
			"expected":  expected,
			"found":     len(accepted),
			"recovered": res.Recovered,
			"dropped":   res.Dropped,
			"revised":   res.Revised,
		})
	}
	return res
}

// recoverMissing scans the estimate's numbering range for absent numbers
// and issues exactly one targeted re-extraction per missing number against
// the chunk the estimate attributes it to. Recovered candidates must pass
// validation to enter the accepted set.
func (a *Auditor) recoverMissing(ctx context.Context, accepted []exam.QuestionCandidate, est *exam.StructureEstimate, chunks []exam.Chunk, steps *exam.StepLog, res *Result) []exam.QuestionCandidate {
	present := make(map[int]bool, len(accepted))
	for _, c := range accepted {
		present[c.Number] = true
	}

	first, last := est.FirstQuestion, est.LastQuestion
	if first <= 0 || last < first {
		return accepted
	}

	for n := first; n <= last; n++ {
		if present[n] {
			continue
		}
		if ctx.Err() != nil {
			return accepted
		}

		chunk := attributeChunk(n, est, chunks)
		if chunk == nil {
			a.log.Info("missing question has no attributable chunk", "question", n)
			if steps != nil {
				steps.Append("audit", exam.StepFailed, map[string]any{
					"action":   "reextract",
					"question": n,
					"outcome":  "no_chunk",
				})
			}
			continue
		}

		cand, err := a.targets.ExtractTarget(ctx, *chunk, n)
		outcome := "recovered"
		switch {
		case err != nil:
			outcome = "error"
			a.log.Warn("targeted re-extraction failed", "question", n, "chunk", chunk.ID, "error", err)
		case cand == nil:
			outcome = "not_found"
		default:
			checked := a.validator.Validate([]exam.QuestionCandidate{*cand}, nil)
			if checked[0].Validation != exam.ValidationAccepted {
				outcome = "rejected"
				res.Rejected = append(res.Rejected, checked[0])
			} else {
				accepted = append(accepted, checked[0])
				present[n] = true
				res.Recovered++
			}
		}

		if steps != nil {
			steps.Append("audit", stepStatus(outcome), map[string]any{
				"action":   "reextract",
				"question": n,
				"chunk":    chunk.ID,
				"outcome":  outcome,
			})
		}
	}
	return accepted
}

func stepStatus(outcome string) exam.StepStatus {
	if outcome == "recovered" {
		return exam.StepCompleted
	}
	return exam.StepFailed
}

// attributeChunk maps a question number to the first chunk covering the
// page the estimate places it on.
func attributeChunk(n int, est *exam.StructureEstimate, chunks []exam.Chunk) *exam.Chunk {
	page := 0
	for _, p := range est.Pages {
		if p.Role != exam.RoleQuestions || p.FirstQuestion <= 0 {
			continue
		}
		if p.FirstQuestion <= n && n <= p.LastQuestion {
			page = p.Page
			break
		}
	}
	if page == 0 {
		return nil
	}
	for i := range chunks {
		if chunks[i].PageStart <= page && page <= chunks[i].PageEnd {
			return &chunks[i]
		}
	}
	return nil
}

// dropSimilar removes candidates whose text duplicates another accepted
// candidate under a different number (misread numerals produce these).
// The member with more options wins, ties broken by confidence, then by
// the lower number.
func (a *Auditor) dropSimilar(accepted []exam.QuestionCandidate, steps *exam.StepLog, res *Result) []exam.QuestionCandidate {
	dropped := make([]bool, len(accepted))
	for i := 0; i < len(accepted); i++ {
		if dropped[i] {
			continue
		}
		for j := i + 1; j < len(accepted); j++ {
			if dropped[j] {
				continue
			}
			sim := Similarity(&accepted[i], &accepted[j])
			if sim < a.cfg.SimilarityThreshold {
				continue
			}
			keep, lose := i, j
			if better(&accepted[j], &accepted[i]) {
				keep, lose = j, i
			}
			dropped[lose] = true
			res.Dropped++
			a.log.Info("near-duplicate question dropped",
				"kept", accepted[keep].Number, "dropped", accepted[lose].Number, "similarity", sim)
			if steps != nil {
				steps.Append("audit", exam.StepCompleted, map[string]any{
					"action":     "similarity_dedup",
					"kept":       accepted[keep].Number,
					"dropped":    accepted[lose].Number,
					"similarity": sim,
				})
			}
			if lose == i {
				break
			}
		}
	}

	out := accepted[:0]
	for i := range accepted {
		if !dropped[i] {
			out = append(out, accepted[i])
		}
	}
	return out
}

func better(a, b *exam.QuestionCandidate) bool {
	if len(a.Options) != len(b.Options) {
		return len(a.Options) > len(b.Options)
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Number < b.Number
}

// reconcile revises the estimate once when the observed numbering
// contradicts it. The observed maximum is authoritative; the estimate only
// ever served as a re-extraction target.
func (a *Auditor) reconcile(accepted []exam.QuestionCandidate, est *exam.StructureEstimate, steps *exam.StepLog, res *Result) {
	if est == nil || est.Revised || len(accepted) == 0 {
		return
	}

	observedMax := 0
	observedMin := 0
	for _, c := range accepted {
		if c.Number > observedMax {
			observedMax = c.Number
		}
		if observedMin == 0 || c.Number < observedMin {
			observedMin = c.Number
		}
	}

	first := est.FirstQuestion
	if first <= 0 {
		first = observedMin
	}
	span := observedMax - first + 1
	if span <= 0 || span == est.ExpectedTotal {
		return
	}

	a.log.Info("structure estimate revised",
		"expected_total", est.ExpectedTotal, "observed_span", span, "observed_max", observedMax)
	if steps != nil {
		steps.Append("audit", exam.StepCompleted, map[string]any{
			"action":         "reconcile_estimate",
			"expected_total": est.ExpectedTotal,
			"revised_total":  span,
			"observed_max":   observedMax,
		})
	}

	est.ExpectedTotal = span
	est.LastQuestion = observedMax
	if est.FirstQuestion <= 0 {
		est.FirstQuestion = observedMin
	}
	est.Revised = true
	res.Revised = true
}
