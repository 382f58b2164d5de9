// Package link merges question candidates that a chunk or page boundary
// cut in half. Two strategies run in order: explicit partial markers from
// the extractor, then an option-count and symbol-continuity heuristic. A
// merge that would lose options is refused; both halves survive with a
// logged conflict.
package link

import (
	"log/slog"

	"github.com/dgallion1/examgest/internal/exam"
)

type Linker struct {
	log *slog.Logger
}

func NewLinker(log *slog.Logger) *Linker {
	if log == nil {
		log = slog.Default()
	}
	return &Linker{log: log}
}

// placed tracks one candidate during linking. Results re-establish order
// by chunk index, not extraction completion order.
type placed struct {
	cand     exam.QuestionCandidate
	consumed bool
}

// Link runs both strategies over per-chunk candidate lists (index = chunk
// order) and returns the flattened list in chunk order.
func (l *Linker) Link(perChunk [][]exam.QuestionCandidate, est *exam.StructureEstimate, steps *exam.StepLog) []exam.QuestionCandidate {
	chunks := make([][]placed, len(perChunk))
	for i, cands := range perChunk {
		chunks[i] = make([]placed, len(cands))
		for j, c := range cands {
			chunks[i][j] = placed{cand: c.Clone()}
		}
	}

	for k := 0; k+1 < len(chunks); k++ {
		l.linkExplicit(chunks, k, steps)
	}
	for k := 0; k+1 < len(chunks); k++ {
		l.linkHeuristic(chunks, k, est, steps)
	}

	var out []exam.QuestionCandidate
	for _, chunk := range chunks {
		for _, p := range chunk {
			if !p.consumed {
				out = append(out, p.cand)
			}
		}
	}
	return out
}

// linkExplicit pairs partial-end candidates in chunk k with partial-start
// candidates in chunk k+1 by nearest question number. The merged record
// replaces the later half; if that half was itself cut off, the heuristic
// pass can still link its continuation by symbol sequence.
func (l *Linker) linkExplicit(chunks [][]placed, k int, steps *exam.StepLog) {
	for i := range chunks[k] {
		a := &chunks[k][i]
		if a.consumed || a.cand.Completeness != exam.PartialEnd {
			continue
		}

		b := nearestPartialStart(chunks[k+1], a.cand.Number)
		if b == nil {
			continue
		}

		merged, ok := merge(a.cand, b.cand)
		if !ok {
			l.logConflict(a.cand, b.cand, steps)
			continue
		}
		l.commitMerge(a, b, merged, "explicit", steps)
	}
}

// linkHeuristic merges a short candidate with its continuation in the next
// chunk: either the same question number reported again, or an option
// sequence that resumes exactly where this one stopped.
func (l *Linker) linkHeuristic(chunks [][]placed, k int, est *exam.StructureEstimate, steps *exam.StepLog) {
	expected := 0
	if est != nil {
		expected = est.OptionCount
	}

	for i := range chunks[k] {
		a := &chunks[k][i]
		if a.consumed {
			continue
		}
		short := expected > 0 && len(a.cand.Options) < expected
		last := exam.LastSymbolIndex(a.cand.Options)

		for j := range chunks[k+1] {
			b := &chunks[k+1][j]
			if b.consumed || b.cand.Number < a.cand.Number || b.cand.Number > a.cand.Number+1 {
				continue
			}
			sameNumber := b.cand.Number == a.cand.Number
			resumes := last > 0 && exam.FirstSymbolIndex(b.cand.Options) == last+1
			if !(short && sameNumber) && !resumes {
				continue
			}

			merged, ok := merge(a.cand, b.cand)
			if !ok {
				l.logConflict(a.cand, b.cand, steps)
				continue
			}
			l.commitMerge(a, b, merged, "heuristic", steps)
			break
		}
	}
}

func (l *Linker) commitMerge(a, b *placed, merged exam.QuestionCandidate, strategy string, steps *exam.StepLog) {
	fromChunks := []string{a.cand.SourceChunk, b.cand.SourceChunk}
	a.consumed = true
	b.cand = merged
	l.log.Info("linked split question",
		"question", merged.Number,
		"strategy", strategy,
		"options", len(merged.Options))
	if steps != nil {
		steps.Append("link", exam.StepCompleted, map[string]any{
			"question": merged.Number,
			"strategy": strategy,
			"chunks":   fromChunks,
		})
	}
}

func (l *Linker) logConflict(a, b exam.QuestionCandidate, steps *exam.StepLog) {
	l.log.Warn("linking conflict, keeping both halves",
		"question", a.Number,
		"first_options", len(a.Options),
		"second_options", len(b.Options))
	if steps != nil {
		steps.Append("link", exam.StepFailed, map[string]any{
			"question": a.Number,
			"reason":   "merge would lose options",
		})
	}
}

// nearestPartialStart finds the unconsumed partial-start in the chunk whose
// number is closest to n (at most 1 away). Exact matches win.
func nearestPartialStart(chunk []placed, n int) *placed {
	var best *placed
	bestDiff := 0
	for j := range chunk {
		b := &chunk[j]
		if b.consumed || b.cand.Completeness != exam.PartialStart {
			continue
		}
		diff := abs(b.cand.Number - n)
		if diff > 1 {
			continue
		}
		if best == nil || diff < bestDiff {
			best, bestDiff = b, diff
		}
	}
	return best
}

// merge joins two halves of one question. Reports ok=false when the union
// holds fewer options than the larger half, which means the symbol match
// collapsed distinct options and merging would lose information.
func merge(a, b exam.QuestionCandidate) (exam.QuestionCandidate, bool) {
	out := a.Clone()
	out.Number = a.Number
	if out.Number == 0 {
		out.Number = b.Number
	}

	if b.Passage != "" {
		if out.Passage != "" {
			out.Passage += "\n" + b.Passage
		} else {
			out.Passage = b.Passage
		}
	}
	if b.Text != "" {
		if out.Text != "" {
			out.Text += " " + b.Text
		} else {
			out.Text = b.Text
		}
	}

	out.Options = unionOptions(a.Options, b.Options)
	out.HasTable = a.HasTable || b.HasTable
	out.HasCode = a.HasCode || b.HasCode
	out.HasDiagram = a.HasDiagram || b.HasDiagram
	if out.Special == nil && b.Special != nil {
		sp := *b.Special
		out.Special = &sp
	}
	if b.Confidence > out.Confidence {
		out.Confidence = b.Confidence
	}

	out.Method = exam.MethodBoundaryMerge
	if b.Completeness == exam.PartialEnd {
		// The later half is itself cut off; the chain continues.
		out.Completeness = exam.PartialEnd
	} else {
		out.Completeness = exam.Complete
	}

	if len(out.Options) < len(a.Options) || len(out.Options) < len(b.Options) {
		return exam.QuestionCandidate{}, false
	}
	return out, true
}

// unionOptions appends b's options that bring a new symbol position,
// keeping a's order first. Unrecognizable symbols dedup by exact text.
func unionOptions(a, b []exam.Option) []exam.Option {
	out := make([]exam.Option, len(a))
	copy(out, a)

	seenIdx := make(map[int]bool, len(a))
	seenSym := make(map[string]bool, len(a))
	for _, o := range a {
		if idx := exam.SymbolIndex(o.Symbol); idx > 0 {
			seenIdx[idx] = true
		} else {
			seenSym[o.Symbol+"\x00"+o.Text] = true
		}
	}

	for _, o := range b {
		if idx := exam.SymbolIndex(o.Symbol); idx > 0 {
			if seenIdx[idx] {
				continue
			}
			seenIdx[idx] = true
		} else {
			key := o.Symbol + "\x00" + o.Text
			if seenSym[key] {
				continue
			}
			seenSym[key] = true
		}
		out = append(out, o)
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
