// Package report builds the post-run summary from the processing-step
// log. Pure aggregation by a single writer after the run; nothing here
// mutates the log.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/dgallion1/examgest/internal/exam"
)

// StageSummary aggregates all steps recorded under one stage name.
type StageSummary struct {
	Stage  string `json:"stage"`
	Steps  int    `json:"steps"`
	Failed int    `json:"failed"`
	// SpanMS is the time between the stage's first and last step; for
	// fan-out stages this is the width of the concurrent window.
	SpanMS int64 `json:"span_ms"`
}

// Report is returned with the results and logged at completion.
type Report struct {
	JobID        string         `json:"job_id"`
	Stages       []StageSummary `json:"stages"`
	Chunks       int            `json:"chunks"`
	Candidates   int            `json:"candidates"`
	Linked       int            `json:"linked"`
	Rejected     int            `json:"rejected"`
	Deduped      int            `json:"deduped"`
	Refined      int            `json:"refined"`
	Recovered    int            `json:"recovered"`
	Gaps         []int          `json:"gaps,omitempty"` // question numbers that stayed missing
	Revised      bool           `json:"estimate_revised"`
	RevisionNote string         `json:"revision_note,omitempty"`
}

// Build aggregates the chronological step log into a report. Stages appear
// in first-seen order.
func Build(jobID string, steps []exam.ProcessingStep) *Report {
	r := &Report{JobID: jobID}

	type span struct {
		first, last   time.Time
		count, failed int
	}
	spans := make(map[string]*span)
	var order []string
	gaps := make(map[int]bool)

	for _, s := range steps {
		sp, ok := spans[s.Stage]
		if !ok {
			sp = &span{first: s.Timestamp}
			spans[s.Stage] = sp
			order = append(order, s.Stage)
		}
		sp.last = s.Timestamp
		sp.count++
		if s.Status == exam.StepFailed {
			sp.failed++
		}

		switch s.Stage {
		case "extract":
			r.Chunks++
			r.Candidates += metaInt(s.Metadata, "candidates")
		case "link":
			if s.Status == exam.StepCompleted {
				r.Linked++
			}
		case "validate":
			r.Rejected += metaInt(s.Metadata, "rejected")
		case "dedupe":
			r.Deduped++
		case "refine":
			if s.Status == exam.StepCompleted {
				r.Refined++
			}
		case "audit":
			switch s.Metadata["action"] {
			case "reextract":
				if s.Metadata["outcome"] == "recovered" {
					r.Recovered++
				} else {
					gaps[metaInt(s.Metadata, "question")] = true
				}
			case "similarity_dedup":
				r.Deduped++
			case "reconcile_estimate":
				r.Revised = true
				r.RevisionNote = fmt.Sprintf("expected %d questions, revised to %d (observed max %d)",
					metaInt(s.Metadata, "expected_total"),
					metaInt(s.Metadata, "revised_total"),
					metaInt(s.Metadata, "observed_max"))
			}
		}
	}

	for _, stage := range order {
		sp := spans[stage]
		r.Stages = append(r.Stages, StageSummary{
			Stage:  stage,
			Steps:  sp.count,
			Failed: sp.failed,
			SpanMS: sp.last.Sub(sp.first).Milliseconds(),
		})
	}

	for n := range gaps {
		r.Gaps = append(r.Gaps, n)
	}
	sort.Ints(r.Gaps)
	return r
}

// metaInt reads a numeric metadata value. Steps built in-process store
// ints; steps that round-tripped through JSON store float64.
func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
