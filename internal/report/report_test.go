package report

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/examgest/internal/exam"
)

func step(stage string, status exam.StepStatus, meta map[string]any, at time.Time) exam.ProcessingStep {
	return exam.ProcessingStep{Stage: stage, Status: status, Metadata: meta, Timestamp: at}
}

func TestBuild_AggregatesFullRun(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	at := func(ms int) time.Time { return base.Add(time.Duration(ms) * time.Millisecond) }

	steps := []exam.ProcessingStep{
		step("render", exam.StepCompleted, map[string]any{"pages": 4}, at(0)),
		step("segment", exam.StepCompleted, map[string]any{"chunks": 3}, at(10)),
		step("analyze", exam.StepCompleted, map[string]any{"expected_total": 5}, at(20)),
		step("extract", exam.StepCompleted, map[string]any{"candidates": 2}, at(30)),
		// Metadata that round-tripped through JSON carries float64 numbers.
		step("extract", exam.StepCompleted, map[string]any{"candidates": float64(2)}, at(50)),
		step("extract", exam.StepFailed, map[string]any{"error": "vision call failed"}, at(70)),
		step("link", exam.StepCompleted, map[string]any{"question": 3}, at(80)),
		step("validate", exam.StepCompleted, map[string]any{"accepted": 3, "rejected": 1}, at(90)),
		step("dedupe", exam.StepCompleted, map[string]any{"question": 2}, at(95)),
		step("refine", exam.StepCompleted, map[string]any{"question": 2, "category": "table"}, at(100)),
		step("refine", exam.StepFailed, map[string]any{"question": 3, "category": "code"}, at(105)),
		step("audit", exam.StepCompleted, map[string]any{"action": "reextract", "question": 5, "chunk": "doc-c2", "outcome": "recovered"}, at(110)),
		step("audit", exam.StepFailed, map[string]any{"action": "reextract", "question": 4, "chunk": "doc-c1", "outcome": "not_found"}, at(112)),
		step("audit", exam.StepFailed, map[string]any{"action": "reextract", "question": 6, "outcome": "no_chunk"}, at(114)),
		step("audit", exam.StepCompleted, map[string]any{"action": "similarity_dedup", "kept": 2, "dropped": 9, "similarity": 0.91}, at(116)),
		step("audit", exam.StepCompleted, map[string]any{"action": "reconcile_estimate", "expected_total": 5, "revised_total": 6, "observed_max": 6}, at(118)),
		step("audit", exam.StepCompleted, map[string]any{"expected": 5, "found": 4}, at(120)),
	}

	r := Build("job-1", steps)

	if r.JobID != "job-1" {
		t.Fatalf("JobID = %q", r.JobID)
	}
	if r.Chunks != 3 {
		t.Errorf("Chunks = %d, want 3", r.Chunks)
	}
	if r.Candidates != 4 {
		t.Errorf("Candidates = %d, want 4", r.Candidates)
	}
	if r.Linked != 1 {
		t.Errorf("Linked = %d, want 1", r.Linked)
	}
	if r.Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", r.Rejected)
	}
	if r.Deduped != 2 {
		t.Errorf("Deduped = %d, want 2", r.Deduped)
	}
	if r.Refined != 1 {
		t.Errorf("Refined = %d, want 1", r.Refined)
	}
	if r.Recovered != 1 {
		t.Errorf("Recovered = %d, want 1", r.Recovered)
	}
	if !slices.Equal(r.Gaps, []int{4, 6}) {
		t.Errorf("Gaps = %v, want [4 6]", r.Gaps)
	}
	if !r.Revised {
		t.Error("Revised = false, want true")
	}
	if !strings.Contains(r.RevisionNote, "revised to 6") {
		t.Errorf("RevisionNote = %q", r.RevisionNote)
	}
}

func TestBuild_StageSummaries(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	at := func(ms int) time.Time { return base.Add(time.Duration(ms) * time.Millisecond) }

	steps := []exam.ProcessingStep{
		step("render", exam.StepCompleted, nil, at(0)),
		step("extract", exam.StepCompleted, map[string]any{"candidates": 1}, at(10)),
		step("extract", exam.StepFailed, nil, at(25)),
		step("extract", exam.StepCompleted, map[string]any{"candidates": 2}, at(50)),
		step("audit", exam.StepCompleted, map[string]any{"expected": 3, "found": 3}, at(60)),
	}

	r := Build("job-2", steps)

	wantStages := []string{"render", "extract", "audit"}
	var gotStages []string
	for _, s := range r.Stages {
		gotStages = append(gotStages, s.Stage)
	}
	if !slices.Equal(gotStages, wantStages) {
		t.Fatalf("stage order = %v, want %v", gotStages, wantStages)
	}

	ex := r.Stages[1]
	if ex.Steps != 3 || ex.Failed != 1 {
		t.Errorf("extract summary = %d steps %d failed, want 3/1", ex.Steps, ex.Failed)
	}
	if ex.SpanMS != 40 {
		t.Errorf("extract span = %dms, want 40", ex.SpanMS)
	}
	if r.Stages[0].SpanMS != 0 {
		t.Errorf("single-step stage span = %dms, want 0", r.Stages[0].SpanMS)
	}
}

func TestBuild_EmptyLog(t *testing.T) {
	r := Build("job-3", nil)
	if len(r.Stages) != 0 || r.Chunks != 0 || len(r.Gaps) != 0 {
		t.Fatalf("empty log produced %+v", r)
	}
	if r.Revised {
		t.Error("Revised = true on empty log")
	}
}

func TestBuild_NoGapsWhenAllRecovered(t *testing.T) {
	now := time.Now()
	steps := []exam.ProcessingStep{
		step("audit", exam.StepCompleted, map[string]any{"action": "reextract", "question": 7, "chunk": "doc-c0", "outcome": "recovered"}, now),
	}
	r := Build("job-4", steps)
	if len(r.Gaps) != 0 {
		t.Fatalf("Gaps = %v, want none", r.Gaps)
	}
	if r.Recovered != 1 {
		t.Fatalf("Recovered = %d, want 1", r.Recovered)
	}
}
