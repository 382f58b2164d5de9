package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/examgest/internal/exam"
	"github.com/dgallion1/examgest/internal/report"
)

func TestContentHashHex_Consistency(t *testing.T) {
	data := []byte("hello world")
	h1 := ContentHashHex(data)
	h2 := ContentHashHex(data)
	if h1 != h2 {
		t.Errorf("expected identical hashes, got %q and %q", h1, h2)
	}
	// SHA-256 of "hello world" is well-known.
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if h1 != want {
		t.Errorf("expected hash %q, got %q", want, h1)
	}
}

func TestContentHashHex_DifferentInputs(t *testing.T) {
	h1 := ContentHashHex([]byte("aaa"))
	h2 := ContentHashHex([]byte("bbb"))
	if h1 == h2 {
		t.Error("expected different hashes for different inputs")
	}
}

func TestNewJobID(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := NewJobID()
		if len(id) != 26 {
			t.Fatalf("expected 26-char ULID, got %q (%d chars)", id, len(id))
		}
		for _, r := range id {
			if !strings.ContainsRune(crockford, r) {
				t.Fatalf("unexpected character %q in ULID %q", r, id)
			}
		}
		if seen[id] {
			t.Fatalf("duplicate ULID %q", id)
		}
		seen[id] = true
	}
}

func TestJob_StateTransitions(t *testing.T) {
	job := &Job{
		ID:        "test-1",
		Status:    StatusQueued,
		Phase:     "queued",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	transitions := []struct {
		status JobStatus
		phase  string
	}{
		{StatusRendering, "rendering"},
		{StatusSegmenting, "segmenting"},
		{StatusAnalyzing, "analyzing"},
		{StatusExtracting, "extracting"},
		{StatusLinking, "linking"},
		{StatusReviewing, "reviewing"},
		{StatusRefining, "refining"},
		{StatusAuditing, "auditing"},
		{StatusCompleted, "done"},
	}

	for _, tr := range transitions {
		before := job.UpdatedAt
		// Small sleep to ensure time difference is detectable.
		time.Sleep(time.Millisecond)
		job.SetStatus(tr.status, tr.phase)

		if job.CurrentStatus() != tr.status {
			t.Errorf("expected status %q, got %q", tr.status, job.Status)
		}
		if job.Phase != tr.phase {
			t.Errorf("expected phase %q, got %q", tr.phase, job.Phase)
		}
		if !job.UpdatedAt.After(before) {
			t.Errorf("expected UpdatedAt to advance after SetStatus(%q)", tr.status)
		}
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	terminal := []JobStatus{StatusCompleted, StatusFailed, StatusPartial}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %q to be terminal", s)
		}
	}
	active := []JobStatus{StatusQueued, StatusRendering, StatusExtracting, StatusAuditing}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("expected %q to be non-terminal", s)
		}
	}
}

func TestJob_AddError(t *testing.T) {
	job := &Job{ID: "err-test", UpdatedAt: time.Now()}
	job.AddError("chunk doc-c3 failed")
	job.AddError("chunk doc-c7 failed")

	snap := job.Snapshot()
	if len(snap.Progress.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(snap.Progress.Errors))
	}
	if snap.Progress.Errors[0] != "chunk doc-c3 failed" {
		t.Errorf("expected first error %q, got %q", "chunk doc-c3 failed", snap.Progress.Errors[0])
	}
}

func TestJob_IncrChunksProcessed(t *testing.T) {
	job := &Job{ID: "incr-test", UpdatedAt: time.Now()}
	job.IncrChunksProcessed()
	job.IncrChunksProcessed()
	job.IncrChunksProcessed()

	snap := job.Snapshot()
	if snap.Progress.ChunksProcessed != 3 {
		t.Errorf("expected 3 chunks processed, got %d", snap.Progress.ChunksProcessed)
	}
}

func TestJob_AddQuestions(t *testing.T) {
	job := &Job{ID: "questions-test", UpdatedAt: time.Now()}
	job.AddQuestions(5, 0)
	job.AddQuestions(3, 7)

	snap := job.Snapshot()
	if snap.Progress.QuestionsFound != 8 {
		t.Errorf("expected 8 questions found, got %d", snap.Progress.QuestionsFound)
	}
	if snap.Progress.QuestionsFinal != 7 {
		t.Errorf("expected 7 final questions, got %d", snap.Progress.QuestionsFinal)
	}
}

func TestJob_SetTotalChunks(t *testing.T) {
	job := &Job{ID: "total-test", UpdatedAt: time.Now()}
	job.SetTotalChunks(42)

	snap := job.Snapshot()
	if snap.Progress.TotalChunks != 42 {
		t.Errorf("expected 42 total chunks, got %d", snap.Progress.TotalChunks)
	}
}

func TestJob_FileData(t *testing.T) {
	job := &Job{ID: "data-test"}
	data := []byte("file content here")
	job.SetFileData(data)
	got := job.FileData()
	if string(got) != string(data) {
		t.Errorf("expected file data %q, got %q", data, got)
	}

	job.SetFileData(nil)
	if job.FileData() != nil {
		t.Error("expected file data to be released")
	}
}

func TestJob_StepLogLazyInit(t *testing.T) {
	job := &Job{ID: "steps-test"}
	steps := job.StepLog()
	if steps == nil {
		t.Fatal("expected step log")
	}
	if job.StepLog() != steps {
		t.Error("expected the same step log on repeat calls")
	}
	steps.Append("render", exam.StepCompleted, map[string]any{"pages": 3})
	if job.StepLog().Len() != 1 {
		t.Errorf("expected 1 step, got %d", job.StepLog().Len())
	}
}

func TestJob_Results(t *testing.T) {
	job := &Job{ID: "results-test"}
	questions := []exam.QuestionCandidate{{Number: 1, Text: "다음 중 옳은 것은?"}}
	rejected := []exam.QuestionCandidate{{Number: 2, Validation: exam.ValidationRejected}}
	rep := &report.Report{JobID: "results-test", Chunks: 4}

	job.SetResults(questions, rejected, rep)

	q, rj, r := job.Results()
	if len(q) != 1 || q[0].Number != 1 {
		t.Errorf("questions = %+v", q)
	}
	if len(rj) != 1 || rj[0].Number != 2 {
		t.Errorf("rejected = %+v", rj)
	}
	if r == nil || r.Chunks != 4 {
		t.Errorf("report = %+v", r)
	}
}

func TestJob_SnapshotErrorsNotNil(t *testing.T) {
	// Snapshot should always return non-nil errors slice.
	job := &Job{ID: "snap-test", UpdatedAt: time.Now()}
	snap := job.Snapshot()
	if snap.Progress.Errors == nil {
		t.Error("expected non-nil errors slice in snapshot")
	}
	if len(snap.Progress.Errors) != 0 {
		t.Errorf("expected empty errors, got %d", len(snap.Progress.Errors))
	}
}

func TestJob_SnapshotCarriesMode(t *testing.T) {
	job := &Job{ID: "mode-test", Mode: exam.ModeContinuous, Filename: "exam.pdf"}
	snap := job.Snapshot()
	if snap.Mode != exam.ModeContinuous {
		t.Errorf("expected mode %q, got %q", exam.ModeContinuous, snap.Mode)
	}
	if snap.Filename != "exam.pdf" {
		t.Errorf("expected filename in snapshot, got %q", snap.Filename)
	}
}

func TestJobStore_PutGet(t *testing.T) {
	store := NewJobStore(time.Hour)
	job := &Job{ID: "store-1", UpdatedAt: time.Now()}
	store.Put(job)

	got := store.Get("store-1")
	if got == nil {
		t.Fatal("expected to get job back")
	}
	if got.ID != "store-1" {
		t.Errorf("expected ID %q, got %q", "store-1", got.ID)
	}
}

func TestJobStore_GetMissing(t *testing.T) {
	store := NewJobStore(time.Hour)
	if store.Get("nonexistent") != nil {
		t.Error("expected nil for missing job")
	}
}

func TestJobStore_TTLCleanup(t *testing.T) {
	store := NewJobStore(50 * time.Millisecond)

	expired := &Job{ID: "old", UpdatedAt: time.Now()}
	store.Put(expired)

	// Wait for the TTL to pass.
	time.Sleep(100 * time.Millisecond)

	// Add a fresh job.
	fresh := &Job{ID: "new", UpdatedAt: time.Now()}
	store.Put(fresh)

	store.Cleanup()

	if store.Get("old") != nil {
		t.Error("expected expired job to be cleaned up")
	}
	if store.Get("new") == nil {
		t.Error("expected fresh job to survive cleanup")
	}
}

func TestJobStore_CleanupEmpty(t *testing.T) {
	store := NewJobStore(time.Hour)
	// Should not panic on empty store.
	store.Cleanup()
}
