package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/examgest/internal/config"
	"github.com/dgallion1/examgest/internal/exam"
	"github.com/dgallion1/examgest/internal/handoff"
	"github.com/dgallion1/examgest/internal/vision"
)

// Prompt markers that tell the pipeline's call sites apart.
const (
	overviewMarker = "LOW-RESOLUTION scans"
	detailedMarker = "HIGH-RESOLUTION scans"
	extractMarker  = "Extract every question visible"
	targetMarker   = "Find question number"
)

const overviewReply = `{"total_questions": 2, "first_question": 1, "last_question": 2, "options_per_question": 4, "confidence": 0.9, "pages": [{"page": 1, "role": "questions", "first_question": 1, "last_question": 2}]}`

const detailedReply = `{"total_questions": 2, "first_question": 1, "last_question": 2, "options_per_question": 4, "confidence": 0.95, "pages": [{"page": 1, "role": "questions", "first_question": 1, "last_question": 2}], "special_elements": []}`

const extractReply = `[
  {"question_number": 1, "passage": "", "question_text": "다음 중 네트워크 계층에서 동작하는 프로토콜은?", "options": [{"symbol": "①", "text": "IP"}, {"symbol": "②", "text": "TCP"}, {"symbol": "③", "text": "HTTP"}, {"symbol": "④", "text": "FTP"}], "has_table": false, "has_code": false, "has_diagram": false, "completeness": "complete", "confidence": 0.9},
  {"question_number": 2, "passage": "", "question_text": "다음 중 대칭키 암호화 알고리즘은?", "options": [{"symbol": "①", "text": "RSA"}, {"symbol": "②", "text": "AES"}, {"symbol": "③", "text": "ECC"}, {"symbol": "④", "text": "DSA"}], "has_table": false, "has_code": false, "has_diagram": false, "completeness": "complete", "confidence": 0.85}
]`

// fakeVision answers by prompt marker. With failFirstExtract set, the
// first chunk-extraction call returns a non-retryable error.
type fakeVision struct {
	mu               sync.Mutex
	replies          map[string]string
	extractCalls     int
	failFirstExtract bool
}

func newFakeVision() *fakeVision {
	return &fakeVision{
		replies: map[string]string{
			overviewMarker: overviewReply,
			detailedMarker: detailedReply,
			extractMarker:  extractReply,
		},
	}
}

func (f *fakeVision) Generate(ctx context.Context, req vision.Request) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.Contains(req.Prompt, extractMarker) {
		f.extractCalls++
		if f.failFirstExtract && f.extractCalls == 1 {
			return "", fmt.Errorf("model returned malformed output")
		}
	}
	for marker, reply := range f.replies {
		if strings.Contains(req.Prompt, marker) {
			return reply, nil
		}
	}
	return "", fmt.Errorf("no canned reply for prompt %.60q", req.Prompt)
}

func testConfig() config.Config {
	return config.Config{
		RenderScale:          1.0,
		OverviewScale:        0.5,
		RefineScale:          1.5,
		ChunkHeight:          150,
		ChunkOverlap:         50,
		PageSliver:           40,
		JPEGQuality:          80,
		WorkerCount:          1,
		MaxQueueSize:         4,
		MaxConcurrentExtract: 2,
		CountTolerance:       3,
		MinQuestionLen:       5,
		MinOptionLen:         1,
		ComplexChoiceMin:     5,
		SimilarityThreshold:  0.85,
		JobTTL:               time.Hour,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pngDoc encodes a blank page as PNG upload bytes.
func pngDoc(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xFF
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestJob(id string, mode exam.Mode, data []byte) *Job {
	job := &Job{
		ID:        id,
		DocID:     "doc-" + id,
		Status:    StatusQueued,
		Phase:     "queued",
		Filename:  "exam.png",
		Mode:      mode,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	job.SetFileData(data)
	return job
}

func TestWorker_ProcessCompletes(t *testing.T) {
	w := NewWorker(testConfig(), newFakeVision(), nil, discardLogger())
	job := newTestJob("e2e-1", exam.ModePages, pngDoc(t, 200, 300))

	w.Process(context.Background(), job)

	if got := job.CurrentStatus(); got != StatusCompleted {
		t.Fatalf("status = %q, want %q (errors: %v)", got, StatusCompleted, job.Snapshot().Progress.Errors)
	}

	questions, rejected, rep := job.Results()
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
	if questions[0].Number != 1 || questions[1].Number != 2 {
		t.Errorf("question numbers = %d, %d", questions[0].Number, questions[1].Number)
	}
	for _, q := range questions {
		if q.Validation != exam.ValidationAccepted {
			t.Errorf("question %d not accepted: %s", q.Number, q.Validation)
		}
		if len(q.Options) != 4 {
			t.Errorf("question %d has %d options", q.Number, len(q.Options))
		}
	}
	if len(rejected) != 0 {
		t.Errorf("expected no rejected candidates, got %d", len(rejected))
	}

	if rep == nil {
		t.Fatal("expected a report")
	}
	if rep.Chunks != 1 || rep.Candidates != 2 {
		t.Errorf("report chunks=%d candidates=%d, want 1/2", rep.Chunks, rep.Candidates)
	}
	if len(rep.Gaps) != 0 {
		t.Errorf("report gaps = %v", rep.Gaps)
	}

	snap := job.Snapshot()
	if snap.Progress.TotalChunks != 1 || snap.Progress.ChunksProcessed != 1 {
		t.Errorf("chunk progress = %d/%d", snap.Progress.ChunksProcessed, snap.Progress.TotalChunks)
	}
	if snap.Progress.QuestionsFound != 2 || snap.Progress.QuestionsFinal != 2 {
		t.Errorf("question progress = found %d final %d", snap.Progress.QuestionsFound, snap.Progress.QuestionsFinal)
	}
	if snap.ContentHash == "" {
		t.Error("expected content hash to be recorded")
	}
	if job.FileData() != nil {
		t.Error("expected upload bytes to be released after rendering")
	}

	stages := make(map[string]bool)
	for _, s := range job.StepLog().Steps() {
		stages[s.Stage] = true
	}
	for _, want := range []string{"render", "segment", "analyze", "extract", "validate", "audit"} {
		if !stages[want] {
			t.Errorf("step log missing stage %q", want)
		}
	}
}

func TestWorker_ProcessDeliversHandoff(t *testing.T) {
	var (
		mu       sync.Mutex
		received *handoff.Delivery
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var d handoff.Delivery
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			t.Errorf("decode delivery: %v", err)
		}
		mu.Lock()
		received = &d
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	ho := handoff.NewClient(srv.URL, "tok")
	defer ho.Close()

	w := NewWorker(testConfig(), newFakeVision(), ho, discardLogger())
	job := newTestJob("e2e-handoff", exam.ModePages, pngDoc(t, 200, 300))

	w.Process(context.Background(), job)

	mu.Lock()
	defer mu.Unlock()
	if received == nil {
		t.Fatal("expected a delivery")
	}
	if received.JobID != job.ID || received.Status != string(StatusCompleted) {
		t.Errorf("delivery job=%q status=%q", received.JobID, received.Status)
	}
	if len(received.Questions) != 2 {
		t.Errorf("delivered %d questions, want 2", len(received.Questions))
	}
	if len(received.Steps) == 0 {
		t.Error("expected the step log in the delivery")
	}
	if received.Report == nil {
		t.Error("expected the report in the delivery")
	}
}

func TestWorker_ProcessFailsOnBadInput(t *testing.T) {
	w := NewWorker(testConfig(), newFakeVision(), nil, discardLogger())
	job := newTestJob("e2e-bad", exam.ModePages, []byte("this is not an image"))

	w.Process(context.Background(), job)

	if got := job.CurrentStatus(); got != StatusFailed {
		t.Fatalf("status = %q, want %q", got, StatusFailed)
	}
	if job.Phase != "rendering" {
		t.Errorf("phase = %q, want rendering", job.Phase)
	}
	snap := job.Snapshot()
	if len(snap.Progress.Errors) == 0 {
		t.Error("expected a recorded error")
	}
	questions, _, rep := job.Results()
	if questions != nil {
		t.Errorf("expected no questions, got %d", len(questions))
	}
	if rep == nil {
		t.Error("expected a report even for a failed run")
	}
}

func TestWorker_PartialOnChunkFailure(t *testing.T) {
	fake := newFakeVision()
	fake.failFirstExtract = true

	w := NewWorker(testConfig(), fake, nil, discardLogger())
	// 300px tall at chunk height 150 / overlap 50 cuts three windows.
	job := newTestJob("e2e-partial", exam.ModeContinuous, pngDoc(t, 200, 300))

	w.Process(context.Background(), job)

	if got := job.CurrentStatus(); got != StatusPartial {
		t.Fatalf("status = %q, want %q (errors: %v)", got, StatusPartial, job.Snapshot().Progress.Errors)
	}

	// The two surviving chunks see the same content; duplicates collapse.
	questions, _, rep := job.Results()
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions after dedup, got %d", len(questions))
	}
	snap := job.Snapshot()
	if snap.Progress.TotalChunks != 3 || snap.Progress.ChunksProcessed != 3 {
		t.Errorf("chunk progress = %d/%d, want 3/3", snap.Progress.ChunksProcessed, snap.Progress.TotalChunks)
	}
	found := false
	for _, e := range snap.Progress.Errors {
		if strings.Contains(e, "chunk") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a chunk error in %v", snap.Progress.Errors)
	}
	if rep.Deduped == 0 {
		t.Error("expected dedup discards in the report")
	}
}

func TestWorker_ProcessCancelledContext(t *testing.T) {
	w := NewWorker(testConfig(), newFakeVision(), nil, discardLogger())
	job := newTestJob("e2e-cancel", exam.ModePages, pngDoc(t, 200, 300))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Process(ctx, job)

	if got := job.CurrentStatus(); got != StatusFailed {
		t.Fatalf("status = %q, want %q", got, StatusFailed)
	}
}

func TestOrchestrator_SubmitAndProcess(t *testing.T) {
	o := NewOrchestrator(testConfig(), newFakeVision(), nil, discardLogger())
	o.Start(context.Background())
	defer o.Stop()

	job := newTestJob("orch-1", exam.ModePages, pngDoc(t, 200, 300))
	if err := o.Submit(job); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.After(10 * time.Second)
	for !job.CurrentStatus().Terminal() {
		select {
		case <-deadline:
			t.Fatalf("job did not finish, status %q", job.CurrentStatus())
		case <-time.After(10 * time.Millisecond):
		}
	}

	if got := job.CurrentStatus(); got != StatusCompleted {
		t.Fatalf("status = %q, want %q", got, StatusCompleted)
	}
	if o.GetJob(job.ID) != job {
		t.Error("expected to find the job in the store")
	}
}

func TestOrchestrator_QueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueueSize = 1

	// Not started: nothing drains the queue.
	o := NewOrchestrator(cfg, newFakeVision(), nil, discardLogger())

	first := newTestJob("q-1", exam.ModePages, nil)
	if err := o.Submit(first); err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	second := newTestJob("q-2", exam.ModePages, nil)
	if err := o.Submit(second); err == nil {
		t.Fatal("expected queue-full error")
	}
	if got := second.CurrentStatus(); got != StatusFailed {
		t.Errorf("status = %q, want %q", got, StatusFailed)
	}
	if second.Phase != "queue_full" {
		t.Errorf("phase = %q, want queue_full", second.Phase)
	}
}
