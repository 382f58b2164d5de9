package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/dgallion1/examgest/internal/exam"
	"github.com/dgallion1/examgest/internal/vision"
)

// routedClient answers by chunk image content, so concurrent extraction
// stays deterministic.
type routedClient struct {
	mu      sync.Mutex
	routes  map[string]string
	errs    map[string]error
	retryOn map[string]int // remaining failures before success
	calls   int
}

func (c *routedClient) Generate(_ context.Context, req vision.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	key := string(req.Images[0])
	if n, ok := c.retryOn[key]; ok && n > 0 {
		c.retryOn[key] = n - 1
		return "", &vision.RetryableError{Message: "rate limited"}
	}
	if err, ok := c.errs[key]; ok {
		return "", err
	}
	return c.routes[key], nil
}

func testChunks(n int) []exam.Chunk {
	chunks := make([]exam.Chunk, n)
	for i := range chunks {
		chunks[i] = exam.Chunk{
			ID:        fmt.Sprintf("doc-c%d", i),
			Index:     i,
			PageStart: i + 1,
			PageEnd:   i + 1,
			Image:     []byte(fmt.Sprintf("img-%d", i)),
		}
	}
	return chunks
}

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func candResp(number int) string {
	return fmt.Sprintf(`[{"question_number": %d, "question_text": "question %d text",
"options": [{"symbol": "①", "text": "a"}, {"symbol": "②", "text": "b"}], "confidence": 0.8}]`, number, number)
}

func TestExtractAll_IndexedResults(t *testing.T) {
	client := &routedClient{routes: map[string]string{
		"img-0": candResp(1),
		"img-1": candResp(2),
		"img-2": candResp(3),
	}}
	e := NewExtractor(client, 3, quietLog())

	results, err := e.ExtractAll(context.Background(), testChunks(3), nil, nil)
	if err != nil {
		t.Fatalf("ExtractAll() error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		if r.Index != i {
			t.Errorf("result %d has index %d", i, r.Index)
		}
		if r.Err != nil {
			t.Errorf("result %d error: %v", i, r.Err)
		}
		if len(r.Candidates) != 1 || r.Candidates[0].Number != i+1 {
			t.Errorf("result %d candidates = %+v", i, r.Candidates)
		}
		if r.Candidates[0].SourceChunk != fmt.Sprintf("doc-c%d", i) {
			t.Errorf("result %d source chunk = %q", i, r.Candidates[0].SourceChunk)
		}
		if r.Candidates[0].Method != exam.MethodVisionJSON {
			t.Errorf("result %d method = %q", i, r.Candidates[0].Method)
		}
	}
}

func TestExtractAll_FailureIsolated(t *testing.T) {
	client := &routedClient{
		routes: map[string]string{
			"img-0": candResp(1),
			"img-2": candResp(3),
		},
		errs: map[string]error{"img-1": errors.New("model exploded")},
	}
	e := NewExtractor(client, 2, quietLog())
	steps := exam.NewStepLog()

	results, err := e.ExtractAll(context.Background(), testChunks(3), nil, steps)
	if err != nil {
		t.Fatalf("ExtractAll() error: %v", err)
	}
	if results[1].Err == nil {
		t.Error("chunk 1 error lost")
	}
	if len(results[1].Candidates) != 0 {
		t.Error("failed chunk produced candidates")
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Error("sibling chunks affected by one failure")
	}

	// One step per chunk; the failed chunk is marked failed.
	recorded := steps.Steps()
	if len(recorded) != 3 {
		t.Fatalf("got %d steps, want 3", len(recorded))
	}
	failed := 0
	for _, s := range recorded {
		if s.Stage != "extract" {
			t.Errorf("stage = %q", s.Stage)
		}
		if s.Status == exam.StepFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed steps = %d, want 1", failed)
	}
}

func TestExtractAll_RetriesTransientErrors(t *testing.T) {
	client := &routedClient{
		routes:  map[string]string{"img-0": candResp(1)},
		retryOn: map[string]int{"img-0": 1},
	}
	e := NewExtractor(client, 1, quietLog())

	results, err := e.ExtractAll(context.Background(), testChunks(1), nil, nil)
	if err != nil {
		t.Fatalf("ExtractAll() error: %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("result error: %v", results[0].Err)
	}
	if results[0].Attempts != 2 {
		t.Errorf("attempts = %d, want 2", results[0].Attempts)
	}
}

func TestExtractAll_UnparsableYieldsError(t *testing.T) {
	client := &routedClient{routes: map[string]string{"img-0": "nothing useful here"}}
	e := NewExtractor(client, 1, quietLog())

	results, err := e.ExtractAll(context.Background(), testChunks(1), nil, nil)
	if err != nil {
		t.Fatalf("ExtractAll() error: %v", err)
	}
	if results[0].Err == nil {
		t.Error("expected parse error recorded on result")
	}
}

func TestExtractTarget(t *testing.T) {
	chunk := testChunks(1)[0]
	client := &routedClient{routes: map[string]string{
		"img-0": `{"question_number": 9, "question_text": "recovered question",
"options": [{"symbol": "①", "text": "a"}, {"symbol": "②", "text": "b"}], "confidence": 0.6}`,
	}}
	e := NewExtractor(client, 1, quietLog())

	cand, err := e.ExtractTarget(context.Background(), chunk, 9)
	if err != nil {
		t.Fatalf("ExtractTarget() error: %v", err)
	}
	if cand == nil || cand.Number != 9 {
		t.Fatalf("candidate = %+v", cand)
	}
	if cand.Method != exam.MethodReExtract {
		t.Errorf("method = %q, want %q", cand.Method, exam.MethodReExtract)
	}
	if cand.SourceChunk != chunk.ID {
		t.Errorf("source chunk = %q", cand.SourceChunk)
	}
}

func TestExtractTarget_NotFound(t *testing.T) {
	chunk := testChunks(1)[0]
	client := &routedClient{routes: map[string]string{"img-0": "NOT FOUND"}}
	e := NewExtractor(client, 1, quietLog())

	cand, err := e.ExtractTarget(context.Background(), chunk, 9)
	if err != nil || cand != nil {
		t.Errorf("got %+v, %v; want nil, nil", cand, err)
	}
}

func TestBuildChunkPrompt_IncludesExpectations(t *testing.T) {
	chunk := exam.Chunk{PageStart: 2, PageEnd: 3, HeadOverlap: 50}
	est := &exam.StructureEstimate{
		OptionCount: 4,
		Pages: []exam.PagePlan{
			{Page: 2, Role: exam.RoleQuestions, FirstQuestion: 5, LastQuestion: 9},
			{Page: 3, Role: exam.RoleQuestions, FirstQuestion: 10, LastQuestion: 14},
		},
		Specials: []exam.SpecialElement{{Kind: exam.SpecialTable, Page: 3, Question: 12}},
	}

	prompt := BuildChunkPrompt(chunk, est)
	for _, want := range []string{
		"pages 2 to 3",
		"Questions 5 through 14",
		"typically have 4 options",
		"table is expected near question 12",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildChunkPrompt_NilEstimate(t *testing.T) {
	chunk := exam.Chunk{PageStart: 1, PageEnd: 1}
	prompt := BuildChunkPrompt(chunk, nil)
	if !strings.Contains(prompt, "page 1") {
		t.Error("prompt missing page reference")
	}
}
