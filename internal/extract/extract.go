// Package extract turns chunk images into question candidates through the
// vision service. Chunks are extracted concurrently under a bounded limit;
// a failed chunk yields zero candidates and never disturbs its siblings.
package extract

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/examgest/internal/exam"
	"github.com/dgallion1/examgest/internal/vision"
)

// ChunkResult is one chunk's extraction outcome. Err set means the chunk
// produced nothing; the error is recorded, not propagated.
type ChunkResult struct {
	ChunkID    string
	Index      int
	Candidates []exam.QuestionCandidate
	Method     string
	Attempts   int
	Err        error
}

// Extractor runs per-chunk extraction calls.
type Extractor struct {
	client      vision.Client
	concurrency int
	log         *slog.Logger
}

func NewExtractor(client vision.Client, concurrency int, log *slog.Logger) *Extractor {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{client: client, concurrency: concurrency, log: log}
}

// ExtractAll extracts every chunk with bounded concurrency. Results come
// back indexed by chunk order regardless of completion order. Only context
// cancellation is returned as an error; per-chunk failures live in the
// result slice.
func (e *Extractor) ExtractAll(ctx context.Context, chunks []exam.Chunk, est *exam.StructureEstimate, steps *exam.StepLog) ([]ChunkResult, error) {
	results := make([]ChunkResult, len(chunks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, chunk := range chunks {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				results[i] = ChunkResult{ChunkID: chunk.ID, Index: chunk.Index, Err: ctx.Err()}
				return ctx.Err()
			default:
			}

			res := e.extractChunk(ctx, chunk, est)
			results[i] = res

			if steps != nil {
				status := exam.StepCompleted
				meta := map[string]any{
					"chunk_id":   res.ChunkID,
					"candidates": len(res.Candidates),
					"attempts":   res.Attempts,
				}
				if res.Err != nil {
					status = exam.StepFailed
					meta["error"] = res.Err.Error()
				} else if res.Method != "" {
					meta["method"] = res.Method
				}
				steps.Append("extract", status, meta)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// extractChunk issues one extraction call with the retry policy for
// transient service errors.
func (e *Extractor) extractChunk(ctx context.Context, chunk exam.Chunk, est *exam.StructureEstimate) ChunkResult {
	res := ChunkResult{ChunkID: chunk.ID, Index: chunk.Index}
	prompt := BuildChunkPrompt(chunk, est)

	var text string
	var lastErr error
	for attempt := range vision.MaxRetries {
		res.Attempts = attempt + 1
		text, lastErr = e.client.Generate(ctx, vision.Request{
			Images: [][]byte{chunk.Image},
			MIME:   "image/jpeg",
			Prompt: prompt,
		})
		if lastErr == nil || !vision.IsRetryable(lastErr) {
			break
		}
		e.log.Warn("retryable extraction error", "chunk", chunk.ID, "attempt", attempt, "error", lastErr)
		select {
		case <-time.After(vision.Backoff(attempt)):
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res
		}
	}
	if lastErr != nil {
		res.Err = lastErr
		return res
	}

	cands, method, err := ParseCandidates(text)
	if err != nil {
		res.Err = err
		return res
	}
	res.Method = method
	for i := range cands {
		cands[i].SourceChunk = chunk.ID
		if cands[i].Method == "" {
			cands[i].Method = method
		}
	}
	res.Candidates = cands
	return res
}

// ExtractTarget asks one chunk for one specific question number. Used by
// the quality audit; sequential, single attempt plus the same transient
// retry policy. Returns (nil, nil) when the chunk does not contain the
// question.
func (e *Extractor) ExtractTarget(ctx context.Context, chunk exam.Chunk, number int) (*exam.QuestionCandidate, error) {
	prompt := BuildTargetPrompt(number)

	var text string
	var lastErr error
	for attempt := range vision.MaxRetries {
		text, lastErr = e.client.Generate(ctx, vision.Request{
			Images: [][]byte{chunk.Image},
			MIME:   "image/jpeg",
			Prompt: prompt,
		})
		if lastErr == nil || !vision.IsRetryable(lastErr) {
			break
		}
		e.log.Warn("retryable targeted extraction error", "chunk", chunk.ID, "question", number, "attempt", attempt, "error", lastErr)
		select {
		case <-time.After(vision.Backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}

	cand, err := ParseTarget(text, number)
	if err != nil || cand == nil {
		return cand, err
	}
	cand.SourceChunk = chunk.ID
	cand.Method = exam.MethodReExtract
	return cand, nil
}
