package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgallion1/examgest/internal/audit"
	"github.com/dgallion1/examgest/internal/config"
	"github.com/dgallion1/examgest/internal/exam"
	"github.com/dgallion1/examgest/internal/extract"
	"github.com/dgallion1/examgest/internal/handoff"
	"github.com/dgallion1/examgest/internal/link"
	"github.com/dgallion1/examgest/internal/refine"
	"github.com/dgallion1/examgest/internal/render"
	"github.com/dgallion1/examgest/internal/report"
	"github.com/dgallion1/examgest/internal/review"
	"github.com/dgallion1/examgest/internal/segment"
	"github.com/dgallion1/examgest/internal/structure"
	"github.com/dgallion1/examgest/internal/vision"
)

// Worker processes a single extraction job end to end.
type Worker struct {
	client  vision.Client
	handoff *handoff.Client
	log     *slog.Logger
	cfg     config.Config

	extractor *extract.Extractor
	linker    *link.Linker
	reviewer  *review.Reviewer
	refiner   *refine.Refiner
	auditor   *audit.Auditor
}

func NewWorker(cfg config.Config, client vision.Client, ho *handoff.Client, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	extractor := extract.NewExtractor(client, cfg.MaxConcurrentExtract, log)
	reviewer := review.NewReviewer(review.Config{
		MinQuestionLen: cfg.MinQuestionLen,
		MinOptionLen:   cfg.MinOptionLen,
	}, log)
	return &Worker{
		client:    client,
		handoff:   ho,
		log:       log,
		cfg:       cfg,
		extractor: extractor,
		linker:    link.NewLinker(log),
		reviewer:  reviewer,
		refiner: refine.NewRefiner(client, refine.Config{
			Scale:            cfg.RefineScale,
			ComplexChoiceMin: cfg.ComplexChoiceMin,
			JPEGQuality:      cfg.JPEGQuality,
			Concurrency:      cfg.MaxConcurrentExtract,
		}, log),
		auditor: audit.NewAuditor(extractor, reviewer, audit.Config{
			SimilarityThreshold: cfg.SimilarityThreshold,
		}, log),
	}
}

// Process runs the full extraction pipeline for a job. A run fails outright
// only when nothing renders or nothing extracts; stage-level trouble
// degrades the job to partial instead.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "doc_id", job.DocID)
	steps := job.StepLog()
	hadErrors := false

	// Phase 1: Render
	job.SetStatus(StatusRendering, "rendering")
	data := job.FileData()
	job.SetContentHash(ContentHashHex(data))

	res, err := render.Render(data, job.DocID, render.Config{Scale: w.cfg.RenderScale})
	if err != nil {
		log.Error("render failed", "error", err)
		job.AddError(fmt.Sprintf("render: %s", err))
		steps.Append("render", exam.StepFailed, map[string]any{"error": err.Error()})
		w.fail(ctx, job, "rendering", log)
		return
	}
	steps.Append("render", exam.StepCompleted, map[string]any{
		"pages":   len(res.Pages),
		"skipped": len(res.Skipped),
		"scale":   res.Doc.Scale,
	})
	for _, sk := range res.Skipped {
		log.Warn("page skipped", "page", sk.Number, "reason", sk.Reason)
		job.AddError(fmt.Sprintf("page %d skipped: %s", sk.Number, sk.Reason))
		hadErrors = true
	}
	log.Info("rendered document", "pages", len(res.Pages), "skipped", len(res.Skipped))

	// The text-layer probe reads the raw upload; after it only page images
	// are needed, so release the bytes.
	probe := structure.Probe(data)
	job.SetFileData(nil)

	// Phase 2: Segment
	job.SetStatus(StatusSegmenting, "segmenting")
	st, err := render.Stitch(res.Pages)
	if err != nil {
		log.Error("stitch failed", "error", err)
		job.AddError(fmt.Sprintf("segment: %s", err))
		steps.Append("segment", exam.StepFailed, map[string]any{"error": err.Error()})
		w.fail(ctx, job, "segmenting", log)
		return
	}
	chunks, err := segment.Segment(st, job.DocID, job.Mode, segment.Config{
		ChunkHeight: w.cfg.ChunkHeight,
		Overlap:     w.cfg.ChunkOverlap,
		PageSliver:  w.cfg.PageSliver,
		JPEGQuality: w.cfg.JPEGQuality,
	})
	if err != nil {
		log.Error("segmentation failed", "error", err)
		job.AddError(fmt.Sprintf("segment: %s", err))
		steps.Append("segment", exam.StepFailed, map[string]any{"error": err.Error()})
		w.fail(ctx, job, "segmenting", log)
		return
	}
	job.SetTotalChunks(len(chunks))
	steps.Append("segment", exam.StepCompleted, map[string]any{
		"chunks": len(chunks),
		"mode":   string(job.Mode),
	})
	log.Info("segmented document", "chunks", len(chunks), "mode", job.Mode)

	// Phase 3: Analyze structure. The analyzer is one-shot, so each run
	// gets a fresh one. Failure degrades the run; extraction can proceed
	// without count targets.
	job.SetStatus(StatusAnalyzing, "analyzing")
	analyzer := structure.NewAnalyzer(w.client, structure.Config{
		OverviewScale: w.cfg.OverviewScale,
		Tolerance:     w.cfg.CountTolerance,
		JPEGQuality:   w.cfg.JPEGQuality,
	}, w.log)
	est, err := analyzer.Analyze(ctx, res.Pages, probe)
	if err != nil {
		log.Error("structure analysis failed", "error", err)
		job.AddError(fmt.Sprintf("analyze: %s", err))
		steps.Append("analyze", exam.StepFailed, map[string]any{"error": err.Error()})
		hadErrors = true
	} else {
		steps.Append("analyze", exam.StepCompleted, map[string]any{
			"expected_total": est.ExpectedTotal,
			"first_question": est.FirstQuestion,
			"last_question":  est.LastQuestion,
			"confidence":     est.Confidence,
			"specials":       len(est.Specials),
		})
		log.Info("structure estimated",
			"expected_total", est.ExpectedTotal,
			"first", est.FirstQuestion,
			"last", est.LastQuestion,
			"confidence", est.Confidence)
	}

	// Phase 4: Extract content from chunks with bounded concurrency.
	job.SetStatus(StatusExtracting, "extracting")
	results, err := w.extractor.ExtractAll(ctx, chunks, est, steps)
	if err != nil {
		// Only cancellation escapes the fan-out.
		log.Error("extraction aborted", "error", err)
		job.AddError(fmt.Sprintf("extract: %s", err))
		w.fail(ctx, job, "extracting", log)
		return
	}

	perChunk := make([][]exam.QuestionCandidate, len(chunks))
	found := 0
	for _, r := range results {
		job.IncrChunksProcessed()
		if r.Err != nil {
			log.Error("chunk extraction failed", "chunk", r.ChunkID, "error", r.Err)
			job.AddError(fmt.Sprintf("chunk %s: %s", r.ChunkID, r.Err))
			hadErrors = true
			continue
		}
		if r.Index >= 0 && r.Index < len(perChunk) {
			perChunk[r.Index] = r.Candidates
		}
		found += len(r.Candidates)
	}
	job.AddQuestions(found, 0)
	log.Info("extraction complete", "candidates", found, "errors", hadErrors)

	if found == 0 {
		job.AddError("no questions extracted from any chunk")
		w.fail(ctx, job, "extracting", log)
		return
	}

	// Phase 5: Link boundary fragments.
	job.SetStatus(StatusLinking, "linking")
	linked := w.linker.Link(perChunk, est, steps)
	log.Info("boundary linking complete", "candidates", len(linked))

	// Phase 6: Validate and deduplicate.
	job.SetStatus(StatusReviewing, "reviewing")
	reviewed := w.reviewer.Validate(linked, steps)
	reviewed = w.reviewer.Deduplicate(reviewed, steps)

	// Phase 7: Refine special-content questions.
	job.SetStatus(StatusRefining, "refining")
	refined, err := w.refiner.RefineAll(ctx, reviewed, chunks, steps)
	if err != nil {
		log.Error("refinement aborted", "error", err)
		job.AddError(fmt.Sprintf("refine: %s", err))
		w.fail(ctx, job, "refining", log)
		return
	}

	// Phase 8: Quality audit.
	job.SetStatus(StatusAuditing, "auditing")
	audited := w.auditor.Audit(ctx, refined, est, chunks, steps)

	rep := report.Build(job.ID, steps.Steps())
	job.AddQuestions(0, len(audited.Questions))
	job.SetResults(audited.Questions, audited.Rejected, rep)

	status := StatusCompleted
	if hadErrors || len(rep.Gaps) > 0 {
		status = StatusPartial
	}
	job.SetStatus(status, "done")
	log.Info("extraction finished",
		"status", status,
		"questions", len(audited.Questions),
		"recovered", audited.Recovered,
		"dropped", audited.Dropped,
		"gaps", len(rep.Gaps),
		"revised", audited.Revised)

	w.deliver(ctx, job, rep, log)
}

// fail stamps the terminal failed state. The report and hand-off still
// run so the collaborator endpoint sees failed runs too.
func (w *Worker) fail(ctx context.Context, job *Job, phase string, log *slog.Logger) {
	rep := report.Build(job.ID, job.StepLog().Steps())
	job.SetResults(nil, nil, rep)
	job.SetStatus(StatusFailed, phase)
	w.deliver(ctx, job, rep, log)
}

// deliver hands the finished run off when an endpoint is configured.
// Delivery failures are logged, never propagated.
func (w *Worker) deliver(ctx context.Context, job *Job, rep *report.Report, log *slog.Logger) {
	if w.handoff == nil {
		return
	}
	questions, _, _ := job.Results()
	err := w.handoff.Deliver(ctx, handoff.Delivery{
		JobID:     job.ID,
		DocID:     job.DocID,
		Status:    string(job.CurrentStatus()),
		Questions: questions,
		Steps:     job.StepLog().Steps(),
		Report:    rep,
	})
	if err != nil {
		log.Warn("handoff delivery failed", "error", err)
		return
	}
	log.Info("results delivered", "questions", len(questions))
}
