// Package structure runs the two-pass layout analysis that tells the rest
// of the pipeline how many questions to expect and where. A cheap
// low-resolution pass over every page estimates totals and page roles; a
// high-resolution pass over the question pages confirms the numbers and
// locates special elements. Inference failures degrade to a low-confidence
// estimate instead of failing the run.
package structure

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgallion1/examgest/internal/exam"
	"github.com/dgallion1/examgest/internal/render"
	"github.com/dgallion1/examgest/internal/vision"
)

// State of the analyzer. Transitions are strictly ordered; an analyzer is
// one-shot per pipeline run.
type State string

const (
	StateNotStarted   State = "not_started"
	StateOverviewDone State = "overview_done"
	StateDetailedDone State = "detailed_done"
	StateFinalized    State = "finalized"
)

var transitions = map[State]State{
	StateNotStarted:   StateOverviewDone,
	StateOverviewDone: StateDetailedDone,
	StateDetailedDone: StateFinalized,
}

// Config controls the analysis passes.
type Config struct {
	OverviewScale float64 // downscale factor for the overview pass, < 1
	Tolerance     int     // allowed disagreement between pass totals
	JPEGQuality   int
}

// Analyzer produces one StructureEstimate per run.
type Analyzer struct {
	client vision.Client
	cfg    Config
	log    *slog.Logger
	state  State
}

func NewAnalyzer(client vision.Client, cfg Config, log *slog.Logger) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{client: client, cfg: cfg, log: log, state: StateNotStarted}
}

// State reports the current analysis state.
func (a *Analyzer) State() State {
	return a.state
}

func (a *Analyzer) transition(to State) error {
	if transitions[a.state] != to {
		return fmt.Errorf("invalid structure transition %s -> %s", a.state, to)
	}
	a.state = to
	return nil
}

// finalize walks the remaining transitions after a degraded pass.
func (a *Analyzer) finalize() {
	for a.state != StateFinalized {
		a.state = transitions[a.state]
	}
}

// Analyze runs both passes over the rendered pages. The returned estimate
// is read-only for every later stage except the quality audit's single
// permitted revision. A failed pass degrades the estimate; it does not
// fail the run.
func (a *Analyzer) Analyze(ctx context.Context, pages []render.Page, probe *ProbeResult) (*exam.StructureEstimate, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages to analyze")
	}
	if a.state != StateNotStarted {
		return nil, fmt.Errorf("analyzer already ran (state %s)", a.state)
	}
	if probe == nil {
		probe = &ProbeResult{}
	}

	ov, err := a.overview(ctx, pages, probe)
	if err != nil {
		a.log.Warn("overview pass failed, using fallback estimate", "error", err)
		est := fallbackEstimate(pages, probe)
		a.finalize()
		return est, nil
	}
	if err := a.transition(StateOverviewDone); err != nil {
		return nil, err
	}

	det, detPages, err := a.detailed(ctx, pages, ov)
	if err != nil {
		a.log.Warn("detailed pass failed, keeping overview estimate", "error", err)
		est := a.reconcile(ov, nil, nil, pages, probe)
		a.finalize()
		return est, nil
	}
	if err := a.transition(StateDetailedDone); err != nil {
		return nil, err
	}

	est := a.reconcile(ov, det, detPages, pages, probe)
	if err := a.transition(StateFinalized); err != nil {
		return nil, err
	}
	return est, nil
}

// overview sends every page, downscaled, in one call.
func (a *Analyzer) overview(ctx context.Context, pages []render.Page, probe *ProbeResult) (*passResult, error) {
	images := make([][]byte, 0, len(pages))
	for _, p := range pages {
		small := render.ScaleImage(p.Img, a.cfg.OverviewScale)
		data, err := render.EncodeJPEG(small, a.cfg.JPEGQuality)
		if err != nil {
			return nil, fmt.Errorf("encode overview page %d: %w", p.Number, err)
		}
		images = append(images, data)
	}

	resp, err := a.client.Generate(ctx, vision.Request{
		Images: images,
		MIME:   "image/jpeg",
		Prompt: buildOverviewPrompt(len(pages), probe.Hints),
	})
	if err != nil {
		return nil, fmt.Errorf("overview call: %w", err)
	}
	return parsePass(resp)
}

// detailed re-examines the question pages at full resolution, with the
// overview numbers as a floor. Returns the page numbers it looked at.
func (a *Analyzer) detailed(ctx context.Context, pages []render.Page, ov *passResult) (*passResult, []int, error) {
	selected := selectQuestionPages(pages, ov)

	images := make([][]byte, 0, len(selected))
	pageNums := make([]int, 0, len(selected))
	for _, p := range selected {
		data, err := render.EncodeJPEG(p.Img, a.cfg.JPEGQuality)
		if err != nil {
			return nil, nil, fmt.Errorf("encode detail page %d: %w", p.Number, err)
		}
		images = append(images, data)
		pageNums = append(pageNums, p.Number)
	}

	resp, err := a.client.Generate(ctx, vision.Request{
		Images: images,
		MIME:   "image/jpeg",
		Prompt: buildDetailedPrompt(ov, pageNums),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("detailed call: %w", err)
	}
	res, err := parsePass(resp)
	if err != nil {
		return nil, nil, err
	}
	return res, pageNums, nil
}

// selectQuestionPages picks the pages the overview marked as questions,
// falling back to every page when the overview marked none.
func selectQuestionPages(pages []render.Page, ov *passResult) []render.Page {
	roles := make(map[int]exam.PageRole, len(ov.Pages))
	for _, p := range ov.Pages {
		roles[p.Page] = parseRole(p.Role)
	}

	var out []render.Page
	for _, p := range pages {
		if roles[p.Number] == exam.RoleQuestions {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return pages
	}
	return out
}

// reconcile merges the two passes into the final estimate. The detailed
// pass wins field-by-field where it reported anything; disagreement beyond
// the tolerance lowers confidence and is left for the quality audit, which
// holds the observed question numbers both passes lack.
func (a *Analyzer) reconcile(ov, det *passResult, detPages []int, pages []render.Page, probe *ProbeResult) *exam.StructureEstimate {
	est := &exam.StructureEstimate{
		ExpectedTotal: ov.TotalQuestions,
		FirstQuestion: ov.FirstQuestion,
		LastQuestion:  ov.LastQuestion,
		OptionCount:   ov.OptionCount,
		OverviewTotal: ov.TotalQuestions,
		Confidence:    clamp01(ov.Confidence),
	}

	plans := make(map[int]exam.PagePlan, len(pages))
	for _, p := range ov.Pages {
		if p.Page < 1 {
			continue
		}
		plans[p.Page] = exam.PagePlan{
			Page:          p.Page,
			Role:          parseRole(p.Role),
			FirstQuestion: p.FirstQuestion,
			LastQuestion:  p.LastQuestion,
		}
	}

	if det != nil {
		est.DetailedTotal = det.TotalQuestions
		if det.TotalQuestions > 0 {
			est.ExpectedTotal = det.TotalQuestions
		}
		if det.FirstQuestion > 0 {
			est.FirstQuestion = det.FirstQuestion
		}
		if det.LastQuestion > 0 {
			est.LastQuestion = det.LastQuestion
		}
		if det.OptionCount > 0 {
			est.OptionCount = det.OptionCount
		}
		if det.Confidence > 0 {
			est.Confidence = clamp01(det.Confidence)
		}

		allowed := make(map[int]bool, len(detPages))
		for _, p := range detPages {
			allowed[p] = true
		}
		for _, p := range det.Pages {
			if p.Page < 1 || !allowed[p.Page] {
				continue
			}
			plans[p.Page] = exam.PagePlan{
				Page:          p.Page,
				Role:          parseRole(p.Role),
				FirstQuestion: p.FirstQuestion,
				LastQuestion:  p.LastQuestion,
			}
		}

		for _, sp := range det.Specials {
			kind, ok := parseKind(sp.Kind)
			if !ok || sp.Page < 1 {
				continue
			}
			est.Specials = append(est.Specials, exam.SpecialElement{
				Kind:     kind,
				Page:     sp.Page,
				Question: sp.Question,
			})
		}

		if a.cfg.Tolerance > 0 && ov.TotalQuestions > 0 && det.TotalQuestions > 0 {
			if diff := abs(ov.TotalQuestions - det.TotalQuestions); diff > a.cfg.Tolerance {
				a.log.Warn("structure passes disagree on total",
					"overview", ov.TotalQuestions,
					"detailed", det.TotalQuestions,
					"tolerance", a.cfg.Tolerance)
				est.Confidence = clamp01(est.Confidence * 0.75)
			}
		}
	} else {
		// No detailed confirmation; halve the confidence.
		est.Confidence = clamp01(est.Confidence * 0.5)
	}

	// Every rendered page gets a plan. Pages neither pass mentioned default
	// to questions so no content is skipped downstream; probe hints win for
	// pages the text layer identified.
	hintRole := make(map[int]exam.PageRole, len(probe.Hints))
	for _, h := range probe.Hints {
		hintRole[h.Page] = h.Role
	}
	est.Pages = est.Pages[:0]
	for _, p := range pages {
		plan, ok := plans[p.Number]
		if !ok {
			role := exam.RoleQuestions
			if r, hinted := hintRole[p.Number]; hinted {
				role = r
			}
			plan = exam.PagePlan{Page: p.Number, Role: role}
		}
		est.Pages = append(est.Pages, plan)
	}

	a.sanitize(est)
	return est
}

// sanitize applies the cross-checks that catch options miscounted as
// questions: sequential numbering bounds the total by the number span, and
// per-page ranges must stay inside the document range and never regress.
func (a *Analyzer) sanitize(est *exam.StructureEstimate) {
	if est.FirstQuestion > 0 && est.LastQuestion > 0 && est.FirstQuestion > est.LastQuestion {
		a.log.Warn("inverted question range, discarding",
			"first", est.FirstQuestion, "last", est.LastQuestion)
		est.FirstQuestion, est.LastQuestion = 0, 0
		est.Confidence = clamp01(est.Confidence * 0.5)
	}

	if est.FirstQuestion > 0 && est.LastQuestion > 0 {
		span := est.LastQuestion - est.FirstQuestion + 1
		if est.ExpectedTotal > span {
			a.log.Warn("expected total exceeds numbering span, clamping",
				"expected", est.ExpectedTotal, "span", span)
			est.ExpectedTotal = span
		}
		if est.ExpectedTotal == 0 {
			est.ExpectedTotal = span
		}
	}

	prevFirst := 0
	for i := range est.Pages {
		p := &est.Pages[i]
		if p.FirstQuestion < 0 || p.LastQuestion < 0 {
			p.FirstQuestion, p.LastQuestion = 0, 0
		}
		if p.FirstQuestion > 0 && p.LastQuestion > 0 && p.FirstQuestion > p.LastQuestion {
			p.FirstQuestion, p.LastQuestion = 0, 0
			continue
		}
		if est.LastQuestion > 0 && p.LastQuestion > est.LastQuestion {
			p.LastQuestion = est.LastQuestion
		}
		if est.FirstQuestion > 0 && p.FirstQuestion > 0 && p.FirstQuestion < est.FirstQuestion {
			p.FirstQuestion = est.FirstQuestion
		}
		if p.FirstQuestion > 0 {
			if p.FirstQuestion < prevFirst {
				// Numbering went backwards across pages; the range is
				// untrustworthy, the role still stands.
				p.FirstQuestion, p.LastQuestion = 0, 0
				continue
			}
			prevFirst = p.FirstQuestion
		}
	}
}

// fallbackEstimate is used when the overview pass itself fails: every page
// is treated as a question page (probe hints excepted) and extraction
// proceeds without count targets.
func fallbackEstimate(pages []render.Page, probe *ProbeResult) *exam.StructureEstimate {
	hintRole := make(map[int]exam.PageRole, len(probe.Hints))
	for _, h := range probe.Hints {
		hintRole[h.Page] = h.Role
	}
	est := &exam.StructureEstimate{Confidence: 0}
	for _, p := range pages {
		role := exam.RoleQuestions
		if r, ok := hintRole[p.Number]; ok {
			role = r
		}
		est.Pages = append(est.Pages, exam.PagePlan{Page: p.Number, Role: role})
	}
	return est
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
