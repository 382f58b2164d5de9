// Package refine re-extracts questions flagged with tables, code,
// diagrams or unusually dense option lists. Each routed candidate gets one
// inference call against its chunk re-rendered at elevated magnification,
// with category-specific prompting. A refined response replaces the
// candidate only when it is structurally consistent; anything less, and
// any call or parse failure, leaves the pre-refinement candidate
// untouched.
package refine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/examgest/internal/exam"
	"github.com/dgallion1/examgest/internal/render"
	"github.com/dgallion1/examgest/internal/vision"
)

// Category routes a candidate to one refinement handler. Assigned once per
// candidate; a refined candidate is never re-dispatched.
type Category string

const (
	CategoryTable         Category = "table"
	CategoryCode          Category = "code"
	CategoryDiagram       Category = "diagram"
	CategoryComplexChoice Category = "complex_choice"
	CategoryPlain         Category = "plain"
)

// Categorize picks the refinement category, first match wins.
func Categorize(c *exam.QuestionCandidate, complexChoiceMin int) Category {
	switch {
	case c.HasTable:
		return CategoryTable
	case c.HasCode:
		return CategoryCode
	case c.HasDiagram:
		return CategoryDiagram
	case complexChoiceMin > 0 && len(c.Options) >= complexChoiceMin:
		return CategoryComplexChoice
	default:
		return CategoryPlain
	}
}

const (
	// maxRefineScale caps the magnification; beyond it JPEG size grows
	// faster than recognition improves.
	maxRefineScale = 2.5
	// choiceDensityStep is the extra magnification per option above the
	// complex-choice threshold.
	choiceDensityStep = 0.15
)

type Config struct {
	Scale            float64 // base magnification for the re-extraction render
	ComplexChoiceMin int     // option count that routes to complex-choice refinement
	JPEGQuality      int
	Concurrency      int
}

// Refiner runs the specialized second-pass extraction calls.
type Refiner struct {
	client vision.Client
	cfg    Config
	log    *slog.Logger
}

func NewRefiner(client vision.Client, cfg Config, log *slog.Logger) *Refiner {
	if cfg.Scale < 1 {
		cfg.Scale = 1.6
	}
	if cfg.Scale > maxRefineScale {
		cfg.Scale = maxRefineScale
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Refiner{client: client, cfg: cfg, log: log}
}

// handler is one category's strategy: the method stamped on a successful
// rewrite, the prompt builder, and the apply step that checks structural
// consistency before mutating the clone.
type handler struct {
	method string
	prompt func(*exam.QuestionCandidate) string
	apply  func(*exam.QuestionCandidate, *refinedJSON) error
}

var handlers = map[Category]handler{
	CategoryTable:         {exam.MethodRefineTable, buildTablePrompt, applyTable},
	CategoryCode:          {exam.MethodRefineCode, buildCodePrompt, applyCode},
	CategoryDiagram:       {exam.MethodRefineDiagram, buildDiagramPrompt, applyDiagram},
	CategoryComplexChoice: {exam.MethodRefineChoices, buildChoicesPrompt, applyChoices},
}

// RefineAll routes accepted candidates through refinement with bounded
// concurrency. Rejected candidates, plain questions and candidates whose
// refinement fails pass through unchanged. Only context cancellation is
// returned as an error.
func (r *Refiner) RefineAll(ctx context.Context, cands []exam.QuestionCandidate, chunks []exam.Chunk, steps *exam.StepLog) ([]exam.QuestionCandidate, error) {
	out := make([]exam.QuestionCandidate, len(cands))
	copy(out, cands)

	byID := make(map[string]exam.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for i := range cands {
		if cands[i].Validation != exam.ValidationAccepted {
			continue
		}
		cat := Categorize(&cands[i], r.cfg.ComplexChoiceMin)
		if cat == CategoryPlain {
			continue
		}
		chunk, ok := byID[cands[i].SourceChunk]
		if !ok || len(chunk.Image) == 0 {
			r.log.Warn("no chunk image for refinement",
				"question", cands[i].Number, "chunk", cands[i].SourceChunk)
			continue
		}

		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			refined, err := r.refineOne(ctx, out[i], chunk, cat)
			if err != nil {
				r.log.Warn("refinement kept original",
					"question", out[i].Number, "category", cat, "error", err)
				if steps != nil {
					steps.Append("refine", exam.StepFailed, map[string]any{
						"question": out[i].Number,
						"category": string(cat),
						"error":    err.Error(),
					})
				}
				return nil
			}
			out[i] = refined
			if steps != nil {
				steps.Append("refine", exam.StepCompleted, map[string]any{
					"question": refined.Number,
					"category": string(cat),
					"options":  len(refined.Options),
				})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

// refineOne issues the category's call and applies the response to a
// clone. Any error means the caller keeps the original candidate.
func (r *Refiner) refineOne(ctx context.Context, cand exam.QuestionCandidate, chunk exam.Chunk, cat Category) (exam.QuestionCandidate, error) {
	h := handlers[cat]

	img, err := r.regionImage(chunk, cat, len(cand.Options))
	if err != nil {
		return cand, err
	}
	prompt := h.prompt(&cand)

	var text string
	var lastErr error
	for attempt := range vision.MaxRetries {
		text, lastErr = r.client.Generate(ctx, vision.Request{
			Images: [][]byte{img},
			MIME:   "image/jpeg",
			Prompt: prompt,
		})
		if lastErr == nil || !vision.IsRetryable(lastErr) {
			break
		}
		r.log.Warn("retryable refinement error",
			"question", cand.Number, "attempt", attempt, "error", lastErr)
		select {
		case <-time.After(vision.Backoff(attempt)):
		case <-ctx.Done():
			return cand, ctx.Err()
		}
	}
	if lastErr != nil {
		return cand, lastErr
	}

	ref, err := parseRefined(text)
	if err != nil {
		return cand, err
	}

	refined := cand.Clone()
	if err := h.apply(&refined, ref); err != nil {
		return cand, err
	}
	refined.Method = h.method
	return refined, nil
}

// regionImage re-encodes the chunk at the category's magnification.
func (r *Refiner) regionImage(chunk exam.Chunk, cat Category, optionCount int) ([]byte, error) {
	img, err := render.DecodeImage(chunk.Image)
	if err != nil {
		return nil, fmt.Errorf("decode chunk %s: %w", chunk.ID, err)
	}
	return render.EncodeJPEG(render.ScaleImage(img, r.scaleFor(cat, optionCount)), r.cfg.JPEGQuality)
}

// scaleFor grows the magnification with option density for complex-choice
// questions, capped at maxRefineScale.
func (r *Refiner) scaleFor(cat Category, optionCount int) float64 {
	s := r.cfg.Scale
	if cat == CategoryComplexChoice && optionCount > r.cfg.ComplexChoiceMin {
		s += choiceDensityStep * float64(optionCount-r.cfg.ComplexChoiceMin)
	}
	if s > maxRefineScale {
		s = maxRefineScale
	}
	return s
}

// refinedJSON is the wire shape shared by all category prompts; each
// category requires its own field on top of the common ones.
type refinedJSON struct {
	Number      int          `json:"question_number"`
	Passage     string       `json:"passage"`
	Text        string       `json:"question_text"`
	Options     []optionJSON `json:"options"`
	TableMarkup string       `json:"table_markup"`
	CodeBlock   string       `json:"code_block"`
	CodeLang    string       `json:"code_language"`
	Diagram     string       `json:"diagram_description"`
	Confidence  float64      `json:"confidence"`
}

type optionJSON struct {
	Symbol string `json:"symbol"`
	Text   string `json:"text"`
}

func parseRefined(text string) (*refinedJSON, error) {
	stripped := vision.StripCodeFence(text)
	span, ok := vision.ExtractJSONObject(stripped)
	if !ok {
		return nil, fmt.Errorf("no JSON object in refinement response (raw: %s)", truncate(text, 200))
	}
	var ref refinedJSON
	if err := json.Unmarshal([]byte(span), &ref); err != nil {
		return nil, fmt.Errorf("parse refinement response: %w", err)
	}
	return &ref, nil
}

// applyCommon rewrites the fields every category shares. The structural
// consistency rule lives here: a refined response with an empty body or
// fewer options than the original is refused.
func applyCommon(c *exam.QuestionCandidate, ref *refinedJSON) error {
	text := strings.TrimSpace(ref.Text)
	if text == "" {
		return fmt.Errorf("refined response has an empty question body")
	}
	if len(ref.Options) < len(c.Options) {
		return fmt.Errorf("refined response has %d options, original has %d", len(ref.Options), len(c.Options))
	}
	if ref.Number != 0 && ref.Number != c.Number {
		return fmt.Errorf("refined response answers question %d, want %d", ref.Number, c.Number)
	}

	c.Text = text
	if p := strings.TrimSpace(ref.Passage); p != "" {
		c.Passage = p
	}
	if len(ref.Options) > 0 {
		opts := make([]exam.Option, 0, len(ref.Options))
		for i, o := range ref.Options {
			sym := strings.TrimSpace(o.Symbol)
			if sym == "" {
				sym = exam.CircledSymbol(i + 1)
			}
			opts = append(opts, exam.Option{Symbol: sym, Text: strings.TrimSpace(o.Text)})
		}
		c.Options = opts
	}
	if ref.Confidence > c.Confidence {
		c.Confidence = ref.Confidence
	}
	return nil
}

func applyTable(c *exam.QuestionCandidate, ref *refinedJSON) error {
	markup := strings.TrimSpace(ref.TableMarkup)
	if _, ok := ParseTableShape(markup); !ok {
		return fmt.Errorf("refined table markup does not parse to a table")
	}
	if err := applyCommon(c, ref); err != nil {
		return err
	}
	c.Special = &exam.SpecialElementPayload{Kind: exam.SpecialTable, TableMarkup: markup}
	return nil
}

func applyCode(c *exam.QuestionCandidate, ref *refinedJSON) error {
	// Outer newlines are response noise; inner whitespace is the code's
	// indentation and stays.
	code := strings.Trim(ref.CodeBlock, "\n")
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("refined response has no code block")
	}
	if err := applyCommon(c, ref); err != nil {
		return err
	}
	c.Special = &exam.SpecialElementPayload{
		Kind:         exam.SpecialCode,
		CodeBlock:    code,
		CodeLanguage: strings.TrimSpace(ref.CodeLang),
	}
	return nil
}

func applyDiagram(c *exam.QuestionCandidate, ref *refinedJSON) error {
	desc := strings.TrimSpace(ref.Diagram)
	if desc == "" {
		return fmt.Errorf("refined response has no diagram description")
	}
	if err := applyCommon(c, ref); err != nil {
		return err
	}
	c.Special = &exam.SpecialElementPayload{Kind: exam.SpecialDiagram, DiagramText: desc}
	return nil
}

func applyChoices(c *exam.QuestionCandidate, ref *refinedJSON) error {
	return applyCommon(c, ref)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
