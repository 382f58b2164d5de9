package exam

// Mode selects how rendered pages are segmented.
type Mode string

const (
	// ModePages emits one chunk per page, optionally with a sliver of the
	// following page appended.
	ModePages Mode = "pages"
	// ModeContinuous stitches all pages into one tall image and slices it
	// into fixed-height overlapping windows.
	ModeContinuous Mode = "continuous"
)

// ParseMode maps a request string to a Mode, defaulting to ModePages.
func ParseMode(s string) Mode {
	if Mode(s) == ModeContinuous {
		return ModeContinuous
	}
	return ModePages
}

// Document describes one rendered exam paper. Immutable once rendered.
type Document struct {
	ID        string  `json:"doc_id"`
	PageCount int     `json:"page_count"`
	Scale     float64 `json:"scale"` // magnification the pages were rendered at
}

// Chunk is an ordered unit of visual content cut from the rendered
// document. Created by the segmenter and never mutated afterwards;
// re-rendering at a different scale produces a new Chunk.
type Chunk struct {
	ID        string `json:"chunk_id"`
	Index     int    `json:"index"`
	PageStart int    `json:"page_start"` // 1-based, inclusive
	PageEnd   int    `json:"page_end"`
	YStart    int    `json:"y_start"` // pixel range in the stitched canvas (continuous mode)
	YEnd      int    `json:"y_end"`
	Image     []byte `json:"-"` // encoded JPEG

	// Pixels shared with the neighboring chunk on each edge. A non-zero
	// value means content at that edge also appears in the neighbor.
	HeadOverlap int `json:"head_overlap"`
	TailOverlap int `json:"tail_overlap"`
}

// PageRole classifies what a page contains.
type PageRole string

const (
	RoleQuestions    PageRole = "questions"
	RoleAnswers      PageRole = "answers"
	RoleExplanations PageRole = "explanations"
	RoleCover        PageRole = "cover"
	RoleOther        PageRole = "other"
)

// SpecialKind tags a non-text element inside a question.
type SpecialKind string

const (
	SpecialTable   SpecialKind = "table"
	SpecialCode    SpecialKind = "code"
	SpecialDiagram SpecialKind = "diagram"
)

// SpecialElement locates a table/code/diagram the structure analysis spotted.
type SpecialElement struct {
	Kind     SpecialKind `json:"kind"`
	Page     int         `json:"page"`
	Question int         `json:"question,omitempty"` // 0 if not attributed
}

// PagePlan is the per-page slice of a StructureEstimate.
type PagePlan struct {
	Page          int      `json:"page"`
	Role          PageRole `json:"role"`
	FirstQuestion int      `json:"first_question,omitempty"` // 0 = unknown
	LastQuestion  int      `json:"last_question,omitempty"`
}

// StructureEstimate is the pipeline's belief about the document layout,
// produced once by the structure analyzer. Later stages read it; only the
// quality audit may revise it, at most once.
type StructureEstimate struct {
	ExpectedTotal int              `json:"expected_total_questions"`
	FirstQuestion int              `json:"first_question_number"`
	LastQuestion  int              `json:"last_question_number"`
	Pages         []PagePlan       `json:"pages"`
	Specials      []SpecialElement `json:"special_elements,omitempty"`

	// OptionCount is the typical number of options per question seen in
	// the detailed pass (0 = unknown). The boundary linker uses it to
	// spot short halves.
	OptionCount int `json:"option_count,omitempty"`

	// OverviewTotal and DetailedTotal keep both pass counts for the audit
	// reconciliation; ExpectedTotal holds the chosen value.
	OverviewTotal int     `json:"overview_total,omitempty"`
	DetailedTotal int     `json:"detailed_total,omitempty"`
	Confidence    float64 `json:"confidence"`
	Revised       bool    `json:"revised,omitempty"`
}

// PlanFor returns the page plan for a 1-based page number, or nil.
func (e *StructureEstimate) PlanFor(page int) *PagePlan {
	if e == nil {
		return nil
	}
	for i := range e.Pages {
		if e.Pages[i].Page == page {
			return &e.Pages[i]
		}
	}
	return nil
}

// QuestionRange returns the expected question numbers for pages
// [pageStart, pageEnd]. Zero values mean the range is unknown.
func (e *StructureEstimate) QuestionRange(pageStart, pageEnd int) (first, last int) {
	if e == nil {
		return 0, 0
	}
	for _, p := range e.Pages {
		if p.Page < pageStart || p.Page > pageEnd || p.Role != RoleQuestions {
			continue
		}
		if p.FirstQuestion > 0 && (first == 0 || p.FirstQuestion < first) {
			first = p.FirstQuestion
		}
		if p.LastQuestion > last {
			last = p.LastQuestion
		}
	}
	return first, last
}

// Option is one answer choice of a question.
type Option struct {
	Symbol string `json:"symbol"` // e.g. "①", "(2)", "C"
	Text   string `json:"text"`
}

// Completeness states whether a candidate was cut by a chunk edge.
type Completeness string

const (
	Complete Completeness = "complete"
	// PartialEnd means the candidate is cut off at its end and continues
	// in the next chunk.
	PartialEnd Completeness = "partial_end"
	// PartialStart means the candidate is missing its beginning, which
	// appeared in the previous chunk.
	PartialStart Completeness = "partial_start"
)

// ValidationStatus is assigned by the validator.
type ValidationStatus string

const (
	ValidationPending  ValidationStatus = "pending"
	ValidationAccepted ValidationStatus = "accepted"
	ValidationRejected ValidationStatus = "rejected"
)

// Extraction methods recorded on candidates.
const (
	MethodVisionJSON    = "vision_json"
	MethodBraceScan     = "vision_brace_scan"
	MethodLineParse     = "vision_line_parse"
	MethodBoundaryMerge = "boundary_merge"
	MethodReExtract     = "targeted_reextract"
	MethodRefineTable   = "refine_table"
	MethodRefineCode    = "refine_code"
	MethodRefineDiagram = "refine_diagram"
	MethodRefineChoices = "refine_choices"
)

// SpecialElementPayload carries the refined form of a special element.
// Owned by the candidate it is attached to.
type SpecialElementPayload struct {
	Kind         SpecialKind `json:"kind"`
	TableMarkup  string      `json:"table_markup,omitempty"` // pipe-table markdown
	CodeBlock    string      `json:"code_block,omitempty"`
	CodeLanguage string      `json:"code_language,omitempty"`
	DiagramText  string      `json:"diagram_description,omitempty"`
}

// QuestionCandidate is an extracted, not-yet-finalized question record.
// Mutable while the pipeline runs; frozen once the quality audit accepts it.
type QuestionCandidate struct {
	Number       int                    `json:"question_number"`
	Passage      string                 `json:"passage,omitempty"`
	Text         string                 `json:"question_text"`
	Options      []Option               `json:"options"`
	HasTable     bool                   `json:"has_table,omitempty"`
	HasCode      bool                   `json:"has_code,omitempty"`
	HasDiagram   bool                   `json:"has_diagram,omitempty"`
	Special      *SpecialElementPayload `json:"special,omitempty"`
	SourceChunk  string                 `json:"source_chunk_id"`
	Method       string                 `json:"extraction_method"`
	Confidence   float64                `json:"confidence"`
	Completeness Completeness           `json:"completeness"`
	Validation   ValidationStatus       `json:"validation_status"`
	RejectedFor  []string               `json:"rejected_for,omitempty"`
	DedupGroup   string                 `json:"dedup_group,omitempty"`
}

// Clone returns a deep copy so a stage can rework a candidate without
// touching the original.
func (q QuestionCandidate) Clone() QuestionCandidate {
	out := q
	out.Options = make([]Option, len(q.Options))
	copy(out.Options, q.Options)
	if q.RejectedFor != nil {
		out.RejectedFor = append([]string(nil), q.RejectedFor...)
	}
	if q.Special != nil {
		sp := *q.Special
		out.Special = &sp
	}
	return out
}
