package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/dgallion1/examgest/internal/exam"
	"github.com/dgallion1/examgest/internal/report"
)

// JobStatus represents the state of an extraction job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusRendering  JobStatus = "rendering"
	StatusSegmenting JobStatus = "segmenting"
	StatusAnalyzing  JobStatus = "analyzing"
	StatusExtracting JobStatus = "extracting"
	StatusLinking    JobStatus = "linking"
	StatusReviewing  JobStatus = "reviewing"
	StatusRefining   JobStatus = "refining"
	StatusAuditing   JobStatus = "auditing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	// StatusPartial means the run finished but a stage degraded or some
	// expected questions stayed missing.
	StatusPartial JobStatus = "partial"
)

// Terminal reports whether a status is final.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusPartial
}

// Job tracks the state of a single exam extraction.
type Job struct {
	mu sync.Mutex

	ID    string `json:"job_id"`
	DocID string `json:"doc_id"`

	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	Filename string    `json:"filename"`
	Mode     exam.Mode `json:"mode"`

	Progress Progress `json:"progress"`

	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	fileData  []byte
	steps     *exam.StepLog
	questions []exam.QuestionCandidate
	rejected  []exam.QuestionCandidate
	report    *report.Report
	errors    []string
}

// Progress tracks processing progress.
type Progress struct {
	TotalChunks     int      `json:"total_chunks"`
	ChunksProcessed int      `json:"chunks_processed"`
	QuestionsFound  int      `json:"questions_found"`
	QuestionsFinal  int      `json:"questions_final"`
	Errors          []string `json:"errors"`
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.UpdatedAt) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// CurrentStatus returns the status under the job lock.
func (j *Job) CurrentStatus() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// IncrChunksProcessed atomically increments chunks processed.
func (j *Job) IncrChunksProcessed() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.ChunksProcessed++
	j.UpdatedAt = time.Now()
}

// AddQuestions records found/final question counts.
func (j *Job) AddQuestions(found, final int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.QuestionsFound += found
	j.Progress.QuestionsFinal += final
	j.UpdatedAt = time.Now()
}

// SetTotalChunks records total chunk count.
func (j *Job) SetTotalChunks(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.TotalChunks = n
	j.UpdatedAt = time.Now()
}

// SetFileData sets the raw document bytes for processing. The worker
// releases them once rendering is done.
func (j *Job) SetFileData(data []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = data
}

// FileData returns the raw document bytes.
func (j *Job) FileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData
}

// SetContentHash records the hash of the uploaded bytes.
func (j *Job) SetContentHash(hash string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ContentHash = hash
}

// StepLog returns the job's processing-step log, creating it on first use.
func (j *Job) StepLog() *exam.StepLog {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.steps == nil {
		j.steps = exam.NewStepLog()
	}
	return j.steps
}

// SetResults stores the final record set. Written once, by the worker,
// when the run reaches a terminal state.
func (j *Job) SetResults(questions, rejected []exam.QuestionCandidate, rep *report.Report) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.questions = questions
	j.rejected = rejected
	j.report = rep
	j.UpdatedAt = time.Now()
}

// Results returns the final record set and report.
func (j *Job) Results() (questions, rejected []exam.QuestionCandidate, rep *report.Report) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.questions, j.rejected, j.report
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string    `json:"job_id"`
	DocID       string    `json:"doc_id"`
	Status      JobStatus `json:"status"`
	Phase       string    `json:"phase"`
	Filename    string    `json:"filename"`
	Mode        exam.Mode `json:"mode"`
	ContentHash string    `json:"content_hash,omitempty"`
	Progress    Progress  `json:"progress"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := j.Progress.Errors
	if errs == nil {
		errs = []string{}
	}
	return JobSnapshot{
		ID:          j.ID,
		DocID:       j.DocID,
		Status:      j.Status,
		Phase:       j.Phase,
		Filename:    j.Filename,
		Mode:        j.Mode,
		ContentHash: j.ContentHash,
		Progress: Progress{
			TotalChunks:     j.Progress.TotalChunks,
			ChunksProcessed: j.Progress.ChunksProcessed,
			QuestionsFound:  j.Progress.QuestionsFound,
			QuestionsFinal:  j.Progress.QuestionsFinal,
			Errors:          errs,
		},
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
