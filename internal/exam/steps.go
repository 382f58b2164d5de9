package exam

import (
	"sync"
	"time"
)

// StepStatus is the outcome recorded for a processing step.
type StepStatus string

const (
	StepProcessing StepStatus = "processing"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// ProcessingStep is one append-only audit entry emitted by a pipeline
// stage. The pipeline never reads these back; they exist for the caller
// to persist and for the post-run report.
type ProcessingStep struct {
	Stage     string         `json:"stage_name"`
	Status    StepStatus     `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// StepLog collects ProcessingSteps. Appends are safe from concurrent
// chunk tasks; it is the only state shared across them.
type StepLog struct {
	mu    sync.Mutex
	steps []ProcessingStep
}

func NewStepLog() *StepLog {
	return &StepLog{}
}

// Append records a step. Metadata is retained as passed; callers must not
// mutate the map afterwards.
func (l *StepLog) Append(stage string, status StepStatus, meta map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, ProcessingStep{
		Stage:     stage,
		Status:    status,
		Metadata:  meta,
		Timestamp: time.Now(),
	})
}

// Steps returns a copy of the entries in append order.
func (l *StepLog) Steps() []ProcessingStep {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ProcessingStep, len(l.steps))
	copy(out, l.steps)
	return out
}

// Len returns the number of recorded steps.
func (l *StepLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.steps)
}
