package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgallion1/examgest/internal/exam"
	"github.com/dgallion1/examgest/internal/pipeline"
	"github.com/dgallion1/examgest/internal/render"
	"github.com/go-chi/chi/v5"
)

func (s *Server) handleCreateExtraction(w http.ResponseWriter, r *http.Request) {
	// Limit total request size, with slack for form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	// Sniff the content rather than trusting the extension; scans arrive
	// with all sorts of names.
	if render.DetectFormat(data) == render.FormatUnknown {
		jsonError(w, "unsupported document format (want pdf, jpeg or png)", http.StatusBadRequest)
		return
	}

	docID := r.FormValue("doc_id")
	if docID == "" {
		docID = pipeline.ContentHashHex(data)[:16]
	}
	mode := exam.ParseMode(r.FormValue("mode"))

	now := time.Now()
	job := &pipeline.Job{
		ID:        pipeline.NewJobID(),
		DocID:     docID,
		Status:    pipeline.StatusQueued,
		Phase:     "queued",
		Filename:  filename,
		Mode:      mode,
		CreatedAt: now,
		UpdatedAt: now,
	}
	job.SetFileData(data)

	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":   job.ID,
		"doc_id":   job.DocID,
		"status":   job.Status,
		"mode":     job.Mode,
		"poll_url": fmt.Sprintf("/api/extractions/%s", job.ID),
	})
}

func (s *Server) handleExtractionStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":   snap.ID,
		"doc_id":   snap.DocID,
		"status":   snap.Status,
		"phase":    snap.Phase,
		"mode":     snap.Mode,
		"progress": snap.Progress,
		"steps":    job.StepLog().Steps(),
	})
}

func (s *Server) handleExtractionResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}

	status := job.CurrentStatus()
	if !status.Terminal() {
		jsonError(w, fmt.Sprintf("job not finished (status %s)", status), http.StatusConflict)
		return
	}

	questions, rejected, rep := job.Results()
	if questions == nil {
		questions = []exam.QuestionCandidate{}
	}
	snap := job.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":    snap.ID,
		"doc_id":    snap.DocID,
		"status":    snap.Status,
		"questions": questions,
		"rejected":  rejected,
		"report":    rep,
		"steps":     job.StepLog().Steps(),
		"errors":    snap.Progress.Errors,
	})
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	// Remove any path separators that might have survived.
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
