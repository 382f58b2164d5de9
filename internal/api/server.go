package api

import (
	"log/slog"
	"net/http"

	"github.com/dgallion1/examgest/internal/config"
	"github.com/dgallion1/examgest/internal/pipeline"
	"github.com/dgallion1/examgest/internal/vision"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP API server for examgest.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	vision       *vision.LLMClient
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, client *vision.LLMClient, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		vision:       client,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.ExamgestAPIKey, s.log))

		r.Post("/api/extractions", s.handleCreateExtraction)
		r.Get("/api/extractions/{jobID}", s.handleExtractionStatus)
		r.Get("/api/extractions/{jobID}/results", s.handleExtractionResults)
		r.Get("/api/stats/vision", s.handleVisionStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
