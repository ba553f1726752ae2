package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/novelgen/internal/config"
	"github.com/dgallion1/novelgen/internal/generate"
	"github.com/dgallion1/novelgen/internal/llm"
	"github.com/dgallion1/novelgen/internal/pipeline"
)

// Server is the HTTP API server for novelgen.
type Server struct {
	router    chi.Router
	gen       *generate.Orchestrator
	scheduler *pipeline.Scheduler
	stats     *llm.Stats
	log       *slog.Logger
	cfg       config.Config
}

// NewServer creates and configures the HTTP server. stats may be nil.
func NewServer(gen *generate.Orchestrator, scheduler *pipeline.Scheduler, stats *llm.Stats, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		gen:       gen,
		scheduler: scheduler,
		stats:     stats,
		log:       log,
		cfg:       cfg,
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
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/structure", s.handleStructure)
		r.Post("/api/content/stream", s.handleContentStream)
		r.Post("/api/leaves/regenerate/stream", s.handleRegenerateStream)
		r.Post("/api/consistency", s.handleConsistency)

		r.Post("/api/export", s.handleExport)
		r.Post("/api/nodes/edit", s.handleEditNode)
		r.Post("/api/outline/import", s.handleOutlineImport)
		r.Post("/api/settings/import", s.handleSettingsImport)

		r.Post("/api/jobs", s.handleSubmitJob)
		r.Get("/api/jobs/{jobID}", s.handleJobStatus)
		r.Get("/api/jobs/{jobID}/events", s.handleJobEvents)
		r.Delete("/api/jobs/{jobID}", s.handleCancelJob)
		r.Get("/api/jobs/{jobID}/export", s.handleJobExport)

		r.Get("/api/stats/llm", s.handleLLMStats)
		r.Get("/api/stats/queue", s.handleQueueStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
