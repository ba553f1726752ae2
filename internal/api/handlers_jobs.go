package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/novelgen/internal/doctree"
	"github.com/dgallion1/novelgen/internal/pipeline"
)

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.ResumeRun == "" {
		if req.Provider == "" {
			req.Provider = s.cfg.DefaultProvider
		}
		if req.Genre == "" && req.Document.IsZero() {
			req.Genre = s.cfg.DefaultGenre
		}
		if req.TargetLength <= 0 {
			req.TargetLength = s.cfg.TargetLength
		}
	}
	if req.Genre != "" {
		if _, err := doctree.ParseGenre(string(req.Genre)); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	doc, startAt, err := resolveDocument(req.Document, req.StartAt)
	if err != nil {
		jsonError(w, err.Error(), errorStatus(err))
		return
	}
	req.Document, req.StartAt = doc, startAt

	job, err := s.scheduler.Submit(req)
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest):
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	snap := job.Snapshot()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     snap.ID,
		"status":     snap.Status,
		"poll_url":   fmt.Sprintf("/api/jobs/%s", snap.ID),
		"events_url": fmt.Sprintf("/api/jobs/%s/events", snap.ID),
	})
}

func (s *Server) job(w http.ResponseWriter, r *http.Request) *pipeline.Job {
	job := s.scheduler.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
	}
	return job
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job := s.job(w, r)
	if job == nil {
		return
	}
	snap := job.Snapshot()
	if r.URL.Query().Get("document") == "false" {
		snap.Document = doctree.Document{}
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleJobEvents streams a job's events. The first frame is the current
// status so a late subscriber knows where the job stands.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	job := s.job(w, r)
	if job == nil {
		return
	}
	events, unsubscribe := job.Subscribe()
	defer unsubscribe()

	sse := newSSEWriter(w)
	snap := job.Snapshot()
	sse.send(string(pipeline.EventStatus), map[string]any{
		"job_id":   snap.ID,
		"status":   snap.Status,
		"phase":    snap.Phase,
		"progress": snap.Progress,
	})
	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			sse.send(string(e.Type), jobEventData(e))
			if sse.err != nil {
				return
			}
		}
	}
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job := s.job(w, r)
	if job == nil {
		return
	}
	if !job.Cancel() {
		jsonError(w, "job already finished", http.StatusConflict)
		return
	}
	s.log.Info("job cancel requested", "job_id", job.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID, "cancelled": true})
}

func (s *Server) handleJobExport(w http.ResponseWriter, r *http.Request) {
	job := s.job(w, r)
	if job == nil {
		return
	}
	doc := job.Document()
	if doc.IsZero() {
		jsonError(w, "job has no document yet", http.StatusConflict)
		return
	}
	s.writeExport(w, r, doc, r.URL.Query().Get("format"), r.URL.Query().Get("wrap"))
}
