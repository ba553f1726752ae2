package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dgallion1/novelgen/internal/doctree"
	"github.com/dgallion1/novelgen/internal/generate"
	"github.com/dgallion1/novelgen/internal/generr"
	"github.com/dgallion1/novelgen/internal/llm"
)

// generateRequest is the body shared by the generation endpoints.
type generateRequest struct {
	Settings     string           `json:"basicSettings"`
	Provider     string           `json:"provider"`
	Genre        doctree.Genre    `json:"genre"`
	TargetLength int              `json:"targetLength"`
	Document     doctree.Document `json:"document"`
	StartAt      string           `json:"startAt"`
	Leaf         string           `json:"leaf"`
}

// decodeGenerate reads the body and fills provider and genre defaults. The
// default genre applies only when there is no document to infer it from.
func (s *Server) decodeGenerate(w http.ResponseWriter, r *http.Request) (generateRequest, bool) {
	var req generateRequest
	if !s.decodeJSON(w, r, &req) {
		return req, false
	}
	if req.Provider == "" {
		req.Provider = s.cfg.DefaultProvider
	}
	if req.Genre == "" && req.Document.IsZero() {
		req.Genre = s.cfg.DefaultGenre
	}
	if req.Genre != "" {
		if _, err := doctree.ParseGenre(string(req.Genre)); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return req, false
		}
	}
	if req.TargetLength <= 0 {
		req.TargetLength = s.cfg.TargetLength
	}
	doc, startAt, err := resolveDocument(req.Document, req.StartAt)
	if err != nil {
		jsonError(w, err.Error(), errorStatus(err))
		return req, false
	}
	req.Document, req.StartAt = doc, startAt
	return req, true
}

// resolveDocument normalizes doc so leaf keys are the ones generation will
// use, then resolves a start reference against it. Keys must never be looked
// up on the document as the client sent it.
func resolveDocument(doc doctree.Document, startAt string) (doctree.Document, string, error) {
	if doc.IsZero() {
		return doc, startAt, nil
	}
	doc = doctree.Normalize(doc)
	if startAt == "" {
		return doc, "", nil
	}
	key, err := doctree.Lookup(doc, startAt)
	if err != nil {
		return doc, "", fmt.Errorf("startAt: %w", err)
	}
	return doc, key, nil
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, fmt.Sprintf("request exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
			return false
		}
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleStructure(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeGenerate(w, r)
	if !ok {
		return
	}
	out, err := s.gen.GenerateStructure(r.Context(), generate.StructureRequest{
		Settings:     req.Settings,
		Provider:     req.Provider,
		Genre:        req.Genre,
		TargetLength: req.TargetLength,
	})
	if err != nil {
		s.generationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleContentStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeGenerate(w, r)
	if !ok {
		return
	}
	sse := newSSEWriter(w)
	var sawError bool
	_, err := s.gen.GenerateContent(r.Context(), generate.ContentRequest{
		Document: req.Document,
		Settings: req.Settings,
		Provider: req.Provider,
		Genre:    req.Genre,
		StartAt:  req.StartAt,
	}, streamObserver(sse, &sawError))
	s.endStream(w, r, sse, sawError, err)
}

func (s *Server) handleRegenerateStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeGenerate(w, r)
	if !ok {
		return
	}
	key, err := doctree.Lookup(req.Document, req.Leaf)
	if err != nil {
		s.generationError(w, r, err)
		return
	}
	sse := newSSEWriter(w)
	var sawError bool
	_, err = s.gen.RegenerateLeaf(r.Context(), generate.LeafRequest{
		Document: req.Document,
		Settings: req.Settings,
		Provider: req.Provider,
		Genre:    req.Genre,
		Key:      key,
	}, streamObserver(sse, &sawError))
	s.endStream(w, r, sse, sawError, err)
}

// endStream reports a failure that produced no error frame. Before the
// first frame that is an ordinary JSON error response.
func (s *Server) endStream(w http.ResponseWriter, r *http.Request, sse *sseWriter, sawError bool, err error) {
	if err == nil || sawError {
		return
	}
	if !sse.started {
		s.generationError(w, r, err)
		return
	}
	sse.send(string(generate.EventError), map[string]any{"error": generr.UserMessage(err)})
}

func (s *Server) handleConsistency(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeGenerate(w, r)
	if !ok {
		return
	}
	report, err := s.gen.CheckConsistency(r.Context(), generate.ConsistencyRequest{
		Document:     req.Document,
		Settings:     req.Settings,
		Provider:     req.Provider,
		Genre:        req.Genre,
		TargetLength: req.TargetLength,
	})
	if err != nil {
		s.generationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report})
}

// generationError maps a generation failure onto a status code. Caller
// mistakes carry their own message; backend and parsing failures carry the
// user-facing message of their phase.
func (s *Server) generationError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status >= 500 {
		msg = generr.UserMessage(err)
		s.log.Error("generation failed", "path", r.URL.Path, "error", err, "phase", generr.PhaseOf(err))
	}
	jsonError(w, msg, status)
}

func errorStatus(err error) int {
	var be *llm.BackendError
	switch {
	case errors.Is(err, generate.ErrEmptySettings),
		errors.Is(err, generate.ErrGenreMismatch),
		errors.Is(err, doctree.ErrLeafNotFound),
		errors.Is(err, doctree.ErrAmbiguousKey),
		errors.Is(err, doctree.ErrNotLeaf),
		errors.Is(err, doctree.ErrEmptyDoc),
		errors.Is(err, llm.ErrUnknownProvider),
		errors.Is(err, llm.ErrProviderNotConfigured):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case errors.As(err, &be), generr.PhaseOf(err) == generr.PhaseParsing:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
