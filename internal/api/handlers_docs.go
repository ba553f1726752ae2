package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dgallion1/novelgen/internal/doctree"
	"github.com/dgallion1/novelgen/internal/render"
)

type exportRequest struct {
	Document doctree.Document `json:"document"`
	Format   string           `json:"format"`
	Wrap     int              `json:"wrap"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Document.IsZero() {
		jsonError(w, "document is required", http.StatusBadRequest)
		return
	}
	wrap := ""
	if req.Wrap > 0 {
		wrap = strconv.Itoa(req.Wrap)
	}
	s.writeExport(w, r, req.Document, req.Format, wrap)
}

// writeExport renders doc as an attachment. An empty format means markdown.
func (s *Server) writeExport(w http.ResponseWriter, r *http.Request, doc doctree.Document, format, wrap string) {
	if format == "" {
		format = string(render.FormatMarkdown)
	}
	f, err := render.ParseFormat(format)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var opts render.Options
	if wrap != "" {
		n, err := strconv.Atoi(wrap)
		if err != nil || n < 0 {
			jsonError(w, "wrap must be a non-negative integer", http.StatusBadRequest)
			return
		}
		opts.Wrap = n
	}
	out, err := render.Render(doc, f, opts)
	if err != nil {
		s.log.Error("export failed", "path", r.URL.Path, "format", f, "error", err)
		jsonError(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", render.Filename(doc, f)))
	w.Write(out)
}

type editRequest struct {
	Document doctree.Document `json:"document"`
	Key      string           `json:"key"`
	doctree.Patch
}

// handleEditNode applies a title, summary or content edit to one node. The
// key is a node ID or section number; a leaf may also be named by its title.
func (s *Server) handleEditNode(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Document.IsZero() {
		jsonError(w, "document is required", http.StatusBadRequest)
		return
	}
	doc := doctree.Normalize(req.Document)
	out, err := doctree.UpdateNode(doc, req.Key, req.Patch)
	if errors.Is(err, doctree.ErrLeafNotFound) {
		if key, lerr := doctree.Lookup(doc, req.Key); lerr == nil {
			out, err = doctree.UpdateNode(doc, key, req.Patch)
		}
	}
	if err == nil {
		err = doctree.Validate(out)
	}
	if err != nil {
		jsonError(w, err.Error(), errorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": out})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
