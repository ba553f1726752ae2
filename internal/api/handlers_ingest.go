package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dgallion1/novelgen/internal/doctree"
	"github.com/dgallion1/novelgen/internal/parser"
)

// readUpload returns the "file" part of a multipart request, bounded by the
// configured upload limit. It writes the error response itself.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return "", nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return "", nil, false
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !parser.IsSupportedExtension(filename) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
		return "", nil, false
	}

	data, err := readLimited(file, s.cfg.MaxUploadBytes)
	if err != nil {
		jsonError(w, err.Error(), http.StatusRequestEntityTooLarge)
		return "", nil, false
	}
	return filename, data, true
}

func removeForm(r *http.Request) {
	if r.MultipartForm != nil {
		r.MultipartForm.RemoveAll()
	}
}

func readLimited(f multipart.File, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, errors.New("failed to read file")
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("file exceeds max size (%d bytes)", limit)
	}
	return data, nil
}

// handleOutlineImport turns an uploaded outline into an empty document.
func (s *Server) handleOutlineImport(w http.ResponseWriter, r *http.Request) {
	defer removeForm(r)
	filename, data, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	genre := s.cfg.DefaultGenre
	if v := r.FormValue("genre"); v != "" {
		g, err := doctree.ParseGenre(v)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		genre = g
	}
	target := s.cfg.TargetLength
	if v := r.FormValue("target_length"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			target = n
		}
	}

	doc, err := parser.Import(bytes.NewReader(data), filename, genre, target)
	if err != nil {
		jsonError(w, "cannot import outline: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.log.Info("outline imported", "filename", filename, "genre", genre, "leaves", doc.CountLeaves())
	writeJSON(w, http.StatusOK, map[string]any{
		"genre":    genre,
		"document": doc,
	})
}

// handleSettingsImport extracts the text of an uploaded settings file.
func (s *Server) handleSettingsImport(w http.ResponseWriter, r *http.Request) {
	defer removeForm(r)
	filename, data, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	text, tokens, err := parser.ReadSettings(bytes.NewReader(data), filename)
	if err != nil {
		jsonError(w, "cannot read settings: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"basicSettings":   text,
		"estimatedTokens": tokens,
	})
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
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
