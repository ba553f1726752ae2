// Package generate drives the two generation phases: a structure call that
// produces an empty document, then a strictly sequential pass that streams
// prose into each leaf in document order.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dgallion1/novelgen/internal/budget"
	"github.com/dgallion1/novelgen/internal/doctree"
	"github.com/dgallion1/novelgen/internal/extract"
	"github.com/dgallion1/novelgen/internal/generr"
	"github.com/dgallion1/novelgen/internal/llm"
	"github.com/dgallion1/novelgen/internal/prompt"
	"github.com/dgallion1/novelgen/internal/render"
)

// reviewInputTokens bounds how much of a finished work is sent for review.
const reviewInputTokens = 60000

var (
	ErrEmptySettings = errors.New("basic settings are empty")
	ErrGenreMismatch = errors.New("genre does not match document shape")
	ErrEmptyContent  = errors.New("backend returned no text")
)

// Options are the generation parameters shared by every call.
type Options struct {
	StructureMaxTokens int
	ContentMaxTokens   int
	Temperature        float64
}

// DefaultOptions returns the parameters used when none are configured.
func DefaultOptions() Options {
	return Options{StructureMaxTokens: 4000, ContentMaxTokens: 4000, Temperature: 0.7}
}

// Orchestrator runs generation against the backends it resolves by name.
// It keeps no per-run state, so one value serves concurrent runs.
type Orchestrator struct {
	backends llm.Resolver
	log      *slog.Logger
	opts     Options
}

func New(backends llm.Resolver, log *slog.Logger, opts Options) *Orchestrator {
	def := DefaultOptions()
	if opts.StructureMaxTokens <= 0 {
		opts.StructureMaxTokens = def.StructureMaxTokens
	}
	if opts.ContentMaxTokens <= 0 {
		opts.ContentMaxTokens = def.ContentMaxTokens
	}
	if opts.Temperature < 0 {
		opts.Temperature = def.Temperature
	}
	return &Orchestrator{backends: backends, log: log, opts: opts}
}

// StructureRequest asks for a new empty document.
type StructureRequest struct {
	Settings     string        `json:"basicSettings"`
	Provider     string        `json:"provider"`
	Genre        doctree.Genre `json:"genre"`
	TargetLength int           `json:"targetLength,omitempty"`
}

// Structure is a generated document plus advisory lint issues.
type Structure struct {
	Document doctree.Document `json:"document"`
	Issues   []string         `json:"issues,omitempty"`
}

// GenerateStructure makes one whole-result call and isolates the structural
// payload from the reply. It never retries.
func (o *Orchestrator) GenerateStructure(ctx context.Context, req StructureRequest) (Structure, error) {
	if strings.TrimSpace(req.Settings) == "" {
		return Structure{}, generr.Wrap(ErrEmptySettings, generr.PhaseStructure, "cannot plan a work without settings", nil)
	}
	genre, err := doctree.ParseGenre(string(req.Genre))
	if err != nil {
		return Structure{}, err
	}
	backend, err := o.backends.Backend(req.Provider)
	if err != nil {
		return Structure{}, fmt.Errorf("resolve provider: %w", err)
	}
	log := o.log.With("phase", "structure", "provider", backend.Name(), "genre", genre)

	target := req.TargetLength
	if genre.Kind() == doctree.KindSequence && target <= 0 {
		target = prompt.DefaultStoryLength
	}

	p := prompt.Structure(genre, req.Settings, target)
	log.Info("requesting structure")
	raw, err := backend.Generate(ctx, llm.Request{
		System:      p.System,
		Secondary:   p.Secondary,
		User:        p.User,
		MaxTokens:   o.opts.StructureMaxTokens,
		Temperature: o.opts.Temperature,
	})
	if err != nil {
		log.Error("structure request failed", "error", err)
		return Structure{}, generr.Wrap(err, generr.PhaseBackend, "structure request failed", map[string]any{"provider": backend.Name()})
	}

	doc, payload, err := extract.Structure(raw, genre.Kind())
	switch {
	case errors.Is(err, extract.ErrNoPayload):
		log.Error("no structured payload in response", "error", err)
		return Structure{}, generr.Wrap(err, generr.PhaseParsing, "no structured payload in response", map[string]any{"raw": truncate(raw, 200)})
	case err != nil:
		log.Error("structure is invalid", "error", err)
		return Structure{}, generr.Wrap(err, generr.PhaseStructure, "structure is invalid", map[string]any{"payload": truncate(payload, 200)})
	}

	out := Structure{Document: doc}
	if doc.Kind == doctree.KindSequence {
		out.Issues = extract.LintSequence(*doc.Sequence, target)
		for _, issue := range out.Issues {
			log.Warn("structure lint", "issue", issue)
		}
	}
	log.Info("structure ready", "title", doc.Title(), "leaves", doc.CountLeaves())
	return out, nil
}

// ContentRequest fills every leaf of Document. A non-empty StartAt resumes
// at that leaf; the leaves before it are counted as complete and left as-is.
type ContentRequest struct {
	Document doctree.Document `json:"document"`
	Settings string           `json:"basicSettings"`
	Provider string           `json:"provider"`
	Genre    doctree.Genre    `json:"genre,omitempty"`
	StartAt  string           `json:"startAt,omitempty"`
}

// GenerateContent processes leaves one at a time in document order. On
// failure it stops and returns the document with whatever was merged,
// including the failed leaf's partial prose, together with a classified error.
func (o *Orchestrator) GenerateContent(ctx context.Context, req ContentRequest, observe Observer) (doctree.Document, error) {
	r, err := o.newRun(req.Document, req.Provider, req.Genre, req.Settings)
	if err != nil {
		return req.Document, err
	}
	keys := r.ws.keys()
	start := 0
	if req.StartAt != "" {
		start = slices.Index(keys, req.StartAt)
		if start < 0 {
			return req.Document, fmt.Errorf("start at %s: %w", req.StartAt, doctree.ErrLeafNotFound)
		}
	}
	r.progress = NewProgress(len(keys), start)
	r.observe = observe
	r.log.Info("content generation started", "leaves", len(keys), "start", start)

	for _, key := range keys[start:] {
		if err := r.runLeaf(ctx, key); err != nil {
			return r.ws.document(), err
		}
	}
	r.finish()
	return r.ws.document(), nil
}

// LeafRequest regenerates one leaf of Document.
type LeafRequest struct {
	Document doctree.Document `json:"document"`
	Settings string           `json:"basicSettings"`
	Provider string           `json:"provider"`
	Genre    doctree.Genre    `json:"genre,omitempty"`
	Key      string           `json:"key"`
}

// RegenerateLeaf runs the leaf state machine for Key alone. The predecessor
// comes from the document as it is now, so it reflects whatever content
// neighboring leaves currently hold.
func (o *Orchestrator) RegenerateLeaf(ctx context.Context, req LeafRequest, observe Observer) (doctree.Document, error) {
	r, err := o.newRun(req.Document, req.Provider, req.Genre, req.Settings)
	if err != nil {
		return req.Document, err
	}
	if !slices.Contains(r.ws.keys(), req.Key) {
		return req.Document, fmt.Errorf("regenerate %s: %w", req.Key, doctree.ErrLeafNotFound)
	}
	r.progress = NewProgress(1, 0)
	r.observe = observe
	if err := r.runLeaf(ctx, req.Key); err != nil {
		return r.ws.document(), err
	}
	r.finish()
	return r.ws.document(), nil
}

// ConsistencyRequest asks for a review of a finished work.
type ConsistencyRequest struct {
	Document     doctree.Document `json:"document"`
	Settings     string           `json:"basicSettings"`
	Provider     string           `json:"provider"`
	Genre        doctree.Genre    `json:"genre,omitempty"`
	TargetLength int              `json:"targetLength,omitempty"`
}

// CheckConsistency sends the full text for review and returns the JSON
// report the backend produces.
func (o *Orchestrator) CheckConsistency(ctx context.Context, req ConsistencyRequest) (map[string]any, error) {
	if req.Document.IsZero() {
		return nil, doctree.ErrEmptyDoc
	}
	genre, err := resolveGenre(req.Genre, req.Document.Kind)
	if err != nil {
		return nil, err
	}
	backend, err := o.backends.Backend(req.Provider)
	if err != nil {
		return nil, fmt.Errorf("resolve provider: %w", err)
	}
	target := req.TargetLength
	if target <= 0 && req.Document.Kind == doctree.KindSequence {
		target = req.Document.Sequence.TotalTargetLength
	}

	text := budget.Excerpt(render.PlainText(req.Document), reviewInputTokens)
	p := prompt.Consistency(genre, req.Settings, text, target)
	raw, err := backend.Generate(ctx, llm.Request{
		System:      p.System,
		User:        p.User,
		MaxTokens:   o.opts.StructureMaxTokens,
		Temperature: o.opts.Temperature,
	})
	if err != nil {
		return nil, generr.Wrap(err, generr.PhaseBackend, "review request failed", map[string]any{"provider": backend.Name()})
	}
	report, err := extract.Report(raw)
	if err != nil {
		return nil, generr.Wrap(err, generr.PhaseParsing, "no review payload in response", map[string]any{"raw": truncate(raw, 200)})
	}
	return report, nil
}

func resolveGenre(g doctree.Genre, kind doctree.Kind) (doctree.Genre, error) {
	if g == "" {
		if kind == doctree.KindSequence {
			return doctree.GenreShortStory, nil
		}
		return doctree.GenreNovel, nil
	}
	genre, err := doctree.ParseGenre(string(g))
	if err != nil {
		return "", err
	}
	if genre.Kind() != kind {
		return "", fmt.Errorf("%w: %s is written as a %s", ErrGenreMismatch, genre, genre.Kind())
	}
	return genre, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
