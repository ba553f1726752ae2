package generate

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dgallion1/novelgen/internal/budget"
	"github.com/dgallion1/novelgen/internal/doctree"
	"github.com/dgallion1/novelgen/internal/extract"
	"github.com/dgallion1/novelgen/internal/generr"
	"github.com/dgallion1/novelgen/internal/llm"
	"github.com/dgallion1/novelgen/internal/prompt"
)

// run is the single owner of one working document.
type run struct {
	opts     Options
	backend  llm.Backend
	genre    doctree.Genre
	settings string
	ws       workspace
	progress *Progress
	observe  Observer
	log      *slog.Logger
}

func (o *Orchestrator) newRun(doc doctree.Document, provider string, g doctree.Genre, settings string) (*run, error) {
	if strings.TrimSpace(settings) == "" {
		return nil, generr.Wrap(ErrEmptySettings, generr.PhaseContent, "cannot write without settings", nil)
	}
	if doc.IsZero() {
		return nil, doctree.ErrEmptyDoc
	}
	genre, err := resolveGenre(g, doc.Kind)
	if err != nil {
		return nil, err
	}
	backend, err := o.backends.Backend(provider)
	if err != nil {
		return nil, err
	}
	ws, err := newWorkspace(doc)
	if err != nil {
		return nil, err
	}
	return &run{
		opts:     o.opts,
		backend:  backend,
		genre:    genre,
		settings: settings,
		ws:       ws,
		log:      o.log.With("phase", "content", "provider", backend.Name(), "genre", genre, "title", doc.Title()),
	}, nil
}

func (r *run) event(t EventType, key, title string) Event {
	return Event{
		Type:      t,
		Key:       key,
		Title:     title,
		Progress:  r.progress.Value(),
		Completed: r.progress.Completed(),
		Total:     r.progress.Total(),
		Document:  r.ws.document(),
	}
}

// runLeaf takes one leaf from pending through in_progress to done or failed.
func (r *run) runLeaf(ctx context.Context, key string) error {
	title, expected, _ := r.ws.leaf(key)
	log := r.log.With("leaf", key, "leaf_title", title)

	if err := ctx.Err(); err != nil {
		return r.fail(log, key, title, err)
	}

	c, err := r.ws.context(key)
	if err != nil {
		return r.fail(log, key, title, err)
	}
	p := prompt.Content(r.genre, r.settings, c)
	req := llm.Request{
		System:      p.System,
		Secondary:   p.Secondary,
		User:        p.User,
		MaxTokens:   budget.OutputTokens(expected, r.opts.ContentMaxTokens),
		Temperature: r.opts.Temperature,
	}

	started := r.event(EventLeafStarted, key, title)
	started.State = StateInProgress
	r.observe.emit(started)
	log.Info("leaf started", "expected_chars", expected)

	var buf strings.Builder
	for frag, err := range r.backend.Stream(ctx, req) {
		if err != nil {
			return r.fail(log, key, title, err)
		}
		buf.WriteString(frag)
		if err := r.ws.setContent(key, buf.String()); err != nil {
			return r.fail(log, key, title, err)
		}
		r.progress.Partial(budget.Length(buf.String()), expected)

		ev := r.event(EventChunk, key, title)
		ev.State = StateInProgress
		ev.Fragment = frag
		ev.Accumulated = buf.String()
		r.observe.emit(ev)
		log.Debug("fragment merged", "bytes", len(frag), "total_bytes", buf.Len())

		if err := ctx.Err(); err != nil {
			return r.fail(log, key, title, err)
		}
	}

	final := strings.TrimSpace(buf.String())
	if final == "" {
		return r.fail(log, key, title, ErrEmptyContent)
	}
	if err := r.ws.setContent(key, final); err != nil {
		return r.fail(log, key, title, err)
	}
	r.progress.LeafDone()

	refusal := extract.LooksLikeRefusal(final)
	if refusal {
		log.Warn("generated text looks like a refusal")
	}
	done := r.event(EventComplete, key, title)
	done.State = StateDone
	done.Content = final
	done.Refusal = refusal
	r.observe.emit(done)
	log.Info("leaf done", "chars", budget.Length(final))
	return nil
}

func (r *run) fail(log *slog.Logger, key, title string, cause error) error {
	err := generr.Wrap(cause, generr.PhaseContent, "leaf generation failed", map[string]any{
		"leaf":     key,
		"title":    title,
		"provider": r.backend.Name(),
	})
	ev := r.event(EventError, key, title)
	ev.State = StateFailed
	ev.Message = generr.UserMessage(err)
	ev.Err = err
	r.observe.emit(ev)
	log.Error("leaf failed", "error", err, "phase", generr.PhaseOf(err))
	return err
}

func (r *run) finish() {
	ev := r.event(EventDone, "", "")
	ev.Progress = r.progress.Finish()
	r.observe.emit(ev)
	r.log.Info("content generation finished")
}
