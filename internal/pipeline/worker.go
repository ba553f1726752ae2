package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dgallion1/novelgen/internal/checkpoint"
	"github.com/dgallion1/novelgen/internal/doctree"
	"github.com/dgallion1/novelgen/internal/generate"
	"github.com/dgallion1/novelgen/internal/generr"
)

// Worker runs a single generation job.
type Worker struct {
	gen     *generate.Orchestrator
	store   checkpoint.Store
	log     *slog.Logger
	backoff func(attempt int) time.Duration
}

func NewWorker(gen *generate.Orchestrator, store checkpoint.Store, log *slog.Logger) *Worker {
	if store == nil {
		store = checkpoint.Nop{}
	}
	return &Worker{gen: gen, store: store, log: log, backoff: Backoff}
}

// ResumePoint is the leaf a resumed run starts at: the leaf that failed, or
// else the first leaf that has no content yet. It is empty when the run has
// nothing left to write.
func ResumePoint(rec checkpoint.Record) string {
	if rec.FailedLeaf != "" {
		return rec.FailedLeaf
	}
	return rec.Document.FirstEmptyLeaf()
}

// run is the resolved work of one job.
type run struct {
	id      string
	req     Request
	doc     doctree.Document
	startAt string
	resumed bool
}

// Process runs structure generation when needed, then content generation,
// checkpointing after every finished leaf and after failures.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer job.closeSubscribers()

	r, err := w.resolve(ctx, job)
	if err != nil {
		log.Error("cannot start job", "error", err)
		if job.begin(cancel, StatusFailed, "resume") {
			job.AddError(err.Error())
		}
		return
	}
	if r.id != job.ID {
		log = log.With("run_id", r.id)
	}

	status, phase := StatusGenerating, "generating content"
	if r.doc.IsZero() {
		status, phase = StatusStructuring, "generating structure"
	}
	if !job.begin(cancel, status, phase) {
		log.Info("job cancelled before start")
		return
	}

	if r.doc.IsZero() {
		s, err := w.structure(ctx, log, r.req)
		if err != nil {
			w.finish(ctx, log, job, r, err)
			return
		}
		r.doc = s.Document
		job.setDocument(s.Document, s.Issues)
		w.save(ctx, log, r, s.Document, "", nil)
		job.SetStatus(StatusGenerating, "generating content")
	} else {
		job.setDocument(r.doc, nil)
	}

	if r.resumed && r.startAt == "" {
		log.Info("resumed run has nothing left to write")
		w.finish(ctx, log, job, r, nil)
		return
	}

	observe := func(e generate.Event) {
		job.observe(e)
		if e.Type == generate.EventComplete {
			w.save(ctx, log, r, e.Document, "", nil)
		}
	}
	for attempt := 0; ; attempt++ {
		out, err := w.gen.GenerateContent(ctx, generate.ContentRequest{
			Document: r.doc,
			Settings: r.req.Settings,
			Provider: r.req.Provider,
			Genre:    r.req.Genre,
			StartAt:  r.startAt,
		}, observe)
		r.doc = out
		if err == nil {
			break
		}
		failed := job.FailedLeaf()
		w.save(ctx, log, r, out, failed, err)
		if !IsRetryable(ctx, err) || attempt+1 >= MaxRetries || failed == "" {
			w.finish(ctx, log, job, r, err)
			return
		}
		wait := w.backoff(attempt)
		log.Warn("retrying content generation", "attempt", attempt+1, "from_leaf", failed, "backoff", wait, "error", err)
		job.AddError(err.Error())
		if err := sleep(ctx, wait); err != nil {
			w.finish(ctx, log, job, r, err)
			return
		}
		r.startAt = failed
	}
	w.finish(ctx, log, job, r, nil)
}

func (w *Worker) resolve(ctx context.Context, job *Job) (run, error) {
	req := job.Request
	r := run{id: job.ID, req: req, doc: req.Document, startAt: req.StartAt}
	if req.ResumeRun == "" {
		return r, nil
	}
	rec, err := w.store.Load(ctx, req.ResumeRun)
	if err != nil {
		return r, err
	}
	r.id = rec.RunID
	r.doc = rec.Document
	r.startAt = ResumePoint(rec)
	r.resumed = true
	if r.req.Settings == "" {
		r.req.Settings = rec.Settings
	}
	if r.req.Provider == "" {
		r.req.Provider = rec.Provider
	}
	if r.req.Genre == "" {
		r.req.Genre = rec.Genre
	}
	return r, nil
}

func (w *Worker) structure(ctx context.Context, log *slog.Logger, req Request) (generate.Structure, error) {
	for attempt := 0; ; attempt++ {
		s, err := w.gen.GenerateStructure(ctx, generate.StructureRequest{
			Settings:     req.Settings,
			Provider:     req.Provider,
			Genre:        req.Genre,
			TargetLength: req.TargetLength,
		})
		if err == nil {
			return s, nil
		}
		if !IsRetryable(ctx, err) || attempt+1 >= MaxRetries {
			return generate.Structure{}, err
		}
		wait := w.backoff(attempt)
		log.Warn("retrying structure generation", "attempt", attempt+1, "backoff", wait, "error", err)
		if err := sleep(ctx, wait); err != nil {
			return generate.Structure{}, err
		}
	}
}

func (w *Worker) save(ctx context.Context, log *slog.Logger, r run, doc doctree.Document, failed string, cause error) {
	if doc.IsZero() {
		return
	}
	rec := checkpoint.Record{
		RunID:      r.id,
		Genre:      r.req.Genre,
		Provider:   r.req.Provider,
		Settings:   r.req.Settings,
		Document:   doc,
		FailedLeaf: failed,
		UpdatedAt:  time.Now().UTC(),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := w.store.Save(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("checkpoint save failed", "error", err)
	}
}

func (w *Worker) finish(ctx context.Context, log *slog.Logger, job *Job, r run, err error) {
	switch {
	case err == nil:
		w.save(ctx, log, r, r.doc, "", nil)
		log.Info("job completed", "title", r.doc.Title())
		job.SetStatus(StatusCompleted, "done")
	case errors.Is(err, context.Canceled):
		log.Info("job cancelled", "failed_leaf", job.FailedLeaf())
		job.AddError(err.Error())
		job.SetStatus(StatusCancelled, generr.UserMessage(err))
	default:
		log.Error("job failed", "error", err, "phase", generr.PhaseOf(err))
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, generr.UserMessage(err))
	}
}
