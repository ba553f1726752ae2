package pipeline

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/novelgen/internal/checkpoint"
	"github.com/dgallion1/novelgen/internal/doctree"
	"github.com/dgallion1/novelgen/internal/generate"
	"github.com/dgallion1/novelgen/internal/llm"
	"github.com/dgallion1/novelgen/internal/llm/llmtest"
)

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(t *testing.T, b llm.Backend) (*Worker, *checkpoint.FileStore) {
	t.Helper()
	store, err := checkpoint.NewFileStore(t.TempDir())
	require.NoError(t, err)
	gen := generate.New(llmtest.Resolver{"claude": b}, quietLog(), generate.Options{})
	w := NewWorker(gen, store, quietLog())
	w.backoff = func(int) time.Duration { return 0 }
	return w, store
}

func twoLeaves() doctree.Document {
	return doctree.FromTree(doctree.Tree{
		Title: "Harbor",
		Children: []doctree.Node{
			{ID: "a", Title: "Arrival", Summary: "a boat docks", Pages: 1},
			{ID: "b", Title: "Departure", Summary: "the boat leaves", Pages: 1},
		},
	})
}

func statuses(events <-chan Event) []JobStatus {
	var out []JobStatus
	for e := range events {
		if e.Type == EventStatus {
			out = append(out, e.Status)
		}
	}
	return out
}

func TestWorkerStructureThenContent(t *testing.T) {
	structure := `{"title":"Lighthouse","summary":"s","children":[{"title":"Night","summary":"storm","n_pages":1,"needsSubdivision":false}]}`
	b := llmtest.New("claude", llmtest.Reply{Text: structure}, llmtest.Fragments("The lamp ", "burned."))
	w, store := newTestWorker(t, b)

	job := NewJob("job-structure", Request{Settings: "a keeper", Provider: "claude", Genre: doctree.GenreNovel})
	events, _ := job.Subscribe()
	go w.Process(context.Background(), job)

	assert.Equal(t, []JobStatus{StatusStructuring, StatusGenerating, StatusCompleted}, statuses(events))

	snap := job.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, "Lighthouse", snap.Title)
	assert.Equal(t, "The lamp burned.", snap.Document.Tree.Leaves()[0].Content)

	rec, err := store.Load(context.Background(), "job-structure")
	require.NoError(t, err)
	assert.Equal(t, "The lamp burned.", rec.Document.Tree.Leaves()[0].Content)
	assert.Empty(t, rec.FailedLeaf)
	assert.Equal(t, "a keeper", rec.Settings)
}

func TestWorkerRetriesFromFailedLeaf(t *testing.T) {
	overloaded := &llm.BackendError{Provider: "claude", StatusCode: 529, Message: "overloaded"}
	b := llmtest.New("claude",
		llmtest.Fragments("Ropes creak."),
		llmtest.Reply{Fragments: []string{"The sail "}, Err: overloaded},
		llmtest.Fragments("The sail fills."),
	)
	w, _ := newTestWorker(t, b)

	job := NewJob("job-retry", Request{Settings: "s", Provider: "claude", Document: twoLeaves()})
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	require.Equal(t, StatusCompleted, snap.Status)
	leaves := snap.Document.Tree.Leaves()
	assert.Equal(t, "Ropes creak.", leaves[0].Content)
	assert.Equal(t, "The sail fills.", leaves[1].Content)
	assert.Len(t, snap.Progress.Errors, 1)
	assert.Equal(t, 100.0, snap.Progress.Percent)

	reqs := b.Requests()
	require.Len(t, reqs, 3, "the first leaf is not written twice")
	assert.Contains(t, reqs[2].User, "Ropes creak.")
}

func TestWorkerCheckpointsFailure(t *testing.T) {
	b := llmtest.New("claude",
		llmtest.Fragments("Ropes creak."),
		llmtest.Reply{Err: errors.New("malformed request")},
	)
	w, store := newTestWorker(t, b)

	job := NewJob("job-fail", Request{Settings: "s", Provider: "claude", Document: twoLeaves()})
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "b", snap.FailedLeaf)
	assert.NotEmpty(t, snap.Phase)
	assert.Len(t, b.Requests(), 2, "non-retryable failures are not retried")

	rec, err := store.Load(context.Background(), "job-fail")
	require.NoError(t, err)
	assert.Equal(t, "b", rec.FailedLeaf)
	assert.Contains(t, rec.Error, "malformed request")
	assert.Equal(t, "Ropes creak.", rec.Document.Tree.Leaves()[0].Content)
	assert.Equal(t, "b", ResumePoint(rec))
}

func TestWorkerResumesCheckpointedRun(t *testing.T) {
	b := llmtest.New("claude", llmtest.Fragments("The sail fills."))
	w, store := newTestWorker(t, b)

	doc := twoLeaves()
	doc.Tree.Children[0].Content = "Ropes creak."
	require.NoError(t, store.Save(context.Background(), checkpoint.Record{
		RunID: "earlier-run", Genre: doctree.GenreNovel, Provider: "claude",
		Settings: "a harbor town", Document: doc, FailedLeaf: "b", Error: "overloaded",
	}))

	job := NewJob("job-resume", Request{ResumeRun: "earlier-run"})
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	require.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, "The sail fills.", snap.Document.Tree.Leaves()[1].Content)

	reqs := b.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Secondary, "a harbor town")

	rec, err := store.Load(context.Background(), "earlier-run")
	require.NoError(t, err)
	assert.Empty(t, rec.FailedLeaf)
	assert.Empty(t, rec.Error)
	assert.Equal(t, "The sail fills.", rec.Document.Tree.Leaves()[1].Content)
}

func TestWorkerResumeWithNothingLeft(t *testing.T) {
	b := llmtest.New("claude")
	w, store := newTestWorker(t, b)

	doc := twoLeaves()
	doc.Tree.Children[0].Content = "one"
	doc.Tree.Children[1].Content = "two"
	require.NoError(t, store.Save(context.Background(), checkpoint.Record{
		RunID: "finished", Genre: doctree.GenreNovel, Provider: "claude", Settings: "s", Document: doc,
	}))

	job := NewJob("job-noop", Request{ResumeRun: "finished"})
	w.Process(context.Background(), job)

	assert.Equal(t, StatusCompleted, job.Snapshot().Status)
	assert.Empty(t, b.Requests())
}

func TestWorkerResumeUnknownRun(t *testing.T) {
	w, _ := newTestWorker(t, llmtest.New("claude"))
	job := NewJob("job-missing", Request{ResumeRun: "nope"})
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	require.Len(t, snap.Progress.Errors, 1)
	assert.Contains(t, snap.Progress.Errors[0], "not found")
}

func TestWorkerSkipsCancelledJob(t *testing.T) {
	b := llmtest.New("claude")
	w, _ := newTestWorker(t, b)

	job := NewJob("job-cancelled", Request{Settings: "s", Provider: "claude", Document: twoLeaves()})
	require.True(t, job.Cancel())
	w.Process(context.Background(), job)

	assert.Equal(t, StatusCancelled, job.Snapshot().Status)
	assert.Empty(t, b.Requests())
}

// stallingBackend streams one fragment and then waits for cancellation.
type stallingBackend struct{}

func (stallingBackend) Name() string { return "claude" }

func (stallingBackend) Generate(ctx context.Context, _ llm.Request) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (stallingBackend) Stream(ctx context.Context, _ llm.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !yield("one", nil) {
			return
		}
		<-ctx.Done()
		yield("", ctx.Err())
	}
}

func TestWorkerCancelWhileGenerating(t *testing.T) {
	w, store := newTestWorker(t, stallingBackend{})

	job := NewJob("job-stop", Request{Settings: "s", Provider: "claude", Document: twoLeaves()})
	events, unsubscribe := job.Subscribe()

	done := make(chan struct{})
	go func() {
		w.Process(context.Background(), job)
		close(done)
	}()
	for e := range events {
		if e.Type == generate.EventChunk {
			job.Cancel()
			break
		}
	}
	unsubscribe()
	<-done

	snap := job.Snapshot()
	assert.Equal(t, StatusCancelled, snap.Status)
	assert.Equal(t, "a", snap.FailedLeaf)
	assert.Equal(t, "one", snap.Document.Tree.Leaves()[0].Content)

	rec, err := store.Load(context.Background(), "job-stop")
	require.NoError(t, err)
	assert.Equal(t, "a", rec.FailedLeaf)
	assert.Equal(t, "a", ResumePoint(rec))
}
