package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/dgallion1/novelgen/internal/doctree"
	"github.com/dgallion1/novelgen/internal/generate"
)

// JobStatus represents the state of a generation job.
type JobStatus string

const (
	StatusQueued      JobStatus = "queued"
	StatusStructuring JobStatus = "structuring"
	StatusGenerating  JobStatus = "generating"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
	StatusCancelled   JobStatus = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// EventStatus is published whenever a job changes status.
const EventStatus generate.EventType = "status"

// subscriberBuffer is the number of events a slow subscriber may fall behind
// before chunk events are dropped for it.
const subscriberBuffer = 256

// Request describes the work of one job. A zero Document means the job
// generates a structure first. ResumeRun continues a checkpointed run.
type Request struct {
	Settings     string           `json:"basicSettings"`
	Provider     string           `json:"provider"`
	Genre        doctree.Genre    `json:"genre"`
	TargetLength int              `json:"targetLength,omitempty"`
	Document     doctree.Document `json:"document"`
	StartAt      string           `json:"startAt,omitempty"`
	ResumeRun    string           `json:"resumeRun,omitempty"`
}

// Event is one message delivered to job subscribers.
type Event struct {
	generate.Event
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// Job tracks the state of a single generation run.
type Job struct {
	mu sync.Mutex

	ID      string  `json:"job_id"`
	Request Request `json:"-"`

	Status JobStatus `json:"status"`
	Phase  string    `json:"phase"`

	Progress Progress `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	doc        doctree.Document
	failedLeaf string
	issues     []string
	errors     []string
	cancel     context.CancelFunc
	subs       map[*subscriber]struct{}
	closed     bool
}

// Progress tracks generation progress.
type Progress struct {
	Percent     float64  `json:"percent"`
	LeavesDone  int      `json:"leaves_done"`
	TotalLeaves int      `json:"total_leaves"`
	CurrentLeaf string   `json:"current_leaf,omitempty"`
	Errors      []string `json:"errors"`
}

// NewJob creates a queued job.
func NewJob(id string, req Request) *Job {
	now := time.Now()
	return &Job{
		ID:        id,
		Request:   req,
		Status:    StatusQueued,
		Phase:     "queued",
		CreatedAt: now,
		UpdatedAt: now,
		doc:       req.Document,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Counts returns the number of stored jobs per status.
func (s *JobStore) Counts() map[JobStatus]int {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	out := make(map[JobStatus]int)
	for _, j := range jobs {
		out[j.Snapshot().Status]++
	}
	return out
}

// Cleanup removes finished jobs that have not changed within the TTL.
// Running jobs are kept regardless of age.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := job.Status.Terminal() && now.Sub(job.UpdatedAt) > s.ttl
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically and notifies subscribers.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
	j.mu.Unlock()
	j.publish(generate.Event{Type: EventStatus, Message: phase})
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// Document returns the latest snapshot of the job's document.
func (j *Job) Document() doctree.Document {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.doc
}

func (j *Job) setDocument(doc doctree.Document, issues []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.doc = doc
	j.issues = issues
	j.Progress.TotalLeaves = doc.CountLeaves()
	j.UpdatedAt = time.Now()
}

func (j *Job) setFailedLeaf(key string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failedLeaf = key
}

// FailedLeaf returns the key of the leaf whose generation last failed.
func (j *Job) FailedLeaf() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.failedLeaf
}

// observe folds a generation event into the job and forwards it.
func (j *Job) observe(e generate.Event) {
	j.mu.Lock()
	j.doc = e.Document
	j.Progress.Percent = e.Progress
	j.Progress.LeavesDone = e.Completed
	j.Progress.TotalLeaves = e.Total
	if e.Key != "" {
		j.Progress.CurrentLeaf = e.Key
	}
	if e.Type == generate.EventError {
		j.failedLeaf = e.Key
	}
	j.UpdatedAt = time.Now()
	j.mu.Unlock()
	j.publish(e)
}

// begin moves a queued job into its first running status. It reports false
// when the job was cancelled while queued.
func (j *Job) begin(cancel context.CancelFunc, status JobStatus, phase string) bool {
	j.mu.Lock()
	if j.Status != StatusQueued {
		j.mu.Unlock()
		return false
	}
	j.cancel = cancel
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
	j.mu.Unlock()
	j.publish(generate.Event{Type: EventStatus, Message: phase})
	return true
}

// Cancel stops a job. A queued job is marked cancelled at once and skipped
// when a worker picks it up. It reports false for a job that already ended.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	if j.Status.Terminal() {
		j.mu.Unlock()
		return false
	}
	if j.Status == StatusQueued {
		j.Status = StatusCancelled
		j.Phase = "cancelled before start"
		j.UpdatedAt = time.Now()
		j.mu.Unlock()
		j.publish(generate.Event{Type: EventStatus, Message: "cancelled before start"})
		j.closeSubscribers()
		return true
	}
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

// Subscribe returns a channel of job events and a function that ends the
// subscription. The channel is closed when the job ends.
func (j *Job) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, subscriberBuffer), done: make(chan struct{})}
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	if j.subs == nil {
		j.subs = make(map[*subscriber]struct{})
	}
	j.subs[s] = struct{}{}
	j.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			j.mu.Lock()
			delete(j.subs, s)
			j.mu.Unlock()
			close(s.done)
		})
	}
}

// publish delivers e to every subscriber. Chunk events are dropped for a
// subscriber whose buffer is full; every other event waits until the
// subscriber reads it or unsubscribes.
func (j *Job) publish(e generate.Event) {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	ev := Event{Event: e, JobID: j.ID, Status: j.Status}
	subs := make([]*subscriber, 0, len(j.subs))
	for s := range j.subs {
		subs = append(subs, s)
	}
	j.mu.Unlock()

	for _, s := range subs {
		if e.Type == generate.EventChunk {
			select {
			case s.ch <- ev:
			default:
			}
			continue
		}
		select {
		case s.ch <- ev:
		case <-s.done:
		}
	}
}

func (j *Job) closeSubscribers() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	j.closed = true
	for s := range j.subs {
		close(s.ch)
	}
	j.subs = nil
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID         string           `json:"job_id"`
	Status     JobStatus        `json:"status"`
	Phase      string           `json:"phase"`
	Title      string           `json:"title,omitempty"`
	Genre      doctree.Genre    `json:"genre,omitempty"`
	Provider   string           `json:"provider"`
	Progress   Progress         `json:"progress"`
	FailedLeaf string           `json:"failed_leaf,omitempty"`
	Issues     []string         `json:"issues,omitempty"`
	Document   doctree.Document `json:"document"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := append([]string{}, j.errors...)
	progress := j.Progress
	progress.Errors = errs
	return JobSnapshot{
		ID:         j.ID,
		Status:     j.Status,
		Phase:      j.Phase,
		Title:      j.doc.Title(),
		Genre:      j.Request.Genre,
		Provider:   j.Request.Provider,
		Progress:   progress,
		FailedLeaf: j.failedLeaf,
		Issues:     append([]string(nil), j.issues...),
		Document:   j.doc,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
}
