package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/novelgen/internal/checkpoint"
	"github.com/dgallion1/novelgen/internal/config"
	"github.com/dgallion1/novelgen/internal/generate"
)

var (
	ErrQueueFull      = errors.New("job queue is full")
	ErrStopped        = errors.New("scheduler is stopped")
	ErrInvalidRequest = errors.New("invalid job request")
)

// Scheduler queues generation jobs and runs them on a fixed worker pool.
type Scheduler struct {
	jobs  *JobStore
	queue chan *Job
	gen   *generate.Orchestrator
	store checkpoint.Store
	log   *slog.Logger
	cfg   config.Config

	// backoff overrides the retry delay of every worker when set.
	backoff func(int) time.Duration

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates the pipeline. Call Start to launch workers.
func NewScheduler(cfg config.Config, gen *generate.Orchestrator, store checkpoint.Store, log *slog.Logger) *Scheduler {
	return &Scheduler{
		jobs:  NewJobStore(cfg.JobTTL),
		queue: make(chan *Job, cfg.MaxQueueSize),
		gen:   gen,
		store: store,
		log:   log,
		cfg:   cfg,
	}
}

// Start launches worker goroutines.
func (s *Scheduler) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for range s.cfg.WorkerCount {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w := NewWorker(s.gen, s.store, s.log)
			if s.backoff != nil {
				w.backoff = s.backoff
			}
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-s.queue:
					if !ok {
						return
					}
					w.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				s.jobs.Cleanup()
			}
		}
	}()
}

// Stop cancels running jobs and waits for the workers to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.queue)
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Submit queues a new job for processing.
func (s *Scheduler) Submit(req Request) (*Job, error) {
	if req.ResumeRun == "" && strings.TrimSpace(req.Settings) == "" {
		return nil, fmt.Errorf("%w: basicSettings is required", ErrInvalidRequest)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("job id: %w", err)
	}
	job := NewJob(id.String(), req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrStopped
	}
	s.jobs.Put(job)
	select {
	case s.queue <- job:
		return job, nil
	default:
		job.begin(nil, StatusFailed, "queue_full")
		job.closeSubscribers()
		return job, fmt.Errorf("%w (%d)", ErrQueueFull, s.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (s *Scheduler) GetJob(id string) *Job {
	return s.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (s *Scheduler) QueueDepth() int {
	return len(s.queue)
}

// QueueStats summarizes the scheduler for monitoring.
type QueueStats struct {
	Depth    int               `json:"depth"`
	Capacity int               `json:"capacity"`
	Workers  int               `json:"workers"`
	Jobs     map[JobStatus]int `json:"jobs"`
}

func (s *Scheduler) Stats() QueueStats {
	return QueueStats{
		Depth:    len(s.queue),
		Capacity: cap(s.queue),
		Workers:  s.cfg.WorkerCount,
		Jobs:     s.jobs.Counts(),
	}
}

// Checkpoints returns the store runs are checkpointed to.
func (s *Scheduler) Checkpoints() checkpoint.Store {
	return s.store
}
