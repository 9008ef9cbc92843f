package workqueue

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"

	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
)

// QueueConfig is the configuration of the priority work queue.
type QueueConfig struct {
	MaxWorkers   int
	MaxQueueSize int
	// PollInterval is how often the dispatch loop wakes up while waiting for jobs.
	PollInterval time.Duration
	// OnComplete is called for every finished job.
	OnComplete func(Job)
	// OnProgress is called for every progress update of any job.
	OnProgress func(Job)
	Logger     log.Logger
	// Now is used to get the current time, useful for tests.
	Now func() time.Time
}

func (c *QueueConfig) defaults() error {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 1000
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "workqueue.Queue"})
	return nil
}

// Queue is a priority work queue that runs the submitted jobs on a bounded
// worker pool. Jobs only live in memory.
type Queue struct {
	maxWorkers   int
	maxQueueSize int
	pollInterval time.Duration
	onComplete   func(Job)
	onProgress   func(Job)
	logger       log.Logger
	now          func() time.Time

	sem    *semaphore.Weighted
	notify chan struct{}

	mu     sync.Mutex
	jobs   map[string]*job
	queued jobHeap
	seq    uint64
}

// NewQueue returns a new priority work queue.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Queue{
		maxWorkers:   cfg.MaxWorkers,
		maxQueueSize: cfg.MaxQueueSize,
		pollInterval: cfg.PollInterval,
		onComplete:   cfg.OnComplete,
		onProgress:   cfg.OnProgress,
		logger:       cfg.Logger,
		now:          cfg.Now,
		sem:          semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		notify:       make(chan struct{}, 1),
		jobs:         map[string]*job{},
	}, nil
}

// Submit registers a job and enqueues it, returns the job ID.
func (q *Queue) Submit(req SubmitRequest) (string, error) {
	if req.Func == nil {
		return "", fmt.Errorf("job func is required: %w", model.ErrNotValid)
	}
	if req.Priority == 0 {
		req.Priority = model.PriorityNormal
	}
	if req.Name == "" {
		req.Name = "job"
	}

	q.mu.Lock()
	if q.queuedCount() >= q.maxQueueSize {
		q.mu.Unlock()
		return "", fmt.Errorf("%d jobs queued: %w", q.maxQueueSize, model.ErrQueueFull)
	}

	q.seq++
	j := &job{
		Job: Job{
			ID:        ulid.Make().String(),
			Name:      req.Name,
			Status:    JobStatusPending,
			Priority:  req.Priority,
			UserID:    req.UserID,
			SessionID: req.SessionID,
			Metadata:  req.Metadata,
			CreatedAt: q.now(),
		},
		seq:        q.seq,
		fn:         req.Func,
		onComplete: req.OnComplete,
		onProgress: req.OnProgress,
	}
	q.jobs[j.ID] = j
	heap.Push(&q.queued, j)
	j.Status = JobStatusQueued
	q.mu.Unlock()

	q.logger.Debugf("Job %q (%s) submitted with %s priority", j.ID, j.Name, j.Priority)

	// Wake up the dispatch loop.
	select {
	case q.notify <- struct{}{}:
	default:
	}

	return j.ID, nil
}

// queuedCount must be called with the lock held.
func (q *Queue) queuedCount() int {
	n := 0
	for _, j := range q.queued {
		if j.Status == JobStatusQueued || j.Status == JobStatusPending {
			n++
		}
	}
	return n
}

// Cancel cancels a job. Jobs not started are cancelled right away, running jobs
// get their context cancelled and end as cancelled when they return.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	j, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("job %q: %w", id, model.ErrNotFound)
	}

	switch j.Status {
	case JobStatusPending, JobStatusQueued:
		now := q.now()
		j.Status = JobStatusCancelled
		j.CompletedAt = &now
		snap := j.snapshot()
		q.mu.Unlock()

		q.logger.Infof("Job %q cancelled", id)
		q.fireComplete(j, snap)
		return nil
	case JobStatusRunning:
		cancel := j.cancel
		j.cancelRequested = true
		q.mu.Unlock()

		q.logger.Infof("Requested cancellation of running job %q", id)
		if cancel != nil {
			cancel()
		}
		return nil
	}

	status := j.Status
	q.mu.Unlock()
	return fmt.Errorf("job %q is %s: %w", id, status, model.ErrIllegalTransition)
}

// Get returns a job snapshot.
func (q *Queue) Get(id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %q: %w", id, model.ErrNotFound)
	}
	snap := j.snapshot()
	return &snap, nil
}

// List returns the jobs of a user (all of them if empty), newest first.
func (q *Queue) List(userID string, limit int) []Job {
	q.mu.Lock()
	jobs := make([]Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		if userID != "" && j.UserID != userID {
			continue
		}
		jobs = append(jobs, j.snapshot())
	}
	q.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

// Stats is the summary of the queue.
type Stats struct {
	QueueSize  int
	Running    int
	Total      int
	MaxWorkers int
	ByStatus   map[JobStatus]int
}

// Stats returns the queue depth and the job count per status.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		QueueSize:  q.queuedCount(),
		Total:      len(q.jobs),
		MaxWorkers: q.maxWorkers,
		ByStatus:   map[JobStatus]int{},
	}
	for _, j := range q.jobs {
		s.ByStatus[j.Status]++
	}
	s.Running = s.ByStatus[JobStatusRunning]
	return s
}

// CleanupOld removes the finished jobs that completed before maxAge. Returns
// the number of removed jobs.
func (q *Queue) CleanupOld(maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-maxAge)
	removed := 0
	for id, j := range q.jobs {
		if !j.Status.IsTerminal() || j.CompletedAt == nil || !j.CompletedAt.Before(cutoff) {
			continue
		}
		delete(q.jobs, id)
		removed++
	}

	// Drop the cancelled jobs that were never dequeued.
	kept := q.queued[:0]
	for _, j := range q.queued {
		if _, ok := q.jobs[j.ID]; ok {
			kept = append(kept, j)
		}
	}
	for i := len(kept); i < len(q.queued); i++ {
		q.queued[i] = nil
	}
	q.queued = kept
	heap.Init(&q.queued)

	if removed > 0 {
		q.logger.Infof("Removed %d old jobs", removed)
	}
	return removed
}

// Run runs the dispatch loop until the context is cancelled, it waits for the
// running jobs before returning.
func (q *Queue) Run(ctx context.Context) error {
	q.logger.Infof("Work queue started with %d workers", q.maxWorkers)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		// Wait for a free worker before dequeuing so the next job is the
		// highest priority one at the moment a worker is available.
		if err := q.sem.Acquire(ctx, 1); err != nil {
			q.logger.Infof("Work queue stopped")
			return nil
		}

		j, ok := q.next(ctx)
		if !ok {
			q.sem.Release(1)
			q.logger.Infof("Work queue stopped")
			return nil
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer q.sem.Release(1)
			q.execute(j)
		}()
	}
}

// next blocks until a job is dequeued or the context is done. The dequeued job is
// set as running.
func (q *Queue) next(ctx context.Context) (*job, bool) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		if j := q.dequeue(ctx); j != nil {
			return j, true
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.notify:
		case <-ticker.C:
		}
	}
}

func (q *Queue) dequeue(ctx context.Context) *job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ctx.Err() != nil {
		return nil
	}

	for q.queued.Len() > 0 {
		j := heap.Pop(&q.queued).(*job)
		if j.Status != JobStatusQueued {
			continue
		}

		jobCtx, cancel := context.WithCancel(q.logger.SetValuesOnCtx(ctx, log.Kv{"job": j.ID}))
		now := q.now()
		j.Status = JobStatusRunning
		j.StartedAt = &now
		j.ctx = jobCtx
		j.cancel = cancel
		return j
	}

	return nil
}

func (q *Queue) execute(j *job) {
	logger := q.logger.WithValues(log.Kv{"job-id": j.ID, "job": j.Name})
	logger.Debugf("Job started")

	res, err := q.safeRun(j)

	q.mu.Lock()
	cancel := j.cancel
	cancelled := j.cancelRequested && err != nil
	now := q.now()
	j.CompletedAt = &now
	j.cancel = nil
	j.Result = res
	switch {
	case cancelled:
		j.Status = JobStatusCancelled
		j.Error = err.Error()
	case err != nil:
		j.Status = JobStatusFailed
		j.Error = err.Error()
	default:
		j.Status = JobStatusCompleted
		j.Progress = 100
	}
	snap := j.snapshot()
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	switch snap.Status {
	case JobStatusFailed:
		logger.Warningf("Job failed: %s", snap.Error)
	default:
		logger.Debugf("Job %s", snap.Status)
	}
	q.fireComplete(j, snap)
}

func (q *Queue) safeRun(j *job) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	return j.fn(j.ctx, progress{q: q, j: j})
}

func (q *Queue) fireComplete(j *job, snap Job) {
	if j.onComplete != nil {
		j.onComplete(snap)
	}
	if q.onComplete != nil {
		q.onComplete(snap)
	}
}

type progress struct {
	q *Queue
	j *job
}

func (p progress) Update(percent int, message string) {
	percent = max(0, min(100, percent))

	p.q.mu.Lock()
	p.j.Progress = percent
	p.j.ProgressMessage = message
	snap := p.j.snapshot()
	p.q.mu.Unlock()

	if p.j.onProgress != nil {
		p.j.onProgress(snap)
	}
	if p.q.onProgress != nil {
		p.q.onProgress(snap)
	}
}
