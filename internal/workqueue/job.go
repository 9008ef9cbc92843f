package workqueue

import (
	"container/heap"
	"context"
	"time"

	"github.com/slok/stepper/internal/model"
)

// JobStatus is the status of a queued job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true if the job has finished.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Progress is used by the running jobs to report their progress.
type Progress interface {
	// Update sets the progress percentage (clamped to 0-100) and an optional message.
	Update(percent int, message string)
}

// JobFunc is the work of a job, it should stop when the context is cancelled.
type JobFunc func(ctx context.Context, p Progress) (any, error)

// Job is a snapshot of a queued job.
type Job struct {
	ID              string
	Name            string
	Status          JobStatus
	Priority        model.Priority
	Progress        int
	ProgressMessage string
	UserID          string
	SessionID       string
	Metadata        map[string]string
	Result          any
	Error           string
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// SubmitRequest is the request to submit a new job.
type SubmitRequest struct {
	Name      string
	Func      JobFunc
	Priority  model.Priority
	UserID    string
	SessionID string
	Metadata  map[string]string
	// OnComplete is called when the job ends, whatever the result.
	OnComplete func(Job)
	// OnProgress is called on every progress update.
	OnProgress func(Job)
}

type job struct {
	Job
	seq uint64
	fn  JobFunc
	// ctx and cancel are set when the job is dequeued.
	ctx             context.Context
	cancel          context.CancelFunc
	cancelRequested bool
	onComplete      func(Job)
	onProgress      func(Job)
}

func (j *job) snapshot() Job {
	s := j.Job
	if j.Metadata != nil {
		s.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			s.Metadata[k] = v
		}
	}
	return s
}

// jobHeap dequeues by higher priority first, ties broken by submission order.
type jobHeap []*job

var _ heap.Interface = (*jobHeap)(nil)

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*job)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}
