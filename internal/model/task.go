package model

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusReady     TaskStatus = "ready"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
	// TaskStatusWaiting indicates the task is blocked on a dependency.
	TaskStatusWaiting TaskStatus = "waiting"
	TaskStatusPaused  TaskStatus = "paused"
)

// IsTerminal returns true when the status can't change anymore by itself.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Priority is the ordinal priority of a task or job, higher runs first.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority parses a priority name. Empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	}
	return 0, fmt.Errorf("unknown priority %q: %w", s, ErrNotValid)
}

const (
	// DefaultTaskMaxRetries is the number of retries a task has when not set.
	DefaultTaskMaxRetries = 3
	// DefaultTaskTimeout is the executor timeout a task has when not set.
	DefaultTaskTimeout = 60 * time.Second
)

// TaskResult is the outcome of executing a task.
type TaskResult struct {
	Success  bool
	Message  string
	Output   any
	Error    string
	Duration time.Duration
}

// Task is a single unit of work of a plan.
type Task struct {
	ID          string
	Name        string
	Description string
	// Operation is the opaque `capability.action` string understood by the executors.
	Operation string
	// Capability and Action are the routing metadata derived from the operation.
	Capability           Capability
	Action               string
	Parameters           map[string]any
	Status               TaskStatus
	Priority             Priority
	Dependencies         []string
	Result               *TaskResult
	RetryCount           int
	MaxRetries           int
	Timeout              time.Duration
	RequiresConfirmation bool
	Metadata             map[string]string
	CreatedAt            time.Time
	StartedAt            *time.Time
	CompletedAt          *time.Time

	// OnComplete is called when the task completes successfully.
	OnComplete func(t *Task)
	// OnError is called when the task fails.
	OnError func(t *Task)
}

// NewTask returns a pending task with the defaults set and the routing metadata
// derived from the operation.
func NewTask(id, name, operation string, params map[string]any, deps ...string) *Task {
	t := &Task{
		ID:           id,
		Name:         name,
		Operation:    operation,
		Parameters:   params,
		Dependencies: deps,
	}
	t.SetDefaults()
	return t
}

// SetDefaults fills the missing fields of a task.
func (t *Task) SetDefaults() {
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	if t.Priority == 0 {
		t.Priority = PriorityNormal
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = DefaultTaskMaxRetries
	}
	if t.Timeout == 0 {
		t.Timeout = DefaultTaskTimeout
	}
	if t.Parameters == nil {
		t.Parameters = map[string]any{}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Capability == "" {
		if c, action, err := ParseOperation(t.Operation); err == nil {
			t.Capability = c
			t.Action = action
		}
	}
}

// IsReady returns true if the task is pending and all its dependencies are
// in the completed set.
func (t *Task) IsReady(completed map[string]bool) bool {
	if t.Status != TaskStatusPending {
		return false
	}
	for _, dep := range t.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// Start moves the task to running.
func (t *Task) Start() error {
	switch t.Status {
	case TaskStatusPending, TaskStatusReady, TaskStatusWaiting:
	default:
		return fmt.Errorf("task %q can't start from %s: %w", t.ID, t.Status, ErrIllegalTransition)
	}

	now := time.Now().UTC()
	t.Status = TaskStatusRunning
	t.StartedAt = &now
	return nil
}

// Complete sets the result of a running task, the task ends completed or failed
// depending on the result.
func (t *Task) Complete(r TaskResult) error {
	if t.Status != TaskStatusRunning {
		return fmt.Errorf("task %q can't complete from %s: %w", t.ID, t.Status, ErrIllegalTransition)
	}

	t.finish(r)
	return nil
}

// Fail marks a task that has not finished as failed without running it.
func (t *Task) Fail(reason string) error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("task %q can't fail from %s: %w", t.ID, t.Status, ErrIllegalTransition)
	}

	t.finish(TaskResult{Success: false, Error: reason})
	return nil
}

func (t *Task) finish(r TaskResult) {
	now := time.Now().UTC()
	t.CompletedAt = &now
	if r.Duration == 0 && t.StartedAt != nil {
		r.Duration = now.Sub(*t.StartedAt)
	}
	t.Result = &r

	if r.Success {
		t.Status = TaskStatusCompleted
		if t.OnComplete != nil {
			t.OnComplete(t)
		}
		return
	}

	t.Status = TaskStatusFailed
	if t.OnError != nil {
		t.OnError(t)
	}
}

// Cancel cancels a task that has not started yet.
func (t *Task) Cancel() error {
	if t.Status != TaskStatusPending && t.Status != TaskStatusWaiting {
		return fmt.Errorf("task %q can't be cancelled from %s: %w", t.ID, t.Status, ErrIllegalTransition)
	}

	t.Status = TaskStatusCancelled
	return nil
}

// CanRetry returns true if the task failed and has retries left.
func (t *Task) CanRetry() bool {
	return t.Status == TaskStatusFailed && t.RetryCount < t.MaxRetries
}

// Retry returns a failed task to pending so it can be executed again.
func (t *Task) Retry() error {
	if !t.CanRetry() {
		return fmt.Errorf("task %q can't be retried (status %s, retries %d/%d): %w", t.ID, t.Status, t.RetryCount, t.MaxRetries, ErrIllegalTransition)
	}

	t.RetryCount++
	t.Status = TaskStatusPending
	t.StartedAt = nil
	t.CompletedAt = nil
	t.Result = nil
	return nil
}
