package lib

import (
	"context"
	"errors"
	"time"

	"github.com/slok/stepper/internal/checkpoint"
	"github.com/slok/stepper/internal/executor"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/orchestrator"
)

// Sentinel errors that can be checked with [errors.Is].
var (
	// ErrNotFound is returned when the resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when the resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when the input is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrIllegalTransition is returned when the state does not allow the operation.
	ErrIllegalTransition = errors.New("illegal transition")
)

// ExecutorType identifies the executors used to run the operations.
type ExecutorType string

const (
	// ExecutorHost runs command and script operations with the host shell and
	// container operations with Docker.
	ExecutorHost ExecutorType = "host"
	// ExecutorFake succeeds every operation without side effects.
	// Use this for testing without infrastructure dependencies.
	ExecutorFake ExecutorType = "fake"
)

// Strategy is the execution strategy of a plan.
type Strategy string

const (
	// StrategySequential runs the tasks one by one in declaration order.
	StrategySequential Strategy = "sequential"
	// StrategyParallel runs every ready task concurrently.
	StrategyParallel Strategy = "parallel"
	// StrategyMixed runs the plan by dependency layers.
	StrategyMixed Strategy = "mixed"
)

// TaskStatus is the status of a task or a whole run.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// CheckpointStatus is the status of a checkpoint.
type CheckpointStatus string

const (
	CheckpointStatusActive    CheckpointStatus = "active"
	CheckpointStatusPaused    CheckpointStatus = "paused"
	CheckpointStatusFailed    CheckpointStatus = "failed"
	CheckpointStatusCompleted CheckpointStatus = "completed"
	CheckpointStatusExpired   CheckpointStatus = "expired"
)

// Result is the outcome of an operation executed by a custom executor.
type Result struct {
	Success  bool
	Message  string
	Data     any
	Error    string
	Duration time.Duration
}

// Executor executes the operations of a capability.
//
// Operations are named `capability.action` (e.g. `browser.open`). Failures must
// be reported on the result.
type Executor interface {
	Execute(ctx context.Context, operation string, params map[string]any) Result
}

// ExecutorFunc is a helper to create executors from functions.
type ExecutorFunc func(ctx context.Context, operation string, params map[string]any) Result

// Execute satisfies [Executor].
func (f ExecutorFunc) Execute(ctx context.Context, operation string, params map[string]any) Result {
	return f(ctx, operation, params)
}

// Progress is the progress summary of a run.
type Progress struct {
	Total     int
	Completed int
	Failed    int
	Cancelled int
	Running   int
	Pending   int
	Percent   float64
}

// Report is the summary of a run.
type Report struct {
	// PlanID is the unique identifier of the executed plan.
	PlanID   string
	PlanName string
	Request  string
	Strategy Strategy
	// CheckpointID is the checkpoint to resume the run with.
	CheckpointID string
	Status       TaskStatus
	Success      bool
	// Interrupted is true when the run was stopped before finishing (e.g. context cancellation).
	Interrupted bool
	Message     string
	Progress    Progress
	Tasks       []TaskReport
	Duration    time.Duration
}

// TaskReport is the summary of a task of a run.
type TaskReport struct {
	ID        string
	Name      string
	Operation string
	Status    TaskStatus
	Message   string
	Output    any
	Error     string
	Retries   int
	Duration  time.Duration
}

// Checkpoint is the durable progress of a run.
type Checkpoint struct {
	// ID is the unique identifier (ULID) of the checkpoint.
	ID          string
	UserID      string
	Description string
	Status      CheckpointStatus
	CurrentStep int
	TotalSteps  int
	// Steps has the completed steps followed by the pending ones.
	Steps       []Step
	Variables   map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PausedAt    *time.Time
	ExpiresAt   *time.Time
	TotalTokens int
	RetryCount  int
	LastError   string
	// Resumable is true when the checkpoint can be resumed.
	Resumable bool
}

// Step is a step of a checkpoint.
type Step struct {
	Index      int
	Name       string
	Capability string
	// Completed is true when the step has been executed successfully or skipped.
	Completed bool
	Output    string
	Error     string
}

// CheckpointStatistics is the summary of the stored checkpoints.
type CheckpointStatistics struct {
	Total       int
	ByStatus    map[CheckpointStatus]int
	TotalTokens int
	Resumable   int
}

func toInternalExecutor(e Executor) executor.Executor {
	return executor.ExecutorFunc(func(ctx context.Context, operation string, params map[string]any) executor.Result {
		r := e.Execute(ctx, operation, params)
		return executor.Result{
			Success:  r.Success,
			Message:  r.Message,
			Data:     r.Data,
			Error:    r.Error,
			Duration: r.Duration,
		}
	})
}

func fromInternalReport(r *orchestrator.Report) *Report {
	rep := &Report{
		PlanID:       r.PlanID,
		PlanName:     r.PlanName,
		Request:      r.Request,
		Strategy:     Strategy(r.Strategy),
		CheckpointID: r.CheckpointID,
		Status:       TaskStatus(r.Status),
		Success:      r.Success,
		Interrupted:  r.Interrupted,
		Message:      r.Message,
		Progress: Progress{
			Total:     r.Progress.Total,
			Completed: r.Progress.Completed,
			Failed:    r.Progress.Failed,
			Cancelled: r.Progress.Cancelled,
			Running:   r.Progress.Running,
			Pending:   r.Progress.Pending,
			Percent:   r.Progress.Percent,
		},
		Duration: r.Duration,
	}

	for _, t := range r.Tasks {
		rep.Tasks = append(rep.Tasks, TaskReport{
			ID:        t.ID,
			Name:      t.Name,
			Operation: t.Operation,
			Status:    TaskStatus(t.Status),
			Message:   t.Message,
			Output:    t.Output,
			Error:     t.Error,
			Retries:   t.Retries,
			Duration:  t.Duration,
		})
	}

	return rep
}

func fromInternalCheckpoint(c model.Checkpoint, now time.Time) Checkpoint {
	cp := Checkpoint{
		ID:          c.TaskID,
		UserID:      c.UserID,
		Description: c.Description,
		Status:      CheckpointStatus(c.Status),
		CurrentStep: c.CurrentStep,
		TotalSteps:  c.TotalSteps,
		Variables:   c.Variables,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		PausedAt:    c.PausedAt,
		ExpiresAt:   c.ExpiresAt,
		TotalTokens: c.TotalTokens,
		RetryCount:  c.RetryCount,
		LastError:   c.LastError,
		Resumable:   c.IsResumable(now),
	}

	for _, s := range c.CompletedSteps {
		cp.Steps = append(cp.Steps, Step{
			Index:      s.Index,
			Name:       s.Name,
			Capability: string(s.Capability),
			Completed:  true,
			Output:     s.Output,
			Error:      s.Error,
		})
	}
	for _, s := range c.PendingSteps {
		cp.Steps = append(cp.Steps, Step{
			Index:      s.Index,
			Name:       s.Name,
			Capability: string(s.Capability),
		})
	}

	return cp
}

func fromInternalCheckpointList(cs []model.Checkpoint, now time.Time) []Checkpoint {
	res := make([]Checkpoint, 0, len(cs))
	for _, c := range cs {
		res = append(res, fromInternalCheckpoint(c, now))
	}
	return res
}

func fromInternalStatistics(s *checkpoint.Statistics) *CheckpointStatistics {
	stats := &CheckpointStatistics{
		Total:       s.Total,
		ByStatus:    map[CheckpointStatus]int{},
		TotalTokens: s.TotalTokens,
		Resumable:   s.Resumable,
	}
	for st, n := range s.ByStatus {
		stats.ByStatus[CheckpointStatus(st)] = n
	}
	return stats
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, model.ErrNotFound):
		return joinErrors(err, ErrNotFound)
	case errors.Is(err, model.ErrAlreadyExists):
		return joinErrors(err, ErrAlreadyExists)
	case errors.Is(err, model.ErrNotValid):
		return joinErrors(err, ErrNotValid)
	case errors.Is(err, model.ErrIllegalTransition):
		return joinErrors(err, ErrIllegalTransition)
	default:
		return err
	}
}

func joinErrors(original, sentinel error) error {
	return &mappedError{original: original, sentinel: sentinel}
}

type mappedError struct {
	original error
	sentinel error
}

func (e *mappedError) Error() string { return e.original.Error() }

func (e *mappedError) Is(target error) bool {
	return target == e.sentinel
}

func (e *mappedError) Unwrap() error { return e.original }
