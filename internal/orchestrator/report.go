package orchestrator

import (
	"fmt"
	"time"

	"github.com/slok/stepper/internal/model"
)

// Report is the summary of a plan execution.
type Report struct {
	PlanID       string
	PlanName     string
	Request      string
	Strategy     model.StrategyKind
	CheckpointID string
	Status       model.TaskStatus
	Success      bool
	// Interrupted is true when the execution was stopped before finishing.
	Interrupted bool
	Message     string
	Progress    model.PlanProgress
	Tasks       []TaskReport
	Duration    time.Duration
}

// TaskReport is the summary of a task execution.
type TaskReport struct {
	ID        string
	Name      string
	Operation string
	Status    model.TaskStatus
	Message   string
	Output    any
	Error     string
	Retries   int
	Duration  time.Duration
}

func newReport(plan *model.TaskPlan, checkpointID string, duration time.Duration) *Report {
	progress := plan.Progress()
	status := plan.Status()

	r := &Report{
		PlanID:       plan.ID,
		PlanName:     plan.Name,
		Request:      plan.Request,
		Strategy:     plan.Strategy,
		CheckpointID: checkpointID,
		Status:       status,
		Success:      status == model.TaskStatusCompleted,
		Progress:     progress,
		Duration:     duration,
	}

	switch {
	case r.Success:
		r.Message = fmt.Sprintf("all %d tasks completed", progress.Total)
	default:
		r.Message = fmt.Sprintf("%d of %d tasks completed, %d failed, %d pending", progress.Completed, progress.Total, progress.Failed, progress.Pending)
	}

	for _, t := range plan.Tasks {
		tr := TaskReport{
			ID:        t.ID,
			Name:      t.Name,
			Operation: t.Operation,
			Status:    t.Status,
			Retries:   t.RetryCount,
		}
		if t.Result != nil {
			tr.Message = t.Result.Message
			tr.Output = t.Result.Output
			tr.Error = t.Result.Error
			tr.Duration = t.Result.Duration
		}
		r.Tasks = append(r.Tasks, tr)
	}

	return r
}

// Outputs returns the output of every completed task by task ID.
func (r *Report) Outputs() map[string]any {
	outputs := map[string]any{}
	for _, t := range r.Tasks {
		if t.Status == model.TaskStatusCompleted {
			outputs[t.ID] = t.Output
		}
	}
	return outputs
}
