package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/slok/stepper/internal/checkpoint"
	"github.com/slok/stepper/internal/executor"
	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/planner"
	"github.com/slok/stepper/internal/strategy"
)

// DefaultRetryDelay is the delay between the attempts of a failed task.
const DefaultRetryDelay = time.Second

// CheckpointManager is the checkpoint store used to persist the plan executions.
type CheckpointManager interface {
	Create(ctx context.Context, req checkpoint.CreateRequest) (*model.Checkpoint, error)
	Load(ctx context.Context, taskID string) (*model.Checkpoint, error)
	UpdateStep(ctx context.Context, taskID string, r model.StepResult) (*model.Checkpoint, error)
	Pause(ctx context.Context, taskID string) (*model.Checkpoint, error)
	Resume(ctx context.Context, taskID string) (*model.Checkpoint, error)
	Complete(ctx context.Context, taskID string) (*model.Checkpoint, error)
	Fail(ctx context.Context, taskID string, reason error) (*model.Checkpoint, error)
}

var _ CheckpointManager = &checkpoint.Manager{}

// Hooks are called on the task lifecycle events. They are called from the task
// workers so they can be called concurrently, the task must not be mutated.
type Hooks struct {
	// OnTaskStart is called before every attempt.
	OnTaskStart func(t *model.Task, attempt int)
	// OnTaskComplete is called when a task succeeds.
	OnTaskComplete func(t *model.Task, r model.TaskResult)
	// OnTaskError is called when a task fails after all its attempts.
	OnTaskError func(t *model.Task, r model.TaskResult)
}

// OrchestratorConfig is the configuration of the orchestrator.
type OrchestratorConfig struct {
	Planner  planner.Planner
	Executor executor.Executor
	// Checkpoints is optional, without it executions are not persisted and can't be resumed.
	Checkpoints CheckpointManager
	MaxWorkers  int
	RetryDelay  time.Duration
	Hooks       Hooks
	Logger      log.Logger
}

func (c *OrchestratorConfig) defaults() error {
	if c.Executor == nil {
		return fmt.Errorf("executor is required")
	}
	if c.MaxWorkers == 0 {
		c.MaxWorkers = strategy.DefaultMaxWorkers
	}
	if c.MaxWorkers < 0 {
		return fmt.Errorf("max workers can't be negative")
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay can't be negative")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "orchestrator.Orchestrator"})
	return nil
}

// Orchestrator plans requests and executes the plans dispatching every task to
// the executors, retrying the failed tasks and persisting the progress.
type Orchestrator struct {
	planner     planner.Planner
	executor    executor.Executor
	checkpoints CheckpointManager
	maxWorkers  int
	retryDelay  time.Duration
	hooks       Hooks
	logger      log.Logger
}

// NewOrchestrator returns a new orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Orchestrator{
		planner:     cfg.Planner,
		executor:    cfg.Executor,
		checkpoints: cfg.Checkpoints,
		maxWorkers:  cfg.MaxWorkers,
		retryDelay:  cfg.RetryDelay,
		hooks:       cfg.Hooks,
		logger:      cfg.Logger,
	}, nil
}

// ProgressFunc receives the execution progress.
type ProgressFunc func(percent float64, message string)

// ExecuteRequest is the request to execute.
type ExecuteRequest struct {
	// Request is the free text request given to the planner.
	Request string
	// Plan skips the planner when set.
	Plan     *model.TaskPlan
	UserID   string
	Strategy model.StrategyKind
	Progress ProgressFunc
}

// Execute plans and executes a request. Task failures are reported on the returned
// report, errors are only returned when the request could not be planned or its
// execution could not be persisted.
func (o *Orchestrator) Execute(ctx context.Context, req ExecuteRequest) (*Report, error) {
	plan := req.Plan
	if plan == nil {
		if o.planner == nil {
			return nil, fmt.Errorf("a plan is required when there is no planner: %w", model.ErrNotValid)
		}
		p, err := o.planner.Plan(ctx, req.Request)
		if err != nil {
			return nil, fmt.Errorf("could not plan request: %w", err)
		}
		plan = p
	}
	if req.Strategy != "" {
		plan.Strategy = req.Strategy
	}
	if plan.Request == "" {
		plan.Request = req.Request
	}
	for _, t := range plan.Tasks {
		t.SetDefaults()
	}

	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	checkpointID := ""
	if o.checkpoints != nil {
		c, err := o.createCheckpoint(ctx, plan, req.UserID)
		if err != nil {
			return nil, err
		}
		checkpointID = c.TaskID
	}

	o.logger.WithCtxValues(ctx).Infof("Executing plan %q (%s) with %d tasks", plan.ID, plan.Strategy, len(plan.Tasks))
	return o.run(ctx, plan, checkpointID, req.Progress)
}

// Resume resumes the execution of a paused or failed checkpoint, only the steps
// that were not completed are executed.
func (o *Orchestrator) Resume(ctx context.Context, checkpointID string, progress ProgressFunc) (*Report, error) {
	if o.checkpoints == nil {
		return nil, fmt.Errorf("resuming requires a checkpoint store: %w", model.ErrNotValid)
	}

	c, err := o.checkpoints.Load(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	plan, err := planFromCheckpoint(c)
	if err != nil {
		return nil, err
	}

	if _, err := o.checkpoints.Resume(ctx, checkpointID); err != nil {
		return nil, fmt.Errorf("could not resume checkpoint: %w", err)
	}

	o.logger.WithCtxValues(ctx).Infof("Resuming plan %q at step %d (%d/%d steps completed)", plan.ID, c.CurrentStep, len(c.CompletedSteps), c.TotalSteps)
	return o.run(ctx, plan, checkpointID, progress)
}

func (o *Orchestrator) createCheckpoint(ctx context.Context, plan *model.TaskPlan, userID string) (*model.Checkpoint, error) {
	rawPlan, err := model.EncodePlan(plan)
	if err != nil {
		return nil, fmt.Errorf("could not encode plan: %w", err)
	}

	description := plan.Request
	if description == "" {
		description = plan.Name
	}

	c, err := o.checkpoints.Create(ctx, checkpoint.CreateRequest{
		UserID:      userID,
		Description: description,
		Type:        plan.Name,
		Steps:       stepsFromPlan(plan),
		Context: map[string]any{
			contextKeyPlan:    string(rawPlan),
			contextKeyRequest: plan.Request,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("could not create checkpoint: %w", err)
	}
	return c, nil
}

func (o *Orchestrator) run(ctx context.Context, plan *model.TaskPlan, checkpointID string, progress ProgressFunc) (*Report, error) {
	start := time.Now()
	strat, err := strategy.New(plan.Strategy, strategy.Config{
		MaxWorkers:    o.maxWorkers,
		StopOnFailure: !plan.ContinueOnFailure,
		Logger:        o.logger,
	})
	if err != nil {
		return nil, err
	}

	steps := make(map[string]int, len(plan.Tasks))
	for i, t := range plan.Tasks {
		steps[t.ID] = i
	}

	// The plan context stops the dispatch of new tasks when the checkpoint stops
	// accepting steps, the running ones use the caller context and are committed.
	planCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)

	total := len(plan.Tasks)
	var finished atomic.Int64
	finished.Store(int64(plan.Progress().Completed))
	exec := func(_ context.Context, t *model.Task) model.TaskResult {
		res := o.executeTask(ctx, t)
		if checkpointID != "" {
			res = o.commitStep(ctx, checkpointID, steps[t.ID], t, res, stop)
		}
		if progress != nil && total > 0 {
			n := finished.Add(1)
			progress(float64(n)/float64(total)*100, fmt.Sprintf("task %q finished (%d/%d)", t.ID, n, total))
		}
		return res
	}

	execErr := strat.Execute(planCtx, plan, exec)
	if execErr != nil {
		if cause := context.Cause(planCtx); cause != nil {
			execErr = cause
		}
	}

	report := newReport(plan, checkpointID, time.Since(start))
	if execErr != nil {
		report.Interrupted = true
		report.Message = fmt.Sprintf("execution interrupted: %s", execErr)
	}

	if checkpointID != "" {
		if err := o.finishCheckpoint(context.WithoutCancel(ctx), plan, checkpointID, execErr); err != nil {
			return report, err
		}
	}

	if execErr != nil {
		o.logger.Warningf("Plan %q interrupted: %v", plan.ID, execErr)
	} else {
		o.logger.Infof("Plan %q finished: %s", plan.ID, report.Message)
	}
	return report, nil
}

// commitStep persists the step result. A task is only considered completed once
// its step has been stored. The plan is stopped when the checkpoint was paused or
// no longer accepts steps.
func (o *Orchestrator) commitStep(ctx context.Context, checkpointID string, index int, t *model.Task, res model.TaskResult, stop context.CancelCauseFunc) model.TaskResult {
	now := time.Now().UTC()
	started := now.Add(-res.Duration)
	step := model.StepResult{
		Index:       index,
		Name:        t.Name,
		Capability:  t.Capability,
		Status:      model.StepStatusCompleted,
		Output:      res.Message,
		StartedAt:   &started,
		CompletedAt: &now,
		Duration:    res.Duration,
		Metadata:    map[string]any{"task_id": t.ID, "retries": t.RetryCount},
	}
	if !res.Success {
		step.Status = model.StepStatusFailed
		step.Error = res.Error
	}

	c, err := o.checkpoints.UpdateStep(context.WithoutCancel(ctx), checkpointID, step)
	if err == nil {
		if c.Status == model.CheckpointStatusPaused {
			o.logger.Infof("Checkpoint %q was paused, stopping the plan after task %q", checkpointID, t.ID)
			stop(fmt.Errorf("checkpoint %q was paused", checkpointID))
		}
		return res
	}

	o.logger.Errorf("Could not commit step %d of checkpoint %q: %v", index, checkpointID, err)
	if errors.Is(err, model.ErrIllegalTransition) {
		stop(fmt.Errorf("checkpoint %q doesn't accept steps: %w", checkpointID, err))
	}
	if !res.Success {
		return res
	}
	if !errors.Is(err, model.ErrPersistence) {
		err = fmt.Errorf("%w: %w", model.ErrPersistence, err)
	}
	return model.TaskResult{
		Success:  false,
		Message:  "step executed but not committed",
		Output:   res.Output,
		Error:    err.Error(),
		Duration: res.Duration,
	}
}

func (o *Orchestrator) finishCheckpoint(ctx context.Context, plan *model.TaskPlan, checkpointID string, execErr error) error {
	c, err := o.checkpoints.Load(ctx, checkpointID)
	if err != nil {
		return fmt.Errorf("could not load checkpoint: %w", err)
	}

	switch {
	case execErr != nil:
		if c.Status == model.CheckpointStatusActive {
			_, err = o.checkpoints.Pause(ctx, checkpointID)
		}
	case plan.Status() == model.TaskStatusCompleted:
		if c.Status != model.CheckpointStatusCompleted {
			_, err = o.checkpoints.Complete(ctx, checkpointID)
		}
	default:
		if c.Status == model.CheckpointStatusActive {
			_, err = o.checkpoints.Fail(ctx, checkpointID, failureReason(plan))
		}
	}
	if err != nil {
		return fmt.Errorf("could not update checkpoint: %w", err)
	}
	return nil
}

func failureReason(plan *model.TaskPlan) error {
	failed := plan.FailedTasks()
	if len(failed) == 0 {
		return fmt.Errorf("plan did not complete")
	}

	t := failed[0]
	msg := "unknown error"
	if t.Result != nil && t.Result.Error != "" {
		msg = t.Result.Error
	}
	return fmt.Errorf("task %q failed: %s", t.ID, msg)
}
