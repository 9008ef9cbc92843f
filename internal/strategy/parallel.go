package strategy

import (
	"context"

	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
)

// ParallelConfig is the configuration of the parallel strategy.
type ParallelConfig struct {
	MaxWorkers int
	Logger     log.Logger
}

func (c *ParallelConfig) defaults() error {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "strategy.Parallel"})
	return nil
}

// Parallel runs every ready task concurrently, bounded by the max workers.
type Parallel struct {
	maxWorkers int
	logger     log.Logger
}

// NewParallel returns a new parallel strategy.
func NewParallel(cfg ParallelConfig) (*Parallel, error) {
	if err := cfg.defaults(); err != nil {
		return nil, err
	}

	return &Parallel{
		maxWorkers: cfg.MaxWorkers,
		logger:     cfg.Logger,
	}, nil
}

func (p *Parallel) Execute(ctx context.Context, plan *model.TaskPlan, exec ExecuteTaskFunc) error {
	return p.run(ctx, plan.Tasks, plan.Completed(), exec)
}

type taskDone struct {
	task   *model.Task
	result model.TaskResult
}

// run executes the tasks until none is ready and none is running. The status of the
// tasks is only mutated on this goroutine, workers only run the executor. Tasks that
// can't become ready anymore are failed with a dependency error.
func (p *Parallel) run(ctx context.Context, tasks []*model.Task, completed map[string]bool, exec ExecuteTaskFunc) error {
	results := make(chan taskDone)
	running := 0

	for {
		if ctx.Err() == nil {
			for _, t := range tasks {
				if running >= p.maxWorkers {
					break
				}
				if !t.IsReady(completed) {
					continue
				}
				if err := t.Start(); err != nil {
					p.logger.Warningf("Could not start task %q: %s", t.ID, err)
					continue
				}

				running++
				go func(t *model.Task) {
					results <- taskDone{task: t, result: exec(ctx, t)}
				}(t)
			}
		}

		if running == 0 {
			break
		}

		done := <-results
		running--
		_ = done.task.Complete(done.result)
		if done.task.Status == model.TaskStatusCompleted {
			completed[done.task.ID] = true
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	for _, t := range tasks {
		if t.Status == model.TaskStatusPending {
			p.logger.Warningf("Task %q has unmet dependencies", t.ID)
			_ = t.Fail(dependencyReason(t))
		}
	}

	return nil
}
