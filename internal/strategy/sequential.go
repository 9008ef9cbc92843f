package strategy

import (
	"context"

	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
)

// SequentialConfig is the configuration of the sequential strategy.
type SequentialConfig struct {
	// StopOnFailure aborts the remaining tasks after the first failure.
	StopOnFailure bool
	Logger        log.Logger
}

func (c *SequentialConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "strategy.Sequential"})
	return nil
}

// Sequential runs the tasks one by one in declared order.
type Sequential struct {
	stopOnFailure bool
	logger        log.Logger
}

// NewSequential returns a new sequential strategy.
func NewSequential(cfg SequentialConfig) (*Sequential, error) {
	if err := cfg.defaults(); err != nil {
		return nil, err
	}

	return &Sequential{
		stopOnFailure: cfg.StopOnFailure,
		logger:        cfg.Logger,
	}, nil
}

func (s *Sequential) Execute(ctx context.Context, plan *model.TaskPlan, exec ExecuteTaskFunc) error {
	for _, t := range plan.Tasks {
		if err := ctx.Err(); err != nil {
			return err
		}

		if t.Status != model.TaskStatusPending {
			continue
		}

		if !t.IsReady(plan.Completed()) {
			s.logger.Warningf("Task %q has unmet dependencies", t.ID)
			_ = t.Fail(dependencyReason(t))
		} else {
			if err := t.Start(); err != nil {
				return err
			}
			_ = t.Complete(exec(ctx, t))
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		if t.Status == model.TaskStatusFailed && s.stopOnFailure {
			s.logger.Infof("Task %q failed, stopping sequence", t.ID)
			return nil
		}
	}

	return nil
}
