package strategy

import (
	"context"
	"fmt"

	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
)

// ExecuteTaskFunc runs a task and returns its result. Strategies own the task
// state transitions, the function must not change the task status.
type ExecuteTaskFunc func(ctx context.Context, t *model.Task) model.TaskResult

// Strategy executes the tasks of a plan respecting their dependencies.
//
// Task failures are recorded on the tasks and never returned as errors, the
// returned error is only used when the execution was interrupted.
type Strategy interface {
	Execute(ctx context.Context, plan *model.TaskPlan, exec ExecuteTaskFunc) error
}

// DefaultMaxWorkers is the concurrency of the parallel strategies when not set.
const DefaultMaxWorkers = 4

// Config is the configuration used to create a strategy by kind.
type Config struct {
	MaxWorkers    int
	StopOnFailure bool
	Logger        log.Logger
}

// New returns the strategy of the required kind.
func New(kind model.StrategyKind, cfg Config) (Strategy, error) {
	switch kind {
	case model.StrategySequential:
		return NewSequential(SequentialConfig{StopOnFailure: cfg.StopOnFailure, Logger: cfg.Logger})
	case model.StrategyParallel:
		return NewParallel(ParallelConfig{MaxWorkers: cfg.MaxWorkers, Logger: cfg.Logger})
	case model.StrategyMixed:
		return NewMixed(MixedConfig{MaxWorkers: cfg.MaxWorkers, StopOnLayerFailure: cfg.StopOnFailure, Logger: cfg.Logger})
	}
	return nil, fmt.Errorf("unknown strategy %q: %w", kind, model.ErrNotValid)
}

func dependencyReason(t *model.Task) string {
	return fmt.Sprintf("task %q: %s", t.ID, model.ErrDependency)
}
