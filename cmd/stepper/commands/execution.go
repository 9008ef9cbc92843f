package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/stepper/internal/checkpoint"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/orchestrator"
	"github.com/slok/stepper/internal/planner"
	"github.com/slok/stepper/internal/planner/template"
)

// executionFlags are the flags shared by the commands that execute plans.
type executionFlags struct {
	executor     string
	noDocker     bool
	maxWorkers   int
	retryDelay   time.Duration
	noCheckpoint bool
}

func addExecutionFlags(cmd *kingpin.CmdClause, f *executionFlags) {
	addExecutorFlags(cmd, &f.executor, &f.noDocker)
	cmd.Flag("max-workers", "Maximum concurrent tasks of the parallel and mixed strategies.").Default("4").IntVar(&f.maxWorkers)
	cmd.Flag("retry-delay", "Delay between the attempts of a failed task.").Default("1s").DurationVar(&f.retryDelay)
}

// execution has the components needed to execute plans.
type execution struct {
	orchestrator *orchestrator.Orchestrator
	checkpoints  *checkpoint.Manager
	templates    *template.Planner
	close        func()
}

func (r *RootCommand) newExecution(ctx context.Context, f executionFlags) (*execution, error) {
	logger := r.Logger
	e := &execution{close: func() {}}

	reg, err := r.newExecutor(f.executor, !f.noDocker)
	if err != nil {
		return nil, err
	}

	tpls, err := template.NewPlanner(template.PlannerConfig{
		Repository: r.newTemplateRepository(),
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create template planner: %w", err)
	}
	e.templates = tpls

	var cps orchestrator.CheckpointManager
	if !f.noCheckpoint {
		m, closeFn, err := r.newCheckpointManager(ctx)
		if err != nil {
			return nil, err
		}
		e.checkpoints = m
		e.close = closeFn
		cps = m
	}

	orch, err := orchestrator.NewOrchestrator(orchestrator.OrchestratorConfig{
		Planner:     planner.Planner(tpls),
		Executor:    reg,
		Checkpoints: cps,
		MaxWorkers:  f.maxWorkers,
		RetryDelay:  f.retryDelay,
		Hooks: orchestrator.Hooks{
			OnTaskStart: func(t *model.Task, attempt int) {
				if attempt > 0 {
					logger.Infof("Retrying task %q (attempt %d of %d)", t.ID, attempt+1, t.MaxRetries+1)
					return
				}
				logger.Debugf("Starting task %q (%s)", t.ID, t.Operation)
			},
			OnTaskComplete: func(t *model.Task, res model.TaskResult) {
				logger.Debugf("Task %q completed in %s", t.ID, res.Duration)
			},
			OnTaskError: func(t *model.Task, res model.TaskResult) {
				logger.Warningf("Task %q failed: %s", t.ID, res.Error)
			},
		},
		Logger: logger,
	})
	if err != nil {
		e.close()
		return nil, fmt.Errorf("could not create orchestrator: %w", err)
	}
	e.orchestrator = orch

	return e, nil
}

func (r *RootCommand) progressLogger() orchestrator.ProgressFunc {
	return func(percent float64, msg string) {
		r.Logger.Infof("[%3.0f%%] %s", percent, msg)
	}
}
