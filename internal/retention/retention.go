package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/slok/stepper/internal/log"
)

// CheckpointCleaner removes the checkpoints no longer needed.
type CheckpointCleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
	CleanupCompleted(ctx context.Context, olderThan time.Duration) (int, error)
}

// JobCleaner removes the finished jobs from the queue.
type JobCleaner interface {
	CleanupOld(maxAge time.Duration) int
}

// RunnerConfig is the configuration of the retention runner.
type RunnerConfig struct {
	// Schedule is a standard cron expression or descriptor (`@hourly`, `@every 10m`...).
	Schedule    string
	Checkpoints CheckpointCleaner
	// Jobs is optional.
	Jobs JobCleaner
	// CompletedRetention is how long completed checkpoints are kept.
	CompletedRetention time.Duration
	// JobRetention is how long finished jobs are kept on the queue.
	JobRetention time.Duration
	// RunOnStart runs a cleanup as soon as the runner starts.
	RunOnStart bool
	Logger     log.Logger
}

func (c *RunnerConfig) defaults() error {
	if c.Schedule == "" {
		c.Schedule = "@hourly"
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
	}

	if c.Checkpoints == nil {
		return fmt.Errorf("checkpoint cleaner is required")
	}

	if c.CompletedRetention <= 0 {
		c.CompletedRetention = 7 * 24 * time.Hour
	}

	if c.JobRetention <= 0 {
		c.JobRetention = 24 * time.Hour
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "retention.Runner"})

	return nil
}

// Result is the summary of a cleanup.
type Result struct {
	ExpiredCheckpoints   int
	CompletedCheckpoints int
	Jobs                 int
}

// Runner periodically removes expired and old checkpoints and finished jobs.
type Runner struct {
	schedule           string
	checkpoints        CheckpointCleaner
	jobs               JobCleaner
	completedRetention time.Duration
	jobRetention       time.Duration
	runOnStart         bool
	logger             log.Logger
}

// NewRunner returns a new retention runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Runner{
		schedule:           cfg.Schedule,
		checkpoints:        cfg.Checkpoints,
		jobs:               cfg.Jobs,
		completedRetention: cfg.CompletedRetention,
		jobRetention:       cfg.JobRetention,
		runOnStart:         cfg.RunOnStart,
		logger:             cfg.Logger,
	}, nil
}

// RunOnce executes a single cleanup. All the cleanups are tried even if one fails.
func (r *Runner) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	var errs []error

	n, err := r.checkpoints.CleanupExpired(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("could not cleanup expired checkpoints: %w", err))
	}
	res.ExpiredCheckpoints = n

	n, err = r.checkpoints.CleanupCompleted(ctx, r.completedRetention)
	if err != nil {
		errs = append(errs, fmt.Errorf("could not cleanup completed checkpoints: %w", err))
	}
	res.CompletedCheckpoints = n

	if r.jobs != nil {
		res.Jobs = r.jobs.CleanupOld(r.jobRetention)
	}

	if total := res.ExpiredCheckpoints + res.CompletedCheckpoints + res.Jobs; total > 0 {
		r.logger.Infof("Retention removed %d expired checkpoints, %d completed checkpoints and %d jobs", res.ExpiredCheckpoints, res.CompletedCheckpoints, res.Jobs)
	}

	return res, errors.Join(errs...)
}

// Run runs the cleanups on schedule until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	run := func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Errorf("Retention cleanup failed: %s", err)
		}
	}

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, run); err != nil {
		return fmt.Errorf("could not schedule retention: %w", err)
	}

	if r.runOnStart {
		run()
	}

	r.logger.Infof("Retention scheduled %q", r.schedule)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	return nil
}
