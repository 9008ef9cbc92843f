package submit

import (
	"context"
	"fmt"
	"math"

	"github.com/slok/stepper/internal/app/resume"
	"github.com/slok/stepper/internal/app/run"
	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/orchestrator"
	"github.com/slok/stepper/internal/workqueue"
)

// Queue runs jobs asynchronously.
type Queue interface {
	Submit(req workqueue.SubmitRequest) (string, error)
}

// Runner executes requests.
type Runner interface {
	Run(ctx context.Context, req run.Request) (*orchestrator.Report, error)
}

// Resumer resumes checkpoints.
type Resumer interface {
	Run(ctx context.Context, req resume.Request) (*orchestrator.Report, error)
}

// ServiceConfig is the configuration for the submit service.
type ServiceConfig struct {
	Queue   Queue
	Runner  Runner
	Resumer Resumer
	Logger  log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Queue == nil {
		return fmt.Errorf("queue is required")
	}
	if c.Runner == nil {
		return fmt.Errorf("runner is required")
	}
	if c.Resumer == nil {
		return fmt.Errorf("resumer is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Submit"})

	return nil
}

// Service submits plan executions to the work queue.
type Service struct {
	queue   Queue
	runner  Runner
	resumer Resumer
	logger  log.Logger
}

// NewService creates a new submit service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		queue:   cfg.Queue,
		runner:  cfg.Runner,
		resumer: cfg.Resumer,
		logger:  cfg.Logger,
	}, nil
}

// Request represents the submit request parameters.
type Request struct {
	// Run is the execution to submit, ignored when ResumeCheckpointID is set.
	Run run.Request
	// ResumeCheckpointID submits the resume of a checkpoint.
	ResumeCheckpointID string
	Priority           model.Priority
	SessionID          string
	Metadata           map[string]string
}

// Run submits the execution and returns the job ID. The job result is the
// execution report, jobs whose plan doesn't succeed end failed.
func (s *Service) Run(ctx context.Context, req Request) (string, error) {
	name := "run"
	userID := req.Run.UserID
	var exec func(ctx context.Context, progress orchestrator.ProgressFunc) (*orchestrator.Report, error)

	switch {
	case req.ResumeCheckpointID != "":
		name = "resume " + req.ResumeCheckpointID
		exec = func(ctx context.Context, progress orchestrator.ProgressFunc) (*orchestrator.Report, error) {
			return s.resumer.Run(ctx, resume.Request{CheckpointID: req.ResumeCheckpointID, Progress: progress})
		}
	default:
		if req.Run.Plan == nil && req.Run.Request == "" {
			return "", fmt.Errorf("invalid request: request is required: %w", model.ErrNotValid)
		}
		switch {
		case req.Run.Template != "":
			name = "run " + req.Run.Template
		case req.Run.Plan != nil && req.Run.Plan.Name != "":
			name = "run " + req.Run.Plan.Name
		}
		runReq := req.Run
		exec = func(ctx context.Context, progress orchestrator.ProgressFunc) (*orchestrator.Report, error) {
			runReq.Progress = progress
			return s.runner.Run(ctx, runReq)
		}
	}

	id, err := s.queue.Submit(workqueue.SubmitRequest{
		Name:      name,
		Priority:  req.Priority,
		UserID:    userID,
		SessionID: req.SessionID,
		Metadata:  req.Metadata,
		Func: func(ctx context.Context, p workqueue.Progress) (any, error) {
			report, err := exec(ctx, func(percent float64, message string) {
				p.Update(int(math.Round(percent)), message)
			})
			if err != nil {
				return nil, err
			}
			if !report.Success {
				return report, fmt.Errorf("%s", report.Message)
			}
			return report, nil
		},
	})
	if err != nil {
		return "", fmt.Errorf("could not submit job: %w", err)
	}

	s.logger.Infof("Job %s submitted (%s)", id, name)
	return id, nil
}
