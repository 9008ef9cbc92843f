package resume

import (
	"context"
	"fmt"

	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/orchestrator"
)

// Orchestrator resumes checkpointed plans.
type Orchestrator interface {
	Resume(ctx context.Context, checkpointID string, progress orchestrator.ProgressFunc) (*orchestrator.Report, error)
}

// ServiceConfig is the configuration for the resume service.
type ServiceConfig struct {
	Orchestrator Orchestrator
	Logger       log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Orchestrator == nil {
		return fmt.Errorf("orchestrator is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Resume"})

	return nil
}

// Service resumes the execution of paused and failed checkpoints.
type Service struct {
	orch   Orchestrator
	logger log.Logger
}

// NewService creates a new resume service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		orch:   cfg.Orchestrator,
		logger: cfg.Logger,
	}, nil
}

// Request represents the resume request parameters.
type Request struct {
	CheckpointID string
	Progress     orchestrator.ProgressFunc
}

// Run resumes the checkpoint returning the execution report.
func (s *Service) Run(ctx context.Context, req Request) (*orchestrator.Report, error) {
	if req.CheckpointID == "" {
		return nil, fmt.Errorf("invalid request: checkpoint id is required: %w", model.ErrNotValid)
	}

	report, err := s.orch.Resume(ctx, req.CheckpointID, req.Progress)
	if err != nil {
		return nil, fmt.Errorf("could not resume checkpoint %q: %w", req.CheckpointID, err)
	}

	s.logger.Debugf("checkpoint %s resumed: %s", req.CheckpointID, report.Message)
	return report, nil
}
