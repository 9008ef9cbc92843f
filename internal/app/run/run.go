package run

import (
	"context"
	"fmt"

	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/orchestrator"
)

// Orchestrator executes plans.
type Orchestrator interface {
	Execute(ctx context.Context, req orchestrator.ExecuteRequest) (*orchestrator.Report, error)
}

// TemplatePlanner plans requests with a template selected by name.
type TemplatePlanner interface {
	PlanWithTemplate(ctx context.Context, name, request string) (*model.TaskPlan, error)
}

// ServiceConfig is the configuration for the run service.
type ServiceConfig struct {
	Orchestrator Orchestrator
	// Templates is optional, required to run requests with an explicit template.
	Templates TemplatePlanner
	Logger    log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Orchestrator == nil {
		return fmt.Errorf("orchestrator is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Run"})

	return nil
}

// Service plans and executes a request.
type Service struct {
	orch      Orchestrator
	templates TemplatePlanner
	logger    log.Logger
}

// NewService creates a new run service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		orch:      cfg.Orchestrator,
		templates: cfg.Templates,
		logger:    cfg.Logger,
	}, nil
}

// Request represents the run request parameters.
type Request struct {
	// Request is the free text request.
	Request string
	// Template selects the plan template by name instead of matching the request.
	Template string
	// Plan is executed as it is when set.
	Plan     *model.TaskPlan
	Strategy model.StrategyKind
	UserID   string
	Progress orchestrator.ProgressFunc
}

func (r Request) validate() error {
	if r.Plan != nil && r.Template != "" {
		return fmt.Errorf("plan and template are mutually exclusive: %w", model.ErrNotValid)
	}
	if r.Plan == nil && r.Request == "" {
		return fmt.Errorf("request is required: %w", model.ErrNotValid)
	}
	if r.Strategy != "" && !r.Strategy.Valid() {
		return fmt.Errorf("unknown strategy %q: %w", r.Strategy, model.ErrNotValid)
	}
	return nil
}

// Run plans and executes the request returning the execution report.
func (s *Service) Run(ctx context.Context, req Request) (*orchestrator.Report, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	plan := req.Plan
	if req.Template != "" {
		if s.templates == nil {
			return nil, fmt.Errorf("templates are not available: %w", model.ErrNotValid)
		}
		p, err := s.templates.PlanWithTemplate(ctx, req.Template, req.Request)
		if err != nil {
			return nil, fmt.Errorf("could not plan request with template %q: %w", req.Template, err)
		}
		plan = p
	}

	report, err := s.orch.Execute(ctx, orchestrator.ExecuteRequest{
		Request:  req.Request,
		Plan:     plan,
		UserID:   req.UserID,
		Strategy: req.Strategy,
		Progress: req.Progress,
	})
	if err != nil {
		return nil, fmt.Errorf("could not execute request: %w", err)
	}

	s.logger.Debugf("request executed: %s", report.Message)
	return report, nil
}
