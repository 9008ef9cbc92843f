package template

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/planner"
)

// Repository returns the available plan templates.
type Repository interface {
	ListPlanTemplates(ctx context.Context) ([]model.PlanTemplate, error)
}

// PlannerConfig is the configuration of the template planner.
type PlannerConfig struct {
	Repository Repository
	Logger     log.Logger
	Now        func() time.Time
}

func (c *PlannerConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "planner.Template"})
	return nil
}

// Planner plans requests selecting the plan template that matches them best.
//
// A template scores one point per keyword found in the request and two when the
// request contains its name. The highest score wins, ties are solved by name.
type Planner struct {
	repo   Repository
	logger log.Logger
	now    func() time.Time
}

var _ planner.Planner = &Planner{}

// NewPlanner returns a new template planner.
func NewPlanner(cfg PlannerConfig) (*Planner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Planner{
		repo:   cfg.Repository,
		logger: cfg.Logger,
		now:    cfg.Now,
	}, nil
}

// Plan returns the plan of the template that best matches the request.
func (p *Planner) Plan(ctx context.Context, request string) (*model.TaskPlan, error) {
	tpls, err := p.repo.ListPlanTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list plan templates: %w", err)
	}

	tpl, score := match(tpls, request)
	if tpl == nil {
		return nil, fmt.Errorf("no plan template matches the request: %w", model.ErrNotFound)
	}

	p.logger.Infof("Request matched %q plan template (score %d)", tpl.Name, score)
	return planner.Instantiate(*tpl, request, p.now()), nil
}

// PlanWithTemplate returns the plan of a template selected by name.
func (p *Planner) PlanWithTemplate(ctx context.Context, name, request string) (*model.TaskPlan, error) {
	tpls, err := p.repo.ListPlanTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list plan templates: %w", err)
	}

	for _, tpl := range tpls {
		if tpl.Name == name {
			return planner.Instantiate(tpl, request, p.now()), nil
		}
	}
	return nil, fmt.Errorf("plan template %q: %w", name, model.ErrNotFound)
}

func match(tpls []model.PlanTemplate, request string) (*model.PlanTemplate, int) {
	req := strings.ToLower(request)
	sorted := append([]model.PlanTemplate(nil), tpls...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var best *model.PlanTemplate
	bestScore := 0
	for i, tpl := range sorted {
		score := 0
		if strings.Contains(req, strings.ToLower(tpl.Name)) {
			score += 2
		}
		for _, k := range tpl.Keywords {
			k = strings.ToLower(strings.TrimSpace(k))
			if k != "" && strings.Contains(req, k) {
				score++
			}
		}
		if score > bestScore {
			best = &sorted[i]
			bestScore = score
		}
	}

	return best, bestScore
}
