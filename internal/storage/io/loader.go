package io

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slok/stepper/internal/model"
)

// PlanYAMLRepository loads plan templates from YAML files.
type PlanYAMLRepository struct {
	fs fs.FS
}

// NewPlanYAMLRepository creates a new YAML plan template repository.
func NewPlanYAMLRepository(filesystem fs.FS) *PlanYAMLRepository {
	return &PlanYAMLRepository{fs: filesystem}
}

// GetPlanTemplate loads a plan template from a YAML file and returns a validated domain model.
// Templates without name are named after their file.
func (r *PlanYAMLRepository) GetPlanTemplate(ctx context.Context, filePath string) (*model.PlanTemplate, error) {
	data, err := fs.ReadFile(r.fs, filePath)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	tpl, err := DecodePlanTemplate(data, strings.TrimSuffix(path.Base(filePath), path.Ext(filePath)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}

	return tpl, nil
}

// DecodePlanTemplate decodes and validates a YAML (or JSON) plan template. The
// default name is used when the document doesn't have one.
func DecodePlanTemplate(data []byte, defaultName string) (*model.PlanTemplate, error) {
	var pf PlanFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w: %w", model.ErrNotValid, err)
	}
	if pf.Name == "" {
		pf.Name = defaultName
	}

	tpl, err := pf.toModel()
	if err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	if err := tpl.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	return tpl, nil
}

// ListPlanTemplates loads all the `.yaml` and `.yml` plan templates on the root of
// the filesystem sorted by name.
func (r *PlanYAMLRepository) ListPlanTemplates(ctx context.Context) ([]model.PlanTemplate, error) {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := fs.Glob(r.fs, pattern)
		if err != nil {
			return nil, fmt.Errorf("listing plan files: %w", err)
		}
		files = append(files, matches...)
	}

	tpls := make([]model.PlanTemplate, 0, len(files))
	names := map[string]string{}
	for _, f := range files {
		tpl, err := r.GetPlanTemplate(ctx, f)
		if err != nil {
			return nil, err
		}
		if other, ok := names[tpl.Name]; ok {
			return nil, fmt.Errorf("plan %q defined on %s and %s: %w", tpl.Name, other, f, model.ErrAlreadyExists)
		}
		names[tpl.Name] = f
		tpls = append(tpls, *tpl)
	}

	sort.Slice(tpls, func(i, j int) bool { return tpls[i].Name < tpls[j].Name })
	return tpls, nil
}

// PlanFile represents the YAML structure of a plan template.
type PlanFile struct {
	Name              string     `yaml:"name"`
	Description       string     `yaml:"description"`
	Keywords          []string   `yaml:"keywords"`
	Strategy          string     `yaml:"strategy"`
	ContinueOnFailure bool       `yaml:"continue_on_failure"`
	Tasks             []TaskFile `yaml:"tasks"`
}

// TaskFile represents the YAML structure of a plan task.
type TaskFile struct {
	ID                   string            `yaml:"id"`
	Name                 string            `yaml:"name"`
	Description          string            `yaml:"description"`
	Operation            string            `yaml:"operation"`
	Parameters           map[string]any    `yaml:"parameters"`
	Priority             string            `yaml:"priority"`
	DependsOn            []string          `yaml:"depends_on"`
	MaxRetries           int               `yaml:"max_retries"`
	Timeout              string            `yaml:"timeout"`
	RequiresConfirmation bool              `yaml:"requires_confirmation"`
	Metadata             map[string]string `yaml:"metadata"`
}

func (p PlanFile) toModel() (*model.PlanTemplate, error) {
	strategy := model.StrategyKind(strings.ToLower(p.Strategy))
	if strategy == "" {
		strategy = model.StrategySequential
	}

	tpl := &model.PlanTemplate{
		Name:              p.Name,
		Description:       p.Description,
		Keywords:          p.Keywords,
		Strategy:          strategy,
		ContinueOnFailure: p.ContinueOnFailure,
	}

	for i, t := range p.Tasks {
		task, err := t.toModel()
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		tpl.Tasks = append(tpl.Tasks, task)
	}

	return tpl, nil
}

func (t TaskFile) toModel() (model.Task, error) {
	if t.ID == "" {
		return model.Task{}, fmt.Errorf("id is required: %w", model.ErrNotValid)
	}
	if t.Operation == "" {
		return model.Task{}, fmt.Errorf("operation is required: %w", model.ErrNotValid)
	}
	if t.MaxRetries < 0 {
		return model.Task{}, fmt.Errorf("max_retries can't be negative, got: %d: %w", t.MaxRetries, model.ErrNotValid)
	}

	priority, err := model.ParsePriority(t.Priority)
	if err != nil {
		return model.Task{}, err
	}

	var timeout time.Duration
	if t.Timeout != "" {
		timeout, err = time.ParseDuration(t.Timeout)
		if err != nil || timeout <= 0 {
			return model.Task{}, fmt.Errorf("invalid timeout %q: %w", t.Timeout, model.ErrNotValid)
		}
	}

	name := t.Name
	if name == "" {
		name = t.ID
	}

	return model.Task{
		ID:                   t.ID,
		Name:                 name,
		Description:          t.Description,
		Operation:            t.Operation,
		Parameters:           t.Parameters,
		Priority:             priority,
		Dependencies:         t.DependsOn,
		MaxRetries:           t.MaxRetries,
		Timeout:              timeout,
		RequiresConfirmation: t.RequiresConfirmation,
		Metadata:             t.Metadata,
	}, nil
}
