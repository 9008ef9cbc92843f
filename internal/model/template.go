package model

import (
	"fmt"
	"time"
)

// PlanTemplate is a reusable plan definition, requests select it by its keywords.
type PlanTemplate struct {
	Name              string
	Description       string
	Keywords          []string
	Strategy          StrategyKind
	ContinueOnFailure bool
	Tasks             []Task
}

// Validate validates the template as a plan.
func (t PlanTemplate) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("name is required: %w", ErrNotValid)
	}
	if len(t.Tasks) == 0 {
		return fmt.Errorf("template %q has no tasks: %w", t.Name, ErrNotValid)
	}

	p := TaskPlan{ID: t.Name, Name: t.Name, Strategy: t.Strategy}
	for i := range t.Tasks {
		task := t.Tasks[i]
		task.SetDefaults()
		p.Tasks = append(p.Tasks, &task)
	}
	return p.Validate()
}

// NewPlan returns a pending plan with fresh copies of the template tasks. The
// parameters are copied with fn applied to every string value.
func (t PlanTemplate) NewPlan(id, request string, now time.Time, fn func(string) string) *TaskPlan {
	p := &TaskPlan{
		ID:                id,
		Name:              t.Name,
		Request:           request,
		Strategy:          t.Strategy,
		ContinueOnFailure: t.ContinueOnFailure,
		CreatedAt:         now,
	}

	for _, tt := range t.Tasks {
		task := &Task{
			ID:                   tt.ID,
			Name:                 tt.Name,
			Description:          tt.Description,
			Operation:            tt.Operation,
			Parameters:           copyValue(tt.Parameters, fn).(map[string]any),
			Priority:             tt.Priority,
			Dependencies:         append([]string(nil), tt.Dependencies...),
			MaxRetries:           tt.MaxRetries,
			Timeout:              tt.Timeout,
			RequiresConfirmation: tt.RequiresConfirmation,
			CreatedAt:            now,
		}
		if tt.Metadata != nil {
			task.Metadata = make(map[string]string, len(tt.Metadata))
			for k, v := range tt.Metadata {
				task.Metadata[k] = v
			}
		}
		task.SetDefaults()
		p.Tasks = append(p.Tasks, task)
	}

	return p
}

func copyValue(v any, fn func(string) string) any {
	switch vv := v.(type) {
	case nil:
		return map[string]any{}
	case string:
		if fn == nil {
			return vv
		}
		return fn(vv)
	case map[string]any:
		m := make(map[string]any, len(vv))
		for k, e := range vv {
			if e == nil {
				m[k] = nil
				continue
			}
			m[k] = copyValue(e, fn)
		}
		return m
	case []any:
		l := make([]any, 0, len(vv))
		for _, e := range vv {
			if e == nil {
				l = append(l, nil)
				continue
			}
			l = append(l, copyValue(e, fn))
		}
		return l
	case []string:
		l := make([]string, 0, len(vv))
		for _, e := range vv {
			l = append(l, copyValue(e, fn).(string))
		}
		return l
	default:
		return vv
	}
}
