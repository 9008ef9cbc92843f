package planner

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/stepper/internal/model"
)

// Planner converts a request into an executable plan.
type Planner interface {
	Plan(ctx context.Context, request string) (*model.TaskPlan, error)
}

//go:generate mockery --case underscore --output plannermock --outpkg plannermock --name Planner

// PlannerFunc is a helper to create planners from functions.
type PlannerFunc func(ctx context.Context, request string) (*model.TaskPlan, error)

func (f PlannerFunc) Plan(ctx context.Context, request string) (*model.TaskPlan, error) {
	return f(ctx, request)
}

// RequestPlaceholder is replaced with the request on the string parameters of the
// template tasks.
const RequestPlaceholder = "{{request}}"

// Instantiate returns a new plan from a template for a request.
func Instantiate(tpl model.PlanTemplate, request string, now time.Time) *model.TaskPlan {
	return tpl.NewPlan(ulid.Make().String(), request, now, func(s string) string {
		return strings.ReplaceAll(s, RequestPlaceholder, request)
	})
}

// Static returns a planner that always plans the same template.
func Static(tpl model.PlanTemplate) Planner {
	return PlannerFunc(func(ctx context.Context, request string) (*model.TaskPlan, error) {
		return Instantiate(tpl, request, time.Now().UTC()), nil
	})
}
