package lib

import (
	"context"
	"fmt"
	"time"

	"github.com/slok/stepper/internal/app/resume"
	"github.com/slok/stepper/internal/app/run"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/orchestrator"
	"github.com/slok/stepper/internal/planner"
	storageio "github.com/slok/stepper/internal/storage/io"
)

// RunOpts configures a run.
//
// Request is required unless PlanData is set. Template and PlanData are mutually
// exclusive, when none is set the template is matched against the request.
type RunOpts struct {
	// Request is the free text request.
	Request string
	// Template selects the plan template by name.
	Template string
	// PlanData is an inline plan in YAML or JSON, same format as the templates.
	PlanData []byte
	// Strategy overrides the strategy of the plan.
	Strategy Strategy
	// UserID owns the checkpoint of the run.
	UserID string
	// Progress receives the progress of the run (0-100) with a message.
	Progress func(percent float64, message string)
}

// Run plans and executes a request.
//
// Task failures don't return an error, they are reported on the returned [Report].
func (c *Client) Run(ctx context.Context, opts RunOpts) (*Report, error) {
	req := run.Request{
		Request:  opts.Request,
		Template: opts.Template,
		Strategy: model.StrategyKind(opts.Strategy),
		UserID:   opts.UserID,
		Progress: toInternalProgress(opts.Progress),
	}

	if len(opts.PlanData) > 0 {
		tpl, err := storageio.DecodePlanTemplate(opts.PlanData, "inline")
		if err != nil {
			return nil, mapError(fmt.Errorf("invalid plan: %w", err))
		}
		req.Plan = planner.Instantiate(*tpl, opts.Request, time.Now().UTC())
	}

	report, err := c.runSvc.Run(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalReport(report), nil
}

// ResumeOpts configures a resume.
type ResumeOpts struct {
	// Progress receives the progress of the run (0-100) with a message.
	Progress func(percent float64, message string)
}

// Resume continues a paused, failed or interrupted run from its checkpoint.
// Pass nil opts for defaults.
func (c *Client) Resume(ctx context.Context, checkpointID string, opts *ResumeOpts) (*Report, error) {
	req := resume.Request{CheckpointID: checkpointID}
	if opts != nil {
		req.Progress = toInternalProgress(opts.Progress)
	}

	report, err := c.resumeSvc.Run(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalReport(report), nil
}

func toInternalProgress(f func(float64, string)) orchestrator.ProgressFunc {
	if f == nil {
		return nil
	}
	return orchestrator.ProgressFunc(f)
}
