package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/stepper/internal/app/run"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/planner"
	"github.com/slok/stepper/internal/planner/template"
)

type RunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	request  string
	template string
	planFile string
	strategy string
	userID   string
	dryRun   bool
	format   string
	exec     executionFlags
}

// NewRunCommand returns the run command.
func NewRunCommand(rootCmd *RootCommand, app *kingpin.Application) *RunCommand {
	c := &RunCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("run", "Plan a request and execute it.")
	c.Cmd.Arg("request", "The request to plan and execute.").StringVar(&c.request)
	c.Cmd.Flag("template", "Plan template name, matched from the request when not set.").Short('t').StringVar(&c.template)
	c.Cmd.Flag("plan-file", "Path to a YAML plan file to execute.").Short('f').StringVar(&c.planFile)
	c.Cmd.Flag("strategy", "Overrides the plan strategy (sequential, parallel, mixed).").EnumVar(&c.strategy,
		string(model.StrategySequential), string(model.StrategyParallel), string(model.StrategyMixed))
	c.Cmd.Flag("user", "Owner of the execution checkpoint.").StringVar(&c.userID)
	c.Cmd.Flag("dry-run", "Print the plan without executing it.").BoolVar(&c.dryRun)
	c.Cmd.Flag("no-checkpoint", "Don't persist the execution, it won't be resumable.").BoolVar(&c.exec.noCheckpoint)
	addExecutionFlags(c.Cmd, &c.exec)
	addFormatFlag(c.Cmd, &c.format)

	return c
}

func (c RunCommand) Name() string { return c.Cmd.FullCommand() }

func (c RunCommand) Run(ctx context.Context) error {
	if c.planFile != "" && c.template != "" {
		return fmt.Errorf("--plan-file and --template are mutually exclusive")
	}
	if c.planFile == "" && strings.TrimSpace(c.request) == "" {
		return fmt.Errorf("a request is required when not using a plan file")
	}

	var plan *model.TaskPlan
	if c.planFile != "" {
		tpl, err := loadPlanFile(ctx, c.planFile)
		if err != nil {
			return fmt.Errorf("could not load plan file: %w", err)
		}
		plan = planner.Instantiate(*tpl, c.request, time.Now().UTC())
	}

	if c.dryRun {
		return c.printPlan(ctx, plan)
	}

	e, err := c.rootCmd.newExecution(ctx, c.exec)
	if err != nil {
		return err
	}
	defer e.close()

	svc, err := run.NewService(run.ServiceConfig{
		Orchestrator: e.orchestrator,
		Templates:    e.templates,
		Logger:       c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	report, err := svc.Run(ctx, run.Request{
		Request:  c.request,
		Template: c.template,
		Plan:     plan,
		Strategy: model.StrategyKind(c.strategy),
		UserID:   c.userID,
		Progress: c.rootCmd.progressLogger(),
	})
	if err != nil {
		return err
	}

	if err := c.rootCmd.newPrinter(c.format).PrintReport(*report); err != nil {
		return fmt.Errorf("could not print report: %w", err)
	}

	if !report.Success {
		return fmt.Errorf("plan %s: %s", report.Status, report.Message)
	}

	return nil
}

func (c RunCommand) printPlan(ctx context.Context, plan *model.TaskPlan) error {
	if plan == nil {
		tpls, err := template.NewPlanner(template.PlannerConfig{
			Repository: c.rootCmd.newTemplateRepository(),
			Logger:     c.rootCmd.Logger,
		})
		if err != nil {
			return fmt.Errorf("could not create template planner: %w", err)
		}

		if c.template != "" {
			plan, err = tpls.PlanWithTemplate(ctx, c.template, c.request)
		} else {
			plan, err = tpls.Plan(ctx, c.request)
		}
		if err != nil {
			return fmt.Errorf("could not plan request: %w", err)
		}
	}

	if c.strategy != "" {
		plan.Strategy = model.StrategyKind(c.strategy)
	}
	if err := plan.Validate(); err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}

	return c.rootCmd.newPrinter(c.format).PrintPlan(*plan)
}
