package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/stepper/internal/app/resume"
)

type ResumeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	checkpointID string
	format       string
	exec         executionFlags
}

// NewResumeCommand returns the resume command.
func NewResumeCommand(rootCmd *RootCommand, app *kingpin.Application) *ResumeCommand {
	c := &ResumeCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("resume", "Resume a paused or failed execution from its checkpoint.")
	c.Cmd.Arg("checkpoint-id", "Checkpoint ID.").Required().StringVar(&c.checkpointID)
	addExecutionFlags(c.Cmd, &c.exec)
	addFormatFlag(c.Cmd, &c.format)

	return c
}

func (c ResumeCommand) Name() string { return c.Cmd.FullCommand() }

func (c ResumeCommand) Run(ctx context.Context) error {
	e, err := c.rootCmd.newExecution(ctx, c.exec)
	if err != nil {
		return err
	}
	defer e.close()

	svc, err := resume.NewService(resume.ServiceConfig{
		Orchestrator: e.orchestrator,
		Logger:       c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	report, err := svc.Run(ctx, resume.Request{
		CheckpointID: c.checkpointID,
		Progress:     c.rootCmd.progressLogger(),
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
