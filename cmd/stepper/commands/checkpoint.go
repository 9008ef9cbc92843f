package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/stepper/internal/checkpoint"
	"github.com/slok/stepper/internal/model"
)

// CheckpointListCommand lists the checkpoints.
type CheckpointListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	userID    string
	status    string
	resumable bool
	limit     int
	format    string
}

// NewCheckpointListCommand returns the checkpoint list command.
func NewCheckpointListCommand(rootCmd *RootCommand, checkpointCmd *kingpin.CmdClause) *CheckpointListCommand {
	c := &CheckpointListCommand{rootCmd: rootCmd}

	c.Cmd = checkpointCmd.Command("list", "List the checkpoints, most recently updated first.")
	c.Cmd.Flag("user", "Filter by user.").StringVar(&c.userID)
	c.Cmd.Flag("status", "Filter by status (active, paused, failed, completed, expired).").StringVar(&c.status)
	c.Cmd.Flag("resumable", "Only list the checkpoints that can be resumed.").BoolVar(&c.resumable)
	c.Cmd.Flag("limit", "Maximum number of checkpoints.").Default("50").IntVar(&c.limit)
	addFormatFlag(c.Cmd, &c.format)

	return c
}

func (c CheckpointListCommand) Name() string { return c.Cmd.FullCommand() }

func (c CheckpointListCommand) Run(ctx context.Context) error {
	status := model.CheckpointStatus(strings.ToLower(c.status))
	switch status {
	case "", model.CheckpointStatusActive, model.CheckpointStatusPaused, model.CheckpointStatusFailed,
		model.CheckpointStatusCompleted, model.CheckpointStatusExpired:
	default:
		return fmt.Errorf("invalid status filter: %s (must be: active, paused, failed, completed, expired)", c.status)
	}

	m, closeFn, err := c.rootCmd.newCheckpointManager(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	var cps []model.Checkpoint
	if c.resumable {
		cps, err = m.Resumable(ctx, c.userID)
		if c.limit > 0 && len(cps) > c.limit {
			cps = cps[:c.limit]
		}
	} else {
		cps, err = m.List(ctx, checkpoint.ListRequest{UserID: c.userID, Status: status, Limit: c.limit})
	}
	if err != nil {
		return fmt.Errorf("could not list checkpoints: %w", err)
	}

	if err := c.rootCmd.newPrinter(c.format).PrintCheckpointList(cps); err != nil {
		return fmt.Errorf("could not print list: %w", err)
	}

	return nil
}

// CheckpointShowCommand shows a checkpoint.
type CheckpointShowCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	id     string
	format string
}

// NewCheckpointShowCommand returns the checkpoint show command.
func NewCheckpointShowCommand(rootCmd *RootCommand, checkpointCmd *kingpin.CmdClause) *CheckpointShowCommand {
	c := &CheckpointShowCommand{rootCmd: rootCmd}

	c.Cmd = checkpointCmd.Command("show", "Show the steps of a checkpoint.")
	c.Cmd.Arg("checkpoint-id", "Checkpoint ID.").Required().StringVar(&c.id)
	addFormatFlag(c.Cmd, &c.format)

	return c
}

func (c CheckpointShowCommand) Name() string { return c.Cmd.FullCommand() }

func (c CheckpointShowCommand) Run(ctx context.Context) error {
	m, closeFn, err := c.rootCmd.newCheckpointManager(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	cp, err := m.Load(ctx, c.id)
	if err != nil {
		return fmt.Errorf("could not load checkpoint: %w", err)
	}

	return c.rootCmd.newPrinter(c.format).PrintCheckpoint(*cp)
}

// CheckpointPauseCommand pauses an active checkpoint.
type CheckpointPauseCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	id string
}

// NewCheckpointPauseCommand returns the checkpoint pause command.
func NewCheckpointPauseCommand(rootCmd *RootCommand, checkpointCmd *kingpin.CmdClause) *CheckpointPauseCommand {
	c := &CheckpointPauseCommand{rootCmd: rootCmd}

	c.Cmd = checkpointCmd.Command("pause", "Pause an active checkpoint so it can be resumed later.")
	c.Cmd.Arg("checkpoint-id", "Checkpoint ID.").Required().StringVar(&c.id)

	return c
}

func (c CheckpointPauseCommand) Name() string { return c.Cmd.FullCommand() }

func (c CheckpointPauseCommand) Run(ctx context.Context) error {
	m, closeFn, err := c.rootCmd.newCheckpointManager(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	cp, err := m.Pause(ctx, c.id)
	if err != nil {
		return fmt.Errorf("could not pause checkpoint: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Checkpoint %s paused at step %d of %d\n", cp.TaskID, cp.CurrentStep, cp.TotalSteps)
	return nil
}

// CheckpointRmCommand removes checkpoints.
type CheckpointRmCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	ids []string
}

// NewCheckpointRmCommand returns the checkpoint rm command.
func NewCheckpointRmCommand(rootCmd *RootCommand, checkpointCmd *kingpin.CmdClause) *CheckpointRmCommand {
	c := &CheckpointRmCommand{rootCmd: rootCmd}

	c.Cmd = checkpointCmd.Command("rm", "Remove checkpoints.")
	c.Cmd.Arg("checkpoint-ids", "Checkpoint IDs.").Required().StringsVar(&c.ids)

	return c
}

func (c CheckpointRmCommand) Name() string { return c.Cmd.FullCommand() }

func (c CheckpointRmCommand) Run(ctx context.Context) error {
	m, closeFn, err := c.rootCmd.newCheckpointManager(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	for _, id := range c.ids {
		if err := m.Delete(ctx, id); err != nil {
			return fmt.Errorf("could not remove checkpoint %s: %w", id, err)
		}
		fmt.Fprintf(c.rootCmd.Stdout, "Checkpoint %s removed\n", id)
	}

	return nil
}
