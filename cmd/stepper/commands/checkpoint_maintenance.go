package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/stepper/internal/retention"
)

// CheckpointCleanupCommand removes the expired and old completed checkpoints.
type CheckpointCleanupCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	completedRetention time.Duration
}

// NewCheckpointCleanupCommand returns the checkpoint cleanup command.
func NewCheckpointCleanupCommand(rootCmd *RootCommand, checkpointCmd *kingpin.CmdClause) *CheckpointCleanupCommand {
	c := &CheckpointCleanupCommand{rootCmd: rootCmd}

	c.Cmd = checkpointCmd.Command("cleanup", "Remove the expired checkpoints and the old completed ones.")
	c.Cmd.Flag("completed-retention", "How long completed checkpoints are kept.").Default("168h").DurationVar(&c.completedRetention)

	return c
}

func (c CheckpointCleanupCommand) Name() string { return c.Cmd.FullCommand() }

func (c CheckpointCleanupCommand) Run(ctx context.Context) error {
	m, closeFn, err := c.rootCmd.newCheckpointManager(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	r, err := retention.NewRunner(retention.RunnerConfig{
		Checkpoints:        m,
		CompletedRetention: c.completedRetention,
		Logger:             c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create retention runner: %w", err)
	}

	res, err := r.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("could not cleanup checkpoints: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Removed %d expired and %d completed checkpoints\n", res.ExpiredCheckpoints, res.CompletedCheckpoints)
	return nil
}

// CheckpointStatsCommand shows the checkpoint statistics.
type CheckpointStatsCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	userID string
	format string
}

// NewCheckpointStatsCommand returns the checkpoint stats command.
func NewCheckpointStatsCommand(rootCmd *RootCommand, checkpointCmd *kingpin.CmdClause) *CheckpointStatsCommand {
	c := &CheckpointStatsCommand{rootCmd: rootCmd}

	c.Cmd = checkpointCmd.Command("stats", "Show the checkpoint statistics.")
	c.Cmd.Flag("user", "Only count the checkpoints of this user.").StringVar(&c.userID)
	addFormatFlag(c.Cmd, &c.format)

	return c
}

func (c CheckpointStatsCommand) Name() string { return c.Cmd.FullCommand() }

func (c CheckpointStatsCommand) Run(ctx context.Context) error {
	m, closeFn, err := c.rootCmd.newCheckpointManager(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	stats, err := m.Statistics(ctx, c.userID)
	if err != nil {
		return fmt.Errorf("could not get statistics: %w", err)
	}

	return c.rootCmd.newPrinter(c.format).PrintStatistics(*stats)
}
