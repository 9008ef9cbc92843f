package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"

	"github.com/slok/stepper/cmd/stepper/commands"
	"github.com/slok/stepper/internal/conventions"
	"github.com/slok/stepper/internal/log"
	loglogrus "github.com/slok/stepper/internal/log/logrus"
)

const (
	// Version is the application version (set via ldflags).
	Version = "dev"
)

// Run runs the main application.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (err error) {
	// Optional dotenv files, the environment and the flags have precedence.
	for _, f := range conventions.EnvFiles() {
		_ = godotenv.Load(f)
	}

	app := kingpin.New(conventions.AppName, "Task plan orchestrator with resumable checkpoints.")
	app.DefaultEnvars()
	app.Version(Version)
	rootCmd := commands.NewRootCommand(app)

	// Setup commands (registers flags).
	runCmd := commands.NewRunCommand(rootCmd, app)
	resumeCmd := commands.NewResumeCommand(rootCmd, app)
	serveCmd := commands.NewServeCommand(rootCmd, app, Version)

	// Checkpoint subcommands share a parent command.
	checkpointCmd := app.Command("checkpoint", "Manage execution checkpoints.")
	checkpointListCmd := commands.NewCheckpointListCommand(rootCmd, checkpointCmd)
	checkpointShowCmd := commands.NewCheckpointShowCommand(rootCmd, checkpointCmd)
	checkpointPauseCmd := commands.NewCheckpointPauseCommand(rootCmd, checkpointCmd)
	checkpointRmCmd := commands.NewCheckpointRmCommand(rootCmd, checkpointCmd)
	checkpointCleanupCmd := commands.NewCheckpointCleanupCommand(rootCmd, checkpointCmd)
	checkpointStatsCmd := commands.NewCheckpointStatsCommand(rootCmd, checkpointCmd)

	templateCmd := app.Command("template", "Inspect plan templates.")
	templateListCmd := commands.NewTemplateListCommand(rootCmd, templateCmd)

	cmds := map[string]commands.Command{
		runCmd.Name():               runCmd,
		resumeCmd.Name():            resumeCmd,
		serveCmd.Name():             serveCmd,
		checkpointListCmd.Name():    checkpointListCmd,
		checkpointShowCmd.Name():    checkpointShowCmd,
		checkpointPauseCmd.Name():   checkpointPauseCmd,
		checkpointRmCmd.Name():      checkpointRmCmd,
		checkpointCleanupCmd.Name(): checkpointCleanupCmd,
		checkpointStatsCmd.Name():   checkpointStatsCmd,
		templateListCmd.Name():      templateListCmd,
	}

	// Parse command.
	cmdName, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}
	rootCmd.ResolvePaths()

	// Set standard input/output.
	rootCmd.Stdin = stdin
	rootCmd.Stdout = stdout
	rootCmd.Stderr = stderr

	// Auto-suppress logging for commands that only produce structured output (table/JSON).
	// Users can still enable logging with --debug.
	printerCommands := map[string]bool{
		"checkpoint list":  true,
		"checkpoint show":  true,
		"checkpoint stats": true,
		"template list":    true,
	}
	if printerCommands[cmdName] && !rootCmd.Debug {
		rootCmd.NoLog = true
	}

	// Set logger.
	rootCmd.Logger = getLogger(*rootCmd)

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				rootCmd.Logger.Debugf("Termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Execute command.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				err := cmds[cmdName].Run(ctx)
				if err != nil {
					return fmt.Errorf("%q command failed: %w", cmdName, err)
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

// getLogger returns the application logger.
func getLogger(config commands.RootCommand) log.Logger {
	if config.NoLog {
		return log.Noop
	}

	logrusLog := logrus.New()
	logrusLog.Out = config.Stderr // By default logger goes to stderr (so it can split stdout prints).
	logrusLogEntry := logrus.NewEntry(logrusLog)

	if config.Debug {
		logrusLogEntry.Logger.SetLevel(logrus.DebugLevel)
	}

	switch config.LoggerType {
	case commands.LoggerTypeDefault:
		logrusLogEntry.Logger.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !config.NoColor,
			DisableColors: config.NoColor,
		})
	case commands.LoggerTypeJSON:
		logrusLogEntry.Logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger := loglogrus.NewLogrus(logrusLogEntry).WithValues(log.Kv{
		"version": Version,
	})

	logger.Debugf("Debug level is enabled")

	return logger
}

func main() {
	ctx := context.Background()
	err := Run(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
