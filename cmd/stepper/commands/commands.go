package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/stepper/internal/checkpoint"
	"github.com/slok/stepper/internal/conventions"
	"github.com/slok/stepper/internal/executor"
	"github.com/slok/stepper/internal/executor/docker"
	"github.com/slok/stepper/internal/executor/fake"
	"github.com/slok/stepper/internal/executor/shell"
	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/printer"
	storageio "github.com/slok/stepper/internal/storage/io"
	"github.com/slok/stepper/internal/storage/sqlite"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"

	// ExecutorHost runs the operations on the host shell and Docker.
	ExecutorHost = "host"
	// ExecutorFake simulates the operations.
	ExecutorFake = "fake"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug         bool
	NoLog         bool
	NoColor       bool
	LoggerType    string
	DataDir       string
	DBPath        string
	PlansDir      string
	CheckpointTTL time.Duration

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	defaultDataDir := filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir)
	app.Flag("data-dir", "Directory of the stepper state.").Default(defaultDataDir).StringVar(&c.DataDir)
	app.Flag("db-path", "Path to the SQLite checkpoint database file (defaults to the data dir one).").StringVar(&c.DBPath)
	app.Flag("plans-dir", "Directory of the YAML plan templates (defaults to the data dir one).").StringVar(&c.PlansDir)
	app.Flag("checkpoint-ttl", "Expiration of the new checkpoints, 0 to never expire.").Default("168h").DurationVar(&c.CheckpointTTL)

	return c
}

// ResolvePaths sets the paths that depend on the data directory.
func (r *RootCommand) ResolvePaths() {
	if r.DBPath == "" {
		r.DBPath = conventions.DBPath(r.DataDir)
	}
	if r.PlansDir == "" {
		r.PlansDir = conventions.PlansPath(r.DataDir)
	}
}

// newCheckpointManager opens the checkpoint database, the returned func closes it.
func (r *RootCommand) newCheckpointManager(ctx context.Context) (*checkpoint.Manager, func(), error) {
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: r.DBPath,
		Logger: r.Logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("could not create repository: %w", err)
	}
	closeRepo := func() {
		if err := repo.Close(); err != nil {
			r.Logger.Warningf("Could not close repository: %s", err)
		}
	}

	m, err := checkpoint.NewManager(checkpoint.ManagerConfig{
		Repository: repo,
		TTL:        r.CheckpointTTL,
		Logger:     r.Logger,
	})
	if err != nil {
		closeRepo()
		return nil, nil, fmt.Errorf("could not create checkpoint manager: %w", err)
	}

	return m, closeRepo, nil
}

// newExecutor returns the executor registry of the selected kind.
func (r *RootCommand) newExecutor(kind string, withDocker bool) (*executor.Registry, error) {
	reg, err := executor.NewRegistry(executor.RegistryConfig{Logger: r.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create executor registry: %w", err)
	}

	switch kind {
	case ExecutorFake:
		e, err := fake.NewExecutor(fake.ExecutorConfig{Logger: r.Logger})
		if err != nil {
			return nil, fmt.Errorf("could not create fake executor: %w", err)
		}
		if err := reg.Register(e, model.Capabilities()...); err != nil {
			return nil, err
		}
	default:
		sh, err := shell.NewExecutor(shell.ExecutorConfig{Logger: r.Logger})
		if err != nil {
			return nil, fmt.Errorf("could not create shell executor: %w", err)
		}
		if err := reg.Register(sh, shell.Capabilities...); err != nil {
			return nil, err
		}

		if withDocker {
			d, err := docker.NewExecutor(docker.ExecutorConfig{Logger: r.Logger})
			if err != nil {
				return nil, fmt.Errorf("could not create docker executor: %w", err)
			}
			if err := reg.Register(d, docker.Capabilities...); err != nil {
				return nil, err
			}
		}
	}

	return reg, nil
}

func (r *RootCommand) newTemplateRepository() *storageio.PlanYAMLRepository {
	return storageio.NewPlanYAMLRepository(os.DirFS(r.PlansDir))
}

func (r *RootCommand) newPrinter(format string) printer.Printer {
	switch format {
	case "json":
		return printer.NewJSONPrinter(r.Stdout)
	default: // table
		return printer.NewTablePrinter(r.Stdout)
	}
}

// loadPlanFile loads a plan template from a YAML file on any path.
func loadPlanFile(ctx context.Context, path string) (*model.PlanTemplate, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid plan file path: %w", err)
	}

	repo := storageio.NewPlanYAMLRepository(os.DirFS(filepath.Dir(abs)))
	return repo.GetPlanTemplate(ctx, filepath.Base(abs))
}

func addFormatFlag(cmd *kingpin.CmdClause, format *string) {
	cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(format, "table", "json")
}

func addExecutorFlags(cmd *kingpin.CmdClause, kind *string, noDocker *bool) {
	cmd.Flag("executor", "Executor of the operations (host, fake).").Default(ExecutorHost).EnumVar(kind, ExecutorHost, ExecutorFake)
	cmd.Flag("no-docker", "Disable the container capability executor.").BoolVar(noDocker)
}
