package lib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/slok/stepper/internal/app/resume"
	"github.com/slok/stepper/internal/app/run"
	"github.com/slok/stepper/internal/checkpoint"
	"github.com/slok/stepper/internal/conventions"
	"github.com/slok/stepper/internal/executor"
	"github.com/slok/stepper/internal/executor/docker"
	"github.com/slok/stepper/internal/executor/fake"
	"github.com/slok/stepper/internal/executor/shell"
	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/orchestrator"
	"github.com/slok/stepper/internal/planner"
	"github.com/slok/stepper/internal/planner/template"
	storageio "github.com/slok/stepper/internal/storage/io"
	"github.com/slok/stepper/internal/storage/sqlite"
)

// Config configures the SDK client.
//
// All fields are optional. An empty Config{} uses ~/.stepper/stepper.db for the
// checkpoints, ~/.stepper/plans for the templates and the host executor.
type Config struct {
	// DataDir is the base directory for stepper data.
	// Default: ~/.stepper.
	DataDir string
	// DBPath is the SQLite checkpoint database path.
	// Default: <DataDir>/stepper.db.
	DBPath string
	// PlansDir is the directory of the plan templates.
	// Default: <DataDir>/plans.
	PlansDir string

	// Executor selects the executors of the operations.
	// Default: [ExecutorHost].
	Executor ExecutorType
	// DisableDocker disables the container capability of the host executor.
	DisableDocker bool
	// Executors registers custom executors by capability (e.g. "browser").
	Executors map[string]Executor

	// MaxWorkers bounds the concurrent tasks of the parallel and mixed strategies.
	// Default: 4.
	MaxWorkers int
	// RetryDelay is the delay between the attempts of a failed task.
	// Default: 1s.
	RetryDelay time.Duration
	// CheckpointTTL is how long a checkpoint can be resumed.
	// Default: 168h.
	CheckpointTTL time.Duration

	// Logger receives structured log output from the SDK.
	// Default: noop (silent).
	Logger log.Logger
}

func (c *Config) defaults() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("could not get user home dir: %w", err)
		}
		c.DataDir = filepath.Join(home, conventions.DefaultDataDir)
	}

	if c.DBPath == "" {
		c.DBPath = conventions.DBPath(c.DataDir)
	}

	if c.PlansDir == "" {
		c.PlansDir = conventions.PlansPath(c.DataDir)
	}

	if c.Executor == "" {
		c.Executor = ExecutorHost
	}
	if c.Executor != ExecutorHost && c.Executor != ExecutorFake {
		return fmt.Errorf("unsupported executor type %q: %w", c.Executor, ErrNotValid)
	}

	if c.CheckpointTTL == 0 {
		c.CheckpointTTL = 7 * 24 * time.Hour
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Client is the main SDK entry point.
//
// Create a Client with [New] and release its resources with [Client.Close].
type Client struct {
	checkpoints *checkpoint.Manager
	runSvc      *run.Service
	resumeSvc   *resume.Service
	templates   *storageio.PlanYAMLRepository
	logger      log.Logger
	closeFn     func() error
}

// New creates a new SDK client backed by a SQLite checkpoint database.
//
// The caller must call [Client.Close] when done to release the database
// connection.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	reg, err := newRegistry(cfg)
	if err != nil {
		return nil, mapError(err)
	}

	tplRepo := storageio.NewPlanYAMLRepository(os.DirFS(cfg.PlansDir))
	tpls, err := template.NewPlanner(template.PlannerConfig{
		Repository: tplRepo,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create template planner: %w", err)
	}

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: cfg.DBPath,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}

	c, err := newClient(cfg, reg, tpls, repo)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	c.templates = tplRepo
	c.closeFn = repo.Close

	return c, nil
}

func newClient(cfg Config, reg *executor.Registry, tpls *template.Planner, repo *sqlite.Repository) (*Client, error) {
	cps, err := checkpoint.NewManager(checkpoint.ManagerConfig{
		Repository: repo,
		TTL:        cfg.CheckpointTTL,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create checkpoint manager: %w", err)
	}

	orch, err := orchestrator.NewOrchestrator(orchestrator.OrchestratorConfig{
		Planner:     planner.Planner(tpls),
		Executor:    reg,
		Checkpoints: cps,
		MaxWorkers:  cfg.MaxWorkers,
		RetryDelay:  cfg.RetryDelay,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create orchestrator: %w", err)
	}

	runSvc, err := run.NewService(run.ServiceConfig{
		Orchestrator: orch,
		Templates:    tpls,
		Logger:       cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create run service: %w", err)
	}

	resumeSvc, err := resume.NewService(resume.ServiceConfig{
		Orchestrator: orch,
		Logger:       cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create resume service: %w", err)
	}

	return &Client{
		checkpoints: cps,
		runSvc:      runSvc,
		resumeSvc:   resumeSvc,
		logger:      cfg.Logger,
	}, nil
}

// Close releases resources held by the client, including the database connection.
// After Close returns, the client must not be used.
func (c *Client) Close() error {
	if c.closeFn != nil {
		return c.closeFn()
	}
	return nil
}

// newRegistry registers the custom executors first so they take precedence over the
// executors of the selected type.
func newRegistry(cfg Config) (*executor.Registry, error) {
	reg, err := executor.NewRegistry(executor.RegistryConfig{Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create executor registry: %w", err)
	}

	for name, e := range cfg.Executors {
		if e == nil {
			return nil, fmt.Errorf("executor of capability %q is nil: %w", name, model.ErrNotValid)
		}
		if err := reg.Register(toInternalExecutor(e), model.Capability(name)); err != nil {
			return nil, err
		}
	}

	register := func(e executor.Executor, capabilities []model.Capability) error {
		for _, c := range capabilities {
			if _, ok := cfg.Executors[string(c)]; ok {
				continue
			}
			if err := reg.Register(e, c); err != nil {
				return err
			}
		}
		return nil
	}

	switch cfg.Executor {
	case ExecutorFake:
		e, err := fake.NewExecutor(fake.ExecutorConfig{Logger: cfg.Logger})
		if err != nil {
			return nil, fmt.Errorf("could not create fake executor: %w", err)
		}
		if err := register(e, model.Capabilities()); err != nil {
			return nil, err
		}
	default:
		sh, err := shell.NewExecutor(shell.ExecutorConfig{Logger: cfg.Logger})
		if err != nil {
			return nil, fmt.Errorf("could not create shell executor: %w", err)
		}
		if err := register(sh, shell.Capabilities); err != nil {
			return nil, err
		}

		if !cfg.DisableDocker {
			d, err := docker.NewExecutor(docker.ExecutorConfig{Logger: cfg.Logger})
			if err != nil {
				return nil, fmt.Errorf("could not create docker executor: %w", err)
			}
			if err := register(d, docker.Capabilities); err != nil {
				return nil, err
			}
		}
	}

	return reg, nil
}
