package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/slok/stepper/internal/api"
	"github.com/slok/stepper/internal/app/resume"
	apprun "github.com/slok/stepper/internal/app/run"
	"github.com/slok/stepper/internal/app/submit"
	stepmcp "github.com/slok/stepper/internal/mcp"
	"github.com/slok/stepper/internal/retention"
	"github.com/slok/stepper/internal/workqueue"
)

type ServeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	listenAddr         string
	authToken          string
	queueWorkers       int
	queueSize          int
	retentionSchedule  string
	completedRetention time.Duration
	jobRetention       time.Duration
	mcpHTTP            bool
	mcpStdio           bool
	exec               executionFlags
	version            string
}

// NewServeCommand returns the serve command.
func NewServeCommand(rootCmd *RootCommand, app *kingpin.Application, version string) *ServeCommand {
	c := &ServeCommand{rootCmd: rootCmd, version: version}

	c.Cmd = app.Command("serve", "Run the job queue with its HTTP API.")
	c.Cmd.Flag("listen-addr", "HTTP API listen address.").Default(":8080").StringVar(&c.listenAddr)
	c.Cmd.Flag("auth-token", "Bearer token required by the HTTP API, disabled when empty.").StringVar(&c.authToken)
	c.Cmd.Flag("queue-workers", "Maximum concurrent jobs.").Default("4").IntVar(&c.queueWorkers)
	c.Cmd.Flag("queue-size", "Maximum queued jobs.").Default("1000").IntVar(&c.queueSize)
	c.Cmd.Flag("retention-schedule", "Cron schedule of the checkpoint and job cleanup.").Default("@hourly").StringVar(&c.retentionSchedule)
	c.Cmd.Flag("completed-retention", "How long completed checkpoints are kept.").Default("168h").DurationVar(&c.completedRetention)
	c.Cmd.Flag("job-retention", "How long finished jobs are kept on the queue.").Default("24h").DurationVar(&c.jobRetention)
	c.Cmd.Flag("mcp", "Serve the MCP tools on the /mcp HTTP endpoint.").BoolVar(&c.mcpHTTP)
	c.Cmd.Flag("mcp-stdio", "Serve the MCP tools on stdio.").BoolVar(&c.mcpStdio)
	addExecutionFlags(c.Cmd, &c.exec)

	return c
}

func (c ServeCommand) Name() string { return c.Cmd.FullCommand() }

func (c ServeCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	e, err := c.rootCmd.newExecution(ctx, c.exec)
	if err != nil {
		return err
	}
	defer e.close()

	// Any active checkpoint belongs to a process that didn't finish.
	n, err := e.checkpoints.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("could not recover interrupted checkpoints: %w", err)
	}
	if n > 0 {
		logger.Warningf("%d interrupted executions paused, they can be resumed", n)
	}

	queue, err := workqueue.NewQueue(workqueue.QueueConfig{
		MaxWorkers:   c.queueWorkers,
		MaxQueueSize: c.queueSize,
		OnComplete: func(j workqueue.Job) {
			if j.Error != "" {
				logger.Warningf("Job %s (%s) %s: %s", j.ID, j.Name, j.Status, j.Error)
				return
			}
			logger.Infof("Job %s (%s) %s", j.ID, j.Name, j.Status)
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create work queue: %w", err)
	}

	runSvc, err := apprun.NewService(apprun.ServiceConfig{Orchestrator: e.orchestrator, Templates: e.templates, Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create run service: %w", err)
	}
	resumeSvc, err := resume.NewService(resume.ServiceConfig{Orchestrator: e.orchestrator, Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create resume service: %w", err)
	}
	submitSvc, err := submit.NewService(submit.ServiceConfig{Queue: queue, Runner: runSvc, Resumer: resumeSvc, Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create submit service: %w", err)
	}

	var mcpSrv *stepmcp.Server
	if c.mcpHTTP || c.mcpStdio {
		mcpSrv, err = stepmcp.NewServer(stepmcp.ServerConfig{
			Version:     c.version,
			Jobs:        queue,
			Submitter:   submitSvc,
			Checkpoints: e.checkpoints,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("could not create MCP server: %w", err)
		}
	}

	var mcpHandler http.Handler
	if c.mcpHTTP {
		mcpHandler = mcpSrv.HTTPHandler()
	}

	apiSrv, err := api.NewServer(api.ServerConfig{
		Addr:        c.listenAddr,
		AuthToken:   c.authToken,
		Jobs:        queue,
		Submitter:   submitSvc,
		Checkpoints: e.checkpoints,
		MCPHandler:  mcpHandler,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("could not create HTTP API: %w", err)
	}

	retentionRunner, err := retention.NewRunner(retention.RunnerConfig{
		Schedule:           c.retentionSchedule,
		Checkpoints:        e.checkpoints,
		Jobs:               queue,
		CompletedRetention: c.completedRetention,
		JobRetention:       c.jobRetention,
		RunOnStart:         true,
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("could not create retention runner: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group

	// Context.
	g.Add(
		func() error {
			<-ctx.Done()
			return nil
		},
		func(_ error) {
			cancel()
		},
	)

	// Work queue.
	g.Add(
		func() error {
			return queue.Run(ctx)
		},
		func(_ error) {
			cancel()
		},
	)

	// Retention.
	g.Add(
		func() error {
			return retentionRunner.Run(ctx)
		},
		func(_ error) {
			cancel()
		},
	)

	// HTTP API.
	g.Add(
		func() error {
			return apiSrv.Start()
		},
		func(_ error) {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := apiSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warningf("Could not shutdown HTTP API: %s", err)
			}
		},
	)

	// MCP on stdio.
	if c.mcpStdio {
		g.Add(
			func() error {
				err := mcpSrv.ServeStdio(ctx, c.rootCmd.Stdin, c.rootCmd.Stdout)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}
