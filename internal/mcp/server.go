package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/slok/stepper/internal/app/run"
	"github.com/slok/stepper/internal/app/submit"
	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/orchestrator"
	"github.com/slok/stepper/internal/workqueue"
)

// JobQueue is the job queue exposed as tools.
type JobQueue interface {
	Get(id string) (*workqueue.Job, error)
	List(userID string, limit int) []workqueue.Job
	Cancel(id string) error
}

// Submitter submits executions to the job queue.
type Submitter interface {
	Run(ctx context.Context, req submit.Request) (string, error)
}

// CheckpointManager is the checkpoint management exposed as tools.
type CheckpointManager interface {
	Load(ctx context.Context, taskID string) (*model.Checkpoint, error)
	Resumable(ctx context.Context, userID string) ([]model.Checkpoint, error)
}

// ServerConfig is the configuration of the MCP server.
type ServerConfig struct {
	Name        string
	Version     string
	Jobs        JobQueue
	Submitter   Submitter
	Checkpoints CheckpointManager
	Logger      log.Logger
	Now         func() time.Time
}

func (c *ServerConfig) defaults() error {
	if c.Name == "" {
		c.Name = "stepper"
	}

	if c.Version == "" {
		c.Version = "dev"
	}

	if c.Jobs == nil {
		return fmt.Errorf("jobs queue is required")
	}

	if c.Submitter == nil {
		return fmt.Errorf("submitter is required")
	}

	if c.Checkpoints == nil {
		return fmt.Errorf("checkpoint manager is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "mcp.Server"})

	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}

	return nil
}

// Server exposes the job queue and the checkpoints as MCP tools.
type Server struct {
	mcpServer   *server.MCPServer
	jobs        JobQueue
	submitter   Submitter
	checkpoints CheckpointManager
	logger      log.Logger
	now         func() time.Time
}

// NewServer returns a new MCP server with all the tools registered.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		mcpServer:   server.NewMCPServer(cfg.Name, cfg.Version, server.WithToolCapabilities(true)),
		jobs:        cfg.Jobs,
		submitter:   cfg.Submitter,
		checkpoints: cfg.Checkpoints,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
	s.registerTools()

	return s, nil
}

// ServeStdio serves the MCP protocol on the reader and writer until the context is
// cancelled or the reader is closed.
func (s *Server) ServeStdio(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	s.logger.Infof("MCP server starting on stdio")
	return server.NewStdioServer(s.mcpServer).Listen(ctx, stdin, stdout)
}

// HTTPHandler returns the streamable HTTP transport of the MCP server.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

func (s *Server) registerTools() {
	priorities := []string{"low", "normal", "high", "urgent"}

	s.mcpServer.AddTool(mcp.NewTool("submit_job",
		mcp.WithDescription("Plan a request and queue its execution."),
		mcp.WithString("request",
			mcp.Required(),
			mcp.Description("The request to plan and execute."),
		),
		mcp.WithString("template",
			mcp.Description("Plan template name, matched from the request when empty."),
		),
		mcp.WithString("strategy",
			mcp.Description("Overrides the plan execution strategy."),
			mcp.Enum(string(model.StrategySequential), string(model.StrategyParallel), string(model.StrategyMixed)),
		),
		mcp.WithString("user_id",
			mcp.Description("Owner of the job and its checkpoint."),
		),
		mcp.WithString("priority",
			mcp.Description("Queue priority, normal by default."),
			mcp.Enum(priorities...),
		),
	), s.handleSubmitJob)

	s.mcpServer.AddTool(mcp.NewTool("get_job",
		mcp.WithDescription("Get the status and the report of a job."),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID."),
		),
	), s.handleGetJob)

	s.mcpServer.AddTool(mcp.NewTool("list_jobs",
		mcp.WithDescription("List the jobs, newest first."),
		mcp.WithString("user_id",
			mcp.Description("Only list the jobs of this user."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of jobs, 20 by default."),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleListJobs)

	s.mcpServer.AddTool(mcp.NewTool("cancel_job",
		mcp.WithDescription("Cancel a queued or running job."),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID."),
		),
	), s.handleCancelJob)

	s.mcpServer.AddTool(mcp.NewTool("list_resumable",
		mcp.WithDescription("List the paused or failed executions that can be resumed."),
		mcp.WithString("user_id",
			mcp.Description("Only list the checkpoints of this user."),
		),
	), s.handleListResumable)

	s.mcpServer.AddTool(mcp.NewTool("resume_checkpoint",
		mcp.WithDescription("Queue the resume of a paused or failed execution."),
		mcp.WithString("checkpoint_id",
			mcp.Required(),
			mcp.Description("Checkpoint ID."),
		),
		mcp.WithString("priority",
			mcp.Description("Queue priority, normal by default."),
			mcp.Enum(priorities...),
		),
	), s.handleResumeCheckpoint)
}

func (s *Server) handleSubmitJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	priority, err := model.ParsePriority(mcp.ParseString(request, "priority", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	id, err := s.submitter.Run(ctx, submit.Request{
		Run: run.Request{
			Request:  strings.TrimSpace(mcp.ParseString(request, "request", "")),
			Template: mcp.ParseString(request, "template", ""),
			Strategy: model.StrategyKind(mcp.ParseString(request, "strategy", "")),
			UserID:   mcp.ParseString(request, "user_id", ""),
		},
		Priority: priority,
	})
	if err != nil {
		return s.toolError("submit job", err), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Job queued\nID: %s", id)), nil
}

func (s *Server) handleGetJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	job, err := s.jobs.Get(mcp.ParseString(request, "job_id", ""))
	if err != nil {
		return s.toolError("get job", err), nil
	}

	return mcp.NewToolResultText(formatJob(*job)), nil
}

func (s *Server) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := int(mcp.ParseFloat64(request, "limit", 20))
	jobs := s.jobs.List(mcp.ParseString(request, "user_id", ""), limit)
	if len(jobs) == 0 {
		return mcp.NewToolResultText("No jobs found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d jobs:\n", len(jobs))
	for _, j := range jobs {
		fmt.Fprintf(&b, "\n%s %s [%s] %d%%", j.ID, j.Name, j.Status, j.Progress)
	}

	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "job_id", "")
	if err := s.jobs.Cancel(id); err != nil {
		return s.toolError("cancel job", err), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Job %s cancellation requested", id)), nil
}

func (s *Server) handleListResumable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cps, err := s.checkpoints.Resumable(ctx, mcp.ParseString(request, "user_id", ""))
	if err != nil {
		return s.toolError("list resumable checkpoints", err), nil
	}
	if len(cps) == 0 {
		return mcp.NewToolResultText("No resumable checkpoints found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d resumable checkpoints:\n", len(cps))
	for _, c := range cps {
		fmt.Fprintf(&b, "\n%s [%s] %d/%d steps", c.TaskID, c.Status, len(c.CompletedSteps), c.TotalSteps)
		if c.Description != "" {
			fmt.Fprintf(&b, "\n  Description: %s", c.Description)
		}
		if c.LastError != "" {
			fmt.Fprintf(&b, "\n  Last error: %s", c.LastError)
		}
	}

	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleResumeCheckpoint(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	priority, err := model.ParsePriority(mcp.ParseString(request, "priority", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	id := mcp.ParseString(request, "checkpoint_id", "")
	c, err := s.checkpoints.Load(ctx, id)
	if err != nil {
		return s.toolError("load checkpoint", err), nil
	}
	if !c.IsResumable(s.now()) {
		return mcp.NewToolResultError(fmt.Sprintf("checkpoint %s is %s and can't be resumed", id, c.Status)), nil
	}

	jobID, err := s.submitter.Run(ctx, submit.Request{ResumeCheckpointID: id, Priority: priority})
	if err != nil {
		return s.toolError("submit resume", err), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Resume queued\nJob ID: %s", jobID)), nil
}

func (s *Server) toolError(action string, err error) *mcp.CallToolResult {
	if !errors.Is(err, model.ErrNotFound) && !errors.Is(err, model.ErrNotValid) && !errors.Is(err, model.ErrIllegalTransition) {
		s.logger.Errorf("MCP tool could not %s: %s", action, err)
	}
	return mcp.NewToolResultError(fmt.Sprintf("could not %s: %s", action, err))
}

func formatJob(j workqueue.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job %s\n", j.ID)
	fmt.Fprintf(&b, "Name: %s\n", j.Name)
	fmt.Fprintf(&b, "Status: %s\n", j.Status)
	fmt.Fprintf(&b, "Priority: %s\n", j.Priority)
	fmt.Fprintf(&b, "Progress: %d%%", j.Progress)
	if j.ProgressMessage != "" {
		fmt.Fprintf(&b, " (%s)", j.ProgressMessage)
	}
	if j.Error != "" {
		fmt.Fprintf(&b, "\nError: %s", j.Error)
	}

	report, ok := j.Result.(*orchestrator.Report)
	if !ok || report == nil {
		return b.String()
	}

	fmt.Fprintf(&b, "\nResult: %s", report.Message)
	if report.CheckpointID != "" {
		fmt.Fprintf(&b, "\nCheckpoint: %s", report.CheckpointID)
	}
	for _, t := range report.Tasks {
		fmt.Fprintf(&b, "\n- %s [%s]", t.ID, t.Status)
		switch {
		case t.Error != "":
			fmt.Fprintf(&b, " %s", t.Error)
		case t.Message != "":
			fmt.Fprintf(&b, " %s", t.Message)
		}
	}

	return b.String()
}
