package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/slok/stepper/internal/executor"
	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/utils/env"
)

const (
	// DefaultShell is the shell used to run commands.
	DefaultShell = "/bin/sh"
	// DefaultMaxOutput is the maximum number of output bytes kept per execution.
	DefaultMaxOutput = 64 * 1024

	waitDelay = 500 * time.Millisecond
)

// ExecutorConfig is the configuration of the shell executor.
type ExecutorConfig struct {
	Shell     string
	MaxOutput int
	// Dir is the working directory used when the operation doesn't set one.
	Dir    string
	Logger log.Logger
}

func (c *ExecutorConfig) defaults() error {
	if c.Shell == "" {
		c.Shell = DefaultShell
	}
	if c.MaxOutput <= 0 {
		c.MaxOutput = DefaultMaxOutput
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "executor.Shell"})
	return nil
}

// Executor runs the `command` and `script` capability operations on the host shell.
//
// Operations:
//   - `command.run`: `command` (required), `dir`, `env` (`KEY=VALUE` list), `timeout`.
//   - `script.run`: `script` (required, passed on stdin), `interpreter`, `dir`, `env`, `timeout`.
type Executor struct {
	shell     string
	maxOutput int
	dir       string
	logger    log.Logger
}

var _ executor.Executor = &Executor{}

// NewExecutor returns a new shell executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Executor{
		shell:     cfg.Shell,
		maxOutput: cfg.MaxOutput,
		dir:       cfg.Dir,
		logger:    cfg.Logger,
	}, nil
}

// Capabilities are the capabilities served by the shell executor.
var Capabilities = []model.Capability{model.CapabilityCommand, model.CapabilityScript}

func (e *Executor) Execute(ctx context.Context, operation string, params map[string]any) executor.Result {
	capability, action, err := model.ParseOperation(operation)
	if err != nil {
		return executor.Failed(err)
	}
	if action != "run" && action != "" {
		return executor.Failed(fmt.Errorf("unsupported %s action %q: %w", capability, action, model.ErrNotValid))
	}

	p := executor.Params(params)
	timeout, err := p.Duration("timeout", 0)
	if err != nil {
		return executor.Failed(err)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	switch capability {
	case model.CapabilityCommand:
		command, err := p.RequiredString("command")
		if err != nil {
			return executor.Failed(err)
		}
		cmd = exec.CommandContext(ctx, e.shell, "-c", command) // #nosec G204
	case model.CapabilityScript:
		script, err := p.RequiredString("script")
		if err != nil {
			return executor.Failed(err)
		}
		interpreter := p.String("interpreter")
		if interpreter == "" {
			interpreter = e.shell
		}
		cmd = exec.CommandContext(ctx, interpreter) // #nosec G204
		cmd.Stdin = strings.NewReader(script)
	default:
		return executor.Failed(fmt.Errorf("unsupported capability %q: %w", capability, model.ErrExecutor))
	}

	specs, err := p.StringSlice("env")
	if err != nil {
		return executor.Failed(err)
	}
	extraEnv, err := env.ParseSpecs(specs)
	if err != nil {
		return executor.Failed(fmt.Errorf("invalid env: %w: %w", model.ErrNotValid, err))
	}
	cmd.Env = env.Environ(os.Environ(), extraEnv)
	cmd.Dir = e.dir
	if dir := p.String("dir"); dir != "" {
		cmd.Dir = dir
	}

	out := &limitedBuffer{max: e.maxOutput}
	cmd.Stdout = out
	cmd.Stderr = out
	// Children of the shell can keep the output pipes open after a kill.
	cmd.WaitDelay = waitDelay

	start := time.Now()
	e.logger.Debugf("Running %s operation: %s", operation, strings.Join(cmd.Args, " "))
	runErr := cmd.Run()
	duration := time.Since(start)

	output := out.String()
	exitCode := 0
	if runErr != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}
	data := map[string]any{"exit_code": exitCode, "output": output}

	switch {
	case runErr == nil:
		return executor.Result{Success: true, Message: strings.TrimSpace(output), Data: data, Duration: duration}
	case ctx.Err() != nil:
		err := fmt.Errorf("%s interrupted: %w", operation, ctx.Err())
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%s exceeded %s: %w", operation, timeout, model.ErrTimeout)
		}
		return executor.Result{Message: err.Error(), Error: err.Error(), Data: data, Duration: duration}
	default:
		msg := fmt.Sprintf("%s exited with code %d", operation, exitCode)
		if exitCode < 0 {
			msg = fmt.Sprintf("%s could not run: %s", operation, runErr)
		}
		return executor.Result{Message: msg, Error: msg, Data: data, Duration: duration}
	}
}

// limitedBuffer keeps the first max bytes written, the rest are discarded.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := l.max - l.buf.Len()
	if remaining <= 0 {
		l.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		l.buf.Write(p[:remaining])
		l.truncated = true
		return len(p), nil
	}
	return l.buf.Write(p)
}

func (l *limitedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.truncated {
		return l.buf.String() + "\n[output truncated]"
	}
	return l.buf.String()
}
