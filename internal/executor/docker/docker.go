package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/oklog/ulid/v2"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/slok/stepper/internal/executor"
	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/utils/env"
)

// DockerClient is the interface for Docker operations that we use.
// This allows us to mock the Docker client for testing.
type DockerClient interface {
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// ExecutorConfig is the configuration for the Docker executor.
type ExecutorConfig struct {
	Client DockerClient
	// ContainerPrefix is the prefix of the created container names.
	ContainerPrefix string
	Logger          log.Logger
}

func (c *ExecutorConfig) defaults() error {
	if c.Client == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("could not create Docker client: %w", err)
		}
		c.Client = cli
	}
	if c.ContainerPrefix == "" {
		c.ContainerPrefix = "stepper"
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "executor.Docker"})
	return nil
}

// Executor runs the `container` capability operations as one-shot Docker containers.
//
// Operations:
//   - `container.run`: `image` (required), `command` (list), `env` (`KEY=VALUE` list),
//     `workdir`, `pull` (default true), `timeout`.
//   - `container.pull`: `image` (required).
type Executor struct {
	client DockerClient
	prefix string
	logger log.Logger
}

var _ executor.Executor = &Executor{}

// Capabilities are the capabilities served by the Docker executor.
var Capabilities = []model.Capability{model.CapabilityContainer}

// NewExecutor creates a new Docker executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Executor{
		client: cfg.Client,
		prefix: cfg.ContainerPrefix,
		logger: cfg.Logger,
	}, nil
}

func (e *Executor) Execute(ctx context.Context, operation string, params map[string]any) executor.Result {
	capability, action, err := model.ParseOperation(operation)
	if err != nil {
		return executor.Failed(err)
	}
	if capability != model.CapabilityContainer {
		return executor.Failed(fmt.Errorf("unsupported capability %q: %w", capability, model.ErrExecutor))
	}

	p := executor.Params(params)
	img, err := p.RequiredString("image")
	if err != nil {
		return executor.Failed(err)
	}

	start := time.Now()
	switch action {
	case "pull":
		if err := e.pull(ctx, img); err != nil {
			return executor.Failed(err)
		}
		return executor.Result{Success: true, Message: fmt.Sprintf("image %s pulled", img), Duration: time.Since(start)}
	case "run":
		res := e.run(ctx, img, p)
		res.Duration = time.Since(start)
		return res
	default:
		return executor.Failed(fmt.Errorf("unsupported container action %q: %w", action, model.ErrNotValid))
	}
}

func (e *Executor) pull(ctx context.Context, img string) error {
	e.logger.Infof("Pulling image: %s", img)
	pullResp, err := e.client.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	defer pullResp.Close()

	// Consume the pull response to ensure it completes.
	_, _ = io.Copy(io.Discard, pullResp)
	return nil
}

func (e *Executor) run(ctx context.Context, img string, p executor.Params) executor.Result {
	command, err := p.StringSlice("command")
	if err != nil {
		return executor.Failed(err)
	}
	specs, err := p.StringSlice("env")
	if err != nil {
		return executor.Failed(err)
	}
	envVars, err := env.ParseSpecs(specs)
	if err != nil {
		return executor.Failed(fmt.Errorf("invalid env: %w: %w", model.ErrNotValid, err))
	}
	timeout, err := p.Duration("timeout", 0)
	if err != nil {
		return executor.Failed(err)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if _, ok := p["pull"]; !ok || p.Bool("pull") {
		if err := e.pull(ctx, img); err != nil {
			return executor.Failed(err)
		}
	}

	containerName := fmt.Sprintf("%s-%s", e.prefix, strings.ToLower(ulid.Make().String()))
	e.logger.Infof("Creating container: %s", containerName)
	resp, err := e.client.ContainerCreate(ctx, &container.Config{
		Image:      img,
		Cmd:        command,
		Env:        env.Environ(nil, envVars),
		WorkingDir: p.String("workdir"),
	}, &container.HostConfig{}, nil, nil, containerName)
	if err != nil {
		return executor.Failed(fmt.Errorf("failed to create container: %w", err))
	}

	// Removal must happen even when the operation context is done.
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := e.client.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true}); err != nil {
			e.logger.Warningf("Failed to remove container %s: %v", containerName, err)
		}
	}()

	if err := e.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return executor.Failed(fmt.Errorf("failed to start container: %w", err))
	}

	statusCode, waitErr := e.wait(ctx, resp.ID)
	output, logsErr := e.logs(context.WithoutCancel(ctx), resp.ID)
	if logsErr != nil {
		e.logger.Warningf("Failed to get container %s logs: %v", containerName, logsErr)
	}
	data := map[string]any{"container": containerName, "exit_code": statusCode, "output": output}

	if waitErr != nil {
		if errors.Is(waitErr, context.DeadlineExceeded) && timeout > 0 {
			waitErr = fmt.Errorf("container.run exceeded %s: %w", timeout, model.ErrTimeout)
		}
		return executor.Result{Message: waitErr.Error(), Error: waitErr.Error(), Data: data}
	}
	if statusCode != 0 {
		msg := fmt.Sprintf("container.run exited with code %d", statusCode)
		return executor.Result{Message: msg, Error: msg, Data: data}
	}

	return executor.Result{Success: true, Message: strings.TrimSpace(output), Data: data}
}

func (e *Executor) wait(ctx context.Context, containerID string) (int64, error) {
	statusCh, errCh := e.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-errCh:
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
		return -1, fmt.Errorf("failed waiting container: %w", err)
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return status.StatusCode, fmt.Errorf("container failed: %s", status.Error.Message)
		}
		return status.StatusCode, nil
	}
}

func (e *Executor) logs(ctx context.Context, containerID string) (string, error) {
	rc, err := e.client.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, rc); err != nil {
		return out.String(), err
	}
	return out.String(), nil
}
