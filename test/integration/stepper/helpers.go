package stepper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/slok/stepper/test/integration/testutils"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	Binary string
}

func (c *Config) defaults() error {
	if c.Binary == "" {
		c.Binary = "stepper"
	}

	// go test changes the CWD to the test package directory so relative paths
	// would not point to the built binary.
	if !filepath.IsAbs(c.Binary) {
		return fmt.Errorf("STEPPER_INTEGRATION_BINARY must be an absolute path, got %q", c.Binary)
	}
	if _, err := os.Stat(c.Binary); err != nil {
		return fmt.Errorf("stepper binary not found at %q: %w", c.Binary, err)
	}

	return nil
}

// NewConfig loads integration test configuration from environment variables.
// If the config is invalid or the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "STEPPER_INTEGRATION"
		envBinary     = "STEPPER_INTEGRATION_BINARY"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	c := Config{
		Binary: os.Getenv(envBinary),
	}

	if err := c.defaults(); err != nil {
		t.Skipf("Skipping due to invalid config: %s", err)
	}

	return c
}

// RunStepperCmd runs a stepper command with the given arguments on a specific data dir.
// It suppresses logging output for cleaner test output.
func RunStepperCmd(ctx context.Context, config Config, dataDir, cmdArgs string) (stdout, stderr []byte, err error) {
	args := fmt.Sprintf("--no-log --data-dir %s %s", dataDir, cmdArgs)
	return testutils.RunStepper(ctx, nil, config.Binary, args, true)
}

// RunPlanFile executes a plan file on the host without the container capability.
func RunPlanFile(ctx context.Context, config Config, dataDir, planFile string) (stdout, stderr []byte, err error) {
	args := fmt.Sprintf("run --plan-file %s --no-docker --retry-delay 10ms --format json", planFile)
	return RunStepperCmd(ctx, config, dataDir, args)
}

// RunResume resumes a checkpoint on the host without the container capability.
func RunResume(ctx context.Context, config Config, dataDir, checkpointID string) (stdout, stderr []byte, err error) {
	args := fmt.Sprintf("resume %s --no-docker --retry-delay 10ms --format json", checkpointID)
	return RunStepperCmd(ctx, config, dataDir, args)
}

// RunCheckpointShow shows a checkpoint in JSON format.
func RunCheckpointShow(ctx context.Context, config Config, dataDir, checkpointID string) (stdout, stderr []byte, err error) {
	return RunStepperCmd(ctx, config, dataDir, fmt.Sprintf("checkpoint show %s --format json", checkpointID))
}

// RunCheckpointList lists the checkpoints in JSON format.
func RunCheckpointList(ctx context.Context, config Config, dataDir, extraArgs string) (stdout, stderr []byte, err error) {
	return RunStepperCmd(ctx, config, dataDir, fmt.Sprintf("checkpoint list --format json %s", extraArgs))
}
