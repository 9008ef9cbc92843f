package lib_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepper/pkg/lib"
)

const backupPlanYAML = `name: backup
description: Backup the documents.
keywords: [backup, documents]
tasks:
  - id: archive
    operation: command.run
  - id: upload
    operation: browser.upload
    depends_on: [archive]
    max_retries: 1
`

// newTestClient creates a client with a temp SQLite DB and plans dir for test isolation.
func newTestClient(t *testing.T, executors map[string]lib.Executor) *lib.Client {
	t.Helper()

	dataDir := t.TempDir()
	plansDir := filepath.Join(dataDir, "plans")
	require.NoError(t, os.MkdirAll(plansDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(plansDir, "backup.yaml"), []byte(backupPlanYAML), 0o644))

	client, err := lib.New(context.Background(), lib.Config{
		DataDir:    dataDir,
		Executor:   lib.ExecutorFake,
		Executors:  executors,
		RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

// switchExecutor fails every operation while failing is set and counts the calls.
type switchExecutor struct {
	mu      sync.Mutex
	failing bool
	calls   int
}

func (e *switchExecutor) Execute(_ context.Context, operation string, _ map[string]any) lib.Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls++
	if e.failing {
		return lib.Result{Success: false, Error: operation + " unavailable"}
	}
	return lib.Result{Success: true, Message: operation + " done"}
}

func (e *switchExecutor) setFailing(f bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failing = f
}

func TestNew(t *testing.T) {
	tests := map[string]struct {
		cfg    lib.Config
		expErr bool
	}{
		"A fake executor client should be created.": {
			cfg: lib.Config{Executor: lib.ExecutorFake},
		},

		"An unknown executor type should fail.": {
			cfg:    lib.Config{Executor: "ssh"},
			expErr: true,
		},

		"A custom executor of an unknown capability should fail.": {
			cfg: lib.Config{
				Executor: lib.ExecutorFake,
				Executors: map[string]lib.Executor{
					"teleport": lib.ExecutorFunc(func(context.Context, string, map[string]any) lib.Result { return lib.Result{} }),
				},
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			test.cfg.DataDir = t.TempDir()
			client, err := lib.New(context.Background(), test.cfg)

			if test.expErr {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.NoError(client.Close())
		})
	}
}

func TestRun(t *testing.T) {
	tests := map[string]struct {
		opts       lib.RunOpts
		expErr     bool
		expIs      error
		expSuccess bool
		expPlan    string
		expTasks   int
	}{
		"Running a request should match the template.": {
			opts:       lib.RunOpts{Request: "backup my documents"},
			expSuccess: true,
			expPlan:    "backup",
			expTasks:   2,
		},

		"Running a template by name should work.": {
			opts:       lib.RunOpts{Request: "anything", Template: "backup", Strategy: lib.StrategyParallel},
			expSuccess: true,
			expPlan:    "backup",
			expTasks:   2,
		},

		"Running an inline plan should work.": {
			opts: lib.RunOpts{
				Request:  "say hi",
				PlanData: []byte(`{"name": "hi", "tasks": [{"id": "a", "operation": "app.open"}]}`),
			},
			expSuccess: true,
			expPlan:    "hi",
			expTasks:   1,
		},

		"Running an inline plan with a dependency cycle should fail.": {
			opts: lib.RunOpts{
				Request: "cycle",
				PlanData: []byte(`{"tasks": [
					{"id": "a", "operation": "app.open", "depends_on": ["b"]},
					{"id": "b", "operation": "app.open", "depends_on": ["a"]}
				]}`),
			},
			expErr: true,
			expIs:  lib.ErrNotValid,
		},

		"Running an unknown template should fail.": {
			opts:   lib.RunOpts{Request: "backup", Template: "missing"},
			expErr: true,
			expIs:  lib.ErrNotFound,
		},

		"Running a request that matches no template should fail.": {
			opts:   lib.RunOpts{Request: "cook dinner"},
			expErr: true,
			expIs:  lib.ErrNotFound,
		},

		"Running without a request should fail.": {
			opts:   lib.RunOpts{},
			expErr: true,
			expIs:  lib.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			client := newTestClient(t, nil)

			report, err := client.Run(context.Background(), test.opts)

			if test.expErr {
				assert.Error(err)
				if test.expIs != nil {
					assert.True(errors.Is(err, test.expIs), "expected error %v, got: %v", test.expIs, err)
				}
				return
			}
			require.NoError(err)
			assert.Equal(test.expSuccess, report.Success)
			assert.Equal(test.expPlan, report.PlanName)
			assert.Len(report.Tasks, test.expTasks)
			assert.NotEmpty(report.CheckpointID)

			cp, err := client.GetCheckpoint(context.Background(), report.CheckpointID)
			require.NoError(err)
			assert.Equal(lib.CheckpointStatusCompleted, cp.Status)
			assert.False(cp.Resumable)
		})
	}
}

func TestRunProgress(t *testing.T) {
	assert := assert.New(t)
	client := newTestClient(t, nil)

	var percents []float64
	report, err := client.Run(context.Background(), lib.RunOpts{
		Request:  "backup",
		Template: "backup",
		Progress: func(p float64, _ string) { percents = append(percents, p) },
	})
	assert.NoError(err)
	assert.True(report.Success)
	assert.Equal([]float64{50, 100}, percents)
}

func TestResume(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	browser := &switchExecutor{failing: true}
	client := newTestClient(t, map[string]lib.Executor{"browser": browser})

	// The upload fails after its retry.
	report, err := client.Run(ctx, lib.RunOpts{Request: "backup", Template: "backup", UserID: "u1"})
	require.NoError(err)
	assert.False(report.Success)
	assert.Equal(2, browser.calls)

	cps, err := client.ResumableCheckpoints(ctx, "u1")
	require.NoError(err)
	require.Len(cps, 1)
	assert.Equal(report.CheckpointID, cps[0].ID)
	assert.Equal(lib.CheckpointStatusFailed, cps[0].Status)
	assert.Contains(cps[0].LastError, "browser.upload unavailable")

	// Only the pending upload is executed again.
	browser.setFailing(false)
	report, err = client.Resume(ctx, report.CheckpointID, nil)
	require.NoError(err)
	assert.True(report.Success)
	assert.Equal(3, browser.calls)

	cp, err := client.GetCheckpoint(ctx, report.CheckpointID)
	require.NoError(err)
	assert.Equal(lib.CheckpointStatusCompleted, cp.Status)

	// A completed checkpoint can't be resumed.
	_, err = client.Resume(ctx, report.CheckpointID, nil)
	assert.True(errors.Is(err, lib.ErrIllegalTransition), "got: %v", err)
}

func TestCheckpoints(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	browser := &switchExecutor{failing: true}
	client := newTestClient(t, map[string]lib.Executor{"browser": browser})

	failed, err := client.Run(ctx, lib.RunOpts{Request: "backup", Template: "backup", UserID: "u1"})
	require.NoError(err)
	browser.setFailing(false)
	completed, err := client.Run(ctx, lib.RunOpts{Request: "backup", Template: "backup", UserID: "u2"})
	require.NoError(err)

	all, err := client.ListCheckpoints(ctx, nil)
	require.NoError(err)
	assert.Len(all, 2)

	byUser, err := client.ListCheckpoints(ctx, &lib.ListCheckpointsOpts{UserID: "u2"})
	require.NoError(err)
	require.Len(byUser, 1)
	assert.Equal(completed.CheckpointID, byUser[0].ID)
	assert.Len(byUser[0].Steps, 2)

	byStatus, err := client.ListCheckpoints(ctx, &lib.ListCheckpointsOpts{Status: lib.CheckpointStatusFailed})
	require.NoError(err)
	require.Len(byStatus, 1)
	assert.Equal(failed.CheckpointID, byStatus[0].ID)

	stats, err := client.CheckpointStatistics(ctx, "")
	require.NoError(err)
	assert.Equal(2, stats.Total)
	assert.Equal(1, stats.Resumable)
	assert.Equal(map[lib.CheckpointStatus]int{
		lib.CheckpointStatusFailed:    1,
		lib.CheckpointStatusCompleted: 1,
	}, stats.ByStatus)

	// Only active checkpoints can be paused.
	_, err = client.PauseCheckpoint(ctx, failed.CheckpointID)
	assert.True(errors.Is(err, lib.ErrIllegalTransition), "got: %v", err)

	require.NoError(client.RemoveCheckpoint(ctx, failed.CheckpointID))
	_, err = client.GetCheckpoint(ctx, failed.CheckpointID)
	assert.True(errors.Is(err, lib.ErrNotFound), "got: %v", err)

	err = client.RemoveCheckpoint(ctx, failed.CheckpointID)
	assert.True(errors.Is(err, lib.ErrNotFound), "got: %v", err)
}

func TestListTemplates(t *testing.T) {
	assert := assert.New(t)
	client := newTestClient(t, nil)

	tpls, err := client.ListTemplates(context.Background())
	assert.NoError(err)
	assert.Equal([]lib.Template{
		{
			Name:        "backup",
			Description: "Backup the documents.",
			Keywords:    []string{"backup", "documents"},
			Strategy:    lib.StrategySequential,
			Tasks:       2,
		},
	}, tpls)
}
