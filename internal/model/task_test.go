package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepper/internal/model"
)

func TestCapabilities(t *testing.T) {
	cs := model.Capabilities()

	assert.Len(t, cs, 11)
	assert.Equal(t, model.CapabilityApp, cs[0])
	assert.Equal(t, model.CapabilitySystem, cs[len(cs)-1])
	for _, c := range cs {
		assert.True(t, c.Valid())
	}
}

func TestParseOperation(t *testing.T) {
	tests := map[string]struct {
		op            string
		expCapability model.Capability
		expAction     string
		expErr        bool
	}{
		"Capability with action should be parsed.": {
			op:            "file.read",
			expCapability: model.CapabilityFile,
			expAction:     "read",
		},

		"Capability without action should be parsed.": {
			op:            "command",
			expCapability: model.CapabilityCommand,
		},

		"Capability should be case insensitive.": {
			op:            "Container.run",
			expCapability: model.CapabilityContainer,
			expAction:     "run",
		},

		"Unknown capabilities should fail.": {
			op:     "rocket.launch",
			expErr: true,
		},

		"Empty operations should fail.": {
			op:     " ",
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			c, action, err := model.ParseOperation(test.op)
			if test.expErr {
				assert.ErrorIs(err, model.ErrNotValid)
				return
			}
			assert.NoError(err)
			assert.Equal(test.expCapability, c)
			assert.Equal(test.expAction, action)
		})
	}
}

func TestNewTaskDefaults(t *testing.T) {
	assert := assert.New(t)

	task := model.NewTask("t1", "read", "file.read", nil, "t0")

	assert.Equal(model.TaskStatusPending, task.Status)
	assert.Equal(model.PriorityNormal, task.Priority)
	assert.Equal(model.DefaultTaskMaxRetries, task.MaxRetries)
	assert.Equal(model.DefaultTaskTimeout, task.Timeout)
	assert.Equal(model.CapabilityFile, task.Capability)
	assert.Equal("read", task.Action)
	assert.Equal([]string{"t0"}, task.Dependencies)
	assert.NotNil(task.Parameters)
	assert.False(task.CreatedAt.IsZero())
}

func TestTaskIsReady(t *testing.T) {
	tests := map[string]struct {
		status    model.TaskStatus
		deps      []string
		completed map[string]bool
		expReady  bool
	}{
		"A pending task without dependencies should be ready.": {
			status:   model.TaskStatusPending,
			expReady: true,
		},

		"A pending task with all its dependencies completed should be ready.": {
			status:    model.TaskStatusPending,
			deps:      []string{"a", "b"},
			completed: map[string]bool{"a": true, "b": true},
			expReady:  true,
		},

		"A pending task with a dependency not completed should not be ready.": {
			status:    model.TaskStatusPending,
			deps:      []string{"a", "b"},
			completed: map[string]bool{"a": true},
			expReady:  false,
		},

		"A non pending task should not be ready.": {
			status:   model.TaskStatusRunning,
			expReady: false,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			task := model.NewTask("t", "t", "command", nil, test.deps...)
			task.Status = test.status
			assert.Equal(t, test.expReady, task.IsReady(test.completed))
		})
	}
}

func TestTaskLifecycle(t *testing.T) {
	tests := map[string]struct {
		run       func(t *model.Task) error
		expStatus model.TaskStatus
		expErr    error
	}{
		"Starting a pending task should set it running.": {
			run:       func(t *model.Task) error { return t.Start() },
			expStatus: model.TaskStatusRunning,
		},

		"Completing a running task with success should complete it.": {
			run: func(t *model.Task) error {
				_ = t.Start()
				return t.Complete(model.TaskResult{Success: true})
			},
			expStatus: model.TaskStatusCompleted,
		},

		"Completing a running task with failure should fail it.": {
			run: func(t *model.Task) error {
				_ = t.Start()
				return t.Complete(model.TaskResult{Success: false, Error: "boom"})
			},
			expStatus: model.TaskStatusFailed,
		},

		"Completing a pending task should fail.": {
			run:       func(t *model.Task) error { return t.Complete(model.TaskResult{Success: true}) },
			expStatus: model.TaskStatusPending,
			expErr:    model.ErrIllegalTransition,
		},

		"Starting a completed task should fail.": {
			run: func(t *model.Task) error {
				_ = t.Start()
				_ = t.Complete(model.TaskResult{Success: true})
				return t.Start()
			},
			expStatus: model.TaskStatusCompleted,
			expErr:    model.ErrIllegalTransition,
		},

		"Cancelling a pending task should cancel it.": {
			run:       func(t *model.Task) error { return t.Cancel() },
			expStatus: model.TaskStatusCancelled,
		},

		"Cancelling a waiting task should cancel it.": {
			run: func(t *model.Task) error {
				t.Status = model.TaskStatusWaiting
				return t.Cancel()
			},
			expStatus: model.TaskStatusCancelled,
		},

		"Cancelling a running task should fail.": {
			run: func(t *model.Task) error {
				_ = t.Start()
				return t.Cancel()
			},
			expStatus: model.TaskStatusRunning,
			expErr:    model.ErrIllegalTransition,
		},

		"Starting a cancelled task should fail.": {
			run: func(t *model.Task) error {
				_ = t.Cancel()
				return t.Start()
			},
			expStatus: model.TaskStatusCancelled,
			expErr:    model.ErrIllegalTransition,
		},

		"Failing a pending task should fail it.": {
			run:       func(t *model.Task) error { return t.Fail("dependency not satisfied") },
			expStatus: model.TaskStatusFailed,
		},

		"Retrying a failed task should return it to pending.": {
			run: func(t *model.Task) error {
				_ = t.Start()
				_ = t.Complete(model.TaskResult{Success: false})
				return t.Retry()
			},
			expStatus: model.TaskStatusPending,
		},

		"Retrying a failed task without retries left should fail.": {
			run: func(t *model.Task) error {
				t.MaxRetries = 1
				t.RetryCount = 1
				_ = t.Start()
				_ = t.Complete(model.TaskResult{Success: false})
				return t.Retry()
			},
			expStatus: model.TaskStatusFailed,
			expErr:    model.ErrIllegalTransition,
		},

		"Retrying a completed task should fail.": {
			run: func(t *model.Task) error {
				_ = t.Start()
				_ = t.Complete(model.TaskResult{Success: true})
				return t.Retry()
			},
			expStatus: model.TaskStatusCompleted,
			expErr:    model.ErrIllegalTransition,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			task := model.NewTask("t", "t", "command", nil)
			err := test.run(task)
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
			} else {
				assert.NoError(err)
			}
			assert.Equal(test.expStatus, task.Status)
		})
	}
}

func TestTaskCallbacks(t *testing.T) {
	t.Run("Success callback should be called on completion.", func(t *testing.T) {
		var completed, errored bool
		task := model.NewTask("t", "t", "command", nil)
		task.OnComplete = func(*model.Task) { completed = true }
		task.OnError = func(*model.Task) { errored = true }

		require.NoError(t, task.Start())
		require.NoError(t, task.Complete(model.TaskResult{Success: true, Message: "ok"}))
		assert.True(t, completed)
		assert.False(t, errored)
		assert.NotNil(t, task.CompletedAt)
		assert.Equal(t, "ok", task.Result.Message)
	})

	t.Run("Error callback should be called on failure.", func(t *testing.T) {
		var completed, errored bool
		task := model.NewTask("t", "t", "command", nil)
		task.OnComplete = func(*model.Task) { completed = true }
		task.OnError = func(*model.Task) { errored = true }

		require.NoError(t, task.Start())
		require.NoError(t, task.Complete(model.TaskResult{Success: false}))
		assert.False(t, completed)
		assert.True(t, errored)
	})
}

func TestTaskRetryResetsExecution(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	task := model.NewTask("t", "t", "command", nil)
	require.NoError(task.Start())
	require.NoError(task.Complete(model.TaskResult{Success: false, Error: "boom"}))
	require.NoError(task.Retry())

	assert.Equal(1, task.RetryCount)
	assert.Nil(task.StartedAt)
	assert.Nil(task.CompletedAt)
	assert.Nil(task.Result)
}

func TestParsePriority(t *testing.T) {
	tests := map[string]struct {
		in     string
		exp    model.Priority
		expErr bool
	}{
		"Empty should be normal.": {in: "", exp: model.PriorityNormal},
		"Low.":                    {in: "low", exp: model.PriorityLow},
		"High.":                   {in: "HIGH", exp: model.PriorityHigh},
		"Urgent.":                 {in: "urgent", exp: model.PriorityUrgent},
		"Unknown should fail.":    {in: "critical", expErr: true},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			p, err := model.ParsePriority(test.in)
			if test.expErr {
				assert.ErrorIs(t, err, model.ErrNotValid)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, test.exp, p)
		})
	}
}
