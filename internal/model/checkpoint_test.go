package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepper/internal/model"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newSteps(n int) []model.StepConfig {
	steps := []model.StepConfig{}
	for i := 0; i < n; i++ {
		s := model.StepConfig{Index: i, Name: "step", Capability: model.CapabilityCommand, Parameters: map[string]any{}, DependsOn: []int{}}
		if i > 0 {
			s.DependsOn = []int{i - 1}
		}
		steps = append(steps, s)
	}
	return steps
}

func completedStep(i int) model.StepResult {
	return model.StepResult{Index: i, Name: "step", Capability: model.CapabilityCommand, Status: model.StepStatusCompleted, Tokens: 10}
}

func TestCheckpointApplyStep(t *testing.T) {
	tests := map[string]struct {
		checkpoint func() *model.Checkpoint
		steps      []model.StepResult
		expStatus  model.CheckpointStatus
		expCurrent int
		expDone    []int
		expPending []int
		expTokens  int
		expErr     error
	}{
		"Completing a step should move it from pending to completed.": {
			checkpoint: func() *model.Checkpoint { return model.NewCheckpoint("c1", "", "", "", newSteps(3), t0) },
			steps:      []model.StepResult{completedStep(0)},
			expStatus:  model.CheckpointStatusActive,
			expCurrent: 1,
			expDone:    []int{0},
			expPending: []int{1, 2},
			expTokens:  10,
		},

		"Re applying the same step should not duplicate it.": {
			checkpoint: func() *model.Checkpoint { return model.NewCheckpoint("c1", "", "", "", newSteps(3), t0) },
			steps:      []model.StepResult{completedStep(0), completedStep(0)},
			expStatus:  model.CheckpointStatusActive,
			expCurrent: 1,
			expDone:    []int{0},
			expPending: []int{1, 2},
			expTokens:  10,
		},

		"Completing the last pending step should complete the checkpoint.": {
			checkpoint: func() *model.Checkpoint { return model.NewCheckpoint("c1", "", "", "", newSteps(2), t0) },
			steps:      []model.StepResult{completedStep(0), completedStep(1)},
			expStatus:  model.CheckpointStatusCompleted,
			expCurrent: 2,
			expDone:    []int{0, 1},
			expPending: []int{},
			expTokens:  20,
		},

		"Current step should be the smallest index not completed.": {
			checkpoint: func() *model.Checkpoint { return model.NewCheckpoint("c1", "", "", "", newSteps(3), t0) },
			steps:      []model.StepResult{completedStep(2)},
			expStatus:  model.CheckpointStatusActive,
			expCurrent: 0,
			expDone:    []int{2},
			expPending: []int{0, 1},
			expTokens:  10,
		},

		"A failed step should stay pending and record the error.": {
			checkpoint: func() *model.Checkpoint { return model.NewCheckpoint("c1", "", "", "", newSteps(2), t0) },
			steps: []model.StepResult{
				{Index: 0, Status: model.StepStatusFailed, Error: "boom"},
			},
			expStatus:  model.CheckpointStatusActive,
			expCurrent: 0,
			expDone:    []int{},
			expPending: []int{0, 1},
		},

		"Updating an unknown step should fail.": {
			checkpoint: func() *model.Checkpoint { return model.NewCheckpoint("c1", "", "", "", newSteps(2), t0) },
			steps:      []model.StepResult{completedStep(7)},
			expErr:     model.ErrNotFound,
		},

		"Re applying the last step after the checkpoint completed should be a no-op.": {
			checkpoint: func() *model.Checkpoint { return model.NewCheckpoint("c1", "", "", "", newSteps(2), t0) },
			steps:      []model.StepResult{completedStep(0), completedStep(1), completedStep(1)},
			expStatus:  model.CheckpointStatusCompleted,
			expCurrent: 2,
			expDone:    []int{0, 1},
			expPending: []int{},
			expTokens:  20,
		},

		"Updating a paused checkpoint should record the step.": {
			checkpoint: func() *model.Checkpoint {
				c := model.NewCheckpoint("c1", "", "", "", newSteps(2), t0)
				_ = c.Pause(t0)
				return c
			},
			steps:      []model.StepResult{completedStep(0)},
			expStatus:  model.CheckpointStatusPaused,
			expCurrent: 1,
			expDone:    []int{0},
			expPending: []int{1},
			expTokens:  10,
		},

		"Updating a failed checkpoint should fail.": {
			checkpoint: func() *model.Checkpoint {
				c := model.NewCheckpoint("c1", "", "", "", newSteps(2), t0)
				_ = c.Fail("boom", t0)
				return c
			},
			steps:  []model.StepResult{completedStep(0)},
			expErr: model.ErrIllegalTransition,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			c := test.checkpoint()
			var err error
			for _, s := range test.steps {
				err = c.ApplyStep(s, t0.Add(time.Minute))
			}
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				return
			}
			require.NoError(t, err)

			gotDone := []int{}
			for _, s := range c.CompletedSteps {
				gotDone = append(gotDone, s.Index)
			}
			gotPending := []int{}
			for _, s := range c.PendingSteps {
				gotPending = append(gotPending, s.Index)
			}

			assert.Equal(test.expStatus, c.Status)
			assert.Equal(test.expCurrent, c.CurrentStep)
			assert.Equal(test.expDone, gotDone)
			assert.Equal(test.expPending, gotPending)
			assert.Equal(test.expTokens, c.TotalTokens)
			assert.NoError(c.Validate())
		})
	}
}

func TestCheckpointTransitions(t *testing.T) {
	past := t0.Add(-time.Hour)

	tests := map[string]struct {
		checkpoint func() *model.Checkpoint
		transition func(c *model.Checkpoint) error
		expStatus  model.CheckpointStatus
		expRetries int
		expErr     error
	}{
		"Pausing an active checkpoint should pause it.": {
			checkpoint: func() *model.Checkpoint { return model.NewCheckpoint("c1", "", "", "", newSteps(2), t0) },
			transition: func(c *model.Checkpoint) error { return c.Pause(t0) },
			expStatus:  model.CheckpointStatusPaused,
		},

		"Pausing a completed checkpoint should fail.": {
			checkpoint: func() *model.Checkpoint {
				c := model.NewCheckpoint("c1", "", "", "", newSteps(2), t0)
				c.Status = model.CheckpointStatusCompleted
				return c
			},
			transition: func(c *model.Checkpoint) error { return c.Pause(t0) },
			expStatus:  model.CheckpointStatusCompleted,
			expErr:     model.ErrIllegalTransition,
		},

		"Resuming a paused checkpoint should activate it and increase retries.": {
			checkpoint: func() *model.Checkpoint {
				c := model.NewCheckpoint("c1", "", "", "", newSteps(2), t0)
				_ = c.Pause(t0)
				return c
			},
			transition: func(c *model.Checkpoint) error { return c.Resume(t0) },
			expStatus:  model.CheckpointStatusActive,
			expRetries: 1,
		},

		"Resuming a failed checkpoint should activate it and increase retries.": {
			checkpoint: func() *model.Checkpoint {
				c := model.NewCheckpoint("c1", "", "", "", newSteps(2), t0)
				_ = c.Fail("boom", t0)
				return c
			},
			transition: func(c *model.Checkpoint) error { return c.Resume(t0) },
			expStatus:  model.CheckpointStatusActive,
			expRetries: 1,
		},

		"Resuming an active checkpoint should fail.": {
			checkpoint: func() *model.Checkpoint { return model.NewCheckpoint("c1", "", "", "", newSteps(2), t0) },
			transition: func(c *model.Checkpoint) error { return c.Resume(t0) },
			expStatus:  model.CheckpointStatusActive,
			expErr:     model.ErrIllegalTransition,
		},

		"Resuming an expired checkpoint should fail without mutating it.": {
			checkpoint: func() *model.Checkpoint {
				c := model.NewCheckpoint("c1", "", "", "", newSteps(2), t0)
				c.ExpiresAt = &past
				_ = c.Pause(t0)
				return c
			},
			transition: func(c *model.Checkpoint) error { return c.Resume(t0) },
			expStatus:  model.CheckpointStatusPaused,
			expErr:     model.ErrIllegalTransition,
		},

		"Expiring a checkpoint past its expiration should expire it.": {
			checkpoint: func() *model.Checkpoint {
				c := model.NewCheckpoint("c1", "", "", "", newSteps(2), t0)
				c.ExpiresAt = &past
				return c
			},
			transition: func(c *model.Checkpoint) error { return c.Expire(t0) },
			expStatus:  model.CheckpointStatusExpired,
		},

		"Failing a completed checkpoint should fail.": {
			checkpoint: func() *model.Checkpoint {
				c := model.NewCheckpoint("c1", "", "", "", newSteps(2), t0)
				_ = c.Complete(t0)
				return c
			},
			transition: func(c *model.Checkpoint) error { return c.Fail("boom", t0) },
			expStatus:  model.CheckpointStatusCompleted,
			expErr:     model.ErrIllegalTransition,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			c := test.checkpoint()
			err := test.transition(c)
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
			} else {
				assert.NoError(err)
			}
			assert.Equal(test.expStatus, c.Status)
			assert.Equal(test.expRetries, c.RetryCount)
		})
	}
}

func TestCheckpointPauseResumeKeepsSteps(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	c := model.NewCheckpoint("c1", "u1", "desc", "type", newSteps(3), t0)
	require.NoError(c.ApplyStep(completedStep(0), t0))
	expDone := append([]model.StepResult{}, c.CompletedSteps...)
	expPending := append([]model.StepConfig{}, c.PendingSteps...)

	require.NoError(c.Pause(t0))
	assert.NotNil(c.PausedAt)
	require.NoError(c.Resume(t0))
	assert.Nil(c.PausedAt)

	assert.Equal(expDone, c.CompletedSteps)
	assert.Equal(expPending, c.PendingSteps)
}

func TestCheckpointNextStep(t *testing.T) {
	tests := map[string]struct {
		steps    []model.StepConfig
		done     []int
		expIndex int
		expOK    bool
	}{
		"Without completed steps the first step should be next.": {
			steps:    newSteps(4),
			expIndex: 0,
			expOK:    true,
		},

		"With two completed steps the third step should be next.": {
			steps:    newSteps(4),
			done:     []int{0, 1},
			expIndex: 2,
			expOK:    true,
		},

		"Steps with unmet dependencies should be skipped.": {
			steps: []model.StepConfig{
				{Index: 0, DependsOn: []int{}},
				{Index: 1, DependsOn: []int{0}},
				{Index: 2, DependsOn: []int{}},
			},
			done:     []int{},
			expIndex: 0,
			expOK:    true,
		},

		"No step should be returned when none is ready.": {
			steps: []model.StepConfig{
				{Index: 0, DependsOn: []int{5}},
			},
			expOK: false,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			c := model.NewCheckpoint("c1", "", "", "", test.steps, t0)
			for _, i := range test.done {
				require.NoError(t, c.ApplyStep(completedStep(i), t0))
			}

			step, ok := c.NextStep()
			assert.Equal(test.expOK, ok)
			if ok {
				assert.Equal(test.expIndex, step.Index)
			}
		})
	}
}
