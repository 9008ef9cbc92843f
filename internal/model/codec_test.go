package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepper/internal/model"
)

func TestPlanCodecRoundTrip(t *testing.T) {
	started := t0.Add(time.Second)
	completed := t0.Add(2 * time.Second)

	plan := &model.TaskPlan{
		ID:       "p1",
		Name:     "build",
		Request:  "build the project",
		Strategy: model.StrategyMixed,
		Tasks: []*model.Task{
			{
				ID:          "a",
				Name:        "checkout",
				Operation:   "command.run",
				Capability:  model.CapabilityCommand,
				Action:      "run",
				Parameters:  map[string]any{"command": "git pull"},
				Status:      model.TaskStatusCompleted,
				Priority:    model.PriorityHigh,
				Result:      &model.TaskResult{Success: true, Message: "ok", Output: "done", Duration: time.Second},
				MaxRetries:  3,
				Timeout:     time.Minute,
				Metadata:    map[string]string{"owner": "ci"},
				CreatedAt:   t0,
				StartedAt:   &started,
				CompletedAt: &completed,
			},
			{
				ID:           "b",
				Name:         "build",
				Operation:    "command.run",
				Capability:   model.CapabilityCommand,
				Action:       "run",
				Parameters:   map[string]any{"command": "make"},
				Status:       model.TaskStatusPending,
				Priority:     model.PriorityNormal,
				Dependencies: []string{"a"},
				MaxRetries:   1,
				Timeout:      30 * time.Second,
				CreatedAt:    t0,
			},
		},
		CreatedAt: t0,
	}

	raw, err := model.EncodePlan(plan)
	require.NoError(t, err)
	got, err := model.DecodePlan(raw)
	require.NoError(t, err)

	assert.Equal(t, plan, got)
}

func TestCheckpointCodecRoundTrip(t *testing.T) {
	paused := t0.Add(time.Minute)
	expires := t0.Add(24 * time.Hour)

	c := &model.Checkpoint{
		TaskID:      "c1",
		UserID:      "u1",
		Description: "deploy",
		Type:        "workflow",
		Status:      model.CheckpointStatusPaused,
		CurrentStep: 1,
		TotalSteps:  2,
		CompletedSteps: []model.StepResult{
			{Index: 0, Name: "build", Capability: model.CapabilityCommand, Status: model.StepStatusCompleted, Output: "ok", StartedAt: &t0, CompletedAt: &paused, Duration: time.Minute, Tokens: 5},
		},
		PendingSteps: []model.StepConfig{
			{Index: 1, Name: "push", Capability: model.CapabilityContainer, Action: "run", Parameters: map[string]any{"image": "alpine"}, DependsOn: []int{0}},
		},
		Context:     map[string]any{"env": "prod"},
		Variables:   map[string]any{"version": "1.2.3"},
		CreatedAt:   t0,
		UpdatedAt:   paused,
		PausedAt:    &paused,
		ExpiresAt:   &expires,
		TotalTokens: 5,
		RetryCount:  1,
		LastError:   "boom",
	}

	raw, err := model.EncodeCheckpoint(c)
	require.NoError(t, err)
	got, err := model.DecodeCheckpoint(raw)
	require.NoError(t, err)

	assert.Equal(t, c, got)
}

func TestDecodeUnknownVersion(t *testing.T) {
	tests := map[string]struct {
		raw string
	}{
		"Unknown versions should fail.": {raw: `{"version": 99, "data": {}}`},
		"Invalid JSON should fail.":     {raw: `{`},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := model.DecodePlan([]byte(test.raw))
			assert.ErrorIs(t, err, model.ErrNotValid)
		})
	}
}
