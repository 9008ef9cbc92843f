package orchestrator

import (
	"fmt"
	"strings"

	"github.com/slok/stepper/internal/model"
)

const (
	contextKeyPlan    = "plan"
	contextKeyRequest = "request"
)

// stepsFromPlan returns the checkpoint steps of a plan, one per task in declared order.
func stepsFromPlan(plan *model.TaskPlan) []model.StepConfig {
	index := make(map[string]int, len(plan.Tasks))
	for i, t := range plan.Tasks {
		index[t.ID] = i
	}

	steps := make([]model.StepConfig, 0, len(plan.Tasks))
	for i, t := range plan.Tasks {
		deps := make([]int, 0, len(t.Dependencies))
		for _, d := range t.Dependencies {
			deps = append(deps, index[d])
		}
		steps = append(steps, model.StepConfig{
			Index:      i,
			Name:       t.Name,
			Capability: t.Capability,
			Action:     t.Action,
			Parameters: t.Parameters,
			DependsOn:  deps,
		})
	}
	return steps
}

// planFromCheckpoint rebuilds the plan of a checkpoint with the completed steps
// marked as completed tasks. Checkpoints without a stored plan get one task per
// step executed sequentially.
func planFromCheckpoint(c *model.Checkpoint) (*model.TaskPlan, error) {
	plan, err := storedPlan(c)
	if err != nil {
		return nil, err
	}

	completed := make(map[int]model.StepResult, len(c.CompletedSteps))
	for _, s := range c.CompletedSteps {
		completed[s.Index] = s
	}

	for i, t := range plan.Tasks {
		t.SetDefaults()
		t.RetryCount = 0
		t.StartedAt = nil
		t.CompletedAt = nil
		t.Result = nil
		t.Status = model.TaskStatusPending

		s, ok := completed[i]
		if !ok {
			continue
		}
		t.Status = model.TaskStatusCompleted
		t.StartedAt = s.StartedAt
		t.CompletedAt = s.CompletedAt
		t.Result = &model.TaskResult{Success: true, Message: s.Output, Output: s.Output, Duration: s.Duration}
	}

	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checkpoint plan: %w", err)
	}
	return plan, nil
}

func storedPlan(c *model.Checkpoint) (*model.TaskPlan, error) {
	if raw, ok := c.Context[contextKeyPlan].(string); ok && raw != "" {
		plan, err := model.DecodePlan([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("could not decode checkpoint plan: %w", err)
		}
		return plan, nil
	}

	steps := make(map[int]model.StepConfig, c.TotalSteps)
	for _, s := range c.PendingSteps {
		steps[s.Index] = s
	}
	for _, s := range c.CompletedSteps {
		if _, ok := steps[s.Index]; !ok {
			steps[s.Index] = model.StepConfig{Index: s.Index, Name: s.Name, Capability: s.Capability}
		}
	}

	request, _ := c.Context[contextKeyRequest].(string)
	plan := &model.TaskPlan{
		ID:       c.TaskID,
		Name:     c.Type,
		Request:  request,
		Strategy: model.StrategySequential,
	}
	for i := 0; i < c.TotalSteps; i++ {
		s, ok := steps[i]
		if !ok {
			return nil, fmt.Errorf("checkpoint %q is missing step %d: %w", c.TaskID, i, model.ErrNotValid)
		}

		operation := string(s.Capability)
		if s.Action != "" {
			operation = strings.Join([]string{operation, s.Action}, ".")
		}
		t := model.NewTask(stepTaskID(i), s.Name, operation, s.Parameters)
		for _, d := range s.DependsOn {
			t.Dependencies = append(t.Dependencies, stepTaskID(d))
		}
		plan.Tasks = append(plan.Tasks, t)
	}

	return plan, nil
}

func stepTaskID(index int) string {
	return fmt.Sprintf("step-%d", index)
}
