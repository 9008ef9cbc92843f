package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepper/internal/model"
)

func newPlan(tasks ...*model.Task) *model.TaskPlan {
	return &model.TaskPlan{ID: "p1", Name: "test", Strategy: model.StrategyMixed, Tasks: tasks}
}

func layerIDs(layers [][]*model.Task) [][]string {
	ids := [][]string{}
	for _, l := range layers {
		lids := []string{}
		for _, t := range l {
			lids = append(lids, t.ID)
		}
		ids = append(ids, lids)
	}
	return ids
}

func TestTaskPlanValidate(t *testing.T) {
	tests := map[string]struct {
		plan   *model.TaskPlan
		expErr bool
	}{
		"A valid plan should not fail.": {
			plan: newPlan(
				model.NewTask("a", "a", "command", nil),
				model.NewTask("b", "b", "file.read", nil, "a"),
			),
		},

		"Duplicated task IDs should fail.": {
			plan: newPlan(
				model.NewTask("a", "a", "command", nil),
				model.NewTask("a", "b", "command", nil),
			),
			expErr: true,
		},

		"Unknown dependencies should fail.": {
			plan: newPlan(
				model.NewTask("a", "a", "command", nil, "x"),
			),
			expErr: true,
		},

		"Self dependencies should fail.": {
			plan: newPlan(
				model.NewTask("a", "a", "command", nil, "a"),
			),
			expErr: true,
		},

		"Cycles should fail.": {
			plan: newPlan(
				model.NewTask("a", "a", "command", nil, "c"),
				model.NewTask("b", "b", "command", nil, "a"),
				model.NewTask("c", "c", "command", nil, "b"),
			),
			expErr: true,
		},

		"Unknown capabilities should fail.": {
			plan: newPlan(
				model.NewTask("a", "a", "rocket.launch", nil),
			),
			expErr: true,
		},

		"Unknown strategies should fail.": {
			plan:   &model.TaskPlan{ID: "p1", Strategy: "random"},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := test.plan.Validate()
			if test.expErr {
				assert.ErrorIs(t, err, model.ErrNotValid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTaskPlanLayers(t *testing.T) {
	tests := map[string]struct {
		plan      *model.TaskPlan
		expLayers [][]string
	}{
		"A fan out graph should have two layers.": {
			plan: newPlan(
				model.NewTask("a", "a", "command", nil),
				model.NewTask("b", "b", "command", nil, "a"),
				model.NewTask("c", "c", "command", nil, "a"),
			),
			expLayers: [][]string{{"a"}, {"b", "c"}},
		},

		"A diamond graph should have three layers.": {
			plan: newPlan(
				model.NewTask("a", "a", "command", nil),
				model.NewTask("b", "b", "command", nil, "a"),
				model.NewTask("c", "c", "command", nil, "a"),
				model.NewTask("d", "d", "command", nil, "b", "c"),
			),
			expLayers: [][]string{{"a"}, {"b", "c"}, {"d"}},
		},

		"Independent tasks should be in a single layer in declared order.": {
			plan: newPlan(
				model.NewTask("z", "z", "command", nil),
				model.NewTask("y", "y", "command", nil),
			),
			expLayers: [][]string{{"z", "y"}},
		},

		"Tasks declared before their dependencies should be layered by dependency.": {
			plan: newPlan(
				model.NewTask("b", "b", "command", nil, "a"),
				model.NewTask("a", "a", "command", nil),
			),
			expLayers: [][]string{{"a"}, {"b"}},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			layers, err := test.plan.Layers()
			require.NoError(t, err)
			assert.Equal(t, test.expLayers, layerIDs(layers))
		})
	}
}

func TestTaskPlanStatus(t *testing.T) {
	withStatus := func(id string, s model.TaskStatus) *model.Task {
		task := model.NewTask(id, id, "command", nil)
		task.Status = s
		return task
	}

	tests := map[string]struct {
		plan      *model.TaskPlan
		expStatus model.TaskStatus
	}{
		"All completed or cancelled tasks should complete the plan.": {
			plan:      newPlan(withStatus("a", model.TaskStatusCompleted), withStatus("b", model.TaskStatusCancelled)),
			expStatus: model.TaskStatusCompleted,
		},

		"A failed task should fail the plan.": {
			plan:      newPlan(withStatus("a", model.TaskStatusFailed), withStatus("b", model.TaskStatusPending)),
			expStatus: model.TaskStatusFailed,
		},

		"A failed task on a plan tolerating failures with work left should keep the plan running.": {
			plan: func() *model.TaskPlan {
				p := newPlan(withStatus("a", model.TaskStatusFailed), withStatus("b", model.TaskStatusPending))
				p.ContinueOnFailure = true
				return p
			}(),
			expStatus: model.TaskStatusRunning,
		},

		"A failed task on a plan tolerating failures without work left should fail the plan.": {
			plan: func() *model.TaskPlan {
				p := newPlan(withStatus("a", model.TaskStatusFailed), withStatus("b", model.TaskStatusCompleted))
				p.ContinueOnFailure = true
				return p
			}(),
			expStatus: model.TaskStatusFailed,
		},

		"Running tasks should set the plan running.": {
			plan:      newPlan(withStatus("a", model.TaskStatusRunning), withStatus("b", model.TaskStatusPending)),
			expStatus: model.TaskStatusRunning,
		},

		"No started tasks should keep the plan pending.": {
			plan:      newPlan(withStatus("a", model.TaskStatusPending)),
			expStatus: model.TaskStatusPending,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expStatus, test.plan.Status())
		})
	}
}

func TestTaskPlanProgress(t *testing.T) {
	assert := assert.New(t)

	a := model.NewTask("a", "a", "command", nil)
	a.Status = model.TaskStatusCompleted
	b := model.NewTask("b", "b", "command", nil, "a")
	b.Status = model.TaskStatusFailed
	c := model.NewTask("c", "c", "command", nil, "a")
	d := model.NewTask("d", "d", "command", nil, "b")
	p := newPlan(a, b, c, d)

	pp := p.Progress()
	assert.Equal(model.PlanProgress{Total: 4, Completed: 1, Failed: 1, Pending: 2, Percent: 25}, pp)

	next := p.NextTasks()
	require.Len(t, next, 1)
	assert.Equal("c", next[0].ID)
	assert.Len(p.FailedTasks(), 1)
}
