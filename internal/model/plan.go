package model

import (
	"fmt"
	"time"
)

// StrategyKind is the execution strategy of a plan.
type StrategyKind string

const (
	StrategySequential StrategyKind = "sequential"
	StrategyParallel   StrategyKind = "parallel"
	StrategyMixed      StrategyKind = "mixed"
)

// Valid returns true if the strategy is a known one.
func (s StrategyKind) Valid() bool {
	return s == StrategySequential || s == StrategyParallel || s == StrategyMixed
}

// TaskPlan is an ordered list of tasks with dependencies between them.
type TaskPlan struct {
	ID       string
	Name     string
	Request  string
	Tasks    []*Task
	Strategy StrategyKind
	// ContinueOnFailure makes the plan tolerate failed tasks until all the
	// remaining work has finished.
	ContinueOnFailure bool
	CreatedAt         time.Time
}

// Task returns a task of the plan by ID.
func (p *TaskPlan) Task(id string) (*Task, bool) {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// Completed returns the set of completed task IDs.
func (p *TaskPlan) Completed() map[string]bool {
	completed := map[string]bool{}
	for _, t := range p.Tasks {
		if t.Status == TaskStatusCompleted {
			completed[t.ID] = true
		}
	}
	return completed
}

// NextTasks returns the tasks that are ready to be executed.
func (p *TaskPlan) NextTasks() []*Task {
	completed := p.Completed()
	ready := []*Task{}
	for _, t := range p.Tasks {
		if t.IsReady(completed) {
			ready = append(ready, t)
		}
	}
	return ready
}

// FailedTasks returns the tasks that ended failed.
func (p *TaskPlan) FailedTasks() []*Task {
	failed := []*Task{}
	for _, t := range p.Tasks {
		if t.Status == TaskStatusFailed {
			failed = append(failed, t)
		}
	}
	return failed
}

// PlanProgress is the summary of the task statuses of a plan.
type PlanProgress struct {
	Total     int
	Completed int
	Failed    int
	Cancelled int
	Running   int
	Pending   int
	Percent   float64
}

// Progress returns the progress summary of the plan.
func (p *TaskPlan) Progress() PlanProgress {
	pp := PlanProgress{Total: len(p.Tasks)}
	for _, t := range p.Tasks {
		switch t.Status {
		case TaskStatusCompleted:
			pp.Completed++
		case TaskStatusFailed:
			pp.Failed++
		case TaskStatusCancelled:
			pp.Cancelled++
		case TaskStatusRunning:
			pp.Running++
		default:
			pp.Pending++
		}
	}

	if pp.Total > 0 {
		pp.Percent = float64(pp.Completed) / float64(pp.Total) * 100
	}
	return pp
}

// IsComplete returns true when every task is completed or cancelled.
func (p *TaskPlan) IsComplete() bool {
	for _, t := range p.Tasks {
		if t.Status != TaskStatusCompleted && t.Status != TaskStatusCancelled {
			return false
		}
	}
	return true
}

// Status returns the derived status of the plan.
func (p *TaskPlan) Status() TaskStatus {
	if p.IsComplete() {
		return TaskStatusCompleted
	}

	pp := p.Progress()
	if pp.Failed > 0 && (!p.ContinueOnFailure || pp.Running+pp.Pending == 0) {
		return TaskStatusFailed
	}
	if pp.Running > 0 || pp.Completed+pp.Failed > 0 {
		return TaskStatusRunning
	}
	return TaskStatusPending
}

// Validate checks the plan is executable: unique task IDs, known dependencies,
// known capabilities and an acyclic dependency graph.
func (p *TaskPlan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("plan id is required: %w", ErrNotValid)
	}
	if !p.Strategy.Valid() {
		return fmt.Errorf("unknown strategy %q: %w", p.Strategy, ErrNotValid)
	}

	ids := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task id is required: %w", ErrNotValid)
		}
		if ids[t.ID] {
			return fmt.Errorf("duplicated task id %q: %w", t.ID, ErrNotValid)
		}
		ids[t.ID] = true

		if !t.Capability.Valid() {
			return fmt.Errorf("task %q has unknown capability %q: %w", t.ID, t.Capability, ErrNotValid)
		}
	}

	for _, t := range p.Tasks {
		for _, dep := range t.Dependencies {
			if dep == t.ID {
				return fmt.Errorf("task %q depends on itself: %w", t.ID, ErrNotValid)
			}
			if !ids[dep] {
				return fmt.Errorf("task %q depends on unknown task %q: %w", t.ID, dep, ErrNotValid)
			}
		}
	}

	if _, err := p.Layers(); err != nil {
		return err
	}

	return nil
}

// Layers partitions the tasks in dependency layers using Kahn's algorithm. Layer 0
// has the tasks without dependencies, layer N the tasks whose dependencies are all in
// the previous layers. Declaration order is kept inside each layer.
func (p *TaskPlan) Layers() ([][]*Task, error) {
	indegree := make(map[string]int, len(p.Tasks))
	dependents := make(map[string][]string, len(p.Tasks))
	for _, t := range p.Tasks {
		indegree[t.ID] += 0
		for _, dep := range t.Dependencies {
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	layers := [][]*Task{}
	placed := 0
	current := []*Task{}
	for _, t := range p.Tasks {
		if indegree[t.ID] == 0 {
			current = append(current, t)
		}
	}

	for len(current) > 0 {
		layers = append(layers, current)
		placed += len(current)

		nextIDs := map[string]bool{}
		for _, t := range current {
			for _, depID := range dependents[t.ID] {
				indegree[depID]--
				if indegree[depID] == 0 {
					nextIDs[depID] = true
				}
			}
		}

		next := []*Task{}
		for _, t := range p.Tasks {
			if nextIDs[t.ID] {
				next = append(next, t)
			}
		}
		current = next
	}

	if placed != len(p.Tasks) {
		return nil, fmt.Errorf("plan %q has a dependency cycle: %w", p.ID, ErrNotValid)
	}

	return layers, nil
}
