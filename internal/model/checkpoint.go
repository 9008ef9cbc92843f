package model

import (
	"fmt"
	"sort"
	"time"
)

// CheckpointStatus represents the status of a persisted job.
type CheckpointStatus string

const (
	CheckpointStatusActive    CheckpointStatus = "active"
	CheckpointStatusPaused    CheckpointStatus = "paused"
	CheckpointStatusFailed    CheckpointStatus = "failed"
	CheckpointStatusCompleted CheckpointStatus = "completed"
	CheckpointStatusExpired   CheckpointStatus = "expired"
)

// StepStatus is the outcome of a checkpointed step.
type StepStatus string

const (
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepResult is the result of an executed step.
type StepResult struct {
	Index       int
	Name        string
	Capability  Capability
	Status      StepStatus
	Output      string
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	Duration    time.Duration
	Tokens      int
	Metadata    map[string]any
}

// StepConfig is a step that still needs to be executed.
type StepConfig struct {
	Index      int
	Name       string
	Capability Capability
	Action     string
	Parameters map[string]any
	DependsOn  []int
}

// Checkpoint is the durable progress of a multi-step job.
type Checkpoint struct {
	TaskID         string
	UserID         string
	Description    string
	Type           string
	Status         CheckpointStatus
	CurrentStep    int
	TotalSteps     int
	CompletedSteps []StepResult
	PendingSteps   []StepConfig
	Context        map[string]any
	Variables      map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
	PausedAt       *time.Time
	ExpiresAt      *time.Time
	TotalTokens    int
	RetryCount     int
	LastError      string
}

// DefaultCheckpointUserID is the user of the checkpoints created without one.
const DefaultCheckpointUserID = "default"

// NewCheckpoint returns an active checkpoint with all the steps pending.
func NewCheckpoint(taskID, userID, description, taskType string, steps []StepConfig, now time.Time) *Checkpoint {
	if userID == "" {
		userID = DefaultCheckpointUserID
	}

	c := &Checkpoint{
		TaskID:       taskID,
		UserID:       userID,
		Description:  description,
		Type:         taskType,
		Status:       CheckpointStatusActive,
		TotalSteps:   len(steps),
		PendingSteps: steps,
		Context:      map[string]any{},
		Variables:    map[string]any{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	c.CurrentStep = c.smallestPendingIndex()
	return c
}

// Validate validates the checkpoint invariants.
func (c *Checkpoint) Validate() error {
	if c.TaskID == "" {
		return fmt.Errorf("task id is required: %w", ErrNotValid)
	}

	seen := map[int]bool{}
	for _, s := range c.CompletedSteps {
		if seen[s.Index] {
			return fmt.Errorf("step %d is duplicated: %w", s.Index, ErrNotValid)
		}
		seen[s.Index] = true
	}
	for _, s := range c.PendingSteps {
		if seen[s.Index] {
			return fmt.Errorf("step %d is both completed and pending: %w", s.Index, ErrNotValid)
		}
		seen[s.Index] = true
	}
	if c.TotalSteps != len(seen) {
		return fmt.Errorf("checkpoint has %d steps but declares %d: %w", len(seen), c.TotalSteps, ErrNotValid)
	}

	return nil
}

// Progress returns the completion percentage of the checkpoint.
func (c *Checkpoint) Progress() float64 {
	if c.TotalSteps == 0 {
		return 0
	}
	return float64(len(c.CompletedSteps)) / float64(c.TotalSteps) * 100
}

// IsExpired returns true if the checkpoint has an expiration in the past.
func (c *Checkpoint) IsExpired(now time.Time) bool {
	return c.Status == CheckpointStatusExpired || (c.ExpiresAt != nil && c.ExpiresAt.Before(now))
}

// IsResumable returns true if the checkpoint can be resumed.
func (c *Checkpoint) IsResumable(now time.Time) bool {
	return (c.Status == CheckpointStatusPaused || c.Status == CheckpointStatusFailed) && !c.IsExpired(now)
}

// CompletedIndexes returns the set of completed step indexes.
func (c *Checkpoint) CompletedIndexes() map[int]bool {
	completed := make(map[int]bool, len(c.CompletedSteps))
	for _, s := range c.CompletedSteps {
		completed[s.Index] = true
	}
	return completed
}

// NextStep returns the first pending step whose dependencies are all completed.
func (c *Checkpoint) NextStep() (*StepConfig, bool) {
	completed := c.CompletedIndexes()
	for i, s := range c.PendingSteps {
		ready := true
		for _, dep := range s.DependsOn {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			return &c.PendingSteps[i], true
		}
	}
	return nil, false
}

// ApplyStep records the result of a step. A completed step moves from pending
// to completed, a failed one stays pending and only records the error. Applying
// an already completed step is a no-op. Paused checkpoints still accept the steps
// that were running when they were paused. When no steps are left pending the
// checkpoint is completed.
func (c *Checkpoint) ApplyStep(r StepResult, now time.Time) error {
	if c.CompletedIndexes()[r.Index] {
		return nil
	}
	if c.Status != CheckpointStatusActive && c.Status != CheckpointStatusPaused {
		return fmt.Errorf("checkpoint %q is %s, steps can only be updated on active or paused checkpoints: %w", c.TaskID, c.Status, ErrIllegalTransition)
	}

	pendingIdx := -1
	for i, s := range c.PendingSteps {
		if s.Index == r.Index {
			pendingIdx = i
			break
		}
	}
	if pendingIdx < 0 {
		return fmt.Errorf("step %d is not pending on checkpoint %q: %w", r.Index, c.TaskID, ErrNotFound)
	}

	c.UpdatedAt = now
	c.TotalTokens += r.Tokens
	if r.Status == StepStatusFailed {
		c.LastError = r.Error
		return nil
	}

	c.CompletedSteps = append(c.CompletedSteps, r)
	sort.SliceStable(c.CompletedSteps, func(i, j int) bool { return c.CompletedSteps[i].Index < c.CompletedSteps[j].Index })
	c.PendingSteps = append(c.PendingSteps[:pendingIdx:pendingIdx], c.PendingSteps[pendingIdx+1:]...)
	c.CurrentStep = c.smallestPendingIndex()

	if len(c.PendingSteps) == 0 {
		c.Status = CheckpointStatusCompleted
	}

	return nil
}

// smallestPendingIndex returns the smallest step index not completed.
func (c *Checkpoint) smallestPendingIndex() int {
	completed := c.CompletedIndexes()
	for i := 0; ; i++ {
		if !completed[i] {
			return i
		}
	}
}

// Pause pauses an active checkpoint.
func (c *Checkpoint) Pause(now time.Time) error {
	if c.Status != CheckpointStatusActive {
		return fmt.Errorf("checkpoint %q can't be paused from %s: %w", c.TaskID, c.Status, ErrIllegalTransition)
	}

	c.Status = CheckpointStatusPaused
	c.PausedAt = &now
	c.UpdatedAt = now
	return nil
}

// Resume resumes a paused or failed checkpoint that has not expired.
func (c *Checkpoint) Resume(now time.Time) error {
	if c.IsExpired(now) {
		return fmt.Errorf("checkpoint %q is expired: %w", c.TaskID, ErrIllegalTransition)
	}
	if c.Status != CheckpointStatusPaused && c.Status != CheckpointStatusFailed {
		return fmt.Errorf("checkpoint %q can't be resumed from %s: %w", c.TaskID, c.Status, ErrIllegalTransition)
	}

	c.Status = CheckpointStatusActive
	c.PausedAt = nil
	c.RetryCount++
	c.UpdatedAt = now
	return nil
}

// Complete marks the checkpoint as completed.
func (c *Checkpoint) Complete(now time.Time) error {
	switch c.Status {
	case CheckpointStatusActive, CheckpointStatusPaused, CheckpointStatusFailed:
	default:
		return fmt.Errorf("checkpoint %q can't be completed from %s: %w", c.TaskID, c.Status, ErrIllegalTransition)
	}

	c.Status = CheckpointStatusCompleted
	c.UpdatedAt = now
	return nil
}

// Fail marks the checkpoint as failed keeping its progress so it can be resumed.
func (c *Checkpoint) Fail(reason string, now time.Time) error {
	if c.Status != CheckpointStatusActive && c.Status != CheckpointStatusPaused {
		return fmt.Errorf("checkpoint %q can't fail from %s: %w", c.TaskID, c.Status, ErrIllegalTransition)
	}

	c.Status = CheckpointStatusFailed
	c.LastError = reason
	c.UpdatedAt = now
	return nil
}

// Expire marks a checkpoint that is past its expiration as expired.
func (c *Checkpoint) Expire(now time.Time) error {
	if c.Status == CheckpointStatusCompleted || c.Status == CheckpointStatusExpired || !c.IsExpired(now) {
		return fmt.Errorf("checkpoint %q can't expire from %s: %w", c.TaskID, c.Status, ErrIllegalTransition)
	}

	c.Status = CheckpointStatusExpired
	c.UpdatedAt = now
	return nil
}
