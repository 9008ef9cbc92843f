package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/storage"
)

// DefaultListLimit is the number of checkpoints listed when no limit is set.
const DefaultListLimit = 50

// ManagerConfig is the configuration of the checkpoint manager.
type ManagerConfig struct {
	Repository storage.CheckpointRepository
	// TTL is the expiration of new checkpoints, zero means they don't expire.
	TTL    time.Duration
	Logger log.Logger
	// Now is used to get the current time, useful for tests.
	Now func() time.Time
}

func (c *ManagerConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.TTL < 0 {
		return fmt.Errorf("ttl can't be negative")
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "checkpoint.Manager"})
	return nil
}

// Manager manages the durable progress of multi-step jobs. Every transition is
// stored before returning so a step is only committed once persisted.
type Manager struct {
	repo   storage.CheckpointRepository
	ttl    time.Duration
	logger log.Logger
	now    func() time.Time
}

// NewManager returns a new checkpoint manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Manager{
		repo:   cfg.Repository,
		ttl:    cfg.TTL,
		logger: cfg.Logger,
		now:    cfg.Now,
	}, nil
}

// CreateRequest is the request to create a new checkpoint.
type CreateRequest struct {
	// TaskID is generated when empty.
	TaskID      string
	UserID      string
	Description string
	Type        string
	Steps       []model.StepConfig
	Context     map[string]any
}

// Create creates an active checkpoint with all the steps pending.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*model.Checkpoint, error) {
	if req.TaskID == "" {
		req.TaskID = ulid.Make().String()
	}

	now := m.now()
	c := model.NewCheckpoint(req.TaskID, req.UserID, req.Description, req.Type, req.Steps, now)
	for k, v := range req.Context {
		c.Context[k] = v
	}
	if m.ttl > 0 {
		expires := now.Add(m.ttl)
		c.ExpiresAt = &expires
	}

	if err := m.Save(ctx, *c); err != nil {
		return nil, err
	}

	m.logger.Infof("Checkpoint %q created with %d steps", c.TaskID, c.TotalSteps)
	return c, nil
}

// Save creates or replaces a checkpoint refreshing its update time.
func (m *Manager) Save(ctx context.Context, c model.Checkpoint) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}

	c.UpdatedAt = m.now()
	if err := m.repo.SaveCheckpoint(ctx, c); err != nil {
		return persistenceErr(fmt.Errorf("could not save checkpoint %q: %w", c.TaskID, err))
	}
	return nil
}

// Load returns a checkpoint.
func (m *Manager) Load(ctx context.Context, taskID string) (*model.Checkpoint, error) {
	c, err := m.repo.GetCheckpoint(ctx, taskID)
	if err != nil {
		return nil, persistenceErr(fmt.Errorf("could not load checkpoint: %w", err))
	}
	return c, nil
}

// Delete deletes a checkpoint.
func (m *Manager) Delete(ctx context.Context, taskID string) error {
	if err := m.repo.DeleteCheckpoint(ctx, taskID); err != nil {
		return persistenceErr(fmt.Errorf("could not delete checkpoint: %w", err))
	}

	m.logger.Infof("Checkpoint %q deleted", taskID)
	return nil
}

// ListRequest is the request to list checkpoints.
type ListRequest struct {
	UserID string
	Status model.CheckpointStatus
	Limit  int
}

// List lists the checkpoints, most recently updated first.
func (m *Manager) List(ctx context.Context, req ListRequest) ([]model.Checkpoint, error) {
	opts := storage.ListCheckpointsOpts{UserID: req.UserID, Limit: req.Limit}
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}
	if req.Status != "" {
		opts.Statuses = []model.CheckpointStatus{req.Status}
	}

	cs, err := m.repo.ListCheckpoints(ctx, opts)
	if err != nil {
		return nil, persistenceErr(fmt.Errorf("could not list checkpoints: %w", err))
	}
	return cs, nil
}

// Resumable lists the paused and failed checkpoints of a user that have not expired,
// newest first. An empty user lists the checkpoints of all users.
func (m *Manager) Resumable(ctx context.Context, userID string) ([]model.Checkpoint, error) {
	cs, err := m.repo.ListCheckpoints(ctx, storage.ListCheckpointsOpts{
		UserID:   userID,
		Statuses: []model.CheckpointStatus{model.CheckpointStatusPaused, model.CheckpointStatusFailed},
	})
	if err != nil {
		return nil, persistenceErr(fmt.Errorf("could not list checkpoints: %w", err))
	}

	now := m.now()
	resumable := make([]model.Checkpoint, 0, len(cs))
	for _, c := range cs {
		if c.IsResumable(now) {
			resumable = append(resumable, c)
		}
	}
	return resumable, nil
}

func (m *Manager) update(ctx context.Context, taskID string, fn func(c *model.Checkpoint, now time.Time) error) (*model.Checkpoint, error) {
	now := m.now()
	c, err := m.repo.UpdateCheckpoint(ctx, taskID, func(c *model.Checkpoint) error {
		return fn(c, now)
	})
	if err != nil {
		return nil, persistenceErr(err)
	}
	return c, nil
}

// Pause pauses an active checkpoint.
func (m *Manager) Pause(ctx context.Context, taskID string) (*model.Checkpoint, error) {
	c, err := m.update(ctx, taskID, func(c *model.Checkpoint, now time.Time) error { return c.Pause(now) })
	if err != nil {
		return nil, err
	}

	m.logger.Infof("Checkpoint %q paused at step %d", taskID, c.CurrentStep)
	return c, nil
}

// Resume resumes a paused or failed checkpoint. A checkpoint past its expiration is
// marked as expired and can't be resumed.
func (m *Manager) Resume(ctx context.Context, taskID string) (*model.Checkpoint, error) {
	expired := false
	c, err := m.update(ctx, taskID, func(c *model.Checkpoint, now time.Time) error {
		if c.IsExpired(now) && c.Status != model.CheckpointStatusExpired && c.Status != model.CheckpointStatusCompleted {
			expired = true
			return c.Expire(now)
		}
		return c.Resume(now)
	})
	if err != nil {
		return nil, err
	}
	if expired {
		m.logger.Warningf("Checkpoint %q expired, can't be resumed", taskID)
		return nil, fmt.Errorf("checkpoint %q is expired: %w", taskID, model.ErrIllegalTransition)
	}

	m.logger.Infof("Checkpoint %q resumed at step %d (retry %d)", taskID, c.CurrentStep, c.RetryCount)
	return c, nil
}

// Complete marks a checkpoint as completed.
func (m *Manager) Complete(ctx context.Context, taskID string) (*model.Checkpoint, error) {
	c, err := m.update(ctx, taskID, func(c *model.Checkpoint, now time.Time) error { return c.Complete(now) })
	if err != nil {
		return nil, err
	}

	m.logger.Infof("Checkpoint %q completed", taskID)
	return c, nil
}

// Fail marks a checkpoint as failed, the progress is kept so it can be resumed.
func (m *Manager) Fail(ctx context.Context, taskID string, reason error) (*model.Checkpoint, error) {
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}

	c, err := m.update(ctx, taskID, func(c *model.Checkpoint, now time.Time) error { return c.Fail(msg, now) })
	if err != nil {
		return nil, err
	}

	m.logger.Warningf("Checkpoint %q failed: %s", taskID, msg)
	return c, nil
}

// UpdateStep records a step result, see model.Checkpoint.ApplyStep.
func (m *Manager) UpdateStep(ctx context.Context, taskID string, r model.StepResult) (*model.Checkpoint, error) {
	c, err := m.update(ctx, taskID, func(c *model.Checkpoint, now time.Time) error { return c.ApplyStep(r, now) })
	if err != nil {
		return nil, err
	}

	m.logger.Debugf("Checkpoint %q step %d %s (%.0f%%)", taskID, r.Index, r.Status, c.Progress())
	return c, nil
}

// NextStep returns the next step ready to be executed, nil if there is none.
func (m *Manager) NextStep(ctx context.Context, taskID string) (*model.StepConfig, error) {
	c, err := m.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}

	step, ok := c.NextStep()
	if !ok {
		return nil, nil
	}
	return step, nil
}

// SetVariable sets a checkpoint variable.
func (m *Manager) SetVariable(ctx context.Context, taskID, key string, value any) error {
	_, err := m.update(ctx, taskID, func(c *model.Checkpoint, now time.Time) error {
		if c.Variables == nil {
			c.Variables = map[string]any{}
		}
		c.Variables[key] = value
		c.UpdatedAt = now
		return nil
	})
	return err
}

// GetVariable returns a checkpoint variable.
func (m *Manager) GetVariable(ctx context.Context, taskID, key string) (any, error) {
	c, err := m.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}

	v, ok := c.Variables[key]
	if !ok {
		return nil, fmt.Errorf("variable %q: %w", key, model.ErrNotFound)
	}
	return v, nil
}

// UpdateContext merges the values into the checkpoint context.
func (m *Manager) UpdateContext(ctx context.Context, taskID string, values map[string]any) error {
	_, err := m.update(ctx, taskID, func(c *model.Checkpoint, now time.Time) error {
		if c.Context == nil {
			c.Context = map[string]any{}
		}
		for k, v := range values {
			c.Context[k] = v
		}
		c.UpdatedAt = now
		return nil
	})
	return err
}

// CleanupExpired deletes the checkpoints past their expiration.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	now := m.now()
	n, err := m.repo.DeleteCheckpoints(ctx, storage.DeleteCheckpointsOpts{ExpiresBefore: &now})
	if err != nil {
		return 0, persistenceErr(fmt.Errorf("could not delete expired checkpoints: %w", err))
	}

	if n > 0 {
		m.logger.Infof("Deleted %d expired checkpoints", n)
	}
	return n, nil
}

// CleanupCompleted deletes the completed checkpoints not updated since olderThan.
func (m *Manager) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	before := m.now().Add(-olderThan)
	n, err := m.repo.DeleteCheckpoints(ctx, storage.DeleteCheckpointsOpts{
		UpdatedBefore: &before,
		Statuses:      []model.CheckpointStatus{model.CheckpointStatusCompleted},
	})
	if err != nil {
		return 0, persistenceErr(fmt.Errorf("could not delete completed checkpoints: %w", err))
	}

	if n > 0 {
		m.logger.Infof("Deleted %d completed checkpoints", n)
	}
	return n, nil
}

// RecoverInterrupted pauses the active checkpoints. At process start an active
// checkpoint belongs to a process that died, pausing it makes it resumable.
func (m *Manager) RecoverInterrupted(ctx context.Context) (int, error) {
	cs, err := m.repo.ListCheckpoints(ctx, storage.ListCheckpointsOpts{
		Statuses: []model.CheckpointStatus{model.CheckpointStatusActive},
	})
	if err != nil {
		return 0, persistenceErr(fmt.Errorf("could not list checkpoints: %w", err))
	}

	recovered := 0
	for _, c := range cs {
		_, err := m.Pause(ctx, c.TaskID)
		if err != nil {
			if errors.Is(err, model.ErrIllegalTransition) || errors.Is(err, model.ErrNotFound) {
				continue
			}
			return recovered, err
		}
		recovered++
	}

	if recovered > 0 {
		m.logger.Warningf("Recovered %d interrupted checkpoints as paused", recovered)
	}
	return recovered, nil
}

// Statistics is the summary of the stored checkpoints.
type Statistics struct {
	Total       int
	ByStatus    map[model.CheckpointStatus]int
	TotalTokens int
	Resumable   int
}

// Statistics returns the summary of the checkpoints of a user, all users if empty.
func (m *Manager) Statistics(ctx context.Context, userID string) (*Statistics, error) {
	cs, err := m.repo.ListCheckpoints(ctx, storage.ListCheckpointsOpts{UserID: userID})
	if err != nil {
		return nil, persistenceErr(fmt.Errorf("could not list checkpoints: %w", err))
	}

	now := m.now()
	stats := &Statistics{ByStatus: map[model.CheckpointStatus]int{}}
	for _, c := range cs {
		stats.Total++
		stats.ByStatus[c.Status]++
		stats.TotalTokens += c.TotalTokens
		if c.IsResumable(now) {
			stats.Resumable++
		}
	}
	return stats, nil
}

// persistenceErr marks the storage failures as persistence errors, domain errors
// are returned as they are.
func persistenceErr(err error) error {
	switch {
	case errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrNotValid),
		errors.Is(err, model.ErrIllegalTransition),
		errors.Is(err, model.ErrPersistence),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrPersistence, err)
}
