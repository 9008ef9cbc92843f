package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/storage"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.CheckpointRepository.
type Repository struct {
	checkpoints map[string]model.Checkpoint
	mu          sync.Mutex
	logger      log.Logger
}

var _ storage.CheckpointRepository = &Repository{}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		checkpoints: make(map[string]model.Checkpoint),
		logger:      cfg.Logger,
	}, nil
}

// SaveCheckpoint creates or replaces a checkpoint.
func (r *Repository) SaveCheckpoint(ctx context.Context, c model.Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.checkpoints[c.TaskID] = clone(c)
	r.logger.Debugf("Saved checkpoint in repository: %s", c.TaskID)
	return nil
}

// GetCheckpoint retrieves a checkpoint by task ID.
func (r *Repository) GetCheckpoint(ctx context.Context, taskID string) (*model.Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.checkpoints[taskID]
	if !ok {
		return nil, fmt.Errorf("checkpoint %s: %w", taskID, model.ErrNotFound)
	}
	c = clone(c)
	return &c, nil
}

// ListCheckpoints lists checkpoints, the most recently updated first.
func (r *Repository) ListCheckpoints(ctx context.Context, opts storage.ListCheckpointsOpts) ([]model.Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	checkpoints := []model.Checkpoint{}
	for _, c := range r.checkpoints {
		if opts.UserID != "" && c.UserID != opts.UserID {
			continue
		}
		if len(opts.Statuses) > 0 && !slices.Contains(opts.Statuses, c.Status) {
			continue
		}
		checkpoints = append(checkpoints, clone(c))
	}

	sort.Slice(checkpoints, func(i, j int) bool {
		if !checkpoints[i].UpdatedAt.Equal(checkpoints[j].UpdatedAt) {
			return checkpoints[i].UpdatedAt.After(checkpoints[j].UpdatedAt)
		}
		return checkpoints[i].TaskID > checkpoints[j].TaskID
	})

	if opts.Limit > 0 && len(checkpoints) > opts.Limit {
		checkpoints = checkpoints[:opts.Limit]
	}
	return checkpoints, nil
}

// UpdateCheckpoint loads, mutates and stores a checkpoint atomically.
func (r *Repository) UpdateCheckpoint(ctx context.Context, taskID string, fn func(c *model.Checkpoint) error) (*model.Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.checkpoints[taskID]
	if !ok {
		return nil, fmt.Errorf("checkpoint %s: %w", taskID, model.ErrNotFound)
	}

	c := clone(stored)
	if err := fn(&c); err != nil {
		return nil, err
	}
	r.checkpoints[taskID] = clone(c)

	r.logger.Debugf("Updated checkpoint in repository: %s", taskID)
	return &c, nil
}

// DeleteCheckpoint deletes a checkpoint.
func (r *Repository) DeleteCheckpoint(ctx context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.checkpoints[taskID]; !ok {
		return fmt.Errorf("checkpoint %s: %w", taskID, model.ErrNotFound)
	}
	delete(r.checkpoints, taskID)

	r.logger.Debugf("Deleted checkpoint from repository: %s", taskID)
	return nil
}

// DeleteCheckpoints deletes the checkpoints matching the options.
func (r *Repository) DeleteCheckpoints(ctx context.Context, opts storage.DeleteCheckpointsOpts) (int, error) {
	if opts.ExpiresBefore == nil && opts.UpdatedBefore == nil {
		return 0, fmt.Errorf("a time filter is required: %w", model.ErrNotValid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for id, c := range r.checkpoints {
		if opts.ExpiresBefore != nil && (c.ExpiresAt == nil || !c.ExpiresAt.Before(*opts.ExpiresBefore)) {
			continue
		}
		if opts.UpdatedBefore != nil && !c.UpdatedAt.Before(*opts.UpdatedBefore) {
			continue
		}
		if len(opts.Statuses) > 0 && !slices.Contains(opts.Statuses, c.Status) {
			continue
		}
		delete(r.checkpoints, id)
		deleted++
	}

	r.logger.Debugf("Deleted %d checkpoints from repository", deleted)
	return deleted, nil
}

// clone copies the slices and maps of a checkpoint so stored data is not shared
// with the callers.
func clone(c model.Checkpoint) model.Checkpoint {
	c.CompletedSteps = slices.Clone(c.CompletedSteps)
	c.PendingSteps = slices.Clone(c.PendingSteps)
	for i := range c.PendingSteps {
		c.PendingSteps[i].DependsOn = slices.Clone(c.PendingSteps[i].DependsOn)
		c.PendingSteps[i].Parameters = cloneMap(c.PendingSteps[i].Parameters)
	}
	c.Context = cloneMap(c.Context)
	c.Variables = cloneMap(c.Variables)
	return c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	n := make(map[string]any, len(m))
	for k, v := range m {
		n[k] = v
	}
	return n
}
