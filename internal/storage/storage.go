package storage

import (
	"context"
	"time"

	"github.com/slok/stepper/internal/model"
)

// ListCheckpointsOpts are the filters to list checkpoints.
type ListCheckpointsOpts struct {
	// UserID filters by user when not empty.
	UserID string
	// Statuses filters by any of the statuses when not empty.
	Statuses []model.CheckpointStatus
	// Limit is the max number of checkpoints returned, 0 means no limit.
	Limit int
}

// DeleteCheckpointsOpts selects the checkpoints to delete, at least one of the
// time filters is required.
type DeleteCheckpointsOpts struct {
	ExpiresBefore *time.Time
	UpdatedBefore *time.Time
	Statuses      []model.CheckpointStatus
}

//go:generate mockery --case underscore --output storagemock --outpkg storagemock --name CheckpointRepository

// CheckpointRepository is the interface for checkpoint persistence.
type CheckpointRepository interface {
	// SaveCheckpoint creates or replaces a checkpoint.
	SaveCheckpoint(ctx context.Context, c model.Checkpoint) error
	GetCheckpoint(ctx context.Context, taskID string) (*model.Checkpoint, error)
	// ListCheckpoints returns the checkpoints, the most recently updated first.
	ListCheckpoints(ctx context.Context, opts ListCheckpointsOpts) ([]model.Checkpoint, error)
	// UpdateCheckpoint atomically loads a checkpoint, applies fn and stores the result.
	// If fn returns an error nothing is stored.
	UpdateCheckpoint(ctx context.Context, taskID string, fn func(c *model.Checkpoint) error) (*model.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, taskID string) error
	// DeleteCheckpoints deletes the checkpoints matching the options, returns the number deleted.
	DeleteCheckpoints(ctx context.Context, opts DeleteCheckpointsOpts) (int, error)
}
