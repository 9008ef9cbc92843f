package lib

import (
	"context"
	"time"

	"github.com/slok/stepper/internal/checkpoint"
	"github.com/slok/stepper/internal/model"
)

// ListCheckpointsOpts configures the checkpoint listing.
// Pass nil to [Client.ListCheckpoints] to list all of them.
type ListCheckpointsOpts struct {
	// UserID filters by user.
	UserID string
	// Status filters by status.
	Status CheckpointStatus
	// Limit is the maximum number of checkpoints returned.
	// Default: 50.
	Limit int
}

// ListCheckpoints lists the checkpoints, most recently updated first.
func (c *Client) ListCheckpoints(ctx context.Context, opts *ListCheckpointsOpts) ([]Checkpoint, error) {
	req := checkpoint.ListRequest{}
	if opts != nil {
		req.UserID = opts.UserID
		req.Status = model.CheckpointStatus(opts.Status)
		req.Limit = opts.Limit
	}

	cs, err := c.checkpoints.List(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalCheckpointList(cs, time.Now().UTC()), nil
}

// ResumableCheckpoints lists the checkpoints of a user that can be resumed, all
// users when empty.
func (c *Client) ResumableCheckpoints(ctx context.Context, userID string) ([]Checkpoint, error) {
	cs, err := c.checkpoints.Resumable(ctx, userID)
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalCheckpointList(cs, time.Now().UTC()), nil
}

// GetCheckpoint returns a checkpoint by ID.
func (c *Client) GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	cp, err := c.checkpoints.Load(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}

	res := fromInternalCheckpoint(*cp, time.Now().UTC())
	return &res, nil
}

// PauseCheckpoint pauses an active checkpoint so it can be resumed later.
func (c *Client) PauseCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	cp, err := c.checkpoints.Pause(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}

	res := fromInternalCheckpoint(*cp, time.Now().UTC())
	return &res, nil
}

// RemoveCheckpoint deletes a checkpoint.
func (c *Client) RemoveCheckpoint(ctx context.Context, id string) error {
	return mapError(c.checkpoints.Delete(ctx, id))
}

// CheckpointStatistics returns the summary of the checkpoints of a user, all users
// when empty.
func (c *Client) CheckpointStatistics(ctx context.Context, userID string) (*CheckpointStatistics, error) {
	stats, err := c.checkpoints.Statistics(ctx, userID)
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalStatistics(stats), nil
}
