package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/storage"
	"github.com/slok/stepper/internal/storage/sqlite"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func checkpointFixture(id, userID string, status model.CheckpointStatus, updatedAt time.Time) model.Checkpoint {
	started := t0
	completed := t0.Add(time.Second)
	return model.Checkpoint{
		TaskID:      id,
		UserID:      userID,
		Description: "deploy the app",
		Type:        "deploy",
		Status:      status,
		CurrentStep: 1,
		TotalSteps:  3,
		CompletedSteps: []model.StepResult{
			{Index: 0, Name: "build", Capability: model.CapabilityCommand, Status: model.StepStatusCompleted, Output: "ok", StartedAt: &started, CompletedAt: &completed, Duration: time.Second, Tokens: 3},
		},
		PendingSteps: []model.StepConfig{
			{Index: 1, Name: "test", Capability: model.CapabilityCommand, Action: "run", Parameters: map[string]any{"command": "make test"}, DependsOn: []int{0}},
			{Index: 2, Name: "push", Capability: model.CapabilityContainer, Action: "run", Parameters: map[string]any{"image": "alpine"}, DependsOn: []int{1}},
		},
		Context:     map[string]any{"env": "prod"},
		Variables:   map[string]any{"version": "1.0.0"},
		CreatedAt:   t0,
		UpdatedAt:   updatedAt,
		TotalTokens: 3,
	}
}

func newRepo(t *testing.T) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.NewRepository(context.Background(), sqlite.RepositoryConfig{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Logger: log.Noop,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestRepositorySaveAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	expires := t0.Add(24 * time.Hour)
	cp := checkpointFixture("c1", "u1", model.CheckpointStatusActive, t0)
	cp.ExpiresAt = &expires
	require.NoError(t, repo.SaveCheckpoint(ctx, cp))

	got, err := repo.GetCheckpoint(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, cp, *got)

	// Saving again should replace it.
	paused := t0.Add(time.Minute)
	cp.Status = model.CheckpointStatusPaused
	cp.PausedAt = &paused
	cp.LastError = "boom"
	require.NoError(t, repo.SaveCheckpoint(ctx, cp))

	got, err = repo.GetCheckpoint(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, cp, *got)

	all, err := repo.ListCheckpoints(ctx, storage.ListCheckpointsOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRepositoryGetMissing(t *testing.T) {
	repo := newRepo(t)

	_, err := repo.GetCheckpoint(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	err = repo.DeleteCheckpoint(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRepositoryListCheckpoints(t *testing.T) {
	tests := map[string]struct {
		opts   storage.ListCheckpointsOpts
		expIDs []string
	}{
		"Without filters all checkpoints should be returned newest first.": {
			opts:   storage.ListCheckpointsOpts{},
			expIDs: []string{"c4", "c3", "c2", "c1"},
		},

		"Filtering by user should return only the user checkpoints.": {
			opts:   storage.ListCheckpointsOpts{UserID: "u1"},
			expIDs: []string{"c3", "c2", "c1"},
		},

		"Filtering by statuses should return the checkpoints in any of them.": {
			opts:   storage.ListCheckpointsOpts{Statuses: []model.CheckpointStatus{model.CheckpointStatusPaused, model.CheckpointStatusFailed}},
			expIDs: []string{"c4", "c2", "c1"},
		},

		"Limit should be respected.": {
			opts:   storage.ListCheckpointsOpts{Limit: 2},
			expIDs: []string{"c4", "c3"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newRepo(t)

			require.NoError(t, repo.SaveCheckpoint(ctx, checkpointFixture("c1", "u1", model.CheckpointStatusPaused, t0)))
			require.NoError(t, repo.SaveCheckpoint(ctx, checkpointFixture("c2", "u1", model.CheckpointStatusFailed, t0.Add(time.Minute))))
			require.NoError(t, repo.SaveCheckpoint(ctx, checkpointFixture("c3", "u1", model.CheckpointStatusCompleted, t0.Add(2*time.Minute))))
			require.NoError(t, repo.SaveCheckpoint(ctx, checkpointFixture("c4", "u2", model.CheckpointStatusPaused, t0.Add(3*time.Minute))))

			got, err := repo.ListCheckpoints(ctx, test.opts)
			require.NoError(t, err)

			ids := []string{}
			for _, c := range got {
				ids = append(ids, c.TaskID)
			}
			assert.Equal(t, test.expIDs, ids)
		})
	}
}

func TestRepositoryUpdateCheckpoint(t *testing.T) {
	tests := map[string]struct {
		fn        func(c *model.Checkpoint) error
		expErr    bool
		expStatus model.CheckpointStatus
	}{
		"A successful update should be stored.": {
			fn: func(c *model.Checkpoint) error {
				return c.Pause(t0.Add(time.Hour))
			},
			expStatus: model.CheckpointStatusPaused,
		},

		"A failed update should not store anything.": {
			fn: func(c *model.Checkpoint) error {
				c.Status = model.CheckpointStatusCompleted
				return errors.New("something")
			},
			expErr:    true,
			expStatus: model.CheckpointStatusActive,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newRepo(t)
			require.NoError(t, repo.SaveCheckpoint(ctx, checkpointFixture("c1", "u1", model.CheckpointStatusActive, t0)))

			_, err := repo.UpdateCheckpoint(ctx, "c1", test.fn)
			if test.expErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			got, err := repo.GetCheckpoint(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, test.expStatus, got.Status)
		})
	}
}

func TestRepositoryDeleteCheckpoints(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	expired := t0.Add(-time.Hour)
	notExpired := t0.Add(time.Hour)
	c1 := checkpointFixture("c1", "u1", model.CheckpointStatusPaused, t0)
	c1.ExpiresAt = &expired
	c2 := checkpointFixture("c2", "u1", model.CheckpointStatusPaused, t0)
	c2.ExpiresAt = &notExpired
	c3 := checkpointFixture("c3", "u1", model.CheckpointStatusCompleted, t0.Add(-10*24*time.Hour))
	c4 := checkpointFixture("c4", "u1", model.CheckpointStatusActive, t0.Add(-10*24*time.Hour))
	for _, c := range []model.Checkpoint{c1, c2, c3, c4} {
		require.NoError(t, repo.SaveCheckpoint(ctx, c))
	}

	n, err := repo.DeleteCheckpoints(ctx, storage.DeleteCheckpointsOpts{ExpiresBefore: &t0})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	before := t0.Add(-7 * 24 * time.Hour)
	n, err = repo.DeleteCheckpoints(ctx, storage.DeleteCheckpointsOpts{
		UpdatedBefore: &before,
		Statuses:      []model.CheckpointStatus{model.CheckpointStatusCompleted},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := repo.ListCheckpoints(ctx, storage.ListCheckpointsOpts{})
	require.NoError(t, err)
	ids := []string{}
	for _, c := range all {
		ids = append(ids, c.TaskID)
	}
	assert.ElementsMatch(t, []string{"c2", "c4"}, ids)

	_, err = repo.DeleteCheckpoints(ctx, storage.DeleteCheckpointsOpts{})
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestRepositoryPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: path})
	require.NoError(t, err)
	require.NoError(t, repo.SaveCheckpoint(ctx, checkpointFixture("c1", "u1", model.CheckpointStatusActive, t0)))
	require.NoError(t, repo.Close())

	repo, err = sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: path})
	require.NoError(t, err)
	defer repo.Close()

	got, err := repo.GetCheckpoint(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Len(t, got.CompletedSteps, 1)
	assert.Len(t, got.PendingSteps, 2)
}
