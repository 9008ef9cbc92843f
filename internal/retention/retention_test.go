package retention_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepper/internal/retention"
)

type fakeCheckpoints struct {
	mu           sync.Mutex
	calls        int
	olderThan    time.Duration
	expired      int
	completed    int
	expiredErr   error
	completedErr error
}

func (f *fakeCheckpoints) CleanupExpired(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.expired, f.expiredErr
}

func (f *fakeCheckpoints) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.olderThan = olderThan
	return f.completed, f.completedErr
}

func (f *fakeCheckpoints) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeJobs struct {
	maxAge  time.Duration
	removed int
}

func (f *fakeJobs) CleanupOld(maxAge time.Duration) int {
	f.maxAge = maxAge
	return f.removed
}

func TestRunnerRunOnce(t *testing.T) {
	tests := map[string]struct {
		checkpoints  *fakeCheckpoints
		jobs         *fakeJobs
		cfg          retention.RunnerConfig
		expResult    retention.Result
		expOlderThan time.Duration
		expJobAge    time.Duration
		expErr       bool
	}{
		"A cleanup should remove checkpoints and jobs with the default retentions.": {
			checkpoints:  &fakeCheckpoints{expired: 2, completed: 3},
			jobs:         &fakeJobs{removed: 4},
			expResult:    retention.Result{ExpiredCheckpoints: 2, CompletedCheckpoints: 3, Jobs: 4},
			expOlderThan: 7 * 24 * time.Hour,
			expJobAge:    24 * time.Hour,
		},

		"Custom retentions should be used.": {
			checkpoints:  &fakeCheckpoints{},
			jobs:         &fakeJobs{},
			cfg:          retention.RunnerConfig{CompletedRetention: time.Hour, JobRetention: time.Minute},
			expOlderThan: time.Hour,
			expJobAge:    time.Minute,
		},

		"A failing cleanup should not stop the others.": {
			checkpoints:  &fakeCheckpoints{expiredErr: errors.New("db locked"), completed: 1},
			jobs:         &fakeJobs{removed: 1},
			expResult:    retention.Result{CompletedCheckpoints: 1, Jobs: 1},
			expOlderThan: 7 * 24 * time.Hour,
			expJobAge:    24 * time.Hour,
			expErr:       true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			cfg := test.cfg
			cfg.Checkpoints = test.checkpoints
			cfg.Jobs = test.jobs
			r, err := retention.NewRunner(cfg)
			require.NoError(t, err)

			res, err := r.RunOnce(context.Background())
			if test.expErr {
				assert.Error(err)
			} else {
				assert.NoError(err)
			}
			assert.Equal(test.expResult, res)
			assert.Equal(test.expOlderThan, test.checkpoints.olderThan)
			assert.Equal(test.expJobAge, test.jobs.maxAge)
		})
	}
}

func TestNewRunnerInvalidConfig(t *testing.T) {
	tests := map[string]struct {
		cfg retention.RunnerConfig
	}{
		"Missing checkpoint cleaner should fail.": {
			cfg: retention.RunnerConfig{},
		},

		"An invalid schedule should fail.": {
			cfg: retention.RunnerConfig{Checkpoints: &fakeCheckpoints{}, Schedule: "every monday"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := retention.NewRunner(test.cfg)
			assert.Error(t, err)
		})
	}
}

func TestRunnerRun(t *testing.T) {
	cps := &fakeCheckpoints{}
	r, err := retention.NewRunner(retention.RunnerConfig{
		Schedule:    "@every 1h",
		Checkpoints: cps,
		RunOnStart:  true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool { return cps.Calls() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("retention runner didn't stop")
	}
}
