package workqueue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/workqueue"
)

func runQueue(t *testing.T, q *workqueue.Queue) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()

	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("queue did not stop")
		}
	}
}

func waitJob(t *testing.T, q *workqueue.Queue, id string) *workqueue.Job {
	var job *workqueue.Job
	require.Eventually(t, func() bool {
		j, err := q.Get(id)
		require.NoError(t, err)
		job = j
		return j.Status.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func TestQueuePriorityOrder(t *testing.T) {
	require := require.New(t)

	var mu sync.Mutex
	order := []string{}
	var wg sync.WaitGroup

	q, err := workqueue.NewQueue(workqueue.QueueConfig{MaxWorkers: 1, PollInterval: 10 * time.Millisecond})
	require.NoError(err)

	jobs := []struct {
		name     string
		priority model.Priority
	}{
		{"low", model.PriorityLow},
		{"high", model.PriorityHigh},
		{"normal-1", model.PriorityNormal},
		{"urgent", model.PriorityUrgent},
		{"normal-2", model.PriorityNormal},
	}
	for _, j := range jobs {
		wg.Add(1)
		_, err := q.Submit(workqueue.SubmitRequest{
			Name:     j.name,
			Priority: j.priority,
			Func: func(ctx context.Context, p workqueue.Progress) (any, error) {
				defer wg.Done()
				mu.Lock()
				order = append(order, j.name)
				mu.Unlock()
				return nil, nil
			},
		})
		require.NoError(err)
	}

	stop := runQueue(t, q)
	defer stop()
	wg.Wait()

	assert.Equal(t, []string{"urgent", "high", "normal-1", "normal-2", "low"}, order)
}

func TestQueueSubmissionOrderWithClockGoingBackwards(t *testing.T) {
	require := require.New(t)

	var mu sync.Mutex
	order := []string{}
	var wg sync.WaitGroup

	// Every submission is a minute before the previous one.
	var clockMu sync.Mutex
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		now = now.Add(-time.Minute)
		return now
	}

	q, err := workqueue.NewQueue(workqueue.QueueConfig{MaxWorkers: 1, PollInterval: 10 * time.Millisecond, Now: clock})
	require.NoError(err)

	names := []string{"first", "second", "third"}
	for _, name := range names {
		wg.Add(1)
		_, err := q.Submit(workqueue.SubmitRequest{
			Name: name,
			Func: func(ctx context.Context, p workqueue.Progress) (any, error) {
				defer wg.Done()
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return nil, nil
			},
		})
		require.NoError(err)
	}

	stop := runQueue(t, q)
	defer stop()
	wg.Wait()

	assert.Equal(t, names, order)
}

func TestQueueJobResults(t *testing.T) {
	tests := map[string]struct {
		fn        workqueue.JobFunc
		expStatus workqueue.JobStatus
		expResult any
		expErr    string
	}{
		"A successful job should be completed with its result.": {
			fn:        func(ctx context.Context, p workqueue.Progress) (any, error) { return "ok", nil },
			expStatus: workqueue.JobStatusCompleted,
			expResult: "ok",
		},

		"A failing job should be failed with its error.": {
			fn:        func(ctx context.Context, p workqueue.Progress) (any, error) { return nil, errors.New("boom") },
			expStatus: workqueue.JobStatusFailed,
			expErr:    "boom",
		},

		"A panicking job should be failed.": {
			fn:        func(ctx context.Context, p workqueue.Progress) (any, error) { panic("oops") },
			expStatus: workqueue.JobStatusFailed,
			expErr:    "job panicked: oops",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			q, err := workqueue.NewQueue(workqueue.QueueConfig{PollInterval: 10 * time.Millisecond})
			require.NoError(err)
			stop := runQueue(t, q)
			defer stop()

			id, err := q.Submit(workqueue.SubmitRequest{Name: "test", UserID: "u1", Func: test.fn})
			require.NoError(err)

			job := waitJob(t, q, id)
			assert.Equal(test.expStatus, job.Status)
			assert.Equal(test.expResult, job.Result)
			assert.Equal(test.expErr, job.Error)
			assert.NotNil(job.StartedAt)
			assert.NotNil(job.CompletedAt)
			assert.Equal("u1", job.UserID)
		})
	}
}

func TestQueueCancelPendingJob(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var completed []workqueue.Job
	var mu sync.Mutex
	q, err := workqueue.NewQueue(workqueue.QueueConfig{
		MaxWorkers:   1,
		PollInterval: 10 * time.Millisecond,
		OnComplete: func(j workqueue.Job) {
			mu.Lock()
			defer mu.Unlock()
			completed = append(completed, j)
		},
	})
	require.NoError(err)

	called := false
	id, err := q.Submit(workqueue.SubmitRequest{Func: func(ctx context.Context, p workqueue.Progress) (any, error) {
		called = true
		return nil, nil
	}})
	require.NoError(err)
	siblingID, err := q.Submit(workqueue.SubmitRequest{Func: func(ctx context.Context, p workqueue.Progress) (any, error) {
		return "sibling", nil
	}})
	require.NoError(err)

	require.NoError(q.Cancel(id))
	job, err := q.Get(id)
	require.NoError(err)
	assert.Equal(workqueue.JobStatusCancelled, job.Status)

	stop := runQueue(t, q)
	defer stop()

	sibling := waitJob(t, q, siblingID)
	assert.Equal(workqueue.JobStatusCompleted, sibling.Status)
	assert.False(called)

	// Cancelling again a finished job should fail.
	err = q.Cancel(id)
	assert.ErrorIs(err, model.ErrIllegalTransition)

	assert.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(completed) == 2
	}, 5*time.Second, 5*time.Millisecond)
}

func TestQueueCancelRunningJob(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	q, err := workqueue.NewQueue(workqueue.QueueConfig{PollInterval: 10 * time.Millisecond})
	require.NoError(err)
	stop := runQueue(t, q)
	defer stop()

	started := make(chan struct{})
	id, err := q.Submit(workqueue.SubmitRequest{Func: func(ctx context.Context, p workqueue.Progress) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}})
	require.NoError(err)

	<-started
	require.NoError(q.Cancel(id))

	job := waitJob(t, q, id)
	assert.Equal(workqueue.JobStatusCancelled, job.Status)
}

func TestQueueCancelMissingJob(t *testing.T) {
	q, err := workqueue.NewQueue(workqueue.QueueConfig{})
	require.NoError(t, err)

	err = q.Cancel("missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestQueueFull(t *testing.T) {
	require := require.New(t)

	q, err := workqueue.NewQueue(workqueue.QueueConfig{MaxQueueSize: 2})
	require.NoError(err)

	noop := func(ctx context.Context, p workqueue.Progress) (any, error) { return nil, nil }
	_, err = q.Submit(workqueue.SubmitRequest{Func: noop})
	require.NoError(err)
	id, err := q.Submit(workqueue.SubmitRequest{Func: noop})
	require.NoError(err)

	_, err = q.Submit(workqueue.SubmitRequest{Func: noop})
	assert.ErrorIs(t, err, model.ErrQueueFull)

	// Cancelled jobs don't count.
	require.NoError(q.Cancel(id))
	_, err = q.Submit(workqueue.SubmitRequest{Func: noop})
	assert.NoError(t, err)
}

func TestQueueProgress(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var mu sync.Mutex
	jobUpdates := []int{}
	globalUpdates := 0
	q, err := workqueue.NewQueue(workqueue.QueueConfig{
		PollInterval: 10 * time.Millisecond,
		OnProgress: func(j workqueue.Job) {
			mu.Lock()
			defer mu.Unlock()
			globalUpdates++
		},
	})
	require.NoError(err)
	stop := runQueue(t, q)
	defer stop()

	id, err := q.Submit(workqueue.SubmitRequest{
		Func: func(ctx context.Context, p workqueue.Progress) (any, error) {
			p.Update(-5, "starting")
			p.Update(50, "half")
			p.Update(150, "overflow")
			return nil, nil
		},
		OnProgress: func(j workqueue.Job) {
			mu.Lock()
			defer mu.Unlock()
			jobUpdates = append(jobUpdates, j.Progress)
		},
	})
	require.NoError(err)
	job := waitJob(t, q, id)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal([]int{0, 50, 100}, jobUpdates)
	assert.Equal(3, globalUpdates)
	assert.Equal(100, job.Progress)
	assert.Equal("overflow", job.ProgressMessage)
}

func TestQueueStatsListAndCleanup(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	q, err := workqueue.NewQueue(workqueue.QueueConfig{Now: clock})
	require.NoError(err)

	noop := func(ctx context.Context, p workqueue.Progress) (any, error) { return nil, nil }
	id1, err := q.Submit(workqueue.SubmitRequest{Name: "j1", UserID: "u1", Func: noop})
	require.NoError(err)
	advance(time.Second)
	id2, err := q.Submit(workqueue.SubmitRequest{Name: "j2", UserID: "u1", Func: noop})
	require.NoError(err)
	advance(time.Second)
	_, err = q.Submit(workqueue.SubmitRequest{Name: "j3", UserID: "u2", Func: noop})
	require.NoError(err)

	require.NoError(q.Cancel(id1))

	stats := q.Stats()
	assert.Equal(2, stats.QueueSize)
	assert.Equal(3, stats.Total)
	assert.Equal(1, stats.ByStatus[workqueue.JobStatusCancelled])
	assert.Equal(2, stats.ByStatus[workqueue.JobStatusQueued])

	userJobs := q.List("u1", 10)
	require.Len(userJobs, 2)
	assert.Equal(id2, userJobs[0].ID)
	assert.Equal(id1, userJobs[1].ID)
	assert.Len(q.List("", 1), 1)

	// Not old enough.
	assert.Equal(0, q.CleanupOld(time.Hour))

	advance(2 * time.Hour)
	assert.Equal(1, q.CleanupOld(time.Hour))
	_, err = q.Get(id1)
	assert.ErrorIs(err, model.ErrNotFound)
	assert.Equal(2, q.Stats().Total)
}
