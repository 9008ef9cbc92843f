package submit_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepper/internal/app/resume"
	"github.com/slok/stepper/internal/app/run"
	"github.com/slok/stepper/internal/app/submit"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/orchestrator"
	"github.com/slok/stepper/internal/workqueue"
)

type queueFake struct {
	submitted []workqueue.SubmitRequest
	err       error
}

func (q *queueFake) Submit(req workqueue.SubmitRequest) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.submitted = append(q.submitted, req)
	return fmt.Sprintf("job-%d", len(q.submitted)), nil
}

type runnerFunc func(ctx context.Context, req run.Request) (*orchestrator.Report, error)

func (f runnerFunc) Run(ctx context.Context, req run.Request) (*orchestrator.Report, error) {
	return f(ctx, req)
}

type resumerFunc func(ctx context.Context, req resume.Request) (*orchestrator.Report, error)

func (f resumerFunc) Run(ctx context.Context, req resume.Request) (*orchestrator.Report, error) {
	return f(ctx, req)
}

type progressRecorder struct{ updates []int }

func (p *progressRecorder) Update(percent int, message string) {
	p.updates = append(p.updates, percent)
}

func TestService_Run(t *testing.T) {
	tests := map[string]struct {
		req       submit.Request
		report    *orchestrator.Report
		execErr   error
		expName   string
		expUser   string
		expJobErr bool
		expResult any
		expErr    error
	}{
		"a run should be submitted as a job returning the report": {
			req:       submit.Request{Run: run.Request{Request: "backup", Template: "backup", UserID: "u1"}, Priority: model.PriorityHigh},
			report:    &orchestrator.Report{Success: true, Message: "all 1 tasks completed"},
			expName:   "run backup",
			expUser:   "u1",
			expResult: &orchestrator.Report{Success: true, Message: "all 1 tasks completed"},
		},

		"a resume should be submitted as a job": {
			req:       submit.Request{ResumeCheckpointID: "c1"},
			report:    &orchestrator.Report{Success: true},
			expName:   "resume c1",
			expResult: &orchestrator.Report{Success: true},
		},

		"a plan not succeeding should fail the job keeping the report": {
			req:       submit.Request{Run: run.Request{Request: "x"}},
			report:    &orchestrator.Report{Success: false, Message: "0 of 1 tasks completed, 1 failed, 0 pending"},
			expName:   "run",
			expJobErr: true,
			expResult: &orchestrator.Report{Success: false, Message: "0 of 1 tasks completed, 1 failed, 0 pending"},
		},

		"an execution error should fail the job": {
			req:       submit.Request{Run: run.Request{Request: "x"}},
			execErr:   fmt.Errorf("boom"),
			expName:   "run",
			expJobErr: true,
		},

		"an empty request should fail": {
			req:    submit.Request{},
			expErr: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			exec := func(progress orchestrator.ProgressFunc) (*orchestrator.Report, error) {
				if progress != nil {
					progress(49.6, "half")
				}
				return test.report, test.execErr
			}
			q := &queueFake{}
			svc, err := submit.NewService(submit.ServiceConfig{
				Queue: q,
				Runner: runnerFunc(func(ctx context.Context, req run.Request) (*orchestrator.Report, error) {
					return exec(req.Progress)
				}),
				Resumer: resumerFunc(func(ctx context.Context, req resume.Request) (*orchestrator.Report, error) {
					return exec(req.Progress)
				}),
			})
			require.NoError(err)

			id, err := svc.Run(context.Background(), test.req)
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				return
			}
			require.NoError(err)
			assert.Equal("job-1", id)

			require.Len(q.submitted, 1)
			sr := q.submitted[0]
			assert.Equal(test.expName, sr.Name)
			assert.Equal(test.expUser, sr.UserID)
			assert.Equal(test.req.Priority, sr.Priority)

			p := &progressRecorder{}
			res, err := sr.Func(context.Background(), p)
			if test.expJobErr {
				assert.Error(err)
			} else {
				assert.NoError(err)
			}
			if test.expResult != nil {
				assert.Equal(test.expResult, res)
			}
			assert.Equal([]int{50}, p.updates)
		})
	}
}
