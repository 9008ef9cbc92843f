package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slok/stepper/internal/executor"
	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
)

// executeTask dispatches the task to the executors retrying it with a fixed delay
// until it succeeds or it runs out of retries. The last failure is returned.
func (o *Orchestrator) executeTask(ctx context.Context, t *model.Task) model.TaskResult {
	logger := o.logger.WithCtxValues(ctx).WithValues(log.Kv{"task": t.ID, "operation": t.Operation})

	var res model.TaskResult
	for attempt := 0; ; attempt++ {
		t.RetryCount = attempt
		if o.hooks.OnTaskStart != nil {
			o.hooks.OnTaskStart(t, attempt)
		}

		res = o.dispatch(ctx, t)
		if res.Success {
			logger.Debugf("Task succeeded after %d attempts", attempt+1)
			if o.hooks.OnTaskComplete != nil {
				o.hooks.OnTaskComplete(t, res)
			}
			return res
		}

		if attempt >= t.MaxRetries || ctx.Err() != nil {
			break
		}

		logger.Warningf("Task attempt %d/%d failed, retrying in %s: %s", attempt+1, t.MaxRetries+1, o.retryDelay, res.Error)
		select {
		case <-ctx.Done():
		case <-time.After(o.retryDelay):
		}
		if ctx.Err() != nil {
			break
		}
	}

	logger.Errorf("Task failed: %s", res.Error)
	if o.hooks.OnTaskError != nil {
		o.hooks.OnTaskError(t, res)
	}
	return res
}

// dispatch executes the task once bounded by its timeout.
func (o *Orchestrator) dispatch(parent context.Context, t *model.Task) model.TaskResult {
	ctx, cancel := context.WithTimeout(parent, t.Timeout)
	defer cancel()

	start := time.Now()
	resC := make(chan executor.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resC <- executor.Failed(fmt.Errorf("executor panicked: %v: %w", r, model.ErrExecutor))
			}
		}()
		resC <- o.executor.Execute(ctx, t.Operation, t.Parameters)
	}()

	var res executor.Result
	select {
	case res = <-resC:
	case <-ctx.Done():
		res = executor.Failed(ctx.Err())
	}

	// Executors that don't honor the context are abandoned when the timeout is reached.
	if !res.Success && parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res = executor.Failed(fmt.Errorf("task %q exceeded %s: %w", t.ID, t.Timeout, model.ErrTimeout))
	}

	r := model.TaskResult{
		Success:  res.Success,
		Message:  res.Message,
		Output:   res.Data,
		Error:    res.Error,
		Duration: res.Duration,
	}
	if r.Duration == 0 {
		r.Duration = time.Since(start)
	}
	if !r.Success && r.Error == "" {
		r.Error = r.Message
		if r.Error == "" {
			r.Error = model.ErrExecutor.Error()
		}
	}
	return r
}
