package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slok/stepper/internal/executor"
	"github.com/slok/stepper/internal/log"
)

// ExecutorConfig is the configuration for the fake executor.
type ExecutorConfig struct {
	// Results are the scripted results by operation. Each execution consumes the next
	// one, the last one is repeated. Operations without results succeed.
	Results map[string][]executor.Result
	// Delay simulates the execution time.
	Delay  time.Duration
	Logger log.Logger
}

func (c *ExecutorConfig) defaults() error {
	if c.Delay < 0 {
		return fmt.Errorf("delay can't be negative")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "executor.Fake"})
	return nil
}

// Call is an execution received by the fake executor.
type Call struct {
	Operation string
	Params    map[string]any
}

// Executor is a fake implementation of the executor.Executor interface.
// It doesn't execute anything, used for dry runs and tests.
type Executor struct {
	results map[string][]executor.Result
	delay   time.Duration
	calls   []Call
	mu      sync.Mutex
	logger  log.Logger
}

var _ executor.Executor = &Executor{}

// NewExecutor creates a new fake executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	results := make(map[string][]executor.Result, len(cfg.Results))
	for op, rs := range cfg.Results {
		results[op] = append([]executor.Result(nil), rs...)
	}

	return &Executor{
		results: results,
		delay:   cfg.Delay,
		logger:  cfg.Logger,
	}, nil
}

func (e *Executor) Execute(ctx context.Context, operation string, params map[string]any) executor.Result {
	e.mu.Lock()
	e.calls = append(e.calls, Call{Operation: operation, Params: params})
	res := executor.Result{Success: true, Message: fmt.Sprintf("%s executed", operation)}
	if rs := e.results[operation]; len(rs) > 0 {
		res = rs[0]
		if len(rs) > 1 {
			e.results[operation] = rs[1:]
		}
	}
	e.mu.Unlock()

	if e.delay > 0 {
		select {
		case <-ctx.Done():
			return executor.Failed(fmt.Errorf("%s interrupted: %w", operation, ctx.Err()))
		case <-time.After(e.delay):
		}
	}

	e.logger.Infof("Fake executed %s (success: %t)", operation, res.Success)
	res.Duration = e.delay
	return res
}

// Calls returns the received executions in order.
func (e *Executor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]Call(nil), e.calls...)
}
