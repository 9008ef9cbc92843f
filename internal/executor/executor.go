package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
)

// Result is the outcome of an executed operation.
type Result struct {
	Success  bool
	Message  string
	Data     any
	Error    string
	Duration time.Duration
}

// Executor executes operations.
type Executor interface {
	// Execute executes the operation (`capability.action`) with its parameters.
	// Failures are reported on the result, never as a panic or a missing result.
	Execute(ctx context.Context, operation string, params map[string]any) Result
}

//go:generate mockery --case underscore --output executormock --outpkg executormock --name Executor

// ExecutorFunc is a helper to create executors from functions.
type ExecutorFunc func(ctx context.Context, operation string, params map[string]any) Result

func (f ExecutorFunc) Execute(ctx context.Context, operation string, params map[string]any) Result {
	return f(ctx, operation, params)
}

// Failed returns a failed result.
func Failed(err error) Result {
	return Result{Success: false, Message: err.Error(), Error: err.Error()}
}

// RegistryConfig is the configuration of the executor registry.
type RegistryConfig struct {
	Logger log.Logger
}

func (c *RegistryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "executor.Registry"})
	return nil
}

// Registry routes the operations to the executor registered for their capability.
type Registry struct {
	executors map[model.Capability]Executor
	mu        sync.RWMutex
	logger    log.Logger
}

var _ Executor = &Registry{}

// NewRegistry returns a new empty registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Registry{
		executors: map[model.Capability]Executor{},
		logger:    cfg.Logger,
	}, nil
}

// Register registers an executor for a set of capabilities.
func (r *Registry) Register(e Executor, capabilities ...model.Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range capabilities {
		if !c.Valid() {
			return fmt.Errorf("unknown capability %q: %w", c, model.ErrNotValid)
		}
		if _, ok := r.executors[c]; ok {
			return fmt.Errorf("capability %q executor: %w", c, model.ErrAlreadyExists)
		}
		r.executors[c] = e
	}
	return nil
}

// Capabilities returns the registered capabilities sorted.
func (r *Registry) Capabilities() []model.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cs := make([]model.Capability, 0, len(r.executors))
	for c := range r.executors {
		cs = append(cs, c)
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i] < cs[j] })
	return cs
}

// Execute executes the operation with the executor of its capability.
func (r *Registry) Execute(ctx context.Context, operation string, params map[string]any) Result {
	capability, _, err := model.ParseOperation(operation)
	if err != nil {
		return Failed(err)
	}

	r.mu.RLock()
	e, ok := r.executors[capability]
	r.mu.RUnlock()
	if !ok {
		return Failed(fmt.Errorf("no executor for capability %q: %w", capability, model.ErrExecutor))
	}

	start := time.Now()
	res := e.Execute(ctx, operation, params)
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}

	r.logger.Debugf("Operation %q executed in %s (success: %t)", operation, res.Duration, res.Success)
	return res
}
