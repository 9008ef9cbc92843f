package strategy

import (
	"context"

	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
)

// MixedConfig is the configuration of the mixed strategy.
type MixedConfig struct {
	MaxWorkers int
	// StopOnLayerFailure doesn't admit the next layer when a layer had failures.
	StopOnLayerFailure bool
	Logger             log.Logger
}

func (c *MixedConfig) defaults() error {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "strategy.Mixed"})
	return nil
}

// Mixed runs the plan in topological layers, each layer fully executed in parallel
// before the next one is admitted.
type Mixed struct {
	parallel           *Parallel
	stopOnLayerFailure bool
	logger             log.Logger
}

// NewMixed returns a new mixed strategy.
func NewMixed(cfg MixedConfig) (*Mixed, error) {
	if err := cfg.defaults(); err != nil {
		return nil, err
	}

	p, err := NewParallel(ParallelConfig{MaxWorkers: cfg.MaxWorkers, Logger: cfg.Logger})
	if err != nil {
		return nil, err
	}

	return &Mixed{
		parallel:           p,
		stopOnLayerFailure: cfg.StopOnLayerFailure,
		logger:             cfg.Logger,
	}, nil
}

func (m *Mixed) Execute(ctx context.Context, plan *model.TaskPlan, exec ExecuteTaskFunc) error {
	hasDeps := false
	for _, t := range plan.Tasks {
		if len(t.Dependencies) > 0 {
			hasDeps = true
			break
		}
	}
	if !hasDeps {
		return m.parallel.Execute(ctx, plan, exec)
	}

	layers, err := plan.Layers()
	if err != nil {
		return err
	}

	for i, layer := range layers {
		if err := ctx.Err(); err != nil {
			return err
		}

		m.logger.Debugf("Executing layer %d with %d tasks", i, len(layer))
		if err := m.parallel.run(ctx, layer, plan.Completed(), exec); err != nil {
			return err
		}

		if m.stopOnLayerFailure && layerFailed(layer) {
			m.logger.Infof("Layer %d had failures, stopping execution", i)
			return nil
		}
	}

	return nil
}

func layerFailed(layer []*model.Task) bool {
	for _, t := range layer {
		if t.Status == model.TaskStatusFailed {
			return true
		}
	}
	return false
}
