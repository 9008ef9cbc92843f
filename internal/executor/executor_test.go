package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepper/internal/executor"
	"github.com/slok/stepper/internal/executor/executormock"
	"github.com/slok/stepper/internal/model"
)

func TestRegistryExecute(t *testing.T) {
	tests := map[string]struct {
		mock       func(m *executormock.Executor)
		operation  string
		expSuccess bool
		expError   string
	}{
		"An operation should be routed to the executor of its capability.": {
			mock: func(m *executormock.Executor) {
				m.On("Execute", mock.Anything, "command.run", map[string]any{"command": "ls"}).Once().Return(executor.Result{Success: true, Duration: time.Second})
			},
			operation:  "command.run",
			expSuccess: true,
		},

		"An operation of a capability without executor should fail.": {
			mock:      func(m *executormock.Executor) {},
			operation: "browser.open",
			expError:  `no executor for capability "browser": executor failed`,
		},

		"An invalid operation should fail.": {
			mock:      func(m *executormock.Executor) {},
			operation: "teleport.now",
			expError:  "not valid",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			m := executormock.NewExecutor(t)
			test.mock(m)

			reg, err := executor.NewRegistry(executor.RegistryConfig{})
			require.NoError(err)
			require.NoError(reg.Register(m, model.CapabilityCommand, model.CapabilityScript))

			res := reg.Execute(context.Background(), test.operation, map[string]any{"command": "ls"})

			assert.Equal(test.expSuccess, res.Success)
			if !test.expSuccess {
				assert.Contains(res.Error, test.expError)
			}
		})
	}
}

func TestRegistryRegister(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	noop := executor.ExecutorFunc(func(ctx context.Context, operation string, params map[string]any) executor.Result {
		return executor.Result{Success: true}
	})

	reg, err := executor.NewRegistry(executor.RegistryConfig{})
	require.NoError(err)

	require.NoError(reg.Register(noop, model.CapabilityFile, model.CapabilityCommand))
	assert.ErrorIs(reg.Register(noop, model.CapabilityFile), model.ErrAlreadyExists)
	assert.ErrorIs(reg.Register(noop, model.Capability("teleport")), model.ErrNotValid)
	assert.Equal([]model.Capability{model.CapabilityCommand, model.CapabilityFile}, reg.Capabilities())
}

func TestParams(t *testing.T) {
	assert := assert.New(t)

	p := executor.Params{
		"name": "x",
		"num":  3,
		"list": []any{"a", "b"},
		"dur":  "2m",
		"secs": 1.5,
		"flag": "true",
	}

	assert.Equal("x", p.String("name"))
	assert.Equal("3", p.String("num"))
	assert.Equal("", p.String("missing"))

	_, err := p.RequiredString("missing")
	assert.ErrorIs(err, model.ErrNotValid)

	l, err := p.StringSlice("list")
	assert.NoError(err)
	assert.Equal([]string{"a", "b"}, l)

	d, err := p.Duration("dur", 0)
	assert.NoError(err)
	assert.Equal(2*time.Minute, d)

	d, err = p.Duration("secs", 0)
	assert.NoError(err)
	assert.Equal(1500*time.Millisecond, d)

	d, err = p.Duration("missing", time.Second)
	assert.NoError(err)
	assert.Equal(time.Second, d)

	assert.True(p.Bool("flag"))
}
