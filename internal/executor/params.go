package executor

import (
	"fmt"
	"time"

	"github.com/spf13/cast"

	"github.com/slok/stepper/internal/model"
)

// Params is a helper to read typed operation parameters.
type Params map[string]any

// String returns a string parameter, empty if missing.
func (p Params) String(key string) string {
	return cast.ToString(p[key])
}

// RequiredString returns a string parameter that must be set.
func (p Params) RequiredString(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", fmt.Errorf("parameter %q is required: %w", key, model.ErrNotValid)
	}
	s, err := cast.ToStringE(v)
	if err != nil || s == "" {
		return "", fmt.Errorf("parameter %q must be a non empty string: %w", key, model.ErrNotValid)
	}
	return s, nil
}

// StringSlice returns a list of strings parameter, nil if missing.
func (p Params) StringSlice(key string) ([]string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	ss, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil, fmt.Errorf("parameter %q must be a list of strings: %w", key, model.ErrNotValid)
	}
	return ss, nil
}

// Duration returns a duration parameter (Go duration string or seconds), def if missing.
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}

	switch v.(type) {
	case int, int32, int64, float32, float64:
		secs, err := cast.ToFloat64E(v)
		if err != nil {
			return 0, fmt.Errorf("parameter %q must be a duration: %w", key, model.ErrNotValid)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}

	d, err := cast.ToDurationE(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %q must be a duration: %w", key, model.ErrNotValid)
	}
	return d, nil
}

// Bool returns a bool parameter, false if missing.
func (p Params) Bool(key string) bool {
	return cast.ToBool(p[key])
}
