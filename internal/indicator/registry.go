package indicator

import (
	"slices"
	"sync"

	"github.com/rxtech-lab/argo-engine/pkg/errors"
)

// Factory returns a fresh indicator with default parameters.
type Factory func() Indicator

// Registry maps indicator names to factories. Strategies ask it for a new
// instance per instrument, since indicators are stateful.
type Registry struct {
	factories map[IndicatorType]Factory
	mu        sync.RWMutex
}

// NewRegistry returns a registry with the built-in indicators.
func NewRegistry() *Registry {
	return &Registry{
		factories: map[IndicatorType]Factory{
			IndicatorTypeMA:  NewMA,
			IndicatorTypeEMA: NewEMA,
		},
		mu: sync.RWMutex{},
	}
}

// Register adds a factory under name.
func (r *Registry) Register(name IndicatorType, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return errorf("indicator %s is already registered", name)
	}

	r.factories[name] = factory

	return nil
}

// New creates and configures an indicator.
func (r *Registry) New(name IndicatorType, params ...any) (Indicator, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errorf("indicator %s not found", name)
	}

	indicator := factory()
	if len(params) > 0 {
		if err := indicator.Config(params...); err != nil {
			return nil, err
		}
	}

	return indicator, nil
}

// List returns the registered names in sorted order.
func (r *Registry) List() []IndicatorType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]IndicatorType, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

func errorf(format string, args ...any) error {
	return errors.Newf(errors.ErrCodeInvalidParameter, format, args...)
}
