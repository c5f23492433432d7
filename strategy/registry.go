package strategy

import (
	"errors"
	"fmt"

	"github.com/dnldd/fxsignal/shared"
	"go.uber.org/atomic"
)

// registrySnapshot is an immutable view of the configured strategies.
type registrySnapshot struct {
	configs []Config
	byKey   map[string][]*Config
}

// Registry owns the set of active strategy configs and the mapping from
// instrument and timeframe to strategy instances. Loads swap the whole
// snapshot atomically so an evaluation tick never sees a torn mix of old and
// new parameters.
type Registry struct {
	snapshot atomic.Pointer[registrySnapshot]
}

// NewRegistry initializes an empty strategy registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.snapshot.Store(&registrySnapshot{byKey: make(map[string][]*Config)})
	return r
}

// mappingKey generates the lookup key for the provided instrument and timeframe.
func mappingKey(instrument string, timeframe shared.Timeframe) string {
	return fmt.Sprintf("%s:%s", instrument, timeframe.String())
}

// Load validates the provided configs and swaps them in as a batch, rejecting
// the whole batch on any violation.
func (r *Registry) Load(configs []Config) error {
	var errs error
	seen := make(map[string]bool, len(configs))
	for idx := range configs {
		if err := configs[idx].Validate(); err != nil {
			errs = errors.Join(errs, err)
		}
		if seen[configs[idx].ID] {
			errs = errors.Join(errs, fmt.Errorf("duplicate strategy id: %s", configs[idx].ID))
		}
		seen[configs[idx].ID] = true
	}

	if errs != nil {
		return errs
	}

	snapshot := &registrySnapshot{
		configs: configs,
		byKey:   make(map[string][]*Config),
	}
	for idx := range configs {
		key := mappingKey(configs[idx].Instrument, configs[idx].Timeframe)
		snapshot.byKey[key] = append(snapshot.byKey[key], &configs[idx])
	}

	r.snapshot.Store(snapshot)

	return nil
}

// ActiveFor returns the strategies configured for the provided instrument
// and timeframe.
func (r *Registry) ActiveFor(instrument string, timeframe shared.Timeframe) []*Config {
	return r.snapshot.Load().byKey[mappingKey(instrument, timeframe)]
}

// All returns all configured strategies.
func (r *Registry) All() []Config {
	return r.snapshot.Load().configs
}
