package gateways

import (
	"github.com/ochairo/geiger/internal/domain/entities"
	"github.com/ochairo/geiger/internal/domain/interfaces/gateways"
)

// engineRegistry implements the EngineRegistry interface by composing
// the enabled engine adapters in declared priority order
type engineRegistry struct {
	adapters []gateways.EngineAdapter
	byID     map[entities.EngineID]gateways.EngineAdapter
}

// NewEngineRegistry creates a registry of the adapters enabled in engines.
// Declared order is kept; engines without an adapter and disabled engines are left out.
func NewEngineRegistry(engines []entities.EngineConfig, available ...gateways.EngineAdapter) gateways.EngineRegistry {
	candidates := make(map[entities.EngineID]gateways.EngineAdapter, len(available))
	for _, a := range available {
		candidates[a.ID()] = a
	}

	r := &engineRegistry{byID: make(map[entities.EngineID]gateways.EngineAdapter)}
	for _, e := range engines {
		if !e.Enabled {
			continue
		}
		a, ok := candidates[e.ID]
		if !ok {
			continue
		}
		if _, dup := r.byID[e.ID]; dup {
			continue
		}
		r.adapters = append(r.adapters, a)
		r.byID[e.ID] = a
	}
	return r
}

// NewEngineRegistryWithAdapters creates a registry of exactly the given adapters, in order.
// This is useful for testing or when you want to inject specific implementations
func NewEngineRegistryWithAdapters(adapters ...gateways.EngineAdapter) gateways.EngineRegistry {
	r := &engineRegistry{byID: make(map[entities.EngineID]gateways.EngineAdapter, len(adapters))}
	for _, a := range adapters {
		if _, dup := r.byID[a.ID()]; dup {
			continue
		}
		r.adapters = append(r.adapters, a)
		r.byID[a.ID()] = a
	}
	return r
}

// Adapters returns the enabled adapters in priority order
func (r *engineRegistry) Adapters() []gateways.EngineAdapter {
	return append([]gateways.EngineAdapter(nil), r.adapters...)
}

// Adapter returns the adapter for id
func (r *engineRegistry) Adapter(id entities.EngineID) (gateways.EngineAdapter, bool) {
	a, ok := r.byID[id]
	return a, ok
}
