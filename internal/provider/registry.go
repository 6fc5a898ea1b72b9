// Package provider holds the video backend registry and the retry policy
// applied to every provider call.
package provider

import (
	"fmt"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Registry holds the configured adapters keyed by provider kind. It
// performs no provider logic itself.
type Registry struct {
	adapters map[types.ProviderKind]interfaces.ProviderAdapter
}

var _ interfaces.ProviderResolver = (*Registry)(nil)

// NewRegistry registers adapters by their Kind. A later adapter with the
// same kind replaces an earlier one.
func NewRegistry(adapters ...interfaces.ProviderAdapter) *Registry {
	m := make(map[types.ProviderKind]interfaces.ProviderAdapter, len(adapters))
	for _, a := range adapters {
		m[a.Kind()] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter for kind or an error if none is registered.
func (r *Registry) Get(kind types.ProviderKind) (interfaces.ProviderAdapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not configured", types.ErrInvalidProvider, kind)
	}
	return a, nil
}

// Kinds lists the registered provider kinds.
func (r *Registry) Kinds() []types.ProviderKind {
	kinds := make([]types.ProviderKind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	return kinds
}
