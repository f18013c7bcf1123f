package index

import (
	"fmt"
	"sort"
	"sync"
)

// collectionPrefix is prepended to the tenant ID to derive the collection
// name, mirroring the persisted namespace layout.
const collectionPrefix = "faces_"

// CollectionName derives the collection name for a tenant.
func CollectionName(tenantID string) string {
	return collectionPrefix + tenantID
}

// Registry tracks the per-tenant collections. It is the only shared mutable
// state crossing tenant boundaries; everything else lives inside individual
// collections.
type Registry struct {
	mu          sync.RWMutex
	collections map[string]*Collection
}

// NewRegistry creates an empty collection registry.
func NewRegistry() *Registry {
	return &Registry{collections: make(map[string]*Collection)}
}

// EnsureCollection returns the tenant's collection, creating it on first
// use. Creation is idempotent: concurrent callers for an unseen tenant all
// observe the single collection created by the winner. An existing
// collection with a different dimension or metric fails with
// ErrDimensionMismatch.
func (r *Registry) EnsureCollection(tenantID string, dimension int, metric Metric) (*Collection, error) {
	if tenantID == "" {
		return nil, ErrEmptyTenant
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrDimensionMismatch, dimension)
	}

	r.mu.RLock()
	col, ok := r.collections[tenantID]
	r.mu.RUnlock()
	if ok {
		return checkConfig(col, dimension, metric)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check: another caller may have won the creation race.
	if col, ok := r.collections[tenantID]; ok {
		return checkConfig(col, dimension, metric)
	}

	col = newCollection(CollectionName(tenantID), dimension, metric)
	r.collections[tenantID] = col
	return col, nil
}

func checkConfig(col *Collection, dimension int, metric Metric) (*Collection, error) {
	if col.dimension != dimension || col.metric != metric {
		return nil, fmt.Errorf("%w: collection %s is %d-dimensional %s, requested %d-dimensional %s",
			ErrDimensionMismatch, col.name, col.dimension, col.metric, dimension, metric)
	}
	return col, nil
}

// Collection returns the tenant's collection without creating it.
func (r *Registry) Collection(tenantID string) (*Collection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	col, ok := r.collections[tenantID]
	return col, ok
}

// Tenants returns the tenant IDs with a live collection, sorted for
// deterministic iteration.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.collections))
	for tenant := range r.collections {
		out = append(out, tenant)
	}
	sort.Strings(out)
	return out
}
