package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Store = (*Memory)(nil)

// Memory is an in-memory ledger for tests and ephemeral deployments.
type Memory struct {
	mu      sync.RWMutex
	byPoint map[string]Record
	nextID  int64
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{byPoint: make(map[string]Record)}
}

// Insert stores a new record, filling in ID and CreatedAt.
func (m *Memory) Insert(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byPoint[rec.PointID]; ok {
		return fmt.Errorf("ledger: insert record for tenant %s: duplicate point %s", rec.TenantID, rec.PointID)
	}
	m.nextID++
	rec.ID = m.nextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.byPoint[rec.PointID] = *rec
	return nil
}

// FindByPointID looks up the record referencing the given point.
func (m *Memory) FindByPointID(ctx context.Context, pointID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.byPoint[pointID]
	if !ok {
		return nil, fmt.Errorf("%w: point %s", ErrNotFound, pointID)
	}
	return &rec, nil
}

// DeleteByPointID removes the record referencing the given point.
func (m *Memory) DeleteByPointID(ctx context.Context, pointID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byPoint, pointID)
	return nil
}

// ListByTenant returns all records for a tenant, oldest first.
func (m *Memory) ListByTenant(ctx context.Context, tenantID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []Record
	for _, rec := range m.byPoint {
		if rec.TenantID == tenantID {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Tenants returns the distinct tenant IDs present in the ledger.
func (m *Memory) Tenants(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var tenants []string
	for _, rec := range m.byPoint {
		if !seen[rec.TenantID] {
			seen[rec.TenantID] = true
			tenants = append(tenants, rec.TenantID)
		}
	}
	sort.Strings(tenants)
	return tenants, nil
}

// Close is a no-op for the in-memory ledger.
func (m *Memory) Close() error { return nil }
