// Package ledger wraps the durable metadata store holding one record per
// indexed identity. Each operation is individually atomic; nothing here
// coordinates with the vector index — that gap is closed by the identity
// service and the reconciliation sweeper.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record exists for the given key.
var ErrNotFound = errors.New("ledger: record not found")

// Record is one row of the metadata ledger. PointID is unique across the
// whole ledger and references a point in the same tenant's collection.
type Record struct {
	ID          int64
	TenantID    string
	DisplayName string
	PointID     string
	ImageHandle string
	CreatedAt   time.Time
}

// Store is the narrow contract the identity service and the sweeper need.
type Store interface {
	Insert(ctx context.Context, rec *Record) error
	FindByPointID(ctx context.Context, pointID string) (*Record, error)
	DeleteByPointID(ctx context.Context, pointID string) error
	ListByTenant(ctx context.Context, tenantID string) ([]Record, error)
	Tenants(ctx context.Context) ([]string, error)
	Close() error
}
