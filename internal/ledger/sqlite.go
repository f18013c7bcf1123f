package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Compile-time interface check.
var _ Store = (*SQLite)(nil)

// SQLite is the ledger backed by a SQLite database.
type SQLite struct {
	db   *sql.DB
	path string
}

// NewSQLite opens (or creates) the ledger database at the given path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open database: %w", err)
	}

	s := &SQLite{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("ledger: pragma failed: %w", err)
		}
	}
	return migrate(s.db)
}

// Insert stores a new record. The record's ID and CreatedAt are filled in.
// A duplicate point_id fails; point IDs are unique across the ledger.
func (s *SQLite) Insert(ctx context.Context, rec *Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO face_records (tenant_id, display_name, point_id, image_handle, created_at) VALUES (?, ?, ?, ?, ?)",
		rec.TenantID, rec.DisplayName, rec.PointID, rec.ImageHandle, rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("ledger: insert record for tenant %s: %w", rec.TenantID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// FindByPointID looks up the record referencing the given point.
func (s *SQLite) FindByPointID(ctx context.Context, pointID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, tenant_id, display_name, point_id, image_handle, created_at FROM face_records WHERE point_id = ?",
		pointID)

	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: point %s", ErrNotFound, pointID)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: find point %s: %w", pointID, err)
	}
	return rec, nil
}

// DeleteByPointID removes the record referencing the given point. Deleting
// an absent record is a no-op.
func (s *SQLite) DeleteByPointID(ctx context.Context, pointID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM face_records WHERE point_id = ?", pointID); err != nil {
		return fmt.Errorf("ledger: delete point %s: %w", pointID, err)
	}
	return nil
}

// ListByTenant returns all records for a tenant, oldest first.
func (s *SQLite) ListByTenant(ctx context.Context, tenantID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, tenant_id, display_name, point_id, image_handle, created_at FROM face_records WHERE tenant_id = ? ORDER BY id",
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("ledger: list tenant %s: %w", tenantID, err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Tenants returns the distinct tenant IDs present in the ledger. The
// sweeper uses this so that tenants whose in-memory collection is gone are
// still reconciled.
func (s *SQLite) Tenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT tenant_id FROM face_records ORDER BY tenant_id")
	if err != nil {
		return nil, fmt.Errorf("ledger: list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var tenant string
		if err := rows.Scan(&tenant); err != nil {
			return nil, fmt.Errorf("ledger: list tenants: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func scanRecord(scan func(dest ...any) error) (*Record, error) {
	var rec Record
	var createdAt string
	if err := scan(&rec.ID, &rec.TenantID, &rec.DisplayName, &rec.PointID, &rec.ImageHandle, &createdAt); err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	rec.CreatedAt = ts
	return &rec, nil
}
