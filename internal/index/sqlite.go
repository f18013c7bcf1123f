package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists collections and points so the index survives
// restarts. It lives in its own database file, separate from the metadata
// ledger; the two stores are intentionally not transactionally coupled.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the index database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("index: open database: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("index: pragma failed: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS collections (
			tenant_id TEXT PRIMARY KEY,
			dimension INTEGER NOT NULL,
			metric INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS points (
			point_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			embedding BLOB NOT NULL,
			payload TEXT,
			seq INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_points_tenant_id ON points (tenant_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("index: schema creation failed: %w", err)
	}
	return nil
}

// SaveCollection records a collection's configuration.
func (s *SQLiteStore) SaveCollection(ctx context.Context, tenantID string, dimension int, metric Metric) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO collections (tenant_id, dimension, metric) VALUES (?, ?, ?)",
		tenantID, dimension, int(metric))
	if err != nil {
		return fmt.Errorf("index: save collection for tenant %s: %w", tenantID, err)
	}
	return nil
}

// SavePoint writes a point, replacing any previous row with the same ID.
func (s *SQLiteStore) SavePoint(ctx context.Context, tenantID string, p Point) error {
	var payloadJSON []byte
	if p.Payload != nil {
		payloadJSON, _ = json.Marshal(p.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO points (point_id, tenant_id, embedding, payload, seq, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		p.ID, tenantID, encodeFloat32Slice(p.Vector), payloadJSON, p.Seq, p.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("index: save point %s for tenant %s: %w", p.ID, tenantID, err)
	}
	return nil
}

// DeletePoint removes a persisted point. Deleting an absent point is a no-op.
func (s *SQLiteStore) DeletePoint(ctx context.Context, pointID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM points WHERE point_id = ?", pointID); err != nil {
		return fmt.Errorf("index: delete point %s: %w", pointID, err)
	}
	return nil
}

// LoadInto restores all persisted collections and points into the registry.
// Called once at startup, before the registry is shared.
func (s *SQLiteStore) LoadInto(ctx context.Context, r *Registry) error {
	rows, err := s.db.QueryContext(ctx, "SELECT tenant_id, dimension, metric FROM collections")
	if err != nil {
		return fmt.Errorf("index: load collections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tenantID string
		var dimension, metric int
		if err := rows.Scan(&tenantID, &dimension, &metric); err != nil {
			return fmt.Errorf("index: scan collection: %w", err)
		}
		if _, err := r.EnsureCollection(tenantID, dimension, Metric(metric)); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("index: load collections: %w", err)
	}

	ptRows, err := s.db.QueryContext(ctx, "SELECT point_id, tenant_id, embedding, payload, seq, created_at FROM points")
	if err != nil {
		return fmt.Errorf("index: load points: %w", err)
	}
	defer ptRows.Close()

	for ptRows.Next() {
		var p Point
		var tenantID, createdAt string
		var embedding []byte
		var payloadJSON sql.NullString
		if err := ptRows.Scan(&p.ID, &tenantID, &embedding, &payloadJSON, &p.Seq, &createdAt); err != nil {
			return fmt.Errorf("index: scan point: %w", err)
		}
		p.Vector = decodeFloat32Slice(embedding)
		if payloadJSON.Valid && payloadJSON.String != "" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &p.Payload); err != nil {
				return fmt.Errorf("index: decode payload for point %s: %w", p.ID, err)
			}
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return fmt.Errorf("index: parse created_at for point %s: %w", p.ID, err)
		}
		p.CreatedAt = ts

		col, ok := r.Collection(tenantID)
		if !ok {
			// Point without a collection row; skip rather than guess a config.
			continue
		}
		col.restore(p)
	}
	return ptRows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// encodeFloat32Slice converts []float32 to []byte.
func encodeFloat32Slice(f []float32) []byte {
	buf := make([]byte, len(f)*4)
	for i, v := range f {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeFloat32Slice converts []byte to []float32.
func decodeFloat32Slice(b []byte) []float32 {
	f := make([]float32, len(b)/4)
	for i := range f {
		f[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return f
}
