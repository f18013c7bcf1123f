// Package identity orchestrates enrollment and search across the vector
// index and the metadata ledger. The two writes of an enrollment are not
// atomic; a ledger failure after the vector write leaves an orphaned vector
// that the reconciliation sweeper cleans up later.
package identity

import (
	"context"
	"fmt"

	"faceindex/internal/index"
	"faceindex/internal/ledger"

	"github.com/google/uuid"
)

// DefaultTopK is the number of matches returned when the caller does not
// ask for a specific k.
const DefaultTopK = 3

// PointStore persists vector writes so the index survives restarts.
// index.SQLiteStore implements it; a nil store keeps the index in memory
// only.
type PointStore interface {
	SaveCollection(ctx context.Context, tenantID string, dimension int, metric index.Metric) error
	SavePoint(ctx context.Context, tenantID string, p index.Point) error
	DeletePoint(ctx context.Context, pointID string) error
}

// Enrollment is one enroll request. PointID is normally empty; a caller
// retrying a failed enrollment passes the point ID from the EnrollError so
// the retry overwrites the orphaned vector instead of duplicating it.
type Enrollment struct {
	TenantID    string
	Name        string
	Vector      []float32
	ImageHandle string
	PointID     string
}

// Match is one ranked search result with the denormalized display payload.
type Match struct {
	PointID string            `json:"point_id"`
	Score   float32           `json:"score"`
	Name    string            `json:"name"`
	Payload map[string]string `json:"payload,omitempty"`
}

// Service is the identity indexing service. Construct it explicitly and
// pass it by reference; it holds no ambient global state.
type Service struct {
	registry *index.Registry
	ledger   ledger.Store
	persist  PointStore // optional
	metric   index.Metric
}

// NewService creates the identity service. persist may be nil for a purely
// in-memory index.
func NewService(registry *index.Registry, led ledger.Store, persist PointStore) *Service {
	return &Service{
		registry: registry,
		ledger:   led,
		persist:  persist,
		metric:   index.MetricCosine,
	}
}

// WithMetric sets the distance metric used when creating tenant
// collections. The default is cosine similarity. Existing collections keep
// the metric they were created with.
func (s *Service) WithMetric(m index.Metric) *Service {
	s.metric = m
	return s
}

// EnrollIdentity indexes a vector for a tenant and records its metadata.
// Steps: ensure the tenant collection, upsert the vector under a generated
// point ID, then insert the ledger record. On a ledger failure the vector
// is left in place (deleting it would race an idempotent retry) and the
// returned EnrollError carries the point ID so the caller can retry with
// the same ID. Returns the point ID on success.
func (s *Service) EnrollIdentity(ctx context.Context, req Enrollment) (string, error) {
	col, err := s.registry.EnsureCollection(req.TenantID, len(req.Vector), s.metric)
	if err != nil {
		return "", fmt.Errorf("enroll tenant %s: %w", req.TenantID, err)
	}
	if s.persist != nil {
		if err := s.persist.SaveCollection(ctx, req.TenantID, len(req.Vector), s.metric); err != nil {
			return "", fmt.Errorf("enroll tenant %s: %w", req.TenantID, err)
		}
	}

	pointID := req.PointID
	if pointID == "" {
		pointID = uuid.NewString()
	}

	payload := map[string]string{
		"name":      req.Name,
		"tenant_id": req.TenantID,
	}
	point, err := col.Upsert(pointID, req.Vector, payload)
	if err != nil {
		return "", fmt.Errorf("enroll tenant %s: %w", req.TenantID, err)
	}

	if s.persist != nil {
		if err := s.persist.SavePoint(ctx, req.TenantID, point); err != nil {
			// The in-memory vector stays behind as an orphan for the sweeper.
			return "", &EnrollError{
				PointID: pointID,
				Err:     fmt.Errorf("persist vector for tenant %s: %w", req.TenantID, err),
			}
		}
	}

	rec := &ledger.Record{
		TenantID:    req.TenantID,
		DisplayName: req.Name,
		PointID:     pointID,
		ImageHandle: req.ImageHandle,
	}
	if err := s.ledger.Insert(ctx, rec); err != nil {
		// Vector written, ledger write failed: the point is now an orphan.
		// The sweeper reconciles it after the grace period; a retrying
		// caller reuses the point ID to overwrite instead of duplicating.
		return "", &EnrollError{
			PointID: pointID,
			Err:     fmt.Errorf("ledger insert for tenant %s: %w", req.TenantID, err),
		}
	}

	return pointID, nil
}

// SearchIdentity returns the top-k matches for a query vector within a
// single tenant. A tenant that has never enrolled anyone gets an empty
// collection and an empty result, not an error. Matches never cross
// tenants regardless of vector similarity. minScore filters matches
// scoring below it; zero means no filtering.
func (s *Service) SearchIdentity(ctx context.Context, tenantID string, vector []float32, k int, minScore float32) ([]Match, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	col, err := s.registry.EnsureCollection(tenantID, len(vector), s.metric)
	if err != nil {
		return nil, fmt.Errorf("search tenant %s: %w", tenantID, err)
	}

	results, err := col.Query(vector, k)
	if err != nil {
		return nil, fmt.Errorf("search tenant %s: %w", tenantID, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		if minScore > 0 && r.Score < minScore {
			continue
		}
		matches = append(matches, Match{
			PointID: r.ID,
			Score:   r.Score,
			Name:    r.Payload["name"],
			Payload: r.Payload,
		})
	}
	return matches, nil
}

// DeleteIdentity removes a point and its ledger record. The ledger record
// goes first so a crash in between leaves a sweeper-reconcilable orphaned
// vector rather than a dangling record.
func (s *Service) DeleteIdentity(ctx context.Context, tenantID, pointID string) error {
	if err := s.ledger.DeleteByPointID(ctx, pointID); err != nil {
		return fmt.Errorf("delete %s for tenant %s: %w", pointID, tenantID, err)
	}

	if col, ok := s.registry.Collection(tenantID); ok {
		if err := col.Delete(pointID); err != nil && !isNotFound(err) {
			return fmt.Errorf("delete %s for tenant %s: %w", pointID, tenantID, err)
		}
	}
	if s.persist != nil {
		if err := s.persist.DeletePoint(ctx, pointID); err != nil {
			return fmt.Errorf("delete %s for tenant %s: %w", pointID, tenantID, err)
		}
	}
	return nil
}
