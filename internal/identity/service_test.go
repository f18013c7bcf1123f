package identity

import (
	"context"
	"errors"
	"testing"

	"faceindex/internal/index"
	"faceindex/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingLedger wraps a Store and fails Insert on demand to simulate a
// ledger outage between the two enrollment writes.
type failingLedger struct {
	ledger.Store
	failInsert bool
}

func (f *failingLedger) Insert(ctx context.Context, rec *ledger.Record) error {
	if f.failInsert {
		return errors.New("ledger unavailable")
	}
	return f.Store.Insert(ctx, rec)
}

func newTestService() (*Service, *index.Registry, *failingLedger) {
	reg := index.NewRegistry()
	led := &failingLedger{Store: ledger.NewMemory()}
	return NewService(reg, led, nil), reg, led
}

func vec512(hot int) []float32 {
	v := make([]float32, 512)
	v[hot] = 1
	return v
}

func TestEnrollAndSelfMatch(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	pointID, err := svc.EnrollIdentity(ctx, Enrollment{
		TenantID:    "T1",
		Name:        "alice",
		Vector:      vec512(0),
		ImageHandle: "img1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, pointID)

	matches, err := svc.SearchIdentity(ctx, "T1", vec512(0), 1, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, pointID, matches[0].PointID)
	assert.Equal(t, "alice", matches[0].Name)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
}

func TestEnrollRecordsLedger(t *testing.T) {
	ctx := context.Background()
	svc, _, led := newTestService()

	pointID, err := svc.EnrollIdentity(ctx, Enrollment{
		TenantID: "T1", Name: "alice", Vector: vec512(0), ImageHandle: "img1",
	})
	require.NoError(t, err)

	rec, err := led.FindByPointID(ctx, pointID)
	require.NoError(t, err)
	assert.Equal(t, "T1", rec.TenantID)
	assert.Equal(t, "alice", rec.DisplayName)
	assert.Equal(t, "img1", rec.ImageHandle)
}

func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	_, err := svc.EnrollIdentity(ctx, Enrollment{
		TenantID: "T1", Name: "alice", Vector: vec512(0),
	})
	require.NoError(t, err)

	// Identical vector content, different tenant: no leakage.
	matches, err := svc.SearchIdentity(ctx, "T2", vec512(0), 1, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchUnknownTenantIsEmptyNotError(t *testing.T) {
	ctx := context.Background()
	svc, reg, _ := newTestService()

	matches, err := svc.SearchIdentity(ctx, "never-enrolled", vec512(3), 3, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)

	// The collection was created empty as a side effect.
	col, ok := reg.Collection("never-enrolled")
	require.True(t, ok)
	assert.Equal(t, 0, col.Len())
}

func TestDimensionEnforcement(t *testing.T) {
	ctx := context.Background()
	svc, reg, _ := newTestService()

	_, err := svc.EnrollIdentity(ctx, Enrollment{
		TenantID: "T1", Name: "alice", Vector: vec512(0),
	})
	require.NoError(t, err)

	// A wrong-length vector creates a collection-config conflict.
	_, err = svc.EnrollIdentity(ctx, Enrollment{
		TenantID: "T1", Name: "bob", Vector: make([]float32, 128),
	})
	require.ErrorIs(t, err, index.ErrDimensionMismatch)

	col, _ := reg.Collection("T1")
	assert.Equal(t, 1, col.Len(), "failed enroll must leave the index unchanged")
}

func TestLedgerFailureLeavesOrphanAndReportsPointID(t *testing.T) {
	ctx := context.Background()
	svc, reg, led := newTestService()

	led.failInsert = true
	_, err := svc.EnrollIdentity(ctx, Enrollment{
		TenantID: "T1", Name: "alice", Vector: vec512(0),
	})
	require.Error(t, err)

	var enrollErr *EnrollError
	require.ErrorAs(t, err, &enrollErr)
	require.NotEmpty(t, enrollErr.PointID)

	// The vector write is not rolled back: the orphan stays for the sweeper.
	col, ok := reg.Collection("T1")
	require.True(t, ok)
	assert.True(t, col.Has(enrollErr.PointID))

	// No ledger record was written.
	_, err = led.FindByPointID(ctx, enrollErr.PointID)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	// Retrying with the same point ID overwrites rather than duplicates.
	led.failInsert = false
	pointID, err := svc.EnrollIdentity(ctx, Enrollment{
		TenantID: "T1", Name: "alice", Vector: vec512(0), PointID: enrollErr.PointID,
	})
	require.NoError(t, err)
	assert.Equal(t, enrollErr.PointID, pointID)
	assert.Equal(t, 1, col.Len())
}

func TestDeterministicRankingOfDuplicates(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	p1, err := svc.EnrollIdentity(ctx, Enrollment{TenantID: "T1", Name: "alice", Vector: vec512(0)})
	require.NoError(t, err)
	p2, err := svc.EnrollIdentity(ctx, Enrollment{TenantID: "T1", Name: "twin", Vector: vec512(0)})
	require.NoError(t, err)

	matches, err := svc.SearchIdentity(ctx, "T1", vec512(0), 2, 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, p1, matches[0].PointID)
	assert.Equal(t, p2, matches[1].PointID)
	assert.Equal(t, matches[0].Score, matches[1].Score)
}

func TestMinScoreFilter(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	_, err := svc.EnrollIdentity(ctx, Enrollment{TenantID: "T1", Name: "alice", Vector: vec512(0)})
	require.NoError(t, err)
	_, err = svc.EnrollIdentity(ctx, Enrollment{TenantID: "T1", Name: "bob", Vector: vec512(1)})
	require.NoError(t, err)

	matches, err := svc.SearchIdentity(ctx, "T1", vec512(0), 10, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "alice", matches[0].Name)
}

func TestDeleteIdentity(t *testing.T) {
	ctx := context.Background()
	svc, reg, led := newTestService()

	pointID, err := svc.EnrollIdentity(ctx, Enrollment{TenantID: "T1", Name: "alice", Vector: vec512(0)})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteIdentity(ctx, "T1", pointID))

	col, _ := reg.Collection("T1")
	assert.False(t, col.Has(pointID))
	_, err = led.FindByPointID(ctx, pointID)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	// Deleting again is a no-op at the service layer.
	require.NoError(t, svc.DeleteIdentity(ctx, "T1", pointID))
}

func TestEndToEndScenario(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	p1, err := svc.EnrollIdentity(ctx, Enrollment{TenantID: "T1", Name: "alice", Vector: vec512(0), ImageHandle: "img1"})
	require.NoError(t, err)
	p2, err := svc.EnrollIdentity(ctx, Enrollment{TenantID: "T1", Name: "bob", Vector: vec512(1), ImageHandle: "img2"})
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)

	matches, err := svc.SearchIdentity(ctx, "T1", vec512(0), 1, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, p1, matches[0].PointID)
	assert.Equal(t, "alice", matches[0].Name)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)

	matches, err = svc.SearchIdentity(ctx, "T2", vec512(0), 1, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestEnrollWithPersistence(t *testing.T) {
	ctx := context.Background()
	reg := index.NewRegistry()
	store, err := index.NewSQLiteStore(t.TempDir() + "/index.db")
	require.NoError(t, err)
	defer store.Close()

	svc := NewService(reg, ledger.NewMemory(), store)
	pointID, err := svc.EnrollIdentity(ctx, Enrollment{TenantID: "T1", Name: "alice", Vector: vec512(0)})
	require.NoError(t, err)

	// A fresh registry restored from disk can serve the same search.
	restored := index.NewRegistry()
	require.NoError(t, store.LoadInto(ctx, restored))
	col, ok := restored.Collection("T1")
	require.True(t, ok)

	results, err := col.Query(vec512(0), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, pointID, results[0].ID)
}
