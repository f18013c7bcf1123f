// Package sweeper restores cross-store consistency between the vector
// index and the metadata ledger. Crashes or partial failures during
// enrollment leave orphaned vectors (indexed, no ledger record); data loss
// in the index leaves dangling ledger records. The sweeper computes the
// symmetric difference per tenant and repairs both sides.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"faceindex/internal/index"
	"faceindex/internal/ledger"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultGrace is how old an unrecorded vector must be before it is
	// treated as an orphan. Younger vectors may belong to an in-flight
	// enrollment whose ledger write has not landed yet.
	DefaultGrace = 5 * time.Minute

	// DefaultSchedule runs a full sweep every five minutes.
	DefaultSchedule = "@every 5m"

	// sweepTimeout bounds a single scheduled sweep.
	sweepTimeout = 2 * time.Minute

	// maxConcurrentTenants caps the per-tenant fan-out of a sweep.
	maxConcurrentTenants = 4
)

// PointDeleter removes persisted vectors alongside their in-memory copy.
// May be nil when the index is memory-only.
type PointDeleter interface {
	DeletePoint(ctx context.Context, pointID string) error
}

// Config controls sweep cadence and the orphan grace period.
type Config struct {
	Grace    time.Duration
	Schedule string
}

// DefaultConfig returns the default sweeper configuration.
func DefaultConfig() Config {
	return Config{Grace: DefaultGrace, Schedule: DefaultSchedule}
}

// Report summarizes one full sweep.
type Report struct {
	StartTime       time.Time     `json:"start_time"`
	Duration        time.Duration `json:"duration"`
	TenantsSwept    int           `json:"tenants_swept"`
	OrphansRemoved  int           `json:"orphans_removed"`
	DataLossRecords int           `json:"data_loss_records"`
}

// Sweeper walks every tenant and repairs index/ledger divergence.
type Sweeper struct {
	registry *index.Registry
	ledger   ledger.Store
	deleter  PointDeleter
	cfg      Config
	logger   *log.Logger
	cron     *cron.Cron

	mu      sync.Mutex
	running bool

	now func() time.Time // injectable for tests
}

// New creates a sweeper. deleter may be nil; logger defaults to the
// standard logger.
func New(registry *index.Registry, led ledger.Store, deleter PointDeleter, cfg Config, logger *log.Logger) *Sweeper {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Sweeper{
		registry: registry,
		ledger:   led,
		deleter:  deleter,
		cfg:      cfg,
		logger:   logger,
		cron:     cron.New(),
		now:      time.Now,
	}
}

// Start schedules periodic sweeps. Call Stop to terminate them.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("sweeper: already running")
	}

	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		report, err := s.SweepAll(ctx)
		if err != nil {
			s.logger.Printf("sweeper: scheduled sweep failed: %v", err)
			return
		}
		if report.OrphansRemoved > 0 || report.DataLossRecords > 0 {
			s.logger.Printf("sweeper: swept %d tenants, removed %d orphans, repaired %d data-loss records in %v",
				report.TenantsSwept, report.OrphansRemoved, report.DataLossRecords, report.Duration)
		}
	})
	if err != nil {
		return fmt.Errorf("sweeper: schedule %q: %w", s.cfg.Schedule, err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Printf("sweeper: started with schedule %s, grace %v", s.cfg.Schedule, s.cfg.Grace)
	return nil
}

// Stop cancels the periodic sweeps and waits for a running one to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
}

// SweepAll reconciles every tenant known to either store and returns a
// summary. Tenants present only in the ledger are included so that records
// whose collection disappeared entirely are still repaired.
func (s *Sweeper) SweepAll(ctx context.Context) (*Report, error) {
	report := &Report{StartTime: s.now()}

	ledgerTenants, err := s.ledger.Tenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweeper: list ledger tenants: %w", err)
	}
	tenants := unionTenants(s.registry.Tenants(), ledgerTenants)
	report.TenantsSwept = len(tenants)

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentTenants)

	for _, tenant := range tenants {
		tenant := tenant
		g.Go(func() error {
			orphans, losses, err := s.sweepTenant(ctx, tenant)
			if err != nil {
				return err
			}
			mu.Lock()
			report.OrphansRemoved += orphans
			report.DataLossRecords += losses
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	report.Duration = s.now().Sub(report.StartTime)
	return report, nil
}

// sweepTenant computes the symmetric difference between the tenant's
// indexed points and ledger records by point ID and repairs both sides.
func (s *Sweeper) sweepTenant(ctx context.Context, tenant string) (orphans, losses int, err error) {
	records, err := s.ledger.ListByTenant(ctx, tenant)
	if err != nil {
		return 0, 0, fmt.Errorf("sweeper: list records for tenant %s: %w", tenant, err)
	}
	recorded := make(map[string]bool, len(records))
	for _, rec := range records {
		recorded[rec.PointID] = true
	}

	var points []index.Point
	col, hasCollection := s.registry.Collection(tenant)
	if hasCollection {
		points = col.Points()
	}
	indexed := make(map[string]bool, len(points))
	for _, p := range points {
		indexed[p.ID] = true
	}

	// Vector present, ledger absent: an orphaned enrollment. Respect the
	// grace period so in-flight enrollments are not raced.
	cutoff := s.now().Add(-s.cfg.Grace)
	for _, p := range points {
		if recorded[p.ID] || p.CreatedAt.After(cutoff) {
			continue
		}
		if err := col.Delete(p.ID); err != nil && !errors.Is(err, index.ErrNotFound) {
			return orphans, losses, fmt.Errorf("sweeper: delete orphan %s for tenant %s: %w", p.ID, tenant, err)
		}
		if s.deleter != nil {
			if err := s.deleter.DeletePoint(ctx, p.ID); err != nil {
				return orphans, losses, err
			}
		}
		orphans++
		s.logger.Printf("sweeper: removed orphaned vector %s for tenant %s", p.ID, tenant)
	}

	// Ledger present, vector absent: the index lost data. Delete the
	// record and report it; never fabricate a vector.
	for _, rec := range records {
		if indexed[rec.PointID] {
			continue
		}
		if err := s.ledger.DeleteByPointID(ctx, rec.PointID); err != nil {
			return orphans, losses, fmt.Errorf("sweeper: delete dangling record %s for tenant %s: %w", rec.PointID, tenant, err)
		}
		losses++
		s.logger.Printf("sweeper: data loss: ledger record %s (tenant %s, name %q) had no backing vector",
			rec.PointID, tenant, rec.DisplayName)
	}

	return orphans, losses, nil
}

func unionTenants(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, tenant := range list {
			if !seen[tenant] {
				seen[tenant] = true
				out = append(out, tenant)
			}
		}
	}
	sort.Strings(out)
	return out
}
