// Package maintenance keeps the commute cache coherent as the listing set
// churns: purging entries for vanished listings, expiring stale entries,
// bookkeeping for cache seeding and coverage reporting.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/rentscout/internal/commute"
	"github.com/example/rentscout/internal/listing/domain"
)

// DefaultMaxAgeDays bounds entry age during daily maintenance.
const DefaultMaxAgeDays = 30

// defaultTopDestinations is how many popular destinations seeding considers.
const defaultTopDestinations = 5

// Service runs the maintenance operations. Each is independently invokable
// and safe to repeat; only the reported counts differ between runs.
type Service struct {
	repo   domain.Repository
	store  domain.EntryStore
	clock  domain.Clock
	logger *zap.Logger
}

// New constructs the maintainer.
func New(repo domain.Repository, store domain.EntryStore, clock domain.Clock, logger *zap.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("listing repository is required")
	}
	if store == nil {
		return nil, errors.New("entry store is required")
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, store: store, clock: clock, logger: logger}, nil
}

// PurgeInvalidEntries deletes cache rows whose listing is inactive or gone.
func (s *Service) PurgeInvalidEntries(ctx context.Context) (int, error) {
	referenced, err := s.store.ReferencedListingIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("referenced listings: %w", err)
	}
	if len(referenced) == 0 {
		return 0, nil
	}
	activeIDs, err := s.repo.ActiveIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("active ids: %w", err)
	}
	active := make(map[int64]struct{}, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = struct{}{}
	}

	var invalid []int64
	for id := range referenced {
		if _, ok := active[id]; !ok {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) == 0 {
		return 0, nil
	}
	deleted, err := s.store.DeleteForListings(ctx, invalid)
	if err != nil {
		return 0, fmt.Errorf("purge invalid entries: %w", err)
	}
	s.logger.Info("purged invalid cache entries", zap.Int("listings", len(invalid)), zap.Int("entries", deleted))
	return deleted, nil
}

// PurgeExpiredEntries deletes cache rows older than maxAgeDays.
func (s *Service) PurgeExpiredEntries(ctx context.Context, maxAgeDays int) (int, error) {
	if maxAgeDays <= 0 {
		return 0, fmt.Errorf("max age days must be positive, got %d", maxAgeDays)
	}
	cutoff := s.clock.Now().AddDate(0, 0, -maxAgeDays)
	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge expired entries: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("purged expired cache entries", zap.Int("entries", deleted), zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}

// SeedReport lists listings without cache coverage and the destinations
// worth pre-computing them against. Advisory bookkeeping only: the actual
// computation happens on the next real search.
type SeedReport struct {
	UncoveredListings int                      `json:"uncovered_listings"`
	CandidateIDs      []int64                  `json:"candidate_ids"`
	TopDestinations   []domain.DestinationStat `json:"top_destinations"`
}

// SeedForNewListings identifies up to limit active listings with zero cache
// coverage and the topN most-queried destination hashes.
func (s *Service) SeedForNewListings(ctx context.Context, limit, topN int) (SeedReport, error) {
	if limit <= 0 {
		limit = 100
	}
	if topN <= 0 {
		topN = defaultTopDestinations
	}

	activeIDs, err := s.repo.ActiveIDs(ctx)
	if err != nil {
		return SeedReport{}, fmt.Errorf("active ids: %w", err)
	}
	referenced, err := s.store.ReferencedListingIDs(ctx)
	if err != nil {
		return SeedReport{}, fmt.Errorf("referenced listings: %w", err)
	}

	report := SeedReport{}
	for _, id := range activeIDs {
		if referenced[id] > 0 {
			continue
		}
		report.UncoveredListings++
		if len(report.CandidateIDs) < limit {
			report.CandidateIDs = append(report.CandidateIDs, id)
		}
	}
	if report.UncoveredListings == 0 {
		return report, nil
	}

	counts, err := s.store.DestinationCounts(ctx)
	if err != nil {
		return report, fmt.Errorf("destination counts: %w", err)
	}
	report.TopDestinations = commute.TopDestinations(counts, topN)
	s.logger.Info("seed candidates identified",
		zap.Int("uncovered", report.UncoveredListings),
		zap.Int("destinations", len(report.TopDestinations)))
	return report, nil
}

// CoverageStats is the cache coverage summary.
type CoverageStats struct {
	TotalActiveListings int                      `json:"total_active_listings"`
	ListingsWithCache   int                      `json:"listings_with_cache"`
	CoveragePercent     float64                  `json:"coverage_percent"`
	TotalEntries        int                      `json:"total_entries"`
	UniqueDestinations  int                      `json:"unique_destinations"`
	PopularDestinations []domain.DestinationStat `json:"popular_destinations"`
}

// CoverageStatsReport computes coverage on demand.
func (s *Service) CoverageStatsReport(ctx context.Context) (CoverageStats, error) {
	total, err := s.repo.CountActive(ctx)
	if err != nil {
		return CoverageStats{}, fmt.Errorf("count active: %w", err)
	}
	activeIDs, err := s.repo.ActiveIDs(ctx)
	if err != nil {
		return CoverageStats{}, fmt.Errorf("active ids: %w", err)
	}
	referenced, err := s.store.ReferencedListingIDs(ctx)
	if err != nil {
		return CoverageStats{}, fmt.Errorf("referenced listings: %w", err)
	}
	counts, err := s.store.DestinationCounts(ctx)
	if err != nil {
		return CoverageStats{}, fmt.Errorf("destination counts: %w", err)
	}

	stats := CoverageStats{
		TotalActiveListings: total,
		UniqueDestinations:  len(counts),
		PopularDestinations: commute.TopDestinations(counts, 10),
	}
	for _, n := range counts {
		stats.TotalEntries += n
	}
	for _, id := range activeIDs {
		if referenced[id] > 0 {
			stats.ListingsWithCache++
		}
	}
	if total > 0 {
		stats.CoveragePercent = float64(stats.ListingsWithCache) / float64(total) * 100
	}
	return stats, nil
}

// Report combines the results of one daily maintenance run.
type Report struct {
	RunID         uuid.UUID     `json:"run_id"`
	StartedAt     time.Time     `json:"started_at"`
	InvalidPurged int           `json:"invalid_purged"`
	ExpiredPurged int           `json:"expired_purged"`
	Seed          SeedReport    `json:"seed"`
	Stats         CoverageStats `json:"stats"`
}

// DailyMaintenance runs purge-invalid, purge-expired(30), seeding and the
// coverage report, in that order. Designed to run once per ingestion cycle
// and safe to re-run.
func (s *Service) DailyMaintenance(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.New(), StartedAt: s.clock.Now()}
	log := s.logger.With(zap.String("run_id", report.RunID.String()))
	log.Info("daily maintenance started")

	var err error
	if report.InvalidPurged, err = s.PurgeInvalidEntries(ctx); err != nil {
		return report, err
	}
	if report.ExpiredPurged, err = s.PurgeExpiredEntries(ctx, DefaultMaxAgeDays); err != nil {
		return report, err
	}
	if report.Seed, err = s.SeedForNewListings(ctx, 100, defaultTopDestinations); err != nil {
		return report, err
	}
	if report.Stats, err = s.CoverageStatsReport(ctx); err != nil {
		return report, err
	}

	log.Info("daily maintenance finished",
		zap.Int("invalid_purged", report.InvalidPurged),
		zap.Int("expired_purged", report.ExpiredPurged),
		zap.Int("uncovered", report.Seed.UncoveredListings),
		zap.Float64("coverage_percent", report.Stats.CoveragePercent))
	return report, nil
}
