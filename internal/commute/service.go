// Package commute implements the cache-aside search at the heart of the
// engine: geographic pre-filter, bulk cache read, batched provider calls for
// the misses, merge and sort.
package commute

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/rentscout/internal/geo"
	"github.com/example/rentscout/internal/listing/domain"
	"github.com/example/rentscout/internal/maps"
)

// Config tunes the search pipeline. Zero values are replaced with the
// defaults below.
type Config struct {
	// Precision is the quantization cell size in degrees for destination
	// hashes.
	Precision float64
	// BatchSize caps origins per provider call, at most maps.MaxBatchSize.
	BatchSize int
	// BatchPause is the delay between consecutive provider batches.
	BatchPause time.Duration
	// DefaultRadiusKm is used when a search does not specify a radius.
	DefaultRadiusKm float64
}

// Service answers "which nearby listings are within N minutes of destination
// D" using the cache-aside pattern. Cache keys carry no filter state, so
// differently-filtered searches to the same quantized destination share
// every entry.
type Service struct {
	filter    *GeoFilter
	store     domain.EntryStore
	provider  maps.Provider
	estimator maps.Provider
	clock     domain.Clock
	logger    *zap.Logger
	tracer    trace.Tracer
	cfg       Config
}

// NewService wires the orchestrator. provider may be nil, in which case
// every duration is estimated locally and nothing is persisted.
func NewService(filter *GeoFilter, store domain.EntryStore, provider maps.Provider, clock domain.Clock, logger *zap.Logger, cfg Config) (*Service, error) {
	if filter == nil {
		return nil, errors.New("geo filter is required")
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
	if cfg.Precision <= 0 {
		cfg.Precision = geo.DefaultPrecision
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > maps.MaxBatchSize {
		cfg.BatchSize = maps.MaxBatchSize
	}
	if cfg.BatchPause <= 0 {
		cfg.BatchPause = 100 * time.Millisecond
	}
	if cfg.DefaultRadiusKm <= 0 {
		cfg.DefaultRadiusKm = 5
	}
	return &Service{
		filter:    filter,
		store:     store,
		provider:  provider,
		estimator: maps.Estimator{},
		clock:     clock,
		logger:    logger,
		tracer:    otel.Tracer("commute.search"),
		cfg:       cfg,
	}, nil
}

// SearchRequest is the validated input to Search. Boundary layers are
// responsible for collapsing their destination shapes into Coordinate.
type SearchRequest struct {
	Destination domain.Coordinate
	Mode        string
	MaxMinutes  int
	RadiusKm    float64
	Filters     domain.Filters
}

// ListingWithCommute is one search hit. Coordinates are [lng, lat].
type ListingWithCommute struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	Price           int        `json:"price"`
	SizePing        float64    `json:"size_ping"`
	Address         string     `json:"address"`
	District        string     `json:"district"`
	City            string     `json:"city"`
	Coordinates     [2]float64 `json:"coordinates"`
	CommuteTime     int        `json:"commute_time"`
	CommuteDistance *float64   `json:"commute_distance,omitempty"`
	FromCache       bool       `json:"from_cache"`
	Estimated       bool       `json:"estimated"`
}

// CacheStats reports hit/miss behavior for one search, for observability.
type CacheStats struct {
	CacheHits  int `json:"cached_count"`
	Calculated int `json:"calculated_count"`
	Estimated  int `json:"estimated_count"`
}

// SearchResponse carries the hits sorted ascending by commute time.
type SearchResponse struct {
	Listings        []ListingWithCommute `json:"listings"`
	Stats           CacheStats           `json:"cache_stats"`
	DestinationHash string               `json:"destination_hash"`
}

// Search runs the cache-aside pipeline. It returns a (possibly empty or
// partially estimated) result set for every recoverable failure; only
// invalid input and repository errors surface.
func (s *Service) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "commute.search")
	defer span.End()

	if err := validate(&req, s.cfg.DefaultRadiusKm); err != nil {
		searchDuration.WithLabelValues("invalid").Observe(time.Since(started).Seconds())
		return SearchResponse{}, err
	}

	hash := geo.DestinationHash(req.Destination, req.Mode, s.cfg.Precision)
	resp := SearchResponse{DestinationHash: hash, Listings: []ListingWithCommute{}}

	candidates, err := s.filter.FindCandidates(ctx, req.Destination, req.RadiusKm, req.Filters)
	if err != nil {
		searchDuration.WithLabelValues("error").Observe(time.Since(started).Seconds())
		return SearchResponse{}, err
	}
	if len(candidates) == 0 {
		searchDuration.WithLabelValues("empty").Observe(time.Since(started).Seconds())
		return resp, nil
	}

	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}

	// Cache-store failures degrade the search to estimator-only mode rather
	// than failing it.
	storeDown := false
	cached, err := s.store.BulkGet(ctx, hash, ids)
	if err != nil {
		s.logger.Warn("cache bulk read failed, continuing with estimates", zap.Error(err))
		cached = map[int64]domain.CommuteEntry{}
		storeDown = true
	}

	var uncached []domain.Listing
	for _, candidate := range candidates {
		entry, hit := cached[candidate.ID]
		if !hit {
			uncached = append(uncached, candidate)
			continue
		}
		resp.Stats.CacheHits++
		cacheHitsTotal.Inc()
		if entry.Reachable() && entry.DurationMinutes <= req.MaxMinutes {
			resp.Listings = append(resp.Listings, hit2result(candidate, entry.DurationMinutes, entry.DistanceKm, true, false))
		}
	}
	cacheMissesTotal.Add(float64(len(uncached)))

	if len(uncached) > 0 {
		if err := s.computeMisses(ctx, &resp, req, hash, uncached, storeDown); err != nil {
			searchDuration.WithLabelValues("error").Observe(time.Since(started).Seconds())
			return SearchResponse{}, err
		}
	}

	sort.Slice(resp.Listings, func(i, j int) bool {
		if resp.Listings[i].CommuteTime != resp.Listings[j].CommuteTime {
			return resp.Listings[i].CommuteTime < resp.Listings[j].CommuteTime
		}
		return resp.Listings[i].ID < resp.Listings[j].ID
	})

	s.logger.Info("commute search done",
		zap.String("destination_hash", hash),
		zap.Int("candidates", len(candidates)),
		zap.Int("cache_hits", resp.Stats.CacheHits),
		zap.Int("calculated", resp.Stats.Calculated),
		zap.Int("estimated", resp.Stats.Estimated),
		zap.Int("results", len(resp.Listings)))
	searchDuration.WithLabelValues("ok").Observe(time.Since(started).Seconds())
	return resp, nil
}

// computeMisses resolves durations for listings without a cache entry, in
// provider-capped sequential batches with a pause in between. Each uncached
// listing triggers at most one provider call per search. Once the provider
// reports total failure the remaining batches are estimated locally; those
// estimates are returned but never persisted. With the store down the whole
// search runs estimator-only: provider results could not be persisted, so
// spending quota on them would only be repeated next call.
func (s *Service) computeMisses(ctx context.Context, resp *SearchResponse, req SearchRequest, hash string, uncached []domain.Listing, storeDown bool) error {
	providerDown := s.provider == nil || storeDown

	for start := 0; start < len(uncached); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(uncached) {
			end = len(uncached)
		}
		batch := uncached[start:end]

		origins := make([]domain.Coordinate, len(batch))
		for i, listing := range batch {
			origins[i] = domain.Coordinate{Lat: listing.Lat, Lng: listing.Lng}
		}

		var results []maps.Result
		estimated := providerDown
		if !providerDown {
			var err error
			batchCtx, span := s.tracer.Start(ctx, "commute.provider_batch")
			results, err = s.provider.BatchDurations(batchCtx, origins, req.Destination, req.Mode)
			span.End()
			if err != nil {
				s.logger.Warn("provider batch failed, switching to local estimates", zap.Error(err))
				providerDown = true
				estimated = true
			} else {
				distanceBatchesTotal.WithLabelValues("provider").Inc()
			}
		}
		if estimated {
			// Estimator cannot fail.
			results, _ = s.estimator.BatchDurations(ctx, origins, req.Destination, req.Mode)
			distanceBatchesTotal.WithLabelValues("estimator").Inc()
		}
		if len(results) != len(batch) {
			return fmt.Errorf("provider returned %d results for %d origins", len(results), len(batch))
		}

		now := s.clock.Now()
		entries := make([]domain.CommuteEntry, 0, len(batch))
		for i, listing := range batch {
			result := results[i]
			if estimated {
				resp.Stats.Estimated++
				if result.DurationMinutes <= req.MaxMinutes {
					resp.Listings = append(resp.Listings, hit2result(listing, result.DurationMinutes, result.DistanceKm, false, true))
				}
				continue
			}
			resp.Stats.Calculated++
			entry := domain.CommuteEntry{
				ListingID:       listing.ID,
				DestinationHash: hash,
				DurationMinutes: domain.UnreachableMinutes,
				UpdatedAt:       now,
			}
			if result.OK {
				entry.DurationMinutes = result.DurationMinutes
				entry.DistanceKm = result.DistanceKm
				if result.DurationMinutes <= req.MaxMinutes {
					resp.Listings = append(resp.Listings, hit2result(listing, result.DurationMinutes, result.DistanceKm, false, false))
				}
			}
			entries = append(entries, entry)
		}

		// Cache writes are fire-and-tolerate-failure: the in-memory result
		// is returned either way. Unreachable sentinels are cached too so
		// failed origins are not re-queried every search.
		if !storeDown && len(entries) > 0 {
			if err := s.store.PutBatch(ctx, entries); err != nil {
				s.logger.Warn("cache write failed", zap.Error(err), zap.Int("entries", len(entries)))
			}
		}

		if end < len(uncached) {
			select {
			case <-time.After(s.cfg.BatchPause):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// PopularDestinations returns the top destination hashes by entry count.
func (s *Service) PopularDestinations(ctx context.Context, limit int) ([]domain.DestinationStat, error) {
	counts, err := s.store.DestinationCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("destination counts: %w", err)
	}
	return TopDestinations(counts, limit), nil
}

// TopDestinations sorts destination entry counts descending and keeps the
// first n, breaking count ties by hash for deterministic output.
func TopDestinations(counts map[string]int, n int) []domain.DestinationStat {
	stats := make([]domain.DestinationStat, 0, len(counts))
	for hash, count := range counts {
		stats = append(stats, domain.DestinationStat{DestinationHash: hash, EntryCount: count})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].EntryCount != stats[j].EntryCount {
			return stats[i].EntryCount > stats[j].EntryCount
		}
		return stats[i].DestinationHash < stats[j].DestinationHash
	})
	if n > 0 && len(stats) > n {
		stats = stats[:n]
	}
	return stats
}

func validate(req *SearchRequest, defaultRadiusKm float64) error {
	if !req.Destination.Valid() {
		return fmt.Errorf("destination out of range (%f, %f)", req.Destination.Lat, req.Destination.Lng)
	}
	if !domain.ValidMode(req.Mode) {
		return fmt.Errorf("unsupported mode %q", req.Mode)
	}
	if req.MaxMinutes <= 0 {
		return fmt.Errorf("max minutes must be positive, got %d", req.MaxMinutes)
	}
	if req.RadiusKm < 0 {
		return fmt.Errorf("radius must not be negative, got %f", req.RadiusKm)
	}
	if req.RadiusKm == 0 {
		req.RadiusKm = defaultRadiusKm
	}
	return nil
}

func hit2result(listing domain.Listing, minutes int, distanceKm *float64, fromCache, estimated bool) ListingWithCommute {
	return ListingWithCommute{
		ID:              listing.ID,
		Title:           listing.Title,
		Price:           listing.Price,
		SizePing:        listing.SizePing,
		Address:         listing.Address,
		District:        listing.District,
		City:            listing.City,
		Coordinates:     [2]float64{listing.Lng, listing.Lat},
		CommuteTime:     minutes,
		CommuteDistance: distanceKm,
		FromCache:       fromCache,
		Estimated:       estimated,
	}
}
