package commute_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/rentscout/internal/commute"
	"github.com/example/rentscout/internal/commute/cache"
	"github.com/example/rentscout/internal/listing/domain"
	"github.com/example/rentscout/internal/listing/repository"
	"github.com/example/rentscout/internal/maps"
)

var taipeiMain = domain.Coordinate{Lat: 25.0478, Lng: 121.5170}

type stubProvider struct {
	calls   int
	batches [][]domain.Coordinate
	fn      func(origins []domain.Coordinate) ([]maps.Result, error)
}

func (s *stubProvider) BatchDurations(_ context.Context, origins []domain.Coordinate, _ domain.Coordinate, _ string) ([]maps.Result, error) {
	s.calls++
	s.batches = append(s.batches, origins)
	if s.fn != nil {
		return s.fn(origins)
	}
	results := make([]maps.Result, len(origins))
	for i := range origins {
		results[i] = maps.Result{OK: true, DurationMinutes: 10 + i}
	}
	return results, nil
}

type stubClock struct{ t time.Time }

func (s stubClock) Now() time.Time { return s.t }

type failingStore struct{ domain.EntryStore }

func (failingStore) BulkGet(context.Context, string, []int64) (map[int64]domain.CommuteEntry, error) {
	return nil, errors.New("redis down")
}

func newFixture(t *testing.T, provider maps.Provider) (*commute.Service, *repository.MemoryRepository, *cache.MemoryStore) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	store := cache.NewMemoryStore(time.Hour)
	filter, err := commute.NewGeoFilter(repo, nil)
	require.NoError(t, err)
	// The memory store expires lazily against wall-clock time, so the stub
	// clock has to stay near it.
	svc, err := commute.NewService(filter, store, provider, stubClock{t: time.Now().UTC()}, nil, commute.Config{
		BatchPause: time.Millisecond,
	})
	require.NoError(t, err)
	return svc, repo, store
}

func seedListings(repo *repository.MemoryRepository, n int) []domain.Listing {
	listings := make([]domain.Listing, n)
	for i := 0; i < n; i++ {
		listings[i] = repo.Seed(domain.Listing{
			Title:    "apartment",
			Price:    15000 + i*1000,
			SizePing: 8,
			City:     "Taipei",
			Active:   true,
			Lat:      taipeiMain.Lat + float64(i)*0.001,
			Lng:      taipeiMain.Lng + float64(i)*0.001,
		})
	}
	return listings
}

func TestSearchColdThenWarm(t *testing.T) {
	provider := &stubProvider{}
	svc, repo, store := newFixture(t, provider)
	seedListings(repo, 3)

	req := commute.SearchRequest{Destination: taipeiMain, Mode: domain.ModeTransit, MaxMinutes: 30}
	resp, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Listings, 3)
	require.Equal(t, 1, provider.calls)
	require.Equal(t, 3, resp.Stats.Calculated)
	require.Zero(t, resp.Stats.CacheHits)
	require.False(t, resp.Listings[0].FromCache)

	entries, err := store.BulkGet(context.Background(), resp.DestinationHash, []int64{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	warm, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, warm.Listings, 3)
	require.Equal(t, 1, provider.calls, "warm search must not call the provider")
	require.Equal(t, 3, warm.Stats.CacheHits)
	require.True(t, warm.Listings[0].FromCache)
}

func TestSearchCacheSharedAcrossFilters(t *testing.T) {
	provider := &stubProvider{}
	svc, repo, _ := newFixture(t, provider)
	seedListings(repo, 4)

	base := commute.SearchRequest{Destination: taipeiMain, Mode: domain.ModeTransit, MaxMinutes: 60}
	_, err := svc.Search(context.Background(), base)
	require.NoError(t, err)
	require.Equal(t, 1, provider.calls)

	filtered := base
	filtered.Filters = domain.Filters{MaxPrice: 16000}
	resp, err := svc.Search(context.Background(), filtered)
	require.NoError(t, err)
	require.Equal(t, 1, provider.calls, "filtered search must reuse the shared cache")
	require.Len(t, resp.Listings, 2)
	require.Equal(t, 2, resp.Stats.CacheHits)
}

func TestSearchCachesUnreachableSentinel(t *testing.T) {
	provider := &stubProvider{fn: func(origins []domain.Coordinate) ([]maps.Result, error) {
		results := make([]maps.Result, len(origins))
		for i := range origins {
			results[i] = maps.Result{OK: true, DurationMinutes: 15}
		}
		results[1] = maps.Result{OK: false}
		return results, nil
	}}
	svc, repo, store := newFixture(t, provider)
	seedListings(repo, 3)

	req := commute.SearchRequest{Destination: taipeiMain, Mode: domain.ModeTransit, MaxMinutes: 120}
	resp, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Listings, 2, "unreachable listing stays out of results")

	entries, err := store.BulkGet(context.Background(), resp.DestinationHash, []int64{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, entries, 3, "sentinel must be cached alongside real durations")
	require.Equal(t, domain.UnreachableMinutes, entries[2].DurationMinutes)
	require.False(t, entries[2].Reachable())

	_, err = svc.Search(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, provider.calls, "cached sentinel must prevent re-query")
}

func TestSearchProviderFailureFallsBackToEstimates(t *testing.T) {
	provider := &stubProvider{fn: func([]domain.Coordinate) ([]maps.Result, error) {
		return nil, maps.ErrUnavailable
	}}
	svc, repo, store := newFixture(t, provider)
	seedListings(repo, 2)

	req := commute.SearchRequest{Destination: taipeiMain, Mode: domain.ModeTransit, MaxMinutes: 120}
	resp, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Listings, 2)
	require.Equal(t, 2, resp.Stats.Estimated)
	require.Zero(t, resp.Stats.Calculated)
	require.True(t, resp.Listings[0].Estimated)

	entries, err := store.BulkGet(context.Background(), resp.DestinationHash, []int64{1, 2})
	require.NoError(t, err)
	require.Empty(t, entries, "estimates must never be persisted")
}

func TestSearchNilProviderEstimatesEverything(t *testing.T) {
	svc, repo, _ := newFixture(t, nil)
	seedListings(repo, 2)

	resp, err := svc.Search(context.Background(), commute.SearchRequest{
		Destination: taipeiMain, Mode: domain.ModeWalking, MaxMinutes: 120,
	})
	require.NoError(t, err)
	require.Len(t, resp.Listings, 2)
	require.Equal(t, 2, resp.Stats.Estimated)
}

func TestSearchStoreFailureDegradesToEstimates(t *testing.T) {
	provider := &stubProvider{}
	repo := repository.NewMemoryRepository()
	filter, err := commute.NewGeoFilter(repo, nil)
	require.NoError(t, err)
	svc, err := commute.NewService(filter, failingStore{}, provider, nil, nil, commute.Config{BatchPause: time.Millisecond})
	require.NoError(t, err)
	seedListings(repo, 2)

	resp, err := svc.Search(context.Background(), commute.SearchRequest{
		Destination: taipeiMain, Mode: domain.ModeTransit, MaxMinutes: 120,
	})
	require.NoError(t, err, "a dead cache store must not fail the search")
	require.Len(t, resp.Listings, 2)
	require.Equal(t, 2, resp.Stats.Estimated)
	require.Zero(t, resp.Stats.Calculated)
	require.Zero(t, provider.calls, "no provider quota spent on results that cannot be persisted")
	require.True(t, resp.Listings[0].Estimated)
}

func TestSearchBatchesSequentiallyAndAlignsPositionally(t *testing.T) {
	provider := &stubProvider{}
	repo := repository.NewMemoryRepository()
	store := cache.NewMemoryStore(time.Hour)
	filter, err := commute.NewGeoFilter(repo, nil)
	require.NoError(t, err)
	svc, err := commute.NewService(filter, store, provider, nil, nil, commute.Config{
		BatchSize:  2,
		BatchPause: time.Millisecond,
	})
	require.NoError(t, err)
	listings := seedListings(repo, 5)

	resp, err := svc.Search(context.Background(), commute.SearchRequest{
		Destination: taipeiMain, Mode: domain.ModeTransit, MaxMinutes: 120,
	})
	require.NoError(t, err)
	require.Equal(t, 3, provider.calls)
	require.Len(t, provider.batches[0], 2)
	require.Len(t, provider.batches[2], 1)
	require.Equal(t, listings[0].Lat, provider.batches[0][0].Lat)
	require.Len(t, resp.Listings, 5)
}

func TestSearchSortsByCommuteTime(t *testing.T) {
	provider := &stubProvider{fn: func(origins []domain.Coordinate) ([]maps.Result, error) {
		durations := []int{25, 5, 15}
		results := make([]maps.Result, len(origins))
		for i := range origins {
			results[i] = maps.Result{OK: true, DurationMinutes: durations[i]}
		}
		return results, nil
	}}
	svc, repo, _ := newFixture(t, provider)
	seedListings(repo, 3)

	resp, err := svc.Search(context.Background(), commute.SearchRequest{
		Destination: taipeiMain, Mode: domain.ModeTransit, MaxMinutes: 30,
	})
	require.NoError(t, err)
	require.Len(t, resp.Listings, 3)
	require.Equal(t, []int{5, 15, 25}, []int{
		resp.Listings[0].CommuteTime,
		resp.Listings[1].CommuteTime,
		resp.Listings[2].CommuteTime,
	})
}

func TestSearchMaxMinutesFiltersResults(t *testing.T) {
	provider := &stubProvider{fn: func(origins []domain.Coordinate) ([]maps.Result, error) {
		durations := []int{10, 31, 30}
		results := make([]maps.Result, len(origins))
		for i := range origins {
			results[i] = maps.Result{OK: true, DurationMinutes: durations[i]}
		}
		return results, nil
	}}
	svc, repo, _ := newFixture(t, provider)
	seedListings(repo, 3)

	resp, err := svc.Search(context.Background(), commute.SearchRequest{
		Destination: taipeiMain, Mode: domain.ModeTransit, MaxMinutes: 30,
	})
	require.NoError(t, err)
	require.Len(t, resp.Listings, 2, "the 31-minute listing falls outside the window")
	require.Equal(t, 3, resp.Stats.Calculated, "all three durations are still cached")
}

func TestSearchRejectsInvalidInput(t *testing.T) {
	svc, repo, _ := newFixture(t, &stubProvider{})
	seedListings(repo, 1)

	cases := []commute.SearchRequest{
		{Destination: domain.Coordinate{Lat: 91, Lng: 0}, Mode: domain.ModeTransit, MaxMinutes: 30},
		{Destination: taipeiMain, Mode: "teleport", MaxMinutes: 30},
		{Destination: taipeiMain, Mode: domain.ModeTransit, MaxMinutes: 0},
		{Destination: taipeiMain, Mode: domain.ModeTransit, MaxMinutes: 30, RadiusKm: -1},
	}
	for _, req := range cases {
		_, err := svc.Search(context.Background(), req)
		require.Error(t, err)
	}
}

func TestTopDestinations(t *testing.T) {
	counts := map[string]int{
		"25.033,121.565:transit": 3,
		"25.047,121.517:transit": 9,
		"25.047,121.517:driving": 3,
	}
	stats := commute.TopDestinations(counts, 2)
	require.Len(t, stats, 2)
	require.Equal(t, "25.047,121.517:transit", stats[0].DestinationHash)
	require.Equal(t, 9, stats[0].EntryCount)
	require.Equal(t, "25.047,121.517:driving", stats[1].DestinationHash, "ties break by hash")
}
