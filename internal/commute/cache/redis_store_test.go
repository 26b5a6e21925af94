package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/rentscout/internal/commute/cache"
	"github.com/example/rentscout/internal/listing/domain"
)

func newTestStore(t *testing.T) (*cache.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return cache.NewRedisStore(client, "", time.Hour, nil), mr
}

func entry(listingID int64, hash string, minutes int, updatedAt time.Time) domain.CommuteEntry {
	return domain.CommuteEntry{
		ListingID:       listingID,
		DestinationHash: hash,
		DurationMinutes: minutes,
		UpdatedAt:       updatedAt,
	}
}

func TestPutBatchThenBulkGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	hash := "25.047,121.517:transit"

	err := store.PutBatch(ctx, []domain.CommuteEntry{
		entry(1, hash, 12, now),
		entry(2, hash, domain.UnreachableMinutes, now),
	})
	require.NoError(t, err)

	entries, err := store.BulkGet(ctx, hash, []int64{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, entries, 2, "listing 3 has no entry")
	require.Equal(t, 12, entries[1].DurationMinutes)
	require.False(t, entries[2].Reachable())
	require.True(t, entries[1].UpdatedAt.Equal(now))
}

func TestBulkGetIgnoresOtherDestinations(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.PutBatch(ctx, []domain.CommuteEntry{
		entry(1, "25.047,121.517:transit", 10, now),
		entry(1, "25.047,121.517:driving", 5, now),
	}))

	entries, err := store.BulkGet(ctx, "25.047,121.517:transit", []int64{1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 10, entries[1].DurationMinutes)
}

func TestEntriesExpire(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutBatch(ctx, []domain.CommuteEntry{
		entry(1, "25.047,121.517:transit", 10, time.Now().UTC()),
	}))
	mr.FastForward(2 * time.Hour)

	entries, err := store.BulkGet(ctx, "25.047,121.517:transit", []int64{1})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestDeleteForListings(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.PutBatch(ctx, []domain.CommuteEntry{
		entry(1, "25.047,121.517:transit", 10, now),
		entry(1, "25.033,121.565:transit", 20, now),
		entry(2, "25.047,121.517:transit", 15, now),
	}))

	deleted, err := store.DeleteForListings(ctx, []int64{1})
	require.NoError(t, err)
	require.Equal(t, 2, deleted, "listing 1 entries go across all destinations")

	entries, err := store.BulkGet(ctx, "25.047,121.517:transit", []int64{1, 2})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries, int64(2))
}

func TestDeleteOlderThan(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.PutBatch(ctx, []domain.CommuteEntry{
		entry(1, "25.047,121.517:transit", 10, now.AddDate(0, 0, -40)),
		entry(2, "25.047,121.517:transit", 15, now),
	}))

	deleted, err := store.DeleteOlderThan(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	entries, err := store.BulkGet(ctx, "25.047,121.517:transit", []int64{1, 2})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries, int64(2))
}

func TestReferencedListingIDsAndDestinationCounts(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.PutBatch(ctx, []domain.CommuteEntry{
		entry(1, "25.047,121.517:transit", 10, now),
		entry(1, "25.033,121.565:transit", 20, now),
		entry(2, "25.047,121.517:transit", 15, now),
	}))

	referenced, err := store.ReferencedListingIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, map[int64]int{1: 2, 2: 1}, referenced)

	counts, err := store.DestinationCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int{
		"25.047,121.517:transit": 2,
		"25.033,121.565:transit": 1,
	}, counts)
}
