// Package cache stores commute durations keyed by (destination hash,
// listing). The redis implementation is the production store; the memory
// implementation backs tests and redis-less local runs.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/rentscout/internal/listing/domain"
)

const defaultKeyPrefix = "commute:"

// DefaultTTL keeps entries for a week, matching the raw provider-response
// cache.
const DefaultTTL = 7 * 24 * time.Hour

// RedisStore implements domain.EntryStore on redis. Keys look like
// "commute:25.033,121.565:transit:42"; the listing id is the final segment,
// everything between prefix and the last colon is the destination hash.
type RedisStore struct {
	client    redis.Cmdable
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisStore constructs the store. prefix defaults to "commute:", ttl to
// DefaultTTL, logger to a no-op.
func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, keyPrefix: prefix, ttl: ttl, logger: logger}
}

func (s *RedisStore) key(destinationHash string, listingID int64) string {
	return s.keyPrefix + destinationHash + ":" + strconv.FormatInt(listingID, 10)
}

// parseKey splits a store key back into destination hash and listing id.
func (s *RedisStore) parseKey(key string) (string, int64, bool) {
	rest := strings.TrimPrefix(key, s.keyPrefix)
	idx := strings.LastIndexByte(rest, ':')
	if idx < 0 {
		return "", 0, false
	}
	id, err := strconv.ParseInt(rest[idx+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return rest[:idx], id, true
}

// BulkGet fetches entries for all listingIDs under one destination hash in a
// single MGET. Missing ids are simply absent from the result map.
func (s *RedisStore) BulkGet(ctx context.Context, destinationHash string, listingIDs []int64) (map[int64]domain.CommuteEntry, error) {
	if len(listingIDs) == 0 {
		return map[int64]domain.CommuteEntry{}, nil
	}
	keys := make([]string, len(listingIDs))
	for i, id := range listingIDs {
		keys[i] = s.key(destinationHash, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	entries := make(map[int64]domain.CommuteEntry, len(values))
	for i, raw := range values {
		if raw == nil {
			continue
		}
		payload, ok := raw.(string)
		if !ok {
			continue
		}
		var entry domain.CommuteEntry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			s.logger.Warn("dropping undecodable cache entry", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		entries[entry.ListingID] = entry
	}
	return entries, nil
}

// PutBatch writes entries in one pipeline, each with the store TTL.
func (s *RedisStore) PutBatch(ctx context.Context, entries []domain.CommuteEntry) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, entry := range entries {
		payload, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		pipe.Set(ctx, s.key(entry.DestinationHash, entry.ListingID), payload, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline exec: %w", err)
	}
	return nil
}

// DeleteForListings removes every entry referencing any of listingIDs,
// across all destinations.
func (s *RedisStore) DeleteForListings(ctx context.Context, listingIDs []int64) (int, error) {
	if len(listingIDs) == 0 {
		return 0, nil
	}
	victims := make(map[int64]struct{}, len(listingIDs))
	for _, id := range listingIDs {
		victims[id] = struct{}{}
	}

	var toDelete []string
	if err := s.scanKeys(ctx, func(key string) error {
		if _, id, ok := s.parseKey(key); ok {
			if _, hit := victims[id]; hit {
				toDelete = append(toDelete, key)
			}
		}
		return nil
	}); err != nil {
		return 0, err
	}
	return s.deleteKeys(ctx, toDelete)
}

// DeleteOlderThan removes entries whose UpdatedAt is before cutoff.
func (s *RedisStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var keys []string
	if err := s.scanKeys(ctx, func(key string) error {
		keys = append(keys, key)
		return nil
	}); err != nil {
		return 0, err
	}

	var toDelete []string
	for start := 0; start < len(keys); start += 500 {
		end := start + 500
		if end > len(keys) {
			end = len(keys)
		}
		values, err := s.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return 0, fmt.Errorf("redis mget: %w", err)
		}
		for i, raw := range values {
			payload, ok := raw.(string)
			if !ok {
				continue
			}
			var entry domain.CommuteEntry
			if err := json.Unmarshal([]byte(payload), &entry); err != nil {
				continue
			}
			if entry.UpdatedAt.Before(cutoff) {
				toDelete = append(toDelete, keys[start+i])
			}
		}
	}
	return s.deleteKeys(ctx, toDelete)
}

// ReferencedListingIDs counts entries per listing across all destinations.
func (s *RedisStore) ReferencedListingIDs(ctx context.Context) (map[int64]int, error) {
	counts := make(map[int64]int)
	err := s.scanKeys(ctx, func(key string) error {
		if _, id, ok := s.parseKey(key); ok {
			counts[id]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// DestinationCounts counts entries per destination hash.
func (s *RedisStore) DestinationCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	err := s.scanKeys(ctx, func(key string) error {
		if hash, _, ok := s.parseKey(key); ok {
			counts[hash]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *RedisStore) scanKeys(ctx context.Context, fn func(key string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.keyPrefix+"*", 500).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		for _, key := range keys {
			if err := fn(key); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (s *RedisStore) deleteKeys(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	deleted, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return int(deleted), nil
}
