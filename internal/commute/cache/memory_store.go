package cache

import (
	"context"
	"sync"
	"time"

	"github.com/example/rentscout/internal/listing/domain"
)

// MemoryStore is an in-memory domain.EntryStore for tests and redis-less
// local runs. TTL is honored lazily on read.
type MemoryStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]map[int64]domain.CommuteEntry // destinationHash -> listingID -> entry
}

// NewMemoryStore constructs an empty store. ttl defaults to DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, entries: make(map[string]map[int64]domain.CommuteEntry)}
}

func (m *MemoryStore) BulkGet(_ context.Context, destinationHash string, listingIDs []int64) (map[int64]domain.CommuteEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]domain.CommuteEntry)
	byListing := m.entries[destinationHash]
	now := time.Now()
	for _, id := range listingIDs {
		entry, ok := byListing[id]
		if !ok || now.Sub(entry.UpdatedAt) > m.ttl {
			continue
		}
		out[id] = entry
	}
	return out, nil
}

func (m *MemoryStore) PutBatch(_ context.Context, entries []domain.CommuteEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range entries {
		byListing, ok := m.entries[entry.DestinationHash]
		if !ok {
			byListing = make(map[int64]domain.CommuteEntry)
			m.entries[entry.DestinationHash] = byListing
		}
		byListing[entry.ListingID] = entry
	}
	return nil
}

func (m *MemoryStore) DeleteForListings(_ context.Context, listingIDs []int64) (int, error) {
	victims := make(map[int64]struct{}, len(listingIDs))
	for _, id := range listingIDs {
		victims[id] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for hash, byListing := range m.entries {
		for id := range byListing {
			if _, hit := victims[id]; hit {
				delete(byListing, id)
				deleted++
			}
		}
		if len(byListing) == 0 {
			delete(m.entries, hash)
		}
	}
	return deleted, nil
}

func (m *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for hash, byListing := range m.entries {
		for id, entry := range byListing {
			if entry.UpdatedAt.Before(cutoff) {
				delete(byListing, id)
				deleted++
			}
		}
		if len(byListing) == 0 {
			delete(m.entries, hash)
		}
	}
	return deleted, nil
}

func (m *MemoryStore) ReferencedListingIDs(_ context.Context) (map[int64]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[int64]int)
	for _, byListing := range m.entries {
		for id := range byListing {
			counts[id]++
		}
	}
	return counts, nil
}

func (m *MemoryStore) DestinationCounts(_ context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	for hash, byListing := range m.entries {
		if len(byListing) > 0 {
			counts[hash] = len(byListing)
		}
	}
	return counts, nil
}
