// Package repository provides the listing store implementations: pgx-backed
// Postgres for production and an in-memory variant for tests and local
// demos.
package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/rentscout/internal/listing/domain"
)

// MemoryRepository implements domain.Repository in memory.
type MemoryRepository struct {
	mu       sync.RWMutex
	listings map[int64]domain.Listing
	nextID   int64
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{listings: make(map[int64]domain.Listing), nextID: 1}
}

// Seed inserts a listing directly, assigning an id (for tests).
func (m *MemoryRepository) Seed(listing domain.Listing) domain.Listing {
	m.mu.Lock()
	defer m.mu.Unlock()
	if listing.ID == 0 {
		listing.ID = m.nextID
		m.nextID++
	} else if listing.ID >= m.nextID {
		m.nextID = listing.ID + 1
	}
	m.listings[listing.ID] = listing
	return listing
}

// Get returns a listing by id (for tests).
func (m *MemoryRepository) Get(id int64) (domain.Listing, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	listing, ok := m.listings[id]
	return listing, ok
}

func (m *MemoryRepository) FindByBoundingBox(_ context.Context, box domain.BoundingBox, filters domain.Filters) ([]domain.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Listing
	for _, listing := range m.listings {
		if !listing.Active {
			continue
		}
		if listing.Lat < box.MinLat || listing.Lat > box.MaxLat ||
			listing.Lng < box.MinLng || listing.Lng > box.MaxLng {
			continue
		}
		if !matches(listing, filters) {
			continue
		}
		out = append(out, listing)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func matches(listing domain.Listing, filters domain.Filters) bool {
	if filters.MinPrice > 0 && listing.Price < filters.MinPrice {
		return false
	}
	if filters.MaxPrice > 0 && listing.Price > filters.MaxPrice {
		return false
	}
	if filters.MinSize > 0 && listing.SizePing < filters.MinSize {
		return false
	}
	if filters.City != "" && listing.City != filters.City {
		return false
	}
	if filters.District != "" && listing.District != filters.District {
		return false
	}
	return true
}

func (m *MemoryRepository) CountActive(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, listing := range m.listings {
		if listing.Active {
			count++
		}
	}
	return count, nil
}

func (m *MemoryRepository) ActiveIDs(_ context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []int64
	for id, listing := range m.listings {
		if listing.Active {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemoryRepository) UpsertBySource(_ context.Context, listing domain.Listing) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.listings {
		if existing.SourceID == listing.SourceID && existing.Source == listing.Source {
			listing.ID = id
			listing.CreatedAt = existing.CreatedAt
			m.listings[id] = listing
			return false, nil
		}
	}
	listing.ID = m.nextID
	m.nextID++
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = listing.LastUpdated
	}
	m.listings[listing.ID] = listing
	return true, nil
}

func (m *MemoryRepository) SetActiveBatch(_ context.Context, ids []int64, active bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var affected int64
	for _, id := range ids {
		listing, ok := m.listings[id]
		if !ok || listing.Active == active {
			continue
		}
		listing.Active = active
		m.listings[id] = listing
		affected++
	}
	return affected, nil
}

func (m *MemoryRepository) DeleteBatch(_ context.Context, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for _, id := range ids {
		if _, ok := m.listings[id]; ok {
			delete(m.listings, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryRepository) MarkAllInactive(_ context.Context, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var affected int64
	for id, listing := range m.listings {
		if !listing.Active {
			continue
		}
		listing.Active = false
		listing.LastUpdated = at
		m.listings[id] = listing
		affected++
	}
	return affected, nil
}

func (m *MemoryRepository) ReactivateDeactivatedAt(_ context.Context, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var affected int64
	for id, listing := range m.listings {
		if listing.Active || !listing.LastUpdated.Equal(at) {
			continue
		}
		listing.Active = true
		m.listings[id] = listing
		affected++
	}
	return affected, nil
}

func (m *MemoryRepository) ReactivateUpdatedAfter(_ context.Context, after time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var affected int64
	for id, listing := range m.listings {
		if listing.Active || !listing.LastUpdated.After(after) {
			continue
		}
		listing.Active = true
		m.listings[id] = listing
		affected++
	}
	return affected, nil
}

func (m *MemoryRepository) DeactivateCreatedSince(_ context.Context, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var affected int64
	for id, listing := range m.listings {
		if !listing.Active || listing.CreatedAt.Before(since) {
			continue
		}
		listing.Active = false
		m.listings[id] = listing
		affected++
	}
	return affected, nil
}

func (m *MemoryRepository) InactiveIDsUpdatedBefore(_ context.Context, cutoff time.Time) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []int64
	for id, listing := range m.listings {
		if !listing.Active && listing.LastUpdated.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
