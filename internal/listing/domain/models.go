package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Transit modes accepted by the search and provider layers.
const (
	ModeDriving   = "driving"
	ModeTransit   = "transit"
	ModeWalking   = "walking"
	ModeBicycling = "bicycling"
)

// ValidMode reports whether mode is one of the supported transit modes.
func ValidMode(mode string) bool {
	switch mode {
	case ModeDriving, ModeTransit, ModeWalking, ModeBicycling:
		return true
	}
	return false
}

// UnreachableMinutes is the sentinel duration cached when the distance
// provider cannot compute a route for an origin. Entries carrying it are
// treated as unreachable and never match a time budget.
const UnreachableMinutes = 999

var ErrNotFound = errors.New("listing not found")

// Coordinate is the single internal shape for a geographic point. Boundary
// layers collapse whatever they accept into this before the core sees it.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is inside WGS84 bounds.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Listing is a rental listing row. (SourceID, Source) is unique across all
// rows, active or not. Active is toggled by refresh cycles; rows are
// hard-deleted only by the retention sweep.
type Listing struct {
	ID          int64
	SourceID    string
	Source      string
	URL         string
	Title       string
	Price       int
	SizePing    float64
	Address     string
	District    string
	City        string
	Lat         float64
	Lng         float64
	Active      bool
	LastUpdated time.Time
	CreatedAt   time.Time
}

// Filters narrows the candidate set. Zero values mean "not set". Filters are
// applied to candidate selection only, never to cache keys.
type Filters struct {
	MinPrice int
	MaxPrice int
	MinSize  float64
	City     string
	District string
}

// BoundingBox is an axis-aligned lat/lng range used for the cheap geographic
// pre-filter. It is not a circle: callers must not assume members are within
// the requested radius by great-circle distance.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// Repository is the listing store consumed by the engine.
type Repository interface {
	// FindByBoundingBox returns active listings inside box matching filters.
	FindByBoundingBox(ctx context.Context, box BoundingBox, filters Filters) ([]Listing, error)
	CountActive(ctx context.Context) (int, error)
	// ActiveIDs returns the ids of every active listing.
	ActiveIDs(ctx context.Context) ([]int64, error)
	// UpsertBySource inserts or updates the row identified by
	// (listing.SourceID, listing.Source) and reports whether a new row was
	// created.
	UpsertBySource(ctx context.Context, listing Listing) (created bool, err error)
	SetActiveBatch(ctx context.Context, ids []int64, active bool) (int64, error)
	DeleteBatch(ctx context.Context, ids []int64) (int64, error)

	// Refresh-cycle support. MarkAllInactive stamps every active row
	// inactive with updatedAt = at; ReactivateDeactivatedAt reverses exactly
	// that stamp, DeactivateCreatedSince demotes rows created by a failed
	// cycle.
	MarkAllInactive(ctx context.Context, at time.Time) (int64, error)
	ReactivateDeactivatedAt(ctx context.Context, at time.Time) (int64, error)
	// ReactivateUpdatedAfter reconciles rows the import touched but left
	// inactive. Strictly after: rows stamped by MarkAllInactive itself must
	// not match.
	ReactivateUpdatedAfter(ctx context.Context, after time.Time) (int64, error)
	DeactivateCreatedSince(ctx context.Context, since time.Time) (int64, error)
	// InactiveIDsUpdatedBefore returns inactive rows last touched before
	// cutoff, for the retention sweep.
	InactiveIDsUpdatedBefore(ctx context.Context, cutoff time.Time) ([]int64, error)
}

// CommuteEntry is one cached (destination hash, listing) duration.
// DurationMinutes is always >= 0; UnreachableMinutes marks provider failures
// so they are cached too and not re-queried every search.
type CommuteEntry struct {
	ListingID       int64     `json:"listing_id"`
	DestinationHash string    `json:"destination_hash"`
	DurationMinutes int       `json:"duration_minutes"`
	DistanceKm      *float64  `json:"distance_km,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Reachable reports whether the entry carries a real duration rather than
// the unreachable sentinel.
func (e CommuteEntry) Reachable() bool {
	return e.DurationMinutes < UnreachableMinutes
}

// EntryStore is the key-value commute cache. Writes carry a TTL owned by the
// implementation; all operations are safe to call concurrently.
type EntryStore interface {
	BulkGet(ctx context.Context, destinationHash string, listingIDs []int64) (map[int64]CommuteEntry, error)
	PutBatch(ctx context.Context, entries []CommuteEntry) error
	DeleteForListings(ctx context.Context, listingIDs []int64) (int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	// ReferencedListingIDs maps every listing id that has at least one cache
	// entry to its entry count.
	ReferencedListingIDs(ctx context.Context) (map[int64]int, error)
	// DestinationCounts maps destination hashes to their entry counts.
	DestinationCounts(ctx context.Context) (map[string]int, error)
}

// DestinationStat is the derived popularity view over cache entries. It is
// recomputed on demand and never persisted.
type DestinationStat struct {
	DestinationHash string `json:"destination_hash"`
	EntryCount      int    `json:"entry_count"`
}

// RefreshState tracks a bulk refresh cycle.
type RefreshState string

const (
	RefreshIdle       RefreshState = "idle"
	RefreshReconciled RefreshState = "reconciled"
	RefreshRolledBack RefreshState = "rolled_back"
)

// RefreshReport summarizes one bulk refresh cycle.
type RefreshReport struct {
	CycleID     uuid.UUID    `json:"cycle_id"`
	State       RefreshState `json:"state"`
	Imported    int          `json:"imported"`
	Updated     int          `json:"updated"`
	Skipped     int          `json:"skipped"`
	Errored     int          `json:"errored"`
	Deactivated int64        `json:"deactivated"`
	Reactivated int64        `json:"reactivated"`
	CycleStart  time.Time    `json:"cycle_start"`
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
