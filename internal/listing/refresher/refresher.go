// Package refresher ingests bulk listing snapshots with a soft-delete
// strategy: existing rows are deactivated, not removed, so commute cache
// entries stay valid for every listing that survives the refresh cycle.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/rentscout/internal/listing/domain"
)

// RetentionPolicy selects how inactive rows past the retention window are
// treated.
type RetentionPolicy string

const (
	// RetentionSimple hard-deletes inactive listings older than the window.
	RetentionSimple RetentionPolicy = "simple"
	// RetentionSmart hard-deletes only inactive listings with zero
	// referencing cache entries; rows the cache still depends on are kept
	// regardless of age.
	RetentionSmart RetentionPolicy = "smart"
)

// RetentionReport summarizes one retention sweep.
type RetentionReport struct {
	Policy            RetentionPolicy `json:"policy"`
	DeletedListings   int64           `json:"deleted_listings"`
	PreservedListings int             `json:"preserved_listings"`
	DeletedCacheRows  int             `json:"deleted_cache_rows"`
	RetentionCutoff   time.Time       `json:"retention_cutoff"`
}

// Refresher runs bulk refresh cycles. Cycles are assumed to be driven by a
// single scheduler at a time; nothing here locks against a concurrent cycle.
type Refresher struct {
	repo   domain.Repository
	store  domain.EntryStore
	clock  domain.Clock
	logger *zap.Logger
}

// New constructs a Refresher. store may be nil; smart retention then
// degrades to preserving nothing ("simple" is used instead).
func New(repo domain.Repository, store domain.EntryStore, clock domain.Clock, logger *zap.Logger) (*Refresher, error) {
	if repo == nil {
		return nil, errors.New("listing repository is required")
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{repo: repo, store: store, clock: clock, logger: logger}, nil
}

// Refresh runs one cycle: mark everything inactive, upsert the snapshot as
// active, reconcile. Any repository error during the import pass rolls the
// listing set back to its pre-cycle state and is returned to the caller.
func (r *Refresher) Refresh(ctx context.Context, items []Item) (domain.RefreshReport, error) {
	report := domain.RefreshReport{
		CycleID:    uuid.New(),
		State:      domain.RefreshIdle,
		CycleStart: r.clock.Now(),
	}
	log := r.logger.With(zap.String("cycle_id", report.CycleID.String()))

	deactivated, err := r.repo.MarkAllInactive(ctx, report.CycleStart)
	if err != nil {
		return report, fmt.Errorf("mark inactive: %w", err)
	}
	report.Deactivated = deactivated
	log.Info("refresh cycle started", zap.Int64("deactivated", deactivated), zap.Int("items", len(items)))

	for _, item := range items {
		if item.SourceID == "" || item.Title == "" {
			report.Skipped++
			continue
		}
		created, err := r.repo.UpsertBySource(ctx, item.toListing(r.clock.Now()))
		if err != nil {
			r.rollback(ctx, &report, log)
			return report, fmt.Errorf("import %s/%s: %w", item.Source, item.SourceID, err)
		}
		if created {
			report.Imported++
		} else {
			report.Updated++
		}
	}

	// The upserts activate rows themselves; this pass only catches rows the
	// import touched but left inactive.
	reactivated, err := r.repo.ReactivateUpdatedAfter(ctx, report.CycleStart)
	if err != nil {
		r.rollback(ctx, &report, log)
		return report, fmt.Errorf("reconcile: %w", err)
	}
	report.Reactivated = reactivated
	report.State = domain.RefreshReconciled

	log.Info("refresh cycle reconciled",
		zap.Int("imported", report.Imported),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped),
		zap.Int64("reactivated", reactivated))
	return report, nil
}

// rollback restores the pre-cycle active set: rows this cycle deactivated
// come back, rows this cycle created are demoted. Cache entries are never
// touched here.
func (r *Refresher) rollback(ctx context.Context, report *domain.RefreshReport, log *zap.Logger) {
	report.State = domain.RefreshRolledBack
	restored, err := r.repo.ReactivateDeactivatedAt(ctx, report.CycleStart)
	if err != nil {
		log.Error("rollback reactivation failed", zap.Error(err))
	}
	demoted, err := r.repo.DeactivateCreatedSince(ctx, report.CycleStart)
	if err != nil {
		log.Error("rollback demotion failed", zap.Error(err))
	}
	report.Reactivated = restored
	log.Warn("refresh cycle rolled back", zap.Int64("restored", restored), zap.Int64("demoted", demoted))
}

// Cleanup hard-deletes inactive listings older than keepDays according to
// policy. Referencing cache rows are removed first so nothing dangles.
func (r *Refresher) Cleanup(ctx context.Context, policy RetentionPolicy, keepDays int) (RetentionReport, error) {
	if keepDays <= 0 {
		return RetentionReport{}, fmt.Errorf("keep days must be positive, got %d", keepDays)
	}
	cutoff := r.clock.Now().AddDate(0, 0, -keepDays)
	report := RetentionReport{Policy: policy, RetentionCutoff: cutoff}

	stale, err := r.repo.InactiveIDsUpdatedBefore(ctx, cutoff)
	if err != nil {
		return report, fmt.Errorf("find stale listings: %w", err)
	}
	if len(stale) == 0 {
		return report, nil
	}

	victims := stale
	if policy == RetentionSmart && r.store != nil {
		referenced, err := r.store.ReferencedListingIDs(ctx)
		if err != nil {
			return report, fmt.Errorf("referenced listings: %w", err)
		}
		victims = victims[:0:0]
		for _, id := range stale {
			if referenced[id] > 0 {
				report.PreservedListings++
				continue
			}
			victims = append(victims, id)
		}
	}
	if len(victims) == 0 {
		return report, nil
	}

	if r.store != nil {
		deleted, err := r.store.DeleteForListings(ctx, victims)
		if err != nil {
			return report, fmt.Errorf("delete cache rows: %w", err)
		}
		report.DeletedCacheRows = deleted
	}
	deleted, err := r.repo.DeleteBatch(ctx, victims)
	if err != nil {
		return report, fmt.Errorf("delete listings: %w", err)
	}
	report.DeletedListings = deleted

	r.logger.Info("retention sweep done",
		zap.String("policy", string(policy)),
		zap.Int64("deleted", report.DeletedListings),
		zap.Int("preserved", report.PreservedListings),
		zap.Int("cache_rows", report.DeletedCacheRows))
	return report, nil
}
