package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/rentscout/internal/listing/domain"
)

// PostgresRepository implements domain.Repository on a pgx connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository wraps an existing pool; lifecycle stays with the
// caller.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS listings (
    id           BIGSERIAL PRIMARY KEY,
    source_id    TEXT NOT NULL,
    source       TEXT NOT NULL,
    url          TEXT NOT NULL DEFAULT '',
    title        TEXT NOT NULL,
    price        INTEGER NOT NULL DEFAULT 0,
    size_ping    DOUBLE PRECISION NOT NULL DEFAULT 0,
    address      TEXT NOT NULL DEFAULT '',
    district     TEXT NOT NULL DEFAULT '',
    city         TEXT NOT NULL DEFAULT '',
    lat          DOUBLE PRECISION NOT NULL DEFAULT 0,
    lng          DOUBLE PRECISION NOT NULL DEFAULT 0,
    active       BOOLEAN NOT NULL DEFAULT TRUE,
    last_updated TIMESTAMPTZ NOT NULL DEFAULT now(),
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (source_id, source)
);
CREATE INDEX IF NOT EXISTS listings_geo_idx ON listings (lat, lng) WHERE active;
`

// EnsureSchema creates the listings table and indexes if missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const listingColumns = "id, source_id, source, url, title, price, size_ping, address, district, city, lat, lng, active, last_updated, created_at"

func (r *PostgresRepository) FindByBoundingBox(ctx context.Context, box domain.BoundingBox, filters domain.Filters) ([]domain.Listing, error) {
	var sb strings.Builder
	sb.WriteString("SELECT " + listingColumns + " FROM listings WHERE active AND lat BETWEEN $1 AND $2 AND lng BETWEEN $3 AND $4")
	args := []any{box.MinLat, box.MaxLat, box.MinLng, box.MaxLng}

	appendCond := func(cond string, value any) {
		args = append(args, value)
		sb.WriteString(" AND " + cond + "$" + strconv.Itoa(len(args)))
	}
	if filters.MinPrice > 0 {
		appendCond("price >= ", filters.MinPrice)
	}
	if filters.MaxPrice > 0 {
		appendCond("price <= ", filters.MaxPrice)
	}
	if filters.MinSize > 0 {
		appendCond("size_ping >= ", filters.MinSize)
	}
	if filters.City != "" {
		appendCond("city = ", filters.City)
	}
	if filters.District != "" {
		appendCond("district = ", filters.District)
	}
	sb.WriteString(" ORDER BY id")

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("repo.FindByBoundingBox: %w", err)
	}
	defer rows.Close()

	var listings []domain.Listing
	for rows.Next() {
		var l domain.Listing
		if err := rows.Scan(&l.ID, &l.SourceID, &l.Source, &l.URL, &l.Title, &l.Price, &l.SizePing,
			&l.Address, &l.District, &l.City, &l.Lat, &l.Lng, &l.Active, &l.LastUpdated, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("repo.FindByBoundingBox scan: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.FindByBoundingBox rows: %w", err)
	}
	return listings, nil
}

func (r *PostgresRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT count(*) FROM listings WHERE active").Scan(&count); err != nil {
		return 0, fmt.Errorf("repo.CountActive: %w", err)
	}
	return count, nil
}

func (r *PostgresRepository) ActiveIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, "SELECT id FROM listings WHERE active ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("repo.ActiveIDs: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("repo.ActiveIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRepository) UpsertBySource(ctx context.Context, l domain.Listing) (bool, error) {
	const query = `
        INSERT INTO listings (source_id, source, url, title, price, size_ping, address, district, city, lat, lng, active, last_updated, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
        ON CONFLICT (source_id, source) DO UPDATE SET
            url = EXCLUDED.url,
            title = EXCLUDED.title,
            price = EXCLUDED.price,
            size_ping = EXCLUDED.size_ping,
            address = EXCLUDED.address,
            district = EXCLUDED.district,
            city = EXCLUDED.city,
            lat = EXCLUDED.lat,
            lng = EXCLUDED.lng,
            active = EXCLUDED.active,
            last_updated = EXCLUDED.last_updated
        RETURNING (xmax = 0)`
	var created bool
	err := r.pool.QueryRow(ctx, query,
		l.SourceID, l.Source, l.URL, l.Title, l.Price, l.SizePing,
		l.Address, l.District, l.City, l.Lat, l.Lng, l.Active, l.LastUpdated,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("repo.UpsertBySource: %w", err)
	}
	return created, nil
}

func (r *PostgresRepository) SetActiveBatch(ctx context.Context, ids []int64, active bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, "UPDATE listings SET active = $1 WHERE id = ANY($2) AND active <> $1", active, ids)
	if err != nil {
		return 0, fmt.Errorf("repo.SetActiveBatch: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) DeleteBatch(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, "DELETE FROM listings WHERE id = ANY($1)", ids)
	if err != nil {
		return 0, fmt.Errorf("repo.DeleteBatch: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) MarkAllInactive(ctx context.Context, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, "UPDATE listings SET active = FALSE, last_updated = $1 WHERE active", at)
	if err != nil {
		return 0, fmt.Errorf("repo.MarkAllInactive: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReactivateDeactivatedAt reverses MarkAllInactive for one cycle: the stamp
// written there identifies exactly the rows that cycle deactivated.
func (r *PostgresRepository) ReactivateDeactivatedAt(ctx context.Context, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, "UPDATE listings SET active = TRUE WHERE NOT active AND last_updated = $1", at)
	if err != nil {
		return 0, fmt.Errorf("repo.ReactivateDeactivatedAt: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) ReactivateUpdatedAfter(ctx context.Context, after time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, "UPDATE listings SET active = TRUE WHERE NOT active AND last_updated > $1", after)
	if err != nil {
		return 0, fmt.Errorf("repo.ReactivateUpdatedAfter: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) DeactivateCreatedSince(ctx context.Context, since time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, "UPDATE listings SET active = FALSE WHERE active AND created_at >= $1", since)
	if err != nil {
		return 0, fmt.Errorf("repo.DeactivateCreatedSince: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) InactiveIDsUpdatedBefore(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx, "SELECT id FROM listings WHERE NOT active AND last_updated < $1 ORDER BY id", cutoff)
	if err != nil {
		return nil, fmt.Errorf("repo.InactiveIDsUpdatedBefore: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("repo.InactiveIDsUpdatedBefore scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
