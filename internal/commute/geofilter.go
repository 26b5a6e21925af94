package commute

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/rentscout/internal/geo"
	"github.com/example/rentscout/internal/listing/domain"
)

// GeoFilter selects candidate listings with a cheap bounding-box query
// before any commute-time evaluation happens. The box over-approximates the
// circle; exact great-circle filtering, where needed, is a caller concern.
type GeoFilter struct {
	repo   domain.Repository
	logger *zap.Logger
}

// NewGeoFilter wires the filter to a listing repository.
func NewGeoFilter(repo domain.Repository, logger *zap.Logger) (*GeoFilter, error) {
	if repo == nil {
		return nil, errors.New("listing repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeoFilter{repo: repo, logger: logger}, nil
}

// FindCandidates returns active listings inside the bounding box around
// center matching filters. An empty result is valid and ends the search.
func (f *GeoFilter) FindCandidates(ctx context.Context, center domain.Coordinate, radiusKm float64, filters domain.Filters) ([]domain.Listing, error) {
	box := geo.BoundingBox(center, radiusKm)
	listings, err := f.repo.FindByBoundingBox(ctx, box, filters)
	if err != nil {
		return nil, fmt.Errorf("bounding box query: %w", err)
	}
	f.logger.Debug("geo prefilter",
		zap.Float64("radius_km", radiusKm),
		zap.Int("candidates", len(listings)))
	return listings, nil
}
