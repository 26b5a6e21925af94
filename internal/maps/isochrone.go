package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/rentscout/internal/geo"
	"github.com/example/rentscout/internal/listing/domain"
)

// Radius clamp for the circular approximation. Anything outside this window
// draws either nothing useful or most of the map.
const (
	minIsochroneKm = 0.5
	maxIsochroneKm = 15.0
	circlePoints   = 64
)

const isochroneTTL = 7 * 24 * time.Hour

// Polygon is a GeoJSON FeatureCollection holding one circular feature. It is
// a reachability-boundary stand-in, not a travel-time isochrone, and the
// "generated" property says so.
type Polygon struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

type Feature struct {
	Type       string            `json:"type"`
	Properties FeatureProperties `json:"properties"`
	Geometry   Geometry          `json:"geometry"`
}

type FeatureProperties struct {
	Center    []float64 `json:"center"` // [lng, lat]
	RadiusKm  float64   `json:"radius_km"`
	Mode      string    `json:"mode"`
	MaxKm     float64   `json:"max_distance_km"`
	Generated string    `json:"generated"`
}

type Geometry struct {
	Type        string        `json:"type"`
	Coordinates [][][]float64 `json:"coordinates"`
}

// IsochroneApproximator produces circular reachability polygons, cached
// under a quantized key with the same TTL policy as distance entries. The
// redis client may be nil; results are then recomputed every call.
type IsochroneApproximator struct {
	cache     redis.Cmdable
	logger    *zap.Logger
	precision float64
}

// NewIsochroneApproximator builds the approximator. cache and logger may be
// nil.
func NewIsochroneApproximator(cache redis.Cmdable, logger *zap.Logger, precision float64) *IsochroneApproximator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if precision <= 0 {
		precision = geo.DefaultPrecision
	}
	return &IsochroneApproximator{cache: cache, logger: logger, precision: precision}
}

// ReachabilityPolygon returns a 64-point circle of radius
// clamp(maxDistanceKm, 0.5, 15) km around center.
func (a *IsochroneApproximator) ReachabilityPolygon(ctx context.Context, center domain.Coordinate, maxDistanceKm float64, mode string) (Polygon, error) {
	if !center.Valid() {
		return Polygon{}, fmt.Errorf("invalid center coordinate (%f, %f)", center.Lat, center.Lng)
	}

	key := a.cacheKey(center, maxDistanceKm, mode)
	if a.cache != nil {
		if cached, err := a.cache.Get(ctx, key).Bytes(); err == nil {
			var poly Polygon
			if err := json.Unmarshal(cached, &poly); err == nil {
				return poly, nil
			}
		}
	}

	radiusKm := maxDistanceKm
	if radiusKm > maxIsochroneKm {
		radiusKm = maxIsochroneKm
	}
	if radiusKm < minIsochroneKm {
		radiusKm = minIsochroneKm
	}

	poly := Polygon{
		Type: "FeatureCollection",
		Features: []Feature{{
			Type: "Feature",
			Properties: FeatureProperties{
				Center:    []float64{center.Lng, center.Lat},
				RadiusKm:  radiusKm,
				Mode:      mode,
				MaxKm:     maxDistanceKm,
				Generated: "approximate-circle",
			},
			Geometry: Geometry{
				Type:        "Polygon",
				Coordinates: [][][]float64{geo.Circle(center, radiusKm, circlePoints)},
			},
		}},
	}

	if a.cache != nil {
		payload, err := json.Marshal(poly)
		if err == nil {
			if err := a.cache.Set(ctx, key, payload, isochroneTTL).Err(); err != nil {
				a.logger.Warn("isochrone cache write failed", zap.Error(err))
			}
		}
	}
	return poly, nil
}

func (a *IsochroneApproximator) cacheKey(center domain.Coordinate, maxDistanceKm float64, mode string) string {
	qlat := geo.Quantize(center.Lat, a.precision)
	qlng := geo.Quantize(center.Lng, a.precision)
	return fmt.Sprintf("isochrone:%.3f,%.3f:%s:%g", qlng, qlat, mode, maxDistanceKm)
}
