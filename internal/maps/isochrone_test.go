package maps_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/rentscout/internal/listing/domain"
	"github.com/example/rentscout/internal/maps"
)

func TestReachabilityPolygonShape(t *testing.T) {
	approx := maps.NewIsochroneApproximator(nil, nil, 0)

	poly, err := approx.ReachabilityPolygon(context.Background(), dest, 5, domain.ModeTransit)
	require.NoError(t, err)
	require.Equal(t, "FeatureCollection", poly.Type)
	require.Len(t, poly.Features, 1)

	feature := poly.Features[0]
	require.Equal(t, "approximate-circle", feature.Properties.Generated)
	require.Equal(t, []float64{dest.Lng, dest.Lat}, feature.Properties.Center)
	require.Equal(t, 5.0, feature.Properties.RadiusKm)

	ring := feature.Geometry.Coordinates[0]
	require.Len(t, ring, 65, "64 points plus the closing point")
	require.Equal(t, ring[0], ring[len(ring)-1], "ring must be closed")
}

func TestReachabilityPolygonClampsRadius(t *testing.T) {
	approx := maps.NewIsochroneApproximator(nil, nil, 0)

	tiny, err := approx.ReachabilityPolygon(context.Background(), dest, 0.1, domain.ModeWalking)
	require.NoError(t, err)
	require.Equal(t, 0.5, tiny.Features[0].Properties.RadiusKm)

	huge, err := approx.ReachabilityPolygon(context.Background(), dest, 80, domain.ModeDriving)
	require.NoError(t, err)
	require.Equal(t, 15.0, huge.Features[0].Properties.RadiusKm)
	require.Equal(t, 80.0, huge.Features[0].Properties.MaxKm, "the requested distance stays in the metadata")
}

func TestReachabilityPolygonRejectsInvalidCenter(t *testing.T) {
	approx := maps.NewIsochroneApproximator(nil, nil, 0)
	_, err := approx.ReachabilityPolygon(context.Background(), domain.Coordinate{Lat: 95, Lng: 0}, 5, domain.ModeTransit)
	require.Error(t, err)
}

func TestReachabilityPolygonCachesByQuantizedCenter(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()

	approx := maps.NewIsochroneApproximator(rc, nil, 0)
	first, err := approx.ReachabilityPolygon(context.Background(), dest, 5, domain.ModeTransit)
	require.NoError(t, err)

	// A nearby point in the same quantization cell reuses the cached polygon,
	// original center included.
	nearby := domain.Coordinate{Lat: dest.Lat + 0.0005, Lng: dest.Lng - 0.0005}
	second, err := approx.ReachabilityPolygon(context.Background(), nearby, 5, domain.ModeTransit)
	require.NoError(t, err)
	require.Equal(t, first.Features[0].Properties.Center, second.Features[0].Properties.Center)
}
