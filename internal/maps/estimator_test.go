package maps_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/rentscout/internal/geo"
	"github.com/example/rentscout/internal/listing/domain"
	"github.com/example/rentscout/internal/maps"
)

func TestSpeedFactorPerMode(t *testing.T) {
	require.Equal(t, 2.0, maps.SpeedFactor(domain.ModeDriving))
	require.Equal(t, 3.0, maps.SpeedFactor(domain.ModeTransit))
	require.Equal(t, 12.0, maps.SpeedFactor(domain.ModeWalking))
	require.Equal(t, 2.5, maps.SpeedFactor(domain.ModeBicycling))
	require.Equal(t, 2.5, maps.SpeedFactor("hovercraft"))
}

func TestEstimatorDerivesDurationFromDistance(t *testing.T) {
	origins := []domain.Coordinate{
		{Lat: 25.0330, Lng: 121.5654},
		{Lat: 25.0478, Lng: 121.5170}, // same as destination
	}
	results, err := maps.Estimator{}.BatchDurations(context.Background(), origins, dest, domain.ModeTransit)
	require.NoError(t, err)
	require.Len(t, results, 2)

	distKm := geo.HaversineKm(origins[0], dest)
	require.True(t, results[0].OK)
	require.Equal(t, int(math.Round(distKm*3)), results[0].DurationMinutes)
	require.NotNil(t, results[0].DistanceKm)
	require.InDelta(t, distKm, *results[0].DistanceKm, 0.06)

	require.True(t, results[1].OK, "estimator never reports unreachable")
	require.Zero(t, results[1].DurationMinutes)
}
