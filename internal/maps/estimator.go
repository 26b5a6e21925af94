package maps

import (
	"context"
	"math"

	"github.com/example/rentscout/internal/geo"
	"github.com/example/rentscout/internal/listing/domain"
)

// Speed factors in minutes per km used when no routing provider is
// reachable. The estimate only has to land in the right neighborhood to
// keep search results useful while the provider is down.
const (
	drivingMinPerKm = 2.0
	transitMinPerKm = 3.0
	walkingMinPerKm = 12.0
	defaultMinPerKm = 2.5
)

// SpeedFactor returns the minutes-per-km factor for a transit mode.
func SpeedFactor(mode string) float64 {
	switch mode {
	case domain.ModeDriving:
		return drivingMinPerKm
	case domain.ModeTransit:
		return transitMinPerKm
	case domain.ModeWalking:
		return walkingMinPerKm
	default:
		return defaultMinPerKm
	}
}

// Estimator is a pure-local Provider: haversine distance times a per-mode
// speed factor. It never fails and never touches the network, which makes it
// both the fallback when the real provider errors and the offline mode for
// environments without an API key.
type Estimator struct{}

// BatchDurations satisfies Provider. Every origin succeeds.
func (Estimator) BatchDurations(_ context.Context, origins []domain.Coordinate, dest domain.Coordinate, mode string) ([]Result, error) {
	factor := SpeedFactor(mode)
	results := make([]Result, len(origins))
	for i, origin := range origins {
		distKm := geo.HaversineKm(origin, dest)
		results[i] = Result{
			OK:              true,
			DurationMinutes: int(math.Round(distKm * factor)),
			DistanceKm:      km(math.Round(distKm*10) / 10),
		}
	}
	return results, nil
}
