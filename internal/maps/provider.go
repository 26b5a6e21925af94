// Package maps talks to external routing services. It exposes a batched
// distance provider backed by the Google Distance Matrix API, a pure-offline
// haversine estimator used both as a fallback and as a standalone provider,
// and a circular isochrone approximation for map display.
package maps

import (
	"context"
	"errors"

	"github.com/example/rentscout/internal/listing/domain"
)

// MaxBatchSize is the provider-imposed cap on origins per request. Callers
// split larger candidate sets into sequential batches.
const MaxBatchSize = 20

// ErrUnavailable signals total provider failure (missing key, network error,
// non-OK top-level status). Callers fall back to the Estimator instead of
// surfacing it.
var ErrUnavailable = errors.New("distance provider unavailable")

// Result carries the outcome for a single origin. The slice returned by
// BatchDurations is positionally aligned: Result[i] corresponds to
// origins[i]. A Result with OK=false means the provider could not route that
// origin.
type Result struct {
	OK              bool
	DurationMinutes int
	DistanceKm      *float64
}

// Provider computes travel durations from many origins to one destination.
type Provider interface {
	BatchDurations(ctx context.Context, origins []domain.Coordinate, dest domain.Coordinate, mode string) ([]Result, error)
}

func km(v float64) *float64 { return &v }
