// Package geo holds the coordinate math the commute engine is built on:
// quantization into cache keys, bounding boxes for the candidate pre-filter,
// and great-circle distances.
package geo

import (
	"fmt"
	"math"

	"github.com/example/rentscout/internal/listing/domain"
)

// DefaultPrecision quantizes coordinates to roughly 300 m cells. Precision is
// a trade-off: coarser cells raise the cache-hit rate, finer cells raise
// spatial accuracy. Two points a few meters apart can still land in adjacent
// cells near a boundary; that is inherent to grid quantization, not a bug.
const DefaultPrecision = 0.003

// kmPerDegreeLat is the approximate north-south span of one degree.
const kmPerDegreeLat = 111.0

// Quantize rounds v to the nearest multiple of precision. Idempotent:
// Quantize(Quantize(v, p), p) == Quantize(v, p).
func Quantize(v, precision float64) float64 {
	if precision <= 0 {
		precision = DefaultPrecision
	}
	return math.Round(v/precision) * precision
}

// DestinationHash collapses a destination coordinate and transit mode into
// the coarse cache key shared by every search in the same quantization cell,
// e.g. "25.020,121.560:transit".
func DestinationHash(c domain.Coordinate, mode string, precision float64) string {
	qlat := Quantize(c.Lat, precision)
	qlng := Quantize(c.Lng, precision)
	return fmt.Sprintf("%.3f,%.3f:%s", qlat, qlng, mode)
}

// BoundingBox returns the lat/lng ranges covering radiusKm around center.
// One degree of latitude spans ~111 km; longitude shrinks with cos(lat).
func BoundingBox(center domain.Coordinate, radiusKm float64) domain.BoundingBox {
	latRange := radiusKm / kmPerDegreeLat
	lngRange := radiusKm / (kmPerDegreeLat * math.Cos(center.Lat*math.Pi/180))
	return domain.BoundingBox{
		MinLat: center.Lat - latRange,
		MaxLat: center.Lat + latRange,
		MinLng: center.Lng - lngRange,
		MaxLng: center.Lng + lngRange,
	}
}

// HaversineKm returns the great-circle distance between two points in km.
func HaversineKm(a, b domain.Coordinate) float64 {
	const earthRadiusKm = 6371.0
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dlat := toRadians(b.Lat - a.Lat)
	dlng := toRadians(b.Lng - a.Lng)

	sinDlat := math.Sin(dlat / 2)
	sinDlng := math.Sin(dlng / 2)
	h := sinDlat*sinDlat + math.Cos(lat1)*math.Cos(lat2)*sinDlng*sinDlng
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// Circle approximates a circle of radiusKm around center as a closed ring of
// points vertices, returned as [lng, lat] pairs ready for GeoJSON.
func Circle(center domain.Coordinate, radiusKm float64, points int) [][]float64 {
	if points <= 0 {
		points = 64
	}
	lngKm := kmPerDegreeLat * math.Cos(center.Lat*math.Pi/180)

	ring := make([][]float64, 0, points+1)
	for i := 0; i < points; i++ {
		angle := float64(i) * 2 * math.Pi / float64(points)
		latOffset := (radiusKm / kmPerDegreeLat) * math.Sin(angle)
		lngOffset := (radiusKm / lngKm) * math.Cos(angle)
		ring = append(ring, []float64{center.Lng + lngOffset, center.Lat + latOffset})
	}
	ring = append(ring, []float64{ring[0][0], ring[0][1]})
	return ring
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
