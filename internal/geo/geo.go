// Package geo contains pure geographic computation helpers: great-circle
// distance, straight-line ETA and the radius gates used by dispatch.
package geo

import (
	"math"

	"tricykol/internal/types"
)

const earthRadiusMeters = 6371000.0

const (
	// AverageSpeedKmh is the assumed average tricycle speed for ETA estimates.
	AverageSpeedKmh = 20.0

	// ArrivalRadiusMeters gates on_the_way→arrived and in_progress→completed.
	ArrivalRadiusMeters = 50.0
	// ArrivalPrecheckRadiusMeters short-circuits obviously-too-far arrival
	// attempts before a fresh fix is requested.
	ArrivalPrecheckRadiusMeters = 100.0
	// NearbySearchRadiusMeters bounds the nearby-booking search.
	NearbySearchRadiusMeters = 700.0
)

// Estimate is the straight-line distance and travel time between two points.
type Estimate struct {
	DistanceMeters float64 `json:"distance_meters"`
	ETAMinutes     int     `json:"eta_minutes"`
}

// HaversineMeters returns the great-circle distance in metres between two
// points specified in decimal degrees.
func HaversineMeters(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

// DistanceAndETA returns the haversine distance and the ETA at
// AverageSpeedKmh, rounded up to whole minutes.
func DistanceAndETA(a, b types.Point) Estimate {
	d := HaversineMeters(a, b)
	return Estimate{DistanceMeters: d, ETAMinutes: ETAMinutes(d)}
}

// ETAMinutes converts a distance into whole minutes at AverageSpeedKmh.
func ETAMinutes(distanceMeters float64) int {
	if distanceMeters <= 0 {
		return 0
	}
	minutes := distanceMeters / 1000 / AverageSpeedKmh * 60
	return int(math.Ceil(minutes))
}

// IsWithin reports whether b lies within radiusMeters of a.
func IsWithin(a, b types.Point, radiusMeters float64) bool {
	return HaversineMeters(a, b) <= radiusMeters
}

// ValidPoint rejects NaN, infinite and out-of-range coordinates.
func ValidPoint(p types.Point) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// SortByDistance performs a stable insertion sort (fine for small N) on any
// slice where each element exposes a distance via the accessor function.
func SortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
