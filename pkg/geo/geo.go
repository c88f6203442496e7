// Package geo computes great-circle distances and ranks points of interest by proximity.
package geo

import (
	"math"
	"sort"
)

const (
	// EarthRadiusKm is the mean Earth radius used by the haversine formula.
	EarthRadiusKm = 6371.0

	// DefaultRadiusKm is the cut-off used for nearby landmark suggestions.
	DefaultRadiusKm = 10.0
)

// Point is a coordinate in decimal degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the point is inside the latitude/longitude ranges.
func (p Point) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

func toRadians(deg float64) float64 {
	return deg * (math.Pi / 180)
}

// Distance returns the haversine distance between a and b in kilometres.
func Distance(a, b Point) float64 {
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Latitude))*math.Cos(toRadians(b.Latitude))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push h just outside [0, 1] for antipodal points.
	h = math.Min(1, math.Max(0, h))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// Locatable is anything with a position.
type Locatable interface {
	Position() Point
}

// Ranked pairs an item with its distance from the reference point.
type Ranked[T Locatable] struct {
	Item       T       `json:"item"`
	DistanceKm float64 `json:"distance_km"`
}

// Nearby attaches the distance from ref to every candidate, keeps those within
// radiusKm (inclusive) and returns them sorted ascending by distance.
// Candidates at equal distance keep their input order.
func Nearby[T Locatable](ref Point, candidates []T, radiusKm float64) []Ranked[T] {
	out := make([]Ranked[T], 0, len(candidates))
	for _, c := range candidates {
		d := Distance(ref, c.Position())
		if d <= radiusKm {
			out = append(out, Ranked[T]{Item: c, DistanceKm: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DistanceKm < out[j].DistanceKm
	})
	return out
}

// Rank orders every candidate by distance from ref without a cut-off.
func Rank[T Locatable](ref Point, candidates []T) []Ranked[T] {
	return Nearby(ref, candidates, math.Inf(1))
}
