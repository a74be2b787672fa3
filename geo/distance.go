package geo

import (
	"fmt"
	"math"
)

// earthRadiusMeters is the mean earth radius (IUGG).
const earthRadiusMeters = 6371008.8

// DistanceModel selects the distance math used for queries.
type DistanceModel int

const (
	// GreatCircle uses the haversine formula on a spherical earth.
	// This is the default and the right choice for global datasets.
	GreatCircle DistanceModel = iota
	// Planar uses an equirectangular approximation. Cheaper and adequate
	// for small, local datasets away from the poles.
	Planar
)

// String returns a string representation of the DistanceModel.
func (m DistanceModel) String() string {
	switch m {
	case GreatCircle:
		return "great-circle"
	case Planar:
		return "planar"
	default:
		return "unknown"
	}
}

// DistanceFunc calculates the distance in meters between two points.
type DistanceFunc func(a, b Point) float64

// NewDistanceFunc returns the distance function for the given model,
// or an error for an unknown model.
func NewDistanceFunc(model DistanceModel) (DistanceFunc, error) {
	switch model {
	case GreatCircle:
		return Haversine, nil
	case Planar:
		return Equirectangular, nil
	default:
		return nil, fmt.Errorf("unknown distance model: %d", model)
	}
}

// Haversine returns the great-circle distance in meters between a and b.
func Haversine(a, b Point) float64 {
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(latA)*math.Cos(latB)*sinLon*sinLon

	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Equirectangular returns the planar-approximated distance in meters
// between a and b.
func Equirectangular(a, b Point) float64 {
	dl := b.Lon - a.Lon
	if dl > 180 {
		dl -= 360
	} else if dl < -180 {
		dl += 360
	}

	meanLat := (a.Lat + b.Lat) / 2 * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := dl * math.Pi / 180 * math.Cos(meanLat)

	return earthRadiusMeters * math.Sqrt(dLat*dLat+dLon*dLon)
}

// MinDistanceToBox returns a lower bound on the distance from p to any point
// inside the box, measured with dist. The bound is exact for points outside
// the box and zero for points inside; this is what best-bound-first nearest
// traversal requires.
func MinDistanceToBox(dist DistanceFunc, p Point, b BoundingBox) float64 {
	if b.Contains(p) {
		return 0
	}
	return dist(p, b.Clamp(p))
}

// RadiusBounds returns a box guaranteed to cover the circle of the given
// radius (meters) around center. The box cannot express a longitude wrap, so
// a circle crossing the antimeridian (or enclosing a pole) widens the cover
// to the full longitude range. The cover is conservative either way; callers
// must still verify exact distances.
func RadiusBounds(center Point, radius float64) BoundingBox {
	dLat := radius / earthRadiusMeters * 180 / math.Pi

	minLat := math.Max(center.Lat-dLat, -90)
	maxLat := math.Min(center.Lat+dLat, 90)

	// Longitude degrees shrink with latitude; size the lon delta at the
	// latitude extreme closest to a pole to keep the cover conservative.
	absLat := math.Max(math.Abs(minLat), math.Abs(maxLat))
	cosLat := math.Cos(absLat * math.Pi / 180)
	if cosLat < 1e-9 {
		return BoundingBox{MinLat: minLat, MinLon: -180, MaxLat: maxLat, MaxLon: 180}
	}
	dLon := dLat / cosLat

	minLon := center.Lon - dLon
	maxLon := center.Lon + dLon
	if dLon >= 180 || minLon < -180 || maxLon > 180 {
		minLon, maxLon = -180, 180
	}

	return BoundingBox{
		MinLat: minLat,
		MinLon: minLon,
		MaxLat: maxLat,
		MaxLon: maxLon,
	}
}
