// Package geo provides the geometry primitives used by poigo: points,
// bounding boxes, point/polygon geometries and distance math.
//
// All functions are pure. Coordinates are WGS84 degrees; distances are
// meters. The only error condition is an invalid coordinate or box, reported
// as ErrInvalidGeometry.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidGeometry is returned for malformed coordinates or boxes
// (latitude outside [-90,90], longitude outside [-180,180], min > max).
//
// Returned errors wrap this sentinel; use errors.Is to test for it.
var ErrInvalidGeometry = errors.New("invalid geometry")

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks that the point is within valid WGS84 bounds.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return fmt.Errorf("%w: coordinate is NaN", ErrInvalidGeometry)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v outside [-90,90]", ErrInvalidGeometry, p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: longitude %v outside [-180,180]", ErrInvalidGeometry, p.Lon)
	}
	return nil
}

// GeometryKind identifies the concrete shape stored in a Geometry.
type GeometryKind uint8

const (
	// KindPoint is a single coordinate.
	KindPoint GeometryKind = iota
	// KindPolygon is a closed ring of coordinates (area POIs).
	KindPolygon
)

// Geometry is either a point or a simple polygon ring.
//
// Polygons are represented by their outer ring only. Distance calculations
// use the ring centroid as the representative location; containment and
// index placement use the minimal bounding box.
type Geometry struct {
	Kind  GeometryKind `json:"kind"`
	Point Point        `json:"point"`
	Ring  []Point      `json:"ring,omitempty"`
}

// NewPoint returns a point geometry.
func NewPoint(lat, lon float64) Geometry {
	return Geometry{Kind: KindPoint, Point: Point{Lat: lat, Lon: lon}}
}

// NewPolygon returns a polygon geometry from its outer ring.
func NewPolygon(ring []Point) Geometry {
	return Geometry{Kind: KindPolygon, Ring: ring}
}

// Validate checks coordinates and, for polygons, ring length.
func (g Geometry) Validate() error {
	switch g.Kind {
	case KindPoint:
		return g.Point.Validate()
	case KindPolygon:
		if len(g.Ring) < 3 {
			return fmt.Errorf("%w: polygon ring needs at least 3 points, got %d", ErrInvalidGeometry, len(g.Ring))
		}
		for _, p := range g.Ring {
			if err := p.Validate(); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown geometry kind %d", ErrInvalidGeometry, g.Kind)
	}
}

// Location returns the representative point of the geometry: the point
// itself, or the ring centroid for polygons.
func (g Geometry) Location() Point {
	if g.Kind == KindPoint || len(g.Ring) == 0 {
		return g.Point
	}
	var lat, lon float64
	for _, p := range g.Ring {
		lat += p.Lat
		lon += p.Lon
	}
	n := float64(len(g.Ring))
	return Point{Lat: lat / n, Lon: lon / n}
}

// BoundingBoxOf returns the minimal box covering the geometry.
// A point geometry yields a degenerate (zero-area) box.
func BoundingBoxOf(g Geometry) BoundingBox {
	if g.Kind == KindPoint || len(g.Ring) == 0 {
		return BoxFromPoint(g.Point)
	}
	box := BoxFromPoint(g.Ring[0])
	for _, p := range g.Ring[1:] {
		box = box.Expand(p)
	}
	return box
}

// Clone returns a deep copy of the geometry.
func (g Geometry) Clone() Geometry {
	if len(g.Ring) == 0 {
		return g
	}
	ring := make([]Point, len(g.Ring))
	copy(ring, g.Ring)
	return Geometry{Kind: g.Kind, Point: g.Point, Ring: ring}
}
