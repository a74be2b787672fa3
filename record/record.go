// Package record defines the POI record model and the record store that
// owns the authoritative copy of every record. The spatial index holds only
// (identifier, bounding box) references into this store.
package record

import (
	"errors"
	"fmt"

	"github.com/hupe1980/poigo/geo"
	"github.com/hupe1980/poigo/metadata"
)

// ErrNotFound is returned when a store cannot find an identifier.
var ErrNotFound = errors.New("record not found")

// Record is a point of interest.
type Record struct {
	// ID is the stable identifier, unique and immutable once assigned.
	ID uint32 `json:"id"`

	// Name is the display name of the POI.
	Name string `json:"name"`

	// Category is a free-form tag such as "restaurant" or "museum".
	Category string `json:"category,omitempty"`

	// Region is the dataset region the record belongs to.
	Region string `json:"region,omitempty"`

	// Rank is the importance rank; lower ranks are more prominent.
	Rank int `json:"rank,omitempty"`

	// Geometry is the record's location: a point, or a polygon for area POIs.
	Geometry geo.Geometry `json:"geometry"`

	// Attributes is the typed attribute bag.
	Attributes metadata.Document `json:"attributes,omitempty"`

	// Revision is bumped on every update; 1 after insert.
	Revision uint64 `json:"revision"`
}

// Validate checks the geometry and attribute bag.
func (r Record) Validate() error {
	if err := r.Geometry.Validate(); err != nil {
		return err
	}
	if err := r.Attributes.Validate(); err != nil {
		return fmt.Errorf("invalid attributes: %w", err)
	}
	return nil
}

// Location returns the representative point of the record's geometry.
func (r Record) Location() geo.Point {
	return r.Geometry.Location()
}

// BoundingBox returns the minimal box covering the record's geometry.
func (r Record) BoundingBox() geo.BoundingBox {
	return geo.BoundingBoxOf(r.Geometry)
}

// Clone returns a deep copy, safe against mutation by the caller.
func (r Record) Clone() Record {
	clone := r
	clone.Geometry = r.Geometry.Clone()
	clone.Attributes = metadata.CloneIfNeeded(r.Attributes)
	return clone
}
