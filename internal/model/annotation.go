package model

import (
	"encoding/json"
	"time"
)

// Meta is the free-form metadata attached to pins and drawings. A nil Meta
// encodes as an empty object.
type Meta map[string]any

// MarshalJSON implements json.Marshaler.
func (m Meta) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(m))
}

// Pin is a point annotation.
type Pin struct {
	ID        int64     `json:"id,omitempty"`
	Shape     Shape     `json:"shape"`
	Meta      Meta      `json:"meta"`
	ProjectID int64     `json:"project_id"`
	ProfileID string    `json:"profile_id"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// NewPin returns an unsaved pin at c.
func NewPin(c Coordinate, projectID int64, profileID string) Pin {
	return Pin{
		Shape:     Shape(PointWKT(c)),
		Meta:      Meta{},
		ProjectID: projectID,
		ProfileID: profileID,
	}
}

// Drawing is a freehand polyline annotation of one or more coordinates.
type Drawing struct {
	ID        int64     `json:"id,omitempty"`
	Shape     Shape     `json:"shape"`
	Meta      Meta      `json:"meta"`
	ProjectID int64     `json:"project_id"`
	ProfileID string    `json:"profile_id"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// NewDrawing returns an unsaved drawing following path in order.
func NewDrawing(path []Coordinate, projectID int64, profileID string) Drawing {
	return Drawing{
		Shape:     Shape(LineStringWKT(path)),
		Meta:      Meta{},
		ProjectID: projectID,
		ProfileID: profileID,
	}
}

// ShapeBounds returns the envelope of a stored shape.
func ShapeBounds(s Shape) (Bounds, error) {
	g, err := s.Geometry()
	if err != nil {
		return Bounds{}, err
	}
	return BoundsOf(g), nil
}

// GrowBounds returns b extended by s, or b unchanged if s does not parse.
func GrowBounds(b *Bounds, s Shape) *Bounds {
	g, err := s.Geometry()
	if err != nil {
		return b
	}
	next := b.Extend(g)
	return &next
}

