package mapctl

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/mapboard/internal/model"
)

// ActiveDrawingSource is the renderer source holding the live preview.
const ActiveDrawingSource = "active-drawing-source"

// Accumulator collects the raw pointer samples of one drawing gesture.
// Samples are kept in arrival order with no deduplication.
type Accumulator struct {
	path   []model.Coordinate
	active bool
}

// Begin starts a new path at c, discarding any previous one.
func (a *Accumulator) Begin(c model.Coordinate) {
	a.path = []model.Coordinate{c}
	a.active = true
}

// Append adds c to the path in progress. It reports false when no gesture
// is active.
func (a *Accumulator) Append(c model.Coordinate) bool {
	if !a.active {
		return false
	}
	a.path = append(a.path, c)
	return true
}

// Finish ends the gesture and returns its path. The accumulator is empty
// afterwards.
func (a *Accumulator) Finish() []model.Coordinate {
	path := a.path
	a.path = nil
	a.active = false
	return path
}

// Active reports whether a gesture is in progress.
func (a *Accumulator) Active() bool { return a.active }

// Path returns a copy of the path in progress.
func (a *Accumulator) Path() []model.Coordinate {
	return append([]model.Coordinate(nil), a.path...)
}

// Preview renders path as a one-feature collection holding a line string.
// An empty path yields a line with no coordinates.
func Preview(path []model.Coordinate) *geojson.FeatureCollection {
	flat := make([]float64, 0, len(path)*2)
	for _, c := range path {
		flat = append(flat, c.Lng, c.Lat)
	}
	return &geojson.FeatureCollection{
		Features: []*geojson.Feature{{
			Geometry:   geom.NewLineStringFlat(geom.XY, flat),
			Properties: map[string]any{},
		}},
	}
}
