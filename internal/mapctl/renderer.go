package mapctl

import (
	"time"

	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/mapboard/internal/model"
)

// Renderer is the map view driven by the controller. Calls are made from
// the controller's event loop only.
type Renderer interface {
	SetCursor(cursor string)
	SetPointerGlyph(glyph string)
	SetDragPan(enabled bool)
	// SetPreview replaces the data of the live drawing source.
	SetPreview(fc *geojson.FeatureCollection)
	// SetSourceTiles replaces a vector source's tile URL list, dropping any
	// tiles already loaded for it.
	SetSourceTiles(sourceID string, tiles []string)
	FitBounds(b model.Bounds, padding int, duration time.Duration)
	FlyTo(center model.Coordinate, zoom float64, duration time.Duration)
	// Resize sets the canvas size that FitBounds fits into.
	Resize(width, height int)
	// Blur drops keyboard focus from the focused input element.
	Blur()
}
