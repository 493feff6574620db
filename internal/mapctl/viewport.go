package mapctl

import (
	"math"
	"time"

	"github.com/sells-group/mapboard/internal/model"
	"github.com/sells-group/mapboard/internal/tiles"
)

// Viewport is a camera position.
type Viewport struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	Zoom      float64 `json:"zoom" yaml:"zoom"`
	Bearing   float64 `json:"bearing" yaml:"bearing"`
	Pitch     float64 `json:"pitch" yaml:"pitch"`
}

// Center returns the camera center.
func (v Viewport) Center() model.Coordinate {
	return model.Coordinate{Lng: v.Longitude, Lat: v.Latitude}
}

// ViewportSettings holds the default camera and recenter parameters.
type ViewportSettings struct {
	Default   Viewport
	Padding   int
	Duration  time.Duration
	Tolerance float64
	Width     int
	Height    int
}

// DefaultViewportSettings centers on Europe at world zoom.
func DefaultViewportSettings() ViewportSettings {
	return ViewportSettings{
		Default:   Viewport{Latitude: 50.0, Longitude: 15.0, Zoom: 1.5},
		Padding:   100,
		Duration:  1000 * time.Millisecond,
		Tolerance: 0.00001,
		Width:     1280,
		Height:    800,
	}
}

func (s ViewportSettings) withDefaults() ViewportSettings {
	d := DefaultViewportSettings()
	if s.Default == (Viewport{}) {
		s.Default = d.Default
	}
	if s.Padding <= 0 {
		s.Padding = d.Padding
	}
	if s.Duration <= 0 {
		s.Duration = d.Duration
	}
	if s.Tolerance <= 0 {
		s.Tolerance = d.Tolerance
	}
	if s.Width <= 0 {
		s.Width = d.Width
	}
	if s.Height <= 0 {
		s.Height = d.Height
	}
	return s
}

// Initial returns the starting viewport for a project: the bounds fitted to
// the canvas when present, the default camera otherwise.
func (s ViewportSettings) Initial(bounds *model.Bounds) Viewport {
	if bounds == nil {
		return s.Default
	}
	lat, lng, zoom := tiles.Fit(bounds.North, bounds.East, bounds.South, bounds.West, s.Width, s.Height, s.Padding)
	return Viewport{Latitude: lat, Longitude: lng, Zoom: zoom}
}

// Recenter moves the renderer back to the project: a fit to bounds when
// present, otherwise a flight to the default camera.
func (s ViewportSettings) Recenter(r Renderer, bounds *model.Bounds) {
	if bounds != nil {
		r.FitBounds(*bounds, s.Padding, s.Duration)
		return
	}
	r.FlyTo(s.Default.Center(), s.Default.Zoom, s.Duration)
}

// AwayFromInitial reports whether current has left initial. Latitude and
// longitude compare within tol; zoom must match exactly.
func AwayFromInitial(current, initial Viewport, tol float64) bool {
	return !(math.Abs(current.Latitude-initial.Latitude) < tol &&
		math.Abs(current.Longitude-initial.Longitude) < tol &&
		current.Zoom == initial.Zoom)
}
