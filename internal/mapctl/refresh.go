package mapctl

import (
	"go.uber.org/zap"

	"github.com/sells-group/mapboard/internal/tiles"
)

// TileSources owns the vector sources of the editing session and pushes
// rebuilt tile URLs to the renderer.
type TileSources struct {
	builder tiles.URLBuilder
	layers  []tiles.Layer
	current map[string]tiles.Source
}

// NewTileSources returns sources for layers, all scoped to no project.
func NewTileSources(builder tiles.URLBuilder, layers []tiles.Layer) *TileSources {
	ts := &TileSources{builder: builder, layers: layers, current: make(map[string]tiles.Source, len(layers))}
	for _, l := range layers {
		ts.current[l.Name] = builder.Source(l, tiles.NoProject)
	}
	return ts
}

// Refresh rebuilds the source for layer scoped to projectID and replaces
// its tile URLs in r. Unknown layers are ignored.
func (ts *TileSources) Refresh(r Renderer, layer string, projectID int64) {
	for _, l := range ts.layers {
		if l.Name != layer {
			continue
		}
		src := ts.builder.Source(l, projectID)
		ts.current[l.Name] = src
		r.SetSourceTiles(src.ID(), src.Tiles)
		zap.L().Debug("tile source refreshed",
			zap.String("component", "mapctl.refresh"),
			zap.String("source", src.ID()),
			zap.String("filter", src.Filter),
		)
		return
	}
}

// RefreshAll rebuilds every source in layer order.
func (ts *TileSources) RefreshAll(r Renderer, projectID int64) {
	for _, l := range ts.layers {
		ts.Refresh(r, l.Name, projectID)
	}
}

// Sources returns the current descriptors in layer order.
func (ts *TileSources) Sources() []tiles.Source {
	out := make([]tiles.Source, 0, len(ts.layers))
	for _, l := range ts.layers {
		out = append(out, ts.current[l.Name])
	}
	return out
}

// Lookup returns the current descriptor for a source id.
func (ts *TileSources) Lookup(id string) (tiles.Source, bool) {
	src, ok := ts.current[id]
	return src, ok
}
