package tiles

import (
	"net/url"
	"strconv"
	"strings"
)

// NoProject is the project id used in filters when no project is active.
// It matches no stored row.
const NoProject int64 = -1

// Placeholders left in tile URL templates for the renderer.
const (
	PlaceholderZ = "{z}"
	PlaceholderX = "{x}"
	PlaceholderY = "{y}"
)

// Kind is the render style of a layer.
type Kind string

// Layer kinds.
const (
	KindSymbol Kind = "symbol"
	KindLine   Kind = "line"
)

// Layer maps a backend vector layer to a renderer source.
type Layer struct {
	// Name is the backend layer, e.g. "public.pins".
	Name    string `json:"name" yaml:"name"`
	Kind    Kind   `json:"kind" yaml:"kind"`
	MinZoom int    `json:"min_zoom" yaml:"min_zoom"`
	MaxZoom int    `json:"max_zoom" yaml:"max_zoom"`
}

// DefaultLayers returns the pins and drawings layers.
func DefaultLayers(pins, drawings string) []Layer {
	return []Layer{
		{Name: pins, Kind: KindSymbol, MinZoom: 0, MaxZoom: 22},
		{Name: drawings, Kind: KindLine, MinZoom: 0, MaxZoom: 22},
	}
}

// ProjectFilter returns the tile filter selecting one project's rows.
func ProjectFilter(projectID int64) string {
	return "project_id=" + strconv.FormatInt(projectID, 10)
}

// Source is a renderer source descriptor: a layer plus the filter and the
// tile URL templates built for it.
type Source struct {
	Layer  Layer    `json:"layer"`
	Filter string   `json:"filter"`
	Tiles  []string `json:"tiles"`
}

// ID is the renderer source id; it equals the layer name.
func (s Source) ID() string { return s.Layer.Name }

// URLBuilder builds tile URL templates for the backend tile endpoint.
type URLBuilder struct {
	BaseURL string
	Path    string
	APIKey  string
}

// Template returns {base}{path}/{layer}/{z}/{x}/{y}.pbf?apikey=..&filter=..
// with the coordinate placeholders left literal. Extra params are added to
// the query.
func (b URLBuilder) Template(layer, filter string, extra url.Values) string {
	q := url.Values{}
	for k, vs := range extra {
		q[k] = append([]string(nil), vs...)
	}
	if filter != "" {
		q.Set("filter", filter)
	}
	q.Set("apikey", b.APIKey)

	path := "/" + strings.Trim(b.Path, "/")
	if path == "/" {
		path = ""
	}
	return strings.TrimRight(b.BaseURL, "/") + path + "/" + layer + "/" +
		PlaceholderZ + "/" + PlaceholderX + "/" + PlaceholderY + ".pbf?" + q.Encode()
}

// Source builds the descriptor for layer scoped to projectID.
func (b URLBuilder) Source(layer Layer, projectID int64) Source {
	filter := ProjectFilter(projectID)
	return Source{
		Layer:  layer,
		Filter: filter,
		Tiles:  []string{b.Template(layer.Name, filter, nil)},
	}
}

// Expand substitutes tile coordinates into a template.
func Expand(template string, t Tile) string {
	return strings.NewReplacer(
		PlaceholderZ, strconv.Itoa(t.Z),
		PlaceholderX, strconv.Itoa(t.X),
		PlaceholderY, strconv.Itoa(t.Y),
	).Replace(template)
}
