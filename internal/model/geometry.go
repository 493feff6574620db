package model

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkbhex"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// SRID is the spatial reference of every stored shape (WGS 84).
const SRID = 4326

// Coordinate is a geographic position in degrees.
type Coordinate struct {
	Lng float64 `json:"lng" yaml:"lng"`
	Lat float64 `json:"lat" yaml:"lat"`
}

// Point returns c as a go-geom point.
func (c Coordinate) Point() *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{c.Lng, c.Lat}).SetSRID(SRID)
}

// NewLineString builds a line string from coords in order. A single
// coordinate yields a degenerate one-vertex line.
func NewLineString(coords []Coordinate) *geom.LineString {
	flat := make([]float64, 0, len(coords)*2)
	for _, c := range coords {
		flat = append(flat, c.Lng, c.Lat)
	}
	return geom.NewLineStringFlat(geom.XY, flat).SetSRID(SRID)
}

// PointWKT renders c as a WKT POINT, e.g. POINT(13.41 52.53).
func PointWKT(c Coordinate) string {
	return "POINT(" + formatXY(c.Lng, c.Lat) + ")"
}

// LineStringWKT renders coords as a WKT LINESTRING with no spaces after
// the separating commas, e.g. LINESTRING(13.404 52.52,13.405 52.521).
func LineStringWKT(coords []Coordinate) string {
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = formatXY(c.Lng, c.Lat)
	}
	return "LINESTRING(" + strings.Join(parts, ",") + ")"
}

// FormatWKT renders a point or line string in the compact WKT form used on
// the row API.
func FormatWKT(g geom.T) (string, error) {
	switch g := g.(type) {
	case *geom.Point:
		return PointWKT(Coordinate{Lng: g.X(), Lat: g.Y()}), nil
	case *geom.LineString:
		return LineStringWKT(CoordinatesOf(g)), nil
	default:
		return "", eris.Errorf("model: unsupported geometry %T", g)
	}
}

// CoordinatesOf flattens a point or line string into coordinates.
func CoordinatesOf(g geom.T) []Coordinate {
	if g == nil {
		return nil
	}
	flat := g.FlatCoords()
	stride := g.Stride()
	if stride < 2 {
		return nil
	}
	coords := make([]Coordinate, 0, len(flat)/stride)
	for i := 0; i+1 < len(flat); i += stride {
		coords = append(coords, Coordinate{Lng: flat[i], Lat: flat[i+1]})
	}
	return coords
}

func formatXY(x, y float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64) + " " + strconv.FormatFloat(y, 'f', -1, 64)
}

// Shape is a stored geometry kept in WKT form. It decodes from WKT,
// hex-encoded EWKB or a GeoJSON geometry object, which covers every
// representation the row API returns.
type Shape string

// Geometry parses the shape.
func (s Shape) Geometry() (geom.T, error) {
	return ParseShape(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Shape) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*s = ""
		return nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var g geom.T
		if err := geojson.Unmarshal(data, &g); err != nil {
			return eris.Wrap(err, "model: decode geojson shape")
		}
		text, err := FormatWKT(g)
		if err != nil {
			return err
		}
		*s = Shape(text)
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "model: decode shape")
	}
	g, err := ParseShape(raw)
	if err != nil {
		return err
	}
	text, err := FormatWKT(g)
	if err != nil {
		return err
	}
	*s = Shape(text)
	return nil
}

// ParseShape parses WKT (optionally prefixed with SRID=4326;) or hex EWKB.
func ParseShape(s string) (geom.T, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, eris.New("model: empty shape")
	}
	if i := strings.IndexByte(s, ';'); i > 0 && strings.HasPrefix(strings.ToUpper(s), "SRID=") {
		s = s[i+1:]
	}
	if isHex(s) {
		g, err := ewkbhex.Decode(s)
		if err != nil {
			return nil, eris.Wrap(err, "model: decode ewkb shape")
		}
		return g, nil
	}
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, eris.Wrapf(err, "model: parse wkt %q", s)
	}
	return g, nil
}

func isHex(s string) bool {
	if len(s)%2 != 0 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// Bounds is a geographic bounding box in degrees.
type Bounds struct {
	North float64 `json:"north" yaml:"north"`
	East  float64 `json:"east" yaml:"east"`
	South float64 `json:"south" yaml:"south"`
	West  float64 `json:"west" yaml:"west"`
}

// BoundsOf returns the envelope of g.
func BoundsOf(g geom.T) Bounds {
	return fromGeomBounds(geom.NewBounds(geom.XY).Extend(g))
}

// Extend returns b grown to cover g. A nil receiver yields the envelope of g.
func (b *Bounds) Extend(g geom.T) Bounds {
	if b == nil {
		return BoundsOf(g)
	}
	gb := geom.NewBounds(geom.XY).Set(b.West, b.South, b.East, b.North)
	return fromGeomBounds(gb.Extend(g))
}

// Center returns the midpoint of the box.
func (b Bounds) Center() Coordinate {
	return Coordinate{Lng: (b.West + b.East) / 2, Lat: (b.North + b.South) / 2}
}

func fromGeomBounds(gb *geom.Bounds) Bounds {
	return Bounds{
		West:  gb.Min(0),
		South: gb.Min(1),
		East:  gb.Max(0),
		North: gb.Max(1),
	}
}
