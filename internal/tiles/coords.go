package tiles

import "math"

// Size is the edge length of a tile in pixels.
const Size = 256

// MaxZoom is the deepest zoom the editor will fit to.
const MaxZoom = 22.0

// Tile addresses a single tile.
type Tile struct {
	Z int `json:"z"`
	X int `json:"x"`
	Y int `json:"y"`
}

// LatLngToTile returns the tile containing (lat, lng) at zoom.
func LatLngToTile(lat, lng float64, zoom int) Tile {
	latRad := lat * math.Pi / 180
	n := math.Exp2(float64(zoom))
	x := int((lng + 180) / 360 * n)
	y := int((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n)
	return Constrain(Tile{Z: zoom, X: x, Y: y})
}

// Constrain clamps t to the valid range for its zoom.
func Constrain(t Tile) Tile {
	last := int(math.Exp2(float64(t.Z))) - 1
	t.X = max(0, min(t.X, last))
	t.Y = max(0, min(t.Y, last))
	return t
}

// WorldXY projects (lat, lng) to Web Mercator world pixels at zoom.
func WorldXY(lat, lng, zoom float64) (x, y float64) {
	scale := Size * math.Exp2(zoom)
	latRad := lat * math.Pi / 180
	x = scale * (lng + 180) / 360
	y = scale * (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2
	return x, y
}

// WorldToLatLng is the inverse of WorldXY.
func WorldToLatLng(x, y, zoom float64) (lat, lng float64) {
	scale := Size * math.Exp2(zoom)
	lng = x/scale*360 - 180
	lat = 180 / math.Pi * math.Atan(math.Sinh(math.Pi*(1-2*y/scale)))
	return lat, lng
}

// Visible returns the tiles covering a width x height canvas centered on
// (lat, lng), with a one-tile margin. Duplicates from clamping at the
// world edge are removed.
func Visible(lat, lng, zoom float64, width, height int) []Tile {
	z := max(0, int(math.Floor(zoom)))
	center := LatLngToTile(lat, lng, z)
	cols := width/Size + 2
	rows := height/Size + 2

	seen := make(map[Tile]bool, cols*rows)
	out := make([]Tile, 0, cols*rows)
	for x := center.X - cols/2; x < center.X-cols/2+cols; x++ {
		for y := center.Y - rows/2; y < center.Y-rows/2+rows; y++ {
			t := Constrain(Tile{Z: z, X: x, Y: y})
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// Fit returns the center and zoom that frame the box north/east/south/west
// on a width x height canvas leaving padding pixels on every side.
func Fit(north, east, south, west float64, width, height, padding int) (lat, lng, zoom float64) {
	x1, y1 := WorldXY(north, west, 0)
	x2, y2 := WorldXY(south, east, 0)
	dx, dy := math.Abs(x2-x1), math.Abs(y2-y1)

	availW := math.Max(float64(width-2*padding), 1)
	availH := math.Max(float64(height-2*padding), 1)

	zoom = MaxZoom
	if dx > 0 || dy > 0 {
		scale := math.Inf(1)
		if dx > 0 {
			scale = availW / dx
		}
		if dy > 0 {
			scale = math.Min(scale, availH/dy)
		}
		zoom = math.Max(0, math.Min(MaxZoom, math.Log2(scale)))
	}

	lat, lng = WorldToLatLng((x1+x2)/2, (y1+y2)/2, 0)
	return lat, lng, zoom
}
