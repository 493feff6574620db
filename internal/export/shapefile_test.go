package export

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mapboard/internal/model"
	"github.com/sells-group/mapboard/internal/store"
)

func newSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "mapboard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedProject(t *testing.T, st store.Store) *model.MapProject {
	t.Helper()
	ctx := context.Background()
	p, err := st.CreateProject(ctx, model.NewDraft("prof-1", "ana"))
	require.NoError(t, err)

	pin := model.NewPin(model.Coordinate{Lng: 13.4, Lat: 52.54}, p.ID, "prof-1")
	pin.Meta = model.Meta{"label": "cafe"}
	_, err = st.InsertPin(ctx, pin)
	require.NoError(t, err)
	_, err = st.InsertPin(ctx, model.NewPin(model.Coordinate{Lng: 13.41, Lat: 52.53}, p.ID, "prof-1"))
	require.NoError(t, err)

	path := []model.Coordinate{{Lng: 13.404, Lat: 52.52}, {Lng: 13.405, Lat: 52.521}, {Lng: 13.406, Lat: 52.522}}
	_, err = st.InsertDrawing(ctx, model.NewDrawing(path, p.ID, "prof-1"))
	require.NoError(t, err)
	return p
}

func readAll(t *testing.T, path string) ([]shp.Shape, []map[string]string) {
	t.Helper()
	r, err := shp.Open(path)
	require.NoError(t, err)
	defer r.Close()

	fs := r.Fields()
	var shapes []shp.Shape
	var attrs []map[string]string
	for r.Next() {
		_, s := r.Shape()
		shapes = append(shapes, s)
		row := make(map[string]string, len(fs))
		for i, f := range fs {
			name := strings.TrimRight(f.String(), "\x00")
			row[name] = strings.TrimSpace(strings.TrimRight(r.Attribute(i), "\x00"))
		}
		attrs = append(attrs, row)
	}
	return shapes, attrs
}

func TestProjectExport(t *testing.T) {
	st := newSQLite(t)
	p := seedProject(t, st)
	dir := filepath.Join(t.TempDir(), "out")

	res, err := Project(context.Background(), st, p.UUID, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pins)
	assert.Equal(t, 1, res.Drawings)
	require.Len(t, res.Files, 2)
	assert.FileExists(t, filepath.Join(dir, p.UUID+"_pins.prj"))
	assert.FileExists(t, filepath.Join(dir, p.UUID+"_drawings.dbf"))

	shapes, attrs := readAll(t, res.Files[0])
	require.Len(t, shapes, 2)
	pt, ok := shapes[0].(*shp.Point)
	require.True(t, ok)
	assert.InDelta(t, 13.4, pt.X, 1e-9)
	assert.InDelta(t, 52.54, pt.Y, 1e-9)
	assert.Equal(t, "prof-1", attrs[0]["PROFILE"])
	assert.JSONEq(t, `{"label":"cafe"}`, attrs[0]["META"])
	assert.Empty(t, attrs[1]["META"])
	assert.NotEmpty(t, attrs[0]["CREATED"])

	shapes, _ = readAll(t, res.Files[1])
	require.Len(t, shapes, 1)
	line, ok := shapes[0].(*shp.PolyLine)
	require.True(t, ok)
	assert.Equal(t, int32(1), line.NumParts)
	require.Len(t, line.Points, 3)
	assert.InDelta(t, 13.406, line.Points[2].X, 1e-9)
	assert.InDelta(t, 52.522, line.Points[2].Y, 1e-9)
}

func TestProjectExportMissing(t *testing.T) {
	st := newSQLite(t)
	_, err := Project(context.Background(), st, "missing", t.TempDir())
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestWritePinsSkipsNonPoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pins.shp")
	pins := []model.Pin{
		{ID: 1, Shape: "POINT(1 2)", ProfileID: "p", CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		{ID: 2, Shape: "LINESTRING(1 2,3 4)"},
		{ID: 3, Shape: "garbage"},
	}

	n, err := WritePins(path, pins)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, attrs := readAll(t, path)
	require.Len(t, attrs, 1)
	assert.Equal(t, "1", attrs[0]["ID"])
	assert.Equal(t, "2024-05-01T12:00:00Z", attrs[0]["CREATED"])
}

func TestWritePinsDropsOversizedMeta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pins.shp")
	pins := []model.Pin{{ID: 1, Shape: "POINT(1 2)", Meta: model.Meta{"note": strings.Repeat("x", 300)}}}

	n, err := WritePins(path, pins)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, attrs := readAll(t, path)
	assert.Empty(t, attrs[0]["META"])
}

func TestReadPinsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pins.shp")
	_, err := WritePins(path, []model.Pin{
		{ID: 1, Shape: "POINT(13.4 52.54)", Meta: model.Meta{"label": "cafe"}},
		{ID: 2, Shape: "POINT(-0.1 51.5)"},
	})
	require.NoError(t, err)

	pins, skipped, err := ReadPins(path, 9, "prof-2")
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, pins, 2)
	assert.Equal(t, model.Shape("POINT(13.4 52.54)"), pins[0].Shape)
	assert.Equal(t, int64(9), pins[0].ProjectID)
	assert.Equal(t, "prof-2", pins[0].ProfileID)
	assert.Equal(t, "cafe", pins[0].Meta["label"])
	assert.Equal(t, model.Shape("POINT(-0.1 51.5)"), pins[1].Shape)
	assert.Empty(t, pins[1].Meta)
}

func TestReadPinsSkipsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lines.shp")
	_, err := WriteDrawings(path, []model.Drawing{{ID: 1, Shape: "LINESTRING(1 2,3 4)"}})
	require.NoError(t, err)

	pins, skipped, err := ReadPins(path, 1, "p")
	require.NoError(t, err)
	assert.Empty(t, pins)
	assert.Equal(t, 1, skipped)
}

func TestReadPinsMissingFile(t *testing.T) {
	_, _, err := ReadPins(filepath.Join(t.TempDir(), "nope.shp"), 1, "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export: open shapefile")
}

func TestImportPins(t *testing.T) {
	ctx := context.Background()
	src := newSQLite(t)
	p := seedProject(t, src)
	res, err := Project(ctx, src, p.UUID, t.TempDir())
	require.NoError(t, err)

	dst := newSQLite(t)
	target, err := dst.CreateProject(ctx, model.NewDraft("prof-9", "bo"))
	require.NoError(t, err)

	n, err := ImportPins(ctx, dst, target.UUID, res.Files[0], "prof-9")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	pins, err := dst.ListPins(ctx, target.ID)
	require.NoError(t, err)
	require.Len(t, pins, 2)
	assert.Equal(t, "prof-9", pins[0].ProfileID)
}

func TestImportPinsMissingProject(t *testing.T) {
	st := newSQLite(t)
	_, err := ImportPins(context.Background(), st, "missing", "x.shp", "p")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}
