// Package export writes a project's pins and drawings as ESRI shapefiles
// and loads pins back from point shapefiles.
package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mapboard/internal/model"
	"github.com/sells-group/mapboard/internal/store"
)

// ErrProjectNotFound is returned when the project uuid matches no row.
var ErrProjectNotFound = eris.New("export: project not found")

// wgs84 is the .prj content for EPSG:4326.
const wgs84 = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

// DBF attribute columns. Names are limited to 10 bytes.
const (
	fieldID      = "ID"
	fieldProfile = "PROFILE"
	fieldCreated = "CREATED"
	fieldMeta    = "META"

	metaSize = 254
)

var fields = []shp.Field{
	shp.NumberField(fieldID, 18),
	shp.StringField(fieldProfile, 64),
	shp.StringField(fieldCreated, 32),
	shp.StringField(fieldMeta, metaSize),
}

// Result summarizes an export.
type Result struct {
	Project  string   `json:"project"`
	Pins     int      `json:"pins"`
	Drawings int      `json:"drawings"`
	Files    []string `json:"files"`
}

// Project writes <dir>/<uuid>_pins.shp (POINT) and <dir>/<uuid>_drawings.shp
// (POLYLINE), each with its .dbf, .shx and .prj.
func Project(ctx context.Context, st store.Store, uuid, dir string) (*Result, error) {
	p, err := st.GetProject(ctx, uuid)
	if err != nil {
		return nil, eris.Wrapf(err, "export: get project %s", uuid)
	}
	if p == nil {
		return nil, eris.Wrapf(ErrProjectNotFound, "export: %s", uuid)
	}

	pins, err := st.ListPins(ctx, p.ID)
	if err != nil {
		return nil, eris.Wrap(err, "export: list pins")
	}
	drawings, err := st.ListDrawings(ctx, p.ID)
	if err != nil {
		return nil, eris.Wrap(err, "export: list drawings")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create %s", dir)
	}

	res := &Result{Project: uuid}
	pinsPath := filepath.Join(dir, uuid+"_pins.shp")
	if res.Pins, err = WritePins(pinsPath, pins); err != nil {
		return nil, err
	}
	drawingsPath := filepath.Join(dir, uuid+"_drawings.shp")
	if res.Drawings, err = WriteDrawings(drawingsPath, drawings); err != nil {
		return nil, err
	}
	res.Files = []string{pinsPath, drawingsPath}

	zap.L().Info("export: project written",
		zap.String("project", uuid),
		zap.Int("pins", res.Pins),
		zap.Int("drawings", res.Drawings),
		zap.String("dir", dir),
	)
	return res, nil
}

// WritePins writes pins as a POINT shapefile and returns how many were
// written. Pins whose shape is not a point are skipped.
func WritePins(path string, pins []model.Pin) (int, error) {
	w, err := create(path, shp.POINT)
	if err != nil {
		return 0, err
	}
	defer w.Close()

	var n, skipped int
	for _, p := range pins {
		g, err := p.Shape.Geometry()
		if err != nil {
			skipped++
			continue
		}
		coords := model.CoordinatesOf(g)
		if len(coords) != 1 {
			skipped++
			continue
		}
		row := w.Write(&shp.Point{X: coords[0].Lng, Y: coords[0].Lat})
		if err := writeAttributes(w, int(row), p.ID, p.ProfileID, p.CreatedAt, p.Meta); err != nil {
			return n, eris.Wrapf(err, "export: pin %d", p.ID)
		}
		n++
	}
	logSkipped(path, skipped)
	return n, nil
}

// WriteDrawings writes drawings as a single-part POLYLINE shapefile.
func WriteDrawings(path string, drawings []model.Drawing) (int, error) {
	w, err := create(path, shp.POLYLINE)
	if err != nil {
		return 0, err
	}
	defer w.Close()

	var n, skipped int
	for _, d := range drawings {
		g, err := d.Shape.Geometry()
		if err != nil {
			skipped++
			continue
		}
		coords := model.CoordinatesOf(g)
		if len(coords) == 0 {
			skipped++
			continue
		}
		points := make([]shp.Point, len(coords))
		for i, c := range coords {
			points[i] = shp.Point{X: c.Lng, Y: c.Lat}
		}
		row := w.Write(shp.NewPolyLine([][]shp.Point{points}))
		if err := writeAttributes(w, int(row), d.ID, d.ProfileID, d.CreatedAt, d.Meta); err != nil {
			return n, eris.Wrapf(err, "export: drawing %d", d.ID)
		}
		n++
	}
	logSkipped(path, skipped)
	return n, nil
}

func create(path string, t shp.ShapeType) (*shp.Writer, error) {
	w, err := shp.Create(path, t)
	if err != nil {
		return nil, eris.Wrapf(err, "export: create %s", path)
	}
	if err := w.SetFields(fields); err != nil {
		w.Close()
		return nil, eris.Wrapf(err, "export: set fields %s", path)
	}
	prj := strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
	if err := os.WriteFile(prj, []byte(wgs84), 0o644); err != nil {
		w.Close()
		return nil, eris.Wrapf(err, "export: write %s", prj)
	}
	return w, nil
}

func writeAttributes(w *shp.Writer, row int, id int64, profileID string, created time.Time, meta model.Meta) error {
	if err := w.WriteAttribute(row, 0, strconv.FormatInt(id, 10)); err != nil {
		return err
	}
	if err := w.WriteAttribute(row, 1, profileID); err != nil {
		return err
	}
	if !created.IsZero() {
		if err := w.WriteAttribute(row, 2, created.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	if len(meta) > 0 {
		raw, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		// Oversized metadata is left out rather than cut into invalid JSON.
		if len(raw) <= metaSize {
			return w.WriteAttribute(row, 3, string(raw))
		}
	}
	return nil
}

func logSkipped(path string, skipped int) {
	if skipped > 0 {
		zap.L().Debug("export: skipped annotations",
			zap.String("file", path),
			zap.Int("skipped", skipped),
		)
	}
}
