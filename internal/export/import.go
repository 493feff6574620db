package export

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mapboard/internal/model"
	"github.com/sells-group/mapboard/internal/store"
)

// ReadPins reads point records from a shapefile as unsaved pins of
// projectID. Non-point records are skipped and counted. A META attribute
// holding a JSON object becomes the pin metadata.
func ReadPins(path string, projectID int64, profileID string) ([]model.Pin, int, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "export: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	metaIdx := -1
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		if strings.EqualFold(name, fieldMeta) {
			metaIdx = i
		}
	}

	var pins []model.Pin
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		var c model.Coordinate
		switch s := shape.(type) {
		case *shp.Point:
			c = model.Coordinate{Lng: s.X, Lat: s.Y}
		case *shp.PointZ:
			c = model.Coordinate{Lng: s.X, Lat: s.Y}
		case *shp.PointM:
			c = model.Coordinate{Lng: s.X, Lat: s.Y}
		default:
			skipped++
			continue
		}

		pin := model.NewPin(c, projectID, profileID)
		if metaIdx >= 0 {
			raw := strings.TrimSpace(strings.TrimRight(reader.Attribute(metaIdx), "\x00"))
			if raw != "" {
				var meta model.Meta
				if err := json.Unmarshal([]byte(raw), &meta); err == nil {
					pin.Meta = meta
				}
			}
		}
		pins = append(pins, pin)
	}
	if err := reader.Err(); err != nil {
		return nil, skipped, eris.Wrapf(err, "export: read shapefile %s", path)
	}
	return pins, skipped, nil
}

// ImportPins loads the points of a shapefile into the project with uuid,
// through the store's bulk loader when it has one.
func ImportPins(ctx context.Context, st store.Store, uuid, path, profileID string) (int64, error) {
	p, err := st.GetProject(ctx, uuid)
	if err != nil {
		return 0, eris.Wrapf(err, "export: get project %s", uuid)
	}
	if p == nil {
		return 0, eris.Wrapf(ErrProjectNotFound, "export: %s", uuid)
	}

	pins, skipped, err := ReadPins(path, p.ID, profileID)
	if err != nil {
		return 0, err
	}
	n, err := store.InsertPins(ctx, st, pins)
	if err != nil {
		return n, eris.Wrap(err, "export: insert pins")
	}

	zap.L().Info("export: pins imported",
		zap.String("project", uuid),
		zap.Int64("inserted", n),
		zap.Int("skipped", skipped),
	)
	return n, nil
}
