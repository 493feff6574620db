package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/mapboard/internal/db"
	"github.com/sells-group/mapboard/internal/model"
)

const defaultCopyBatch = 5000

// PostgresStore implements Store directly against a PostGIS database with
// the same schema the hosted backend exposes.
type PostgresStore struct {
	pool      db.Pool
	batchSize int
}

var (
	_ Store     = (*PostgresStore)(nil)
	_ PinLoader = (*PostgresStore)(nil)
)

// NewPostgres wraps an open pool.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, batchSize: defaultCopyBatch}
}

// OpenPostgres connects to url and returns a store that owns the pool.
func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewPostgres(pool), nil
}

var postgresMigration = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,
	`CREATE TABLE IF NOT EXISTS map_projects (
		id          BIGSERIAL PRIMARY KEY,
		uuid        TEXT NOT NULL UNIQUE,
		profile_id  TEXT,
		title       TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		bounds      JSONB,
		published   BOOLEAN NOT NULL DEFAULT false,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS pins (
		id         BIGSERIAL PRIMARY KEY,
		shape      geometry(Point, 4326) NOT NULL,
		meta       JSONB NOT NULL DEFAULT '{}',
		project_id BIGINT NOT NULL REFERENCES map_projects(id) ON DELETE CASCADE,
		profile_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS drawings (
		id         BIGSERIAL PRIMARY KEY,
		shape      geometry(LineString, 4326) NOT NULL,
		meta       JSONB NOT NULL DEFAULT '{}',
		project_id BIGINT NOT NULL REFERENCES map_projects(id) ON DELETE CASCADE,
		profile_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		id        TEXT PRIMARY KEY,
		nickname  TEXT NOT NULL DEFAULT '',
		email     TEXT NOT NULL DEFAULT '',
		photo_url TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_map_projects_profile ON map_projects (profile_id)`,
	`CREATE INDEX IF NOT EXISTS idx_pins_project ON pins (project_id)`,
	`CREATE INDEX IF NOT EXISTS idx_drawings_project ON drawings (project_id)`,
	`CREATE INDEX IF NOT EXISTS idx_pins_shape ON pins USING GIST (shape)`,
	`CREATE INDEX IF NOT EXISTS idx_drawings_shape ON drawings USING GIST (shape)`,
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		for i, stmt := range postgresMigration {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return eris.Wrapf(err, "postgres: migrate step %d", i)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const pgProjectColumns = `id, uuid, COALESCE(profile_id, ''), title, description, COALESCE(bounds::text, ''), published, created_at`

func (s *PostgresStore) GetProject(ctx context.Context, uuid string) (*model.MapProject, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgProjectColumns+` FROM map_projects WHERE uuid = $1`, uuid)
	p, err := scanPgProject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get project %s", uuid)
	}
	return p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, profileID string) ([]model.MapProject, error) {
	query := `SELECT ` + pgProjectColumns + ` FROM map_projects`
	var args []any
	if profileID != "" {
		query += ` WHERE profile_id = $1`
		args = append(args, profileID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list projects")
	}
	defer rows.Close()

	var out []model.MapProject
	for rows.Next() {
		p, err := scanPgProject(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan project")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate projects")
}

func (s *PostgresStore) CreateProject(ctx context.Context, p *model.MapProject) (*model.MapProject, error) {
	row, err := insertable(p)
	if err != nil {
		return nil, err
	}
	bounds, err := encodeBounds(row.Bounds)
	if err != nil {
		return nil, err
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO map_projects (uuid, profile_id, title, description, bounds, published, created_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5::jsonb, $6, $7)
		 RETURNING id`,
		row.UUID, row.ProfileID, row.Title, row.Description, bounds, row.Published, row.CreatedAt,
	).Scan(&row.ID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert project")
	}
	return row, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, uuid string, patch model.ProjectPatch) error {
	if patch.Empty() {
		return nil
	}
	set, args, err := patchAssignments(patch, func(n int) string {
		return "$" + strconv.Itoa(n)
	})
	if err != nil {
		return err
	}
	args = append(args, uuid)

	tag, err := s.pool.Exec(ctx,
		`UPDATE map_projects SET `+set+` WHERE uuid = $`+strconv.Itoa(len(args)),
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update project %s", uuid)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "project %s", uuid)
	}
	return nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, uuid string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM map_projects WHERE uuid = $1`, uuid)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete project %s", uuid)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "project %s", uuid)
	}
	return nil
}

func (s *PostgresStore) insertAnnotation(ctx context.Context, table string, shape model.Shape, meta model.Meta, projectID int64, profileID string) (int64, time.Time, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, time.Time{}, eris.Wrap(err, "postgres: marshal meta")
	}
	var id int64
	var at time.Time
	err = s.pool.QueryRow(ctx,
		`INSERT INTO `+table+` (shape, meta, project_id, profile_id)
		 VALUES (ST_GeomFromText($1, 4326), $2::jsonb, $3, NULLIF($4, ''))
		 RETURNING id, created_at`,
		string(shape), string(metaJSON), projectID, profileID,
	).Scan(&id, &at)
	if err != nil {
		return 0, time.Time{}, eris.Wrapf(err, "postgres: insert into %s", table)
	}
	return id, at, nil
}

func (s *PostgresStore) InsertPin(ctx context.Context, pin model.Pin) (*model.Pin, error) {
	id, at, err := s.insertAnnotation(ctx, model.TablePins, pin.Shape, pin.Meta, pin.ProjectID, pin.ProfileID)
	if err != nil {
		return nil, err
	}
	pin.ID, pin.CreatedAt = id, at
	return &pin, nil
}

func (s *PostgresStore) InsertDrawing(ctx context.Context, d model.Drawing) (*model.Drawing, error) {
	id, at, err := s.insertAnnotation(ctx, model.TableDrawings, d.Shape, d.Meta, d.ProjectID, d.ProfileID)
	if err != nil {
		return nil, err
	}
	d.ID, d.CreatedAt = id, at
	return &d, nil
}

func (s *PostgresStore) listAnnotations(ctx context.Context, table string, projectID int64) ([]annotationRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, ST_AsText(shape), meta::text, project_id, COALESCE(profile_id, ''), created_at
		 FROM `+table+` WHERE project_id = $1 ORDER BY id`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list %s", table)
	}
	defer rows.Close()

	var out []annotationRow
	for rows.Next() {
		var r annotationRow
		var metaJSON string
		if err := rows.Scan(&r.id, &r.shape, &metaJSON, &r.projectID, &r.profileID, &r.createdAt); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", table)
		}
		if err := json.Unmarshal([]byte(metaJSON), &r.meta); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal %s meta", table)
		}
		out = append(out, r)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: iterate %s", table)
}

func (s *PostgresStore) ListPins(ctx context.Context, projectID int64) ([]model.Pin, error) {
	rows, err := s.listAnnotations(ctx, model.TablePins, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Pin, len(rows))
	for i, r := range rows {
		out[i] = model.Pin{ID: r.id, Shape: model.Shape(r.shape), Meta: r.meta, ProjectID: r.projectID, ProfileID: r.profileID, CreatedAt: r.createdAt}
	}
	return out, nil
}

func (s *PostgresStore) ListDrawings(ctx context.Context, projectID int64) ([]model.Drawing, error) {
	rows, err := s.listAnnotations(ctx, model.TableDrawings, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Drawing, len(rows))
	for i, r := range rows {
		out[i] = model.Drawing{ID: r.id, Shape: model.Shape(r.shape), Meta: r.meta, ProjectID: r.projectID, ProfileID: r.profileID, CreatedAt: r.createdAt}
	}
	return out, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	var p model.Profile
	err := s.pool.QueryRow(ctx,
		`SELECT id, nickname, email, photo_url FROM profiles WHERE id = $1`, id,
	).Scan(&p.ID, &p.Nickname, &p.Email, &p.PhotoURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get profile %s", id)
	}
	return &p, nil
}

// BulkInsertPins loads pins with the COPY protocol, encoding shapes as
// EWKB. Rows are sent in batches; the count of rows copied so far is
// returned alongside any error.
func (s *PostgresStore) BulkInsertPins(ctx context.Context, pins []model.Pin) (int64, error) {
	if len(pins) == 0 {
		return 0, nil
	}
	columns := []string{"shape", "meta", "project_id", "profile_id", "created_at"}
	now := time.Now().UTC()

	rows := make([][]any, 0, len(pins))
	for i, p := range pins {
		g, err := p.Shape.Geometry()
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: pin %d", i)
		}
		g, err = withSRID(g)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: pin %d", i)
		}
		shape, err := ewkb.Marshal(g, ewkb.NDR)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: encode pin %d", i)
		}
		meta, err := json.Marshal(p.Meta)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal pin %d meta", i)
		}
		var profileID any
		if p.ProfileID != "" {
			profileID = p.ProfileID
		}
		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		rows = append(rows, []any{shape, meta, p.ProjectID, profileID, createdAt})
	}

	log := zap.L().With(
		zap.String("component", "store.postgres"),
		zap.String("table", model.TablePins),
		zap.Int("total_rows", len(rows)),
	)

	var total int64
	for i := 0; i < len(rows); i += s.batchSize {
		end := min(i+s.batchSize, len(rows))
		n, err := db.CopyFrom(ctx, s.pool, model.TablePins, columns, rows[i:end])
		if err != nil {
			return total, eris.Wrapf(err, "postgres: copy pins (batch %d-%d)", i, end)
		}
		total += n
		log.Debug("batch loaded",
			zap.Int("batch_start", i),
			zap.Int("batch_end", end),
			zap.Int64("batch_rows", n),
		)
	}
	return total, nil
}

func scanPgProject(row pgx.Row) (*model.MapProject, error) {
	var p model.MapProject
	var bounds string
	if err := row.Scan(&p.ID, &p.UUID, &p.ProfileID, &p.Title, &p.Description, &bounds, &p.Published, &p.CreatedAt); err != nil {
		return nil, err
	}
	if bounds != "" {
		p.Bounds = &model.Bounds{}
		if err := json.Unmarshal([]byte(bounds), p.Bounds); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal bounds")
		}
	}
	return &p, nil
}

// withSRID stamps the WGS 84 SRID onto points and line strings parsed from
// WKT, which carries none.
func withSRID(g geom.T) (geom.T, error) {
	switch g := g.(type) {
	case *geom.Point:
		return g.SetSRID(model.SRID), nil
	case *geom.LineString:
		return g.SetSRID(model.SRID), nil
	default:
		return nil, eris.Errorf("store: unsupported geometry %T", g)
	}
}
