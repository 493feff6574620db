package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/mapboard/internal/model"
)

// SQLiteStore implements Store on a local modernc.org/sqlite file for
// offline editing and tests.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens the database at dsn. A single connection is used so the
// foreign_keys pragma applies to every statement.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS map_projects (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid        TEXT NOT NULL UNIQUE,
	profile_id  TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	bounds      TEXT,
	published   INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pins (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	shape      TEXT NOT NULL,
	meta       TEXT NOT NULL DEFAULT '{}',
	project_id INTEGER NOT NULL REFERENCES map_projects(id) ON DELETE CASCADE,
	profile_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS drawings (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	shape      TEXT NOT NULL,
	meta       TEXT NOT NULL DEFAULT '{}',
	project_id INTEGER NOT NULL REFERENCES map_projects(id) ON DELETE CASCADE,
	profile_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS profiles (
	id        TEXT PRIMARY KEY,
	nickname  TEXT NOT NULL DEFAULT '',
	email     TEXT NOT NULL DEFAULT '',
	photo_url TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_map_projects_profile ON map_projects(profile_id);
CREATE INDEX IF NOT EXISTS idx_pins_project ON pins(project_id);
CREATE INDEX IF NOT EXISTS idx_drawings_project ON drawings(project_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteProjectColumns = `id, uuid, profile_id, title, description, bounds, published, created_at`

func (s *SQLiteStore) GetProject(ctx context.Context, uuid string) (*model.MapProject, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteProjectColumns+` FROM map_projects WHERE uuid = ?`, uuid)
	p, err := scanSQLiteProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get project %s", uuid)
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context, profileID string) ([]model.MapProject, error) {
	query := `SELECT ` + sqliteProjectColumns + ` FROM map_projects`
	var args []any
	if profileID != "" {
		query += ` WHERE profile_id = ?`
		args = append(args, profileID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list projects")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.MapProject
	for rows.Next() {
		p, err := scanSQLiteProject(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan project")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate projects")
}

func (s *SQLiteStore) CreateProject(ctx context.Context, p *model.MapProject) (*model.MapProject, error) {
	row, err := insertable(p)
	if err != nil {
		return nil, err
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	bounds, err := encodeBounds(row.Bounds)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO map_projects (uuid, profile_id, title, description, bounds, published, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.UUID, row.ProfileID, row.Title, row.Description, bounds, row.Published, row.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert project")
	}
	if row.ID, err = res.LastInsertId(); err != nil {
		return nil, eris.Wrap(err, "sqlite: project id")
	}
	return row, nil
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, uuid string, patch model.ProjectPatch) error {
	if patch.Empty() {
		return nil
	}
	set, args, err := patchAssignments(patch, func(int) string { return "?" })
	if err != nil {
		return err
	}
	args = append(args, uuid)

	res, err := s.db.ExecContext(ctx, `UPDATE map_projects SET `+set+` WHERE uuid = ?`, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update project %s", uuid)
	}
	return checkRowsAffected(res, "project", uuid)
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, uuid string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM map_projects WHERE uuid = ?`, uuid)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete project %s", uuid)
	}
	return checkRowsAffected(res, "project", uuid)
}

func (s *SQLiteStore) insertAnnotation(ctx context.Context, table string, shape model.Shape, meta model.Meta, projectID int64, profileID string) (int64, time.Time, error) {
	if _, err := shape.Geometry(); err != nil {
		return 0, time.Time{}, err
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, time.Time{}, eris.Wrap(err, "sqlite: marshal meta")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (shape, meta, project_id, profile_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(shape), string(metaJSON), projectID, profileID, now,
	)
	if err != nil {
		return 0, time.Time{}, eris.Wrapf(err, "sqlite: insert into %s", table)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, time.Time{}, eris.Wrapf(err, "sqlite: %s id", table)
	}
	return id, now, nil
}

func (s *SQLiteStore) InsertPin(ctx context.Context, pin model.Pin) (*model.Pin, error) {
	id, at, err := s.insertAnnotation(ctx, model.TablePins, pin.Shape, pin.Meta, pin.ProjectID, pin.ProfileID)
	if err != nil {
		return nil, err
	}
	pin.ID, pin.CreatedAt = id, at
	return &pin, nil
}

func (s *SQLiteStore) InsertDrawing(ctx context.Context, d model.Drawing) (*model.Drawing, error) {
	id, at, err := s.insertAnnotation(ctx, model.TableDrawings, d.Shape, d.Meta, d.ProjectID, d.ProfileID)
	if err != nil {
		return nil, err
	}
	d.ID, d.CreatedAt = id, at
	return &d, nil
}

type annotationRow struct {
	id        int64
	shape     string
	meta      model.Meta
	projectID int64
	profileID string
	createdAt time.Time
}

func (s *SQLiteStore) listAnnotations(ctx context.Context, table string, projectID int64) ([]annotationRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, shape, meta, project_id, profile_id, created_at FROM `+table+` WHERE project_id = ? ORDER BY id`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list %s", table)
	}
	defer rows.Close() //nolint:errcheck

	var out []annotationRow
	for rows.Next() {
		var r annotationRow
		var metaJSON string
		if err := rows.Scan(&r.id, &r.shape, &metaJSON, &r.projectID, &r.profileID, &r.createdAt); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", table)
		}
		if err := json.Unmarshal([]byte(metaJSON), &r.meta); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal %s meta", table)
		}
		out = append(out, r)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: iterate %s", table)
}

func (s *SQLiteStore) ListPins(ctx context.Context, projectID int64) ([]model.Pin, error) {
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

func (s *SQLiteStore) ListDrawings(ctx context.Context, projectID int64) ([]model.Drawing, error) {
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

func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	var p model.Profile
	err := s.db.QueryRowContext(ctx,
		`SELECT id, nickname, email, photo_url FROM profiles WHERE id = ?`, id,
	).Scan(&p.ID, &p.Nickname, &p.Email, &p.PhotoURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get profile %s", id)
	}
	return &p, nil
}

// SaveProfile upserts a profile. The hosted backend owns profiles; this is
// for local databases.
func (s *SQLiteStore) SaveProfile(ctx context.Context, p model.Profile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, nickname, email, photo_url) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET nickname = excluded.nickname, email = excluded.email, photo_url = excluded.photo_url`,
		p.ID, p.Nickname, p.Email, p.PhotoURL,
	)
	return eris.Wrapf(err, "sqlite: save profile %s", p.ID)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteProject(row scannable) (*model.MapProject, error) {
	var p model.MapProject
	var bounds sql.NullString
	if err := row.Scan(&p.ID, &p.UUID, &p.ProfileID, &p.Title, &p.Description, &bounds, &p.Published, &p.CreatedAt); err != nil {
		return nil, err
	}
	if bounds.Valid && bounds.String != "" {
		p.Bounds = &model.Bounds{}
		if err := json.Unmarshal([]byte(bounds.String), p.Bounds); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal bounds")
		}
	}
	return &p, nil
}
