package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mapboard/internal/backend"
	"github.com/sells-group/mapboard/internal/model"
)

// RowsStore implements Store over the hosted row API. The schema belongs to
// the backend, so Migrate is a no-op, and deletes cascade server side.
type RowsStore struct {
	rows backend.Rows
}

var _ Store = (*RowsStore)(nil)

// NewRows returns a store backed by rows.
func NewRows(rows backend.Rows) *RowsStore {
	return &RowsStore{rows: rows}
}

func first[T any](rows []T) *T {
	if len(rows) == 0 {
		return nil
	}
	return &rows[0]
}

func (s *RowsStore) GetProject(ctx context.Context, uuid string) (*model.MapProject, error) {
	var rows []model.MapProject
	q := backend.Query{Filters: []backend.Filter{backend.Eq("uuid", uuid)}, Limit: 1}
	if err := s.rows.Select(ctx, model.TableProjects, q, &rows); err != nil {
		return nil, eris.Wrapf(err, "store: get project %s", uuid)
	}
	return first(rows), nil
}

func (s *RowsStore) ListProjects(ctx context.Context, profileID string) ([]model.MapProject, error) {
	var rows []model.MapProject
	q := backend.Query{Order: "created_at.desc"}
	if profileID != "" {
		q.Filters = []backend.Filter{backend.Eq("profile_id", profileID)}
	}
	if err := s.rows.Select(ctx, model.TableProjects, q, &rows); err != nil {
		return nil, eris.Wrap(err, "store: list projects")
	}
	return rows, nil
}

func (s *RowsStore) CreateProject(ctx context.Context, p *model.MapProject) (*model.MapProject, error) {
	row, err := insertable(p)
	if err != nil {
		return nil, err
	}
	var out []model.MapProject
	if err := s.rows.Insert(ctx, model.TableProjects, row, &out); err != nil {
		return nil, eris.Wrap(err, "store: create project")
	}
	created := first(out)
	if created == nil {
		return nil, eris.New("store: create project returned no row")
	}
	return created, nil
}

func (s *RowsStore) UpdateProject(ctx context.Context, uuid string, patch model.ProjectPatch) error {
	if patch.Empty() {
		return nil
	}
	if err := s.rows.Update(ctx, model.TableProjects, patch.Columns(), backend.Eq("uuid", uuid)); err != nil {
		return eris.Wrapf(err, "store: update project %s", uuid)
	}
	return nil
}

func (s *RowsStore) DeleteProject(ctx context.Context, uuid string) error {
	if err := s.rows.Delete(ctx, model.TableProjects, backend.Eq("uuid", uuid)); err != nil {
		return eris.Wrapf(err, "store: delete project %s", uuid)
	}
	return nil
}

func (s *RowsStore) InsertPin(ctx context.Context, pin model.Pin) (*model.Pin, error) {
	var out []model.Pin
	if err := s.rows.Insert(ctx, model.TablePins, pin, &out); err != nil {
		return nil, eris.Wrap(err, "store: insert pin")
	}
	if p := first(out); p != nil {
		return p, nil
	}
	return &pin, nil
}

func (s *RowsStore) InsertDrawing(ctx context.Context, d model.Drawing) (*model.Drawing, error) {
	var out []model.Drawing
	if err := s.rows.Insert(ctx, model.TableDrawings, d, &out); err != nil {
		return nil, eris.Wrap(err, "store: insert drawing")
	}
	if row := first(out); row != nil {
		return row, nil
	}
	return &d, nil
}

func (s *RowsStore) ListPins(ctx context.Context, projectID int64) ([]model.Pin, error) {
	var rows []model.Pin
	q := backend.Query{Filters: []backend.Filter{backend.Eq("project_id", projectID)}, Order: "id"}
	if err := s.rows.Select(ctx, model.TablePins, q, &rows); err != nil {
		return nil, eris.Wrap(err, "store: list pins")
	}
	return rows, nil
}

func (s *RowsStore) ListDrawings(ctx context.Context, projectID int64) ([]model.Drawing, error) {
	var rows []model.Drawing
	q := backend.Query{Filters: []backend.Filter{backend.Eq("project_id", projectID)}, Order: "id"}
	if err := s.rows.Select(ctx, model.TableDrawings, q, &rows); err != nil {
		return nil, eris.Wrap(err, "store: list drawings")
	}
	return rows, nil
}

func (s *RowsStore) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	var rows []model.Profile
	q := backend.Query{Filters: []backend.Filter{backend.Eq("id", id)}, Limit: 1}
	if err := s.rows.Select(ctx, model.TableProfiles, q, &rows); err != nil {
		return nil, eris.Wrapf(err, "store: get profile %s", id)
	}
	return first(rows), nil
}

func (s *RowsStore) Migrate(context.Context) error { return nil }

func (s *RowsStore) Close() error { return nil }
