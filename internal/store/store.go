// Package store is the typed persistence API for map projects, pins,
// drawings and profiles, with row-API, Postgres and SQLite backends.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mapboard/internal/model"
)

// ErrNotFound is returned by updates and deletes that match no row.
var ErrNotFound = eris.New("store: not found")

// Store is the persistence interface of the editor. Getters return nil, nil
// when the row does not exist so callers can tell "absent" from "failed".
type Store interface {
	// Projects
	GetProject(ctx context.Context, uuid string) (*model.MapProject, error)
	ListProjects(ctx context.Context, profileID string) ([]model.MapProject, error)
	CreateProject(ctx context.Context, p *model.MapProject) (*model.MapProject, error)
	UpdateProject(ctx context.Context, uuid string, patch model.ProjectPatch) error
	DeleteProject(ctx context.Context, uuid string) error

	// Annotations
	InsertPin(ctx context.Context, pin model.Pin) (*model.Pin, error)
	InsertDrawing(ctx context.Context, d model.Drawing) (*model.Drawing, error)
	ListPins(ctx context.Context, projectID int64) ([]model.Pin, error)
	ListDrawings(ctx context.Context, projectID int64) ([]model.Drawing, error)

	// Profiles
	GetProfile(ctx context.Context, id string) (*model.Profile, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// PinLoader is implemented by stores that can bulk-load pins.
type PinLoader interface {
	BulkInsertPins(ctx context.Context, pins []model.Pin) (int64, error)
}

// InsertPins loads pins through PinLoader when st supports it and one row
// at a time otherwise.
func InsertPins(ctx context.Context, st Store, pins []model.Pin) (int64, error) {
	if l, ok := st.(PinLoader); ok {
		return l.BulkInsertPins(ctx, pins)
	}
	var n int64
	for _, p := range pins {
		if _, err := st.InsertPin(ctx, p); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func insertable(p *model.MapProject) (*model.MapProject, error) {
	if p == nil {
		return nil, eris.New("store: nil project")
	}
	if p.UUID == "" {
		return nil, eris.New("store: project has no uuid")
	}
	c := p.Clone()
	c.Normalize()
	c.ID = 0
	c.IsDraft = false
	return c, nil
}
