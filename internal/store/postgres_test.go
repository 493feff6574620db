package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mapboard/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewPostgres(mock), mock
}

func TestPostgres_Migrate(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	for range postgresMigration {
		mock.ExpectExec(`.*`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	mock.ExpectCommit()

	require.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MigrateRollsBackOnError(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE EXTENSION`).WillReturnError(eris.New("permission denied"))
	mock.ExpectRollback()

	err := st.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrate step 0")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetProject(t *testing.T) {
	st, mock := newMockStore(t)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM map_projects WHERE uuid = \$1`).
		WithArgs("u-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "uuid", "profile_id", "title", "description", "bounds", "published", "created_at"}).
			AddRow(int64(7), "u-1", "prof-1", "Trip", "desc", `{"north":2,"east":2,"south":1,"west":1}`, true, created))

	p, err := st.GetProject(context.Background(), "u-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, int64(7), p.ID)
	assert.Equal(t, "Trip", p.Title)
	assert.True(t, p.Published)
	require.NotNil(t, p.Bounds)
	assert.InDelta(t, 1.0, p.Bounds.West, 1e-9)
	assert.Equal(t, created, p.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetProjectAbsent(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM map_projects`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	p, err := st.GetProject(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestPostgres_CreateProject(t *testing.T) {
	st, mock := newMockStore(t)
	draft := model.NewDraft("prof-1", "ana")

	mock.ExpectQuery(`INSERT INTO map_projects .* RETURNING id`).
		WithArgs(draft.UUID, "prof-1", model.DraftTitle, "an untitled map by ana", nil, false, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(41)))

	p, err := st.CreateProject(context.Background(), draft)
	require.NoError(t, err)
	assert.Equal(t, int64(41), p.ID)
	assert.False(t, p.IsDraft)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateProject(t *testing.T) {
	st, mock := newMockStore(t)
	desc := "coast"
	published := true

	mock.ExpectExec(`UPDATE map_projects SET description = \$1, published = \$2 WHERE uuid = \$3`).
		WithArgs("coast", true, "u-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := st.UpdateProject(context.Background(), "u-1", model.ProjectPatch{Description: &desc, Published: &published})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateProjectBounds(t *testing.T) {
	st, mock := newMockStore(t)
	b := model.Bounds{North: 1, East: 2, South: 3, West: 4}

	mock.ExpectExec(`UPDATE map_projects SET bounds = \$1 WHERE uuid = \$2`).
		WithArgs(`{"north":1,"east":2,"south":3,"west":4}`, "u-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.UpdateProject(context.Background(), "u-1", model.ProjectPatch{Bounds: &b}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateProjectNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	title := "x"

	mock.ExpectExec(`UPDATE map_projects`).
		WithArgs("x", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.UpdateProject(context.Background(), "missing", model.ProjectPatch{Title: &title})
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestPostgres_DeleteProject(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM map_projects WHERE uuid = \$1`).
		WithArgs("u-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, st.DeleteProject(context.Background(), "u-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertPin(t *testing.T) {
	st, mock := newMockStore(t)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO pins .*ST_GeomFromText\(\$1, 4326\)`).
		WithArgs("POINT(13.4 52.5)", "{}", int64(7), "prof-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(99), created))

	pin, err := st.InsertPin(context.Background(), model.NewPin(model.Coordinate{Lng: 13.4, Lat: 52.5}, 7, "prof-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(99), pin.ID)
	assert.Equal(t, created, pin.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListDrawings(t *testing.T) {
	st, mock := newMockStore(t)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, ST_AsText\(shape\).* FROM drawings WHERE project_id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "shape", "meta", "project_id", "profile_id", "created_at"}).
			AddRow(int64(1), "LINESTRING(1 2,3 4)", `{"stroke":"blue"}`, int64(7), "prof-1", created).
			AddRow(int64(2), "LINESTRING(5 6)", `{}`, int64(7), "", created))

	drawings, err := st.ListDrawings(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, drawings, 2)
	assert.Equal(t, "blue", drawings[0].Meta["stroke"])
	assert.Equal(t, model.Shape("LINESTRING(5 6)"), drawings[1].Shape)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_BulkInsertPinsBatches(t *testing.T) {
	st, mock := newMockStore(t)
	st.batchSize = 2

	pins := []model.Pin{
		model.NewPin(model.Coordinate{Lng: 1, Lat: 1}, 7, "prof-1"),
		model.NewPin(model.Coordinate{Lng: 2, Lat: 2}, 7, "prof-1"),
		model.NewPin(model.Coordinate{Lng: 3, Lat: 3}, 7, ""),
	}
	columns := []string{"shape", "meta", "project_id", "profile_id", "created_at"}
	mock.ExpectCopyFrom(pgx.Identifier{"pins"}, columns).WillReturnResult(2)
	mock.ExpectCopyFrom(pgx.Identifier{"pins"}, columns).WillReturnResult(1)

	n, err := st.BulkInsertPins(context.Background(), pins)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_BulkInsertPinsBadShape(t *testing.T) {
	st, _ := newMockStore(t)

	_, err := st.BulkInsertPins(context.Background(), []model.Pin{{Shape: "LINESTRING(", ProjectID: 7}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: pin 0")
}

func TestPostgres_InsertPinsUsesCopy(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"pins"}, []string{"shape", "meta", "project_id", "profile_id", "created_at"}).
		WillReturnResult(1)

	n, err := InsertPins(context.Background(), st, []model.Pin{model.NewPin(model.Coordinate{Lng: 1, Lat: 1}, 7, "p")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
