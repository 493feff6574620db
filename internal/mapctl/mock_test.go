package mapctl

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/mapboard/internal/backend"
	"github.com/sells-group/mapboard/internal/model"
	"github.com/sells-group/mapboard/internal/store"
	"github.com/sells-group/mapboard/internal/tiles"
)

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

var _ store.Store = (*mockStore)(nil)

func (m *mockStore) GetProject(ctx context.Context, uuid string) (*model.MapProject, error) {
	args := m.Called(ctx, uuid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MapProject), args.Error(1)
}

func (m *mockStore) ListProjects(ctx context.Context, profileID string) ([]model.MapProject, error) {
	args := m.Called(ctx, profileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.MapProject), args.Error(1)
}

func (m *mockStore) CreateProject(ctx context.Context, p *model.MapProject) (*model.MapProject, error) {
	args := m.Called(ctx, p)
	if fn, ok := args.Get(0).(func(context.Context, *model.MapProject) (*model.MapProject, error)); ok {
		return fn(ctx, p)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MapProject), args.Error(1)
}

func (m *mockStore) UpdateProject(ctx context.Context, uuid string, patch model.ProjectPatch) error {
	return m.Called(ctx, uuid, patch).Error(0)
}

func (m *mockStore) DeleteProject(ctx context.Context, uuid string) error {
	return m.Called(ctx, uuid).Error(0)
}

func (m *mockStore) InsertPin(ctx context.Context, pin model.Pin) (*model.Pin, error) {
	args := m.Called(ctx, pin)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Pin), args.Error(1)
}

func (m *mockStore) InsertDrawing(ctx context.Context, d model.Drawing) (*model.Drawing, error) {
	args := m.Called(ctx, d)
	if fn, ok := args.Get(0).(func(context.Context, model.Drawing) (*model.Drawing, error)); ok {
		return fn(ctx, d)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Drawing), args.Error(1)
}

func (m *mockStore) ListPins(ctx context.Context, projectID int64) ([]model.Pin, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Pin), args.Error(1)
}

func (m *mockStore) ListDrawings(ctx context.Context, projectID int64) ([]model.Drawing, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Drawing), args.Error(1)
}

func (m *mockStore) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Profile), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *mockStore) Close() error { return m.Called().Error(0) }

// --- Recording Renderer ---

type renderCall struct {
	name string
	args []any
}

type recordingRenderer struct {
	mu      sync.Mutex
	calls   []renderCall
	cursor  string
	glyph   string
	dragPan bool
	preview *geojson.FeatureCollection
	sources map[string][]string
	blurs   int
}

func newRecordingRenderer() *recordingRenderer {
	return &recordingRenderer{sources: make(map[string][]string)}
}

func (r *recordingRenderer) record(name string, args ...any) {
	r.calls = append(r.calls, renderCall{name: name, args: args})
}

func (r *recordingRenderer) SetCursor(cursor string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = cursor
	r.record("SetCursor", cursor)
}

func (r *recordingRenderer) SetPointerGlyph(glyph string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.glyph = glyph
	r.record("SetPointerGlyph", glyph)
}

func (r *recordingRenderer) SetDragPan(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dragPan = enabled
	r.record("SetDragPan", enabled)
}

func (r *recordingRenderer) SetPreview(fc *geojson.FeatureCollection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preview = fc
	r.record("SetPreview", fc)
}

func (r *recordingRenderer) SetSourceTiles(id string, urls []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[id] = urls
	r.record("SetSourceTiles", id, urls)
}

func (r *recordingRenderer) FitBounds(b model.Bounds, padding int, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("FitBounds", b, padding, d)
}

func (r *recordingRenderer) FlyTo(center model.Coordinate, zoom float64, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("FlyTo", center, zoom, d)
}

func (r *recordingRenderer) Resize(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("Resize", width, height)
}

func (r *recordingRenderer) Blur() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blurs++
	r.record("Blur")
}

// named returns the recorded calls of one method, oldest first.
func (r *recordingRenderer) named(name string) []renderCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []renderCall
	for _, c := range r.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func (r *recordingRenderer) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// previewLen returns the vertex count of the live preview line.
func (r *recordingRenderer) previewLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.preview == nil || len(r.preview.Features) == 0 {
		return 0
	}
	g := r.preview.Features[0].Geometry
	return len(g.FlatCoords()) / g.Stride()
}

// --- Sessions ---

type staticSessions struct {
	mu   sync.Mutex
	sess *backend.Session
	ch   chan backend.SessionEvent
}

func newStaticSessions(sess *backend.Session) *staticSessions {
	return &staticSessions{sess: sess, ch: make(chan backend.SessionEvent, 8)}
}

func (s *staticSessions) Current() *backend.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// Subscribe queues the initial event the way backend.Sessions does.
func (s *staticSessions) Subscribe() (<-chan backend.SessionEvent, func()) {
	s.ch <- backend.SessionEvent{Kind: backend.SessionInitial, Session: s.Current()}
	return s.ch, func() {}
}

// signInDuringSubscribe reports no session from Current but queues a
// signed-in initial event, as when a sign-in lands while Run subscribes.
type signInDuringSubscribe struct {
	sess *backend.Session
}

func (s signInDuringSubscribe) Current() *backend.Session { return nil }

func (s signInDuringSubscribe) Subscribe() (<-chan backend.SessionEvent, func()) {
	ch := make(chan backend.SessionEvent, 1)
	ch <- backend.SessionEvent{Kind: backend.SessionInitial, Session: s.sess}
	return ch, func() {}
}

// --- Deferred Runner ---

// deferredRunner holds tasks until flush, so tests can interleave events
// with in-flight writes.
type deferredRunner struct {
	mu      sync.Mutex
	pending []func()
}

func (r *deferredRunner) Run(ctx context.Context, task Task, post func(func())) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, func() {
		if k := task(ctx); k != nil {
			post(k)
		}
	})
}

func (r *deferredRunner) take() []func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := r.pending
	r.pending = nil
	return pending
}

// flush completes held tasks in the order they started.
func (r *deferredRunner) flush() {
	for _, fn := range r.take() {
		fn()
	}
}

// flushReverse completes held tasks newest first.
func (r *deferredRunner) flushReverse() {
	pending := r.take()
	for i := len(pending) - 1; i >= 0; i-- {
		pending[i]()
	}
}

// --- Harness ---

const (
	testBaseURL = "https://geo.example.com"
	testUserID  = "user-1"
)

func testSession() *backend.Session {
	return &backend.Session{AccessToken: "tok-abc", UserID: testUserID, Email: "ana@example.com"}
}

type harness struct {
	ctl      *Controller
	store    *mockStore
	renderer *recordingRenderer
	inbox    *Inbox
	sessions *staticSessions
}

func newHarness(t *testing.T, sess *backend.Session, configure ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		store:    &mockStore{},
		renderer: newRecordingRenderer(),
		inbox:    NewInbox(10),
		sessions: newStaticSessions(sess),
	}
	h.store.On("GetProfile", mock.Anything, testUserID).
		Return(&model.Profile{ID: testUserID, Nickname: "Ana", Email: "ana@example.com"}, nil).Maybe()

	opts := Options{
		Store:    h.store,
		Sessions: h.sessions,
		Renderer: h.renderer,
		Notifier: h.inbox,
		Runner:   InlineRunner{},
		Tiles:    tiles.URLBuilder{BaseURL: testBaseURL, Path: "/tiles", APIKey: "anon"},
	}
	for _, fn := range configure {
		fn(&opts)
	}

	ctl, err := New(opts)
	require.NoError(t, err)
	h.ctl = ctl

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	h.sync(t)
	return h
}

// sync waits until every queued event has been handled.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, h.ctl.Do(context.Background(), func() {}))
}

func (h *harness) send(t *testing.T, events ...Event) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, h.ctl.Dispatch(context.Background(), ev))
	}
}

// loadProject makes p the active project through the store.
func (h *harness) loadProject(t *testing.T, p *model.MapProject) {
	t.Helper()
	h.store.On("GetProject", mock.Anything, p.UUID).Return(p.Clone(), nil).Once()
	require.NoError(t, h.ctl.LoadProject(context.Background(), p.UUID))
}

func (h *harness) messages() []string {
	var out []string
	for _, n := range h.inbox.Recent() {
		out = append(out, n.Message)
	}
	return out
}

func projectChange(t *testing.T, p *model.MapProject) backend.Change {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return backend.Change{Table: model.TableProjects, Event: backend.ChangeUpdate, New: raw}
}

func savedProject(id int64) *model.MapProject {
	return &model.MapProject{ID: id, UUID: fmt.Sprintf("u-%d", id), ProfileID: testUserID, Title: "Trip"}
}
