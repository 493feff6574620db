package mapctl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mapboard/internal/backend"
	"github.com/sells-group/mapboard/internal/model"
)

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{Renderer: newRecordingRenderer()})
	assert.Error(t, err)

	_, err = New(Options{Store: &mockStore{}})
	assert.Error(t, err)
}

func TestStartAppliesInitialState(t *testing.T) {
	h := newHarness(t, nil)

	st := h.ctl.Snapshot()
	assert.Equal(t, ToolHand, st.Tool)
	assert.True(t, st.DragPan)
	assert.Equal(t, LoadIdle, st.Load)
	assert.Equal(t, Viewport{Latitude: 50, Longitude: 15, Zoom: 1.5}, st.Initial)
	require.Len(t, st.Sources, 2)
	for _, src := range st.Sources {
		assert.Equal(t, "project_id=-1", src.Filter)
	}

	assert.Len(t, h.renderer.named("SetSourceTiles"), 2)
	assert.Equal(t, 0, h.renderer.previewLen())
}

func TestRunTwice(t *testing.T) {
	h := newHarness(t, nil)
	err := h.ctl.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestToolExclusivity(t *testing.T) {
	h := newHarness(t, nil)

	h.send(t, ToolEvent{Tool: ToolPin}, ToolEvent{Tool: ToolDraw})
	st := h.ctl.Snapshot()
	assert.Equal(t, ToolDraw, st.Tool)
	assert.Equal(t, CursorCrosshair, st.Cursor)
	assert.False(t, st.DragPan)
	assert.False(t, h.renderer.dragPan)

	h.send(t, KeyEvent{Key: "4"})
	st = h.ctl.Snapshot()
	assert.Equal(t, ToolSign, st.Tool)
	assert.Equal(t, CursorCopy, st.Cursor)
	assert.True(t, st.DragPan)
	assert.Equal(t, "💬", h.renderer.glyph)

	h.send(t, ToolEvent{Tool: "eraser"})
	assert.Equal(t, ToolSign, h.ctl.Snapshot().Tool, "unknown tool ignored")
}

func TestEscapePrecedence(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, KeyEvent{Key: "3"})
	require.Equal(t, ToolPin, h.ctl.Snapshot().Tool)

	h.send(t, KeyEvent{Key: KeyEscape, Focus: FocusInput})
	assert.Equal(t, ToolPin, h.ctl.Snapshot().Tool, "input keeps the key")
	assert.Equal(t, 1, h.renderer.blurs)

	h.send(t, KeyEvent{Key: "2", Focus: FocusEditable})
	assert.Equal(t, ToolPin, h.ctl.Snapshot().Tool, "shortcuts not forwarded from editable")
	assert.Equal(t, 1, h.renderer.blurs, "only Escape blurs")

	h.send(t, KeyEvent{Key: KeyEscape})
	assert.Equal(t, ToolHand, h.ctl.Snapshot().Tool)
}

func TestSpaceRecenters(t *testing.T) {
	h := newHarness(t, nil)

	h.send(t, KeyEvent{Key: KeySpace, Focus: FocusInput})
	assert.Empty(t, h.renderer.named("FlyTo"))

	h.send(t, KeyEvent{Key: KeySpace})
	assert.Len(t, h.renderer.named("FlyTo"), 1)
}

func TestDragCursorFeedback(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, ToolEvent{Tool: ToolPin})

	h.send(t, DragEvent{Phase: DragStart})
	assert.Equal(t, CursorGrab, h.ctl.Snapshot().Cursor)
	h.send(t, DragEvent{Phase: Drag})
	assert.Equal(t, CursorGrabbing, h.ctl.Snapshot().Cursor)
	h.send(t, DragEvent{Phase: DragEnd})
	assert.Equal(t, CursorCrosshair, h.ctl.Snapshot().Cursor)
	assert.Equal(t, CursorCrosshair, h.renderer.cursor)
}

func TestCameraMoveTracksAwayFromInitial(t *testing.T) {
	h := newHarness(t, nil)

	h.send(t, CameraEvent{Viewport: Viewport{Latitude: 50.000005, Longitude: 15, Zoom: 1.5}})
	assert.False(t, h.ctl.Snapshot().AwayFromInitial)

	h.send(t, CameraEvent{Viewport: Viewport{Latitude: 50, Longitude: 15, Zoom: 2}})
	assert.True(t, h.ctl.Snapshot().AwayFromInitial)

	h.send(t, CameraEvent{Viewport: Viewport{Latitude: 50, Longitude: 15, Zoom: 1.5}})
	assert.False(t, h.ctl.Snapshot().AwayFromInitial)
}

func TestResizeForwardedToRenderer(t *testing.T) {
	h := newHarness(t, nil)
	started := h.renderer.named("Resize")
	require.Len(t, started, 1)
	assert.Equal(t, []any{1280, 800}, started[0].args)

	h.loadProject(t, &model.MapProject{ID: 7, UUID: "u-7", Bounds: &model.Bounds{North: 52.6, East: 13.5, South: 52.4, West: 13.3}})
	h.sync(t)
	before := h.ctl.Snapshot().Initial

	h.renderer.reset()
	h.send(t, ResizeEvent{Width: 600, Height: 400}, ResizeEvent{Width: 0, Height: 400})

	resized := h.renderer.named("Resize")
	require.Len(t, resized, 1, "non-positive sizes ignored")
	assert.Equal(t, []any{600, 400}, resized[0].args)
	assert.NotEqual(t, before.Zoom, h.ctl.Snapshot().Initial.Zoom)
}

func TestNewProjectRecentersOnRemoteBounds(t *testing.T) {
	h := newHarness(t, testSession())
	h.store.On("CreateProject", mock.Anything, mock.AnythingOfType("*model.MapProject")).
		Return(func(_ context.Context, p *model.MapProject) (*model.MapProject, error) {
			saved := p.Clone()
			saved.ID = 21
			saved.IsDraft = false
			return saved, nil
		}).Once()

	uuid, err := h.ctl.NewProject(context.Background())
	require.NoError(t, err)

	st := h.ctl.Snapshot()
	require.NotNil(t, st.Project)
	assert.Equal(t, uuid, st.Project.UUID)
	assert.Equal(t, int64(21), st.Project.ID)
	assert.Equal(t, model.DraftTitle, st.Project.Title)
	assert.Equal(t, "an untitled map by Ana", st.Project.Description)
	assert.Nil(t, st.Project.Bounds)
	assert.Equal(t, Viewport{Latitude: 50.0, Longitude: 15.0, Zoom: 1.5}, st.Initial)
	assert.Equal(t, "project_id=21", st.Sources[0].Filter)

	remote := st.Project.Clone()
	remote.Bounds = &model.Bounds{North: 52.6, East: 13.5, South: 52.4, West: 13.3}
	require.NoError(t, h.ctl.ApplyChange(context.Background(), projectChange(t, remote)))

	h.renderer.reset()
	h.send(t, RecenterEvent{})

	fit := h.renderer.named("FitBounds")
	require.Len(t, fit, 1)
	assert.Equal(t, []any{*remote.Bounds, 100, 1000 * time.Millisecond}, fit[0].args)
	assert.Empty(t, h.renderer.named("FlyTo"))
}

func TestDrawingSubmittedAsLineString(t *testing.T) {
	h := newHarness(t, testSession())
	h.loadProject(t, savedProject(7))

	var sent model.Drawing
	h.store.On("InsertDrawing", mock.Anything, mock.AnythingOfType("model.Drawing")).
		Run(func(args mock.Arguments) { sent = args.Get(1).(model.Drawing) }).
		Return(func(_ context.Context, d model.Drawing) (*model.Drawing, error) {
			d.ID = 1
			return &d, nil
		}).Once()
	h.store.On("UpdateProject", mock.Anything, "u-7", mock.Anything).Return(nil).Once()

	h.send(t, ToolEvent{Tool: ToolDraw})
	h.renderer.reset()
	h.send(t,
		PointerEvent{Action: PointerDown, At: model.Coordinate{Lng: 13.404, Lat: 52.520}},
		PointerEvent{Action: PointerMove, At: model.Coordinate{Lng: 13.405, Lat: 52.521}},
		PointerEvent{Action: PointerMove, At: model.Coordinate{Lng: 13.406, Lat: 52.522}},
		PointerEvent{Action: PointerUp, At: model.Coordinate{Lng: 13.406, Lat: 52.522}},
	)

	assert.Equal(t, model.Shape("LINESTRING(13.404 52.52,13.405 52.521,13.406 52.522)"), sent.Shape)
	assert.Equal(t, int64(7), sent.ProjectID)
	assert.Equal(t, testUserID, sent.ProfileID)

	previews := h.renderer.named("SetPreview")
	require.Len(t, previews, 4, "down, two moves, reset")
	assert.Equal(t, 0, h.renderer.previewLen())

	refreshed := h.renderer.named("SetSourceTiles")
	require.Len(t, refreshed, 1)
	assert.Equal(t, "public.drawings", refreshed[0].args[0])

	st := h.ctl.Snapshot()
	assert.False(t, st.Drawing)
	require.NotNil(t, st.Project.Bounds)
	assert.Equal(t, model.Bounds{North: 52.522, East: 13.406, South: 52.52, West: 13.404}, *st.Project.Bounds)
	h.store.AssertExpectations(t)
}

func TestPinInsertedRefreshesPinsSource(t *testing.T) {
	h := newHarness(t, testSession())
	h.loadProject(t, savedProject(7))

	want := model.Pin{Shape: "POINT(13.41 52.53)", Meta: model.Meta{}, ProjectID: 7, ProfileID: testUserID}
	h.store.On("InsertPin", mock.Anything, want).Return(&model.Pin{ID: 5, Shape: want.Shape, ProjectID: 7, ProfileID: testUserID}, nil).Once()
	bounds := model.Bounds{North: 52.53, East: 13.41, South: 52.53, West: 13.41}
	h.store.On("UpdateProject", mock.Anything, "u-7", model.ProjectPatch{Bounds: &bounds}).Return(nil).Once()

	h.send(t, ToolEvent{Tool: ToolPin})
	h.renderer.reset()
	h.send(t, PointerEvent{Action: PointerClick, At: model.Coordinate{Lng: 13.41, Lat: 52.53}})

	refreshed := h.renderer.named("SetSourceTiles")
	require.Len(t, refreshed, 1)
	assert.Equal(t, "public.pins", refreshed[0].args[0])
	assert.Equal(t, []string{testBaseURL + "/tiles/public.pins/{z}/{x}/{y}.pbf?apikey=anon&filter=project_id%3D7"}, refreshed[0].args[1])
	assert.Empty(t, h.messages())
	h.store.AssertExpectations(t)
}

func TestPinWithoutProjectNotifies(t *testing.T) {
	h := newHarness(t, testSession())

	h.send(t, ToolEvent{Tool: ToolPin}, PointerEvent{Action: PointerClick, At: model.Coordinate{Lng: 13.41, Lat: 52.53}})

	h.store.AssertNotCalled(t, "InsertPin", mock.Anything, mock.Anything)
	assert.Equal(t, []string{MsgPinFailed}, h.messages())
}

func TestPinWithoutSession(t *testing.T) {
	h := newHarness(t, nil)
	h.loadProject(t, savedProject(7))

	h.send(t, ToolEvent{Tool: ToolPin}, PointerEvent{Action: PointerClick, At: model.Coordinate{Lng: 1, Lat: 1}})

	h.store.AssertNotCalled(t, "InsertPin", mock.Anything, mock.Anything)
	assert.Equal(t, []string{MsgPinFailed}, h.messages())
}

func TestPinInsertFailure(t *testing.T) {
	h := newHarness(t, testSession())
	h.loadProject(t, savedProject(7))
	h.store.On("InsertPin", mock.Anything, mock.Anything).Return(nil, errors.New("rls denied")).Once()

	h.send(t, ToolEvent{Tool: ToolPin})
	h.renderer.reset()
	h.send(t, PointerEvent{Action: PointerClick, At: model.Coordinate{Lng: 1, Lat: 1}})

	assert.Equal(t, []string{MsgPinFailed}, h.messages())
	assert.Empty(t, h.renderer.named("SetSourceTiles"))
	assert.Nil(t, h.ctl.Snapshot().Project.Bounds)
}

func TestDrawResetOnFailure(t *testing.T) {
	h := newHarness(t, testSession())
	h.loadProject(t, savedProject(7))
	h.store.On("InsertDrawing", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()

	h.send(t,
		ToolEvent{Tool: ToolDraw},
		PointerEvent{Action: PointerDown, At: model.Coordinate{Lng: 1, Lat: 1}},
		PointerEvent{Action: PointerMove, At: model.Coordinate{Lng: 2, Lat: 2}},
	)
	st := h.ctl.Snapshot()
	assert.True(t, st.Drawing)
	assert.Len(t, st.Path, 2)
	assert.Equal(t, 2, h.renderer.previewLen())

	h.send(t, PointerEvent{Action: PointerUp})

	st = h.ctl.Snapshot()
	assert.False(t, st.Drawing)
	assert.Empty(t, st.Path)
	assert.Equal(t, 0, h.renderer.previewLen())
	assert.Equal(t, []string{MsgDrawingFailed}, h.messages())
}

func TestDrawWithoutProjectRejectedLocally(t *testing.T) {
	h := newHarness(t, testSession())

	h.send(t,
		ToolEvent{Tool: ToolDraw},
		PointerEvent{Action: PointerDown, At: model.Coordinate{Lng: 1, Lat: 1}},
		PointerEvent{Action: PointerUp},
	)

	h.store.AssertNotCalled(t, "InsertDrawing", mock.Anything, mock.Anything)
	assert.Equal(t, []string{MsgDrawingFailed}, h.messages())
	assert.False(t, h.ctl.Snapshot().Drawing)
}

func TestSinglePointDrawingSubmitted(t *testing.T) {
	h := newHarness(t, testSession())
	h.loadProject(t, savedProject(7))
	h.store.On("InsertDrawing", mock.Anything, mock.MatchedBy(func(d model.Drawing) bool {
		return d.Shape == "LINESTRING(1 2)"
	})).Return(nil, errors.New("invalid geometry")).Once()

	h.send(t,
		ToolEvent{Tool: ToolDraw},
		PointerEvent{Action: PointerDown, At: model.Coordinate{Lng: 1, Lat: 2}},
		PointerEvent{Action: PointerUp},
	)
	h.store.AssertExpectations(t)
}

func TestMinPointsDropsShortPaths(t *testing.T) {
	h := newHarness(t, testSession(), func(o *Options) { o.MinPoints = 2 })
	h.loadProject(t, savedProject(7))

	h.send(t,
		ToolEvent{Tool: ToolDraw},
		PointerEvent{Action: PointerDown, At: model.Coordinate{Lng: 1, Lat: 2}},
		PointerEvent{Action: PointerUp},
	)

	h.store.AssertNotCalled(t, "InsertDrawing", mock.Anything, mock.Anything)
	assert.Empty(t, h.messages())
}

func TestMovesIgnoredOutsideDrawTool(t *testing.T) {
	h := newHarness(t, testSession())

	h.send(t,
		PointerEvent{Action: PointerDown, At: model.Coordinate{Lng: 1, Lat: 1}},
		PointerEvent{Action: PointerMove, At: model.Coordinate{Lng: 2, Lat: 2}},
		PointerEvent{Action: PointerUp},
	)
	assert.False(t, h.ctl.Snapshot().Drawing)
	assert.Empty(t, h.messages())
}

func TestToolChangeMidStrokeDiscardsStroke(t *testing.T) {
	for _, leave := range []Event{KeyEvent{Key: KeyEscape}, KeyEvent{Key: "1"}, ToolEvent{Tool: ToolPin}} {
		h := newHarness(t, testSession())
		h.loadProject(t, savedProject(7))

		h.send(t,
			ToolEvent{Tool: ToolDraw},
			PointerEvent{Action: PointerDown, At: model.Coordinate{Lng: 1, Lat: 1}},
			PointerEvent{Action: PointerMove, At: model.Coordinate{Lng: 2, Lat: 2}},
		)
		require.True(t, h.ctl.Snapshot().Drawing)
		require.Equal(t, 2, h.renderer.previewLen())

		h.send(t, leave)
		st := h.ctl.Snapshot()
		assert.NotEqual(t, ToolDraw, st.Tool)
		assert.False(t, st.Drawing)
		assert.Empty(t, st.Path)
		assert.Equal(t, 0, h.renderer.previewLen())

		h.send(t, PointerEvent{Action: PointerUp, At: model.Coordinate{Lng: 2, Lat: 2}})
		h.store.AssertNotCalled(t, "InsertDrawing", mock.Anything, mock.Anything)
		assert.Empty(t, h.messages())
	}
}

func TestStaleWriteCompletionIgnored(t *testing.T) {
	runner := &deferredRunner{}
	h := newHarness(t, testSession(), func(o *Options) { o.Runner = runner })
	runner.flush()
	h.sync(t)

	first := savedProject(7)
	h.store.On("GetProject", mock.Anything, first.UUID).Return(first.Clone(), nil).Once()
	require.NoError(t, h.ctl.LoadProject(context.Background(), first.UUID))
	runner.flush()
	h.sync(t)

	h.store.On("InsertPin", mock.Anything, mock.Anything).Return(&model.Pin{ID: 1, Shape: "POINT(1 1)", ProjectID: 7}, nil).Once()
	h.send(t, ToolEvent{Tool: ToolPin}, PointerEvent{Action: PointerClick, At: model.Coordinate{Lng: 1, Lat: 1}})

	second := savedProject(8)
	h.store.On("GetProject", mock.Anything, second.UUID).Return(second.Clone(), nil).Once()
	require.NoError(t, h.ctl.LoadProject(context.Background(), second.UUID))

	// The second load completes before the pin insert.
	h.renderer.reset()
	runner.flushReverse()
	h.sync(t)

	st := h.ctl.Snapshot()
	assert.Equal(t, int64(8), st.Project.ID)
	assert.Nil(t, st.Project.Bounds, "stale write did not grow the new project")
	for _, c := range h.renderer.named("SetSourceTiles") {
		assert.NotContains(t, c.args[1].([]string)[0], "project_id%3D7")
	}
	h.store.AssertNotCalled(t, "UpdateProject", mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionSignInAndOut(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.ctl.HandleSession(context.Background(), backend.SessionEvent{
		Kind:    backend.SessionSignedIn,
		Session: testSession(),
	}))
	st := h.ctl.Snapshot()
	assert.Equal(t, testUserID, st.UserID)
	require.NotNil(t, st.Profile)
	assert.Equal(t, "Ana", st.Profile.Nickname)
	assert.Equal(t, []string{"Welcome back, ana@example.com"}, h.messages())

	require.NoError(t, h.ctl.HandleSession(context.Background(), backend.SessionEvent{Kind: backend.SessionSignedOut}))
	st = h.ctl.Snapshot()
	assert.Empty(t, st.UserID)
	assert.Nil(t, st.Profile)
}

func TestSessionEventsForwardedFromProvider(t *testing.T) {
	h := newHarness(t, nil)

	h.sessions.ch <- backend.SessionEvent{Kind: backend.SessionSignedIn, Session: testSession()}

	assert.Eventually(t, func() bool {
		_ = h.ctl.Do(context.Background(), func() {})
		return h.ctl.Snapshot().UserID == testUserID
	}, time.Second, 10*time.Millisecond)
}

func TestInitialSessionTakenFromSubscription(t *testing.T) {
	h := newHarness(t, nil, func(o *Options) {
		o.Sessions = signInDuringSubscribe{sess: testSession()}
	})

	st := h.ctl.Snapshot()
	assert.Equal(t, testUserID, st.UserID)
	require.NotNil(t, st.Profile)
	assert.Empty(t, h.messages(), "initial session is not a sign-in")
}

func TestInitialSessionAppliedOnce(t *testing.T) {
	h := newHarness(t, testSession())
	h.sync(t)

	assert.Equal(t, testUserID, h.ctl.Snapshot().UserID)
	h.store.AssertNumberOfCalls(t, "GetProfile", 1)
}

func TestDoAfterStop(t *testing.T) {
	ctl, err := New(Options{Store: &mockStore{}, Renderer: newRecordingRenderer(), Runner: InlineRunner{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctl.Run(ctx)
	}()
	require.NoError(t, ctl.Do(context.Background(), func() {}))
	cancel()
	<-done

	assert.ErrorIs(t, ctl.Do(context.Background(), func() {}), ErrStopped)
}
