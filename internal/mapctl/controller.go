// Package mapctl is the interactive map-editing controller: tool selection,
// viewport tracking, drawing accumulation, tile source refresh and the
// writes they trigger. All state lives on one event loop goroutine.
package mapctl

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mapboard/internal/backend"
	"github.com/sells-group/mapboard/internal/model"
	"github.com/sells-group/mapboard/internal/store"
	"github.com/sells-group/mapboard/internal/tiles"
)

// Errors returned by controller operations.
var (
	ErrStopped   = eris.New("mapctl: controller stopped")
	ErrNoSession = eris.New("mapctl: not signed in")
	ErrNoProject = eris.New("mapctl: no active project")
)

// LoadState is the progress of the active project fetch.
type LoadState string

// Load states. NotFound is only reached after the backend confirmed the
// project does not exist.
const (
	LoadIdle     LoadState = "idle"
	LoadLoading  LoadState = "loading"
	LoadLoaded   LoadState = "loaded"
	LoadNotFound LoadState = "not-found"
	LoadFailed   LoadState = "failed"
)

// Options configures a Controller. Store and Renderer are required.
type Options struct {
	Store    store.Store
	Sessions backend.SessionProvider
	Feed     backend.Feed
	Renderer Renderer
	Notifier Notifier
	Runner   Runner

	Tiles         tiles.URLBuilder
	PinsLayer     string
	DrawingsLayer string

	Viewport ViewportSettings
	// MinPoints is the shortest drawing submitted on release.
	MinPoints int
	Now       func() time.Time
}

// State is a point-in-time copy of the controller state.
type State struct {
	Tool            Tool               `json:"tool"`
	Cursor          string             `json:"cursor"`
	Glyph           string             `json:"glyph"`
	DragPan         bool               `json:"drag_pan"`
	Viewport        Viewport           `json:"viewport"`
	Initial         Viewport           `json:"initial"`
	AwayFromInitial bool               `json:"away_from_initial"`
	Drawing         bool               `json:"drawing"`
	Path            []model.Coordinate `json:"path"`
	Load            LoadState          `json:"load"`
	Project         *model.MapProject  `json:"project"`
	Sources         []tiles.Source     `json:"sources"`
	UserID          string             `json:"user_id,omitempty"`
	Profile         *model.Profile     `json:"profile,omitempty"`
}

// Controller is one editing session.
type Controller struct {
	store         store.Store
	sessions      backend.SessionProvider
	feed          backend.Feed
	renderer      Renderer
	notifier      Notifier
	runner        Runner
	sources       *TileSources
	settings      ViewportSettings
	pinsLayer     string
	drawingsLayer string
	minPoints     int
	now           func() time.Time

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	running atomic.Bool
	stopped chan struct{}
	state   atomic.Pointer[State]

	// Owned by the event loop.
	ctx        context.Context
	tool       Tool
	cursor     string
	lastCursor string
	dragPan    bool
	initial    Viewport
	current    Viewport
	away       bool
	drawing    Accumulator
	project    *model.MapProject
	load       LoadState
	loadSeq    uint64
	session    *backend.Session
	profile    *model.Profile
	stopFeed   context.CancelFunc
	pushing    bool
	pushes     []pendingPush
}

// New builds a controller. It does nothing until Run is called.
func New(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, eris.New("mapctl: store is required")
	}
	if opts.Renderer == nil {
		return nil, eris.New("mapctl: renderer is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = NewInbox(0)
	}
	if opts.Runner == nil {
		opts.Runner = &AsyncRunner{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PinsLayer == "" {
		opts.PinsLayer = "public.pins"
	}
	if opts.DrawingsLayer == "" {
		opts.DrawingsLayer = "public.drawings"
	}
	if opts.MinPoints <= 0 {
		opts.MinPoints = 1
	}
	settings := opts.Viewport.withDefaults()

	c := &Controller{
		store:         opts.Store,
		sessions:      opts.Sessions,
		feed:          opts.Feed,
		renderer:      opts.Renderer,
		notifier:      opts.Notifier,
		runner:        opts.Runner,
		sources:       NewTileSources(opts.Tiles, tiles.DefaultLayers(opts.PinsLayer, opts.DrawingsLayer)),
		settings:      settings,
		pinsLayer:     opts.PinsLayer,
		drawingsLayer: opts.DrawingsLayer,
		minPoints:     opts.MinPoints,
		now:           opts.Now,
		wake:          make(chan struct{}, 1),
		stopped:       make(chan struct{}),
		ctx:           context.Background(),
		tool:          ToolHand,
		cursor:        ToolHand.Presentation().Cursor,
		dragPan:       true,
		initial:       settings.Default,
		current:       settings.Default,
		load:          LoadIdle,
	}
	c.publish()
	return c, nil
}

// Run processes events until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return eris.New("mapctl: controller already running")
	}
	defer close(c.stopped)

	c.ctx = ctx

	var events <-chan backend.SessionEvent
	if c.sessions != nil {
		var unsubscribe func()
		events, unsubscribe = c.sessions.Subscribe()
		defer unsubscribe()
	}
	c.start(events)
	if events != nil {
		go c.forwardSessions(ctx, events)
	}

	log := zap.L().With(zap.String("component", "mapctl"))
	log.Debug("controller started")
	defer c.shutdown()

	for {
		c.runQueued()
		select {
		case <-ctx.Done():
			log.Debug("controller stopped")
			return nil
		case <-c.wake:
		}
	}
}

// Post queues an event without waiting for it to be handled.
func (c *Controller) Post(ev Event) {
	c.post(func() { c.handle(ev) })
}

// Dispatch handles ev on the event loop and waits for it. With an
// InlineRunner any writes it triggers have completed on return.
func (c *Controller) Dispatch(ctx context.Context, ev Event) error {
	return c.Do(ctx, func() { c.handle(ev) })
}

// Do runs fn on the event loop and waits for it to return.
func (c *Controller) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	c.post(func() {
		fn()
		c.publish()
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the state as of the last handled event.
func (c *Controller) Snapshot() State {
	return *c.state.Load()
}

// Notifier returns the notification sink.
func (c *Controller) Notifier() Notifier {
	return c.notifier
}

func (c *Controller) post(fn func()) {
	c.mu.Lock()
	c.queue = append(c.queue, fn)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) runQueued() {
	for {
		c.mu.Lock()
		batch := c.queue
		c.queue = nil
		c.mu.Unlock()
		if len(batch) == 0 {
			break
		}
		for _, fn := range batch {
			fn()
		}
	}
	c.publish()
}

// exec runs task through the runner with continuations posted back here.
func (c *Controller) exec(task Task) {
	c.runner.Run(c.ctx, task, c.post)
}

func (c *Controller) start(events <-chan backend.SessionEvent) {
	c.renderer.Resize(c.settings.Width, c.settings.Height)
	c.applyTool()
	c.renderer.SetPreview(Preview(nil))
	c.sources.RefreshAll(c.renderer, c.projectID())
	if c.sessions != nil {
		c.applySession(c.initialSession(events))
	}
}

// initialSession takes the initial event queued by Subscribe. Providers
// that queue none fall back to Current, which is read after subscribing so
// no later change is missed.
func (c *Controller) initialSession(events <-chan backend.SessionEvent) backend.SessionEvent {
	select {
	case ev, ok := <-events:
		if ok && ev.Kind == backend.SessionInitial {
			return ev
		}
		if ok {
			c.post(func() { c.applySession(ev) })
		}
	default:
	}
	return backend.SessionEvent{Kind: backend.SessionInitial, Session: c.sessions.Current()}
}

func (c *Controller) shutdown() {
	if c.stopFeed != nil {
		c.stopFeed()
		c.stopFeed = nil
	}
}

func (c *Controller) forwardSessions(ctx context.Context, events <-chan backend.SessionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.post(func() { c.applySession(ev) })
		}
	}
}

func (c *Controller) publish() {
	p := c.tool.Presentation()
	s := &State{
		Tool:            c.tool,
		Cursor:          c.cursor,
		Glyph:           p.Glyph,
		DragPan:         c.dragPan,
		Viewport:        c.current,
		Initial:         c.initial,
		AwayFromInitial: c.away,
		Drawing:         c.drawing.Active(),
		Path:            c.drawing.Path(),
		Load:            c.load,
		Project:         c.project.Clone(),
		Sources:         c.sources.Sources(),
		Profile:         c.profile,
	}
	if c.session != nil {
		s.UserID = c.session.UserID
	}
	c.state.Store(s)
}

func (c *Controller) notify(level Level, msg string) {
	c.notifier.Notify(Notification{Level: level, Message: msg, At: c.now()})
}

// projectID is the id used in tile filters: the active persisted project,
// or tiles.NoProject.
func (c *Controller) projectID() int64 {
	if c.project.Persisted() {
		return c.project.ID
	}
	return tiles.NoProject
}

// canWrite reports whether annotation writes may go to the backend.
func (c *Controller) canWrite() bool {
	return c.session.Valid(c.now()) && c.project.Persisted()
}

// isActive reports whether the project identified by id and uuid is still
// the active one.
func (c *Controller) isActive(id int64, uuid string) bool {
	return c.project != nil && c.project.ID == id && c.project.UUID == uuid
}
