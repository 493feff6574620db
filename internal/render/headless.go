// Package render provides a headless map view. It keeps the state a browser
// map would show (cursor, sources, camera, live preview) and loads the
// visible vector tiles through the tile fetcher.
package render

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/mapboard/internal/mapctl"
	"github.com/sells-group/mapboard/internal/model"
	"github.com/sells-group/mapboard/internal/tiles"
)

const defaultConcurrency = 4

// ErrUnknownSource is returned for tiles of a source the view does not have.
var ErrUnknownSource = eris.New("render: unknown source")

// View is a copy of what the map currently shows.
type View struct {
	Cursor     string                     `json:"cursor"`
	Glyph      string                     `json:"glyph"`
	DragPan    bool                       `json:"drag_pan"`
	Focused    bool                       `json:"focused"`
	Camera     mapctl.Viewport            `json:"camera"`
	Width      int                        `json:"width"`
	Height     int                        `json:"height"`
	Preview    *geojson.FeatureCollection `json:"preview,omitempty"`
	Sources    map[string][]string        `json:"sources"`
	Revisions  map[string]int             `json:"revisions"`
	Flights    int                        `json:"flights"`
	LastMoveMS int64                      `json:"last_move_ms"`
}

// Options configures a Headless view.
type Options struct {
	Fetcher     *tiles.Fetcher
	Camera      mapctl.Viewport
	Width       int
	Height      int
	Concurrency int
	// OnMove is called after every programmatic camera move, outside the
	// view's lock.
	OnMove func(mapctl.Viewport)
}

// Headless implements mapctl.Renderer without a display. Camera moves
// complete immediately.
type Headless struct {
	mu        sync.Mutex
	cursor    string
	glyph     string
	dragPan   bool
	focused   bool
	camera    mapctl.Viewport
	width     int
	height    int
	preview   *geojson.FeatureCollection
	sources   map[string][]string
	revisions map[string]int
	flights   int
	lastMove  time.Duration

	fetcher     *tiles.Fetcher
	concurrency int
	onMove      func(mapctl.Viewport)
	fetched     atomic.Int64
}

var _ mapctl.Renderer = (*Headless)(nil)

// NewHeadless returns a view with drag panning enabled.
func NewHeadless(opts Options) *Headless {
	if opts.Width <= 0 {
		opts.Width = 1280
	}
	if opts.Height <= 0 {
		opts.Height = 800
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Headless{
		dragPan:     true,
		camera:      opts.Camera,
		width:       opts.Width,
		height:      opts.Height,
		sources:     make(map[string][]string),
		revisions:   make(map[string]int),
		fetcher:     opts.Fetcher,
		concurrency: opts.Concurrency,
		onMove:      opts.OnMove,
	}
}

// SetOnMove replaces the camera move callback.
func (h *Headless) SetOnMove(fn func(mapctl.Viewport)) {
	h.mu.Lock()
	h.onMove = fn
	h.mu.Unlock()
}

func (h *Headless) SetCursor(cursor string) {
	h.mu.Lock()
	h.cursor = cursor
	h.mu.Unlock()
}

func (h *Headless) SetPointerGlyph(glyph string) {
	h.mu.Lock()
	h.glyph = glyph
	h.mu.Unlock()
}

func (h *Headless) SetDragPan(enabled bool) {
	h.mu.Lock()
	h.dragPan = enabled
	h.mu.Unlock()
}

func (h *Headless) SetPreview(fc *geojson.FeatureCollection) {
	h.mu.Lock()
	h.preview = fc
	h.mu.Unlock()
}

// SetSourceTiles replaces the templates of sourceID and drops its cached
// tiles, even when the templates are unchanged.
func (h *Headless) SetSourceTiles(sourceID string, templates []string) {
	h.mu.Lock()
	h.sources[sourceID] = append([]string(nil), templates...)
	h.revisions[sourceID]++
	h.mu.Unlock()

	if h.fetcher == nil || h.fetcher.Cache() == nil {
		return
	}
	n := h.fetcher.Cache().Invalidate(sourceID)
	zap.L().Debug("render: source reloaded",
		zap.String("source", sourceID),
		zap.Int("dropped_tiles", n),
	)
}

func (h *Headless) FitBounds(b model.Bounds, padding int, duration time.Duration) {
	h.mu.Lock()
	lat, lng, zoom := tiles.Fit(b.North, b.East, b.South, b.West, h.width, h.height, padding)
	h.camera = mapctl.Viewport{Latitude: lat, Longitude: lng, Zoom: zoom}
	h.flights++
	h.lastMove = duration
	cam, fn := h.camera, h.onMove
	h.mu.Unlock()

	if fn != nil {
		fn(cam)
	}
}

func (h *Headless) FlyTo(center model.Coordinate, zoom float64, duration time.Duration) {
	h.mu.Lock()
	h.camera = mapctl.Viewport{Latitude: center.Lat, Longitude: center.Lng, Zoom: zoom}
	h.flights++
	h.lastMove = duration
	cam, fn := h.camera, h.onMove
	h.mu.Unlock()

	if fn != nil {
		fn(cam)
	}
}

// Focus marks a text input as focused.
func (h *Headless) Focus() {
	h.mu.Lock()
	h.focused = true
	h.mu.Unlock()
}

func (h *Headless) Blur() {
	h.mu.Lock()
	h.focused = false
	h.mu.Unlock()
}

// Pan moves the camera as a user gesture would. OnMove is not called;
// the gesture's camera event reaches the controller separately.
func (h *Headless) Pan(v mapctl.Viewport) {
	h.mu.Lock()
	h.camera = v
	h.mu.Unlock()
}

// Resize changes the canvas size.
func (h *Headless) Resize(width, height int) {
	h.mu.Lock()
	if width > 0 {
		h.width = width
	}
	if height > 0 {
		h.height = height
	}
	h.mu.Unlock()
}

// View returns a copy of the current view.
func (h *Headless) View() View {
	h.mu.Lock()
	defer h.mu.Unlock()

	sources := make(map[string][]string, len(h.sources))
	for id, t := range h.sources {
		sources[id] = append([]string(nil), t...)
	}
	revisions := make(map[string]int, len(h.revisions))
	for id, n := range h.revisions {
		revisions[id] = n
	}
	return View{
		Cursor:     h.cursor,
		Glyph:      h.glyph,
		DragPan:    h.dragPan,
		Focused:    h.focused,
		Camera:     h.camera,
		Width:      h.width,
		Height:     h.height,
		Preview:    h.preview,
		Sources:    sources,
		Revisions:  revisions,
		Flights:    h.flights,
		LastMoveMS: h.lastMove.Milliseconds(),
	}
}

// Template returns the first tile template of sourceID.
func (h *Headless) Template(sourceID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.sources[sourceID]
	if len(t) == 0 {
		return "", false
	}
	return t[0], true
}

// Tile loads one tile of sourceID.
func (h *Headless) Tile(ctx context.Context, sourceID string, t tiles.Tile) ([]byte, error) {
	if h.fetcher == nil {
		return nil, eris.New("render: no tile fetcher")
	}
	template, ok := h.Template(sourceID)
	if !ok {
		return nil, eris.Wrapf(ErrUnknownSource, "render: tile %s", sourceID)
	}
	data, err := h.fetcher.Fetch(ctx, sourceID, template, tiles.Constrain(t))
	if err != nil {
		return nil, eris.Wrapf(err, "render: tile %s %d/%d/%d", sourceID, t.Z, t.X, t.Y)
	}
	h.fetched.Add(1)
	return data, nil
}

// Prefetch loads every visible tile of every source. Failed tiles are
// logged and counted; only cancellation aborts the run.
func (h *Headless) Prefetch(ctx context.Context) (loaded, failed int, err error) {
	if h.fetcher == nil {
		return 0, 0, nil
	}
	view := h.View()
	visible := tiles.Visible(view.Camera.Latitude, view.Camera.Longitude, view.Camera.Zoom, view.Width, view.Height)
	log := zap.L().With(zap.String("component", "render"), zap.Int("tiles", len(visible)))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)

	for id := range view.Sources {
		for _, t := range visible {
			g.Go(func() error {
				_, ferr := h.Tile(gctx, id, t)
				mu.Lock()
				defer mu.Unlock()
				if ferr != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					log.Warn("tile load failed", zap.String("source", id), zap.Error(ferr))
					failed++
					return nil
				}
				loaded++
				return nil
			})
		}
	}

	if werr := g.Wait(); werr != nil {
		return loaded, failed, eris.Wrap(werr, "render: prefetch")
	}
	log.Debug("prefetch complete", zap.Int("loaded", loaded), zap.Int("failed", failed))
	return loaded, failed, nil
}

// Fetched returns how many tiles were loaded, cache hits included.
func (h *Headless) Fetched() int64 {
	return h.fetched.Load()
}
