package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mapboard/internal/backend"
	"github.com/sells-group/mapboard/internal/config"
	"github.com/sells-group/mapboard/internal/mapctl"
	"github.com/sells-group/mapboard/internal/render"
	"github.com/sells-group/mapboard/internal/resilience"
	"github.com/sells-group/mapboard/internal/store"
	"github.com/sells-group/mapboard/internal/tiles"
)

// appEnv holds the store, session and tile clients shared by the commands.
type appEnv struct {
	Store    store.Store
	Sessions *backend.Sessions
	Feed     backend.Feed // nil unless the rest driver is used
	Fetcher  *tiles.Fetcher
	Tiles    tiles.URLBuilder
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates the config, signs in and opens the store. Callers
// should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sessions, err := initSessions(ctx, cfg)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx, cfg, sessions)
	if err != nil {
		return nil, err
	}

	env := &appEnv{
		Store:    st,
		Sessions: sessions,
		Fetcher:  newFetcher(cfg, sessions),
		Tiles:    tileURLs(cfg),
	}
	if cfg.Store.Driver == "rest" {
		env.Feed = backend.NewRealtimeClient(cfg.Backend.URL, cfg.Backend.RealtimePath, cfg.Backend.AnonKey, sessions)
	}
	return env, nil
}

func httpClient(c *config.Config) *http.Client {
	return &http.Client{Timeout: time.Duration(c.Backend.TimeoutSecs) * time.Second}
}

// initSessions adopts configured tokens or signs in with a password. With
// neither, the session starts signed out and writes are rejected.
func initSessions(ctx context.Context, c *config.Config) (*backend.Sessions, error) {
	auth := backend.NewAuthClient(c.Backend.URL, c.Backend.AuthPath, c.Backend.AnonKey,
		backend.WithHTTPClient(httpClient(c)),
	)
	sessions := backend.NewSessions(auth)

	switch {
	case c.Auth.AccessToken != "":
		if _, err := sessions.SetTokens(c.Auth.AccessToken, c.Auth.RefreshToken); err != nil {
			return nil, eris.Wrap(err, "adopt access token")
		}
	case c.Auth.Email != "":
		if _, err := sessions.SignIn(ctx, c.Auth.Email, c.Auth.Password); err != nil {
			return nil, eris.Wrap(err, "sign in")
		}
	default:
		zap.L().Warn("no credentials configured, editing is read-only")
	}
	return sessions, nil
}

func initStore(ctx context.Context, c *config.Config, sessions *backend.Sessions) (store.Store, error) {
	switch c.Store.Driver {
	case "rest":
		rest := backend.NewRESTClient(c.Backend.URL, c.Backend.RESTPath, c.Backend.AnonKey,
			backend.WithHTTPClient(httpClient(c)),
			backend.WithRateLimit(c.Backend.RateLimitRPS),
			backend.WithTokens(sessions),
		)
		return store.NewRows(rest), nil
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "mapboard.db"
		}
		st, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
		return st, nil
	case "postgres":
		return store.OpenPostgres(ctx, c.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

func tileURLs(c *config.Config) tiles.URLBuilder {
	return tiles.URLBuilder{BaseURL: c.Backend.URL, Path: c.Backend.TilesPath, APIKey: c.Backend.AnonKey}
}

func newFetcher(c *config.Config, sessions backend.SessionProvider) *tiles.Fetcher {
	return tiles.NewFetcher(
		tiles.WithHTTPClient(httpClient(c)),
		tiles.WithCache(tiles.NewCache(c.Tiles.CacheSize, time.Duration(c.Tiles.CacheTTLSecs)*time.Second)),
		tiles.WithTransform(mapctl.NewTransformer(c.Backend.URL, sessions, nil)),
		tiles.WithBreaker(resilience.NewBreaker(5, 30*time.Second)),
	)
}

func viewportSettings(c *config.Config) mapctl.ViewportSettings {
	return mapctl.ViewportSettings{
		Default: mapctl.Viewport{
			Latitude:  c.Viewport.DefaultLat,
			Longitude: c.Viewport.DefaultLon,
			Zoom:      c.Viewport.DefaultZoom,
		},
		Padding:   c.Viewport.FitPadding,
		Duration:  time.Duration(c.Viewport.AnimationMS) * time.Millisecond,
		Tolerance: c.Viewport.Tolerance,
		Width:     c.Viewport.CanvasWidth,
		Height:    c.Viewport.CanvasHeight,
	}
}

func newRenderer(c *config.Config, fetcher *tiles.Fetcher) *render.Headless {
	vs := viewportSettings(c)
	return render.NewHeadless(render.Options{
		Fetcher:     fetcher,
		Camera:      vs.Default,
		Width:       vs.Width,
		Height:      vs.Height,
		Concurrency: c.Tiles.PrefetchConcurrency,
	})
}

// newController builds an editing session over env.
func newController(c *config.Config, env *appEnv, r mapctl.Renderer, inbox *mapctl.Inbox, runner mapctl.Runner) (*mapctl.Controller, error) {
	opts := mapctl.Options{
		Store:         env.Store,
		Feed:          env.Feed,
		Renderer:      r,
		Runner:        runner,
		Tiles:         env.Tiles,
		PinsLayer:     c.Tiles.PinsLayer,
		DrawingsLayer: c.Tiles.DrawingsLayer,
		Viewport:      viewportSettings(c),
		MinPoints:     c.Drawing.MinPoints,
	}
	if env.Sessions != nil {
		opts.Sessions = env.Sessions
	}
	if inbox != nil {
		opts.Notifier = inbox
	}
	return mapctl.New(opts)
}
