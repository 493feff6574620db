// Package server exposes an editing session over HTTP: state snapshots,
// input event batches, project commands and authenticated tile loading.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mapboard/internal/mapctl"
	"github.com/sells-group/mapboard/internal/model"
	"github.com/sells-group/mapboard/internal/render"
	"github.com/sells-group/mapboard/internal/tiles"
)

const maxEventBatch = 1000

// Controller is the editing session driven by the server.
type Controller interface {
	Dispatch(ctx context.Context, ev mapctl.Event) error
	Snapshot() mapctl.State
	LoadProject(ctx context.Context, uuid string) error
	NewProject(ctx context.Context) (string, error)
	EditProject(ctx context.Context, patch model.ProjectPatch) error
	DeleteProject(ctx context.Context) error
}

// TileLoader loads one tile of a renderer source.
type TileLoader interface {
	Tile(ctx context.Context, sourceID string, t tiles.Tile) ([]byte, error)
}

// Options configures a Server.
type Options struct {
	Controller  Controller
	Tiles       TileLoader
	Inbox       *mapctl.Inbox
	View        func() render.View
	CORSOrigins []string
}

// Server serves one editing session.
type Server struct {
	ctl     Controller
	tiles   TileLoader
	inbox   *mapctl.Inbox
	view    func() render.View
	origins []string
	log     *zap.Logger
}

// New returns a server. Tiles, Inbox and View are optional.
func New(opts Options) *Server {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		ctl:     opts.Controller,
		tiles:   opts.Tiles,
		inbox:   opts.Inbox,
		view:    opts.View,
		origins: origins,
		log:     zap.L().With(zap.String("component", "server")),
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/state", s.handleState)
	r.Post("/events", s.handleEvents)

	r.Route("/project", func(r chi.Router) {
		r.Post("/", s.handleNewProject)
		r.Put("/{uuid}", s.handleLoadProject)
		r.Patch("/", s.handleEditProject)
		r.Delete("/", s.handleDeleteProject)
	})

	r.Get("/tiles/{source}/{z}/{x}/{y}.pbf", s.handleTile)
	return r
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("starting server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

type stateResponse struct {
	mapctl.State
	Notifications []mapctl.Notification `json:"notifications"`
	View          *render.View          `json:"view,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	resp := stateResponse{State: s.ctl.Snapshot(), Notifications: []mapctl.Notification{}}
	if s.inbox != nil {
		resp.Notifications = s.inbox.Recent()
	}
	if s.view != nil {
		v := s.view()
		resp.View = &v
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var batch []mapctl.WireEvent
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(batch) > maxEventBatch {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("at most %d events per batch", maxEventBatch))
		return
	}
	events, err := mapctl.DecodeEvents(batch)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	for _, ev := range events {
		if err := s.ctl.Dispatch(r.Context(), ev); err != nil {
			s.commandFailed(w, "dispatch event", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) handleNewProject(w http.ResponseWriter, r *http.Request) {
	uuid, err := s.ctl.NewProject(r.Context())
	if err != nil {
		s.commandFailed(w, "new project", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"uuid": uuid})
}

func (s *Server) handleLoadProject(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")
	if err := s.ctl.LoadProject(r.Context(), uuid); err != nil {
		s.commandFailed(w, "load project", err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) handleEditProject(w http.ResponseWriter, r *http.Request) {
	var patch model.ProjectPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.ctl.EditProject(r.Context(), patch); err != nil {
		s.commandFailed(w, "edit project", err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.DeleteProject(r.Context()); err != nil {
		s.commandFailed(w, "delete project", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	if s.tiles == nil {
		writeError(w, http.StatusNotFound, "tiles are not served")
		return
	}
	t, err := parseTile(chi.URLParam(r, "z"), chi.URLParam(r, "x"), chi.URLParam(r, "y"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	source := chi.URLParam(r, "source")

	data, err := s.tiles.Tile(r.Context(), source, t)
	if err != nil {
		var se *tiles.StatusError
		switch {
		case errors.Is(err, render.ErrUnknownSource):
			writeError(w, http.StatusNotFound, "unknown source")
		case errors.As(err, &se):
			writeError(w, http.StatusBadGateway, fmt.Sprintf("upstream returned %d", se.Code))
		default:
			s.log.Error("tile load failed", zap.String("source", source), zap.Error(err))
			writeError(w, http.StatusBadGateway, "tile load failed")
		}
		return
	}
	if len(data) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.mapbox-vector-tile")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// commandFailed maps controller errors to status codes.
func (s *Server) commandFailed(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, mapctl.ErrNoSession):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, mapctl.ErrNoProject):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, mapctl.ErrStopped), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error("command failed", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

func parseTile(zs, xs, ys string) (tiles.Tile, error) {
	z, err := strconv.Atoi(zs)
	if err != nil || z < 0 || z > int(tiles.MaxZoom) {
		return tiles.Tile{}, eris.Errorf("invalid zoom %q", zs)
	}
	x, err := strconv.Atoi(xs)
	if err != nil || x < 0 {
		return tiles.Tile{}, eris.Errorf("invalid x %q", xs)
	}
	y, err := strconv.Atoi(ys)
	if err != nil || y < 0 {
		return tiles.Tile{}, eris.Errorf("invalid y %q", ys)
	}
	last := 1<<z - 1
	if x > last || y > last {
		return tiles.Tile{}, eris.Errorf("tile %d/%d/%d out of range", z, x, y)
	}
	return tiles.Tile{Z: z, X: x, Y: y}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
