package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/mapboard/internal/mapctl"
	"github.com/sells-group/mapboard/internal/render"
	"github.com/sells-group/mapboard/internal/server"
)

var (
	servePort    int
	serveProject string
)

// refreshMargin is how long before expiry the session token is refreshed.
const refreshMargin = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the editing controller and tile server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		view := newRenderer(cfg, env.Fetcher)
		inbox := mapctl.NewInbox(0)
		runner := &mapctl.AsyncRunner{}
		ctl, err := newController(cfg, env, view, inbox, runner)
		if err != nil {
			return err
		}

		moved := make(chan struct{}, 1)
		view.SetOnMove(func(v mapctl.Viewport) {
			ctl.Post(mapctl.CameraEvent{Viewport: v})
			select {
			case moved <- struct{}{}:
			default:
			}
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := server.New(server.Options{
			Controller:  ctl,
			Tiles:       view,
			Inbox:       inbox,
			View:        view.View,
			CORSOrigins: cfg.Server.CORSOrigins,
		})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return ctl.Run(gctx) })
		g.Go(func() error {
			env.Sessions.KeepFresh(gctx, refreshMargin)
			return nil
		})
		g.Go(func() error {
			prefetchOnMove(gctx, view, moved)
			return nil
		})
		g.Go(func() error {
			return srv.ListenAndServe(gctx, fmt.Sprintf(":%d", port))
		})

		if serveProject != "" {
			if err := ctl.LoadProject(gctx, serveProject); err != nil {
				zap.L().Error("initial project load failed", zap.String("project", serveProject), zap.Error(err))
			}
		}

		err = g.Wait()
		runner.Wait()
		return err
	},
}

// prefetchOnMove loads the visible tiles after each camera move. Moves that
// arrive while a prefetch is running are coalesced.
func prefetchOnMove(ctx context.Context, view *render.Headless, moved <-chan struct{}) {
	log := zap.L().With(zap.String("component", "prefetch"))
	for {
		select {
		case <-ctx.Done():
			return
		case <-moved:
		}
		loaded, failed, err := view.Prefetch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("prefetch aborted", zap.Error(err))
			}
			continue
		}
		log.Debug("visible tiles loaded", zap.Int("loaded", loaded), zap.Int("failed", failed))
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveProject, "project", "", "project uuid to open on start")
	rootCmd.AddCommand(serveCmd)
}
