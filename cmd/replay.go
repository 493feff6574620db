package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/mapboard/internal/mapctl"
	"github.com/sells-group/mapboard/internal/model"
	"github.com/sells-group/mapboard/internal/render"
)

// script is a recorded editing session.
type script struct {
	Project    string `yaml:"project"`
	NewProject bool   `yaml:"new_project"`
	Steps      []step `yaml:"steps"`
}

// step is one entry of a script. Exactly one field is set.
type step struct {
	Event  *mapctl.WireEvent   `yaml:"event"`
	Edit   *model.ProjectPatch `yaml:"edit"`
	Delete bool                `yaml:"delete"`
}

// sessionDriver is the part of the controller a script drives.
type sessionDriver interface {
	Dispatch(ctx context.Context, ev mapctl.Event) error
	LoadProject(ctx context.Context, uuid string) error
	NewProject(ctx context.Context) (string, error)
	EditProject(ctx context.Context, patch model.ProjectPatch) error
	DeleteProject(ctx context.Context) error
}

type replayResult struct {
	State         mapctl.State          `json:"state"`
	Notifications []mapctl.Notification `json:"notifications"`
	View          render.View           `json:"view"`
	Tiles         int                   `json:"tiles_loaded"`
}

var replayPrefetch bool

var replayCmd = &cobra.Command{
	Use:   "replay <script.yaml>",
	Short: "Drive a headless editing session from a YAML event script",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadScript(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		view := newRenderer(cfg, env.Fetcher)
		inbox := mapctl.NewInbox(0)
		ctl, err := newController(cfg, env, view, inbox, mapctl.InlineRunner{})
		if err != nil {
			return err
		}
		view.SetOnMove(func(v mapctl.Viewport) { ctl.Post(mapctl.CameraEvent{Viewport: v}) })

		done := make(chan error, 1)
		go func() { done <- ctl.Run(ctx) }()

		if err := runScript(ctx, ctl, s); err != nil {
			return err
		}

		res := replayResult{Notifications: inbox.Recent()}
		if replayPrefetch {
			loaded, _, err := view.Prefetch(ctx)
			if err != nil {
				return err
			}
			res.Tiles = loaded
		}
		// Flush camera events posted by the last recenter.
		if err := ctl.Do(ctx, func() {}); err != nil {
			return err
		}
		res.State = ctl.Snapshot()
		res.View = view.View()

		cancel()
		<-done
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

func loadScript(path string) (*script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "replay: read %s", path)
	}
	return parseScript(data)
}

func parseScript(data []byte) (*script, error) {
	var s script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "replay: parse script")
	}
	if s.Project != "" && s.NewProject {
		return nil, eris.New("replay: project and new_project are exclusive")
	}
	for i, st := range s.Steps {
		set := 0
		if st.Event != nil {
			set++
		}
		if st.Edit != nil {
			set++
		}
		if st.Delete {
			set++
		}
		if set != 1 {
			return nil, eris.Errorf("replay: step %d must set exactly one of event, edit, delete", i)
		}
		if st.Event != nil {
			if _, err := st.Event.Event(); err != nil {
				return nil, eris.Wrapf(err, "replay: step %d", i)
			}
		}
	}
	return &s, nil
}

// runScript opens the script's project and plays its steps in order.
func runScript(ctx context.Context, d sessionDriver, s *script) error {
	log := zap.L().With(zap.String("component", "replay"))

	switch {
	case s.Project != "":
		if err := d.LoadProject(ctx, s.Project); err != nil {
			return eris.Wrap(err, "replay: load project")
		}
	case s.NewProject:
		uuid, err := d.NewProject(ctx)
		if err != nil {
			return eris.Wrap(err, "replay: new project")
		}
		log.Info("project created", zap.String("project", uuid))
	}

	for i, st := range s.Steps {
		var err error
		switch {
		case st.Event != nil:
			var ev mapctl.Event
			if ev, err = st.Event.Event(); err == nil {
				err = d.Dispatch(ctx, ev)
			}
		case st.Edit != nil:
			err = d.EditProject(ctx, *st.Edit)
		case st.Delete:
			err = d.DeleteProject(ctx)
		}
		if err != nil {
			return eris.Wrapf(err, "replay: step %d", i)
		}
	}
	log.Info("script complete", zap.Int("steps", len(s.Steps)))
	return nil
}

func init() {
	replayCmd.Flags().BoolVar(&replayPrefetch, "prefetch", false, "load the visible tiles after the last step")
	rootCmd.AddCommand(replayCmd)
}
