package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mapboard/internal/backend"
	"github.com/sells-group/mapboard/internal/model"
	"github.com/sells-group/mapboard/internal/store"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Create, inspect and edit map projects",
}

var projectNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create an untitled project owned by the signed-in user",
	Args:  cobra.NoArgs,
	RunE: withEnv(func(ctx context.Context, env *appEnv, cmd *cobra.Command, _ []string) error {
		p, err := createProject(ctx, env.Store, env.Sessions.Current())
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), p)
	}),
}

var projectShowCmd = &cobra.Command{
	Use:   "show <uuid>",
	Short: "Print a project with its pins and drawings",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(ctx context.Context, env *appEnv, cmd *cobra.Command, args []string) error {
		return showProject(ctx, env.Store, args[0], cmd.OutOrStdout())
	}),
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the signed-in user's projects",
	Args:  cobra.NoArgs,
	RunE: withEnv(func(ctx context.Context, env *appEnv, cmd *cobra.Command, _ []string) error {
		sess := env.Sessions.Current()
		if sess == nil {
			return eris.New("project list: not signed in")
		}
		projects, err := env.Store.ListProjects(ctx, sess.UserID)
		if err != nil {
			return eris.Wrap(err, "project list")
		}
		return writeJSON(cmd.OutOrStdout(), projects)
	}),
}

var projectRenameCmd = &cobra.Command{
	Use:   "rename <uuid> <title> [description]",
	Short: "Change a project's title and optionally its description",
	Args:  cobra.RangeArgs(2, 3),
	RunE: withEnv(func(ctx context.Context, env *appEnv, _ *cobra.Command, args []string) error {
		patch := model.ProjectPatch{Title: &args[1]}
		if len(args) == 3 {
			patch.Description = &args[2]
		}
		return patchProject(ctx, env.Store, args[0], patch)
	}),
}

var projectUnpublish bool

var projectPublishCmd = &cobra.Command{
	Use:   "publish <uuid>",
	Short: "Mark a project public (or private with --unpublish)",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(ctx context.Context, env *appEnv, _ *cobra.Command, args []string) error {
		published := !projectUnpublish
		return patchProject(ctx, env.Store, args[0], model.ProjectPatch{Published: &published})
	}),
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <uuid>",
	Short: "Delete a project and its annotations",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(ctx context.Context, env *appEnv, _ *cobra.Command, args []string) error {
		if err := env.Store.DeleteProject(ctx, args[0]); err != nil {
			return eris.Wrapf(err, "project delete %s", args[0])
		}
		zap.L().Info("project deleted", zap.String("project", args[0]))
		return nil
	}),
}

// withEnv opens the environment around fn.
func withEnv(fn func(ctx context.Context, env *appEnv, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()
		return fn(ctx, env, cmd, args)
	}
}

// createProject stores a new draft owned by sess.
func createProject(ctx context.Context, st store.Store, sess *backend.Session) (*model.MapProject, error) {
	if sess == nil {
		return nil, eris.New("project new: not signed in")
	}
	profile, err := st.GetProfile(ctx, sess.UserID)
	if err != nil {
		zap.L().Warn("profile lookup failed", zap.String("user", sess.UserID), zap.Error(err))
	}
	p, err := st.CreateProject(ctx, model.NewDraft(sess.UserID, profile.DisplayName()))
	if err != nil {
		return nil, eris.Wrap(err, "project new")
	}
	zap.L().Info("project created", zap.String("project", p.UUID), zap.Int64("id", p.ID))
	return p, nil
}

type projectDetail struct {
	Project  *model.MapProject `json:"project"`
	Pins     []model.Pin       `json:"pins"`
	Drawings []model.Drawing   `json:"drawings"`
}

func showProject(ctx context.Context, st store.Store, uuid string, out io.Writer) error {
	p, err := st.GetProject(ctx, uuid)
	if err != nil {
		return eris.Wrapf(err, "project show %s", uuid)
	}
	if p == nil {
		return eris.Errorf("project show: %s not found", uuid)
	}
	pins, err := st.ListPins(ctx, p.ID)
	if err != nil {
		return eris.Wrap(err, "project show: pins")
	}
	drawings, err := st.ListDrawings(ctx, p.ID)
	if err != nil {
		return eris.Wrap(err, "project show: drawings")
	}
	return writeJSON(out, projectDetail{Project: p, Pins: pins, Drawings: drawings})
}

func patchProject(ctx context.Context, st store.Store, uuid string, patch model.ProjectPatch) error {
	if err := st.UpdateProject(ctx, uuid, patch); err != nil {
		return eris.Wrapf(err, "project update %s", uuid)
	}
	zap.L().Info("project updated", zap.String("project", uuid))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	projectPublishCmd.Flags().BoolVar(&projectUnpublish, "unpublish", false, "make the project private")
	projectCmd.AddCommand(projectNewCmd, projectShowCmd, projectListCmd, projectRenameCmd, projectPublishCmd, projectDeleteCmd)
	rootCmd.AddCommand(projectCmd)
}
