package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mapboard/internal/export"
)

var importCmd = &cobra.Command{
	Use:   "import <uuid> <file.shp>",
	Short: "Load the points of a shapefile as pins of a project",
	Long:  "Reads point records from a shapefile and inserts them as pins. The postgres driver loads them with COPY; other drivers insert row by row.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sess := env.Sessions.Current()
		if sess == nil {
			return eris.New("import: not signed in")
		}

		n, err := export.ImportPins(ctx, env.Store, args[0], args[1], sess.UserID)
		if err != nil {
			return eris.Wrap(err, "import shapefile")
		}

		zap.L().Info("import complete",
			zap.Int64("pins", n),
			zap.String("file", args[1]),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
