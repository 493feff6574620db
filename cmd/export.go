package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/mapboard/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export <uuid> <dir>",
	Short: "Write a project's pins and drawings as shapefiles",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := export.Project(ctx, env.Store, args[0], args[1])
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
