package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/mapboard/internal/tiles"
)

var tilesProject int64

var tilesCmd = &cobra.Command{
	Use:   "tiles",
	Short: "Inspect vector tile sources",
}

var tilesURLCmd = &cobra.Command{
	Use:   "url <layer>",
	Short: "Print the tile URL template of a layer scoped to a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		layer, err := findLayer(args[0])
		if err != nil {
			return err
		}
		src := tileURLs(cfg).Source(layer, tilesProject)
		for _, t := range src.Tiles {
			fmt.Fprintln(cmd.OutOrStdout(), t)
		}
		return nil
	},
}

func findLayer(name string) (tiles.Layer, error) {
	for _, l := range tiles.DefaultLayers(cfg.Tiles.PinsLayer, cfg.Tiles.DrawingsLayer) {
		if l.Name == name {
			return l, nil
		}
	}
	return tiles.Layer{}, eris.Errorf("unknown layer %q (have %s, %s)", name, cfg.Tiles.PinsLayer, cfg.Tiles.DrawingsLayer)
}

func init() {
	tilesURLCmd.Flags().Int64Var(&tilesProject, "project", tiles.NoProject, "project id to scope the tiles to")
	tilesCmd.AddCommand(tilesURLCmd)
	rootCmd.AddCommand(tilesCmd)
}
