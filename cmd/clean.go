package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/assetforge/internal/tasks"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the destination and stage directories",
	RunE:  runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().StringP("dest", "o", "build", "destination directory")
	bindTo(cleanCmd.Flags(), "dest", "build.dest")
}

func runClean(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	e, err := newEngine()
	if err != nil {
		return err
	}

	if _, err := e.build(ctx, []string{tasks.Clean}); err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed %s and %s\n", e.cfg.Build.Dest, e.cfg.Build.StageDir)
	return err
}
