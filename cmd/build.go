package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/assetforge/internal/tasks"
)

const shutdownTimeout = 10 * time.Second

var buildClean bool

var buildCmd = &cobra.Command{
	Use:     "build [task...]",
	Aliases: []string{"b"},
	Short:   "Build the destination tree once",
	Long: `Run the named tasks, or every default task, together with their
predecessors. Independent tasks run concurrently; after the first failure no
further task starts and the remaining ones are reported as not run.

Examples:
  assetforge build                     # Development build
  assetforge build --production        # Minify, lint and cache-bust
  assetforge build --clean             # Remove build/ first
  assetforge build style js            # Only these tasks and their predecessors`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	addBuildFlags(buildCmd)
	buildCmd.Flags().BoolVar(&buildClean, "clean", false, "remove the destination and stage directories before building")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	e, err := newEngine()
	if err != nil {
		return err
	}

	if buildClean {
		if _, err := e.build(ctx, []string{tasks.Clean}); err != nil {
			return err
		}
	}

	report, err := e.build(ctx, args)
	if printErr := printReport(cmd.OutOrStdout(), report); printErr != nil && err == nil {
		err = printErr
	}

	return err
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
