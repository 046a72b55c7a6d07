package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/assetforge/internal/scheduler"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Build, then rebuild affected tasks on every change",
	Long: `Run a full build, then watch the source directory. Bursts of changes are
coalesced; when the debounce window closes only the tasks whose recorded
sources or input globs match the changed files are rerun, along with the
dependents whose inputs actually changed.

A failed build is reported and watching continues.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	addBuildFlags(watchCmd)
	addWatchFlags(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	e, err := newEngine()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := initialBuild(ctx, e, out); err != nil {
		return err
	}

	return e.watch(ctx, func(report *scheduler.Report, _ error) {
		_ = printReport(out, report)
	})
}

// initialBuild runs the default build. Task failures are reported but do
// not stop the caller from watching; cancellation does.
func initialBuild(ctx context.Context, e *engine, out io.Writer) error {
	report, err := e.build(ctx, nil)
	if printErr := printReport(out, report); printErr != nil {
		return printErr
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && report == nil {
		return fmt.Errorf("initial build: %w", err)
	}
	return nil
}
