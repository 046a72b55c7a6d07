package cmd

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/assetforge/internal/scheduler"
	"github.com/conneroisu/assetforge/internal/server"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"dev", "s"},
	Short:   "Build, watch and serve the destination with live reload",
	Long: `Run a full build, serve the destination directory and rebuild on change.

Pages get a live-reload client injected. After each task, stylesheet-only
changes are swapped in place and anything else reloads the page; a failed
build is shown in the browser without reloading.

Endpoints:
  /__livereload      WebSocket used by the injected client
  /__livereload.js   The client script
  /__status          JSON: last build report and dependency edges

Examples:
  assetforge serve
  assetforge dev --port 8080 --production`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	addBuildFlags(serveCmd)
	addServerFlags(serveCmd)
	addWatchFlags(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	var srv *server.Server
	e, err := newEngine(func(res scheduler.TaskResult) { srv.TaskDone(res) })
	if err != nil {
		return err
	}
	srv = server.New(e.cfg, e.root, e.deps, e.logger)

	out := cmd.OutOrStdout()
	report, err := e.build(ctx, nil)
	if printErr := printReport(out, report); printErr != nil {
		return printErr
	}
	if report == nil {
		return err
	}
	srv.BuildDone(report, err)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(ctx)
	})
	g.Go(func() error {
		return e.watch(ctx, func(report *scheduler.Report, err error) {
			srv.BuildDone(report, err)
			_ = printReport(out, report)
		})
	})

	return g.Wait()
}
