package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const viperAnnotation = "assetforge_viper_key"

// bindTo records that flag name sets the configuration key. The binding
// itself happens in bindFlags, for the command that actually runs, so the
// same key can be offered by several commands.
func bindTo(fs *pflag.FlagSet, name, key string) {
	if err := fs.SetAnnotation(name, viperAnnotation, []string{key}); err != nil {
		panic(fmt.Sprintf("flag %q: %v", name, err))
	}
}

func bindFlags(fs *pflag.FlagSet) error {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		keys, ok := f.Annotations[viperAnnotation]
		if !ok || bindErr != nil {
			return
		}
		bindErr = viper.BindPFlag(keys[0], f)
	})
	return bindErr
}

func addBuildFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.Bool("production", false, "production build: minify, lint and cache-bust")
	fs.Bool("sourcemaps", false, "write JavaScript source maps (default: on outside production)")
	fs.Bool("lint", false, "run the HTML lint gate (default: on in production)")
	fs.IntP("workers", "j", 0, "maximum tasks run at once (default: number of CPUs)")
	fs.StringP("dest", "o", "build", "destination directory")

	bindTo(fs, "production", "build.production")
	bindTo(fs, "sourcemaps", "build.sourcemaps")
	bindTo(fs, "lint", "build.lint")
	bindTo(fs, "workers", "build.workers")
	bindTo(fs, "dest", "build.dest")
}

func addServerFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.IntP("port", "p", 3000, "port to serve on")
	fs.String("host", "localhost", "host to bind to")
	fs.Bool("live-reload", true, "inject the live-reload client and push updates")

	bindTo(fs, "port", "server.port")
	bindTo(fs, "host", "server.host")
	bindTo(fs, "live-reload", "server.live_reload")
}

func addWatchFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.Duration("debounce", 0, "quiet period before a rebuild starts (default 100ms)")

	bindTo(fs, "debounce", "watch.debounce")
}

// formatFlag adds --format/-f with the given choices, the first being the
// default.
func formatFlag(cmd *cobra.Command, target *string, choices ...string) {
	cmd.Flags().StringVarP(target, "format", "f", choices[0], fmt.Sprintf("output format %v", choices))
}
