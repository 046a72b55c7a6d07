// Package cmd provides the command-line interface for assetforge.
//
// Configuration is resolved from, highest priority first:
//
//  1. Command-line flags (--production, --port, ...)
//  2. ASSETFORGE_<SECTION>_<OPTION> environment variables
//  3. The configuration file: --config, else ASSETFORGE_CONFIG_FILE, else
//     .assetforge.yml in the project directory
//  4. Built-in defaults
package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/assetforge/internal/config"
	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/logging"
)

var (
	cfgFile    string
	projectDir string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "assetforge",
	Short: "Incremental front-end asset pipeline",
	Long: `assetforge builds a static front-end (HTML, Sass, JavaScript, images,
SVG sprites and fonts) into a destination tree, rebuilding only what a change
affects.

Quick Start:
  assetforge build                Build everything once
  assetforge build --production   Minified, linted, cache-busted build
  assetforge serve                Build, watch and serve with live reload
  assetforge tasks                List tasks and their predecessors

Command Aliases:
  serve (dev), build (b), watch (w)`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return bindFlags(cmd.Flags())
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. A returned error has already been logged.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelInfo, Output: os.Stderr})
		errors.NewErrorHandler(logger).Handle(context.Background(), err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is .assetforge.yml, can also use ASSETFORGE_CONFIG_FILE env var)")
	pf.StringVarP(&projectDir, "dir", "C", ".", "project directory")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")
	bindTo(pf, "log-level", "log.level")
	bindTo(pf, "log-format", "log.format")
}

// initConfig points viper at the configuration file and the environment.
// A missing file is not an error; a malformed one is reported when the
// configuration is loaded.
func initConfig() {
	switch {
	case cfgFile != "":
		viper.SetConfigFile(cfgFile)
	case os.Getenv(config.EnvPrefix+"_CONFIG_FILE") != "":
		viper.SetConfigFile(os.Getenv(config.EnvPrefix + "_CONFIG_FILE"))
	default:
		viper.AddConfigPath(projectDir)
		viper.SetConfigType("yaml")
		viper.SetConfigName(config.FileName)
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// loadConfig reads the configuration file, if any, and returns the
// validated configuration.
func loadConfig() (*config.Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return config.Load()
}
