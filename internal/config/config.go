// Package config loads assetforge configuration using Viper from a YAML
// file, ASSETFORGE_ environment variables, and command-line flags bound by
// the cmd package.
//
// Defaults are applied during Load so a project without a configuration
// file builds the conventional src/ tree into build/.
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/assetforge/internal/errors"
)

// EnvPrefix is the prefix of environment overrides, e.g. ASSETFORGE_BUILD_DEST.
const EnvPrefix = "ASSETFORGE"

// FileName is the configuration file looked up in the project root.
const FileName = ".assetforge"

type Config struct {
	Source  SourceConfig  `mapstructure:"source" yaml:"source" json:"source"`
	Build   BuildConfig   `mapstructure:"build" yaml:"build" json:"build"`
	Tasks   TasksConfig   `mapstructure:"tasks" yaml:"tasks" json:"tasks"`
	Plugins PluginsConfig `mapstructure:"plugins" yaml:"plugins" json:"plugins"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server" json:"server"`
	Watch   WatchConfig   `mapstructure:"watch" yaml:"watch" json:"watch"`
	Log     LogConfig     `mapstructure:"log" yaml:"log" json:"log"`
}

type SourceConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir" json:"dir"`
}

type BuildConfig struct {
	Dest string `mapstructure:"dest" yaml:"dest" json:"dest"`
	// StageDir holds intermediate outputs that a later task rewrites into
	// Dest, so every artifact has exactly one producing task.
	StageDir   string `mapstructure:"stage_dir" yaml:"stage_dir" json:"stage_dir"`
	Workers    int    `mapstructure:"workers" yaml:"workers" json:"workers"`
	HashLength int    `mapstructure:"hash_length" yaml:"hash_length" json:"hash_length"`
	Production bool   `mapstructure:"production" yaml:"production" json:"production"`
	SourceMaps bool   `mapstructure:"sourcemaps" yaml:"sourcemaps" json:"sourcemaps"`
	Lint       bool   `mapstructure:"lint" yaml:"lint" json:"lint"`
}

// TasksConfig holds the input globs of each task, relative to the project
// root.
type TasksConfig struct {
	HTML       []string `mapstructure:"html" yaml:"html" json:"html"`
	Style      []string `mapstructure:"style" yaml:"style" json:"style"`
	StyleEntry string   `mapstructure:"style_entry" yaml:"style_entry" json:"style_entry"`
	JS         []string `mapstructure:"js" yaml:"js" json:"js"`
	Images     []string `mapstructure:"images" yaml:"images" json:"images"`
	SVG        []string `mapstructure:"svg" yaml:"svg" json:"svg"`
	Fonts      []string `mapstructure:"fonts" yaml:"fonts" json:"fonts"`
}

// PluginsConfig names the external commands used for the transforms
// assetforge does not implement itself. An empty command selects the
// built-in fallback.
type PluginsConfig struct {
	Sass      string `mapstructure:"sass" yaml:"sass" json:"sass"`
	Prefixer  string `mapstructure:"prefixer" yaml:"prefixer" json:"prefixer"`
	Optimizer string `mapstructure:"optimizer" yaml:"optimizer" json:"optimizer"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host" yaml:"host" json:"host"`
	Port           int      `mapstructure:"port" yaml:"port" json:"port"`
	LiveReload     bool     `mapstructure:"live_reload" yaml:"live_reload" json:"live_reload"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins" json:"allowed_origins"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce" json:"debounce"`
	Ignore   []string      `mapstructure:"ignore" yaml:"ignore" json:"ignore"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

// SetDefaults registers every scalar default on v so environment variables
// can override keys that no configuration file mentions.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("source.dir", "src")
	v.SetDefault("build.dest", "build")
	v.SetDefault("build.stage_dir", ".assetforge/stage")
	v.SetDefault("build.workers", 0)
	v.SetDefault("build.hash_length", 10)
	v.SetDefault("build.production", false)
	v.SetDefault("tasks.style_entry", "src/scss/main.scss")
	v.SetDefault("plugins.sass", "")
	v.SetDefault("plugins.prefixer", "")
	v.SetDefault("plugins.optimizer", "")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.live_reload", true)
	v.SetDefault("watch.debounce", "100ms")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration from v, applies defaults and validates the
// result. Validation failures are returned as config errors.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("cannot decode configuration: %v", err))
	}

	// Mode-dependent defaults: source maps in development, lint in production.
	if !v.IsSet("build.sourcemaps") {
		config.Build.SourceMaps = !config.Build.Production
	}
	if !v.IsSet("build.lint") {
		config.Build.Lint = config.Build.Production
	}

	applyDefaults(&config)

	if result := Validate(&config); result.HasErrors() {
		first := result.Errors[0]
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, first.Error()).
			WithContext("field", first.Field).
			WithContext("errors", len(result.Errors))
	}

	return &config, nil
}

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	v := viper.New()
	config, err := LoadFrom(v)
	if err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return config
}

func applyDefaults(config *Config) {
	if config.Build.Workers == 0 {
		config.Build.Workers = runtime.NumCPU()
	}

	t := &config.Tasks
	if len(t.HTML) == 0 {
		t.HTML = []string{"src/*.html"}
	}
	if len(t.Style) == 0 {
		t.Style = []string{"src/scss/**/*.scss"}
	}
	if len(t.JS) == 0 {
		t.JS = []string{"src/**/*.js"}
	}
	if len(t.Images) == 0 {
		t.Images = []string{"src/images/**/*.{jpeg,jpg,png,svg,gif}"}
	}
	if len(t.SVG) == 0 {
		t.SVG = []string{"src/images/*.svg"}
	}
	if len(t.Fonts) == 0 {
		t.Fonts = []string{"src/fonts/*.woff"}
	}

	if len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = []string{
			fmt.Sprintf("localhost:%d", config.Server.Port),
			fmt.Sprintf("127.0.0.1:%d", config.Server.Port),
		}
	}

	if len(config.Watch.Ignore) == 0 {
		config.Watch.Ignore = []string{".git", "node_modules", ".assetforge"}
	}
}
