package config

import (
	"fmt"
	"net"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/conneroisu/assetforge/internal/asset"
	"github.com/conneroisu/assetforge/internal/hasher"
	"github.com/conneroisu/assetforge/internal/logging"
	"github.com/conneroisu/assetforge/internal/validation"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	write := func(title string, issues []ValidationError) {
		if len(issues) == 0 {
			return
		}
		builder.WriteString(title + ":\n")
		for _, issue := range issues {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", issue.Field, issue.Message))
			for _, suggestion := range issue.Suggestions {
				builder.WriteString(fmt.Sprintf("      %s\n", suggestion))
			}
		}
	}

	write("Validation errors", vr.Errors)
	write("Validation warnings", vr.Warnings)

	return builder.String()
}

func (vr *ValidationResult) errorf(field string, value interface{}, suggestions []string, format string, args ...interface{}) {
	vr.Errors = append(vr.Errors, ValidationError{
		Field:       field,
		Value:       value,
		Message:     fmt.Sprintf(format, args...),
		Suggestions: suggestions,
	})
}

func (vr *ValidationResult) warnf(field string, value interface{}, format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf(format, args...),
	})
}

// Validate checks a loaded configuration. Errors make the configuration
// unusable; warnings are reported but do not stop a build.
func Validate(config *Config) *ValidationResult {
	result := &ValidationResult{}

	validateServer(&config.Server, result)
	validateBuild(config, result)
	validateTasks(&config.Tasks, result)
	validatePlugins(&config.Plugins, result)
	validateWatch(&config.Watch, result)
	validateLog(&config.Log, result)

	return result
}

func validateServer(config *ServerConfig, result *ValidationResult) {
	// Port 0 lets the system pick one, which tests rely on.
	if config.Port < 0 || config.Port > 65535 {
		result.errorf("server.port", config.Port, []string{
			"Use a port between 1024-65535 for non-privileged access",
		}, "port %d is not in valid range 0-65535", config.Port)
	} else if config.Port > 0 && config.Port < 1024 {
		result.warnf("server.port", config.Port, "port below 1024 requires elevated privileges")
	}

	if config.Host != "" {
		if err := validateHostname(config.Host); err != nil {
			result.errorf("server.host", config.Host, []string{
				"Use 'localhost' for local development",
				"Use '0.0.0.0' to bind to all interfaces",
			}, "%v", err)
		}
	}
}

func validateBuild(config *Config, result *ValidationResult) {
	b := &config.Build

	if b.HashLength < 1 || b.HashLength > hasher.MaxLength {
		result.errorf("build.hash_length", b.HashLength, nil,
			"hash length %d is not in range 1-%d", b.HashLength, hasher.MaxLength)
	}

	if b.Workers < 0 {
		result.errorf("build.workers", b.Workers, nil, "workers cannot be negative")
	}

	dirs := []struct {
		field string
		value string
	}{
		{"source.dir", config.Source.Dir},
		{"build.dest", b.Dest},
		{"build.stage_dir", b.StageDir},
	}
	for _, d := range dirs {
		if err := validation.ValidatePath(d.value); err != nil {
			result.errorf(d.field, d.value, []string{
				"Use a directory inside the project, e.g. 'build'",
			}, "%v", err)
			continue
		}
		if path.Clean(d.value) == "." {
			result.errorf(d.field, d.value, nil, "directory cannot be the project root")
		}
	}

	if !result.HasErrors() {
		src, dest, stage := asset.Normalize(config.Source.Dir), asset.Normalize(b.Dest), asset.Normalize(b.StageDir)
		if within(dest, src) || within(src, dest) {
			result.errorf("build.dest", b.Dest, nil, "destination %q overlaps source directory %q", b.Dest, config.Source.Dir)
		}
		if within(stage, dest) {
			result.warnf("build.stage_dir", b.StageDir, "stage directory inside the destination is served to clients")
		}
	}

	if b.Production && b.SourceMaps {
		result.warnf("build.sourcemaps", b.SourceMaps, "source maps are enabled in a production build")
	}
}

func validateTasks(config *TasksConfig, result *ValidationResult) {
	globs := map[string][]string{
		"tasks.html":   config.HTML,
		"tasks.style":  config.Style,
		"tasks.js":     config.JS,
		"tasks.images": config.Images,
		"tasks.svg":    config.SVG,
		"tasks.fonts":  config.Fonts,
	}
	for _, field := range []string{"tasks.html", "tasks.style", "tasks.js", "tasks.images", "tasks.svg", "tasks.fonts"} {
		for _, pattern := range globs[field] {
			if err := asset.ValidatePattern(pattern); err != nil {
				result.errorf(field, pattern, nil, "%v", err)
			}
		}
	}

	if config.StyleEntry == "" {
		result.errorf("tasks.style_entry", config.StyleEntry, nil, "style entry point cannot be empty")
	} else if !asset.MatchAny(config.Style, asset.Normalize(config.StyleEntry)) {
		result.warnf("tasks.style_entry", config.StyleEntry, "entry point is not matched by tasks.style")
	}
}

func validatePlugins(config *PluginsConfig, result *ValidationResult) {
	commands := []struct {
		field string
		line  string
	}{
		{"plugins.sass", config.Sass},
		{"plugins.prefixer", config.Prefixer},
		{"plugins.optimizer", config.Optimizer},
	}

	for _, c := range commands {
		if strings.TrimSpace(c.line) == "" {
			continue
		}
		if err := validateCommandLine(c.line); err != nil {
			result.errorf(c.field, c.line, []string{
				"Allowed commands: " + strings.Join(allowedCommandNames(), ", "),
			}, "%v", err)
		}
	}
}

func validateWatch(config *WatchConfig, result *ValidationResult) {
	if config.Debounce <= 0 {
		result.errorf("watch.debounce", config.Debounce, []string{
			"Use a short window such as 100ms",
		}, "debounce window must be positive")
	}
}

func validateLog(config *LogConfig, result *ValidationResult) {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		result.errorf("log.level", config.Level, []string{"Use debug, info, warn or error"}, "%v", err)
	}

	switch config.Format {
	case "", "text", "json":
	default:
		result.errorf("log.format", config.Format, nil, "unknown log format %q", config.Format)
	}
}

func validateHostname(host string) error {
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	if net.ParseIP(host) != nil || host == "localhost" {
		return nil
	}

	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format")
	}

	return nil
}

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func validateCommandLine(line string) error {
	fields := strings.Fields(line)
	if err := validation.ValidateCommand(fields[0], validation.AllowedCommands); err != nil {
		return err
	}
	for _, arg := range fields[1:] {
		if err := validation.ValidateArgument(arg); err != nil {
			return fmt.Errorf("invalid argument %q: %w", arg, err)
		}
	}
	return nil
}

func allowedCommandNames() []string {
	names := make([]string, 0, len(validation.AllowedCommands))
	for name := range validation.AllowedCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// within reports whether p is dir or below it.
func within(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, dir+"/")
}
