// Package validation provides the checks applied to plugin commands and
// configured paths before they reach the filesystem or a subprocess.
package validation

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// AllowedCommands lists the external transformer binaries a plugin may run.
var AllowedCommands = map[string]bool{
	"sass":         true,
	"dart-sass":    true,
	"sassc":        true,
	"postcss":      true,
	"autoprefixer": true,
	"csso":         true,
	"svgo":         true,
	"imagemin":     true,
	"cwebp":        true,
	"cat":          true,
}

const (
	// Plugin argv is never passed through a shell, but a command line in
	// the config file that looks like shell is almost certainly a mistake.
	shellChars = ";&|$`()<>\\\"'"
	pathChars  = ";&|$`<>"
)

// Absolute commands are only accepted from the system binary directories.
var systemBinDirs = []string{"/usr/bin/", "/bin/", "/usr/local/bin/"}

// ValidateArgument rejects a plugin argument containing shell syntax, a
// ".." segment or an absolute path outside the system binary directories.
func ValidateArgument(arg string) error {
	if i := strings.IndexAny(arg, shellChars); i >= 0 {
		return fmt.Errorf("contains shell character %q", arg[i])
	}
	if strings.Contains(arg, "..") {
		return fmt.Errorf("contains path traversal: %s", arg)
	}
	if filepath.IsAbs(arg) && !underSystemBin(arg) {
		return fmt.Errorf("absolute path not allowed: %s", arg)
	}
	return nil
}

func underSystemBin(p string) bool {
	for _, dir := range systemBinDirs {
		if strings.HasPrefix(p, dir) {
			return true
		}
	}
	return false
}

// ValidateCommand checks the base name of command against allowed and the
// full name against ValidateArgument.
func ValidateCommand(command string, allowed map[string]bool) error {
	if command == "" {
		return fmt.Errorf("command cannot be empty")
	}
	if !allowed[filepath.Base(command)] {
		return fmt.Errorf("command %q is not allowed", command)
	}
	if err := ValidateArgument(command); err != nil {
		return fmt.Errorf("invalid command %q: %w", command, err)
	}
	return nil
}

// ValidatePath accepts only paths that stay inside the project root.
func ValidatePath(p string) error {
	switch {
	case p == "":
		return fmt.Errorf("path cannot be empty")
	case filepath.IsAbs(p):
		return fmt.Errorf("path must be relative to the project root: %s", p)
	case !filepath.IsLocal(p):
		return fmt.Errorf("path escapes the project root: %s", p)
	}
	if i := strings.IndexAny(p, pathChars); i >= 0 {
		return fmt.Errorf("path contains shell character %q", p[i])
	}
	return nil
}

// ValidateOrigin checks the Origin header of a live-reload handshake.
// Entries in allowed match either the whole origin or its host:port.
func ValidateOrigin(origin string, allowed []string) error {
	if origin == "" {
		return fmt.Errorf("origin header is required")
	}

	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin scheme %q is not http or https", u.Scheme)
	}

	for _, a := range allowed {
		if a == origin || a == u.Host {
			return nil
		}
	}
	return fmt.Errorf("origin %q is not allowed", origin)
}
