package asset

import (
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Match reports whether a project-relative path matches a glob pattern.
// Patterns support "**" and brace alternatives like "*.{png,jpg}".
func Match(pattern, p string) bool {
	ok, err := doublestar.Match(pattern, Normalize(p))
	return err == nil && ok
}

// MatchAny reports whether p matches any of the patterns.
func MatchAny(patterns []string, p string) bool {
	for _, pattern := range patterns {
		if Match(pattern, p) {
			return true
		}
	}
	return false
}

// ValidatePattern reports a malformed glob.
func ValidatePattern(pattern string) error {
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("invalid glob pattern %q", pattern)
	}
	return nil
}

// Loader reads source assets from a project tree.
type Loader struct {
	root   string
	fsys   fs.FS
	ignore []string
}

// NewLoader creates a loader rooted at dir. Paths matching any ignore
// pattern are never returned.
func NewLoader(dir string, ignore ...string) *Loader {
	return &Loader{root: dir, fsys: os.DirFS(dir), ignore: ignore}
}

// NewFSLoader creates a loader over an arbitrary filesystem.
func NewFSLoader(fsys fs.FS, ignore ...string) *Loader {
	return &Loader{fsys: fsys, ignore: ignore}
}

// Root returns the directory the loader reads from, if it has one.
func (l *Loader) Root() string {
	return l.root
}

// Glob returns the sorted, de-duplicated project paths matching patterns.
func (l *Loader) Glob(patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var paths []string

	for _, pattern := range patterns {
		matches, err := doublestar.Glob(l.fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}

		for _, m := range matches {
			m = Normalize(m)
			if MatchAny(l.ignore, m) {
				continue
			}
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			paths = append(paths, m)
		}
	}

	sort.Strings(paths)
	return paths, nil
}

// Load reads every file matching patterns into a SourceAsset snapshot.
// The returned error names the first path that could not be read.
func (l *Loader) Load(patterns []string) ([]SourceAsset, error) {
	paths, err := l.Glob(patterns)
	if err != nil {
		return nil, err
	}

	assets := make([]SourceAsset, 0, len(paths))
	for _, p := range paths {
		a, err := l.Read(p)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}

	return assets, nil
}

// Read loads a single project-relative file.
func (l *Loader) Read(p string) (SourceAsset, error) {
	p = Normalize(p)

	content, err := fs.ReadFile(l.fsys, p)
	if err != nil {
		return SourceAsset{}, &PathError{Path: p, Err: err}
	}

	var modTime time.Time
	if info, err := fs.Stat(l.fsys, p); err == nil {
		modTime = info.ModTime()
	}

	return SourceAsset{
		Path:    p,
		Content: content,
		ModTime: modTime,
		Kind:    KindOf(p),
	}, nil
}

// PathError records the path of a failed read.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string { return "read " + e.Path + ": " + e.Err.Error() }

func (e *PathError) Unwrap() error { return e.Err }
