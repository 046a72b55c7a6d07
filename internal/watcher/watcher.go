// Package watcher turns filesystem notifications under a project root into
// incremental rebuilds.
//
// FileWatcher wraps fsnotify and reports filtered, project-relative change
// events. Controller debounces those events and asks the scheduler to
// rebuild only the tasks the changed paths affect.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/assetforge/internal/asset"
	"github.com/conneroisu/assetforge/internal/logging"
)

// FileWatcher watches a project tree for file changes.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	root     string
	filters  []FileFilter
	handlers []ChangeHandler
	logger   logging.Logger
	mutex    sync.RWMutex
	done     chan struct{}
	stopOnce sync.Once
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type EventType
	// Path is project-relative and slash separated.
	Path    string
	ModTime time.Time
	Size    int64
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileFilter reports whether a project-relative path should be watched.
type FileFilter func(path string) bool

// ChangeHandler handles a single change event.
type ChangeHandler func(event ChangeEvent)

// NewFileWatcher creates a watcher for the project rooted at root.
func NewFileWatcher(root string, logger logging.Logger) (*FileWatcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving watch root: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = logging.NewDiscard()
	}

	return &FileWatcher{
		watcher: watcher,
		root:    abs,
		logger:  logger.WithComponent("watcher"),
		done:    make(chan struct{}),
	}, nil
}

// AddFilter adds a file filter
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// AddRecursive watches dir, relative to the root, and every directory
// below it that the filters accept.
func (fw *FileWatcher) AddRecursive(dir string) error {
	start, err := fw.resolve(dir)
	if err != nil {
		return fmt.Errorf("invalid watch path: %w", err)
	}

	return filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}

		rel := fw.relative(p)
		if rel != "." && !fw.accept(rel) {
			return filepath.SkipDir
		}

		return fw.watcher.Add(p)
	})
}

// resolve maps a root-relative path to an absolute one inside the root.
func (fw *FileWatcher) resolve(p string) (string, error) {
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(fw.root, p)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(fw.root, abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the project root", p)
	}

	if _, err := os.Stat(abs); err != nil {
		return "", err
	}

	return abs, nil
}

func (fw *FileWatcher) relative(abs string) string {
	rel, err := filepath.Rel(fw.root, abs)
	if err != nil {
		return asset.Normalize(abs)
	}
	return asset.Normalize(rel)
}

func (fw *FileWatcher) accept(rel string) bool {
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()

	for _, filter := range fw.filters {
		if !filter(rel) {
			return false
		}
	}
	return true
}

// Start runs the event loop until ctx is cancelled or Stop is called.
func (fw *FileWatcher) Start(ctx context.Context) error {
	go fw.watchLoop(ctx)
	return nil
}

// Stop closes the underlying fsnotify watcher.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		close(fw.done)
		err = fw.watcher.Close()
	})
	return err
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	rel := fw.relative(event.Name)
	if !fw.accept(rel) {
		return
	}

	info, statErr := os.Stat(event.Name)

	var ev ChangeEvent
	ev.Path = rel
	if statErr == nil {
		ev.ModTime = info.ModTime()
		ev.Size = info.Size()
	}

	switch {
	case event.Op.Has(fsnotify.Create):
		ev.Type = EventTypeCreated
	case event.Op.Has(fsnotify.Write):
		ev.Type = EventTypeModified
	case event.Op.Has(fsnotify.Remove):
		ev.Type = EventTypeDeleted
	case event.Op.Has(fsnotify.Rename):
		ev.Type = EventTypeRenamed
	default:
		ev.Type = EventTypeModified
	}

	// New directories are watched as they appear; they carry no content
	// of their own.
	if statErr == nil && info.IsDir() {
		if ev.Type == EventTypeCreated {
			if err := fw.AddRecursive(rel); err != nil {
				fw.logger.Warn(context.Background(), err, "Cannot watch new directory", "path", rel)
			}
		}
		return
	}

	fw.mutex.RLock()
	handlers := fw.handlers
	fw.mutex.RUnlock()

	for _, handler := range handlers {
		handler(ev)
	}
}

// Common file filters

// NoGitFilter skips version control metadata.
func NoGitFilter(p string) bool {
	return !underDir(p, ".git")
}

// NoNodeModulesFilter skips installed packages.
func NoNodeModulesFilter(p string) bool {
	return !underDir(p, "node_modules")
}

// NoEditorTempFilter skips swap, backup and lock files editors write next
// to the file being edited.
func NoEditorTempFilter(p string) bool {
	base := path.Base(p)
	switch {
	case strings.HasSuffix(base, "~"),
		strings.HasSuffix(base, ".swp"),
		strings.HasSuffix(base, ".swx"),
		strings.HasSuffix(base, ".tmp"),
		strings.HasPrefix(base, ".#"),
		strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#"),
		base == "4913",
		base == ".DS_Store":
		return false
	}
	return true
}

// DirFilter skips everything at or below any of dirs. It is used for the
// build destination, whose changes are the watcher's own output.
func DirFilter(dirs ...string) FileFilter {
	cleaned := make([]string, 0, len(dirs))
	for _, d := range dirs {
		cleaned = append(cleaned, asset.Normalize(d))
	}

	return func(p string) bool {
		for _, d := range cleaned {
			if p == d || strings.HasPrefix(p, d+"/") {
				return false
			}
		}
		return true
	}
}

// IgnoreFilter skips paths matching any glob, and any path inside a
// directory named by a pattern without glob characters.
func IgnoreFilter(patterns ...string) FileFilter {
	return func(p string) bool {
		for _, pattern := range patterns {
			if !strings.ContainsAny(pattern, "*?[{") {
				if underDir(p, pattern) {
					return false
				}
				continue
			}
			if asset.Match(pattern, p) {
				return false
			}
		}
		return true
	}
}

// underDir reports whether any element of p equals name.
func underDir(p, name string) bool {
	name = strings.Trim(name, "/")
	if strings.Contains(name, "/") {
		return p == name || strings.HasPrefix(p, name+"/")
	}
	for _, elem := range strings.Split(p, "/") {
		if elem == name {
			return true
		}
	}
	return false
}
