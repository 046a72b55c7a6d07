package watcher

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/assetforge/internal/graph"
	"github.com/conneroisu/assetforge/internal/hasher"
	"github.com/conneroisu/assetforge/internal/logging"
	"github.com/conneroisu/assetforge/internal/scheduler"
)

// State is the controller's position in the watch cycle.
type State int

const (
	StateIdle State = iota
	StateDebouncing
	StateBuilding
)

// String returns the string representation of the State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDebouncing:
		return "debouncing"
	case StateBuilding:
		return "building"
	default:
		return "unknown"
	}
}

// Rebuilder runs named tasks and their dependents.
type Rebuilder interface {
	Rebuild(ctx context.Context, names []string) (*scheduler.Report, error)
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	// Debounce is the quiet period after the last event before a rebuild
	// starts.
	Debounce time.Duration
	Graph    *graph.DependencyGraph
	Registry *graph.Registry
	Builder  Rebuilder
	// Root resolves event paths for content hashing. Events whose file
	// content is unchanged since the last event are dropped. Leave Hasher
	// nil to rebuild on every event.
	Root   string
	Hasher *hasher.Hasher
	Logger logging.Logger
	// OnBuild is called after every rebuild, successful or not.
	OnBuild func(paths []string, report *scheduler.Report, err error)
}

// Controller debounces change events and rebuilds the affected tasks.
//
// Idle moves to Debouncing on the first event. Every further event restarts
// the window. When the window elapses the controller moves to Building and
// rebuilds the tasks affected by every pending path; when the rebuild ends
// it returns to Idle. Events that arrive while Building are held and open a
// new window as soon as the build finishes.
type Controller struct {
	opts   ControllerOptions
	logger logging.Logger

	mu      sync.Mutex
	state   State
	pending map[string]ChangeEvent
	queued  map[string]ChangeEvent
	digests map[string]hasher.Digest
	timer   *time.Timer
	gen     uint64
	closed  bool
	watcher *FileWatcher

	ctx    context.Context
	cancel context.CancelFunc
	builds sync.WaitGroup
}

// NewController creates an idle controller.
func NewController(opts ControllerOptions) *Controller {
	if opts.Debounce <= 0 {
		opts.Debounce = 100 * time.Millisecond
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscard()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		opts:    opts,
		logger:  logger.WithComponent("watch"),
		state:   StateIdle,
		pending: make(map[string]ChangeEvent),
		queued:  make(map[string]ChangeEvent),
		digests: make(map[string]hasher.Digest),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Attach feeds fw's events into the controller. Shutdown stops fw after
// the in-flight build.
func (c *Controller) Attach(fw *FileWatcher) {
	c.mu.Lock()
	c.watcher = fw
	c.mu.Unlock()

	fw.AddHandler(c.Notify)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Notify records a change event.
func (c *Controller) Notify(ev ChangeEvent) {
	if c.unchanged(ev) {
		c.logger.Debug(c.ctx, "Ignoring event with unchanged content", "path", ev.Path)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	switch c.state {
	case StateIdle:
		c.pending[ev.Path] = ev
		c.state = StateDebouncing
		c.armLocked()
	case StateDebouncing:
		c.pending[ev.Path] = ev
		c.armLocked()
	case StateBuilding:
		c.queued[ev.Path] = ev
	}
}

// unchanged reports whether ev is a write that left the file's content as
// it was at the previous event.
func (c *Controller) unchanged(ev ChangeEvent) bool {
	if c.opts.Hasher == nil {
		return false
	}

	abs := filepath.Join(c.opts.Root, filepath.FromSlash(ev.Path))

	if ev.Type == EventTypeDeleted || ev.Type == EventTypeRenamed {
		c.opts.Hasher.Forget(abs)
		c.mu.Lock()
		delete(c.digests, ev.Path)
		c.mu.Unlock()
		return false
	}

	digest, err := c.opts.Hasher.File(abs)
	if err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev, seen := c.digests[ev.Path]
	c.digests[ev.Path] = digest
	return seen && prev == digest
}

// armLocked (re)starts the debounce window. A generation counter discards
// fires from timers that were superseded.
func (c *Controller) armLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.opts.Debounce, func() { c.fire(gen) })
}

func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	if c.closed || c.state != StateDebouncing || gen != c.gen {
		c.mu.Unlock()
		return
	}

	paths := sortedPaths(c.pending)
	c.pending = make(map[string]ChangeEvent)
	c.state = StateBuilding
	c.timer = nil
	c.builds.Add(1)
	c.mu.Unlock()

	go c.build(paths)
}

func (c *Controller) build(paths []string) {
	defer c.builds.Done()

	tasks := c.AffectedTasks(paths)
	op := logging.StartOperation(c.logger, "rebuild")

	var report *scheduler.Report
	var err error

	if len(tasks) == 0 {
		c.logger.Debug(c.ctx, "No tasks affected", "paths", paths)
	} else {
		c.logger.Info(c.ctx, "Rebuilding", "paths", len(paths), "tasks", tasks)
		report, err = c.opts.Builder.Rebuild(c.ctx, tasks)
		if err != nil {
			op.EndWithError(c.ctx, err)
		} else {
			op.End(c.ctx, "tasks", len(tasks))
		}
	}

	if c.opts.OnBuild != nil && len(tasks) > 0 {
		c.opts.OnBuild(paths, report, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateIdle
	if c.closed || len(c.queued) == 0 {
		return
	}

	c.pending = c.queued
	c.queued = make(map[string]ChangeEvent)
	c.state = StateDebouncing
	c.armLocked()
}

// AffectedTasks maps changed paths to the tasks that must rebuild: the
// producers of artifacts derived from each path, plus the tasks whose input
// globs match it, which covers files the graph has not seen yet.
func (c *Controller) AffectedTasks(paths []string) []string {
	set := make(map[string]struct{})

	for _, p := range paths {
		if c.opts.Graph != nil {
			for _, t := range c.opts.Graph.AffectedTasks(p) {
				set[t] = struct{}{}
			}
		}
		if c.opts.Registry != nil {
			for _, t := range c.opts.Registry.MatchInputs(p) {
				set[t] = struct{}{}
			}
		}
	}

	tasks := make([]string, 0, len(set))
	for t := range set {
		tasks = append(tasks, t)
	}
	sort.Strings(tasks)
	return tasks
}

// Shutdown cancels a pending debounce window, waits for an in-flight
// rebuild, then stops the attached file watcher. It returns ctx's error if
// the rebuild outlives ctx.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.state == StateDebouncing {
		c.state = StateIdle
	}
	c.pending = make(map[string]ChangeEvent)
	c.queued = make(map[string]ChangeEvent)
	fw := c.watcher
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.builds.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		// Stop waiting; the scheduler stops starting tasks once cancelled.
		c.cancel()
		<-done
		err = ctx.Err()
	}
	c.cancel()

	if fw != nil {
		if stopErr := fw.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}

	return err
}

func sortedPaths(events map[string]ChangeEvent) []string {
	paths := make([]string, 0, len(events))
	for p := range events {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
