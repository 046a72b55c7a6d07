// Package scheduler runs registered tasks in predecessor order over a
// bounded worker pool.
//
// Tasks whose predecessors have completed start concurrently. After the
// first failure, or once the context is cancelled, no further task starts:
// tasks already running finish, their outputs stay on disk, and everything
// still waiting is reported as not run.
package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/assetforge/internal/asset"
	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/graph"
	"github.com/conneroisu/assetforge/internal/logging"
)

// Loader reads the sources matching a task's input patterns.
type Loader interface {
	Load(patterns []string) ([]asset.SourceAsset, error)
}

// Options configures a Scheduler.
type Options struct {
	// Workers bounds how many tasks run at once. Zero means GOMAXPROCS.
	Workers int
	Logger  logging.Logger
	// OnTaskDone hooks are called, one at a time, after each task that
	// succeeds.
	OnTaskDone []func(TaskResult)
	// Root, when set, is the directory artifact paths are relative to.
	// Artifacts a task stops producing are then removed from disk.
	Root string
}

// Scheduler executes tasks from a registry and records their outputs in a
// dependency graph.
type Scheduler struct {
	reg    *graph.Registry
	deps   *graph.DependencyGraph
	loader Loader
	opts   Options
	logger logging.Logger

	// runMu serialises runs; the graph is only ever updated by one run.
	runMu sync.Mutex
}

// New creates a scheduler.
func New(reg *graph.Registry, deps *graph.DependencyGraph, loader Loader, opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscard()
	}

	return &Scheduler{
		reg:    reg,
		deps:   deps,
		loader: loader,
		opts:   opts,
		logger: logger.WithComponent("scheduler"),
	}
}

// Graph returns the dependency graph the scheduler records into.
func (s *Scheduler) Graph() *graph.DependencyGraph {
	return s.deps
}

// Registry returns the task registry.
func (s *Scheduler) Registry() *graph.Registry {
	return s.reg
}

// Run executes the named tasks and all of their transitive predecessors.
// No names means every registered task. The returned error is non-nil when
// any task failed or the run was cancelled; the report is returned either
// way once resolution succeeds.
func (s *Scheduler) Run(ctx context.Context, names []string) (*Report, error) {
	if len(names) == 0 {
		names = s.reg.Names()
	}

	tasks, err := s.reg.Closure(names)
	if err != nil {
		return nil, err
	}

	return s.execute(ctx, tasks, nil)
}

// Rebuild executes the named tasks and their transitive dependents, but not
// their predecessors. A dependent that already has recorded outputs is only
// rerun when one of its sources changed during this rebuild; otherwise it is
// reported up to date.
func (s *Scheduler) Rebuild(ctx context.Context, names []string) (*Report, error) {
	if len(names) == 0 {
		return &Report{BuildID: uuid.NewString(), Started: time.Now()}, nil
	}

	tasks, err := s.reg.DependentClosure(names)
	if err != nil {
		return nil, err
	}

	requested := make(map[string]bool, len(names))
	for _, n := range names {
		requested[n] = true
	}

	conditional := make(map[string]bool)
	for _, t := range tasks {
		if !requested[t] {
			conditional[t] = true
		}
	}

	return s.execute(ctx, tasks, conditional)
}

func (s *Scheduler) execute(ctx context.Context, tasks []string, conditional map[string]bool) (*Report, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.reg.Freeze()

	order, err := s.reg.TopologicalOrder(tasks)
	if err != nil {
		return nil, err
	}

	report := &Report{BuildID: uuid.NewString(), Started: time.Now()}
	log := s.logger.With("build_id", report.BuildID)
	log.Info(ctx, "Starting build", "tasks", len(order), "workers", s.opts.Workers)

	position := make(map[string]int, len(order))
	for i, name := range order {
		position[name] = i
	}

	waiting := make(map[string]int, len(order))
	for _, name := range order {
		t, _ := s.reg.Task(name)
		for _, pred := range t.Predecessors {
			if _, ok := position[pred]; ok {
				waiting[name]++
			}
		}
	}

	var ready []string
	for _, name := range order {
		if waiting[name] == 0 {
			ready = append(ready, name)
		}
	}

	release := func(name string) {
		for _, dep := range s.reg.Dependents(name) {
			if _, ok := position[dep]; !ok {
				continue
			}
			waiting[dep]--
			if waiting[dep] == 0 {
				ready = insertByPosition(ready, dep, position)
			}
		}
	}

	results := make(map[string]TaskResult, len(order))
	changed := make(map[string]bool)
	done := make(chan TaskResult, len(order))

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)

	running := 0
	stopped := false

	for {
		for !stopped && len(ready) > 0 && running < s.opts.Workers {
			if ctx.Err() != nil {
				stopped = true
				break
			}

			name := ready[0]
			ready = ready[1:]

			if conditional[name] && !s.needsRun(name, changed) {
				log.Debug(ctx, "Task up to date", "task", name)
				results[name] = TaskResult{Task: name, BuildID: report.BuildID, Status: StatusUpToDate}
				release(name)
				continue
			}

			running++
			g.Go(func() error {
				done <- s.runTask(ctx, log, name)
				return nil
			})
		}

		if running == 0 {
			break
		}

		res := <-done
		res.BuildID = report.BuildID
		running--
		results[res.Task] = res

		if res.Status == StatusFailed {
			stopped = true
			continue
		}

		for _, p := range res.Changed {
			changed[p] = true
		}
		for _, hook := range s.opts.OnTaskDone {
			hook(res)
		}
		release(res.Task)
	}

	_ = g.Wait()

	for _, name := range order {
		res, ok := results[name]
		if !ok {
			res = TaskResult{Task: name, BuildID: report.BuildID, Status: StatusNotRun}
		}
		report.Results = append(report.Results, res)
	}
	report.Duration = time.Since(report.Started)

	log.Info(ctx, "Build finished",
		"succeeded", report.Count(StatusSucceeded),
		"failed", report.Count(StatusFailed),
		"up_to_date", report.Count(StatusUpToDate),
		"not_run", report.Count(StatusNotRun),
		"duration_ms", report.Duration.Milliseconds())

	if err := report.Err(); err != nil {
		return report, err
	}
	if report.Count(StatusNotRun) > 0 && ctx.Err() != nil {
		return report, ctx.Err()
	}

	return report, nil
}

// needsRun reports whether a dependent must be rerun given the artifacts
// changed so far in this run.
func (s *Scheduler) needsRun(name string, changed map[string]bool) bool {
	if !s.deps.HasTask(name) {
		return true
	}

	for _, art := range s.deps.Artifacts(name) {
		for _, src := range art.Sources {
			if changed[src] {
				return true
			}
		}
	}

	t, _ := s.reg.Task(name)
	for p := range changed {
		if asset.MatchAny(t.Inputs, p) {
			return true
		}
	}

	return false
}

func (s *Scheduler) runTask(ctx context.Context, log logging.Logger, name string) (res TaskResult) {
	start := time.Now()
	res = TaskResult{Task: name}
	op := logging.StartOperation(log, "task:"+name)

	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusFailed
			res.Err = errors.NewInternalError(errors.ErrCodeTaskPanic, fmt.Sprintf("task panicked: %v", r), nil).WithTask(name)
		}
		res.Duration = time.Since(start)
		if res.Err != nil {
			op.EndWithError(ctx, res.Err)
		} else {
			op.End(ctx, "artifacts", len(res.Artifacts), "changed", len(res.Changed))
		}
	}()

	t, ok := s.reg.Task(name)
	if !ok {
		res.Status = StatusFailed
		res.Err = errors.NewRegistrationError(errors.ErrCodeUnknownTask, "unknown task").WithTask(name)
		return res
	}

	var inputs []asset.SourceAsset
	if len(t.Inputs) > 0 {
		loaded, err := s.loader.Load(t.Inputs)
		if err != nil {
			res.Status = StatusFailed
			res.Err = loadError(name, err)
			return res
		}
		inputs = loaded
	}

	artifacts, err := t.Run(ctx, inputs)
	if err != nil {
		res.Status = StatusFailed
		res.Err = taskError(name, err)
		return res
	}

	previous := s.deps.Artifacts(name)
	changed, err := s.deps.ReplaceTask(name, artifacts)
	if err != nil {
		res.Status = StatusFailed
		res.Err = taskError(name, err)
		return res
	}
	s.prune(ctx, log, previous, artifacts)

	res.Status = StatusSucceeded
	res.Changed = changed
	res.Artifacts = make([]*asset.OutputArtifact, 0, len(artifacts))
	for _, a := range artifacts {
		res.Artifacts = append(res.Artifacts, a.Ref())
	}

	return res
}

// prune removes the files of previous artifacts that are not in current.
// Every artifact has a single producing task, so nothing else owns them.
func (s *Scheduler) prune(ctx context.Context, log logging.Logger, previous, current []*asset.OutputArtifact) {
	if s.opts.Root == "" || len(previous) == 0 {
		return
	}

	kept := make(map[string]bool, len(current))
	for _, a := range current {
		if a != nil {
			kept[asset.Normalize(a.Path)] = true
		}
	}

	for _, a := range previous {
		if kept[a.Path] {
			continue
		}
		err := os.Remove(filepath.Join(s.opts.Root, filepath.FromSlash(a.Path)))
		switch {
		case err == nil:
			log.Debug(ctx, "Removed stale artifact", "artifact", a.Path)
		case !os.IsNotExist(err):
			log.Warn(ctx, err, "Cannot remove stale artifact", "artifact", a.Path)
		}
	}
}

func loadError(task string, err error) error {
	var pathErr *asset.PathError
	if stderrors.As(err, &pathErr) {
		return errors.NewIOError(errors.ErrCodeReadFailed, pathErr.Path, pathErr.Err).WithTask(task).WithStage("read")
	}
	return errors.NewIOError(errors.ErrCodeReadFailed, "", err).WithTask(task).WithStage("read")
}

func taskError(task string, err error) error {
	if be, ok := errors.As(err); ok {
		be.WithTask(task)
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewInternalError(errors.ErrCodeCancelled, "task cancelled", err).WithTask(task)
	}
	return errors.NewTransformError(task, "", err)
}

// insertByPosition keeps the ready queue in topological order so dispatch
// is deterministic for a given completion sequence.
func insertByPosition(queue []string, name string, position map[string]int) []string {
	i := len(queue)
	for i > 0 && position[queue[i-1]] > position[name] {
		i--
	}
	queue = append(queue, "")
	copy(queue[i+1:], queue[i:])
	queue[i] = name
	return queue
}
