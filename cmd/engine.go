package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/conneroisu/assetforge/internal/asset"
	"github.com/conneroisu/assetforge/internal/config"
	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/graph"
	"github.com/conneroisu/assetforge/internal/hasher"
	"github.com/conneroisu/assetforge/internal/logging"
	"github.com/conneroisu/assetforge/internal/pipeline"
	"github.com/conneroisu/assetforge/internal/scheduler"
	"github.com/conneroisu/assetforge/internal/tasks"
	"github.com/conneroisu/assetforge/internal/watcher"
)

// engine is one process's build state: the registered tasks, the
// dependency graph they populate and the scheduler that runs them.
type engine struct {
	cfg    *config.Config
	root   string
	logger logging.Logger
	hasher *hasher.Hasher
	opts   tasks.Options
	reg    *graph.Registry
	deps   *graph.DependencyGraph
	sched  *scheduler.Scheduler
}

// newEngine loads the configuration and registers the task set. hooks run
// after every successful task.
func newEngine(hooks ...func(scheduler.TaskResult)) (*engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	return newEngineFor(cfg, projectDir, hooks...)
}

func newEngineFor(cfg *config.Config, dir string, hooks ...func(scheduler.TaskResult)) (*engine, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving project directory: %w", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	h := hasher.New(cfg.Build.HashLength)
	env := &pipeline.Env{Root: root, Hasher: h, Logger: logger}

	opts, err := tasks.NewOptions(cfg, env)
	if err != nil {
		return nil, err
	}

	reg := graph.NewRegistry()
	if err := tasks.Register(reg, opts); err != nil {
		return nil, err
	}

	deps := graph.NewDependencyGraph()
	sched := scheduler.New(reg, deps, asset.NewLoader(root), scheduler.Options{
		Workers:    cfg.Build.Workers,
		Logger:     logger,
		OnTaskDone: hooks,
		Root:       root,
	})

	return &engine{
		cfg:    cfg,
		root:   root,
		logger: logger,
		hasher: h,
		opts:   opts,
		reg:    reg,
		deps:   deps,
		sched:  sched,
	}, nil
}

func newLogger(cfg config.LogConfig) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, err.Error()).WithContext("field", "log.level")
	}

	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Format,
		Output: os.Stderr,
	}), nil
}

// build runs names, or the default task set when names is empty, together
// with their predecessors.
func (e *engine) build(ctx context.Context, names []string) (*scheduler.Report, error) {
	if len(names) == 0 {
		names = tasks.Default(e.opts)
	}

	return e.sched.Run(ctx, names)
}

// watch rebuilds affected tasks on source changes until ctx is done, then
// waits for any in-flight rebuild. onBuild is called after every rebuild.
func (e *engine) watch(ctx context.Context, onBuild func(*scheduler.Report, error)) error {
	fw, err := watcher.NewFileWatcher(e.root, e.logger)
	if err != nil {
		return err
	}

	fw.AddFilter(watcher.NoGitFilter)
	fw.AddFilter(watcher.NoNodeModulesFilter)
	fw.AddFilter(watcher.NoEditorTempFilter)
	fw.AddFilter(watcher.DirFilter(e.cfg.Build.Dest, e.cfg.Build.StageDir))
	fw.AddFilter(watcher.IgnoreFilter(e.cfg.Watch.Ignore...))

	ctrl := watcher.NewController(watcher.ControllerOptions{
		Debounce: e.cfg.Watch.Debounce,
		Graph:    e.deps,
		Registry: e.reg,
		Builder:  e.sched,
		Root:     e.root,
		Hasher:   e.hasher,
		Logger:   e.logger,
		OnBuild: func(_ []string, report *scheduler.Report, err error) {
			if onBuild != nil {
				onBuild(report, err)
			}
		},
	})
	ctrl.Attach(fw)

	if err := fw.AddRecursive(e.cfg.Source.Dir); err != nil {
		_ = fw.Stop()
		return fmt.Errorf("watching %s: %w", e.cfg.Source.Dir, err)
	}
	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		return err
	}

	e.logger.Info(ctx, "Watching for changes", "dir", e.cfg.Source.Dir, "debounce", e.cfg.Watch.Debounce.String())

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return ctrl.Shutdown(shutdownCtx)
}
