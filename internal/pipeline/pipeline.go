// Package pipeline runs a task's transform stages. A pipeline is an ordered
// list of stages evaluated by one loop; each stage reads and replaces the
// files of a shared Batch, and the Emit stage turns them into artifacts on
// disk.
package pipeline

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"sort"

	"github.com/conneroisu/assetforge/internal/asset"
	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/hasher"
	"github.com/conneroisu/assetforge/internal/logging"
	"github.com/conneroisu/assetforge/internal/plugins"
)

// File is an in-flight file inside a batch.
type File struct {
	// Path is project-relative. Emit maps it into the destination.
	Path    string
	Content []byte
	Kind    asset.Kind
	// Sources are the project paths this file was derived from.
	Sources []string
	// Dest, when set, is the exact project-relative output path and
	// bypasses Emit's directory mapping.
	Dest string
}

// Env is the environment shared by every stage of every pipeline.
type Env struct {
	// Root is the project directory on disk.
	Root   string
	Hasher *hasher.Hasher
	Logger logging.Logger
}

// Abs resolves a project-relative path against Root.
func (e *Env) Abs(p string) string {
	root := e.Root
	if root == "" {
		root = "."
	}
	return filepath.Join(root, filepath.FromSlash(p))
}

func (e *Env) logger() logging.Logger {
	if e.Logger == nil {
		return logging.NewDiscard()
	}
	return e.Logger
}

var defaultHasher = hasher.New(hasher.DefaultLength)

func (e *Env) hasher() *hasher.Hasher {
	if e.Hasher == nil {
		return defaultHasher
	}
	return e.Hasher
}

// Batch is the state threaded through one pipeline run.
type Batch struct {
	Task      string
	Env       *Env
	Files     []*File
	Artifacts []*asset.OutputArtifact
	// Manifest maps logical output names to cache-busted names.
	Manifest map[string]string
}

// Stage is one step of a pipeline.
type Stage interface {
	Name() string
	Apply(ctx context.Context, b *Batch) error
}

// Func adapts a function to a Stage.
func Func(name string, fn func(ctx context.Context, b *Batch) error) Stage {
	return funcStage{name: name, fn: fn}
}

type funcStage struct {
	name string
	fn   func(ctx context.Context, b *Batch) error
}

func (s funcStage) Name() string { return s.name }

func (s funcStage) Apply(ctx context.Context, b *Batch) error { return s.fn(ctx, b) }

// Pipeline is the ordered stage list of one task.
type Pipeline struct {
	Task   string
	Env    *Env
	Stages []Stage
}

// New creates a pipeline for task.
func New(task string, env *Env, stages ...Stage) *Pipeline {
	return &Pipeline{Task: task, Env: env, Stages: stages}
}

// Run applies every stage in order to the inputs. The first failing stage
// stops the run; its error names the task and stage.
func (p *Pipeline) Run(ctx context.Context, inputs []asset.SourceAsset) ([]*asset.OutputArtifact, error) {
	env := p.Env
	if env == nil {
		env = &Env{}
	}

	b := &Batch{
		Task:     p.Task,
		Env:      env,
		Files:    make([]*File, 0, len(inputs)),
		Manifest: make(map[string]string),
	}

	for _, in := range inputs {
		b.Files = append(b.Files, &File{
			Path:    in.Path,
			Content: in.Content,
			Kind:    in.Kind,
			Sources: []string{in.Path},
		})
	}
	sortFiles(b.Files)

	log := env.logger().WithComponent("pipeline").With("task", p.Task)

	for _, stage := range p.Stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		log.Debug(ctx, "Applying stage", "stage", stage.Name(), "files", len(b.Files))

		if err := stage.Apply(ctx, b); err != nil {
			return nil, wrapStageError(p.Task, stage.Name(), err)
		}
	}

	return b.Artifacts, nil
}

func wrapStageError(task, stage string, err error) error {
	if be, ok := errors.As(err); ok {
		be.WithTask(task).WithStage(stage)
		return err
	}

	te := errors.NewTransformError(task, stage, err)

	var syntaxErr *plugins.SyntaxError
	if stderrors.As(err, &syntaxErr) {
		te.WithLocation(syntaxErr.Path, syntaxErr.Line)
	}

	return te
}

func sortFiles(files []*File) {
	sort.SliceStable(files, func(i, j int) bool { return files[i].Path < files[j].Path })
}

func mergeSources(lists ...[]string) []string {
	set := make(map[string]struct{})
	for _, list := range lists {
		for _, s := range list {
			set[s] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)

	return out
}
