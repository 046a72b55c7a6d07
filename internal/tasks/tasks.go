// Package tasks defines the asset tasks of a front-end build and registers
// them with a task registry.
//
// Each task is a pipeline of stages over the sources its input globs match.
// Intermediate results that a later task rewrites are written to the stage
// directory, so every file in the destination has exactly one producer.
package tasks

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/conneroisu/assetforge/internal/asset"
	"github.com/conneroisu/assetforge/internal/config"
	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/graph"
	"github.com/conneroisu/assetforge/internal/lint"
	"github.com/conneroisu/assetforge/internal/pipeline"
	"github.com/conneroisu/assetforge/internal/plugins"
	"github.com/conneroisu/assetforge/internal/validation"
)

// Task names.
const (
	Clean        = "clean"
	HTML         = "html"
	HTMLLint     = "html:validator"
	Style        = "style"
	Images       = "images"
	SVGStore     = "svgstore"
	InlineImages = "inline-images"
	JS           = "js"
	Fonts        = "fonts"
	HashFiles    = "hashfiles"
)

// SpriteName is the file name of the built SVG sprite.
const SpriteName = "sprite.svg"

// Options configures the task set.
type Options struct {
	Env *pipeline.Env

	SourceDir string
	Dest      string
	StageDir  string

	Production bool
	SourceMaps bool
	Lint       bool

	Globs config.TasksConfig

	Compiler  plugins.Compiler
	Prefixer  plugins.Prefixer
	Optimizer plugins.Optimizer
	Linter    plugins.Linter
}

// NewOptions derives task options from a loaded configuration. Plugin
// commands run in env.Root; an unset Sass command falls back to the
// built-in plain CSS compiler, and unset prefixer and optimizer commands
// pass content through.
func NewOptions(cfg *config.Config, env *pipeline.Env) (Options, error) {
	opts := Options{
		Env:        env,
		SourceDir:  cfg.Source.Dir,
		Dest:       cfg.Build.Dest,
		StageDir:   cfg.Build.StageDir,
		Production: cfg.Build.Production,
		SourceMaps: cfg.Build.SourceMaps,
		Lint:       cfg.Build.Lint,
		Globs:      cfg.Tasks,
		Compiler:   plugins.NewPlainCompiler(os.DirFS(env.Root)),
		Prefixer:   plugins.Passthrough{},
		Optimizer:  plugins.Passthrough{},
	}

	linter, err := lint.New()
	if err != nil {
		return Options{}, err
	}
	opts.Linter = linter

	commands := []struct {
		field string
		line  string
		set   func(*plugins.Command)
	}{
		{"plugins.sass", cfg.Plugins.Sass, func(c *plugins.Command) { opts.Compiler = c }},
		{"plugins.prefixer", cfg.Plugins.Prefixer, func(c *plugins.Command) { opts.Prefixer = c }},
		{"plugins.optimizer", cfg.Plugins.Optimizer, func(c *plugins.Command) { opts.Optimizer = c }},
	}
	for _, c := range commands {
		if strings.TrimSpace(c.line) == "" {
			continue
		}
		cmd, err := plugins.ParseCommand(c.line)
		if err != nil {
			return Options{}, errors.NewConfigError(errors.ErrCodeConfigInvalid, err.Error()).
				WithContext("field", c.field)
		}
		cmd.Dir = env.Root
		c.set(cmd)
	}

	return opts, nil
}

func (o Options) dest(elem ...string) string {
	return asset.Normalize(path.Join(append([]string{o.Dest}, elem...)...))
}

func (o Options) stage(elem ...string) string {
	return asset.Normalize(path.Join(append([]string{o.StageDir}, elem...)...))
}

// Names returns the task names Register adds for opts, in lexical order.
func Names(opts Options) []string {
	names := []string{Clean, Fonts, HTML, Images, InlineImages, JS, Style, SVGStore}
	if opts.Lint {
		names = append(names, HTMLLint)
	}
	if opts.Production {
		names = append(names, HashFiles)
	}
	sort.Strings(names)
	return names
}

// Default returns the tasks a plain build runs. Clean only runs when asked
// for.
func Default(opts Options) []string {
	var names []string
	for _, n := range Names(opts) {
		if n == Clean {
			continue
		}
		names = append(names, n)
	}
	return names
}

// Build returns the task set without registering it.
func Build(opts Options) []*graph.Task {
	htmlPreds := []string{SVGStore}
	if opts.Lint {
		htmlPreds = append(htmlPreds, HTMLLint)
	}

	// In production the markup is staged so hashfiles can rewrite it into
	// the destination.
	htmlDest := opts.dest()
	if opts.Production {
		htmlDest = opts.stage()
	}

	sprite := opts.dest("images", SpriteName)

	set := []*graph.Task{
		{
			Name:        Clean,
			Description: fmt.Sprintf("Remove %s and %s", opts.Dest, opts.StageDir),
			Run:         opts.clean,
		},
		{
			Name:        SVGStore,
			Description: "Combine SVG icons into " + sprite,
			Inputs:      opts.Globs.SVG,
			Run: opts.pipeline(SVGStore,
				pipeline.Sprite{Output: SpriteName},
				pipeline.Emit{Dir: opts.dest("images")},
			),
		},
		{
			Name:         HTML,
			Description:  "Inject the sprite into markup and copy it to " + htmlDest,
			Predecessors: htmlPreds,
			Inputs:       opts.Globs.HTML,
			Run: opts.pipeline(HTML,
				pipeline.InjectSprite{Sprite: sprite},
				pipeline.Emit{Dir: htmlDest, Base: opts.SourceDir},
			),
		},
		{
			Name:        Images,
			Description: "Optimize images into " + opts.dest("images"),
			Inputs:      opts.Globs.Images,
			Run: opts.pipeline(Images,
				pipeline.Optimize{Optimizer: opts.Optimizer},
				pipeline.Emit{Dir: opts.dest("images"), Base: path.Join(opts.SourceDir, "images")},
			),
		},
		{
			Name:        Style,
			Description: "Compile, minify and prefix " + opts.Globs.StyleEntry,
			Inputs:      opts.Globs.Style,
			Run: opts.pipeline(Style,
				pipeline.Compile{Compiler: opts.Compiler, Entry: opts.Globs.StyleEntry},
				pipeline.Minify{},
				pipeline.Prefix{Prefixer: opts.Prefixer},
				pipeline.Emit{Dir: opts.stage("css"), Base: path.Dir(asset.Normalize(opts.Globs.StyleEntry))},
			),
		},
		{
			Name:         InlineImages,
			Description:  "Inline images into the stylesheet as base64",
			Predecessors: []string{Style, Images},
			Inputs:       []string{opts.stage("css", "*.css")},
			Run: opts.pipeline(InlineImages,
				// inline() paths resolve like ../images from the built stylesheet.
				pipeline.InlineImages{BaseDir: opts.dest("images")},
				pipeline.Emit{Dir: opts.dest("css"), Base: opts.stage("css")},
			),
		},
		{
			Name:        JS,
			Description: "Concatenate scripts into " + opts.dest("js", "main.min.js"),
			Inputs:      opts.Globs.JS,
			Run: opts.pipeline(JS,
				pipeline.Concat{Output: "js/main.min.js", SourceMaps: opts.SourceMaps},
				pipeline.Emit{Dir: opts.dest()},
			),
		},
		{
			Name:        Fonts,
			Description: "Copy fonts into " + opts.dest("fonts"),
			Inputs:      opts.Globs.Fonts,
			Run: opts.pipeline(Fonts,
				pipeline.Emit{Dir: opts.dest("fonts"), Base: path.Join(opts.SourceDir, "fonts")},
			),
		},
	}

	// The gate is only registered when it guards html; otherwise a watch
	// rebuild would reach it through its input globs.
	if opts.Lint {
		set = append(set, &graph.Task{
			Name:        HTMLLint,
			Description: "Check markup against the lint rules",
			Inputs:      opts.Globs.HTML,
			Run: opts.pipeline(HTMLLint,
				pipeline.Lint{Linter: opts.Linter},
			),
		})
	}

	if opts.Production {
		set = append(set, &graph.Task{
			Name:         HashFiles,
			Description:  "Cache-bust script and style references and write the manifest",
			Predecessors: []string{HTML, InlineImages, JS},
			Inputs:       []string{opts.stage("*.html")},
			Run: opts.pipeline(HashFiles,
				pipeline.HashRefs{Dir: opts.dest(), Base: opts.stage(), Exts: []string{".css", ".js"}},
				pipeline.WriteManifest{Path: opts.dest("manifest.json"), Dir: opts.dest()},
				pipeline.Emit{Dir: opts.dest(), Base: opts.stage()},
			),
		})
	}

	return set
}

// Register adds the task set to reg as one batch.
func Register(reg *graph.Registry, opts Options) error {
	return reg.Register(Build(opts)...)
}

func (o Options) pipeline(task string, stages ...pipeline.Stage) graph.RunFunc {
	p := pipeline.New(task, o.Env, stages...)
	return p.Run
}

func (o Options) clean(_ context.Context, _ []asset.SourceAsset) ([]*asset.OutputArtifact, error) {
	for _, dir := range []string{o.Dest, o.StageDir} {
		if err := validation.ValidatePath(dir); err != nil {
			return nil, errors.NewIOError(errors.ErrCodeWriteFailed, dir, err).WithStage("clean")
		}
		if err := os.RemoveAll(o.Env.Abs(dir)); err != nil {
			return nil, errors.NewIOError(errors.ErrCodeWriteFailed, dir, err).WithStage("clean")
		}
	}

	return nil, nil
}
