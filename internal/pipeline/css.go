package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"

	"github.com/conneroisu/assetforge/internal/asset"
	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/plugins"
)

// Compile turns stylesheet entry points into CSS. Files whose base name
// starts with "_" are partials: they are not compiled on their own but
// belong to every entry's edge set unless the compiler reports exact
// imports.
type Compile struct {
	Compiler plugins.Compiler
	// Entry restricts compilation to a single entry point.
	Entry string
}

// Name implements Stage.
func (Compile) Name() string { return "compile" }

// Apply implements Stage.
func (s Compile) Apply(ctx context.Context, b *Batch) error {
	all := make([]string, 0, len(b.Files))
	for _, f := range b.Files {
		all = append(all, f.Path)
	}

	var out []*File
	for _, f := range b.Files {
		if !s.isEntry(f.Path) {
			continue
		}

		res, err := s.Compiler.Compile(ctx, f.Path, f.Content)
		if err != nil {
			return err
		}

		sources := all
		if res.Imports != nil {
			sources = append([]string{f.Path}, res.Imports...)
		}

		out = append(out, &File{
			Path:    strings.TrimSuffix(f.Path, path.Ext(f.Path)) + ".css",
			Content: res.CSS,
			Kind:    asset.KindStyle,
			Sources: mergeSources(f.Sources, sources),
		})
	}

	if s.Entry != "" && len(out) == 0 && len(b.Files) > 0 {
		return fmt.Errorf("entry point %s not found", s.Entry)
	}

	b.Files = out
	return nil
}

func (s Compile) isEntry(p string) bool {
	if s.Entry != "" {
		return p == asset.Normalize(s.Entry)
	}
	return !strings.HasPrefix(path.Base(p), "_")
}

// Minify rewrites CSS in its shortest equivalent form.
type Minify struct{}

// Name implements Stage.
func (Minify) Name() string { return "minify" }

// Apply implements Stage.
func (Minify) Apply(_ context.Context, b *Batch) error {
	for _, f := range b.Files {
		if f.Kind != asset.KindStyle {
			continue
		}
		out, err := MinifyCSS(f.Content)
		if err != nil {
			return fmt.Errorf("%s: %w", f.Path, err)
		}
		f.Content = out
	}
	return nil
}

var cssMinifier = func() *minify.M {
	m := minify.New()
	m.AddFunc(cssMediaType, css.Minify)
	return m
}()

const cssMediaType = "text/css"

// MinifyCSS is the minifier behind the Minify stage.
func MinifyCSS(src []byte) ([]byte, error) {
	return cssMinifier.Bytes(cssMediaType, src)
}

// Prefix runs CSS through an autoprefixer.
type Prefix struct {
	Prefixer plugins.Prefixer
}

// Name implements Stage.
func (Prefix) Name() string { return "autoprefix" }

// Apply implements Stage.
func (s Prefix) Apply(ctx context.Context, b *Batch) error {
	for _, f := range b.Files {
		if f.Kind != asset.KindStyle {
			continue
		}
		out, err := s.Prefixer.Prefix(ctx, f.Path, f.Content)
		if err != nil {
			return err
		}
		f.Content = out
	}
	return nil
}

var inlinePattern = regexp.MustCompile(`inline\(\s*['"]?([^'")\s]+)['"]?\s*\)`)

// InlineImages replaces inline(name) calls in CSS with base64 data URIs of
// files under BaseDir. Inlined files join the stylesheet's edge set.
type InlineImages struct {
	// BaseDir is the project-relative directory inline paths resolve
	// against.
	BaseDir string
}

// Name implements Stage.
func (InlineImages) Name() string { return "inline-images" }

// Apply implements Stage.
func (s InlineImages) Apply(ctx context.Context, b *Batch) error {
	for _, f := range b.Files {
		if f.Kind != asset.KindStyle {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var inlined []string
		var failure error

		f.Content = inlinePattern.ReplaceAllFunc(f.Content, func(match []byte) []byte {
			if failure != nil {
				return match
			}

			name := string(inlinePattern.FindSubmatch(match)[1])
			p := asset.Normalize(path.Join(s.BaseDir, name))

			data, err := os.ReadFile(b.Env.Abs(p))
			if err != nil {
				failure = errors.NewIOError(errors.ErrCodeReadFailed, p, err)
				return match
			}
			inlined = append(inlined, p)

			return []byte("url(" + DataURI(p, data) + ")")
		})

		if failure != nil {
			return failure
		}

		f.Sources = mergeSources(f.Sources, inlined)
	}

	return nil
}

// DataURI encodes data as a base64 data URI typed by the extension of p.
func DataURI(p string, data []byte) string {
	typ := mime.TypeByExtension(path.Ext(p))
	if typ == "" {
		typ = "application/octet-stream"
	}
	if i := strings.IndexByte(typ, ';'); i >= 0 {
		typ = typ[:i]
	}

	return "data:" + typ + ";base64," + base64.StdEncoding.EncodeToString(data)
}
