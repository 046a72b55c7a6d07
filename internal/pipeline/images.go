package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"golang.org/x/net/html"

	"github.com/conneroisu/assetforge/internal/asset"
	"github.com/conneroisu/assetforge/internal/markup"
	"github.com/conneroisu/assetforge/internal/plugins"
)

// Optimize runs raster and vector images through an optimiser.
type Optimize struct {
	Optimizer plugins.Optimizer
}

// Name implements Stage.
func (Optimize) Name() string { return "optimize" }

// Apply implements Stage.
func (s Optimize) Apply(ctx context.Context, b *Batch) error {
	for _, f := range b.Files {
		if f.Kind != asset.KindImage && f.Kind != asset.KindSVG {
			continue
		}
		out, err := s.Optimizer.Optimize(ctx, f.Path, f.Content)
		if err != nil {
			return err
		}
		f.Content = out
	}
	return nil
}

// Sprite combines SVG files into one sprite of <symbol> elements, each
// identified by its file's base name. The sprite is a new file; sources are
// never rewritten.
type Sprite struct {
	// Output is the sprite's batch path, mapped by Emit.
	Output string
}

// Name implements Stage.
func (Sprite) Name() string { return "svgstore" }

// Apply implements Stage.
func (s Sprite) Apply(_ context.Context, b *Batch) error {
	var svgs []*File
	for _, f := range b.Files {
		if f.Kind == asset.KindSVG {
			svgs = append(svgs, f)
		}
	}
	if len(svgs) == 0 {
		b.Files = nil
		return nil
	}
	sortFiles(svgs)

	var buf bytes.Buffer
	buf.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" style="display: none;">`)
	buf.WriteByte('\n')

	ids := make(map[string]string, len(svgs))
	var sources []string

	for _, f := range svgs {
		id := strings.TrimSuffix(path.Base(f.Path), path.Ext(f.Path))
		if prev, dup := ids[id]; dup {
			return fmt.Errorf("symbol id %q used by both %s and %s", id, prev, f.Path)
		}
		ids[id] = f.Path

		viewBox, inner, err := parseSVG(f.Content)
		if err != nil {
			return fmt.Errorf("%s: %w", f.Path, err)
		}

		buf.WriteString(`<symbol id="`)
		buf.WriteString(html.EscapeString(id))
		buf.WriteByte('"')
		if viewBox != "" {
			buf.WriteString(` viewBox="`)
			buf.WriteString(html.EscapeString(viewBox))
			buf.WriteByte('"')
		}
		buf.WriteByte('>')
		buf.Write(bytes.TrimSpace(inner))
		buf.WriteString("</symbol>\n")

		sources = append(sources, f.Sources...)
	}

	buf.WriteString("</svg>\n")

	b.Files = []*File{{
		Path:    s.Output,
		Content: buf.Bytes(),
		Kind:    asset.KindSVG,
		Sources: mergeSources(sources),
	}}

	return nil
}

// parseSVG returns the root element's viewBox and the bytes between its
// start and end tags.
func parseSVG(src []byte) (string, []byte, error) {
	z := html.NewTokenizer(bytes.NewReader(src))

	offset := 0
	depth := 0
	innerStart := -1
	viewBox := ""

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return "", nil, err
			}
			break
		}

		// TagName lower-cases the token buffer in place, so copy first.
		raw := append([]byte(nil), z.Raw()...)
		name, _ := z.TagName()

		switch tt {
		case html.StartTagToken:
			if string(name) == "svg" {
				if depth == 0 && innerStart < 0 {
					if a, ok := markup.Lookup(markup.Attributes(raw), "viewBox"); ok {
						viewBox = a.Value
					}
					innerStart = offset + len(raw)
				}
				depth++
			}
		case html.SelfClosingTagToken:
			if string(name) == "svg" && innerStart < 0 {
				if a, ok := markup.Lookup(markup.Attributes(raw), "viewBox"); ok {
					viewBox = a.Value
				}
				return viewBox, nil, nil
			}
		case html.EndTagToken:
			if string(name) == "svg" && depth > 0 {
				depth--
				if depth == 0 {
					return viewBox, src[innerStart:offset], nil
				}
			}
		}

		offset += len(raw)
	}

	if innerStart < 0 {
		return "", nil, fmt.Errorf("no <svg> root element")
	}
	return "", nil, fmt.Errorf("unclosed <svg> root element")
}

// Inject markers delimiting the region InjectSprite replaces.
const (
	InjectStart = "<!-- inject:svg -->"
	InjectEnd   = "<!-- endinject -->"
)

// InjectSprite replaces the inject:svg region of markup files with the
// contents of the sprite artifact. A missing sprite leaves the region as it
// is, but the sprite path is still recorded as a source.
type InjectSprite struct {
	// Sprite is the project-relative path of the built sprite.
	Sprite string
}

// Name implements Stage.
func (InjectSprite) Name() string { return "inject" }

// Apply implements Stage.
func (s InjectSprite) Apply(ctx context.Context, b *Batch) error {
	var sprite []byte
	loaded := false

	for _, f := range b.Files {
		if f.Kind != asset.KindMarkup {
			continue
		}

		start := bytes.Index(f.Content, []byte(InjectStart))
		if start < 0 {
			continue
		}
		end := bytes.Index(f.Content[start:], []byte(InjectEnd))
		if end < 0 {
			continue
		}
		end += start

		if !loaded {
			loaded = true
			data, err := os.ReadFile(b.Env.Abs(s.Sprite))
			if err != nil {
				if !os.IsNotExist(err) {
					return err
				}
				b.Env.logger().Debug(ctx, "Sprite not built yet, leaving inject region", "sprite", s.Sprite)
			}
			sprite = data
		}
		// The sprite is a source even while missing, so the first svgstore
		// output reruns this task.
		f.Sources = mergeSources(f.Sources, []string{asset.Normalize(s.Sprite)})
		if sprite == nil {
			continue
		}

		var out bytes.Buffer
		out.Grow(len(f.Content) + len(sprite))
		out.Write(f.Content[:start+len(InjectStart)])
		out.Write(bytes.TrimRight(sprite, "\n"))
		out.Write(f.Content[end:])

		f.Content = out.Bytes()
	}

	return nil
}
