package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/conneroisu/assetforge/internal/asset"
	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/hasher"
	"github.com/conneroisu/assetforge/internal/markup"
	"github.com/conneroisu/assetforge/internal/plugins"
)

// Lint fails the task on the first markup file with violations. It never
// modifies files, so a pipeline made of Lint alone is a pure gate.
type Lint struct {
	Linter plugins.Linter
}

// Name implements Stage.
func (Lint) Name() string { return "lint" }

// Apply implements Stage.
func (s Lint) Apply(_ context.Context, b *Batch) error {
	for _, f := range b.Files {
		if f.Kind != asset.KindMarkup {
			continue
		}

		violations, err := s.Linter.Lint(f.Path, f.Content)
		if err != nil {
			return err
		}
		if len(violations) > 0 {
			return errors.NewValidationError(b.Task, "lint", f.Path, violations)
		}
	}
	return nil
}

// referenceAttrs lists the elements whose references HashRefs rewrites.
var referenceAttrs = map[string]string{
	"link":   "href",
	"script": "src",
}

// HashRefs rewrites <link href> and <script src> references in markup to
// cache-busted names of the form name.<hash>.ext, and adds a hashed copy of
// each referenced output to the batch. Only the reference bytes change; the
// rest of the markup is left exactly as written.
type HashRefs struct {
	// Dir is the destination the references resolve in, e.g. "build".
	Dir string
	// Base is the batch directory markup files live under; a file at
	// Base/x/page.html is served from Dir/x/page.html.
	Base string
	// Exts limits rewriting to references with these extensions.
	Exts []string
}

// Name implements Stage.
func (HashRefs) Name() string { return "hash" }

type edit struct {
	start, end int
	repl       string
}

// Apply implements Stage.
func (s HashRefs) Apply(ctx context.Context, b *Batch) error {
	copies := make(map[string]*File)
	base := strings.TrimSuffix(asset.Normalize(s.Base), "/") + "/"

	for _, f := range b.Files {
		if f.Kind != asset.KindMarkup {
			continue
		}

		relDir := path.Dir(strings.TrimPrefix(f.Path, base))

		edits, targets, err := s.rewrite(ctx, b, f.Content, relDir, copies)
		if err != nil {
			return err
		}
		if len(edits) == 0 {
			continue
		}

		var out bytes.Buffer
		out.Grow(len(f.Content))
		prev := 0
		for _, e := range edits {
			out.Write(f.Content[prev:e.start])
			out.WriteString(e.repl)
			prev = e.end
		}
		out.Write(f.Content[prev:])

		f.Content = out.Bytes()
		f.Sources = mergeSources(f.Sources, targets)
	}

	keys := make([]string, 0, len(copies))
	for k := range copies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.Files = append(b.Files, copies[k])
	}

	return nil
}

func (s HashRefs) rewrite(ctx context.Context, b *Batch, src []byte, relDir string, copies map[string]*File) ([]edit, []string, error) {
	z := html.NewTokenizer(bytes.NewReader(src))

	var edits []edit
	var targets []string
	offset := 0

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return nil, nil, err
			}
			break
		}

		raw := z.Raw()
		start := offset
		offset += len(raw)

		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}

		attrName, ok := referenceAttrs[strings.ToLower(markup.TagName(raw))]
		if !ok {
			continue
		}
		attr, ok := markup.Lookup(markup.Attributes(raw), attrName)
		if !ok || !attr.HasValue {
			continue
		}

		ref, suffix := splitRef(attr.Value)
		if !isLocalRef(ref) || !s.wants(ref) {
			continue
		}

		var target string
		if strings.HasPrefix(ref, "/") {
			target = asset.Normalize(path.Join(s.Dir, ref))
		} else {
			target = asset.Normalize(path.Join(s.Dir, relDir, ref))
		}

		content, err := os.ReadFile(b.Env.Abs(target))
		if err != nil {
			if os.IsNotExist(err) {
				b.Env.logger().Warn(ctx, err, "Referenced output not found, leaving reference", "ref", attr.Value)
				continue
			}
			return nil, nil, errors.NewIOError(errors.ErrCodeReadFailed, target, err)
		}

		digest := b.Env.hasher().Sum(content)
		hashedTarget := hasher.HashedName(target, digest)

		copies[hashedTarget] = &File{
			Path:    hashedTarget,
			Dest:    hashedTarget,
			Content: content,
			Kind:    asset.KindOf(target),
			Sources: []string{target},
		}
		b.Manifest[s.relative(target)] = s.relative(hashedTarget)

		edits = append(edits, edit{
			start: start + attr.ValueStart,
			end:   start + attr.ValueEnd,
			repl:  hasher.HashedName(ref, digest) + suffix,
		})
		targets = append(targets, target)
	}

	return edits, targets, nil
}

func (s HashRefs) wants(ref string) bool {
	ext := strings.ToLower(path.Ext(ref))
	for _, e := range s.Exts {
		if ext == e {
			return true
		}
	}
	return false
}

func (s HashRefs) relative(p string) string {
	return strings.TrimPrefix(p, strings.TrimSuffix(asset.Normalize(s.Dir), "/")+"/")
}

func splitRef(ref string) (string, string) {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		return ref[:i], ref[i:]
	}
	return ref, ""
}

func isLocalRef(ref string) bool {
	if ref == "" || strings.HasPrefix(ref, "//") {
		return false
	}
	if i := strings.IndexByte(ref, ':'); i >= 0 && !strings.ContainsAny(ref[:i], "/.") {
		return false
	}
	return !strings.Contains(ref, "..")
}

// WriteManifest adds a JSON file mapping logical names to hashed names,
// when the batch has any.
type WriteManifest struct {
	// Path is the project-relative manifest path, e.g. "build/manifest.json".
	Path string
	// Dir is the destination the manifest names are relative to.
	Dir string
}

// Name implements Stage.
func (WriteManifest) Name() string { return "manifest" }

// Apply implements Stage.
func (s WriteManifest) Apply(_ context.Context, b *Batch) error {
	if len(b.Manifest) == 0 {
		return nil
	}

	data, err := json.MarshalIndent(b.Manifest, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	sources := make([]string, 0, len(b.Manifest))
	for logical := range b.Manifest {
		sources = append(sources, asset.Normalize(path.Join(s.Dir, logical)))
	}

	b.Files = append(b.Files, &File{
		Path:    s.Path,
		Dest:    s.Path,
		Content: data,
		Kind:    asset.KindOther,
		Sources: mergeSources(sources),
	})

	return nil
}
