package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/conneroisu/assetforge/internal/asset"
	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/validation"
)

// Emit writes every file of the batch under Dir and records the resulting
// artifacts. A file path under Base keeps its remaining directory
// structure; other paths keep their full relative path. Writes go through a
// temporary file and a rename so an interrupted build never leaves a
// truncated artifact.
type Emit struct {
	Dir  string
	Base string
}

// Name implements Stage.
func (Emit) Name() string { return "emit" }

// Destination maps a batch path to its output path.
func (s Emit) Destination(f *File) string {
	if f.Dest != "" {
		return asset.Normalize(f.Dest)
	}

	rel := f.Path
	if s.Base != "" {
		base := strings.TrimSuffix(asset.Normalize(s.Base), "/") + "/"
		rel = strings.TrimPrefix(f.Path, base)
	}

	return asset.Normalize(path.Join(s.Dir, rel))
}

// Apply implements Stage.
func (s Emit) Apply(ctx context.Context, b *Batch) error {
	seen := make(map[string]string, len(b.Files))

	for _, f := range b.Files {
		if err := ctx.Err(); err != nil {
			return err
		}

		dest := s.Destination(f)
		if prev, dup := seen[dest]; dup {
			return fmt.Errorf("%s and %s both map to %s", prev, f.Path, dest)
		}
		seen[dest] = f.Path

		if err := validation.ValidatePath(dest); err != nil {
			return errors.NewIOError(errors.ErrCodeWriteFailed, dest, err)
		}

		if err := writeFile(b.Env.Abs(dest), f.Content); err != nil {
			return errors.NewIOError(errors.ErrCodeWriteFailed, dest, err)
		}

		sources := f.Sources
		if len(sources) == 0 {
			sources = []string{f.Path}
		}

		b.Artifacts = append(b.Artifacts, &asset.OutputArtifact{
			Path:    dest,
			Content: f.Content,
			Hash:    b.Env.hasher().Sum(f.Content),
			Task:    b.Task,
			Sources: mergeSources(sources),
		})
	}

	return nil
}

func writeFile(name string, content []byte) error {
	if existing, err := os.ReadFile(name); err == nil && bytes.Equal(existing, content) {
		return nil
	}

	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(name)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, name); err != nil {
		os.Remove(tmpName)
		return err
	}

	return nil
}
