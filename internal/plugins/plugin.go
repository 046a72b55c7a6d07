// Package plugins defines the transformer boundaries the pipeline calls out
// to: stylesheet compilation, autoprefixing, image optimisation and markup
// linting. Implementations either run an allow-listed external command or
// do the work in-process.
package plugins

import (
	"context"
	"fmt"

	"github.com/conneroisu/assetforge/internal/errors"
)

// Result is the output of a stylesheet compile.
type Result struct {
	CSS []byte
	// Imports lists every project path pulled in while compiling, when the
	// compiler can report it. Nil means unknown.
	Imports []string
}

// Compiler turns a stylesheet into CSS.
type Compiler interface {
	Compile(ctx context.Context, path string, src []byte) (Result, error)
}

// Prefixer adds vendor prefixes to CSS.
type Prefixer interface {
	Prefix(ctx context.Context, path string, css []byte) ([]byte, error)
}

// Optimizer shrinks an image.
type Optimizer interface {
	Optimize(ctx context.Context, path string, data []byte) ([]byte, error)
}

// Linter reports structural violations in a markup file.
type Linter interface {
	Lint(path string, src []byte) ([]errors.Violation, error)
}

// SyntaxError is a located parse failure inside a source file.
type SyntaxError struct {
	Path    string
	Line    int
	Message string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return e.Path + ": " + e.Message
}

// Passthrough returns its input unchanged. It stands in for any collaborator
// that is not configured.
type Passthrough struct{}

// Compile returns src as CSS.
func (Passthrough) Compile(_ context.Context, _ string, src []byte) (Result, error) {
	return Result{CSS: src}, nil
}

// Prefix returns css unchanged.
func (Passthrough) Prefix(_ context.Context, _ string, css []byte) ([]byte, error) {
	return css, nil
}

// Optimize returns data unchanged.
func (Passthrough) Optimize(_ context.Context, _ string, data []byte) ([]byte, error) {
	return data, nil
}
