package plugins

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// PlainCompiler is the in-process stylesheet compiler used when no Sass
// command is configured. It inlines top-level @import rules, strips "//"
// line comments and rejects structurally broken input: unbalanced braces or
// parentheses, unterminated strings and unterminated comments. It does not
// evaluate Sass variables, nesting or mixins.
type PlainCompiler struct {
	// FS is rooted at the project root; compile paths are relative to it.
	FS fs.FS
}

// NewPlainCompiler creates a compiler resolving imports in fsys.
func NewPlainCompiler(fsys fs.FS) *PlainCompiler {
	return &PlainCompiler{FS: fsys}
}

// Compile expands src, reporting every imported file.
func (c *PlainCompiler) Compile(ctx context.Context, p string, src []byte) (Result, error) {
	st := &expandState{ctx: ctx, fsys: c.FS, seen: make(map[string]bool)}

	out, err := st.expand(p, src, []string{p})
	if err != nil {
		return Result{}, err
	}

	return Result{CSS: out, Imports: st.imports}, nil
}

type expandState struct {
	ctx     context.Context
	fsys    fs.FS
	seen    map[string]bool
	imports []string
}

func (st *expandState) expand(p string, src []byte, stack []string) ([]byte, error) {
	if err := st.ctx.Err(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.Grow(len(src))

	line := 1
	var braces []int
	var parens []int

	syntax := func(l int, format string, args ...interface{}) error {
		return &SyntaxError{Path: p, Line: l, Message: fmt.Sprintf(format, args...)}
	}

	for i := 0; i < len(src); i++ {
		ch := src[i]

		switch {
		case ch == '\n':
			line++
			out.WriteByte(ch)

		case ch == '"' || ch == '\'':
			end, ok := scanString(src, i)
			if !ok {
				return nil, syntax(line, "unterminated string")
			}
			out.Write(src[i : end+1])
			i = end

		case ch == '/' && i+1 < len(src) && src[i+1] == '*':
			end := bytes.Index(src[i+2:], []byte("*/"))
			if end < 0 {
				return nil, syntax(line, "unterminated comment")
			}
			chunk := src[i : i+2+end+2]
			out.Write(chunk)
			line += bytes.Count(chunk, []byte("\n"))
			i += len(chunk) - 1

		case ch == '/' && i+1 < len(src) && src[i+1] == '/' && len(parens) == 0:
			for i+1 < len(src) && src[i+1] != '\n' {
				i++
			}

		case ch == '(':
			parens = append(parens, line)
			out.WriteByte(ch)

		case ch == ')':
			if len(parens) == 0 {
				return nil, syntax(line, "unexpected \")\"")
			}
			parens = parens[:len(parens)-1]
			out.WriteByte(ch)

		case ch == '{':
			braces = append(braces, line)
			out.WriteByte(ch)

		case ch == '}':
			if len(braces) == 0 {
				return nil, syntax(line, "unexpected \"}\"")
			}
			braces = braces[:len(braces)-1]
			out.WriteByte(ch)

		case ch == '@' && len(braces) == 0 && hasKeyword(src[i:], "@import"):
			end := bytes.IndexByte(src[i:], ';')
			if end < 0 {
				return nil, syntax(line, "missing \";\" after @import")
			}
			stmt := src[i : i+end+1]

			targets, ok := importTargets(stmt[len("@import") : len(stmt)-1])
			if !ok {
				out.Write(stmt)
			} else {
				for _, target := range targets {
					expanded, err := st.include(p, target, line, stack)
					if err != nil {
						return nil, err
					}
					out.Write(expanded)
					if len(expanded) > 0 && expanded[len(expanded)-1] != '\n' {
						out.WriteByte('\n')
					}
				}
			}

			line += bytes.Count(stmt, []byte("\n"))
			i += len(stmt) - 1

		default:
			out.WriteByte(ch)
		}
	}

	if len(parens) > 0 {
		return nil, syntax(parens[len(parens)-1], "unclosed \"(\"")
	}
	if len(braces) > 0 {
		return nil, syntax(braces[len(braces)-1], "unclosed block")
	}

	return out.Bytes(), nil
}

func (st *expandState) include(from, target string, line int, stack []string) ([]byte, error) {
	resolved, err := st.resolve(from, target)
	if err != nil {
		return nil, &SyntaxError{Path: from, Line: line, Message: err.Error()}
	}

	for _, s := range stack {
		if s == resolved {
			return nil, &SyntaxError{
				Path:    from,
				Line:    line,
				Message: "import cycle: " + strings.Join(append(stack, resolved), " -> "),
			}
		}
	}

	if !st.seen[resolved] {
		st.seen[resolved] = true
		st.imports = append(st.imports, resolved)
	}

	src, err := fs.ReadFile(st.fsys, resolved)
	if err != nil {
		return nil, &SyntaxError{Path: from, Line: line, Message: fmt.Sprintf("read import %q: %v", target, err)}
	}

	return st.expand(resolved, src, append(stack, resolved))
}

// resolve finds the file an import names, trying the partial and
// extension variants in the order Sass does.
func (st *expandState) resolve(from, target string) (string, error) {
	if st.fsys == nil {
		return "", fmt.Errorf("cannot resolve import %q: no filesystem", target)
	}

	joined := path.Join(path.Dir(from), target)
	dir, base := path.Split(joined)

	var candidates []string
	switch path.Ext(base) {
	case ".scss", ".css", ".sass":
		candidates = []string{dir + "_" + base, joined}
	default:
		candidates = []string{
			dir + "_" + base + ".scss",
			joined + ".scss",
			dir + "_" + base + ".css",
			joined + ".css",
		}
	}

	for _, candidate := range candidates {
		if info, err := fs.Stat(st.fsys, candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("cannot resolve import %q", target)
}

// importTargets parses the targets of an @import rule. It reports false for
// rules that must be left to the browser: url() imports, remote URLs and
// media-qualified imports.
func importTargets(stmt []byte) ([]string, bool) {
	var targets []string

	for _, part := range strings.Split(string(stmt), ",") {
		part = strings.TrimSpace(part)
		if len(part) < 2 {
			return nil, false
		}

		quote := part[0]
		if (quote != '"' && quote != '\'') || part[len(part)-1] != quote {
			return nil, false
		}

		target := part[1 : len(part)-1]
		if target == "" ||
			strings.HasPrefix(target, "http://") ||
			strings.HasPrefix(target, "https://") ||
			strings.HasPrefix(target, "//") {
			return nil, false
		}

		targets = append(targets, target)
	}

	return targets, len(targets) > 0
}

func scanString(src []byte, start int) (int, bool) {
	quote := src[start]
	for j := start + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			j++
		case '\n':
			return 0, false
		case quote:
			return j, true
		}
	}
	return 0, false
}

func hasKeyword(src []byte, keyword string) bool {
	if len(src) <= len(keyword) || !bytes.EqualFold(src[:len(keyword)], []byte(keyword)) {
		return false
	}
	next := src[len(keyword)]
	return next == ' ' || next == '\t' || next == '\n' || next == '"' || next == '\''
}
