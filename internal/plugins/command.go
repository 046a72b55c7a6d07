package plugins

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/conneroisu/assetforge/internal/validation"
)

// Command runs an external transformer, writing the input to its stdin and
// reading the result from stdout.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory; empty means the current directory.
	Dir string
}

// ParseCommand splits a configured command line such as
// "sass --stdin --load-path=src/scss" into a Command.
func ParseCommand(line string) (*Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("command cannot be empty")
	}

	cmd := &Command{Name: fields[0], Args: fields[1:]}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	return cmd, nil
}

// Validate checks the command against the allowlist and its arguments for
// shell metacharacters.
func (c *Command) Validate() error {
	if err := validation.ValidateCommand(c.Name, validation.AllowedCommands); err != nil {
		return err
	}

	for _, arg := range c.Args {
		if err := validation.ValidateArgument(arg); err != nil {
			return fmt.Errorf("invalid argument '%s': %w", arg, err)
		}
	}

	return nil
}

// String returns the command line.
func (c *Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Compile runs the command as a stylesheet compiler. Imports are not
// reported.
func (c *Command) Compile(ctx context.Context, path string, src []byte) (Result, error) {
	out, err := c.run(ctx, path, src)
	if err != nil {
		return Result{}, err
	}
	return Result{CSS: out}, nil
}

// Prefix runs the command as an autoprefixer.
func (c *Command) Prefix(ctx context.Context, path string, css []byte) ([]byte, error) {
	return c.run(ctx, path, css)
}

// Optimize runs the command as an image optimiser.
func (c *Command) Optimize(ctx context.Context, path string, data []byte) ([]byte, error) {
	return c.run(ctx, path, data)
}

func (c *Command) run(ctx context.Context, path string, input []byte) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("command validation failed: %w", err)
	}

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s timed out on %s: %w", c.Name, path, ctx.Err())
		}
		return nil, fmt.Errorf("%s failed on %s: %w\nOutput: %s", c.Name, path, err, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}
