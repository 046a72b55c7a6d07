package graph

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetforge/internal/asset"
	"github.com/conneroisu/assetforge/internal/errors"
)

func noop(context.Context, []asset.SourceAsset) ([]*asset.OutputArtifact, error) {
	return nil, nil
}

func task(name string, preds ...string) *Task {
	return &Task{Name: name, Predecessors: preds, Run: noop}
}

func TestRegisterRejectsCycle(t *testing.T) {
	reg := NewRegistry()

	err := reg.Register(task("a", "b"), task("b", "a"))
	require.Error(t, err)
	assert.True(t, errors.IsRegistration(err))
	assert.True(t, stderrors.Is(err, &errors.BuildError{Type: errors.ErrorTypeRegistration, Code: errors.ErrCodeCycle}))
	assert.Contains(t, err.Error(), "a -> b -> a")
	assert.Empty(t, reg.Names(), "a failed batch must not register anything")
}

func TestRegisterRejectsSelfCycle(t *testing.T) {
	reg := NewRegistry()

	err := reg.Register(task("loop", "loop"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loop -> loop")
}

func TestRegisterRejectsCycleThroughExistingTasks(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(task("style")))

	err := reg.Register(task("inline-images", "style", "hashfiles"), task("hashfiles", "inline-images"))
	require.Error(t, err)
	assert.True(t, errors.IsRegistration(err))
	assert.Equal(t, []string{"style"}, reg.Names())
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*Task
		code  string
	}{
		{"missing predecessor", []*Task{task("html", "svgstore")}, errors.ErrCodeMissingPredecessor},
		{"duplicate in batch", []*Task{task("js"), task("js")}, errors.ErrCodeDuplicateTask},
		{"empty name", []*Task{task("")}, errors.ErrCodeInvalidTask},
		{"nil run", []*Task{{Name: "fonts"}}, errors.ErrCodeInvalidTask},
		{"bad glob", []*Task{{Name: "js", Inputs: []string{"src/[.js"}, Run: noop}}, errors.ErrCodeInvalidTask},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			err := reg.Register(tt.tasks...)
			require.Error(t, err)
			be, ok := errors.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, be.Code)
		})
	}
}

func TestRegisterDuplicateAcrossBatches(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(task("js")))

	err := reg.Register(task("js"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestFreeze(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(task("style")))
	reg.Freeze()
	assert.True(t, reg.Frozen())

	err := reg.Register(task("js"))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, &errors.BuildError{Type: errors.ErrorTypeRegistration, Code: errors.ErrCodeRegistryFrozen}))
}

func newPipelineRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(
		task("style"),
		task("images"),
		task("inline-images", "style", "images"),
		task("svgstore"),
		task("html", "svgstore"),
		task("js"),
		task("hashfiles", "html", "inline-images", "js"),
	))
	return reg
}

func TestTopologicalOrder(t *testing.T) {
	reg := newPipelineRegistry(t)

	order, err := reg.TopologicalOrder(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"images", "js", "style", "inline-images", "svgstore", "html", "hashfiles"}, order)

	order, err = reg.TopologicalOrder([]string{"inline-images", "style"})
	require.NoError(t, err)
	assert.Equal(t, []string{"style", "inline-images"}, order)

	_, err = reg.TopologicalOrder([]string{"nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown task")
}

func TestClosures(t *testing.T) {
	reg := newPipelineRegistry(t)

	closure, err := reg.Closure([]string{"inline-images"})
	require.NoError(t, err)
	assert.Equal(t, []string{"images", "inline-images", "style"}, closure)

	dependents, err := reg.DependentClosure([]string{"style"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hashfiles", "inline-images", "style"}, dependents)

	assert.Equal(t, []string{"inline-images"}, reg.Dependents("images"))

	_, err = reg.Closure([]string{"missing"})
	assert.Error(t, err)
}

func TestMatchInputs(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(
		&Task{Name: "html", Inputs: []string{"src/*.html"}, Run: noop},
		&Task{Name: "html:validator", Inputs: []string{"src/*.html"}, Run: noop},
		&Task{Name: "js", Inputs: []string{"src/**/*.js"}, Run: noop},
	))

	assert.Equal(t, []string{"html", "html:validator"}, reg.MatchInputs("src/new.html"))
	assert.Equal(t, []string{"js"}, reg.MatchInputs("src/js/new.js"))
	assert.Empty(t, reg.MatchInputs("docs/readme.md"))
}

func TestRegisteredTaskIsCopied(t *testing.T) {
	reg := NewRegistry()
	original := task("html", "svgstore")
	require.NoError(t, reg.Register(task("svgstore"), original))

	original.Predecessors[0] = "mutated"

	registered, ok := reg.Task("html")
	require.True(t, ok)
	assert.Equal(t, []string{"svgstore"}, registered.Predecessors)
}
