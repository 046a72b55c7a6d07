package watcher

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetforge/internal/asset"
	"github.com/conneroisu/assetforge/internal/graph"
	"github.com/conneroisu/assetforge/internal/hasher"
	"github.com/conneroisu/assetforge/internal/scheduler"
)

type fakeBuilder struct {
	mu    sync.Mutex
	calls [][]string
	gate  chan struct{}
	err   error
}

func (b *fakeBuilder) Rebuild(_ context.Context, names []string) (*scheduler.Report, error) {
	b.mu.Lock()
	b.calls = append(b.calls, names)
	gate := b.gate
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return &scheduler.Report{}, b.err
}

func (b *fakeBuilder) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func (b *fakeBuilder) call(i int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[i]
}

func testRegistry(t *testing.T) *graph.Registry {
	t.Helper()

	run := func(context.Context, []asset.SourceAsset) ([]*asset.OutputArtifact, error) { return nil, nil }
	reg := graph.NewRegistry()
	require.NoError(t, reg.Register(
		&graph.Task{Name: "style", Inputs: []string{"src/scss/**/*.scss"}, Run: run},
		&graph.Task{Name: "js", Inputs: []string{"src/**/*.js"}, Run: run},
		&graph.Task{Name: "fonts", Inputs: []string{"src/fonts/*.woff"}, Run: run},
	))
	return reg
}

func newTestController(t *testing.T, builder *fakeBuilder, debounce time.Duration) *Controller {
	t.Helper()
	c := NewController(ControllerOptions{
		Debounce: debounce,
		Graph:    graph.NewDependencyGraph(),
		Registry: testRegistry(t),
		Builder:  builder,
	})
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return c
}

func modified(p string) ChangeEvent {
	return ChangeEvent{Type: EventTypeModified, Path: p}
}

func TestControllerCoalescesBurst(t *testing.T) {
	builder := &fakeBuilder{}
	c := newTestController(t, builder, 30*time.Millisecond)

	assert.Equal(t, StateIdle, c.State())
	for i := 0; i < 5; i++ {
		c.Notify(modified("src/js/app.js"))
		c.Notify(modified("src/scss/main.scss"))
	}
	assert.Equal(t, StateDebouncing, c.State())

	require.Eventually(t, func() bool { return builder.count() == 1 && c.State() == StateIdle },
		time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, builder.count(), "a burst triggers exactly one rebuild")
	assert.Equal(t, []string{"js", "style"}, builder.call(0))
}

func TestControllerRestartsWindowOnEachEvent(t *testing.T) {
	builder := &fakeBuilder{}
	c := newTestController(t, builder, 80*time.Millisecond)

	c.Notify(modified("src/js/a.js"))
	time.Sleep(50 * time.Millisecond)
	c.Notify(modified("src/js/b.js"))
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, builder.count(), "window restarted by the second event")
	assert.Equal(t, StateDebouncing, c.State())

	require.Eventually(t, func() bool { return builder.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestControllerQueuesEventsDuringBuild(t *testing.T) {
	builder := &fakeBuilder{gate: make(chan struct{})}
	c := newTestController(t, builder, 20*time.Millisecond)

	c.Notify(modified("src/js/app.js"))
	require.Eventually(t, func() bool { return c.State() == StateBuilding }, time.Second, 5*time.Millisecond)

	c.Notify(modified("src/fonts/body.woff"))
	assert.Equal(t, StateBuilding, c.State())
	assert.Equal(t, 1, builder.count())

	builder.mu.Lock()
	gate := builder.gate
	builder.gate = nil
	builder.mu.Unlock()
	close(gate)

	require.Eventually(t, func() bool { return builder.count() == 2 && c.State() == StateIdle },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"fonts"}, builder.call(1))
}

func TestControllerReturnsToIdleAfterFailure(t *testing.T) {
	builder := &fakeBuilder{err: stderrors.New("style failed")}

	var mu sync.Mutex
	var gotErr error
	var gotPaths []string

	c := NewController(ControllerOptions{
		Debounce: 10 * time.Millisecond,
		Registry: testRegistry(t),
		Builder:  builder,
		OnBuild: func(paths []string, _ *scheduler.Report, err error) {
			mu.Lock()
			defer mu.Unlock()
			gotPaths, gotErr = paths, err
		},
	})
	defer c.Shutdown(context.Background())

	c.Notify(modified("src/scss/main.scss"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotErr != nil
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return c.State() == StateIdle }, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"src/scss/main.scss"}, gotPaths)
	mu.Unlock()
}

func TestControllerIgnoresUnaffectedPaths(t *testing.T) {
	builder := &fakeBuilder{}
	c := newTestController(t, builder, 10*time.Millisecond)

	c.Notify(modified("README.md"))
	require.Eventually(t, func() bool { return c.State() == StateIdle }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, builder.count())
}

func TestControllerAffectedTasks(t *testing.T) {
	deps := graph.NewDependencyGraph()
	_, err := deps.ReplaceTask("inline-images", []*asset.OutputArtifact{{
		Path:    "build/css/main.css",
		Hash:    "abc",
		Sources: []string{".assetforge/stage/css/main.css", "build/images/logo.png"},
	}})
	require.NoError(t, err)

	c := NewController(ControllerOptions{Graph: deps, Registry: testRegistry(t), Builder: &fakeBuilder{}})
	defer c.Shutdown(context.Background())

	assert.Equal(t, []string{"inline-images"}, c.AffectedTasks([]string{"build/images/logo.png"}))
	// A new file the graph has never seen maps through input globs.
	assert.Equal(t, []string{"js", "style"}, c.AffectedTasks([]string{"src/js/new.js", "src/scss/_new.scss"}))
	assert.Empty(t, c.AffectedTasks([]string{"docs/readme.md"}))
}

func TestControllerDropsUnchangedContent(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "src", "js", "app.js")
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0o755))
	require.NoError(t, os.WriteFile(file, []byte("one"), 0o644))

	builder := &fakeBuilder{}
	c := NewController(ControllerOptions{
		Debounce: 10 * time.Millisecond,
		Registry: testRegistry(t),
		Builder:  builder,
		Root:     root,
		Hasher:   hasher.New(hasher.DefaultLength),
	})
	defer c.Shutdown(context.Background())

	c.Notify(modified("src/js/app.js"))
	require.Eventually(t, func() bool { return builder.count() == 1 && c.State() == StateIdle },
		time.Second, 5*time.Millisecond)

	// Same bytes again: nothing to do.
	c.Notify(modified("src/js/app.js"))
	assert.Equal(t, StateIdle, c.State())

	require.NoError(t, os.WriteFile(file, []byte("two, longer"), 0o644))
	c.Notify(modified("src/js/app.js"))
	require.Eventually(t, func() bool { return builder.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestControllerShutdownCancelsPendingWindow(t *testing.T) {
	builder := &fakeBuilder{}
	c := NewController(ControllerOptions{Debounce: 30 * time.Millisecond, Registry: testRegistry(t), Builder: builder})

	c.Notify(modified("src/js/app.js"))
	require.NoError(t, c.Shutdown(context.Background()))

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, builder.count())
	assert.Equal(t, StateIdle, c.State())

	c.Notify(modified("src/js/app.js"))
	assert.Equal(t, StateIdle, c.State(), "events after shutdown are dropped")
}

func TestControllerShutdownWaitsForBuild(t *testing.T) {
	builder := &fakeBuilder{gate: make(chan struct{})}
	c := NewController(ControllerOptions{Debounce: 10 * time.Millisecond, Registry: testRegistry(t), Builder: builder})

	c.Notify(modified("src/js/app.js"))
	require.Eventually(t, func() bool { return c.State() == StateBuilding }, time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- c.Shutdown(context.Background()) }()

	select {
	case <-done:
		t.Fatal("shutdown returned while a build was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(builder.gate)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("shutdown did not return after the build finished")
	}
}

func TestControllerShutdownStopsWatcher(t *testing.T) {
	fw, err := NewFileWatcher(t.TempDir(), nil)
	require.NoError(t, err)

	c := NewController(ControllerOptions{Registry: testRegistry(t), Builder: &fakeBuilder{}})
	c.Attach(fw)

	require.NoError(t, c.Shutdown(context.Background()))
	assert.NoError(t, c.Shutdown(context.Background()))
	assert.Error(t, fw.watcher.Add(t.TempDir()), "watcher is closed")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "debouncing", StateDebouncing.String())
	assert.Equal(t, "building", StateBuilding.String())
	assert.Equal(t, "unknown", State(7).String())
}
