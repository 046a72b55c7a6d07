package graph

import (
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetforge/internal/asset"
	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/hasher"
)

func artifact(task, p, hash string, sources ...string) *asset.OutputArtifact {
	return &asset.OutputArtifact{Path: p, Task: task, Hash: hasher.Digest(hash), Sources: sources}
}

func TestRecordEdgeReplacesPriorEdges(t *testing.T) {
	g := NewDependencyGraph()

	require.NoError(t, g.RecordEdge(artifact("style", "build/css/main.css", "a"), []string{"src/scss/main.scss", "src/scss/_old.scss"}))
	assert.Equal(t, []string{"style"}, g.AffectedTasks("src/scss/_old.scss"))

	require.NoError(t, g.RecordEdge(artifact("style", "build/css/main.css", "b"), []string{"src/scss/main.scss"}))
	assert.Empty(t, g.AffectedTasks("src/scss/_old.scss"), "removed import must stop appearing immediately")
	assert.Equal(t, []string{"style"}, g.AffectedTasks("src/scss/main.scss"))

	sources, ok := g.Sources("build/css/main.css")
	require.True(t, ok)
	assert.Equal(t, []string{"src/scss/main.scss"}, sources)
}

func TestRecordEdgeRejectsInvalidEdges(t *testing.T) {
	g := NewDependencyGraph()

	err := g.RecordEdge(artifact("js", "build/js/main.min.js", "a"), nil)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, &errors.BuildError{Type: errors.ErrorTypeInternal, Code: errors.ErrCodeEdgeInvalid}))

	require.NoError(t, g.RecordEdge(artifact("js", "build/js/main.min.js", "a"), []string{"src/a.js"}))
	err = g.RecordEdge(artifact("other", "build/js/main.min.js", "a"), []string{"src/b.js"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already produced")
}

func TestAffectedArtifactsExactInvalidation(t *testing.T) {
	g := NewDependencyGraph()

	_, err := g.ReplaceTask("js", []*asset.OutputArtifact{
		artifact("", "build/js/main.min.js", "j1", "src/js/a.js", "src/js/b.js"),
	})
	require.NoError(t, err)
	_, err = g.ReplaceTask("style", []*asset.OutputArtifact{
		artifact("", ".assetforge/stage/css/main.css", "s1", "src/scss/main.scss"),
	})
	require.NoError(t, err)
	_, err = g.ReplaceTask("fonts", []*asset.OutputArtifact{
		artifact("", "build/fonts/a.woff", "f1", "src/fonts/a.woff"),
		artifact("", "build/fonts/b.woff", "f2", "src/fonts/b.woff"),
	})
	require.NoError(t, err)

	affected := g.AffectedArtifacts("src/js/b.js")
	require.Len(t, affected, 1)
	assert.Equal(t, "build/js/main.min.js", affected[0].Path)
	assert.Equal(t, "js", affected[0].Task)

	affected = g.AffectedArtifacts("src/fonts/a.woff")
	require.Len(t, affected, 1)
	assert.Equal(t, "build/fonts/a.woff", affected[0].Path)

	assert.Empty(t, g.AffectedArtifacts("src/unrelated.txt"))
	assert.Equal(t, []string{"fonts"}, g.AffectedTasks("./src/fonts/b.woff"))
	assert.Equal(t, 4, g.Len())
}

func TestReplaceTaskReportsChangedArtifacts(t *testing.T) {
	g := NewDependencyGraph()

	changed, err := g.ReplaceTask("images", []*asset.OutputArtifact{
		artifact("", "build/images/a.png", "h1", "src/images/a.png"),
		artifact("", "build/images/b.png", "h2", "src/images/b.png"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"build/images/a.png", "build/images/b.png"}, changed)

	changed, err = g.ReplaceTask("images", []*asset.OutputArtifact{
		artifact("", "build/images/a.png", "h1", "src/images/a.png"),
		artifact("", "build/images/b.png", "h3", "src/images/b.png"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"build/images/b.png"}, changed)

	changed, err = g.ReplaceTask("images", []*asset.OutputArtifact{
		artifact("", "build/images/a.png", "h1", "src/images/a.png"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"build/images/b.png"}, changed, "dropped artifacts count as changed")
	assert.Empty(t, g.AffectedTasks("src/images/b.png"))
	assert.Len(t, g.Artifacts("images"), 1)
	assert.True(t, g.HasTask("images"))
}

func TestReplaceTaskIsAtomicOnError(t *testing.T) {
	g := NewDependencyGraph()

	_, err := g.ReplaceTask("html", []*asset.OutputArtifact{
		artifact("", "build/index.html", "h1", "src/index.html"),
	})
	require.NoError(t, err)

	_, err = g.ReplaceTask("html", []*asset.OutputArtifact{
		artifact("", "build/about.html", "h2", "src/about.html"),
		artifact("", "build/broken.html", "h3"),
	})
	require.Error(t, err)

	snapshot := g.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "build/index.html", snapshot[0].Artifact)
	assert.Equal(t, []string{"src/index.html"}, snapshot[0].Sources)
}

func TestReplaceTaskRejectsDuplicatePaths(t *testing.T) {
	g := NewDependencyGraph()

	_, err := g.ReplaceTask("js", []*asset.OutputArtifact{
		artifact("", "build/js/main.min.js", "a", "src/a.js"),
		artifact("", "build/js/./main.min.js", "b", "src/b.js"),
	})
	require.Error(t, err)
	assert.Equal(t, 0, g.Len())
}

func TestDependencyGraphConcurrentAccess(t *testing.T) {
	g := NewDependencyGraph()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		task := string(rune('a' + i))
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := g.ReplaceTask(task, []*asset.OutputArtifact{
					artifact("", "build/"+task+".txt", "h", "src/"+task+".txt", "src/shared.txt"),
				})
				assert.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = g.AffectedTasks("src/shared.txt")
				_ = g.Snapshot()
			}
		}()
	}

	wg.Wait()
	assert.Len(t, g.AffectedTasks("src/shared.txt"), 8)
}
