// Package graph holds the two graphs a build is organised around: the
// dependency graph from output artifacts back to the sources they were
// derived from, and the registry of build tasks with their predecessor
// relation.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/conneroisu/assetforge/internal/asset"
	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/hasher"
)

// Edge is the recorded derivation of one artifact.
type Edge struct {
	Artifact string        `json:"artifact" yaml:"artifact"`
	Task     string        `json:"task" yaml:"task"`
	Hash     hasher.Digest `json:"hash" yaml:"hash"`
	Sources  []string      `json:"sources" yaml:"sources"`
}

// DependencyGraph maps each output artifact to the set of source paths it
// was derived from. A task's edges are replaced wholesale each time it runs,
// never patched.
type DependencyGraph struct {
	mu       sync.RWMutex
	edges    map[string]*asset.OutputArtifact
	byTask   map[string]map[string]struct{}
	bySource map[string]map[string]struct{}
}

// NewDependencyGraph creates an empty dependency graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		edges:    make(map[string]*asset.OutputArtifact),
		byTask:   make(map[string]map[string]struct{}),
		bySource: make(map[string]map[string]struct{}),
	}
}

// RecordEdge replaces the edge set of a single artifact.
func (g *DependencyGraph) RecordEdge(artifact *asset.OutputArtifact, sources []string) error {
	if artifact == nil {
		return errors.NewInternalError(errors.ErrCodeEdgeInvalid, "nil artifact", nil)
	}

	ref := artifact.Ref()
	ref.Path = asset.Normalize(ref.Path)
	ref.Sources = normalizeSources(sources)

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkLocked(ref.Task, ref); err != nil {
		return err
	}

	g.removeLocked(ref.Path)
	g.insertLocked(ref)

	return nil
}

// ReplaceTask swaps every edge owned by task for the edges of artifacts in
// one critical section. It returns the artifact paths whose content hash
// differs from the previous run, including artifacts the task no longer
// produces.
func (g *DependencyGraph) ReplaceTask(task string, artifacts []*asset.OutputArtifact) ([]string, error) {
	refs := make([]*asset.OutputArtifact, 0, len(artifacts))
	seen := make(map[string]struct{}, len(artifacts))

	for _, a := range artifacts {
		if a == nil {
			continue
		}
		ref := a.Ref()
		ref.Path = asset.Normalize(ref.Path)
		ref.Sources = normalizeSources(ref.Sources)
		if ref.Task == "" {
			ref.Task = task
		}
		if _, dup := seen[ref.Path]; dup {
			return nil, errors.NewInternalError(errors.ErrCodeEdgeInvalid,
				fmt.Sprintf("task %q produced %s twice", task, ref.Path), nil)
		}
		seen[ref.Path] = struct{}{}
		refs = append(refs, ref)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, ref := range refs {
		if err := g.checkLocked(task, ref); err != nil {
			return nil, err
		}
	}

	var changed []string
	for _, ref := range refs {
		prev, ok := g.edges[ref.Path]
		if !ok || prev.Hash != ref.Hash {
			changed = append(changed, ref.Path)
		}
	}
	for p := range g.byTask[task] {
		if _, still := seen[p]; !still {
			changed = append(changed, p)
		}
	}

	for p := range g.byTask[task] {
		g.removeLocked(p)
	}
	for _, ref := range refs {
		g.insertLocked(ref)
	}

	sort.Strings(changed)
	return changed, nil
}

func (g *DependencyGraph) checkLocked(task string, ref *asset.OutputArtifact) error {
	if ref.Path == "" || ref.Path == "." {
		return errors.NewInternalError(errors.ErrCodeEdgeInvalid,
			fmt.Sprintf("task %q produced an artifact without a path", task), nil)
	}

	if len(ref.Sources) == 0 {
		return errors.NewInternalError(errors.ErrCodeEdgeInvalid,
			fmt.Sprintf("artifact %s has no sources", ref.Path), nil).WithTask(task)
	}

	if prev, ok := g.edges[ref.Path]; ok && prev.Task != task {
		return errors.NewInternalError(errors.ErrCodeEdgeInvalid,
			fmt.Sprintf("artifact %s is already produced by task %q", ref.Path, prev.Task), nil).WithTask(task)
	}

	return nil
}

func (g *DependencyGraph) insertLocked(ref *asset.OutputArtifact) {
	g.edges[ref.Path] = ref

	if g.byTask[ref.Task] == nil {
		g.byTask[ref.Task] = make(map[string]struct{})
	}
	g.byTask[ref.Task][ref.Path] = struct{}{}

	for _, src := range ref.Sources {
		if g.bySource[src] == nil {
			g.bySource[src] = make(map[string]struct{})
		}
		g.bySource[src][ref.Path] = struct{}{}
	}
}

func (g *DependencyGraph) removeLocked(artifactPath string) {
	prev, ok := g.edges[artifactPath]
	if !ok {
		return
	}

	for _, src := range prev.Sources {
		delete(g.bySource[src], artifactPath)
		if len(g.bySource[src]) == 0 {
			delete(g.bySource, src)
		}
	}

	delete(g.byTask[prev.Task], artifactPath)
	if len(g.byTask[prev.Task]) == 0 {
		delete(g.byTask, prev.Task)
	}

	delete(g.edges, artifactPath)
}

// AffectedArtifacts returns every artifact whose edge set contains path,
// sorted by artifact path.
func (g *DependencyGraph) AffectedArtifacts(sourcePath string) []*asset.OutputArtifact {
	sourcePath = asset.Normalize(sourcePath)

	g.mu.RLock()
	defer g.mu.RUnlock()

	paths := sortedKeys(g.bySource[sourcePath])
	result := make([]*asset.OutputArtifact, 0, len(paths))
	for _, p := range paths {
		result = append(result, g.edges[p].Ref())
	}

	return result
}

// AffectedTasks maps the affected artifacts of path back to their producing
// tasks.
func (g *DependencyGraph) AffectedTasks(sourcePath string) []string {
	sourcePath = asset.Normalize(sourcePath)

	g.mu.RLock()
	defer g.mu.RUnlock()

	tasks := make(map[string]struct{})
	for p := range g.bySource[sourcePath] {
		tasks[g.edges[p].Task] = struct{}{}
	}

	return sortedKeys(tasks)
}

// Artifacts returns the artifacts last recorded for task.
func (g *DependencyGraph) Artifacts(task string) []*asset.OutputArtifact {
	g.mu.RLock()
	defer g.mu.RUnlock()

	paths := sortedKeys(g.byTask[task])
	result := make([]*asset.OutputArtifact, 0, len(paths))
	for _, p := range paths {
		result = append(result, g.edges[p].Ref())
	}

	return result
}

// HasTask reports whether any edges are recorded for task.
func (g *DependencyGraph) HasTask(task string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.byTask[task]) > 0
}

// Sources returns the recorded sources of an artifact.
func (g *DependencyGraph) Sources(artifactPath string) ([]string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ref, ok := g.edges[asset.Normalize(artifactPath)]
	if !ok {
		return nil, false
	}

	sources := make([]string, len(ref.Sources))
	copy(sources, ref.Sources)
	return sources, true
}

// Snapshot returns every edge, sorted by artifact path.
func (g *DependencyGraph) Snapshot() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	edges := make([]Edge, 0, len(g.edges))
	for _, ref := range g.edges {
		sources := make([]string, len(ref.Sources))
		copy(sources, ref.Sources)
		edges = append(edges, Edge{
			Artifact: ref.Path,
			Task:     ref.Task,
			Hash:     ref.Hash,
			Sources:  sources,
		})
	}

	sort.Slice(edges, func(i, j int) bool { return edges[i].Artifact < edges[j].Artifact })
	return edges
}

// Len returns the number of recorded artifacts.
func (g *DependencyGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.edges)
}

func normalizeSources(sources []string) []string {
	set := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		if s == "" {
			continue
		}
		set[asset.Normalize(s)] = struct{}{}
	}

	return sortedKeys(set)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
