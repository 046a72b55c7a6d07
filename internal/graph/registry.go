package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/conneroisu/assetforge/internal/asset"
	"github.com/conneroisu/assetforge/internal/errors"
)

// RunFunc turns a task's matched sources into output artifacts.
type RunFunc func(ctx context.Context, inputs []asset.SourceAsset) ([]*asset.OutputArtifact, error)

// Task is a named unit of build work.
type Task struct {
	Name         string
	Description  string
	Predecessors []string
	// Inputs are glob patterns, relative to the project root, selecting the
	// sources handed to Run.
	Inputs []string
	Run    RunFunc
}

// Registry holds the registered tasks and their predecessor relation. It is
// built once at startup and frozen before the first run.
type Registry struct {
	mu         sync.RWMutex
	tasks      map[string]*Task
	dependents map[string][]string
	frozen     bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks:      make(map[string]*Task),
		dependents: make(map[string][]string),
	}
}

// Register adds tasks as one batch. Either every task is added or none is:
// duplicate names, undeclared predecessors and predecessor cycles all fail
// the whole batch with a registration error.
func (r *Registry) Register(tasks ...*Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return errors.NewRegistrationError(errors.ErrCodeRegistryFrozen,
			"registry is frozen; tasks must be registered before the first run")
	}

	batch := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		if t == nil || strings.TrimSpace(t.Name) == "" {
			return errors.NewRegistrationError(errors.ErrCodeInvalidTask, "task name is required")
		}
		if t.Run == nil {
			return errors.NewRegistrationError(errors.ErrCodeInvalidTask,
				fmt.Sprintf("task %q has no run function", t.Name)).WithTask(t.Name)
		}
		for _, pattern := range t.Inputs {
			if err := asset.ValidatePattern(pattern); err != nil {
				return errors.NewRegistrationError(errors.ErrCodeInvalidTask, err.Error()).WithTask(t.Name)
			}
		}
		if _, exists := r.tasks[t.Name]; exists {
			return errors.NewRegistrationError(errors.ErrCodeDuplicateTask,
				fmt.Sprintf("task %q is already registered", t.Name)).WithTask(t.Name)
		}
		if _, exists := batch[t.Name]; exists {
			return errors.NewRegistrationError(errors.ErrCodeDuplicateTask,
				fmt.Sprintf("task %q is declared twice", t.Name)).WithTask(t.Name)
		}
		batch[t.Name] = cloneTask(t)
	}

	lookup := func(name string) (*Task, bool) {
		if t, ok := batch[name]; ok {
			return t, true
		}
		t, ok := r.tasks[name]
		return t, ok
	}

	for _, name := range sortedTaskNames(batch) {
		for _, pred := range batch[name].Predecessors {
			if _, ok := lookup(pred); !ok {
				return errors.NewRegistrationError(errors.ErrCodeMissingPredecessor,
					fmt.Sprintf("task %q depends on undeclared task %q", name, pred)).WithTask(name)
			}
		}
	}

	if cycle := findCycle(batch, lookup); cycle != nil {
		return errors.NewRegistrationError(errors.ErrCodeCycle,
			"predecessor cycle: "+strings.Join(cycle, " -> ")).WithTask(cycle[0])
	}

	for _, name := range sortedTaskNames(batch) {
		t := batch[name]
		r.tasks[name] = t
		for _, pred := range t.Predecessors {
			r.dependents[pred] = appendSorted(r.dependents[pred], name)
		}
	}

	return nil
}

// findCycle runs a depth-first search from every new task and returns the
// first cycle found as a closed path, e.g. [a b a].
func findCycle(batch map[string]*Task, lookup func(string) (*Task, bool)) []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		visited[name] = true
		onStack[name] = true
		stack = append(stack, name)

		t, _ := lookup(name)
		for _, pred := range t.Predecessors {
			if onStack[pred] {
				start := 0
				for i, n := range stack {
					if n == pred {
						start = i
						break
					}
				}
				cycle := append([]string{}, stack[start:]...)
				return append(cycle, pred)
			}
			if !visited[pred] {
				if cycle := visit(pred); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		onStack[name] = false
		return nil
	}

	for _, name := range sortedTaskNames(batch) {
		if !visited[name] {
			if cycle := visit(name); cycle != nil {
				return cycle
			}
		}
	}

	return nil
}

// Freeze stops further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether the registry has been frozen.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Task returns a registered task by name.
func (r *Registry) Task(name string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[name]
	return t, ok
}

// Names returns every registered task name in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedTaskNames(r.tasks)
}

// Dependents returns the tasks that declare name as a direct predecessor.
func (r *Registry) Dependents(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.dependents[name]...)
}

// Closure returns names plus all of their transitive predecessors.
func (r *Registry) Closure(names []string) ([]string, error) {
	return r.walk(names, func(t *Task) []string { return t.Predecessors })
}

// DependentClosure returns names plus all of their transitive dependents.
func (r *Registry) DependentClosure(names []string) ([]string, error) {
	return r.walk(names, func(t *Task) []string { return r.dependents[t.Name] })
}

func (r *Registry) walk(names []string, next func(*Task) []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	queue := append([]string(nil), names...)

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		if _, done := seen[name]; done {
			continue
		}
		t, ok := r.tasks[name]
		if !ok {
			return nil, unknownTask(name)
		}
		seen[name] = struct{}{}
		queue = append(queue, next(t)...)
	}

	return sortedKeys(seen), nil
}

// TopologicalOrder orders names so that every task follows its predecessors.
// Predecessors outside names are ignored; callers wanting them use Closure
// first. Ties are broken lexically so the order is deterministic. A nil
// slice orders every registered task.
func (r *Registry) TopologicalOrder(names []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if names == nil {
		names = sortedTaskNames(r.tasks)
	}

	subset := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := r.tasks[name]; !ok {
			return nil, unknownTask(name)
		}
		subset[name] = struct{}{}
	}

	inDegree := make(map[string]int, len(subset))
	for name := range subset {
		for _, pred := range r.tasks[name].Predecessors {
			if _, ok := subset[pred]; ok {
				inDegree[name]++
			}
		}
	}

	var ready []string
	for name := range subset {
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(subset))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		order = append(order, current)

		for _, dep := range r.dependents[current] {
			if _, ok := subset[dep]; !ok {
				continue
			}
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = appendSorted(ready, dep)
			}
		}
	}

	if len(order) != len(subset) {
		return nil, errors.NewRegistrationError(errors.ErrCodeCycle, "cycle detected in task graph")
	}

	return order, nil
}

// MatchInputs returns the tasks whose input patterns match path.
func (r *Registry) MatchInputs(p string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []string
	for _, name := range sortedTaskNames(r.tasks) {
		if asset.MatchAny(r.tasks[name].Inputs, p) {
			matched = append(matched, name)
		}
	}

	return matched
}

func unknownTask(name string) error {
	return errors.NewRegistrationError(errors.ErrCodeUnknownTask,
		fmt.Sprintf("unknown task %q", name)).WithTask(name)
}

func cloneTask(t *Task) *Task {
	c := *t
	c.Predecessors = nil
	for _, pred := range t.Predecessors {
		c.Predecessors = appendUnique(c.Predecessors, pred)
	}
	c.Inputs = append([]string(nil), t.Inputs...)
	return &c
}

func sortedTaskNames(tasks map[string]*Task) []string {
	names := make([]string, 0, len(tasks))
	for name := range tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func appendUnique(list []string, name string) []string {
	for _, existing := range list {
		if existing == name {
			return list
		}
	}
	return append(list, name)
}

func appendSorted(list []string, name string) []string {
	i := sort.SearchStrings(list, name)
	if i < len(list) && list[i] == name {
		return list
	}
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = name
	return list
}
