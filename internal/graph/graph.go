// Package graph provides the in-memory dependency graph over stages: cycle
// detection with a witness path, topological depth assignment, and
// merge-gated readiness.
package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/loomorch/loom/internal/loomerr"
	"github.com/loomorch/loom/internal/store"
)

// CycleError reports a dependency cycle together with the path that proves
// it, id -> id -> ... -> id (repeated), instead of a bare boolean.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "circular dependency: " + strings.Join(e.Path, " -> ")
}

// Graph is a directed acyclic graph of stages. Edges point from a stage to
// the stages it depends on ("blocked by").
type Graph struct {
	mu sync.RWMutex

	nodes  map[string]*store.Stage
	edges  map[string][]string
	merged map[string]bool

	debugLog func(format string, args ...interface{})
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:    make(map[string]*store.Stage),
		edges:    make(map[string][]string),
		merged:   make(map[string]bool),
		debugLog: func(string, ...interface{}) {},
	}
}

// SetDebugLog installs a logging sink; nil is ignored.
func (g *Graph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build replaces the graph's contents with the given stages, validating
// that every DependsOn entry resolves to a known stage and that no cycle
// exists. On error the graph is left unchanged.
func (g *Graph) Build(stages []*store.Stage) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	nodes := make(map[string]*store.Stage, len(stages))
	edges := make(map[string][]string, len(stages))
	merged := make(map[string]bool, len(stages))

	for _, st := range stages {
		nodes[st.ID] = st
		edges[st.ID] = append([]string(nil), st.DependsOn...)
		merged[st.ID] = st.Status == store.StageCompleted && st.Merged
	}

	for id, deps := range edges {
		for _, dep := range deps {
			if _, ok := nodes[dep]; !ok {
				return loomerr.Validation("graph.Build", fmt.Sprintf("stage %s depends on unknown stage %s", id, dep), nil)
			}
		}
	}

	if path := findCycle(nodes, edges); path != nil {
		return &CycleError{Path: path}
	}

	g.nodes, g.edges, g.merged = nodes, edges, merged
	g.debugLog("[graph.Build] built graph with %d stages", len(nodes))
	return nil
}

// findCycle runs DFS with three-coloring and reconstructs the cycle path
// from the first back edge it finds.
func findCycle(nodes map[string]*store.Stage, edges map[string][]string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))
	parent := make(map[string]string, len(nodes))
	var cyclePath []string

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		deps := append([]string(nil), edges[id]...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch color[dep] {
			case gray:
				path := []string{dep}
				cur := id
				for cur != dep {
					path = append(path, cur)
					cur = parent[cur]
				}
				path = append(path, dep)
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				cyclePath = path
				return true
			case white:
				parent[dep] = id
				if visit(dep) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for _, id := range ids {
		if color[id] == white {
			if visit(id) {
				return cyclePath
			}
		}
	}
	return nil
}

// Depths assigns each stage its longest-path-from-a-root depth, used to
// name stage files stages/<NN>-<id>.md. The graph is assumed acyclic.
func (g *Graph) Depths() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	depth := make(map[string]int, len(g.nodes))
	var compute func(id string) int
	compute = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		best := 0
		for _, dep := range g.edges[id] {
			if d := compute(dep) + 1; d > best {
				best = d
			}
		}
		depth[id] = best
		return best
	}
	for id := range g.nodes {
		compute(id)
	}
	return depth
}

// ReadyStages returns stages whose dependencies are all Completed AND
// merged, that are themselves still WaitingForDeps. Unlike a plain
// completion check, a dependency stuck at Completed-but-unmerged never
// unblocks its dependents (§4.B).
func (g *Graph) ReadyStages() []*store.Stage {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*store.Stage
	for id, st := range g.nodes {
		if st.Status != store.StageWaitingForDeps {
			continue
		}
		if st.Held {
			continue
		}
		allMet := true
		for _, dep := range g.edges[id] {
			if !g.merged[dep] {
				allMet = false
				break
			}
		}
		if allMet {
			ready = append(ready, st)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
	return ready
}

// SetNodeMerged records whether a stage's completed work has been folded
// into its base branch; it gates ReadyStages independently from Status.
func (g *Graph) SetNodeMerged(id string, merged bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.merged[id] = merged
}

// UpdateStage replaces the in-memory record for a stage, e.g. after the
// Store reloads it with a new status.
func (g *Graph) UpdateStage(st *store.Stage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[st.ID] = st
	g.merged[st.ID] = st.Status == store.StageCompleted && st.Merged
}

// Stage returns the stage for id, or nil if unknown.
func (g *Graph) Stage(id string) *store.Stage {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// Dependents returns the ids of stages that declare id as a dependency.
func (g *Graph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []string
	for other, deps := range g.edges {
		for _, d := range deps {
			if d == id {
				out = append(out, other)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Dependencies returns the ids a stage declares in DependsOn.
func (g *Graph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[id]...)
}

// Size returns the number of stages in the graph.
func (g *Graph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// AllStages returns every stage, sorted by id.
func (g *Graph) AllStages() []*store.Stage {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*store.Stage, 0, len(g.nodes))
	for _, st := range g.nodes {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
