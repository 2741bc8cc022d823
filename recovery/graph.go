package recovery

import (
	"sync"

	"github.com/samber/lo"
)

// Graph is the static agent dependency table the planner consults: which
// upstream agents each agent requires, and which agents are critical to the
// workflow as a whole.
type Graph struct {
	mu       sync.RWMutex
	requires map[string][]string
	critical map[string]bool
}

func NewGraph() *Graph {
	return &Graph{
		requires: make(map[string][]string),
		critical: make(map[string]bool),
	}
}

// DefaultGraph is the biomerkin pipeline topology: proteomics builds on
// genomics, literature and drug build on both, decision consumes all four.
// Only genomics is critical.
func DefaultGraph() *Graph {
	g := NewGraph()
	g.Add("genomics", nil, true)
	g.Add("proteomics", []string{"genomics"}, false)
	g.Add("literature", []string{"genomics", "proteomics"}, false)
	g.Add("drug", []string{"genomics", "proteomics"}, false)
	g.Add("decision", []string{"genomics", "proteomics", "literature", "drug"}, false)
	return g
}

// Add registers an agent with its required upstream agents and critical flag.
// Re-adding an agent replaces its entry.
func (g *Graph) Add(agent string, requires []string, critical bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requires[agent] = append([]string(nil), requires...)
	g.critical[agent] = critical
}

func (g *Graph) Requires(agent string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.requires[agent]...)
}

func (g *Graph) Critical(agent string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.critical[agent]
}

func (g *Graph) Agents() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return lo.Keys(g.requires)
}

// Dependents returns the agents that require the given agent upstream.
func (g *Graph) Dependents(agent string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	for candidate, requires := range g.requires {
		if lo.Contains(requires, agent) {
			out = append(out, candidate)
		}
	}
	return out
}
