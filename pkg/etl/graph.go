package etl

import (
	"sort"
	"strings"

	"github.com/qazdata/goszakup-etl/pkg/errors"
)

// Graph is the dependency DAG over a set of entities. It is immutable
// after construction and safe for concurrent reads.
type Graph struct {
	entities map[string]Entity
	order    []string
	forward  map[string][]string // dependency -> dependents
}

// NewGraph validates and indexes the entities: names must be unique,
// every dependency must name a known entity, and the edges must not
// form a cycle.
func NewGraph(entities []Entity) (*Graph, error) {
	g := &Graph{
		entities: make(map[string]Entity, len(entities)),
		forward:  make(map[string][]string),
	}

	for _, e := range entities {
		if e.Name == "" {
			return nil, errors.New(errors.ErrorTypeValidation, "graph: entity without a name")
		}
		if _, dup := g.entities[e.Name]; dup {
			return nil, errors.Newf(errors.ErrorTypeValidation, "graph: duplicate entity %q", e.Name)
		}
		g.entities[e.Name] = e
		g.order = append(g.order, e.Name)
	}

	for _, e := range entities {
		for _, dep := range e.DependsOn {
			if _, ok := g.entities[dep]; !ok {
				return nil, errors.Newf(errors.ErrorTypeValidation,
					"graph: entity %q depends on unknown entity %q", e.Name, dep)
			}
			g.forward[dep] = append(g.forward[dep], e.Name)
		}
	}

	if _, err := g.waves(); err != nil {
		return nil, err
	}
	return g, nil
}

// Nodes returns the entities in catalog order.
func (g *Graph) Nodes() []Entity {
	nodes := make([]Entity, len(g.order))
	for i, name := range g.order {
		nodes[i] = g.entities[name]
	}
	return nodes
}

// Entity looks up one entity by name.
func (g *Graph) Entity(name string) (Entity, bool) {
	e, ok := g.entities[name]
	return e, ok
}

// Edges returns every dependency edge as {from, to} pairs, where from
// must complete before to starts. Order follows the catalog.
func (g *Graph) Edges() [][2]string {
	var edges [][2]string
	for _, name := range g.order {
		for _, dep := range g.entities[name].DependsOn {
			edges = append(edges, [2]string{dep, name})
		}
	}
	return edges
}

// DependenciesOf returns the direct dependencies of name.
func (g *Graph) DependenciesOf(name string) []string {
	e, ok := g.entities[name]
	if !ok {
		return nil
	}
	return append([]string(nil), e.DependsOn...)
}

// DependentsOf returns the entities that directly depend on name,
// sorted.
func (g *Graph) DependentsOf(name string) []string {
	deps := append([]string(nil), g.forward[name]...)
	sort.Strings(deps)
	return deps
}

// Ready returns the entities, in catalog order, that are not yet done
// but whose dependencies all are.
func (g *Graph) Ready(done map[string]bool) []string {
	var ready []string
	for _, name := range g.order {
		if done[name] {
			continue
		}
		blocked := false
		for _, dep := range g.entities[name].DependsOn {
			if !done[dep] {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, name)
		}
	}
	return ready
}

// TopoWaves layers the graph: wave n holds the entities whose longest
// dependency chain has n edges. Entities inside a wave are sorted, so
// the layering is deterministic and usable for display.
func (g *Graph) TopoWaves() [][]string {
	waves, _ := g.waves()
	return waves
}

// Subgraph returns the graph induced by the named entities and all of
// their ancestors, preserving catalog order.
func (g *Graph) Subgraph(names ...string) (*Graph, error) {
	keep := make(map[string]bool)
	var visit func(name string) error
	visit = func(name string) error {
		e, ok := g.entities[name]
		if !ok {
			return errors.Newf(errors.ErrorTypeValidation, "graph: unknown entity %q", name)
		}
		if keep[name] {
			return nil
		}
		keep[name] = true
		for _, dep := range e.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	var kept []Entity
	for _, name := range g.order {
		if keep[name] {
			kept = append(kept, g.entities[name])
		}
	}
	return NewGraph(kept)
}

// waves runs Kahn's algorithm. Any nodes left unprocessed sit on a
// cycle, which is a construction error.
func (g *Graph) waves() ([][]string, error) {
	indeg := make(map[string]int, len(g.order))
	for name, e := range g.entities {
		indeg[name] = len(e.DependsOn)
	}

	var frontier []string
	for _, name := range g.order {
		if indeg[name] == 0 {
			frontier = append(frontier, name)
		}
	}

	var waves [][]string
	remaining := len(g.order)
	for len(frontier) > 0 {
		sort.Strings(frontier)
		waves = append(waves, frontier)
		remaining -= len(frontier)

		var next []string
		for _, name := range frontier {
			for _, dependent := range g.forward[name] {
				indeg[dependent]--
				if indeg[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		frontier = next
	}

	if remaining > 0 {
		var stuck []string
		for name, d := range indeg {
			if d > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"graph: dependency cycle involving %s", strings.Join(stuck, ", "))
	}
	return waves, nil
}
