package target

import "sort"

// Graph is the directed acyclic graph of Target Nodes (§3 "Target Graph").
// Construction fails fatally on a cycle or an unresolved dependency
// reference, and the resulting Graph is closed under dependency traversal.
//
// Cycle detection is DFS-with-coloring over dependency edges, grounded on
// the teacher's internal/graph.Validate, generalized from string node IDs
// to five-component Target identities and from two error kinds to the
// richer CycleError/MissingDependencyError pair §4.1 calls for.
type Graph struct {
	byTarget map[Target]Node
	order    []Target // insertion order retained for stable iteration fallback
}

// Build constructs a Graph from a set of parsed Nodes, validating
// invariants (1) acyclic, (2) closed under dependency traversal, (3) every
// declared/inferred dependency resolves within the graph (§3).
func Build(nodes []Node) (*Graph, error) {
	g := &Graph{byTarget: make(map[Target]Node, len(nodes))}

	for _, n := range nodes {
		if _, exists := g.byTarget[n.Identity]; exists {
			return nil, &DuplicateTargetError{Target: n.Identity}
		}
		g.byTarget[n.Identity] = n
		g.order = append(g.order, n.Identity)
	}

	for _, n := range nodes {
		for _, dep := range n.AllDeps() {
			if _, ok := g.byTarget[dep]; !ok {
				return nil, &MissingDependencyError{Referrer: n.Identity, Reference: dep}
			}
		}
	}

	if err := detectCycle(g); err != nil {
		return nil, err
	}

	return g, nil
}

// Node returns the parsed Node for t and whether it exists in the graph.
func (g *Graph) Node(t Target) (Node, bool) {
	n, ok := g.byTarget[t]
	return n, ok
}

// Targets returns every target in the graph, sorted by the total order
// (§4.1 "ascending target order").
func (g *Graph) Targets() []Target {
	out := make([]Target, 0, len(g.byTarget))
	for t := range g.byTarget {
		out = append(out, t)
	}
	SortTargets(out)
	return out
}

// ForwardDeps returns the direct dependencies of t in ascending order.
func (g *Graph) ForwardDeps(t Target) []Target {
	n, ok := g.byTarget[t]
	if !ok {
		return nil
	}
	deps := n.AllDeps()
	SortTargets(deps)
	return deps
}

// ReverseDeps returns every target in the graph that directly depends on t,
// in ascending order (§4.1 "reverse-dependency enumeration").
func (g *Graph) ReverseDeps(t Target) []Target {
	var out []Target
	for _, candidate := range g.Targets() {
		n := g.byTarget[candidate]
		for _, dep := range n.AllDeps() {
			if dep.Equal(t) {
				out = append(out, candidate)
				break
			}
		}
	}
	return out
}

// Subgraph extracts the closure of roots under dependency traversal:
// every root plus every target transitively reachable from it
// (§4.1 "subgraph extraction for a set of roots").
func (g *Graph) Subgraph(roots []Target) *Graph {
	visited := make(map[Target]bool)
	var visit func(Target)
	visit = func(t Target) {
		if visited[t] {
			return
		}
		visited[t] = true
		for _, dep := range g.ForwardDeps(t) {
			visit(dep)
		}
	}
	for _, r := range roots {
		visit(r)
	}

	sub := &Graph{byTarget: make(map[Target]Node, len(visited))}
	for _, t := range g.Targets() {
		if visited[t] {
			n := g.byTarget[t]
			sub.byTarget[t] = n
			sub.order = append(sub.order, t)
		}
	}
	return sub
}

// TopoSorted returns every target in topologically-sorted order (dependencies
// before dependents) with deterministic ascending-target tie-breaking among
// targets with no ordering constraint between them (§4.1).
func (g *Graph) TopoSorted() []Target {
	names := g.Targets() // already ascending

	indeg := make(map[Target]int, len(names))
	outgoing := make(map[Target][]Target, len(names))
	for _, t := range names {
		indeg[t] = 0
	}
	for _, t := range names {
		for _, dep := range g.ForwardDeps(t) {
			outgoing[dep] = append(outgoing[dep], t)
			indeg[t]++
		}
	}
	for k := range outgoing {
		SortTargets(outgoing[k])
	}

	ready := make([]Target, 0, len(names))
	for _, t := range names {
		if indeg[t] == 0 {
			ready = append(ready, t)
		}
	}
	SortTargets(ready)

	order := make([]Target, 0, len(names))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)

		for _, m := range outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				idx := sort.Search(len(ready), func(i int) bool { return !ready[i].Less(m) })
				ready = append(ready, Target{})
				copy(ready[idx+1:], ready[idx:])
				ready[idx] = m
			}
		}
	}
	return order
}

func detectCycle(g *Graph) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[Target]int, len(g.byTarget))
	var path []Target

	var dfs func(Target) error
	dfs = func(t Target) error {
		color[t] = gray
		path = append(path, t)

		deps := g.ForwardDeps(t)
		for _, dep := range deps {
			if color[dep] == gray {
				start := -1
				for i, p := range path {
					if p.Equal(dep) {
						start = i
						break
					}
				}
				cycle := append(append([]Target{}, path[start:]...), dep)
				return &CycleError{Cycle: cycle}
			}
			if color[dep] == white {
				if err := dfs(dep); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		color[t] = black
		return nil
	}

	for _, t := range g.Targets() {
		if color[t] == white {
			if err := dfs(t); err != nil {
				return err
			}
		}
	}
	return nil
}
