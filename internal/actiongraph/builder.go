// Package actiongraph implements the Action Graph Builder (§3, §4.3): a
// mapping of target -> materialized rule with idempotent construction.
//
// Grounded on the teacher's internal/incremental package, which already
// implements an atomic-insert-or-get pattern over a build graph (its
// GraphSnapshot/plan machinery); actiongraph generalizes that same
// "compute once, share across concurrent callers" discipline from
// incremental-plan decisions to rule construction via oncecell.Map.
package actiongraph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/forgecell/forgeorch/internal/oncecell"
	"github.com/forgecell/forgeorch/internal/rule"
	"github.com/forgecell/forgeorch/internal/target"
)

// Description lowers a single Target Node into one or more Rules (§6 "Rule
// Description protocol"). It is supplied externally per rule type; this
// package never knows the catalog of rule types (§1 scope).
type Description interface {
	CreateRule(ctx *Context, node target.Node) (*rule.Rule, error)
}

// Context is the context bundle a Description receives: the builder, the
// target graph, a filesystem and cell paths. It carries no toolchain
// provider and no event bus, and Builder.Require fills in only Builder and
// TargetGraph.
type Context struct {
	Builder     *Builder
	TargetGraph *target.Graph
	Filesystem  rule.FilesystemAbstraction
	CellPaths   map[string]string
}

// Builder is the Action Graph Builder (§3, §4.3). At most one Rule
// instance is ever constructed per target identity per Builder (§3 "at
// most one Rule instance per target identity per builder"), even under
// concurrent callers (§4.3 "This must hold even under concurrent
// callers").
type Builder struct {
	graph        *target.Graph
	descriptions map[string]Description // rule type -> description

	cells   *oncecell.Map[target.Target, *rule.Rule]
	indexMu sync.Mutex
	index   map[target.Target]*rule.Rule // materialized rules, for enumeration
}

// NewBuilder constructs a Builder over graph, dispatching each target's
// construction to the Description registered for its rule type.
func NewBuilder(graph *target.Graph, descriptions map[string]Description) *Builder {
	return &Builder{
		graph:        graph,
		descriptions: descriptions,
		cells:        oncecell.NewMap[target.Target, *rule.Rule](),
		index:        make(map[target.Target]*rule.Rule),
	}
}

// Require returns the materialized Rule for t, creating it from its
// Description exactly once even under concurrent callers (§4.3
// "compute-if-absent(target, factory) invokes factory at most once").
func (b *Builder) Require(t target.Target) (*rule.Rule, error) {
	cell := b.cells.LoadOrStore(t)
	return cell.Get(func() (*rule.Rule, error) {
		return b.construct(t)
	})
}

// ComputeIfAbsent is the §4.3-named operation; it is semantically
// identical to Require but accepts an explicit factory override for
// synthetic sub-targets that have no Target Node of their own (§4.3
// "Auxiliary-rule creation").
func (b *Builder) ComputeIfAbsent(t target.Target, factory func() (*rule.Rule, error)) (*rule.Rule, error) {
	cell := b.cells.LoadOrStore(t)
	return cell.Get(func() (*rule.Rule, error) {
		r, err := factory()
		if err != nil {
			return nil, err
		}
		if r == nil {
			return nil, fmt.Errorf("actiongraph: description for %s returned a nil rule: %w", t, ErrNilRule)
		}
		b.addToIndex(r)
		return r, nil
	})
}

// AddToIndex registers an already-constructed rule (e.g. an auxiliary rule
// a description created as a side effect) under its own identity.
func (b *Builder) AddToIndex(r *rule.Rule) {
	b.addToIndex(r)
}

func (b *Builder) addToIndex(r *rule.Rule) {
	b.indexMu.Lock()
	defer b.indexMu.Unlock()
	b.index[r.Identity()] = r
}

func (b *Builder) construct(t target.Target) (*rule.Rule, error) {
	node, ok := b.graph.Node(t)
	if !ok {
		return nil, fmt.Errorf("actiongraph: %s: %w", t, ErrUnsatisfiableDependency)
	}

	desc, ok := b.descriptions[node.RuleType]
	if !ok {
		return nil, fmt.Errorf("actiongraph: %s: no rule description registered for type %q: %w", t, node.RuleType, ErrUnsatisfiableDependency)
	}

	r, err := desc.CreateRule(&Context{Builder: b, TargetGraph: b.graph}, node)
	if err != nil {
		return nil, fmt.Errorf("actiongraph: constructing %s: %w", t, err)
	}
	if r == nil {
		return nil, fmt.Errorf("actiongraph: description for %s returned a nil rule: %w", t, ErrNilRule)
	}

	b.addToIndex(r)
	return r, nil
}

// Rules returns every materialized rule so far, sorted by target identity,
// used for final reporting (e.g. --show-output across an entire build).
func (b *Builder) Rules() []*rule.Rule {
	b.indexMu.Lock()
	defer b.indexMu.Unlock()

	out := make([]*rule.Rule, 0, len(b.index))
	for _, r := range b.index {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity().Less(out[j].Identity()) })
	return out
}
