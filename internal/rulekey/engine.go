package rulekey

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/forgecell/forgeorch/internal/digest"
	"github.com/forgecell/forgeorch/internal/oncecell"
	"github.com/forgecell/forgeorch/internal/target"
)

// KeyableRule is the minimal surface the rule-key engine needs from a
// concrete Rule (defined in package rule). It is expressed here as an
// interface rather than imported directly so that package rule can depend
// on rulekey.Sink without an import cycle.
type KeyableRule interface {
	Identity() target.Target
	BuildDeps() []KeyableRule
	AppendToRuleKey(*Sink)
}

// Engine computes and memoizes rule keys for the duration of one build
// invocation (§3 "Rule Keys: computed lazily, memoized per (rule-identity,
// key-factory) for the duration of a build").
//
// The memo map is a target-keyed oncecell.Map so concurrent callers for the
// same target observe exactly one in-flight computation, and bottom-up
// fan-out is implemented with errgroup so an arbitrary dependency
// fan-out is tolerated without the engine needing to know the DAG's shape
// beyond each rule's own BuildDeps() (§4.2 "tolerate arbitrary fan-out").
type Engine struct {
	resolver target.Resolver
	memo     *oncecell.Map[target.Target, digest.Digest]
}

// NewEngine constructs an Engine bound to a single build invocation.
func NewEngine(resolver target.Resolver) *Engine {
	return &Engine{resolver: resolver, memo: oncecell.NewMap[target.Target, digest.Digest]()}
}

// KeyOf computes key-of(rule): the rule's target identity, every
// key-contributing field, and the rule keys of all direct build
// dependencies, recursively (§4.2). A hashing error is fatal to the owning
// rule and propagates to every caller awaiting it, but never poisons a
// sibling subtree that doesn't depend on the failing rule.
func (e *Engine) KeyOf(ctx context.Context, r KeyableRule) (digest.Digest, error) {
	cell := e.memo.LoadOrStore(r.Identity())
	return cell.Get(func() (digest.Digest, error) {
		return e.compute(ctx, r)
	})
}

func (e *Engine) compute(ctx context.Context, r KeyableRule) (digest.Digest, error) {
	deps := r.BuildDeps()

	depKeys := make(map[target.Target]digest.Digest, len(deps))
	if len(deps) > 0 {
		// Launch all direct dependencies' key computation concurrently and
		// await all before composing this rule's key (§4.2 "Bottom-up
		// parallel computation").
		g, gctx := errgroup.WithContext(ctx)
		keys := make([]digest.Digest, len(deps))
		for i, dep := range deps {
			i, dep := i, dep
			g.Go(func() error {
				k, err := e.KeyOf(gctx, dep)
				if err != nil {
					return fmt.Errorf("dependency %s: %w", dep.Identity(), err)
				}
				keys[i] = k
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return digest.Digest{}, err
		}
		for i, dep := range deps {
			depKeys[dep.Identity()] = keys[i]
		}
	}

	sink := newSink(r.Identity(), e.resolver, depKeys)

	// Target identity always contributes first, ahead of any
	// rule-specific field, so two rules of different identity never
	// collide even with identical field sets.
	sink.writeFieldHeader(tagString, "__identity__")
	writeLenString(sink.h, r.Identity().String())

	// Every direct dependency's key contributes next, in ascending target
	// order, whether or not the rule also references it through HashDeps.
	depTargets := make([]target.Target, 0, len(depKeys))
	for dt := range depKeys {
		depTargets = append(depTargets, dt)
	}
	target.SortTargets(depTargets)
	sink.writeFieldHeader(tagDepKey, "__deps__")
	writeLen(sink.h, len(depTargets))
	for _, dt := range depTargets {
		dk := depKeys[dt]
		sink.h.Write(dk[:])
	}

	r.AppendToRuleKey(sink)

	if sink.err != nil {
		return digest.Digest{}, sink.err
	}
	return sink.h.Sum(), nil
}
