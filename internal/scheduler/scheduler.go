// Package scheduler implements §4.4/§5's bottom-up parallel build
// execution: each rule's future resolves once all of its dependency
// futures have resolved and its own cache-fetch-then-build-or-fallback
// step completes, with a single cancellation flag shared by the whole
// invocation and every originating failure collected rather than only
// the first.
//
// Grounded on the teacher's internal/dag.Executor, which already walks a
// validated graph bottom-up with a bounded worker pool and lifecycle
// hooks; scheduler generalizes that to rule-key-aware, cache-aware
// futures and replaces the teacher's hand-rolled worker pool with
// golang.org/x/sync/errgroup (the dependency the rest of the corpus's
// concurrent-fan-out code reaches for) plus a semaphore for bounding
// concurrency, and hashicorp/go-multierror for aggregating every
// rule's failure instead of stopping at the first.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/forgecell/forgeorch/internal/cache"
	"github.com/forgecell/forgeorch/internal/digest"
	"github.com/forgecell/forgeorch/internal/eventbus"
	"github.com/forgecell/forgeorch/internal/oncecell"
	"github.com/forgecell/forgeorch/internal/outputpath"
	"github.com/forgecell/forgeorch/internal/rule"
	"github.com/forgecell/forgeorch/internal/rulekey"
	"github.com/forgecell/forgeorch/internal/step"
	"github.com/forgecell/forgeorch/internal/target"
)

// Outcome is the terminal result of building one rule (§4.4 "Rule build
// outcome").
type Outcome struct {
	Target     target.Target
	RuleKey    digest.Digest
	FromCache  bool
	Skipped    bool // dependency failed; this rule's steps never ran
	Err        error
}

// RemoteExecutor is the optional collaborator consulted after a local
// cache miss, before falling back to local execution (§4.4 "cache miss
// ... attempt remote execution; on any construction or dispatch failure,
// fall back to local execution without poisoning other rules").
type RemoteExecutor interface {
	// TryExecute attempts remote execution for r. ok is false whenever
	// remote execution could not be attempted or dispatched (including a
	// Merkle-tree construction failure) and the scheduler must fall back
	// to local execution.
	TryExecute(ctx context.Context, r *rule.Rule, key digest.Digest) (outputs map[string]digest.Digest, ok bool, err error)
}

// Scheduler runs every rule in a target.Graph-derived action graph to
// completion, honoring dependency order (§4.4, §5).
type Scheduler struct {
	rules    map[target.Target]*rule.Rule
	keyEngine *rulekey.Engine
	artifacts cache.Cache
	bus       *eventbus.Bus
	remote    RemoteExecutor
	buildCtx  rule.BuildContext

	concurrency int64

	futures *oncecell.Map[target.Target, Outcome]
}

// New constructs a Scheduler. concurrency bounds the number of rules
// executing steps simultaneously (§4.4 "bounded worker pool"); remote may
// be nil to disable remote execution entirely.
func New(rules []*rule.Rule, keyEngine *rulekey.Engine, artifacts cache.Cache, bus *eventbus.Bus, remote RemoteExecutor, buildCtx rule.BuildContext, concurrency int64) *Scheduler {
	byTarget := make(map[target.Target]*rule.Rule, len(rules))
	for _, r := range rules {
		byTarget[r.Identity()] = r
	}
	return &Scheduler{
		rules:       byTarget,
		keyEngine:   keyEngine,
		artifacts:   artifacts,
		bus:         bus,
		remote:      remote,
		buildCtx:    buildCtx,
		concurrency: concurrency,
		futures:     oncecell.NewMap[target.Target, Outcome](),
	}
}

// BuildAll builds every one of the given root targets (and transitively
// every dependency reachable from them) and returns one Outcome per root,
// plus an aggregated error listing every failed root; a dependency's
// failure appears wrapped inside the error of each root that depends on it (§7 "a failed build must report every originating failure, not
// only the first one encountered").
func (s *Scheduler) BuildAll(ctx context.Context, roots []target.Target) ([]Outcome, error) {
	sem := semaphore.NewWeighted(s.concurrency)
	g, gctx := errgroup.WithContext(ctx)

	var (
		mu       sync.Mutex
		outcomes []Outcome
	)

	for _, root := range roots {
		root := root
		g.Go(func() error {
			outcome := s.buildOne(gctx, root, sem)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
			return nil // rule failures are carried in Outcome.Err, never abort the group
		})
	}

	_ = g.Wait()

	var agg *multierror.Error
	for _, o := range outcomes {
		if o.Err != nil {
			agg = multierror.Append(agg, fmt.Errorf("%s: %w", o.Target.String(), o.Err))
		}
	}
	if agg != nil {
		return outcomes, agg.ErrorOrNil()
	}
	return outcomes, nil
}

func (s *Scheduler) buildOne(ctx context.Context, t target.Target, sem *semaphore.Weighted) Outcome {
	cell := s.futures.LoadOrStore(t)
	outcome, _ := cell.Get(func() (Outcome, error) {
		return s.computeOne(ctx, t, sem), nil
	})
	return outcome
}

func (s *Scheduler) computeOne(ctx context.Context, t target.Target, sem *semaphore.Weighted) Outcome {
	r, ok := s.rules[t]
	if !ok {
		return Outcome{Target: t, Err: fmt.Errorf("scheduler: unknown target %s", t)}
	}

	// Fan out to dependencies first; a rule's steps never start until
	// every dependency has a terminal outcome (§4.4 "bottom-up").
	deps := r.Deps()
	depOutcomes := make([]Outcome, len(deps))
	var wg sync.WaitGroup
	wg.Add(len(deps))
	for i, d := range deps {
		i, d := i, d
		go func() {
			defer wg.Done()
			depOutcomes[i] = s.buildOne(ctx, d.Identity(), sem)
		}()
	}
	wg.Wait()

	for _, dep := range depOutcomes {
		if dep.Err != nil {
			return Outcome{Target: t, Skipped: true, Err: fmt.Errorf("dependency %s failed: %w", dep.Target.String(), dep.Err)}
		}
	}

	if ctx.Err() != nil {
		return Outcome{Target: t, Skipped: true, Err: ctx.Err()}
	}

	key, err := s.keyEngine.KeyOf(ctx, r)
	if err != nil {
		return Outcome{Target: t, Err: fmt.Errorf("computing rule key: %w", err)}
	}

	s.postEvent(eventbus.KindRuleStarted, t, key)

	artifacts := s.artifacts
	if !r.IsCacheable() {
		artifacts = cache.NoCache{}
	}

	if entry, err := artifacts.Fetch(key); err == nil {
		s.postEvent(eventbus.KindCacheChecked, t, key, "hit")
		paths := outputpath.For(s.buildCtx.OutputRoot, t, key)
		if err := s.restore(paths, entry); err != nil {
			return Outcome{Target: t, RuleKey: key, Err: fmt.Errorf("restoring cached outputs: %w", err)}
		}
		s.postEvent(eventbus.KindRuleFinished, t, key)
		return Outcome{Target: t, RuleKey: key, FromCache: true}
	} else if err != cache.ErrMiss {
		// Cache access errors are not fatal (§4.5): fall through to a
		// local build, same as a miss.
		s.postEvent(eventbus.KindCacheChecked, t, key, "error")
	} else {
		s.postEvent(eventbus.KindCacheChecked, t, key, "miss")
	}

	if s.remote != nil {
		if outputs, ok, err := s.remote.TryExecute(ctx, r, key); ok {
			if err != nil {
				return Outcome{Target: t, RuleKey: key, Err: fmt.Errorf("remote execution: %w", err)}
			}
			s.storeIfCacheable(r, key, outputs, nil)
			s.postEvent(eventbus.KindRuleFinished, t, key)
			return Outcome{Target: t, RuleKey: key}
		}
		// ok == false: fall through to local execution without poisoning
		// this or any other rule (§4.4).
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		return Outcome{Target: t, RuleKey: key, Skipped: true, Err: err}
	}
	defer sem.Release(1)

	outcome := s.runLocally(ctx, r, key)
	s.postEvent(eventbus.KindRuleFinished, t, key)
	return outcome
}

func (s *Scheduler) runLocally(ctx context.Context, r *rule.Rule, key digest.Digest) Outcome {
	t := r.Identity()
	paths := outputpath.For(s.buildCtx.OutputRoot, t, key)

	steps, err := r.GetBuildSteps(ctx, s.buildCtx, rule.BuildableContext{GenDir: paths.GenDir, ScratchDir: paths.ScratchDir})
	if err != nil {
		return Outcome{Target: t, RuleKey: key, Err: fmt.Errorf("producing build steps: %w", err)}
	}

	if namer, ok := r.Buildable().(rule.DeclaredOutputNamer); ok {
		keep := make(map[string]struct{})
		for _, name := range namer.DeclaredOutputs() {
			keep[name] = struct{}{}
		}
		if err := step.CleanStaleOutputs(paths.GenDir, keep); err != nil {
			return Outcome{Target: t, RuleKey: key, Err: fmt.Errorf("cleaning stale outputs: %w", err)}
		}
	}

	for _, st := range steps {
		s.postEvent(eventbus.KindStepStarted, t, key, st.ShortName())
		res, err := st.Execute(ctx)
		if err != nil {
			return Outcome{Target: t, RuleKey: key, Err: fmt.Errorf("step %s: %w", st.ShortName(), err)}
		}
		s.postEvent(eventbus.KindStepFinished, t, key, st.ShortName())
		if !res.Success {
			return Outcome{Target: t, RuleKey: key, Err: fmt.Errorf("step %s exited %d: %s", st.ShortName(), res.ExitCode, string(res.Stderr))}
		}
	}

	recorder := newOutputRecorder()
	r.RecordOutputs(recorder)
	s.storeIfCacheable(r, key, recorder.outputs, paths)

	return Outcome{Target: t, RuleKey: key}
}

func (s *Scheduler) storeIfCacheable(r *rule.Rule, key digest.Digest, outputs map[string]digest.Digest, paths *outputpath.Paths) {
	if !r.IsCacheable() || len(outputs) == 0 {
		return
	}
	contents := make(map[string][]byte, len(outputs))
	if paths != nil {
		for rel := range outputs {
			data, err := s.buildCtx.Filesystem.ReadBytes(paths.Resolve(rel))
			if err != nil {
				continue // best-effort store (§4.5)
			}
			contents[rel] = data
		}
	}
	_ = s.artifacts.Store(cache.Entry{
		Key:      key,
		Contents: contents,
		Metadata: cache.Metadata{Outputs: outputs},
	})
	s.postEvent(eventbus.KindCacheStored, r.Identity(), key)
}

// restore writes a cache entry's contents back under paths.GenDir, the
// same hash-qualified directory a local build of this rule key would have
// produced, so a cache hit leaves the filesystem indistinguishable from a
// successful local build (§4.5).
func (s *Scheduler) restore(paths *outputpath.Paths, entry *cache.Entry) error {
	for rel, data := range entry.Contents {
		if err := s.buildCtx.Filesystem.WriteBytes(paths.Resolve(rel), data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) postEvent(kind eventbus.Kind, t target.Target, key digest.Digest, message ...string) {
	if s.bus == nil {
		return
	}
	msg := ""
	if len(message) > 0 {
		msg = message[0]
	}
	s.bus.Post(eventbus.Event{Kind: kind, Target: t.String(), Message: msg})
}

type outputRecorder struct {
	outputs map[string]digest.Digest
}

func newOutputRecorder() *outputRecorder {
	return &outputRecorder{outputs: make(map[string]digest.Digest)}
}

func (o *outputRecorder) RecordOutput(path string, contentHash [32]byte) {
	o.outputs[path] = contentHash
}
