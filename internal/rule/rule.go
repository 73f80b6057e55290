// Package rule defines the executable lowering of a target.Node (§3 "Build
// Rule") as a capability-set rather than an inheritance hierarchy, per the
// §9 design note: "a Rule satisfies {has-build-deps, has-build-steps,
// optionally-has-source-path-output, optionally-supports-dep-file-rulekey}.
// Variants are tagged; each capability is implemented by a typed small
// interface the scheduler consumes."
//
// The outer Rule owns an immutable Buildable; the scheduler talks only to
// the outer Rule, and the Buildable is stateless per execution (§9 "split:
// ... Cyclic ownership between a Rule and its delegate/buildable").
package rule

import (
	"context"

	"github.com/forgecell/forgeorch/internal/rulekey"
	"github.com/forgecell/forgeorch/internal/target"
)

// Step is a single unit of local work within a Rule (§3 "Step", §4.6,
// §6 "Step protocol").
type Step interface {
	ShortName() string
	Description(ctx context.Context) string
	Execute(ctx context.Context) (StepResult, error)
}

// StepResult is the outcome of a Step's Execute call.
type StepResult struct {
	Success  bool
	ExitCode int
	Stderr   []byte
}

// BuildContext bundles the collaborators a rule description or a rule's
// step-production procedure needs (§4.3 "context bundle"). These are
// external collaborators passed explicitly, never held as process-wide
// singletons (§9 "shared mutable global providers").
type BuildContext struct {
	Filesystem  FilesystemAbstraction
	CellPaths   map[string]string // cell name -> absolute root
	OutputRoot  string
	BuildID     string
}

// FilesystemAbstraction is the minimal filesystem surface rules and steps
// use, matching §6's filesystem abstraction contract. The concrete
// implementation lives in package step.
type FilesystemAbstraction interface {
	Resolve(relative string) (string, error)
	Exists(absolute string) bool
	MkdirAll(absolute string) error
	DeleteRecursive(absolute string) error
	Copy(src, dst string) error
	Symlink(target, link string) error
	WriteBytes(absolute string, data []byte) error
	ReadBytes(absolute string) ([]byte, error)
}

// Buildable is the stateless, per-execution companion that produces a
// rule's steps given a BuildContext and a BuildableContext (per-rule
// scratch/output directory assignment). The Rule holds one Buildable and
// the scheduler calls it each time it needs steps; it never accumulates
// state across calls (§9).
type Buildable interface {
	GetBuildSteps(ctx context.Context, bctx BuildContext, buildable BuildableContext) ([]Step, error)
}

// BuildableContext carries the per-rule output/scratch directory
// assignment computed by package outputpath.
type BuildableContext struct {
	GenDir     string
	ScratchDir string
}

// SourcePathOutputter is the optional capability for a Rule whose output
// can itself be referenced as a target.SourcePath by downstream rules
// (§6 "source-path-to-output (may be absent)").
type SourcePathOutputter interface {
	SourcePathToOutput(name string) (target.SourcePath, bool)
}

// OutputRecorder is the sink the scheduler hands a rule after a successful
// local build so the rule can declare its actual produced paths and their
// content hashes for artifact-cache storage (§6 "record-outputs(sink)").
type OutputRecorder interface {
	RecordOutput(path string, contentHash [32]byte)
}

// DeclaredOutputNamer is the optional capability for a rule that can name
// the output paths it will produce before any of its steps run, so the
// scheduler can delete stale outputs from a prior build that are no longer
// declared (§4.6 "before re-running a rule's steps, outputs from a prior
// invocation that are no longer declared must be removed"). Unlike
// OutputRecorder, this never depends on a step having already written
// anything.
type DeclaredOutputNamer interface {
	DeclaredOutputs() []string
}

// DepFileRuleKeyer is the optional capability for a rule that supports a
// dependency-file-derived supplementary rule key, used for diagnosing why
// a rule's key changed. Nothing in this module calls DepFileReasons;
// --show-rulekey prints only each root's rule key. This is the
// SPEC_FULL.md "supplemented feature" grounded on the teacher's
// internal/incremental invalidation-reason reporting.
type DepFileRuleKeyer interface {
	DepFileReasons() []string
}

// Rule is the executable, keyed build unit in the action graph (§3 "Build
// Rule", §6 "Rule protocol"). It owns an immutable Buildable and exposes
// exactly the surface the scheduler and rule-key engine need.
type Rule struct {
	identity      target.Target
	deps          []*Rule
	buildable     Buildable
	cacheable     bool
	appendKey     func(*rulekey.Sink)
	recordOutputs func(OutputRecorder)
}

// New constructs a Rule. appendKey is the rule type's
// append-to-rule-key(sink) procedure (§6 "Rule protocol").
func New(identity target.Target, deps []*Rule, buildable Buildable, cacheable bool, appendKey func(*rulekey.Sink)) *Rule {
	return &Rule{identity: identity, deps: deps, buildable: buildable, cacheable: cacheable, appendKey: appendKey}
}

// WithOutputRecorder attaches the rule type's record-outputs(sink)
// procedure and returns r for chaining.
func (r *Rule) WithOutputRecorder(fn func(OutputRecorder)) *Rule {
	r.recordOutputs = fn
	return r
}

// RecordOutputs invokes the rule type's output-recording procedure, used by
// the scheduler after a successful local build (§6).
func (r *Rule) RecordOutputs(sink OutputRecorder) {
	if r.recordOutputs != nil {
		r.recordOutputs(sink)
	}
}

// Identity returns the rule's target identity.
func (r *Rule) Identity() target.Target { return r.identity }

// BuildDeps returns the rules that must complete before this rule's steps
// may begin (§3 "build dependencies").
func (r *Rule) BuildDeps() []rulekey.KeyableRule {
	out := make([]rulekey.KeyableRule, len(r.deps))
	for i, d := range r.deps {
		out[i] = d
	}
	return out
}

// Deps returns the concrete dependency Rules, for scheduler use.
func (r *Rule) Deps() []*Rule { return r.deps }

// AppendToRuleKey implements rulekey.KeyableRule by delegating to the
// rule-type-specific procedure captured at construction (§6
// "append-to-rule-key(sink)").
func (r *Rule) AppendToRuleKey(sink *rulekey.Sink) {
	if r.appendKey != nil {
		r.appendKey(sink)
	}
}

// IsCacheable reports whether this rule participates in artifact-cache
// fetch/store (§4.5 "Policy").
func (r *Rule) IsCacheable() bool { return r.cacheable }

// GetBuildSteps produces this rule's ordered steps via its Buildable
// (§6 "get-build-steps").
func (r *Rule) GetBuildSteps(ctx context.Context, bctx BuildContext, buildable BuildableContext) ([]Step, error) {
	return r.buildable.GetBuildSteps(ctx, bctx, buildable)
}

// Buildable exposes the rule's underlying Buildable so external packages
// can type-assert optional capabilities against it (§9 "capability-set
// polymorphism"), e.g. package remoteexec's RemotableBuildable.
func (r *Rule) Buildable() Buildable { return r.buildable }

// SourcePathToOutput implements the optional SourcePathOutputter capability
// when the underlying Buildable supports it.
func (r *Rule) SourcePathToOutput(name string) (target.SourcePath, bool) {
	if spo, ok := r.buildable.(SourcePathOutputter); ok {
		return spo.SourcePathToOutput(name)
	}
	return target.SourcePath{}, false
}
