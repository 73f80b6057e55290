package scheduler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgecell/forgeorch/internal/cache"
	"github.com/forgecell/forgeorch/internal/digest"
	"github.com/forgecell/forgeorch/internal/rule"
	"github.com/forgecell/forgeorch/internal/rulekey"
	"github.com/forgecell/forgeorch/internal/step"
	"github.com/forgecell/forgeorch/internal/target"
)

// writeFileBuildable is a minimal stand-in rule type exercising the
// scheduler end-to-end without depending on internal/ruledesc (kept for
// the CLI's smoke scenarios).
type writeFileBuildable struct {
	contents string
}

func (w writeFileBuildable) GetBuildSteps(ctx context.Context, bctx rule.BuildContext, buildable rule.BuildableContext) ([]rule.Step, error) {
	return []rule.Step{
		step.Write{Path: filepath.Join(buildable.GenDir, "out.txt"), Contents: []byte(w.contents)},
	}, nil
}

func newWriteFileRule(name, contents string, deps []*rule.Rule) *rule.Rule {
	identity := target.New("", "pkg", name, nil, "")
	r := rule.New(identity, deps, writeFileBuildable{contents: contents}, true, func(sink *rulekey.Sink) {
		sink.HashString("contents", contents)
	})
	return r.WithOutputRecorder(func(rec rule.OutputRecorder) {
		rec.RecordOutput("out.txt", digest.Of([]byte(contents)))
	})
}

func TestScheduler_BuildsChainAndCachesSecondRun(t *testing.T) {
	leaf := newWriteFileRule("leaf", "leaf-data", nil)
	root := newWriteFileRule("root", "root-data", []*rule.Rule{leaf})

	outRoot := t.TempDir()
	fs := step.OSFilesystem{Root: outRoot}
	bctx := rule.BuildContext{Filesystem: fs, OutputRoot: outRoot}

	artifacts := cache.NewFileCache(filepath.Join(outRoot, "cache"))
	keyEngine := rulekey.NewEngine(nil)

	sched := New([]*rule.Rule{leaf, root}, keyEngine, artifacts, nil, nil, bctx, 4)
	outcomes, err := sched.BuildAll(context.Background(), []target.Target{root.Identity()})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.NoError(t, outcomes[0].Err)
	assert.False(t, outcomes[0].FromCache)

	// A second scheduler over the same rules and cache should hit on the
	// root rule's key (§8 "Cache round-trip").
	keyEngine2 := rulekey.NewEngine(nil)
	sched2 := New([]*rule.Rule{leaf, root}, keyEngine2, artifacts, nil, nil, bctx, 4)
	outcomes2, err := sched2.BuildAll(context.Background(), []target.Target{root.Identity()})
	require.NoError(t, err)
	require.Len(t, outcomes2, 1)
	assert.NoError(t, outcomes2[0].Err)
	assert.True(t, outcomes2[0].FromCache)
}

func TestScheduler_DependencyFailureSkipsDependents(t *testing.T) {
	failing := rule.New(target.New("", "pkg", "failing", nil, ""), nil, failBuildable{}, false, func(sink *rulekey.Sink) {
		sink.HashString("tag", "fail")
	})
	root := newWriteFileRule("dependent", "data", []*rule.Rule{failing})

	outRoot := t.TempDir()
	fs := step.OSFilesystem{Root: outRoot}
	bctx := rule.BuildContext{Filesystem: fs, OutputRoot: outRoot}
	artifacts := cache.NewFileCache(filepath.Join(outRoot, "cache"))
	keyEngine := rulekey.NewEngine(nil)

	sched := New([]*rule.Rule{failing, root}, keyEngine, artifacts, nil, nil, bctx, 2)
	outcomes, err := sched.BuildAll(context.Background(), []target.Target{root.Identity()})
	require.Error(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Skipped)
}

type failBuildable struct{}

func (failBuildable) GetBuildSteps(ctx context.Context, bctx rule.BuildContext, buildable rule.BuildableContext) ([]rule.Step, error) {
	return []rule.Step{failStep{}}, nil
}

type failStep struct{}

func (failStep) ShortName() string                         { return "fail" }
func (failStep) Description(ctx context.Context) string     { return "always fails" }
func (failStep) Execute(ctx context.Context) (rule.StepResult, error) {
	return rule.StepResult{Success: false, ExitCode: 1}, nil
}
