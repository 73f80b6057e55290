package ruledesc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgecell/forgeorch/internal/actiongraph"
	"github.com/forgecell/forgeorch/internal/cache"
	"github.com/forgecell/forgeorch/internal/rule"
	"github.com/forgecell/forgeorch/internal/rulekey"
	"github.com/forgecell/forgeorch/internal/scheduler"
	"github.com/forgecell/forgeorch/internal/step"
	"github.com/forgecell/forgeorch/internal/target"
)

func TestWriteFileDescription_DepthThreeChainBuildsAndPropagates(t *testing.T) {
	leaf := target.New("", "pkg", "leaf", nil, "")
	mid := target.New("", "pkg", "mid", nil, "")
	root := target.New("", "pkg", "root", nil, "")

	nodes := []target.Node{
		{Identity: leaf, RuleType: "writefile", RawArgs: WriteFileArgs{Contents: "leaf"}},
		{Identity: mid, RuleType: "writefile", RawArgs: WriteFileArgs{Contents: "mid"}, Deps: []target.Target{leaf}},
		{Identity: root, RuleType: "writefile", RawArgs: WriteFileArgs{Contents: "root"}, Deps: []target.Target{mid}},
	}

	g, err := target.Build(nodes)
	require.NoError(t, err)

	builder := actiongraph.NewBuilder(g, map[string]actiongraph.Description{"writefile": WriteFileDescription{}})
	rootRule, err := builder.Require(root)
	require.NoError(t, err)

	outRoot := t.TempDir()
	fs := step.OSFilesystem{Root: outRoot}
	bctx := bctxFor(fs, outRoot)

	keyEngine := rulekey.NewEngine(nil)
	artifacts := cache.NewFileCache(filepath.Join(outRoot, "cache"))
	sched := scheduler.New(builder.Rules(), keyEngine, artifacts, nil, nil, bctx, 4)

	outcomes, err := sched.BuildAll(context.Background(), []target.Target{rootRule.Identity()})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.NoError(t, outcomes[0].Err)
}

func TestWriteFileDescription_CycleIsRejectedAtGraphConstruction(t *testing.T) {
	a := target.New("", "pkg", "a", nil, "")
	b := target.New("", "pkg", "b", nil, "")

	_, err := target.Build([]target.Node{
		{Identity: a, RuleType: "writefile", RawArgs: WriteFileArgs{Contents: "a"}, Deps: []target.Target{b}},
		{Identity: b, RuleType: "writefile", RawArgs: WriteFileArgs{Contents: "b"}, Deps: []target.Target{a}},
	})
	require.Error(t, err)
}

func TestWriteFileDescription_WideFanOutAllBuild(t *testing.T) {
	const n = 100
	shared := target.New("", "pkg", "shared", nil, "")
	nodes := []target.Node{
		{Identity: shared, RuleType: "writefile", RawArgs: WriteFileArgs{Contents: "shared"}},
	}

	var roots []target.Target
	for i := 0; i < n; i++ {
		name := "leaf" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		id := target.New("", "pkg", name, nil, "")
		nodes = append(nodes, target.Node{
			Identity: id,
			RuleType: "writefile",
			RawArgs:  WriteFileArgs{Contents: name},
			Deps:     []target.Target{shared},
		})
		roots = append(roots, id)
	}

	g, err := target.Build(nodes)
	require.NoError(t, err)

	builder := actiongraph.NewBuilder(g, map[string]actiongraph.Description{"writefile": WriteFileDescription{}})
	for _, r := range roots {
		_, err := builder.Require(r)
		require.NoError(t, err)
	}

	outRoot := t.TempDir()
	fs := step.OSFilesystem{Root: outRoot}
	bctx := bctxFor(fs, outRoot)
	keyEngine := rulekey.NewEngine(nil)
	artifacts := cache.NewFileCache(filepath.Join(outRoot, "cache"))
	sched := scheduler.New(builder.Rules(), keyEngine, artifacts, nil, nil, bctx, 8)

	outcomes, err := sched.BuildAll(context.Background(), roots)
	require.NoError(t, err)
	assert.Len(t, outcomes, n)
	for _, o := range outcomes {
		assert.NoError(t, o.Err)
	}
}

func bctxFor(fs step.OSFilesystem, outRoot string) rule.BuildContext {
	return rule.BuildContext{Filesystem: fs, OutputRoot: outRoot}
}
