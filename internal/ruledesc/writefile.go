// Package ruledesc provides a minimal, test-only rule description that
// drives the engine end to end through depth-3 dependency chains, wide
// fan-out and cycle rejection. Its single step always writes a file, so
// it never fails and never runs remotely; step-failure propagation is
// covered by the scheduler's own tests with a failing stand-in rule.
// It is deliberately not a rule-type catalog (§1 "no fixed
// catalog of rule types is part of this module's scope") — exactly one
// rule type, "writefile", exists here purely to drive the engine's own
// tests and a smoke-test CLI invocation.
package ruledesc

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/forgecell/forgeorch/internal/actiongraph"
	"github.com/forgecell/forgeorch/internal/digest"
	"github.com/forgecell/forgeorch/internal/rule"
	"github.com/forgecell/forgeorch/internal/rulekey"
	"github.com/forgecell/forgeorch/internal/step"
	"github.com/forgecell/forgeorch/internal/target"
)

// WriteFileArgs is the raw argument bundle for the "writefile" rule type:
// write Contents to OutputName ("out.txt" when empty). Dependencies'
// outputs are not read or copied; a dependency only orders the build and
// contributes its rule key.
type WriteFileArgs struct {
	OutputName string
	Contents   string
}

// WriteFileDescription implements actiongraph.Description for the
// "writefile" rule type.
type WriteFileDescription struct{}

var _ actiongraph.Description = WriteFileDescription{}

func (WriteFileDescription) CreateRule(ctx *actiongraph.Context, node target.Node) (*rule.Rule, error) {
	args, ok := node.RawArgs.(WriteFileArgs)
	if !ok {
		return nil, fmt.Errorf("ruledesc: writefile: target %s has no WriteFileArgs", node.Identity)
	}

	deps := make([]*rule.Rule, 0, len(node.Deps))
	for _, d := range node.Deps {
		dr, err := ctx.Builder.Require(d)
		if err != nil {
			return nil, err
		}
		deps = append(deps, dr)
	}

	outputName := args.OutputName
	if outputName == "" {
		outputName = "out.txt"
	}

	r := rule.New(node.Identity, deps, writeFileBuildable{identity: node.Identity, outputName: outputName, contents: args.Contents}, true, func(sink *rulekey.Sink) {
		sink.HashString("contents", args.Contents)
		sink.HashString("output_name", outputName)
		sink.HashDeps("deps", node.Deps)
	})

	return r.WithOutputRecorder(func(rec rule.OutputRecorder) {
		rec.RecordOutput(outputName, digest.Of([]byte(args.Contents)))
	}), nil
}

type writeFileBuildable struct {
	identity   target.Target
	outputName string
	contents   string
}

func (w writeFileBuildable) GetBuildSteps(ctx context.Context, bctx rule.BuildContext, buildable rule.BuildableContext) ([]rule.Step, error) {
	return []rule.Step{
		step.Write{Path: filepath.Join(buildable.GenDir, w.outputName), Contents: []byte(w.contents)},
	}, nil
}

func (w writeFileBuildable) DeclaredOutputs() []string {
	return []string{w.outputName}
}

func (w writeFileBuildable) SourcePathToOutput(name string) (target.SourcePath, bool) {
	if name != w.outputName {
		return target.SourcePath{}, false
	}
	return target.FromOutput(w.identity, name), true
}

