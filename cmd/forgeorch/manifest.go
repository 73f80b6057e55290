package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/forgecell/forgeorch/internal/actiongraph"
	"github.com/forgecell/forgeorch/internal/cli"
	"github.com/forgecell/forgeorch/internal/config"
	"github.com/forgecell/forgeorch/internal/rule"
	"github.com/forgecell/forgeorch/internal/ruledesc"
	"github.com/forgecell/forgeorch/internal/target"
)

// manifestNode is the on-disk shape of one target in forgeorch.json, a
// flat manifest format for the bundled "writefile" rule description — not
// a query language (§1's excluded surface), just enough declarative input
// to drive a smoke-test build from the CLI binary.
type manifestNode struct {
	Name     string   `json:"name"`
	Pkg      string   `json:"pkg"`
	Deps     []string `json:"deps"`
	Contents string   `json:"contents"`
}

// manifestResolver implements cli.Resolver by reading forgeorch.json from
// the current directory and constructing "writefile" rules for the
// requested target names.
type manifestResolver struct{}

var _ cli.Resolver = manifestResolver{}

func (manifestResolver) Resolve(ctx context.Context, targetPatterns []string, opts cli.Options, cfg config.Config) ([]*rule.Rule, []target.Target, rule.BuildContext, error) {
	raw, err := os.ReadFile("forgeorch.json")
	if err != nil {
		return nil, nil, rule.BuildContext{}, fmt.Errorf("reading forgeorch.json: %w", err)
	}
	var nodes []manifestNode
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, nil, rule.BuildContext{}, fmt.Errorf("parsing forgeorch.json: %w", err)
	}

	byName := make(map[string]target.Target, len(nodes))
	var graphNodes []target.Node
	for _, n := range nodes {
		id := target.New("", n.Pkg, n.Name, nil, "")
		byName[n.Name] = id
	}
	for _, n := range nodes {
		id := byName[n.Name]
		var deps []target.Target
		for _, d := range n.Deps {
			dep, ok := byName[d]
			if !ok {
				return nil, nil, rule.BuildContext{}, fmt.Errorf("forgeorch.json: %s depends on undeclared target %s", n.Name, d)
			}
			deps = append(deps, dep)
		}
		graphNodes = append(graphNodes, target.Node{
			Identity: id,
			RuleType: "writefile",
			RawArgs:  ruledesc.WriteFileArgs{Contents: n.Contents},
			Deps:     deps,
		})
	}

	g, err := target.Build(graphNodes)
	if err != nil {
		return nil, nil, rule.BuildContext{}, err
	}

	builder := actiongraph.NewBuilder(g, map[string]actiongraph.Description{"writefile": ruledesc.WriteFileDescription{}})

	var roots []target.Target
	for _, pattern := range targetPatterns {
		id, ok := byName[pattern]
		if !ok {
			return nil, nil, rule.BuildContext{}, fmt.Errorf("unknown target %q", pattern)
		}
		if _, err := builder.Require(id); err != nil {
			return nil, nil, rule.BuildContext{}, err
		}
		roots = append(roots, id)
	}

	return builder.Rules(), roots, rule.BuildContext{}, nil
}
