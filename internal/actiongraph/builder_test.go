package actiongraph

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgecell/forgeorch/internal/rule"
	"github.com/forgecell/forgeorch/internal/target"
)

type countingDescription struct {
	calls int64
}

func (d *countingDescription) CreateRule(ctx *Context, node target.Node) (*rule.Rule, error) {
	atomic.AddInt64(&d.calls, 1)
	return rule.New(node.Identity, nil, noopBuildable{}, true, nil), nil
}

type noopBuildable struct{}

func (noopBuildable) GetBuildSteps(context.Context, rule.BuildContext, rule.BuildableContext) ([]rule.Step, error) {
	return nil, nil
}

func TestRequire_IdempotentUnderConcurrency(t *testing.T) {
	tg := target.New("", "pkg", "x", nil, "")
	g, err := target.Build([]target.Node{{Identity: tg, RuleType: "noop"}})
	require.NoError(t, err)

	desc := &countingDescription{}
	b := NewBuilder(g, map[string]Description{"noop": desc})

	const n = 50
	results := make([]*rule.Rule, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			r, err := b.Require(tg)
			require.NoError(t, err)
			results[i] = r
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, int64(1), desc.calls)
}

func TestRequire_UnsatisfiableDependency(t *testing.T) {
	g, err := target.Build(nil)
	require.NoError(t, err)
	b := NewBuilder(g, nil)

	_, err = b.Require(target.New("", "pkg", "missing", nil, ""))
	require.Error(t, err)
}
