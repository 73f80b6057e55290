package target

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkTarget(name string) Target {
	return New("", "pkg", name, nil, "")
}

func TestBuild_LinearChain(t *testing.T) {
	a := mkTarget("a")
	b := mkTarget("b")
	c := mkTarget("c")

	g, err := Build([]Node{
		{Identity: a, Deps: []Target{b}},
		{Identity: b, Deps: []Target{c}},
		{Identity: c},
	})
	require.NoError(t, err)

	order := g.TopoSorted()
	require.Len(t, order, 3)
	assert.True(t, indexOf(order, c) < indexOf(order, b))
	assert.True(t, indexOf(order, b) < indexOf(order, a))
}

func TestBuild_CycleDetected(t *testing.T) {
	x := mkTarget("x")
	y := mkTarget("y")

	_, err := Build([]Node{
		{Identity: x, Deps: []Target{y}},
		{Identity: y, Deps: []Target{x}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCycle))

	var cycleErr *CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.Contains(t, cycleErr.Cycle, x)
	assert.Contains(t, cycleErr.Cycle, y)
}

func TestBuild_MissingDependency(t *testing.T) {
	a := mkTarget("a")
	b := mkTarget("b")

	_, err := Build([]Node{
		{Identity: a, Deps: []Target{b}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingDependency))
}

func TestBuild_DuplicateTarget(t *testing.T) {
	a := mkTarget("a")
	_, err := Build([]Node{{Identity: a}, {Identity: a}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateTarget))
}

func TestSubgraph_ClosureOnly(t *testing.T) {
	a, b, c, d := mkTarget("a"), mkTarget("b"), mkTarget("c"), mkTarget("d")
	g, err := Build([]Node{
		{Identity: a, Deps: []Target{b}},
		{Identity: b, Deps: []Target{c}},
		{Identity: c},
		{Identity: d}, // unrelated
	})
	require.NoError(t, err)

	sub := g.Subgraph([]Target{a})
	targets := sub.Targets()
	assert.Len(t, targets, 3)
	for _, tg := range targets {
		assert.NotEqual(t, d, tg)
	}
}

func TestTarget_Compare_Deterministic(t *testing.T) {
	a1 := New("cell", "pkg", "a", []string{"shared"}, "linux")
	a2 := New("cell", "pkg", "a", []string{"shared"}, "linux")
	assert.True(t, a1.Equal(a2))

	b := New("cell", "pkg", "b", nil, "linux")
	assert.True(t, a1.Less(b))
}

func TestSourcePath_ForbidsAbsolute(t *testing.T) {
	_, err := FromCell("/etc/passwd")
	require.Error(t, err)
	var absErr ErrAbsolutePath
	require.True(t, errors.As(err, &absErr))
}

func indexOf(ts []Target, want Target) int {
	for i, t := range ts {
		if t.Equal(want) {
			return i
		}
	}
	return -1
}
