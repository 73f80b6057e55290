package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/forgecell/forgeorch/internal/config"
	"github.com/forgecell/forgeorch/internal/rule"
	"github.com/forgecell/forgeorch/internal/target"
)

func TestExitCode_MapsKnownErrorTypes(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCode(nil))
	assert.Equal(t, ExitParseError, ExitCode(&ParseError{Message: "no such target //foo:bar"}))
	assert.Equal(t, ExitConfigError, ExitCode(&ConfigError{Err: errors.New("boom")}))
	assert.Equal(t, ExitCommandLineError, ExitCode(&CommandLineError{Message: "bad flag"}))
	assert.Equal(t, ExitBuildFailure, ExitCode(&BuildError{Err: errors.New("rule failed")}))
	assert.Equal(t, ExitBuildFailure, ExitCode(errors.New("unrecognized")))
}

func TestNewRootCmd_RequiresAtLeastOneTarget(t *testing.T) {
	root := NewRootCmd(stubResolver{})
	root.SetArgs([]string{})
	err := root.Execute()
	assert.Error(t, err)
	var cmdLineErr *CommandLineError
	assert.ErrorAs(t, err, &cmdLineErr)
}

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, targetPatterns []string, opts Options, cfg config.Config) ([]*rule.Rule, []target.Target, rule.BuildContext, error) {
	return nil, nil, rule.BuildContext{}, nil
}
