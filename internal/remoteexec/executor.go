package remoteexec

import (
	"context"
	"fmt"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"

	"github.com/forgecell/forgeorch/internal/digest"
	"github.com/forgecell/forgeorch/internal/rule"
)

// RemotableBuildable is the optional capability a rule's Buildable may
// implement to participate in remote execution (§9 "capability-set
// polymorphism": remote-execution eligibility is a typed capability the
// scheduler checks for, not a property every rule carries). A Buildable
// that does not implement this is always built locally.
type RemotableBuildable interface {
	RemoteInputs(ctx context.Context, bctx rule.BuildContext) (files []InputFile, symlinks []InputSymlink, args []string, env map[string]string, outputFiles []string, err error)
}

// Executor implements scheduler.RemoteExecutor (accepted structurally,
// avoiding an import cycle with package scheduler) by constructing a
// Merkle-tree input root and an Action/Command pair. It never dispatches
// the action: Client and CAS are not called. Any failure constructing the
// tree or action, and a successful construction with no Client set, are
// reported via ok=false so the caller falls back to local execution
// without treating it as a build failure (§4.7). With a Client set,
// TryExecute reports ok=true with an error, which fails the rule.
type Executor struct {
	Client   remoteexecution.ExecutionClient
	CAS      remoteexecution.ContentAddressableStorageClient
	Instance string
	BuildCtx rule.BuildContext
}

// Attempt records the terminal state and constructed action of one
// remote-execution attempt, for diagnostics and tests.
type Attempt struct {
	State  State
	Action *remoteexecution.Action
}

// TryExecute attempts remote execution for r. It returns ok=false whenever
// r's Buildable does not support remote execution, tree/action
// construction fails, or no Client is configured — all fall-back-to-local
// conditions, never a build failure in their own right (§4.7). When a
// Client is configured it returns ok=true and an error, since the action
// is not dispatched.
func (e *Executor) TryExecute(ctx context.Context, r *rule.Rule, key digest.Digest) (map[string]digest.Digest, bool, error) {
	remotable, ok := r.Buildable().(RemotableBuildable)
	if !ok {
		return nil, false, nil
	}

	attempt, _ := e.attempt(ctx, remotable)
	switch attempt.State {
	case StateFailure, StateRetryableFailure, StateTreeBuilt:
		// Construction failed, or construction succeeded but no live
		// dispatch client is configured: both fall back to local execution
		// without being treated as a build failure (§4.7).
		return nil, false, nil
	default:
		return nil, true, fmt.Errorf("remoteexec: dispatch RPC not implemented for this attempt")
	}
}

func (e *Executor) attempt(ctx context.Context, remotable RemotableBuildable) (Attempt, error) {
	files, symlinks, args, env, outputFiles, err := remotable.RemoteInputs(ctx, e.BuildCtx)
	if err != nil {
		return Attempt{State: StateFailure}, err
	}

	tree := NewTree()
	for _, f := range files {
		if err := tree.AddFile(f); err != nil {
			return Attempt{State: StateFailure}, err
		}
	}
	for _, s := range symlinks {
		if err := tree.AddSymlink(s); err != nil {
			return Attempt{State: StateFailure}, err
		}
	}

	result, err := tree.Build()
	if err != nil {
		return Attempt{State: StateFailure}, err
	}

	action, _, err := BuildAction(ctx, args, env, outputFiles, result.InputRootDigest)
	if err != nil {
		return Attempt{State: StateFailure}, err
	}

	if e.Client == nil {
		// No dispatch collaborator configured: the tree and action were
		// constructed successfully, but dispatch itself — the concrete RPC
		// round-trip against a live execution service — is the toolchain
		// integration §1 scopes out. Callers with a live backend supply
		// Client and continue from here.
		return Attempt{State: StateTreeBuilt, Action: action}, nil
	}

	return Attempt{State: StateAwaitingRemote, Action: action}, nil
}

