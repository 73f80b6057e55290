// Package step implements the concrete build-step kinds of §4.6: the
// small fixed vocabulary of actions a Buildable's GetBuildSteps can
// return (subprocess, copy, mkdir, write, symlink-tree), plus the
// environment-variable precedence merge and stale-output cleanup walk.
//
// Grounded on the teacher's internal/dag executor, which runs a Task's
// Command via os/exec and reports StepResult-shaped success/exit-code/
// stderr; step generalizes that single "run a command" primitive into
// the small closed set of step kinds §4.6 names.
package step

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/karrick/godirwalk"

	"github.com/forgecell/forgeorch/internal/rule"
)

// EnvLayer is one precedence tier of environment variables, merged
// low-to-high in the order: process-inherited < platform-default <
// rule-scoped < tool-scoped.
type EnvLayer map[string]string

// MergeEnv merges layers in increasing precedence (later layers win) and
// returns a sorted KEY=VALUE slice suitable for exec.Cmd.Env.
func MergeEnv(layers ...EnvLayer) []string {
	merged := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

// ProcessEnv returns os.Environ() as an EnvLayer, the lowest-precedence
// tier.
func ProcessEnv() EnvLayer {
	layer := make(EnvLayer)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				layer[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return layer
}

// Subprocess runs an external command. If ArgfileSupport is set and the
// combined argument length would exceed ArgfileThreshold, the arguments
// are written to a temp file and invoked via "@file". A Subprocess
// contributes nothing to any rule key; the argfile settings reach a rule
// key only if the owning rule hashes them itself.
type Subprocess struct {
	Program         string
	Args            []string
	Env             []string
	WorkDir         string
	ArgfileSupport  bool
	ArgfileThreshold int // bytes; 0 means "never use an argfile"
}

func (s Subprocess) ShortName() string { return "subprocess " + s.Program }

func (s Subprocess) Description(ctx context.Context) string {
	return fmt.Sprintf("run %s %v", s.Program, s.Args)
}

// Execute implements rule.Step.
func (s Subprocess) Execute(ctx context.Context) (rule.StepResult, error) {
	args := s.Args
	cleanup := func() {}

	if s.ArgfileSupport && s.ArgfileThreshold > 0 && argsLen(args) > s.ArgfileThreshold {
		f, err := os.CreateTemp("", "forgeorch-argfile-*")
		if err != nil {
			return rule.StepResult{}, fmt.Errorf("step: creating argfile: %w", err)
		}
		for _, a := range args {
			fmt.Fprintln(f, a)
		}
		f.Close()
		cleanup = func() { os.Remove(f.Name()) }
		args = []string{"@" + f.Name()}
	}
	defer cleanup()

	cmd := exec.CommandContext(ctx, s.Program, args...)
	cmd.Env = s.Env
	cmd.Dir = s.WorkDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return rule.StepResult{}, fmt.Errorf("step: running %s: %w", s.Program, err)
		}
	}

	return rule.StepResult{
		Success:  exitCode == 0,
		ExitCode: exitCode,
		Stderr:   stderr.Bytes(),
	}, nil
}

func argsLen(args []string) int {
	n := 0
	for _, a := range args {
		n += len(a) + 1
	}
	return n
}

// Copy copies a single file from Src to Dst, creating parent directories
// as needed.
type Copy struct {
	Src, Dst string
}

func (c Copy) ShortName() string { return "copy" }

func (c Copy) Description(ctx context.Context) string {
	return fmt.Sprintf("copy %s -> %s", c.Src, c.Dst)
}

func (c Copy) Execute(ctx context.Context) (rule.StepResult, error) {
	if err := os.MkdirAll(filepath.Dir(c.Dst), 0o755); err != nil {
		return failResult(err)
	}
	in, err := os.Open(c.Src)
	if err != nil {
		return failResult(err)
	}
	defer in.Close()

	out, err := os.Create(c.Dst)
	if err != nil {
		return failResult(err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return failResult(err)
	}
	return rule.StepResult{Success: true}, nil
}

// Mkdir creates a directory tree.
type Mkdir struct {
	Path string
}

func (m Mkdir) ShortName() string { return "mkdir" }

func (m Mkdir) Description(ctx context.Context) string { return "mkdir -p " + m.Path }

func (m Mkdir) Execute(ctx context.Context) (rule.StepResult, error) {
	if err := os.MkdirAll(m.Path, 0o755); err != nil {
		return failResult(err)
	}
	return rule.StepResult{Success: true}, nil
}

// Write writes literal bytes to a path, creating parent directories.
type Write struct {
	Path     string
	Contents []byte
	Mode     os.FileMode
}

func (w Write) ShortName() string { return "write" }

func (w Write) Description(ctx context.Context) string {
	return fmt.Sprintf("write %d bytes to %s", len(w.Contents), w.Path)
}

func (w Write) Execute(ctx context.Context) (rule.StepResult, error) {
	if err := os.MkdirAll(filepath.Dir(w.Path), 0o755); err != nil {
		return failResult(err)
	}
	mode := w.Mode
	if mode == 0 {
		mode = 0o644
	}
	if err := os.WriteFile(w.Path, w.Contents, mode); err != nil {
		return failResult(err)
	}
	return rule.StepResult{Success: true}, nil
}

// SymlinkTree materializes a directory of symlinks pointing at a
// dependency's recorded outputs, the mechanism §4.6 calls the
// "symlink-tree" step (e.g. assembling a tool's runtime input layout
// without copying bytes).
type SymlinkTree struct {
	// Entries maps a relative path under Root to an absolute target.
	Entries map[string]string
	Root    string
}

func (s SymlinkTree) ShortName() string { return "symlink-tree" }

func (s SymlinkTree) Description(ctx context.Context) string {
	return fmt.Sprintf("symlink-tree %d entries under %s", len(s.Entries), s.Root)
}

func (s SymlinkTree) Execute(ctx context.Context) (rule.StepResult, error) {
	for rel, target := range s.Entries {
		dst := filepath.Join(s.Root, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return failResult(err)
		}
		os.Remove(dst) // a stale entry from a previous build must not block Symlink
		if err := os.Symlink(target, dst); err != nil {
			return failResult(err)
		}
	}
	return rule.StepResult{Success: true}, nil
}

func failResult(err error) (rule.StepResult, error) {
	return rule.StepResult{}, err
}

// CleanStaleOutputs removes files under root that are not present in
// keep, using godirwalk for the traversal (SPEC_FULL.md "Filesystem
// traversal"). This implements §4.6's "before re-running a rule's steps,
// outputs from a prior invocation that are no longer declared must be
// removed" requirement.
func CleanStaleOutputs(root string, keep map[string]struct{}) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}

	var toRemove []string
	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, osPathname)
			if err != nil {
				return err
			}
			if _, ok := keep[rel]; !ok {
				toRemove = append(toRemove, osPathname)
			}
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return fmt.Errorf("step: walking %s: %w", root, err)
	}

	for _, p := range toRemove {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("step: removing stale output %s: %w", p, err)
		}
	}
	return nil
}
