// Package outputpath implements §4.3's output-path layout: every rule's
// generated outputs live under a hash-qualified directory so two builds
// of the same target with different rule keys never collide, and each
// rule gets a scratch directory for intermediate, non-cached work.
//
// Grounded on the teacher's cli package, which derives a per-task work
// directory from the task name before invoking its command; outputpath
// generalizes that single flat "task name" namespace into the
// package/target/hash-qualified tree §4.3 describes, since a single
// flavor-less name is no longer enough once a build keys outputs by
// content-addressed rule key.
package outputpath

import (
	"path/filepath"

	"github.com/forgecell/forgeorch/internal/digest"
	"github.com/forgecell/forgeorch/internal/target"
)

// Paths is the resolved directory assignment for a single rule's
// execution (§4.3 "<out-root>/gen/<package>/<target-name>__<hash>/..." and
// "<out-root>/scratch/...").
type Paths struct {
	GenDir     string
	ScratchDir string
}

// For computes the gen and scratch directories for t's build under
// outRoot, qualified by its rule key so distinct rule keys for the same
// target never share a directory (§4.3 "Output-path collisions").
func For(outRoot string, t target.Target, key digest.Digest) *Paths {
	qualified := t.Name + "__" + key.String()[:16]
	return &Paths{
		GenDir:     filepath.Join(outRoot, "gen", t.Pkg, qualified),
		ScratchDir: filepath.Join(outRoot, "scratch", t.Pkg, qualified),
	}
}

// Resolve returns the absolute path of a relative output under this
// rule's gen directory.
func (p *Paths) Resolve(relative string) string {
	return filepath.Join(p.GenDir, relative)
}

// UpdateLastOutputLink maintains a stable "<target-name>__last" symlink
// inside the package's gen directory pointing at the most recently built
// hash-qualified directory, so tools and humans can find a target's
// current output without knowing its rule key.
func (p *Paths) UpdateLastOutputLink(outRoot string, t target.Target, symlinker func(target, link string) error) error {
	link := filepath.Join(outRoot, "gen", t.Pkg, t.Name+"__last")
	return symlinker(p.GenDir, link)
}
