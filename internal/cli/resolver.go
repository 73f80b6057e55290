package cli

import (
	"fmt"

	"github.com/forgecell/forgeorch/internal/digest"
	"github.com/forgecell/forgeorch/internal/rule"
	"github.com/forgecell/forgeorch/internal/rulekey"
	"github.com/forgecell/forgeorch/internal/target"
)

// fsSourceResolver implements target.Resolver over a rule.FilesystemAbstraction
// and a cell-name -> root mapping (§6 filesystem abstraction contract,
// §4.2 "path-like inputs: resolved to their content hash").
type fsSourceResolver struct {
	fs        rule.FilesystemAbstraction
	cellRoots map[string]string
}

func (r fsSourceResolver) Resolve(sp target.SourcePath) (string, error) {
	if out, ok := sp.OutputOf(); ok {
		return "", fmt.Errorf("cli: cannot resolve output of %s to a plain path outside a build", out)
	}
	return r.fs.Resolve(sp.CellRelative())
}

func (r fsSourceResolver) ContentHash(sp target.SourcePath) ([32]byte, error) {
	abs, err := r.Resolve(sp)
	if err != nil {
		return [32]byte{}, err
	}
	data, err := r.fs.ReadBytes(abs)
	if err != nil {
		return [32]byte{}, err
	}
	return digest.Of(data), nil
}

func rulekeyEngine(bctx rule.BuildContext) *rulekey.Engine {
	return rulekey.NewEngine(fsSourceResolver{fs: bctx.Filesystem, cellRoots: bctx.CellPaths})
}
