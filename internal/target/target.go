// Package target implements the canonical identity of a configurable build
// unit (§3 "Build Target") and the source-path reference type (§3 "Source
// Path"). Grounded on the teacher's internal/graph package: Target plays the
// role graph.Node played, but with the five-component identity the spec
// requires instead of a bare string ID.
package target

import (
	"sort"
	"strings"
)

// flavorSep joins flavors into Target's canonical comparable encoding. It
// must not appear inside any individual flavor; New and WithFlavor do not
// validate this since flavors come from trusted rule-definition code, not
// untrusted input.
const flavorSep = "\x00"

// Target is the canonical identity of a configurable build unit: a
// (cell, package path, short name, flavor set, configuration) tuple.
// Two Targets are equal iff all five components are equal (§3).
//
// Flavors are stored as a single NUL-joined string rather than a []string
// field so that Target remains a comparable type usable directly as a map
// key (§3 "Targets are comparable by a total order") — every action-graph
// and rule-key index in this module keys maps by Target.
type Target struct {
	Cell    string
	Pkg     string
	Name    string
	flavors string // NUL-joined ordered flavor tags; use Flavors() to read
	Config  string // configuration/platform identifier
}

// New constructs a Target, preserving flavor order (flavors are an
// *ordered* set per §3 — duplicates are not collapsed here because
// duplicate flavors are a caller bug, not a normalization concern).
func New(cell, pkg, name string, flavors []string, config string) Target {
	return Target{Cell: cell, Pkg: pkg, Name: name, flavors: strings.Join(flavors, flavorSep), Config: config}
}

// Flavors returns the target's ordered flavor tags.
func (t Target) Flavors() []string {
	if t.flavors == "" {
		return nil
	}
	return strings.Split(t.flavors, flavorSep)
}

// WithFlavor returns a copy of t with an additional flavor appended,
// used by the action graph builder when deriving synthetic sub-targets
// (§4.3 "Auxiliary-rule creation").
func (t Target) WithFlavor(flavor string) Target {
	if t.flavors == "" {
		t.flavors = flavor
	} else {
		t.flavors = t.flavors + flavorSep + flavor
	}
	return t
}

// Equal reports whether t and o share all five identity components.
func (t Target) Equal(o Target) bool {
	return t.Compare(o) == 0
}

// Compare implements the total order over Targets used for deterministic
// tie-breaking in hashing and traversal (§3 "Targets are comparable by a
// total order").
func (t Target) Compare(o Target) int {
	if c := strings.Compare(t.Cell, o.Cell); c != 0 {
		return c
	}
	if c := strings.Compare(t.Pkg, o.Pkg); c != 0 {
		return c
	}
	if c := strings.Compare(t.Name, o.Name); c != 0 {
		return c
	}
	if c := strings.Compare(t.Config, o.Config); c != 0 {
		return c
	}
	tf, of := t.Flavors(), o.Flavors()
	la, lb := len(tf), len(of)
	for i := 0; i < la && i < lb; i++ {
		if c := strings.Compare(tf[i], of[i]); c != 0 {
			return c
		}
	}
	if la != lb {
		if la < lb {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether t sorts before o under Compare; a convenience for
// sort.Slice call sites.
func (t Target) Less(o Target) bool { return t.Compare(o) < 0 }

// String renders the target in "cell//pkg:name[flavor1,flavor2](config)"
// form, used in error messages (§4.1 "a fatal error that names the
// participating targets") and --show-output/--show-rulekey CLI output.
func (t Target) String() string {
	var b strings.Builder
	if t.Cell != "" {
		b.WriteString(t.Cell)
	}
	b.WriteString("//")
	b.WriteString(t.Pkg)
	b.WriteString(":")
	b.WriteString(t.Name)
	if tf := t.Flavors(); len(tf) > 0 {
		b.WriteString("[")
		b.WriteString(strings.Join(tf, ","))
		b.WriteString("]")
	}
	if t.Config != "" {
		b.WriteString("(")
		b.WriteString(t.Config)
		b.WriteString(")")
	}
	return b.String()
}

// SortTargets sorts ts in place using the total order from Compare.
func SortTargets(ts []Target) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Less(ts[j]) })
}

// SourcePath is a reference to a file that is either a plain path relative
// to a cell root, or a target's output (§3 "Source Path"). It carries an
// implicit build dependency in the latter case. SourcePath is never an
// absolute path — §3 explicitly forbids absolute paths in rule inputs, so
// construction rejects them. Paths are stored as given, not normalized.
type SourcePath struct {
	cellRelative string  // set when this is a plain cell-relative path
	producedBy   *Target // set when this path is a target's output
	outputName   string  // the specific output name, when producedBy is set
}

// FromCell constructs a SourcePath relative to a cell root. Returns an error
// if p is absolute.
func FromCell(p string) (SourcePath, error) {
	if strings.HasPrefix(p, "/") {
		return SourcePath{}, ErrAbsolutePath{Path: p}
	}
	return SourcePath{cellRelative: p}, nil
}

// FromOutput constructs a SourcePath referencing a named output of t.
func FromOutput(t Target, outputName string) SourcePath {
	tt := t
	return SourcePath{producedBy: &tt, outputName: outputName}
}

// IsOutput reports whether this path references a target's output rather
// than a plain cell-relative file.
func (sp SourcePath) IsOutput() bool { return sp.producedBy != nil }

// OutputOf returns the target producing this path and whether it is set.
func (sp SourcePath) OutputOf() (Target, bool) {
	if sp.producedBy == nil {
		return Target{}, false
	}
	return *sp.producedBy, true
}

// OutputName returns the declared output name when IsOutput is true.
func (sp SourcePath) OutputName() string { return sp.outputName }

// CellRelative returns the cell-relative path when IsOutput is false.
func (sp SourcePath) CellRelative() string { return sp.cellRelative }

// Resolver resolves SourcePaths to absolute filesystem locations and
// content hashes, implemented by an external collaborator per §6's
// filesystem abstraction. The rule-key engine never resolves paths itself
// other than through this interface (§4.2 "path-like inputs: resolved to
// their content hash").
type Resolver interface {
	// Resolve returns the absolute path for sp in the context of its cell.
	Resolve(sp SourcePath) (string, error)
	// ContentHash returns the content digest of sp's current bytes.
	ContentHash(sp SourcePath) ([32]byte, error)
}

// ErrAbsolutePath is returned when a caller attempts to construct a
// SourcePath from an absolute path, forbidden by §3.
type ErrAbsolutePath struct{ Path string }

func (e ErrAbsolutePath) Error() string {
	return "target: absolute paths are forbidden in rule inputs: " + e.Path
}
