package actiongraph

import "errors"

// ErrUnsatisfiableDependency indicates a rule could not be constructed
// because its target is missing or of an unregistered rule type (§4.3
// "constructing a rule from an unsatisfiable dependency ... raises a
// human-readable error naming both endpoints").
var ErrUnsatisfiableDependency = errors.New("actiongraph: unsatisfiable dependency")

// ErrNilRule indicates a Description returned a nil Rule, a fatal
// implementation bug per §4.3 ("A description returning null is a fatal
// implementation bug").
var ErrNilRule = errors.New("actiongraph: description returned nil rule")
