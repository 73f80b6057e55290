package target

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for errors.Is()-based programmatic checks, grounded on
// the teacher's internal/graph sentinel-error pattern.
var (
	// ErrCycle indicates the target graph contains a dependency cycle.
	ErrCycle = errors.New("target graph cycle")
	// ErrMissingDependency indicates a node references an unresolved target.
	ErrMissingDependency = errors.New("missing dependency")
	// ErrDuplicateTarget indicates two nodes share the same identity.
	ErrDuplicateTarget = errors.New("duplicate target")
)

// CycleError names every target participating in the detected cycle
// (§4.1 "a fatal error that names the participating targets").
type CycleError struct {
	Cycle []Target
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, t := range e.Cycle {
		parts[i] = t.String()
	}
	return fmt.Sprintf("%s: %s", ErrCycle.Error(), strings.Join(parts, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// MissingDependencyError names both the referring target and the
// unresolved reference (§4.1 "naming the referring target and the
// unresolved reference").
type MissingDependencyError struct {
	Referrer  Target
	Reference Target
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("%s: %s references unresolved target %s", ErrMissingDependency.Error(), e.Referrer, e.Reference)
}

func (e *MissingDependencyError) Unwrap() error { return ErrMissingDependency }

// DuplicateTargetError names the target declared more than once.
type DuplicateTargetError struct {
	Target Target
}

func (e *DuplicateTargetError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicateTarget.Error(), e.Target)
}

func (e *DuplicateTargetError) Unwrap() error { return ErrDuplicateTarget }
