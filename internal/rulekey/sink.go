// Package rulekey implements the deterministic fingerprinting contract of
// §4.2: key-of(rule) folds together a rule's target identity, every
// key-contributing field (via the explicit builder methods below, per the
// §9 design note replacing annotation-driven field marking), the content
// hash of every source-path input, and the rule keys of direct build
// dependencies.
//
// The binary encoding for each recognized shape is grounded on the
// teacher's internal/incremental package, which already implements exactly
// this kind of length-prefixed, sorted, creation-order-independent
// deterministic encoding for invalidation reasons; rulekey generalizes that
// scheme to the shapes §4.2 names as recognized: primitives, ordered
// sequences, unordered collections, mappings, optionals, path-like inputs,
// and rule references.
package rulekey

import (
	"encoding/binary"
	"sort"

	"github.com/forgecell/forgeorch/internal/digest"
	"github.com/forgecell/forgeorch/internal/target"
)

// tag bytes distinguish field shapes inside the hash stream so that, e.g.,
// an empty string and an empty list never collide.
const (
	tagString  byte = 1
	tagBool    byte = 2
	tagInt64   byte = 3
	tagList    byte = 4
	tagSet     byte = 5
	tagMap     byte = 6
	tagOption  byte = 7
	tagPath    byte = 8
	tagDepKey  byte = 9
	tagFieldID byte = 0xF0
)

// Sink accumulates a rule's key-contributing fields in registration order.
// Field insertion order is significant and forms part of the digest (§9
// Open Question, resolved per the recommended contract: "field insertion
// order is significant").
//
// Every method here corresponds to exactly one of §4.2's "Recognized
// shapes". There is deliberately no generic "hash this opaque value"
// method: a rule author who needs to contribute a field whose shape isn't
// one of these must call Unsupported, which fails the rule at key-sink
// time instead of silently hashing something by accident (§4.2 "do not
// silently hash opaque objects").
type Sink struct {
	h        *digest.Hasher
	resolver target.Resolver
	depKeys  map[target.Target]digest.Digest
	target   target.Target
	field    string // current field name, for Unsupported's error message
	err      *FieldError
}

// FieldError reports a field that refused to hash, naming both the owning
// target and the field (§4.2 "A field that refuses to hash ... is reported
// with the target and field name").
type FieldError struct {
	Target target.Target
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return "rulekey: " + e.Target.String() + "." + e.Field + ": " + e.Reason
}

func newSink(t target.Target, resolver target.Resolver, depKeys map[target.Target]digest.Digest) *Sink {
	return &Sink{h: digest.NewHasher(), resolver: resolver, depKeys: depKeys, target: t}
}

func (s *Sink) fail(field, reason string) {
	if s.err == nil {
		s.err = &FieldError{Target: s.target, Field: field, Reason: reason}
	}
}

func (s *Sink) writeFieldHeader(tag byte, name string) {
	s.h.Write([]byte{tagFieldID, tag})
	writeLenString(s.h, name)
}

// Unsupported fails the rule's key computation, naming field as the
// culprit. Call this from AppendToRuleKey when a field's shape cannot be
// expressed with the typed methods below.
func (s *Sink) Unsupported(field, reason string) {
	s.fail(field, reason)
}

// HashString contributes a primitive string field.
func (s *Sink) HashString(name, value string) {
	if s.err != nil {
		return
	}
	s.writeFieldHeader(tagString, name)
	writeLenString(s.h, value)
}

// HashBool contributes a primitive bool field.
func (s *Sink) HashBool(name string, value bool) {
	if s.err != nil {
		return
	}
	s.writeFieldHeader(tagBool, name)
	if value {
		s.h.Write([]byte{1})
	} else {
		s.h.Write([]byte{0})
	}
}

// HashInt64 contributes a primitive integer field.
func (s *Sink) HashInt64(name string, value int64) {
	if s.err != nil {
		return
	}
	s.writeFieldHeader(tagInt64, name)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(value))
	s.h.Write(buf[:])
}

// HashStringList contributes an ordered sequence: length-prefix then each
// element in caller-supplied order (§4.2 "ordered sequences").
func (s *Sink) HashStringList(name string, values []string) {
	if s.err != nil {
		return
	}
	s.writeFieldHeader(tagList, name)
	writeLen(s.h, len(values))
	for _, v := range values {
		writeLenString(s.h, v)
	}
}

// HashStringSet contributes an unordered collection: elements are sorted by
// a total order of their own digests before hashing, so creation order
// never affects the result (§4.2 "unordered collections").
func (s *Sink) HashStringSet(name string, values []string) {
	if s.err != nil {
		return
	}
	s.writeFieldHeader(tagSet, name)

	elemDigests := make([]digest.Digest, len(values))
	for i, v := range values {
		elemDigests[i] = digest.Of([]byte(v))
	}
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return lessDigest(elemDigests[order[i]], elemDigests[order[j]])
	})

	writeLen(s.h, len(values))
	for _, idx := range order {
		writeLenString(s.h, values[idx])
	}
}

// HashStringMap contributes a mapping: entries sorted by key digest, then
// each (key-digest, value-digest) pair hashed in that order (§4.2
// "mappings").
func (s *Sink) HashStringMap(name string, m map[string]string) {
	if s.err != nil {
		return
	}
	s.writeFieldHeader(tagMap, name)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return lessDigest(digest.Of([]byte(keys[i])), digest.Of([]byte(keys[j])))
	})

	writeLen(s.h, len(keys))
	for _, k := range keys {
		kd := digest.Of([]byte(k))
		vd := digest.Of([]byte(m[k]))
		s.h.Write(kd[:])
		s.h.Write(vd[:])
	}
}

// HashOptionalString contributes an optional value: a presence bit followed
// by the inner encoding when present (§4.2 "optional values").
func (s *Sink) HashOptionalString(name string, value *string) {
	if s.err != nil {
		return
	}
	s.writeFieldHeader(tagOption, name)
	if value == nil {
		s.h.Write([]byte{0})
		return
	}
	s.h.Write([]byte{1})
	writeLenString(s.h, *value)
}

// HashPath contributes a path-like input, resolved to its content hash —
// never its filesystem path (§4.2 "path-like inputs").
func (s *Sink) HashPath(name string, sp target.SourcePath) {
	if s.err != nil {
		return
	}
	if s.resolver == nil {
		s.fail(name, "no path resolver available for key computation")
		return
	}
	content, err := s.resolver.ContentHash(sp)
	if err != nil {
		s.fail(name, "resolving content hash: "+err.Error())
		return
	}
	s.writeFieldHeader(tagPath, name)
	s.h.Write(content[:])
}

// HashDeps contributes rule references, replaced by key-of(referenced-rule)
// for each dependency (§4.2 "rule references"). Direct build dependencies'
// keys must already have been resolved by the engine before
// AppendToRuleKey runs (§4.4 ordering guarantee); any dependency target
// without a precomputed key fails this field.
func (s *Sink) HashDeps(name string, deps []target.Target) {
	if s.err != nil {
		return
	}
	s.writeFieldHeader(tagDepKey, name)
	writeLen(s.h, len(deps))

	sorted := make([]target.Target, len(deps))
	copy(sorted, deps)
	target.SortTargets(sorted)

	for _, dep := range sorted {
		dk, ok := s.depKeys[dep]
		if !ok {
			s.fail(name, "no precomputed rule key for dependency "+dep.String())
			return
		}
		s.h.Write(dk[:])
	}
}

func writeLen(h *digest.Hasher, n int) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	h.Write(buf[:])
}

func writeLenString(h *digest.Hasher, s string) {
	writeLen(h, len(s))
	h.Write([]byte(s))
}

func lessDigest(a, b digest.Digest) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
