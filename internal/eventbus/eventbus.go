// Package eventbus implements the structured, thread-safe multi-producer
// event sink of §6 "Event bus": consumers subscribe by type, producers post
// events with monotonic timestamps.
//
// Grounded on the teacher's internal/pluginengine.HookEngine: that type
// already solves "dispatch to N independently-registered listeners, in a
// deterministic order, recovering panics and never letting listener errors
// escape into the caller" — exactly what §6 requires of the event bus.
// eventbus generalizes that dispatch discipline from four fixed lifecycle
// hooks to an open set of typed events, and adds optional Prometheus
// metrics and humanized progress formatting per SPEC_FULL.md.
package eventbus

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Kind identifies an event type (§6 "rule started, rule finished,
// cache-checked, cache-stored, step started, step finished, build started,
// build finished").
type Kind string

const (
	KindBuildStarted  Kind = "build_started"
	KindBuildFinished Kind = "build_finished"
	KindRuleStarted   Kind = "rule_started"
	KindRuleFinished  Kind = "rule_finished"
	KindCacheChecked  Kind = "cache_checked"
	KindCacheStored   Kind = "cache_stored"
	KindStepStarted   Kind = "step_started"
	KindStepFinished  Kind = "step_finished"
)

// Event is a single structured build event, carrying a monotonic timestamp
// and the build/event identifiers described in SPEC_FULL.md's "Build
// identifiers and events" section.
type Event struct {
	Kind      Kind
	BuildID   string
	EventID   string
	Timestamp time.Time
	Target    string // target identity string, when applicable
	Message   string
	Bytes     uint64 // e.g. uploaded/fetched byte count, for progress events
}

// HumanSummary renders a one-line, human-readable summary of the event
// using github.com/dustin/go-humanize for durations and byte counts
// (SPEC_FULL.md "Human-readable progress").
func (e Event) HumanSummary(elapsed time.Duration) string {
	if e.Bytes > 0 {
		return fmt.Sprintf("[%s] %s %s (%s, %s)", humanize.Time(e.Timestamp), e.Kind, e.Target, humanize.Bytes(e.Bytes), humanize.RelTime(e.Timestamp, e.Timestamp.Add(elapsed), "", ""))
	}
	return fmt.Sprintf("[%s] %s %s", humanize.Time(e.Timestamp), e.Kind, e.Target)
}

// Subscriber receives events of the kinds it registered for.
type Subscriber interface {
	// ID uniquely identifies a subscriber for deterministic dispatch
	// ordering (lexical by ID) and duplicate-registration rejection.
	ID() string
	OnEvent(Event)
}

type subEntry struct {
	sub   Subscriber
	kinds map[Kind]struct{}
}

// Bus is a thread-safe multi-producer event sink (§6, §5 "Event bus:
// thread-safe multi-producer sink").
type Bus struct {
	buildID string

	mu   sync.Mutex
	subs []subEntry

	metrics *metricsSet
}

// New constructs a Bus for one build invocation, identified by a
// google/uuid build ID (SPEC_FULL.md).
func New(metricsRegisterer prometheus.Registerer) *Bus {
	b := &Bus{buildID: uuid.NewString()}
	if metricsRegisterer != nil {
		b.metrics = newMetricsSet(metricsRegisterer)
	}
	return b
}

// BuildID returns this bus's build invocation identifier.
func (b *Bus) BuildID() string { return b.buildID }

// Subscribe registers sub for the given kinds. Returns an error if a
// subscriber with the same ID is already registered (mirrors the teacher's
// duplicate-plugin-ID rejection).
func (b *Bus) Subscribe(sub Subscriber, kinds ...Kind) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.subs {
		if e.sub.ID() == sub.ID() {
			return fmt.Errorf("eventbus: subscriber %q already registered", sub.ID())
		}
	}

	kset := make(map[Kind]struct{}, len(kinds))
	for _, k := range kinds {
		kset[k] = struct{}{}
	}
	b.subs = append(b.subs, subEntry{sub: sub, kinds: kset})
	sort.Slice(b.subs, func(i, j int) bool { return b.subs[i].sub.ID() < b.subs[j].sub.ID() })
	return nil
}

// Post delivers an event to every interested subscriber, in deterministic
// subscriber-ID order, recovering any subscriber panic so one faulty
// listener never aborts the build (mirrors HookEngine's panic recovery).
// Cross-rule event order is unspecified (§5); this method only guarantees
// that events from a single Post call are delivered before it returns.
func (b *Bus) Post(e Event) {
	if e.BuildID == "" {
		e.BuildID = b.buildID
	}
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	subs := make([]subEntry, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.observe(e)
	}

	for _, entry := range subs {
		if _, ok := entry.kinds[e.Kind]; !ok {
			continue
		}
		deliver(entry.sub, e)
	}
}

func deliver(sub Subscriber, e Event) {
	defer func() {
		recover() // a subscriber must never abort the build
	}()
	sub.OnEvent(e)
}
