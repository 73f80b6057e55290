package eventbus

import "github.com/prometheus/client_golang/prometheus"

// metricsSet is the optional Prometheus instrumentation described in
// SPEC_FULL.md's "Build metrics" section: additive counters derived from
// the same event stream every typed subscriber sees, never a replacement
// for it.
type metricsSet struct {
	rulesStarted  prometheus.Counter
	rulesFinished prometheus.Counter
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
}

func newMetricsSet(reg prometheus.Registerer) *metricsSet {
	m := &metricsSet{
		rulesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forgeorch_rules_started_total",
			Help: "Number of rules that began execution or cache probing.",
		}),
		rulesFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forgeorch_rules_finished_total",
			Help: "Number of rules that reached a terminal state.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forgeorch_cache_hits_total",
			Help: "Number of artifact cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forgeorch_cache_misses_total",
			Help: "Number of artifact cache misses.",
		}),
	}
	reg.MustRegister(m.rulesStarted, m.rulesFinished, m.cacheHits, m.cacheMisses)
	return m
}

func (m *metricsSet) observe(e Event) {
	switch e.Kind {
	case KindRuleStarted:
		m.rulesStarted.Inc()
	case KindRuleFinished:
		m.rulesFinished.Inc()
	case KindCacheChecked:
		if e.Message == "hit" {
			m.cacheHits.Inc()
		} else {
			m.cacheMisses.Inc()
		}
	}
}
