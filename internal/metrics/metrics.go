// Package metrics wires Table's counters into Prometheus, grounded on
// caddyserver/caddy's client_golang usage: collectors are created once per
// Table and registered by the caller. The façade feeds Routes and Lookups;
// the hash engine feeds Hits and FlowCacheMisses from its lookup path,
// Rehashes from rehash, and RuleConvergences from the rule generator. The
// trie engine feeds none of them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder holds the collectors for a single Table instance. The zero
// value is not usable; construct with New.
type Recorder struct {
	Routes           prometheus.Gauge
	Lookups          *prometheus.CounterVec
	Hits             prometheus.Counter
	Rehashes         prometheus.Counter
	FlowCacheMisses  prometheus.Counter
	RuleConvergences prometheus.Histogram
}

// New builds a Recorder labelled by family ("v4" or "v6") and engine
// ("trie" or "hash"), ready to be passed to prometheus.Registerer.
func New(family, engine string) *Recorder {
	labels := prometheus.Labels{"family": family, "engine": engine}
	return &Recorder{
		Routes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "lpmtable",
			Name:        "routes",
			Help:        "Number of routes currently installed in the table.",
			ConstLabels: labels,
		}),
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "lpmtable",
			Name:        "lookups_total",
			Help:        "Longest-prefix-match lookups, partitioned by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "lpmtable",
			Name:        "route_hits_total",
			Help:        "Hit-count increments across all routes.",
			ConstLabels: labels,
		}),
		Rehashes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "lpmtable",
			Name:        "rehashes_total",
			Help:        "Online bucket-array rehashes performed.",
			ConstLabels: labels,
		}),
		FlowCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "lpmtable",
			Name:        "flow_cache_misses_total",
			Help:        "IPv6 destination flow cache misses.",
			ConstLabels: labels,
		}),
		RuleConvergences: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "lpmtable",
			Name:        "rule_table_convergence_seconds",
			Help:        "Wall-clock time for the IPv4 rule table to fully rebuild.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
	}
}

// Collectors returns every collector in the Recorder for bulk
// registration: reg.MustRegister(rec.Collectors()...).
func (r *Recorder) Collectors() []prometheus.Collector {
	return []prometheus.Collector{r.Routes, r.Lookups, r.Hits, r.Rehashes, r.FlowCacheMisses, r.RuleConvergences}
}

// ObserveLookup records a single LPM outcome.
func (r *Recorder) ObserveLookup(hit bool) {
	if r == nil {
		return
	}
	if hit {
		r.Lookups.WithLabelValues("hit").Inc()
		return
	}
	r.Lookups.WithLabelValues("miss").Inc()
}
