// Package prom mirrors the StatsD metric stream into Prometheus collectors so the same
// Emit calls can be scraped from /metrics.
package prom

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/target/reclaim/internal/observability/statsd"
)

// Kind is the StatsD call a family answers to.
type Kind int

const (
	Counter Kind = iota
	Gauge
	Timing
)

// Family declares one metric up front. Name is the dotted StatsD name; Labels is the full
// label set, and tags outside it are dropped while missing ones read as "".
type Family struct {
	Name   string
	Kind   Kind
	Help   string
	Labels []string
}

// timingBuckets are in seconds and span a fast DB settle up to a slow webhook chain.
var timingBuckets = []float64{.005, .025, .1, .25, 1, 2.5, 10, 30, 120}

type family struct {
	labels  []string
	counter *prometheus.CounterVec
	gauge   *prometheus.GaugeVec
	timing  *prometheus.HistogramVec
}

func (f *family) collector() prometheus.Collector {
	switch {
	case f.counter != nil:
		return f.counter
	case f.gauge != nil:
		return f.gauge
	default:
		return f.timing
	}
}

// Sink is a statsd.Sink backed by a private Prometheus registry. Metrics that were not
// declared are ignored. Safe for concurrent use.
type Sink struct {
	registry *prometheus.Registry
	families map[string]*family
}

var (
	_ statsd.Sink          = (*Sink)(nil)
	_ prometheus.Collector = (*Sink)(nil)
)

// New builds a Sink whose metrics are named namespace_<name with dots as underscores>.
// The registry also carries the Go runtime and process collectors.
func New(namespace string, families []Family) (*Sink, error) {
	s := &Sink{registry: prometheus.NewRegistry(), families: make(map[string]*family, len(families))}
	for _, fam := range families {
		s.families[fam.Name] = declare(namespace, fam)
	}
	for _, c := range []prometheus.Collector{
		s,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := s.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func declare(namespace string, fam Family) *family {
	name := strings.ReplaceAll(fam.Name, ".", "_")
	f := &family{labels: fam.Labels}
	switch fam.Kind {
	case Counter:
		f.counter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: name + "_total", Help: fam.Help,
		}, fam.Labels)
	case Gauge:
		f.gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: name, Help: fam.Help,
		}, fam.Labels)
	case Timing:
		f.timing = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: name + "_seconds", Help: fam.Help, Buckets: timingBuckets,
		}, fam.Labels)
	}
	return f
}

func (f *family) values(tags map[string]string) []string {
	out := make([]string, len(f.labels))
	for i, l := range f.labels {
		out[i] = tags[l]
	}
	return out
}

// Count adds value to a declared counter. Negative values are ignored.
func (s *Sink) Count(name string, value int64, tags map[string]string) {
	if f := s.families[name]; f != nil && f.counter != nil && value >= 0 {
		f.counter.WithLabelValues(f.values(tags)...).Add(float64(value))
	}
}

// Gauge sets a declared gauge.
func (s *Sink) Gauge(name string, value float64, tags map[string]string) {
	if f := s.families[name]; f != nil && f.gauge != nil {
		f.gauge.WithLabelValues(f.values(tags)...).Set(value)
	}
}

// Timing observes value, in seconds, on a declared histogram.
func (s *Sink) Timing(name string, value time.Duration, tags map[string]string) {
	if f := s.families[name]; f != nil && f.timing != nil {
		f.timing.WithLabelValues(f.values(tags)...).Observe(value.Seconds())
	}
}

// Describe is part of the prometheus.Collector interface.
func (s *Sink) Describe(ch chan<- *prometheus.Desc) {
	for _, f := range s.families {
		f.collector().Describe(ch)
	}
}

// Collect is part of the prometheus.Collector interface.
func (s *Sink) Collect(ch chan<- prometheus.Metric) {
	for _, f := range s.families {
		f.collector().Collect(ch)
	}
}

// Handler serves the registry in the Prometheus text format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}
