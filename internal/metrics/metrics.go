package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cake-server/internal/core"
)

const namespace = "cake"

// Metrics owns a private registry; nothing is registered globally.
type Metrics struct {
	registry  *prometheus.Registry
	mutations *prometheus.CounterVec
	lookups   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Room mutations by operation and outcome.",
		}, []string{"op", "result"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Candidate lookups by source and outcome.",
		}, []string{"source", "result"}),
	}
	m.registry.MustRegister(
		m.mutations,
		m.lookups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Gauges registers the live room and subscriber counts.
func (m *Metrics) Gauges(rooms func() int, subscribers func() int) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms held in memory.",
		}, func() float64 { return float64(rooms()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Open room subscriptions.",
		}, func() float64 { return float64(subscribers()) }),
	)
}

func (m *Metrics) Mutation(op string, err error) {
	m.mutations.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) Lookup(source string, err error) {
	m.lookups.WithLabelValues(source, result(err)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// result labels an outcome by its error kind.
func result(err error) string {
	if err == nil {
		return "ok"
	}
	switch core.Kind(err) {
	case core.ErrNotFound:
		return "not_found"
	case core.ErrValidation:
		return "invalid"
	case core.ErrConflict:
		return "conflict"
	case core.ErrUnauthorized:
		return "unauthorized"
	case core.ErrUpstreamUnavailable:
		return "unavailable"
	}
	return "error"
}
