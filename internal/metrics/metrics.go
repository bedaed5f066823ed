// Package metrics exposes per-process Prometheus instruments for an actor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "troops"

// Metrics is nil-safe: every method on a nil *Metrics is a no-op.
type Metrics struct {
	reg *prometheus.Registry

	subordinates   prometheus.Gauge
	evictions      prometheus.Counter
	assignments    *prometheus.CounterVec
	artifacts      prometheus.Counter
	forwarded      prometheus.Counter
	forwardFailure prometheus.Counter
	polls          *prometheus.CounterVec
}

// New builds a private registry labelled with the actor's role and id.
func New(role, id string) *Metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"role": role, "id": id}
	m := &Metrics{
		reg: reg,
		subordinates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "subordinates", Help: "Registered direct subordinates.", ConstLabels: labels,
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "evictions_total", Help: "Subordinates evicted after a missed heartbeat window.", ConstLabels: labels,
		}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "assignments_accepted_total", Help: "Assignments accepted, by outcome.", ConstLabels: labels,
		}, []string{"outcome"}),
		artifacts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "artifacts_accepted_total", Help: "Work or report items received from subordinates.", ConstLabels: labels,
		}),
		forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reports_forwarded_total", Help: "Bundles forwarded upward.", ConstLabels: labels,
		}),
		forwardFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "report_forward_failures_total", Help: "Bundles dropped after a failed forward.", ConstLabels: labels,
		}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "superior_polls_total", Help: "Polls of the superior, by result.", ConstLabels: labels,
		}, []string{"result"}),
	}
	reg.MustRegister(m.subordinates, m.evictions, m.assignments, m.artifacts, m.forwarded, m.forwardFailure, m.polls)
	reg.MustRegister(collectors.NewGoCollector())
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) SetSubordinates(n int) {
	if m != nil {
		m.subordinates.Set(float64(n))
	}
}

func (m *Metrics) Evicted() {
	if m != nil {
		m.evictions.Inc()
	}
}

// Assignment records an accepted assignment; outcome is new, replaced or unchanged.
func (m *Metrics) Assignment(outcome string) {
	if m != nil {
		m.assignments.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Artifact() {
	if m != nil {
		m.artifacts.Inc()
	}
}

func (m *Metrics) Forwarded(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.forwarded.Inc()
		return
	}
	m.forwardFailure.Inc()
}

func (m *Metrics) Poll(result string) {
	if m != nil {
		m.polls.WithLabelValues(result).Inc()
	}
}
