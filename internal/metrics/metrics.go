// Package metrics exposes relay counters as Prometheus collectors.
//
// A nil *Relay is valid and records nothing, so callers never need to
// guard metric calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oscrelay"

// Relay holds the collectors updated by the relay registry and its instances.
type Relay struct {
	reg *prometheus.Registry

	received  *prometheus.CounterVec
	forwarded *prometheus.CounterVec
	unmapped  *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	sendErrs  *prometheus.CounterVec
	dispatch  *prometheus.HistogramVec
	running   prometheus.Gauge
	poolSize  prometheus.Gauge
}

// New creates the collectors on a private registry that also carries the
// Go runtime and process collectors.
func New() *Relay {
	byConfig := []string{"config"}
	m := &Relay{
		reg: prometheus.NewRegistry(),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "OSC messages decoded from inbound datagrams",
		}, byConfig),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_forwarded_total",
			Help:      "Messages forwarded to a destination by a matching rule",
		}, byConfig),
		unmapped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_unmapped_total",
			Help:      "Messages that matched no rule",
		}, byConfig),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages dropped because the dispatch queue was full",
		}, byConfig),
		sendErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Outbound sends that failed",
		}, byConfig),
		dispatch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time from dequeue to forward or unmapped log",
			Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05},
		}, byConfig),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_instances",
			Help:      "Relay instances currently listening",
		}),
		poolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "client_pool_size",
			Help:      "Cached outbound client handles",
		}),
	}
	m.reg.MustRegister(
		m.received, m.forwarded, m.unmapped, m.dropped, m.sendErrs, m.dispatch,
		m.running, m.poolSize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry, mainly for tests.
func (m *Relay) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Relay) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Relay) Received(id string) {
	if m != nil {
		m.received.WithLabelValues(id).Inc()
	}
}

func (m *Relay) Forwarded(id string) {
	if m != nil {
		m.forwarded.WithLabelValues(id).Inc()
	}
}

func (m *Relay) Unmapped(id string) {
	if m != nil {
		m.unmapped.WithLabelValues(id).Inc()
	}
}

func (m *Relay) Dropped(id string) {
	if m != nil {
		m.dropped.WithLabelValues(id).Inc()
	}
}

func (m *Relay) SendError(id string) {
	if m != nil {
		m.sendErrs.WithLabelValues(id).Inc()
	}
}

func (m *Relay) ObserveDispatch(id string, d time.Duration) {
	if m != nil {
		m.dispatch.WithLabelValues(id).Observe(d.Seconds())
	}
}

func (m *Relay) SetRunning(n int) {
	if m != nil {
		m.running.Set(float64(n))
	}
}

func (m *Relay) SetPoolSize(n int) {
	if m != nil {
		m.poolSize.Set(float64(n))
	}
}

// Forget drops the per-config series of a stopped relay.
func (m *Relay) Forget(id string) {
	if m == nil {
		return
	}
	for _, v := range []*prometheus.CounterVec{m.received, m.forwarded, m.unmapped, m.dropped, m.sendErrs} {
		v.DeleteLabelValues(id)
	}
	m.dispatch.DeleteLabelValues(id)
}
