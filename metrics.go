package gateway

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors reported by gateways.
// A single Metrics value may be shared by every gateway a [Controller] deploys.
type Metrics struct {
	requests      *prometheus.CounterVec
	writeFailures prometheus.Counter
	revalidations *prometheus.CounterVec
	lifecycle     *prometheus.CounterVec
	evictions     prometheus.Counter
}

// NewMetrics creates the gateway collectors and registers them with reg.
// Collectors already registered by a previous call are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Intercepted requests by route and cache outcome.",
		}, []string{"route", "outcome"}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_cache_write_failures_total",
			Help: "Cache writes that failed and were skipped.",
		}),
		revalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_revalidations_total",
			Help: "Background revalidations by result.",
		}, []string{"result"}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_lifecycle_events_total",
			Help: "Install and activate attempts by result.",
		}, []string{"event", "result"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_partitions_evicted_total",
			Help: "Partitions deleted during activation.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	var err error
	if m.requests, err = register(reg, m.requests); err != nil {
		return nil, err
	}
	if m.writeFailures, err = register(reg, m.writeFailures); err != nil {
		return nil, err
	}
	if m.revalidations, err = register(reg, m.revalidations); err != nil {
		return nil, err
	}
	if m.lifecycle, err = register(reg, m.lifecycle); err != nil {
		return nil, err
	}
	if m.evictions, err = register(reg, m.evictions); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Recorders below accept a nil receiver.

func (m *Metrics) request(route Route, outcome Outcome) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route.String(), string(outcome)).Inc()
}

func (m *Metrics) writeFailure() {
	if m == nil {
		return
	}
	m.writeFailures.Inc()
}

func (m *Metrics) revalidation(result string) {
	if m == nil {
		return
	}
	m.revalidations.WithLabelValues(result).Inc()
}

func (m *Metrics) lifecycleEvent(event string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.lifecycle.WithLabelValues(event, result).Inc()
}

func (m *Metrics) evicted() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}
