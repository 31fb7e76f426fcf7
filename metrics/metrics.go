package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/engine"
)

// Metrics holds every collector.
type Metrics struct {
	registry *prometheus.Registry

	// InvocationsStarted counts runtimes that reached running.
	// Labels: agent, mode (direct|channel|reflect)
	InvocationsStarted *prometheus.CounterVec

	// InvocationsFinished counts terminal invocations.
	// Labels: agent, status (completed|failed)
	InvocationsFinished *prometheus.CounterVec

	// InvocationDuration measures wall time per invocation in seconds.
	// Labels: agent
	// Buckets: 1s, 5s, 15s, 30s, 60s, 120s, 300s, 600s
	InvocationDuration *prometheus.HistogramVec

	// InvocationCost sums reported model cost in USD.
	// Labels: agent
	InvocationCost *prometheus.CounterVec

	// ActiveInstances is the number of running invocations.
	ActiveInstances prometheus.Gauge

	// Events counts forwarded events.
	// Labels: type
	Events *prometheus.CounterVec

	// RegistryEvictions counts instances removed by the stale sweep.
	RegistryEvictions prometheus.Counter

	// HTTPRequests counts API requests.
	// Labels: method, route, code
	HTTPRequests *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		InvocationsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freza_invocations_started_total",
				Help: "Total number of invocations that reached running by agent and mode",
			},
			[]string{"agent", "mode"},
		),

		InvocationsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freza_invocations_finished_total",
				Help: "Total number of finished invocations by agent and status",
			},
			[]string{"agent", "status"},
		),

		InvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "freza_invocation_duration_seconds",
				Help:    "Duration of invocations in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"agent"},
		),

		InvocationCost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freza_invocation_cost_usd_total",
				Help: "Total reported model cost in USD by agent",
			},
			[]string{"agent"},
		),

		ActiveInstances: factory.NewGauge(prometheus.GaugeOpts{
			Name: "freza_active_instances",
			Help: "Number of currently running invocations",
		}),

		Events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freza_events_total",
				Help: "Total number of invocation events by type",
			},
			[]string{"type"},
		),

		RegistryEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "freza_registry_evictions_total",
			Help: "Total number of stale instances evicted from the registry",
		}),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freza_http_requests_total",
				Help: "Total number of HTTP API requests by method, route and status code",
			},
			[]string{"method", "route", "code"},
		),
	}
}

// Register attaches the collectors to the engine lifecycle.
func (m *Metrics) Register(cm *engine.CallbackManager) {
	cm.RegisterCallback(engine.NewFunctionCallback(engine.CallbackInvocationStarted,
		func(_ context.Context, cc *engine.CallbackContext) error {
			m.InvocationsStarted.WithLabelValues(cc.Agent, string(cc.Mode)).Inc()
			m.ActiveInstances.Inc()
			return nil
		}))
	cm.RegisterCallback(engine.NewFunctionCallback(engine.CallbackAfterInvocation,
		func(_ context.Context, cc *engine.CallbackContext) error {
			m.ActiveInstances.Dec()
			if cc.Outcome == nil {
				return nil
			}
			m.InvocationsFinished.WithLabelValues(cc.Agent, string(cc.Outcome.Status)).Inc()
			m.InvocationDuration.WithLabelValues(cc.Agent).Observe(float64(cc.Outcome.Turn.DurationMS) / 1000)
			if cost := cc.Outcome.Turn.CostUSD; cost > 0 {
				m.InvocationCost.WithLabelValues(cc.Agent).Add(cost)
			}
			return nil
		}))
	cm.RegisterCallback(engine.NewFunctionCallback(engine.CallbackOnEvent,
		func(_ context.Context, cc *engine.CallbackContext) error {
			if cc.Event != nil {
				m.Events.WithLabelValues(string(cc.Event.Type)).Inc()
			}
			return nil
		}))
}

// RecordEviction matches the registry's eviction hook.
func (m *Metrics) RecordEviction(core.Instance) {
	m.RegistryEvictions.Inc()
}

// ObserveHTTP counts one API request.
func (m *Metrics) ObserveHTTP(method, route string, code int) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
