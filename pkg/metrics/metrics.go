// Package metrics exports live session activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-live/pkg/live"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "golive"

// Metrics holds the Prometheus collectors for live sessions.
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal *prometheus.CounterVec

	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	TurnsTotal   *prometheus.CounterVec
	TurnLatency  *prometheus.HistogramVec
	TurnDuration prometheus.Histogram

	AudioSecondsTotal prometheus.Counter
	ToolCallsTotal    *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total number of session events delivered",
			},
			[]string{"event"},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of sessions currently ready",
			},
		),
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of sessions by final state",
			},
			[]string{"status"}, // status: closed, failed
		),
		SessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Time spent in the ready state, in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
		),

		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Total number of completed model turns",
			},
			[]string{"outcome"}, // outcome: complete, interrupted
		),
		TurnLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_first_output_seconds",
				Help:      "Latency from request to first model output, in seconds",
				Buckets:   []float64{.1, .25, .5, .75, 1, 1.5, 2, 3, 5, 10},
			},
			[]string{"modality"}, // modality: text, audio
		),
		TurnDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_duration_seconds",
				Help:      "Duration of model turns, in seconds",
				Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
		),

		AudioSecondsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audio_output_seconds_total",
				Help:      "Total seconds of model audio received",
			},
		),
		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of function calls requested by the model",
			},
			[]string{"tool"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of session errors",
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		m.EventsTotal,
		m.SessionsActive,
		m.SessionsTotal,
		m.SessionDuration,
		m.TurnsTotal,
		m.TurnLatency,
		m.TurnDuration,
		m.AudioSecondsTotal,
		m.ToolCallsTotal,
		m.ErrorsTotal,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Attach records every event published on bus. The returned func stops
// recording.
func (m *Metrics) Attach(bus *live.Bus) (detach func()) {
	o := &observer{m: m, now: time.Now}
	return live.SubscribeAll(bus, o.observe)
}

// observer carries per-session state between events.
type observer struct {
	m   *Metrics
	now func() time.Time

	mu      sync.Mutex
	readyAt time.Time
	failed  bool
}

func (o *observer) observe(e live.Event) {
	m := o.m
	m.EventsTotal.WithLabelValues(e.EventName()).Inc()

	switch ev := e.(type) {
	case live.StateEvent:
		o.onState(ev)

	case live.TurnCompleteEvent:
		m.RecordTurn(ev.Turn)

	case live.AudioEvent:
		m.AudioSecondsTotal.Add(ev.Frame.Duration().Seconds())

	case live.ToolCallEvent:
		for _, call := range ev.Calls {
			m.ToolCallsTotal.WithLabelValues(call.Name).Inc()
		}

	case live.ErrorEvent:
		kind := live.KindUnknown
		if ev.Err != nil {
			kind = ev.Err.Kind
		}
		m.ErrorsTotal.WithLabelValues(kind.String()).Inc()
	}
}

func (o *observer) onState(ev live.StateEvent) {
	m := o.m
	o.mu.Lock()
	defer o.mu.Unlock()

	if ev.To == live.StateReady {
		o.readyAt = o.now()
		m.SessionsActive.Inc()
	}
	if ev.From == live.StateReady {
		m.SessionsActive.Dec()
		m.SessionDuration.Observe(o.now().Sub(o.readyAt).Seconds())
	}

	// A failed session still passes through Closed; count it once.
	switch ev.To {
	case live.StateFailed:
		o.failed = true
		m.SessionsTotal.WithLabelValues("failed").Inc()
	case live.StateClosed:
		if !o.failed {
			m.SessionsTotal.WithLabelValues("closed").Inc()
		}
	}
}

// RecordTurn records a completed turn.
func (m *Metrics) RecordTurn(t live.Turn) {
	outcome := "complete"
	if t.Interrupted {
		outcome = "interrupted"
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()

	if t.TextLatency > 0 {
		m.TurnLatency.WithLabelValues("text").Observe(t.TextLatency.Seconds())
	}
	if t.AudioLatency > 0 {
		m.TurnLatency.WithLabelValues("audio").Observe(t.AudioLatency.Seconds())
	}
	if t.Duration > 0 {
		m.TurnDuration.Observe(t.Duration.Seconds())
	}
}
