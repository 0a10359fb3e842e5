// Package metrics exposes the engine and DMX output counters to prometheus.
// Every method is safe on a nil *Metrics so instrumentation stays optional.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry        *prometheus.Registry
	universesSent   *prometheus.CounterVec
	universesSkip   prometheus.Counter
	deviceErrors    *prometheus.CounterVec
	dataIn          prometheus.Counter
	tickDuration    prometheus.Histogram
	resolveDuration prometheus.Histogram
	deviceConnected prometheus.Gauge
	eventsDropped   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		universesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lightengine_universes_sent_total",
			Help: "Universe frames handed to the DMX device, by universe address.",
		}, []string{"universe"}),
		universesSkip: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lightengine_universes_skipped_total",
			Help: "Universe frames not sent because nothing changed.",
		}),
		deviceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lightengine_device_errors_total",
			Help: "DMX device write failures, by device.",
		}, []string{"device"}),
		dataIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lightengine_dmx_data_in_total",
			Help: "Inbound DMX frames reported by the device.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lightengine_send_tick_duration_seconds",
			Help:    "Duration of one DMX send tick.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		resolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lightengine_resolve_duration_seconds",
			Help:    "Duration of one value resolution pass.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		deviceConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lightengine_device_connected",
			Help: "1 when the current DMX device reports a connection.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lightengine_events_dropped_total",
			Help: "Interface events dropped by slow async listeners.",
		}),
	}

	m.registry.MustRegister(
		m.universesSent,
		m.universesSkip,
		m.deviceErrors,
		m.dataIn,
		m.tickDuration,
		m.resolveDuration,
		m.deviceConnected,
		m.eventsDropped,
	)

	return m
}

// Registry is exposed for tests and for adding process collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) UniverseSent(universe string) {
	if m == nil {
		return
	}
	m.universesSent.WithLabelValues(universe).Inc()
}

func (m *Metrics) UniverseSkipped() {
	if m == nil {
		return
	}
	m.universesSkip.Inc()
}

func (m *Metrics) DeviceError(device string) {
	if m == nil {
		return
	}
	m.deviceErrors.WithLabelValues(device).Inc()
}

func (m *Metrics) DataIn() {
	if m == nil {
		return
	}
	m.dataIn.Inc()
}

func (m *Metrics) SendTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}

func (m *Metrics) Resolve(d time.Duration) {
	if m == nil {
		return
	}
	m.resolveDuration.Observe(d.Seconds())
}

func (m *Metrics) SetDeviceConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.deviceConnected.Set(1)
		return
	}
	m.deviceConnected.Set(0)
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}
