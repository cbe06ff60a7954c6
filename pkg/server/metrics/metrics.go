package metrics

import (
	"net/http"

	"github.com/IpsoVeritas/fanpanel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeOK            = "ok"
	OutcomeDeviceError   = "device_error"
	OutcomeUpstreamError = "upstream_error"
	OutcomeInvalid       = "invalid"
	OutcomeNoDevice      = "no_device"
	OutcomeLimited       = "rate_limited"
)

// Metrics collects the panel's counters and gauges.
type Metrics struct {
	Registry *prometheus.Registry

	forwards      *prometheus.CounterVec
	registrations prometheus.Counter
	speed         prometheus.Gauge
	connected     prometheus.Gauge
	forwardTime   prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fanpanel_forwards_total",
			Help: "Speed updates handled, by outcome",
		}, []string{"outcome"}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fanpanel_registrations_total",
			Help: "Accepted device registrations",
		}),
		speed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fanpanel_speed",
			Help: "Last speed accepted by the device (0-255)",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fanpanel_device_registered",
			Help: "Whether a device address is known (1=yes, 0=no)",
		}),
		forwardTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fanpanel_forward_duration_seconds",
			Help:    "Round trip time of speed commands to the device",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2, 5},
		}),
	}

	m.Registry.MustRegister(m.forwards, m.registrations, m.speed, m.connected, m.forwardTime)

	return m
}

// Forward counts a handled speed update. Like the other recorders it is a
// no-op on a nil *Metrics.
func (m *Metrics) Forward(outcome string) {
	if m == nil {
		return
	}
	m.forwards.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ForwardDuration(seconds float64) {
	if m == nil {
		return
	}
	m.forwardTime.Observe(seconds)
}

// SetConnected records whether a device address is known, for addresses
// seeded from config rather than learned from a registration.
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

// TrackSubscribers exports the number of open event subscriptions.
func (m *Metrics) TrackSubscribers(count func() int) {
	m.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "fanpanel_subscribers",
		Help: "Open event stream subscriptions",
	}, func() float64 { return float64(count()) }))
}

// Publish keeps the gauges in line with device and speed events.
func (m *Metrics) Publish(event *fanpanel.Event) error {
	if m == nil {
		return nil
	}
	switch event.Type {
	case fanpanel.EventDevice:
		m.registrations.Inc()
		m.connected.Set(1)
	case fanpanel.EventSpeed:
		if event.Speed != nil {
			m.speed.Set(float64(*event.Speed))
		}
	}
	return nil
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
