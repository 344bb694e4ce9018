package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/vdba/internal/vdba"
)

const namespace = "vdba"

// Collector is a vdba.Observer that records connection events as
// Prometheus metrics.
type Collector struct {
	events       *prometheus.CounterVec
	open         *prometheus.GaugeVec
	txDuration   *prometheus.HistogramVec
	openDuration *prometheus.HistogramVec
	up           *prometheus.GaugeVec
}

// NewCollector registers the vdba metrics with reg. Metrics already
// registered by an earlier Collector are reused, so several collectors on
// one registry share their series. A nil reg means the default registerer.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	events, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connection_events_total",
		Help:      "Connection lifecycle and transaction events by driver and kind.",
	}, []string{"driver", "kind"}))
	if err != nil {
		return nil, err
	}

	open, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_connections",
		Help:      "Connections currently open, by driver.",
	}, []string{"driver"}))
	if err != nil {
		return nil, err
	}

	txDuration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transaction_duration_seconds",
		Help:      "Time from transaction start to commit or rollback.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
	}, []string{"driver", "mode", "outcome"}))
	if err != nil {
		return nil, err
	}

	openDuration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "open_duration_seconds",
		Help:      "Time taken to open a connection, successful or not.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"driver"}))
	if err != nil {
		return nil, err
	}

	up, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connection_up",
		Help:      "Result of the last probe of a configured connection (1 healthy, 0 failed).",
	}, []string{"connection", "driver"}))
	if err != nil {
		return nil, err
	}

	return &Collector{
		events:       events,
		open:         open,
		txDuration:   txDuration,
		openDuration: openDuration,
		up:           up,
	}, nil
}

// register registers c, returning the existing collector of the same type
// when one with the same descriptor is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// Observe implements vdba.Observer.
func (c *Collector) Observe(ev vdba.Event) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(ev.Driver, string(ev.Kind)).Inc()

	switch ev.Kind {
	case vdba.EventOpened:
		c.open.WithLabelValues(ev.Driver).Inc()
		c.openDuration.WithLabelValues(ev.Driver).Observe(ev.Duration.Seconds())
	case vdba.EventOpenFailed:
		c.openDuration.WithLabelValues(ev.Driver).Observe(ev.Duration.Seconds())
	case vdba.EventClosed:
		c.open.WithLabelValues(ev.Driver).Dec()
	case vdba.EventCommitted:
		c.txDuration.WithLabelValues(ev.Driver, string(ev.Mode), "committed").Observe(ev.Duration.Seconds())
	case vdba.EventRolledBack:
		c.txDuration.WithLabelValues(ev.Driver, string(ev.Mode), "rolled_back").Observe(ev.Duration.Seconds())
	}
}

// SetUp records the outcome of a probe of the named connection.
func (c *Collector) SetUp(connection, driver string, up bool) {
	if c == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	c.up.WithLabelValues(connection, driver).Set(v)
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
